// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package list_test

import (
	"testing"

	"github.com/google/depscan/inventory"
	"github.com/google/depscan/parser/list"
)

func TestFromName(t *testing.T) {
	p, err := list.FromName("javascript/packagelockjson")
	if err != nil {
		t.Fatalf("FromName() returned error: %v", err)
	}
	if p.Name() != "javascript/packagelockjson" {
		t.Errorf("FromName() returned parser %q", p.Name())
	}

	if _, err := list.FromName("nonexistent/parser"); err == nil {
		t.Errorf("FromName(nonexistent) succeeded, want error")
	}
}

func TestParsers_UniqueNames(t *testing.T) {
	seen := map[string]bool{}
	for _, p := range list.Parsers() {
		if seen[p.Name()] {
			t.Errorf("duplicate parser name %q", p.Name())
		}
		seen[p.Name()] = true
	}
	if len(seen) != len(list.All) {
		t.Errorf("Parsers() returned %d parsers, want %d", len(seen), len(list.All))
	}
}

func TestForEcosystem(t *testing.T) {
	for _, eco := range []inventory.Ecosystem{inventory.EcosystemNPM, inventory.EcosystemPyPI} {
		for _, p := range list.ForEcosystem(eco) {
			if p.Ecosystem() != eco {
				t.Errorf("ForEcosystem(%v) returned parser %q for ecosystem %v", eco, p.Name(), p.Ecosystem())
			}
		}
	}
	if got := len(list.ForEcosystem(inventory.EcosystemNPM)); got != len(list.Javascript) {
		t.Errorf("ForEcosystem(npm) returned %d parsers, want %d", got, len(list.Javascript))
	}
}

func TestForFilename(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"package.json", "javascript/packagejson"},
		{"package-lock.json", "javascript/packagelockjson"},
		{"yarn.lock", "javascript/yarnlock"},
		{"requirements.txt", "python/requirements"},
		{"requirements-dev.txt", "python/requirements"},
		{"pyproject.toml", "python/pyprojecttoml"},
		{"poetry.lock", "python/poetrylock"},
		{"Pipfile.lock", "python/pipfilelock"},
		{"go.sum", ""},
	}
	for _, tt := range tests {
		p := list.ForFilename(tt.filename)
		var got string
		if p != nil {
			got = p.Name()
		}
		if got != tt.want {
			t.Errorf("ForFilename(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}
