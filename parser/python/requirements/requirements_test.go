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

package requirements_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/google/depscan/inventory"
	"github.com/google/depscan/parser/python/requirements"
)

func TestFileRequired(t *testing.T) {
	p := requirements.New()
	tests := []struct {
		path string
		want bool
	}{
		{"requirements.txt", true},
		{"requirements-dev.txt", true},
		{"sub/requirements.txt", true},
		{"requirements.in", false},
		{"notes.txt", false},
	}
	for _, tt := range tests {
		if got := p.FileRequired(tt.path); got != tt.want {
			t.Errorf("FileRequired(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestParse(t *testing.T) {
	content := []byte(`# main deps
requests==2.28.1
Django==4.1.0  # pinned
flask>=2.0
numpy==1.24.0; python_version >= "3.8"
celery[redis]==5.2.7
multiline==\
1.0.0
cryptography==39.0.0 --hash=sha256:abcdef
`)

	got, err := requirements.New().Parse("requirements.txt", content)
	if err != nil {
		t.Fatalf("Parse() returned error: %v", err)
	}

	want := []*inventory.Dep{
		inventory.NewDep(inventory.EcosystemPyPI, "requests", "2.28.1", nil, false),
		inventory.NewDep(inventory.EcosystemPyPI, "Django", "4.1.0", nil, false),
		inventory.NewDep(inventory.EcosystemPyPI, "flask", "", nil, false),
		inventory.NewDep(inventory.EcosystemPyPI, "numpy", "1.24.0", nil, false),
		inventory.NewDep(inventory.EcosystemPyPI, "celery", "5.2.7", nil, false),
		inventory.NewDep(inventory.EcosystemPyPI, "multiline", "1.0.0", nil, false),
		inventory.NewDep(inventory.EcosystemPyPI, "cryptography", "39.0.0", nil, false),
	}
	if diff := cmp.Diff(want, got.Deps); diff != "" {
		t.Errorf("Parse() returned diff (-want +got):\n%s", diff)
	}
}

func TestParse_IncludesAndOptions(t *testing.T) {
	content := []byte(`-r other-requirements.txt
-c constraints.txt
--index-url https://private.example/simple
-e git+https://github.com/org/pkg.git#egg=mypkg
requests==2.28.1
`)

	got, err := requirements.New().Parse("requirements.txt", content)
	if err != nil {
		t.Fatalf("Parse() returned error: %v", err)
	}

	wantDeps := []*inventory.Dep{
		inventory.NewDep(inventory.EcosystemPyPI, "mypkg", "", nil, false),
		inventory.NewDep(inventory.EcosystemPyPI, "requests", "2.28.1", nil, false),
	}
	if diff := cmp.Diff(wantDeps, got.Deps); diff != "" {
		t.Errorf("Parse() deps diff (-want +got):\n%s", diff)
	}

	// Includes are recorded as warnings, not followed.
	if len(got.Warnings) != 2 {
		t.Errorf("Parse() returned %d warnings, want 2: %q", len(got.Warnings), got.Warnings)
	}
}

func TestParse_UnpinnedConstraints(t *testing.T) {
	content := []byte(`a!=1.0
b<2.0
c==1.*
d>=1.0,<2.0
`)
	got, err := requirements.New().Parse("requirements.txt", content)
	if err != nil {
		t.Fatalf("Parse() returned error: %v", err)
	}

	// Names survive with empty versions so the packages still take part in
	// resolution.
	for _, d := range got.Deps {
		if d.Version != "" {
			t.Errorf("Parse() pinned %s to %q, want empty version", d.Name, d.Version)
		}
	}
	if len(got.Deps) != 4 {
		t.Errorf("Parse() returned %d deps, want 4", len(got.Deps))
	}
}
