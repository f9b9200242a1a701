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

package resolver_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/google/depscan/inventory"
	"github.com/google/depscan/resolver"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		filename string
		wantEco  inventory.Ecosystem
		wantOK   bool
	}{
		{"package.json", inventory.EcosystemNPM, true},
		{"package-lock.json", inventory.EcosystemNPM, true},
		{"yarn.lock", inventory.EcosystemNPM, true},
		{"requirements.txt", inventory.EcosystemPyPI, true},
		{"poetry.lock", inventory.EcosystemPyPI, true},
		{"Pipfile.lock", inventory.EcosystemPyPI, true},
		{"pyproject.toml", inventory.EcosystemPyPI, true},
		{"README.md", "", false},
	}
	for _, tt := range tests {
		eco, ok := resolver.Detect(tt.filename)
		if eco != tt.wantEco || ok != tt.wantOK {
			t.Errorf("Detect(%q) = (%v, %v), want (%v, %v)", tt.filename, eco, ok, tt.wantEco, tt.wantOK)
		}
	}
}

func TestResolve_LockfileWinsOverManifest(t *testing.T) {
	manifest := resolver.File{Name: "package.json", Content: []byte(`{
		"dependencies": {"express": "^4.18.0", "unlocked": "^1.0.0"}
	}`)}
	lock := resolver.File{Name: "package-lock.json", Content: []byte(`{
		"lockfileVersion": 3,
		"packages": {
			"": {"dependencies": {"express": "^4.18.0"}},
			"node_modules/express": {"version": "4.18.2"}
		}
	}`)}

	got, err := resolver.Resolve(inventory.EcosystemNPM, []resolver.File{manifest, lock})
	if err != nil {
		t.Fatalf("Resolve() returned error: %v", err)
	}

	want := []*inventory.Dep{
		inventory.NewDep(inventory.EcosystemNPM, "express", "4.18.2", nil, false),
		inventory.NewDep(inventory.EcosystemNPM, "unlocked", "^1.0.0", nil, false),
	}
	if diff := cmp.Diff(want, got.Deps); diff != "" {
		t.Errorf("Resolve() returned diff (-want +got):\n%s", diff)
	}
}

func TestResolve_HigherLockVersionWins(t *testing.T) {
	v1 := resolver.File{Name: "npm-shrinkwrap.json", Content: []byte(`{
		"lockfileVersion": 1,
		"dependencies": {"a": {"version": "1.0.0"}}
	}`)}
	v3 := resolver.File{Name: "package-lock.json", Content: []byte(`{
		"lockfileVersion": 3,
		"packages": {
			"": {"dependencies": {"a": "^2.0.0"}},
			"node_modules/a": {"version": "2.0.0"}
		}
	}`)}

	got, err := resolver.Resolve(inventory.EcosystemNPM, []resolver.File{v1, v3})
	if err != nil {
		t.Fatalf("Resolve() returned error: %v", err)
	}

	if len(got.Deps) != 1 || got.Deps[0].Version != "2.0.0" {
		t.Errorf("Resolve() deps = %+v, want single a@2.0.0", got.Deps)
	}
	if !hasWarningContaining(got.Warnings, "superseded") {
		t.Errorf("Resolve() warnings = %v, want a superseded warning", got.Warnings)
	}
}

func TestResolve_GeneratedRanksBelowReal(t *testing.T) {
	generated := resolver.File{Name: "package-lock.json", Generated: true, Content: []byte(`{
		"lockfileVersion": 3,
		"packages": {
			"": {"dependencies": {"a": "^1.0.0"}},
			"node_modules/a": {"version": "1.0.0"}
		}
	}`)}
	real := resolver.File{Name: "yarn.lock", Content: []byte(
		"a@^1.1.0:\n  version \"1.1.0\"\n")}

	got, err := resolver.Resolve(inventory.EcosystemNPM, []resolver.File{generated, real})
	if err != nil {
		t.Fatalf("Resolve() returned error: %v", err)
	}
	if len(got.Deps) != 1 || got.Deps[0].Version != "1.1.0" {
		t.Errorf("Resolve() deps = %+v, want single a@1.1.0 from the real lockfile", got.Deps)
	}
}

func TestResolve_UnrecognizedFile(t *testing.T) {
	got, err := resolver.Resolve(inventory.EcosystemNPM, []resolver.File{
		{Name: "package.json", Content: []byte(`{"dependencies": {"a": "1.0.0"}}`)},
		{Name: "Makefile", Content: []byte("all:")},
	})
	if err != nil {
		t.Fatalf("Resolve() returned error: %v", err)
	}
	if !hasWarningContaining(got.Warnings, "unrecognized") {
		t.Errorf("Resolve() warnings = %v, want an unrecognized-format warning", got.Warnings)
	}
	if len(got.Deps) != 1 {
		t.Errorf("Resolve() returned %d deps, want 1", len(got.Deps))
	}
}

func TestResolve_NoUsableFiles(t *testing.T) {
	tests := []struct {
		name  string
		files []resolver.File
	}{
		{name: "malformed lockfile", files: []resolver.File{
			{Name: "package-lock.json", Content: []byte("{not json")},
		}},
		{name: "wrong ecosystem only", files: []resolver.File{
			{Name: "requirements.txt", Content: []byte("flask==2.0.0\n")},
		}},
		{name: "no files", files: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolver.Resolve(inventory.EcosystemNPM, tt.files)
			if err == nil || !strings.Contains(err.Error(), "no usable") {
				t.Errorf("Resolve() error = %v, want a no-usable-files error", err)
			}
		})
	}
}

func TestResolve_RootsFlowIntoLockfile(t *testing.T) {
	manifest := resolver.File{Name: "pyproject.toml", Content: []byte(`
[tool.poetry.dependencies]
python = "^3.10"
flask = "^2.0"
`)}
	lock := resolver.File{Name: "poetry.lock", Content: []byte(`
[[package]]
name = "flask"
version = "2.2.3"
category = "main"

[package.dependencies]
click = ">=8.0"

[[package]]
name = "click"
version = "8.1.3"
category = "main"
`)}

	got, err := resolver.Resolve(inventory.EcosystemPyPI, []resolver.File{manifest, lock})
	if err != nil {
		t.Fatalf("Resolve() returned error: %v", err)
	}

	byName := map[string]*inventory.Dep{}
	for _, d := range got.Deps {
		byName[d.Name] = d
	}
	if d := byName["click"]; d == nil || d.Direct {
		t.Errorf("click = %+v, want transitive via flask", d)
	} else if diff := cmp.Diff([]string{"flask", "click"}, d.Path); diff != "" {
		t.Errorf("click path diff (-want +got):\n%s", diff)
	}
}

func TestDedup(t *testing.T) {
	deps := []*inventory.Dep{
		inventory.NewDep(inventory.EcosystemNPM, "a", "1.0.0", nil, false),
		inventory.NewDep(inventory.EcosystemNPM, "a", "1.0.0", nil, false),
		inventory.NewDep(inventory.EcosystemNPM, "a", "1.0.0", []string{"b", "a"}, false),
	}
	got := resolver.Dedup(deps)
	if len(got) != 2 {
		t.Errorf("Dedup() returned %d deps, want 2", len(got))
	}
}

func TestFilterDev(t *testing.T) {
	deps := []*inventory.Dep{
		inventory.NewDep(inventory.EcosystemNPM, "prod", "1.0.0", nil, false),
		inventory.NewDep(inventory.EcosystemNPM, "devonly", "1.0.0", nil, true),
		// Reachable both as dev and prod: kept.
		inventory.NewDep(inventory.EcosystemNPM, "shared", "1.0.0", []string{"devtool", "shared"}, true),
		inventory.NewDep(inventory.EcosystemNPM, "shared", "1.0.0", []string{"prod", "shared"}, false),
	}
	got := resolver.FilterDev(deps)

	var names []string
	for _, d := range got {
		names = append(names, d.Name)
	}
	want := []string{"prod", "shared", "shared"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("FilterDev() names diff (-want +got):\n%s", diff)
	}
}

func hasWarningContaining(warnings []resolver.Warning, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w.Reason, substr) {
			return true
		}
	}
	return false
}
