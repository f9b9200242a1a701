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

// Package packagejson extracts package.json files.
package packagejson

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"sort"

	"github.com/google/depscan/inventory"
	"github.com/google/depscan/parser"
)

const (
	// Name is the unique name of this parser.
	Name = "javascript/packagejson"
)

type packageJSON struct {
	Name            string            `json:"name"`
	Version         string            `json:"version"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

// Parser extracts npm packages from package.json manifests.
type Parser struct{}

// New returns a package.json parser.
func New() parser.Parser { return &Parser{} }

// Name of the parser.
func (p Parser) Name() string { return Name }

// Ecosystem returns the OSV ecosystem ('npm') of the packages this parser emits.
func (p Parser) Ecosystem() inventory.Ecosystem { return inventory.EcosystemNPM }

// FileRequired returns true if the specified file is a package.json manifest.
func (p Parser) FileRequired(filename string) bool {
	return filepath.Base(filename) == "package.json"
}

// SupportsTransitive is false: a manifest only declares direct dependencies.
func (p Parser) SupportsTransitive() bool { return false }

// Parse extracts one Dep per entry in "dependencies" and "devDependencies".
// Versions are the declared specifiers, not resolved versions.
func (p Parser) Parse(path string, content []byte) (*parser.Result, error) {
	var manifest packageJSON
	if err := json.NewDecoder(bytes.NewReader(content)).Decode(&manifest); err != nil {
		return nil, parser.NewParseError(path, err)
	}

	res := &parser.Result{}
	for name, spec := range manifest.Dependencies {
		res.Deps = append(res.Deps, inventory.NewDep(inventory.EcosystemNPM, name, spec, nil, false))
	}
	for name, spec := range manifest.DevDependencies {
		// A package declared in both sections is a production dependency.
		if _, ok := manifest.Dependencies[name]; ok {
			continue
		}
		res.Deps = append(res.Deps, inventory.NewDep(inventory.EcosystemNPM, name, spec, nil, true))
	}

	sort.Slice(res.Deps, func(i, j int) bool { return res.Deps[i].Name < res.Deps[j].Name })

	return res, nil
}

// RootDeclarations returns the names declared in the manifest's dependency
// sections. The resolver uses this to tell direct from transitive packages in
// lockfiles that don't encode the graph.
func RootDeclarations(content []byte) ([]string, error) {
	var manifest packageJSON
	if err := json.Unmarshal(content, &manifest); err != nil {
		return nil, err
	}
	var names []string
	for name := range manifest.Dependencies {
		names = append(names, name)
	}
	for name := range manifest.DevDependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

var _ parser.Parser = Parser{}
