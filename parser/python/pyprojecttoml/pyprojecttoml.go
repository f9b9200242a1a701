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

// Package pyprojecttoml extracts pyproject.toml files, in both the PEP 621
// and the Poetry layouts.
package pyprojecttoml

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/google/depscan/inventory"
	"github.com/google/depscan/parser"
)

const (
	// Name is the unique name of this parser.
	Name = "python/pyprojecttoml"
)

// Dependency groups whose name marks them as development-only.
var reDevGroup = regexp.MustCompile(`(?i)^(dev|test|tests|testing|lint|linting|docs)$`)

type poetryConfig struct {
	// Values are either a constraint string or a table with a "version" key.
	Dependencies    map[string]any `toml:"dependencies"`
	DevDependencies map[string]any `toml:"dev-dependencies"`
	Group           map[string]struct {
		Dependencies map[string]any `toml:"dependencies"`
	} `toml:"group"`
}

type pyprojectTOML struct {
	Project struct {
		Dependencies         []string            `toml:"dependencies"`
		OptionalDependencies map[string][]string `toml:"optional-dependencies"`
	} `toml:"project"`
	Tool struct {
		Poetry poetryConfig `toml:"poetry"`
	} `toml:"tool"`
}

// Parser extracts python packages from pyproject.toml manifests.
type Parser struct{}

// New returns a pyproject.toml parser.
func New() parser.Parser { return &Parser{} }

// Name of the parser.
func (p Parser) Name() string { return Name }

// Ecosystem returns the OSV ecosystem ('PyPI') of the packages this parser emits.
func (p Parser) Ecosystem() inventory.Ecosystem { return inventory.EcosystemPyPI }

// FileRequired returns true if the specified file is a pyproject.toml manifest.
func (p Parser) FileRequired(filename string) bool {
	return filepath.Base(filename) == "pyproject.toml"
}

// SupportsTransitive is false: a manifest only declares direct dependencies.
func (p Parser) SupportsTransitive() bool { return false }

// splitRequirement splits a PEP 508 requirement into name and specifier,
// dropping extras and environment markers.
func splitRequirement(req string) (name, spec string) {
	req = strings.SplitN(req, ";", 2)[0]
	req = strings.TrimSpace(req)
	if i := strings.IndexAny(req, "=<>!~ ["); i >= 0 {
		name = req[:i]
		spec = strings.TrimSpace(req[i:])
		if strings.HasPrefix(spec, "[") {
			if j := strings.Index(spec, "]"); j >= 0 {
				spec = strings.TrimSpace(spec[j+1:])
			}
		}
		return name, spec
	}
	return req, ""
}

// poetrySpec extracts the constraint string from a Poetry dependency value,
// which may be a plain string, a table with a "version" key, or a list of
// such tables.
func poetrySpec(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		if ver, ok := t["version"].(string); ok {
			return ver
		}
	case []any:
		for _, e := range t {
			if s := poetrySpec(e); s != "" {
				return s
			}
		}
	}
	return ""
}

// Parse extracts one Dep per declared dependency. Versions are the declared
// specifiers, not resolved versions. Optional-dependency and Poetry groups
// with development-sounding names are marked as dev.
func (p Parser) Parse(path string, content []byte) (*parser.Result, error) {
	var manifest pyprojectTOML
	if err := toml.Unmarshal(content, &manifest); err != nil {
		return nil, parser.NewParseError(path, err)
	}

	res := &parser.Result{}
	seen := map[string]bool{}

	add := func(name, spec string, dev bool) {
		if name == "" {
			return
		}
		dep := inventory.NewDep(inventory.EcosystemPyPI, name, spec, nil, dev)
		if seen[dep.Name] {
			return
		}
		seen[dep.Name] = true
		res.Deps = append(res.Deps, dep)
	}

	// PEP 621.
	for _, req := range manifest.Project.Dependencies {
		name, spec := splitRequirement(req)
		add(name, spec, false)
	}
	for _, group := range sortedKeys(manifest.Project.OptionalDependencies) {
		dev := reDevGroup.MatchString(group)
		for _, req := range manifest.Project.OptionalDependencies[group] {
			name, spec := splitRequirement(req)
			add(name, spec, dev)
		}
	}

	// Poetry.
	for _, name := range sortedKeys(manifest.Tool.Poetry.Dependencies) {
		if strings.EqualFold(name, "python") {
			// The interpreter constraint, not a package.
			continue
		}
		add(name, poetrySpec(manifest.Tool.Poetry.Dependencies[name]), false)
	}
	for _, name := range sortedKeys(manifest.Tool.Poetry.DevDependencies) {
		add(name, poetrySpec(manifest.Tool.Poetry.DevDependencies[name]), true)
	}
	for _, group := range sortedKeys(manifest.Tool.Poetry.Group) {
		dev := reDevGroup.MatchString(group)
		deps := manifest.Tool.Poetry.Group[group].Dependencies
		for _, name := range sortedKeys(deps) {
			add(name, poetrySpec(deps[name]), dev)
		}
	}

	return res, nil
}

// RootDeclarations returns the canonical names of every dependency the
// manifest declares, across all groups. The resolver uses this to seed
// poetry.lock path traversal.
func RootDeclarations(content []byte) ([]string, error) {
	var p Parser
	res, err := p.Parse("pyproject.toml", content)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(res.Deps))
	for _, d := range res.Deps {
		names = append(names, d.Name)
	}
	return names, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ parser.Parser = Parser{}
