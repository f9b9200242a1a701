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

// Package poetrylock extracts poetry.lock files.
package poetrylock

import (
	"path/filepath"
	"slices"

	"github.com/BurntSushi/toml"

	"github.com/google/depscan/inventory"
	"github.com/google/depscan/parser"
)

const (
	// Name is the unique name of this parser.
	Name = "python/poetrylock"
)

type poetryLockPackage struct {
	Name     string `toml:"name"`
	Version  string `toml:"version"`
	Optional bool   `toml:"optional"`
	// Poetry <1.5 writes "category"; newer versions write "groups".
	Category string   `toml:"category"`
	Groups   []string `toml:"groups"`
	// Values are constraint strings, tables or arrays; only the keys matter
	// for path traversal.
	Dependencies map[string]any `toml:"dependencies"`
}

type poetryLockFile struct {
	Version  int                 `toml:"version"`
	Packages []poetryLockPackage `toml:"package"`
}

func (pkg poetryLockPackage) isDev() bool {
	if pkg.Category != "" {
		return pkg.Category == "dev"
	}
	// With groups, a package also needed by the main group is not dev-only.
	if len(pkg.Groups) == 0 || slices.Contains(pkg.Groups, "main") {
		return false
	}
	return true
}

// Parser extracts python packages from poetry.lock files.
type Parser struct{}

// New returns a poetry.lock parser.
func New() parser.Parser { return &Parser{} }

// Name of the parser.
func (p Parser) Name() string { return Name }

// Ecosystem returns the OSV ecosystem ('PyPI') of the packages this parser emits.
func (p Parser) Ecosystem() inventory.Ecosystem { return inventory.EcosystemPyPI }

// FileRequired returns true if the specified file matches poetry lockfile patterns.
func (p Parser) FileRequired(filename string) bool {
	return filepath.Base(filename) == "poetry.lock"
}

// SupportsTransitive is true: poetry.lock records every resolved package and
// its dependency lists.
func (p Parser) SupportsTransitive() bool { return true }

// Parse extracts packages from poetry.lock contents. Without an accompanying
// pyproject.toml every package is reported as direct; see ParseWithRoots.
func (p Parser) Parse(path string, content []byte) (*parser.Result, error) {
	return p.ParseWithRoots(path, content, nil)
}

// ParseWithRoots extracts packages from poetry.lock contents, using the given
// root declaration names (from the project's pyproject.toml) to build each
// package's dependency path via the lockfile's per-package dependency tables.
func (p Parser) ParseWithRoots(path string, content []byte, roots []string) (*parser.Result, error) {
	var lock poetryLockFile
	if err := toml.Unmarshal(content, &lock); err != nil {
		return nil, parser.NewParseError(path, err)
	}

	byName := map[string]*poetryLockPackage{}
	var order []string
	for i := range lock.Packages {
		pkg := &lock.Packages[i]
		name := inventory.CanonicalName(inventory.EcosystemPyPI, pkg.Name)
		if _, ok := byName[name]; !ok {
			byName[name] = pkg
			order = append(order, name)
		}
	}

	res := &parser.Result{}

	if len(roots) == 0 {
		// Lockfile scanned alone: every package is considered direct.
		for _, name := range order {
			pkg := byName[name]
			res.Deps = append(res.Deps, inventory.NewDep(inventory.EcosystemPyPI, pkg.Name, pkg.Version, nil, pkg.isDev()))
		}
		return res, nil
	}

	// Breadth-first from the root declarations through the per-package
	// dependency tables, giving each package its shortest path.
	visited := map[string]bool{}
	type node struct {
		name string
		path []string
	}
	var queue []node

	sortedRoots := make([]string, 0, len(roots))
	for _, r := range roots {
		sortedRoots = append(sortedRoots, inventory.CanonicalName(inventory.EcosystemPyPI, r))
	}
	slices.Sort(sortedRoots)
	for _, name := range sortedRoots {
		if _, ok := byName[name]; ok && !visited[name] {
			visited[name] = true
			queue = append(queue, node{name: name})
		}
	}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		pkg := byName[n.name]

		depPath := make([]string, 0, len(n.path)+1)
		depPath = append(depPath, n.path...)
		depPath = append(depPath, n.name)

		res.Deps = append(res.Deps, inventory.NewDep(inventory.EcosystemPyPI, pkg.Name, pkg.Version, depPath, pkg.isDev()))

		var children []string
		for child := range pkg.Dependencies {
			children = append(children, inventory.CanonicalName(inventory.EcosystemPyPI, child))
		}
		slices.Sort(children)
		for _, child := range children {
			if _, ok := byName[child]; ok && !visited[child] {
				visited[child] = true
				queue = append(queue, node{name: child, path: depPath})
			}
		}
	}

	// Packages not reachable from any root declaration still get reported,
	// as direct, so nothing in the lockfile is silently dropped.
	for _, name := range order {
		if !visited[name] {
			pkg := byName[name]
			res.Deps = append(res.Deps, inventory.NewDep(inventory.EcosystemPyPI, pkg.Name, pkg.Version, nil, pkg.isDev()))
		}
	}

	return res, nil
}

var _ parser.Parser = Parser{}
