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

// Package packagelockjson extracts package-lock.json files.
package packagelockjson

import (
	"bytes"
	"encoding/json"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/google/depscan/internal/dependencyfile/packagelockjson"
	"github.com/google/depscan/inventory"
	"github.com/google/depscan/parser"
)

const (
	// Name is the unique name of this parser.
	Name = "javascript/packagelockjson"
)

// LockfileVersion sniffs the lockfileVersion field without decoding the whole
// file. Returns 0 if the field is missing or the content is not JSON.
func LockfileVersion(content []byte) int {
	v := gjson.GetBytes(content, "lockfileVersion")
	if !v.Exists() {
		return 0
	}
	return int(v.Int())
}

// splitAlias resolves npm alias specifiers of the form "npm:[name]@[version]"
// to the aliased package's real name and version.
func splitAlias(name, version string) (string, string) {
	if strings.HasPrefix(version, "npm:") {
		if i := strings.LastIndex(version, "@"); i > 4 {
			return version[4:i], version[i+1:]
		}
	}
	return name, version
}

func walkV1(deps map[string]packagelockjson.Dependency, chain []string, out *[]*inventory.Dep) {
	for name, detail := range deps {
		name, version := splitAlias(name, detail.Version)

		// we can't resolve a version from a "file:" dependency
		if strings.HasPrefix(version, "file:") {
			version = ""
		}

		depPath := make([]string, 0, len(chain)+1)
		depPath = append(depPath, chain...)
		depPath = append(depPath, name)

		*out = append(*out, inventory.NewDep(inventory.EcosystemNPM, name, version, depPath, detail.Dev))

		if detail.Dependencies != nil {
			walkV1(detail.Dependencies, depPath, out)
		}
	}
}

// packageNameFromKey extracts the scope-aware package name from the last
// segment of an install key, e.g. "node_modules/@scope/name" -> "@scope/name".
func packageNameFromKey(key string) string {
	maybeScope := path.Base(path.Dir(key))
	pkgName := path.Base(key)

	if strings.HasPrefix(maybeScope, "@") {
		pkgName = maybeScope + "/" + pkgName
	}

	return pkgName
}

// resolveInstallKey finds the install key that the npm resolution algorithm
// would pick for depName when required from the package installed at fromKey:
// the nearest enclosing node_modules directory that contains it.
func resolveInstallKey(packages map[string]packagelockjson.Package, fromKey, depName string) string {
	key := fromKey
	for {
		candidate := "node_modules/" + depName
		if key != "" {
			candidate = key + "/" + candidate
		}
		if _, ok := packages[candidate]; ok {
			return candidate
		}
		if key == "" {
			return ""
		}
		// Pop the last node_modules component to search the parent's scope.
		idx := strings.LastIndex(key, "node_modules/")
		if idx <= 0 {
			key = ""
		} else {
			key = strings.TrimSuffix(key[:idx], "/")
		}
	}
}

type graphNode struct {
	key  string
	path []string
}

func parseV2(lock packagelockjson.LockFile) []*inventory.Dep {
	var deps []*inventory.Dep

	root := lock.Packages[""]

	// Breadth-first walk from the root declarations so each installed
	// package gets the shortest dependency path leading to it, independent
	// of where npm physically hoisted it.
	var queue []graphNode
	visited := map[string]bool{}

	var rootDeclared []string
	for _, section := range []map[string]string{root.Dependencies, root.DevDependencies, root.OptionalDependencies} {
		for name := range section {
			rootDeclared = append(rootDeclared, name)
		}
	}
	slices.Sort(rootDeclared)

	for _, name := range rootDeclared {
		if key := resolveInstallKey(lock.Packages, "", name); key != "" && !visited[key] {
			visited[key] = true
			queue = append(queue, graphNode{key: key, path: nil})
		}
	}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		detail := lock.Packages[node.key]

		name := detail.Name
		if name == "" {
			name = packageNameFromKey(node.key)
		}

		depPath := make([]string, 0, len(node.path)+1)
		depPath = append(depPath, node.path...)
		depPath = append(depPath, name)

		deps = append(deps, inventory.NewDep(inventory.EcosystemNPM, name, detail.Version, depPath, detail.IsDev()))

		var children []string
		for child := range detail.Dependencies {
			children = append(children, child)
		}
		slices.Sort(children)

		for _, child := range children {
			if key := resolveInstallKey(lock.Packages, node.key, child); key != "" && !visited[key] {
				visited[key] = true
				queue = append(queue, graphNode{key: key, path: depPath})
			}
		}
	}

	// Anything not reachable from the root declarations (e.g. orphaned or
	// peer-installed entries) still gets reported, with its path derived
	// from the install key segments.
	var leftover []string
	for key := range lock.Packages {
		if key != "" && !visited[key] {
			leftover = append(leftover, key)
		}
	}
	slices.Sort(leftover)

	for _, key := range leftover {
		detail := lock.Packages[key]
		if detail.Link {
			continue
		}
		name := detail.Name
		if name == "" {
			name = packageNameFromKey(key)
		}
		deps = append(deps, inventory.NewDep(inventory.EcosystemNPM, name, detail.Version, keySegments(key), detail.IsDev()))
	}

	return deps
}

// keySegments converts an install key like "node_modules/a/node_modules/@s/b"
// into the package name chain [a, @s/b].
func keySegments(key string) []string {
	var segments []string
	for _, part := range strings.Split(key, "node_modules/") {
		part = strings.Trim(part, "/")
		if part != "" {
			segments = append(segments, part)
		}
	}
	return segments
}

// Parser extracts npm packages from package-lock.json files.
type Parser struct{}

// New returns a package-lock.json parser.
func New() parser.Parser { return &Parser{} }

// Name of the parser.
func (p Parser) Name() string { return Name }

// Ecosystem returns the OSV ecosystem ('npm') of the packages this parser emits.
func (p Parser) Ecosystem() inventory.Ecosystem { return inventory.EcosystemNPM }

// FileRequired returns true if the specified file matches npm lockfile naming.
// npm-shrinkwrap.json shares the package-lock.json format.
func (p Parser) FileRequired(filename string) bool {
	return slices.Contains([]string{"package-lock.json", "npm-shrinkwrap.json"}, filepath.Base(filename))
}

// SupportsTransitive is true: npm lockfiles record the full installed tree.
func (p Parser) SupportsTransitive() bool { return true }

// Parse extracts packages from package-lock.json contents, preserving the
// dependency chain of each package as its path.
func (p Parser) Parse(path string, content []byte) (*parser.Result, error) {
	var lock packagelockjson.LockFile
	if err := json.NewDecoder(bytes.NewReader(content)).Decode(&lock); err != nil {
		return nil, parser.NewParseError(path, err)
	}

	var deps []*inventory.Dep
	if lock.Packages != nil {
		deps = parseV2(lock)
	} else {
		walkV1(lock.Dependencies, nil, &deps)
	}

	return &parser.Result{Deps: deps}, nil
}

var _ parser.Parser = Parser{}
