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

// Package yarnlock extracts npm yarn.lock files.
package yarnlock

import (
	"bufio"
	"bytes"
	"errors"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/google/depscan/inventory"
	"github.com/google/depscan/parser"
)

const (
	// Name is the unique name of this parser.
	Name = "javascript/yarnlock"
)

var (
	// Version matcher regex.
	// Format for yarn.lock v1: `version "0.0.1"`
	// Format for yarn.lock v2: `version: 0.0.1`
	yarnPackageVersionRe = regexp.MustCompile(`^ {2}"?version"?:? "?([\w-.+]+)"?$`)
	// Dependency entry regex for the dependencies sub-block.
	// Format for yarn.lock v1: `    name "spec"` (name may be quoted)
	// Format for yarn.lock v2: `    name: spec`
	yarnDependencyRe = regexp.MustCompile(`^ {4}"?([^\s":]+)"?:? "?([^"]*)"?$`)
)

func shouldSkipYarnLine(line string) bool {
	line = strings.TrimSpace(line)
	return line == "" || strings.HasPrefix(line, "#")
}

// yarn.lock files define packages as follows:
//
//	header
//	  prop1 value1
//	  prop2 value2
//
//	header2
//	  prop3 value3
type packageDescription struct {
	header string
	props  []string
}

func groupYarnPackageDescriptions(scanner *bufio.Scanner) ([]*packageDescription, error) {
	result := []*packageDescription{}

	var current *packageDescription
	for scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return result, err
		}

		line := scanner.Text()

		if shouldSkipYarnLine(line) {
			continue
		}

		// represents the start of a new dependency
		if !strings.HasPrefix(line, " ") {
			// Add previous descriptor if it's for a package.
			if current != nil {
				result = append(result, current)
			}
			current = &packageDescription{header: line}
		} else if current == nil {
			return nil, errors.New("malformed yarn.lock")
		} else {
			current.props = append(current.props, line)
		}
	}
	// Add trailing descriptor.
	if current != nil {
		result = append(result, current)
	}

	return result, nil
}

func extractYarnPackageName(header string) string {
	// Header format: @my-scope/my-first-package@^1.0.0, @my-scope/my-first-package@~1.0.1:
	str := strings.TrimPrefix(header, "\"")
	str = strings.TrimSuffix(str, ":")
	str, _, _ = strings.Cut(str, ",")

	isScoped := strings.HasPrefix(str, "@")

	if isScoped {
		str = strings.TrimPrefix(str, "@")
	}
	name, right, _ := strings.Cut(str, "@")

	// Packages can also contain an npm entry, e.g. @nicolo-ribaudo/chokidar-2@npm:2.1.8-no-fsevents.3
	if strings.HasPrefix(right, "npm:") && strings.Contains(right, "@") {
		return extractYarnPackageName(strings.TrimPrefix(right, "npm:"))
	}

	if isScoped {
		name = "@" + name
	}
	return name
}

func determineYarnPackageVersion(props []string) string {
	for _, s := range props {
		matched := yarnPackageVersionRe.FindStringSubmatch(s)

		if matched != nil {
			return matched[1]
		}
	}
	return ""
}

// determineYarnPackageDependencies reads the names listed in the block's
// "dependencies:" sub-block, if any.
func determineYarnPackageDependencies(props []string) []string {
	var deps []string
	inDeps := false
	for _, s := range props {
		trimmed := strings.TrimSuffix(strings.TrimSpace(s), ":")
		if !strings.HasPrefix(s, "    ") {
			inDeps = trimmed == "dependencies"
			continue
		}
		if !inDeps {
			continue
		}
		if matched := yarnDependencyRe.FindStringSubmatch(s); matched != nil {
			deps = append(deps, matched[1])
		}
	}
	return deps
}

func isWorkspaceRoot(header string) bool {
	return strings.Contains(header, "@workspace:.")
}

type yarnPackage struct {
	name     string
	version  string
	children []string
}

// Parser extracts npm packages from yarn.lock files.
type Parser struct{}

// New returns a yarn.lock parser.
func New() parser.Parser { return &Parser{} }

// Name of the parser.
func (p Parser) Name() string { return Name }

// Ecosystem returns the OSV ecosystem ('npm') of the packages this parser emits.
func (p Parser) Ecosystem() inventory.Ecosystem { return inventory.EcosystemNPM }

// FileRequired returns true if the specified file is a yarn.lock file.
func (p Parser) FileRequired(filename string) bool {
	return filepath.Base(filename) == "yarn.lock"
}

// SupportsTransitive is true: yarn.lock records every installed package,
// though not the install tree itself.
func (p Parser) SupportsTransitive() bool { return true }

// Parse extracts packages from yarn.lock contents. Without an accompanying
// manifest every package is reported as direct; see ParseWithRoots.
func (p Parser) Parse(path string, content []byte) (*parser.Result, error) {
	return p.ParseWithRoots(path, content, nil)
}

// ParseWithRoots extracts packages from yarn.lock contents, using the given
// root declaration names (from the project's package.json, or the lockfile's
// own workspace entry) to tell direct packages from transitive ones. Paths
// for transitive packages are reconstructed best-effort from the dependency
// lists the lockfile records.
func (p Parser) ParseWithRoots(path string, content []byte, roots []string) (*parser.Result, error) {
	scanner := bufio.NewScanner(bytes.NewReader(content))

	groups, err := groupYarnPackageDescriptions(scanner)
	if err != nil {
		return nil, parser.NewParseError(path, err)
	}

	// First matching descriptor wins when several blocks share a name.
	byName := map[string]*yarnPackage{}
	var order []string

	for _, group := range groups {
		if group.header == "__metadata:" {
			// This group doesn't describe a package.
			continue
		}
		if isWorkspaceRoot(group.header) {
			// The root package itself: its dependencies are the project's
			// direct declarations.
			if roots == nil {
				roots = determineYarnPackageDependencies(group.props)
			}
			continue
		}

		pkg := &yarnPackage{
			name:     extractYarnPackageName(group.header),
			version:  determineYarnPackageVersion(group.props),
			children: determineYarnPackageDependencies(group.props),
		}
		if _, ok := byName[pkg.name]; !ok {
			byName[pkg.name] = pkg
			order = append(order, pkg.name)
		}
	}

	res := &parser.Result{}

	if len(roots) == 0 {
		// Lockfile scanned alone: every package is considered direct.
		for _, name := range order {
			pkg := byName[name]
			res.Deps = append(res.Deps, inventory.NewDep(inventory.EcosystemNPM, pkg.name, pkg.version, nil, false))
		}
		return res, nil
	}

	// Breadth-first from the root declarations, building name chains.
	visited := map[string]bool{}
	type node struct {
		name string
		path []string
	}
	var queue []node

	sortedRoots := slices.Clone(roots)
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
		depPath = append(depPath, pkg.name)

		res.Deps = append(res.Deps, inventory.NewDep(inventory.EcosystemNPM, pkg.name, pkg.version, depPath, false))

		children := slices.Clone(pkg.children)
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
			res.Deps = append(res.Deps, inventory.NewDep(inventory.EcosystemNPM, pkg.name, pkg.version, nil, false))
		}
	}

	return res, nil
}

var _ parser.Parser = Parser{}
