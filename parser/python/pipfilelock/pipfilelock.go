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

// Package pipfilelock extracts Pipfile.lock files.
package pipfilelock

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/depscan/inventory"
	"github.com/google/depscan/parser"
)

const (
	// Name is the unique name of this parser.
	Name = "python/pipfilelock"
)

type pipenvPackage struct {
	Version string `json:"version"`
}

type pipenvLockFile struct {
	Packages    map[string]pipenvPackage `json:"default"`
	PackagesDev map[string]pipenvPackage `json:"develop"`
}

// Parser extracts python packages from Pipfile.lock files.
type Parser struct{}

// New returns a Pipfile.lock parser.
func New() parser.Parser { return &Parser{} }

// Name of the parser.
func (p Parser) Name() string { return Name }

// Ecosystem returns the OSV ecosystem ('PyPI') of the packages this parser emits.
func (p Parser) Ecosystem() inventory.Ecosystem { return inventory.EcosystemPyPI }

// FileRequired returns true if the specified file matches Pipenv lockfile patterns.
func (p Parser) FileRequired(filename string) bool {
	return filepath.Base(filename) == "Pipfile.lock"
}

// SupportsTransitive is true: Pipfile.lock records every resolved package,
// though not the install tree itself. Paths collapse to the package name.
func (p Parser) SupportsTransitive() bool { return true }

// Parse extracts packages from the "default" and "develop" sections. A package
// present in both counts as a production dependency.
func (p Parser) Parse(path string, content []byte) (*parser.Result, error) {
	var lock pipenvLockFile
	if err := json.NewDecoder(bytes.NewReader(content)).Decode(&lock); err != nil {
		return nil, parser.NewParseError(path, err)
	}

	res := &parser.Result{}
	seen := map[string]bool{}

	addSection := func(packages map[string]pipenvPackage, dev bool) {
		names := make([]string, 0, len(packages))
		for name := range packages {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			detail := packages[name]

			// All pipenv package versions should be pinned with a ==
			// If it is not, this lockfile is not in the format we expect.
			if !strings.HasPrefix(detail.Version, "==") || len(detail.Version) < 3 {
				continue
			}
			version := detail.Version[2:]

			dep := inventory.NewDep(inventory.EcosystemPyPI, name, version, nil, dev)
			if seen[dep.Name+"@"+version] {
				continue
			}
			seen[dep.Name+"@"+version] = true
			res.Deps = append(res.Deps, dep)
		}
	}

	addSection(lock.Packages, false)
	addSection(lock.PackagesDev, true)

	return res, nil
}

var _ parser.Parser = Parser{}
