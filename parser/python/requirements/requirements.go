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

// Package requirements extracts requirements files.
package requirements

import (
	"bufio"
	"bytes"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/depscan/inventory"
	"github.com/google/depscan/parser"
)

const (
	// Name is the unique name of this parser.
	Name = "python/requirements"
)

var (
	// Regex matching comments in requirements files.
	// https://github.com/pypa/pip/blob/72a32e/src/pip/_internal/req/req_file.py#L492
	reComment = regexp.MustCompile(`(^|\s+)#.*$`)
	// We currently don't pin versions for the following constraints.
	// * Version wildcards (*)
	// * Less than (<)
	// * Not equal to (!=)
	// * Multiple constraints (,)
	reUnsupportedConstraints = regexp.MustCompile(`\*|<[^=]|,|!=`)
	reWhitespace             = regexp.MustCompile(`[ \t\r]`)
	reValidPkg               = regexp.MustCompile(`^\w(\w|[-.])*$`)
	reEnvVar                 = regexp.MustCompile(`\$\{[A-Z0-9_]+\}`)
	reExtras                 = regexp.MustCompile(`\[[^\[\]]*\]`)
	reEggFragment            = regexp.MustCompile(`#egg=([\w.-]+)`)
	// Per-requirement options; everything from the first option onward is dropped.
	reTextAfterFirstOptionInclusive = regexp.MustCompile(`(?:--hash|--global-option|--config-settings|-C).*`)
)

// Parser extracts python packages from requirements.txt files.
type Parser struct{}

// New returns a requirements.txt parser.
func New() parser.Parser { return &Parser{} }

// Name of the parser.
func (p Parser) Name() string { return Name }

// Ecosystem returns the OSV ecosystem ('PyPI') of the packages this parser emits.
func (p Parser) Ecosystem() inventory.Ecosystem { return inventory.EcosystemPyPI }

// FileRequired returns true if the specified file matches python requirements
// file patterns, e.g. requirements.txt or requirements-dev.txt.
func (p Parser) FileRequired(filename string) bool {
	base := filepath.Base(filename)
	return filepath.Ext(base) == ".txt" && strings.Contains(base, "requirements")
}

// SupportsTransitive is false: requirements files list whatever their author
// wrote down, with no graph information.
func (p Parser) SupportsTransitive() bool { return false }

// Parse extracts one Dep per requirement line. Comments, environment markers
// and extras are stripped; "-r"/"-c" includes and other global options are
// skipped and recorded as warnings.
func (p Parser) Parse(path string, content []byte) (*parser.Result, error) {
	res := &parser.Result{}

	s := bufio.NewScanner(bytes.NewReader(content))
	for s.Scan() {
		l := readLine(s, &strings.Builder{})
		l = reTextAfterFirstOptionInclusive.ReplaceAllString(l, "")

		l = removeWhiteSpaces(l)
		l = ignorePythonSpecifier(l)
		l = removeExtras(l)

		if len(l) == 0 {
			continue
		}

		if strings.HasPrefix(l, "-e") {
			// Editable install: the name is only recoverable from an egg
			// fragment.
			if m := reEggFragment.FindStringSubmatch(l); m != nil {
				res.Deps = append(res.Deps, inventory.NewDep(inventory.EcosystemPyPI, m[1], "", nil, false))
			} else {
				res.Warnings = append(res.Warnings, fmt.Sprintf("%s: skipped editable install without egg fragment: %q", path, l))
			}
			continue
		}

		if strings.HasPrefix(l, "-r") || strings.HasPrefix(l, "-c") {
			// Includes are not followed; parsers never do I/O.
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: skipped include %q", path, l))
			continue
		}

		if strings.HasPrefix(l, "-") {
			// Global options other than the above are not implemented.
			// https://pip.pypa.io/en/stable/reference/requirements-file-format/#global-options
			continue
		}

		name, version := pinnedVersion(l)
		if name == "" || !isValidPackage(name) {
			continue
		}

		res.Deps = append(res.Deps, inventory.NewDep(inventory.EcosystemPyPI, name, version, nil, false))
	}
	if err := s.Err(); err != nil {
		return nil, parser.NewParseError(path, err)
	}

	return res, nil
}

// readLine reads a line from the scanner, removes comments and joins it with
// the next line if it ends with a backslash.
func readLine(scanner *bufio.Scanner, builder *strings.Builder) string {
	l := scanner.Text()
	l = removeComments(l)

	if reEnvVar.MatchString(l) {
		// Ignore env variables
		// https://github.com/pypa/pip/blob/72a32e/src/pip/_internal/req/req_file.py#L503
		return ""
	}

	if strings.HasSuffix(l, `\`) {
		builder.WriteString(l[:len(l)-1])
		scanner.Scan()
		return readLine(scanner, builder)
	}

	builder.WriteString(l)

	return builder.String()
}

func nameFromRequirement(s string) string {
	for _, sep := range []string{"===", "==", ">=", "<=", "~=", "!=", "<", ">"} {
		s, _, _ = strings.Cut(s, sep)
	}
	return s
}

// pinnedVersion splits a requirement into its name and, for exact pins, the
// pinned version. Range specifiers yield the name with an empty version so
// the package still participates in resolution.
func pinnedVersion(s string) (name, version string) {
	if reUnsupportedConstraints.FindString(s) != "" {
		return nameFromRequirement(s), ""
	}

	for _, sep := range []string{"===", "=="} {
		if strings.Contains(s, sep) {
			t := strings.SplitN(s, sep, 2)
			if len(t) != 2 {
				return "", ""
			}
			return t[0], t[1]
		}
	}

	return nameFromRequirement(s), ""
}

func removeComments(s string) string {
	return reComment.ReplaceAllString(s, "")
}

func removeWhiteSpaces(s string) string {
	return reWhitespace.ReplaceAllString(s, "")
}

// ignorePythonSpecifier removes environment markers, e.g. `; python_version < "3.8"`.
func ignorePythonSpecifier(s string) string {
	return strings.SplitN(s, ";", 2)[0]
}

func removeExtras(s string) string {
	return reExtras.ReplaceAllString(s, "")
}

func isValidPackage(s string) bool {
	return reValidPkg.MatchString(s)
}

var _ parser.Parser = Parser{}
