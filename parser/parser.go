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

// Package parser defines the capability set implemented by each
// manifest/lockfile parser. Parsers consume a filename and its contents and
// never perform I/O of their own.
package parser

import (
	"fmt"

	"github.com/google/depscan/inventory"
)

// Result is the outcome of parsing one dependency file.
type Result struct {
	// Deps are the declared or resolved dependencies found in the file.
	Deps []*inventory.Dep
	// Warnings records constructs the parser recognized but did not follow,
	// e.g. "-r" includes in requirements files.
	Warnings []string
}

// Parser extracts dependencies from one manifest or lockfile format.
type Parser interface {
	// Name is the unique name of this parser.
	Name() string
	// Ecosystem is the package ecosystem the parser's format belongs to.
	Ecosystem() inventory.Ecosystem
	// FileRequired reports whether the named file is in this parser's format.
	FileRequired(filename string) bool
	// SupportsTransitive reports whether the format records the full
	// transitive dependency graph.
	SupportsTransitive() bool
	// Parse extracts dependencies from the file contents. A file that parses
	// but declares nothing yields an empty Result without error.
	Parse(path string, content []byte) (*Result, error)
}

// RootAwareParser is implemented by lockfile parsers that can use the names
// declared in a companion manifest to reconstruct dependency paths.
type RootAwareParser interface {
	Parser
	// ParseWithRoots is Parse with the manifest's direct declarations.
	ParseWithRoots(path string, content []byte, roots []string) (*Result, error)
}

// ParseError is returned when a file's contents cannot be interpreted as the
// parser's format, e.g. malformed JSON.
type ParseError struct {
	File   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s: %s", e.File, e.Reason)
}

// NewParseError wraps err as a ParseError for the given file.
func NewParseError(file string, err error) *ParseError {
	return &ParseError{File: file, Reason: err.Error()}
}
