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

// Package list provides the public list of built-in dependency file parsers.
package list

import (
	"fmt"
	"maps"
	"slices"

	"github.com/google/depscan/inventory"
	"github.com/google/depscan/parser"
	"github.com/google/depscan/parser/javascript/packagejson"
	"github.com/google/depscan/parser/javascript/packagelockjson"
	"github.com/google/depscan/parser/javascript/yarnlock"
	"github.com/google/depscan/parser/python/pipfilelock"
	"github.com/google/depscan/parser/python/poetrylock"
	"github.com/google/depscan/parser/python/pyprojecttoml"
	"github.com/google/depscan/parser/python/requirements"
)

// InitFn is the parser initializer function.
type InitFn func() parser.Parser

// InitMap is a map of parser names to their initers.
type InitMap map[string]InitFn

var (
	// Javascript parsers.
	Javascript = InitMap{
		packagejson.Name:     packagejson.New,
		packagelockjson.Name: packagelockjson.New,
		yarnlock.Name:        yarnlock.New,
	}
	// Python parsers.
	Python = InitMap{
		requirements.Name:  requirements.New,
		pyprojecttoml.Name: pyprojecttoml.New,
		poetrylock.Name:    poetrylock.New,
		pipfilelock.Name:   pipfilelock.New,
	}
	// All parsers.
	All = concat(Javascript, Python)
)

func concat(initMaps ...InitMap) InitMap {
	result := InitMap{}
	for _, m := range initMaps {
		maps.Copy(result, m)
	}
	return result
}

// FromName returns a single parser based on its exact name.
func FromName(name string) (parser.Parser, error) {
	initer, ok := All[name]
	if !ok {
		return nil, fmt.Errorf("unknown parser %q", name)
	}
	return initer(), nil
}

// Parsers returns one instance of every built-in parser, in a stable order.
func Parsers() []parser.Parser {
	names := slices.Sorted(maps.Keys(All))
	result := make([]parser.Parser, 0, len(names))
	for _, name := range names {
		result = append(result, All[name]())
	}
	return result
}

// ForEcosystem returns one instance of every parser for the given ecosystem.
func ForEcosystem(eco inventory.Ecosystem) []parser.Parser {
	var result []parser.Parser
	for _, p := range Parsers() {
		if p.Ecosystem() == eco {
			result = append(result, p)
		}
	}
	return result
}

// ForFilename returns the parser whose format matches the given filename, or
// nil if no parser recognizes it.
func ForFilename(filename string) parser.Parser {
	for _, p := range Parsers() {
		if p.FileRequired(filename) {
			return p
		}
	}
	return nil
}
