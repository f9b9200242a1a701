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

// Package resolver selects the most authoritative dependency files among a
// scan's inputs and merges their parse results into one deduplicated
// dependency list per ecosystem.
package resolver

import (
	"fmt"
	"slices"
	"sort"

	"go.uber.org/multierr"

	"github.com/google/depscan/inventory"
	"github.com/google/depscan/log"
	"github.com/google/depscan/parser"
	"github.com/google/depscan/parser/javascript/packagejson"
	"github.com/google/depscan/parser/javascript/packagelockjson"
	"github.com/google/depscan/parser/list"
	"github.com/google/depscan/parser/python/pyprojecttoml"
)

// File is one dependency file submitted to a scan.
type File struct {
	// Name is the file's base name, e.g. "package-lock.json".
	Name string
	// Content is the raw file contents.
	Content []byte
	// Generated marks lockfiles synthesized from a manifest by an external
	// generator rather than submitted by the caller. Generated lockfiles rank
	// below real ones.
	Generated bool
}

// Warning describes a file the resolver rejected or only partially used.
type Warning struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.File, w.Reason)
}

// Result is the merged outcome of resolving one ecosystem's files.
type Result struct {
	Deps     []*inventory.Dep
	Warnings []Warning
	// ParsedFiles counts the input files that parsed successfully. A file
	// that parses but declares nothing still counts; callers use this to
	// tell an empty project from unusable input.
	ParsedFiles int
}

// Detect returns the ecosystem of the named file, or false if no parser
// recognizes it.
func Detect(filename string) (inventory.Ecosystem, bool) {
	if p := list.ForFilename(filename); p != nil {
		return p.Ecosystem(), true
	}
	return "", false
}

// SupportsTransitive reports whether the named file's format records the
// full dependency graph, i.e. is a lockfile.
func SupportsTransitive(filename string) bool {
	p := list.ForFilename(filename)
	return p != nil && p.SupportsTransitive()
}

// candidate is a recognized input file together with its parser and rank.
type candidate struct {
	file   File
	parser parser.Parser
	// tier 1: real lockfile, 2: generated lockfile, 3: manifest.
	tier int
	// boost orders npm lockfiles by lockfileVersion within a tier.
	boost int
}

func rank(files []File) (candidates []candidate, unrecognized []File) {
	for _, f := range files {
		p := list.ForFilename(f.Name)
		if p == nil {
			unrecognized = append(unrecognized, f)
			continue
		}
		c := candidate{file: f, parser: p}
		switch {
		case !p.SupportsTransitive():
			c.tier = 3
		case f.Generated:
			c.tier = 2
		default:
			c.tier = 1
		}
		if p.Name() == packagelockjson.Name {
			c.boost = packagelockjson.LockfileVersion(f.Content)
		}
		candidates = append(candidates, c)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].tier != candidates[j].tier {
			return candidates[i].tier < candidates[j].tier
		}
		if candidates[i].boost != candidates[j].boost {
			return candidates[i].boost > candidates[j].boost
		}
		return candidates[i].file.Name < candidates[j].file.Name
	})
	return candidates, unrecognized
}

// Resolve merges the given files, all belonging to one ecosystem, into a
// single dependency list. The best-ranked lockfile contributes the resolved
// tree; manifests contribute any direct declarations the lockfile does not
// cover. Individually rejected files are reported as warnings; an error is
// returned only when not a single file parses.
func Resolve(eco inventory.Ecosystem, files []File) (*Result, error) {
	res := &Result{}
	var parseErrs error

	candidates, unrecognized := rank(files)
	for _, f := range unrecognized {
		res.Warnings = append(res.Warnings, Warning{File: f.Name, Reason: "unrecognized dependency file format"})
	}

	var manifests []candidate
	var locks []candidate
	for _, c := range candidates {
		if c.parser.Ecosystem() != eco {
			res.Warnings = append(res.Warnings, Warning{
				File:   c.file.Name,
				Reason: fmt.Sprintf("belongs to ecosystem %s, not %s", c.parser.Ecosystem(), eco),
			})
			continue
		}
		if c.tier == 3 {
			manifests = append(manifests, c)
		} else {
			locks = append(locks, c)
		}
	}

	// Root declarations from manifests inform path reconstruction in
	// lockfiles that don't encode which packages are direct.
	roots := rootDeclarations(eco, manifests)

	// Only the best lockfile is used; the rest are superseded.
	var lockDeps []*inventory.Dep
	lockTaken := ""
	for _, c := range locks {
		if lockTaken != "" {
			res.Warnings = append(res.Warnings, Warning{
				File:   c.file.Name,
				Reason: fmt.Sprintf("superseded by %s", lockTaken),
			})
			continue
		}
		parsed, err := parseCandidate(c, roots)
		if err != nil {
			res.Warnings = append(res.Warnings, Warning{File: c.file.Name, Reason: err.Error()})
			parseErrs = multierr.Append(parseErrs, err)
			continue
		}
		lockTaken = c.file.Name
		lockDeps = parsed.Deps
		res.ParsedFiles++
		for _, w := range parsed.Warnings {
			res.Warnings = append(res.Warnings, Warning{File: c.file.Name, Reason: w})
		}
	}

	// Names pinned by the lockfile; specifier-only manifest entries for the
	// same package are dropped.
	locked := map[string]bool{}
	for _, d := range lockDeps {
		locked[inventory.CanonicalName(eco, d.Name)] = true
	}

	merged := lockDeps
	for _, c := range manifests {
		parsed, err := c.parser.Parse(c.file.Name, c.file.Content)
		if err != nil {
			res.Warnings = append(res.Warnings, Warning{File: c.file.Name, Reason: err.Error()})
			parseErrs = multierr.Append(parseErrs, err)
			continue
		}
		for _, w := range parsed.Warnings {
			res.Warnings = append(res.Warnings, Warning{File: c.file.Name, Reason: w})
		}
		res.ParsedFiles++
		for _, d := range parsed.Deps {
			if locked[inventory.CanonicalName(eco, d.Name)] {
				continue
			}
			merged = append(merged, d)
		}
	}

	// An ecosystem where not one input file parsed has nothing to scan; the
	// caller treats this as a resolver failure rather than a quiet zero.
	if res.ParsedFiles == 0 {
		if parseErrs != nil {
			return nil, fmt.Errorf("no usable %s dependency files: %w", eco, parseErrs)
		}
		return nil, fmt.Errorf("no usable %s dependency files", eco)
	}

	res.Deps = Dedup(merged)
	log.Debugf("resolved %d %s dependencies from %d files (%d warnings)", len(res.Deps), eco, len(files), len(res.Warnings))
	return res, nil
}

// parseCandidate parses a lockfile, passing root declarations to parsers that
// can use them for path reconstruction.
func parseCandidate(c candidate, roots []string) (*parser.Result, error) {
	if len(roots) > 0 {
		if rp, ok := c.parser.(parser.RootAwareParser); ok {
			return rp.ParseWithRoots(c.file.Name, c.file.Content, roots)
		}
	}
	return c.parser.Parse(c.file.Name, c.file.Content)
}

// rootDeclarations collects the package names the ecosystem's manifests
// declare directly.
func rootDeclarations(eco inventory.Ecosystem, manifests []candidate) []string {
	var roots []string
	for _, c := range manifests {
		var names []string
		var err error
		switch c.parser.Name() {
		case packagejson.Name:
			names, err = packagejson.RootDeclarations(c.file.Content)
		case pyprojecttoml.Name:
			names, err = pyprojecttoml.RootDeclarations(c.file.Content)
		default:
			continue
		}
		if err != nil {
			continue
		}
		roots = append(roots, names...)
	}
	slices.Sort(roots)
	return slices.Compact(roots)
}

// Dedup removes duplicate dependencies, keyed by ecosystem, canonical name,
// version and path. The first occurrence wins, preserving lockfile order.
func Dedup(deps []*inventory.Dep) []*inventory.Dep {
	seen := map[string]bool{}
	result := make([]*inventory.Dep, 0, len(deps))
	for _, d := range deps {
		k := d.PathKey()
		if seen[k] {
			continue
		}
		seen[k] = true
		result = append(result, d)
	}
	return result
}

// FilterDev removes development-only dependencies. A package reachable
// through any non-dev path is kept in full.
func FilterDev(deps []*inventory.Dep) []*inventory.Dep {
	prod := map[string]bool{}
	for _, d := range deps {
		if !d.Dev {
			prod[d.Key()] = true
		}
	}
	result := make([]*inventory.Dep, 0, len(deps))
	for _, d := range deps {
		if d.Dev && !prod[d.Key()] {
			continue
		}
		result = append(result, d)
	}
	return result
}
