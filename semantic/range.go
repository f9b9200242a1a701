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

package semantic

import (
	"errors"
	"fmt"
	"strings"

	"deps.dev/util/semver"
	"github.com/google/depscan/inventory"
)

// ErrNoMatch is returned by Resolve when no candidate satisfies the range.
var ErrNoMatch = errors.New("no version matches the range")

func rangeSystem(eco inventory.Ecosystem) (semver.System, error) {
	switch eco {
	case inventory.EcosystemNPM:
		return semver.NPM, nil
	case inventory.EcosystemPyPI:
		return semver.PyPI, nil
	}
	return semver.DefaultSystem, fmt.Errorf("%w %s", ErrUnsupportedEcosystem, eco)
}

// anyVersion reports whether the range expression places no constraint at
// all on the version: npm treats "*", "latest" and the empty string that
// way, PyPI just the empty specifier.
func anyVersion(rangeStr string) bool {
	switch strings.TrimSpace(rangeStr) {
	case "", "*", "latest":
		return true
	}
	return false
}

// Matches reports whether version satisfies the given range expression under
// the ecosystem's native range semantics (npm node-semver ranges, PyPI
// PEP 440 specifiers). Pre-release handling follows each ecosystem's rules:
// pre-releases only match ranges that themselves mention a pre-release.
func Matches(rangeStr, version string, eco inventory.Ecosystem) (bool, error) {
	if anyVersion(rangeStr) {
		return true, nil
	}

	sys, err := rangeSystem(eco)
	if err != nil {
		return false, err
	}

	c, err := sys.ParseConstraint(rangeStr)
	if err != nil {
		return false, fmt.Errorf("parsing range %q: %w", rangeStr, err)
	}
	v, err := sys.Parse(version)
	if err != nil {
		return false, fmt.Errorf("%w: %q: %v", ErrInvalidVersion, version, err)
	}

	return c.MatchVersion(v), nil
}

// Resolve returns the greatest candidate version that satisfies the range.
// "Greatest" is total over valid versions; for npm, ties between versions
// that differ only in build metadata break lexicographically on the
// metadata. Candidates that fail to parse are skipped.
func Resolve(rangeStr string, candidates []string, eco inventory.Ecosystem) (string, error) {
	best := ""
	for _, candidate := range candidates {
		ok, err := Matches(rangeStr, candidate, eco)
		if err != nil || !ok {
			continue
		}
		if best == "" {
			best = candidate
			continue
		}
		diff, err := Compare(candidate, best, eco)
		if err != nil {
			continue
		}
		if diff > 0 {
			best = candidate
		}
	}
	if best == "" {
		return "", fmt.Errorf("%w: %q", ErrNoMatch, rangeStr)
	}
	return best, nil
}
