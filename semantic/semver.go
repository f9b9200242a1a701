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
	"fmt"
	"math/big"
	"strings"
)

// semverLikeVersion is a version that is _like_ a version as defined by the
// Semantic Version specification, except with potentially unlimited numeric
// components and a leading "v"
type semverLikeVersion struct {
	LeadingV   bool
	Components components
	Build      string
	Original   string
}

func (v *semverLikeVersion) fetchComponentsAndBuild(maxComponents int) (components, string) {
	if maxComponents == -1 || len(v.Components) <= maxComponents {
		return v.Components, v.Build
	}

	comps := v.Components[:maxComponents]
	extra := v.Components[maxComponents:]

	build := v.Build

	for _, c := range extra {
		build += fmt.Sprintf(".%d", c)
	}

	return comps, build
}

func parseSemverLikeVersion(line string, maxComponents int) semverLikeVersion {
	v := parseSemverLike(line)

	comps, build := v.fetchComponentsAndBuild(maxComponents)

	return semverLikeVersion{
		LeadingV:   v.LeadingV,
		Components: comps,
		Build:      build,
		Original:   v.Original,
	}
}

func parseSemverLike(line string) semverLikeVersion {
	var comps []*big.Int
	originStr := line

	currentCom := ""
	foundBuild := false

	leadingV := strings.HasPrefix(line, "v")
	line = strings.TrimPrefix(line, "v")

	for _, c := range line {
		if foundBuild {
			currentCom += string(c)

			continue
		}

		// this is part of a component version
		if isASCIIDigit(c) {
			currentCom += string(c)

			continue
		}

		// at this point, we:
		//   1. might be parsing a component (as foundBuild != true)
		//   2. we're not looking at a part of a component (as c != number)
		//
		// so c must be either:
		//   1. a component terminator (.), or
		//   2. the start of the build string
		//
		// either way, we will be terminating the current component being
		// parsed (if any), so let's do that first
		if currentCom != "" {
			v, _ := new(big.Int).SetString(currentCom, 10)

			comps = append(comps, v)
			currentCom = ""
		}

		// a component terminator means there might be another component
		// afterwards, so don't start parsing the build string just yet
		if c == '.' {
			continue
		}

		// anything else is part of the build string
		foundBuild = true
		currentCom = string(c)
	}

	// if we looped over everything without finding a build string,
	// then what we were currently parsing is actually a component
	if !foundBuild && currentCom != "" {
		v, _ := new(big.Int).SetString(currentCom, 10)

		comps = append(comps, v)
		currentCom = ""
	}

	return semverLikeVersion{
		LeadingV:   leadingV,
		Components: comps,
		Build:      currentCom,
		Original:   originStr,
	}
}

// Removes build metadata from the given string if present, per semver v2
//
// See https://semver.org/spec/v2.0.0.html#spec-item-10
func removeBuildMetadata(str string) string {
	parts := strings.Split(str, "+")

	return parts[0]
}

func compareBuildComponents(a, b string) int {
	// https://semver.org/spec/v2.0.0.html#spec-item-10
	am := buildMetadata(a)
	bm := buildMetadata(b)
	a = removeBuildMetadata(a)
	b = removeBuildMetadata(b)

	// the spec doesn't explicitly say "don't include the hyphen in the compare"
	// but it's what node-semver does so for now let's go with that...
	a = strings.TrimPrefix(a, "-")
	b = strings.TrimPrefix(b, "-")

	// versions with a prerelease are considered less than those without
	// https://semver.org/spec/v2.0.0.html#spec-item-9
	if a == "" && b != "" {
		return +1
	}
	if a != "" && b == "" {
		return -1
	}

	if diff := comparePrereleaseComponents(
		strings.Split(a, "."),
		strings.Split(b, "."),
	); diff != 0 {
		return diff
	}

	// build metadata never participates in precedence, but we use it as a
	// deterministic tiebreaker so "resolve greatest" is total.
	return strings.Compare(am, bm)
}

func buildMetadata(str string) string {
	if _, meta, ok := strings.Cut(str, "+"); ok {
		return meta
	}
	return ""
}

func comparePrereleaseComponents(a, b []string) int {
	minComponentLength := min(len(a), len(b))

	var compare int

	for i := range minComponentLength {
		ai, aErr := convertToBigInt(a[i])
		bi, bErr := convertToBigInt(b[i])

		switch {
		// 1. Identifiers consisting of only digits are compared numerically.
		case aErr == nil && bErr == nil:
			compare = ai.Cmp(bi)
		// 2. Identifiers with letters or hyphens are compared lexically in ASCII sort order.
		case aErr != nil && bErr != nil:
			compare = strings.Compare(a[i], b[i])
		// 3. Numeric identifiers always have lower precedence than non-numeric identifiers.
		case aErr == nil:
			compare = -1
		default:
			compare = +1
		}

		if compare != 0 {
			if compare > 0 {
				return 1
			}

			return -1
		}
	}

	// 4. A larger set of pre-release fields has a higher precedence than a smaller set,
	//    if all the preceding identifiers are equal.
	if len(a) > len(b) {
		return +1
	}
	if len(a) < len(b) {
		return -1
	}

	return 0
}

type semverVersion struct {
	semverLikeVersion
}

func parseSemverVersion(str string) semverVersion {
	return semverVersion{parseSemverLikeVersion(str, 3)}
}

func (v semverVersion) compare(w semverVersion) int {
	if diff := v.Components.Cmp(w.Components); diff != 0 {
		return diff
	}

	return compareBuildComponents(v.Build, w.Build)
}

func (v semverVersion) CompareStr(str string) (int, error) {
	return v.compare(parseSemverVersion(str)), nil
}
