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
	"regexp"
	"strings"
)

var (
	// The version shape defined by PEP 440, using the regular expression the
	// PEP itself provides:
	// https://peps.python.org/pep-0440/#appendix-b-parsing-version-strings-with-regular-expressions
	pypiVersionPattern = regexp.MustCompile(`^\s*v?(?:(?:(?P<epoch>[0-9]+)!)?(?P<release>[0-9]+(?:\.[0-9]+)*)(?P<pre>[-_\.]?(?P<pre_l>(a|b|c|rc|alpha|beta|pre|preview))[-_\.]?(?P<pre_n>[0-9]+)?)?(?P<post>(?:-(?P<post_n1>[0-9]+))|(?:[-_\.]?(?P<post_l>post|rev|r)[-_\.]?(?P<post_n2>[0-9]+)?))?(?P<dev>[-_\.]?(?P<dev_l>dev)[-_\.]?(?P<dev_n>[0-9]+)?)?)(?:\+(?P<local>[a-z0-9]+(?:[-_\.][a-z0-9]+)*))?\s*$`)

	pypiLocalSeparators = regexp.MustCompile(`[._-]`)
)

// pyPIVersion is a version as defined by PEP 440:
// [N!]N(.N)*[{a|b|rc}N][.postN][.devN][+local]
type pyPIVersion struct {
	epoch   *big.Int
	release components
	pre     versionPhase
	post    versionPhase
	dev     versionPhase
	local   []string
}

// versionPhase is one lettered segment (pre, post or dev) of a version,
// together with its number. A nil number means the segment is absent.
type versionPhase struct {
	letter string
	number *big.Int
}

// parsePhase builds a versionPhase from the letter and number the version
// pattern captured, applying PEP 440 normalization: alternate spellings fold
// to the canonical letter, a bare letter carries an implicit zero (1.0a is
// 1.0a0), and a bare number is the implicit post release syntax (1.0-1).
func parsePhase(letter, number string) (versionPhase, error) {
	if letter == "" && number == "" {
		return versionPhase{}, nil
	}
	if letter == "" {
		letter = "post"
	}
	if number == "" {
		number = "0"
	}

	switch letter {
	case "alpha":
		letter = "a"
	case "beta":
		letter = "b"
	case "c", "pre", "preview":
		letter = "rc"
	case "rev", "r":
		letter = "post"
	}

	num, err := convertToBigInt(number)
	if err != nil {
		return versionPhase{}, err
	}

	return versionPhase{letter, num}, nil
}

func parsePyPIVersion(str string) (pyPIVersion, error) {
	match := pypiVersionPattern.FindStringSubmatch(strings.ToLower(str))
	if match == nil {
		return pyPIVersion{}, fmt.Errorf("%w: %q is not a PEP 440 version", ErrInvalidVersion, str)
	}

	group := func(name string) string {
		return match[pypiVersionPattern.SubexpIndex(name)]
	}

	v := pyPIVersion{epoch: big.NewInt(0)}

	if epoch := group("epoch"); epoch != "" {
		n, err := convertToBigInt(epoch)
		if err != nil {
			return pyPIVersion{}, err
		}
		v.epoch = n
	}

	for _, part := range strings.Split(group("release"), ".") {
		n, err := convertToBigInt(part)
		if err != nil {
			return pyPIVersion{}, err
		}
		v.release = append(v.release, n)
	}

	var err error
	if v.pre, err = parsePhase(group("pre_l"), group("pre_n")); err != nil {
		return pyPIVersion{}, err
	}

	// The implicit post syntax (1.0-1) captures its number in a separate
	// group from the spelled-out one (1.0.post1).
	postNumber := group("post_n1")
	if postNumber == "" {
		postNumber = group("post_n2")
	}
	if v.post, err = parsePhase(group("post_l"), postNumber); err != nil {
		return pyPIVersion{}, err
	}

	if v.dev, err = parsePhase(group("dev_l"), group("dev_n")); err != nil {
		return pyPIVersion{}, err
	}

	if local := group("local"); local != "" {
		v.local = pypiLocalSeparators.Split(local, -1)
	}

	return v, nil
}

// devOnly reports whether the version is a bare dev release, which sorts
// before any pre-release of the same release segment (1.0.dev0 < 1.0a0).
func (v pyPIVersion) devOnly() bool {
	return v.pre.number == nil && v.post.number == nil && v.dev.number != nil
}

// comparePre orders pre-release phases by letter (a < b < rc) and then by
// number. A version without a pre-release sorts after one with it.
func (v pyPIVersion) comparePre(w pyPIVersion) int {
	switch {
	case v.devOnly() && w.devOnly():
		return 0
	case v.devOnly():
		return -1
	case w.devOnly():
		return +1
	case v.pre.number == nil && w.pre.number == nil:
		return 0
	case v.pre.number == nil:
		return +1
	case w.pre.number == nil:
		return -1
	}

	if diff := strings.Compare(v.pre.letter, w.pre.letter); diff != 0 {
		return diff
	}

	return v.pre.number.Cmp(w.pre.number)
}

// comparePost orders post releases by number, with versions that have no post
// segment sorting before those that do.
func (v pyPIVersion) comparePost(w pyPIVersion) int {
	switch {
	case v.post.number == nil && w.post.number == nil:
		return 0
	case v.post.number == nil:
		return -1
	case w.post.number == nil:
		return +1
	}

	return v.post.number.Cmp(w.post.number)
}

// compareDev orders dev releases by number, with versions that have no dev
// segment sorting after those that do.
func (v pyPIVersion) compareDev(w pyPIVersion) int {
	switch {
	case v.dev.number == nil && w.dev.number == nil:
		return 0
	case v.dev.number == nil:
		return +1
	case w.dev.number == nil:
		return -1
	}

	return v.dev.number.Cmp(w.dev.number)
}

// compareLocal orders local version labels segment by segment: segments of
// only digits compare numerically and sort above lexicographic segments, and
// when the shared prefix ties the version with more segments wins.
func (v pyPIVersion) compareLocal(w pyPIVersion) int {
	for i := range min(len(v.local), len(w.local)) {
		ai, aErr := convertToBigInt(v.local[i])
		bi, bErr := convertToBigInt(w.local[i])

		var diff int
		switch {
		case aErr == nil && bErr == nil:
			diff = ai.Cmp(bi)
		case aErr != nil && bErr != nil:
			diff = strings.Compare(v.local[i], w.local[i])
		case aErr == nil:
			diff = +1
		default:
			diff = -1
		}

		if diff != 0 {
			return diff
		}
	}

	if len(v.local) > len(w.local) {
		return +1
	}
	if len(v.local) < len(w.local) {
		return -1
	}

	return 0
}

func (v pyPIVersion) compare(w pyPIVersion) int {
	if diff := v.epoch.Cmp(w.epoch); diff != 0 {
		return diff
	}
	// Shorter release segments compare as if padded out with zeros.
	if diff := v.release.Cmp(w.release); diff != 0 {
		return diff
	}
	if diff := v.comparePre(w); diff != 0 {
		return diff
	}
	if diff := v.comparePost(w); diff != 0 {
		return diff
	}
	if diff := v.compareDev(w); diff != 0 {
		return diff
	}

	return v.compareLocal(w)
}

func (v pyPIVersion) CompareStr(str string) (int, error) {
	w, err := parsePyPIVersion(str)
	if err != nil {
		return 0, err
	}

	return v.compare(w), nil
}
