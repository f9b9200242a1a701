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

// Package semantic provides version parsing, comparison and range resolution
// for the npm and PyPI ecosystems, matching each ecosystem's native
// versioning rules.
package semantic

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/google/depscan/inventory"
)

var (
	// ErrUnsupportedEcosystem is returned when asked to handle versions of an
	// ecosystem depscan does not support.
	ErrUnsupportedEcosystem = errors.New("unsupported ecosystem")
	// ErrInvalidVersion is returned when a version string cannot be parsed.
	ErrInvalidVersion = errors.New("invalid version")
)

// Version provides an interface for sortable version strings.
type Version interface {
	// CompareStr returns an integer representing the sort order of the given
	// string when parsed as the concrete Version relative to the subject
	// Version: 0 if v == w, -1 if v < w, or +1 if v > w.
	//
	// An error is returned if the given string is not a valid version, with
	// "valid" being dependent on the underlying ecosystem.
	CompareStr(str string) (int, error)
}

// Parse attempts to parse the given string as a version for the specified
// ecosystem.
func Parse(str string, eco inventory.Ecosystem) (Version, error) {
	switch eco {
	case inventory.EcosystemNPM:
		return parseSemverVersion(str), nil
	case inventory.EcosystemPyPI:
		return parsePyPIVersion(str)
	}
	return nil, fmt.Errorf("%w %s", ErrUnsupportedEcosystem, eco)
}

// MustParse is like Parse but panics if the version does not parse.
func MustParse(str string, eco inventory.Ecosystem) Version {
	v, err := Parse(str, eco)
	if err != nil {
		panic(err)
	}
	return v
}

// Compare compares two version strings within an ecosystem, returning
// -1, 0 or +1 if a sorts lower than, equal to or higher than b.
func Compare(a, b string, eco inventory.Ecosystem) (int, error) {
	v, err := Parse(a, eco)
	if err != nil {
		return 0, err
	}
	return v.CompareStr(b)
}

type components []*big.Int

func (components *components) Fetch(n int) *big.Int {
	if len(*components) <= n {
		return big.NewInt(0)
	}

	return (*components)[n]
}

func (components *components) Cmp(b components) int {
	numberOfComponents := max(len(*components), len(b))

	for i := range numberOfComponents {
		diff := components.Fetch(i).Cmp(b.Fetch(i))

		if diff != 0 {
			return diff
		}
	}

	return 0
}

// convertToBigInt attempts to convert the given str to a big.Int,
// returning an error if the conversion fails
func convertToBigInt(str string) (*big.Int, error) {
	i, ok := new(big.Int).SetString(str, 10)

	if !ok {
		return nil, fmt.Errorf("%w: failed to convert %s to a number", ErrInvalidVersion, str)
	}

	return i, nil
}

// isASCIIDigit returns true if the given rune is an ASCII digit.
//
// Unicode digits are not considered ASCII digits by this function.
func isASCIIDigit(c rune) bool {
	return c >= 48 && c <= 57
}
