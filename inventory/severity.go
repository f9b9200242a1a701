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

package inventory

import (
	"cmp"
	"slices"
	"strings"
)

// Severity is the coarse vulnerability severity taxonomy, ordered
// CRITICAL > HIGH > MEDIUM > LOW > UNKNOWN.
type Severity string

// Severity values, from most to least severe.
const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityUnknown  Severity = "UNKNOWN"
)

var severityRanks = map[Severity]int{
	SeverityCritical: 4,
	SeverityHigh:     3,
	SeverityMedium:   2,
	SeverityLow:      1,
	SeverityUnknown:  0,
}

// Representative CVSS scores, used only when an advisory supplies no
// numeric score of its own.
var severityScores = map[Severity]float64{
	SeverityCritical: 9.5,
	SeverityHigh:     7.5,
	SeverityMedium:   5.0,
	SeverityLow:      2.5,
	SeverityUnknown:  0.0,
}

// ParseSeverity converts a string to a Severity, case-insensitively.
// "MODERATE" is accepted as an alias of MEDIUM since some advisory databases
// (e.g. GitHub) use it. Anything unrecognized maps to UNKNOWN.
func ParseSeverity(s string) Severity {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRITICAL":
		return SeverityCritical
	case "HIGH":
		return SeverityHigh
	case "MEDIUM", "MODERATE":
		return SeverityMedium
	case "LOW":
		return SeverityLow
	default:
		return SeverityUnknown
	}
}

// SeverityFromScore buckets a CVSS score (0.0 - 10.0) into a Severity using
// the CVSS v3 rating scale. A zero score has no rating and maps to UNKNOWN.
func SeverityFromScore(score float64) Severity {
	switch {
	case score >= 9.0:
		return SeverityCritical
	case score >= 7.0:
		return SeverityHigh
	case score >= 4.0:
		return SeverityMedium
	case score > 0.0:
		return SeverityLow
	default:
		return SeverityUnknown
	}
}

// Rank returns the sort rank of the severity; higher is more severe.
func (s Severity) Rank() int {
	return severityRanks[s]
}

// RepresentativeScore returns the stand-in CVSS score for the severity.
func (s Severity) RepresentativeScore() float64 {
	return severityScores[s]
}

// SortVulns sorts findings by severity descending, then package name
// ascending, then vulnerability id ascending, so scan output is
// deterministic for a given input.
func SortVulns(vulns []*Vuln) {
	slices.SortFunc(vulns, func(a, b *Vuln) int {
		if diff := b.Severity.Rank() - a.Severity.Rank(); diff != 0 {
			return diff
		}
		if diff := cmp.Compare(a.Package, b.Package); diff != 0 {
			return diff
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
