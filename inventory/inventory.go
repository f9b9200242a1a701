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

// Package inventory stores the dependency and vulnerability types depscan
// produces and reports on.
package inventory

import (
	"fmt"
	"strings"
	"time"
)

// Ecosystem identifies the package ecosystem a dependency belongs to.
// The values match the ecosystem names used by the OSV.dev API.
type Ecosystem string

// The ecosystems depscan supports.
const (
	EcosystemNPM  Ecosystem = "npm"
	EcosystemPyPI Ecosystem = "PyPI"
)

// Ecosystems lists all supported ecosystems.
var Ecosystems = []Ecosystem{EcosystemNPM, EcosystemPyPI}

// Valid reports whether e is a supported ecosystem.
func (e Ecosystem) Valid() bool {
	return e == EcosystemNPM || e == EcosystemPyPI
}

// CanonicalName returns the lookup form of a package name within the given
// ecosystem. Both npm and PyPI treat names case-insensitively; PyPI names are
// additionally stored lower-cased while npm names keep their declared case.
func CanonicalName(eco Ecosystem, name string) string {
	return strings.ToLower(name)
}

// DepTypeDirect and DepTypeTransitive are the values of Vuln.DepType.
const (
	DepTypeDirect     = "direct"
	DepTypeTransitive = "transitive"
)

// Dep is a single node in a project's dependency graph. The same package may
// appear multiple times with different paths; (Ecosystem, Name, Version, Path)
// is unique after deduplication.
type Dep struct {
	// Name of the package. Lower-cased for PyPI, declared case for npm.
	Name string `json:"name"`
	// Version is the exact resolved version when known, otherwise the
	// declared version specifier.
	Version   string    `json:"version"`
	Ecosystem Ecosystem `json:"ecosystem"`
	// Path is the ordered chain of package names from a root declaration of
	// the project to this node. The first element is always a direct
	// dependency of the project.
	Path []string `json:"path"`
	// Direct is true iff len(Path) == 1.
	Direct bool `json:"is_direct"`
	// Dev is true iff the package is only declared in a development group.
	Dev bool `json:"is_dev"`
}

// NewDep returns a Dep with its name canonicalized for the ecosystem and its
// Direct flag derived from the path. A nil path defaults to [name].
func NewDep(eco Ecosystem, name, version string, path []string, dev bool) *Dep {
	if eco == EcosystemPyPI {
		name = CanonicalName(eco, name)
		for i, p := range path {
			path[i] = CanonicalName(eco, p)
		}
	}
	if len(path) == 0 {
		path = []string{name}
	}
	return &Dep{
		Name:      name,
		Version:   version,
		Ecosystem: eco,
		Path:      path,
		Direct:    len(path) == 1,
		Dev:       dev,
	}
}

// Key identifies the (ecosystem, name, version) triple used for vulnerability
// lookups. Names compare case-insensitively in both ecosystems.
func (d *Dep) Key() string {
	return fmt.Sprintf("%s|%s|%s", d.Ecosystem, CanonicalName(d.Ecosystem, d.Name), d.Version)
}

// PathKey identifies the full (ecosystem, name, version, path) tuple that is
// unique after deduplication.
func (d *Dep) PathKey() string {
	return d.Key() + "|" + strings.Join(d.Path, ">")
}

// DepType returns "direct" or "transitive" depending on the path length.
func (d *Dep) DepType() string {
	if d.Direct {
		return DepTypeDirect
	}
	return DepTypeTransitive
}

// Vuln is a single vulnerability finding on one dependency path. The same
// advisory produces one Vuln per affected dependency path.
type Vuln struct {
	Package   string    `json:"package"`
	Version   string    `json:"version"`
	Ecosystem Ecosystem `json:"ecosystem"`
	// ID is the OSV identifier (e.g. GHSA-..., PYSEC-...) and the stable
	// primary key of the advisory.
	ID        string   `json:"vulnerability_id"`
	Severity  Severity `json:"severity"`
	CVSSScore float64  `json:"cvss_score"`
	CVEIDs    []string `json:"cve_ids"`
	Summary   string   `json:"summary"`
	Details   string   `json:"details"`
	// AdvisoryURL points at the canonical advisory page.
	AdvisoryURL string `json:"advisory_url"`
	// FixedRange is the first fixed version expression the advisory's ranges
	// provide, e.g. ">=4.17.21". Empty if the advisory lists no fix.
	FixedRange string    `json:"fixed_range"`
	Published  time.Time `json:"published"`
	Modified   time.Time `json:"modified"`
	Aliases    []string  `json:"aliases"`
	// DependencyPath is copied from the Dep this finding was matched against.
	DependencyPath []string `json:"dependency_path"`
	// DepType mirrors the matched Dep's Direct flag as "direct"/"transitive".
	DepType string `json:"dep_type"`
}

// ScanOptions control filtering behavior of a scan.
type ScanOptions struct {
	// IncludeDevDependencies keeps packages that are only reachable through
	// development dependency groups. Defaults to true.
	IncludeDevDependencies bool `json:"include_dev_dependencies"`
	// IgnoreSeverities suppresses findings whose severity is in this set.
	// Suppressed findings are counted in Report.SuppressedCount.
	IgnoreSeverities []Severity `json:"ignore_severities,omitempty"`
}

// DefaultScanOptions returns the options used when a request specifies none.
func DefaultScanOptions() ScanOptions {
	return ScanOptions{IncludeDevDependencies: true}
}

// Ignored reports whether findings of severity s are suppressed by the options.
func (o *ScanOptions) Ignored(s Severity) bool {
	for _, ignored := range o.IgnoreSeverities {
		if ignored == s {
			return true
		}
	}
	return false
}

// ReportMeta carries scan metadata attached to a Report.
type ReportMeta struct {
	GeneratedAt         time.Time   `json:"generated_at"`
	Ecosystems          []Ecosystem `json:"ecosystems"`
	ScanDurationSeconds float64     `json:"scan_duration_seconds"`
	ScanOptions         ScanOptions `json:"scan_options"`
	// Warnings collects per-file parse failures, generator failures and
	// incomplete vulnerability batches. A scan with warnings still completes.
	Warnings []string `json:"warnings,omitempty"`
	// StaleResults lists the (ecosystem, name, version) keys whose
	// vulnerability data was served from an expired cache entry because the
	// upstream database was unavailable.
	StaleResults []string `json:"stale_results,omitempty"`
}

// Report is the final result of a completed scan.
type Report struct {
	JobID  string    `json:"job_id"`
	Status JobStatus `json:"status"`
	// TotalDependencies counts deduplicated dependencies incl. transitive ones.
	TotalDependencies  int        `json:"total_dependencies"`
	VulnerableCount    int        `json:"vulnerable_count"`
	VulnerablePackages []*Vuln    `json:"vulnerable_packages"`
	Dependencies       []*Dep     `json:"dependencies"`
	SuppressedCount    int        `json:"suppressed_count"`
	Meta               ReportMeta `json:"meta"`
}

// ScanProgress is a point-in-time snapshot of a running or finished scan.
// It is mutated only by the scan's own orchestrator; readers get copies.
type ScanProgress struct {
	JobID                string     `json:"job_id"`
	Status               JobStatus  `json:"status"`
	ProgressPercent      int        `json:"progress_percent"`
	CurrentStep          string     `json:"current_step"`
	TotalDependencies    int        `json:"total_dependencies"`
	VulnerabilitiesFound int        `json:"vulnerabilities_found"`
	StartedAt            time.Time  `json:"started_at"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	ErrorMessage         string     `json:"error_message,omitempty"`
}
