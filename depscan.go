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

// Package depscan resolves a project's dependency files and matches the
// resolved packages against the OSV.dev vulnerability database.
package depscan

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/depscan/clients/osvdev"
	"github.com/google/depscan/generate"
	"github.com/google/depscan/inventory"
	"github.com/google/depscan/log"
	"github.com/google/depscan/resolver"
)

// DefaultDeadline is the whole-scan soft deadline.
const DefaultDeadline = 15 * time.Minute

// maxErrorMessageBytes bounds the error text stored on a failed job.
const maxErrorMessageBytes = 512

var errDeadline = errors.New("timeout")

// ProgressSink receives state changes from a running scan. The job registry
// implements it for server scans; the CLI uses a terminal printer.
type ProgressSink interface {
	// Transition moves the job to a new status. errMsg is set only for FAILED.
	Transition(status inventory.JobStatus, errMsg string)
	// Step reports a progress percentage and a human-readable step name.
	// Percentages from one scan never decrease.
	Step(percent int, step string)
	// SetCounts updates the dependency and finding counters.
	SetCounts(totalDeps, vulnsFound int)
}

// NopSink discards all progress updates.
type NopSink struct{}

// Transition implements ProgressSink.
func (NopSink) Transition(inventory.JobStatus, string) {}

// Step implements ProgressSink.
func (NopSink) Step(int, string) {}

// SetCounts implements ProgressSink.
func (NopSink) SetCounts(int, int) {}

// Config is the scanner's configuration.
type Config struct {
	// Client matches dependencies against OSV.dev. Defaults to a client with
	// no cache.
	Client *osvdev.VulnClient
	// Generator optionally synthesizes lockfiles for manifests submitted
	// without one. Nil disables generation.
	Generator generate.Generator
	// Deadline is the whole-scan soft deadline. Defaults to DefaultDeadline.
	Deadline time.Duration
}

// Scanner runs scans. It is safe for concurrent use; per-scan state lives on
// the stack of each Scan call.
type Scanner struct {
	client    *osvdev.VulnClient
	generator generate.Generator
	deadline  time.Duration
}

// New returns a Scanner with the given config.
func New(cfg Config) *Scanner {
	if cfg.Client == nil {
		cfg.Client = osvdev.New(osvdev.Config{})
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultDeadline
	}
	return &Scanner{client: cfg.Client, generator: cfg.Generator, deadline: cfg.Deadline}
}

// Scan resolves files, queries for vulnerabilities and assembles the report
// for one job. It never panics or returns an error: every failure path
// transitions the job to FAILED through the sink and returns nil.
func (s *Scanner) Scan(ctx context.Context, jobID string, files []resolver.File, opts inventory.ScanOptions, sink ProgressSink) (report *inventory.Report) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("scan %s: panic: %v", jobID, r)
			sink.Transition(inventory.JobFailed, truncate(fmt.Sprintf("internal error: %v", r)))
			report = nil
		}
	}()

	fail := func(msg string) *inventory.Report {
		sink.Transition(inventory.JobFailed, truncate(msg))
		return nil
	}

	sink.Transition(inventory.JobRunning, "")
	sink.Step(0, "starting")

	ctx, cancel := context.WithTimeoutCause(ctx, s.deadline, errDeadline)
	defer cancel()

	var warnings []string

	// Group the inputs by ecosystem. Unrecognized files are reported once and
	// dropped here rather than handed to every resolver.
	byEco := map[inventory.Ecosystem][]resolver.File{}
	for _, f := range files {
		eco, ok := resolver.Detect(f.Name)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("%s: unrecognized dependency file format", f.Name))
			continue
		}
		byEco[eco] = append(byEco[eco], f)
	}

	sink.Step(2, "parsing dependency files")
	s.generateLockfiles(ctx, byEco, &warnings)

	// Generated lockfiles count toward the parsing progress denominator so
	// the phase tops out at 10 percent.
	totalFiles := 0
	for _, ecoFiles := range byEco {
		totalFiles += len(ecoFiles)
	}

	var deps []*inventory.Dep
	var ecosystems []inventory.Ecosystem
	parsed := 0
	usableFiles := 0
	for _, eco := range inventory.Ecosystems {
		ecoFiles := byEco[eco]
		if len(ecoFiles) == 0 {
			continue
		}
		res, err := resolver.Resolve(eco, ecoFiles)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("resolving %s files: %v", eco, err))
			continue
		}
		for _, w := range res.Warnings {
			warnings = append(warnings, w.String())
		}
		if len(res.Deps) > 0 {
			ecosystems = append(ecosystems, eco)
		}
		deps = append(deps, res.Deps...)
		usableFiles += res.ParsedFiles

		parsed += len(ecoFiles)
		sink.Step(2+8*parsed/max(totalFiles, 1), "parsing dependency files")
	}

	if !opts.IncludeDevDependencies {
		deps = resolver.FilterDev(deps)
	}
	sink.SetCounts(len(deps), 0)

	// A valid manifest that declares nothing is an empty project, not a
	// failure. Failure is reserved for input sets with no usable file at all.
	if len(deps) == 0 && usableFiles == 0 {
		return fail("no dependencies resolved from input files")
	}

	sink.Step(10, "querying vulnerability database")
	clientRes, err := s.client.Scan(ctx, deps, func(done, total int) {
		sink.Step(10+85*done/total, "querying vulnerability database")
	})
	if err != nil {
		return fail(cancelReason(ctx, err))
	}
	warnings = append(warnings, clientRes.Warnings...)

	// Every batch failing means no usable results at all, unless stale cache
	// entries stood in for the unavailable upstream.
	if clientRes.BatchesTotal > 0 && clientRes.BatchesFailed == clientRes.BatchesTotal && len(clientRes.StaleKeys) == 0 {
		return fail("vulnerability database unavailable: all query batches failed")
	}

	sink.Step(95, "assembling report")

	vulns := make([]*inventory.Vuln, 0, len(clientRes.Vulns))
	suppressed := 0
	for _, v := range clientRes.Vulns {
		if opts.Ignored(v.Severity) {
			suppressed++
			continue
		}
		vulns = append(vulns, v)
	}
	sink.SetCounts(len(deps), len(vulns))

	report = &inventory.Report{
		JobID:              jobID,
		Status:             inventory.JobCompleted,
		TotalDependencies:  len(deps),
		VulnerableCount:    len(vulns),
		VulnerablePackages: vulns,
		Dependencies:       deps,
		SuppressedCount:    suppressed,
		Meta: inventory.ReportMeta{
			GeneratedAt:         time.Now().UTC(),
			Ecosystems:          ecosystems,
			ScanDurationSeconds: time.Since(start).Seconds(),
			ScanOptions:         opts,
			Warnings:            warnings,
			StaleResults:        clientRes.StaleKeys,
		},
	}

	sink.Step(100, "done")
	sink.Transition(inventory.JobCompleted, "")
	log.Infof("scan %s: %d dependencies, %d findings (%d suppressed) in %.1fs",
		jobID, len(deps), len(vulns), suppressed, time.Since(start).Seconds())
	return report
}

// generateLockfiles invokes the generator for each ecosystem that has a
// manifest but no lockfile. Generator errors degrade to manifest-only parsing.
func (s *Scanner) generateLockfiles(ctx context.Context, byEco map[inventory.Ecosystem][]resolver.File, warnings *[]string) {
	if s.generator == nil {
		return
	}
	for _, eco := range inventory.Ecosystems {
		ecoFiles := byEco[eco]
		if len(ecoFiles) == 0 || hasLockfile(ecoFiles) {
			continue
		}
		for _, f := range ecoFiles {
			if !s.generator.CanGenerate(eco, f.Name) {
				continue
			}
			lockName, lockContent, err := s.generator.Generate(ctx, eco, f.Name, f.Content)
			if err != nil {
				*warnings = append(*warnings, fmt.Sprintf("%s: lockfile generation failed: %v", f.Name, err))
				continue
			}
			byEco[eco] = append(byEco[eco], resolver.File{Name: lockName, Content: lockContent, Generated: true})
			break
		}
	}
}

func hasLockfile(files []resolver.File) bool {
	return slices.ContainsFunc(files, func(f resolver.File) bool {
		return resolver.SupportsTransitive(f.Name)
	})
}

// cancelReason maps a terminated context to the job's error message.
func cancelReason(ctx context.Context, err error) string {
	if errors.Is(context.Cause(ctx), errDeadline) {
		return "timeout"
	}
	if ctx.Err() != nil {
		return "cancelled"
	}
	return truncate(err.Error())
}

func truncate(s string) string {
	if len(s) > maxErrorMessageBytes {
		return s[:maxErrorMessageBytes]
	}
	return s
}
