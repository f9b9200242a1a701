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

// Package jobs tracks scan jobs for the process. The registry is the sole
// synchronization point between the HTTP surface and running scans: all
// mutation goes through it and readers receive copies.
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/google/depscan/inventory"
	"github.com/google/depscan/log"
)

const (
	// DefaultMaxConcurrent is how many scans may run at once. Requests beyond
	// the limit are rejected, not queued.
	DefaultMaxConcurrent = 4
	// DefaultRetention is how long a finished job stays readable before it is
	// evicted.
	DefaultRetention = time.Hour
)

var (
	// ErrBusy is returned when the concurrent scan limit is reached.
	ErrBusy = errors.New("busy")
	// ErrNotFound is returned for unknown or evicted job ids.
	ErrNotFound = errors.New("job not found")
)

type job struct {
	progress   inventory.ScanProgress
	report     *inventory.Report
	cancel     context.CancelFunc
	terminalAt time.Time
}

// Config is the registry's configuration.
type Config struct {
	// MaxConcurrent bounds simultaneous scans. Defaults to DefaultMaxConcurrent.
	MaxConcurrent int
	// Retention is how long terminal jobs stay readable. Defaults to
	// DefaultRetention.
	Retention time.Duration
}

// Registry is the process-wide job table.
type Registry struct {
	mu            sync.Mutex
	jobs          map[string]*job
	maxConcurrent int
	retention     time.Duration
	now           func() time.Time
}

// NewRegistry returns a Registry with the given config.
func NewRegistry(cfg Config) *Registry {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	return &Registry{
		jobs:          map[string]*job{},
		maxConcurrent: cfg.MaxConcurrent,
		retention:     cfg.Retention,
		now:           time.Now,
	}
}

// Create registers a new PENDING job. It returns the job id, a context the
// scan must run under (cancelled by Cancel) and the job's progress sink.
// ErrBusy is returned when MaxConcurrent scans are already active.
func (r *Registry) Create(parent context.Context) (string, context.Context, inventory.ScanProgress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked()

	active := 0
	for _, j := range r.jobs {
		if !j.progress.Status.Terminal() {
			active++
		}
	}
	if active >= r.maxConcurrent {
		return "", nil, inventory.ScanProgress{}, ErrBusy
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(parent)
	j := &job{
		progress: inventory.ScanProgress{
			JobID:     id,
			Status:    inventory.JobPending,
			StartedAt: r.now().UTC(),
		},
		cancel: cancel,
	}
	r.jobs[id] = j
	log.Debugf("jobs: created %s (%d active)", id, active+1)
	return id, ctx, j.progress, nil
}

// Sink returns the ProgressSink scoped to one job.
func (r *Registry) Sink(jobID string) *Sink {
	return &Sink{registry: r, jobID: jobID}
}

// Status returns a snapshot of the job's progress.
func (r *Registry) Status(jobID string) (inventory.ScanProgress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked()

	j, ok := r.jobs[jobID]
	if !ok {
		return inventory.ScanProgress{}, ErrNotFound
	}
	return j.progress, nil
}

// Report returns the job's final report. The report is nil while the job is
// not yet terminal; the returned status tells callers which case they hit.
func (r *Registry) Report(jobID string) (*inventory.Report, inventory.JobStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked()

	j, ok := r.jobs[jobID]
	if !ok {
		return nil, "", ErrNotFound
	}
	if !j.progress.Status.Terminal() {
		return nil, j.progress.Status, nil
	}
	return j.report, j.progress.Status, nil
}

// StoreReport attaches the final report to a job.
func (r *Registry) StoreReport(jobID string, report *inventory.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[jobID]; ok {
		j.report = report
	}
}

// Cancel signals an in-flight job to stop. Cancelling a terminal job is a
// no-op; unknown ids return ErrNotFound.
func (r *Registry) Cancel(jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked()

	j, ok := r.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	j.cancel()
	return nil
}

// ActiveCount returns the number of non-terminal jobs.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	active := 0
	for _, j := range r.jobs {
		if !j.progress.Status.Terminal() {
			active++
		}
	}
	return active
}

// evictLocked removes terminal jobs past retention. Callers hold r.mu.
func (r *Registry) evictLocked() {
	cutoff := r.now().Add(-r.retention)
	for id, j := range r.jobs {
		if j.progress.Status.Terminal() && j.terminalAt.Before(cutoff) {
			delete(r.jobs, id)
			log.Debugf("jobs: evicted %s", id)
		}
	}
}

// Sink applies a running scan's progress updates to its registry entry.
type Sink struct {
	registry *Registry
	jobID    string
}

// Transition implements depscan.ProgressSink.
func (s *Sink) Transition(status inventory.JobStatus, errMsg string) {
	s.registry.mu.Lock()
	defer s.registry.mu.Unlock()
	j, ok := s.registry.jobs[s.jobID]
	if !ok || !j.progress.Status.CanTransition(status) {
		return
	}
	j.progress.Status = status
	if status.Terminal() {
		now := s.registry.now().UTC()
		j.progress.CompletedAt = &now
		j.terminalAt = now
		// A finished job releases its cancel signal.
		j.cancel()
	}
	if status == inventory.JobFailed {
		j.progress.ErrorMessage = errMsg
	}
}

// Step implements depscan.ProgressSink. Progress never moves backwards.
func (s *Sink) Step(percent int, step string) {
	s.registry.mu.Lock()
	defer s.registry.mu.Unlock()
	j, ok := s.registry.jobs[s.jobID]
	if !ok || percent < j.progress.ProgressPercent {
		return
	}
	j.progress.ProgressPercent = percent
	j.progress.CurrentStep = step
}

// SetCounts implements depscan.ProgressSink.
func (s *Sink) SetCounts(totalDeps, vulnsFound int) {
	s.registry.mu.Lock()
	defer s.registry.mu.Unlock()
	if j, ok := s.registry.jobs[s.jobID]; ok {
		j.progress.TotalDependencies = totalDeps
		j.progress.VulnerabilitiesFound = vulnsFound
	}
}
