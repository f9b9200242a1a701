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

package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/depscan/inventory"
)

func TestCreate(t *testing.T) {
	r := NewRegistry(Config{})
	id, ctx, progress, err := r.Create(context.Background())
	if err != nil {
		t.Fatalf("Create() returned error: %v", err)
	}
	if id == "" {
		t.Errorf("Create() returned empty job id")
	}
	if ctx.Err() != nil {
		t.Errorf("Create() context already done: %v", ctx.Err())
	}
	if progress.Status != inventory.JobPending {
		t.Errorf("Create() status = %v, want PENDING", progress.Status)
	}
	if r.ActiveCount() != 1 {
		t.Errorf("ActiveCount() = %d, want 1", r.ActiveCount())
	}
}

func TestCreate_Busy(t *testing.T) {
	r := NewRegistry(Config{MaxConcurrent: 2})
	for i := 0; i < 2; i++ {
		if _, _, _, err := r.Create(context.Background()); err != nil {
			t.Fatalf("Create() #%d returned error: %v", i, err)
		}
	}
	if _, _, _, err := r.Create(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("Create() beyond limit = %v, want ErrBusy", err)
	}
}

func TestCreate_TerminalJobsFreeSlots(t *testing.T) {
	r := NewRegistry(Config{MaxConcurrent: 1})
	id, _, _, err := r.Create(context.Background())
	if err != nil {
		t.Fatalf("Create() returned error: %v", err)
	}

	sink := r.Sink(id)
	sink.Transition(inventory.JobRunning, "")
	sink.Transition(inventory.JobCompleted, "")

	if _, _, _, err := r.Create(context.Background()); err != nil {
		t.Errorf("Create() after completion = %v, want success", err)
	}
}

func TestSink_Lifecycle(t *testing.T) {
	r := NewRegistry(Config{})
	id, _, _, err := r.Create(context.Background())
	if err != nil {
		t.Fatalf("Create() returned error: %v", err)
	}
	sink := r.Sink(id)

	// PENDING cannot jump straight to COMPLETED.
	sink.Transition(inventory.JobCompleted, "")
	if p, _ := r.Status(id); p.Status != inventory.JobPending {
		t.Errorf("Status() = %v after illegal transition, want PENDING", p.Status)
	}

	sink.Transition(inventory.JobRunning, "")
	sink.Step(10, "resolving dependencies")
	sink.SetCounts(42, 3)
	sink.Transition(inventory.JobCompleted, "")

	p, err := r.Status(id)
	if err != nil {
		t.Fatalf("Status() returned error: %v", err)
	}
	if p.Status != inventory.JobCompleted {
		t.Errorf("Status() = %v, want COMPLETED", p.Status)
	}
	if p.CompletedAt == nil {
		t.Errorf("CompletedAt = nil, want set")
	}
	if p.TotalDependencies != 42 || p.VulnerabilitiesFound != 3 {
		t.Errorf("counts = (%d, %d), want (42, 3)", p.TotalDependencies, p.VulnerabilitiesFound)
	}

	// Terminal states are final.
	sink.Transition(inventory.JobFailed, "late failure")
	if p, _ := r.Status(id); p.Status != inventory.JobCompleted {
		t.Errorf("Status() = %v after terminal, want COMPLETED", p.Status)
	}
}

func TestSink_ProgressMonotonic(t *testing.T) {
	r := NewRegistry(Config{})
	id, _, _, err := r.Create(context.Background())
	if err != nil {
		t.Fatalf("Create() returned error: %v", err)
	}
	sink := r.Sink(id)

	sink.Step(50, "querying")
	sink.Step(10, "late update")
	if p, _ := r.Status(id); p.ProgressPercent != 50 {
		t.Errorf("ProgressPercent = %d, want 50 (never moves backwards)", p.ProgressPercent)
	}
}

func TestSink_FailedRecordsError(t *testing.T) {
	r := NewRegistry(Config{})
	id, _, _, err := r.Create(context.Background())
	if err != nil {
		t.Fatalf("Create() returned error: %v", err)
	}
	sink := r.Sink(id)
	sink.Transition(inventory.JobRunning, "")
	sink.Transition(inventory.JobFailed, "no dependencies resolved from input files")

	p, _ := r.Status(id)
	if p.Status != inventory.JobFailed || p.ErrorMessage == "" {
		t.Errorf("Status() = (%v, %q), want FAILED with an error message", p.Status, p.ErrorMessage)
	}
}

func TestReport(t *testing.T) {
	r := NewRegistry(Config{})
	id, _, _, err := r.Create(context.Background())
	if err != nil {
		t.Fatalf("Create() returned error: %v", err)
	}

	// Not terminal yet: nil report plus the current status.
	rep, status, err := r.Report(id)
	if err != nil || rep != nil || status != inventory.JobPending {
		t.Errorf("Report() = (%v, %v, %v), want (nil, PENDING, nil)", rep, status, err)
	}

	sink := r.Sink(id)
	sink.Transition(inventory.JobRunning, "")
	r.StoreReport(id, &inventory.Report{JobID: id, Status: inventory.JobCompleted})
	sink.Transition(inventory.JobCompleted, "")

	rep, status, err = r.Report(id)
	if err != nil {
		t.Fatalf("Report() returned error: %v", err)
	}
	if status != inventory.JobCompleted || rep == nil || rep.JobID != id {
		t.Errorf("Report() = (%+v, %v), want the stored report", rep, status)
	}

	if _, _, err := r.Report("no-such-job"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Report(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestCancel(t *testing.T) {
	r := NewRegistry(Config{})
	id, ctx, _, err := r.Create(context.Background())
	if err != nil {
		t.Fatalf("Create() returned error: %v", err)
	}

	if err := r.Cancel(id); err != nil {
		t.Fatalf("Cancel() returned error: %v", err)
	}
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatalf("job context not cancelled")
	}

	// Cancel is idempotent.
	if err := r.Cancel(id); err != nil {
		t.Errorf("second Cancel() returned error: %v", err)
	}
	if err := r.Cancel("no-such-job"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Cancel(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestEviction(t *testing.T) {
	r := NewRegistry(Config{Retention: time.Hour})
	id, _, _, err := r.Create(context.Background())
	if err != nil {
		t.Fatalf("Create() returned error: %v", err)
	}
	sink := r.Sink(id)
	sink.Transition(inventory.JobRunning, "")
	sink.Transition(inventory.JobCompleted, "")

	// Within retention the job is still readable.
	if _, err := r.Status(id); err != nil {
		t.Errorf("Status() within retention returned error: %v", err)
	}

	r.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := r.Status(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Status() past retention = %v, want ErrNotFound", err)
	}
}
