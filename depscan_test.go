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

package depscan_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/ossf/osv-schema/bindings/go/osvschema"

	"github.com/google/depscan"
	"github.com/google/depscan/clients/osvdev"
	"github.com/google/depscan/clients/osvdev/fakeclient"
	"github.com/google/depscan/inventory"
	"github.com/google/depscan/resolver"
)

// recordSink captures every progress update for assertions.
type recordSink struct {
	mu          sync.Mutex
	transitions []inventory.JobStatus
	errMsg      string
	steps       []int
	totalDeps   int
	vulnsFound  int
}

func (s *recordSink) Transition(status inventory.JobStatus, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions = append(s.transitions, status)
	if status == inventory.JobFailed {
		s.errMsg = errMsg
	}
}

func (s *recordSink) Step(percent int, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, percent)
}

func (s *recordSink) SetCounts(totalDeps, vulnsFound int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalDeps = totalDeps
	s.vulnsFound = vulnsFound
}

func (s *recordSink) finalStatus() inventory.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.transitions) == 0 {
		return ""
	}
	return s.transitions[len(s.transitions)-1]
}

var lockfile = resolver.File{Name: "package-lock.json", Content: []byte(`{
	"lockfileVersion": 3,
	"packages": {
		"": {
			"dependencies": {"lodash": "^4.17.0"},
			"devDependencies": {"nodemon": "^2.0.0"}
		},
		"node_modules/lodash": {"version": "4.17.20"},
		"node_modules/nodemon": {"version": "2.0.20", "dev": true}
	}
}`)}

var lodashAdvisory = &osvschema.Vulnerability{
	ID:               "GHSA-35jh-r3h4-6jhm",
	Summary:          "Command injection in lodash",
	DatabaseSpecific: map[string]any{"severity": "HIGH"},
}

func newTestScanner(client osvdev.Client) *depscan.Scanner {
	return depscan.New(depscan.Config{
		Client: osvdev.New(osvdev.Config{Client: client}),
	})
}

func TestScan_Completed(t *testing.T) {
	s := newTestScanner(fakeclient.New(map[string][]*osvschema.Vulnerability{
		fakeclient.Key("npm", "lodash", "4.17.20"): {lodashAdvisory},
	}))
	sink := &recordSink{}

	report := s.Scan(context.Background(), "job-1", []resolver.File{lockfile}, inventory.DefaultScanOptions(), sink)
	if report == nil {
		t.Fatalf("Scan() returned nil report, error %q", sink.errMsg)
	}

	if report.Status != inventory.JobCompleted {
		t.Errorf("report status = %v, want COMPLETED", report.Status)
	}
	if report.TotalDependencies != 2 {
		t.Errorf("TotalDependencies = %d, want 2", report.TotalDependencies)
	}
	if report.VulnerableCount != 1 || report.VulnerablePackages[0].ID != lodashAdvisory.ID {
		t.Errorf("findings = %+v, want the lodash advisory", report.VulnerablePackages)
	}
	if sink.finalStatus() != inventory.JobCompleted {
		t.Errorf("final sink status = %v, want COMPLETED", sink.finalStatus())
	}
	if len(sink.steps) == 0 || sink.steps[len(sink.steps)-1] != 100 {
		t.Errorf("progress steps = %v, want ending at 100", sink.steps)
	}
	for i := 1; i < len(sink.steps); i++ {
		if sink.steps[i] < sink.steps[i-1] {
			t.Errorf("progress went backwards: %v", sink.steps)
		}
	}
}

func TestScan_ExcludeDevDependencies(t *testing.T) {
	s := newTestScanner(fakeclient.New(nil))
	sink := &recordSink{}

	opts := inventory.ScanOptions{IncludeDevDependencies: false}
	report := s.Scan(context.Background(), "job-1", []resolver.File{lockfile}, opts, sink)
	if report == nil {
		t.Fatalf("Scan() returned nil report, error %q", sink.errMsg)
	}

	for _, d := range report.Dependencies {
		if d.Dev {
			t.Errorf("dev dependency %s survived filtering", d.Name)
		}
	}
	if report.TotalDependencies != 1 {
		t.Errorf("TotalDependencies = %d, want 1", report.TotalDependencies)
	}
}

func TestScan_SeveritySuppression(t *testing.T) {
	s := newTestScanner(fakeclient.New(map[string][]*osvschema.Vulnerability{
		fakeclient.Key("npm", "lodash", "4.17.20"): {lodashAdvisory},
	}))
	sink := &recordSink{}

	opts := inventory.DefaultScanOptions()
	opts.IgnoreSeverities = []inventory.Severity{inventory.SeverityHigh}
	report := s.Scan(context.Background(), "job-1", []resolver.File{lockfile}, opts, sink)
	if report == nil {
		t.Fatalf("Scan() returned nil report, error %q", sink.errMsg)
	}

	if report.VulnerableCount != 0 {
		t.Errorf("VulnerableCount = %d, want 0", report.VulnerableCount)
	}
	if report.SuppressedCount != 1 {
		t.Errorf("SuppressedCount = %d, want 1", report.SuppressedCount)
	}
}

func TestScan_NoDependencies(t *testing.T) {
	s := newTestScanner(fakeclient.New(nil))
	sink := &recordSink{}

	report := s.Scan(context.Background(), "job-1", []resolver.File{
		{Name: "README.md", Content: []byte("# hello")},
	}, inventory.DefaultScanOptions(), sink)

	if report != nil {
		t.Errorf("Scan() returned %+v, want nil", report)
	}
	if sink.finalStatus() != inventory.JobFailed {
		t.Errorf("final sink status = %v, want FAILED", sink.finalStatus())
	}
	if !strings.Contains(sink.errMsg, "no dependencies resolved") {
		t.Errorf("error = %q, want a no-dependencies message", sink.errMsg)
	}
}

func TestScan_EmptyManifestCompletes(t *testing.T) {
	s := newTestScanner(fakeclient.New(nil))
	sink := &recordSink{}

	// A manifest that parses but declares nothing is an empty project.
	report := s.Scan(context.Background(), "job-1", []resolver.File{
		{Name: "package.json", Content: []byte(`{"name": "empty-app"}`)},
	}, inventory.DefaultScanOptions(), sink)
	if report == nil {
		t.Fatalf("Scan() returned nil report, error %q", sink.errMsg)
	}
	if report.Status != inventory.JobCompleted {
		t.Errorf("report status = %v, want COMPLETED", report.Status)
	}
	if report.TotalDependencies != 0 || report.VulnerableCount != 0 {
		t.Errorf("report = %d deps / %d findings, want 0 / 0", report.TotalDependencies, report.VulnerableCount)
	}
}

func TestScan_MalformedLockfileFails(t *testing.T) {
	s := newTestScanner(fakeclient.New(nil))
	sink := &recordSink{}

	report := s.Scan(context.Background(), "job-1", []resolver.File{
		{Name: "package-lock.json", Content: []byte("{not json")},
	}, inventory.DefaultScanOptions(), sink)

	if report != nil {
		t.Errorf("Scan() returned %+v, want nil", report)
	}
	if sink.finalStatus() != inventory.JobFailed {
		t.Errorf("final sink status = %v, want FAILED", sink.finalStatus())
	}
	if !strings.Contains(sink.errMsg, "no dependencies resolved") {
		t.Errorf("error = %q, want a no-dependencies message", sink.errMsg)
	}
}

func TestScan_Cancelled(t *testing.T) {
	s := newTestScanner(fakeclient.New(nil))
	sink := &recordSink{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := s.Scan(ctx, "job-1", []resolver.File{lockfile}, inventory.DefaultScanOptions(), sink)
	if report != nil {
		t.Errorf("Scan() returned %+v, want nil", report)
	}
	if sink.errMsg != "cancelled" {
		t.Errorf("error = %q, want \"cancelled\"", sink.errMsg)
	}
}

func TestScan_AllBatchesFailed(t *testing.T) {
	s := newTestScanner(fakeclient.NewFailing(errors.New("503 service unavailable")))
	sink := &recordSink{}

	report := s.Scan(context.Background(), "job-1", []resolver.File{lockfile}, inventory.DefaultScanOptions(), sink)
	if report != nil {
		t.Errorf("Scan() returned %+v, want nil", report)
	}
	if sink.finalStatus() != inventory.JobFailed {
		t.Errorf("final sink status = %v, want FAILED", sink.finalStatus())
	}
	if !strings.Contains(sink.errMsg, "unavailable") {
		t.Errorf("error = %q, want an unavailable message", sink.errMsg)
	}
}

// fakeGenerator synthesizes a canned lockfile for package.json manifests.
type fakeGenerator struct{ calls int }

func (g *fakeGenerator) Name() string { return "fake" }

func (g *fakeGenerator) CanGenerate(eco inventory.Ecosystem, filename string) bool {
	return eco == inventory.EcosystemNPM && filename == "package.json"
}

func (g *fakeGenerator) Generate(_ context.Context, _ inventory.Ecosystem, _ string, _ []byte) (string, []byte, error) {
	g.calls++
	return "package-lock.json", lockfile.Content, nil
}

func TestScan_GeneratesLockfile(t *testing.T) {
	gen := &fakeGenerator{}
	s := depscan.New(depscan.Config{
		Client:    osvdev.New(osvdev.Config{Client: fakeclient.New(nil)}),
		Generator: gen,
	})
	sink := &recordSink{}

	manifest := resolver.File{Name: "package.json", Content: []byte(`{
		"dependencies": {"lodash": "^4.17.0"}
	}`)}
	report := s.Scan(context.Background(), "job-1", []resolver.File{manifest}, inventory.DefaultScanOptions(), sink)
	if report == nil {
		t.Fatalf("Scan() returned nil report, error %q", sink.errMsg)
	}

	if gen.calls != 1 {
		t.Errorf("generator called %d times, want 1", gen.calls)
	}
	// The generated lockfile supplies the resolved version.
	var lodash *inventory.Dep
	for _, d := range report.Dependencies {
		if d.Name == "lodash" {
			lodash = d
		}
	}
	if lodash == nil || lodash.Version != "4.17.20" {
		t.Errorf("lodash = %+v, want version 4.17.20 from the generated lockfile", lodash)
	}
	// The generated lockfile counts toward the progress denominator, so the
	// raw step sequence stays monotonic without any sink-side clamping.
	for i := 1; i < len(sink.steps); i++ {
		if sink.steps[i] < sink.steps[i-1] {
			t.Errorf("progress went backwards: %v", sink.steps)
		}
	}
}

func TestScan_GeneratorNotCalledWithLockfile(t *testing.T) {
	gen := &fakeGenerator{}
	s := depscan.New(depscan.Config{
		Client:    osvdev.New(osvdev.Config{Client: fakeclient.New(nil)}),
		Generator: gen,
	})

	s.Scan(context.Background(), "job-1", []resolver.File{lockfile}, inventory.DefaultScanOptions(), &recordSink{})
	if gen.calls != 0 {
		t.Errorf("generator called %d times with a lockfile present, want 0", gen.calls)
	}
}
