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

// Package scanrunner provides the main scan loop of the CLI.
package scanrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"

	"github.com/google/depscan"
	"github.com/google/depscan/binary/cli"
	"github.com/google/depscan/cache/vulncache"
	"github.com/google/depscan/clients/osvdev"
	"github.com/google/depscan/inventory"
	"github.com/google/depscan/log"
	"github.com/google/depscan/parser/list"
	"github.com/google/depscan/resolver"
)

// progressInterval rate-limits stderr progress lines.
const progressInterval = 250 * time.Millisecond

// Directories never descended into when collecting dependency files.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"__pycache__":  true,
	"venv":         true,
	".venv":        true,
	"dist":         true,
	"build":        true,
}

// RunScan runs one synchronous scan and returns the process exit code:
// 0 for no findings, 1 for at least one finding, 2 on failure.
func RunScan(flags *cli.ScanFlags) int {
	files, err := collectFiles(flags.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "error: no supported dependency files found")
		return 2
	}

	client, closeCache, err := buildClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	defer closeCache()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	scanner := depscan.New(depscan.Config{Client: client})
	sink := &progressPrinter{out: os.Stderr}

	report := scanner.Scan(ctx, uuid.NewString(), files, flags.ScanOptions(), sink)
	if report == nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", sink.ErrorMessage())
		return 2
	}

	printReport(os.Stdout, report)

	if flags.JSONOut != "" {
		raw, err := json.MarshalIndent(report, "", "  ")
		if err == nil {
			err = os.WriteFile(flags.JSONOut, raw, 0644)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: writing %s: %v\n", flags.JSONOut, err)
			return 2
		}
	}

	if len(report.VulnerablePackages) > 0 {
		return 1
	}
	return 0
}

// buildClient wires the OSV client with the env-configured cache and API URL.
func buildClient() (*osvdev.VulnClient, func(), error) {
	cachePath, ttl, err := cli.CacheSettings()
	if err != nil {
		return nil, nil, err
	}

	var cache osvdev.Cache
	closeCache := func() {}
	if cachePath != "" {
		c, err := vulncache.Open(cachePath, ttl)
		if err != nil {
			// Cache failures degrade to uncached scans.
			log.Warnf("opening cache %s: %v", cachePath, err)
		} else {
			cache = c
			closeCache = func() { c.Close() }
		}
	}

	client := osvdev.New(osvdev.Config{
		Client: osvdev.DefaultOSVClient(os.Getenv("OSV_API_URL")),
		Cache:  cache,
	})
	return client, closeCache, nil
}

// collectFiles gathers every supported dependency file under path.
func collectFiles(path string) ([]resolver.File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	var names []string
	if !info.IsDir() {
		names = []string{path}
	} else {
		err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if skipDirs[d.Name()] {
					return filepath.SkipDir
				}
				return nil
			}
			if list.ForFilename(d.Name()) != nil {
				names = append(names, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	var files []resolver.File
	for _, name := range names {
		content, err := os.ReadFile(name)
		if err != nil {
			return nil, err
		}
		files = append(files, resolver.File{Name: filepath.Base(name), Content: content})
	}
	return files, nil
}

func printReport(out *os.File, report *inventory.Report) {
	if len(report.VulnerablePackages) > 0 {
		table := tablewriter.NewWriter(out)
		table.SetHeader([]string{"Severity", "Package", "Version", "Vulnerability", "CVSS", "Fixed In"})
		for _, v := range report.VulnerablePackages {
			fixed := v.FixedRange
			if fixed == "" {
				fixed = "-"
			}
			table.Append([]string{
				string(v.Severity),
				v.Package,
				v.Version,
				v.ID,
				strconv.FormatFloat(v.CVSSScore, 'f', 1, 64),
				fixed,
			})
		}
		table.Render()
	}

	fmt.Fprintf(out, "\n%d dependencies scanned, %d vulnerabilities found", report.TotalDependencies, len(report.VulnerablePackages))
	if report.SuppressedCount > 0 {
		fmt.Fprintf(out, " (%d suppressed)", report.SuppressedCount)
	}
	fmt.Fprintln(out)

	for _, w := range report.Meta.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
}

// progressPrinter writes rate-limited progress lines to stderr.
type progressPrinter struct {
	out *os.File

	mu          sync.Mutex
	lastPrint   time.Time
	lastPercent int
	errMsg      string
}

// Transition implements depscan.ProgressSink.
func (p *progressPrinter) Transition(status inventory.JobStatus, errMsg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if status == inventory.JobFailed {
		p.errMsg = errMsg
	}
}

// Step implements depscan.ProgressSink.
func (p *progressPrinter) Step(percent int, step string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if percent < p.lastPercent {
		return
	}
	now := time.Now()
	// Always print the terminal step so the output ends at 100%.
	if now.Sub(p.lastPrint) < progressInterval && percent < 100 {
		return
	}
	p.lastPrint = now
	p.lastPercent = percent
	fmt.Fprintf(p.out, "[%3d%%] %s\n", percent, step)
}

// SetCounts implements depscan.ProgressSink.
func (p *progressPrinter) SetCounts(int, int) {}

// ErrorMessage returns the failure message of a FAILED scan.
func (p *progressPrinter) ErrorMessage() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.errMsg == "" {
		return "scan failed"
	}
	return p.errMsg
}
