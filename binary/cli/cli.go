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

// Package cli defines the structures to store the CLI flags used by the scanner binary.
package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/depscan/cache/vulncache"
	"github.com/google/depscan/inventory"
)

// Array is a type to be passed to flag.Var that supports arrays passed as repeated flags,
// e.g. ./depscan scan --ignore-severity LOW --ignore-severity MEDIUM .
type Array []string

func (i *Array) String() string {
	return strings.Join(*i, ",")
}

// Set gets called whenever a new instance of a flag is read during CLI arg parsing.
func (i *Array) Set(value string) error {
	*i = append(*i, strings.TrimSpace(value))
	return nil
}

// Get returns the underlying []string value stored by this flag struct.
func (i *Array) Get() any {
	return i
}

// ScanFlags are the flags of the "scan" subcommand.
type ScanFlags struct {
	// Path is the directory or file to scan.
	Path string
	// JSONOut, when non-empty, is the file the Report is serialized to.
	JSONOut string
	// NoIncludeDev drops packages only reachable through dev dependencies.
	NoIncludeDev bool
	// IgnoreSeverities suppresses findings of the listed severities.
	IgnoreSeverities Array
	// Verbose enables debug logging.
	Verbose bool
}

// ServerFlags are the flags of the "server" subcommand.
type ServerFlags struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string
	// AllowedOrigins is a comma-separated CORS origin list.
	AllowedOrigins string
	// MaxConcurrent bounds simultaneous scans.
	MaxConcurrent int
	// Verbose enables debug logging.
	Verbose bool
}

// ValidateScanFlags checks the scan subcommand's flag values.
func ValidateScanFlags(flags *ScanFlags) error {
	if flags.Path == "" {
		return errors.New("missing PATH argument")
	}
	if _, err := os.Stat(flags.Path); err != nil {
		return fmt.Errorf("invalid PATH: %w", err)
	}
	for _, s := range flags.IgnoreSeverities {
		if inventory.ParseSeverity(s) == inventory.SeverityUnknown && !strings.EqualFold(s, "UNKNOWN") {
			return fmt.Errorf("unknown severity %q", s)
		}
	}
	return nil
}

// ScanOptions converts the flags into the orchestrator's options.
func (f *ScanFlags) ScanOptions() inventory.ScanOptions {
	opts := inventory.DefaultScanOptions()
	opts.IncludeDevDependencies = !f.NoIncludeDev
	for _, s := range f.IgnoreSeverities {
		opts.IgnoreSeverities = append(opts.IgnoreSeverities, inventory.ParseSeverity(s))
	}
	return opts
}

// CacheSettings reads the cache's location and TTL from the environment.
// An empty path disables the cache.
func CacheSettings() (path string, ttl time.Duration, err error) {
	path = os.Getenv("OSV_CACHE_PATH")
	ttl = vulncache.DefaultTTL
	if hours := os.Getenv("OSV_CACHE_TTL_HOURS"); hours != "" {
		n, err := strconv.Atoi(hours)
		if err != nil || n <= 0 {
			return "", 0, fmt.Errorf("invalid OSV_CACHE_TTL_HOURS %q", hours)
		}
		ttl = time.Duration(n) * time.Hour
	}
	return path, ttl, nil
}
