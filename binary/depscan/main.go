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

// The depscan command scans project dependency files for known
// vulnerabilities, either as a one-shot CLI scan or as an HTTP service.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/google/depscan"
	"github.com/google/depscan/binary/cli"
	"github.com/google/depscan/binary/scanrunner"
	"github.com/google/depscan/cache/vulncache"
	"github.com/google/depscan/clients/osvdev"
	"github.com/google/depscan/jobs"
	"github.com/google/depscan/log"
	"github.com/google/depscan/server"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 2
	}

	switch args[0] {
	case "scan":
		return runScan(args[1:])
	case "server":
		return runServer(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		usage()
		return 2
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  depscan scan PATH [--json FILE] [--no-include-dev] [--ignore-severity LEVEL]...
  depscan server [--addr :8080] [--allowed-origins ORIGIN,...] [--max-concurrent N]`)
}

func runScan(args []string) int {
	flags := &cli.ScanFlags{}
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	fs.StringVar(&flags.JSONOut, "json", "", "write the full JSON report to this file")
	fs.BoolVar(&flags.NoIncludeDev, "no-include-dev", false, "exclude development-only dependencies")
	fs.Var(&flags.IgnoreSeverities, "ignore-severity", "suppress findings of this severity (repeatable)")
	fs.BoolVar(&flags.Verbose, "verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	flags.Path = fs.Arg(0)
	if flags.Verbose {
		log.SetLogger(&log.DefaultLogger{Verbose: true})
	}

	if err := cli.ValidateScanFlags(flags); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	return scanrunner.RunScan(flags)
}

func runServer(args []string) int {
	flags := &cli.ServerFlags{}
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.StringVar(&flags.Addr, "addr", ":8080", "listen address")
	fs.StringVar(&flags.AllowedOrigins, "allowed-origins", "", "comma-separated CORS origin list")
	fs.IntVar(&flags.MaxConcurrent, "max-concurrent", jobs.DefaultMaxConcurrent, "maximum simultaneous scans")
	fs.BoolVar(&flags.Verbose, "verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if flags.Verbose {
		log.SetLogger(&log.DefaultLogger{Verbose: true})
	}

	cachePath, ttl, err := cli.CacheSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	var cache osvdev.Cache
	if cachePath != "" {
		c, err := vulncache.Open(cachePath, ttl)
		if err != nil {
			log.Warnf("opening cache %s: %v", cachePath, err)
		} else {
			cache = c
			defer c.Close()
		}
	}

	client := osvdev.New(osvdev.Config{
		Client: osvdev.DefaultOSVClient(os.Getenv("OSV_API_URL")),
		Cache:  cache,
	})

	var origins []string
	if flags.AllowedOrigins != "" {
		origins = strings.Split(flags.AllowedOrigins, ",")
	}

	srv := server.New(server.Config{
		Scanner:        depscan.New(depscan.Config{Client: client}),
		Registry:       jobs.NewRegistry(jobs.Config{MaxConcurrent: flags.MaxConcurrent}),
		AllowedOrigins: origins,
	})

	log.Infof("listening on %s", flags.Addr)
	if err := http.ListenAndServe(flags.Addr, srv.Handler()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	return 0
}
