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

// Package osvdev queries the OSV.dev API to find vulnerabilities in resolved
// dependencies and normalizes the results.
package osvdev

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ossf/osv-schema/bindings/go/osvschema"
	"golang.org/x/sync/errgroup"
	"osv.dev/bindings/go/osvdev"

	"github.com/google/depscan/internal/severity"
	"github.com/google/depscan/inventory"
	"github.com/google/depscan/log"
	"github.com/google/depscan/semantic"
)

const (
	// Name is the unique name of this client.
	Name = "vulnmatch/osvdev"

	// maxBatchSize is the largest number of queries OSV.dev accepts in one
	// querybatch call.
	maxBatchSize = 100
	// defaultParallelism bounds concurrent batch and hydration requests.
	defaultParallelism = 8

	connectTimeout  = 30 * time.Second
	responseTimeout = 60 * time.Second
)

// Client is the part of the OSV.dev API surface this package uses. It exists
// so tests can substitute a fake.
type Client interface {
	QueryBatch(ctx context.Context, queries []*osvdev.Query) (*osvdev.BatchedResponse, error)
	GetVulnByID(ctx context.Context, id string) (*osvschema.Vulnerability, error)
}

// Cache short-circuits lookups for keys fetched recently. Implemented by
// cache/vulncache.
type Cache interface {
	Get(key string) (vulns []osvschema.Vulnerability, fresh, stale bool)
	Put(key string, vulns []osvschema.Vulnerability) error
}

// DefaultOSVClient returns an OSV.dev API client with this scanner's retry
// and timeout policy. baseURL overrides the API host when non-empty.
func DefaultOSVClient(baseURL string) *osvdev.OSVClient {
	c := osvdev.DefaultClient()
	c.Config.MaxRetryAttempts = 5
	// 500 ms base, doubling per attempt with jitter. The bindings expose no
	// knob to cap the backoff ceiling.
	c.Config.BackoffDurationMultiplier = 0.5
	c.Config.UserAgent = "depscan/1.0"
	c.HTTPClient = &http.Client{
		Timeout: responseTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
		},
	}
	if baseURL != "" {
		c.BaseHostURL = baseURL
	}
	return c
}

// Config is the configuration for the VulnClient.
type Config struct {
	// Client is the OSV.dev API client. Defaults to DefaultOSVClient("").
	Client Client
	// Cache is optional; nil disables caching.
	Cache Cache
	// Parallelism bounds concurrent requests. Defaults to 8.
	Parallelism int
}

// VulnClient matches dependencies against OSV.dev.
type VulnClient struct {
	client      Client
	cache       Cache
	parallelism int
}

// New returns a VulnClient with the given config.
func New(cfg Config) *VulnClient {
	if cfg.Client == nil {
		cfg.Client = DefaultOSVClient("")
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = defaultParallelism
	}
	return &VulnClient{client: cfg.Client, cache: cfg.Cache, parallelism: cfg.Parallelism}
}

// Result is the outcome of one Scan call.
type Result struct {
	Vulns []*inventory.Vuln
	// Warnings records per-batch and per-key failures that did not abort the
	// scan.
	Warnings []string
	// StaleKeys lists (ecosystem, name, version) keys whose results came from
	// an expired cache entry because the upstream was unavailable.
	StaleKeys []string
	// BatchesTotal and BatchesFailed let callers distinguish a degraded scan
	// (some batches failed) from a fully failed one (all of them did).
	BatchesTotal  int
	BatchesFailed int
}

// ProgressFn is called after each completed batch with (done, total).
type ProgressFn func(done, total int)

type queryKey struct {
	key  string
	deps []*inventory.Dep
}

// Scan queries OSV.dev for every distinct (ecosystem, name, version) among
// deps and returns one normalized Vuln per (vulnerability, dependency path)
// pair. One batch's failure does not abort the others; failures are recorded
// as warnings, with stale cache entries as a fallback.
func (c *VulnClient) Scan(ctx context.Context, deps []*inventory.Dep, progress ProgressFn) (*Result, error) {
	res := &Result{}

	keys := groupByKey(deps)

	// Cache pass: fresh hits skip the network entirely.
	vulnsByKey := map[string][]osvschema.Vulnerability{}
	var toQuery []queryKey
	for _, qk := range keys {
		dep := qk.deps[0]
		if dep.Version == "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s (%s): no resolved version, skipping lookup", dep.Name, dep.Ecosystem))
			continue
		}
		if c.cache != nil {
			if vulns, fresh, _ := c.cache.Get(qk.key); fresh {
				vulnsByKey[qk.key] = vulns
				continue
			}
		}
		toQuery = append(toQuery, qk)
	}

	// Partition the remaining keys into batches, grouped by ecosystem.
	batches := partition(toQuery)
	res.BatchesTotal = len(batches)
	log.Debugf("osvdev: %d keys to query in %d batches, %d cache hits", len(toQuery), len(batches), len(vulnsByKey))

	var mu sync.Mutex
	idsByKey := map[string][]string{}
	var failed []queryKey
	done := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)
	for _, batch := range batches {
		g.Go(func() error {
			// Cancellation is honored between batches; an in-flight batch
			// finishes or fails on its own.
			if err := gctx.Err(); err != nil {
				return err
			}

			queries := make([]*osvdev.Query, len(batch))
			for i, qk := range batch {
				dep := qk.deps[0]
				queries[i] = &osvdev.Query{
					Package: osvdev.Package{
						Name:      dep.Name,
						Ecosystem: string(dep.Ecosystem),
					},
					Version: dep.Version,
				}
			}

			resp, err := c.client.QueryBatch(gctx, queries)

			mu.Lock()
			defer mu.Unlock()
			done++
			if progress != nil {
				progress(done, len(batches))
			}
			if err != nil {
				failed = append(failed, batch...)
				res.BatchesFailed++
				res.Warnings = append(res.Warnings, fmt.Sprintf("querybatch of %d packages failed: %v", len(batch), err))
				return nil
			}
			for i, r := range resp.Results {
				for _, v := range r.Vulns {
					idsByKey[batch[i].key] = append(idsByKey[batch[i].key], v.ID)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Hydrate every distinct vulnerability ID.
	records, hydrateWarnings := c.hydrate(ctx, idsByKey)
	res.Warnings = append(res.Warnings, hydrateWarnings...)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	failedKeys := map[string]bool{}
	for _, qk := range failed {
		failedKeys[qk.key] = true
	}

	for _, qk := range toQuery {
		if failedKeys[qk.key] {
			continue
		}
		var vulns []osvschema.Vulnerability
		for _, id := range idsByKey[qk.key] {
			if rec, ok := records[id]; ok {
				vulns = append(vulns, *rec)
			}
		}
		vulnsByKey[qk.key] = vulns
		if c.cache != nil {
			if err := c.cache.Put(qk.key, vulns); err != nil {
				log.Warnf("osvdev: caching %s: %v", qk.key, err)
			}
		}
	}

	// Failed keys fall back to stale cache entries when available.
	for _, qk := range failed {
		if c.cache == nil {
			continue
		}
		if vulns, _, stale := c.cache.Get(qk.key); stale {
			vulnsByKey[qk.key] = vulns
			res.StaleKeys = append(res.StaleKeys, qk.key)
		}
	}
	slices.Sort(res.StaleKeys)

	// Re-associate each record with every dependency path it affects.
	for _, qk := range keys {
		for _, record := range vulnsByKey[qk.key] {
			for _, dep := range qk.deps {
				res.Vulns = append(res.Vulns, normalize(&record, dep))
			}
		}
	}
	inventory.SortVulns(res.Vulns)

	return res, nil
}

// hydrate fetches the full record for every distinct vulnerability ID.
func (c *VulnClient) hydrate(ctx context.Context, idsByKey map[string][]string) (map[string]*osvschema.Vulnerability, []string) {
	distinct := map[string]bool{}
	for _, ids := range idsByKey {
		for _, id := range ids {
			distinct[id] = true
		}
	}

	var mu sync.Mutex
	records := map[string]*osvschema.Vulnerability{}
	var warnings []string

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)
	for id := range distinct {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			vuln, err := c.client.GetVulnByID(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("fetching %s: %v", id, err))
				return nil
			}
			records[id] = vuln
			return nil
		})
	}
	// The only error goroutines return is the context's.
	_ = g.Wait()
	slices.Sort(warnings)
	return records, warnings
}

// groupByKey deduplicates deps by (ecosystem, name, version), keeping every
// dep behind its key for later re-association. Order is stable.
func groupByKey(deps []*inventory.Dep) []queryKey {
	index := map[string]int{}
	var keys []queryKey
	for _, dep := range deps {
		k := dep.Key()
		if i, ok := index[k]; ok {
			keys[i].deps = append(keys[i].deps, dep)
			continue
		}
		index[k] = len(keys)
		keys = append(keys, queryKey{key: k, deps: []*inventory.Dep{dep}})
	}
	return keys
}

// partition groups keys by ecosystem, then chunks each group into batches of
// at most maxBatchSize.
func partition(keys []queryKey) [][]queryKey {
	byEco := map[inventory.Ecosystem][]queryKey{}
	for _, qk := range keys {
		eco := qk.deps[0].Ecosystem
		byEco[eco] = append(byEco[eco], qk)
	}

	var batches [][]queryKey
	for _, eco := range inventory.Ecosystems {
		group := byEco[eco]
		for len(group) > 0 {
			n := min(len(group), maxBatchSize)
			batches = append(batches, group[:n])
			group = group[n:]
		}
	}
	return batches
}

// normalize converts an OSV record affecting dep into the report's Vuln shape.
func normalize(record *osvschema.Vulnerability, dep *inventory.Dep) *inventory.Vuln {
	sev, score := severityOf(record)

	var cves []string
	for _, alias := range record.Aliases {
		if strings.HasPrefix(alias, "CVE-") {
			cves = append(cves, alias)
		}
	}
	slices.Sort(cves)

	return &inventory.Vuln{
		Package:        dep.Name,
		Version:        dep.Version,
		Ecosystem:      dep.Ecosystem,
		ID:             record.ID,
		Severity:       sev,
		CVSSScore:      score,
		CVEIDs:         cves,
		Summary:        record.Summary,
		Details:        record.Details,
		AdvisoryURL:    advisoryURL(record),
		FixedRange:     fixedVersion(record, dep),
		Published:      record.Published,
		Modified:       record.Modified,
		Aliases:        slices.Clone(record.Aliases),
		DependencyPath: slices.Clone(dep.Path),
		DepType:        dep.DepType(),
	}
}

// severityOf derives the report severity and CVSS score of a record. The
// record's own database_specific.severity wins; otherwise the rating is
// computed from the first parsable CVSS vector; otherwise UNKNOWN.
func severityOf(record *osvschema.Vulnerability) (inventory.Severity, float64) {
	score := -1.0
	for _, entry := range record.Severity {
		if entry.Type != osvschema.SeverityCVSSV3 {
			continue
		}
		if s, err := severity.CalculateScore(entry); err == nil {
			score = s
			break
		}
	}

	sev := inventory.SeverityUnknown
	if ds, ok := record.DatabaseSpecific["severity"].(string); ok {
		sev = inventory.ParseSeverity(ds)
	}
	if sev == inventory.SeverityUnknown {
		for _, entry := range record.Severity {
			if _, rating, err := severity.CalculateScoreAndRating(entry); err == nil {
				if s := inventory.ParseSeverity(rating); s != inventory.SeverityUnknown {
					sev = s
					break
				}
			}
		}
	}

	if score < 0 {
		score = sev.RepresentativeScore()
	}
	return sev, score
}

func advisoryURL(record *osvschema.Vulnerability) string {
	for _, ref := range record.References {
		if ref.Type == osvschema.ReferenceAdvisory {
			return ref.URL
		}
	}
	return "https://osv.dev/vulnerability/" + record.ID
}

// fixedVersion returns the fixed version of the affected range containing
// dep's version. When no range demonstrably contains it (unparsable versions,
// git ranges), the record's first fixed event is used instead.
func fixedVersion(record *osvschema.Vulnerability, dep *inventory.Dep) string {
	fallback := ""
	for _, affected := range record.Affected {
		if affected.Package.Name != "" && !strings.EqualFold(affected.Package.Name, dep.Name) {
			continue
		}
		for _, r := range affected.Ranges {
			if r.Type == osvschema.RangeGit {
				continue
			}
			introduced := ""
			for _, event := range r.Events {
				switch {
				case event.Introduced != "":
					introduced = event.Introduced
				case event.Fixed != "":
					if fallback == "" {
						fallback = event.Fixed
					}
					if inWindow(dep, introduced, event.Fixed) {
						return event.Fixed
					}
				}
			}
		}
	}
	return fallback
}

// inWindow reports whether dep's version lies in [introduced, fixed).
func inWindow(dep *inventory.Dep, introduced, fixed string) bool {
	if introduced != "" && introduced != "0" {
		if diff, err := semantic.Compare(dep.Version, introduced, dep.Ecosystem); err != nil || diff < 0 {
			return false
		}
	}
	diff, err := semantic.Compare(dep.Version, fixed, dep.Ecosystem)
	return err == nil && diff < 0
}
