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

// Package vulncache is a durable TTL cache of normalized vulnerability
// records, keyed by (ecosystem, package name, version). It backs onto a bbolt
// file so repeated scans of the same dependency set skip the network.
package vulncache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ossf/osv-schema/bindings/go/osvschema"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/multierr"

	"github.com/google/depscan/log"
)

// DefaultTTL is how long a cached entry counts as fresh.
const DefaultTTL = 24 * time.Hour

var vulnsBucket = []byte("vulns")

// Entry is one cached lookup result.
type Entry struct {
	Vulns      []osvschema.Vulnerability `json:"vulns"`
	FetchedAt  time.Time                 `json:"fetched_at"`
	TTLSeconds int64                     `json:"ttl_seconds"`
}

func (e Entry) expiresAt() time.Time {
	return e.FetchedAt.Add(time.Duration(e.TTLSeconds) * time.Second)
}

// Stats summarizes the cache contents.
type Stats struct {
	Entries   int   `json:"entries"`
	SizeBytes int64 `json:"size_bytes"`
}

// Cache is a bbolt-backed TTL cache. It is safe for concurrent use; bbolt
// serializes writers and allows many readers.
type Cache struct {
	db  *bolt.DB
	ttl time.Duration
	now func() time.Time
}

// Open opens or creates the cache file at path. A ttl of 0 uses DefaultTTL.
func Open(path string, ttl time.Duration) (*Cache, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening vulnerability cache %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(vulnsBucket)
		return err
	})
	if err != nil {
		return nil, multierr.Append(err, db.Close())
	}
	return &Cache{db: db, ttl: ttl, now: time.Now}, nil
}

// Close releases the underlying database file.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get looks up the entry for key. fresh is true when the entry is within its
// TTL; stale is true when an expired entry exists. A stale entry is still
// returned so callers can fall back to it if the upstream is unavailable.
func (c *Cache) Get(key string) (vulns []osvschema.Vulnerability, fresh, stale bool) {
	var entry Entry
	found := false
	err := c.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(vulnsBucket).Get([]byte(key))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &entry); err != nil {
			// A torn or legacy value counts as a miss.
			return nil
		}
		found = true
		return nil
	})
	if err != nil || !found {
		return nil, false, false
	}
	if c.now().Before(entry.expiresAt()) {
		return entry.Vulns, true, false
	}
	return entry.Vulns, false, true
}

// Put stores the vulnerabilities for key with the cache's TTL. Put is
// idempotent; a repeat Put refreshes the fetch time.
func (c *Cache) Put(key string, vulns []osvschema.Vulnerability) error {
	entry := Entry{
		Vulns:      vulns,
		FetchedAt:  c.now(),
		TTLSeconds: int64(c.ttl / time.Second),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(vulnsBucket).Put([]byte(key), raw)
	})
}

// CleanupExpired removes every entry past its TTL and returns how many were
// removed.
func (c *Cache) CleanupExpired() (int, error) {
	removed := 0
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(vulnsBucket)
		cur := b.Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err == nil && c.now().Before(entry.expiresAt()) {
				continue
			}
			if err := cur.Delete(); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if removed > 0 {
		log.Debugf("vulncache: removed %d expired entries", removed)
	}
	return removed, err
}

// Clear removes every entry.
func (c *Cache) Clear() error {
	return c.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(vulnsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(vulnsBucket)
		return err
	})
}

// Stats reports the number of entries and their stored size.
func (c *Cache) Stats() (Stats, error) {
	var s Stats
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(vulnsBucket)
		return b.ForEach(func(k, v []byte) error {
			s.Entries++
			s.SizeBytes += int64(len(k) + len(v))
			return nil
		})
	})
	return s, err
}
