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

package vulncache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ossf/osv-schema/bindings/go/osvschema"
)

func openTestCache(t *testing.T, ttl time.Duration) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "vulns.db"), ttl)
	if err != nil {
		t.Fatalf("Open() returned error: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestPutGet(t *testing.T) {
	c := openTestCache(t, time.Hour)

	vulns := []osvschema.Vulnerability{{ID: "GHSA-test-1234"}}
	if err := c.Put("npm|lodash|4.17.20", vulns); err != nil {
		t.Fatalf("Put() returned error: %v", err)
	}

	got, fresh, stale := c.Get("npm|lodash|4.17.20")
	if !fresh || stale {
		t.Errorf("Get() = (fresh=%v, stale=%v), want (true, false)", fresh, stale)
	}
	if len(got) != 1 || got[0].ID != "GHSA-test-1234" {
		t.Errorf("Get() vulns = %+v, want the stored record", got)
	}
}

func TestGet_Miss(t *testing.T) {
	c := openTestCache(t, time.Hour)
	if got, fresh, stale := c.Get("npm|missing|1.0.0"); got != nil || fresh || stale {
		t.Errorf("Get(missing) = (%v, %v, %v), want (nil, false, false)", got, fresh, stale)
	}
}

func TestGet_EmptyResultIsCached(t *testing.T) {
	c := openTestCache(t, time.Hour)
	// No known vulnerabilities is a valid, cacheable answer.
	if err := c.Put("PyPI|requests|2.28.1", nil); err != nil {
		t.Fatalf("Put() returned error: %v", err)
	}
	if _, fresh, _ := c.Get("PyPI|requests|2.28.1"); !fresh {
		t.Errorf("Get() fresh = false, want true for cached empty result")
	}
}

func TestGet_Expired(t *testing.T) {
	c := openTestCache(t, time.Hour)
	if err := c.Put("npm|lodash|4.17.20", []osvschema.Vulnerability{{ID: "GHSA-test-1234"}}); err != nil {
		t.Fatalf("Put() returned error: %v", err)
	}

	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	got, fresh, stale := c.Get("npm|lodash|4.17.20")
	if fresh || !stale {
		t.Errorf("Get() = (fresh=%v, stale=%v), want (false, true) past TTL", fresh, stale)
	}
	if len(got) != 1 {
		t.Errorf("Get() vulns = %+v, want the stale record still returned", got)
	}
}

func TestCleanupExpired(t *testing.T) {
	c := openTestCache(t, time.Hour)
	if err := c.Put("expired", nil); err != nil {
		t.Fatalf("Put() returned error: %v", err)
	}
	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if err := c.Put("kept", nil); err != nil {
		t.Fatalf("Put() returned error: %v", err)
	}

	removed, err := c.CleanupExpired()
	if err != nil {
		t.Fatalf("CleanupExpired() returned error: %v", err)
	}
	if removed != 1 {
		t.Errorf("CleanupExpired() removed %d entries, want 1", removed)
	}
	if _, _, stale := c.Get("expired"); stale {
		t.Errorf("Get(expired) still present after cleanup")
	}
	if _, fresh, _ := c.Get("kept"); !fresh {
		t.Errorf("Get(kept) fresh = false, want true")
	}
}

func TestClear(t *testing.T) {
	c := openTestCache(t, time.Hour)
	if err := c.Put("a", nil); err != nil {
		t.Fatalf("Put() returned error: %v", err)
	}
	if err := c.Clear(); err != nil {
		t.Fatalf("Clear() returned error: %v", err)
	}
	s, err := c.Stats()
	if err != nil {
		t.Fatalf("Stats() returned error: %v", err)
	}
	if s.Entries != 0 {
		t.Errorf("Stats() entries = %d after Clear, want 0", s.Entries)
	}
}

func TestStats(t *testing.T) {
	c := openTestCache(t, time.Hour)
	for _, key := range []string{"a", "b", "c"} {
		if err := c.Put(key, nil); err != nil {
			t.Fatalf("Put(%s) returned error: %v", key, err)
		}
	}
	s, err := c.Stats()
	if err != nil {
		t.Fatalf("Stats() returned error: %v", err)
	}
	if s.Entries != 3 {
		t.Errorf("Stats() entries = %d, want 3", s.Entries)
	}
	if s.SizeBytes <= 0 {
		t.Errorf("Stats() size = %d, want > 0", s.SizeBytes)
	}
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vulns.db")
	c, err := Open(path, time.Hour)
	if err != nil {
		t.Fatalf("Open() returned error: %v", err)
	}
	if err := c.Put("persisted", []osvschema.Vulnerability{{ID: "OSV-1"}}); err != nil {
		t.Fatalf("Put() returned error: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() returned error: %v", err)
	}

	c2, err := Open(path, time.Hour)
	if err != nil {
		t.Fatalf("Open() after close returned error: %v", err)
	}
	defer c2.Close()
	if got, fresh, _ := c2.Get("persisted"); !fresh || len(got) != 1 {
		t.Errorf("Get() after reopen = (%+v, fresh=%v), want the persisted entry", got, fresh)
	}
}
