// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

package cache

import (
	"fmt"
	"strings"
	"sync"
	"testing"
)

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []string
	c := NewLRU[int](2, func(key string, _ int) { evicted = append(evicted, key) })

	c.Add("a", 1)
	c.Add("b", 2)
	if _, ok := c.Get("a"); !ok {
		t.Fatal("Get(a) missing")
	}
	c.Add("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
	if strings.Join(evicted, ",") != "b" {
		t.Errorf("evicted = %v, want [b]", evicted)
	}
	if got := strings.Join(c.Keys(), ","); got != "c,a" {
		t.Errorf("Keys() = %q, want c,a", got)
	}
}

func TestLRU_UnboundedNeverEvicts(t *testing.T) {
	c := NewLRU[int](0, nil)
	for i := 0; i < 1000; i++ {
		c.Add(fmt.Sprintf("k%d", i), i)
	}
	if c.Len() != 1000 {
		t.Errorf("Len() = %d, want 1000", c.Len())
	}
	if _, _, ev := c.Stats(); ev != 0 {
		t.Errorf("evictions = %d, want 0", ev)
	}
}

func TestLRU_GetOrCreate(t *testing.T) {
	c := NewLRU[*int](10, nil)
	calls := 0
	create := func() *int { calls++; v := calls; return &v }

	v1, created := c.GetOrCreate("dev", create)
	if !created {
		t.Error("first GetOrCreate should create")
	}
	v2, created := c.GetOrCreate("dev", create)
	if created {
		t.Error("second GetOrCreate should not create")
	}
	if v1 != v2 {
		t.Error("GetOrCreate returned a different value for the same key")
	}
	if calls != 1 {
		t.Errorf("create called %d times, want 1", calls)
	}
}

func TestLRU_ConcurrentGetOrCreate(t *testing.T) {
	c := NewLRU[*sync.Mutex](0, nil)
	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := c.GetOrCreate("same", func() *sync.Mutex { return &sync.Mutex{} }); ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if created != 1 {
		t.Errorf("created = %d, want 1", created)
	}
}

func TestLRU_Remove(t *testing.T) {
	c := NewLRU[string](3, nil)
	c.Add("x", "1")
	if !c.Remove("x") {
		t.Error("Remove(x) = false, want true")
	}
	if c.Remove("x") {
		t.Error("second Remove(x) = true, want false")
	}
}

func TestLRU_AcquirePinsAgainstEviction(t *testing.T) {
	var evicted []string
	c := NewLRU[int](1, func(key string, _ int) { evicted = append(evicted, key) })

	v, created, releaseA := c.Acquire("a", func() int { return 1 })
	if v != 1 || !created {
		t.Fatalf("Acquire(a) = %d, %v, want 1, true", v, created)
	}

	c.Add("b", 2)
	if _, ok := c.Get("a"); !ok {
		t.Fatal("pinned entry a was evicted")
	}
	if strings.Join(evicted, ",") != "b" {
		t.Errorf("evicted = %v, want [b]", evicted)
	}

	_, created, releaseA2 := c.Acquire("a", func() int { return 99 })
	if created {
		t.Error("second Acquire(a) created a new entry")
	}
	releaseA()
	releaseA() // second call is a no-op

	c.Add("c", 3)
	if _, ok := c.Get("a"); !ok {
		t.Fatal("a evicted while still held once")
	}

	releaseA2()
	c.Add("d", 4)
	if _, ok := c.Get("a"); ok {
		t.Error("a should be evicted once unpinned")
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}
