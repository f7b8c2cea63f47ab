package cache

import (
	"strconv"
	"sync"
	"testing"
	"time"
)

func TestCache_NoExpiry(t *testing.T) {
	c := New[string](0)
	c.Set("a", "1")

	v, ok := c.Get("a")
	if !ok || v != "1" {
		t.Fatalf("expected a=1, got %q ok=%v", v, ok)
	}
	if c.Len() != 1 {
		t.Fatalf("expected len 1, got %d", c.Len())
	}
}

func TestCache_Expiry(t *testing.T) {
	c := New[int](10 * time.Millisecond)
	c.Set("a", 1)

	time.Sleep(25 * time.Millisecond)

	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected entry to expire")
	}
	if c.Len() != 0 {
		t.Fatalf("expected expired entry to be removed, len=%d", c.Len())
	}
}

func TestCache_SetIfAbsentConverges(t *testing.T) {
	c := New[string](0)

	var wg sync.WaitGroup
	results := make([]string, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.SetIfAbsent("task", "id-"+strconv.Itoa(i))
		}(i)
	}
	wg.Wait()

	first := results[0]
	for i, r := range results {
		if r != first {
			t.Fatalf("result %d = %q, want %q", i, r, first)
		}
	}
}

func TestCache_DeleteAndClear(t *testing.T) {
	c := New[int](0)
	c.Set("a", 1)
	c.Set("b", 2)

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected a deleted")
	}

	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("expected empty cache")
	}
}
