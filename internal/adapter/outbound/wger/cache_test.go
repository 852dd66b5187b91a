package wger

import (
	"bytes"
	"testing"
	"time"
)

func TestResponseCache_PutGet(t *testing.T) {
	t.Parallel()

	c := newResponseCache(4, time.Minute)
	key := cacheKey("/api/v2/equipment/", "")

	c.Put(key, []byte(`{"count":1}`))

	got, ok := c.Get(key)
	if !ok {
		t.Fatal("Get() miss, want hit")
	}
	if !bytes.Equal(got, []byte(`{"count":1}`)) {
		t.Errorf("Get() = %q, want %q", got, `{"count":1}`)
	}

	// Mutating the returned slice must not corrupt the cached copy.
	got[0] = 'X'
	again, _ := c.Get(key)
	if !bytes.Equal(again, []byte(`{"count":1}`)) {
		t.Errorf("cached body mutated through returned slice: %q", again)
	}
}

func TestResponseCache_Miss(t *testing.T) {
	t.Parallel()

	c := newResponseCache(4, time.Minute)
	if _, ok := c.Get(cacheKey("/nope", "")); ok {
		t.Error("Get() on empty cache = hit, want miss")
	}
}

func TestResponseCache_TTLExpiry(t *testing.T) {
	t.Parallel()

	c := newResponseCache(4, 20*time.Millisecond)
	key := cacheKey("/api/v2/workout/", "")
	c.Put(key, []byte("body"))

	if _, ok := c.Get(key); !ok {
		t.Fatal("fresh entry should hit")
	}

	time.Sleep(40 * time.Millisecond)

	if _, ok := c.Get(key); ok {
		t.Error("expired entry should miss")
	}
	if got := c.Size(); got != 0 {
		t.Errorf("Size() after expired lookup = %d, want 0", got)
	}
}

func TestResponseCache_LRUEviction(t *testing.T) {
	t.Parallel()

	c := newResponseCache(2, time.Minute)
	k1 := cacheKey("/one", "")
	k2 := cacheKey("/two", "")
	k3 := cacheKey("/three", "")

	c.Put(k1, []byte("1"))
	c.Put(k2, []byte("2"))

	// Touch k1 so k2 becomes least recently used.
	if _, ok := c.Get(k1); !ok {
		t.Fatal("k1 should hit")
	}

	c.Put(k3, []byte("3"))

	if _, ok := c.Get(k2); ok {
		t.Error("k2 should have been evicted as LRU")
	}
	if _, ok := c.Get(k1); !ok {
		t.Error("k1 should survive eviction")
	}
	if _, ok := c.Get(k3); !ok {
		t.Error("k3 should be present")
	}
}

func TestResponseCache_Clear(t *testing.T) {
	t.Parallel()

	c := newResponseCache(4, time.Minute)
	c.Put(cacheKey("/a", ""), []byte("a"))
	c.Put(cacheKey("/b", ""), []byte("b"))

	c.Clear()

	if got := c.Size(); got != 0 {
		t.Errorf("Size() after Clear = %d, want 0", got)
	}
	if _, ok := c.Get(cacheKey("/a", "")); ok {
		t.Error("Get() after Clear = hit, want miss")
	}
}

func TestCacheKey_SeparatesPathAndQuery(t *testing.T) {
	t.Parallel()

	// Without a separator these two would hash the same bytes.
	if cacheKey("a", "bc") == cacheKey("ab", "c") {
		t.Error("cacheKey(a, bc) == cacheKey(ab, c), want distinct")
	}
	if cacheKey("/p", "x=1") != cacheKey("/p", "x=1") {
		t.Error("identical inputs should produce identical keys")
	}
}
