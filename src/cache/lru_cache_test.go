package cache

import (
	"errors"
	"strconv"
	"testing"
	"time"
)

func BenchmarkLRUCache_Set(b *testing.B) {
	cache := NewLRUCache[string](1000, 5*time.Minute)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cache.Set(HashKey(strconv.Itoa(i)), "value")
	}
}

func BenchmarkLRUCache_ConcurrentAccess(b *testing.B) {
	cache := NewLRUCache[string](1000, 5*time.Minute)
	for i := 0; i < 100; i++ {
		cache.Set(HashKey(strconv.Itoa(i)), "value")
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			key := HashKey(strconv.Itoa(i % 100))
			if i%2 == 0 {
				cache.Get(key)
			} else {
				cache.Set(key, "value")
			}
			i++
		}
	})
}

func TestLRUCache_Basic(t *testing.T) {
	cache := NewLRUCache[int](3, time.Hour)

	cache.Set("a", 1)
	cache.Set("b", 2)
	cache.Set("c", 3)

	if val, ok := cache.Get("a"); !ok || val != 1 {
		t.Errorf("expected 1, got %v", val)
	}

	// "b" is now the least recently used entry
	cache.Set("d", 4)

	if _, ok := cache.Get("b"); ok {
		t.Error("expected 'b' to be evicted")
	}
	if cache.Len() != 3 {
		t.Errorf("expected cache length 3, got %d", cache.Len())
	}
}

func TestLRUCache_TTL(t *testing.T) {
	cache := NewLRUCache[string](10, time.Minute)
	now := time.Unix(1000, 0)
	cache.now = func() time.Time { return now }

	cache.Set("key", "value")
	if val, ok := cache.Get("key"); !ok || val != "value" {
		t.Error("expected value to be present")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := cache.Get("key"); ok {
		t.Error("expected value to be expired")
	}
}

func TestLRUCache_ZeroTTLNeverExpires(t *testing.T) {
	cache := NewLRUCache[string](2, 0)
	now := time.Unix(1000, 0)
	cache.now = func() time.Time { return now }

	cache.Set("key", "value")
	now = now.Add(24 * time.Hour)
	if _, ok := cache.Get("key"); !ok {
		t.Error("expected value without ttl to survive")
	}
}

func TestLRUCache_GetOrCompute(t *testing.T) {
	cache := NewLRUCache[string](4, 0)
	calls := 0
	compute := func() (string, error) {
		calls++
		return "computed", nil
	}

	for i := 0; i < 3; i++ {
		v, err := cache.GetOrCompute("k", compute)
		if err != nil || v != "computed" {
			t.Fatalf("unexpected result %q, %v", v, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one computation, got %d", calls)
	}

	boom := errors.New("boom")
	if _, err := cache.GetOrCompute("bad", func() (string, error) { return "", boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, ok := cache.Get("bad"); ok {
		t.Fatal("errors must not be cached")
	}
}

func TestHashKeySeparatesParts(t *testing.T) {
	if HashKey("ab", "c") == HashKey("a", "bc") {
		t.Fatal("expected distinct keys for distinct part boundaries")
	}
	if HashKey("x") != HashKey("x") {
		t.Fatal("expected stable keys")
	}
}
