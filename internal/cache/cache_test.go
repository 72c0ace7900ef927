package cache

import (
	"context"
	"testing"
	"time"

	"github.com/learnersafe/heron/internal/domain"
)

func TestLRUCacheBasicOperations(t *testing.T) {
	c := NewLRUCache(100)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, "key1", []byte("value1"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := c.Get(ctx, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "value1" {
			t.Errorf("expected value1, got %s", val)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		val, err := c.Get(ctx, "no-such-key")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for missing key, got %s", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		c.Set(ctx, "key2", []byte("value2"), time.Minute)
		if err := c.Delete(ctx, "key2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := c.Get(ctx, "key2")
		if val != nil {
			t.Error("deleted key should be gone")
		}
	})

	t.Run("TTLExpiry", func(t *testing.T) {
		c.Set(ctx, "key3", []byte("value3"), 10*time.Millisecond)
		time.Sleep(20 * time.Millisecond)

		val, _ := c.Get(ctx, "key3")
		if val != nil {
			t.Error("expired key should be gone")
		}
	})
}

func TestLRUCacheEviction(t *testing.T) {
	c := NewLRUCache(3)
	ctx := context.Background()

	c.Set(ctx, "a", []byte("1"), time.Minute)
	c.Set(ctx, "b", []byte("2"), time.Minute)
	c.Set(ctx, "c", []byte("3"), time.Minute)

	// Touch "a" so "b" becomes the oldest.
	c.Get(ctx, "a")
	c.Set(ctx, "d", []byte("4"), time.Minute)

	if val, _ := c.Get(ctx, "b"); val != nil {
		t.Error("least recently used entry should be evicted")
	}
	if val, _ := c.Get(ctx, "a"); val == nil {
		t.Error("recently used entry should survive eviction")
	}

	size, capacity := c.Stats()
	if size > capacity {
		t.Errorf("size %d exceeds capacity %d", size, capacity)
	}
}

func TestLRUCacheSetNX(t *testing.T) {
	c := NewLRUCache(100)
	ctx := context.Background()

	t.Run("AcquiresWhenAbsent", func(t *testing.T) {
		ok, err := c.SetNX(ctx, "lease", []byte("holder-1"), time.Minute)
		if err != nil {
			t.Fatalf("SetNX failed: %v", err)
		}
		if !ok {
			t.Error("first SetNX should succeed")
		}
	})

	t.Run("RejectsWhenHeld", func(t *testing.T) {
		ok, err := c.SetNX(ctx, "lease", []byte("holder-2"), time.Minute)
		if err != nil {
			t.Fatalf("SetNX failed: %v", err)
		}
		if ok {
			t.Error("SetNX on a held key should fail")
		}

		// The original holder is untouched.
		val, _ := c.Get(ctx, "lease")
		if string(val) != "holder-1" {
			t.Errorf("lease overwritten: %s", val)
		}
	})

	t.Run("AcquiresAfterExpiry", func(t *testing.T) {
		c.SetNX(ctx, "short-lease", []byte("holder-1"), 10*time.Millisecond)
		time.Sleep(20 * time.Millisecond)

		ok, err := c.SetNX(ctx, "short-lease", []byte("holder-2"), time.Minute)
		if err != nil {
			t.Fatalf("SetNX failed: %v", err)
		}
		if !ok {
			t.Error("SetNX should succeed once the previous lease expired")
		}
	})

	t.Run("ReleaseViaDelete", func(t *testing.T) {
		c.SetNX(ctx, "rel-lease", []byte("holder-1"), time.Minute)
		c.Delete(ctx, "rel-lease")

		ok, _ := c.SetNX(ctx, "rel-lease", []byte("holder-2"), time.Minute)
		if !ok {
			t.Error("SetNX should succeed after the lease was released")
		}
	})
}

func TestLRUCacheVerificationRoundTrip(t *testing.T) {
	c := NewLRUCache(100)
	ctx := context.Background()

	result := &domain.VerificationResult{
		Verified:   true,
		Confidence: 0.92,
		Provider:   "home-affairs",
	}

	if err := c.SetVerification(ctx, "9001015009087", result, time.Hour); err != nil {
		t.Fatalf("SetVerification failed: %v", err)
	}

	cached, err := c.GetVerification(ctx, "9001015009087")
	if err != nil {
		t.Fatalf("GetVerification failed: %v", err)
	}
	if cached == nil {
		t.Fatal("expected cached result")
	}
	if !cached.Verified || cached.Confidence != 0.92 || cached.Provider != "home-affairs" {
		t.Errorf("verification result not round-tripped: %+v", cached)
	}

	missing, err := c.GetVerification(ctx, "no-such-identity")
	if err != nil {
		t.Fatalf("GetVerification failed: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for uncached identity")
	}
}

func TestCacheFactory(t *testing.T) {
	c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 10})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}

	if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
		t.Error("expected error for unsupported cache type")
	}
}
