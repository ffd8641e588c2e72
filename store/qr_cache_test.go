package store

import (
	"bytes"
	"testing"
	"time"
)

func TestQRCacheExpiry(t *testing.T) {
	c := NewQRCache()
	base := time.Unix(1700000000, 0)
	ttl := 60 * time.Second
	eps := time.Millisecond

	if _, ok := c.Get(base, ttl); ok {
		t.Fatal("empty cache reported a hit")
	}

	c.Put([]byte("png"), base)

	img, ok := c.Get(base.Add(ttl-eps), ttl)
	if !ok || !bytes.Equal(img, []byte("png")) {
		t.Fatalf("expected hit just before expiry, got ok=%v", ok)
	}
	if _, ok := c.Get(base.Add(ttl), ttl); ok {
		t.Fatal("expected miss at exactly cache_duration")
	}
	if _, ok := c.Get(base.Add(ttl+eps), ttl); ok {
		t.Fatal("expected miss after expiry")
	}
}

func TestQRCacheZeroTTLNeverHits(t *testing.T) {
	c := NewQRCache()
	now := time.Now()
	c.Put([]byte("png"), now)
	if _, ok := c.Get(now, 0); ok {
		t.Fatal("zero ttl should never hit")
	}
}

func TestQRCacheAgeAndClear(t *testing.T) {
	c := NewQRCache()
	base := time.Unix(1700000000, 0)
	if _, ok := c.Age(base); ok {
		t.Fatal("empty cache has an age")
	}
	c.Put([]byte("png"), base)
	age, ok := c.Age(base.Add(3 * time.Second))
	if !ok || age != 3*time.Second {
		t.Fatalf("age = %v ok=%v", age, ok)
	}
	c.Clear()
	if _, ok := c.Get(base, time.Hour); ok {
		t.Fatal("cleared cache still hits")
	}
}
