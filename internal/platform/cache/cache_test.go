package cache

import (
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid-redis", "redis://localhost:6379", false},
		{"valid-with-db", "redis://localhost:6379/2", false},
		{"wrong-scheme", "http://localhost:6379", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseURL() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_UnreachableHost(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping unreachable host test in short mode")
	}

	ctx := t.Context()
	_, err := New(ctx, "redis://localhost:59999")
	if err == nil {
		t.Fatal("New() should return error for unreachable host")
	}
}

func TestNewPercentages_DefaultTTL(t *testing.T) {
	p := NewPercentages(redis.NewClient(&redis.Options{Addr: "localhost:59999"}), 0)
	if p.ttl != DefaultTTL {
		t.Errorf("ttl = %v, want %v", p.ttl, DefaultTTL)
	}
	if err := p.Invalidate(t.Context()); err != nil {
		t.Errorf("Invalidate() with no keys error = %v, want nil", err)
	}
}

func TestPercentages_UnreachableHost(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping unreachable host test in short mode")
	}

	client := redis.NewClient(&redis.Options{Addr: "localhost:59999", DialTimeout: 200 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	p := NewPercentages(client, time.Minute)

	if _, _, err := p.Get(t.Context(), "k"); err == nil {
		t.Error("Get() should fail for unreachable host")
	}
	if err := p.Set(t.Context(), "k", 50); err == nil {
		t.Error("Set() should fail for unreachable host")
	}
}

// TestPercentages_RoundTrip runs against LEARN_TEST_CACHE_URL when set.
func TestPercentages_RoundTrip(t *testing.T) {
	url := os.Getenv("LEARN_TEST_CACHE_URL")
	if url == "" {
		t.Skip("LEARN_TEST_CACHE_URL not set")
	}

	c, err := New(t.Context(), url)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()
	p := c.Percentages(time.Minute)
	key := "progress:test:" + time.Now().Format(time.RFC3339Nano)

	if _, ok, err := p.Get(t.Context(), key); err != nil || ok {
		t.Fatalf("Get() before Set = %v, %v; want miss", ok, err)
	}
	if err := p.Set(t.Context(), key, 66.67); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	v, ok, err := p.Get(t.Context(), key)
	if err != nil || !ok || v != 66.67 {
		t.Errorf("Get() = %v, %v, %v; want 66.67", v, ok, err)
	}
	if err := p.Invalidate(t.Context(), key); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if _, ok, _ := p.Get(t.Context(), key); ok {
		t.Error("Get() after Invalidate should miss")
	}
}
