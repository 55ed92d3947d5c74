package rate

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPerSource_Allow(t *testing.T) {
	limiter := New(10.0, 5) // 10 per second, burst of 5

	// Test burst allowance
	for i := 0; i < 5; i++ {
		if !limiter.Allow("source1") {
			t.Errorf("expected Allow to return true for burst request %d", i+1)
		}
	}

	// Next request should be rate limited
	if limiter.Allow("source1") {
		t.Error("expected Allow to return false after burst exhausted")
	}

	// Different source should have its own limit
	if !limiter.Allow("source2") {
		t.Error("expected Allow to return true for different source")
	}
}

func TestPerSource_Wait(t *testing.T) {
	limiter := New(100.0, 1) // 100 per second, burst of 1

	ctx := context.Background()
	start := time.Now()
	limiter.Wait(ctx, "source1")
	limiter.Wait(ctx, "source1")
	duration := time.Since(start)

	// Second wait should have delayed approximately 10ms (1/100 second)
	if duration < 5*time.Millisecond {
		t.Errorf("expected Wait to delay, got %v", duration)
	}
}

func TestPerSource_WaitHonorsContext(t *testing.T) {
	limiter := New(0.1, 1) // one request per 10s after the burst

	ctx := context.Background()
	if err := limiter.Wait(ctx, "slow"); err != nil {
		t.Fatalf("burst request should pass: %v", err)
	}

	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := limiter.Wait(cctx, "slow"); err == nil {
		t.Error("expected context deadline to abort the wait")
	}
}

func TestPerSource_SetLimit(t *testing.T) {
	limiter := New(10.0, 5)
	limiter.SetLimit("strict", 1.0, 1)

	if !limiter.Allow("strict") {
		t.Error("expected the single burst token")
	}
	if limiter.Allow("strict") {
		t.Error("expected the per-source override to apply")
	}
	// The default still holds for other sources.
	if !limiter.Allow("default") {
		t.Error("expected default burst for unconfigured source")
	}
}

func TestPerSource_Concurrent(t *testing.T) {
	limiter := New(1000.0, 10)
	var wg sync.WaitGroup
	allowed := 0
	var mu sync.Mutex

	// Test concurrent access for same source
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Allow("concurrent-source") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	// Should allow around burst size initially
	if allowed == 0 {
		t.Error("expected some requests to be allowed")
	}
	if allowed > 15 { // Some tolerance for timing
		t.Errorf("expected rate limiting to apply, but %d requests were allowed", allowed)
	}
}

func TestPerSource_MultipleSources(t *testing.T) {
	limiter := New(10.0, 2)
	sources := []string{"source1", "source2", "source3"}

	// Each source should get its own burst allowance
	for _, source := range sources {
		allowed := 0
		for i := 0; i < 5; i++ {
			if limiter.Allow(source) {
				allowed++
			}
		}
		if allowed != 2 {
			t.Errorf("expected 2 requests allowed for %s, got %d", source, allowed)
		}
	}
}

func BenchmarkPerSource_Allow(b *testing.B) {
	limiter := New(1000000.0, 1000000) // High limits to avoid blocking

	b.Run("SingleSource", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			limiter.Allow("benchmark-source")
		}
	})

	b.Run("MultipleSources", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			limiter.Allow(string(rune(i % 100)))
		}
	})
}
