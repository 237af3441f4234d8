package utils

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeySetNoDuplicates(t *testing.T) {
	s := NewKeySet()

	if !s.Add(42) {
		t.Error("first Add should return true")
	}
	if s.Add(42) {
		t.Error("second Add of same key should return false")
	}
	if !s.Contains(42) {
		t.Error("Contains(42) should be true")
	}
	if s.Size() != 1 {
		t.Errorf("size: got %d, want 1", s.Size())
	}
}

func TestKeySetConcurrency(t *testing.T) {
	s := NewKeySet()
	var added int64

	pool := NewWorkerPool(10, 0)
	for i := 0; i < 100; i++ {
		pool.Submit(func() error {
			if s.Add(7) {
				atomic.AddInt64(&added, 1)
			}
			return nil
		})
	}
	if err := pool.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if added != 1 {
		t.Errorf("expected exactly 1 successful add, got %d", added)
	}
}

func TestWorkerPoolReturnsFirstError(t *testing.T) {
	boom := errors.New("boom")
	pool := NewWorkerPool(3, 0)
	var ran int64
	for i := 0; i < 5; i++ {
		i := i
		pool.Submit(func() error {
			atomic.AddInt64(&ran, 1)
			if i == 2 {
				return boom
			}
			return nil
		})
	}

	err := pool.Wait()
	if !errors.Is(err, boom) {
		t.Errorf("Wait() = %v, want %v", err, boom)
	}
	if ran != 5 {
		t.Errorf("ran %d jobs, want 5", ran)
	}
}

func TestWorkerPoolRateLimit(t *testing.T) {
	rateLimitMs := 50
	pool := NewWorkerPool(1, rateLimitMs)

	var mu sync.Mutex
	var timestamps []time.Time

	for i := 0; i < 3; i++ {
		pool.Submit(func() error {
			mu.Lock()
			timestamps = append(timestamps, time.Now())
			mu.Unlock()
			return nil
		})
	}
	_ = pool.Wait()

	for i := 1; i < len(timestamps); i++ {
		gap := timestamps[i].Sub(timestamps[i-1])
		min := time.Duration(rateLimitMs) * time.Millisecond
		if gap < min {
			t.Errorf("gap between job %d and %d: %v < minimum %v", i-1, i, gap, min)
		}
	}
}
