package utils

import (
	"sync"
	"time"
)

// WorkerPool runs jobs on a bounded number of goroutines with an optional
// minimum interval between job starts.
type WorkerPool struct {
	maxWorkers  int
	rateLimitMs int
	semaphore   chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	lastRequest time.Time

	errOnce  sync.Once
	firstErr error
}

// NewWorkerPool creates a WorkerPool with the given concurrency and rate limit.
func NewWorkerPool(maxWorkers, rateLimitMs int) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &WorkerPool{
		maxWorkers:  maxWorkers,
		rateLimitMs: rateLimitMs,
		semaphore:   make(chan struct{}, maxWorkers),
	}
}

// Submit enqueues a job. Submit blocks while all workers are busy. A non-nil
// error returned by job is kept if it is the first one seen by the pool.
func (wp *WorkerPool) Submit(job func() error) {
	wp.wg.Add(1)
	wp.semaphore <- struct{}{}

	go func() {
		defer wp.wg.Done()
		defer func() { <-wp.semaphore }()

		wp.enforceRateLimit()
		if err := job(); err != nil {
			wp.errOnce.Do(func() { wp.firstErr = err })
		}
	}()
}

// Wait blocks until all submitted jobs have completed and returns the first
// job error, if any.
func (wp *WorkerPool) Wait() error {
	wp.wg.Wait()
	return wp.firstErr
}

func (wp *WorkerPool) enforceRateLimit() {
	if wp.rateLimitMs <= 0 {
		return
	}
	wp.mu.Lock()
	defer wp.mu.Unlock()

	minInterval := time.Duration(wp.rateLimitMs) * time.Millisecond
	elapsed := time.Since(wp.lastRequest)
	if elapsed < minInterval {
		time.Sleep(minInterval - elapsed)
	}
	wp.lastRequest = time.Now()
}

// KeySet is a thread-safe set of 64-bit row keys. The cleaner uses it to
// recognise duplicate rows across chunks.
type KeySet struct {
	mu   sync.RWMutex
	seen map[uint64]struct{}
}

// NewKeySet creates an empty KeySet.
func NewKeySet() *KeySet {
	return &KeySet{seen: make(map[uint64]struct{})}
}

// Add returns true if the key was newly added, false if already present.
func (s *KeySet) Add(key uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[key]; exists {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

// Contains reports whether key has been added.
func (s *KeySet) Contains(key uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.seen[key]
	return exists
}

// Size returns the number of unique keys tracked.
func (s *KeySet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}
