package server

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// TokenGuard tracks rejected signed URL tokens per client and blocks a client
// temporarily once it crosses the threshold within the window.
type TokenGuard struct {
	mu        sync.RWMutex
	failures  map[string]*failureRecord
	threshold int
	window    time.Duration
	cleanup   *time.Ticker
	wg        sync.WaitGroup
	stopCh    chan struct{}
	stopOnce  sync.Once
}

type failureRecord struct {
	count        int
	firstFailure time.Time
	mu           sync.Mutex
}

// NewTokenGuard creates a guard. A non-positive threshold disables blocking.
func NewTokenGuard(threshold int, window time.Duration) *TokenGuard {
	if window <= 0 {
		window = time.Minute
	}

	g := &TokenGuard{
		failures:  make(map[string]*failureRecord),
		threshold: threshold,
		window:    window,
		cleanup:   time.NewTicker(window * 2),
		stopCh:    make(chan struct{}),
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.cleanupLoop()
	}()

	return g
}

// RecordFailure counts one rejected token for client.
func (g *TokenGuard) RecordFailure(client string) {
	g.mu.RLock()
	record, exists := g.failures[client]
	g.mu.RUnlock()

	if !exists {
		g.mu.Lock()
		// Double-check after acquiring write lock
		record, exists = g.failures[client]
		if !exists {
			record = &failureRecord{firstFailure: time.Now()}
			g.failures[client] = record
		}
		g.mu.Unlock()
	}

	record.mu.Lock()
	defer record.mu.Unlock()

	now := time.Now()
	if now.Sub(record.firstFailure) >= g.window {
		record.count = 1
		record.firstFailure = now
	} else {
		record.count++
	}
}

// IsBlocked reports whether client has too many recent failures.
func (g *TokenGuard) IsBlocked(client string) bool {
	if g.threshold <= 0 {
		return false
	}

	g.mu.RLock()
	record, exists := g.failures[client]
	g.mu.RUnlock()

	if !exists {
		return false
	}

	record.mu.Lock()
	defer record.mu.Unlock()

	if time.Since(record.firstFailure) >= g.window {
		return false
	}
	return record.count >= g.threshold
}

// Clear forgets the failures of client.
func (g *TokenGuard) Clear(client string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.failures, client)
}

func (g *TokenGuard) cleanupLoop() {
	for {
		select {
		case <-g.cleanup.C:
			g.mu.Lock()
			now := time.Now()
			for client, record := range g.failures {
				record.mu.Lock()
				if now.Sub(record.firstFailure) > g.window*2 {
					delete(g.failures, client)
				}
				record.mu.Unlock()
			}
			g.mu.Unlock()
		case <-g.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (g *TokenGuard) Stop() {
	g.stopOnce.Do(func() {
		close(g.stopCh)
		g.cleanup.Stop()
		g.wg.Wait()
	})
}

// clientKey identifies the caller by remote IP. Forwarding headers are
// ignored; they are client controlled.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
