package server

import (
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestTokenGuard_BasicBlocking(t *testing.T) {
	g := NewTokenGuard(5, 15*time.Minute)
	defer g.Stop()

	client := "203.0.113.7"

	for i := 0; i < 4; i++ {
		if g.IsBlocked(client) {
			t.Errorf("Should not be blocked after %d failures", i)
		}
		g.RecordFailure(client)
	}

	if g.IsBlocked(client) {
		t.Error("Should not be blocked after 4 failures")
	}

	g.RecordFailure(client)

	if !g.IsBlocked(client) {
		t.Error("Should be blocked after 5 failures")
	}
}

func TestTokenGuard_MultipleClients(t *testing.T) {
	g := NewTokenGuard(5, 15*time.Minute)
	defer g.Stop()

	for i := 0; i < 5; i++ {
		g.RecordFailure("198.51.100.1")
	}
	for i := 0; i < 3; i++ {
		g.RecordFailure("198.51.100.2")
	}

	if !g.IsBlocked("198.51.100.1") {
		t.Error("first client should be blocked")
	}
	if g.IsBlocked("198.51.100.2") {
		t.Error("second client should not be blocked")
	}
}

func TestTokenGuard_WindowExpiration(t *testing.T) {
	g := NewTokenGuard(3, 300*time.Millisecond)
	defer g.Stop()

	client := "192.0.2.10"
	for i := 0; i < 3; i++ {
		g.RecordFailure(client)
	}
	if !g.IsBlocked(client) {
		t.Fatal("Should be blocked after 3 failures")
	}

	time.Sleep(400 * time.Millisecond)

	if g.IsBlocked(client) {
		t.Error("Should not be blocked after window expiration")
	}

	g.RecordFailure(client)
	if g.IsBlocked(client) {
		t.Error("Should not be blocked after 1 failure post-expiration")
	}
}

func TestTokenGuard_Clear(t *testing.T) {
	g := NewTokenGuard(2, 15*time.Minute)
	defer g.Stop()

	g.RecordFailure("a")
	g.RecordFailure("a")
	g.Clear("a")

	if g.IsBlocked("a") {
		t.Error("Should not be blocked after Clear")
	}
}

func TestTokenGuard_DisabledThreshold(t *testing.T) {
	g := NewTokenGuard(0, time.Minute)
	defer g.Stop()

	for i := 0; i < 100; i++ {
		g.RecordFailure("a")
	}
	if g.IsBlocked("a") {
		t.Error("a zero threshold never blocks")
	}
}

func TestTokenGuard_ConcurrentAccess(t *testing.T) {
	g := NewTokenGuard(50, time.Minute)
	defer g.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				g.RecordFailure("shared")
			}
		}()
	}
	wg.Wait()

	g.mu.RLock()
	record := g.failures["shared"]
	g.mu.RUnlock()
	if record == nil {
		t.Fatal("record should exist")
	}

	record.mu.Lock()
	count := record.count
	record.mu.Unlock()

	if count != 50 {
		t.Errorf("expected 50 failures, got %d", count)
	}
	if !g.IsBlocked("shared") {
		t.Error("should be blocked after 50 failures")
	}
}

func TestTokenGuard_StopIsIdempotent(t *testing.T) {
	g := NewTokenGuard(5, time.Second)
	g.Stop()
	g.Stop()

	select {
	case <-g.stopCh:
	default:
		t.Error("stop channel should be closed")
	}
}

func TestTokenGuard_CleanupLoop(t *testing.T) {
	g := NewTokenGuard(5, 100*time.Millisecond)
	defer g.Stop()

	g.RecordFailure("a")
	g.RecordFailure("b")

	time.Sleep(700 * time.Millisecond)

	g.mu.RLock()
	remaining := len(g.failures)
	g.mu.RUnlock()

	if remaining != 0 {
		t.Errorf("expected 0 records after cleanup, got %d", remaining)
	}
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.1.2.3:54321"
	req.Header.Set("X-Forwarded-For", "1.1.1.1")

	if got := clientKey(req); got != "10.1.2.3" {
		t.Errorf("clientKey = %q, want 10.1.2.3", got)
	}

	req.RemoteAddr = "pipe"
	if got := clientKey(req); got != "pipe" {
		t.Errorf("clientKey = %q, want pipe", got)
	}
}
