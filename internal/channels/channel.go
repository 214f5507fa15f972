// Package channels connects chat platforms to the message bus.
package channels

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/councilbot/councilbot/internal/bus"
)

// Channel defines the interface for chat platforms.
type Channel interface {
	// Name returns the channel name (e.g. "slack").
	Name() string
	// Start runs the channel listener until ctx is cancelled.
	Start(ctx context.Context) error
}

// BaseChannel provides common functionality for channels.
type BaseChannel struct {
	Bus *bus.MessageBus
}

// seenCache remembers inbound event keys for a TTL so redelivered events
// are handled once.
type seenCache struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
}

func newSeenCache(ttl time.Duration) *seenCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &seenCache{ttl: ttl, seen: map[string]time.Time{}}
}

// check records key and reports whether it was already present.
func (s *seenCache) check(key string, now time.Time) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, exp := range s.seen {
		if now.After(exp) {
			delete(s.seen, k)
		}
	}
	if _, ok := s.seen[key]; ok {
		return true
	}
	s.seen[key] = now.Add(s.ttl)
	return false
}

func (s *seenCache) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

func withRetry(ctx context.Context, attempts int, baseDelay time.Duration, fn func() (retryable bool, err error)) error {
	if attempts <= 0 {
		attempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		retryable, err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable || i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(baseDelay * time.Duration(1<<i)):
		}
	}
	return lastErr
}
