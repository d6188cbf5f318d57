package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/aerocert/internal/clock"
)

type localEntry struct {
	token     string
	expiresAt time.Time
}

// LocalLocker is the in-process fallback when no redis is configured.
type LocalLocker struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]localEntry
}

func NewLocalLocker(clk clock.Clock) *LocalLocker {
	return &LocalLocker{
		clock:   clk,
		entries: map[string]localEntry{},
	}
}

func (l *LocalLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if err := validate(key, ttl); err != nil {
		return "", false, err
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry, held := l.entries[key]; held && now.Before(entry.expiresAt) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.entries[key] = localEntry{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

func (l *LocalLocker) Release(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry, held := l.entries[key]; held && entry.token == token {
		delete(l.entries, key)
	}
	return nil
}
