package storyboard

import (
	"context"
	"sync"
	"time"
)

const (
	lockPollBase = 2 * time.Millisecond
	lockPollMax  = 50 * time.Millisecond
)

// recordLocks serializes access per storyboard ID. It is a cooperative
// in-process lock: waiters poll with exponential backoff until the holder
// releases or their context ends. It does not protect against other
// processes sharing the same data directory.
type recordLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newRecordLocks() *recordLocks {
	return &recordLocks{held: make(map[string]struct{})}
}

func (l *recordLocks) acquire(ctx context.Context, id string) error {
	delay := lockPollBase
	for {
		l.mu.Lock()
		if _, busy := l.held[id]; !busy {
			l.held[id] = struct{}{}
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay < lockPollMax {
			delay *= 2
			if delay > lockPollMax {
				delay = lockPollMax
			}
		}
	}
}

func (l *recordLocks) release(id string) {
	l.mu.Lock()
	delete(l.held, id)
	l.mu.Unlock()
}
