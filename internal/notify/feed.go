// Package notify collects the transient notifications shown to the shopper.
package notify

import (
	"sync"
	"time"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

type Notification struct {
	ID        uint64    `json:"id"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Notifier publishes notifications.
type Notifier interface {
	Notify(level Level, message string)
}

// Feed is a bounded, in-memory notification list. The oldest entries are
// dropped once the limit is reached.
type Feed struct {
	mu    sync.Mutex
	items []Notification
	limit int
	seq   uint64
	now   func() time.Time
}

func NewFeed(limit int) *Feed {
	if limit <= 0 {
		limit = 50
	}
	return &Feed{limit: limit, now: time.Now}
}

func (f *Feed) Notify(level Level, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	f.items = append(f.items, Notification{
		ID:        f.seq,
		Level:     level,
		Message:   message,
		CreatedAt: f.now(),
	})
	if over := len(f.items) - f.limit; over > 0 {
		f.items = append([]Notification(nil), f.items[over:]...)
	}
}

// Since returns the notifications with an ID greater than after, oldest first.
func (f *Feed) Since(after uint64) []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Notification, 0, len(f.items))
	for _, n := range f.items {
		if n.ID > after {
			out = append(out, n)
		}
	}
	return out
}

// Drain returns every pending notification and empties the feed.
func (f *Feed) Drain() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := f.items
	f.items = nil
	if out == nil {
		out = []Notification{}
	}
	return out
}
