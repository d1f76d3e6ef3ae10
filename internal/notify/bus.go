// Package notify fans out "new file ready" events to in-process subscribers.
package notify

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// FileSavedEvent announces a recording that has been fully written.
type FileSavedEvent struct {
	ID            uuid.UUID
	FileName      string
	Bytes         int64
	Duration      time.Duration
	VoicedSeconds int
	Reason        string
	SavedAt       time.Time
}

// NewFileSavedEvent stamps a fresh ID on the event.
func NewFileSavedEvent(name string, size int64, duration time.Duration, voiced int, reason string, at time.Time) FileSavedEvent {
	return FileSavedEvent{
		ID:            uuid.New(),
		FileName:      name,
		Bytes:         size,
		Duration:      duration,
		VoicedSeconds: voiced,
		Reason:        reason,
		SavedAt:       at,
	}
}

// Bus delivers events to every subscriber without blocking the publisher.
// A subscriber whose buffer is full misses the event.
type Bus struct {
	log *slog.Logger

	mu     sync.RWMutex
	subs   map[int]chan FileSavedEvent
	nextID int
	closed bool

	dropped atomic.Uint64
}

// NewBus returns an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{log: logger, subs: make(map[int]chan FileSavedEvent)}
}

// Subscribe returns a channel with the given buffer and a cancel func that
// unsubscribes and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan FileSavedEvent, func()) {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan FileSavedEvent, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish offers ev to every subscriber.
func (b *Bus) Publish(ev FileSavedEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
			b.log.Warn("subscriber buffer full, event dropped",
				"subscriber", id,
				"file_name", ev.FileName,
			)
		}
	}
}

// Dropped reports how many deliveries were skipped because a buffer was full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
