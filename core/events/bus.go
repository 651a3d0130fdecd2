package events

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"stabled/core/types"
)

const busHistoryLimit = 2048

// StreamEvent is a sequenced snapshot of an emitted event, suitable for
// cursor-based replay over the RPC websocket and for indexer consumption.
type StreamEvent struct {
	Sequence   uint64            `json:"seq"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	EmittedAt  int64             `json:"emittedAt"`
}

func cloneStreamEvent(evt StreamEvent) StreamEvent {
	cloned := evt
	if len(evt.Attributes) > 0 {
		attrs := make(map[string]string, len(evt.Attributes))
		for k, v := range evt.Attributes {
			attrs[k] = v
		}
		cloned.Attributes = attrs
	}
	return cloned
}

// attributed is implemented by typed events that carry structured attributes.
type attributed interface {
	Event() *types.Event
}

// Bus fans emitted events out to live subscribers and retains a bounded
// history so reconnecting clients can resume from a cursor. Slow subscribers
// drop events rather than blocking the emitter.
type Bus struct {
	mu      sync.Mutex
	seq     uint64
	history []StreamEvent
	subs    map[uint64]chan StreamEvent
	nextID  uint64
	now     func() time.Time
}

// NewBus creates an event bus with an empty history.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[uint64]chan StreamEvent),
		now:  time.Now,
	}
}

// Emit implements the Emitter interface.
func (b *Bus) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	stream := StreamEvent{Type: evt.EventType()}
	if typed, ok := evt.(attributed); ok {
		if payload := typed.Event(); payload != nil {
			stream.Type = payload.Type
			if len(payload.Attributes) > 0 {
				attrs := make(map[string]string, len(payload.Attributes))
				for k, v := range payload.Attributes {
					attrs[k] = v
				}
				stream.Attributes = attrs
			}
		}
	}

	b.mu.Lock()
	b.seq++
	stream.Sequence = b.seq
	stream.EmittedAt = b.now().Unix()
	b.history = append(b.history, cloneStreamEvent(stream))
	if len(b.history) > busHistoryLimit {
		excess := len(b.history) - busHistoryLimit
		trimmed := make([]StreamEvent, busHistoryLimit)
		copy(trimmed, b.history[excess:])
		b.history = trimmed
	}
	subscribers := make([]chan StreamEvent, 0, len(b.subs))
	for _, ch := range b.subs {
		subscribers = append(subscribers, ch)
	}
	b.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- cloneStreamEvent(stream):
		default:
		}
	}
}

// ParseCursor converts a client-supplied cursor string into a sequence
// number. Empty or malformed cursors resolve to zero (full backlog).
func ParseCursor(cursor string) uint64 {
	trimmed := strings.TrimSpace(cursor)
	if trimmed == "" {
		return 0
	}
	parsed, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}

// Subscribe registers a subscriber for events with sequence numbers greater
// than since. It returns the live channel, a cancel function, and the
// retained backlog after the cursor.
func (b *Bus) Subscribe(ctx context.Context, since uint64) (<-chan StreamEvent, func(), []StreamEvent, error) {
	if b == nil {
		return nil, nil, nil, fmt.Errorf("event bus not initialised")
	}
	updates := make(chan StreamEvent, 32)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = updates
	history := make([]StreamEvent, len(b.history))
	copy(history, b.history)
	b.mu.Unlock()

	backlog := make([]StreamEvent, 0, len(history))
	for _, entry := range history {
		if entry.Sequence > since {
			backlog = append(backlog, cloneStreamEvent(entry))
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			sub, ok := b.subs[id]
			if ok {
				delete(b.subs, id)
				close(sub)
			}
			b.mu.Unlock()
		})
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	return updates, cancel, backlog, nil
}

// LastSequence returns the sequence number of the most recent event.
func (b *Bus) LastSequence() uint64 {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}
