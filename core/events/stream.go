package events

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"polsstake/core/types"
	"polsstake/observability/metrics"
)

const defaultStreamHistoryLimit = 2048

// Update is a sequenced event delivered to stream subscribers.
type Update struct {
	Sequence  uint64       `json:"sequence"`
	Cursor    string       `json:"cursor"`
	Timestamp int64        `json:"timestamp"`
	Event     *types.Event `json:"event"`
}

func cloneUpdate(update Update) Update {
	cloned := update
	cloned.Event = update.Event.Clone()
	return cloned
}

// Stream keeps a bounded history of emitted events and fans them out to
// subscribers. Slow subscribers miss live updates rather than blocking the
// emitter; they can resume from their last cursor.
type Stream struct {
	mu      sync.Mutex
	seq     uint64
	nextID  uint64
	limit   int
	history []Update
	subs    map[uint64]chan Update
	nowFn   func() time.Time
}

// NewStream constructs a stream retaining at most limit updates. A non-positive
// limit selects the default.
func NewStream(limit int) *Stream {
	if limit <= 0 {
		limit = defaultStreamHistoryLimit
	}
	return &Stream{
		limit: limit,
		subs:  make(map[uint64]chan Update),
		nowFn: time.Now,
	}
}

// Emit implements the Emitter interface.
func (s *Stream) Emit(evt Event) {
	if s == nil {
		return
	}
	rendered := ToTypes(evt)
	if rendered == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	update := Update{
		Sequence:  s.seq,
		Cursor:    strconv.FormatUint(s.seq, 10),
		Timestamp: s.nowFn().Unix(),
		Event:     rendered,
	}
	metrics.Events().RecordEmitted(rendered.Type)
	s.history = append(s.history, cloneUpdate(update))
	if len(s.history) > s.limit {
		excess := len(s.history) - s.limit
		trimmed := make([]Update, s.limit)
		copy(trimmed, s.history[excess:])
		s.history = trimmed
	}
	for _, ch := range s.subs {
		select {
		case ch <- cloneUpdate(update):
		default:
		}
	}
}

// Subscribe registers a subscriber for updates after the supplied cursor. The
// returned backlog holds retained updates newer than the cursor; the cancel
// function releases the subscription and is also invoked when ctx ends.
func (s *Stream) Subscribe(ctx context.Context, cursor string) (<-chan Update, func(), []Update) {
	updates := make(chan Update, 32)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			since = parsed
		}
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = updates
	backlog := make([]Update, 0, len(s.history))
	for _, entry := range s.history {
		if entry.Sequence > since {
			backlog = append(backlog, cloneUpdate(entry))
		}
	}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub)
			}
			s.mu.Unlock()
		})
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	return updates, cancel, backlog
}

// Recorder retains every emitted event in order. Tests use it to assert on
// emissions.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

// Events returns a snapshot of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types in emission order.
func (r *Recorder) Types() []string {
	events := r.Events()
	out := make([]string, len(events))
	for i, evt := range events {
		out[i] = evt.EventType()
	}
	return out
}
