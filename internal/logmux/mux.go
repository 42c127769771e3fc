package logmux

import (
	"fmt"
	"sync"
	"time"

	"github.com/Paintersrp/brood"
)

// Mux fans in log events from many children and delivers them via a bounded
// channel. When downstream consumers cannot keep up and the output buffer
// would overflow, the mux drops log records and emits a synthesized warning
// event to surface the number of discarded entries.
type Mux struct {
	out chan brood.Event

	mu     sync.Mutex
	drops  map[int64]dropRecord
	inputs sync.WaitGroup
}

type dropRecord struct {
	count  int
	child  string
	worker int
}

// New constructs a mux backed by a channel of the provided size. A size of
// zero results in a minimally buffered channel.
func New(size int) *Mux {
	if size <= 0 {
		size = 1
	}
	return &Mux{
		out:   make(chan brood.Event, size),
		drops: make(map[int64]dropRecord),
	}
}

// Output exposes the muxed event channel.
func (m *Mux) Output() <-chan brood.Event {
	return m.out
}

// Add registers a new source channel. The mux consumes log events until the
// source channel is closed.
func (m *Mux) Add(source <-chan brood.Event) {
	if source == nil {
		return
	}
	m.inputs.Add(1)
	go func() {
		defer m.inputs.Done()
		for evt := range source {
			if evt.Type != brood.EventTypeLog {
				continue
			}
			m.deliver(normalize(evt))
		}
	}()
}

// Close waits for all sources to be drained, emits any pending drop metadata,
// and closes the output channel.
func (m *Mux) Close() {
	m.inputs.Wait()
	m.flushDrops()
	close(m.out)
}

func (m *Mux) deliver(evt brood.Event) {
	if !m.flushPending(evt) {
		m.recordDrop(evt, 1)
		return
	}
	if m.trySend(evt) {
		return
	}
	m.recordDrop(evt, 1)
}

func (m *Mux) flushPending(evt brood.Event) bool {
	for {
		rec := m.takeDrops(evt.ID)
		if rec.count == 0 {
			return true
		}
		meta := synthesizeDropEvent(evt.ID, rec)
		if m.trySend(meta) {
			continue
		}
		m.recordDrop(evt, rec.count)
		return false
	}
}

func (m *Mux) takeDrops(id int64) dropRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.drops[id]
	if rec.count != 0 {
		delete(m.drops, id)
	}
	return rec
}

func (m *Mux) recordDrop(evt brood.Event, count int) {
	if count <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.drops[evt.ID]
	rec.count += count
	rec.child = evt.Child
	rec.worker = evt.Worker
	m.drops[evt.ID] = rec
}

func (m *Mux) flushDrops() {
	pending := m.collectDrops()
	for id, rec := range pending {
		m.blockingSend(synthesizeDropEvent(id, rec))
	}
}

func (m *Mux) collectDrops() map[int64]dropRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.drops) == 0 {
		return nil
	}
	dup := make(map[int64]dropRecord, len(m.drops))
	for id, rec := range m.drops {
		if rec.count == 0 {
			continue
		}
		dup[id] = rec
	}
	m.drops = make(map[int64]dropRecord)
	return dup
}

func (m *Mux) trySend(evt brood.Event) bool {
	select {
	case m.out <- evt:
		return true
	default:
		return false
	}
}

func (m *Mux) blockingSend(evt brood.Event) {
	m.out <- evt
}

func normalize(evt brood.Event) brood.Event {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if evt.Source == "" {
		evt.Source = brood.LogSourceStdout
	}
	if evt.Level == "" {
		if evt.Source == brood.LogSourceStderr {
			evt.Level = "warn"
		} else {
			evt.Level = "info"
		}
	}
	return evt
}

func synthesizeDropEvent(id int64, rec dropRecord) brood.Event {
	return brood.Event{
		Timestamp: time.Now(),
		Child:     rec.child,
		ID:        id,
		Worker:    rec.worker,
		Type:      brood.EventTypeLog,
		Message:   fmt.Sprintf("dropped=%d", rec.count),
		Level:     "warn",
		Source:    brood.LogSourceSystem,
	}
}
