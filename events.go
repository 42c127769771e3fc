package brood

import "time"

// EventType captures lifecycle notifications emitted by groups for the
// children they track.
type EventType string

const (
	EventTypeSpawned  EventType = "spawned"
	EventTypeExited   EventType = "exited"
	EventTypeFailed   EventType = "failed"
	EventTypeKilled   EventType = "killed"
	EventTypeStopping EventType = "stopping"
	EventTypeLog      EventType = "log"
)

// Log event sources. Command children report stdout/stderr; synthesized
// events (lifecycle, drop notices) use LogSourceSystem.
const (
	LogSourceStdout = "stdout"
	LogSourceStderr = "stderr"
	LogSourceSystem = "brood"
)

// Event represents a single lifecycle or log notification. Consumers receive
// events on the channel supplied via WithEvents; delivery is best effort and
// never blocks child lifecycle progress.
type Event struct {
	Timestamp time.Time
	Child     string
	ID        int64
	Worker    int
	Type      EventType
	Message   string
	Level     string
	Source    string
	Err       error
}

func (g *Group) emit(evt Event) {
	if g.events == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = g.clock.Now()
	}
	if evt.Level == "" {
		evt.Level = "info"
	}
	if evt.Source == "" {
		evt.Source = LogSourceSystem
	}
	select {
	case g.events <- evt:
	default:
	}
}

// emitLog delivers a log event with per-child drop accounting: when the
// events channel is full the line is dropped and a synthesized warn event
// carrying the running drop count is emitted once space frees up.
func (g *Group) emitLog(p *Proc, message, level, source string) {
	if g.events == nil {
		return
	}
	evt := Event{
		Timestamp: g.clock.Now(),
		Child:     p.name,
		ID:        p.id,
		Worker:    p.worker,
		Type:      EventTypeLog,
		Message:   message,
		Level:     level,
		Source:    source,
	}
	if dropped := p.dropped.Load(); dropped > 0 {
		meta := Event{
			Timestamp: g.clock.Now(),
			Child:     p.name,
			ID:        p.id,
			Worker:    p.worker,
			Type:      EventTypeLog,
			Message:   "dropped=" + itoa(dropped),
			Level:     "warn",
			Source:    LogSourceSystem,
		}
		select {
		case g.events <- meta:
			p.dropped.Sub(dropped)
		default:
			p.dropped.Inc()
			return
		}
	}
	select {
	case g.events <- evt:
	default:
		p.dropped.Inc()
	}
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
