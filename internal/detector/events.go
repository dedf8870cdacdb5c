package detector

import (
	"time"

	"github.com/google/uuid"
)

// Phase is the hysteresis state of one rule's machine.
type Phase int

const (
	PhaseNormal Phase = iota
	PhaseSuspect
	PhaseConfirmed
	PhaseResolved
)

func (p Phase) String() string {
	switch p {
	case PhaseSuspect:
		return "suspect"
	case PhaseConfirmed:
		return "confirmed"
	case PhaseResolved:
		return "resolved"
	default:
		return "normal"
	}
}

// Event is the externally visible anomaly record. End stays nil while the
// event is open; once set the event is final and never mutated again.
type Event struct {
	ID       string             `json:"id"`
	Rule     Rule               `json:"rule"`
	Severity Severity           `json:"severity"`
	Start    time.Time          `json:"start"`
	End      *time.Time         `json:"end,omitempty"`
	Info     map[string]float64 `json:"info,omitempty"`
}

// Open reports whether the event has not been finalized yet.
func (e Event) Open() bool { return e.End == nil }

// clone returns a copy that shares no mutable state with the original.
func (e Event) clone() Event {
	out := e
	if e.End != nil {
		end := *e.End
		out.End = &end
	}
	out.Info = copyInfo(e.Info)
	return out
}

// ChangeKind classifies what happened to an event during one tick.
type ChangeKind int

const (
	ChangeOpened ChangeKind = iota
	ChangeExtended
	ChangeClosed
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeExtended:
		return "extended"
	case ChangeClosed:
		return "closed"
	default:
		return "opened"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k ChangeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// EventChange pairs an event snapshot with what just happened to it.
type EventChange struct {
	Kind  ChangeKind `json:"kind"`
	Event Event      `json:"event"`
}

// stateMachine debounces one rule's per-tick breach signal into events.
// Regular rules walk NORMAL -> SUSPECT -> CONFIRMED -> RESOLVED -> NORMAL;
// fast-path rules (spike) jump straight to a single-instant event.
type stateMachine struct {
	rule        Rule
	fastPath    bool
	minDuration time.Duration
	cooldown    time.Duration

	phase      Phase
	onset      time.Time
	lastBreach time.Time
	severity   Severity
	info       map[string]float64
	open       *Event
}

func newStateMachine(rule Rule, fastPath bool, cfg Config) *stateMachine {
	return &stateMachine{
		rule:        rule,
		fastPath:    fastPath,
		minDuration: cfg.MinDuration,
		cooldown:    cfg.Cooldown,
	}
}

// advance feeds one tick into the machine and returns whatever event changes
// became visible. Ticks must arrive in timestamp order.
func (m *stateMachine) advance(ts time.Time, b Breach) []EventChange {
	if m.fastPath {
		return m.advanceFast(ts, b)
	}

	switch m.phase {
	case PhaseNormal:
		if !b.Breached {
			return nil
		}
		m.phase = PhaseSuspect
		m.onset = ts
		m.lastBreach = ts
		m.severity = b.Severity
		m.info = copyInfo(b.Info)
		return m.confirmIfSustained(ts)

	case PhaseSuspect:
		if !b.Breached {
			// Transient breach, discarded without a trace.
			m.clear()
			return nil
		}
		m.lastBreach = ts
		if b.Severity > m.severity {
			m.severity = b.Severity
		}
		m.info = copyInfo(b.Info)
		return m.confirmIfSustained(ts)

	case PhaseConfirmed:
		if !b.Breached {
			m.phase = PhaseResolved
			return nil
		}
		return m.extend(ts, b)

	case PhaseResolved:
		if b.Breached {
			if ts.Sub(m.lastBreach) >= m.cooldown {
				// The quiet gap outlived the cooldown without a tick to
				// observe it: close the old episode and start fresh.
				changes := []EventChange{{Kind: ChangeClosed, Event: m.finalize()}}
				m.phase = PhaseSuspect
				m.onset = ts
				m.lastBreach = ts
				m.severity = b.Severity
				m.info = copyInfo(b.Info)
				return append(changes, m.confirmIfSustained(ts)...)
			}
			// Breach resumed inside the cooldown: same episode continues.
			m.phase = PhaseConfirmed
			return m.extend(ts, b)
		}
		if ts.Sub(m.lastBreach) >= m.cooldown {
			return []EventChange{{Kind: ChangeClosed, Event: m.finalize()}}
		}
		return nil
	}
	return nil
}

// finalize stamps the open event with its end, clears the machine, and
// returns the closed record.
func (m *stateMachine) finalize() Event {
	end := m.lastBreach
	m.open.End = &end
	closed := m.open.clone()
	m.clear()
	return closed
}

// advanceFast implements the spike override: a breach opens an event that is
// already final (start == end), and the machine is back to NORMAL by the
// next tick whatever that tick's signal is.
func (m *stateMachine) advanceFast(ts time.Time, b Breach) []EventChange {
	if m.phase == PhaseConfirmed {
		m.clear()
	}
	if !b.Breached {
		return nil
	}
	end := ts
	ev := Event{
		ID:       uuid.NewString(),
		Rule:     m.rule,
		Severity: b.Severity,
		Start:    ts,
		End:      &end,
		Info:     copyInfo(b.Info),
	}
	m.phase = PhaseConfirmed
	m.lastBreach = ts
	m.open = &ev
	return []EventChange{{Kind: ChangeOpened, Event: ev.clone()}}
}

// confirmIfSustained promotes SUSPECT to CONFIRMED once the breach has held
// for the persistence window, inclusive of the boundary.
func (m *stateMachine) confirmIfSustained(ts time.Time) []EventChange {
	if ts.Sub(m.onset) < m.minDuration {
		return nil
	}
	m.phase = PhaseConfirmed
	ev := Event{
		ID:       uuid.NewString(),
		Rule:     m.rule,
		Severity: m.severity,
		Start:    m.onset,
		Info:     copyInfo(m.info),
	}
	m.open = &ev
	return []EventChange{{Kind: ChangeOpened, Event: ev.clone()}}
}

func (m *stateMachine) extend(ts time.Time, b Breach) []EventChange {
	m.lastBreach = ts
	if b.Severity > m.open.Severity {
		m.open.Severity = b.Severity
	}
	m.open.Info = copyInfo(b.Info)
	return []EventChange{{Kind: ChangeExtended, Event: m.open.clone()}}
}

// openEvent returns a copy of the event currently held by the machine.
func (m *stateMachine) openEvent() *Event {
	if m.open == nil {
		return nil
	}
	ev := m.open.clone()
	return &ev
}

func (m *stateMachine) clear() {
	m.phase = PhaseNormal
	m.onset = time.Time{}
	m.lastBreach = time.Time{}
	m.severity = SeverityNone
	m.info = nil
	m.open = nil
}

func copyInfo(info map[string]float64) map[string]float64 {
	if info == nil {
		return nil
	}
	out := make(map[string]float64, len(info))
	for k, v := range info {
		out[k] = v
	}
	return out
}
