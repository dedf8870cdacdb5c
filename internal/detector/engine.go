package detector

import (
	"errors"
	"fmt"
	"time"
)

// ErrConfigMismatch is returned by Restore when a snapshot was produced
// under a different tuning than the engine is running with.
var ErrConfigMismatch = errors.New("snapshot config fingerprint does not match engine config")

// Outcome classifies what Process did with a reading.
type Outcome int

const (
	OutcomeProcessed Outcome = iota
	OutcomeOutOfOrder
)

func (o Outcome) String() string {
	if o == OutcomeOutOfOrder {
		return "out_of_order"
	}
	return "processed"
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Result is what one Process call hands back to the collaborator.
type Result struct {
	Outcome   Outcome       `json:"outcome"`
	Timestamp time.Time     `json:"timestamp"`
	Changes   []EventChange `json:"changes,omitempty"`
	Anomalous bool          `json:"anomalous"`
	Stats     Stats         `json:"stats"`
}

// ChannelStats summarizes one estimator for status consumers.
type ChannelStats struct {
	Mean    float64 `json:"mean"`
	Stdev   float64 `json:"stdev"`
	Samples int64   `json:"samples"`
	Warm    bool    `json:"warm"`
}

// RuleStats exposes the per-rule machine phase and open event, if any.
type RuleStats struct {
	Phase string `json:"phase"`
	Open  *Event `json:"open,omitempty"`
}

// Stats is a point-in-time snapshot of engine counters and estimators.
type Stats struct {
	StartedAt   time.Time                `json:"started_at"`
	Uptime      time.Duration            `json:"uptime"`
	Processed   int64                    `json:"processed"`
	Rejected    int64                    `json:"rejected"`
	Anomalous   int64                    `json:"anomalous"`
	AnomalyRate float64                  `json:"anomaly_rate"`
	OpenEvents  int                      `json:"open_events"`
	Rules       map[Rule]RuleStats       `json:"rules"`
	Channels    map[Channel]ChannelStats `json:"channels"`
}

// Snapshot is the persistable engine baseline: estimator state per channel
// plus the config that produced it.
type Snapshot struct {
	SavedAt           time.Time                  `json:"saved_at"`
	ConfigFingerprint string                     `json:"config_fingerprint"`
	Config            Config                     `json:"config"`
	Channels          map[Channel]EstimatorState `json:"channels"`
}

// Engine runs the full detection pipeline for one sensor stream. It owns all
// mutable state and performs no locking itself: callers must deliver
// readings strictly one at a time, in timestamp order.
type Engine struct {
	cfg        Config
	estimators map[Channel]*Estimator
	machines   map[Rule]*stateMachine

	lastTS  time.Time
	hasLast bool

	prevCurrent    float64
	hasPrevCurrent bool

	processed int64
	rejected  int64
	anomalous int64
	startedAt time.Time
}

// New builds a cold engine from the given config.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid detector config: %w", err)
	}

	alpha := cfg.SmoothingAlpha()
	estimators := make(map[Channel]*Estimator, len(Channels))
	for _, ch := range Channels {
		estimators[ch] = NewEstimator(alpha, cfg.WarmupMinSamples)
	}

	machines := make(map[Rule]*stateMachine, len(ruleOrder))
	for _, rule := range ruleOrder {
		machines[rule] = newStateMachine(rule, rule == RuleSpike, cfg)
	}

	return &Engine{
		cfg:        cfg,
		estimators: estimators,
		machines:   machines,
		startedAt:  time.Now(),
	}, nil
}

// Config returns the tuning the engine was built with.
func (e *Engine) Config() Config { return e.cfg }

// Process runs one reading through estimators, rules, and event machines.
// An out-of-order reading is rejected wholesale and changes nothing.
func (e *Engine) Process(r Reading) Result {
	if e.hasLast && r.Timestamp.Before(e.lastTS) {
		e.rejected++
		return Result{
			Outcome:   OutcomeOutOfOrder,
			Timestamp: r.Timestamp,
			Stats:     e.Status(),
		}
	}
	e.lastTS = r.Timestamp
	e.hasLast = true

	for _, ch := range Channels {
		if v, ok := r.Value(ch); ok {
			e.estimators[ch].Update(v)
		}
	}

	var changes []EventChange
	var current float64
	var hasCurrent bool
	for _, rule := range ruleOrder {
		var b Breach
		switch rule {
		case RulePowerDrift:
			b = e.driftBreach(r)
		case RuleOvercurrent:
			b, current, hasCurrent = e.currentBreach(r)
		case RuleSpike:
			b = e.spikeBreach(current, hasCurrent)
		case RuleThermal:
			b = e.thermalBreach(r)
		}
		changes = append(changes, e.machines[rule].advance(r.Timestamp, b)...)
	}
	if hasCurrent {
		e.prevCurrent = current
		e.hasPrevCurrent = true
	}

	e.processed++
	anomalous := e.anyActive()
	if anomalous {
		e.anomalous++
	}

	return Result{
		Outcome:   OutcomeProcessed,
		Timestamp: r.Timestamp,
		Changes:   changes,
		Anomalous: anomalous,
		Stats:     e.Status(),
	}
}

// driftBreach evaluates power drift against the post-update estimator.
func (e *Engine) driftBreach(r Reading) Breach {
	power, ok := r.Value(ChannelPower)
	if !ok {
		return Breach{}
	}
	est := e.estimators[ChannelPower]
	if !est.Warm() {
		return Breach{}
	}
	return evalPowerDrift(power, est.Mean(), est.Stdev(), e.cfg)
}

// currentBreach derives amps from power and checks the overcurrent rule. It
// also hands the derived current to the spike rule for this tick.
func (e *Engine) currentBreach(r Reading) (Breach, float64, bool) {
	power, ok := r.Value(ChannelPower)
	if !ok {
		return Breach{}, 0, false
	}
	current := power / e.cfg.LineVoltage
	return evalOvercurrent(current, e.cfg), current, true
}

// spikeBreach compares this tick's current with the previous power-bearing
// tick. Readings without power neither feed nor clear the 1-sample memory.
func (e *Engine) spikeBreach(current float64, hasCurrent bool) Breach {
	if !hasCurrent || !e.hasPrevCurrent {
		return Breach{}
	}
	return evalSpike(current, e.prevCurrent, e.cfg)
}

func (e *Engine) thermalBreach(r Reading) Breach {
	indoor, ok := r.Value(ChannelIndoorTemp)
	if !ok {
		return Breach{}
	}
	outdoor, ok := r.Value(ChannelOutdoorTemp)
	if !ok {
		return Breach{}
	}
	lux, hasLux := r.Value(ChannelIlluminance)
	return evalThermal(r.Timestamp.Month(), indoor, outdoor, lux, hasLux, e.cfg)
}

// anyActive reports whether some machine currently holds an event, which is
// what makes a tick count as anomalous.
func (e *Engine) anyActive() bool {
	for _, m := range e.machines {
		if m.phase == PhaseConfirmed || m.phase == PhaseResolved {
			return true
		}
	}
	return false
}

// Status snapshots counters, per-rule machine state, and estimators.
func (e *Engine) Status() Stats {
	stats := Stats{
		StartedAt: e.startedAt,
		Uptime:    time.Since(e.startedAt),
		Processed: e.processed,
		Rejected:  e.rejected,
		Anomalous: e.anomalous,
		Rules:     make(map[Rule]RuleStats, len(e.machines)),
		Channels:  make(map[Channel]ChannelStats, len(e.estimators)),
	}
	if e.processed > 0 {
		stats.AnomalyRate = float64(e.anomalous) / float64(e.processed)
	}
	for rule, m := range e.machines {
		rs := RuleStats{Phase: m.phase.String()}
		if ev := m.openEvent(); ev != nil {
			rs.Open = ev
			if ev.Open() {
				stats.OpenEvents++
			}
		}
		stats.Rules[rule] = rs
	}
	for ch, est := range e.estimators {
		stats.Channels[ch] = ChannelStats{
			Mean:    est.Mean(),
			Stdev:   est.Stdev(),
			Samples: est.Samples(),
			Warm:    est.Warm(),
		}
	}
	return stats
}

// Reset clears counters and all event machines, and optionally the
// estimators as well. Open events are discarded, not closed.
func (e *Engine) Reset(estimators bool) {
	e.processed = 0
	e.rejected = 0
	e.anomalous = 0
	e.startedAt = time.Now()
	e.hasLast = false
	e.lastTS = time.Time{}
	e.prevCurrent = 0
	e.hasPrevCurrent = false
	for _, m := range e.machines {
		m.clear()
	}
	if estimators {
		alpha := e.cfg.SmoothingAlpha()
		for _, ch := range Channels {
			e.estimators[ch] = NewEstimator(alpha, e.cfg.WarmupMinSamples)
		}
	}
}

// Snapshot captures the estimator baseline for persistence.
func (e *Engine) Snapshot() Snapshot {
	channels := make(map[Channel]EstimatorState, len(e.estimators))
	for ch, est := range e.estimators {
		channels[ch] = est.State()
	}
	return Snapshot{
		SavedAt:           time.Now().UTC(),
		ConfigFingerprint: e.cfg.Fingerprint(),
		Config:            e.cfg,
		Channels:          channels,
	}
}

// Restore loads estimator state from a snapshot taken under the same
// config. The restore is all-or-nothing: on any error the engine keeps the
// state it had, never a partially applied snapshot.
func (e *Engine) Restore(snap Snapshot) error {
	if snap.ConfigFingerprint != e.cfg.Fingerprint() {
		return ErrConfigMismatch
	}
	alpha := e.cfg.SmoothingAlpha()
	restored := make(map[Channel]*Estimator, len(snap.Channels))
	for ch, state := range snap.Channels {
		if _, ok := e.estimators[ch]; !ok {
			return fmt.Errorf("snapshot carries unknown channel %q", ch)
		}
		est := NewEstimator(alpha, e.cfg.WarmupMinSamples)
		if err := est.Restore(state); err != nil {
			return fmt.Errorf("restore channel %q: %w", ch, err)
		}
		restored[ch] = est
	}
	for ch, est := range restored {
		e.estimators[ch] = est
	}
	return nil
}
