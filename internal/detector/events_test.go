package detector

import (
	"testing"
	"time"
)

func machineConfig() Config {
	cfg := DefaultConfig()
	cfg.MinDuration = 3 * time.Second
	cfg.Cooldown = 5 * time.Second
	return cfg
}

func breach(sev Severity) Breach {
	return Breach{Breached: true, Severity: sev, Info: map[string]float64{"current_a": 28}}
}

func TestMachineConfirmsAfterMinDuration(t *testing.T) {
	m := newStateMachine(RuleOvercurrent, false, machineConfig())
	t0 := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

	if ch := m.advance(t0, breach(SeverityWarn)); len(ch) != 0 {
		t.Fatalf("起始 tick 不应产生事件: %+v", ch)
	}
	if m.phase != PhaseSuspect {
		t.Fatalf("应进入 suspect, 实际 %s", m.phase)
	}
	m.advance(t0.Add(1*time.Second), breach(SeverityWarn))
	m.advance(t0.Add(2*time.Second), breach(SeverityWarn))

	changes := m.advance(t0.Add(3*time.Second), breach(SeverityAlert))
	if len(changes) != 1 || changes[0].Kind != ChangeOpened {
		t.Fatalf("持续达到窗口后应开启事件: %+v", changes)
	}
	ev := changes[0].Event
	if !ev.Start.Equal(t0) {
		t.Fatalf("事件起点应为 onset %v, 实际 %v", t0, ev.Start)
	}
	if ev.Severity != SeverityAlert {
		t.Fatalf("开启时应携带迄今最高严重度, 实际 %s", ev.Severity)
	}
	if !ev.Open() {
		t.Fatal("新开启的事件不应有结束时间")
	}
	if ev.ID == "" {
		t.Fatal("事件应有 ID")
	}
}

func TestMachineDiscardsTransientBreach(t *testing.T) {
	m := newStateMachine(RuleOvercurrent, false, machineConfig())
	t0 := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

	m.advance(t0, breach(SeverityWarn))
	m.advance(t0.Add(1*time.Second), breach(SeverityWarn))
	if ch := m.advance(t0.Add(2*time.Second), Breach{}); len(ch) != 0 {
		t.Fatalf("短暂突破应被静默丢弃: %+v", ch)
	}
	if m.phase != PhaseNormal {
		t.Fatalf("应回到 normal, 实际 %s", m.phase)
	}
}

func TestMachineSeverityMonotone(t *testing.T) {
	m := newStateMachine(RuleOvercurrent, false, machineConfig())
	t0 := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i <= 3; i++ {
		m.advance(t0.Add(time.Duration(i)*time.Second), breach(SeverityAlert))
	}
	// A later, weaker breach must not lower the event severity.
	changes := m.advance(t0.Add(4*time.Second), breach(SeverityWarn))
	if len(changes) != 1 || changes[0].Kind != ChangeExtended {
		t.Fatalf("持续突破应延长事件: %+v", changes)
	}
	if changes[0].Event.Severity != SeverityAlert {
		t.Fatalf("严重度不应回落: %s", changes[0].Event.Severity)
	}
}

func TestMachineCooldownMergesFlapping(t *testing.T) {
	m := newStateMachine(RuleOvercurrent, false, machineConfig())
	t0 := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	step := func(sec int, b Breach) []EventChange {
		return m.advance(t0.Add(time.Duration(sec)*time.Second), b)
	}

	for i := 0; i <= 3; i++ {
		step(i, breach(SeverityWarn))
	}
	step(4, Breach{}) // clears, cooldown starts
	if m.phase != PhaseResolved {
		t.Fatalf("清除后应进入 resolved, 实际 %s", m.phase)
	}

	// Breach resumes inside the 5s cooldown: same event continues.
	changes := step(6, breach(SeverityWarn))
	if len(changes) != 1 || changes[0].Kind != ChangeExtended {
		t.Fatalf("冷却期内恢复应延长同一事件: %+v", changes)
	}
	firstID := changes[0].Event.ID

	// Quiet long enough for the cooldown to elapse.
	step(7, Breach{})
	changes = step(12, Breach{})
	if len(changes) != 1 || changes[0].Kind != ChangeClosed {
		t.Fatalf("冷却结束应关闭事件: %+v", changes)
	}
	closed := changes[0].Event
	if closed.ID != firstID {
		t.Fatal("合并后的事件应保持同一 ID")
	}
	if closed.End == nil || !closed.End.Equal(t0.Add(6*time.Second)) {
		t.Fatalf("结束时间应为最后一次突破 %v, 实际 %v", t0.Add(6*time.Second), closed.End)
	}

	// A fresh breach afterwards starts a brand-new event.
	for i := 20; i <= 23; i++ {
		step(i, breach(SeverityWarn))
	}
	if m.open == nil || m.open.ID == firstID {
		t.Fatal("冷却结束后的新突破应产生新事件")
	}
}

func TestMachineSparseGapSplitsEpisodes(t *testing.T) {
	m := newStateMachine(RuleOvercurrent, false, machineConfig())
	t0 := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	step := func(sec int, b Breach) []EventChange {
		return m.advance(t0.Add(time.Duration(sec)*time.Second), b)
	}

	for i := 0; i <= 3; i++ {
		step(i, breach(SeverityWarn))
	}
	step(4, Breach{})

	// No readings at all during the gap; the next tick is already a breach
	// far past the cooldown. The old episode must close, not stretch.
	changes := step(30, breach(SeverityWarn))
	if len(changes) != 1 || changes[0].Kind != ChangeClosed {
		t.Fatalf("跨过冷却的突破应先关闭旧事件: %+v", changes)
	}
	if end := changes[0].Event.End; end == nil || !end.Equal(t0.Add(3*time.Second)) {
		t.Fatalf("旧事件结束时间应为最后一次突破: %v", end)
	}

	for i := 31; i <= 33; i++ {
		changes = step(i, breach(SeverityWarn))
	}
	if len(changes) != 1 || changes[0].Kind != ChangeOpened {
		t.Fatalf("新片段应重新开启事件: %+v", changes)
	}
	if !changes[0].Event.Start.Equal(t0.Add(30 * time.Second)) {
		t.Fatalf("新事件起点应为新 onset: %v", changes[0].Event.Start)
	}
}

func TestMachineZeroMinDurationConfirmsImmediately(t *testing.T) {
	cfg := machineConfig()
	cfg.MinDuration = 0
	m := newStateMachine(RuleOvercurrent, false, cfg)
	t0 := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

	changes := m.advance(t0, breach(SeverityWarn))
	if len(changes) != 1 || changes[0].Kind != ChangeOpened {
		t.Fatalf("minDuration=0 时首个 tick 即应开启: %+v", changes)
	}
}

func TestSpikeFastPathSingleInstant(t *testing.T) {
	m := newStateMachine(RuleSpike, true, machineConfig())
	t0 := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

	changes := m.advance(t0, breach(SeverityAlert))
	if len(changes) != 1 || changes[0].Kind != ChangeOpened {
		t.Fatalf("尖峰应立即开启事件: %+v", changes)
	}
	ev := changes[0].Event
	if ev.End == nil || !ev.End.Equal(ev.Start) {
		t.Fatalf("尖峰事件应满足 start == end: %+v", ev)
	}
	if m.phase != PhaseConfirmed {
		t.Fatalf("尖峰 tick 内应为 confirmed, 实际 %s", m.phase)
	}

	// Next quiet tick just falls back to normal.
	if ch := m.advance(t0.Add(time.Second), Breach{}); len(ch) != 0 {
		t.Fatalf("安静 tick 不应产生变化: %+v", ch)
	}
	if m.phase != PhaseNormal {
		t.Fatalf("尖峰后应回到 normal, 实际 %s", m.phase)
	}

	// Back-to-back qualifying deltas each get their own event.
	first := m.advance(t0.Add(2*time.Second), breach(SeverityAlert))
	second := m.advance(t0.Add(3*time.Second), breach(SeverityAlert))
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("连续尖峰应各自成事件: %d/%d", len(first), len(second))
	}
	if first[0].Event.ID == second[0].Event.ID {
		t.Fatal("连续尖峰事件的 ID 应不同")
	}
}

func TestEventSnapshotsAreIsolated(t *testing.T) {
	m := newStateMachine(RuleOvercurrent, false, machineConfig())
	t0 := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i <= 3; i++ {
		m.advance(t0.Add(time.Duration(i)*time.Second), breach(SeverityWarn))
	}
	snap := m.openEvent()
	snap.Info["current_a"] = -1
	if m.open.Info["current_a"] == -1 {
		t.Fatal("外部修改快照不应影响内部状态")
	}
}
