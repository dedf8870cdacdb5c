package detector

import (
	"errors"
	"testing"
	"time"
)

func engineConfig() Config {
	cfg := DefaultConfig()
	cfg.Alpha = 0.001 // slow baseline so a step stays breaching
	cfg.WarmupMinSamples = 5
	cfg.MinDuration = 3 * time.Second
	cfg.Cooldown = 5 * time.Second
	return cfg
}

func powerReading(ts time.Time, watts float64) Reading {
	return Reading{Timestamp: ts, Values: map[Channel]float64{ChannelPower: watts}}
}

func changesOf(res Result, kind ChangeKind, rule Rule) []EventChange {
	var out []EventChange
	for _, ch := range res.Changes {
		if ch.Kind == kind && ch.Event.Rule == rule {
			out = append(out, ch)
		}
	}
	return out
}

func TestEngineDriftEventLifecycle(t *testing.T) {
	eng, err := New(engineConfig())
	if err != nil {
		t.Fatalf("构造引擎失败: %v", err)
	}
	t0 := time.Date(2025, time.April, 1, 9, 0, 0, 0, time.UTC)
	tick := func(sec int, watts float64) Result {
		return eng.Process(powerReading(t0.Add(time.Duration(sec)*time.Second), watts))
	}

	// Flat baseline: warm the estimator, zero spread keeps drift silent.
	for i := 0; i < 8; i++ {
		res := tick(i, 100)
		if len(res.Changes) != 0 {
			t.Fatalf("基线阶段不应有事件: %+v", res.Changes)
		}
	}

	// Persistent step change.
	var opened []EventChange
	for i := 8; i <= 12; i++ {
		res := tick(i, 200)
		opened = append(opened, changesOf(res, ChangeOpened, RulePowerDrift)...)
	}
	if len(opened) != 1 {
		t.Fatalf("持续阶跃应恰好开启一个漂移事件, 实际 %d", len(opened))
	}
	ev := opened[0].Event
	if !ev.Start.Equal(t0.Add(8 * time.Second)) {
		t.Fatalf("事件起点应为阶跃起始 tick, 实际 %v", ev.Start)
	}
	if ev.Severity != SeverityAlert {
		t.Fatalf("大幅阶跃应为 alert, 实际 %s", ev.Severity)
	}

	// Back to the old level: breach clears, cooldown closes the event.
	var closed []EventChange
	for i := 13; i <= 20; i++ {
		res := tick(i, 100)
		closed = append(closed, changesOf(res, ChangeClosed, RulePowerDrift)...)
	}
	if len(closed) != 1 {
		t.Fatalf("冷却后应恰好关闭一个事件, 实际 %d", len(closed))
	}
	if closed[0].Event.ID != ev.ID {
		t.Fatal("关闭的应是同一事件")
	}
	if closed[0].Event.End == nil || !closed[0].Event.End.Equal(t0.Add(12*time.Second)) {
		t.Fatalf("结束时间应为最后一次突破: %v", closed[0].Event.End)
	}

	stats := eng.Status()
	if stats.Processed != 21 {
		t.Fatalf("processed 应为 21, 实际 %d", stats.Processed)
	}
	if stats.Anomalous == 0 {
		t.Fatal("阶跃期间应累计异常 tick")
	}
	if stats.OpenEvents != 0 {
		t.Fatalf("关闭后不应有打开事件: %d", stats.OpenEvents)
	}
}

func TestEngineTransientStepProducesNothing(t *testing.T) {
	eng, _ := New(engineConfig())
	t0 := time.Date(2025, time.April, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 8; i++ {
		eng.Process(powerReading(t0.Add(time.Duration(i)*time.Second), 100))
	}
	// Two breaching ticks, then back to normal before minDuration (3s).
	var total int
	for i, w := range []float64{200, 200, 100, 100, 100, 100, 100, 100, 100, 100} {
		res := eng.Process(powerReading(t0.Add(time.Duration(8+i)*time.Second), w))
		total += len(res.Changes)
	}
	if total != 0 {
		t.Fatalf("短暂突破不应产生任何事件, 实际 %d 个变化", total)
	}
}

func TestEngineSpikeStartEqualsEnd(t *testing.T) {
	cfg := engineConfig()
	eng, _ := New(cfg)
	t0 := time.Date(2025, time.April, 1, 9, 0, 0, 0, time.UTC)

	// 220W is 1A; 2420W is 11A, a 10A jump. Stay there so only one delta
	// qualifies, then ease back in small steps.
	watts := []float64{220, 220, 220, 2420, 2420, 2420, 2200, 1980, 1760, 1540}
	var spikes []EventChange
	for i, w := range watts {
		res := eng.Process(powerReading(t0.Add(time.Duration(i)*time.Second), w))
		spikes = append(spikes, changesOf(res, ChangeOpened, RuleSpike)...)
	}
	if len(spikes) != 1 {
		t.Fatalf("应恰好一个尖峰事件, 实际 %d", len(spikes))
	}
	ev := spikes[0].Event
	if ev.End == nil || !ev.End.Equal(ev.Start) {
		t.Fatalf("尖峰事件应满足 start == end: %+v", ev)
	}
	if !ev.Start.Equal(t0.Add(3 * time.Second)) {
		t.Fatalf("尖峰应落在跳变 tick: %v", ev.Start)
	}
	if ev.Info["delta_a"] != 10 {
		t.Fatalf("info 应记录 10A 的跳变: %v", ev.Info)
	}
}

func TestEngineRejectsOutOfOrder(t *testing.T) {
	eng, _ := New(engineConfig())
	t0 := time.Date(2025, time.April, 1, 9, 0, 0, 0, time.UTC)

	eng.Process(powerReading(t0, 100))
	before := eng.Snapshot()

	res := eng.Process(powerReading(t0.Add(-time.Second), 99999))
	if res.Outcome != OutcomeOutOfOrder {
		t.Fatalf("乱序读取应被拒绝, 实际 %s", res.Outcome)
	}
	if len(res.Changes) != 0 {
		t.Fatal("被拒绝的读取不应产生事件")
	}

	after := eng.Snapshot()
	if before.Channels[ChannelPower] != after.Channels[ChannelPower] {
		t.Fatalf("拒绝后估计器状态应不变: %+v vs %+v", before.Channels[ChannelPower], after.Channels[ChannelPower])
	}

	stats := eng.Status()
	if stats.Rejected != 1 || stats.Processed != 1 {
		t.Fatalf("计数错误: rejected=%d processed=%d", stats.Rejected, stats.Processed)
	}

	// Equal timestamps are allowed; only strictly earlier ones are not.
	if res := eng.Process(powerReading(t0, 100)); res.Outcome != OutcomeProcessed {
		t.Fatalf("相同时间戳应被接受, 实际 %s", res.Outcome)
	}
}

func TestEngineSkipsRulesWithMissingChannels(t *testing.T) {
	eng, _ := New(engineConfig())
	t0 := time.Date(2025, time.July, 1, 9, 0, 0, 0, time.UTC)

	// Temperature-only reading: power rules sit out, thermal still runs.
	res := eng.Process(Reading{Timestamp: t0, Values: map[Channel]float64{
		ChannelIndoorTemp:  30,
		ChannelOutdoorTemp: 20,
	}})
	if res.Outcome != OutcomeProcessed {
		t.Fatalf("缺少 power 也应处理: %s", res.Outcome)
	}
	if eng.Status().Channels[ChannelIndoorTemp].Samples != 1 {
		t.Fatal("室温估计器应已更新")
	}
	if eng.Status().Channels[ChannelPower].Samples != 0 {
		t.Fatal("power 估计器不应更新")
	}
	if eng.machines[RuleThermal].phase != PhaseSuspect {
		t.Fatalf("夏季 diff=10 应进入 suspect, 实际 %s", eng.machines[RuleThermal].phase)
	}
}

func TestEngineSnapshotRestoreRoundTrip(t *testing.T) {
	cfg := engineConfig()
	eng, _ := New(cfg)
	t0 := time.Date(2025, time.April, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 20; i++ {
		eng.Process(Reading{Timestamp: t0.Add(time.Duration(i) * time.Second), Values: map[Channel]float64{
			ChannelPower:      100 + float64(i),
			ChannelIndoorTemp: 21.5,
		}})
	}

	snap := eng.Snapshot()
	if snap.ConfigFingerprint != cfg.Fingerprint() {
		t.Fatal("快照应携带配置指纹")
	}

	fresh, _ := New(cfg)
	if err := fresh.Restore(snap); err != nil {
		t.Fatalf("恢复失败: %v", err)
	}
	for _, ch := range Channels {
		if fresh.Snapshot().Channels[ch] != snap.Channels[ch] {
			t.Fatalf("通道 %s 状态不一致", ch)
		}
	}

	// A different tuning must refuse the snapshot.
	other := cfg
	other.DriftK = 4
	stranger, _ := New(other)
	if err := stranger.Restore(snap); !errors.Is(err, ErrConfigMismatch) {
		t.Fatalf("配置不同应返回 ErrConfigMismatch, 实际 %v", err)
	}
}

func TestEngineRestoreIsAllOrNothing(t *testing.T) {
	cfg := engineConfig()
	eng, _ := New(cfg)

	snap := Snapshot{
		ConfigFingerprint: cfg.Fingerprint(),
		Config:            cfg,
		Channels: map[Channel]EstimatorState{
			ChannelPower:      {Mean: 100, Variance: 4, Samples: 50},
			ChannelIndoorTemp: {Mean: 20, Variance: -1, Samples: 50}, // invalid
		},
	}
	if err := eng.Restore(snap); err == nil {
		t.Fatal("包含非法状态的快照应整体失败")
	}
	if eng.Status().Channels[ChannelPower].Samples != 0 {
		t.Fatal("失败的恢复不应留下部分状态")
	}
}

func TestEngineReset(t *testing.T) {
	eng, _ := New(engineConfig())
	t0 := time.Date(2025, time.April, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		eng.Process(powerReading(t0.Add(time.Duration(i)*time.Second), 100))
	}

	eng.Reset(false)
	stats := eng.Status()
	if stats.Processed != 0 || stats.Anomalous != 0 {
		t.Fatalf("Reset 应清零计数: %+v", stats)
	}
	if stats.Channels[ChannelPower].Samples == 0 {
		t.Fatal("Reset(false) 应保留估计器")
	}
	// After a reset old timestamps may be replayed.
	if res := eng.Process(powerReading(t0, 100)); res.Outcome != OutcomeProcessed {
		t.Fatal("Reset 后应接受旧时间戳")
	}

	eng.Reset(true)
	if eng.Status().Channels[ChannelPower].Samples != 0 {
		t.Fatal("Reset(true) 应清空估计器")
	}
}
