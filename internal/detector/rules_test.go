package detector

import (
	"testing"
	"time"
)

func TestPowerDriftSeverityTiers(t *testing.T) {
	cfg := DefaultConfig() // k=3, alert factor 1.5

	// dev/stdev = 4 sits between k and k*factor: warn.
	b := evalPowerDrift(140, 100, 10, cfg)
	if !b.Breached || b.Severity != SeverityWarn {
		t.Fatalf("z=4 应为 warn, 实际 %+v", b)
	}

	// dev/stdev = 5 exceeds k*factor = 4.5: alert.
	b = evalPowerDrift(150, 100, 10, cfg)
	if !b.Breached || b.Severity != SeverityAlert {
		t.Fatalf("z=5 应为 alert, 实际 %+v", b)
	}

	// Exactly k stays quiet (strict inequality).
	if b := evalPowerDrift(130, 100, 10, cfg); b.Breached {
		t.Fatalf("z=k 不应触发: %+v", b)
	}

	if b := evalPowerDrift(60, 100, 10, cfg); !b.Breached {
		t.Fatal("向下漂移同样应触发")
	}
}

func TestPowerDriftZeroSpread(t *testing.T) {
	cfg := DefaultConfig()
	if b := evalPowerDrift(100000, 100, 0, cfg); b.Breached {
		t.Fatal("标准差为 0 时不应触发漂移")
	}
}

func TestPowerDriftInfoPayload(t *testing.T) {
	cfg := DefaultConfig()
	b := evalPowerDrift(150, 100, 10, cfg)
	if b.Info["power_w"] != 150 || b.Info["mean_w"] != 100 {
		t.Fatalf("info 应包含测量值与均值: %v", b.Info)
	}
	if b.Info["threshold_w"] != 30 {
		t.Fatalf("info 应包含被突破的阈值: %v", b.Info)
	}
}

func TestOvercurrentBoundaries(t *testing.T) {
	cfg := DefaultConfig() // limit 30A, ratio 0.9
	warnAt := cfg.NearLimitRatio * cfg.CurrentLimit

	if b := evalOvercurrent(warnAt-0.001, cfg); b.Breached {
		t.Fatalf("略低于 0.9*limit 不应触发: %+v", b)
	}

	b := evalOvercurrent(warnAt, cfg)
	if !b.Breached || b.Severity != SeverityWarn {
		t.Fatalf("I == 0.9*limit 应为 warn, 实际 %+v", b)
	}

	b = evalOvercurrent(cfg.CurrentLimit, cfg)
	if !b.Breached || b.Severity != SeverityAlert {
		t.Fatalf("I == limit 应为 alert, 实际 %+v", b)
	}

	if b.Info["limit_a"] != cfg.CurrentLimit {
		t.Fatalf("info 缺少 limit: %v", b.Info)
	}
}

func TestSpikeDeltaAndCeiling(t *testing.T) {
	cfg := DefaultConfig() // delta 10A, ceiling 40A

	if b := evalSpike(9, 0, cfg); b.Breached {
		t.Fatalf("delta 9A 不应触发: %+v", b)
	}

	b := evalSpike(11, 1, cfg)
	if !b.Breached || b.Severity != SeverityAlert {
		t.Fatalf("delta 10A 应为 alert, 实际 %+v", b)
	}
	if b.Info["delta_a"] != 10 {
		t.Fatalf("info 应记录 delta: %v", b.Info)
	}

	// Negative jumps count through their magnitude.
	if b := evalSpike(1, 20, cfg); !b.Breached {
		t.Fatal("负向跳变应触发")
	}

	// Absolute ceiling fires even with a tiny delta.
	if b := evalSpike(41, 40.5, cfg); !b.Breached {
		t.Fatal("超过绝对上限应触发")
	}
}

func TestThermalSeasons(t *testing.T) {
	cfg := DefaultConfig()

	// July, indoor 26 vs outdoor 23: diff 3 reaches the summer alert line.
	b := evalThermal(time.July, 26, 23, 0, false, cfg)
	if !b.Breached || b.Severity != SeverityAlert {
		t.Fatalf("夏季 diff=3 应为 alert, 实际 %+v", b)
	}
	if b.Info["delta_c"] != 3 {
		t.Fatalf("info 应包含温差: %v", b.Info)
	}

	// Same differential in April: no expectation, no evaluation.
	if b := evalThermal(time.April, 26, 23, 0, false, cfg); b.Breached {
		t.Fatalf("4 月不应评估: %+v", b)
	}

	if b := evalThermal(time.June, 24.5, 23, 0, false, cfg); b.Severity != SeverityWarn {
		t.Fatalf("夏季 diff=1.5 应为 warn, 实际 %+v", b)
	}

	// Winter: the room barely warmer than outside is the anomaly.
	if b := evalThermal(time.December, 20, 18, 0, false, cfg); b.Severity != SeverityAlert {
		t.Fatalf("冬季 diff=2 应为 alert, 实际 %+v", b)
	}
	if b := evalThermal(time.January, 22, 18, 0, false, cfg); b.Severity != SeverityWarn {
		t.Fatalf("冬季 diff=4 应为 warn, 实际 %+v", b)
	}
	if b := evalThermal(time.February, 30, 18, 0, false, cfg); b.Breached {
		t.Fatalf("冬季 diff=12 属正常: %+v", b)
	}
}

func TestThermalOccupancyGate(t *testing.T) {
	cfg := DefaultConfig() // occupancy floor 20 lux

	if b := evalThermal(time.July, 30, 20, 5, true, cfg); b.Breached {
		t.Fatal("光照低于占用下限时应抑制")
	}
	if b := evalThermal(time.July, 30, 20, 200, true, cfg); !b.Breached {
		t.Fatal("光照充足时应正常评估")
	}
	// Missing lux leaves the rule active.
	if b := evalThermal(time.July, 30, 20, 0, false, cfg); !b.Breached {
		t.Fatal("缺少光照通道时规则仍应评估")
	}

	cfg.ThermalLuxGate = false
	if b := evalThermal(time.July, 30, 20, 5, true, cfg); !b.Breached {
		t.Fatal("关闭占用门控后不应抑制")
	}
}
