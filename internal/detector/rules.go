package detector

import (
	"fmt"
	"math"
	"time"
)

// Severity grades a breach. Ordering matters: an event's severity only ever
// moves upward while it is open.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityWarn
	SeverityAlert
)

func (s Severity) String() string {
	switch s {
	case SeverityWarn:
		return "warn"
	case SeverityAlert:
		return "alert"
	default:
		return "none"
	}
}

// ParseSeverity converts the wire form back into a Severity.
func ParseSeverity(raw string) (Severity, error) {
	switch raw {
	case "none":
		return SeverityNone, nil
	case "warn":
		return SeverityWarn, nil
	case "alert":
		return SeverityAlert, nil
	default:
		return SeverityNone, fmt.Errorf("unknown severity %q", raw)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(b []byte) error {
	sev, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = sev
	return nil
}

// Rule tags one detection rule.
type Rule string

const (
	RulePowerDrift  Rule = "power_drift"
	RuleOvercurrent Rule = "overcurrent"
	RuleSpike       Rule = "current_spike"
	RuleThermal     Rule = "thermal_seasonal"
)

// ruleOrder fixes the evaluation sequence within one tick.
var ruleOrder = []Rule{RulePowerDrift, RuleOvercurrent, RuleSpike, RuleThermal}

// Rules lists every rule the engine runs.
func Rules() []Rule {
	out := make([]Rule, len(ruleOrder))
	copy(out, ruleOrder)
	return out
}

// ParseRule converts the wire form back into a Rule.
func ParseRule(raw string) (Rule, error) {
	switch Rule(raw) {
	case RulePowerDrift, RuleOvercurrent, RuleSpike, RuleThermal:
		return Rule(raw), nil
	default:
		return "", fmt.Errorf("unknown rule %q", raw)
	}
}

// Breach is the per-tick verdict of one rule evaluation. It is never
// retained past the tick that produced it.
type Breach struct {
	Breached bool
	Severity Severity
	Info     map[string]float64
}

// evalPowerDrift flags power readings that stray from the EWMA baseline by
// more than k standard deviations. With zero spread there is no breach.
func evalPowerDrift(power, mean, stdev float64, cfg Config) Breach {
	if stdev <= 0 {
		return Breach{}
	}
	dev := math.Abs(power - mean)
	threshold := cfg.DriftK * stdev
	if dev <= threshold {
		return Breach{}
	}
	sev := SeverityWarn
	if dev > cfg.DriftK*cfg.DriftAlertFactor*stdev {
		sev = SeverityAlert
	}
	return Breach{
		Breached: true,
		Severity: sev,
		Info: map[string]float64{
			"power_w":     power,
			"mean_w":      mean,
			"stdev_w":     stdev,
			"z":           dev / stdev,
			"threshold_w": threshold,
		},
	}
}

// evalOvercurrent grades derived current against the configured limit.
// Warn starts at nearRatio*limit, alert at the limit itself.
func evalOvercurrent(current float64, cfg Config) Breach {
	warnAt := cfg.NearLimitRatio * cfg.CurrentLimit
	if current < warnAt {
		return Breach{}
	}
	sev := SeverityWarn
	if current >= cfg.CurrentLimit {
		sev = SeverityAlert
	}
	return Breach{
		Breached: true,
		Severity: sev,
		Info: map[string]float64{
			"current_a": current,
			"limit_a":   cfg.CurrentLimit,
			"warn_a":    warnAt,
			"ratio":     current / cfg.CurrentLimit,
		},
	}
}

// evalSpike compares the derived current against the immediately preceding
// one. A large two-sample delta, or a current past the absolute ceiling,
// is an alert; spikes carry no warn tier.
func evalSpike(current, prev float64, cfg Config) Breach {
	delta := current - prev
	deltaHit := math.Abs(delta) >= cfg.SpikeDelta
	ceilingHit := cfg.SpikeAbsCeiling > 0 && current >= cfg.SpikeAbsCeiling
	if !deltaHit && !ceilingHit {
		return Breach{}
	}
	return Breach{
		Breached: true,
		Severity: SeverityAlert,
		Info: map[string]float64{
			"delta_a":        delta,
			"current_a":      current,
			"prev_current_a": prev,
			"threshold_a":    cfg.SpikeDelta,
		},
	}
}

// evalThermal checks the indoor/outdoor differential against seasonal
// expectations. When the occupancy gate is on and the room is dark, the rule
// stays silent for the tick. Months outside summer and winter carry no
// expectation at all.
func evalThermal(month time.Month, indoor, outdoor, lux float64, hasLux bool, cfg Config) Breach {
	if cfg.ThermalLuxGate && hasLux && lux < cfg.OccupancyLux {
		return Breach{}
	}

	diff := indoor - outdoor
	info := map[string]float64{
		"indoor_c":  indoor,
		"outdoor_c": outdoor,
		"delta_c":   diff,
	}

	var sev Severity
	switch month {
	case time.June, time.July, time.August:
		info["warn_c"] = cfg.SummerWarn
		info["alert_c"] = cfg.SummerAlert
		switch {
		case diff >= cfg.SummerAlert:
			sev = SeverityAlert
		case diff >= cfg.SummerWarn:
			sev = SeverityWarn
		}
	case time.December, time.January, time.February:
		info["warn_c"] = cfg.WinterWarn
		info["alert_c"] = cfg.WinterAlert
		switch {
		case diff <= cfg.WinterAlert:
			sev = SeverityAlert
		case diff <= cfg.WinterWarn:
			sev = SeverityWarn
		}
	default:
		return Breach{}
	}

	if sev == SeverityNone {
		return Breach{}
	}
	return Breach{Breached: true, Severity: sev, Info: info}
}
