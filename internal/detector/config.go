package detector

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"time"
)

// Config carries every tunable of the detection core. It is fixed at engine
// construction and shared read-only by all rule evaluations.
type Config struct {
	// Alpha is the EWMA smoothing factor. When zero it is derived from
	// HalfLifeSamples; an explicit Alpha wins over the half-life.
	Alpha           float64 `json:"alpha" mapstructure:"alpha"`
	HalfLifeSamples int     `json:"half_life_samples,omitempty" mapstructure:"half_life_samples"`

	// WarmupMinSamples is how many accepted samples an estimator needs
	// before estimator-backed rules may fire.
	WarmupMinSamples int `json:"warmup_min_samples" mapstructure:"warmup_min_samples"`

	DriftK           float64 `json:"drift_k" mapstructure:"drift_k"`
	DriftAlertFactor float64 `json:"drift_alert_factor" mapstructure:"drift_alert_factor"`

	MinDuration time.Duration `json:"min_duration" mapstructure:"min_duration"`
	Cooldown    time.Duration `json:"cooldown" mapstructure:"cooldown"`

	LineVoltage     float64 `json:"line_voltage" mapstructure:"line_voltage"`
	CurrentLimit    float64 `json:"current_limit" mapstructure:"current_limit"`
	NearLimitRatio  float64 `json:"near_limit_ratio" mapstructure:"near_limit_ratio"`
	SpikeDelta      float64 `json:"spike_delta" mapstructure:"spike_delta"`
	SpikeAbsCeiling float64 `json:"spike_abs_ceiling" mapstructure:"spike_abs_ceiling"`

	SummerWarn  float64 `json:"summer_warn" mapstructure:"summer_warn"`
	SummerAlert float64 `json:"summer_alert" mapstructure:"summer_alert"`
	WinterWarn  float64 `json:"winter_warn" mapstructure:"winter_warn"`
	WinterAlert float64 `json:"winter_alert" mapstructure:"winter_alert"`

	OccupancyLux   float64 `json:"occupancy_lux" mapstructure:"occupancy_lux"`
	ThermalLuxGate bool    `json:"thermal_lux_gate" mapstructure:"thermal_lux_gate"`
}

// DefaultConfig returns the tuning used by the reference household setup.
func DefaultConfig() Config {
	return Config{
		Alpha:            0.2,
		WarmupMinSamples: 12,
		DriftK:           3.0,
		DriftAlertFactor: 1.5,
		MinDuration:      10 * time.Second,
		Cooldown:         30 * time.Second,
		LineVoltage:      220.0,
		CurrentLimit:     30.0,
		NearLimitRatio:   0.9,
		SpikeDelta:       10.0,
		SpikeAbsCeiling:  40.0,
		SummerWarn:       1.0,
		SummerAlert:      3.0,
		WinterWarn:       5.0,
		WinterAlert:      3.0,
		OccupancyLux:     20.0,
		ThermalLuxGate:   true,
	}
}

// SmoothingAlpha resolves the effective EWMA factor, deriving it from the
// half-life (alpha = 1 - 0.5^(1/h)) when no explicit alpha is configured.
func (c Config) SmoothingAlpha() float64 {
	if c.Alpha > 0 {
		return c.Alpha
	}
	if c.HalfLifeSamples > 0 {
		return 1 - math.Pow(0.5, 1/float64(c.HalfLifeSamples))
	}
	return 0
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	alpha := c.SmoothingAlpha()
	if alpha <= 0 || alpha > 1 {
		return fmt.Errorf("detector alpha must be in (0,1], got %v (half_life_samples=%d)", c.Alpha, c.HalfLifeSamples)
	}
	if c.WarmupMinSamples < 1 {
		return fmt.Errorf("detector warmup_min_samples must be >= 1")
	}
	if c.DriftK <= 0 {
		return fmt.Errorf("detector drift_k must be positive")
	}
	if c.DriftAlertFactor < 1 {
		return fmt.Errorf("detector drift_alert_factor must be >= 1")
	}
	if c.MinDuration < 0 {
		return fmt.Errorf("detector min_duration must not be negative")
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("detector cooldown must not be negative")
	}
	if c.LineVoltage <= 0 {
		return fmt.Errorf("detector line_voltage must be positive")
	}
	if c.CurrentLimit <= 0 {
		return fmt.Errorf("detector current_limit must be positive")
	}
	if c.NearLimitRatio <= 0 || c.NearLimitRatio > 1 {
		return fmt.Errorf("detector near_limit_ratio must be in (0,1]")
	}
	if c.SpikeDelta <= 0 {
		return fmt.Errorf("detector spike_delta must be positive")
	}
	if c.SpikeAbsCeiling < 0 {
		return fmt.Errorf("detector spike_abs_ceiling must not be negative")
	}
	if c.OccupancyLux < 0 {
		return fmt.Errorf("detector occupancy_lux must not be negative")
	}
	return nil
}

// Fingerprint hashes the full configuration. Baseline snapshots remember it
// so estimator state is only restored under the tuning that produced it.
func (c Config) Fingerprint() string {
	raw, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	h := fnv.New64a()
	h.Write(raw)
	return fmt.Sprintf("%016x", h.Sum64())
}
