package detector

import (
	"fmt"
	"math"
)

// EstimatorState is the persistable part of an Estimator.
type EstimatorState struct {
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
	Samples  int64   `json:"samples"`
}

// Estimator keeps an exponentially-weighted mean and variance for a single
// channel, updated one sample at a time.
type Estimator struct {
	alpha  float64
	warmup int64
	state  EstimatorState
}

// NewEstimator 创建一个冷启动的指数加权估计器。
func NewEstimator(alpha float64, warmupMinSamples int) *Estimator {
	return &Estimator{alpha: alpha, warmup: int64(warmupMinSamples)}
}

// Update folds one sample into the estimate and returns the new mean, the
// new standard deviation, and whether the estimator has warmed up. A
// non-finite sample is dropped: the previous state is returned untouched and
// the warm-up counter does not advance.
func (e *Estimator) Update(x float64) (mean, stdev float64, warm bool) {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return e.state.Mean, e.Stdev(), e.Warm()
	}

	if e.state.Samples == 0 {
		e.state.Mean = x
		e.state.Variance = 0
	} else {
		e.state.Mean = e.alpha*x + (1-e.alpha)*e.state.Mean
		d := x - e.state.Mean
		e.state.Variance = e.alpha*d*d + (1-e.alpha)*e.state.Variance
	}
	if e.state.Samples < math.MaxInt64 {
		e.state.Samples++
	}
	return e.state.Mean, e.Stdev(), e.Warm()
}

// Mean returns the current exponential mean (zero while unseeded).
func (e *Estimator) Mean() float64 { return e.state.Mean }

// Stdev returns the square root of the exponential variance.
func (e *Estimator) Stdev() float64 { return math.Sqrt(e.state.Variance) }

// Samples returns how many samples have been accepted.
func (e *Estimator) Samples() int64 { return e.state.Samples }

// Warm reports whether enough samples have arrived for dependent rules.
func (e *Estimator) Warm() bool { return e.state.Samples >= e.warmup }

// State snapshots the estimator for persistence.
func (e *Estimator) State() EstimatorState { return e.state }

// Restore replaces the estimator state with a previously persisted one.
func (e *Estimator) Restore(s EstimatorState) error {
	if math.IsNaN(s.Mean) || math.IsInf(s.Mean, 0) {
		return fmt.Errorf("estimator mean is not finite")
	}
	if s.Variance < 0 || math.IsNaN(s.Variance) || math.IsInf(s.Variance, 0) {
		return fmt.Errorf("estimator variance %v is invalid", s.Variance)
	}
	if s.Samples < 0 {
		return fmt.Errorf("estimator sample count %d is negative", s.Samples)
	}
	e.state = s
	return nil
}
