package detector

import (
	"math"
	"time"
)

// Reading is one timestamped observation with zero or more canonical
// channels. Channels the sensor did not report are simply absent.
type Reading struct {
	Timestamp time.Time
	Values    map[Channel]float64
}

// Value returns the channel value when it is present and finite. Non-finite
// values are treated as absent so a bad sample never reaches a rule.
func (r Reading) Value(ch Channel) (float64, bool) {
	v, ok := r.Values[ch]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Has reports whether the channel carries a usable value.
func (r Reading) Has(ch Channel) bool {
	_, ok := r.Value(ch)
	return ok
}
