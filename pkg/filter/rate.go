package filter

import "time"

// RateEstimator converts a monotonically increasing counter sampled at
// irregular intervals into an instantaneous rate. Observations where the
// counter did not change produce no rate sample, so genuinely idle periods
// do not bias downstream averages toward zero.
type RateEstimator struct {
	prevCount uint64
	prevTime  time.Time
	primed    bool
}

// NewRateEstimator creates an empty estimator.
func NewRateEstimator() *RateEstimator {
	return &RateEstimator{}
}

// Update observes a counter value. ok is false for the first observation,
// for zero-delta observations, and for non-positive elapsed time. A counter
// that went backwards (device reset) re-primes the baseline instead of
// producing a negative rate.
func (r *RateEstimator) Update(count uint64, t time.Time) (rate float64, ok bool) {
	if !r.primed {
		r.prevCount = count
		r.prevTime = t
		r.primed = true
		return 0, false
	}

	elapsed := t.Sub(r.prevTime).Seconds()
	delta := int64(count) - int64(r.prevCount)

	r.prevCount = count
	r.prevTime = t

	if delta <= 0 || elapsed <= 0 {
		return 0, false
	}
	return float64(delta) / elapsed, true
}

// Reset clears the baseline; the next observation primes it again.
func (r *RateEstimator) Reset() {
	r.primed = false
	r.prevCount = 0
	r.prevTime = time.Time{}
}
