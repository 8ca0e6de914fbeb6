package filter

import (
	"time"

	"github.com/raffitch/flowmeter/pkg/config"
)

// Pipeline chains the four smoothing stages: instantaneous rate, median,
// moving average, exponential. Its state belongs to exactly one calibration
// run and is reset whenever a new run is armed.
type Pipeline struct {
	rate   *RateEstimator
	median *Median
	avg    *MovingAverage
	exp    *Exponential
}

// NewPipeline builds a pipeline from the filter configuration.
func NewPipeline(cfg config.Filter) *Pipeline {
	return &Pipeline{
		rate:   NewRateEstimator(),
		median: NewMedian(cfg.MedianWindow),
		avg:    NewMovingAverage(cfg.AverageWindow),
		exp:    NewExponential(cfg.Alpha),
	}
}

// Update observes a counter value and returns the filtered rate. ok is
// false when the observation produced no rate sample (first observation or
// zero delta).
func (p *Pipeline) Update(count uint64, t time.Time) (filtered float64, ok bool) {
	raw, ok := p.rate.Update(count, t)
	if !ok {
		return 0, false
	}
	return p.exp.Update(p.avg.Update(p.median.Update(raw))), true
}

// Reset clears every stage so no state leaks into the next run.
func (p *Pipeline) Reset() {
	p.rate.Reset()
	p.median.Reset()
	p.avg.Reset()
	p.exp.Reset()
}
