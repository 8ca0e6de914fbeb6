// Package run implements the host-side calibration run controller: a state
// machine that arms on a start request, begins capturing on first sensor
// activity, feeds frames through the smoothing pipeline, and stops on an
// explicit command, a reached target, a time limit, or inactivity.
package run

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/raffitch/flowmeter/pkg/config"
	"github.com/raffitch/flowmeter/pkg/device"
	"github.com/raffitch/flowmeter/pkg/filter"
)

// weightEpsilon is the smallest grams difference treated as scale activity.
// Frames carry one decimal of weight, so anything below half a tenth is
// formatting noise, not flow.
const weightEpsilon = 0.05

var (
	// ErrRunActive is returned by Start while a run is armed or running. A
	// start never overwrites an in-progress run's samples.
	ErrRunActive = errors.New("a run is already armed or running")
	// ErrNoRun is returned by Stop when nothing is armed or running.
	ErrNoRun = errors.New("no run is armed or running")
)

// Target bounds a run. Zero values mean unbounded: the run ends on an
// explicit stop, the time limit, or inactivity.
type Target struct {
	Volume float64 // Liters of flow to capture
	Mass   float64 // Grams of weight gain to capture
}

// SamplePoint is one filtered-rate sample of the current run.
type SamplePoint struct {
	T    float64 // Seconds since flow start
	Rate float64 // Filtered pulses per second
}

// Result is the finalized outcome of one calibration run.
type Result struct {
	Delta          uint64  // Pulses counted since the running baseline
	Elapsed        float64 // Seconds of active flow
	PulsesPerLiter float64 // Delta divided by the target volume (or delta for unbounded runs)
	Volume         float64 // Liters dispensed per the configured calibration
	Reason         StopReason
	Samples        []SamplePoint
}

// Controller serializes run-state transitions against incoming frames and
// client commands. All transitions go through one mutex; a stop or reset is
// never deferred behind buffered frames.
type Controller struct {
	mu  sync.Mutex
	cfg *config.Config

	pipeline *filter.Pipeline

	state  State
	target Target

	armTime   time.Time
	startTime time.Time

	baseline       uint64 // Counter value when the run armed (or re-armed after reset)
	baselineKnown  bool
	lastCount      uint64 // Most recent counter observation, tracked in every state
	lastKnown      bool
	lastGrams      float64 // Most recent weight observation
	lastGramsKnown bool
	lastChange     time.Time // Most recent pulse or weight change (or arm time)

	startGrams      float64
	startGramsKnown bool

	samples []SamplePoint

	cbMu     sync.RWMutex
	onResult []func(Result)
	onState  []func(State)
}

// New creates a controller in the Idle state.
func New(cfg *config.Config) *Controller {
	return &Controller{
		cfg:      cfg,
		pipeline: filter.NewPipeline(cfg.Filter),
		state:    Idle,
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Samples returns a copy of the current run's sample sequence.
func (c *Controller) Samples() []SamplePoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SamplePoint, len(c.samples))
	copy(out, c.samples)
	return out
}

// OnResult registers a callback invoked once per finalized run.
func (c *Controller) OnResult(fn func(Result)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onResult = append(c.onResult, fn)
}

// OnState registers a callback invoked on every state transition.
func (c *Controller) OnState(fn func(State)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onState = append(c.onState, fn)
}

// Start arms a new run with the given target. The pipeline and sample
// buffer are reset; the previous run must have reached Stopped first.
func (c *Controller) Start(target Target) error {
	c.mu.Lock()

	if c.state == Armed || c.state == Running {
		c.mu.Unlock()
		return ErrRunActive
	}

	now := time.Now()
	c.pipeline.Reset()
	c.samples = c.samples[:0]
	c.target = target
	c.armTime = now
	c.lastChange = now
	c.startGramsKnown = false
	c.baseline = c.lastCount
	c.baselineKnown = c.lastKnown
	c.state = Armed

	c.mu.Unlock()
	c.notifyState(Armed)
	return nil
}

// Stop ends the current run manually.
func (c *Controller) Stop() error {
	c.mu.Lock()

	if c.state != Armed && c.state != Running {
		c.mu.Unlock()
		return ErrNoRun
	}

	res := c.stopLocked(ReasonManual, time.Now())
	c.mu.Unlock()
	c.notifyStopped(res)
	return nil
}

// NoteReset records that the device acknowledged a counter reset. A reset
// while Armed keeps the pending start intent: the controller stays Armed
// and the next activity is measured from the cleared baseline.
func (c *Controller) NoteReset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastCount = 0
	c.lastKnown = true
	if c.state == Armed || c.state == Running {
		c.baseline = 0
		c.baselineKnown = true
	}
}

// Observe ingests one device frame. Frames are processed in arrival order;
// transitions triggered here use the frame's timestamp so elapsed time
// reflects the flow, not host scheduling.
func (c *Controller) Observe(f device.Frame) {
	c.mu.Lock()

	changed := !c.lastKnown || f.Pulses != c.lastCount
	c.lastCount = f.Pulses
	c.lastKnown = true

	// Weight is a monitored quantity too: a scale that moves while the
	// counter is static still counts as activity.
	prevGrams, prevGramsKnown := c.lastGrams, c.lastGramsKnown
	weightChanged := f.HasWeight && prevGramsKnown &&
		math.Abs(f.Grams-prevGrams) > weightEpsilon
	if f.HasWeight {
		c.lastGrams = f.Grams
		c.lastGramsKnown = true
	}

	var stoppedRes *Result
	started := false

	switch c.state {
	case Idle, Stopped:
		// Frames keep tracking the counter for the next run's baseline.

	case Armed:
		if !c.baselineKnown {
			// First frame ever observed becomes the baseline.
			c.baseline = f.Pulses
			c.baselineKnown = true
			break
		}
		if f.Pulses != c.baseline || weightChanged {
			c.startRunningLocked(f)
			started = true
			// Like the pulse baseline, the start weight is the reading
			// before the frame that started the run.
			if prevGramsKnown {
				c.startGrams = prevGrams
				c.startGramsKnown = true
			}
			// A buffered backlog can flush as one frame that already
			// satisfies the target; stop in the same observation.
			if reason, hit := c.stopConditionLocked(f); hit {
				res := c.stopLocked(reason, f.Timestamp)
				stoppedRes = &res
			}
		}

	case Running:
		if changed || weightChanged {
			c.lastChange = f.Timestamp
		}
		if f.Pulses < c.baseline {
			// Counter went backwards without a reset ack; rebaseline
			// rather than produce a bogus negative delta.
			c.baseline = 0
		}
		if rate, ok := c.pipeline.Update(f.Pulses, f.Timestamp); ok {
			c.samples = append(c.samples, SamplePoint{
				T:    f.Timestamp.Sub(c.startTime).Seconds(),
				Rate: rate,
			})
		}
		if reason, hit := c.stopConditionLocked(f); hit {
			res := c.stopLocked(reason, f.Timestamp)
			stoppedRes = &res
		}
	}

	c.mu.Unlock()
	if started {
		c.notifyState(Running)
	}
	if stoppedRes != nil {
		c.notifyStopped(*stoppedRes)
	}
}

// CheckInactivity applies the time-driven stop conditions. The caller ticks
// it periodically; it covers frame droughts that Observe never sees.
func (c *Controller) CheckInactivity(now time.Time) {
	c.mu.Lock()

	var stoppedRes *Result

	switch c.state {
	case Armed:
		if now.Sub(c.lastChange) >= c.cfg.Run.AutoStopWindow {
			res := c.stopLocked(ReasonInactivity, now)
			stoppedRes = &res
		}
	case Running:
		if now.Sub(c.lastChange) >= c.cfg.Run.AutoStopWindow {
			res := c.stopLocked(ReasonInactivity, now)
			stoppedRes = &res
		} else if now.Sub(c.startTime) >= c.cfg.Run.MaxDuration {
			res := c.stopLocked(ReasonTimeLimit, now)
			stoppedRes = &res
		}
	}

	c.mu.Unlock()
	if stoppedRes != nil {
		c.notifyStopped(*stoppedRes)
	}
}

// Abandon discards an in-progress run without emitting a result, e.g. on
// transport loss. No partial-result synthesis.
func (c *Controller) Abandon() {
	c.mu.Lock()
	changed := c.state == Armed || c.state == Running
	if changed {
		c.state = Idle
		c.pipeline.Reset()
		c.samples = c.samples[:0]
	}
	c.mu.Unlock()
	if changed {
		c.notifyState(Idle)
	}
}

// startRunningLocked transitions Armed to Running on the first activity
// frame. The start time is the activity time, not the arm time, so elapsed
// reflects only active flow.
func (c *Controller) startRunningLocked(f device.Frame) {
	c.state = Running
	c.startTime = f.Timestamp
	c.lastChange = f.Timestamp
	if f.HasWeight {
		c.startGrams = f.Grams
		c.startGramsKnown = true
	}
	// Prime the rate estimator with the first active observation.
	c.pipeline.Update(f.Pulses, f.Timestamp)
}

// stopConditionLocked evaluates the frame-driven stop conditions.
func (c *Controller) stopConditionLocked(f device.Frame) (StopReason, bool) {
	delta := c.deltaLocked()

	if c.target.Volume > 0 && float64(delta) >= c.target.Volume*c.cfg.Device.PulsesPerLiter {
		return ReasonTarget, true
	}
	if c.target.Mass > 0 && f.HasWeight && c.startGramsKnown && f.Grams-c.startGrams >= c.target.Mass {
		return ReasonTarget, true
	}
	if f.Timestamp.Sub(c.startTime) >= c.cfg.Run.MaxDuration {
		return ReasonTimeLimit, true
	}
	return "", false
}

func (c *Controller) deltaLocked() uint64 {
	if c.state != Running || c.lastCount < c.baseline {
		return 0
	}
	return c.lastCount - c.baseline
}

// stopLocked finalizes the run and computes its result exactly once.
func (c *Controller) stopLocked(reason StopReason, at time.Time) Result {
	delta := c.deltaLocked()

	var elapsed float64
	if c.state == Running {
		elapsed = at.Sub(c.startTime).Seconds()
	}

	ppl := float64(delta)
	if c.target.Volume > 0 {
		ppl = float64(delta) / c.target.Volume
	}

	samples := make([]SamplePoint, len(c.samples))
	copy(samples, c.samples)

	c.state = Stopped

	return Result{
		Delta:          delta,
		Elapsed:        elapsed,
		PulsesPerLiter: ppl,
		Volume:         float64(delta) / c.cfg.Device.PulsesPerLiter,
		Reason:         reason,
		Samples:        samples,
	}
}

// notifyStopped delivers the state change and the result without holding
// the state mutex.
func (c *Controller) notifyStopped(res Result) {
	c.notifyState(Stopped)

	c.cbMu.RLock()
	cbs := make([]func(Result), len(c.onResult))
	copy(cbs, c.onResult)
	c.cbMu.RUnlock()

	for _, cb := range cbs {
		if cb != nil {
			cb(res)
		}
	}
}

func (c *Controller) notifyState(s State) {
	c.cbMu.RLock()
	cbs := make([]func(State), len(c.onState))
	copy(cbs, c.onState)
	c.cbMu.RUnlock()

	for _, cb := range cbs {
		if cb != nil {
			cb(s)
		}
	}
}
