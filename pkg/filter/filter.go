// Package filter implements the host-side smoothing pipeline that turns a
// raw increasing pulse counter into a denoised instantaneous rate: median
// filter, short moving average, then exponential smoothing.
package filter

import "sort"

// Median is a sliding-window median filter. The window length must be odd;
// it removes single-sample spikes without lagging the signal the way an
// average does.
type Median struct {
	window []float64
	size   int
	sorted []float64
}

// NewMedian creates a median filter with the given window size. Even sizes
// are grown by one.
func NewMedian(size int) *Median {
	if size < 1 {
		size = 1
	}
	if size%2 == 0 {
		size++
	}
	return &Median{
		window: make([]float64, 0, size),
		size:   size,
		sorted: make([]float64, 0, size),
	}
}

// Update pushes a value and returns the median of the current window.
// While the window is filling, the median of what is present is returned.
func (m *Median) Update(v float64) float64 {
	if len(m.window) == m.size {
		m.window = m.window[1:]
	}
	m.window = append(m.window, v)

	m.sorted = append(m.sorted[:0], m.window...)
	sort.Float64s(m.sorted)
	return m.sorted[(len(m.sorted)-1)/2]
}

// Reset clears the window.
func (m *Median) Reset() {
	m.window = m.window[:0]
}

// MovingAverage is a simple sliding-window mean, sized to roughly one
// second of samples at the expected frame interval.
type MovingAverage struct {
	window []float64
	size   int
	sum    float64
}

// NewMovingAverage creates a moving average with the given window size.
func NewMovingAverage(size int) *MovingAverage {
	if size < 1 {
		size = 1
	}
	return &MovingAverage{
		window: make([]float64, 0, size),
		size:   size,
	}
}

// Update pushes a value and returns the mean of the current window.
func (a *MovingAverage) Update(v float64) float64 {
	if len(a.window) == a.size {
		a.sum -= a.window[0]
		a.window = a.window[1:]
	}
	a.window = append(a.window, v)
	a.sum += v
	return a.sum / float64(len(a.window))
}

// Reset clears the window.
func (a *MovingAverage) Reset() {
	a.window = a.window[:0]
	a.sum = 0
}

// Exponential is a first-order exponential smoother:
// filtered = alpha*x + (1-alpha)*filtered_prev. The first value initializes
// the accumulator directly.
type Exponential struct {
	alpha       float64
	value       float64
	initialized bool
}

// NewExponential creates an exponential smoother. Alpha trades
// responsiveness against noise rejection.
func NewExponential(alpha float64) *Exponential {
	if alpha <= 0 || alpha > 1 {
		alpha = 1
	}
	return &Exponential{alpha: alpha}
}

// Update pushes a value and returns the smoothed output.
func (e *Exponential) Update(v float64) float64 {
	if !e.initialized {
		e.value = v
		e.initialized = true
		return v
	}
	e.value = e.alpha*v + (1-e.alpha)*e.value
	return e.value
}

// Reset clears the accumulator.
func (e *Exponential) Reset() {
	e.value = 0
	e.initialized = false
}
