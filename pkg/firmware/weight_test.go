package firmware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock returns manually advanced time; stepMS > 0 makes every NowMillis
// call tick forward so bounded busy-waits terminate in tests.
type fakeClock struct {
	ms     uint64
	stepMS uint64
}

func (c *fakeClock) NowMicros() uint64 { return c.NowMillis() * 1000 }
func (c *fakeClock) NowMillis() uint64 {
	c.ms += c.stepMS
	return c.ms
}
func (c *fakeClock) advance(ms uint64) { c.ms += ms }

// fakeReader serves raw readings from a queue. readyReads limits how many
// reads the amplifier will serve before going dead (-1 = always ready).
type fakeReader struct {
	values     []int32
	idx        int
	readyReads int
}

func (r *fakeReader) Ready() bool { return r.readyReads != 0 }
func (r *fakeReader) ReadRaw() int32 {
	if r.readyReads > 0 {
		r.readyReads--
	}
	v := r.values[r.idx%len(r.values)]
	r.idx++
	return v
}

func TestWeightSampler_NeverReady(t *testing.T) {
	clock := &fakeClock{stepMS: 100}
	reader := &fakeReader{values: []int32{0}, readyReads: 0}
	w := NewWeightSampler(reader, clock, 420)

	ok := w.Init(DefaultReadyTimeoutMillis)

	assert.False(t, ok)
	assert.False(t, w.Available())

	_, sampleOK := w.Sample()
	assert.False(t, sampleOK, "unavailable sampler must omit weight, not error")
}

func TestWeightSampler_TareThenZero(t *testing.T) {
	clock := &fakeClock{}
	reader := &fakeReader{values: []int32{8000}, readyReads: -1}
	w := NewWeightSampler(reader, clock, 420)

	require.True(t, w.Init(DefaultReadyTimeoutMillis))

	// Untouched sensor right after tare reads within epsilon of zero.
	grams, ok := w.Sample()
	require.True(t, ok)
	assert.InDelta(t, 0.0, grams, 0.001)
}

func TestWeightSampler_Conversion(t *testing.T) {
	clock := &fakeClock{}
	reader := &fakeReader{values: []int32{8000}, readyReads: -1}
	w := NewWeightSampler(reader, clock, 420)
	require.True(t, w.Init(DefaultReadyTimeoutMillis))

	// 50g load: raw = offset + grams*slope.
	reader.values = []int32{8000 + 50*420}
	grams, ok := w.Sample()
	require.True(t, ok)
	assert.InDelta(t, 50.0, grams, 0.01)
}

func TestWeightSampler_NegativeSlope(t *testing.T) {
	clock := &fakeClock{}
	reader := &fakeReader{values: []int32{8000}, readyReads: -1}
	w := NewWeightSampler(reader, clock, -420)
	require.True(t, w.Init(DefaultReadyTimeoutMillis))

	reader.values = []int32{8000 - 50*420}
	grams, ok := w.Sample()
	require.True(t, ok)
	assert.InDelta(t, 50.0, grams, 0.01)
}

func TestWeightSampler_AveragesReads(t *testing.T) {
	clock := &fakeClock{}
	// Tare over a noisy baseline averages out.
	reader := &fakeReader{values: []int32{7990, 8010}, readyReads: -1}
	w := NewWeightSampler(reader, clock, 420)
	require.True(t, w.Init(DefaultReadyTimeoutMillis))

	grams, ok := w.Sample()
	require.True(t, ok)
	assert.InDelta(t, 0.0, grams, 0.01)
}

func TestWeightSampler_DiesMidRun(t *testing.T) {
	clock := &fakeClock{stepMS: 1}
	// Enough reads for init+tare, then the amplifier stops responding.
	reader := &fakeReader{values: []int32{8000}, readyReads: TareReads}
	w := NewWeightSampler(reader, clock, 420)
	require.True(t, w.Init(DefaultReadyTimeoutMillis))

	// The bounded per-read wait gives up instead of stalling the frame loop.
	_, ok := w.Sample()
	assert.False(t, ok)
	assert.True(t, w.Available(), "a missed sample does not disable the sampler")
}

func TestWeightSampler_RetareShiftsOffset(t *testing.T) {
	clock := &fakeClock{}
	reader := &fakeReader{values: []int32{8000}, readyReads: -1}
	w := NewWeightSampler(reader, clock, 420)
	require.True(t, w.Init(DefaultReadyTimeoutMillis))

	// A container placed on the scale, then tared away.
	reader.values = []int32{8000 + 100*420}
	w.Tare()

	grams, ok := w.Sample()
	require.True(t, ok)
	assert.InDelta(t, 0.0, grams, 0.01)
}

func TestWeightSampler_NilReader(t *testing.T) {
	w := NewWeightSampler(nil, &fakeClock{}, 420)
	assert.False(t, w.Init(DefaultReadyTimeoutMillis))
	assert.False(t, w.Available())
}
