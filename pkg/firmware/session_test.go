package firmware

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeValve struct {
	open bool
}

func (v *fakeValve) Open()  { v.open = true }
func (v *fakeValve) Close() { v.open = false }

// byteQueue feeds command bytes the way a UART receive buffer does.
type byteQueue struct {
	data []byte
}

func (q *byteQueue) Buffered() int { return len(q.data) }
func (q *byteQueue) ReadByte() (byte, error) {
	if len(q.data) == 0 {
		return 0, io.EOF
	}
	b := q.data[0]
	q.data = q.data[1:]
	return b, nil
}
func (q *byteQueue) push(b ...byte) { q.data = append(q.data, b...) }

func newTestSession(withWeight bool) (*Session, *PulseCounter, *fakeClock, *byteQueue, *fakeValve, *bytes.Buffer) {
	clock := &fakeClock{}
	gate := &fakeGate{}
	counter := NewPulseCounter(gate, 1000)
	var sampler *WeightSampler
	if withWeight {
		sampler = NewWeightSampler(&fakeReader{values: []int32{8000}, readyReads: -1}, clock, 420)
	}
	in := &byteQueue{}
	out := &bytes.Buffer{}
	valve := &fakeValve{}
	sess := NewSession(counter, sampler, valve, clock, in, out, 200)
	return sess, counter, clock, in, valve, out
}

func lines(out *bytes.Buffer) []string {
	return strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
}

func TestSession_BeginEmitsReady(t *testing.T) {
	sess, _, _, _, _, out := newTestSession(false)

	sess.Begin()

	assert.Equal(t, []string{"ready"}, lines(out))
}

func TestSession_BeginWeightError(t *testing.T) {
	clock := &fakeClock{stepMS: 100}
	counter := NewPulseCounter(&fakeGate{}, 0)
	sampler := NewWeightSampler(&fakeReader{values: []int32{0}, readyReads: 0}, clock, 420)
	out := &bytes.Buffer{}
	sess := NewSession(counter, sampler, &fakeValve{}, clock, &byteQueue{}, out, 200)

	sess.Begin()

	assert.Equal(t, []string{"weight-error", "ready"}, lines(out))
}

func TestSession_PeriodicFrame(t *testing.T) {
	sess, counter, clock, _, _, out := newTestSession(false)
	sess.Begin()
	out.Reset()

	counter.HandleEdge(2000)
	counter.HandleEdge(4000)

	// Below the interval: no frame yet.
	clock.advance(100)
	sess.Step()
	assert.Empty(t, out.String())

	clock.advance(150)
	sess.Step()
	got := lines(out)
	require.Len(t, got, 1)
	fields := strings.Split(got[0], ",")
	require.Len(t, fields, 2, "no weight sensor, no weight field")
	assert.Equal(t, "2", fields[1])
}

func TestSession_FrameWithWeight(t *testing.T) {
	sess, _, clock, _, _, out := newTestSession(true)
	sess.Begin()
	out.Reset()

	clock.advance(250)
	sess.Step()

	got := lines(out)
	require.Len(t, got, 1)
	fields := strings.Split(got[0], ",")
	require.Len(t, fields, 3)
	assert.Equal(t, "0.0", fields[2])
}

func TestSession_ResetCommand(t *testing.T) {
	sess, counter, _, in, _, out := newTestSession(false)
	sess.Begin()
	out.Reset()

	counter.HandleEdge(2000)
	counter.HandleEdge(4000)
	in.push('r')

	sess.Step()

	got := lines(out)
	require.Len(t, got, 2)
	assert.Equal(t, "reset-ack", got[0])
	// Out-of-cycle frame reflects the cleared count immediately.
	assert.True(t, strings.HasSuffix(got[1], ",0"), "frame %q should report zero pulses", got[1])
	assert.Equal(t, uint32(0), counter.Count())
}

func TestSession_ResetDrainedBeforeTick(t *testing.T) {
	sess, counter, clock, in, _, out := newTestSession(false)
	sess.Begin()
	out.Reset()

	counter.HandleEdge(2000)
	// The reset arrives just before the frame timer fires: the tick that
	// follows must already report zero.
	in.push('r')
	clock.advance(250)

	sess.Step()

	for _, line := range lines(out) {
		if strings.Contains(line, ",") {
			assert.True(t, strings.HasSuffix(line, ",0"), "frame %q emitted before reset drained", line)
		}
	}
}

func TestSession_ValveCommands(t *testing.T) {
	sess, _, _, in, valve, out := newTestSession(false)
	sess.Begin()
	out.Reset()

	in.push('o')
	sess.Step()
	assert.True(t, valve.open)

	in.push('c')
	sess.Step()
	assert.False(t, valve.open)

	assert.Equal(t, []string{"valve-open", "valve-closed"}, lines(out))
}

func TestSession_TareCommand(t *testing.T) {
	sess, _, _, in, _, out := newTestSession(true)
	sess.Begin()
	out.Reset()

	in.push('t')
	sess.Step()

	assert.Equal(t, []string{"tare-ack"}, lines(out))
}

func TestSession_UnknownBytesIgnored(t *testing.T) {
	sess, _, _, in, _, out := newTestSession(false)
	sess.Begin()
	out.Reset()

	in.push('x', '\n', ' ', '?')
	sess.Step()

	assert.Empty(t, out.String())
}

func TestSession_WeightOmittedWhenAmplifierStalls(t *testing.T) {
	clock := &fakeClock{}
	counter := NewPulseCounter(&fakeGate{}, 0)
	reader := &fakeReader{values: []int32{8000}, readyReads: TareReads}
	sampler := NewWeightSampler(reader, clock, 420)
	out := &bytes.Buffer{}
	sess := NewSession(counter, sampler, &fakeValve{}, clock, &byteQueue{}, out, 200)
	sess.Begin()
	out.Reset()

	// Amplifier went quiet after tare; the frame degrades to two fields
	// instead of stalling emission.
	clock.stepMS = 1
	clock.advance(250)
	sess.Step()

	got := lines(out)
	require.Len(t, got, 1)
	assert.Len(t, strings.Split(got[0], ","), 2)
}
