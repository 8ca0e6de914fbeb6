package firmware

import (
	"io"
	"strconv"

	"github.com/chewxy/math32"
)

// Command bytes accepted on the wire.
const (
	cmdReset      = 'r'
	cmdOpenValve  = 'o'
	cmdCloseValve = 'c'
	cmdTare       = 't'
)

// Reply lines emitted by the device.
const (
	BannerReady      = "ready"
	BannerWeightErr  = "weight-error"
	ReplyResetAck    = "reset-ack"
	ReplyValveOpen   = "valve-open"
	ReplyValveClosed = "valve-closed"
	ReplyTareAck     = "tare-ack"
)

// Session runs the device side of the line protocol: it drains buffered
// command bytes, acknowledges each, and pushes a periodic data frame
// `millis,pulses[,grams]`. Commands are always drained before the frame
// timer is checked, so a reset issued just before a tick is reflected in
// that tick's count.
type Session struct {
	counter *PulseCounter
	sampler *WeightSampler // nil when no load cell is fitted
	valve   Valve
	clock   Clock
	in      ByteSource
	out     io.Writer

	frameIntervalMS uint64
	lastFrameMS     uint64

	buf []byte
}

// NewSession assembles the protocol session. The caller is responsible for
// attaching the edge interrupt and configuring the valve pin before Begin.
func NewSession(counter *PulseCounter, sampler *WeightSampler, valve Valve, clock Clock, in ByteSource, out io.Writer, frameIntervalMS uint64) *Session {
	return &Session{
		counter:         counter,
		sampler:         sampler,
		valve:           valve,
		clock:           clock,
		in:              in,
		out:             out,
		frameIntervalMS: frameIntervalMS,
		buf:             make([]byte, 0, 48),
	}
}

// Begin initializes the amplifier (bounded wait, then tare) and emits the
// readiness banner. An amplifier that never reports ready degrades the
// session to pulses-only and is reported once.
func (s *Session) Begin() {
	if s.sampler != nil && !s.sampler.Init(DefaultReadyTimeoutMillis) {
		s.writeLine(BannerWeightErr)
	}
	s.writeLine(BannerReady)
	s.lastFrameMS = s.clock.NowMillis()
}

// Step performs one iteration of the main loop: drain all buffered commands,
// then emit a frame if the interval elapsed. The firmware entry point calls
// this in a tight loop with a short sleep.
func (s *Session) Step() {
	s.pollCommands()

	now := s.clock.NowMillis()
	if now-s.lastFrameMS >= s.frameIntervalMS {
		s.emitFrame(now)
		s.lastFrameMS = now
	}
}

// pollCommands consumes every buffered input byte before returning.
func (s *Session) pollCommands() {
	for s.in.Buffered() > 0 {
		b, err := s.in.ReadByte()
		if err != nil {
			return
		}
		s.handleCommand(b)
	}
}

func (s *Session) handleCommand(b byte) {
	switch b {
	case cmdReset:
		s.counter.Reset()
		s.writeLine(ReplyResetAck)
		// Out-of-cycle frame so the host observes the cleared count
		// without waiting for the next tick.
		now := s.clock.NowMillis()
		s.emitFrame(now)
		s.lastFrameMS = now
	case cmdOpenValve:
		s.valve.Open()
		s.writeLine(ReplyValveOpen)
	case cmdCloseValve:
		s.valve.Close()
		s.writeLine(ReplyValveClosed)
	case cmdTare:
		if s.sampler != nil {
			s.sampler.Tare()
		}
		s.writeLine(ReplyTareAck)
	default:
		// Unknown bytes (including stray newlines) are ignored.
	}
}

// emitFrame writes `millis,pulses[,grams]`. The weight field is present iff
// the sampler is fitted, available, and ready this tick.
func (s *Session) emitFrame(nowMS uint64) {
	s.buf = s.buf[:0]
	s.buf = strconv.AppendUint(s.buf, nowMS, 10)
	s.buf = append(s.buf, ',')
	s.buf = strconv.AppendUint(s.buf, uint64(s.counter.Count()), 10)

	if s.sampler != nil {
		if grams, ok := s.sampler.Sample(); ok {
			s.buf = append(s.buf, ',')
			// Rounding happens here, at the formatting boundary only.
			rounded := math32.Round(grams*10) / 10
			s.buf = strconv.AppendFloat(s.buf, float64(rounded), 'f', 1, 32)
		}
	}

	s.buf = append(s.buf, '\n')
	_, _ = s.out.Write(s.buf)
}

func (s *Session) writeLine(line string) {
	s.buf = s.buf[:0]
	s.buf = append(s.buf, line...)
	s.buf = append(s.buf, '\n')
	_, _ = s.out.Write(s.buf)
}
