package device

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/raffitch/flowmeter/pkg/config"
)

// Mock simulates a flow sensor device for testing and development: a steady
// flow begins after a configurable delay and the weight tracks the
// dispensed volume.
type Mock struct {
	cfg *config.Config

	frames chan Frame
	acks   chan Ack
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc

	connected bool

	// Simulation state
	startTime  time.Time
	lastTick   time.Time
	valveOpen  bool
	pulseAccum float64 // Fractional pulses carried between ticks
	pulses     uint64
	tareLiters float64
}

// NewMock creates a new mocked device instance.
func NewMock(cfg *config.Config) *Mock {
	if cfg == nil {
		cfg = config.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Mock{
		cfg:    cfg,
		frames: make(chan Frame, DefaultBufferSize),
		acks:   make(chan Ack, 16),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Connect starts the simulation and emits the readiness banner.
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}

	m.connected = true
	m.startTime = time.Now()
	m.lastTick = m.startTime
	m.valveOpen = true

	m.pushAck(AckReady)

	go m.generateFrames()

	return nil
}

// Close stops the mocked device.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return nil
	}

	m.cancel()
	m.connected = false
	close(m.frames)
	close(m.acks)

	return nil
}

// Frames returns the channel of simulated data frames.
func (m *Mock) Frames() <-chan Frame {
	return m.frames
}

// Acks returns the channel of simulated acknowledgement lines.
func (m *Mock) Acks() <-chan Ack {
	return m.acks
}

// Send handles a command the way the firmware would: acknowledge, and for a
// reset also emit an out-of-cycle frame with the cleared count.
func (m *Mock) Send(cmd Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return fmt.Errorf("not connected")
	}

	switch cmd {
	case CmdReset:
		m.pulses = 0
		m.pulseAccum = 0
		m.pushAck(AckReset)
		m.pushFrame(m.makeFrame(time.Now()))
	case CmdOpenValve:
		m.valveOpen = true
		m.pushAck(AckValveOpen)
	case CmdCloseValve:
		m.valveOpen = false
		m.pushAck(AckValveClosed)
	case CmdTare:
		m.tareLiters = float64(m.pulses) / m.cfg.Device.PulsesPerLiter
		m.pushAck(AckTare)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}

	return nil
}

// IsConnected returns whether the device is currently connected.
func (m *Mock) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// generateFrames advances the simulation and emits a frame every frame
// interval.
func (m *Mock) generateFrames() {
	ticker := time.NewTicker(m.cfg.Device.FrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case now := <-ticker.C:
			m.mu.Lock()
			if !m.connected {
				m.mu.Unlock()
				return
			}
			m.advance(now)
			frame := m.makeFrame(now)
			m.pushFrame(frame)
			m.mu.Unlock()
		}
	}
}

// advance accumulates simulated pulses since the last tick. Flow runs only
// after the start delay and while the valve is open.
func (m *Mock) advance(now time.Time) {
	dt := now.Sub(m.lastTick).Seconds()
	m.lastTick = now

	elapsed := now.Sub(m.startTime)
	if elapsed < m.cfg.Mock.StartDelay || !m.valveOpen {
		return
	}

	pulsesPerSec := m.cfg.Mock.FlowRate / 60.0 * m.cfg.Device.PulsesPerLiter
	// Deterministic jitter, same trick as a noisy sensor without a RNG.
	noise := 1.0 + math.Sin(elapsed.Seconds()*7.3)*m.cfg.Mock.NoiseLevel

	m.pulseAccum += pulsesPerSec * noise * dt
	whole := math.Floor(m.pulseAccum)
	m.pulses += uint64(whole)
	m.pulseAccum -= whole
}

// makeFrame builds a frame from the current simulation state. Callers hold
// the mutex.
func (m *Mock) makeFrame(now time.Time) Frame {
	frame := Frame{
		Timestamp: now,
		Millis:    uint64(now.Sub(m.startTime).Milliseconds()),
		Pulses:    m.pulses,
	}
	if m.cfg.Mock.WeightEnabled {
		liters := float64(m.pulses)/m.cfg.Device.PulsesPerLiter - m.tareLiters
		frame.Grams = liters * 1000 // 1 g per ml of water
		frame.HasWeight = true
	}
	return frame
}

// pushFrame delivers a frame without blocking the simulation.
func (m *Mock) pushFrame(f Frame) {
	select {
	case m.frames <- f:
	default:
		// Channel full, skip
	}
}

func (m *Mock) pushAck(a Ack) {
	select {
	case m.acks <- a:
	default:
	}
}
