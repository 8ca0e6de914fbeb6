package device

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/raffitch/flowmeter/pkg/metrics"
)

const (
	// DefaultBaudRate is the rate the firmware configures its UART for.
	DefaultBaudRate = 115200
	// DefaultBufferSize is the default size for the frames channel buffer.
	DefaultBufferSize = 100
)

// Frame is one periodic data line from the device.
type Frame struct {
	Timestamp time.Time // Host arrival time
	Millis    uint64    // Device uptime clock
	Pulses    uint64
	Grams     float64
	HasWeight bool // Weight field present in the frame
}

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Serial is a connection to the flow sensor MCU over a serial port.
type Serial struct {
	port     string
	baudRate int
	bufSize  int

	conn      serial.Port
	frames    chan Frame
	acks      chan Ack
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool
}

// New creates a new Serial device with the specified port, baud rate, and
// buffer size.
func New(port string, baudRate int, bufSize int) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if bufSize == 0 {
		bufSize = DefaultBufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Serial{
		port:     port,
		baudRate: baudRate,
		bufSize:  bufSize,
		frames:   make(chan Frame, bufSize),
		acks:     make(chan Ack, 16),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{
			Name:        name,
			Description: name,
		})
	}

	return result, nil
}

// Connect opens the serial port and starts reading lines.
func (d *Serial) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return fmt.Errorf("already connected")
	}

	mode := &serial.Mode{
		BaudRate: d.baudRate,
	}

	port, err := serial.Open(d.port, mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}

	d.conn = port
	d.connected = true

	go d.readLines(d.conn)

	return nil
}

// Close closes the connection and stops the reader goroutine.
func (d *Serial) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeLocked()
	return nil
}

// closeLocked tears the connection down and closes the output channels so
// consumers observe the disconnect. Idempotent; callers hold the mutex.
func (d *Serial) closeLocked() {
	if !d.connected {
		return
	}

	d.cancel()

	if d.conn != nil {
		if err := d.conn.Close(); err != nil {
			log.Printf("Error closing serial port: %v", err)
		}
		d.conn = nil
	}

	d.connected = false

	close(d.frames)
	close(d.acks)
}

// Frames returns the channel of parsed data frames.
func (d *Serial) Frames() <-chan Frame {
	return d.frames
}

// Acks returns the channel of acknowledgement and status lines.
func (d *Serial) Acks() <-chan Ack {
	return d.acks
}

// Send writes a single-byte command to the device.
func (d *Serial) Send(cmd Command) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.connected {
		return fmt.Errorf("not connected")
	}

	if _, err := d.conn.Write([]byte{byte(cmd)}); err != nil {
		return fmt.Errorf("failed to send command %q: %w", cmd, err)
	}

	return nil
}

// IsConnected returns whether the device is currently connected.
func (d *Serial) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

// readLines reads newline-terminated lines from the serial port and routes
// them to the frames or acks channel. When the transport dies the reader
// tears the device down itself, closing both channels, so consumers see the
// disconnect immediately rather than a silent frame drought.
func (d *Serial) readLines(r io.Reader) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("Panic in readLines: %v", rec)
		}
		d.mu.Lock()
		if d.connected {
			log.Print("Serial transport lost, closing device")
			d.closeLocked()
		}
		d.mu.Unlock()
	}()

	scanner := bufio.NewScanner(r)
	for {
		select {
		case <-d.ctx.Done():
			return
		default:
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil && err != io.EOF {
					log.Printf("Error reading from serial port: %v", err)
				}
				return
			}

			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			if ack, ok := classifyAck(line); ok {
				select {
				case d.acks <- ack:
				case <-d.ctx.Done():
					return
				default:
					log.Printf("Acks channel full, dropping %q", ack)
				}
				continue
			}

			frame, err := parseLine(line)
			if err != nil {
				// Malformed lines are discarded, never fatal.
				metrics.MalformedLines.Inc()
				log.Printf("Failed to parse line '%s': %v", line, err)
				continue
			}

			select {
			case d.frames <- frame:
			case <-d.ctx.Done():
				return
			default:
				log.Printf("Frames channel full, dropping frame")
			}
		}
	}
}

// classifyAck matches the fixed set of reply lines the firmware emits.
func classifyAck(line string) (Ack, bool) {
	switch Ack(line) {
	case AckReady, AckReset, AckValveOpen, AckValveClosed, AckTare, AckWeightError:
		return Ack(line), true
	}
	return "", false
}

// parseLine parses a data frame line.
// Format: millis,pulses[,grams]
// Example: 12345,678 or 12345,678,42.5
func parseLine(line string) (Frame, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 2 && len(parts) != 3 {
		return Frame{}, fmt.Errorf("invalid line format: expected 2 or 3 comma-separated values, got %d", len(parts))
	}

	millis, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return Frame{}, fmt.Errorf("invalid millis: %w", err)
	}

	pulses, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return Frame{}, fmt.Errorf("invalid pulse count: %w", err)
	}

	frame := Frame{
		Timestamp: time.Now(),
		Millis:    millis,
		Pulses:    pulses,
	}

	if len(parts) == 3 {
		grams, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return Frame{}, fmt.Errorf("invalid weight: %w", err)
		}
		frame.Grams = grams
		frame.HasWeight = true
	}

	return frame, nil
}
