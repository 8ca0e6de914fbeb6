// Package firmware implements the hardware-independent core of the flow
// sensor firmware: debounced pulse counting, load-cell sampling with tare,
// and the line-oriented command/frame session loop. The machine-specific
// entry point under firmware/ wires these to real pins and UARTs; tests
// drive them with fakes.
package firmware

// Clock provides monotonic time to the firmware core.
type Clock interface {
	NowMicros() uint64
	NowMillis() uint64
}

// InterruptGate suspends and resumes the edge interrupt source. Readers of
// state shared with the interrupt handler hold the gate for the minimum
// necessary duration to avoid torn reads.
type InterruptGate interface {
	Suspend()
	Resume()
}

// RawReader reads a delta-sigma load-cell amplifier (HX711 or similar).
// ReadRaw must only be called when Ready reports true.
type RawReader interface {
	Ready() bool
	ReadRaw() int32
}

// Valve drives the actuator output.
type Valve interface {
	Open()
	Close()
}

// ByteSource is the non-blocking command input. machine.UART satisfies it.
type ByteSource interface {
	Buffered() int
	ReadByte() (byte, error)
}
