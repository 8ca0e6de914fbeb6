//go:build tinygo

package main

import "machine"

const (
	// Protocol timing
	FRAME_INTERVAL_MS = 200 // Periodic frame emission interval

	// Pulse input
	DEBOUNCE_US = 1000 // Minimum interval between accepted edges

	// Load cell calibration. Counts per gram is per-device; negative values
	// flip amplifier polarity. Must match the host configuration.
	COUNTS_PER_GRAM = 420.0

	// Pulse sensor input (hall-effect flow sensor signal line)
	PIN_PULSE = machine.D2

	// Valve relay output
	PIN_VALVE = machine.D7

	// HX711 load-cell amplifier
	PIN_HX_SCK = machine.D8
	PIN_HX_DT  = machine.D9

	// Serial configuration.
	// Frame format "millis,pulses,grams\n" is ~25 bytes max per line.
	// 5 frames/sec * 25 bytes = 125 bytes/sec; 115200 baud leaves two
	// orders of magnitude of headroom for acks and the banner.
	UART_BAUD_RATE = 115200
)
