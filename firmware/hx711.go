//go:build tinygo

package main

import "machine"

// hx711 bit-bangs the HX711 load-cell amplifier. The data line doubles as
// the readiness signal: it is pulled low when a conversion is available.
type hx711 struct {
	sck machine.Pin
	dt  machine.Pin
}

func newHX711(sck, dt machine.Pin) *hx711 {
	sck.Configure(machine.PinConfig{Mode: machine.PinOutput})
	dt.Configure(machine.PinConfig{Mode: machine.PinInput})
	sck.Low()
	return &hx711{sck: sck, dt: dt}
}

// Ready reports whether a conversion is available.
func (h *hx711) Ready() bool {
	return !h.dt.Get()
}

// ReadRaw shifts out one 24-bit two's-complement conversion. The extra
// clock pulse at the end selects channel A at gain 128 for the next
// conversion.
func (h *hx711) ReadRaw() int32 {
	var raw int32
	for bit := 0; bit < 24; bit++ {
		raw <<= 1
		h.sck.High()
		if h.dt.Get() {
			raw |= 1
		}
		h.sck.Low()
	}
	h.sck.High()
	h.sck.Low()

	// Sign-extend from 24 bits.
	raw <<= 8
	raw >>= 8
	return raw
}
