package firmware

// DefaultDebounceMicros is the minimum accepted interval between edges.
// Hall-effect flow sensors top out well below 1 kHz; anything faster is
// switch bounce or electrical noise.
const DefaultDebounceMicros = 1000

// PulseCounter maintains a debounced count of rising edges. HandleEdge runs
// in interrupt context; all other methods run in the main loop and exclude
// the interrupt via the gate for the duration of the access.
type PulseCounter struct {
	gate InterruptGate

	minIntervalUS uint64

	// Written only from interrupt context (except Reset, which holds the gate).
	count      uint32
	lastEdgeUS uint64
}

// NewPulseCounter creates a pulse counter with the given debounce interval
// in microseconds. A zero interval selects the default.
func NewPulseCounter(gate InterruptGate, debounceMicros uint64) *PulseCounter {
	if debounceMicros == 0 {
		debounceMicros = DefaultDebounceMicros
	}
	return &PulseCounter{
		gate:          gate,
		minIntervalUS: debounceMicros,
	}
}

// HandleEdge processes one hardware edge at the given microsecond timestamp.
// Interrupt context: must not block or allocate. Edges closer together than
// the debounce interval are discarded; an accepted edge updates the count
// and the last-accepted timestamp together.
func (c *PulseCounter) HandleEdge(nowUS uint64) {
	if nowUS-c.lastEdgeUS < c.minIntervalUS {
		return
	}
	c.count++
	c.lastEdgeUS = nowUS
}

// Count returns the current pulse count. Main-loop context: suspends the
// edge interrupt around the read so the count is never torn.
func (c *PulseCounter) Count() uint32 {
	c.gate.Suspend()
	n := c.count
	c.gate.Resume()
	return n
}

// Reset zeroes the count. The debounce timestamp is left untouched: a reset
// does not re-debounce.
func (c *PulseCounter) Reset() {
	c.gate.Suspend()
	c.count = 0
	c.gate.Resume()
}
