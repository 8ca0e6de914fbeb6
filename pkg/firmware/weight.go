package firmware

const (
	// DefaultReadyTimeoutMillis bounds the startup wait for the amplifier.
	DefaultReadyTimeoutMillis = 3000
	// readWaitMillis bounds the per-read readiness wait during tare and
	// steady-state sampling. The HX711 settles in ~100ms at 10 SPS; an
	// amplifier that misses this deadline mid-run loses the sample rather
	// than stalling frame emission.
	readWaitMillis = 200

	// TareReads trades latency for a quiet offset; taken once at startup
	// and on the tare command.
	TareReads = 16
	// SampleReads keeps steady-state sampling inside one frame interval.
	SampleReads = 4
)

// WeightSampler converts raw load-cell readings into calibrated grams using
// a tare offset captured at startup. An amplifier that never reports ready
// during Init marks the sampler unavailable for the rest of the session.
type WeightSampler struct {
	reader RawReader
	clock  Clock

	countsPerGram float32
	tareOffset    float32
	available     bool
}

// NewWeightSampler creates a sampler with the given calibration slope.
// countsPerGram may be negative depending on amplifier polarity.
func NewWeightSampler(reader RawReader, clock Clock, countsPerGram float32) *WeightSampler {
	return &WeightSampler{
		reader:        reader,
		clock:         clock,
		countsPerGram: countsPerGram,
	}
}

// Init waits up to timeoutMillis for the amplifier to report ready, then
// captures the tare offset. Returns false if the amplifier never became
// ready; the sampler stays unavailable and weight is omitted from all
// frames for the session.
func (w *WeightSampler) Init(timeoutMillis uint64) bool {
	if w.reader == nil {
		return false
	}
	if !w.waitReady(timeoutMillis) {
		w.available = false
		return false
	}
	w.available = true
	w.Tare()
	return true
}

// Available reports whether the amplifier initialized successfully.
func (w *WeightSampler) Available() bool {
	return w.available
}

// Tare captures the zero offset as the average of TareReads raw reads,
// blocking on readiness for each.
func (w *WeightSampler) Tare() {
	if !w.available {
		return
	}
	if avg, ok := w.averageRaw(TareReads); ok {
		w.tareOffset = avg
	}
}

// Sample averages SampleReads raw reads and converts to grams. ok is false
// when the sampler is unavailable or the amplifier was not ready in time;
// the caller omits the weight field from that frame.
func (w *WeightSampler) Sample() (grams float32, ok bool) {
	if !w.available {
		return 0, false
	}
	avg, ok := w.averageRaw(SampleReads)
	if !ok {
		return 0, false
	}
	return (avg - w.tareOffset) / w.countsPerGram, true
}

// averageRaw averages n raw reads. No rounding here: truncation happens only
// at the formatting boundary.
func (w *WeightSampler) averageRaw(n int) (float32, bool) {
	var sum int64
	for i := 0; i < n; i++ {
		if !w.waitReady(readWaitMillis) {
			return 0, false
		}
		sum += int64(w.reader.ReadRaw())
	}
	return float32(sum) / float32(n), true
}

// waitReady polls the amplifier until it reports ready or the deadline
// passes.
func (w *WeightSampler) waitReady(timeoutMillis uint64) bool {
	deadline := w.clock.NowMillis() + timeoutMillis
	for !w.reader.Ready() {
		if w.clock.NowMillis() >= deadline {
			return false
		}
	}
	return true
}
