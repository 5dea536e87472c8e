package buffer

// Window is a fixed-size circular buffer of float64 values with running
// aggregates. The adaptive Metropolis-Hastings tuning uses one per proposal
// to track the recent acceptance rate (values are 0/1 accept indicators).
type Window struct {
	buffer    []float64 // actual storage
	pos       int       // Current position in buffer
	Size      int       // Size is the fixed number of values maintained in memory
	Count     int       // Count is the number of values in memory. Will always be <= Size
	TotalSeen int64     // TotalSeen is the total number of times Add has been called
}

// NewWindow creates a new rolling window holding size values. Size must be
// at least 1.
func NewWindow(size int) *Window {
	if size < 1 {
		size = 1
	}

	return &Window{
		buffer: make([]float64, size),
		pos:    0,
		Size:   size,
		Count:  0,
	}
}

// Add appends the given value, overwriting the oldest entry once full.
func (w *Window) Add(v float64) {
	w.TotalSeen++

	w.buffer[w.pos] = v
	w.pos = (w.pos + 1) % w.Size

	w.Count++
	if w.Count > w.Size {
		w.Count = w.Size // max out
	}
}

// Full returns true once Add has been called at least Size times.
func (w *Window) Full() bool {
	return w.Count >= w.Size
}

// Mean returns the mean of the currently stored values. Zero when empty.
func (w *Window) Mean() float64 {
	if w.Count < 1 {
		return 0.0
	}

	sum := 0.0
	for i := 0; i < w.Count; i++ {
		sum += w.buffer[i]
	}
	return sum / float64(w.Count)
}
