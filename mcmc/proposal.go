package mcmc

import (
	"profregr/buffer"
	"profregr/rand"
)

// UpdateFunc advances one block of the chain state: an exact conditional
// draw (Gibbs) or an accept/reject step (Metropolis-Hastings). The tuning
// record belongs to this proposal alone and must not be shared.
type UpdateFunc func(st State, tune *Tuning, gen *rand.Generator) error

// Proposal describes one update rule in the registry. Created once during
// composition, immutable afterward, invoked repeatedly across sweeps.
type Proposal struct {
	Name        string     // Unique registry name
	Weight      float64    // Relative weight, must be positive
	RepeatCount int        // Invocations per sweep, at least 1
	FirstSweep  int        // Active on sweep s iff s >= FirstSweep
	Update      UpdateFunc // The update rule itself
}

// acceptWindowMax caps the rolling acceptance window so short runs still
// produce a usable recent rate.
const acceptWindowMax = 500

// Tuning is the adaptive scaling and acceptance-count state for a single
// proposal. The engine owns one record per registered proposal, sized from
// the sweep count and the dataset shape; only that proposal's UpdateFunc may
// mutate it.
type Tuning struct {
	scales   []float64
	accepted int64
	tried    int64
	recent   *buffer.Window
}

// NewTuning creates a tuning record sized for the given run length and
// dataset shape. The engine calls this once per registered proposal; model
// binding tests use it to drive kernels directly.
func NewTuning(cfg *Config, shape DataShape) *Tuning {
	dims := shape.NCovariates + shape.NFixedEffects + shape.NCategoriesY
	if dims < 1 {
		dims = 1
	}

	window := cfg.NSweeps
	if window > acceptWindowMax {
		window = acceptWindowMax
	}

	t := &Tuning{
		scales: make([]float64, dims),
		recent: buffer.NewWindow(window),
	}
	for i := range t.scales {
		t.scales[i] = 1.0
	}
	return t
}

// Dims is the number of per-dimension proposal scales available.
func (t *Tuning) Dims() int {
	return len(t.scales)
}

// Scale returns the random walk scale for dimension i.
func (t *Tuning) Scale(i int) float64 {
	return t.scales[i]
}

// SetScale adjusts the random walk scale for dimension i. Non-positive
// values are ignored so an adaptation step can never kill a proposal.
func (t *Tuning) SetScale(i int, s float64) {
	if s > 0 {
		t.scales[i] = s
	}
}

// Record tracks one accept/reject decision.
func (t *Tuning) Record(accepted bool) {
	t.tried++
	v := 0.0
	if accepted {
		t.accepted++
		v = 1.0
	}
	t.recent.Add(v)
}

// AcceptRate is the overall acceptance rate across the whole run.
func (t *Tuning) AcceptRate() float64 {
	if t.tried < 1 {
		return 0.0
	}
	return float64(t.accepted) / float64(t.tried)
}

// RecentRate is the acceptance rate over the rolling window, the quantity
// an adaptive proposal steers its scales by.
func (t *Tuning) RecentRate() float64 {
	return t.recent.Mean()
}
