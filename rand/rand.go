package rand

import (
	"github.com/seehuhn/mt19937"
)

// A Generator wraps a Mersenne twister with the draw methods the sampler
// needs. Draws are stream-positional: for a fixed seed, reproducibility
// requires that every consumer pull from the generator in the same order on
// every sweep, so there is exactly one Generator per run and no buffering.
type Generator struct {
	mt *mt19937.MT19937
}

// NewGenerator returns a seeded PRNG.
func NewGenerator(seed int64) *Generator {
	mt := mt19937.New()
	mt.Seed(seed)
	return &Generator{mt: mt}
}

// Uint64 makes Generator a math/rand/v2 Source, which is what gonum's
// distributions take as their Src.
func (g *Generator) Uint64() uint64 {
	return g.mt.Uint64()
}

// Int63 provides the same interface as Go's math/rand.
func (g *Generator) Int63() int64 {
	return g.mt.Int63()
}

// Int63n is a copy of the current Go code
func (g *Generator) Int63n(n int64) int64 {
	if n <= 0 {
		panic("invalid argument to Int63n")
	}

	if n&(n-1) == 0 { // n is power of two, can mask
		return g.Int63() & (n - 1)
	}

	max := int64((1 << 63) - 1 - (1<<63)%uint64(n))
	v := g.Int63()
	for v > max {
		v = g.Int63()
	}

	return v % n
}

// Intn is Int63n for the plain int indexes used all over the kernels.
func (g *Generator) Intn(n int) int {
	return int(g.Int63n(int64(n)))
}

// Float64 uses the commented, simpler implmentation since we don't have the
// same support requirements as the standard library
func (g *Generator) Float64() float64 {
	// See the Go lang comments for Rand Float64 implementation for details
	return float64(g.Int63n(1<<53)) / (1 << 53)
}
