package mcmc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTuningSizing(t *testing.T) {
	assert := assert.New(t)

	cfg := testConfig()
	shape := DataShape{NCovariates: 5, NFixedEffects: 2, NCategoriesY: 1}
	tune := NewTuning(cfg, shape)
	assert.Equal(8, tune.Dims())
	for i := 0; i < tune.Dims(); i++ {
		assert.Equal(1.0, tune.Scale(i))
	}

	// Degenerate shape still leaves one usable dimension
	tune = NewTuning(cfg, DataShape{})
	assert.Equal(1, tune.Dims())
}

func TestTuningAcceptance(t *testing.T) {
	assert := assert.New(t)

	tune := NewTuning(testConfig(), DataShape{NCovariates: 1})
	assert.Equal(0.0, tune.AcceptRate())

	tune.Record(true)
	tune.Record(true)
	tune.Record(false)
	tune.Record(false)
	assert.InDelta(0.5, tune.AcceptRate(), 1e-12)
	assert.InDelta(0.5, tune.RecentRate(), 1e-12)
}

func TestTuningScaleGuards(t *testing.T) {
	assert := assert.New(t)

	tune := NewTuning(testConfig(), DataShape{NCovariates: 1})
	tune.SetScale(0, 2.5)
	assert.Equal(2.5, tune.Scale(0))

	// Non-positive adjustments are ignored
	tune.SetScale(0, 0.0)
	assert.Equal(2.5, tune.Scale(0))
	tune.SetScale(0, -1.0)
	assert.Equal(2.5, tune.Scale(0))
}
