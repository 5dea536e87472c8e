package profile

import (
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"

	"profregr/mcmc"
	"profregr/rand"
)

// kernelFixture initialises a chain for the given configuration and hands
// back everything a kernel invocation needs.
func kernelFixture(t *testing.T, cfg *mcmc.Config, data string) (*proposer, *State, *mcmc.Tuning, *rand.Generator) {
	t.Helper()

	m := loadedModel(t, cfg, data)
	gen := rand.NewGenerator(cfg.Seed)

	st, _, err := m.InitialiseChain(cfg, gen)
	assert.NoError(t, err)
	assert.NoError(t, m.UpdateMissingData(st, gen))

	s, err := asChainState(st)
	assert.NoError(t, err)

	return &proposer{m: m}, s, mcmc.NewTuning(cfg, m.Shape()), gen
}

const discreteData = `
6 2 0 1

1  0 1
0  1 2
1  2 0
0  0 1
1  1 0
0  2 2
`

func discreteConfig() *mcmc.Config {
	cfg := normalConfig()
	cfg.OutcomeType = mcmc.OutcomeBernoulli
	cfg.CovariateType = mcmc.CovariateDiscrete
	cfg.IncludeResponse = false
	return cfg
}

func TestGibbsForV(t *testing.T) {
	assert := assert.New(t)
	p, s, tune, gen := kernelFixture(t, normalConfig(), normalData)

	before := append([]float64(nil), s.V...)
	assert.NoError(p.gibbsForVActive(s, tune, gen))
	assert.NoError(p.gibbsForVInActive(s, tune, gen))

	changed := false
	total := 0.0
	for c := 0; c < s.MaxClusters; c++ {
		assert.True(s.V[c] > 0 && s.V[c] < 1)
		assert.True(s.Psi[c] > 0)
		total += s.Psi[c]
		if s.V[c] != before[c] {
			changed = true
		}
	}
	assert.True(changed)
	assert.True(total < 1.0)
}

func TestGibbsForPhi(t *testing.T) {
	assert := assert.New(t)
	p, s, tune, gen := kernelFixture(t, discreteConfig(), discreteData)

	assert.NoError(p.updateForPhiActive(s, tune, gen))
	assert.NoError(p.gibbsForPhiInActive(s, tune, gen))

	for c := 0; c < s.MaxClusters; c++ {
		for j := range s.Phi[c] {
			sum := 0.0
			for _, q := range s.Phi[c][j] {
				assert.True(q > 0)
				sum += q
			}
			assert.InDelta(1.0, sum, 1e-9)
		}
	}
}

func TestGibbsForMuTau(t *testing.T) {
	assert := assert.New(t)
	p, s, tune, gen := kernelFixture(t, normalConfig(), normalData)

	assert.NoError(p.gibbsForMuActive(s, tune, gen))
	assert.NoError(p.gibbsForTauActive(s, tune, gen))
	assert.NoError(p.gibbsForMuInActive(s, tune, gen))
	assert.NoError(p.gibbsForTauInActive(s, tune, gen))

	for c := 0; c < s.MaxClusters; c++ {
		for j := range s.Tau[c] {
			assert.True(s.Tau[c][j] >= minPrecision)
			assert.False(math.IsNaN(s.Mu[c][j]))
		}
	}
}

func TestGibbsForGamma(t *testing.T) {
	assert := assert.New(t)

	cfg := normalConfig()
	cfg.VarSelectType = mcmc.VarSelectBinary
	p, s, tune, gen := kernelFixture(t, cfg, normalData)

	assert.NoError(p.gibbsForGammaActive(s, tune, gen))
	assert.NoError(p.gibbsForGammaInActive(s, tune, gen))
	for c := 0; c < s.MaxClusters; c++ {
		for _, g := range s.Gamma[c] {
			assert.True(g == 0 || g == 1)
		}
	}

	// Degenerate inclusion probabilities pin the indicators
	for j := range s.Rho {
		s.Rho[j] = 0.0
	}
	assert.NoError(p.gibbsForGammaActive(s, tune, gen))
	assert.NoError(p.gibbsForGammaInActive(s, tune, gen))
	for c := 0; c < s.MaxClusters; c++ {
		for _, g := range s.Gamma[c] {
			assert.Equal(0, g)
		}
	}
}

func TestBernoulliPosterior(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(0.0, bernoulliPosterior(0.0, 10, 0))
	assert.Equal(1.0, bernoulliPosterior(1.0, 0, 10))
	assert.InDelta(0.5, bernoulliPosterior(0.5, 3.0, 3.0), 1e-12)

	// Extreme likelihood gaps saturate without overflow
	assert.InDelta(1.0, bernoulliPosterior(0.5, 1000, 0), 1e-12)
	assert.InDelta(0.0, bernoulliPosterior(0.5, 0, 1000), 1e-12)
}

func TestMetropolisHastingsForRhoOmega(t *testing.T) {
	assert := assert.New(t)

	cfg := normalConfig()
	cfg.VarSelectType = mcmc.VarSelectBinary
	p, s, tune, gen := kernelFixture(t, cfg, normalData)

	for sweep := 0; sweep < 20; sweep++ {
		assert.NoError(p.metropolisHastingsForRhoOmega(s, tune, gen))
	}
	for j := range s.Rho {
		assert.True(s.Rho[j] > 0 && s.Rho[j] < 1)
		assert.True(s.Omega[j] == 0 || s.Omega[j] == 1)
	}
}

func TestMetropolisHastingsForTheta(t *testing.T) {
	assert := assert.New(t)
	p, s, tune, gen := kernelFixture(t, normalConfig(), normalData)

	for sweep := 0; sweep < 10; sweep++ {
		assert.NoError(p.metropolisHastingsForThetaActive(s, tune, gen))
	}
	assert.NoError(p.gibbsForThetaInActive(s, tune, gen))

	for c := 0; c < s.MaxClusters; c++ {
		assert.False(math.IsNaN(s.Theta[c]))
	}
	assert.True(tune.Scale(0) > 0)

	lp, err := p.m.LogPosterior(s)
	assert.NoError(err)
	assert.False(math.IsNaN(lp))
}

func TestMetropolisHastingsForBeta(t *testing.T) {
	assert := assert.New(t)
	p, s, tune, gen := kernelFixture(t, normalConfig(), normalData)

	for sweep := 0; sweep < 10; sweep++ {
		assert.NoError(p.metropolisHastingsForBeta(s, tune, gen))
	}
	for j := range s.Beta {
		assert.False(math.IsNaN(s.Beta[j]))
		assert.True(tune.Scale(j) > 0)
	}
}

func TestLambdaAndTauEpsilon(t *testing.T) {
	assert := assert.New(t)

	cfg := normalConfig()
	cfg.ResponseExtraVar = true
	p, s, tune, gen := kernelFixture(t, cfg, normalData)

	for sweep := 0; sweep < 10; sweep++ {
		assert.NoError(p.metropolisHastingsForLambda(s, tune, gen))
		assert.NoError(p.gibbsForTauEpsilon(s, tune, gen))
	}

	assert.True(s.TauEpsilon >= minPrecision)
	for i := range s.Lambda {
		assert.False(math.IsNaN(s.Lambda[i]))
	}
}

func TestGibbsForSigmaSqY(t *testing.T) {
	assert := assert.New(t)
	p, s, tune, gen := kernelFixture(t, normalConfig(), normalData)

	for sweep := 0; sweep < 10; sweep++ {
		assert.NoError(p.gibbsForSigmaSqY(s, tune, gen))
		assert.True(s.SigmaSqY > 0)
	}

	// No response block means a silent no-op
	s.Theta = nil
	s.SigmaSqY = 0.0
	assert.NoError(p.gibbsForSigmaSqY(s, tune, gen))
	assert.Equal(0.0, s.SigmaSqY)
}

func TestMetropolisHastingsForLabels(t *testing.T) {
	assert := assert.New(t)
	p, s, tune, gen := kernelFixture(t, normalConfig(), normalData)

	countProfile := func() []int {
		counts := append([]int(nil), s.ClusterCounts()...)
		sort.Ints(counts)
		return counts
	}

	before := countProfile()
	for sweep := 0; sweep < 20; sweep++ {
		assert.NoError(p.metropolisHastingsForLabels(s, tune, gen))
	}

	// Swapping labels permutes cluster sizes but never changes them
	assert.Equal(before, countProfile())
	assert.NoError(s.Check())
}

func TestSwapMembers(t *testing.T) {
	assert := assert.New(t)

	s := &State{MaxClusters: 3, Z: []int{0, 1, 2, 0, 1}}
	swapMembers(s, 0, 1)
	assert.Equal([]int{1, 0, 2, 1, 0}, s.Z)
	swapMembers(s, 0, 1)
	assert.Equal([]int{0, 1, 2, 0, 1}, s.Z)
}

func TestGibbsForU(t *testing.T) {
	assert := assert.New(t)

	cfg := normalConfig()
	cfg.SamplerType = mcmc.SamplerSlice
	p, s, tune, gen := kernelFixture(t, cfg, normalData)

	assert.NoError(p.gibbsForU(s, tune, gen))
	for i := range s.U {
		assert.True(s.U[i] >= 0)
		assert.True(s.U[i] < s.Psi[s.Z[i]])
	}
}

func TestMetropolisHastingsForAlpha(t *testing.T) {
	assert := assert.New(t)

	cfg := normalConfig()
	cfg.FixedAlpha = -1.0
	p, s, tune, gen := kernelFixture(t, cfg, normalData)

	for sweep := 0; sweep < 20; sweep++ {
		assert.NoError(p.metropolisHastingsForAlpha(s, tune, gen))
		assert.True(s.Alpha > 0)
	}
}

func TestGibbsForZ(t *testing.T) {
	assert := assert.New(t)
	p, s, tune, gen := kernelFixture(t, normalConfig(), normalData)

	for sweep := 0; sweep < 5; sweep++ {
		assert.NoError(p.gibbsForZ(s, tune, gen))
		for _, z := range s.Z {
			assert.True(z >= 0 && z < s.MaxClusters)
		}
	}
}

func TestGibbsForZSliceRestriction(t *testing.T) {
	assert := assert.New(t)

	cfg := normalConfig()
	cfg.SamplerType = mcmc.SamplerSlice
	p, s, tune, gen := kernelFixture(t, cfg, normalData)

	assert.NoError(p.gibbsForU(s, tune, gen))
	assert.NoError(p.gibbsForZ(s, tune, gen))

	// A subject can only land in a cluster its slice variable leaves open
	for i, z := range s.Z {
		assert.True(s.Psi[z] > s.U[i], "subject %d in cluster %d", i, z)
	}
}

func TestSampleLogits(t *testing.T) {
	assert := assert.New(t)
	gen := rand.NewGenerator(1)

	// One dominant weight always wins
	logits := []float64{-1000, 5.0, -1000}
	for i := 0; i < 10; i++ {
		assert.Equal(1, sampleLogits(logits, gen))
	}

	// Total underflow falls back to the first index
	assert.Equal(0, sampleLogits([]float64{math.Inf(-1), math.Inf(-1)}, gen))
}

func TestAdaptSteersScale(t *testing.T) {
	assert := assert.New(t)

	tune := mcmc.NewTuning(normalConfig(), mcmc.DataShape{NCovariates: 1})
	for i := 0; i < 20; i++ {
		tune.Record(true)
	}
	adapt(tune, 0)
	assert.True(tune.Scale(0) > 1.0)

	tune = mcmc.NewTuning(normalConfig(), mcmc.DataShape{NCovariates: 1})
	for i := 0; i < 20; i++ {
		tune.Record(false)
	}
	adapt(tune, 0)
	assert.True(tune.Scale(0) < 1.0)
}
