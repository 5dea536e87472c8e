package profile

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat/distuv"

	"profregr/mcmc"
	"profregr/rand"
)

// Model is the profile regression model binding: it supplies the engine
// with data import, chain initialisation, log-posterior evaluation and
// missing-data imputation for a Dirichlet process mixture of covariate
// profiles with an optional regression on the outcome.
type Model struct {
	cfg  *mcmc.Config
	data *Dataset
}

// NewModel creates a model binding for the given configuration. The
// configuration decides which covariate and response blocks exist.
func NewModel(cfg *mcmc.Config) *Model {
	return &Model{cfg: cfg}
}

// Dataset exposes the loaded data; kernels and the composition logic read
// it, only the missing-data updater writes it.
func (m *Model) Dataset() *Dataset {
	return m.data
}

// ImportData implements mcmc.Model.
func (m *Model) ImportData(dataPath, predictPath string) error {
	d, err := NewDatasetFromFile(dataPath)
	if err != nil {
		return err
	}
	if err := d.Check(); err != nil {
		return errors.Wrap(err, "Imported dataset is not valid")
	}

	if len(predictPath) > 0 {
		if err := d.ApplyPredictFromFile(predictPath); err != nil {
			return err
		}
	}

	m.data = d
	return nil
}

// Shape implements mcmc.Model. Only valid after ImportData.
func (m *Model) Shape() mcmc.DataShape {
	if m.data == nil {
		return mcmc.DataShape{}
	}
	return mcmc.DataShape{
		NSubjects:     m.data.NSubjects,
		NCovariates:   m.data.NCovariates,
		NFixedEffects: m.data.NFixedEffects,
		NCategoriesY:  m.data.NCategoriesY,
	}
}

// HasMissingData implements mcmc.Model.
func (m *Model) HasMissingData() bool {
	return m.data != nil && m.data.NMissing > 0
}

// initialAlpha is the chain starting value for the concentration parameter
// when it is being estimated.
const initialAlpha = 2.0

// InitialiseChain implements mcmc.Model: random allocations over an initial
// cluster count derived from the data size, prior draws for the
// stick-breaking fractions, and neutral starting values everywhere else.
func (m *Model) InitialiseChain(cfg *mcmc.Config, gen *rand.Generator) (mcmc.State, mcmc.InitSummary, error) {
	if m.data == nil {
		return nil, mcmc.InitSummary{}, errors.New("No data imported")
	}
	d := m.data

	nClusInit := d.NSubjects / 10
	if nClusInit < 5 {
		nClusInit = 5
	}
	if nClusInit > 20 {
		nClusInit = 20
	}
	maxClusters := 2*nClusInit + 10

	st := &State{
		MaxClusters: maxClusters,
		Z:           make([]int, d.NSubjects),
		V:           make([]float64, maxClusters),
		Psi:         make([]float64, maxClusters),
		Alpha:       initialAlpha,
		U:           make([]float64, d.NSubjects),
	}
	if cfg.FixedAlpha >= 0 {
		st.Alpha = cfg.FixedAlpha
	}
	if st.Alpha <= 0 {
		st.Alpha = initialAlpha
	}

	for i := range st.Z {
		st.Z[i] = gen.Intn(nClusInit)
	}

	vPrior := distuv.Beta{Alpha: 1.0, Beta: st.Alpha, Src: gen}
	for c := range st.V {
		st.V[c] = clampUnit(vPrior.Rand())
	}
	st.RecomputePsi()

	switch cfg.CovariateType {
	case mcmc.CovariateDiscrete:
		st.Phi = newPhiBlock(maxClusters, d.NCovariates, d.NCategoriesX)
	case mcmc.CovariateNormal:
		st.Mu, st.Tau = newNormalBlock(maxClusters, d)
	case mcmc.CovariateMixed:
		st.Phi = newPhiBlock(maxClusters, d.NCovariates, d.NCategoriesX)
		st.Mu, st.Tau = newNormalBlock(maxClusters, d)
	}

	if cfg.IncludeResponse {
		st.Theta = make([]float64, maxClusters)
		st.Beta = make([]float64, d.NFixedEffects)
		if cfg.ResponseExtraVar {
			st.Lambda = make([]float64, d.NSubjects)
			st.TauEpsilon = 1.0
		}
		st.SigmaSqY = 1.0
	}

	if cfg.VarSelectType != mcmc.VarSelectNone {
		st.Gamma = make([][]int, maxClusters)
		for c := range st.Gamma {
			st.Gamma[c] = make([]int, d.NCovariates)
			for j := range st.Gamma[c] {
				st.Gamma[c][j] = 1
			}
		}
		st.Rho = make([]float64, d.NCovariates)
		st.Omega = make([]int, d.NCovariates)
		for j := 0; j < d.NCovariates; j++ {
			st.Rho[j] = 0.5
			st.Omega[j] = 1
		}
	}

	if err := st.Check(); err != nil {
		return nil, mcmc.InitSummary{}, errors.Wrap(err, "Initialised chain state is not valid")
	}

	return st, mcmc.InitSummary{InitialClusters: nClusInit, MaxClusters: maxClusters}, nil
}

func newPhiBlock(nClusters, nCovariates, nCategories int) [][][]float64 {
	phi := make([][][]float64, nClusters)
	for c := range phi {
		phi[c] = make([][]float64, nCovariates)
		for j := range phi[c] {
			phi[c][j] = make([]float64, nCategories)
			for k := range phi[c][j] {
				phi[c][j][k] = 1.0 / float64(nCategories)
			}
		}
	}
	return phi
}

func newNormalBlock(nClusters int, d *Dataset) ([][]float64, [][]float64) {
	mu := make([][]float64, nClusters)
	tau := make([][]float64, nClusters)
	for c := range mu {
		mu[c] = make([]float64, d.NCovariates)
		tau[c] = make([]float64, d.NCovariates)
		for j := range mu[c] {
			mu[c][j] = d.CovariateMean(j)
			tau[c][j] = 1.0
		}
	}
	return mu, tau
}

// logEps keeps log terms finite when a weight or likelihood underflows.
const logEps = 1e-300

// LogPosterior implements mcmc.Model: the log posterior of the state up to
// a constant, used by the Metropolis-Hastings kernels. Pure: the state is
// never mutated.
func (m *Model) LogPosterior(st mcmc.State) (float64, error) {
	s, err := asChainState(st)
	if err != nil {
		return 0, err
	}
	d := m.data
	if d == nil {
		return 0, errors.New("No data imported")
	}

	lp := 0.0
	for i := 0; i < d.NSubjects; i++ {
		c := s.Z[i]
		lp += math.Log(math.Max(s.Psi[c], logEps))

		for j := 0; j < d.NCovariates; j++ {
			if d.Missing[i][j] {
				continue
			}
			if s.Gamma != nil && s.Gamma[c][j] == 0 {
				continue
			}
			if s.Mu != nil {
				diff := d.X[i][j] - s.Mu[c][j]
				lp += 0.5*math.Log(math.Max(s.Tau[c][j], logEps)) - 0.5*s.Tau[c][j]*diff*diff
			} else if s.Phi != nil {
				k := int(d.X[i][j])
				if k >= 0 && k < len(s.Phi[c][j]) {
					lp += math.Log(math.Max(s.Phi[c][j][k], logEps))
				}
			}
		}

		if s.Theta != nil {
			mean := s.Theta[c]
			for j := 0; j < d.NFixedEffects; j++ {
				mean += s.Beta[j] * d.W[i][j]
			}
			if s.Lambda != nil {
				mean += s.Lambda[i]
			}
			v := s.SigmaSqY
			if v <= 0 {
				return 0, errors.Errorf("Non-positive residual variance %f", v)
			}
			diff := d.Y[i] - mean
			lp += -0.5*math.Log(v) - 0.5*diff*diff/v
		}
	}

	// Gamma(2,1) prior on alpha when it is being estimated
	if m.cfg.FixedAlpha < 0 {
		lp += math.Log(math.Max(s.Alpha, logEps)) - s.Alpha
	}

	return lp, nil
}

// UpdateMissingData implements mcmc.Model: imputes the missing covariate
// entries in place from the current cluster parameters, once per sweep
// before any proposal runs.
func (m *Model) UpdateMissingData(st mcmc.State, gen *rand.Generator) error {
	s, err := asChainState(st)
	if err != nil {
		return err
	}
	d := m.data
	if d == nil {
		return errors.New("No data imported")
	}

	for i := 0; i < d.NSubjects; i++ {
		c := s.Z[i]
		for j := 0; j < d.NCovariates; j++ {
			if !d.Missing[i][j] {
				continue
			}
			if s.Mu != nil {
				sd := 1.0 / math.Sqrt(math.Max(s.Tau[c][j], logEps))
				draw := distuv.Normal{Mu: s.Mu[c][j], Sigma: sd, Src: gen}
				d.X[i][j] = draw.Rand()
			} else if s.Phi != nil {
				d.X[i][j] = float64(samplePhiCategory(s.Phi[c][j], gen))
			} else {
				d.X[i][j] = 0.0
			}
		}
	}

	return nil
}

// samplePhiCategory draws a category index from a probability vector.
func samplePhiCategory(probs []float64, gen *rand.Generator) int {
	u := gen.Float64()
	cum := 0.0
	for k, p := range probs {
		cum += p
		if u < cum {
			return k
		}
	}
	return len(probs) - 1
}

// clampUnit keeps a stick-breaking fraction strictly inside (0, 1) so
// weights never degenerate.
func clampUnit(v float64) float64 {
	const eps = 1e-10
	if v < eps {
		return eps
	}
	if v > 1.0-eps {
		return 1.0 - eps
	}
	return v
}
