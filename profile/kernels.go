package profile

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"profregr/mcmc"
	"profregr/rand"
)

// proposer binds the update kernels to a model so they can reach the data
// and the log posterior. One instance backs every proposal in a registry.
type proposer struct {
	m *Model
}

// Prior constants shared by the conjugate updates. These are the weakly
// informative defaults of the original system, not user-tunable.
const (
	priorMuPrec    = 0.1 // Precision of the normal prior on cluster means
	priorTauShape  = 2.0 // Gamma prior shape for covariate precisions
	priorTauRate   = 1.0 // Gamma prior rate for covariate precisions
	priorPhiWeight = 0.5 // Dirichlet prior weight for category probabilities
	priorThetaSD   = 2.0 // SD of the normal prior on cluster response levels
	priorVarShape  = 2.5 // Inverse-gamma prior shape for variances
	priorVarRate   = 2.5 // Inverse-gamma prior rate for variances

	// targetAcceptRate steers the adaptive random walk scales.
	targetAcceptRate = 0.44

	minPrecision = 1e-6
)

// adapt nudges a random walk scale toward the target acceptance rate once
// the rolling window has filled.
func adapt(tune *mcmc.Tuning, dim int) {
	r := tune.RecentRate()
	tune.SetScale(dim, tune.Scale(dim)*math.Exp(0.01*(r-targetAcceptRate)))
}

// ----------------------------------------------------------------------
// Stick-breaking weights
// ----------------------------------------------------------------------

// gibbsForVActive redraws the stick-breaking fractions of the occupied
// clusters from their conditional Beta posteriors.
func (p *proposer) gibbsForVActive(st mcmc.State, tune *mcmc.Tuning, gen *rand.Generator) error {
	s, err := asChainState(st)
	if err != nil {
		return err
	}

	counts := s.ClusterCounts()
	active := s.ActiveClusters()

	tail := 0
	for c := active; c < s.MaxClusters; c++ {
		tail += counts[c]
	}
	for c := active - 1; c >= 0; c-- {
		draw := distuv.Beta{
			Alpha: 1.0 + float64(counts[c]),
			Beta:  s.Alpha + float64(tail),
			Src:   gen,
		}
		s.V[c] = clampUnit(draw.Rand())
		tail += counts[c]
	}

	s.RecomputePsi()
	return nil
}

// gibbsForVInActive redraws the fractions of the empty clusters from the
// stick-breaking prior.
func (p *proposer) gibbsForVInActive(st mcmc.State, tune *mcmc.Tuning, gen *rand.Generator) error {
	s, err := asChainState(st)
	if err != nil {
		return err
	}

	prior := distuv.Beta{Alpha: 1.0, Beta: s.Alpha, Src: gen}
	for c := s.ActiveClusters(); c < s.MaxClusters; c++ {
		s.V[c] = clampUnit(prior.Rand())
	}

	s.RecomputePsi()
	return nil
}

// ----------------------------------------------------------------------
// Covariate blocks
// ----------------------------------------------------------------------

// updateForPhiActive redraws the category probabilities of the occupied
// clusters from their Dirichlet conditionals (via normalized gamma draws).
func (p *proposer) updateForPhiActive(st mcmc.State, tune *mcmc.Tuning, gen *rand.Generator) error {
	s, err := asChainState(st)
	if err != nil {
		return err
	}
	d := p.m.data

	for c := 0; c < s.ActiveClusters(); c++ {
		for j := 0; j < d.NCovariates; j++ {
			nCat := len(s.Phi[c][j])
			counts := make([]float64, nCat)
			for i := 0; i < d.NSubjects; i++ {
				if s.Z[i] != c || d.Missing[i][j] {
					continue
				}
				k := int(d.X[i][j])
				if k >= 0 && k < nCat {
					counts[k]++
				}
			}
			drawDirichlet(s.Phi[c][j], counts, gen)
		}
	}
	return nil
}

// gibbsForPhiInActive redraws the empty clusters' category probabilities
// from the Dirichlet prior.
func (p *proposer) gibbsForPhiInActive(st mcmc.State, tune *mcmc.Tuning, gen *rand.Generator) error {
	s, err := asChainState(st)
	if err != nil {
		return err
	}

	for c := s.ActiveClusters(); c < s.MaxClusters; c++ {
		for j := range s.Phi[c] {
			drawDirichlet(s.Phi[c][j], nil, gen)
		}
	}
	return nil
}

// drawDirichlet fills probs with a Dirichlet(priorPhiWeight + counts) draw.
// A nil counts slice means a pure prior draw.
func drawDirichlet(probs []float64, counts []float64, gen *rand.Generator) {
	sum := 0.0
	for k := range probs {
		a := priorPhiWeight
		if counts != nil {
			a += counts[k]
		}
		g := distuv.Gamma{Alpha: a, Beta: 1.0, Src: gen}
		probs[k] = math.Max(g.Rand(), logEps)
		sum += probs[k]
	}
	for k := range probs {
		probs[k] /= sum
	}
}

// gibbsForMuActive redraws the occupied clusters' covariate means from
// their normal conjugate conditionals.
func (p *proposer) gibbsForMuActive(st mcmc.State, tune *mcmc.Tuning, gen *rand.Generator) error {
	s, err := asChainState(st)
	if err != nil {
		return err
	}
	d := p.m.data

	for c := 0; c < s.ActiveClusters(); c++ {
		for j := 0; j < d.NCovariates; j++ {
			n, xsum := 0.0, 0.0
			for i := 0; i < d.NSubjects; i++ {
				if s.Z[i] != c || d.Missing[i][j] {
					continue
				}
				n++
				xsum += d.X[i][j]
			}

			postPrec := priorMuPrec + n*s.Tau[c][j]
			postMean := (priorMuPrec*d.CovariateMean(j) + s.Tau[c][j]*xsum) / postPrec
			draw := distuv.Normal{Mu: postMean, Sigma: 1.0 / math.Sqrt(postPrec), Src: gen}
			s.Mu[c][j] = draw.Rand()
		}
	}
	return nil
}

// gibbsForMuInActive redraws the empty clusters' means from the prior.
func (p *proposer) gibbsForMuInActive(st mcmc.State, tune *mcmc.Tuning, gen *rand.Generator) error {
	s, err := asChainState(st)
	if err != nil {
		return err
	}
	d := p.m.data

	prior := distuv.Normal{Mu: 0.0, Sigma: 1.0 / math.Sqrt(priorMuPrec), Src: gen}
	for c := s.ActiveClusters(); c < s.MaxClusters; c++ {
		for j := 0; j < d.NCovariates; j++ {
			s.Mu[c][j] = d.CovariateMean(j) + prior.Rand()
		}
	}
	return nil
}

// gibbsForTauActive redraws the occupied clusters' covariate precisions
// from their gamma conjugate conditionals.
func (p *proposer) gibbsForTauActive(st mcmc.State, tune *mcmc.Tuning, gen *rand.Generator) error {
	s, err := asChainState(st)
	if err != nil {
		return err
	}
	d := p.m.data

	for c := 0; c < s.ActiveClusters(); c++ {
		for j := 0; j < d.NCovariates; j++ {
			n, ss := 0.0, 0.0
			for i := 0; i < d.NSubjects; i++ {
				if s.Z[i] != c || d.Missing[i][j] {
					continue
				}
				n++
				diff := d.X[i][j] - s.Mu[c][j]
				ss += diff * diff
			}

			draw := distuv.Gamma{
				Alpha: priorTauShape + 0.5*n,
				Beta:  priorTauRate + 0.5*ss,
				Src:   gen,
			}
			s.Tau[c][j] = math.Max(draw.Rand(), minPrecision)
		}
	}
	return nil
}

// gibbsForTauInActive redraws the empty clusters' precisions from the
// prior.
func (p *proposer) gibbsForTauInActive(st mcmc.State, tune *mcmc.Tuning, gen *rand.Generator) error {
	s, err := asChainState(st)
	if err != nil {
		return err
	}

	prior := distuv.Gamma{Alpha: priorTauShape, Beta: priorTauRate, Src: gen}
	for c := s.ActiveClusters(); c < s.MaxClusters; c++ {
		for j := range s.Tau[c] {
			s.Tau[c][j] = math.Max(prior.Rand(), minPrecision)
		}
	}
	return nil
}

// ----------------------------------------------------------------------
// Variable selection
// ----------------------------------------------------------------------

// covariateLogLik is the log likelihood of covariate j for subject i under
// cluster c's parameters, or under the null (pooled) model when null is
// set. Used by the inclusion indicator update.
func (p *proposer) covariateLogLik(s *State, i, j, c int, null bool) float64 {
	d := p.m.data
	if d.Missing[i][j] {
		return 0.0
	}

	if s.Mu != nil {
		mu, tau := s.Mu[c][j], s.Tau[c][j]
		if null {
			mu, tau = d.CovariateMean(j), 1.0
		}
		diff := d.X[i][j] - mu
		return 0.5*math.Log(math.Max(tau, logEps)) - 0.5*tau*diff*diff
	}

	if s.Phi != nil {
		k := int(d.X[i][j])
		if k < 0 || k >= len(s.Phi[c][j]) {
			return 0.0
		}
		if null {
			return -math.Log(float64(len(s.Phi[c][j])))
		}
		return math.Log(math.Max(s.Phi[c][j][k], logEps))
	}

	return 0.0
}

// gibbsForGammaActive redraws the occupied clusters' inclusion indicators
// from their Bernoulli conditionals: cluster-specific likelihood against
// the pooled null, weighted by rho.
func (p *proposer) gibbsForGammaActive(st mcmc.State, tune *mcmc.Tuning, gen *rand.Generator) error {
	s, err := asChainState(st)
	if err != nil {
		return err
	}
	d := p.m.data

	for c := 0; c < s.ActiveClusters(); c++ {
		for j := 0; j < d.NCovariates; j++ {
			ll1, ll0 := 0.0, 0.0
			for i := 0; i < d.NSubjects; i++ {
				if s.Z[i] != c {
					continue
				}
				ll1 += p.covariateLogLik(s, i, j, c, false)
				ll0 += p.covariateLogLik(s, i, j, c, true)
			}

			rho := s.Rho[j] * float64(s.Omega[j])
			pIncl := bernoulliPosterior(rho, ll1, ll0)
			if gen.Float64() < pIncl {
				s.Gamma[c][j] = 1
			} else {
				s.Gamma[c][j] = 0
			}
		}
	}
	return nil
}

// gibbsForGammaInActive redraws the empty clusters' indicators from the
// Bernoulli(rho*omega) prior.
func (p *proposer) gibbsForGammaInActive(st mcmc.State, tune *mcmc.Tuning, gen *rand.Generator) error {
	s, err := asChainState(st)
	if err != nil {
		return err
	}

	for c := s.ActiveClusters(); c < s.MaxClusters; c++ {
		for j := range s.Gamma[c] {
			rho := s.Rho[j] * float64(s.Omega[j])
			if gen.Float64() < rho {
				s.Gamma[c][j] = 1
			} else {
				s.Gamma[c][j] = 0
			}
		}
	}
	return nil
}

// bernoulliPosterior is P(include) for prior rho and log likelihoods under
// inclusion/exclusion, computed without overflow.
func bernoulliPosterior(rho, ll1, ll0 float64) float64 {
	if rho <= 0 {
		return 0.0
	}
	if rho >= 1 {
		return 1.0
	}
	// logit = log(rho/(1-rho)) + ll1 - ll0
	logit := math.Log(rho/(1.0-rho)) + ll1 - ll0
	return 1.0 / (1.0 + math.Exp(-logit))
}

// metropolisHastingsForRhoOmega jointly updates the per-covariate inclusion
// probability and structure indicator against the gamma block they govern.
func (p *proposer) metropolisHastingsForRhoOmega(st mcmc.State, tune *mcmc.Tuning, gen *rand.Generator) error {
	s, err := asChainState(st)
	if err != nil {
		return err
	}
	d := p.m.data

	for j := 0; j < d.NCovariates; j++ {
		curRho, curOmega := s.Rho[j], s.Omega[j]

		propOmega := curOmega
		if gen.Float64() < 0.5 {
			propOmega = 1 - curOmega
		}
		propDraw := distuv.Beta{Alpha: 1.0, Beta: 1.0, Src: gen}
		propRho := clampUnit(propDraw.Rand())

		cur := p.gammaBlockLogLik(s, j, curRho, curOmega)
		prop := p.gammaBlockLogLik(s, j, propRho, propOmega)

		accepted := prop-cur >= math.Log(math.Max(gen.Float64(), logEps))
		if accepted {
			s.Rho[j] = propRho
			s.Omega[j] = propOmega
		}
		tune.Record(accepted)
	}
	return nil
}

// gammaBlockLogLik scores the inclusion indicators of covariate j under a
// candidate rho/omega pair.
func (p *proposer) gammaBlockLogLik(s *State, j int, rho float64, omega int) float64 {
	pIncl := rho * float64(omega)
	ll := 0.0
	for c := 0; c < s.MaxClusters; c++ {
		if s.Gamma[c][j] == 1 {
			ll += math.Log(math.Max(pIncl, logEps))
		} else {
			ll += math.Log(math.Max(1.0-pIncl, logEps))
		}
	}
	return ll
}

// ----------------------------------------------------------------------
// Response blocks
// ----------------------------------------------------------------------

// metropolisHastingsForThetaActive random-walks each occupied cluster's
// response level, accepting against the full log posterior.
func (p *proposer) metropolisHastingsForThetaActive(st mcmc.State, tune *mcmc.Tuning, gen *rand.Generator) error {
	s, err := asChainState(st)
	if err != nil {
		return err
	}

	step := distuv.Normal{Mu: 0.0, Sigma: 1.0, Src: gen}
	for c := 0; c < s.ActiveClusters(); c++ {
		cur, err := p.m.LogPosterior(s)
		if err != nil {
			return err
		}

		old := s.Theta[c]
		s.Theta[c] = old + tune.Scale(0)*step.Rand()

		prop, err := p.m.LogPosterior(s)
		if err != nil {
			return err
		}

		accepted := prop-cur >= math.Log(math.Max(gen.Float64(), logEps))
		if !accepted {
			s.Theta[c] = old
		}
		tune.Record(accepted)
		adapt(tune, 0)
	}
	return nil
}

// gibbsForThetaInActive redraws the empty clusters' response levels from
// the prior.
func (p *proposer) gibbsForThetaInActive(st mcmc.State, tune *mcmc.Tuning, gen *rand.Generator) error {
	s, err := asChainState(st)
	if err != nil {
		return err
	}

	prior := distuv.Normal{Mu: 0.0, Sigma: priorThetaSD, Src: gen}
	for c := s.ActiveClusters(); c < s.MaxClusters; c++ {
		s.Theta[c] = prior.Rand()
	}
	return nil
}

// metropolisHastingsForBeta random-walks each fixed effect coefficient with
// its own adaptive scale.
func (p *proposer) metropolisHastingsForBeta(st mcmc.State, tune *mcmc.Tuning, gen *rand.Generator) error {
	s, err := asChainState(st)
	if err != nil {
		return err
	}
	d := p.m.data

	step := distuv.Normal{Mu: 0.0, Sigma: 1.0, Src: gen}
	for j := 0; j < d.NFixedEffects; j++ {
		cur, err := p.m.LogPosterior(s)
		if err != nil {
			return err
		}

		old := s.Beta[j]
		s.Beta[j] = old + tune.Scale(j)*step.Rand()

		prop, err := p.m.LogPosterior(s)
		if err != nil {
			return err
		}

		accepted := prop-cur >= math.Log(math.Max(gen.Float64(), logEps))
		if !accepted {
			s.Beta[j] = old
		}
		tune.Record(accepted)
		adapt(tune, j)
	}
	return nil
}

// subjectResponseLogLik is the response log likelihood of subject i plus
// the prior on its extra-variation term, used by the lambda update so it
// stays linear in the subject count.
func (p *proposer) subjectResponseLogLik(s *State, i int) float64 {
	d := p.m.data

	mean := s.Theta[s.Z[i]]
	for j := 0; j < d.NFixedEffects; j++ {
		mean += s.Beta[j] * d.W[i][j]
	}
	mean += s.Lambda[i]

	diff := d.Y[i] - mean
	ll := -0.5 * diff * diff / s.SigmaSqY
	ll += -0.5 * s.TauEpsilon * s.Lambda[i] * s.Lambda[i]
	return ll
}

// metropolisHastingsForLambda random-walks the per-subject extra variation
// terms.
func (p *proposer) metropolisHastingsForLambda(st mcmc.State, tune *mcmc.Tuning, gen *rand.Generator) error {
	s, err := asChainState(st)
	if err != nil {
		return err
	}
	d := p.m.data

	step := distuv.Normal{Mu: 0.0, Sigma: 1.0, Src: gen}
	for i := 0; i < d.NSubjects; i++ {
		cur := p.subjectResponseLogLik(s, i)

		old := s.Lambda[i]
		s.Lambda[i] = old + tune.Scale(0)*step.Rand()

		prop := p.subjectResponseLogLik(s, i)

		accepted := prop-cur >= math.Log(math.Max(gen.Float64(), logEps))
		if !accepted {
			s.Lambda[i] = old
		}
		tune.Record(accepted)
	}
	adapt(tune, 0)
	return nil
}

// gibbsForTauEpsilon redraws the extra-variation precision from its gamma
// conjugate conditional.
func (p *proposer) gibbsForTauEpsilon(st mcmc.State, tune *mcmc.Tuning, gen *rand.Generator) error {
	s, err := asChainState(st)
	if err != nil {
		return err
	}
	d := p.m.data

	ss := 0.0
	for i := 0; i < d.NSubjects; i++ {
		ss += s.Lambda[i] * s.Lambda[i]
	}

	draw := distuv.Gamma{
		Alpha: priorVarShape + 0.5*float64(d.NSubjects),
		Beta:  priorVarRate + 0.5*ss,
		Src:   gen,
	}
	s.TauEpsilon = math.Max(draw.Rand(), minPrecision)
	return nil
}

// gibbsForSigmaSqY redraws the residual variance of the Normal outcome
// from its inverse-gamma conditional.
func (p *proposer) gibbsForSigmaSqY(st mcmc.State, tune *mcmc.Tuning, gen *rand.Generator) error {
	s, err := asChainState(st)
	if err != nil {
		return err
	}
	if s.Theta == nil {
		return nil
	}
	d := p.m.data

	rss := 0.0
	for i := 0; i < d.NSubjects; i++ {
		mean := s.Theta[s.Z[i]]
		for j := 0; j < d.NFixedEffects; j++ {
			mean += s.Beta[j] * d.W[i][j]
		}
		if s.Lambda != nil {
			mean += s.Lambda[i]
		}
		diff := d.Y[i] - mean
		rss += diff * diff
	}

	draw := distuv.Gamma{
		Alpha: priorVarShape + 0.5*float64(d.NSubjects),
		Beta:  priorVarRate + 0.5*rss,
		Src:   gen,
	}
	s.SigmaSqY = 1.0 / math.Max(draw.Rand(), minPrecision)
	return nil
}

// ----------------------------------------------------------------------
// Labels, slice variables, concentration, allocations
// ----------------------------------------------------------------------

// metropolisHastingsForLabels proposes swapping the members of two
// clusters, accepting against the full log posterior.
func (p *proposer) metropolisHastingsForLabels(st mcmc.State, tune *mcmc.Tuning, gen *rand.Generator) error {
	s, err := asChainState(st)
	if err != nil {
		return err
	}

	active := s.ActiveClusters()
	if active < 2 {
		return nil
	}

	c1 := gen.Intn(active)
	c2 := gen.Intn(active)
	if c1 == c2 {
		return nil
	}

	cur, err := p.m.LogPosterior(s)
	if err != nil {
		return err
	}

	swapMembers(s, c1, c2)

	prop, err := p.m.LogPosterior(s)
	if err != nil {
		return err
	}

	accepted := prop-cur >= math.Log(math.Max(gen.Float64(), logEps))
	if !accepted {
		swapMembers(s, c1, c2)
	}
	tune.Record(accepted)
	return nil
}

func swapMembers(s *State, c1, c2 int) {
	for i, z := range s.Z {
		if z == c1 {
			s.Z[i] = c2
		} else if z == c2 {
			s.Z[i] = c1
		}
	}
}

// gibbsForU redraws the slice variables, one uniform per subject under its
// cluster weight. Only registered for the non-truncated sampler variant.
func (p *proposer) gibbsForU(st mcmc.State, tune *mcmc.Tuning, gen *rand.Generator) error {
	s, err := asChainState(st)
	if err != nil {
		return err
	}

	for i := range s.U {
		s.U[i] = gen.Float64() * math.Max(s.Psi[s.Z[i]], logEps)
	}
	return nil
}

// metropolisHastingsForAlpha random-walks the concentration parameter on
// the log scale. Only registered when alpha is not held fixed.
func (p *proposer) metropolisHastingsForAlpha(st mcmc.State, tune *mcmc.Tuning, gen *rand.Generator) error {
	s, err := asChainState(st)
	if err != nil {
		return err
	}

	cur, err := p.m.LogPosterior(s)
	if err != nil {
		return err
	}

	step := distuv.Normal{Mu: 0.0, Sigma: 1.0, Src: gen}
	old := s.Alpha
	s.Alpha = old * math.Exp(tune.Scale(0)*step.Rand())

	prop, err := p.m.LogPosterior(s)
	if err != nil {
		return err
	}

	// Log-scale walk needs the Jacobian term
	logRatio := prop - cur + math.Log(s.Alpha/old)
	accepted := logRatio >= math.Log(math.Max(gen.Float64(), logEps))
	if !accepted {
		s.Alpha = old
	}
	tune.Record(accepted)
	adapt(tune, 0)
	return nil
}

// gibbsForZ redraws every subject's cluster allocation from its full
// conditional. Runs last each sweep.
func (p *proposer) gibbsForZ(st mcmc.State, tune *mcmc.Tuning, gen *rand.Generator) error {
	s, err := asChainState(st)
	if err != nil {
		return err
	}
	d := p.m.data

	slice := p.m.cfg.SamplerType != mcmc.SamplerTruncated
	logits := make([]float64, s.MaxClusters)

	for i := 0; i < d.NSubjects; i++ {
		for c := 0; c < s.MaxClusters; c++ {
			if slice && s.Psi[c] <= s.U[i] {
				logits[c] = math.Inf(-1)
				continue
			}

			lw := math.Log(math.Max(s.Psi[c], logEps))
			for j := 0; j < d.NCovariates; j++ {
				if s.Gamma != nil && s.Gamma[c][j] == 0 {
					continue
				}
				lw += p.covariateLogLik(s, i, j, c, false)
			}
			if s.Theta != nil {
				mean := s.Theta[c]
				for j := 0; j < d.NFixedEffects; j++ {
					mean += s.Beta[j] * d.W[i][j]
				}
				if s.Lambda != nil {
					mean += s.Lambda[i]
				}
				diff := d.Y[i] - mean
				lw += -0.5 * diff * diff / s.SigmaSqY
			}
			logits[c] = lw
		}

		s.Z[i] = sampleLogits(logits, gen)
	}
	return nil
}

// sampleLogits draws an index from unnormalized log weights. Falls back to
// index 0 if every weight underflows.
func sampleLogits(logits []float64, gen *rand.Generator) int {
	max := math.Inf(-1)
	for _, lw := range logits {
		if lw > max {
			max = lw
		}
	}
	if math.IsInf(max, -1) {
		return 0
	}

	total := 0.0
	probs := make([]float64, len(logits))
	for c, lw := range logits {
		probs[c] = math.Exp(lw - max)
		total += probs[c]
	}

	u := gen.Float64() * total
	cum := 0.0
	for c, p := range probs {
		cum += p
		if u < cum {
			return c
		}
	}
	return len(probs) - 1
}
