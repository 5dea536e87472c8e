package profile

import (
	"profregr/mcmc"
)

// composeRule pairs an inclusion predicate with the proposals it
// contributes. The table below is evaluated in fixed order, so the composed
// registry (and therefore the generator draw order on every sweep) is a
// pure, reproducible function of the configuration and the dataset shape.
type composeRule struct {
	when  func(cfg *mcmc.Config, shape mcmc.DataShape) bool
	build func(cfg *mcmc.Config, p *proposer) []*mcmc.Proposal
}

func always(*mcmc.Config, mcmc.DataShape) bool { return true }

func std(name string, fn mcmc.UpdateFunc) *mcmc.Proposal {
	return &mcmc.Proposal{Name: name, Weight: 1.0, RepeatCount: 1, FirstSweep: 1, Update: fn}
}

func deferred(cfg *mcmc.Config, name string, fn mcmc.UpdateFunc) *mcmc.Proposal {
	pr := std(name, fn)
	pr.FirstSweep = cfg.VarSelectFirstSweep()
	return pr
}

// composeTable is the full decision table for proposal registration.
//
// An unrecognized CovariateType matches none of the covariate-block rules
// and yields zero covariate proposals; Config.Check is the place that
// rejects unknown values before a run.
var composeTable = []composeRule{
	// Active stick-breaking weights always run first.
	{always, func(cfg *mcmc.Config, p *proposer) []*mcmc.Proposal {
		return []*mcmc.Proposal{std("gibbsForVActive", p.gibbsForVActive)}
	}},

	// Active covariate block by covariate model.
	{func(cfg *mcmc.Config, _ mcmc.DataShape) bool { return cfg.CovariateType == mcmc.CovariateDiscrete },
		func(cfg *mcmc.Config, p *proposer) []*mcmc.Proposal {
			return []*mcmc.Proposal{std("updateForPhiActive", p.updateForPhiActive)}
		}},
	{func(cfg *mcmc.Config, _ mcmc.DataShape) bool { return cfg.CovariateType == mcmc.CovariateNormal },
		func(cfg *mcmc.Config, p *proposer) []*mcmc.Proposal {
			return []*mcmc.Proposal{
				std("gibbsForMuActive", p.gibbsForMuActive),
				std("gibbsForTauActive", p.gibbsForTauActive),
			}
		}},
	{func(cfg *mcmc.Config, _ mcmc.DataShape) bool { return cfg.CovariateType == mcmc.CovariateMixed },
		func(cfg *mcmc.Config, p *proposer) []*mcmc.Proposal {
			return []*mcmc.Proposal{
				std("updateForPhiActive", p.updateForPhiActive),
				std("gibbsForMuActive", p.gibbsForMuActive),
				std("gibbsForTauActive", p.gibbsForTauActive),
			}
		}},

	// Active inclusion indicators, deferred past a tenth of burn in. The
	// continuous selection mode uses a different mechanism with no
	// discrete indicator update.
	{func(cfg *mcmc.Config, _ mcmc.DataShape) bool {
		return cfg.VarSelectType != mcmc.VarSelectNone && cfg.VarSelectType != mcmc.VarSelectContinuous
	},
		func(cfg *mcmc.Config, p *proposer) []*mcmc.Proposal {
			return []*mcmc.Proposal{deferred(cfg, "gibbsForGammaActive", p.gibbsForGammaActive)}
		}},

	// Active response level.
	{func(cfg *mcmc.Config, _ mcmc.DataShape) bool { return cfg.IncludeResponse },
		func(cfg *mcmc.Config, p *proposer) []*mcmc.Proposal {
			return []*mcmc.Proposal{std("metropolisHastingsForThetaActive", p.metropolisHastingsForThetaActive)}
		}},

	// Label reassignment.
	{always, func(cfg *mcmc.Config, p *proposer) []*mcmc.Proposal {
		return []*mcmc.Proposal{std("metropolisHastingsForLabels", p.metropolisHastingsForLabels)}
	}},

	// Slice variables for the non-truncated variant.
	{func(cfg *mcmc.Config, _ mcmc.DataShape) bool { return cfg.SamplerType != mcmc.SamplerTruncated },
		func(cfg *mcmc.Config, p *proposer) []*mcmc.Proposal {
			return []*mcmc.Proposal{std("gibbsForU", p.gibbsForU)}
		}},

	// Concentration parameter, only when estimated.
	{func(cfg *mcmc.Config, _ mcmc.DataShape) bool { return cfg.FixedAlpha < 0 },
		func(cfg *mcmc.Config, p *proposer) []*mcmc.Proposal {
			return []*mcmc.Proposal{std("metropolisHastingsForAlpha", p.metropolisHastingsForAlpha)}
		}},

	// Inactive stick-breaking weights.
	{always, func(cfg *mcmc.Config, p *proposer) []*mcmc.Proposal {
		return []*mcmc.Proposal{std("gibbsForVInActive", p.gibbsForVInActive)}
	}},

	// Inactive covariate block mirror.
	{func(cfg *mcmc.Config, _ mcmc.DataShape) bool { return cfg.CovariateType == mcmc.CovariateDiscrete },
		func(cfg *mcmc.Config, p *proposer) []*mcmc.Proposal {
			return []*mcmc.Proposal{std("gibbsForPhiInActive", p.gibbsForPhiInActive)}
		}},
	{func(cfg *mcmc.Config, _ mcmc.DataShape) bool { return cfg.CovariateType == mcmc.CovariateNormal },
		func(cfg *mcmc.Config, p *proposer) []*mcmc.Proposal {
			return []*mcmc.Proposal{
				std("gibbsForMuInActive", p.gibbsForMuInActive),
				std("gibbsForTauInActive", p.gibbsForTauInActive),
			}
		}},
	{func(cfg *mcmc.Config, _ mcmc.DataShape) bool { return cfg.CovariateType == mcmc.CovariateMixed },
		func(cfg *mcmc.Config, p *proposer) []*mcmc.Proposal {
			return []*mcmc.Proposal{
				std("gibbsForPhiInActive", p.gibbsForPhiInActive),
				std("gibbsForMuInActive", p.gibbsForMuInActive),
				std("gibbsForTauInActive", p.gibbsForTauInActive),
			}
		}},

	// Inactive inclusion indicators, same gating as the active mirror.
	{func(cfg *mcmc.Config, _ mcmc.DataShape) bool {
		return cfg.VarSelectType != mcmc.VarSelectNone && cfg.VarSelectType != mcmc.VarSelectContinuous
	},
		func(cfg *mcmc.Config, p *proposer) []*mcmc.Proposal {
			return []*mcmc.Proposal{deferred(cfg, "gibbsForGammaInActive", p.gibbsForGammaInActive)}
		}},

	// Inactive response level, then the fixed effects and extra-variation
	// blocks that only exist alongside the response.
	{func(cfg *mcmc.Config, _ mcmc.DataShape) bool { return cfg.IncludeResponse },
		func(cfg *mcmc.Config, p *proposer) []*mcmc.Proposal {
			return []*mcmc.Proposal{std("gibbsForThetaInActive", p.gibbsForThetaInActive)}
		}},
	{func(cfg *mcmc.Config, shape mcmc.DataShape) bool {
		return cfg.IncludeResponse && shape.NFixedEffects > 0
	},
		func(cfg *mcmc.Config, p *proposer) []*mcmc.Proposal {
			return []*mcmc.Proposal{std("metropolisHastingsForBeta", p.metropolisHastingsForBeta)}
		}},
	{func(cfg *mcmc.Config, _ mcmc.DataShape) bool {
		return cfg.IncludeResponse && cfg.ResponseExtraVar
	},
		func(cfg *mcmc.Config, p *proposer) []*mcmc.Proposal {
			return []*mcmc.Proposal{
				std("metropolisHastingsForLambda", p.metropolisHastingsForLambda),
				std("gibbsForTauEpsilon", p.gibbsForTauEpsilon),
			}
		}},

	// Joint rho/omega update, deferred; gated only on selection being on.
	{func(cfg *mcmc.Config, _ mcmc.DataShape) bool { return cfg.VarSelectType != mcmc.VarSelectNone },
		func(cfg *mcmc.Config, p *proposer) []*mcmc.Proposal {
			return []*mcmc.Proposal{deferred(cfg, "metropolisHastingsForRhoOmega", p.metropolisHastingsForRhoOmega)}
		}},

	// Residual variance for the Normal outcome.
	{func(cfg *mcmc.Config, _ mcmc.DataShape) bool { return cfg.OutcomeType == mcmc.OutcomeNormal },
		func(cfg *mcmc.Config, p *proposer) []*mcmc.Proposal {
			return []*mcmc.Proposal{std("gibbsForSigmaSqY", p.gibbsForSigmaSqY)}
		}},

	// Allocations always run last.
	{always, func(cfg *mcmc.Config, p *proposer) []*mcmc.Proposal {
		return []*mcmc.Proposal{std("gibbsForZ", p.gibbsForZ)}
	}},
}

// Compose maps the configuration and dataset shape to the ordered proposal
// registry. Deterministic and side-effect free: identical inputs always
// yield an identical ordered list.
func Compose(cfg *mcmc.Config, shape mcmc.DataShape, m *Model) []*mcmc.Proposal {
	p := &proposer{m: m}

	var out []*mcmc.Proposal
	for _, rule := range composeTable {
		if rule.when(cfg, shape) {
			out = append(out, rule.build(cfg, p)...)
		}
	}
	return out
}
