package mcmc

import (
	"github.com/pkg/errors"
)

// Outcome model constant strings
const (
	OutcomeNone        = "None"
	OutcomeBernoulli   = "Bernoulli"
	OutcomeNormal      = "Normal"
	OutcomePoisson     = "Poisson"
	OutcomeBinomial    = "Binomial"
	OutcomeCategorical = "Categorical"
	OutcomeSurvival    = "Survival"
)

// Covariate model constant strings
const (
	CovariateDiscrete = "Discrete"
	CovariateNormal   = "Normal"
	CovariateMixed    = "Mixed"
)

// Variable selection constant strings
const (
	VarSelectNone       = "None"
	VarSelectBinary     = "Binary"
	VarSelectContinuous = "Continuous"
)

// Sampler variant constant strings
const (
	SamplerTruncated = "Truncated"
	SamplerSlice     = "Slice"
)

// Config holds the run parameters for a sampler. It is populated once (from
// the command line or an embedding caller) and read-only from the moment the
// chain starts: every proposal-activation decision is a pure function of
// this struct plus the dataset shape.
type Config struct {
	NSweeps      int   // Total sweeps to run (including burn in)
	NBurn        int   // Burn in sweeps discarded from output
	NFilter      int   // Thinning interval between persisted sweeps
	NProgress    int   // Sweeps between progress reports
	ReportBurnIn bool  // Also persist burn-in sweeps (at NFilter spacing)
	Seed         int64 // PRNG seed

	OutcomeType   string // One of the Outcome* constants
	CovariateType string // One of the Covariate* constants
	VarSelectType string // One of the VarSelect* constants
	SamplerType   string // One of the Sampler* constants

	// FixedAlpha holds the concentration parameter fixed when non-negative.
	// A negative value means alpha is estimated via Metropolis-Hastings.
	FixedAlpha float64

	IncludeResponse  bool // Model the outcome at all
	ResponseExtraVar bool // Subject-level extra variation on the response
}

// VarSelectFirstSweep is the deferred activation sweep for the variable
// selection proposals: they must not run until a tenth of burn in has
// elapsed.
func (c *Config) VarSelectFirstSweep() int {
	return 1 + c.NBurn/10
}

// Check returns an error if the configuration is malformed or
// contradictory. Called before any sweep runs.
func (c *Config) Check() error {
	if c.NSweeps < 1 {
		return errors.Errorf("Sweep count %d - must run at least one sweep", c.NSweeps)
	}
	if c.NBurn < 0 {
		return errors.Errorf("Burn in count %d is negative", c.NBurn)
	}
	if c.NBurn >= c.NSweeps {
		return errors.Errorf("Burn in count %d leaves no sweeps (total %d)", c.NBurn, c.NSweeps)
	}
	if c.NFilter < 1 {
		return errors.Errorf("Filter interval %d - must be at least 1", c.NFilter)
	}
	if c.NProgress < 0 {
		return errors.Errorf("Progress interval %d is negative", c.NProgress)
	}

	switch c.OutcomeType {
	case OutcomeNone, OutcomeBernoulli, OutcomeNormal, OutcomePoisson,
		OutcomeBinomial, OutcomeCategorical, OutcomeSurvival:
	default:
		return errors.Errorf("Unknown outcome type %s", c.OutcomeType)
	}

	switch c.CovariateType {
	case CovariateDiscrete, CovariateNormal, CovariateMixed:
	default:
		return errors.Errorf("Unknown covariate type %s", c.CovariateType)
	}

	switch c.VarSelectType {
	case VarSelectNone, VarSelectBinary, VarSelectContinuous:
	default:
		return errors.Errorf("Unknown variable selection type %s", c.VarSelectType)
	}

	switch c.SamplerType {
	case SamplerTruncated, SamplerSlice:
	default:
		return errors.Errorf("Unknown sampler type %s", c.SamplerType)
	}

	if c.IncludeResponse && c.OutcomeType == OutcomeNone {
		return errors.Errorf("Response is included but outcome type is %s", OutcomeNone)
	}
	if !c.IncludeResponse && c.ResponseExtraVar {
		return errors.Errorf("Extra response variation requires the response to be included")
	}

	return nil
}
