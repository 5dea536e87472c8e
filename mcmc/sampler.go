package mcmc

import (
	"fmt"
	"strings"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"

	"profregr/rand"
)

// phase tracks the sampler lifecycle. Transitions are strictly ordered;
// calling an operation out of phase is a usage error, not a recoverable
// condition.
type phase int

const (
	phaseUnconfigured phase = iota
	phaseConfigured
	phaseDataLoaded
	phaseProposalsRegistered
	phaseOutputReady
	phaseChainInitialised
	phaseRunning
	phaseCompleted
)

func (p phase) String() string {
	switch p {
	case phaseUnconfigured:
		return "Unconfigured"
	case phaseConfigured:
		return "Configured"
	case phaseDataLoaded:
		return "DataLoaded"
	case phaseProposalsRegistered:
		return "ProposalsRegistered"
	case phaseOutputReady:
		return "OutputReady"
	case phaseChainInitialised:
		return "ChainInitialised"
	case phaseRunning:
		return "Running"
	case phaseCompleted:
		return "Completed"
	}
	return "Unknown"
}

// ProgressFunc receives progress notifications during the run. It has no
// effect on chain evolution.
type ProgressFunc func(sweep int, elapsed time.Duration)

// Sampler is the top-level orchestrator. It owns the configuration, the
// model binding, the proposal registry with its tuning records, the single
// shared PRNG and the live chain state, and drives the sweep/burn-in/
// thinning lifecycle. Proposals execute strictly sequentially in registry
// order: later proposals in a sweep may read state mutated by earlier ones,
// and the generator draws are stream-positional.
type Sampler struct {
	cfg   *Config
	out   Output
	model Model
	gen   *rand.Generator

	proposals []*Proposal
	tuning    map[string]*Tuning

	state State
	init  InitSummary

	phase    phase
	outOpen  bool
	progress ProgressFunc

	elapsed   time.Duration
	sweepSecs []float64
}

// NewSampler validates the configuration and returns a sampler ready for
// SetModel.
func NewSampler(cfg *Config, out Output) (*Sampler, error) {
	if cfg == nil {
		return nil, errors.New("No configuration supplied")
	}
	if out == nil {
		return nil, errors.New("No output collaborator supplied")
	}
	if err := cfg.Check(); err != nil {
		return nil, errors.Wrap(err, "Invalid sampler configuration")
	}

	return &Sampler{
		cfg:    cfg,
		out:    out,
		gen:    rand.NewGenerator(cfg.Seed),
		tuning: make(map[string]*Tuning),
		phase:  phaseUnconfigured,
	}, nil
}

// Config returns the (read-only) run configuration.
func (s *Sampler) Config() *Config {
	return s.cfg
}

// Generator exposes the shared PRNG for the chain initialiser and the
// proposals. There is exactly one stream per run.
func (s *Sampler) Generator() *rand.Generator {
	return s.gen
}

// SetModel binds the model. Callable only before data import.
func (s *Sampler) SetModel(m Model) error {
	if s.phase != phaseUnconfigured {
		return errors.Errorf("SetModel called in phase %v", s.phase)
	}
	if m == nil {
		return errors.New("No model supplied")
	}

	s.model = m
	s.phase = phaseConfigured
	return nil
}

// SetProgress installs the progress hook. May be called any time before Run.
func (s *Sampler) SetProgress(fn ProgressFunc) error {
	if s.phase >= phaseRunning {
		return errors.Errorf("SetProgress called in phase %v", s.phase)
	}
	s.progress = fn
	return nil
}

// ImportData invokes the bound importer. Import failures propagate to the
// caller and are never retried.
func (s *Sampler) ImportData(dataPath, predictPath string) error {
	if s.phase != phaseConfigured {
		return errors.Errorf("ImportData called in phase %v", s.phase)
	}

	if err := s.model.ImportData(dataPath, predictPath); err != nil {
		return errors.Wrapf(err, "Could not import data from %s", dataPath)
	}

	s.phase = phaseDataLoaded
	return nil
}

// AddProposal appends a descriptor to the registry and creates its tuning
// record. Registration happens after data import because tuning sizing and
// the composition rules both depend on the dataset shape.
func (s *Sampler) AddProposal(p *Proposal) error {
	if s.phase != phaseDataLoaded && s.phase != phaseProposalsRegistered {
		return errors.Errorf("AddProposal called in phase %v", s.phase)
	}
	if p == nil {
		return errors.New("No proposal supplied")
	}
	if len(p.Name) < 1 {
		return errors.New("Proposal has no name")
	}
	if _, dup := s.tuning[p.Name]; dup {
		return errors.Errorf("Duplicate proposal name %s", p.Name)
	}
	if p.Weight <= 0 {
		return errors.Errorf("Proposal %s has weight %f - must be positive", p.Name, p.Weight)
	}
	if p.RepeatCount < 1 {
		return errors.Errorf("Proposal %s has repeat count %d - must be at least 1", p.Name, p.RepeatCount)
	}
	if p.FirstSweep < 1 || p.FirstSweep > s.cfg.NSweeps {
		return errors.Errorf("Proposal %s has first sweep %d outside 1..%d", p.Name, p.FirstSweep, s.cfg.NSweeps)
	}
	if p.Update == nil {
		return errors.Errorf("Proposal %s has no update function", p.Name)
	}

	s.proposals = append(s.proposals, p)
	s.tuning[p.Name] = NewTuning(s.cfg, s.model.Shape())
	s.phase = phaseProposalsRegistered
	return nil
}

// ProposalNames returns the registry names in registration order.
func (s *Sampler) ProposalNames() []string {
	names := make([]string, len(s.proposals))
	for i, p := range s.proposals {
		names[i] = p.Name
	}
	return names
}

// Tuning returns the tuning record for a registered proposal name, mainly
// for post-run inspection of acceptance rates.
func (s *Sampler) Tuning(name string) *Tuning {
	return s.tuning[name]
}

// InitialiseOutputFiles acquires the output resources. Paired with
// CloseOutputFiles, which must run on every exit path.
func (s *Sampler) InitialiseOutputFiles(stem string) error {
	if s.phase != phaseProposalsRegistered {
		return errors.Errorf("InitialiseOutputFiles called in phase %v", s.phase)
	}

	if err := s.out.Open(stem); err != nil {
		return errors.Wrapf(err, "Could not open output files for stem %s", stem)
	}

	s.outOpen = true
	s.phase = phaseOutputReady
	return nil
}

// CloseOutputFiles releases the output resources. Idempotent: deferred
// cleanup after an aborted run never double-closes.
func (s *Sampler) CloseOutputFiles() error {
	if !s.outOpen {
		return nil
	}
	s.outOpen = false

	if err := s.out.Close(); err != nil {
		return errors.Wrap(err, "Could not close output files")
	}
	return nil
}

// WriteLogFile writes the standard run header to the log.
func (s *Sampler) WriteLogFile() error {
	if s.phase != phaseOutputReady {
		return errors.Errorf("WriteLogFile called in phase %v", s.phase)
	}

	shape := s.model.Shape()
	var b strings.Builder
	fmt.Fprintf(&b, "Sweeps: %d (burn in %d, filter %d)\n", s.cfg.NSweeps, s.cfg.NBurn, s.cfg.NFilter)
	fmt.Fprintf(&b, "Seed: %d\n", s.cfg.Seed)
	fmt.Fprintf(&b, "Outcome: %s, Covariates: %s, VarSelect: %s, Sampler: %s\n",
		s.cfg.OutcomeType, s.cfg.CovariateType, s.cfg.VarSelectType, s.cfg.SamplerType)
	fmt.Fprintf(&b, "Subjects: %d, Covariates: %d, Fixed effects: %d, Outcome categories: %d\n",
		shape.NSubjects, shape.NCovariates, shape.NFixedEffects, shape.NCategoriesY)

	if err := s.out.Log(b.String()); err != nil {
		return errors.Wrap(err, "Could not write log file")
	}
	return nil
}

// AppendToLogFile forwards free-form text to the log.
func (s *Sampler) AppendToLogFile(text string) error {
	if err := s.out.Log(text); err != nil {
		return errors.Wrap(err, "Could not append to log file")
	}
	return nil
}

// InitialiseChain invokes the bound initialiser to produce the first chain
// state. Must run after import and registration: tuning sizing depends on
// the dataset counts.
func (s *Sampler) InitialiseChain() error {
	if s.phase != phaseOutputReady {
		return errors.Errorf("InitialiseChain called in phase %v", s.phase)
	}

	st, init, err := s.model.InitialiseChain(s.cfg, s.gen)
	if err != nil {
		return errors.Wrap(err, "Could not initialise chain")
	}
	if st == nil {
		return errors.New("Chain initialiser produced no state")
	}

	s.state = st
	s.init = init
	s.phase = phaseChainInitialised
	return nil
}

// InitSummary returns what the chain initialiser reported. Only valid after
// InitialiseChain.
func (s *Sampler) InitSummary() InitSummary {
	return s.init
}

// State returns the live chain state.
func (s *Sampler) State() State {
	return s.state
}

// Run executes the sweep loop: the only operation that mutates chain state
// via proposals. Blocking, single pass. Any failure from a bound callable
// aborts the run; output files remain for the caller to release.
func (s *Sampler) Run() error {
	if s.phase != phaseChainInitialised {
		return errors.Errorf("Run called in phase %v", s.phase)
	}
	s.phase = phaseRunning

	start := time.Now()
	s.sweepSecs = make([]float64, 0, s.cfg.NSweeps)

	for sweep := 1; sweep <= s.cfg.NSweeps; sweep++ {
		sweepStart := time.Now()

		if s.model.HasMissingData() {
			if err := s.model.UpdateMissingData(s.state, s.gen); err != nil {
				return errors.Wrapf(err, "Missing data update failed on sweep %d", sweep)
			}
		}

		for _, p := range s.proposals {
			if sweep < p.FirstSweep {
				continue
			}
			tune := s.tuning[p.Name]
			for r := 0; r < p.RepeatCount; r++ {
				if err := p.Update(s.state, tune, s.gen); err != nil {
					return errors.Wrapf(err, "Proposal %s failed on sweep %d", p.Name, sweep)
				}
			}
		}

		if s.shouldWrite(sweep) {
			if err := s.out.WriteState(sweep, s.state); err != nil {
				return errors.Wrapf(err, "Output write failed on sweep %d", sweep)
			}
		}

		s.sweepSecs = append(s.sweepSecs, time.Since(sweepStart).Seconds())

		if s.progress != nil && s.cfg.NProgress > 0 && sweep%s.cfg.NProgress == 0 {
			s.progress(sweep, time.Since(start))
		}
	}

	s.elapsed = time.Since(start)
	s.phase = phaseCompleted
	return nil
}

// shouldWrite is the thinning policy: post-burn-in sweeps at NFilter
// spacing, plus burn-in sweeps at the same spacing when ReportBurnIn.
func (s *Sampler) shouldWrite(sweep int) bool {
	if sweep > s.cfg.NBurn {
		return (sweep-s.cfg.NBurn)%s.cfg.NFilter == 0
	}
	return s.cfg.ReportBurnIn && sweep%s.cfg.NFilter == 0
}

// RunSummary builds the final run record appended to the log at shutdown:
// elapsed wall-clock time, sweep timing statistics, the final chain summary
// and per-proposal acceptance rates.
func (s *Sampler) RunSummary() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run completed in %.3fs (%d sweeps)\n", s.elapsed.Seconds(), s.cfg.NSweeps)

	if len(s.sweepSecs) > 0 {
		mean, err := stats.Mean(s.sweepSecs)
		if err == nil {
			fmt.Fprintf(&b, "Sweep time mean: %.6fs", mean)
			if sd, err := stats.StandardDeviation(s.sweepSecs); err == nil {
				fmt.Fprintf(&b, ", sd: %.6fs", sd)
			}
			b.WriteString("\n")
		}
	}

	if s.state != nil {
		fmt.Fprintf(&b, "Occupied clusters: %d (initial %d, max %d)\n",
			s.state.OccupiedClusters(), s.init.InitialClusters, s.init.MaxClusters)
	}

	for _, p := range s.proposals {
		t := s.tuning[p.Name]
		if t.tried > 0 {
			fmt.Fprintf(&b, "Acceptance %s: %.3f\n", p.Name, t.AcceptRate())
		}
	}

	return b.String()
}
