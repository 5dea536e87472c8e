package cmd

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"profregr/mcmc"
)

// startupParams collects the command line options plus the loggers the
// commands write through.
type startupParams struct {
	verbose      bool
	dataFile     string
	predictFile  string
	outStem      string
	traceFile    string
	monitorAddr  string
	nSweeps      int
	nBurn        int
	nFilter      int
	nProgress    int
	reportBurnIn bool
	randomSeed   int64

	outcomeType     string
	covariateType   string
	varSelectType   string
	samplerType     string
	fixedAlpha      float64
	excludeResponse bool
	extraResponse   bool

	out     *log.Logger
	trace   *log.Logger
	traceFd *os.File
}

// Setup creates the loggers. The trace logger goes to the trace file when
// one was requested, and is silent otherwise.
func (sp *startupParams) Setup() error {
	sp.out = log.New(os.Stdout, "", 0)

	if len(sp.traceFile) > 0 {
		fd, err := os.Create(sp.traceFile)
		if err != nil {
			return errors.Wrapf(err, "Could not create trace file %s", sp.traceFile)
		}
		sp.traceFd = fd
		sp.trace = log.New(fd, "", 0)
	} else {
		sp.trace = log.New(io.Discard, "", 0)
	}

	return nil
}

// Teardown closes anything Setup opened.
func (sp *startupParams) Teardown() {
	if sp.traceFd != nil {
		sp.traceFd.Close()
		sp.traceFd = nil
	}
}

// Config translates the command line options into the sampler
// configuration.
func (sp *startupParams) Config() *mcmc.Config {
	return &mcmc.Config{
		NSweeps:          sp.nSweeps,
		NBurn:            sp.nBurn,
		NFilter:          sp.nFilter,
		NProgress:        sp.nProgress,
		ReportBurnIn:     sp.reportBurnIn,
		Seed:             sp.randomSeed,
		OutcomeType:      sp.outcomeType,
		CovariateType:    sp.covariateType,
		VarSelectType:    sp.varSelectType,
		SamplerType:      sp.samplerType,
		FixedAlpha:       sp.fixedAlpha,
		IncludeResponse:  !sp.excludeResponse,
		ResponseExtraVar: sp.extraResponse,
	}
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "profregr",
	Short: "Bayesian profile regression via MCMC",
	Long: `profregr fits a Dirichlet process mixture of covariate profiles,
optionally regressed on an outcome, using a composable chain of Gibbs and
Metropolis-Hastings updates:

  - Discrete, Normal or Mixed covariate models
  - Optional response model with fixed effects and extra variation
  - Binary variable selection with deferred activation
  - Truncated or slice sampler variants
`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	sp := &startupParams{}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sampler",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := sp.Setup(); err != nil {
				return err
			}
			defer sp.Teardown()
			return RunSampler(sp)
		},
	}

	pf := runCmd.Flags()
	pf.StringVarP(&sp.dataFile, "data", "d", "", "Data file to read")
	pf.StringVarP(&sp.predictFile, "predict", "p", "", "Optional prediction data file")
	pf.StringVarP(&sp.outStem, "output", "o", "", "Output file stem")
	pf.StringVarP(&sp.traceFile, "trace", "t", "", "Optional trace file")
	pf.StringVar(&sp.monitorAddr, "monitor", "", "Optional HTTP address for the progress monitor (e.g. :8000)")
	pf.IntVar(&sp.nSweeps, "sweeps", 1000, "Total number of sweeps (including burn in)")
	pf.IntVar(&sp.nBurn, "burn", 500, "Number of burn in sweeps")
	pf.IntVar(&sp.nFilter, "filter", 1, "Thinning interval between persisted sweeps")
	pf.IntVar(&sp.nProgress, "progress", 100, "Sweeps between progress reports")
	pf.BoolVar(&sp.reportBurnIn, "report-burnin", false, "Also persist burn in sweeps")
	pf.Int64VarP(&sp.randomSeed, "seed", "r", 1, "Random seed to use")
	pf.StringVar(&sp.outcomeType, "outcome", mcmc.OutcomeBernoulli, "Outcome model type")
	pf.StringVar(&sp.covariateType, "covariates", mcmc.CovariateDiscrete, "Covariate model type")
	pf.StringVar(&sp.varSelectType, "varselect", mcmc.VarSelectNone, "Variable selection type")
	pf.StringVar(&sp.samplerType, "sampler", mcmc.SamplerTruncated, "Sampler variant (Truncated or Slice)")
	pf.Float64Var(&sp.fixedAlpha, "alpha", -1.0, "Concentration parameter (negative to estimate)")
	pf.BoolVar(&sp.excludeResponse, "exclude-response", false, "Cluster on covariates only, no response model")
	pf.BoolVar(&sp.extraResponse, "extra-response-var", false, "Subject level extra variation on the response")
	pf.BoolVarP(&sp.verbose, "verbose", "v", false, "Verbose logging")

	runCmd.MarkFlagRequired("data")
	runCmd.MarkFlagRequired("output")

	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
