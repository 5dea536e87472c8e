package cmd

import (
	"time"

	"github.com/pkg/errors"

	"profregr/mcmc"
	"profregr/profile"
	"profregr/report"
)

// RunSampler drives one full sampler run: configuration, model binding,
// data import, proposal composition, the sweep loop, and the final run
// summary. Output files are released on every exit path.
func RunSampler(sp *startupParams) error {
	cfg := sp.Config()

	samp, err := mcmc.NewSampler(cfg, report.NewFileOutput())
	if err != nil {
		return err
	}

	model := profile.NewModel(cfg)
	if err := samp.SetModel(model); err != nil {
		return err
	}

	sp.out.Printf("Reading data from %s\n", sp.dataFile)
	if err := samp.ImportData(sp.dataFile, sp.predictFile); err != nil {
		return err
	}

	shape := model.Shape()
	sp.out.Printf("Data has %d subjects, %d covariates, %d fixed effects\n",
		shape.NSubjects, shape.NCovariates, shape.NFixedEffects)

	for _, p := range profile.Compose(cfg, shape, model) {
		if err := samp.AddProposal(p); err != nil {
			return errors.Wrapf(err, "Could not register proposal %s", p.Name)
		}
		sp.trace.Printf("Registered proposal %s (first sweep %d)\n", p.Name, p.FirstSweep)
	}
	sp.out.Printf("Registered %d proposals\n", len(samp.ProposalNames()))

	if err := samp.InitialiseOutputFiles(sp.outStem); err != nil {
		return err
	}
	defer func() {
		if cerr := samp.CloseOutputFiles(); cerr != nil {
			sp.out.Printf("Error closing output files: %v\n", cerr)
		}
	}()

	if err := samp.WriteLogFile(); err != nil {
		return err
	}

	if err := samp.InitialiseChain(); err != nil {
		return err
	}
	init := samp.InitSummary()
	sp.out.Printf("Chain initialised with %d clusters (truncation %d)\n",
		init.InitialClusters, init.MaxClusters)

	var mon monitor
	if len(sp.monitorAddr) > 0 {
		if err := mon.Start(sp.monitorAddr); err != nil {
			return err
		}
		defer mon.Stop()

		mon.Sweeps.Set(int64(cfg.NSweeps))
		mon.BurnIn.Set(int64(cfg.NBurn))
		mon.Filter.Set(int64(cfg.NFilter))
		mon.MaxNClusters.Set(int64(init.MaxClusters))
	}

	samp.SetProgress(func(sweep int, elapsed time.Duration) {
		if sp.verbose {
			sp.out.Printf("Sweep %d/%d (%.1fs)\n", sweep, cfg.NSweeps, elapsed.Seconds())
		}
		if mon.info != nil {
			mon.LastSweep.Set(int64(sweep))
			mon.RunTime.Set(elapsed.Seconds())
			mon.NClusters.Set(int64(samp.State().OccupiedClusters()))
		}
	})

	sp.out.Printf("Running %d sweeps (burn in %d)\n", cfg.NSweeps, cfg.NBurn)
	if err := samp.Run(); err != nil {
		return err
	}

	summary := samp.RunSummary()
	if err := samp.AppendToLogFile(summary); err != nil {
		return err
	}
	sp.out.Printf("%s", summary)

	return nil
}
