package mcmc

import (
	"profregr/rand"
)

// DataShape is the dataset summary the engine needs: proposal registration
// and tuning-state sizing depend on these counts, never on the data itself.
type DataShape struct {
	NSubjects     int
	NCovariates   int
	NFixedEffects int
	NCategoriesY  int
}

// InitSummary is what the chain initialiser reports back for end-of-run
// logging. MaxClusters is only meaningful for the truncated sampler variant.
type InitSummary struct {
	InitialClusters int
	MaxClusters     int
}

// State is the current draw of all latent variables and hyperparameters.
// The engine holds exactly one live instance, passes it by reference into
// each proposal invocation, and never inspects internals beyond these
// accessors.
type State interface {
	// OccupiedClusters is the number of clusters with assigned members.
	OccupiedClusters() int
}

// Model is the capability interface a concrete statistical model implements
// to plug into the engine: data import, chain initialisation, log-posterior
// evaluation and missing-data imputation.
type Model interface {
	// ImportData parses the data source (and the optional prediction
	// source, empty path meaning none) into the model's dataset. A
	// malformed source yields an error and no partial dataset.
	ImportData(dataPath, predictPath string) error

	// Shape reports the dataset counts. Only valid after ImportData.
	Shape() DataShape

	// InitialiseChain produces the first chain state, deterministic given
	// the seeded generator.
	InitialiseChain(cfg *Config, gen *rand.Generator) (State, InitSummary, error)

	// LogPosterior evaluates the log posterior (up to a constant) of the
	// given state. Must not mutate the state.
	LogPosterior(st State) (float64, error)

	// HasMissingData declares whether UpdateMissingData must run each
	// sweep before any proposal.
	HasMissingData() bool

	// UpdateMissingData imputes the missing data entries in place.
	UpdateMissingData(st State, gen *rand.Generator) error
}

// Output receives the sampler's lifecycle events: a run log and periodic
// chain state snapshots at thinning boundaries. The on-disk layout is the
// collaborator's business.
type Output interface {
	Open(stem string) error
	WriteState(sweep int, st State) error
	Log(text string) error
	Close() error
}
