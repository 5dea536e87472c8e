package profile

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"profregr/mcmc"
)

// State is the current draw of every latent variable and hyperparameter in
// the profile regression chain. The engine treats it as opaque; only the
// update kernels interpret the blocks, and each kernel mutates only its own
// block.
//
// Clusters use a stick-breaking representation with a fixed truncation
// level: "active" clusters currently have members, the remainder are
// instantiated but empty ("inactive").
type State struct {
	MaxClusters int

	Z   []int     // Cluster allocation per subject
	V   []float64 // Stick-breaking fractions per cluster
	Psi []float64 // Cluster weights derived from V

	Alpha float64 // Concentration parameter

	// Covariate blocks. Phi is per cluster x covariate x category for the
	// discrete model; Mu/Tau are per cluster x covariate for the normal
	// model. Unused blocks are nil.
	Phi [][][]float64
	Mu  [][]float64
	Tau [][]float64

	// Response blocks
	Theta      []float64 // Per-cluster response level
	Beta       []float64 // Fixed effect coefficients
	Lambda     []float64 // Per-subject extra variation
	TauEpsilon float64   // Precision of the extra variation
	SigmaSqY   float64   // Residual variance for the Normal outcome

	// Variable selection blocks. Gamma is the per cluster x covariate
	// inclusion indicator; Rho/Omega are the per-covariate inclusion
	// probability and structure indicator it is driven by.
	Gamma [][]int
	Rho   []float64
	Omega []int

	U []float64 // Slice variables per subject (slice sampler variant only)
}

// OccupiedClusters counts the clusters that currently have members.
func (s *State) OccupiedClusters() int {
	seen := make(map[int]bool)
	for _, z := range s.Z {
		seen[z] = true
	}
	return len(seen)
}

// ClusterCounts returns member counts per cluster, length MaxClusters.
func (s *State) ClusterCounts() []int {
	counts := make([]int, s.MaxClusters)
	for _, z := range s.Z {
		if z >= 0 && z < s.MaxClusters {
			counts[z]++
		}
	}
	return counts
}

// ActiveClusters is the highest occupied cluster index plus one: clusters
// below it are updated by the active-block kernels, the rest by the
// inactive-block mirrors.
func (s *State) ActiveClusters() int {
	max := 0
	for _, z := range s.Z {
		if z+1 > max {
			max = z + 1
		}
	}
	return max
}

// RecomputePsi rebuilds the cluster weights from the stick-breaking
// fractions.
func (s *State) RecomputePsi() {
	remaining := 1.0
	for c := 0; c < s.MaxClusters; c++ {
		s.Psi[c] = s.V[c] * remaining
		remaining *= 1.0 - s.V[c]
	}
}

// Snapshot renders the persisted per-sweep record: allocations plus the
// scalar hyperparameters.
func (s *State) Snapshot() string {
	var b strings.Builder
	for i, z := range s.Z {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%d", z)
	}
	fmt.Fprintf(&b, " | alpha=%.6f nClusters=%d", s.Alpha, s.OccupiedClusters())
	return b.String()
}

// Check returns an error if the state blocks are inconsistent.
func (s *State) Check() error {
	if s.MaxClusters < 1 {
		return errors.Errorf("Invalid max cluster count %d", s.MaxClusters)
	}
	if len(s.V) != s.MaxClusters || len(s.Psi) != s.MaxClusters {
		return errors.Errorf("Stick-breaking blocks sized %d/%d, expected %d", len(s.V), len(s.Psi), s.MaxClusters)
	}
	for i, z := range s.Z {
		if z < 0 || z >= s.MaxClusters {
			return errors.Errorf("Subject %d allocated to invalid cluster %d", i, z)
		}
	}
	if s.Alpha <= 0 {
		return errors.Errorf("Concentration parameter %f - must be positive", s.Alpha)
	}
	return nil
}

// asChainState converts the engine's opaque state back to the concrete
// profile regression state inside a kernel.
func asChainState(st mcmc.State) (*State, error) {
	s, ok := st.(*State)
	if !ok {
		return nil, errors.Errorf("Unexpected chain state type %T", st)
	}
	return s, nil
}
