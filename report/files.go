// Package report is the file-backed output collaborator: a run log plus
// chain state snapshots written at thinning boundaries, grouped under a
// common file stem.
package report

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"

	"profregr/mcmc"
)

// Snapshotter is implemented by chain states that can render their own
// persisted record. States without it fall back to the occupied cluster
// count.
type Snapshotter interface {
	Snapshot() string
}

// FileOutput implements mcmc.Output over two flat files:
// <stem>_log.txt and <stem>_output.txt.
type FileOutput struct {
	logFile   *os.File
	stateFile *os.File
}

// NewFileOutput returns an unopened file collaborator.
func NewFileOutput() *FileOutput {
	return &FileOutput{}
}

// Open creates the log and snapshot files for the given stem.
func (f *FileOutput) Open(stem string) error {
	if f.logFile != nil {
		return errors.New("Output files already open")
	}
	if len(stem) < 1 {
		return errors.New("No output file stem supplied")
	}

	lf, err := os.Create(stem + "_log.txt")
	if err != nil {
		return errors.Wrapf(err, "Could not create log file for stem %s", stem)
	}

	sf, err := os.Create(stem + "_output.txt")
	if err != nil {
		lf.Close()
		return errors.Wrapf(err, "Could not create output file for stem %s", stem)
	}

	f.logFile = lf
	f.stateFile = sf
	return nil
}

// WriteState persists one chain state snapshot.
func (f *FileOutput) WriteState(sweep int, st mcmc.State) error {
	if f.stateFile == nil {
		return errors.New("Output files are not open")
	}

	var record string
	if snap, ok := st.(Snapshotter); ok {
		record = snap.Snapshot()
	} else {
		record = fmt.Sprintf("nClusters=%d", st.OccupiedClusters())
	}

	if _, err := fmt.Fprintf(f.stateFile, "%d %s\n", sweep, record); err != nil {
		return errors.Wrapf(err, "Could not write state for sweep %d", sweep)
	}
	return nil
}

// Log appends free-form text to the run log.
func (f *FileOutput) Log(text string) error {
	if f.logFile == nil {
		return errors.New("Output files are not open")
	}

	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	if _, err := f.logFile.WriteString(text); err != nil {
		return errors.Wrap(err, "Could not write to log file")
	}
	return nil
}

// Close releases both files. Safe to call once whether or not Open
// succeeded; the engine guarantees it is not called twice.
func (f *FileOutput) Close() error {
	var first error
	if f.stateFile != nil {
		if err := f.stateFile.Close(); err != nil && first == nil {
			first = err
		}
		f.stateFile = nil
	}
	if f.logFile != nil {
		if err := f.logFile.Close(); err != nil && first == nil {
			first = err
		}
		f.logFile = nil
	}
	if first != nil {
		return errors.Wrap(first, "Could not close output files")
	}
	return nil
}
