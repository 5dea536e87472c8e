package profile

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// MissingValue is the sentinel used in data files for a missing covariate
// entry.
const MissingValue = -999.0

// fieldReader walks a whitespace-delimited data buffer one token at a time.
type fieldReader struct {
	pos    int
	fields []string
}

func newFieldReader(data string) *fieldReader {
	return &fieldReader{0, strings.Fields(data)}
}

func (fr *fieldReader) read() (string, error) {
	if fr.pos >= len(fr.fields) {
		return "", io.EOF
	}
	p := fr.pos
	fr.pos++
	return fr.fields[p], nil
}

func (fr *fieldReader) readInt() (int, error) {
	s, err := fr.read()
	if err != nil {
		return 0, err
	}

	i, err := strconv.ParseInt(s, 10, 0)
	return int(i), err
}

func (fr *fieldReader) readFloat() (float64, error) {
	s, err := fr.read()
	if err != nil {
		return 0, err
	}

	return strconv.ParseFloat(s, 64)
}

// Dataset holds the observed outcome, covariates and fixed effects plus the
// derived counts the engine and the composition rules depend on.
//
// The file format is whitespace-delimited: a header of four counts
// (nSubjects nCovariates nFixedEffects nCategoriesY) followed by one row
// per subject containing the outcome, the covariates, then the fixed
// effects. Missing covariates use the MissingValue sentinel.
type Dataset struct {
	NSubjects     int
	NCovariates   int
	NFixedEffects int
	NCategoriesY  int

	Y       []float64   // Outcome per subject
	X       [][]float64 // Covariates per subject
	W       [][]float64 // Fixed effects per subject
	Missing [][]bool    // Missing indicator per subject/covariate

	NMissing int // Total missing covariate entries

	// NCategoriesX is the category count for discrete covariates, derived
	// from the observed values (minimum 2).
	NCategoriesX int

	// PredictX holds covariate rows for prediction subjects (no outcome).
	PredictX [][]float64
}

// NewDatasetFromFile reads a dataset from the given path.
func NewDatasetFromFile(filename string) (*Dataset, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "Could not READ data from %s", filename)
	}

	d, err := NewDatasetFromBuffer(data)
	if err != nil {
		return nil, errors.Wrapf(err, "Could not parse data file %s", filename)
	}

	return d, nil
}

// NewDatasetFromBuffer parses a dataset from pre-read data.
func NewDatasetFromBuffer(data []byte) (*Dataset, error) {
	fr := newFieldReader(string(data))

	d := &Dataset{}

	var err error
	if d.NSubjects, err = fr.readInt(); err != nil {
		return nil, errors.Wrap(err, "Error reading subject count")
	}
	if d.NSubjects < 1 {
		return nil, errors.Errorf("Invalid subject count %d", d.NSubjects)
	}
	if d.NCovariates, err = fr.readInt(); err != nil {
		return nil, errors.Wrap(err, "Error reading covariate count")
	}
	if d.NCovariates < 1 {
		return nil, errors.Errorf("Invalid covariate count %d", d.NCovariates)
	}
	if d.NFixedEffects, err = fr.readInt(); err != nil {
		return nil, errors.Wrap(err, "Error reading fixed effect count")
	}
	if d.NFixedEffects < 0 {
		return nil, errors.Errorf("Invalid fixed effect count %d", d.NFixedEffects)
	}
	if d.NCategoriesY, err = fr.readInt(); err != nil {
		return nil, errors.Wrap(err, "Error reading outcome category count")
	}
	if d.NCategoriesY < 0 {
		return nil, errors.Errorf("Invalid outcome category count %d", d.NCategoriesY)
	}

	d.Y = make([]float64, d.NSubjects)
	d.X = make([][]float64, d.NSubjects)
	d.W = make([][]float64, d.NSubjects)
	d.Missing = make([][]bool, d.NSubjects)

	maxCat := 0.0
	for i := 0; i < d.NSubjects; i++ {
		if d.Y[i], err = fr.readFloat(); err != nil {
			return nil, errors.Wrapf(err, "Error reading outcome for subject %d", i)
		}

		d.X[i] = make([]float64, d.NCovariates)
		d.Missing[i] = make([]bool, d.NCovariates)
		for j := 0; j < d.NCovariates; j++ {
			if d.X[i][j], err = fr.readFloat(); err != nil {
				return nil, errors.Wrapf(err, "Error reading covariate %d for subject %d", j, i)
			}
			if d.X[i][j] == MissingValue {
				d.Missing[i][j] = true
				d.NMissing++
			} else if d.X[i][j] > maxCat {
				maxCat = d.X[i][j]
			}
		}

		d.W[i] = make([]float64, d.NFixedEffects)
		for j := 0; j < d.NFixedEffects; j++ {
			if d.W[i][j], err = fr.readFloat(); err != nil {
				return nil, errors.Wrapf(err, "Error reading fixed effect %d for subject %d", j, i)
			}
		}
	}

	d.NCategoriesX = int(maxCat) + 1
	if d.NCategoriesX < 2 {
		d.NCategoriesX = 2
	}

	return d, nil
}

// ApplyPredictFromFile reads prediction subjects (covariate-only rows,
// preceded by a count) and attaches them to the dataset.
func (d *Dataset) ApplyPredictFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrapf(err, "Could not READ prediction data from %s", filename)
	}

	fr := newFieldReader(string(data))

	nPredict, err := fr.readInt()
	if err != nil {
		return errors.Wrap(err, "Error reading prediction subject count")
	}
	if nPredict < 1 {
		return errors.Errorf("Invalid prediction subject count %d", nPredict)
	}

	rows := make([][]float64, nPredict)
	for i := 0; i < nPredict; i++ {
		rows[i] = make([]float64, d.NCovariates)
		for j := 0; j < d.NCovariates; j++ {
			if rows[i][j], err = fr.readFloat(); err != nil {
				return errors.Wrapf(err, "Error reading covariate %d for prediction subject %d", j, i)
			}
		}
	}

	d.PredictX = rows
	return nil
}

// CovariateMean returns the mean of the observed (non-missing) values for
// covariate j. Zero when every entry is missing.
func (d *Dataset) CovariateMean(j int) float64 {
	sum, n := 0.0, 0
	for i := 0; i < d.NSubjects; i++ {
		if !d.Missing[i][j] {
			sum += d.X[i][j]
			n++
		}
	}
	if n < 1 {
		return 0.0
	}
	return sum / float64(n)
}

// Check returns an error if the dataset counts are inconsistent with the
// loaded data.
func (d *Dataset) Check() error {
	if len(d.Y) != d.NSubjects || len(d.X) != d.NSubjects || len(d.W) != d.NSubjects {
		return errors.Errorf("Dataset row counts do not match subject count %d", d.NSubjects)
	}
	for i := 0; i < d.NSubjects; i++ {
		if len(d.X[i]) != d.NCovariates {
			return errors.Errorf("Subject %d has %d covariates, expected %d", i, len(d.X[i]), d.NCovariates)
		}
		if len(d.W[i]) != d.NFixedEffects {
			return errors.Errorf("Subject %d has %d fixed effects, expected %d", i, len(d.W[i]), d.NFixedEffects)
		}
	}
	return nil
}
