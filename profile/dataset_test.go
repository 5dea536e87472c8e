package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

const smallData = `
4 3 2 1

1  0 1 2  0.5 1.0
0  1 1 0  0.2 0.9
1  2 -999 1  0.1 1.1
0  0 0 -999  0.4 0.8
`

func TestDatasetParse(t *testing.T) {
	assert := assert.New(t)

	d, err := NewDatasetFromBuffer([]byte(smallData))
	assert.NoError(err)

	assert.Equal(4, d.NSubjects)
	assert.Equal(3, d.NCovariates)
	assert.Equal(2, d.NFixedEffects)
	assert.Equal(1, d.NCategoriesY)

	assert.Equal([]float64{1, 0, 1, 0}, d.Y)
	assert.Equal([]float64{0, 1, 2}, d.X[0])
	assert.Equal([]float64{0.5, 1.0}, d.W[0])

	assert.Equal(2, d.NMissing)
	assert.True(d.Missing[2][1])
	assert.True(d.Missing[3][2])
	assert.False(d.Missing[0][0])

	// Largest observed value is 2, so three categories
	assert.Equal(3, d.NCategoriesX)

	assert.NoError(d.Check())
}

func TestDatasetCategoryFloor(t *testing.T) {
	assert := assert.New(t)

	// All-zero covariates still give a usable binary category count
	d, err := NewDatasetFromBuffer([]byte("2 1 0 1  0 0  1 0"))
	assert.NoError(err)
	assert.Equal(2, d.NCategoriesX)
}

func TestDatasetParseErrors(t *testing.T) {
	assert := assert.New(t)

	cases := []string{
		"",                      // empty
		"0 2 0 1",               // bad subject count
		"2 0 0 1",               // bad covariate count
		"2 1 -1 1",              // bad fixed effect count
		"2 1 0 -1",              // bad outcome category count
		"2 1 0 1  1 0",          // truncated second subject
		"2 1 0 1  1 0  oops 1",  // non-numeric outcome
		"2 1 1 1  1 0 x  0 1 2", // non-numeric fixed effect
	}
	for i, c := range cases {
		_, err := NewDatasetFromBuffer([]byte(c))
		assert.Error(err, "case %d should fail", i)
	}
}

func TestDatasetFromFile(t *testing.T) {
	assert := assert.New(t)

	dir := t.TempDir()
	fn := filepath.Join(dir, "data.txt")
	assert.NoError(os.WriteFile(fn, []byte(smallData), 0644))

	d, err := NewDatasetFromFile(fn)
	assert.NoError(err)
	assert.Equal(4, d.NSubjects)

	_, err = NewDatasetFromFile(filepath.Join(dir, "no-such-file.txt"))
	assert.Error(err)
}

func TestDatasetPredict(t *testing.T) {
	assert := assert.New(t)

	d, err := NewDatasetFromBuffer([]byte(smallData))
	assert.NoError(err)

	dir := t.TempDir()
	fn := filepath.Join(dir, "predict.txt")
	assert.NoError(os.WriteFile(fn, []byte("2  1 0 2  0 1 1"), 0644))

	assert.NoError(d.ApplyPredictFromFile(fn))
	assert.Len(d.PredictX, 2)
	assert.Equal([]float64{1, 0, 2}, d.PredictX[0])
	assert.Equal([]float64{0, 1, 1}, d.PredictX[1])

	// Count of zero and truncated rows are both rejected
	assert.NoError(os.WriteFile(fn, []byte("0"), 0644))
	assert.Error(d.ApplyPredictFromFile(fn))
	assert.NoError(os.WriteFile(fn, []byte("2  1 0 2  0 1"), 0644))
	assert.Error(d.ApplyPredictFromFile(fn))
}

func TestDatasetCovariateMean(t *testing.T) {
	assert := assert.New(t)

	d, err := NewDatasetFromBuffer([]byte(smallData))
	assert.NoError(err)

	// Covariate 0 fully observed: (0+1+2+0)/4
	assert.InDelta(0.75, d.CovariateMean(0), 1e-12)

	// Covariate 1 has one missing entry: (1+1+0)/3
	assert.InDelta(2.0/3.0, d.CovariateMean(1), 1e-12)
}

func TestDatasetCheckMismatch(t *testing.T) {
	assert := assert.New(t)

	d, err := NewDatasetFromBuffer([]byte(smallData))
	assert.NoError(err)

	d.NSubjects = 5
	assert.Error(d.Check())

	d, _ = NewDatasetFromBuffer([]byte(smallData))
	d.X[1] = d.X[1][:1]
	assert.Error(d.Check())
}
