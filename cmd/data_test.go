package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, contents string) (path string) {
	t.Helper()
	path = filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return
}

func TestLoadSamplesCSV(t *testing.T) {
	path := writeFile(t, "samples.csv", "1.5,2.5\n-3.0,4.0\n")
	samples, err := loadSamplesCSV(path)
	require.NoError(t, err)
	n, k := samples.Dims()
	require.Equal(t, 2, n)
	require.Equal(t, 2, k)
	assert.Equal(t, 1.5, samples.At(0, 0))
	assert.Equal(t, -3.0, samples.At(1, 0))
	assert.Equal(t, 4.0, samples.At(1, 1))

	_, err = loadSamplesCSV(writeFile(t, "empty.csv", ""))
	assert.Error(t, err)
	_, err = loadSamplesCSV(writeFile(t, "bad.csv", "1.0,nope\n"))
	assert.Error(t, err)
	_, err = loadSamplesCSV(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestLoadWeightsCSV(t *testing.T) {
	path := writeFile(t, "weights.csv", "1.0\n0.5\n2.0\n")
	weights, err := loadWeightsCSV(path)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.0, 0.5, 2.0}, weights)

	_, err = loadWeightsCSV(writeFile(t, "wide.csv", "1.0,2.0\n"))
	assert.Error(t, err)
	_, err = loadWeightsCSV(writeFile(t, "bad.csv", "abc\n"))
	assert.Error(t, err)
}
