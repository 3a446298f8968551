package cmd

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"gonum.org/v1/gonum/mat"
)

// loadSamplesCSV reads one sample per row, one property per column.
func loadSamplesCSV(fileName string) (samples *mat.Dense, err error) {
	var (
		f    *os.File
		rows [][]string
	)
	if f, err = os.Open(fileName); err != nil {
		return
	}
	defer f.Close()
	if rows, err = csv.NewReader(f).ReadAll(); err != nil {
		return
	}
	if len(rows) == 0 {
		err = fmt.Errorf("%s contains no samples", fileName)
		return
	}
	var (
		n = len(rows)
		k = len(rows[0])
	)
	samples = mat.NewDense(n, k, nil)
	for i, row := range rows {
		if len(row) != k {
			err = fmt.Errorf("%s row %d has %d columns, want %d", fileName, i+1, len(row), k)
			return
		}
		for j, field := range row {
			var v float64
			if v, err = strconv.ParseFloat(field, 64); err != nil {
				err = fmt.Errorf("%s row %d column %d: %w", fileName, i+1, j+1, err)
				return
			}
			samples.Set(i, j, v)
		}
	}
	return
}

// loadWeightsCSV reads one weight per row.
func loadWeightsCSV(fileName string) (weights []float64, err error) {
	var (
		f    *os.File
		rows [][]string
	)
	if f, err = os.Open(fileName); err != nil {
		return
	}
	defer f.Close()
	if rows, err = csv.NewReader(f).ReadAll(); err != nil {
		return
	}
	weights = make([]float64, len(rows))
	for i, row := range rows {
		if len(row) != 1 {
			err = fmt.Errorf("%s row %d has %d columns, want 1", fileName, i+1, len(row))
			return
		}
		if weights[i], err = strconv.ParseFloat(row[0], 64); err != nil {
			err = fmt.Errorf("%s row %d: %w", fileName, i+1, err)
			return
		}
	}
	return
}
