package datasets

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/eywalker/atflow/nest"
)

// FromCSV builds a Dataset from a headered CSV file. The named input and
// target columns become one input leaf of shape (n, len(inputCols)) and one
// target leaf of shape (n, len(targetCols)). Column names are matched
// case-insensitively. cfg is passed through to New unchanged.
func FromCSV(path string, inputCols, targetCols []string, cfg *Config) (*Dataset, error) {
	if len(inputCols) == 0 || len(targetCols) == 0 {
		return nil, fmt.Errorf("datasets: input and target columns are required")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("datasets: failed to open CSV %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("datasets: failed to read header of %s: %w", path, err)
	}
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.TrimSpace(strings.ToLower(col))] = i
	}

	inputIdx, err := resolveColumns(colIndex, inputCols)
	if err != nil {
		return nil, fmt.Errorf("datasets: %s: %w", path, err)
	}
	targetIdx, err := resolveColumns(colIndex, targetCols)
	if err != nil {
		return nil, fmt.Errorf("datasets: %s: %w", path, err)
	}

	var inputData, targetData []float64
	n := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("datasets: failed to read row %d of %s: %w", n+1, path, err)
		}
		if inputData, err = appendColumns(inputData, record, inputIdx); err != nil {
			return nil, fmt.Errorf("datasets: row %d of %s: %w", n+1, path, err)
		}
		if targetData, err = appendColumns(targetData, record, targetIdx); err != nil {
			return nil, fmt.Errorf("datasets: row %d of %s: %w", n+1, path, err)
		}
		n++
	}
	if n == 0 {
		return nil, fmt.Errorf("datasets: no data rows in %s", path)
	}

	inputs := nest.Leaf(tensors.FromFlatDataAndDimensions(inputData, n, len(inputCols)))
	targets := nest.Leaf(tensors.FromFlatDataAndDimensions(targetData, n, len(targetCols)))
	return New(inputs, targets, cfg)
}

// resolveColumns maps column names onto header indices.
func resolveColumns(colIndex map[string]int, names []string) ([]int, error) {
	idx := make([]int, len(names))
	for i, name := range names {
		j, ok := colIndex[strings.TrimSpace(strings.ToLower(name))]
		if !ok {
			return nil, fmt.Errorf("required column %q not found", name)
		}
		idx[i] = j
	}
	return idx, nil
}

// appendColumns parses the selected columns of a record and appends them to
// data.
func appendColumns(data []float64, record []string, idx []int) ([]float64, error) {
	for _, j := range idx {
		if j >= len(record) {
			return nil, fmt.Errorf("record has %d fields, need column %d", len(record), j)
		}
		v, err := parseFloat(record[j])
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", j, err)
		}
		data = append(data, v)
	}
	return data, nil
}

func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}
	return strconv.ParseFloat(s, 64)
}
