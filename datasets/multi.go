package datasets

import (
	"fmt"

	"github.com/eywalker/atflow/nest"
)

// MultiDataset aggregates several independent Datasets and produces
// synchronized per-source minibatches, statistics and splits as parallel
// slices, one entry per held dataset in construction order. The datasets
// are never merged: each keeps its own split, cursor and shuffle order, and
// the aggregate sample counts are the minimum across members (the limiting
// factor for synchronized epochs).
type MultiDataset struct {
	datasets   []*Dataset
	normalizer *MultiNormalizer
}

// NewMulti wraps the given datasets. The order is preserved by every
// accessor.
func NewMulti(datasets ...*Dataset) *MultiDataset {
	return &MultiDataset{datasets: datasets}
}

// Datasets returns the held datasets in construction order.
func (m *MultiDataset) Datasets() []*Dataset { return m.datasets }

// InputsLabel returns each dataset's input labels.
func (m *MultiDataset) InputsLabel() []*nest.Node[string] {
	return collect(m.datasets, (*Dataset).InputsLabel)
}

// TargetsLabel returns each dataset's target labels.
func (m *MultiDataset) TargetsLabel() []*nest.Node[string] {
	return collect(m.datasets, (*Dataset).TargetsLabel)
}

// TrainInputs returns each dataset's training inputs.
func (m *MultiDataset) TrainInputs() []*Structure {
	return collect(m.datasets, (*Dataset).TrainInputs)
}

// TrainTargets returns each dataset's training targets.
func (m *MultiDataset) TrainTargets() []*Structure {
	return collect(m.datasets, (*Dataset).TrainTargets)
}

// TestInputs returns each dataset's test inputs (nil entries for datasets
// without a test set).
func (m *MultiDataset) TestInputs() []*Structure {
	return collect(m.datasets, (*Dataset).TestInputs)
}

// TestTargets returns each dataset's test targets.
func (m *MultiDataset) TestTargets() []*Structure {
	return collect(m.datasets, (*Dataset).TestTargets)
}

// ValidationInputs returns each dataset's validation inputs.
func (m *MultiDataset) ValidationInputs() []*Structure {
	return collect(m.datasets, (*Dataset).ValidationInputs)
}

// ValidationTargets returns each dataset's validation targets.
func (m *MultiDataset) ValidationTargets() []*Structure {
	return collect(m.datasets, (*Dataset).ValidationTargets)
}

// InputsShape returns each dataset's input shapes.
func (m *MultiDataset) InputsShape() []*nest.Node[[]int] {
	return collect(m.datasets, (*Dataset).InputsShape)
}

// TargetsShape returns each dataset's target shapes.
func (m *MultiDataset) TargetsShape() []*nest.Node[[]int] {
	return collect(m.datasets, (*Dataset).TargetsShape)
}

// InputsMean returns each dataset's per-leaf input means.
func (m *MultiDataset) InputsMean() []*Structure {
	return collect(m.datasets, (*Dataset).InputsMean)
}

// InputsStd returns each dataset's per-leaf input standard deviations.
func (m *MultiDataset) InputsStd() []*Structure {
	return collect(m.datasets, (*Dataset).InputsStd)
}

// InputsStationaryMean returns each dataset's stationary input means.
func (m *MultiDataset) InputsStationaryMean() []*nest.Node[float64] {
	return collect(m.datasets, (*Dataset).InputsStationaryMean)
}

// InputsStationaryStd returns each dataset's stationary input standard
// deviations.
func (m *MultiDataset) InputsStationaryStd() []*nest.Node[float64] {
	return collect(m.datasets, (*Dataset).InputsStationaryStd)
}

// TrainSet returns the parallel (inputs, targets) training slices.
func (m *MultiDataset) TrainSet() ([]*Structure, []*Structure) {
	return m.TrainInputs(), m.TrainTargets()
}

// TestSet returns the parallel (inputs, targets) test slices.
func (m *MultiDataset) TestSet() ([]*Structure, []*Structure) {
	return m.TestInputs(), m.TestTargets()
}

// ValidationSet returns the parallel (inputs, targets) validation slices.
func (m *MultiDataset) ValidationSet() ([]*Structure, []*Structure) {
	return m.ValidationInputs(), m.ValidationTargets()
}

// NTrainSamples returns the minimum training set size across the held
// datasets.
func (m *MultiDataset) NTrainSamples() int {
	return minOver(m.datasets, (*Dataset).NTrainSamples)
}

// NTestSamples returns the minimum test set size across the held datasets.
func (m *MultiDataset) NTestSamples() int {
	return minOver(m.datasets, (*Dataset).NTestSamples)
}

// NValidationSamples returns the minimum validation set size across the
// held datasets.
func (m *MultiDataset) NValidationSamples() int {
	return minOver(m.datasets, (*Dataset).NValidationSamples)
}

// UpdateStats recomputes statistics on every held dataset.
func (m *MultiDataset) UpdateStats(axis ...int) error {
	for _, d := range m.datasets {
		if err := d.UpdateStats(axis...); err != nil {
			return err
		}
	}
	return nil
}

// Normalize normalizes every held dataset and captures the per-dataset
// transforms into a combined normalizer, available via Normalizer.
func (m *MultiDataset) Normalize(axis ...int) error {
	normalizers := make([]*Normalizer, len(m.datasets))
	for i, d := range m.datasets {
		if err := d.Normalize(nil, axis...); err != nil {
			return err
		}
		normalizers[i] = d.Normalizer()
	}
	m.normalizer = &MultiNormalizer{normalizers: normalizers}
	return nil
}

// Normalizer returns the combined transform captured by the last Normalize
// call, or nil if Normalize has not been called.
func (m *MultiDataset) Normalizer() *MultiNormalizer { return m.normalizer }

// Minibatch requests a minibatch of batchSize from every held dataset and
// returns the parallel input and target slices. Each dataset advances its
// own independent cursor and permutation. It fails with a *BatchSizeError
// when batchSize exceeds the minimum training set size.
func (m *MultiDataset) Minibatch(batchSize int) (inputs, targets []*Structure, err error) {
	if n := m.NTrainSamples(); batchSize > n {
		return nil, nil, &BatchSizeError{Requested: batchSize, Available: n}
	}
	inputs = make([]*Structure, len(m.datasets))
	targets = make([]*Structure, len(m.datasets))
	for i, d := range m.datasets {
		inputs[i], targets[i], err = d.Minibatch(batchSize)
		if err != nil {
			return nil, nil, err
		}
	}
	return inputs, targets, nil
}

// NextEpoch starts a new epoch on every held dataset.
func (m *MultiDataset) NextEpoch(seed int64) {
	for _, d := range m.datasets {
		d.NextEpoch(seed)
	}
}

// MultiNormalizer applies per-dataset normalization transforms to the
// corresponding entries of a parallel input slice.
type MultiNormalizer struct {
	normalizers []*Normalizer
}

// Apply normalizes each entry of data with the matching dataset's captured
// transform. data must have one entry per aggregated dataset.
func (mn *MultiNormalizer) Apply(data []*Structure) ([]*Structure, error) {
	if len(data) != len(mn.normalizers) {
		return nil, fmt.Errorf("datasets: expected %d input structures, got %d", len(mn.normalizers), len(data))
	}
	out := make([]*Structure, len(data))
	for i, s := range data {
		normalized, err := mn.normalizers[i].Apply(s)
		if err != nil {
			return nil, fmt.Errorf("datasets: entry %d: %w", i, err)
		}
		out[i] = normalized
	}
	return out, nil
}

// collect fans an accessor out over the datasets, preserving order.
func collect[T any](datasets []*Dataset, get func(*Dataset) T) []T {
	out := make([]T, len(datasets))
	for i, d := range datasets {
		out[i] = get(d)
	}
	return out
}

// minOver returns the minimum of get across the datasets, or 0 when there
// are none.
func minOver(datasets []*Dataset, get func(*Dataset) int) int {
	if len(datasets) == 0 {
		return 0
	}
	min := get(datasets[0])
	for _, d := range datasets[1:] {
		if v := get(d); v < min {
			min = v
		}
	}
	return min
}
