package datasets

import (
	"errors"
	"math"
	"testing"

	"github.com/eywalker/atflow/nest"
)

func newMultiPair(t *testing.T) *MultiDataset {
	t.Helper()
	a, err := New(rampLeaf(10, 4), rampLeaf(10, 1), &Config{TrainFrac: -1, Seed: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	b, err := New(rampLeaf(20, 2), rampLeaf(20, 1), &Config{TrainFrac: -1, Seed: 2})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return NewMulti(a, b)
}

func TestMultiSampleCounts(t *testing.T) {
	m := newMultiPair(t)
	// The aggregate counts are the minimum across members.
	if got := m.NTrainSamples(); got != 10 {
		t.Fatalf("expected 10 train samples, got %d", got)
	}
	if got := m.NValidationSamples(); got != 0 {
		t.Fatalf("expected 0 validation samples, got %d", got)
	}
}

func TestMultiAccessorsAreParallel(t *testing.T) {
	m := newMultiPair(t)
	inputs := m.TrainInputs()
	if len(inputs) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(inputs))
	}
	// Construction order is preserved.
	if batchLen(nest.Flatten(inputs[0])[0]) != 10 || batchLen(nest.Flatten(inputs[1])[0]) != 20 {
		t.Fatalf("entries out of order")
	}
	shapes := m.InputsShape()
	if got := nest.Flatten(shapes[0])[0]; got[1] != 4 {
		t.Fatalf("unexpected first shape: %v", got)
	}
	if got := nest.Flatten(shapes[1])[0]; got[1] != 2 {
		t.Fatalf("unexpected second shape: %v", got)
	}
}

func TestMultiMinibatch(t *testing.T) {
	m := newMultiPair(t)
	inputs, targets, err := m.Minibatch(5)
	if err != nil {
		t.Fatalf("Minibatch failed: %v", err)
	}
	if len(inputs) != 2 || len(targets) != 2 {
		t.Fatalf("expected parallel pairs, got %d/%d", len(inputs), len(targets))
	}
	for i := range inputs {
		if got := batchLen(nest.Flatten(inputs[i])[0]); got != 5 {
			t.Fatalf("entry %d batch size %d, want 5", i, got)
		}
	}

	// Each member advances its own cursor independently.
	ds := m.Datasets()
	if ds[0].minibatchIdx != 5 || ds[1].minibatchIdx != 5 {
		t.Fatalf("unexpected cursors: %d, %d", ds[0].minibatchIdx, ds[1].minibatchIdx)
	}
}

func TestMultiMinibatchTooLarge(t *testing.T) {
	m := newMultiPair(t)
	_, _, err := m.Minibatch(15)
	var berr *BatchSizeError
	if !errors.As(err, &berr) {
		t.Fatalf("expected *BatchSizeError, got %v", err)
	}
	if berr.Available != 10 {
		t.Fatalf("limit should be the minimum member size, got %d", berr.Available)
	}
}

func TestMultiNextEpoch(t *testing.T) {
	m := newMultiPair(t)
	if _, _, err := m.Minibatch(5); err != nil {
		t.Fatalf("Minibatch failed: %v", err)
	}
	m.NextEpoch(0)
	for i, d := range m.Datasets() {
		if d.minibatchIdx != 0 {
			t.Fatalf("dataset %d cursor not reset", i)
		}
	}
}

func TestMultiNormalize(t *testing.T) {
	m := newMultiPair(t)
	if err := m.Normalize(); err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	for i, mean := range m.InputsStationaryMean() {
		if v := nest.Flatten(mean)[0]; math.Abs(v) > 1e-9 {
			t.Fatalf("dataset %d not normalized: stationary mean %v", i, v)
		}
	}

	// The combined normalizer applies positionally to a parallel slice.
	mn := m.Normalizer()
	if mn == nil {
		t.Fatalf("expected a combined normalizer")
	}
	out, err := mn.Apply([]*Structure{rampLeaf(3, 4), rampLeaf(3, 2)})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 normalized entries, got %d", len(out))
	}

	if _, err := mn.Apply([]*Structure{rampLeaf(3, 4)}); err == nil {
		t.Fatalf("expected an error for a short input slice")
	}
}

func TestMultiEmpty(t *testing.T) {
	m := NewMulti()
	if m.NTrainSamples() != 0 {
		t.Fatalf("expected 0 samples for an empty aggregate")
	}
	if got := len(m.TrainInputs()); got != 0 {
		t.Fatalf("expected no entries, got %d", got)
	}
}
