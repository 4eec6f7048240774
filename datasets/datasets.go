// Package datasets manages in-memory supervised-learning datasets: it splits
// raw input/target structures into train/validation/test partitions, tracks
// per-feature normalization statistics, and serves shuffled minibatches to a
// training loop.
//
// Data is handed over as nested structures (see the nest package) whose
// leaves are float64 gomlx tensors with the first dimension interpreted as
// the batch dimension. Internally every per-leaf collection is kept
// flattened in the deterministic order defined by the structure; accessors
// re-attach results to the original nesting.
//
// A Dataset assumes a single owner driving it sequentially: Minibatch,
// NextEpoch and Normalize mutate unsynchronized cursor/permutation state, so
// concurrent callers must serialize access externally.
package datasets

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/eywalker/atflow/nest"
)

// Structure is a nested structure of leaf tensors, the form in which all
// data enters and leaves this package.
type Structure = nest.Node[*tensors.Tensor]

// Config carries the optional arguments for New. The zero value (or a nil
// pointer) selects the defaults: no test or validation data, an automatic
// 80/20 train/validation split, generated leaf labels, and an unseeded
// random source.
type Config struct {
	// TestInputs/TestTargets optionally supply a held-out test set. Both
	// must structurally match the training inputs/targets.
	TestInputs  *Structure
	TestTargets *Structure

	// ValidationInputs/ValidationTargets optionally supply an explicit
	// validation set. When present, no automatic split is performed.
	ValidationInputs  *Structure
	ValidationTargets *Structure

	// Seed seeds the random source used for the automatic split and for
	// epoch permutations. If zero, a time-based seed is used.
	Seed int64

	// TrainFrac is the fraction of samples assigned to the training set by
	// the automatic split. If zero, it defaults to 0.8. A negative value
	// disables the split entirely: all samples become the training set and
	// no validation set exists. Values above 1 behave like 1: everything
	// goes to training and the validation set is empty.
	TrainFrac float64

	// InputsLabel/TargetsLabel optionally name the leaves. They must match
	// the nesting of the inputs/targets exactly. When absent, labels
	// default to "inputs{i}" / "targets{i}" in flatten order.
	InputsLabel  *nest.Node[string]
	TargetsLabel *nest.Node[string]

	// Info is free-form caller metadata, stored as-is and never inspected.
	Info map[string]any
}

// Dataset owns one train/validation/test split over a nested input/target
// structure, tracks per-leaf normalization statistics, and serves
// sequential shuffled minibatches.
type Dataset struct {
	inputsStructure  *nest.Node[int]
	targetsStructure *nest.Node[int]

	inputsLabel  []string
	targetsLabel []string

	inputsShape  [][]int
	targetsShape [][]int

	trainInputs  []*tensors.Tensor
	trainTargets []*tensors.Tensor

	validationInputs  []*tensors.Tensor
	validationTargets []*tensors.Tensor

	testInputs  []*tensors.Tensor
	testTargets []*tensors.Tensor

	inputsMean           []*tensors.Tensor
	inputsStd            []*tensors.Tensor
	inputsStationaryMean []float64
	inputsStationaryStd  []float64

	trainIdx      []int
	validationIdx []int

	minibatchIdx     int
	trainPerm        []int
	minibatchIndices []int

	normalizer *Normalizer
	rng        *rand.Rand
	info       map[string]any
}

// New builds a Dataset from nested input and target structures. All leaves
// of inputs and targets combined must share the same batch-dimension length.
// When cfg supplies no validation set and the (defaulted) TrainFrac is
// positive, a random TrainFrac fraction of the samples becomes the training
// set and the remainder the validation set.
func New(inputs, targets *Structure, cfg *Config) (*Dataset, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if inputs == nil || targets == nil {
		return nil, fmt.Errorf("datasets: inputs and targets are required")
	}

	flatInputs := nest.Flatten(inputs)
	flatTargets := nest.Flatten(targets)
	if len(flatInputs) == 0 || len(flatTargets) == 0 {
		return nil, fmt.Errorf("datasets: inputs and targets must each contain at least one leaf")
	}

	inputsLabel, err := resolveLabels(cfg.InputsLabel, inputs, "inputs")
	if err != nil {
		return nil, err
	}
	targetsLabel, err := resolveLabels(cfg.TargetsLabel, targets, "targets")
	if err != nil {
		return nil, err
	}

	if err := validateLeaves(flatInputs, inputsLabel); err != nil {
		return nil, err
	}
	if err := validateLeaves(flatTargets, targetsLabel); err != nil {
		return nil, err
	}
	if err := checkSameBatch(
		append(append([]*tensors.Tensor{}, flatInputs...), flatTargets...),
		append(append([]string{}, inputsLabel...), targetsLabel...),
	); err != nil {
		return nil, err
	}
	nInputs := batchLen(flatInputs[0])

	d := &Dataset{
		inputsStructure:  structureOf(inputs),
		targetsStructure: structureOf(targets),
		inputsLabel:      inputsLabel,
		targetsLabel:     targetsLabel,
		inputsShape:      leafShapes(flatInputs),
		targetsShape:     leafShapes(flatTargets),
		info:             cfg.Info,
	}

	if cfg.Seed != 0 {
		d.rng = rand.New(rand.NewSource(cfg.Seed))
	} else {
		d.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	d.testInputs, d.testTargets, err = d.resolveRole(cfg.TestInputs, cfg.TestTargets, "test")
	if err != nil {
		return nil, err
	}
	d.validationInputs, d.validationTargets, err = d.resolveRole(cfg.ValidationInputs, cfg.ValidationTargets, "validation")
	if err != nil {
		return nil, err
	}

	trainFrac := cfg.TrainFrac
	if trainFrac == 0 {
		trainFrac = 0.8
	}
	if d.validationInputs == nil && trainFrac > 0 {
		perm := d.rng.Perm(nInputs)
		split := int(math.Round(float64(nInputs) * trainFrac))
		if split > nInputs {
			split = nInputs
		}
		d.trainIdx = append([]int{}, perm[:split]...)
		d.validationIdx = append([]int{}, perm[split:]...)
		sort.Ints(d.trainIdx)
		sort.Ints(d.validationIdx)

		d.trainInputs = gatherLeaves(flatInputs, d.trainIdx)
		d.trainTargets = gatherLeaves(flatTargets, d.trainIdx)
		d.validationInputs = gatherLeaves(flatInputs, d.validationIdx)
		d.validationTargets = gatherLeaves(flatTargets, d.validationIdx)
	} else {
		d.trainInputs = flatInputs
		d.trainTargets = flatTargets
	}

	d.updateStats(nil)
	d.normalizer = &Normalizer{}
	d.NextEpoch(0)
	return d, nil
}

// resolveRole validates and flattens an optional test or validation pair.
func (d *Dataset) resolveRole(inputs, targets *Structure, role string) (flatIn, flatTgt []*tensors.Tensor, err error) {
	if inputs == nil && targets == nil {
		return nil, nil, nil
	}
	if inputs == nil || targets == nil {
		return nil, nil, fmt.Errorf("datasets: %s inputs and targets must be supplied together", role)
	}
	if err := nest.AssertSameStructure(inputs, d.inputsStructure); err != nil {
		return nil, nil, fmt.Errorf("datasets: %s inputs: %w", role, err)
	}
	if err := nest.AssertSameStructure(targets, d.targetsStructure); err != nil {
		return nil, nil, fmt.Errorf("datasets: %s targets: %w", role, err)
	}
	flatIn = nest.Flatten(inputs)
	flatTgt = nest.Flatten(targets)
	labels := append(prefixed(d.inputsLabel, role+" "), prefixed(d.targetsLabel, role+" ")...)
	all := append(append([]*tensors.Tensor{}, flatIn...), flatTgt...)
	if err := validateLeaves(all, labels); err != nil {
		return nil, nil, err
	}
	if err := checkSameBatch(all, labels); err != nil {
		return nil, nil, err
	}
	return flatIn, flatTgt, nil
}

// resolveLabels returns the flattened leaf labels, generating "{prefix}{i}"
// names when none are supplied.
func resolveLabels(labels *nest.Node[string], data *Structure, prefix string) ([]string, error) {
	if labels == nil {
		n := nest.NumLeaves(data)
		out := make([]string, n)
		for i := range out {
			out[i] = fmt.Sprintf("%s%d", prefix, i)
		}
		return out, nil
	}
	if err := nest.AssertSameStructure(labels, data); err != nil {
		return nil, fmt.Errorf("datasets: %s labels: %w", prefix, err)
	}
	return nest.Flatten(labels), nil
}

// structureOf captures the shape-of-nesting of data as a template whose
// leaves are flatten-order indices.
func structureOf(data *Structure) *nest.Node[int] {
	n := nest.NumLeaves(data)
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	template, err := nest.Pack(data, indices)
	if err != nil {
		panic(err) // indices are sized from the same structure
	}
	return template
}

func leafShapes(leaves []*tensors.Tensor) [][]int {
	out := make([][]int, len(leaves))
	for i, t := range leaves {
		out[i] = BatchShape(leafDims(t))
	}
	return out
}

func prefixed(labels []string, prefix string) []string {
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = prefix + l
	}
	return out
}

// InputsLabel returns the per-leaf input labels in the original nesting.
func (d *Dataset) InputsLabel() *nest.Node[string] {
	return mustPack(d.inputsStructure, d.inputsLabel)
}

// TargetsLabel returns the per-leaf target labels in the original nesting.
func (d *Dataset) TargetsLabel() *nest.Node[string] {
	return mustPack(d.targetsStructure, d.targetsLabel)
}

// TrainInputs returns the training set inputs.
func (d *Dataset) TrainInputs() *Structure {
	return mustPack(d.inputsStructure, d.trainInputs)
}

// TrainTargets returns the training set targets.
func (d *Dataset) TrainTargets() *Structure {
	return mustPack(d.targetsStructure, d.trainTargets)
}

// TestInputs returns the test set inputs, or nil when no test set exists.
func (d *Dataset) TestInputs() *Structure {
	if d.testInputs == nil {
		return nil
	}
	return mustPack(d.inputsStructure, d.testInputs)
}

// TestTargets returns the test set targets, or nil when no test set exists.
func (d *Dataset) TestTargets() *Structure {
	if d.testTargets == nil {
		return nil
	}
	return mustPack(d.targetsStructure, d.testTargets)
}

// ValidationInputs returns the validation set inputs, or nil when no
// validation set exists.
func (d *Dataset) ValidationInputs() *Structure {
	if d.validationInputs == nil {
		return nil
	}
	return mustPack(d.inputsStructure, d.validationInputs)
}

// ValidationTargets returns the validation set targets, or nil when no
// validation set exists.
func (d *Dataset) ValidationTargets() *Structure {
	if d.validationTargets == nil {
		return nil
	}
	return mustPack(d.targetsStructure, d.validationTargets)
}

// TrainSet returns the (inputs, targets) pair for the training set.
func (d *Dataset) TrainSet() (*Structure, *Structure) {
	return d.TrainInputs(), d.TrainTargets()
}

// TestSet returns the (inputs, targets) pair for the test set.
func (d *Dataset) TestSet() (*Structure, *Structure) {
	return d.TestInputs(), d.TestTargets()
}

// ValidationSet returns the (inputs, targets) pair for the validation set.
func (d *Dataset) ValidationSet() (*Structure, *Structure) {
	return d.ValidationInputs(), d.ValidationTargets()
}

// InputsShape returns the per-leaf input shapes with the batch dimension
// normalized to -1.
func (d *Dataset) InputsShape() *nest.Node[[]int] {
	return mustPack(d.inputsStructure, d.inputsShape)
}

// TargetsShape returns the per-leaf target shapes with the batch dimension
// normalized to -1.
func (d *Dataset) TargetsShape() *nest.Node[[]int] {
	return mustPack(d.targetsStructure, d.targetsShape)
}

// TrainIdx returns the sorted indices (into the originally supplied inputs)
// selected for training by the automatic split, or nil when no automatic
// split occurred.
func (d *Dataset) TrainIdx() []int { return d.trainIdx }

// ValidationIdx returns the sorted indices selected for validation by the
// automatic split, or nil when no automatic split occurred.
func (d *Dataset) ValidationIdx() []int { return d.validationIdx }

// Info returns the caller-supplied metadata.
func (d *Dataset) Info() map[string]any { return d.info }

// NTrainSamples returns the length of the training set.
func (d *Dataset) NTrainSamples() int {
	if len(d.trainInputs) == 0 {
		return 0
	}
	return batchLen(d.trainInputs[0])
}

// NTestSamples returns the length of the test set (0 when absent).
func (d *Dataset) NTestSamples() int {
	if len(d.testInputs) == 0 {
		return 0
	}
	return batchLen(d.testInputs[0])
}

// NValidationSamples returns the length of the validation set (0 when
// absent).
func (d *Dataset) NValidationSamples() int {
	if len(d.validationInputs) == 0 {
		return 0
	}
	return batchLen(d.validationInputs[0])
}

// Minibatch returns the next (inputs, targets) pair of batchSize samples
// from the training set, advancing the epoch cursor. When the current
// epoch's permutation cannot serve a full batch, a new epoch is started
// first and the remainder of the old permutation is discarded. Minibatch
// fails with a *BatchSizeError when batchSize exceeds the training set
// size.
func (d *Dataset) Minibatch(batchSize int) (inputs, targets *Structure, err error) {
	n := d.NTrainSamples()
	if batchSize > n {
		return nil, nil, &BatchSizeError{Requested: batchSize, Available: n}
	}
	if batchSize <= 0 {
		return nil, nil, fmt.Errorf("datasets: batch size must be positive, got %d", batchSize)
	}
	if d.minibatchIdx+batchSize > n {
		d.NextEpoch(0)
	}
	idx := d.trainPerm[d.minibatchIdx : d.minibatchIdx+batchSize]
	d.minibatchIndices = idx
	d.minibatchIdx += batchSize

	inputs = mustPack(d.inputsStructure, gatherLeaves(d.trainInputs, idx))
	targets = mustPack(d.targetsStructure, gatherLeaves(d.trainTargets, idx))
	return inputs, targets, nil
}

// MinibatchIndices returns the training-permutation indices used by the most
// recently returned minibatch, or nil before the first call.
func (d *Dataset) MinibatchIndices() []int { return d.minibatchIndices }

// NextEpoch resets the minibatch cursor and draws a fresh permutation of
// the training samples. A non-zero seed re-seeds the dataset's random
// source first, making the subsequent batch sequence repeatable.
func (d *Dataset) NextEpoch(seed int64) {
	d.minibatchIdx = 0
	if seed != 0 {
		d.rng = rand.New(rand.NewSource(seed))
	}
	d.trainPerm = d.rng.Perm(d.NTrainSamples())
}

// Copy returns an independent Dataset built from the current train,
// validation and test contents. Training leaves are duplicated; validation
// and test leaves are referenced as-is. The copy has fresh statistics, an
// identity normalizer and fresh epoch state.
func (d *Dataset) Copy() (*Dataset, error) {
	clonedInputs := make([]*tensors.Tensor, len(d.trainInputs))
	for i, t := range d.trainInputs {
		clonedInputs[i] = t.Clone()
	}
	clonedTargets := make([]*tensors.Tensor, len(d.trainTargets))
	for i, t := range d.trainTargets {
		clonedTargets[i] = t.Clone()
	}
	cfg := &Config{
		TestInputs:        d.TestInputs(),
		TestTargets:       d.TestTargets(),
		ValidationInputs:  d.ValidationInputs(),
		ValidationTargets: d.ValidationTargets(),
		InputsLabel:       d.InputsLabel(),
		TargetsLabel:      d.TargetsLabel(),
		Info:              d.info,
	}
	if d.validationInputs == nil {
		// Keep the training set intact rather than re-splitting it.
		cfg.TrainFrac = -1
	}
	return New(
		mustPack(d.inputsStructure, clonedInputs),
		mustPack(d.targetsStructure, clonedTargets),
		cfg,
	)
}

// mustPack packs flattened leaves onto the structure template; lengths are
// fixed at construction, so a failure here is a programming error.
func mustPack[T any](template *nest.Node[int], flat []T) *nest.Node[T] {
	packed, err := nest.Pack(template, flat)
	if err != nil {
		panic(err)
	}
	return packed
}
