package datasets

import "fmt"

// ShapeError reports leaves that are required to share a batch dimension but
// do not. Leaf identifies the offending leaf by its label.
type ShapeError struct {
	Leaf string
	Got  int
	Want int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("datasets: leaf %s has batch size %d, want %d", e.Leaf, e.Got, e.Want)
}

// BatchSizeError reports a minibatch request larger than the number of
// available samples.
type BatchSizeError struct {
	Requested int
	Available int
}

func (e *BatchSizeError) Error() string {
	return fmt.Sprintf("datasets: batch size %d exceeds available samples (%d)", e.Requested, e.Available)
}
