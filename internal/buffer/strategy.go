// Package buffer implements the pluggable buffer-sizing strategies of spec
// §4.B. The Strategy interface and its concrete implementations follow the
// teacher's internal/retry.Strategy shape: small structs with a New/Default
// constructor pair, selected by the scheduler's configuration.
package buffer

import (
	"math"

	"github.com/flowchain/ccpm/pkg/ccpm"
)

// Strategy computes a buffer's length, in days, from the tasks on the chain
// it protects and a configured ratio. The scheduler rounds the result to the
// nearest integer day when constructing the ccpm.Buffer.
type Strategy interface {
	Size(tasks []*ccpm.Task, ratio float64) float64
}

// CutAndPaste sizes the buffer as ratio * sum(aggressive durations).
type CutAndPaste struct{}

// NewCutAndPaste creates a CutAndPaste sizing strategy.
func NewCutAndPaste() *CutAndPaste { return &CutAndPaste{} }

// Size implements Strategy.
func (s *CutAndPaste) Size(tasks []*ccpm.Task, ratio float64) float64 {
	return ratio * sumAggressive(tasks)
}

// SumOfSquares sizes the buffer as sqrt(sum((safe-aggressive)^2)),
// ignoring ratio.
type SumOfSquares struct{}

// NewSumOfSquares creates a SumOfSquares sizing strategy.
func NewSumOfSquares() *SumOfSquares { return &SumOfSquares{} }

// Size implements Strategy.
func (s *SumOfSquares) Size(tasks []*ccpm.Task, ratio float64) float64 {
	return sumOfSquares(tasks)
}

// RootSquareError sizes the buffer as 2 * sqrt(sum((safe-aggressive)^2)).
type RootSquareError struct{}

// NewRootSquareError creates a RootSquareError sizing strategy.
func NewRootSquareError() *RootSquareError { return &RootSquareError{} }

// Size implements Strategy.
func (s *RootSquareError) Size(tasks []*ccpm.Task, ratio float64) float64 {
	return 2 * sumOfSquares(tasks)
}

// Adaptive chooses between SumOfSquares and CutAndPaste based on the spread
// of safe/aggressive ratios across the chain, then floors the result at
// 0.15 * sum(aggressive) (spec §4.B).
type Adaptive struct {
	// StddevThreshold is the safe/aggressive ratio stddev above which
	// SumOfSquares is preferred over CutAndPaste. Defaults to 0.3.
	StddevThreshold float64
	// FloorRatio is the minimum buffer size as a fraction of the total
	// aggressive duration. Defaults to 0.15.
	FloorRatio float64
}

// NewAdaptive creates an Adaptive sizing strategy with explicit thresholds.
func NewAdaptive(stddevThreshold, floorRatio float64) *Adaptive {
	return &Adaptive{StddevThreshold: stddevThreshold, FloorRatio: floorRatio}
}

// DefaultAdaptive returns an Adaptive strategy with the spec's default
// thresholds (stddev 0.3, floor 0.15).
func DefaultAdaptive() *Adaptive {
	return NewAdaptive(0.3, 0.15)
}

// Size implements Strategy.
func (s *Adaptive) Size(tasks []*ccpm.Task, ratio float64) float64 {
	threshold := s.StddevThreshold
	if threshold == 0 {
		threshold = 0.3
	}
	floorRatio := s.FloorRatio
	if floorRatio == 0 {
		floorRatio = 0.15
	}

	size := (&CutAndPaste{}).Size(tasks, ratio)
	if stddevOfRatios(tasks) > threshold {
		size = sumOfSquares(tasks)
	}

	floor := floorRatio * sumAggressive(tasks)
	if size < floor {
		size = floor
	}
	return size
}

// Name identifies a buffer-sizing strategy by its spec §4.B name, so
// scheduler configuration can select one without importing concrete types.
type Name string

const (
	NameCutAndPaste     Name = "cut_and_paste"
	NameSumOfSquares    Name = "sum_of_squares"
	NameRootSquareError Name = "root_square_error"
	NameAdaptive        Name = "adaptive"
)

// ForName resolves a Strategy by its spec name, defaulting to CutAndPaste
// for an unrecognized or empty name.
func ForName(name Name) Strategy {
	switch name {
	case NameSumOfSquares:
		return NewSumOfSquares()
	case NameRootSquareError:
		return NewRootSquareError()
	case NameAdaptive:
		return DefaultAdaptive()
	default:
		return NewCutAndPaste()
	}
}

func sumAggressive(tasks []*ccpm.Task) float64 {
	total := 0.0
	for _, t := range tasks {
		total += t.AggressiveDuration
	}
	return total
}

func sumOfSquares(tasks []*ccpm.Task) float64 {
	total := 0.0
	for _, t := range tasks {
		d := t.SafeDuration - t.AggressiveDuration
		total += d * d
	}
	return math.Sqrt(total)
}

func stddevOfRatios(tasks []*ccpm.Task) float64 {
	if len(tasks) == 0 {
		return 0
	}
	ratios := make([]float64, 0, len(tasks))
	mean := 0.0
	for _, t := range tasks {
		if t.AggressiveDuration == 0 {
			continue
		}
		r := t.SafeDuration / t.AggressiveDuration
		ratios = append(ratios, r)
		mean += r
	}
	if len(ratios) == 0 {
		return 0
	}
	mean /= float64(len(ratios))

	variance := 0.0
	for _, r := range ratios {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(ratios))
	return math.Sqrt(variance)
}
