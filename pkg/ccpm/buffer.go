package ccpm

import "time"

// BufferKind distinguishes a project buffer from a feeding buffer.
type BufferKind string

const (
	BufferProject BufferKind = "project"
	BufferFeeding BufferKind = "feeding"
)

// BufferStatus is the fever-chart status of a buffer, a pure function of its
// consumption percentage (spec §8 property 8).
type BufferStatus string

const (
	BufferGreen  BufferStatus = "green"
	BufferYellow BufferStatus = "yellow"
	BufferRed    BufferStatus = "red"
)

// ConsumptionEvent is one entry in a buffer's consumption history.
type ConsumptionEvent struct {
	Date          time.Time
	Delta         float64
	RemainingAfter float64
	Reason        string
	Status        BufferStatus
}

// Buffer is a protective time reserve (spec §3 Buffer).
type Buffer struct {
	ID   string
	Name string
	Kind BufferKind

	Size          float64
	OriginalSize  float64
	RemainingSize float64

	// ConnectsToTaskID is required for Feeding buffers.
	ConnectsToTaskID TaskId

	StartDate    *time.Time
	EndDate      *time.Time
	NewStartDate *time.Time
	NewEndDate   *time.Time

	ConsumptionHistory []ConsumptionEvent
}

// NewBuffer constructs a buffer with size rounded to the nearest integer day
// per spec §3/§4.C.
func NewBuffer(id, name string, kind BufferKind, size float64, connectsTo TaskId) (*Buffer, error) {
	if id == "" {
		return nil, newValidationError("id", "buffer id must not be empty")
	}
	if size < 0 {
		return nil, newValidationError("size", "must be >= 0")
	}
	if kind == BufferFeeding && connectsTo == "" {
		return nil, newValidationError("connectsToTaskId", "required for feeding buffers")
	}
	rounded := roundToInt(size)
	return &Buffer{
		ID:                 id,
		Name:               name,
		Kind:               kind,
		Size:               rounded,
		OriginalSize:       rounded,
		RemainingSize:      rounded,
		ConnectsToTaskID:   connectsTo,
		ConsumptionHistory: nil,
	}, nil
}

func roundToInt(v float64) float64 {
	if v < 0 {
		return float64(int64(v - 0.5))
	}
	return float64(int64(v + 0.5))
}

// ConsumptionPercentage returns (size - remaining) / size * 100, 0 when size
// is 0 (spec §3 invariant).
func (b *Buffer) ConsumptionPercentage() float64 {
	if b.Size == 0 {
		return 0
	}
	return (b.Size - b.RemainingSize) / b.Size * 100
}

// Status derives the buffer's fever-chart status from its consumption
// percentage: Green < 33, Yellow in [33,67), Red >= 67 (spec §3/§8). The
// thresholds allow a 1e-9 tolerance so that float error (e.g. 10 - 6.7)
// does not push an exact 33% below the boundary.
func (b *Buffer) Status() BufferStatus {
	const eps = 1e-9
	pct := b.ConsumptionPercentage()
	switch {
	case pct >= 67-eps:
		return BufferRed
	case pct >= 33-eps:
		return BufferYellow
	default:
		return BufferGreen
	}
}

// Consume applies a delay of `totalDelay` days against the buffer's ORIGINAL size,
// setting the remaining size to max(0, size - totalDelayAppliedSoFar). Per
// spec §4.F "updateBufferConsumption", consumption tracking is idempotent
// with respect to total delay observed so far, not additive per call: the
// caller passes the cumulative delay observed at this status date, not an
// incremental amount. A consumption event is appended only when the
// remaining size actually changes.
func (b *Buffer) Consume(totalDelay float64, at time.Time, reason string) {
	if totalDelay < 0 {
		totalDelay = 0
	}
	newRemaining := b.Size - totalDelay
	if newRemaining < 0 {
		newRemaining = 0
	}
	if newRemaining > b.Size {
		newRemaining = b.Size
	}
	if newRemaining == b.RemainingSize {
		return
	}
	delta := b.RemainingSize - newRemaining
	b.RemainingSize = newRemaining
	b.ConsumptionHistory = append(b.ConsumptionHistory, ConsumptionEvent{
		Date:           at,
		Delta:          delta,
		RemainingAfter: b.RemainingSize,
		Reason:         reason,
		Status:         b.Status(),
	})
}
