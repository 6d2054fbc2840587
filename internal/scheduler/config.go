package scheduler

import "github.com/flowchain/ccpm/internal/buffer"

// Config holds the scheduler orchestrator's tunables (spec §4.F
// "Configuration"), following the teacher's Config/DefaultConfig struct
// pattern (internal/storage.Config, internal/retry.Config).
type Config struct {
	// ProjectBufferRatio is passed to ProjectBufferStrategy when sizing the
	// project buffer. Default 0.5.
	ProjectBufferRatio float64

	// DefaultFeedingBufferRatio is passed to DefaultFeedingBufferStrategy
	// when sizing each feeding buffer. Default 0.3.
	DefaultFeedingBufferRatio float64

	// ProjectBufferStrategy names the §4.B strategy used to size the
	// project buffer. Default CutAndPaste.
	ProjectBufferStrategy buffer.Name

	// DefaultFeedingBufferStrategy names the §4.B strategy used to size
	// every feeding buffer. Default SumOfSquares.
	DefaultFeedingBufferStrategy buffer.Name

	// AllowResourceOverallocation, if true, makes the leveller report
	// resource overallocations without sequencing tasks to eliminate them.
	AllowResourceOverallocation bool
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		ProjectBufferRatio:           0.5,
		DefaultFeedingBufferRatio:    0.3,
		ProjectBufferStrategy:        buffer.NameCutAndPaste,
		DefaultFeedingBufferStrategy: buffer.NameSumOfSquares,
		AllowResourceOverallocation:  false,
	}
}
