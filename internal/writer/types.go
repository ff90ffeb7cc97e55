package writer

import "time"

// Config holds batch writer settings.
type Config struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: 5 * time.Second,
	}
}

// Metrics contains writer counters.
type Metrics struct {
	TickInserts    int64
	SessionInserts int64
	Conflicts      int64
	Flushes        int64
	Errors         int64
}
