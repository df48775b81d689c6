package pipeline

import (
	"sync"
	"time"
)

// RunStats tracks aggregate counters across a batch run.
type RunStats struct {
	Total           int
	Encoded         int
	Skipped         int
	Failed          int
	DownloadedBytes int64
	OutputBytes     int64
	OutputSeconds   float64
	Elapsed         time.Duration
}

// tally guards RunStats while jobs run concurrently.
type tally struct {
	mu sync.Mutex
	s  RunStats
}

func (t *tally) add(fn func(s *RunStats)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.s)
}

func (t *tally) snapshot() RunStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.s
}
