package s3ferry

import "sync/atomic"

// ProgressFunc receives transfer progress. transferred counts plaintext
// bytes whose part has finished; total is the full plaintext length.
// Callbacks arrive from worker goroutines and must be safe for concurrent
// use.
type ProgressFunc func(transferred, total int64)

type progressTracker struct {
	total int64
	done  atomic.Int64
	fn    ProgressFunc
}

func newProgressTracker(total int64, fn ProgressFunc) *progressTracker {
	return &progressTracker{total: total, fn: fn}
}

func (p *progressTracker) add(n int64) {
	if p == nil || p.fn == nil {
		return
	}
	p.fn(p.done.Add(n), p.total)
}
