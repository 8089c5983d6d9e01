// Package parallel splits index ranges across a bounded set of goroutines.
package parallel

import (
	"golang.org/x/sync/errgroup"
)

// Config bounds a fan-out.
type Config struct {
	Enabled      bool
	NumWorkers   int // chunks running at once
	MinChunkSize int // smallest range worth a goroutine
}

// WithThreads returns a config that runs at most n chunks at once.
// n <= 1 means sequential.
func WithThreads(n int) Config {
	return Config{
		Enabled:      n > 1,
		NumWorkers:   max(n, 1),
		MinChunkSize: 1,
	}
}

// For calls f(i) for every i in [0, n), inline when cfg is disabled or n is below
// the chunk threshold.
func For(n int, f func(i int), cfg Config) {
	_ = ForErr(n, func(i int) error {
		f(i)
		return nil
	}, cfg)
}

// ForErr is For with a fallible body. The first error is returned after all
// started chunks finish; chunks not yet started are skipped.
func ForErr(n int, f func(i int) error, cfg Config) error {
	if !cfg.Enabled || cfg.NumWorkers <= 1 || n < max(cfg.MinChunkSize, 2) {
		for i := 0; i < n; i++ {
			if err := f(i); err != nil {
				return err
			}
		}
		return nil
	}

	chunkSize := max((n+cfg.NumWorkers-1)/cfg.NumWorkers, cfg.MinChunkSize, 1)

	var g errgroup.Group
	g.SetLimit(cfg.NumWorkers)
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := f(i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// ForBatch iterates the rows*cols grid, e.g. (row, output unit) of a fully
// connected layer.
func ForBatch(rows, cols int, f func(r, c int), cfg Config) {
	if cols == 0 {
		return
	}
	For(rows*cols, func(k int) {
		f(k/cols, k%cols)
	}, cfg)
}
