// Package validation provides robustness checks that run the backtest engine
// many times over resampled or resegmented inputs: walk-forward analysis,
// Monte Carlo trade resampling, and signal permutation testing.
package validation

import (
	"context"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

type options struct {
	workers int
	logger  *zap.Logger
}

// Option configures a validation driver.
type Option func(*options)

// WithWorkers caps the number of concurrent engine runs.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithLogger attaches a logger to the driver.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func newOptions(opts []Option) options {
	o := options{
		workers: runtime.NumCPU(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// runParallel executes fn for every index in [0, n) across a fixed worker
// pool. The first error wins; remaining jobs still drain but their errors are
// dropped. Context cancellation stops workers between jobs.
func runParallel(ctx context.Context, workers, n int, fn func(i int) error) error {
	if workers > n {
		workers = n
	}

	jobChan := make(chan int, n)
	errorChan := make(chan error, n)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobChan {
				if err := ctx.Err(); err != nil {
					errorChan <- err
					return
				}
				if err := fn(i); err != nil {
					errorChan <- err
				}
			}
		}()
	}

	for i := 0; i < n; i++ {
		jobChan <- i
	}
	close(jobChan)

	wg.Wait()
	close(errorChan)

	for err := range errorChan {
		if err != nil {
			return err
		}
	}
	return nil
}
