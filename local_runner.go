package bellbot

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/leandrotoledo/rang-the-bell-bot/internal/taskqueue"
	"github.com/leandrotoledo/rang-the-bell-bot/pkg/worker"
)

const dequeueRetryDelay = time.Second

// Runner bundles an Engine, a task queue and a Worker consuming it.
//
// Typical usage:
//
//	runner, _ := bellbot.NewLocalRunner(bellbot.Config{Messenger: chat})
//	_ = runner.StartWorkers(ctx, 2)
//	_ = runner.Worker.EnqueueRing(ctx)
//	...
//	runner.Stop()
type Runner struct {
	// Engine is the workflow engine tasks are applied to.
	Engine Engine

	// Queue holds tasks produced by transports.
	Queue taskqueue.Queue

	// Worker processes tasks from Queue using Engine.
	Worker *worker.Worker

	logger  *slog.Logger
	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewRunner wires eng and q to a Worker. Notices and reports go to messenger.
func NewRunner(eng Engine, q taskqueue.Queue, messenger Messenger, cfg worker.Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		Engine: eng,
		Queue:  q,
		Worker: worker.NewWithConfig(eng, q, messenger, cfg),
		logger: logger,
	}
}

// NewLocalRunner constructs a Runner backed by an in-memory engine and an
// in-memory queue. cfg.Messenger is required.
//
// This is intended for local development, tests, and simple single-process
// deployments.
func NewLocalRunner(cfg Config) (*Runner, error) {
	eng, err := NewInMemoryEngine(cfg)
	if err != nil {
		return nil, err
	}
	return NewRunner(eng, taskqueue.NewInMemoryQueue(taskqueue.DefaultCapacity), cfg.Messenger, worker.Config{Logger: cfg.Logger}), nil
}

// StartWorkers starts 'concurrency' worker goroutines that continuously call
// Worker.ProcessOne(ctx) until the context is cancelled via Stop.
//
// If StartWorkers is called more than once without Stop, it returns an error.
func (r *Runner) StartWorkers(ctx context.Context, concurrency int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("bellbot: runner already started")
	}

	if concurrency <= 0 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer r.wg.Done()

			for {
				processed, err := r.Worker.ProcessOne(ctx)
				if !processed {
					// Cancellation is a clean shutdown.
					if ctx.Err() != nil {
						return
					}
					if err != nil {
						r.logger.ErrorContext(ctx, "runner_dequeue_failed", slog.Any("error", err))
						select {
						case <-ctx.Done():
						case <-time.After(dequeueRetryDelay):
						}
					}
					continue
				}
				// Task errors were already surfaced to the chat by the worker.
			}
		}()
	}

	return nil
}

// Stop cancels all worker goroutines started by StartWorkers, waits for them
// to exit and stops pending follow-ups.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
	_ = r.Engine.Close()
}
