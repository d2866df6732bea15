package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leandrotoledo/rang-the-bell-bot/internal/taskqueue"
	"github.com/leandrotoledo/rang-the-bell-bot/pkg/api"
)

// Notices sent back to the chat when a user action could not be applied.
const (
	NoticeAlreadyHandled = "That one was already taken care of."
	NoticeInvalidAnswer  = "Sorry, I didn't understand that answer."
	NoticeFailure        = "Sorry, something went wrong and that wasn't recorded. Please try again."
	NoticeNotReady       = "That notification isn't ready yet. Please tap it again in a moment."
)

// DefaultRetryDelay is how long Run waits after a failed dequeue.
const DefaultRetryDelay = time.Second

// Config controls a Worker.
type Config struct {
	// Concurrency is the number of goroutines Run starts. Defaults to 1.
	Concurrency int

	// TaskTimeout bounds the handling of a single task. Zero means no limit.
	TaskTimeout time.Duration

	// RetryDelay is the pause after a failed dequeue. Defaults to
	// DefaultRetryDelay.
	RetryDelay time.Duration

	Logger *slog.Logger
}

// Worker pulls tasks from a Queue and executes them using an Engine.
type Worker struct {
	engine    api.Engine
	queue     taskqueue.Queue
	messenger api.Messenger
	cfg       Config
	logger    *slog.Logger
}

// New creates a Worker with the default Config.
func New(engine api.Engine, queue taskqueue.Queue, messenger api.Messenger) *Worker {
	return NewWithConfig(engine, queue, messenger, Config{})
}

// NewWithConfig creates a Worker. messenger receives notices and reports.
func NewWithConfig(engine api.Engine, queue taskqueue.Queue, messenger api.Messenger, cfg Config) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		engine:    engine,
		queue:     queue,
		messenger: messenger,
		cfg:       cfg,
		logger:    logger,
	}
}

// EnqueueRing enqueues a sensor trigger.
func (w *Worker) EnqueueRing(ctx context.Context) error {
	return w.enqueue(ctx, taskqueue.Task{Type: taskqueue.TaskTypeRing})
}

// EnqueueClaim enqueues a claim on the prompt identified by correlationID.
func (w *Worker) EnqueueClaim(ctx context.Context, correlationID string, user api.User) error {
	return w.enqueue(ctx, taskqueue.Task{
		Type:          taskqueue.TaskTypeClaim,
		CorrelationID: correlationID,
		User:          user,
	})
}

// EnqueueClaimManual enqueues a claim issued without a prompt.
func (w *Worker) EnqueueClaimManual(ctx context.Context, user api.User) error {
	return w.enqueue(ctx, taskqueue.Task{Type: taskqueue.TaskTypeClaimManual, User: user})
}

// EnqueueDismiss enqueues dismissal of the instance with the given ledger id.
func (w *Worker) EnqueueDismiss(ctx context.Context, instanceID int64, user api.User) error {
	return w.enqueue(ctx, taskqueue.Task{
		Type:       taskqueue.TaskTypeDismiss,
		InstanceID: instanceID,
		User:       user,
	})
}

// EnqueueSurveyAnswer enqueues an outcome chosen in a survey.
func (w *Worker) EnqueueSurveyAnswer(ctx context.Context, answer api.SurveyAnswer) error {
	return w.enqueue(ctx, taskqueue.Task{
		Type:          taskqueue.TaskTypeSurveyAnswer,
		CorrelationID: answer.CorrelationID,
		Code:          answer.Code,
		PromptID:      answer.PromptID,
		User:          answer.User,
	})
}

// EnqueueReport enqueues a report request.
func (w *Worker) EnqueueReport(ctx context.Context, user api.User) error {
	return w.enqueue(ctx, taskqueue.Task{Type: taskqueue.TaskTypeReport, User: user})
}

func (w *Worker) enqueue(ctx context.Context, t taskqueue.Task) error {
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}
	return w.queue.Enqueue(ctx, t)
}

// ProcessOne pulls a single task from the queue and processes it.
// Returns (processed, error):
//   - processed == false: no task was obtained; err is the dequeue error.
//   - processed == true: a task was processed; err is the engine error that
//     was not absorbed, after the chat has been notified.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	tctx := ctx
	if w.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, w.cfg.TaskTimeout)
		defer cancel()
	}

	start := time.Now()
	err = w.surface(tctx, task, w.handle(tctx, task))
	w.logger.DebugContext(ctx, "task_processed",
		slog.String("task_id", task.ID),
		slog.String("task_type", string(task.Type)),
		slog.Duration("duration", time.Since(start)),
		slog.Bool("ok", err == nil),
	)
	return true, err
}

// Run processes tasks until ctx is cancelled and then returns nil. Task
// errors are logged, never returned. A failed dequeue is logged and retried
// after Config.RetryDelay, so a broker hiccup does not stop the worker.
func (w *Worker) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		g.Go(func() error {
			for {
				processed, err := w.ProcessOne(gctx)
				if !processed {
					if gctx.Err() != nil {
						return nil
					}
					if err != nil {
						w.logger.ErrorContext(gctx, "worker_dequeue_failed",
							slog.Any("error", err),
							slog.Duration("retry_in", w.cfg.RetryDelay),
						)
						select {
						case <-gctx.Done():
							return nil
						case <-time.After(w.cfg.RetryDelay):
						}
					}
					continue
				}
				if err != nil {
					w.logger.DebugContext(gctx, "task_failed", slog.Any("error", err))
				}
			}
		})
	}
	return g.Wait()
}

func (w *Worker) handle(ctx context.Context, task *taskqueue.Task) error {
	switch task.Type {
	case taskqueue.TaskTypeRing:
		_, err := w.engine.RingBell(ctx)
		return err

	case taskqueue.TaskTypeClaim:
		_, err := w.engine.Claim(ctx, task.CorrelationID, task.User)
		return err

	case taskqueue.TaskTypeClaimManual:
		_, err := w.engine.ClaimManual(ctx, task.User)
		return err

	case taskqueue.TaskTypeDismiss:
		_, err := w.engine.Dismiss(ctx, task.InstanceID, task.User)
		return err

	case taskqueue.TaskTypeSurveyAnswer:
		_, err := w.engine.RecordOutcome(ctx, api.SurveyAnswer{
			CorrelationID: task.CorrelationID,
			Code:          task.Code,
			User:          task.User,
			PromptID:      task.PromptID,
		})
		return err

	case taskqueue.TaskTypeReport:
		r, err := w.engine.Report(ctx)
		if err != nil {
			return err
		}
		return api.TransportError("send report", w.messenger.SendReport(ctx, r))

	default:
		// Unknown task type; mark as processed but return an error so this isn't silently ignored.
		return errors.New("unknown task type: " + string(task.Type))
	}
}

// surface logs err and tells the chat about it. It returns nil for errors
// that are absorbed.
func (w *Worker) surface(ctx context.Context, task *taskqueue.Task, err error) error {
	if err == nil {
		return nil
	}

	attrs := []slog.Attr{
		slog.String("task_type", string(task.Type)),
		slog.String("user", task.User.Name),
		slog.Any("error", err),
	}

	if errors.Is(err, api.ErrNotFound) {
		w.logger.LogAttrs(ctx, slog.LevelWarn, "task_target_not_found", attrs...)
		// A prompt is visible before its id is stored, so an early tap on it
		// finds nothing.
		if task.Type == taskqueue.TaskTypeClaim {
			w.notify(ctx, NoticeNotReady)
		}
		return nil
	}

	// Sensor triggers have nobody waiting for an answer.
	userFacing := task.Type != taskqueue.TaskTypeRing

	var notice string
	switch {
	case errors.Is(err, api.ErrInvalidTransition):
		w.logger.LogAttrs(ctx, slog.LevelWarn, "task_rejected", attrs...)
		notice = NoticeAlreadyHandled
	case errors.Is(err, api.ErrInvalidResult):
		w.logger.LogAttrs(ctx, slog.LevelWarn, "task_rejected", attrs...)
		notice = NoticeInvalidAnswer
	default:
		w.logger.LogAttrs(ctx, slog.LevelError, "task_failed", attrs...)
		notice = NoticeFailure
	}

	if userFacing {
		w.notify(ctx, notice)
	}
	return err
}

func (w *Worker) notify(ctx context.Context, notice string) {
	if err := w.messenger.SendNotice(ctx, notice); err != nil {
		w.logger.ErrorContext(ctx, "notice_failed", slog.Any("error", err))
	}
}
