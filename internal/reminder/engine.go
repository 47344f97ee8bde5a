package reminder

import (
	"context"
	"sync"
	"time"

	"github.com/druiz27/vetlot/internal/models"
	"github.com/druiz27/vetlot/internal/notify"
	"github.com/druiz27/vetlot/internal/store"
	"go.uber.org/zap"
)

// DefaultTickInterval is how often the engine evaluates when the config does
// not say otherwise.
const DefaultTickInterval = time.Minute

// Engine runs matcher evaluations on a periodic tick and hands matches to
// the notification dispatcher. Evaluations are single-flight: a tick that
// arrives while one is still running is skipped, never interleaved.
type Engine struct {
	store      *store.Store
	matcher    *Matcher
	dispatcher notify.Dispatcher
	interval   time.Duration
	log        *zap.Logger

	busy sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates an engine around the matcher and dispatcher.
func NewEngine(s *store.Store, m *Matcher, d notify.Dispatcher, interval time.Duration, log *zap.Logger) *Engine {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:      s,
		matcher:    m,
		dispatcher: d,
		interval:   interval,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins the evaluation loop.
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.loop()
	e.log.Info("reminder engine started", zap.Duration("interval", e.interval))
}

// Stop cancels the loop and waits for an in-flight evaluation to finish.
func (e *Engine) Stop() {
	e.cancel()
	e.wg.Wait()
	e.log.Info("reminder engine stopped")
}

func (e *Engine) loop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.RunOnce(e.ctx, time.Now())
		}
	}
}

// RunOnce performs a single evaluation pass: match, dispatch, then mark the
// dispatched tasks completed. Overlapping calls are skipped and report zero
// dispatched reminders.
func (e *Engine) RunOnce(ctx context.Context, now time.Time) int {
	if !e.busy.TryLock() {
		e.log.Debug("evaluation already in progress, skipping tick")
		return 0
	}
	defer e.busy.Unlock()

	due, err := e.matcher.Evaluate(ctx, now)
	if err != nil {
		e.log.Error("reminder evaluation failed", zap.Error(err))
		return 0
	}
	if len(due) == 0 {
		return 0
	}

	if err := e.dispatcher.Dispatch(ctx, due); err != nil {
		// Tasks stay pending so a later window can retry them.
		e.log.Error("reminder dispatch failed", zap.Error(err))
		return 0
	}

	for _, r := range due {
		task := r.PendingTask
		task.Status = models.TaskStatusCompleted
		if err := e.store.UpdateTask(ctx, &task); err != nil {
			e.log.Error("failed to complete task after dispatch",
				zap.String("task_id", task.ID),
				zap.Error(err))
		}
	}

	e.log.Info("reminders dispatched", zap.Int("count", len(due)))
	return len(due)
}
