package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/me/weaver/internal/store"
	"github.com/me/weaver/pkg/model"
)

// Config holds scheduler configuration.
type Config struct {
	PollInterval time.Duration
	Workers      int // concurrent executions, <= 0 for unlimited
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{PollInterval: 2 * time.Second, Workers: 4}
}

// Loop implements the Scheduler interface with a polling-based scheduling loop.
type Loop struct {
	store  store.Store
	exec   Executor
	config Config
	sem    *Semaphore
	logger *slog.Logger
	stopCh chan struct{}
	doneCh chan struct{}

	mu       sync.Mutex
	running  map[string]struct{} // job ids executing in this process
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewLoop creates a new scheduler loop.
func NewLoop(st store.Store, exec Executor, cfg Config, logger *slog.Logger) *Loop {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	return &Loop{
		store:   st,
		exec:    exec,
		config:  cfg,
		sem:     NewSemaphore(cfg.Workers),
		logger:  logger.With("component", "scheduler"),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		running: make(map[string]struct{}),
	}
}

// Start begins the scheduling loop. Blocks until ctx is cancelled or Stop is called.
// Executions started by the loop run with ctx and are waited for before
// Start returns.
func (l *Loop) Start(ctx context.Context) error {
	l.logger.Info("scheduler started", "poll_interval", l.config.PollInterval, "workers", l.config.Workers)
	ticker := time.NewTicker(l.config.PollInterval)
	defer ticker.Stop()
	defer close(l.doneCh)

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("scheduler stopping (context cancelled)")
			l.wg.Wait()
			return ctx.Err()
		case <-l.stopCh:
			l.logger.Info("scheduler stopping (stop called)", "running", l.Running())
			l.wg.Wait()
			return nil
		case <-ticker.C:
			if err := l.Tick(ctx); err != nil {
				l.logger.Error("tick error", "error", err)
			}
		}
	}
}

// Stop gracefully shuts down the scheduler and waits for running
// executions to finish.
func (l *Loop) Stop() error {
	l.stopOnce.Do(func() { close(l.stopCh) })
	<-l.doneCh
	return nil
}

// Tick runs a single scheduling iteration.
func (l *Loop) Tick(ctx context.Context) error {
	// Phase 1: Interrupt executions whose job was dismissed, possibly by
	// another instance sharing the database.
	if err := l.sweepDismissed(ctx); err != nil {
		return fmt.Errorf("phase 1 (dismissed): %w", err)
	}

	// Phase 2: Claim accepted jobs while workers are free.
	if err := l.dispatchAccepted(ctx); err != nil {
		return fmt.Errorf("phase 2 (dispatch): %w", err)
	}
	return nil
}

func (l *Loop) sweepDismissed(ctx context.Context) error {
	for _, id := range l.runningIDs() {
		job, err := l.store.GetJob(ctx, id)
		if err != nil {
			if model.IsNotFound(err) {
				l.exec.Cancel(id)
				continue
			}
			return err
		}
		if job.Status == model.StatusDismissed && l.exec.Cancel(id) {
			l.logger.Info("execution interrupted (job dismissed)", "job_id", id)
		}
	}
	return nil
}

func (l *Loop) dispatchAccepted(ctx context.Context) error {
	for l.sem.TryAcquire() {
		job, err := l.store.ClaimJob(ctx)
		if err != nil {
			l.sem.Release()
			return err
		}
		if job == nil {
			l.sem.Release()
			return nil
		}
		l.start(ctx, job)
	}
	return nil
}

// start runs a claimed job in its own goroutine. The worker slot is
// released when the execution returns.
func (l *Loop) start(ctx context.Context, job *model.Job) {
	l.mu.Lock()
	l.running[job.ID] = struct{}{}
	l.mu.Unlock()
	l.wg.Add(1)
	l.logger.Info("job claimed", "job_id", job.ID, "process", job.ProcessID)

	go func() {
		defer l.wg.Done()
		defer l.sem.Release()
		defer func() {
			l.mu.Lock()
			delete(l.running, job.ID)
			l.mu.Unlock()
		}()
		if err := l.exec.Execute(ctx, job.ID); err != nil {
			l.logger.Error("execute job", "job_id", job.ID, "error", err)
		}
	}()
}

// Running returns the number of executions in progress.
func (l *Loop) Running() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.running)
}

func (l *Loop) runningIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.running))
	for id := range l.running {
		ids = append(ids, id)
	}
	return ids
}

// Wait blocks until every execution started so far has returned.
func (l *Loop) Wait() {
	l.wg.Wait()
}
