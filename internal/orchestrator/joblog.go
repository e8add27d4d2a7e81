package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/me/weaver/internal/logging"
	"github.com/me/weaver/internal/store"
	"github.com/me/weaver/pkg/model"
)

// Progress checkpoints of a job or step.
const (
	ProgressSetup         = 1
	ProgressDescribe      = 2
	ProgressGatherInputs  = 4
	ProgressGatherOutputs = 6
	ProgressSubmit        = 8
	ProgressMonitorStart  = 10
	ProgressMonitorEnd    = 95
	ProgressFetchResults  = 95
	ProgressNotify        = 98
	ProgressDone          = 100
)

// errNotRunning stops an execution whose job left the running state,
// usually because it was dismissed.
var errNotRunning = errors.New("job is no longer running")

// jobLog writes the user-facing log stream of one job. Every line goes
// through the job's redactor before it is stored, and the progress it
// reports never goes down.
type jobLog struct {
	store    store.Store
	jobID    string
	redactor *logging.Redactor
	logger   *slog.Logger

	mu       sync.Mutex
	progress int
	status   model.Status
}

func newJobLog(st store.Store, job *model.Job, redactor *logging.Redactor, logger *slog.Logger) *jobLog {
	return &jobLog{
		store:    st,
		jobID:    job.ID,
		redactor: redactor,
		logger:   logger,
		progress: job.Progress,
		status:   job.Status,
	}
}

// formatLine renders "<RFC3339> <LEVEL> <progress>% <status> <message>".
func formatLine(at time.Time, level slog.Level, progress int, status model.Status, msg string) string {
	return fmt.Sprintf("%s %s %d%% %s %s", at.UTC().Format(time.RFC3339), level, progress, status, msg)
}

func (l *jobLog) write(ctx context.Context, level slog.Level, msg string) {
	l.mu.Lock()
	line := formatLine(time.Now(), level, l.progress, l.status, l.redactor.Redact(msg))
	l.mu.Unlock()
	// Log lines are flushed even when the execution is being cancelled.
	if err := l.store.AppendLog(context.WithoutCancel(ctx), l.jobID, line); err != nil {
		l.logger.Error("append job log", "job_id", l.jobID, "error", err)
	}
}

func (l *jobLog) info(ctx context.Context, msg string)  { l.write(ctx, slog.LevelInfo, msg) }
func (l *jobLog) warn(ctx context.Context, msg string)  { l.write(ctx, slog.LevelWarn, msg) }
func (l *jobLog) debug(ctx context.Context, msg string) { l.write(ctx, slog.LevelDebug, msg) }

// report moves the job to progress (or keeps the current value when it is
// higher) and logs msg. It fails with errNotRunning when the job was
// dismissed in the meantime.
func (l *jobLog) report(ctx context.Context, progress int, msg string) error {
	l.mu.Lock()
	if progress > l.progress {
		l.progress = progress
	}
	current := l.progress
	l.mu.Unlock()

	err := l.store.UpdateStatus(context.WithoutCancel(ctx), l.jobID, model.StatusRunning, current, l.redactor.Redact(msg))
	var transition *model.InvalidTransitionError
	if errors.As(err, &transition) {
		return fmt.Errorf("%w: %s", errNotRunning, transition.From)
	}
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.status = model.StatusRunning
	l.mu.Unlock()
	l.info(ctx, msg)
	return nil
}

// progressFunc adapts report for callbacks that cannot fail. A dismissal
// is then noticed through the cancelled context instead.
func (l *jobLog) progressFunc(ctx context.Context) func(int, string) {
	return func(progress int, msg string) {
		if err := l.report(ctx, progress, msg); err != nil {
			l.logger.Debug("progress not recorded", "job_id", l.jobID, "error", err)
		}
	}
}

// finish moves the job to a terminal status. The final line is written
// first so that it is part of the log once the status is observable.
func (l *jobLog) finish(ctx context.Context, status model.Status, msg string) error {
	msg = l.redactor.Redact(msg)
	l.mu.Lock()
	progress := l.progress
	if status == model.StatusSucceeded {
		progress = ProgressDone
		l.progress = progress
	}
	l.status = status
	l.mu.Unlock()

	level := slog.LevelInfo
	if status == model.StatusFailed {
		level = slog.LevelError
	}
	l.write(ctx, level, msg)
	return l.store.UpdateStatus(context.WithoutCancel(ctx), l.jobID, status, progress, msg)
}

func (l *jobLog) currentProgress() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.progress
}
