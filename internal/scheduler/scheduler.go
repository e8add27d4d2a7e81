// Package scheduler runs accepted asynchronous jobs in the background with
// bounded concurrency.
package scheduler

import "context"

// Scheduler claims accepted jobs and hands them to an Executor.
type Scheduler interface {
	// Start begins the scheduling loop. Blocks until ctx is cancelled.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the scheduler.
	Stop() error

	// Tick runs a single scheduling iteration. Used for testing.
	Tick(ctx context.Context) error
}

// Executor runs one job to completion. The orchestrator implements it.
type Executor interface {
	Execute(ctx context.Context, jobID string) error
	// Cancel interrupts a running execution and reports whether there was one.
	Cancel(jobID string) bool
}
