package store

import (
	"context"

	"github.com/me/weaver/pkg/model"
)

// Store defines the persistence layer for Weaver processes and jobs.
//
// Lookups of unknown records return errors wrapping
// model.ErrProcessNotFound or model.ErrJobNotFound. Status, progress and
// log updates of a job are atomic with respect to concurrent readers.
type Store interface {
	// Process CRUD
	CreateProcess(ctx context.Context, p *model.Process) error
	GetProcess(ctx context.Context, id string) (*model.Process, error)
	ListProcesses(ctx context.Context, opts model.ListOptions) ([]*model.Process, int, error)
	DeleteProcess(ctx context.Context, id string) error
	SetProcessVisibility(ctx context.Context, id string, visibility model.Visibility) error

	// Job operations
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, opts model.ListOptions) ([]*model.Job, int, error)
	// UpdateJob writes the job's inputs, results and remote references.
	// Status and progress only change through UpdateStatus.
	UpdateJob(ctx context.Context, job *model.Job) error
	// UpdateStatus validates the status transition and never lowers the
	// stored progress.
	UpdateStatus(ctx context.Context, id string, status model.Status, progress int, message string) error
	AppendLog(ctx context.Context, id string, line string) error
	// ClaimJob moves the oldest accepted asynchronous top-level job to
	// running and returns it, or returns nil when there is none.
	ClaimJob(ctx context.Context) (*model.Job, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
