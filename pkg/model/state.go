package model

import "strings"

// Status represents the lifecycle state of a Job.
type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusDismissed Status = "dismissed"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true if the job is in a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusDismissed:
		return true
	}
	return false
}

// ValidStatusTransitions defines the allowed state transitions for Jobs.
var ValidStatusTransitions = map[Status][]Status{
	StatusAccepted: {StatusRunning, StatusDismissed, StatusFailed},
	StatusRunning:  {StatusSucceeded, StatusFailed, StatusDismissed},
}

// CanTransitionTo returns true if moving from the current status to next is valid.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range ValidStatusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// MapStatus normalises a status string reported by a remote provider.
// WPS-1 (ProcessSucceeded, ProcessStarted, ...) and OGC API
// (successful, running, ...) vocabularies are both understood.
// Unknown values map to running so that monitoring continues.
func MapStatus(remote string) Status {
	s := strings.ToLower(strings.TrimSpace(remote))
	s = strings.TrimPrefix(s, "process")
	switch s {
	case "accepted", "pending", "paused":
		return StatusAccepted
	case "started", "running", "progress":
		return StatusRunning
	case "succeeded", "successful", "success", "finished", "completed":
		return StatusSucceeded
	case "failed", "failure", "exception", "error":
		return StatusFailed
	case "dismissed", "cancelled", "canceled":
		return StatusDismissed
	}
	return StatusRunning
}

// ExecutionMode selects whether submission waits for completion.
type ExecutionMode string

const (
	ExecutionModeAsync ExecutionMode = "async"
	ExecutionModeSync  ExecutionMode = "sync"
)

// StepKind is the closed set of ways a single workflow step can run.
type StepKind int

const (
	StepBuiltin StepKind = iota
	StepDocker
	StepWPS1Remote
	StepESGFRemote
	StepOGCRemote
	StepWorkflow
)

func (k StepKind) String() string {
	switch k {
	case StepBuiltin:
		return "builtin"
	case StepDocker:
		return "docker"
	case StepWPS1Remote:
		return "wps1-remote"
	case StepESGFRemote:
		return "esgf-remote"
	case StepOGCRemote:
		return "ogcapi-remote"
	case StepWorkflow:
		return "workflow"
	}
	return "unknown"
}
