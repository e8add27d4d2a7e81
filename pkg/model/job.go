package model

import "time"

// Job is one execution of a Process. Nested workflow steps are Jobs too,
// linked to the job that spawned them through ParentID.
type Job struct {
	ID             string         `json:"id"`
	ProcessID      string         `json:"process_id"`
	ParentID       string         `json:"parent_id,omitempty"`
	Status         Status         `json:"status"`
	StatusMessage  string         `json:"message,omitempty"`
	Progress       int            `json:"progress"`
	Logs           []string       `json:"logs,omitempty"`
	Inputs         map[string]any `json:"inputs,omitempty"`
	Outputs        map[string]any `json:"outputs,omitempty"` // requested outputs
	Results        map[string]any `json:"results,omitempty"`
	ExecutionMode  ExecutionMode  `json:"mode"`
	Service        string         `json:"service,omitempty"` // remote provider URL
	RemoteLocation string         `json:"remote_location,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
}

// Info returns the externally visible status of the job.
func (j *Job) Info() StatusInfo {
	return StatusInfo{
		JobID:     j.ID,
		ProcessID: j.ProcessID,
		Status:    j.Status,
		Message:   j.StatusMessage,
		Progress:  j.Progress,
	}
}
