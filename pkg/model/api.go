package model

import "time"

// Response is the standard API response envelope.
type Response struct {
	Status     string      `json:"status"`
	RequestID  string      `json:"request_id"`
	Timestamp  time.Time   `json:"timestamp"`
	Data       any         `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Error      *APIError   `json:"error"`
}

// Pagination holds pagination metadata for list endpoints.
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// ListOptions configures list queries with pagination and filtering.
type ListOptions struct {
	Limit      int
	Offset     int
	Status     string // Optional job status filter
	ProcessID  string // Optional process filter
	ParentID   string // Optional parent job filter
	RootOnly   bool   // Only jobs without a parent
	Visibility string // Optional process visibility filter
}

// DefaultListOptions returns sensible defaults.
func DefaultListOptions() ListOptions {
	return ListOptions{Limit: 20, Offset: 0}
}

// Clamp enforces limits (max 100, min 1).
func (o *ListOptions) Clamp() {
	if o.Limit <= 0 {
		o.Limit = 20
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// SubmitRequest is the body of POST /processes/{id}/execution.
type SubmitRequest struct {
	Inputs  map[string]any `json:"inputs"`
	Outputs map[string]any `json:"outputs,omitempty"`
	Mode    ExecutionMode  `json:"mode,omitempty"`
}

// StatusInfo is the externally visible status of a job.
type StatusInfo struct {
	JobID     string `json:"jobID"`
	ProcessID string `json:"processID"`
	Status    Status `json:"status"`
	Message   string `json:"message,omitempty"`
	Progress  int    `json:"progress"`
}
