package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/me/weaver/pkg/model"
)

// jobStatusResponse is the OGC status document of a job.
type jobStatusResponse struct {
	model.StatusInfo
	ParentID string     `json:"parentID,omitempty"`
	Created  time.Time  `json:"created"`
	Started  *time.Time `json:"started,omitempty"`
	Finished *time.Time `json:"finished,omitempty"`
	Links    []link     `json:"links"`
}

type link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

func jobStatus(job *model.Job) jobStatusResponse {
	base := "/jobs/" + job.ID
	links := []link{{Href: base, Rel: "status"}, {Href: base + "/logs", Rel: "logs"}}
	if job.Status == model.StatusSucceeded {
		links = append(links, link{Href: base + "/results", Rel: "results"})
	}
	return jobStatusResponse{
		StatusInfo: job.Info(),
		ParentID:   job.ParentID,
		Created:    job.CreatedAt,
		Started:    job.StartedAt,
		Finished:   job.FinishedAt,
		Links:      links,
	}
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	opts := listOptions(r)
	q := r.URL.Query()
	opts.Status = q.Get("status")
	opts.ProcessID = q.Get("process")
	if id := chi.URLParam(r, "id"); id != "" {
		opts.ProcessID = id
	}
	if parent := q.Get("parent"); parent != "" {
		opts.ParentID = parent
	} else {
		opts.RootOnly = q.Get("all") != "true"
	}

	jobs, total, err := s.orch.Jobs(r.Context(), opts)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	out := make([]jobStatusResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, jobStatus(j))
	}
	respondList(w, reqID, out, opts, total)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	job, err := s.orch.Job(r.Context(), id)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, jobStatus(job))
}

func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	results, err := s.orch.Results(r.Context(), id)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, results)
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	job, err := s.orch.Job(r.Context(), id)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	logs := job.Logs
	if logs == nil {
		logs = []string{}
	}
	respondOK(w, reqID, logs)
}

func (s *Server) handleDismissJob(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	job, err := s.orch.Dismiss(r.Context(), id)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	s.logger.Info("job dismissed", "id", id)
	respondOK(w, reqID, jobStatus(job))
}
