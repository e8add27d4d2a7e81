package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/me/weaver/pkg/model"
)

func (s *Server) handleListProcesses(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	opts := listOptions(r)
	opts.Visibility = string(model.VisibilityPublic)
	if v := r.URL.Query().Get("visibility"); v != "" {
		opts.Visibility = v
	}

	procs, total, err := s.processes.List(r.Context(), opts)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	summaries := make([]map[string]any, 0, len(procs))
	for _, p := range procs {
		summaries = append(summaries, map[string]any{
			"id":          p.ID,
			"title":       p.Title,
			"description": p.Abstract,
			"type":        p.Type,
			"visibility":  p.Visibility,
			"version":     p.Version,
		})
	}
	respondList(w, reqID, summaries, opts, total)
}

func (s *Server) handleDeployProcess(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var payload map[string]any
	if !decodeBody(w, r, reqID, &payload) {
		return
	}
	p, err := s.processes.Deploy(r.Context(), payload)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	s.logger.Info("process deployed", "id", p.ID, "type", p.Type)
	respondCreated(w, reqID, "/processes/"+p.ID, s.converter.ProcessToOGC(p))
}

func (s *Server) handleDescribeProcess(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	p, err := s.processes.Describe(r.Context(), id)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, s.converter.ProcessToOGC(p))
}

func (s *Server) handleGetPackage(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	pkg, err := s.processes.Package(r.Context(), id)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, pkg)
}

func (s *Server) handleUndeployProcess(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if err := s.processes.Undeploy(r.Context(), id); err != nil {
		respondErr(w, reqID, err)
		return
	}
	s.logger.Info("process undeployed", "id", id)
	respondOK(w, reqID, map[string]any{"id": id, "undeploymentDone": true})
}

func (s *Server) handleSetVisibility(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var req struct {
		Value model.Visibility `json:"value"`
	}
	if !decodeBody(w, r, reqID, &req) {
		return
	}
	if err := s.processes.SetVisibility(r.Context(), id, req.Value); err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, map[string]any{"value": req.Value})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var req model.SubmitRequest
	if !decodeBody(w, r, reqID, &req) {
		return
	}
	// "Prefer: respond-async" and "wait=..." select the mode when the body
	// does not.
	if req.Mode == "" {
		switch prefer := r.Header.Get("Prefer"); {
		case strings.HasPrefix(prefer, "wait"):
			req.Mode = model.ExecutionModeSync
		case strings.Contains(prefer, "respond-async"):
			req.Mode = model.ExecutionModeAsync
		}
	}

	job, err := s.orch.Submit(r.Context(), id, req)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	location := "/jobs/" + job.ID
	if job.ExecutionMode == model.ExecutionModeSync && job.Status == model.StatusSucceeded {
		w.Header().Set("Location", location)
		respondOK(w, reqID, job.Results)
		return
	}
	respondCreated(w, reqID, location, jobStatus(job))
}
