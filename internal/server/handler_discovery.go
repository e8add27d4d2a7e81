package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "Weaver",
		Version:     Version,
		Description: "Workflow execution management service for OGC API Processes with CWL application packages",
		Endpoints: []endpointInfo{
			{"/processes", []string{"GET", "POST"}, "List public processes, deploy an application package"},
			{"/processes/{id}", []string{"GET", "DELETE"}, "Describe or undeploy a process"},
			{"/processes/{id}/package", []string{"GET"}, "CWL application package of a process"},
			{"/processes/{id}/visibility", []string{"PUT"}, "Make a process public or private"},
			{"/processes/{id}/execution", []string{"POST"}, "Submit a job (mode sync or async)"},
			{"/processes/{id}/jobs", []string{"GET"}, "Jobs of a process"},
			{"/jobs", []string{"GET"}, "List jobs. ?parent= lists the steps of a workflow job"},
			{"/jobs/{id}", []string{"GET", "DELETE"}, "Job status, DELETE dismisses the job"},
			{"/jobs/{id}/results", []string{"GET"}, "Results of a succeeded job"},
			{"/jobs/{id}/logs", []string{"GET"}, "Job log lines"},
			{"/health", []string{"GET"}, "Server health and version"},
		},
	})
}
