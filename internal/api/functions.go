package api

import (
	"net/http"

	"github.com/seantiz/enclave/internal/task"
)

// functionsResponse is the JSON response for GET /v1/functions.
type functionsResponse struct {
	Functions []string `json:"functions"`
}

// modesResponse is the JSON response for GET /v1/modes.
type modesResponse struct {
	Modes []string `json:"modes"`
}

func (s *Server) handleListFunctions(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, functionsResponse{Functions: task.Names()})
}

func (s *Server) handleListModes(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, modesResponse{Modes: s.modes.Modes()})
}
