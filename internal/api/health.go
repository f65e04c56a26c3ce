package api

import (
	"net/http"
)

type healthResponse struct {
	Status string `json:"status"`
	Broken string `json:"broken,omitempty"`
}

// handleHealthz reports "ok" while the worker pool is usable and "degraded"
// with the break cause once it is not.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.pool != nil {
		if err := s.pool.Broken(); err != nil {
			resp.Status = "degraded"
			resp.Broken = err.Error()
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}
