package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/riskcore/internal/events"
	"github.com/aristath/riskcore/internal/tools"
)

// handleHealth is the plain liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleListTools returns the registered tool names.
func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"tools": s.tools.Names(),
	})
}

// handleToolDispatch runs one tool. The tool name comes from the URL; the
// body carries user, format, and arguments. The envelope always comes back
// with HTTP 200 except for undecodable bodies; failures are expressed inside
// the envelope so clients have one shape to parse.
func (s *Server) handleToolDispatch(w http.ResponseWriter, r *http.Request) {
	var req tools.Request
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"success": false,
				"error":   map[string]string{"code": "VALIDATION", "message": "invalid JSON body"},
			})
			return
		}
	}
	req.Tool = chi.URLParam(r, "tool")

	s.publishToolEvent(events.AnalysisStarted, &req, nil)
	result := s.tools.Dispatch(r.Context(), &req)
	if result.Success {
		s.publishToolEvent(events.AnalysisCompleted, &req, result)
	} else {
		s.publishToolEvent(events.AnalysisFailed, &req, result)
	}

	s.writeJSON(w, http.StatusOK, result)
}

// publishToolEvent mirrors tool activity onto the event stream.
func (s *Server) publishToolEvent(evt events.EventType, req *tools.Request, result *tools.Result) {
	if s.hub == nil {
		return
	}
	data := map[string]interface{}{"tool": req.Tool}
	if result != nil && result.Error != nil {
		data["code"] = result.Error.Code
	}
	s.hub.Publish(events.Event{Type: evt, UserID: req.UserID, Data: data})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}
