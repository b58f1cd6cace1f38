package webui

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"botpilot/pkg/botcontrol"
	"botpilot/pkg/eventlog"
	"botpilot/pkg/persistence"
	"botpilot/pkg/preflight"
)

const maxEventRecords = 500

// CommandResponse is the result of launch, stop and reset.
type CommandResponse struct {
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	Success   bool   `json:"success"`
}

// GateResponse is the precondition gate verdict.
type GateResponse struct {
	Results *preflight.Results `json:"results"`
	Report  string             `json:"report"`
}

// handleStatus implements GET /api/bot/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

// handleLaunch implements POST /api/bot/launch. The launch sequence outlives
// the request; only a stop cancels it.
func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	err := s.ctrl.Launch(context.WithoutCancel(r.Context()))
	s.writeCommandResult(w, "launch", err)
}

// handleStop implements POST /api/bot/stop.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	err := s.ctrl.Stop(context.WithoutCancel(r.Context()))
	s.writeCommandResult(w, "stop", err)
}

// handleReset implements POST /api/bot/reset.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeCommandResult(w, "reset", s.ctrl.Reset())
}

func (s *Server) writeCommandResult(w http.ResponseWriter, command string, err error) {
	if err == nil {
		s.writeJSON(w, http.StatusOK, CommandResponse{Success: true})
		return
	}

	resp := CommandResponse{Error: err.Error()}
	status := http.StatusInternalServerError
	var launchErr *botcontrol.LaunchError

	switch {
	case errors.Is(err, botcontrol.ErrRuntimeUnavailable):
		status = http.StatusServiceUnavailable
		resp.Error = botcontrol.MsgRuntimeUnavailable
		resp.ErrorCode = botcontrol.CodeRuntimeUnavailable
	case errors.Is(err, botcontrol.ErrPreconditions):
		status = http.StatusPreconditionFailed
	case errors.Is(err, botcontrol.ErrLaunchInProgress),
		errors.Is(err, botcontrol.ErrNotLaunchable),
		errors.Is(err, botcontrol.ErrNotStoppable),
		errors.Is(err, botcontrol.ErrResetNotAllowed),
		errors.Is(err, botcontrol.ErrLaunchCancelled):
		status = http.StatusConflict
	case errors.As(err, &launchErr):
		status = http.StatusBadGateway
	case errors.Is(err, botcontrol.ErrClosed):
		status = http.StatusServiceUnavailable
	}

	s.logger.Info("Bot %s rejected: %v", command, err)
	s.writeJSON(w, status, resp)
}

// handleConditions implements GET /api/bot/conditions and POST, which reloads
// them from the account backend.
func (s *Server) handleConditions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.ctrl.Snapshot().Conditions)
	case http.MethodPost:
		// Gate inputs come from the account backend only; the body is ignored.
		if s.opts.RefreshConditions == nil {
			http.Error(w, "Condition refresh is not configured", http.StatusServiceUnavailable)
			return
		}
		if err := s.opts.RefreshConditions(r.Context()); err != nil {
			s.logger.Warn("Condition refresh failed: %v", err)
			http.Error(w, "Failed to refresh launch conditions", http.StatusBadGateway)
			return
		}
		s.writeJSON(w, http.StatusOK, s.ctrl.Snapshot().Conditions)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleGate implements GET /api/bot/gate.
func (s *Server) handleGate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	results := preflight.Run(s.ctrl.Snapshot().Conditions)
	s.writeJSON(w, http.StatusOK, GateResponse{Results: results, Report: preflight.FormatResults(results)})
}

// handleHistory implements GET /api/bot/history?limit=N.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.opts.History == nil {
		http.Error(w, "Session history is not configured", http.StatusNotFound)
		return
	}

	limit := s.opts.HistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = n
	}

	sessions, err := s.opts.History.ListSessions(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list sessions: %v", err)
		http.Error(w, "Failed to load session history", http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []persistence.SessionRecord{}
	}
	s.writeJSON(w, http.StatusOK, sessions)
}

// handleSession implements GET /api/bot/history/{session_id}.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.opts.History == nil {
		http.Error(w, "Session history is not configured", http.StatusNotFound)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/bot/history/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "Session ID required", http.StatusBadRequest)
		return
	}

	rec, err := s.opts.History.GetSession(r.Context(), id)
	if errors.Is(err, persistence.ErrSessionNotFound) {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("Failed to load session %s: %v", id, err)
		http.Error(w, "Failed to load session", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

// handleEvents implements GET /api/bot/events?session=ID, returning the newest
// records of the most recent event log file.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.opts.EventLogDir == "" {
		http.Error(w, "Event log is not configured", http.StatusNotFound)
		return
	}

	files, err := eventlog.ListLogFiles(s.opts.EventLogDir)
	if err != nil {
		http.Error(w, "Failed to list event logs", http.StatusInternalServerError)
		return
	}
	records := []eventlog.Record{}
	if len(files) > 0 {
		all, err := eventlog.ReadRecords(files[len(files)-1])
		if err != nil {
			s.logger.Error("Failed to read event log: %v", err)
			http.Error(w, "Failed to read event log", http.StatusInternalServerError)
			return
		}
		session := r.URL.Query().Get("session")
		for i := range all {
			if session == "" || all[i].SessionID == session {
				records = append(records, all[i])
			}
		}
	}
	if len(records) > maxEventRecords {
		records = records[len(records)-maxEventRecords:]
	}
	s.writeJSON(w, http.StatusOK, records)
}
