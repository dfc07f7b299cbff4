package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/JakeFAU/rankcrawl/internal/crawl"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 500
	maxBodyBytes    = 1 << 20
	sseKeepAlive    = 15 * time.Second
)

type startRequest struct {
	Resume bool `json:"resume"`
}

func (s *Server) getSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	runID, err := s.ctrl.StartRun(req.Resume)
	if err != nil {
		s.fail(w, "start run", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Server) togglePause(w http.ResponseWriter, _ *http.Request) {
	state, err := s.ctrl.TogglePause()
	if err != nil {
		s.fail(w, "toggle pause", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(state)})
}

func (s *Server) abortRun(w http.ResponseWriter, _ *http.Request) {
	if err := s.ctrl.Abort(); err != nil {
		s.fail(w, "abort", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"state": string(crawl.StateStopping)})
}

func (s *Server) emergencyStop(w http.ResponseWriter, _ *http.Request) {
	if err := s.ctrl.EmergencyStop(); err != nil {
		s.fail(w, "emergency stop", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(crawl.StateIdle)})
}

func (s *Server) recentLogs(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLogLimit)
	}
	entries := s.ctrl.Logs().Recent(limit)
	if entries == nil {
		entries = []crawl.LogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": entries})
}

// streamLogs pushes new log lines as server-sent events until the client
// disconnects.
func (s *Server) streamLogs(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	lines, cancel := s.ctrl.Logs().Subscribe(0)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case entry, open := <-lines:
			if !open {
				return
			}
			payload, err := json.Marshal(entry)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: log\ndata: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.ctrl.Settings(r.Context())
	if err != nil {
		s.fail(w, "load settings", err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	current, err := s.ctrl.Settings(r.Context())
	if err != nil {
		s.fail(w, "load settings", err)
		return
	}
	// Fields absent from the body keep their current values.
	if err := decodeJSON(r, &current); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	saved, err := s.ctrl.SaveSettings(r.Context(), current)
	if err != nil {
		s.fail(w, "save settings", err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) getSelection(w http.ResponseWriter, r *http.Request) {
	sel, err := s.ctrl.Selection(r.Context())
	if err != nil {
		s.fail(w, "load selection", err)
		return
	}
	writeJSON(w, http.StatusOK, sel)
}

func (s *Server) putSelection(w http.ResponseWriter, r *http.Request) {
	var sel crawl.Selection
	if err := decodeJSON(r, &sel); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.ctrl.SaveSelection(r.Context(), sel); err != nil {
		s.fail(w, "save selection", err)
		return
	}
	writeJSON(w, http.StatusOK, sel)
}

func (s *Server) getCheckpoint(w http.ResponseWriter, r *http.Request) {
	cp, err := s.ctrl.Checkpoint(r.Context())
	if err != nil {
		s.fail(w, "load checkpoint", err)
		return
	}
	if cp == nil {
		writeError(w, http.StatusNotFound, "no checkpoint")
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

func (s *Server) deleteCheckpoint(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.ClearCheckpoint(r.Context()); err != nil {
		s.fail(w, "clear checkpoint", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.ctrl.History(r.Context())
	if err != nil {
		s.fail(w, "load history", err)
		return
	}
	if entries == nil {
		entries = []crawl.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(r *http.Request, dst any) error {
	err := decodeJSON(r, dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
