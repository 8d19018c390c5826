package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/apsjohn/pianovision-fingerings/internal/engine"
	apperrors "github.com/apsjohn/pianovision-fingerings/internal/errors"
	"github.com/apsjohn/pianovision-fingerings/internal/worker"
)

type errorResponse struct {
	ID    string           `json:"id,omitempty"`
	Error worker.ErrorBody `json:"error"`
}

type resultResponse struct {
	ID       string          `json:"id"`
	Status   JobStatus       `json:"status"`
	Stage    string          `json:"stage,omitempty"`
	Mode     worker.Mode     `json:"mode,omitempty"`
	HandSize string          `json:"hand_size,omitempty"`
	Cached   bool            `json:"cached,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	MIDI     string          `json:"midi,omitempty"`
}

// handleHealth returns server health and engine state
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.engine.State()
	status := http.StatusOK
	if state == engine.StateFailed {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]any{
		"status":            statusWord(status),
		"engine":            state.String(),
		"default_hand_size": s.worker.DefaultHandSize(),
		"stats":             s.worker.Stats(),
	})
}

// handleSubmit accepts a MIDI file as a multipart "midi" field or a raw body
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	maxBytes := int64(s.config.MaxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	mode, err := worker.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		s.writeError(w, "", apperrors.NewEngineError(apperrors.KindInvalidRequest, "mode", err.Error(), err))
		return
	}

	data, filename, err := readUpload(r, maxBytes)
	if err != nil {
		s.writeError(w, "", apperrors.NewEngineError(apperrors.KindInvalidRequest, "upload", err.Error(), err))
		return
	}

	handSize := r.FormValue("hand_size")
	job := s.jobs.Create(filename, mode, handSize)
	if err := s.jobs.Submit(job, data); err != nil {
		s.writeError(w, job.ID, err)
		return
	}

	s.logger.Info("job submitted", "id", job.ID, "mode", mode, "bytes", len(data), "hand_size", handSize)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"id": job.ID})
}

func readUpload(r *http.Request, maxBytes int64) ([]byte, string, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			return nil, "", fmt.Errorf("parse form: %w", err)
		}
		file, header, err := r.FormFile("midi")
		if err != nil {
			return nil, "", fmt.Errorf("missing midi field: %w", err)
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return nil, "", fmt.Errorf("read upload: %w", err)
		}
		return data, header.Filename, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	return data, "input.mid", nil
}

// handleStatus streams job progress via SSE
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job := s.jobs.Get(chi.URLParam(r, "id"))
	if job == nil {
		s.writeNotFound(w)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	// Set headers for SSE
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(w, "event: progress\ndata: %s\n\n", job.Snapshot().Stage)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case update, ok := <-job.Updates:
			if ok {
				fmt.Fprintf(w, "event: progress\ndata: %s\n\n", update)
				flusher.Flush()
			}

			snap := job.Snapshot()
			if !ok || snap.Status == StatusComplete || snap.Status == StatusFailed {
				fmt.Fprintf(w, "event: done\ndata: %s\n\n", snap.Status)
				flusher.Flush()
				return
			}
		}
	}
}

// handleResult returns the job outcome as JSON
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	job := s.jobs.Get(chi.URLParam(r, "id"))
	if job == nil {
		s.writeNotFound(w)
		return
	}

	snap := job.Snapshot()
	switch snap.Status {
	case StatusFailed:
		s.writeError(w, snap.ID, snap.Response.Err)
		return
	case StatusComplete:
	default:
		s.writeJSON(w, http.StatusAccepted, resultResponse{ID: snap.ID, Status: snap.Status, Stage: snap.Stage})
		return
	}

	resp := snap.Response
	out := resultResponse{
		ID:       snap.ID,
		Status:   snap.Status,
		Mode:     resp.Mode,
		HandSize: string(resp.HandSize),
		Cached:   resp.Cached,
	}
	if resp.Mode == worker.ModeMIDI {
		out.MIDI = resp.Payload
	} else {
		out.Result = json.RawMessage(resp.Payload)
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleDownloadMIDI serves the annotated MIDI file of a re-synthesis job
func (s *Server) handleDownloadMIDI(w http.ResponseWriter, r *http.Request) {
	job := s.jobs.Get(chi.URLParam(r, "id"))
	if job == nil {
		s.writeNotFound(w)
		return
	}

	snap := job.Snapshot()
	if snap.Status != StatusComplete || snap.Response.Mode != worker.ModeMIDI {
		http.Error(w, "MIDI file not available", http.StatusNotFound)
		return
	}

	name := strings.TrimSuffix(filepath.Base(snap.Filename), filepath.Ext(snap.Filename))
	w.Header().Set("Content-Type", "audio/midi")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s.fingered.mid\"", name))
	w.Write(snap.Response.MIDI)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, id string, err error) {
	s.writeJSON(w, statusFor(err), errorResponse{ID: id, Error: worker.NewErrorBody(err)})
}

func (s *Server) writeNotFound(w http.ResponseWriter) {
	s.writeJSON(w, http.StatusNotFound, errorResponse{Error: worker.ErrorBody{Kind: apperrors.KindInvalidRequest, Message: "job not found"}})
}

// statusFor maps an error kind to an HTTP status
func statusFor(err error) int {
	if errors.Is(err, worker.ErrStopped) {
		return http.StatusServiceUnavailable
	}
	switch apperrors.KindOf(err) {
	case apperrors.KindInvalidRequest:
		return http.StatusBadRequest
	case apperrors.KindParse, apperrors.KindComputation:
		return http.StatusUnprocessableEntity
	case apperrors.KindBootstrap, apperrors.KindCanceled:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func statusWord(code int) string {
	if code == http.StatusOK {
		return "ok"
	}
	return "degraded"
}
