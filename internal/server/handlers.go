package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/normanking/speechsync/internal/speech"
	"github.com/normanking/speechsync/internal/tts"
)

type speakRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

type speakResponse struct {
	Generation uint64 `json:"generation"`
	Voice      string `json:"voice"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var status speech.Status
	if err := s.opts.Runner.Do(r.Context(), func() { status = s.opts.Driver.Status() }); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req speakRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var (
		voice    tts.Voice
		hasVoice bool
	)
	if req.Voice != "" {
		v, err := s.opts.Catalog.Lookup(req.Voice)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		voice, hasVoice = v, true
	}

	var (
		gen      uint64
		used     tts.Voice
		speakErr error
	)
	err := s.opts.Runner.Do(r.Context(), func() {
		if hasVoice {
			gen, speakErr = s.opts.Driver.SpeakWith(req.Text, voice)
			used = voice
		} else {
			gen, speakErr = s.opts.Driver.Speak(req.Text)
			used = s.opts.Driver.Status().Voice
		}
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	switch {
	case errors.Is(speakErr, speech.ErrEmptyText):
		writeError(w, http.StatusBadRequest, speakErr)
	case errors.Is(speakErr, speech.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, speakErr)
	case speakErr != nil:
		writeError(w, http.StatusInternalServerError, speakErr)
	default:
		writeJSON(w, http.StatusAccepted, speakResponse{Generation: gen, Voice: used.Name})
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var status speech.Status
	err := s.opts.Runner.Do(r.Context(), func() {
		s.opts.Driver.Stop()
		status = s.opts.Driver.Status()
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleVoices lists the server's voices, falling back to the static catalog
// when the TTS server is unreachable or ?source=catalog is given.
func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	if s.opts.Voices != nil && r.URL.Query().Get("source") != "catalog" {
		voices, err := s.opts.Voices.ListVoices(r.Context())
		if err == nil {
			writeJSON(w, http.StatusOK, map[string]any{"source": "server", "voices": voices})
			return
		}
		s.logger.Warn().Err(err).Msg("Voice listing failed, using catalog")
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": "catalog", "voices": s.opts.Catalog.List()})
}

func (s *Server) handleWeights(w http.ResponseWriter, r *http.Request) {
	if s.opts.Weights == nil {
		writeJSON(w, http.StatusOK, map[string]float32{})
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Weights.Snapshot())
}

type deltasResponse struct {
	Scale    float32      `json:"scale"`
	Vertices int          `json:"vertices"`
	Deltas   []mgl32.Vec3 `json:"deltas"`
}

// handleDeltas returns the per-vertex position offsets produced by the
// current weights. Rigs without geometry report zero vertices.
func (s *Server) handleDeltas(w http.ResponseWriter, r *http.Request) {
	resp := deltasResponse{Scale: s.opts.DeltaScale, Deltas: []mgl32.Vec3{}}
	if s.opts.Deltas != nil {
		if d := s.opts.Deltas.Deltas(s.opts.DeltaScale); d != nil {
			resp.Deltas = d
		}
	}
	resp.Vertices = len(resp.Deltas)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.opts.Logs == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, s.opts.Logs.History(limit))
}
