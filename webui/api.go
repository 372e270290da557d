package webui

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"fastsd/core"
	"fastsd/gallery"
	"fastsd/logging"
	"fastsd/session"
	"fastsd/settings"
	"fastsd/webui/static"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
	maxBodyBytes        = 64 << 10
	minThumbnail        = 16
	maxThumbnail        = 2048
)

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.Handle("GET /static/", http.StripPrefix("/static", http.FileServerFS(static.FS())))

	mux.HandleFunc("GET /api/about", s.handleAbout)
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", s.handlePutSettings)
	mux.HandleFunc("POST /api/settings/reset", s.handleResetSettings)
	mux.HandleFunc("POST /api/generate", s.handleGenerate)
	mux.HandleFunc("GET /api/generations/{id}", s.handleGetGeneration)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/status", s.handleStatus)

	mux.HandleFunc("GET /images/{name}", s.handleImage)
	mux.HandleFunc("GET /ws", s.broadcaster.HandleConnection)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics)
	}
}

type errorBody struct {
	ErrorKind    string `json:"error_kind"`
	ErrorMessage string `json:"error_message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorBody{ErrorKind: kind, ErrorMessage: message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data, err := static.ReadFile("index.html")
	if err != nil {
		http.Error(w, "index not found", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

func (s *Server) handleAbout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":       core.AppName,
		"version":    core.Version,
		"build_time": core.BuildTime,
		"git_commit": core.GitCommit,
		"about":      core.AboutLines(),
	})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Settings.Get())
}

// handlePutSettings merges a partial settings document into the current
// settings. Fields absent from the body keep their value.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var decodeErr error
	updated, err := s.deps.Settings.Update(func(a *settings.AppSettings) {
		next := *a
		if decodeErr = json.Unmarshal(body, &next); decodeErr == nil {
			*a = next
		}
	})
	if decodeErr != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", decodeErr.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, session.KindInvalidSettings.String(), err.Error())
		return
	}

	s.broadcaster.Broadcast(NewWSMessage(MessageTypeSettingsChanged, updated))
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleResetSettings(w http.ResponseWriter, r *http.Request) {
	reset := s.deps.Settings.Reset()
	s.logger.Info("Settings reset to defaults")
	s.broadcaster.Broadcast(NewWSMessage(MessageTypeSettingsChanged, reset))
	writeJSON(w, http.StatusOK, reset)
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

// handleGenerate snapshots the settings and hands them to the dispatcher.
// Requests the dispatcher resolves at once (invalid, busy, closed) are
// answered synchronously; the rest return 202 and finish in the background.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
	}
	prompt := strings.TrimSpace(req.Prompt)

	ticket := s.deps.Dispatcher.Trigger(s.deps.Settings.Snapshot(prompt))

	select {
	case <-ticket.Done():
		if res := ticket.Result(); isRejection(res.Err) {
			view := resultView(ticket, res, nil, nil)
			s.recent.Push(view)
			s.broadcaster.Broadcast(NewWSMessage(MessageTypeGenerationResult, view))
			writeJSON(w, rejectionStatus(res.Err), view)
			return
		}
	default:
	}

	if prompt != "" {
		s.deps.Settings.Update(func(a *settings.AppSettings) {
			a.LCMDiffusionSetting.Prompt = prompt
		})
	}

	view := pendingView(ticket)
	s.recent.Push(view)
	s.broadcaster.Broadcast(NewWSMessage(MessageTypeGenerationStarted, view))

	s.waiters.Add(1)
	go func() {
		defer s.waiters.Done()
		<-ticket.Done()
		s.finish(ticket, ticket.Result())
	}()

	writeJSON(w, http.StatusAccepted, view)
}

func isRejection(err *session.Error) bool {
	return err != nil && err.Kind.Rejected()
}

func rejectionStatus(err *session.Error) int {
	if err == nil {
		return http.StatusOK
	}
	switch err.Kind {
	case session.KindInvalidSettings:
		return http.StatusBadRequest
	case session.KindBusy:
		return http.StatusConflict
	case session.KindClosed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// finish is the hand-off from the dispatcher worker: it saves the images,
// replaces the pending entry and pushes the result to browsers.
func (s *Server) finish(t *session.Ticket, res session.Result) {
	var images []gallery.SavedImage
	var err error
	if res.OK() || !res.Err.Kind.Rejected() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StoreTimeout)
		images, err = s.deps.Archive.Store(ctx, res)
		cancel()
		if err != nil {
			s.logger.Error("Saving generated images failed", zap.String("request_id", t.ID), zap.Error(err))
		}
	}

	view := resultView(t, res, images, err)
	if !s.recent.Replace(func(v GenerationView) bool { return v.RequestID == t.ID }, view) {
		s.recent.Push(view)
	}
	s.broadcaster.Broadcast(NewWSMessage(MessageTypeGenerationResult, view))
	s.logger.Debug("Result delivered",
		append(logging.GenerationFields(res.Settings, res), zap.Int("images_saved", len(images)))...)
}

func (s *Server) handleGetGeneration(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	view, ok := s.recent.Find(func(v GenerationView) bool { return v.RequestID == id })
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown request "+id)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	if s.deps.History == nil {
		writeJSON(w, http.StatusOK, map[string]any{"records": []any{}})
		return
	}
	records, err := s.deps.History.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("Reading history failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "history_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

type pipelineView struct {
	Loaded        bool   `json:"loaded"`
	ActiveModelID string `json:"active_model_id,omitempty"`
	ActiveBackend string `json:"active_backend,omitempty"`
	LastWidth     int    `json:"last_width,omitempty"`
	LastHeight    int    `json:"last_height,omitempty"`
	LastModelID   string `json:"last_model_id,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.deps.Pipeline.State()
	pv := pipelineView{
		Loaded:        st.Loaded,
		ActiveModelID: st.ActiveModelID,
		LastWidth:     st.LastWidth,
		LastHeight:    st.LastHeight,
		LastModelID:   st.LastModelID,
	}
	if st.Loaded {
		pv.ActiveBackend = st.ActiveBackend.String()
	}

	body := map[string]any{
		"busy":     s.deps.Dispatcher.Busy(),
		"policy":   s.deps.Dispatcher.Policy().String(),
		"pipeline": pv,
		"clients":  s.broadcaster.ClientCount(),
	}
	if id, ok := s.deps.Dispatcher.Running(); ok {
		body["running_request_id"] = id
	}
	if s.deps.Summary != nil {
		body["summary"] = s.deps.Summary.Snapshot()
		body["recent"] = s.deps.Summary.Recent(10)
	}
	if s.deps.History != nil {
		if stats, err := s.deps.History.Stats(r.Context()); err == nil {
			body["history"] = stats
		} else {
			s.logger.Warn("Reading history stats failed", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// handleImage serves a saved image by file name, optionally scaled with
// ?thumb=N. Images saved by earlier runs are looked up in the results path.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name != filepath.Base(name) || !strings.EqualFold(filepath.Ext(name), ".png") {
		http.NotFound(w, r)
		return
	}

	path, ok := s.deps.Archive.Lookup(name)
	if !ok {
		path = filepath.Join(s.deps.Settings.Get().ResultsPath, name)
	}

	raw := r.URL.Query().Get("thumb")
	if raw == "" {
		if _, err := os.Stat(path); err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=86400")
		http.ServeFile(w, r, path)
		return
	}

	side, err := strconv.Atoi(raw)
	if err != nil || side < minThumbnail || side > maxThumbnail {
		http.Error(w, "thumb must be between 16 and 2048", http.StatusBadRequest)
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "reading image failed", http.StatusInternalServerError)
		return
	}
	thumb, err := gallery.Thumbnail(data, side)
	if err != nil {
		s.logger.Warn("Thumbnail failed", zap.String("image", name), zap.Error(err))
		http.Error(w, "thumbnail failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Write(thumb)
}
