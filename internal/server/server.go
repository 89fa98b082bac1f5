// Package server exposes the HTTP API over the library, the orchestrator,
// and the splat job tracker.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"photosplat/internal/app"
	"photosplat/internal/library"
	"photosplat/internal/notify"
	"photosplat/internal/ratelimit"
	"photosplat/internal/splat"
	"photosplat/internal/util"
	"photosplat/pkg/domain"
	"photosplat/pkg/storage"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Library        *library.Library
	Tracker        *splat.Tracker
	Notifier       *notify.Notifier
	UploadLimiter  *ratelimit.FixedWindowLimiter
	MaxUploadBytes int64
}

// Server exposes HTTP endpoints for the photosplat service.
type Server struct {
	app            *app.App
	library        *library.Library
	tracker        *splat.Tracker
	notifier       *notify.Notifier
	uploadLimiter  *ratelimit.FixedWindowLimiter
	mux            *http.ServeMux
	maxUploadBytes int64
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil || cfg.Library == nil || cfg.Tracker == nil || cfg.Notifier == nil {
		return nil, fmt.Errorf("server requires app, library, tracker, and notifier")
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 100 * 1024 * 1024
	}
	s := &Server{
		app:            cfg.App,
		library:        cfg.Library,
		tracker:        cfg.Tracker,
		notifier:       cfg.Notifier,
		uploadLimiter:  cfg.UploadLimiter,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// photos
	s.mux.HandleFunc("/api/photos", s.handlePhotos)
	s.mux.HandleFunc("/api/photos/", s.handlePhotoByID)

	// albums
	s.mux.HandleFunc("/api/albums", s.handleAlbums)
	s.mux.HandleFunc("/api/albums/", s.handleAlbumByID)

	// splat jobs
	s.mux.HandleFunc("/api/jobs", s.handleJobs)
	s.mux.HandleFunc("/api/jobs/reap", s.handleReapJobs)

	// change feed
	s.mux.HandleFunc("/api/events", s.handleEvents)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePhotos(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleUploadPhotos(w, r)
	case http.MethodGet:
		s.handleListPhotos(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUploadPhotos(w http.ResponseWriter, r *http.Request) {
	if s.uploadLimiter != nil && !s.uploadLimiter.Allow(util.ClientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "too many uploads, slow down")
		return
	}
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	parts := r.MultipartForm.File["files"]
	if len(parts) == 0 {
		writeError(w, http.StatusBadRequest, "at least one file is required (field: files)")
		return
	}

	files := make([]library.SourceFile, 0, len(parts))
	for _, header := range parts {
		f, err := header.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid form data")
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid form data")
			return
		}
		files = append(files, library.SourceFile{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		})
	}

	accepted, err := s.app.UploadPhotos(r.Context(), files, r.FormValue("albumId"))
	if err != nil {
		if errors.Is(err, library.ErrAlbumNotFound) {
			writeError(w, http.StatusNotFound, "album not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"items": accepted,
		"count": len(accepted),
	})
}

func (s *Server) handleListPhotos(w http.ResponseWriter, r *http.Request) {
	photos, err := s.library.GetAll(r.Context(), r.URL.Query().Get("albumId"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": photos,
		"count": len(photos),
	})
}

// /api/photos/{id}, /api/photos/{id}/content, or /api/photos/{id}/splat
func (s *Server) handlePhotoByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/photos/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "content":
			s.handlePhotoContent(w, r, id)
		case "splat":
			s.handlePhotoSplat(w, r, id)
		default:
			notFound(w, "not found")
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		photo, ok, err := s.library.GetPhoto(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !ok {
			notFound(w, "photo not found")
			return
		}
		writeJSON(w, http.StatusOK, photo)
	case http.MethodDelete:
		if err := s.library.DeletePhoto(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

// handlePhotoContent serves the original image, redirecting to a
// pre-signed URL when the object store can mint one.
func (s *Server) handlePhotoContent(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	photo, ok, err := s.library.GetPhoto(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		notFound(w, "photo not found")
		return
	}

	url, err := s.library.ContentURL(r.Context(), id)
	if err == nil {
		http.Redirect(w, r, url, http.StatusFound)
		return
	}
	if !errors.Is(err, storage.ErrPresignUnsupported) {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	data, err := s.library.ReadContent(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", photo.ContentType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	_, _ = w.Write(data)
}

// GET reads the generated asset; POST requests generation for a photo
// that does not have one yet.
func (s *Server) handlePhotoSplat(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		s.handleRequestSplat(w, r, id)
		return
	default:
		methodNotAllowed(w)
		return
	}
	photo, ok, err := s.library.GetPhoto(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		notFound(w, "photo not found")
		return
	}
	if photo.SplatURL == "" {
		writeError(w, http.StatusConflict, "splat not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"photoId":  photo.ID,
		"status":   string(photo.SplatStatus),
		"assetUrl": photo.SplatURL,
	})
}

func (s *Server) handleRequestSplat(w http.ResponseWriter, r *http.Request, id string) {
	photo, ok, err := s.library.GetPhoto(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		notFound(w, "photo not found")
		return
	}
	switch photo.SplatStatus {
	case domain.SplatNone, domain.SplatPending:
	default:
		writeError(w, http.StatusConflict, "generation already "+string(photo.SplatStatus))
		return
	}
	go func() {
		if err := s.app.Generate(id); err != nil {
			slog.Error("splat generation failed", "photo_id", id, "err", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{
		"photoId": id,
		"status":  string(domain.SplatPending),
	})
}

func (s *Server) handleAlbums(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		album, err := s.library.CreateAlbum(r.Context(), req.Name)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, album)
	case http.MethodGet:
		albums, err := s.library.Albums(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items":   albums,
			"count":   len(albums),
			"current": s.library.CurrentAlbum().ID,
		})
	default:
		methodNotAllowed(w)
	}
}

// /api/albums/{id}/select
func (s *Server) handleAlbumByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/albums/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" || len(parts) != 2 || parts[1] != "select" {
		notFound(w, "not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.library.SwitchAlbum(r.Context(), id); err != nil {
		if errors.Is(err, library.ErrAlbumNotFound) {
			notFound(w, "album not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "selected", "albumId": id})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	jobs := s.app.Jobs()
	writeJSON(w, http.StatusOK, map[string]any{
		"items": jobs,
		"count": len(jobs),
	})
}

// handleReapJobs drops tracker entries older than the given age. Stale
// entries accumulate only through timed-out jobs, which are kept around
// until someone asks for them to go.
func (s *Server) handleReapJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		MaxAgeSeconds int `json:"maxAgeSeconds"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.MaxAgeSeconds <= 0 {
		writeError(w, http.StatusBadRequest, "maxAgeSeconds must be positive")
		return
	}
	removed := s.tracker.Reap(time.Duration(req.MaxAgeSeconds) * time.Second)
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// handleEvents streams library change events as server-sent events until
// the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	events, cancel := s.notifier.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(30 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case ev, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
			flusher.Flush()
		}
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}
