// Package api provides the explorer HTTP API.
package api

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fruitsalade/blobtext/internal/auth"
	"github.com/fruitsalade/blobtext/internal/events"
	"github.com/fruitsalade/blobtext/internal/explorer"
	"github.com/fruitsalade/blobtext/internal/gateway"
	"github.com/fruitsalade/blobtext/internal/logging"
	"github.com/fruitsalade/blobtext/internal/metrics"
	"github.com/fruitsalade/blobtext/pkg/models"
	"github.com/fruitsalade/blobtext/pkg/pathname"
	"github.com/fruitsalade/blobtext/pkg/protocol"
	"github.com/fruitsalade/blobtext/pkg/tree"
)

// Pool gzip writers for the tree endpoint.
var gzipPool = sync.Pool{
	New: func() any { return gzip.NewWriter(nil) },
}

// Config holds explorer API settings.
type Config struct {
	// Auth protects every route except /health when set.
	Auth *auth.Auth

	// MaxContentSize limits file bodies; zero means unlimited.
	MaxContentSize int64

	// Backend is reported by the health check.
	Backend string
}

// Server is the explorer HTTP server.
type Server struct {
	explorer    *explorer.Explorer
	broadcaster *events.Broadcaster
	auth        *auth.Auth
	maxSize     int64
	backend     string
}

// NewServer creates a new server. broadcaster may be nil, in which case the
// events route reports 503.
func NewServer(ex *explorer.Explorer, broadcaster *events.Broadcaster, cfg Config) *Server {
	return &Server{
		explorer:    ex,
		broadcaster: broadcaster,
		auth:        cfg.Auth,
		maxSize:     cfg.MaxContentSize,
		backend:     cfg.Backend,
	}
}

// Protect wraps h with JWT auth when configured.
func (s *Server) Protect(h http.Handler) http.Handler {
	if s.auth == nil {
		return h
	}
	return s.auth.Middleware(h)
}

// Register adds the explorer routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	route := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.Protect(h))
	}
	route("GET /api/v1/files", s.handleFiles)
	route("GET /api/v1/tree", s.handleTree)
	route("GET /api/v1/state", s.handleState)
	route("GET /api/v1/events", s.handleEvents)
	route("POST /api/v1/refresh", s.handleRefresh)
	route("POST /api/v1/select", s.handleSelect)
	route("POST /api/v1/validate", s.handleValidate)
	route("POST /api/v1/create", s.handleCreate)
	route("PUT /api/v1/files/{path...}", s.handleSave)
	route("DELETE /api/v1/files/{path...}", s.handleDelete)
	route("DELETE /api/v1/files", s.handleDeleteAll)
}

// Handler returns the routes of s plus any extra registrations, wrapped
// with logging and metrics middleware.
func (s *Server) Handler(extra ...func(*http.ServeMux)) http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	for _, register := range extra {
		register(mux)
	}
	return logging.Middleware(metrics.Middleware(mux))
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok", "gateway": s.backend})
}

// ─── SSE Events ─────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.broadcaster == nil {
		sendError(w, http.StatusServiceUnavailable, "events not enabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.Seq, event.Type, data)
			flusher.Flush()
		}
	}
}

// ─── Collection ─────────────────────────────────────────────────────────────

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, protocol.FilesResponse{Files: s.explorer.Files()})
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	nodes := s.explorer.Tree()
	resp := protocol.TreeResponse{Nodes: nodes, Count: tree.CountNodes(nodes)}

	if acceptsGzip(r) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Encoding", "gzip")
		gw := gzipPool.Get().(*gzip.Writer)
		gw.Reset(w)
		json.NewEncoder(gw).Encode(resp)
		gw.Close()
		gzipPool.Put(gw)
		return
	}
	sendJSON(w, http.StatusOK, resp)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	st := s.explorer.State()
	sendJSON(w, http.StatusOK, protocol.StateResponse{
		Files:            st.Files,
		Selected:         st.Selected,
		Content:          st.Content,
		IsListLoading:    st.ListLoading,
		IsContentLoading: st.ContentLoading,
		Deleting:         st.Deleting,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.explorer.Fetch(r.Context()); err != nil {
		s.sendExplorerError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, protocol.FilesResponse{Files: s.explorer.Files()})
}

// ─── Selection & validation ─────────────────────────────────────────────────

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req protocol.SelectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var target *models.LogicalFile
	if req.Pathname != nil {
		p := *req.Pathname
		file, ok := s.explorer.Lookup(p)
		switch {
		case ok:
			target = &file
		case pathname.IsDir(p) && s.hasDescendants(p):
			target = &models.LogicalFile{Pathname: p, IsDirectory: true}
		default:
			sendError(w, http.StatusNotFound, "path not found: "+p)
			return
		}
	}

	s.explorer.Select(r.Context(), target)
	st := s.explorer.State()
	sendJSON(w, http.StatusOK, protocol.SelectResponse{Selected: st.Selected, Content: st.Content})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req protocol.ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sendJSON(w, http.StatusOK, s.explorer.Validate(req.Pathname, req.IsEditing))
}

// ─── Mutations ──────────────────────────────────────────────────────────────

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	p := r.PathValue("path")
	editing, _ := strconv.ParseBool(r.URL.Query().Get("editing"))

	body := io.Reader(r.Body)
	if s.maxSize > 0 {
		body = http.MaxBytesReader(w, r.Body, s.maxSize)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			sendError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("content exceeds %d bytes", tooLarge.Limit))
			return
		}
		sendError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	file, err := s.explorer.Save(r.Context(), p, string(data), editing)
	if err != nil {
		s.sendExplorerError(w, r, err)
		return
	}
	code := http.StatusCreated
	if editing {
		code = http.StatusOK
	}
	sendJSON(w, code, protocol.FileResponse{File: file})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req protocol.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	file, err := s.explorer.Create(r.Context(), req.Directory, req.Name, req.IsDirectory)
	if err != nil {
		s.sendExplorerError(w, r, err)
		return
	}
	sendJSON(w, http.StatusCreated, protocol.FileResponse{File: file})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	p := r.PathValue("path")
	if p == "" {
		sendError(w, http.StatusBadRequest, "path is required")
		return
	}
	if dir, _ := strconv.ParseBool(r.URL.Query().Get("dir")); dir && !pathname.IsDir(p) {
		p += "/"
	}

	file, ok := s.explorer.Lookup(p)
	if !ok {
		if !pathname.IsDir(p) || !s.hasDescendants(p) {
			s.sendExplorerError(w, r, fmt.Errorf("%w: %s", explorer.ErrNotFound, p))
			return
		}
		file = models.LogicalFile{Pathname: p, IsDirectory: true}
	}

	if err := s.explorer.Delete(r.Context(), file); err != nil {
		s.sendExplorerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	if err := s.explorer.DeleteAll(r.Context()); err != nil {
		s.sendExplorerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// hasDescendants reports whether any entry lies below directory dir.
func (s *Server) hasDescendants(dir string) bool {
	for _, f := range s.explorer.Files() {
		if pathname.HasPrefixDir(f.Pathname, dir) {
			return true
		}
	}
	return false
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (s *Server) sendExplorerError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *explorer.ValidationError
	var gwErr *gateway.Error
	switch {
	case errors.As(err, &ve):
		sendJSON(w, http.StatusUnprocessableEntity, protocol.ValidationErrorResponse{
			Error:      ve.Result.Error,
			Code:       http.StatusUnprocessableEntity,
			Validation: ve.Result,
		})
	case errors.Is(err, explorer.ErrNotFound):
		sendError(w, http.StatusNotFound, err.Error())
	case gateway.IsTimeout(err):
		sendError(w, http.StatusGatewayTimeout, err.Error())
	case errors.As(err, &gwErr):
		logging.WithContext(r.Context()).Warn("gateway request failed",
			zap.String("path", r.URL.Path), zap.Error(err))
		sendError(w, http.StatusBadGateway, err.Error())
	default:
		logging.WithContext(r.Context()).Error("request failed",
			zap.String("path", r.URL.Path), zap.Error(err))
		sendError(w, http.StatusInternalServerError, err.Error())
	}
}

func acceptsGzip(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
}

func sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, code int, message string) {
	sendJSON(w, code, protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}
