// Package blobapi exposes a gateway over HTTP as a flat blob API: list, put,
// batched delete and public object reads.
package blobapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/fruitsalade/blobtext/internal/gateway"
	"github.com/fruitsalade/blobtext/internal/logging"
	"github.com/fruitsalade/blobtext/internal/metrics"
	"github.com/fruitsalade/blobtext/pkg/models"
	"github.com/fruitsalade/blobtext/pkg/pathname"
	"github.com/fruitsalade/blobtext/pkg/protocol"
)

// ObjectPrefix is the route prefix of public object reads.
const ObjectPrefix = "/o/"

// Config holds blob API settings.
type Config struct {
	// ObjectBaseURL is the URL prefix under which the gateway stores
	// objects, normally PUBLIC_BASE_URL + ObjectPrefix.
	ObjectBaseURL string

	// MaxContentSize limits PUT bodies; zero means unlimited.
	MaxContentSize int64

	// Protect, when set, wraps the /api/blob routes. Object reads stay
	// public.
	Protect func(http.Handler) http.Handler
}

// Server serves the blob API.
type Server struct {
	gw            gateway.Gateway
	objectBaseURL string
	maxSize       int64
	protect       func(http.Handler) http.Handler
}

// New creates a blob API server over gw.
func New(gw gateway.Gateway, cfg Config) *Server {
	protect := cfg.Protect
	if protect == nil {
		protect = func(h http.Handler) http.Handler { return h }
	}
	base := cfg.ObjectBaseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return &Server{
		gw:            gw,
		objectBaseURL: base,
		maxSize:       cfg.MaxContentSize,
		protect:       protect,
	}
}

// Register adds the blob API routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.Handle("GET /api/blob/list", s.protect(http.HandlerFunc(s.handleList)))
	mux.Handle("PUT /api/blob/object/{pathname...}", s.protect(http.HandlerFunc(s.handlePut)))
	mux.Handle("POST /api/blob/delete", s.protect(http.HandlerFunc(s.handleDelete)))
	mux.HandleFunc("GET "+ObjectPrefix+"{key...}", s.handleObject)
}

// Handler returns the blob API with logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		sendJSON(w, http.StatusOK, map[string]string{"status": "ok", "gateway": s.gw.Type()})
	})
	s.Register(mux)
	return logging.Middleware(metrics.Middleware(mux))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	objects, err := s.gw.List(r.Context())
	if err != nil {
		s.sendGatewayError(w, r, err)
		return
	}
	if objects == nil {
		objects = []models.RawObject{}
	}
	sendJSON(w, http.StatusOK, protocol.ListResponse{Blobs: objects})
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	p := r.PathValue("pathname")
	if p == "" || pathname.TrimDir(p) == "" {
		sendError(w, http.StatusBadRequest, "pathname is required")
		return
	}

	if pathname.IsDir(p) {
		res, err := s.gw.CreateDirectoryMarker(r.Context(), p)
		if err != nil {
			s.sendGatewayError(w, r, err)
			return
		}
		sendJSON(w, http.StatusOK, res)
		return
	}

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

	opts := models.PutOptions{AddRandomSuffix: suffixRequested(r.Header.Get(protocol.HeaderAddRandomSuffix))}
	res, err := s.gw.Put(r.Context(), p, string(data), opts)
	if err != nil {
		s.sendGatewayError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, res)
}

func suffixRequested(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req protocol.DeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.URLs) > 0 {
		if err := s.gw.Delete(r.Context(), req.URLs); err != nil {
			s.sendGatewayError(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleObject(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		sendError(w, http.StatusNotFound, "object not found")
		return
	}
	content, err := s.gw.GetContent(r.Context(), s.objectBaseURL+key)
	if err != nil {
		s.sendGatewayError(w, r, err)
		return
	}

	contentType := models.ContentTypeText
	if pathname.IsDir(key) {
		contentType = models.ContentTypeDirectory
	}
	w.Header().Set("Content-Type", contentType)
	if r.URL.Query().Get("download") == "1" {
		name := pathname.Base(pathname.Decode(key))
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	}
	io.WriteString(w, content)
}

func (s *Server) sendGatewayError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		sendError(w, http.StatusNotFound, "object not found")
	case gateway.IsTimeout(err):
		sendError(w, http.StatusGatewayTimeout, err.Error())
	default:
		logging.WithContext(r.Context()).Error("blob API gateway error",
			zap.String("path", r.URL.Path), zap.Error(err))
		sendError(w, http.StatusInternalServerError, err.Error())
	}
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
