package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/raaihank/docguard/internal/config"
	"github.com/raaihank/docguard/internal/logger"
	"github.com/raaihank/docguard/internal/pipeline"
	"github.com/raaihank/docguard/internal/privacy"
	"github.com/raaihank/docguard/internal/storage"
	"github.com/raaihank/docguard/internal/websocket"
	"go.uber.org/zap"
)

// Pipeline is the view of the document pipeline the server exposes
type Pipeline interface {
	Submit(ctx context.Context, folder, name string, data []byte) (pipeline.Submission, error)
	Files(ctx context.Context) ([]pipeline.ProcessedFile, error)
	Compare(ctx context.Context, name string) (pipeline.Comparison, error)
	Inventory(ctx context.Context) ([]pipeline.KnowledgeBaseSummary, error)
}

// multipart bodies above this size spill to temporary files
const uploadMemory = 8 << 20

// Server is the HTTP surface of the pipeline: document intake, processed
// file listing, demo comparison, health, runtime info and the event stream.
type Server struct {
	config   config.ServerConfig
	version  string
	logger   *logger.Logger
	pipeline Pipeline
	source   *privacy.Source
	wsHub    *websocket.Hub
	limiter  *RateLimiter
	router   *mux.Router
	server   *http.Server
	done     chan struct{}
}

// New creates a diagnostic server. source and hub may be nil.
func New(cfg config.ServerConfig, version string, p Pipeline, source *privacy.Source, hub *websocket.Hub, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = config.GetDefaults().Server.MaxUploadBytes
	}
	s := &Server{
		config:   cfg,
		version:  version,
		logger:   log.WithComponent("server"),
		pipeline: p,
		source:   source,
		wsHub:    hub,
		limiter:  NewRateLimiter(cfg.RateLimit),
		router:   mux.NewRouter(),
		done:     make(chan struct{}),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	// endpoints that touch document data are rate limited per client
	s.router.Handle("/upload", s.limited(s.handleUpload)).Methods("POST")
	s.router.Handle("/files", s.limited(s.handleFiles)).Methods("GET")
	s.router.Handle("/knowledge-bases", s.limited(s.handleKnowledgeBases)).Methods("GET")
	s.router.Handle("/demo/compare/", s.limited(s.handleCompare)).Methods("GET")
	s.router.Handle("/demo/compare/{name:.+}", s.limited(s.handleCompare)).Methods("GET")

	if s.wsHub != nil {
		s.router.HandleFunc("/ws", s.wsHub.HandleWebSocket).Methods("GET")
	}
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Stop is called
func (s *Server) Start() error {
	s.logger.Info("Starting diagnostic server", zap.Int("port", s.config.Port))
	go s.cleanupLoop()

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping diagnostic server")
	close(s.done)
	return s.server.Shutdown(ctx)
}

func (s *Server) cleanupLoop() {
	ticker := time.NewTicker(30 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.limiter.CleanupOldBuckets()
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("healthy"))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := s.config.MaxUploadBytes
	if r.ContentLength > limit {
		writeError(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(uploadMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Could not read file")
		return
	}

	sub, err := s.pipeline.Submit(r.Context(), r.FormValue("folder"), header.Filename, data)
	switch {
	case errors.Is(err, pipeline.ErrInvalidUpload):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, pipeline.ErrExists):
		writeError(w, http.StatusConflict, "A document with this name is already pending")
		return
	case err != nil:
		s.logger.Error("Upload failed", zap.String("file", header.Filename), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to upload file")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success":    true,
		"message":    "File uploaded successfully",
		"submission": sub,
	})
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.pipeline.Files(r.Context())
	if err != nil {
		s.logger.Error("Listing processed files failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch files")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"files": files,
		"total": len(files),
	})
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if name == "" {
		writeError(w, http.StatusBadRequest, "Filename required")
		return
	}

	comparison, err := s.pipeline.Compare(r.Context(), name)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "Comparison data not available")
		return
	case err != nil:
		s.logger.Error("Comparison lookup failed", zap.String("name", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Comparison lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, comparison)
}

// infoResponse is the /info payload
type infoResponse struct {
	Name             string              `json:"name"`
	Version          string              `json:"version"`
	Classes          []privacy.Class     `json:"classes"`
	SecretStoreReady bool                `json:"secret_store_available"`
	WebSocket        *websocket.HubStats `json:"websocket,omitempty"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := infoResponse{Name: "docguard", Version: s.version}
	if s.source != nil {
		info.Classes = s.source.Catalog().Classes()
		info.SecretStoreReady = s.source.IsAvailable(r.Context())
	}
	if s.wsHub != nil {
		stats := s.wsHub.Stats()
		info.WebSocket = &stats
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleKnowledgeBases(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.pipeline.Inventory(r.Context())
	if err != nil {
		s.logger.Error("Inventory failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Could not list knowledge bases")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"knowledge_bases": summaries,
		"total":           len(summaries),
		"generated_at":    time.Now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
