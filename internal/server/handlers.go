package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/memory"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/scanner"
	"github.com/hyperjump/kioku/internal/storage"
)

type addRequest struct {
	Text     string                  `json:"text"`
	GroupID  string                  `json:"group_id"`
	Metadata map[string]models.Value `json:"metadata,omitempty"`
}

type searchRequest struct {
	Query   string `json:"query"`
	GroupID string `json:"group_id,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

type searchResponse struct {
	Query   string                 `json:"query"`
	Results []*models.SearchResult `json:"results"`
	Total   int                    `json:"total"`
}

func (s *Server) handleAddMemory(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.GroupID == "" {
		s.respondError(w, http.StatusBadRequest, "group_id is required")
		return
	}
	id, err := s.engine.AddText(r.Context(), req.Text, req.GroupID, req.Metadata)
	if err != nil {
		s.respondEngineError(w, "add memory", err)
		return
	}
	s.logger.Debug("memory added", zap.String("id", id), zap.String("group", req.GroupID))
	s.respondJSON(w, http.StatusCreated, map[string]string{"id": id, "status": "stored"})
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	entry, err := s.engine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondEngineError(w, "get memory", err)
		return
	}
	s.respondJSON(w, http.StatusOK, entry)
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete memory request", zap.String("id", id))
	if err := s.engine.Remove(r.Context(), id); err != nil {
		s.respondEngineError(w, "delete memory", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	resetModel := false
	if v := r.URL.Query().Get("reset_model"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "reset_model must be a boolean")
			return
		}
		resetModel = b
	}
	if err := s.engine.Clear(r.Context(), resetModel); err != nil {
		s.respondEngineError(w, "clear", err)
		return
	}
	s.logger.Info("memory cleared", zap.Bool("reset_model", resetModel))
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"status": "cleared", "reset_model": resetModel})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		s.respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.Limit < 0 {
		s.respondError(w, http.StatusBadRequest, "limit must not be negative")
		return
	}
	limit := req.Limit
	if limit == 0 {
		limit = s.config.Search.DefaultLimit
	}
	if maxLimit := s.config.Search.MaxLimit; maxLimit > 0 && limit > maxLimit {
		limit = maxLimit
	}
	s.logger.Debug("search request", zap.String("query", req.Query), zap.String("group", req.GroupID), zap.Int("limit", limit))
	results, err := s.engine.FindSimilar(r.Context(), req.Query, memory.FindOptions{GroupID: req.GroupID, Limit: limit})
	if err != nil {
		s.respondEngineError(w, "search", err)
		return
	}
	s.respondJSON(w, http.StatusOK, searchResponse{Query: req.Query, Results: results, Total: len(results)})
}

func (s *Server) handleListGroup(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")
	entries, err := s.engine.ListGroup(r.Context(), group)
	if err != nil {
		s.respondEngineError(w, "list group", err)
		return
	}
	if entries == nil {
		entries = []*models.Entry{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"group_id": group, "entries": entries, "total": len(entries)})
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")
	n, err := s.engine.DeleteGroup(r.Context(), group)
	if err != nil {
		s.respondEngineError(w, "delete group", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"group_id": group, "deleted": n})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if s.scanner == nil {
		s.respondError(w, http.StatusNotImplemented, "scanner not configured")
		return
	}
	sum, err := s.scanner.Scan(r.Context())
	if err != nil {
		s.respondEngineError(w, "scan", err)
		return
	}
	s.respondJSON(w, http.StatusOK, sum)
}

func (s *Server) handleScanDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.scanner == nil {
		s.respondError(w, http.StatusNotImplemented, "scanner not configured")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.scanner.Directories()})
}

type scanDirectoryRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleScanDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.scanner == nil {
		s.respondError(w, http.StatusNotImplemented, "scanner not configured")
		return
	}
	var req scanDirectoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	s.logger.Debug("scan add directory request", zap.String("path", req.Path), zap.Bool("sync_existing", syncExisting))

	abs, _, err := s.scanner.AddDirectory(r.Context(), req.Path, false)
	if err != nil {
		s.respondDirectoryError(w, "add scan directory", err)
		return
	}
	if s.watch != nil {
		if err := s.watch.AddRoot(abs); err != nil {
			s.logger.Error("watch add directory failed", zap.String("path", abs), zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	var sum scanner.Summary
	if syncExisting {
		sum, err = s.scanner.ScanDirectory(r.Context(), abs)
		if err != nil {
			s.respondEngineError(w, "scan directory", err)
			return
		}
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"path":      abs,
		"status":    "added",
		"summary":   sum,
		"persisted": s.persistScanDirectories(),
	})
}

func (s *Server) handleScanDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.scanner == nil {
		s.respondError(w, http.StatusNotImplemented, "scanner not configured")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body scanDirectoryRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	s.logger.Debug("scan remove directory request", zap.String("path", path))

	abs, n, err := s.scanner.RemoveDirectory(r.Context(), path)
	if err != nil {
		s.respondDirectoryError(w, "remove scan directory", err)
		return
	}
	if s.watch != nil {
		if err := s.watch.RemoveRoot(abs); err != nil {
			s.logger.Warn("watch remove directory failed", zap.String("path", abs), zap.Error(err))
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"path":      abs,
		"status":    "removed",
		"removed":   n,
		"persisted": s.persistScanDirectories(),
	})
}

// persistScanDirectories writes the scanner's current roots to the config
// file. Reports whether the file was written.
func (s *Server) persistScanDirectories() bool {
	if s.configPath == "" {
		return false
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.config.Scanner.Directories = s.scanner.Directories()
	if err := config.Save(s.configPath, s.config); err != nil {
		s.logger.Warn("failed to persist scan directories", zap.String("path", s.configPath), zap.Error(err))
		return false
	}
	return true
}

func (s *Server) respondDirectoryError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, os.ErrNotExist), errors.Is(err, scanner.ErrUnknownDirectory):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, scanner.ErrNotDirectory):
		s.respondError(w, http.StatusBadRequest, err.Error())
	default:
		s.respondEngineError(w, op, err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		s.respondEngineError(w, "status", err)
		return
	}
	resp := map[string]interface{}{
		"memory": stats,
		"config": map[string]interface{}{
			"base_path":     s.engine.BasePath(),
			"provider":      s.config.Embedding.Provider,
			"default_limit": s.config.Search.DefaultLimit,
			"max_limit":     s.config.Search.MaxLimit,
		},
	}
	if s.scanner != nil {
		resp["scanner"] = map[string]interface{}{
			"group_id":    s.scanner.GroupID(),
			"directories": s.scanner.Directories(),
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, memory.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, memory.ErrEmptyText), errors.Is(err, storage.ErrInvalidID):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondEngineError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
