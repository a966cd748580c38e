package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/release-notifier/internal/catalog"
	"github.com/JakeFAU/release-notifier/internal/config"
	"github.com/JakeFAU/release-notifier/internal/logging"
	"github.com/JakeFAU/release-notifier/internal/metrics"
	"github.com/JakeFAU/release-notifier/internal/scheduler"
)

// Syncer is the scheduler surface the API drives.
type Syncer interface {
	Status() scheduler.Status
	TriggerFullSync() bool
	TriggerUpdates() bool
}

// Server wires HTTP handlers to the store and scheduler.
type Server struct {
	router chi.Router
	store  catalog.Store
	sync   Syncer
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(store catalog.Store, sync Syncer, auth config.AuthConfig, logger *zap.Logger) *Server {
	s := &Server{
		store:  store,
		sync:   sync,
		logger: logging.OrNop(logger).Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if auth.Enabled {
			r.Use(apiKeyMiddleware(auth.APIKey))
		}
		r.Get("/status", s.status)
		r.Post("/sync/full", s.triggerFullSync)
		r.Post("/sync/updates", s.triggerUpdates)
		r.Post("/subscriptions", s.subscribe)
		r.Get("/items/{item_id}/subscribers", s.listSubscribers)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sync.Status())
}

func (s *Server) triggerFullSync(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusAccepted, map[string]any{"loop": scheduler.LoopFullSync, "queued": s.sync.TriggerFullSync()})
}

func (s *Server) triggerUpdates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusAccepted, map[string]any{"loop": scheduler.LoopUpdates, "queued": s.sync.TriggerUpdates()})
}

type subscribeRequest struct {
	SubscriberID int64  `json:"subscriber_id"`
	ItemID       int64  `json:"item_id"`
	ItemURL      string `json:"item_url"`
}

func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.SubscriberID == 0 || (req.ItemID == 0 && req.ItemURL == "") {
		writeError(w, http.StatusBadRequest, "subscriber_id and item_id or item_url required")
		return
	}
	itemID := req.ItemID
	if itemID == 0 {
		id, err := s.store.FindItemByURL(r.Context(), req.ItemURL)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		itemID = id
	}
	if err := s.store.Subscribe(r.Context(), catalog.SubscriberID(req.SubscriberID), itemID); err != nil {
		s.writeStoreError(w, err)
		return
	}
	title, err := s.store.GetItemTitle(r.Context(), itemID)
	if err != nil {
		s.logger.Debug("subscribed item has no title", zap.Int64("item_id", itemID), zap.Error(err))
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"subscriber_id": req.SubscriberID,
		"item_id":       itemID,
		"title":         title,
	})
}

func (s *Server) listSubscribers(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "item_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	if _, err := s.store.GetItemTitle(r.Context(), itemID); err != nil {
		s.writeStoreError(w, err)
		return
	}
	subs, err := s.store.ListSubscribers(r.Context(), itemID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if subs == nil {
		subs = []catalog.SubscriberID{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"item_id": itemID, "subscribers": subs})
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		writeError(w, http.StatusNotFound, "item not found")
	case errors.Is(err, catalog.ErrConflict):
		writeError(w, http.StatusConflict, "already subscribed")
	default:
		s.logger.Error("store request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", reqID),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
