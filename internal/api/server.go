// Package api serves the simulation REST API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/san-kum/cellsim/internal/dynamo"
	"github.com/san-kum/cellsim/internal/jobs"
	"github.com/san-kum/cellsim/internal/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 100
	version          = "1.0.0"
)

// Launcher starts and stops jobs. *jobs.Supervisor implements it.
type Launcher interface {
	Start(spec jobs.Spec) (bool, error)
	Cancel(id string) bool
	IsRunning(id string) bool
	Wait(ctx context.Context, id string) error
	Running() []string
}

type CreateSimulationRequest struct {
	TotalTime float64            `json:"total_time_seconds" validate:"required,gte=1,lte=36000"`
	Timestep  float64            `json:"timestep" validate:"required,gte=0.1,lte=60"`
	Network   string             `json:"network,omitempty" validate:"omitempty,max=128,network"`
	Params    map[string]float64 `json:"params,omitempty" validate:"omitempty,dive,gte=0"`
}

// SimulationResponse is a job record with its derived progress.
type SimulationResponse struct {
	jobs.Record
	ProgressPercent float64 `json:"progress_percent"`
	Running         bool    `json:"running"`
}

// networkName is what a client may send as a network: a registered name,
// never a path.
var networkName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

func validNetwork(fl validator.FieldLevel) bool {
	return networkName.MatchString(fl.Field().String())
}

type Server struct {
	router    *mux.Router
	store     storage.Store
	jobs      Launcher
	validator *validator.Validate
	networks  func(name string) bool
	log       *zap.Logger
	server    *http.Server
}

type Option func(*Server)

// WithNetworks restricts requests to the networks known reports true for.
// An unknown name is answered with 422 and no job is created.
func WithNetworks(known func(name string) bool) Option {
	return func(s *Server) { s.networks = known }
}

func NewServer(store storage.Store, launcher Launcher, log *zap.Logger, opts ...Option) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	v := validator.New()
	v.RegisterValidation("network", validNetwork)

	s := &Server{
		router:    mux.NewRouter(),
		store:     store,
		jobs:      launcher,
		validator: v,
		log:       log,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	s.setupMiddleware()

	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/simulations", s.createSimulation).Methods(http.MethodPost)
	api.HandleFunc("/simulations", s.listSimulations).Methods(http.MethodGet)
	api.HandleFunc("/simulations/{id}", s.getSimulation).Methods(http.MethodGet)
	api.HandleFunc("/simulations/{id}", s.deleteSimulation).Methods(http.MethodDelete)
	api.HandleFunc("/simulations/{id}/results", s.getResults).Methods(http.MethodGet)
	api.HandleFunc("/simulations/{id}/latest", s.getLatest).Methods(http.MethodGet)
	api.HandleFunc("/simulations/{id}/cancel", s.cancelSimulation).Methods(http.MethodPost)

	s.router.HandleFunc("/health", s.healthCheck).Methods(http.MethodGet)
	// preflight; corsMiddleware answers it
	s.router.Methods(http.MethodOptions).HandlerFunc(func(http.ResponseWriter, *http.Request) {})

	s.router.NotFoundHandler = http.HandlerFunc(s.notFoundHandler)
}

func (s *Server) setupMiddleware() {
	s.router.Use(s.corsMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		if r.URL.Path == "/health" {
			return
		}
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("remote", r.RemoteAddr))
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.log.Error("panic recovered", zap.Any("panic", err), zap.String("path", r.URL.Path))
				s.respondWithError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func (s *Server) createSimulation(w http.ResponseWriter, r *http.Request) {
	var req CreateSimulationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.validator.Struct(req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.networks != nil && !s.networks(req.Network) {
		s.respondWithError(w, http.StatusUnprocessableEntity, "unknown network "+strconv.Quote(req.Network))
		return
	}

	spec := jobs.Spec{
		ID:        uuid.NewString(),
		TotalTime: req.TotalTime,
		Dt:        req.Timestep,
		Network:   req.Network,
		Params:    req.Params,
	}

	ctx := r.Context()
	if err := s.store.CreateJob(ctx, jobs.NewRecord(spec)); err != nil {
		s.log.Error("failed to create simulation", zap.String("simulation_id", spec.ID), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Failed to create simulation")
		return
	}

	if _, err := s.jobs.Start(spec); err != nil {
		if errors.Is(err, dynamo.ErrModel) {
			s.respondWithError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.log.Error("failed to start simulation", zap.String("simulation_id", spec.ID), zap.Error(err))
		s.respondWithError(w, http.StatusServiceUnavailable, "Failed to start simulation")
		return
	}

	rec, err := s.store.GetJob(ctx, spec.ID)
	if err != nil {
		s.respondWithError(w, http.StatusInternalServerError, "Failed to fetch simulation")
		return
	}
	s.respondWithJSON(w, http.StatusCreated, s.response(rec))
}

func (s *Server) listSimulations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultListLimit
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= maxListLimit {
		limit = l
	}
	offset := 0
	if o, err := strconv.Atoi(q.Get("offset")); err == nil && o > 0 {
		offset = o
	}

	recs, err := s.store.ListJobs(r.Context(), limit, offset)
	if err != nil {
		s.log.Error("failed to list simulations", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Failed to fetch simulations")
		return
	}

	out := make([]SimulationResponse, len(recs))
	for i, rec := range recs {
		out[i] = s.response(rec)
	}
	s.respondWithJSON(w, http.StatusOK, map[string]any{
		"simulations": out,
		"count":       len(out),
		"limit":       limit,
		"offset":      offset,
	})
}

func (s *Server) getSimulation(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.respondWithJSON(w, http.StatusOK, s.response(rec))
}

func (s *Server) getResults(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	var after *float64
	if v := q.Get("after_time"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			s.respondWithError(w, http.StatusBadRequest, "Invalid after_time")
			return
		}
		after = &f
	}
	limit := storage.DefaultReadLimit
	if v := q.Get("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil || l <= 0 {
			s.respondWithError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = min(l, storage.DefaultReadLimit)
	}

	results, err := s.store.ReadAfter(r.Context(), rec.ID, after, limit)
	if err != nil {
		s.log.Error("failed to read results", zap.String("simulation_id", rec.ID), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Failed to fetch results")
		return
	}
	s.respondWithJSON(w, http.StatusOK, map[string]any{
		"simulation_id": rec.ID,
		"results":       results,
		"count":         len(results),
	})
}

func (s *Server) getLatest(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	ts, err := s.store.ReadLatest(r.Context(), rec.ID)
	if err != nil {
		s.respondWithError(w, http.StatusInternalServerError, "Failed to fetch results")
		return
	}
	if ts == nil {
		s.respondWithError(w, http.StatusNotFound, "No results yet")
		return
	}
	s.respondWithJSON(w, http.StatusOK, ts)
}

func (s *Server) cancelSimulation(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if !s.jobs.Cancel(rec.ID) {
		s.respondWithError(w, http.StatusConflict, "Simulation is not running")
		return
	}
	s.respondWithJSON(w, http.StatusOK, map[string]string{"message": "Simulation cancellation requested"})
}

func (s *Server) deleteSimulation(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if s.jobs.Cancel(rec.ID) {
		if err := s.jobs.Wait(ctx, rec.ID); err != nil {
			s.respondWithError(w, http.StatusServiceUnavailable, "Simulation did not stop in time")
			return
		}
	}
	if err := s.store.DeleteJob(ctx, rec.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.log.Error("failed to delete simulation", zap.String("simulation_id", rec.ID), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Failed to delete simulation")
		return
	}
	s.respondWithJSON(w, http.StatusOK, map[string]string{"message": "Simulation deleted"})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   "cellsim",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   version,
		"running":   len(s.jobs.Running()),
	})
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	s.respondWithError(w, http.StatusNotFound, "Endpoint not found")
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (jobs.Record, bool) {
	id := mux.Vars(r)["id"]
	rec, err := s.store.GetJob(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondWithError(w, http.StatusNotFound, "Simulation not found")
		return rec, false
	}
	if err != nil {
		s.log.Error("failed to fetch simulation", zap.String("simulation_id", id), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Failed to fetch simulation")
		return rec, false
	}
	return rec, true
}

func (s *Server) response(rec jobs.Record) SimulationResponse {
	return SimulationResponse{
		Record:          rec,
		ProgressPercent: rec.Progress(),
		Running:         s.jobs.IsRunning(rec.ID),
	}
}

func (s *Server) respondWithJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondWithError(w http.ResponseWriter, status int, message string) {
	s.respondWithJSON(w, status, map[string]string{"error": message})
}

func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info("starting REST API server", zap.String("addr", addr))
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.log.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}
