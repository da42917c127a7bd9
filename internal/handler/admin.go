package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/mir00r/headmaster/internal/domain"
	"github.com/mir00r/headmaster/internal/errors"
	"github.com/mir00r/headmaster/internal/middleware"
	"github.com/mir00r/headmaster/pkg/logger"
)

// SessionCounter reports the number of in-flight proxied sessions
type SessionCounter interface {
	ActiveSessions() int64
}

// AdminConfig wires the optional pieces of the admin surface
type AdminConfig struct {
	MetricsPath    string
	MetricsHandler http.Handler
	RateLimiter    *middleware.RateLimiter
	Auth           *middleware.JWTAuthMiddleware
}

// AdminHandler provides the administrative control surface
type AdminHandler struct {
	backends  domain.BackendManager
	sessions  SessionCounter
	config    AdminConfig
	logger    *logger.Logger
	startTime time.Time
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(backends domain.BackendManager, sessions SessionCounter, config AdminConfig, log *logger.Logger) *AdminHandler {
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	return &AdminHandler{
		backends:  backends,
		sessions:  sessions,
		config:    config,
		logger:    log.AdminLogger(),
		startTime: time.Now(),
	}
}

// BackendRequest represents a request to add a backend
type BackendRequest struct {
	Address string `json:"address"`
}

// BackendResponse represents backend state in API responses
type BackendResponse struct {
	Address           string `json:"address"`
	ActiveConnections int32  `json:"active_connections"`
	LastFailure       int64  `json:"last_failure"`
	Unavailable       bool   `json:"unavailable"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status            string    `json:"status"`
	TotalBackends     int       `json:"total_backends"`
	AvailableBackends int       `json:"available_backends"`
	ActiveSessions    int64     `json:"active_sessions"`
	Uptime            string    `json:"uptime"`
	Timestamp         time.Time `json:"timestamp"`
}

// ErrorResponse represents error responses
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
}

// Router builds the admin route table
func (h *AdminHandler) Router() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/health", h.HealthHandler).Methods(http.MethodGet)
	if h.config.MetricsHandler != nil {
		router.Handle(h.config.MetricsPath, h.config.MetricsHandler).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/backends").Subrouter()
	if h.config.Auth != nil {
		api.Use(h.config.Auth.JWTAuth())
	}
	api.HandleFunc("", h.ListBackendsHandler).Methods(http.MethodGet)
	api.HandleFunc("", h.AddBackendHandler).Methods(http.MethodPost)
	api.HandleFunc("/{address}", h.GetBackendHandler).Methods(http.MethodGet)
	api.HandleFunc("/{address}", h.DeleteBackendHandler).Methods(http.MethodDelete)
	api.HandleFunc("/{address}/unavailable", h.MarkUnavailableHandler).Methods(http.MethodPut)
	api.HandleFunc("/{address}/unavailable", h.MarkAvailableHandler).Methods(http.MethodDelete)

	// wrapped outside the router so unmatched paths are logged and limited too
	chain := []func(http.Handler) http.Handler{
		middleware.RecoveryMiddleware(h.logger),
		middleware.LoggingMiddleware(h.logger),
	}
	if h.config.RateLimiter != nil {
		chain = append(chain, h.config.RateLimiter.RateLimitMiddleware())
	}
	return middleware.Chain(router, chain...)
}

// HealthHandler handles GET /health
func (h *AdminHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	backends := h.backends.GetBackends()
	available := 0
	for _, backend := range backends {
		if backend.IsAvailable() {
			available++
		}
	}

	var active int64
	if h.sessions != nil {
		active = h.sessions.ActiveSessions()
	}

	status := "healthy"
	if available == 0 {
		status = "degraded"
	}

	h.writeJSON(w, http.StatusOK, HealthResponse{
		Status:            status,
		TotalBackends:     len(backends),
		AvailableBackends: available,
		ActiveSessions:    active,
		Uptime:            time.Since(h.startTime).Round(time.Second).String(),
		Timestamp:         time.Now(),
	})
}

// ListBackendsHandler handles GET /backends
func (h *AdminHandler) ListBackendsHandler(w http.ResponseWriter, r *http.Request) {
	backends := h.backends.GetBackends()

	response := make([]BackendResponse, 0, len(backends))
	for _, backend := range backends {
		response = append(response, toBackendResponse(backend))
	}

	h.writeJSON(w, http.StatusOK, response)
}

// GetBackendHandler handles GET /backends/{address}
func (h *AdminHandler) GetBackendHandler(w http.ResponseWriter, r *http.Request) {
	backend, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, toBackendResponse(backend))
}

// AddBackendHandler handles POST /backends
func (h *AdminHandler) AddBackendHandler(w http.ResponseWriter, r *http.Request) {
	var req BackendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, errors.WrapError(err, errors.ErrCodeInvalidAddress, "admin", "Invalid JSON body"), http.StatusBadRequest)
		return
	}

	added, err := h.backends.AddBackend(req.Address)
	if err != nil {
		h.writeErrorResponse(w, err, http.StatusBadRequest)
		return
	}

	status := http.StatusOK
	if added {
		status = http.StatusCreated
		h.logger.WithField("backend", req.Address).Info("Backend added via admin API")
	}

	response := BackendResponse{Address: req.Address}
	if backend := h.backends.GetBackend(req.Address); backend != nil {
		response = toBackendResponse(backend)
	}
	h.writeJSON(w, status, response)
}

// DeleteBackendHandler handles DELETE /backends/{address}
func (h *AdminHandler) DeleteBackendHandler(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	if !h.backends.RemoveBackend(address) {
		h.writeErrorResponse(w, errors.NewBackendNotFoundError(address), http.StatusNotFound)
		return
	}

	h.logger.WithField("backend", address).Info("Backend removed via admin API")
	w.WriteHeader(http.StatusNoContent)
}

// MarkUnavailableHandler handles PUT /backends/{address}/unavailable
func (h *AdminHandler) MarkUnavailableHandler(w http.ResponseWriter, r *http.Request) {
	h.setUnavailable(w, r, true)
}

// MarkAvailableHandler handles DELETE /backends/{address}/unavailable
func (h *AdminHandler) MarkAvailableHandler(w http.ResponseWriter, r *http.Request) {
	h.setUnavailable(w, r, false)
}

func (h *AdminHandler) setUnavailable(w http.ResponseWriter, r *http.Request, unavailable bool) {
	backend, ok := h.lookup(w, r)
	if !ok {
		return
	}

	backend.SetUnavailable(unavailable)
	h.logger.WithFields(map[string]interface{}{
		"backend":     backend.Address,
		"unavailable": unavailable,
	}).Info("Backend availability changed via admin API")

	h.writeJSON(w, http.StatusOK, toBackendResponse(backend))
}

// lookup resolves the {address} route variable, writing a 404 when absent
func (h *AdminHandler) lookup(w http.ResponseWriter, r *http.Request) (*domain.Backend, bool) {
	address := mux.Vars(r)["address"]
	backend := h.backends.GetBackend(address)
	if backend == nil {
		h.writeErrorResponse(w, errors.NewBackendNotFoundError(address), http.StatusNotFound)
		return nil, false
	}
	return backend, true
}

func toBackendResponse(backend *domain.Backend) BackendResponse {
	return BackendResponse{
		Address:           backend.Address,
		ActiveConnections: backend.GetActiveConnections(),
		LastFailure:       backend.GetLastFailure(),
		Unavailable:       backend.IsUnavailable(),
	}
}

func (h *AdminHandler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.WithError(err).Error("Failed to encode admin response")
	}
}

// writeErrorResponse writes a standardized error response
func (h *AdminHandler) writeErrorResponse(w http.ResponseWriter, err error, status int) {
	code := errors.GetErrorCode(err)
	h.writeJSON(w, status, ErrorResponse{
		Error:     err.Error(),
		Code:      string(code),
		Timestamp: time.Now(),
	})

	h.logger.WithFields(map[string]interface{}{
		"error":  err.Error(),
		"code":   code,
		"status": status,
	}).Warn("API error response")
}
