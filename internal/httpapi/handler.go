package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"net/http"
	"strings"

	"livequeue/queue-service/internal/models"
	"livequeue/queue-service/internal/store"

	"github.com/sirupsen/logrus"
)

// QueueService is the part of the queue controller the HTTP layer drives.
type QueueService interface {
	ListLocations(ctx context.Context) ([]models.Location, error)
	GetLocation(ctx context.Context, locationID string) (models.Location, error)
	IssueToken(ctx context.Context, locationID string) (models.Token, error)
	ServeNext(ctx context.Context, locationID string) (models.Token, error)
	GetTokenHistory(ctx context.Context, locationID string) ([]models.Token, error)
	SubmitRequest(ctx context.Context, locationID string) (models.Request, error)
	ListPendingRequests(ctx context.Context, locationID string) ([]models.Request, error)
	GetRequest(ctx context.Context, requestID int64) (models.Request, error)
	ApproveRequest(ctx context.Context, requestID int64) (models.Token, error)
	RejectRequest(ctx context.Context, requestID int64) (models.Request, error)
}

type Handler struct {
	queue     QueueService
	issueMode string
	admin     *AdminAuth
	staticDir string
	realtime  http.Handler
	health    func(context.Context) error
	log       logrus.FieldLogger
}

type Options struct {
	IssueMode string
	// Admin guards the administrator routes. Nil leaves them open.
	Admin     *AdminAuth
	StaticDir string
	Realtime  http.Handler
	Health    func(context.Context) error
	Logger    logrus.FieldLogger
}

type successResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

type errorResponse struct {
	Success   bool          `json:"success"`
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type decisionRequest struct {
	RequestID int64 `json:"request_id"`
}

type visitResponse struct {
	Mode    string          `json:"mode"`
	Token   *models.Token   `json:"token,omitempty"`
	Request *models.Request `json:"request,omitempty"`
}

type serveResponse struct {
	Served     bool          `json:"served"`
	QueueEmpty bool          `json:"queue_empty"`
	Token      *models.Token `json:"token,omitempty"`
}

func NewHandler(queue QueueService, options Options) *Handler {
	mode := options.IssueMode
	if mode != models.IssueModeApproval {
		mode = models.IssueModeDirect
	}
	logger := options.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		queue:     queue,
		issueMode: mode,
		admin:     options.Admin,
		staticDir: options.StaticDir,
		realtime:  options.Realtime,
		health:    options.Health,
		log:       logger,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.handleRoot)
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.Handle("/metrics", expvar.Handler())
	mux.HandleFunc("/api/places", h.handlePlaces)
	mux.HandleFunc("/api/places/", h.handlePlace)
	if h.staticDir != "" {
		mux.Handle("/images/", http.StripPrefix("/images/", http.FileServer(http.Dir(h.staticDir))))
	}
	if h.realtime != nil {
		mux.Handle("/realtime/", h.realtime)
	}
	return mux
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, requestIDFromRequest(r), http.StatusNotFound, "not_found", "route not found")
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Live Queue Backend is running"))
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			h.log.WithError(err).Warn("health check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handlePlaces(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	locations, err := h.queue.ListLocations(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if locations == nil {
		locations = []models.Location{}
	}
	writeData(w, http.StatusOK, locations)
}

// handlePlace dispatches /api/places/{id} and /api/places/{id}/{action}.
func (h *Handler) handlePlace(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/places/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	locationID := strings.TrimSpace(parts[0])
	if locationID == "" || len(parts) > 2 {
		writeError(w, requestIDFromRequest(r), http.StatusNotFound, "not_found", "route not found")
		return
	}
	if len(parts) == 1 {
		h.handleGetPlace(w, r, locationID)
		return
	}

	switch parts[1] {
	case "request":
		h.handleVisit(w, r, locationID)
	case "tokens":
		h.handleTokens(w, r, locationID)
	case "requests":
		h.handlePendingRequests(w, r, locationID)
	case "approve":
		h.handleDecision(w, r, locationID, true)
	case "reject":
		h.handleDecision(w, r, locationID, false)
	case "next":
		h.handleNext(w, r, locationID)
	default:
		writeError(w, requestIDFromRequest(r), http.StatusNotFound, "not_found", "route not found")
	}
}

func (h *Handler) handleGetPlace(w http.ResponseWriter, r *http.Request, locationID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	loc, err := h.queue.GetLocation(r.Context(), locationID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, loc)
}

// handleVisit is the visitor's single entry point; what it does depends on
// the deployment's issue mode.
func (h *Handler) handleVisit(w http.ResponseWriter, r *http.Request, locationID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.issueMode == models.IssueModeApproval {
		request, err := h.queue.SubmitRequest(r.Context(), locationID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeData(w, http.StatusOK, visitResponse{Mode: models.IssueModeApproval, Request: &request})
		return
	}
	token, err := h.queue.IssueToken(r.Context(), locationID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, visitResponse{Mode: models.IssueModeDirect, Token: &token})
}

func (h *Handler) handleTokens(w http.ResponseWriter, r *http.Request, locationID string) {
	switch r.Method {
	case http.MethodGet:
		tokens, err := h.queue.GetTokenHistory(r.Context(), locationID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if tokens == nil {
			tokens = []models.Token{}
		}
		writeData(w, http.StatusOK, tokens)
	case http.MethodPost:
		if h.issueMode != models.IssueModeDirect {
			writeError(w, requestIDFromRequest(r), http.StatusConflict, "issue_mode", "tokens are issued through approval")
			return
		}
		token, err := h.queue.IssueToken(r.Context(), locationID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeData(w, http.StatusOK, token)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handlePendingRequests(w http.ResponseWriter, r *http.Request, locationID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.requireAdmin(w, r) {
		return
	}
	requests, err := h.queue.ListPendingRequests(r.Context(), locationID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if requests == nil {
		requests = []models.Request{}
	}
	writeData(w, http.StatusOK, requests)
}

func (h *Handler) handleDecision(w http.ResponseWriter, r *http.Request, locationID string, approve bool) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.requireAdmin(w, r) {
		return
	}

	var req decisionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if req.RequestID <= 0 {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "request_id must be a positive integer")
		return
	}

	// A request can only be decided through the location it was made at.
	request, err := h.queue.GetRequest(r.Context(), req.RequestID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if request.LocationID != locationID {
		h.fail(w, r, store.ErrRequestNotFound)
		return
	}

	if approve {
		token, err := h.queue.ApproveRequest(r.Context(), req.RequestID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeData(w, http.StatusOK, token)
		return
	}
	rejected, err := h.queue.RejectRequest(r.Context(), req.RequestID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, rejected)
}

func (h *Handler) handleNext(w http.ResponseWriter, r *http.Request, locationID string) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.requireAdmin(w, r) {
		return
	}
	token, err := h.queue.ServeNext(r.Context(), locationID)
	if errors.Is(err, store.ErrQueueEmpty) {
		writeData(w, http.StatusOK, serveResponse{QueueEmpty: true})
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, serveResponse{Served: true, Token: &token})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapError(err)
	if status >= http.StatusInternalServerError {
		h.log.WithFields(logrus.Fields{
			"path":       r.URL.Path,
			"request_id": requestIDFromRequest(r),
		}).WithError(err).Error("request failed")
	}
	writeError(w, requestIDFromRequest(r), status, code, msg)
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrLocationNotFound):
		return http.StatusNotFound, "location_not_found", "location not found"
	case errors.Is(err, store.ErrRequestNotFound):
		return http.StatusNotFound, "request_not_found", "request not found or already decided"
	case errors.Is(err, store.ErrRetriesExhausted):
		return http.StatusServiceUnavailable, "transient_failure", "queue is busy, try again"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "transient_failure", "request timed out"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeData(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, successResponse{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
