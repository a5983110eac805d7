// Package api exposes HTTP handlers for the healthsync service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"example.com/healthsync/internal/auth"
	"example.com/healthsync/internal/credentials"
	"example.com/healthsync/internal/dashboard"
	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/goals"
	"example.com/healthsync/internal/recommend"
)

// Handler coordinates HTTP requests with the domain services.
type Handler struct {
	store      *credentials.Store
	authorizer *credentials.Authorizer
	dashboard  *dashboard.Service
	goals      *goals.Service
}

// NewHandler builds a Handler.
func NewHandler(store *credentials.Store, authorizer *credentials.Authorizer, dash *dashboard.Service, goalSvc *goals.Service) *Handler {
	return &Handler{store: store, authorizer: authorizer, dashboard: dash, goals: goalSvc}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/auth/connect", h.connect)
	mux.HandleFunc("/v1/auth/callback", h.callback)
	mux.HandleFunc("/v1/auth/connection", h.connection)
	mux.HandleFunc("/v1/dashboard", h.dashboardData)
	mux.HandleFunc("/v1/goals", h.goalEndpoints)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) connect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeHealthWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope health:write required")
		return
	}

	url, err := h.authorizer.BeginAuthorization(claims.Subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ConnectResponse{AuthorizationURL: url})
}

// callback completes the provider authorization exchange. The provider
// redirects the browser here, so the route skips bearer auth; the state
// parameter binds the exchange to the owner who started it.
func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing state or code parameter")
		return
	}

	cred, err := h.authorizer.CompleteAuthorization(r.Context(), state, code)
	if err != nil {
		var validationErr *domain.ValidationError
		if errors.As(err, &validationErr) {
			writeError(w, http.StatusBadRequest, "validation_failed", validationErr.Error())
			return
		}
		writeError(w, http.StatusBadGateway, "provider_error", err.Error())
		return
	}

	h.dashboard.Invalidate(cred.OwnerID)
	writeJSON(w, http.StatusOK, ConnectionView{
		OwnerID:   cred.OwnerID,
		State:     string(cred.State),
		ExpiresAt: cred.ExpiresAt,
	})
}

func (h *Handler) connection(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	switch r.Method {
	case http.MethodDelete:
		if !claims.HasScope(auth.ScopeHealthWrite) {
			writeError(w, http.StatusForbidden, "forbidden", "scope health:write required")
			return
		}
		if err := h.store.Disconnect(r.Context(), claims.Subject); err != nil {
			writeError(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
		h.dashboard.Invalidate(claims.Subject)
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet:
		if !claims.HasScope(auth.ScopeHealthRead) && !claims.HasScope(auth.ScopeHealthWrite) {
			writeError(w, http.StatusForbidden, "forbidden", "scope health:read required")
			return
		}
		cred, err := h.store.Get(r.Context(), claims.Subject)
		if err != nil {
			h.writeConnectionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ConnectionView{
			OwnerID:   cred.OwnerID,
			State:     string(cred.State),
			ExpiresAt: cred.ExpiresAt,
		})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) dashboardData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeHealthRead) && !claims.HasScope(auth.ScopeHealthWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope health:read required")
		return
	}

	data, err := h.dashboard.GetDashboardData(r.Context(), claims.Subject)
	if err != nil {
		h.writeDashboardError(w, err)
		return
	}

	resp := DashboardResponse{
		Results:         make([]AnalysisView, 0, len(data.AnalysisResults)),
		Recommendations: make([]RecommendationView, 0, len(data.Recommendations)),
		ComputedAt:      data.ComputedAt,
		Stale:           data.Stale,
	}
	for _, result := range data.AnalysisResults {
		resp.Results = append(resp.Results, toAnalysisView(result))
	}
	for _, rec := range data.Recommendations {
		resp.Recommendations = append(resp.Recommendations, RecommendationView{
			Metric:     string(rec.Metric),
			Urgency:    rec.Urgency,
			TemplateID: rec.TemplateID,
			Message:    recommend.Message(rec.TemplateID),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) goalEndpoints(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !claims.HasScope(auth.ScopeHealthRead) && !claims.HasScope(auth.ScopeHealthWrite) {
			writeError(w, http.StatusForbidden, "forbidden", "scope health:read required")
			return
		}
		h.listGoals(w, r, claims.Subject)
	case http.MethodPut:
		if !claims.HasScope(auth.ScopeHealthWrite) {
			writeError(w, http.StatusForbidden, "forbidden", "scope health:write required")
			return
		}
		h.putGoal(w, r, claims.Subject)
	case http.MethodDelete:
		if !claims.HasScope(auth.ScopeHealthWrite) {
			writeError(w, http.StatusForbidden, "forbidden", "scope health:write required")
			return
		}
		h.deleteGoal(w, r, claims.Subject)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) listGoals(w http.ResponseWriter, r *http.Request, ownerID string) {
	list, err := h.goals.ListGoals(r.Context(), ownerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]GoalView, 0, len(list))
	for _, goal := range list {
		items = append(items, GoalView{
			Metric: string(goal.Metric),
			Target: goal.Target,
			Period: string(goal.Period),
		})
	}
	writeJSON(w, http.StatusOK, ListGoalsResponse{Items: items})
}

func (h *Handler) putGoal(w http.ResponseWriter, r *http.Request, ownerID string) {
	var req PutGoalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	goal := domain.Goal{
		OwnerID: ownerID,
		Metric:  domain.MetricType(req.Metric),
		Target:  req.Target,
		Period:  domain.Period(req.Period),
	}
	if goal.Period == "" {
		goal.Period = domain.PeriodDay
	}

	if err := h.goals.SaveGoal(r.Context(), goal); err != nil {
		var validationErr *domain.ValidationError
		if errors.As(err, &validationErr) {
			writeError(w, http.StatusBadRequest, "validation_failed", validationErr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	h.dashboard.Invalidate(ownerID)
	writeJSON(w, http.StatusOK, GoalView{
		Metric: string(goal.Metric),
		Target: goal.Target,
		Period: string(goal.Period),
	})
}

func (h *Handler) deleteGoal(w http.ResponseWriter, r *http.Request, ownerID string) {
	metric := domain.MetricType(r.URL.Query().Get("metric"))
	period := domain.Period(r.URL.Query().Get("period"))
	if period == "" {
		period = domain.PeriodDay
	}

	if err := h.goals.DeleteGoal(r.Context(), ownerID, metric, period); err != nil {
		var validationErr *domain.ValidationError
		if errors.As(err, &validationErr) {
			writeError(w, http.StatusBadRequest, "validation_failed", validationErr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	h.dashboard.Invalidate(ownerID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeConnectionError(w http.ResponseWriter, err error) {
	var authErr *domain.AuthError
	if errors.As(err, &authErr) {
		switch authErr.Reason {
		case domain.AuthUnauthenticated:
			writeError(w, http.StatusNotFound, "not_connected", "no provider connection for owner")
		case domain.AuthReauthRequired:
			writeError(w, http.StatusConflict, "reauth_required", "provider authorization expired; reconnect required")
		default:
			writeError(w, http.StatusBadGateway, "refresh_failed", "provider token refresh failed")
		}
		return
	}
	writeError(w, http.StatusInternalServerError, "server_error", err.Error())
}

func (h *Handler) writeDashboardError(w http.ResponseWriter, err error) {
	var authErr *domain.AuthError
	if errors.As(err, &authErr) {
		h.writeConnectionError(w, err)
		return
	}

	var rateErr *domain.RateLimitError
	if errors.As(err, &rateErr) {
		w.Header().Set("Retry-After", strconv.Itoa(int(rateErr.RetryAfter/time.Second)))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "provider rate limit exceeded")
		return
	}

	var timeoutErr *domain.TimeoutError
	if errors.As(err, &timeoutErr) {
		writeError(w, http.StatusGatewayTimeout, "cycle_timeout", "ingestion cycle exceeded its deadline")
		return
	}

	var integrityErr *domain.DataIntegrityError
	if errors.As(err, &integrityErr) {
		writeError(w, http.StatusBadGateway, "data_integrity", integrityErr.Error())
		return
	}

	writeError(w, http.StatusInternalServerError, "server_error", err.Error())
}

// ConnectResponse carries the provider consent URL for the owner's browser.
type ConnectResponse struct {
	AuthorizationURL string `json:"authorization_url"`
}

// ConnectionView describes the owner's provider connection.
type ConnectionView struct {
	OwnerID   string    `json:"owner_id"`
	State     string    `json:"state"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AnalysisView is one analyzed period window for a metric.
type AnalysisView struct {
	Metric       string    `json:"metric"`
	WindowStart  time.Time `json:"window_start"`
	WindowEnd    time.Time `json:"window_end"`
	Aggregate    float64   `json:"aggregate"`
	TrendSlope   float64   `json:"trend_slope"`
	Trend        string    `json:"trend"`
	Anomaly      bool      `json:"anomaly"`
	GoalProgress *float64  `json:"goal_progress,omitempty"`
}

// RecommendationView is one prioritized recommendation.
type RecommendationView struct {
	Metric     string  `json:"metric"`
	Urgency    float64 `json:"urgency"`
	TemplateID string  `json:"template_id"`
	Message    string  `json:"message"`
}

// DashboardResponse packages analysis output for the presentation layer.
type DashboardResponse struct {
	Results         []AnalysisView       `json:"results"`
	Recommendations []RecommendationView `json:"recommendations"`
	ComputedAt      time.Time            `json:"computed_at"`
	Stale           bool                 `json:"stale"`
}

// GoalView is an owner goal as served by the API.
type GoalView struct {
	Metric string  `json:"metric"`
	Target float64 `json:"target"`
	Period string  `json:"period"`
}

// ListGoalsResponse packages goal list results.
type ListGoalsResponse struct {
	Items []GoalView `json:"items"`
}

// PutGoalRequest is the payload for PUT /v1/goals.
type PutGoalRequest struct {
	Metric string  `json:"metric"`
	Target float64 `json:"target"`
	Period string  `json:"period"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toAnalysisView(result domain.AnalysisResult) AnalysisView {
	return AnalysisView{
		Metric:       string(result.Metric),
		WindowStart:  result.Window.Start,
		WindowEnd:    result.Window.End,
		Aggregate:    result.Aggregate,
		TrendSlope:   result.TrendSlope,
		Trend:        string(result.Trend),
		Anomaly:      result.Anomaly,
		GoalProgress: result.GoalProgress,
	}
}
