package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"example.com/healthsync/internal/auth"
	"example.com/healthsync/internal/credentials"
	"example.com/healthsync/internal/dashboard"
	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/goals"
	"example.com/healthsync/internal/ingest"
	"example.com/healthsync/internal/normalize"
	"example.com/healthsync/internal/provider"
)

type noopRefresher struct{}

func (noopRefresher) Refresh(ctx context.Context, cred domain.Credential) (domain.Credential, error) {
	cred.ExpiresAt = time.Now().Add(time.Hour)
	return cred, nil
}

type stubFetcher struct {
	err error
}

func (f *stubFetcher) FetchAll(ctx context.Context, ownerID string, metric domain.MetricType, window domain.Window) ([]provider.RawRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	if metric != domain.MetricSteps {
		return nil, nil
	}
	return []provider.RawRecord{{
		Metric:             domain.MetricSteps,
		StartTime:          time.Now().UTC().Add(-time.Hour),
		Value:              5000,
		Source:             "watch",
		GranularitySeconds: 60,
	}}, nil
}

type memoryData struct {
	points []domain.HealthDataPoint
	goals  map[string]domain.Goal
}

func newMemoryData() *memoryData {
	return &memoryData{goals: make(map[string]domain.Goal)}
}

func goalKey(metric domain.MetricType, period domain.Period) string {
	return string(metric) + "/" + string(period)
}

func (m *memoryData) SaveBatch(ctx context.Context, ownerID, batchID string, metric domain.MetricType, window domain.Window, points []domain.HealthDataPoint) error {
	m.points = append(m.points, points...)
	return nil
}

func (m *memoryData) LoadPoints(ctx context.Context, ownerID string, window domain.Window) ([]domain.HealthDataPoint, error) {
	return m.points, nil
}

func (m *memoryData) ListGoals(ctx context.Context, ownerID string) ([]domain.Goal, error) {
	out := make([]domain.Goal, 0, len(m.goals))
	for _, goal := range m.goals {
		out = append(out, goal)
	}
	return out, nil
}

func (m *memoryData) SaveGoal(ctx context.Context, goal domain.Goal) error {
	m.goals[goalKey(goal.Metric, goal.Period)] = goal
	return nil
}

func (m *memoryData) DeleteGoal(ctx context.Context, ownerID string, metric domain.MetricType, period domain.Period) error {
	delete(m.goals, goalKey(metric, period))
	return nil
}

func newTestHandler(fetcher ingest.Fetcher) (*Handler, *memoryData) {
	data := newMemoryData()

	store := credentials.NewStore(credentials.NewInMemoryRepository(), noopRefresher{})
	authorizer := credentials.NewAuthorizer(credentials.OAuthSettings{
		ClientID: "client-1",
		AuthURL:  "https://accounts.example.com/auth",
		TokenURL: "https://accounts.example.com/token",
	}, store)

	goalSvc := goals.NewService(data)

	runner := ingest.NewRunner(fetcher, normalize.New(0.2), data, ingest.RunnerConfig{
		Concurrency:     4,
		CycleTimeout:    time.Second,
		FetchWindowDays: 7,
	})
	dash := dashboard.NewService(runner, data, goalSvc, domain.PeriodDay, 7)

	return NewHandler(store, authorizer, dash, goalSvc), data
}

func authedRequest(method, target string, body string, scopes ...string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}

	scopeSet := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		scopeSet[scope] = struct{}{}
	}
	claims := &auth.Claims{
		Subject:   "owner-1",
		Scopes:    scopeSet,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

func TestConnectReturnsAuthorizationURL(t *testing.T) {
	handler, _ := newTestHandler(&stubFetcher{})

	rr := httptest.NewRecorder()
	handler.connect(rr, authedRequest(http.MethodGet, "/v1/auth/connect", "", auth.ScopeHealthWrite))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp ConnectResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !strings.HasPrefix(resp.AuthorizationURL, "https://accounts.example.com/auth") {
		t.Fatalf("unexpected authorization url %s", resp.AuthorizationURL)
	}
	if !strings.Contains(resp.AuthorizationURL, "state=") {
		t.Fatalf("authorization url missing state parameter: %s", resp.AuthorizationURL)
	}
}

func TestConnectRequiresWriteScope(t *testing.T) {
	handler, _ := newTestHandler(&stubFetcher{})

	rr := httptest.NewRecorder()
	handler.connect(rr, authedRequest(http.MethodGet, "/v1/auth/connect", "", auth.ScopeHealthRead))

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}
}

func TestCallbackRejectsUnknownState(t *testing.T) {
	handler, _ := newTestHandler(&stubFetcher{})

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/callback?state=bogus&code=abc", nil)
	rr := httptest.NewRecorder()
	handler.callback(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestDashboardRequiresBearerToken(t *testing.T) {
	handler, _ := newTestHandler(&stubFetcher{})

	req := httptest.NewRequest(http.MethodGet, "/v1/dashboard", nil)
	rr := httptest.NewRecorder()
	handler.dashboardData(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
}

func TestDashboardNotConnectedReturns404(t *testing.T) {
	handler, _ := newTestHandler(&stubFetcher{err: &domain.AuthError{Reason: domain.AuthUnauthenticated}})

	rr := httptest.NewRecorder()
	handler.dashboardData(rr, authedRequest(http.MethodGet, "/v1/dashboard", "", auth.ScopeHealthRead))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestDashboardReauthRequiredReturns409(t *testing.T) {
	handler, _ := newTestHandler(&stubFetcher{err: &domain.AuthError{Reason: domain.AuthReauthRequired}})

	rr := httptest.NewRecorder()
	handler.dashboardData(rr, authedRequest(http.MethodGet, "/v1/dashboard", "", auth.ScopeHealthRead))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestDashboardReturnsResultsAndRecommendations(t *testing.T) {
	handler, _ := newTestHandler(&stubFetcher{})

	rr := httptest.NewRecorder()
	handler.dashboardData(rr, authedRequest(http.MethodGet, "/v1/dashboard", "", auth.ScopeHealthRead))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp DashboardResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("expected 1 analysis result got %d", len(resp.Results))
	}
	if resp.Results[0].Metric != "steps" {
		t.Fatalf("unexpected metric %s", resp.Results[0].Metric)
	}
	if resp.Results[0].GoalProgress == nil {
		t.Fatal("expected goal progress against the default steps goal")
	}
	if *resp.Results[0].GoalProgress != 62.5 {
		t.Fatalf("expected progress 62.5 got %f", *resp.Results[0].GoalProgress)
	}
	if len(resp.Recommendations) == 0 {
		t.Fatal("expected at least one recommendation")
	}
	if resp.Recommendations[0].Message == "" {
		t.Fatal("expected a rendered recommendation message")
	}
	if resp.Stale {
		t.Fatal("fresh computation must not be marked stale")
	}
}

func TestListGoalsIncludesSeededDefaults(t *testing.T) {
	handler, _ := newTestHandler(&stubFetcher{})

	rr := httptest.NewRecorder()
	handler.goalEndpoints(rr, authedRequest(http.MethodGet, "/v1/goals", "", auth.ScopeHealthRead))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp ListGoalsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	targets := make(map[string]float64)
	for _, item := range resp.Items {
		targets[item.Metric] = item.Target
	}
	if targets["steps"] != 8000 {
		t.Fatalf("expected default steps target 8000 got %f", targets["steps"])
	}
	if targets["sleep_minutes"] != 420 {
		t.Fatalf("expected default sleep target 420 got %f", targets["sleep_minutes"])
	}
}

func TestPutGoalOverridesDefault(t *testing.T) {
	handler, data := newTestHandler(&stubFetcher{})

	rr := httptest.NewRecorder()
	handler.goalEndpoints(rr, authedRequest(http.MethodPut, "/v1/goals",
		`{"metric":"steps","target":12000,"period":"day"}`, auth.ScopeHealthWrite))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	stored, ok := data.goals[goalKey(domain.MetricSteps, domain.PeriodDay)]
	if !ok {
		t.Fatal("expected goal to be stored")
	}
	if stored.Target != 12000 {
		t.Fatalf("expected stored target 12000 got %f", stored.Target)
	}
}

func TestPutGoalRejectsInvalidTarget(t *testing.T) {
	handler, _ := newTestHandler(&stubFetcher{})

	rr := httptest.NewRecorder()
	handler.goalEndpoints(rr, authedRequest(http.MethodPut, "/v1/goals",
		`{"metric":"steps","target":-5,"period":"day"}`, auth.ScopeHealthWrite))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestPutGoalRejectsUnknownMetric(t *testing.T) {
	handler, _ := newTestHandler(&stubFetcher{})

	rr := httptest.NewRecorder()
	handler.goalEndpoints(rr, authedRequest(http.MethodPut, "/v1/goals",
		`{"metric":"blood_sugar","target":5,"period":"day"}`, auth.ScopeHealthWrite))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestDeleteConnection(t *testing.T) {
	handler, _ := newTestHandler(&stubFetcher{})

	rr := httptest.NewRecorder()
	handler.connection(rr, authedRequest(http.MethodDelete, "/v1/auth/connection", "", auth.ScopeHealthWrite))

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rr.Code)
	}
}

func TestGetConnectionNotConnected(t *testing.T) {
	handler, _ := newTestHandler(&stubFetcher{})

	rr := httptest.NewRecorder()
	handler.connection(rr, authedRequest(http.MethodGet, "/v1/auth/connection", "", auth.ScopeHealthRead))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d: %s", rr.Code, rr.Body.String())
	}
}
