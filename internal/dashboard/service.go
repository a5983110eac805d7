// Package dashboard assembles the analytics payload served to the
// presentation layer.
package dashboard

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"example.com/healthsync/internal/analysis"
	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/ingest"
	"example.com/healthsync/internal/recommend"
)

// PointReader loads normalized points for analysis.
type PointReader interface {
	LoadPoints(ctx context.Context, ownerID string, window domain.Window) ([]domain.HealthDataPoint, error)
}

// GoalReader loads the owner's goals.
type GoalReader interface {
	ListGoals(ctx context.Context, ownerID string) ([]domain.Goal, error)
}

// Data is the engine output contract to the presentation layer.
type Data struct {
	AnalysisResults []domain.AnalysisResult
	Recommendations []domain.Recommendation
	ComputedAt      time.Time
	Stale           bool
}

// Service recomputes dashboard data when the cached snapshot is older than
// the analysis period's granularity, and degrades to the stale snapshot when
// a refresh fails for non-auth reasons.
type Service struct {
	runner   *ingest.Runner
	points   PointReader
	goals    GoalReader
	analyzer *analysis.Engine
	recs     *recommend.Engine
	period   domain.Period
	window   time.Duration
	logger   *log.Logger
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]Data
}

// NewService constructs a Service.
func NewService(runner *ingest.Runner, points PointReader, goals GoalReader, period domain.Period, fetchWindowDays int) *Service {
	if fetchWindowDays <= 0 {
		fetchWindowDays = 30
	}
	return &Service{
		runner:   runner,
		points:   points,
		goals:    goals,
		analyzer: analysis.NewEngine(),
		recs:     recommend.NewEngine(),
		period:   period,
		window:   time.Duration(fetchWindowDays) * 24 * time.Hour,
		logger:   log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
		now:      time.Now,
		cache:    make(map[string]Data),
	}
}

// GetDashboardData returns analysis results and recommendations for the
// owner. A fresh cached snapshot short-circuits network work entirely.
func (s *Service) GetDashboardData(ctx context.Context, ownerID string) (Data, error) {
	if cached, ok := s.cached(ownerID); ok {
		return cached, nil
	}

	if _, err := s.runner.RunCycle(ctx, ownerID); err != nil {
		var authErr *domain.AuthError
		if errors.As(err, &authErr) && authErr.Reason != domain.AuthRefreshFailed {
			// Unauthenticated / reauth-required must surface so the owner
			// can re-run the authorization flow.
			return Data{}, err
		}
		// Refresh failed: fall back to the last computed snapshot rather
		// than blocking access to previously computed results.
		if stale, ok := s.staleCached(ownerID); ok {
			s.logger.Printf("serving stale dashboard for owner=%s: %v", ownerID, err)
			return stale, nil
		}
		return Data{}, err
	}

	return s.recompute(ctx, ownerID)
}

// Invalidate drops the cached snapshot, forcing the next read to recompute.
func (s *Service) Invalidate(ownerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, ownerID)
}

func (s *Service) recompute(ctx context.Context, ownerID string) (Data, error) {
	end := s.now().UTC()
	window := domain.Window{Start: end.Add(-s.window), End: end}

	points, err := s.points.LoadPoints(ctx, ownerID, window)
	if err != nil {
		return Data{}, err
	}
	goals, err := s.goals.ListGoals(ctx, ownerID)
	if err != nil {
		return Data{}, err
	}

	results := s.analyzer.Analyze(points, goals, s.period)
	data := Data{
		AnalysisResults: results,
		Recommendations: s.recs.Recommend(results),
		ComputedAt:      s.now().UTC(),
	}

	s.mu.Lock()
	s.cache[ownerID] = data
	s.mu.Unlock()
	return data, nil
}

func (s *Service) cached(ownerID string) (Data, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.cache[ownerID]
	if !ok {
		return Data{}, false
	}
	if s.now().Sub(data.ComputedAt) >= s.period.Granularity() {
		return Data{}, false
	}
	return data, true
}

func (s *Service) staleCached(ownerID string) (Data, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.cache[ownerID]
	if !ok {
		return Data{}, false
	}
	data.Stale = true
	return data, true
}
