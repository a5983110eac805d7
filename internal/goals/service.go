// Package goals manages per-owner targets with seeded defaults.
package goals

import (
	"context"

	"example.com/healthsync/internal/domain"
)

// Repository is the persistence contract for goals.
type Repository interface {
	ListGoals(ctx context.Context, ownerID string) ([]domain.Goal, error)
	SaveGoal(ctx context.Context, goal domain.Goal) error
	DeleteGoal(ctx context.Context, ownerID string, metric domain.MetricType, period domain.Period) error
}

// defaultGoals seed targets for owners that have not set their own.
var defaultGoals = []domain.Goal{
	{Metric: domain.MetricSteps, Target: 8000, Period: domain.PeriodDay},
	{Metric: domain.MetricSleepMinutes, Target: 420, Period: domain.PeriodDay},
}

// Service overlays seeded defaults onto stored goals.
type Service struct {
	repo Repository
}

// NewService constructs a Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// ListGoals returns the owner's goals. Metrics without an explicit goal for
// the default period fall back to the seeded target.
func (s *Service) ListGoals(ctx context.Context, ownerID string) ([]domain.Goal, error) {
	stored, err := s.repo.ListGoals(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	type key struct {
		metric domain.MetricType
		period domain.Period
	}
	seen := make(map[key]struct{}, len(stored))
	for _, goal := range stored {
		seen[key{goal.Metric, goal.Period}] = struct{}{}
	}

	merged := stored
	for _, def := range defaultGoals {
		if _, ok := seen[key{def.Metric, def.Period}]; ok {
			continue
		}
		def.OwnerID = ownerID
		merged = append(merged, def)
	}
	return merged, nil
}

// SaveGoal validates and stores an owner goal.
func (s *Service) SaveGoal(ctx context.Context, goal domain.Goal) error {
	if !goal.Metric.Valid() {
		return &domain.ValidationError{Field: "metric"}
	}
	if !goal.Period.Valid() {
		return &domain.ValidationError{Field: "period"}
	}
	if goal.Target <= 0 {
		return &domain.ValidationError{Field: "target"}
	}
	return s.repo.SaveGoal(ctx, goal)
}

// DeleteGoal removes an explicit goal. Seeded defaults reappear on the next
// list for their metric and period.
func (s *Service) DeleteGoal(ctx context.Context, ownerID string, metric domain.MetricType, period domain.Period) error {
	if !metric.Valid() {
		return &domain.ValidationError{Field: "metric"}
	}
	if !period.Valid() {
		return &domain.ValidationError{Field: "period"}
	}
	return s.repo.DeleteGoal(ctx, ownerID, metric, period)
}
