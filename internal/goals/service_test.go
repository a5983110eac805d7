package goals

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/healthsync/internal/domain"
)

type fakeRepo struct {
	goals map[string]domain.Goal
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{goals: make(map[string]domain.Goal)}
}

func key(metric domain.MetricType, period domain.Period) string {
	return string(metric) + "/" + string(period)
}

func (r *fakeRepo) ListGoals(ctx context.Context, ownerID string) ([]domain.Goal, error) {
	out := make([]domain.Goal, 0, len(r.goals))
	for _, goal := range r.goals {
		out = append(out, goal)
	}
	return out, nil
}

func (r *fakeRepo) SaveGoal(ctx context.Context, goal domain.Goal) error {
	r.goals[key(goal.Metric, goal.Period)] = goal
	return nil
}

func (r *fakeRepo) DeleteGoal(ctx context.Context, ownerID string, metric domain.MetricType, period domain.Period) error {
	delete(r.goals, key(metric, period))
	return nil
}

func TestListGoalsSeedsDefaults(t *testing.T) {
	svc := NewService(newFakeRepo())

	list, err := svc.ListGoals(context.Background(), "owner-1")
	require.NoError(t, err)
	require.Len(t, list, 2)

	targets := make(map[domain.MetricType]float64)
	for _, goal := range list {
		require.Equal(t, "owner-1", goal.OwnerID)
		require.Equal(t, domain.PeriodDay, goal.Period)
		targets[goal.Metric] = goal.Target
	}
	require.Equal(t, 8000.0, targets[domain.MetricSteps])
	require.Equal(t, 420.0, targets[domain.MetricSleepMinutes])
}

func TestExplicitGoalShadowsDefault(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)

	require.NoError(t, svc.SaveGoal(context.Background(), domain.Goal{
		OwnerID: "owner-1",
		Metric:  domain.MetricSteps,
		Target:  12000,
		Period:  domain.PeriodDay,
	}))

	list, err := svc.ListGoals(context.Background(), "owner-1")
	require.NoError(t, err)

	var stepsTargets []float64
	for _, goal := range list {
		if goal.Metric == domain.MetricSteps {
			stepsTargets = append(stepsTargets, goal.Target)
		}
	}
	require.Equal(t, []float64{12000}, stepsTargets)
}

func TestDeleteRestoresDefault(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)

	require.NoError(t, svc.SaveGoal(context.Background(), domain.Goal{
		OwnerID: "owner-1", Metric: domain.MetricSteps, Target: 12000, Period: domain.PeriodDay,
	}))
	require.NoError(t, svc.DeleteGoal(context.Background(), "owner-1", domain.MetricSteps, domain.PeriodDay))

	list, err := svc.ListGoals(context.Background(), "owner-1")
	require.NoError(t, err)
	for _, goal := range list {
		if goal.Metric == domain.MetricSteps {
			require.Equal(t, 8000.0, goal.Target)
		}
	}
}

func TestSaveGoalValidation(t *testing.T) {
	svc := NewService(newFakeRepo())

	cases := []struct {
		name string
		goal domain.Goal
	}{
		{"unknown metric", domain.Goal{Metric: "blood_sugar", Target: 5, Period: domain.PeriodDay}},
		{"unknown period", domain.Goal{Metric: domain.MetricSteps, Target: 5, Period: "fortnight"}},
		{"non-positive target", domain.Goal{Metric: domain.MetricSteps, Target: 0, Period: domain.PeriodDay}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.SaveGoal(context.Background(), tc.goal)
			var validationErr *domain.ValidationError
			require.ErrorAs(t, err, &validationErr)
		})
	}
}
