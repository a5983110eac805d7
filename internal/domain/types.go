// Package domain defines the canonical data model for the healthsync service.
package domain

import "time"

// MetricType identifies a canonical measurement stream.
type MetricType string

const (
	MetricSteps        MetricType = "steps"
	MetricHeartRate    MetricType = "heart_rate"
	MetricSleepMinutes MetricType = "sleep_minutes"
	MetricCalories     MetricType = "calories"
	MetricDistance     MetricType = "distance_m"
)

// AllMetrics lists every metric stream fetched during an ingestion cycle.
var AllMetrics = []MetricType{
	MetricSteps,
	MetricHeartRate,
	MetricSleepMinutes,
	MetricCalories,
	MetricDistance,
}

// Valid reports whether the metric type is one of the canonical streams.
func (m MetricType) Valid() bool {
	switch m {
	case MetricSteps, MetricHeartRate, MetricSleepMinutes, MetricCalories, MetricDistance:
		return true
	}
	return false
}

// Cumulative reports whether the metric aggregates by sum rather than mean.
func (m MetricType) Cumulative() bool {
	return m != MetricHeartRate
}

// Priority orders metrics for recommendation tie-breaking; lower is more important.
func (m MetricType) Priority() int {
	switch m {
	case MetricSteps:
		return 0
	case MetricSleepMinutes:
		return 1
	case MetricHeartRate:
		return 2
	case MetricCalories:
		return 3
	case MetricDistance:
		return 4
	}
	return 5
}

// Period is the bucketing granularity used by analysis and goals.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// Granularity returns the wall-clock span a single period covers. Months are
// approximated at 30 days; bucketing itself uses calendar boundaries.
func (p Period) Granularity() time.Duration {
	switch p {
	case PeriodWeek:
		return 7 * 24 * time.Hour
	case PeriodMonth:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Valid reports whether the period is recognized.
func (p Period) Valid() bool {
	return p == PeriodDay || p == PeriodWeek || p == PeriodMonth
}

// Window is a half-open time range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether ts falls inside the window.
func (w Window) Contains(ts time.Time) bool {
	return !ts.Before(w.Start) && ts.Before(w.End)
}

// CredentialState tracks the lifecycle of a stored provider credential.
type CredentialState string

const (
	CredentialAuthorized CredentialState = "authorized"
	CredentialRevoked    CredentialState = "revoked"
)

// Credential is the stored OAuth grant for one owner. At most one active
// credential exists per owner; the access token is never stored without its
// expiry.
type Credential struct {
	OwnerID           string
	AccessToken       string
	RefreshToken      string
	ExpiresAt         time.Time
	Scopes            []string
	ProviderAccountID string
	State             CredentialState
	UpdatedAt         time.Time
}

// ExpiredAt reports whether the access token should be considered expired at
// the given instant, applying the refresh skew.
func (c Credential) ExpiredAt(now time.Time, skew time.Duration) bool {
	return !now.Before(c.ExpiresAt.Add(-skew))
}

// HealthDataPoint is one normalized measurement. Unique on
// (metric type, timestamp, source) after normalization.
type HealthDataPoint struct {
	Timestamp time.Time
	Metric    MetricType
	Value     float64
	Source    string
	BatchID   string
}

// Goal is an owner target for a metric over a period. Target must be > 0.
type Goal struct {
	OwnerID string
	Metric  MetricType
	Target  float64
	Period  Period
}

// TrendClass buckets the OLS slope into a coarse direction.
type TrendClass string

const (
	TrendImproving TrendClass = "improving"
	TrendDeclining TrendClass = "declining"
	TrendFlat      TrendClass = "flat"
)

// AnalysisResult is an immutable snapshot produced by one analysis run.
// GoalProgress is nil when the owner has no goal for the metric.
type AnalysisResult struct {
	Metric       MetricType
	Window       Window
	Aggregate    float64
	TrendSlope   float64
	Trend        TrendClass
	Anomaly      bool
	GoalProgress *float64
}

// Recommendation is derived per analysis cycle and ordered most urgent first.
type Recommendation struct {
	Metric     MetricType
	Urgency    float64
	TemplateID string
	Result     AnalysisResult
}
