// Package provider fetches raw measurement data from the external fitness API.
package provider

import (
	"time"

	"example.com/healthsync/internal/domain"
)

// RawRecord is the typed representation of one provider data point, decoded at
// the client boundary so downstream stages never see provider JSON.
type RawRecord struct {
	Metric             domain.MetricType
	StartTime          time.Time
	EndTime            time.Time
	Value              float64
	Unit               string
	Source             string
	GranularitySeconds int
}

// AggregateBucket is one bucket from the provider's aggregate query endpoint.
type AggregateBucket struct {
	Metric domain.MetricType
	Start  time.Time
	End    time.Time
	Value  float64
	Unit   string
}

// datasetPage mirrors the provider's paginated dataset response. Timestamps
// arrive as epoch nanoseconds, matching the provider's dataset range ids.
type datasetPage struct {
	Points     []providerPoint `json:"point"`
	NextCursor string          `json:"next_page_token"`
}

type providerPoint struct {
	StartTimeNanos     int64   `json:"startTimeNanos,string"`
	EndTimeNanos       int64   `json:"endTimeNanos,string"`
	Value              float64 `json:"value"`
	Unit               string  `json:"unit"`
	DataSourceID       string  `json:"dataSourceId"`
	GranularitySeconds int     `json:"granularitySeconds"`
}

type aggregateResponse struct {
	Buckets []aggregateBucket `json:"bucket"`
}

type aggregateBucket struct {
	StartTimeNanos int64   `json:"startTimeNanos,string"`
	EndTimeNanos   int64   `json:"endTimeNanos,string"`
	Value          float64 `json:"value"`
	Unit           string  `json:"unit"`
}

func (p providerPoint) toRaw(metric domain.MetricType) RawRecord {
	return RawRecord{
		Metric:             metric,
		StartTime:          time.Unix(0, p.StartTimeNanos).UTC(),
		EndTime:            time.Unix(0, p.EndTimeNanos).UTC(),
		Value:              p.Value,
		Unit:               p.Unit,
		Source:             p.DataSourceID,
		GranularitySeconds: p.GranularitySeconds,
	}
}
