// Package events defines payloads published to downstream consumers.
package events

import "time"

// BatchNormalized is emitted when a normalized batch has been durably stored.
type BatchNormalized struct {
	BatchID     string    `json:"batch_id"`
	OwnerID     string    `json:"owner_id"`
	Metric      string    `json:"metric"`
	PointCount  int       `json:"point_count"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// CredentialStateChanged tracks provider credential lifecycle transitions so
// downstream surfaces can prompt re-authorization.
type CredentialStateChanged struct {
	OwnerID    string    `json:"owner_id"`
	State      string    `json:"state"`
	OccurredAt time.Time `json:"occurred_at"`
}
