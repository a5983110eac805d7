// Package postgres provides pgx-backed persistence for credentials,
// normalized datapoints, goals, and the transactional outbox.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/events"
)

// Repository provides Postgres-backed persistence for the healthsync service.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get returns the owner's credential or domain.ErrCredentialNotFound.
func (r *Repository) Get(ctx context.Context, ownerID string) (*domain.Credential, error) {
	const query = `SELECT owner_id, access_token, refresh_token, expires_at, scopes, provider_account_id, state, updated_at
        FROM credentials WHERE owner_id = $1`

	row := r.pool.QueryRow(ctx, query, ownerID)
	var cred domain.Credential
	if err := row.Scan(&cred.OwnerID, &cred.AccessToken, &cred.RefreshToken, &cred.ExpiresAt, &cred.Scopes, &cred.ProviderAccountID, &cred.State, &cred.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCredentialNotFound
		}
		return nil, err
	}
	return &cred, nil
}

// Save upserts the owner's single active credential atomically and records a
// state-change outbox event when the lifecycle state moved.
func (r *Repository) Save(ctx context.Context, cred domain.Credential) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var previous domain.CredentialState
	err = tx.QueryRow(ctx, `SELECT state FROM credentials WHERE owner_id = $1 FOR UPDATE`, cred.OwnerID).Scan(&previous)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	const upsert = `INSERT INTO credentials (owner_id, access_token, refresh_token, expires_at, scopes, provider_account_id, state, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (owner_id) DO UPDATE SET
            access_token = EXCLUDED.access_token,
            refresh_token = EXCLUDED.refresh_token,
            expires_at = EXCLUDED.expires_at,
            scopes = EXCLUDED.scopes,
            provider_account_id = EXCLUDED.provider_account_id,
            state = EXCLUDED.state,
            updated_at = EXCLUDED.updated_at`

	if _, err := tx.Exec(ctx, upsert,
		cred.OwnerID,
		cred.AccessToken,
		cred.RefreshToken,
		cred.ExpiresAt,
		cred.Scopes,
		cred.ProviderAccountID,
		cred.State,
		cred.UpdatedAt,
	); err != nil {
		return err
	}

	if previous != cred.State {
		payload := events.CredentialStateChanged{
			OwnerID:    cred.OwnerID,
			State:      string(cred.State),
			OccurredAt: cred.UpdatedAt,
		}
		transitionID := fmt.Sprintf("%s:%s:%d", cred.OwnerID, cred.State, cred.UpdatedAt.UnixNano())
		if err := insertOutbox(ctx, tx, "credential.state_changed", transitionID, cred.OwnerID, payload); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// Delete removes the owner's credential on explicit disconnection.
func (r *Repository) Delete(ctx context.Context, ownerID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM credentials WHERE owner_id = $1`, ownerID)
	return err
}

// ListOwners returns every owner with a stored credential.
func (r *Repository) ListOwners(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT owner_id FROM credentials ORDER BY owner_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, err
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}

// SaveBatch persists normalized points and the batch event in one
// transaction. Replays of overlapping windows update in place, keeping the
// (owner, metric, timestamp, source) uniqueness invariant.
func (r *Repository) SaveBatch(ctx context.Context, ownerID, batchID string, metric domain.MetricType, window domain.Window, points []domain.HealthDataPoint) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const insert = `INSERT INTO health_datapoints (owner_id, metric, ts, source, value, batch_id, ingested_at)
        VALUES ($1,$2,$3,$4,$5,$6,NOW())
        ON CONFLICT (owner_id, metric, ts, source) DO UPDATE SET
            value = EXCLUDED.value,
            batch_id = EXCLUDED.batch_id,
            ingested_at = NOW()`

	for _, point := range points {
		if _, err := tx.Exec(ctx, insert, ownerID, point.Metric, point.Timestamp, point.Source, point.Value, point.BatchID); err != nil {
			return err
		}
	}

	payload := events.BatchNormalized{
		BatchID:     batchID,
		OwnerID:     ownerID,
		Metric:      string(metric),
		PointCount:  len(points),
		WindowStart: window.Start,
		WindowEnd:   window.End,
		OccurredAt:  time.Now().UTC(),
	}
	if err := insertOutbox(ctx, tx, "health.batch_normalized", batchID, ownerID, payload); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// LoadPoints returns the owner's normalized points inside the window, ordered
// by metric then timestamp ascending.
func (r *Repository) LoadPoints(ctx context.Context, ownerID string, window domain.Window) ([]domain.HealthDataPoint, error) {
	const query = `SELECT metric, ts, source, value, batch_id
        FROM health_datapoints
        WHERE owner_id = $1 AND ts >= $2 AND ts < $3
        ORDER BY metric, ts, source`

	rows, err := r.pool.Query(ctx, query, ownerID, window.Start, window.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []domain.HealthDataPoint
	for rows.Next() {
		var point domain.HealthDataPoint
		if err := rows.Scan(&point.Metric, &point.Timestamp, &point.Source, &point.Value, &point.BatchID); err != nil {
			return nil, err
		}
		points = append(points, point)
	}
	return points, rows.Err()
}

// ListGoals returns the owner's goals.
func (r *Repository) ListGoals(ctx context.Context, ownerID string) ([]domain.Goal, error) {
	rows, err := r.pool.Query(ctx, `SELECT owner_id, metric, target, period FROM goals WHERE owner_id = $1 ORDER BY metric`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var goals []domain.Goal
	for rows.Next() {
		var goal domain.Goal
		if err := rows.Scan(&goal.OwnerID, &goal.Metric, &goal.Target, &goal.Period); err != nil {
			return nil, err
		}
		goals = append(goals, goal)
	}
	return goals, rows.Err()
}

// SaveGoal upserts a goal keyed by (owner, metric, period).
func (r *Repository) SaveGoal(ctx context.Context, goal domain.Goal) error {
	if goal.Target <= 0 {
		return &domain.ValidationError{Field: "target"}
	}
	const upsert = `INSERT INTO goals (owner_id, metric, target, period)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (owner_id, metric, period) DO UPDATE SET target = EXCLUDED.target`
	_, err := r.pool.Exec(ctx, upsert, goal.OwnerID, goal.Metric, goal.Target, goal.Period)
	return err
}

// DeleteGoal removes a goal.
func (r *Repository) DeleteGoal(ctx context.Context, ownerID string, metric domain.MetricType, period domain.Period) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM goals WHERE owner_id = $1 AND metric = $2 AND period = $3`, ownerID, metric, period)
	return err
}

func insertOutbox(ctx context.Context, tx pgx.Tx, eventType, aggregateID, ownerID string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	dedupeKey := fmt.Sprintf("%s:%s", aggregateID, eventType)

	const stmt = `INSERT INTO outbox (owner_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (dedupe_key) DO NOTHING`

	_, err = tx.Exec(ctx, stmt,
		ownerID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		ownerID,
		body,
		dedupeKey,
	)
	return err
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic         string
	SchemaSubject string
}

var eventCatalog = map[string]EventMetadata{
	"health.batch_normalized": {
		Topic:         "health_batch_events",
		SchemaSubject: "health_batch_events-value",
	},
	"credential.state_changed": {
		Topic:         "credential_state_changed",
		SchemaSubject: "credential_state_changed-value",
	},
}
