// Package ingest orchestrates per-owner ingestion cycles: fetch, normalize,
// persist, with per-metric failure isolation.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/normalize"
	"example.com/healthsync/internal/observability"
	"example.com/healthsync/internal/provider"
)

// Fetcher pulls raw records for one metric stream.
type Fetcher interface {
	FetchAll(ctx context.Context, ownerID string, metric domain.MetricType, window domain.Window) ([]provider.RawRecord, error)
}

// BatchStore durably persists a normalized batch.
type BatchStore interface {
	SaveBatch(ctx context.Context, ownerID, batchID string, metric domain.MetricType, window domain.Window, points []domain.HealthDataPoint) error
}

// Report summarises one cycle. Failed maps metric to the error that aborted
// its batch; other metrics proceed independently.
type Report struct {
	CycleID string
	OwnerID string
	Synced  []domain.MetricType
	Failed  map[domain.MetricType]error
}

type flightKey struct {
	ownerID string
	metric  domain.MetricType
	start   int64
}

// Runner executes ingestion cycles. Fetches for independent metric types run
// concurrently under a fixed-size pool; identical (owner, metric, window)
// fetches never run concurrently.
type Runner struct {
	fetcher     Fetcher
	normalizer  *normalize.Normalizer
	store       BatchStore
	concurrency int
	cycleBudget time.Duration
	fetchWindow time.Duration
	logger      *log.Logger
	now         func() time.Time

	mu       sync.Mutex
	inflight map[flightKey]struct{}
}

// RunnerConfig carries Runner tunables.
type RunnerConfig struct {
	Concurrency     int
	CycleTimeout    time.Duration
	FetchWindowDays int
}

// NewRunner constructs a Runner.
func NewRunner(fetcher Fetcher, normalizer *normalize.Normalizer, store BatchStore, cfg RunnerConfig) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = time.Minute
	}
	if cfg.FetchWindowDays <= 0 {
		cfg.FetchWindowDays = 30
	}
	return &Runner{
		fetcher:     fetcher,
		normalizer:  normalizer,
		store:       store,
		concurrency: cfg.Concurrency,
		cycleBudget: cfg.CycleTimeout,
		fetchWindow: time.Duration(cfg.FetchWindowDays) * 24 * time.Hour,
		logger:      log.New(os.Stderr, "[ingest] ", log.LstdFlags),
		now:         time.Now,
		inflight:    make(map[flightKey]struct{}),
	}
}

// RunCycle fetches and normalizes every metric stream for the owner. A cycle
// that exceeds its budget returns TimeoutError; batches persisted before the
// deadline remain durable, nothing partial is written afterwards. A cancelled
// cycle reports an error so callers never emit analytics from it.
func (r *Runner) RunCycle(ctx context.Context, ownerID string) (Report, error) {
	cycleID := uuid.NewString()
	report := Report{
		CycleID: cycleID,
		OwnerID: ownerID,
		Failed:  make(map[domain.MetricType]error),
	}

	end := r.now().UTC()
	window := domain.Window{Start: end.Add(-r.fetchWindow), End: end}

	cycleCtx, cancel := context.WithTimeout(ctx, r.cycleBudget)
	defer cancel()

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(cycleCtx)
	group.SetLimit(r.concurrency)

	for _, metric := range domain.AllMetrics {
		group.Go(func() error {
			err := r.syncMetric(groupCtx, ownerID, metric, window)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				report.Synced = append(report.Synced, metric)
			case isCredentialFailure(err):
				// Credential problems affect every stream; stop the cycle.
				report.Failed[metric] = err
				return err
			case groupCtx.Err() != nil:
				// The cycle itself was cancelled or ran out of budget.
				return groupCtx.Err()
			default:
				// Batch-level failures stay isolated to their metric. This
				// includes exhausted per-call timeouts, which wrap a context
				// deadline of their own; only the cycle context decides
				// cycle-level failure.
				report.Failed[metric] = err
				recordBatchFailure(string(metric))
				r.logger.Printf("cycle=%s metric=%s batch failed: %v", cycleID, metric, err)
			}
			return nil
		})
	}

	err := group.Wait()
	if err != nil {
		if isCredentialFailure(err) {
			return report, err
		}
		if errors.Is(cycleCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return report, &domain.TimeoutError{CycleID: cycleID}
		}
		return report, err
	}
	recordCycle(len(report.Synced))
	observability.RecordCycleCompleted(r.now().UTC())
	return report, nil
}

func (r *Runner) syncMetric(ctx context.Context, ownerID string, metric domain.MetricType, window domain.Window) error {
	key := flightKey{ownerID: ownerID, metric: metric, start: window.Start.UnixNano()}
	if !r.claim(key) {
		return fmt.Errorf("fetch already in flight for owner=%s metric=%s", ownerID, metric)
	}
	defer r.release(key)

	raw, err := r.fetcher.FetchAll(ctx, ownerID, metric, window)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}

	batchID := uuid.NewString()
	points, err := r.normalizer.Normalize(batchID, raw)
	if err != nil {
		return err
	}

	// A cancelled cycle discards its normalized output rather than persisting
	// a torn batch.
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.store.SaveBatch(ctx, ownerID, batchID, metric, window, points); err != nil {
		return err
	}
	observability.RecordBatchPersisted(r.now().UTC())
	return nil
}

func isCredentialFailure(err error) bool {
	var authErr *domain.AuthError
	return errors.As(err, &authErr)
}

func (r *Runner) claim(key flightKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inflight[key]; busy {
		return false
	}
	r.inflight[key] = struct{}{}
	return true
}

func (r *Runner) release(key flightKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, key)
}
