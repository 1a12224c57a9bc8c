package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/models"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/repositories"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/retry"
)

// SyncState is the controller's externally visible state.
type SyncState string

const (
	SyncStateIdle       SyncState = "idle"
	SyncStateRefreshing SyncState = "refreshing"
)

// RefreshResult describes how an applied refresh was served.
type RefreshResult struct {
	FromCache bool   `json:"fromCache"`
	Seq       uint64 `json:"seq"`
}

// SyncConfig holds the controller's fixed delays.
type SyncConfig struct {
	AfterWriteDelay time.Duration
	RetryDelay      time.Duration
}

// DefaultSyncConfig returns the delays used in production.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		AfterWriteDelay: 350 * time.Millisecond,
		RetryDelay:      600 * time.Millisecond,
	}
}

// OwnershipSync keeps the ownership read model current.
type OwnershipSync interface {
	// Refresh rebuilds the read model. afterWrite delays the first read so a
	// just-completed write is visible.
	Refresh(ctx context.Context, afterWrite bool) (*RefreshResult, error)
	// Snapshot returns the current read model, nil before the first refresh.
	Snapshot() *Snapshot
	// Subscribe delivers every applied snapshot, starting with the current one.
	// Slow subscribers only see the latest. The channel closes when ctx is done.
	Subscribe(ctx context.Context) <-chan *Snapshot
	State() SyncState
}

type ownershipSync struct {
	aggregator Aggregator
	companies  repositories.CompanyRepository
	config     SyncConfig
	logger     *zap.Logger

	current  atomic.Pointer[Snapshot]
	seq      atomic.Uint64
	inFlight atomic.Int32

	mu          sync.Mutex // serializes apply and subscriber bookkeeping
	subscribers map[chan *Snapshot]struct{}
}

// NewOwnershipSync creates the synchronization controller.
func NewOwnershipSync(
	aggregator Aggregator,
	companies repositories.CompanyRepository,
	config SyncConfig,
	logger *zap.Logger,
) OwnershipSync {
	return &ownershipSync{
		aggregator:  aggregator,
		companies:   companies,
		config:      config,
		logger:      logger.Named("ownership-sync"),
		subscribers: make(map[chan *Snapshot]struct{}),
	}
}

var _ OwnershipSync = (*ownershipSync)(nil)

func (s *ownershipSync) Snapshot() *Snapshot {
	return s.current.Load()
}

func (s *ownershipSync) State() SyncState {
	if s.inFlight.Load() > 0 {
		return SyncStateRefreshing
	}
	return SyncStateIdle
}

// Refresh reads ownership in decreasing order of authority and applies the
// first strategy that works:
//
//  1. broad server read, retried once after RetryDelay
//  2. broad cached read, if the cache holds any records
//  3. per-company reads for every company, merged into the current model
//
// When all of them fail the last error is returned and the model is unchanged.
// A refresh whose ctx is done never applies its result.
func (s *ownershipSync) Refresh(ctx context.Context, afterWrite bool) (*RefreshResult, error) {
	seq := s.seq.Add(1)
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	if afterWrite && s.config.AfterWriteDelay > 0 {
		if err := sleep(ctx, s.config.AfterWriteDelay); err != nil {
			return nil, err
		}
	}

	companies, err := s.listCompanies(ctx)
	if err != nil {
		return nil, err
	}

	retryCfg := retry.Fixed(1, s.config.RetryDelay)
	retryCfg.OnRetry = func(attempt int, err error) {
		s.logger.Warn("Server ownership read failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", s.config.RetryDelay),
			zap.Error(err))
	}
	agg, err := retry.DoWithResult(ctx, retryCfg, func() (*Aggregation, error) {
		return s.aggregator.Aggregate(ctx, companies, AggregateOptions{Source: models.ReadFromServer})
	})
	if err == nil {
		return s.apply(ctx, seq, companies, agg, false)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	lastErr := err

	cached, err := s.aggregator.Aggregate(ctx, companies, AggregateOptions{
		Source:           models.ReadFromCache,
		SkipSupplemental: true,
	})
	switch {
	case err != nil:
		lastErr = err
		s.logger.Warn("Cached ownership read failed", zap.Error(err))
	case cached.BroadCount > 0:
		s.logger.Warn("Serving ownership from cache after server read failures",
			zap.Int("records", cached.BroadCount),
			zap.Error(lastErr))
		return s.apply(ctx, seq, companies, cached, true)
	default:
		s.logger.Warn("Ownership cache is empty, falling back to per-company reads")
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	fallback, err := s.aggregator.Aggregate(ctx, companies, AggregateOptions{SkipBroad: true})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.logger.Error("All ownership read strategies failed", zap.Error(err))
		return nil, err
	}

	var base *Aggregation
	if prev := s.current.Load(); prev != nil {
		base = prev.agg
	}
	return s.apply(ctx, seq, companies, base.Merge(fallback), true)
}

// listCompanies falls back to the current model's companies when the company
// listing is unavailable.
func (s *ownershipSync) listCompanies(ctx context.Context) ([]models.Company, error) {
	companies, err := s.companies.List(ctx)
	if err == nil {
		return companies, nil
	}
	if prev := s.current.Load(); prev != nil && ctx.Err() == nil {
		s.logger.Warn("Failed to list companies, reusing previous list", zap.Error(err))
		return prev.Companies, nil
	}
	return nil, fmt.Errorf("failed to list companies: %w", err)
}

// apply publishes a new snapshot unless ctx is done or a newer refresh has
// already been applied.
func (s *ownershipSync) apply(ctx context.Context, seq uint64, companies []models.Company, agg *Aggregation, fromCache bool) (*RefreshResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		s.logger.Debug("Discarding refresh result for cancelled request", zap.Uint64("seq", seq))
		return nil, err
	}

	prev := s.current.Load()
	if prev != nil && prev.Seq > seq {
		s.logger.Debug("Discarding stale refresh result",
			zap.Uint64("seq", seq),
			zap.Uint64("applied_seq", prev.Seq))
		return &RefreshResult{FromCache: prev.FromCache, Seq: prev.Seq}, nil
	}

	snap := buildSnapshot(seq, companies, agg, prev, fromCache)
	s.current.Store(snap)
	s.publish(snap)

	s.logger.Info("Ownership read model refreshed",
		zap.Uint64("seq", seq),
		zap.Bool("from_cache", fromCache),
		zap.Int("companies", len(snap.Companies)),
		zap.Int("sites", len(snap.Owners)),
		zap.Int("unassigned", len(snap.Unassigned)))

	return &RefreshResult{FromCache: fromCache, Seq: seq}, nil
}

// publish must be called with s.mu held.
func (s *ownershipSync) publish(snap *Snapshot) {
	for ch := range s.subscribers {
		offer(ch, snap)
	}
}

// offer replaces whatever is buffered in ch with snap.
func offer(ch chan *Snapshot, snap *Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- snap
}

func (s *ownershipSync) Subscribe(ctx context.Context) <-chan *Snapshot {
	ch := make(chan *Snapshot, 1)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	if snap := s.current.Load(); snap != nil {
		ch <- snap
	}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subscribers, ch)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// isContextError reports whether err came from a cancelled or expired context.
func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
