package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/models"
)

const snapshotKey = "sites:ownership:all"

// SnapshotCache keeps the result of the last successful broad ownership read.
type SnapshotCache interface {
	// Load returns the cached records and whether the cache held a snapshot.
	Load(ctx context.Context) ([]*models.OwnershipRecord, bool, error)
	Store(ctx context.Context, records []*models.OwnershipRecord) error
}

type redisSnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSnapshotCache stores snapshots as JSON under a single Redis key.
func NewRedisSnapshotCache(client *redis.Client, ttl time.Duration) SnapshotCache {
	return &redisSnapshotCache{client: client, ttl: ttl}
}

func (c *redisSnapshotCache) Load(ctx context.Context) ([]*models.OwnershipRecord, bool, error) {
	data, err := c.client.Get(ctx, snapshotKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read cached snapshot: %w", err)
	}

	var records []*models.OwnershipRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached snapshot: %w", err)
	}
	return records, true, nil
}

func (c *redisSnapshotCache) Store(ctx context.Context, records []*models.OwnershipRecord) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := c.client.Set(ctx, snapshotKey, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cached snapshot: %w", err)
	}
	return nil
}

type memorySnapshotCache struct {
	store *gocache.Cache
}

// NewMemorySnapshotCache keeps the snapshot in process. Used when Redis is not
// configured.
func NewMemorySnapshotCache(ttl time.Duration) SnapshotCache {
	return &memorySnapshotCache{store: gocache.New(ttl, ttl)}
}

func (c *memorySnapshotCache) Load(_ context.Context) ([]*models.OwnershipRecord, bool, error) {
	v, ok := c.store.Get(snapshotKey)
	if !ok {
		return nil, false, nil
	}
	return cloneRecords(v.([]*models.OwnershipRecord)), true, nil
}

func (c *memorySnapshotCache) Store(_ context.Context, records []*models.OwnershipRecord) error {
	c.store.Set(snapshotKey, cloneRecords(records), gocache.DefaultExpiration)
	return nil
}

// cachedOwnershipRepository answers ReadFromCache broad reads from a snapshot
// cache and refreshes the snapshot after every successful server read.
type cachedOwnershipRepository struct {
	OwnershipRepository
	cache  SnapshotCache
	logger *zap.Logger
}

// NewCachedOwnershipRepository wraps repo with a snapshot cache.
func NewCachedOwnershipRepository(repo OwnershipRepository, cache SnapshotCache, logger *zap.Logger) OwnershipRepository {
	return &cachedOwnershipRepository{
		OwnershipRepository: repo,
		cache:               cache,
		logger:              logger.Named("snapshot-cache"),
	}
}

var _ OwnershipMover = (*cachedOwnershipRepository)(nil)

// ListAll with ReadFromCache returns the cached snapshot when there is one and
// reads through otherwise. The snapshot may be stale; callers asking for the
// cache accept that.
func (r *cachedOwnershipRepository) ListAll(ctx context.Context, source models.ReadSource) ([]*models.OwnershipRecord, error) {
	if source == models.ReadFromCache {
		records, ok, err := r.cache.Load(ctx)
		switch {
		case err != nil:
			r.logger.Warn("Snapshot cache read failed, reading through", zap.Error(err))
		case ok:
			r.logger.Debug("Serving ownership records from snapshot cache", zap.Int("records", len(records)))
			return records, nil
		}
	}

	records, err := r.OwnershipRepository.ListAll(ctx, models.ReadFromServer)
	if err != nil {
		return nil, err
	}

	if err := r.cache.Store(ctx, records); err != nil {
		r.logger.Warn("Failed to update snapshot cache", zap.Error(err))
	}
	return records, nil
}

// Move delegates to the wrapped store.
func (r *cachedOwnershipRepository) Move(ctx context.Context, fromKey string, rec *models.OwnershipRecord) error {
	mover, ok := r.OwnershipRepository.(OwnershipMover)
	if !ok {
		return errors.ErrUnsupported
	}
	return mover.Move(ctx, fromKey, rec)
}

func cloneRecords(records []*models.OwnershipRecord) []*models.OwnershipRecord {
	if records == nil {
		return nil
	}
	out := make([]*models.OwnershipRecord, len(records))
	for i, rec := range records {
		out[i] = rec.Clone()
	}
	return out
}
