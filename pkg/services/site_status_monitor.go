package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/apperrors"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/directory"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/logging"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/models"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/workerpool"
)

// DefaultStatusTTL is how long a status observation is trusted.
const DefaultStatusTTL = 2 * time.Minute

// SiteChecker verifies that a site exists in the directory service.
type SiteChecker interface {
	CheckSite(ctx context.Context, siteID string) error
}

// SiteStatusMonitor tracks whether sites still exist in the directory service.
// It annotates read model rows and never changes them.
type SiteStatusMonitor interface {
	// Check re-checks every id without a fresh status and returns the status of
	// all ids. Check failures become error statuses; Check itself never fails.
	Check(ctx context.Context, siteIDs []string) map[string]models.SiteStatusEntry
	// Status returns the cached status of one site.
	Status(siteID string) (models.SiteStatusEntry, bool)
	// Annotate returns a copy of rows with their cached statuses attached.
	Annotate(rows []SiteRow) []SiteRow
}

type siteStatusMonitor struct {
	checker SiteChecker
	pool    *workerpool.Pool
	logger  *zap.Logger

	mu      sync.RWMutex // makes each batch's results visible at once
	entries *gocache.Cache
}

// NewSiteStatusMonitor creates a monitor whose statuses expire after ttl.
// Checks run in batches of pool.MaxConcurrent().
func NewSiteStatusMonitor(checker SiteChecker, pool *workerpool.Pool, ttl time.Duration, logger *zap.Logger) SiteStatusMonitor {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &siteStatusMonitor{
		checker: checker,
		pool:    pool,
		logger:  logger.Named("site-status"),
		entries: gocache.New(ttl, 2*ttl),
	}
}

var _ SiteStatusMonitor = (*siteStatusMonitor)(nil)

func (m *siteStatusMonitor) Check(ctx context.Context, siteIDs []string) map[string]models.SiteStatusEntry {
	due := m.claimDue(siteIDs)

	for _, batch := range workerpool.Batches(due, m.pool.MaxConcurrent()) {
		if ctx.Err() != nil {
			m.release(batch)
			continue
		}

		items := make([]workerpool.Item[models.SiteStatusEntry], len(batch))
		for i, id := range batch {
			items[i] = workerpool.Item[models.SiteStatusEntry]{
				ID: id,
				Execute: func(ctx context.Context) (models.SiteStatusEntry, error) {
					return m.checkOne(ctx, id)
				},
			}
		}

		m.applyBatch(workerpool.Process(ctx, m.pool, items))
	}

	return m.statuses(siteIDs)
}

// claimDue marks every id without a cached status as checking and returns
// those ids, deduplicated and sorted.
func (m *siteStatusMonitor) claimDue(siteIDs []string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool, len(siteIDs))
	var due []string
	for _, id := range siteIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := m.entries.Get(id); ok {
			continue
		}
		m.entries.SetDefault(id, models.SiteStatusEntry{
			Status:    models.SiteStatusChecking,
			CheckedAt: time.Now(),
		})
		due = append(due, id)
	}
	sort.Strings(due)
	return due
}

// release forgets checking entries that were never checked so the next call
// picks them up again.
func (m *siteStatusMonitor) release(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.entries.Delete(id)
	}
}

func (m *siteStatusMonitor) applyBatch(results []workerpool.Result[models.SiteStatusEntry]) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range results {
		if r.Err != nil {
			// Only cancellation reaches here; the entry is re-checked next time.
			m.entries.Delete(r.ID)
			continue
		}
		m.entries.SetDefault(r.ID, r.Result)
	}
}

// checkOne maps a directory response onto a status. Only context errors are
// returned as errors.
func (m *siteStatusMonitor) checkOne(ctx context.Context, siteID string) (models.SiteStatusEntry, error) {
	err := m.checker.CheckSite(ctx, siteID)
	now := time.Now()
	if err == nil {
		return models.SiteStatusEntry{Status: models.SiteStatusLive, CheckedAt: now}, nil
	}
	if ctx.Err() != nil && isContextError(err) {
		return models.SiteStatusEntry{}, err
	}

	entry := models.SiteStatusEntry{Status: models.SiteStatusError, CheckedAt: now}
	var statusErr *directory.StatusError
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		entry.Reason = "not found"
	case errors.As(err, &statusErr) && statusErr.Body != "":
		entry.Reason = statusErr.Body
	case errors.As(err, &statusErr):
		entry.Reason = fmt.Sprintf("status %d", statusErr.StatusCode)
	default:
		entry.Reason = logging.SanitizeError(err)
	}

	m.logger.Debug("Site status check failed",
		zap.String("site_id", siteID),
		zap.String("reason", entry.Reason))
	return entry, nil
}

func (m *siteStatusMonitor) statuses(siteIDs []string) map[string]models.SiteStatusEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]models.SiteStatusEntry, len(siteIDs))
	for _, id := range siteIDs {
		if v, ok := m.entries.Get(id); ok {
			out[id] = v.(models.SiteStatusEntry)
		}
	}
	return out
}

func (m *siteStatusMonitor) Status(siteID string) (models.SiteStatusEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.entries.Get(siteID)
	if !ok {
		return models.SiteStatusEntry{}, false
	}
	return v.(models.SiteStatusEntry), true
}

func (m *siteStatusMonitor) Annotate(rows []SiteRow) []SiteRow {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]SiteRow, len(rows))
	for i, row := range rows {
		if v, ok := m.entries.Get(row.SiteID); ok {
			entry := v.(models.SiteStatusEntry)
			row.Status = &entry
		} else {
			row.Status = nil
		}
		out[i] = row
	}
	return out
}
