package services

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/models"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/repositories"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/slug"
)

// Aggregation groups ownership records by normalized company key.
// Within one key no two records share a site id.
type Aggregation struct {
	// Records holds each company's records in the order they were first seen.
	Records map[string][]*models.OwnershipRecord
	// RawKeys lists the distinct raw company keys seen for each normalized key.
	RawKeys map[string][]string
	// BroadCount is the number of records the broad read returned.
	BroadCount int
}

func newAggregation() *Aggregation {
	return &Aggregation{
		Records: make(map[string][]*models.OwnershipRecord),
		RawKeys: make(map[string][]string),
	}
}

// add files a copy of rec under key unless the key already holds the site.
// First seen wins.
func (a *Aggregation) add(key string, rec *models.OwnershipRecord, supplemental bool) bool {
	a.addRawKey(key, rec.CompanyKey)
	for _, existing := range a.Records[key] {
		if existing.SiteID == rec.SiteID {
			return false
		}
	}
	c := rec.Clone()
	c.FromSupplemental = supplemental
	a.Records[key] = append(a.Records[key], c)
	return true
}

func (a *Aggregation) addRawKey(key, raw string) {
	if raw == "" {
		return
	}
	for _, existing := range a.RawKeys[key] {
		if existing == raw {
			return
		}
	}
	a.RawKeys[key] = append(a.RawKeys[key], raw)
	sort.Strings(a.RawKeys[key])
}

// Keys returns the normalized company keys in sorted order.
func (a *Aggregation) Keys() []string {
	keys := make([]string, 0, len(a.Records))
	for k := range a.Records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RecordCount returns the total number of records.
func (a *Aggregation) RecordCount() int {
	n := 0
	for _, recs := range a.Records {
		n += len(recs)
	}
	return n
}

// Merge returns a new aggregation holding a's records merged with other's.
// For every company other read, a record for a site other also found is replaced
// by other's copy and sites only other found are appended. Sites other did not
// find are kept: a per-company read may have missed a subtree filed under a
// different spelling of the company key. Neither input is modified.
func (a *Aggregation) Merge(other *Aggregation) *Aggregation {
	merged := newAggregation()
	if a != nil {
		for key, recs := range a.Records {
			merged.Records[key] = append([]*models.OwnershipRecord(nil), recs...)
			merged.RawKeys[key] = append([]string(nil), a.RawKeys[key]...)
		}
	}
	if other == nil {
		return merged
	}

	for key, recs := range other.Records {
		existing := merged.Records[key]
		index := make(map[string]int, len(existing))
		for i, rec := range existing {
			index[rec.SiteID] = i
		}
		for _, rec := range recs {
			if i, ok := index[rec.SiteID]; ok {
				existing[i] = rec
				continue
			}
			index[rec.SiteID] = len(existing)
			existing = append(existing, rec)
		}
		merged.Records[key] = existing
	}
	for key, raws := range other.RawKeys {
		for _, raw := range raws {
			merged.addRawKey(key, raw)
		}
	}
	merged.BroadCount = other.BroadCount
	return merged
}

// AggregateOptions selects which read strategies Aggregate uses.
type AggregateOptions struct {
	// Source is passed to the broad read.
	Source models.ReadSource
	// SkipBroad goes straight to the per-company reads for every company.
	SkipBroad bool
	// SkipSupplemental stops after the broad read.
	SkipSupplemental bool
}

// Aggregator combines the store's read strategies into one Aggregation.
type Aggregator interface {
	Aggregate(ctx context.Context, companies []models.Company, opts AggregateOptions) (*Aggregation, error)
}

type ownershipAggregator struct {
	repo   repositories.OwnershipRepository
	logger *zap.Logger
}

// NewAggregator creates an Aggregator over repo.
func NewAggregator(repo repositories.OwnershipRepository, logger *zap.Logger) Aggregator {
	return &ownershipAggregator{
		repo:   repo,
		logger: logger.Named("ownership-aggregator"),
	}
}

// Aggregate runs the broad read, then reads every company the broad read
// returned nothing for by its raw key, and by its slug when the raw key is not
// already one. Records found only by those per-company reads are marked
// FromSupplemental.
//
// A failed broad read is returned as is. Per-company failures are logged and
// skipped, unless the broad read was skipped and every per-company read failed.
func (a *ownershipAggregator) Aggregate(ctx context.Context, companies []models.Company, opts AggregateOptions) (*Aggregation, error) {
	agg := newAggregation()

	if !opts.SkipBroad {
		source := opts.Source
		if source == "" {
			source = models.ReadFromServer
		}
		records, err := a.repo.ListAll(ctx, source)
		if err != nil {
			return nil, fmt.Errorf("broad ownership read failed: %w", err)
		}
		agg.BroadCount = len(records)
		for _, rec := range records {
			agg.add(slug.Normalize(rec.CompanyKey), rec, false)
		}
	}

	if opts.SkipSupplemental {
		return agg, nil
	}

	var (
		attempted int
		failed    int
		lastErr   error
	)
	for _, company := range companies {
		key := company.Key()
		if key == "" || len(agg.Records[key]) > 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		attempted++
		records, err := a.readCompany(ctx, company)
		if err != nil {
			failed++
			lastErr = err
			a.logger.Warn("Per-company ownership read failed",
				zap.String("company", company.ID),
				zap.Error(err))
			continue
		}

		agg.addRawKey(key, company.ID)
		for _, rec := range records {
			agg.add(key, rec, true)
		}
	}

	if opts.SkipBroad && attempted > 0 && failed == attempted {
		return nil, fmt.Errorf("all %d per-company ownership reads failed: %w", attempted, lastErr)
	}

	a.logger.Debug("Aggregated ownership records",
		zap.Int("broad_records", agg.BroadCount),
		zap.Int("companies", len(agg.Records)),
		zap.Int("records", agg.RecordCount()),
		zap.Int("supplemental_reads", attempted),
		zap.Int("supplemental_failures", failed))

	return agg, nil
}

// readCompany reads one company by raw key, then by slug when the raw key
// returned nothing and differs from its slug.
func (a *ownershipAggregator) readCompany(ctx context.Context, company models.Company) ([]*models.OwnershipRecord, error) {
	records, err := a.repo.ListForCompany(ctx, company.ID, models.ReadFromServer)
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		return records, nil
	}

	key := company.Key()
	if key == company.ID {
		return nil, nil
	}
	return a.repo.ListForCompany(ctx, key, models.ReadFromServer)
}
