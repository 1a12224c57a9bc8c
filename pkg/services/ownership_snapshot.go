package services

import (
	"sort"
	"time"

	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/models"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/slug"
)

// SiteRow is one site as shown under its canonical owner.
type SiteRow struct {
	SiteID             string          `json:"siteId"`
	SiteName           string          `json:"siteName"`
	SiteURL            string          `json:"siteUrl"`
	Role               models.SiteRole `json:"role"`
	VisibleInLeftPanel bool            `json:"visibleInLeftPanel"`
	Owner              string          `json:"owner,omitempty"`     // normalized company key
	RecordKey          string          `json:"recordKey,omitempty"` // raw key the record is filed under
	FromSupplemental   bool            `json:"fromSupplemental,omitempty"`

	Status *models.SiteStatusEntry `json:"status,omitempty"`
}

func rowFromRecord(owner string, rec *models.OwnershipRecord) SiteRow {
	return SiteRow{
		SiteID:             rec.SiteID,
		SiteName:           rec.SiteName,
		SiteURL:            rec.SiteURL,
		Role:               rec.Role,
		VisibleInLeftPanel: rec.VisibleInLeftPanel,
		Owner:              owner,
		RecordKey:          rec.CompanyKey,
		FromSupplemental:   rec.FromSupplemental,
	}
}

// Snapshot is an immutable read model. A new Snapshot replaces the old one
// wholesale on every applied refresh; nothing mutates a published Snapshot.
type Snapshot struct {
	Seq         uint64           `json:"seq"`
	RefreshedAt time.Time        `json:"refreshedAt"`
	FromCache   bool             `json:"fromCache"`
	Companies   []models.Company `json:"companies"`
	// Owners maps site id to the normalized key of its canonical owner.
	Owners map[string]string `json:"owners"`
	// Unassigned lists sites that were owned in an earlier snapshot and are no
	// longer referenced by any record.
	Unassigned []SiteRow `json:"unassigned"`

	agg   *Aggregation
	rows  map[string][]SiteRow
	sites map[string]SiteRow
}

// Rows returns the sites owned by companyID, which may be a raw or normalized
// company identifier. The returned slice is a copy.
func (s *Snapshot) Rows(companyID string) []SiteRow {
	if s == nil {
		return nil
	}
	rows := s.rows[slug.Normalize(companyID)]
	out := make([]SiteRow, len(rows))
	copy(out, rows)
	return out
}

// Site returns the row for siteID when the site has an owner.
func (s *Snapshot) Site(siteID string) (SiteRow, bool) {
	if s == nil {
		return SiteRow{}, false
	}
	row, ok := s.sites[siteID]
	return row, ok
}

// SiteIDs returns every assigned and unassigned site id, sorted.
func (s *Snapshot) SiteIDs() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.sites)+len(s.Unassigned))
	for id := range s.sites {
		ids = append(ids, id)
	}
	for _, row := range s.Unassigned {
		ids = append(ids, row.SiteID)
	}
	sort.Strings(ids)
	return ids
}

// buildSnapshot derives the read model from an aggregation. prev, when set,
// supplies the sites that have since lost every record.
func buildSnapshot(seq uint64, companies []models.Company, agg *Aggregation, prev *Snapshot, fromCache bool) *Snapshot {
	all := withRecordOnlyCompanies(companies, agg)
	resolved := resolve(agg, all)

	snap := &Snapshot{
		Seq:         seq,
		RefreshedAt: time.Now(),
		FromCache:   fromCache,
		Companies:   all,
		Owners:      make(map[string]string, len(resolved)),
		agg:         agg,
		rows:        make(map[string][]SiteRow),
		sites:       make(map[string]SiteRow, len(resolved)),
	}

	for siteID, r := range resolved {
		row := rowFromRecord(r.owner, r.record)
		snap.Owners[siteID] = r.owner
		snap.sites[siteID] = row
		snap.rows[r.owner] = append(snap.rows[r.owner], row)
	}
	for _, rows := range snap.rows {
		sortRows(rows)
	}

	if prev != nil {
		seen := make(map[string]bool)
		orphan := func(row SiteRow) {
			if _, owned := snap.sites[row.SiteID]; owned || seen[row.SiteID] {
				return
			}
			seen[row.SiteID] = true
			row.Owner = ""
			row.Status = nil
			snap.Unassigned = append(snap.Unassigned, row)
		}
		for _, row := range prev.sites {
			orphan(row)
		}
		for _, row := range prev.Unassigned {
			orphan(row)
		}
		sortRows(snap.Unassigned)
	}

	return snap
}

// withRecordOnlyCompanies adds a company for every aggregation key that no
// known company normalizes to, so their sites still have somewhere to live.
func withRecordOnlyCompanies(companies []models.Company, agg *Aggregation) []models.Company {
	all := make([]models.Company, 0, len(companies))
	byKey := make(map[string]bool, len(companies))
	for _, c := range companies {
		if byKey[c.Key()] {
			continue
		}
		byKey[c.Key()] = true
		all = append(all, c)
	}
	if agg != nil {
		for _, key := range agg.Keys() {
			if byKey[key] {
				continue
			}
			byKey[key] = true
			raw := key
			if keys := agg.RawKeys[key]; len(keys) > 0 {
				raw = keys[0]
			}
			all = append(all, models.Company{ID: raw})
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].DisplayName() < all[j].DisplayName()
	})
	return all
}

func sortRows(rows []SiteRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].SiteName != rows[j].SiteName {
			return rows[i].SiteName < rows[j].SiteName
		}
		return rows[i].SiteID < rows[j].SiteID
	})
}
