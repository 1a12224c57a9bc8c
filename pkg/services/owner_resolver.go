package services

import (
	"sort"

	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/models"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/slug"
)

// ownershipCandidate is one record claiming a site for a company.
type ownershipCandidate struct {
	key    string // normalized company key
	record *models.OwnershipRecord
}

// resolution is the outcome for one site: the owner and the record that
// represents the site in the owner's rows.
type resolution struct {
	owner  string
	record *models.OwnershipRecord
}

// ResolveOwners decides the canonical owner of every site referenced by agg.
// The result maps site id to normalized company key. Sites with no records are
// absent. The result does not depend on map iteration order or on the order of
// records within a company.
func ResolveOwners(agg *Aggregation, companies []models.Company) map[string]string {
	resolved := resolve(agg, companies)
	owners := make(map[string]string, len(resolved))
	for siteID, r := range resolved {
		owners[siteID] = r.owner
	}
	return owners
}

func resolve(agg *Aggregation, companies []models.Company) map[string]resolution {
	out := make(map[string]resolution)
	if agg == nil {
		return out
	}

	known := knownCompanyKeys(agg, companies)
	for siteID, candidates := range groupCandidates(agg) {
		out[siteID] = resolveSite(candidates, known)
	}
	return out
}

// groupCandidates collects candidates per site id, each group sorted by
// company key, then supplemental last, then record fields.
func groupCandidates(agg *Aggregation) map[string][]ownershipCandidate {
	groups := make(map[string][]ownershipCandidate)
	for key, records := range agg.Records {
		for _, rec := range records {
			groups[rec.SiteID] = append(groups[rec.SiteID], ownershipCandidate{key: key, record: rec})
		}
	}
	for _, group := range groups {
		sort.Slice(group, func(i, j int) bool {
			a, b := group[i], group[j]
			if a.key != b.key {
				return a.key < b.key
			}
			if a.record.FromSupplemental != b.record.FromSupplemental {
				return !a.record.FromSupplemental
			}
			if a.record.CompanyKey != b.record.CompanyKey {
				return a.record.CompanyKey < b.record.CompanyKey
			}
			return a.record.SiteName < b.record.SiteName
		})
	}
	return groups
}

// knownCompanyKeys maps every normalized spelling of a company (id, display
// name, raw keys seen in the store) to its normalized key. Ids take precedence
// over names so a company named like another company's id cannot steal it.
func knownCompanyKeys(agg *Aggregation, companies []models.Company) map[string]string {
	sorted := make([]models.Company, len(companies))
	copy(sorted, companies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key() < sorted[j].Key() })

	known := make(map[string]string)
	put := func(spelling, key string) {
		if spelling == "" || key == "" {
			return
		}
		if _, taken := known[spelling]; !taken {
			known[spelling] = key
		}
	}

	for _, c := range sorted {
		put(c.Key(), c.Key())
	}
	for _, c := range sorted {
		put(slug.Normalize(c.Name), c.Key())
	}
	for _, c := range sorted {
		for _, raw := range agg.RawKeys[c.Key()] {
			put(slug.Normalize(raw), c.Key())
		}
	}
	// Companies that only exist as record keys are still known tenants.
	for _, key := range agg.Keys() {
		put(key, key)
	}
	return known
}

func resolveSite(candidates []ownershipCandidate, known map[string]string) resolution {
	// A reserved site name names its owner, whichever subtree it was filed under.
	for _, c := range candidates {
		prefix, _, ok := MatchSiteNamePattern(c.record.SiteName)
		if !ok {
			continue
		}
		owner, ok := known[slug.Normalize(prefix)]
		if !ok {
			continue
		}
		return resolution{owner: owner, record: recordFor(candidates, owner, c.record)}
	}

	preferred := make([]ownershipCandidate, 0, len(candidates))
	for _, c := range candidates {
		if !c.record.FromSupplemental {
			preferred = append(preferred, c)
		}
	}
	if len(preferred) == 0 {
		preferred = candidates
	}

	// Candidates are sorted by key, so the first is the lexicographically
	// smallest distinct company key.
	first := preferred[0]
	return resolution{owner: first.key, record: first.record}
}

// recordFor returns owner's own record for the site, or fallback when the owner
// has none.
func recordFor(candidates []ownershipCandidate, owner string, fallback *models.OwnershipRecord) *models.OwnershipRecord {
	for _, c := range candidates {
		if c.key == owner {
			return c.record
		}
	}
	return fallback
}
