package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/directory"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/models"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/repositories"
)

var errUnavailable = errors.New("store unavailable")

// mockOwnershipRepository wraps a MemoryStore and injects failures.
type mockOwnershipRepository struct {
	*repositories.MemoryStore

	mu sync.Mutex
	// serverFailures is the number of upcoming server broad reads that fail.
	serverFailures int
	// cached, when set, is what a cached broad read returns.
	cached    []*models.OwnershipRecord
	cacheErr  error
	companyFn func(key string) error
	upsertErr error
	deleteErr error

	broadSources []models.ReadSource
	companyReads []string
}

func newMockOwnershipRepository(t *testing.T) *mockOwnershipRepository {
	t.Helper()
	store, err := repositories.NewMemoryStore()
	require.NoError(t, err)
	return &mockOwnershipRepository{MemoryStore: store}
}

func (m *mockOwnershipRepository) ListAll(ctx context.Context, source models.ReadSource) ([]*models.OwnershipRecord, error) {
	m.mu.Lock()
	m.broadSources = append(m.broadSources, source)
	if source == models.ReadFromCache {
		records, err := m.cached, m.cacheErr
		m.mu.Unlock()
		return records, err
	}
	if m.serverFailures > 0 {
		m.serverFailures--
		m.mu.Unlock()
		return nil, errUnavailable
	}
	m.mu.Unlock()
	return m.MemoryStore.ListAll(ctx, source)
}

func (m *mockOwnershipRepository) ListForCompany(ctx context.Context, key string, source models.ReadSource) ([]*models.OwnershipRecord, error) {
	m.mu.Lock()
	m.companyReads = append(m.companyReads, key)
	fn := m.companyFn
	m.mu.Unlock()
	if fn != nil {
		if err := fn(key); err != nil {
			return nil, err
		}
	}
	return m.MemoryStore.ListForCompany(ctx, key, source)
}

func (m *mockOwnershipRepository) Upsert(ctx context.Context, rec *models.OwnershipRecord) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	return m.MemoryStore.Upsert(ctx, rec)
}

func (m *mockOwnershipRepository) Delete(ctx context.Context, key, siteID string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	return m.MemoryStore.Delete(ctx, key, siteID)
}

func (m *mockOwnershipRepository) failServer(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serverFailures = n
}

func (m *mockOwnershipRepository) seed(t *testing.T, records ...*models.OwnershipRecord) {
	t.Helper()
	for _, rec := range records {
		require.NoError(t, m.MemoryStore.Upsert(context.Background(), rec))
	}
}

// twoStepRepository hides the atomic Move of the wrapped store.
type twoStepRepository struct {
	repositories.OwnershipRepository
}

// staticCompanies is a CompanyRepository over a fixed list.
type staticCompanies struct {
	companies []models.Company
	err       error
}

func (s *staticCompanies) List(context.Context) ([]models.Company, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]models.Company, len(s.companies))
	copy(out, s.companies)
	return out, nil
}

func record(company, siteID, name string) *models.OwnershipRecord {
	return &models.OwnershipRecord{
		CompanyKey:         company,
		SiteID:             siteID,
		SiteName:           name,
		SiteURL:            "https://sites.example.com/" + siteID,
		Role:               models.SiteRoleCustom,
		VisibleInLeftPanel: true,
	}
}

func siteIDs(rows []SiteRow) []string {
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.SiteID
	}
	return ids
}

// fakeDirectory is an in-memory directory service.
type fakeDirectory struct {
	mu        sync.Mutex
	sites     map[string]*models.Site // by id and by slug
	createErr error
	created   []directory.CreateSiteRequest
	checkFn   func(siteID string) error
	checks    map[string]int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		sites:  make(map[string]*models.Site),
		checks: make(map[string]int),
	}
}

func (d *fakeDirectory) GetSite(_ context.Context, idOrSlug string) (*models.Site, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	site, ok := d.sites[idOrSlug]
	if !ok {
		return nil, &directory.StatusError{StatusCode: http.StatusNotFound}
	}
	c := *site
	return &c, nil
}

func (d *fakeDirectory) CheckSite(ctx context.Context, siteID string) error {
	d.mu.Lock()
	d.checks[siteID]++
	fn := d.checkFn
	d.mu.Unlock()
	if fn != nil {
		return fn(siteID)
	}
	_, err := d.GetSite(ctx, siteID)
	return err
}

func (d *fakeDirectory) CreateSite(_ context.Context, in directory.CreateSiteRequest) (*models.Site, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.created = append(d.created, in)
	if d.createErr != nil {
		return nil, d.createErr
	}
	if _, exists := d.sites[in.Slug]; exists {
		return nil, &directory.StatusError{StatusCode: http.StatusConflict}
	}
	site := &models.Site{
		ID:     "site-" + in.Slug,
		Name:   in.DisplayName,
		WebURL: "https://sites.example.com/" + in.Slug,
	}
	d.sites[site.ID] = site
	d.sites[in.Slug] = site
	return site, nil
}

func (d *fakeDirectory) addSite(slug string, site *models.Site) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sites[site.ID] = site
	if slug != "" {
		d.sites[slug] = site
	}
}

func (d *fakeDirectory) checkCount(siteID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.checks[siteID]
}
