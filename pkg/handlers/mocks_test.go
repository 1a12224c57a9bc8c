package handlers

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/config"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/directory"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/middleware"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/models"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/repositories"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/services"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/workerpool"
)

// mockDirectory is an in-memory directory service keyed by site id and slug.
type mockDirectory struct {
	mu     sync.Mutex
	sites  map[string]*models.Site
	tokens []string
}

func newMockDirectory(sites ...*models.Site) *mockDirectory {
	d := &mockDirectory{sites: make(map[string]*models.Site)}
	for _, s := range sites {
		d.sites[s.ID] = s
	}
	return d
}

func (d *mockDirectory) recordToken(ctx context.Context) {
	token, _ := directory.TokenFromContext(ctx)
	d.tokens = append(d.tokens, token)
}

func (d *mockDirectory) GetSite(ctx context.Context, idOrSlug string) (*models.Site, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recordToken(ctx)
	site, ok := d.sites[idOrSlug]
	if !ok {
		return nil, &directory.StatusError{StatusCode: http.StatusNotFound}
	}
	c := *site
	return &c, nil
}

func (d *mockDirectory) CheckSite(ctx context.Context, siteID string) error {
	_, err := d.GetSite(ctx, siteID)
	return err
}

func (d *mockDirectory) CreateSite(ctx context.Context, in directory.CreateSiteRequest) (*models.Site, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recordToken(ctx)
	if _, exists := d.sites[in.Slug]; exists {
		return nil, &directory.StatusError{StatusCode: http.StatusConflict}
	}
	site := &models.Site{ID: "new-" + in.Slug, Name: in.DisplayName, WebURL: "https://sites.example.com/" + in.Slug}
	d.sites[site.ID] = site
	d.sites[in.Slug] = site
	return site, nil
}

// testServer wires the real services over a memory store.
type testServer struct {
	store     *repositories.MemoryStore
	sync      services.OwnershipSync
	directory *mockDirectory
	mux       http.Handler
}

func newTestServer(t *testing.T, companies []models.Company, records ...*models.OwnershipRecord) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	store, err := repositories.NewMemoryStore()
	require.NoError(t, err)
	for _, c := range companies {
		require.NoError(t, store.AddCompany(c))
	}
	dir := newMockDirectory()
	for _, rec := range records {
		require.NoError(t, store.Upsert(ctx, rec))
		dir.sites[rec.SiteID] = &models.Site{ID: rec.SiteID, Name: rec.SiteName, WebURL: rec.SiteURL}
	}

	ownership := services.NewOwnershipSync(
		services.NewAggregator(store, logger),
		store,
		services.SyncConfig{AfterWriteDelay: time.Millisecond, RetryDelay: time.Millisecond},
		logger,
	)
	sites := services.NewSiteService(store, dir, ownership, nil, logger)
	status := services.NewSiteStatusMonitor(dir, workerpool.New(workerpool.DefaultConfig(), logger), time.Minute, logger)

	mux := http.NewServeMux()
	NewHealthHandler(&config.Config{Version: "test", Env: "test"}, ownership, logger).RegisterRoutes(mux)
	NewOwnershipHandler(ownership, status, logger).RegisterRoutes(mux)
	NewSiteHandler(sites, ownership, status, logger).RegisterRoutes(mux)

	return &testServer{store: store, sync: ownership, directory: dir, mux: middleware.DirectoryToken(mux)}
}

func (s *testServer) refresh(t *testing.T) {
	t.Helper()
	_, err := s.sync.Refresh(context.Background(), false)
	require.NoError(t, err)
}

func testRecord(company, siteID, name string) *models.OwnershipRecord {
	return &models.OwnershipRecord{
		CompanyKey:         company,
		SiteID:             siteID,
		SiteName:           name,
		SiteURL:            "https://sites.example.com/" + siteID,
		Role:               models.SiteRoleCustom,
		VisibleInLeftPanel: true,
	}
}
