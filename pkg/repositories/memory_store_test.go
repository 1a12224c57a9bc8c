package repositories

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/apperrors"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/models"
)

func newTestMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	store, err := NewMemoryStore()
	require.NoError(t, err)
	return store
}

func TestMemoryStore_UpsertAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestMemoryStore(t)

	rec := &models.OwnershipRecord{
		CompanyKey: "MS Byggsystem",
		SiteID:     "site-1",
		SiteName:   "MS Byggsystem – DK Bas",
		SiteURL:    "https://sites.example.com/ms",
	}
	require.NoError(t, store.Upsert(ctx, rec))

	got, err := store.Get(ctx, "MS Byggsystem", "site-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.SiteRoleCustom, got.Role, "empty role defaults to custom")
	assert.Equal(t, "MS Byggsystem – DK Bas", got.SiteName)
	assert.False(t, got.UpdatedAt.IsZero())

	// Raw keys are not normalized by the store.
	missing, err := store.Get(ctx, "ms-byggsystem", "site-1")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryStore_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestMemoryStore(t)

	rec := &models.OwnershipRecord{CompanyKey: "acme", SiteID: "s1", SiteName: "One", Role: models.SiteRoleSystem}
	require.NoError(t, store.Upsert(ctx, rec))
	first, err := store.Get(ctx, "acme", "s1")
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	require.NoError(t, store.Upsert(ctx, &models.OwnershipRecord{CompanyKey: "acme", SiteID: "s1", SiteName: "One", Role: models.SiteRoleSystem}))
	second, err := store.Get(ctx, "acme", "s1")
	require.NoError(t, err)
	assert.Equal(t, first, second, "an unchanged upsert leaves the stored record untouched")

	rec.SiteName = "Renamed"
	require.NoError(t, store.Upsert(ctx, rec))

	all, err := store.ListAll(ctx, models.ReadFromServer)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Renamed", all[0].SiteName)
	assert.Equal(t, models.SiteRoleSystem, all[0].Role)
}

func TestMemoryStore_StoredRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	store := newTestMemoryStore(t)

	rec := &models.OwnershipRecord{CompanyKey: "acme", SiteID: "s1", SiteName: "One"}
	require.NoError(t, store.Upsert(ctx, rec))
	rec.SiteName = "mutated after insert"

	got, err := store.Get(ctx, "acme", "s1")
	require.NoError(t, err)
	assert.Equal(t, "One", got.SiteName)

	got.SiteName = "mutated after read"
	again, err := store.Get(ctx, "acme", "s1")
	require.NoError(t, err)
	assert.Equal(t, "One", again.SiteName)
}

func TestMemoryStore_ListForCompany_ExactKey(t *testing.T) {
	ctx := context.Background()
	store := newTestMemoryStore(t)

	require.NoError(t, store.Upsert(ctx, &models.OwnershipRecord{CompanyKey: "MS Byggsystem", SiteID: "a"}))
	require.NoError(t, store.Upsert(ctx, &models.OwnershipRecord{CompanyKey: "ms-byggsystem", SiteID: "b"}))
	require.NoError(t, store.Upsert(ctx, &models.OwnershipRecord{CompanyKey: "other", SiteID: "c"}))

	recs, err := store.ListForCompany(ctx, "MS Byggsystem", models.ReadFromServer)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "a", recs[0].SiteID)

	recs, err = store.ListForCompany(ctx, "ms-byggsystem", models.ReadFromServer)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "b", recs[0].SiteID)

	all, err := store.ListAll(ctx, models.ReadFromCache)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemoryStore_Delete(t *testing.T) {
	ctx := context.Background()
	store := newTestMemoryStore(t)

	require.NoError(t, store.Upsert(ctx, &models.OwnershipRecord{CompanyKey: "acme", SiteID: "s1"}))
	require.NoError(t, store.Delete(ctx, "acme", "s1"))

	err := store.Delete(ctx, "acme", "s1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMemoryStore_Move(t *testing.T) {
	ctx := context.Background()
	store := newTestMemoryStore(t)

	require.NoError(t, store.Upsert(ctx, &models.OwnershipRecord{
		CompanyKey: "A", SiteID: "R2", SiteName: "Shared", Role: models.SiteRoleProjects, VisibleInLeftPanel: true,
	}))

	err := store.Move(ctx, "A", &models.OwnershipRecord{
		CompanyKey: "B", SiteID: "R2", SiteName: "Shared", Role: models.SiteRoleProjects, VisibleInLeftPanel: true,
	})
	require.NoError(t, err)

	from, err := store.Get(ctx, "A", "R2")
	require.NoError(t, err)
	assert.Nil(t, from)

	to, err := store.Get(ctx, "B", "R2")
	require.NoError(t, err)
	require.NotNil(t, to)
	assert.Equal(t, models.SiteRoleProjects, to.Role)
	assert.True(t, to.VisibleInLeftPanel)
}

func TestMemoryStore_Move_MissingSourceChangesNothing(t *testing.T) {
	ctx := context.Background()
	store := newTestMemoryStore(t)

	err := store.Move(ctx, "A", &models.OwnershipRecord{CompanyKey: "B", SiteID: "R2"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	to, err := store.Get(ctx, "B", "R2")
	require.NoError(t, err)
	assert.Nil(t, to, "aborted move must not write the target")
}

func TestMemoryStore_RejectsInvalidRecords(t *testing.T) {
	ctx := context.Background()
	store := newTestMemoryStore(t)

	tests := []struct {
		name string
		rec  *models.OwnershipRecord
	}{
		{"nil", nil},
		{"missing company", &models.OwnershipRecord{SiteID: "s"}},
		{"missing site", &models.OwnershipRecord{CompanyKey: "c"}},
		{"bad role", &models.OwnershipRecord{CompanyKey: "c", SiteID: "s", Role: "owner"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Upsert(ctx, tt.rec)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	}
}

func TestMemoryStore_LoadSeedFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	seed := `
companies:
  - id: MS Byggsystem
    name: MS Byggsystem AB
  - id: acme
    name: Acme
sites:
  - company: MS Byggsystem
    siteId: s1
    siteName: MS Byggsystem – DK Bas
    role: system
    visibleInLeftPanel: true
  - company: ms-byggsystem
    siteId: s2
    siteName: Extra
`
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o600))

	parsed, err := LoadSeedFile(path)
	require.NoError(t, err)

	store := newTestMemoryStore(t)
	require.NoError(t, store.Load(parsed))

	companies, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, companies, 2)
	assert.Equal(t, "acme", companies[0].ID, "sorted by display name")
	assert.Equal(t, "MS Byggsystem", companies[1].ID)

	rec, err := store.Get(ctx, "MS Byggsystem", "s1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, models.SiteRoleSystem, rec.Role)
	assert.True(t, rec.VisibleInLeftPanel)

	rec, err = store.Get(ctx, "ms-byggsystem", "s2")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, models.SiteRoleCustom, rec.Role)
}

func TestMemoryStore_LoadRejectsUnknownRole(t *testing.T) {
	store := newTestMemoryStore(t)
	err := store.Load(&Seed{Sites: []SeedSite{{Company: "a", SiteID: "s", Role: "admin"}}})
	require.Error(t, err)

	all, err := store.ListAll(context.Background(), models.ReadFromServer)
	require.NoError(t, err)
	assert.Empty(t, all, "failed load must not leave partial data")
}

func TestLoadSeedFile_Missing(t *testing.T) {
	_, err := LoadSeedFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
