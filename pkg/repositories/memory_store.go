package repositories

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/hashicorp/go-memdb"
	"gopkg.in/yaml.v3"

	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/apperrors"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/models"
)

const (
	companySitesTable = "company_sites"
	companiesTable    = "companies"

	pkIndex      = "id"
	companyIndex = "company_key"
)

func memorySchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			companySitesTable: {
				Name: companySitesTable,
				Indexes: map[string]*memdb.IndexSchema{
					pkIndex: {
						Name:   pkIndex,
						Unique: true,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "CompanyKey"},
								&memdb.StringFieldIndex{Field: "SiteID"},
							},
						},
					},
					companyIndex: {
						Name: companyIndex,
						Indexer: &memdb.StringFieldIndex{
							Field: "CompanyKey",
						},
					},
				},
			},
			companiesTable: {
				Name: companiesTable,
				Indexes: map[string]*memdb.IndexSchema{
					pkIndex: {
						Name:    pkIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
				},
			},
		},
	}
}

// MemoryStore is an in-process ownership store backed by go-memdb. It serves
// local development and tests. Raw company keys are stored exactly as given, so
// differently spelled keys for one company stay in separate subtrees just like
// in PostgreSQL.
type MemoryStore struct {
	db *memdb.MemDB
}

var (
	_ OwnershipRepository = (*MemoryStore)(nil)
	_ OwnershipMover      = (*MemoryStore)(nil)
	_ CompanyRepository   = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty store.
func NewMemoryStore() (*MemoryStore, error) {
	db, err := memdb.NewMemDB(memorySchema())
	if err != nil {
		return nil, fmt.Errorf("failed to create memdb: %w", err)
	}
	return &MemoryStore{db: db}, nil
}

// Seed is the YAML document loaded into a MemoryStore at startup.
type Seed struct {
	Companies []models.Company `yaml:"companies"`
	Sites     []SeedSite       `yaml:"sites"`
}

// SeedSite is one ownership record in a seed file.
type SeedSite struct {
	Company            string `yaml:"company"`
	SiteID             string `yaml:"siteId"`
	SiteName           string `yaml:"siteName"`
	SiteURL            string `yaml:"siteUrl"`
	Role               string `yaml:"role"`
	VisibleInLeftPanel bool   `yaml:"visibleInLeftPanel"`
}

// LoadSeedFile parses a seed file.
func LoadSeedFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	return &seed, nil
}

// Load inserts every company and record of seed in one transaction.
func (s *MemoryStore) Load(seed *Seed) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	for i := range seed.Companies {
		c := seed.Companies[i]
		if c.ID == "" {
			return fmt.Errorf("%w: seed company %d has no id", apperrors.ErrInvalidInput, i)
		}
		if err := txn.Insert(companiesTable, &c); err != nil {
			return fmt.Errorf("failed to insert company %q: %w", c.ID, err)
		}
	}

	now := time.Now()
	for i, site := range seed.Sites {
		role, err := models.ParseSiteRole(site.Role)
		if err != nil {
			return fmt.Errorf("seed site %d: %w", i, err)
		}
		rec := &models.OwnershipRecord{
			CompanyKey:         site.Company,
			SiteID:             site.SiteID,
			SiteName:           site.SiteName,
			SiteURL:            site.SiteURL,
			Role:               role,
			VisibleInLeftPanel: site.VisibleInLeftPanel,
			UpdatedAt:          now,
		}
		if err := validateRecord(rec); err != nil {
			return fmt.Errorf("seed site %d: %w", i, err)
		}
		if err := txn.Insert(companySitesTable, rec); err != nil {
			return fmt.Errorf("failed to insert seed site %q: %w", rec.SiteID, err)
		}
	}

	txn.Commit()
	return nil
}

// AddCompany registers a company.
func (s *MemoryStore) AddCompany(c models.Company) error {
	if c.ID == "" {
		return fmt.Errorf("%w: company id is required", apperrors.ErrInvalidInput)
	}
	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(companiesTable, &c); err != nil {
		return fmt.Errorf("failed to insert company: %w", err)
	}
	txn.Commit()
	return nil
}

// List returns companies ordered by display name.
func (s *MemoryStore) List(_ context.Context) ([]models.Company, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(companiesTable, pkIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to list companies: %w", err)
	}

	var companies []models.Company
	for raw := it.Next(); raw != nil; raw = it.Next() {
		companies = append(companies, *raw.(*models.Company))
	}
	sort.SliceStable(companies, func(i, j int) bool {
		return companies[i].DisplayName() < companies[j].DisplayName()
	})
	return companies, nil
}

// ListAll ignores source: memdb reads are always current.
func (s *MemoryStore) ListAll(_ context.Context, _ models.ReadSource) ([]*models.OwnershipRecord, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(companySitesTable, pkIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to list ownership records: %w", err)
	}
	return collectRecords(it), nil
}

func (s *MemoryStore) ListForCompany(_ context.Context, companyKey string, _ models.ReadSource) ([]*models.OwnershipRecord, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(companySitesTable, companyIndex, companyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list ownership records for %q: %w", companyKey, err)
	}
	return collectRecords(it), nil
}

func (s *MemoryStore) Get(_ context.Context, companyKey, siteID string) (*models.OwnershipRecord, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(companySitesTable, pkIndex, companyKey, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to get ownership record: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*models.OwnershipRecord).Clone(), nil
}

func (s *MemoryStore) Upsert(_ context.Context, rec *models.OwnershipRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}

	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := insertRecord(txn, rec); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, companyKey, siteID string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := removeRecord(txn, companyKey, siteID); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// Move removes the record under fromKey and writes rec in one write transaction.
func (s *MemoryStore) Move(_ context.Context, fromKey string, rec *models.OwnershipRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}

	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := removeRecord(txn, fromKey, rec.SiteID); err != nil {
		return err
	}
	if err := insertRecord(txn, rec); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// insertRecord stores a copy so callers can keep mutating rec; memdb objects
// must not change after insertion. Writing an unchanged record is a no-op.
func insertRecord(txn *memdb.Txn, rec *models.OwnershipRecord) error {
	if rec.Role == "" {
		rec.Role = models.SiteRoleCustom
	}

	raw, err := txn.First(companySitesTable, pkIndex, rec.CompanyKey, rec.SiteID)
	if err != nil {
		return fmt.Errorf("failed to look up ownership record: %w", err)
	}
	if existing, ok := raw.(*models.OwnershipRecord); ok && sameContent(existing, rec) {
		rec.UpdatedAt = existing.UpdatedAt
		return nil
	}
	rec.UpdatedAt = time.Now()

	stored := rec.Clone()
	stored.FromSupplemental = false
	if err := txn.Insert(companySitesTable, stored); err != nil {
		return fmt.Errorf("failed to upsert ownership record: %w", err)
	}
	return nil
}

// sameContent compares the persisted fields of two records with the same key.
func sameContent(a, b *models.OwnershipRecord) bool {
	return a.SiteName == b.SiteName &&
		a.SiteURL == b.SiteURL &&
		a.Role == b.Role &&
		a.VisibleInLeftPanel == b.VisibleInLeftPanel
}

func removeRecord(txn *memdb.Txn, companyKey, siteID string) error {
	raw, err := txn.First(companySitesTable, pkIndex, companyKey, siteID)
	if err != nil {
		return fmt.Errorf("failed to look up ownership record: %w", err)
	}
	if raw == nil {
		return apperrors.ErrNotFound
	}
	if err := txn.Delete(companySitesTable, raw); err != nil {
		return fmt.Errorf("failed to delete ownership record: %w", err)
	}
	return nil
}

func collectRecords(it memdb.ResultIterator) []*models.OwnershipRecord {
	var records []*models.OwnershipRecord
	for raw := it.Next(); raw != nil; raw = it.Next() {
		records = append(records, raw.(*models.OwnershipRecord).Clone())
	}
	return records
}
