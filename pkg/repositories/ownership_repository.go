package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/apperrors"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/database"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/models"
)

// OwnershipRepository defines data access for ownership records.
// Records live in per-company subtrees keyed by the raw company key they were
// written under; no normalization happens at this layer.
type OwnershipRepository interface {
	// ListAll reads every company's records in one broad query.
	ListAll(ctx context.Context, source models.ReadSource) ([]*models.OwnershipRecord, error)
	// ListForCompany reads one company's subtree by its exact raw key.
	ListForCompany(ctx context.Context, companyKey string, source models.ReadSource) ([]*models.OwnershipRecord, error)
	// Get returns nil when the record does not exist.
	Get(ctx context.Context, companyKey, siteID string) (*models.OwnershipRecord, error)
	Upsert(ctx context.Context, rec *models.OwnershipRecord) error
	// Delete returns apperrors.ErrNotFound when no record was removed.
	Delete(ctx context.Context, companyKey, siteID string) error
}

// OwnershipMover is implemented by stores that can move a record between
// companies atomically. Implementations that wrap another store return
// errors.ErrUnsupported when the wrapped store cannot.
type OwnershipMover interface {
	Move(ctx context.Context, fromKey string, rec *models.OwnershipRecord) error
}

// ownershipRepository implements OwnershipRepository using PostgreSQL.
type ownershipRepository struct {
	db *database.DB
}

// NewOwnershipRepository creates a PostgreSQL backed ownership repository.
func NewOwnershipRepository(db *database.DB) OwnershipRepository {
	return &ownershipRepository{db: db}
}

var (
	_ OwnershipRepository = (*ownershipRepository)(nil)
	_ OwnershipMover      = (*ownershipRepository)(nil)
)

const ownershipColumns = `company_key, site_id, site_name, site_url, role, visible_in_left_panel, updated_at`

// scope returns the request's company scope when one is in context, otherwise
// a fresh connection bound to companyKey (or unbound when companyKey is empty).
// The returned release func must always be called.
func (r *ownershipRepository) scope(ctx context.Context, companyKey string) (*database.CompanyScope, func(), error) {
	if scope, ok := database.GetCompanyScope(ctx); ok {
		return scope, func() {}, nil
	}

	var (
		scope *database.CompanyScope
		err   error
	)
	if companyKey == "" {
		scope, err = r.db.WithoutCompany(ctx)
	} else {
		scope, err = r.db.WithCompany(ctx, companyKey)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return scope, scope.Close, nil
}

// ListAll ignores source: PostgreSQL reads are always authoritative. Cached
// reads are served by the snapshot cache decorator.
func (r *ownershipRepository) ListAll(ctx context.Context, _ models.ReadSource) ([]*models.OwnershipRecord, error) {
	scope, release, err := r.scope(ctx, "")
	if err != nil {
		return nil, err
	}
	defer release()

	query := `SELECT ` + ownershipColumns + `
		FROM company_sites
		ORDER BY company_key, site_id`

	rows, err := scope.Conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list ownership records: %w", err)
	}
	defer rows.Close()

	return scanOwnershipRows(rows)
}

func (r *ownershipRepository) ListForCompany(ctx context.Context, companyKey string, _ models.ReadSource) ([]*models.OwnershipRecord, error) {
	scope, release, err := r.scope(ctx, companyKey)
	if err != nil {
		return nil, err
	}
	defer release()

	query := `SELECT ` + ownershipColumns + `
		FROM company_sites
		WHERE company_key = $1
		ORDER BY site_id`

	rows, err := scope.Conn.Query(ctx, query, companyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list ownership records for %q: %w", companyKey, err)
	}
	defer rows.Close()

	return scanOwnershipRows(rows)
}

func (r *ownershipRepository) Get(ctx context.Context, companyKey, siteID string) (*models.OwnershipRecord, error) {
	scope, release, err := r.scope(ctx, companyKey)
	if err != nil {
		return nil, err
	}
	defer release()

	query := `SELECT ` + ownershipColumns + `
		FROM company_sites
		WHERE company_key = $1 AND site_id = $2`

	rec, err := scanOwnershipRow(scope.Conn.QueryRow(ctx, query, companyKey, siteID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get ownership record: %w", err)
	}
	return rec, nil
}

// Upsert inserts the record or overwrites an existing one with the same key.
func (r *ownershipRepository) Upsert(ctx context.Context, rec *models.OwnershipRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}

	scope, release, err := r.scope(ctx, rec.CompanyKey)
	if err != nil {
		return err
	}
	defer release()

	return upsertRecord(ctx, scope.Conn, rec)
}

func (r *ownershipRepository) Delete(ctx context.Context, companyKey, siteID string) error {
	scope, release, err := r.scope(ctx, companyKey)
	if err != nil {
		return err
	}
	defer release()

	return deleteRecord(ctx, scope.Conn, companyKey, siteID)
}

// Move deletes the record under fromKey and writes rec under rec.CompanyKey in
// one transaction.
func (r *ownershipRepository) Move(ctx context.Context, fromKey string, rec *models.OwnershipRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}

	scope, release, err := r.scope(ctx, "")
	if err != nil {
		return err
	}
	defer release()

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin move transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := deleteRecord(ctx, tx, fromKey, rec.SiteID); err != nil {
		return err
	}
	if err := upsertRecord(ctx, tx, rec); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit move: %w", err)
	}
	return nil
}

// querier is satisfied by both pooled connections and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// upsertRecord leaves an unchanged row alone, updated_at included, and sets
// rec.UpdatedAt to the stored value.
func upsertRecord(ctx context.Context, conn querier, rec *models.OwnershipRecord) error {
	if rec.Role == "" {
		rec.Role = models.SiteRoleCustom
	}

	query := `
		INSERT INTO company_sites (` + ownershipColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (company_key, site_id) DO UPDATE
		SET site_name = EXCLUDED.site_name,
		    site_url = EXCLUDED.site_url,
		    role = EXCLUDED.role,
		    visible_in_left_panel = EXCLUDED.visible_in_left_panel,
		    updated_at = EXCLUDED.updated_at
		WHERE (company_sites.site_name, company_sites.site_url, company_sites.role, company_sites.visible_in_left_panel)
		      IS DISTINCT FROM
		      (EXCLUDED.site_name, EXCLUDED.site_url, EXCLUDED.role, EXCLUDED.visible_in_left_panel)
		RETURNING updated_at`

	var updatedAt time.Time
	err := conn.QueryRow(ctx, query,
		rec.CompanyKey,
		rec.SiteID,
		rec.SiteName,
		rec.SiteURL,
		string(rec.Role),
		rec.VisibleInLeftPanel,
		time.Now(),
	).Scan(&updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		err = conn.QueryRow(ctx,
			`SELECT updated_at FROM company_sites WHERE company_key = $1 AND site_id = $2`,
			rec.CompanyKey, rec.SiteID,
		).Scan(&updatedAt)
	}
	if err != nil {
		return fmt.Errorf("failed to upsert ownership record: %w", err)
	}
	rec.UpdatedAt = updatedAt
	return nil
}

func deleteRecord(ctx context.Context, conn querier, companyKey, siteID string) error {
	tag, err := conn.Exec(ctx,
		`DELETE FROM company_sites WHERE company_key = $1 AND site_id = $2`,
		companyKey, siteID)
	if err != nil {
		return fmt.Errorf("failed to delete ownership record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func scanOwnershipRows(rows pgx.Rows) ([]*models.OwnershipRecord, error) {
	var records []*models.OwnershipRecord
	for rows.Next() {
		rec, err := scanOwnershipRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ownership record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ownership records: %w", err)
	}
	return records, nil
}

func scanOwnershipRow(row pgx.Row) (*models.OwnershipRecord, error) {
	var rec models.OwnershipRecord
	var role string
	err := row.Scan(
		&rec.CompanyKey,
		&rec.SiteID,
		&rec.SiteName,
		&rec.SiteURL,
		&role,
		&rec.VisibleInLeftPanel,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Role, err = models.ParseSiteRole(role)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func validateRecord(rec *models.OwnershipRecord) error {
	if rec == nil || rec.CompanyKey == "" || rec.SiteID == "" {
		return fmt.Errorf("%w: ownership record requires company key and site id", apperrors.ErrInvalidInput)
	}
	if rec.Role != "" && !rec.Role.IsValid() {
		return fmt.Errorf("%w: unknown role %q", apperrors.ErrInvalidInput, rec.Role)
	}
	return nil
}
