package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/apperrors"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/directory"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/models"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/repositories"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/slug"
)

// MutationKind names a site mutation for confirmation prompts and logs.
type MutationKind string

const (
	MutationUpsert     MutationKind = "upsert"
	MutationVisibility MutationKind = "visibility"
	MutationMove       MutationKind = "move"
	MutationRename     MutationKind = "rename"
	MutationRemove     MutationKind = "remove"
	MutationCreate     MutationKind = "create"
)

// Mutation describes a pending change presented for confirmation.
type Mutation struct {
	Kind    MutationKind
	Company string
	SiteID  string
	Target  string // destination company for moves, new name for renames
	Summary string
}

// Confirmer asks the initiating user to approve a mutation.
type Confirmer interface {
	Confirm(ctx context.Context, m Mutation) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, m Mutation) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, m Mutation) (bool, error) {
	return f(ctx, m)
}

type confirmedKey struct{}

// WithConfirmation records in ctx that the caller has already confirmed.
func WithConfirmation(ctx context.Context, confirmed bool) context.Context {
	return context.WithValue(ctx, confirmedKey{}, confirmed)
}

// ContextConfirmer approves a mutation only when the request context carries
// a positive confirmation.
var ContextConfirmer Confirmer = ConfirmFunc(func(ctx context.Context, _ Mutation) (bool, error) {
	confirmed, _ := ctx.Value(confirmedKey{}).(bool)
	return confirmed, nil
})

// PartialMoveError is returned when a two-step move removed the source record
// but could not write the target. The site is unassigned until the move is
// retried.
type PartialMoveError struct {
	SiteID string
	From   string
	To     string
	Err    error
}

func (e *PartialMoveError) Error() string {
	return fmt.Sprintf("site %s was removed from %q but could not be assigned to %q: %v", e.SiteID, e.From, e.To, e.Err)
}

func (e *PartialMoveError) Unwrap() []error {
	return []error{apperrors.ErrPartialMove, e.Err}
}

// SiteDirectory is the part of the directory service the engine uses.
type SiteDirectory interface {
	GetSite(ctx context.Context, idOrSlug string) (*models.Site, error)
	CheckSite(ctx context.Context, siteID string) error
	CreateSite(ctx context.Context, in directory.CreateSiteRequest) (*models.Site, error)
}

// SiteService performs confirmed ownership mutations and refreshes the read
// model after each one.
type SiteService interface {
	// UpsertSite creates or overwrites the record for (rec.CompanyKey, rec.SiteID).
	UpsertSite(ctx context.Context, rec *models.OwnershipRecord) error
	// SetVisibility changes the left panel flag of an existing record.
	SetVisibility(ctx context.Context, companyKey, siteID string, visible bool) error
	// MoveSite reassigns a site from one company to another.
	MoveSite(ctx context.Context, siteID, fromKey, toKey string) error
	// RenameSite changes only the display name of a record.
	RenameSite(ctx context.Context, companyKey, siteID, name string) error
	// RemoveSite deletes a record.
	RemoveSite(ctx context.Context, companyKey, siteID string) error
	// CreateSite provisions a site named "<company> – <suffix>" and assigns it
	// to company.
	CreateSite(ctx context.Context, company models.Company, suffix string) (*models.OwnershipRecord, error)
}

type siteService struct {
	repo      repositories.OwnershipRepository
	directory SiteDirectory
	sync      OwnershipSync
	confirmer Confirmer
	logger    *zap.Logger
}

// NewSiteService creates a SiteService.
func NewSiteService(
	repo repositories.OwnershipRepository,
	dir SiteDirectory,
	sync OwnershipSync,
	confirmer Confirmer,
	logger *zap.Logger,
) SiteService {
	if confirmer == nil {
		confirmer = ContextConfirmer
	}
	return &siteService{
		repo:      repo,
		directory: dir,
		sync:      sync,
		confirmer: confirmer,
		logger:    logger.Named("site-service"),
	}
}

var _ SiteService = (*siteService)(nil)

func (s *siteService) UpsertSite(ctx context.Context, rec *models.OwnershipRecord) error {
	if rec == nil || rec.CompanyKey == "" || rec.SiteID == "" {
		return fmt.Errorf("%w: company and site id are required", apperrors.ErrInvalidInput)
	}
	if err := s.confirm(ctx, Mutation{
		Kind:    MutationUpsert,
		Company: rec.CompanyKey,
		SiteID:  rec.SiteID,
		Summary: fmt.Sprintf("Save site %q for %s", rec.SiteName, rec.CompanyKey),
	}); err != nil {
		return err
	}

	if err := s.repo.Upsert(ctx, rec.Clone()); err != nil {
		return s.writeError("save site", err)
	}

	s.refreshAfterWrite(ctx, MutationUpsert)
	return nil
}

func (s *siteService) SetVisibility(ctx context.Context, companyKey, siteID string, visible bool) error {
	rec, err := s.existing(ctx, companyKey, siteID)
	if err != nil {
		return err
	}
	if err := s.confirm(ctx, Mutation{
		Kind:    MutationVisibility,
		Company: companyKey,
		SiteID:  siteID,
		Summary: fmt.Sprintf("Set left panel visibility of %q to %t", rec.SiteName, visible),
	}); err != nil {
		return err
	}

	rec.VisibleInLeftPanel = visible
	if err := s.repo.Upsert(ctx, rec); err != nil {
		return s.writeError("update visibility", err)
	}

	s.refreshAfterWrite(ctx, MutationVisibility)
	return nil
}

func (s *siteService) RenameSite(ctx context.Context, companyKey, siteID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: site name is required", apperrors.ErrInvalidInput)
	}
	rec, err := s.existing(ctx, companyKey, siteID)
	if err != nil {
		return err
	}
	if err := s.confirm(ctx, Mutation{
		Kind:    MutationRename,
		Company: companyKey,
		SiteID:  siteID,
		Target:  name,
		Summary: fmt.Sprintf("Rename %q to %q", rec.SiteName, name),
	}); err != nil {
		return err
	}

	rec.SiteName = name
	if err := s.repo.Upsert(ctx, rec); err != nil {
		return s.writeError("rename site", err)
	}

	s.refreshAfterWrite(ctx, MutationRename)
	return nil
}

func (s *siteService) RemoveSite(ctx context.Context, companyKey, siteID string) error {
	rec, err := s.existing(ctx, companyKey, siteID)
	if err != nil {
		return err
	}
	if err := s.confirm(ctx, Mutation{
		Kind:    MutationRemove,
		Company: companyKey,
		SiteID:  siteID,
		Summary: fmt.Sprintf("Remove %q from %s", rec.SiteName, companyKey),
	}); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, companyKey, siteID); err != nil {
		return s.writeError("remove site", err)
	}

	s.refreshAfterWrite(ctx, MutationRemove)
	return nil
}

// MoveSite uses the store's atomic move when it has one. Otherwise the source
// record is deleted and the target written in two steps; if the second step
// fails the returned *PartialMoveError says so and the site is left unassigned.
func (s *siteService) MoveSite(ctx context.Context, siteID, fromKey, toKey string) error {
	if strings.TrimSpace(toKey) == "" {
		return fmt.Errorf("%w: target company is required", apperrors.ErrInvalidInput)
	}
	if slug.Equal(fromKey, toKey) {
		return apperrors.ErrSameCompany
	}

	rec, err := s.existing(ctx, fromKey, siteID)
	if err != nil {
		return err
	}
	if err := s.confirm(ctx, Mutation{
		Kind:    MutationMove,
		Company: fromKey,
		SiteID:  siteID,
		Target:  toKey,
		Summary: fmt.Sprintf("Move %q from %s to %s", rec.SiteName, fromKey, toKey),
	}); err != nil {
		return err
	}

	moved := &models.OwnershipRecord{
		CompanyKey:         toKey,
		SiteID:             rec.SiteID,
		SiteName:           rec.SiteName,
		SiteURL:            rec.SiteURL,
		Role:               rec.Role,
		VisibleInLeftPanel: rec.VisibleInLeftPanel,
	}

	if mover, ok := s.repo.(repositories.OwnershipMover); ok {
		err := mover.Move(ctx, fromKey, moved)
		if err == nil {
			s.logger.Info("Moved site",
				zap.String("site_id", siteID),
				zap.String("from", fromKey),
				zap.String("to", toKey))
			s.refreshAfterWrite(ctx, MutationMove)
			return nil
		}
		if !errors.Is(err, errors.ErrUnsupported) {
			return s.writeError("move site", err)
		}
	}

	if err := s.repo.Delete(ctx, fromKey, siteID); err != nil {
		return s.writeError("move site", err)
	}
	if err := s.repo.Upsert(ctx, moved); err != nil {
		s.logger.Error("Move left site unassigned",
			zap.String("site_id", siteID),
			zap.String("from", fromKey),
			zap.String("to", toKey),
			zap.Error(err))
		s.refreshAfterWrite(ctx, MutationMove)
		return &PartialMoveError{SiteID: siteID, From: fromKey, To: toKey, Err: s.writeError("assign site", err)}
	}

	s.logger.Info("Moved site in two steps",
		zap.String("site_id", siteID),
		zap.String("from", fromKey),
		zap.String("to", toKey))
	s.refreshAfterWrite(ctx, MutationMove)
	return nil
}

// CreateSite provisions the site, recovering from a name collision by fetching
// the existing site under the same slug, then records it as a custom site.
func (s *siteService) CreateSite(ctx context.Context, company models.Company, suffix string) (*models.OwnershipRecord, error) {
	suffix = strings.TrimSpace(suffix)
	if company.ID == "" || suffix == "" {
		return nil, fmt.Errorf("%w: company and name suffix are required", apperrors.ErrInvalidInput)
	}

	name := SiteDisplayName(company, suffix)
	siteSlug := slug.SiteSlug(name)
	if err := s.confirm(ctx, Mutation{
		Kind:    MutationCreate,
		Company: company.ID,
		Target:  name,
		Summary: fmt.Sprintf("Create site %q for %s", name, company.DisplayName()),
	}); err != nil {
		return nil, err
	}

	site, err := s.directory.CreateSite(ctx, directory.CreateSiteRequest{
		DisplayName: name,
		Slug:        siteSlug,
	})
	if errors.Is(err, directory.ErrSiteExists) {
		s.logger.Info("Site already exists, reusing it",
			zap.String("display_name", name),
			zap.String("slug", siteSlug))
		site, err = s.directory.GetSite(ctx, siteSlug)
	}
	if err != nil {
		return nil, s.writeError("create site", err)
	}

	siteName := site.Name
	if siteName == "" {
		siteName = name
	}
	rec := &models.OwnershipRecord{
		CompanyKey:         company.ID,
		SiteID:             site.ID,
		SiteName:           siteName,
		SiteURL:            site.WebURL,
		Role:               models.SiteRoleCustom,
		VisibleInLeftPanel: true,
	}
	if err := s.repo.Upsert(ctx, rec); err != nil {
		return nil, s.writeError("save site", err)
	}

	s.refreshAfterWrite(ctx, MutationCreate)
	return rec, nil
}

// SiteDisplayName builds the display name of a company's new site.
func SiteDisplayName(company models.Company, suffix string) string {
	return strings.TrimSpace(company.DisplayName()) + " – " + strings.TrimSpace(suffix)
}

func (s *siteService) existing(ctx context.Context, companyKey, siteID string) (*models.OwnershipRecord, error) {
	if companyKey == "" || siteID == "" {
		return nil, fmt.Errorf("%w: company and site id are required", apperrors.ErrInvalidInput)
	}
	rec, err := s.repo.Get(ctx, companyKey, siteID)
	if err != nil {
		return nil, s.writeError("load site", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("site %s for %q: %w", siteID, companyKey, apperrors.ErrNotFound)
	}
	return rec, nil
}

func (s *siteService) confirm(ctx context.Context, m Mutation) error {
	ok, err := s.confirmer.Confirm(ctx, m)
	if err != nil {
		return fmt.Errorf("confirmation failed: %w", err)
	}
	if !ok {
		s.logger.Debug("Mutation not confirmed",
			zap.String("kind", string(m.Kind)),
			zap.String("company", m.Company),
			zap.String("site_id", m.SiteID))
		return apperrors.ErrNotConfirmed
	}
	return nil
}

// refreshAfterWrite rebuilds the read model. The write itself has already
// succeeded, so a failed refresh is logged rather than returned.
func (s *siteService) refreshAfterWrite(ctx context.Context, kind MutationKind) {
	if _, err := s.sync.Refresh(ctx, true); err != nil {
		if isContextError(err) {
			s.logger.Debug("Refresh after write abandoned", zap.String("kind", string(kind)), zap.Error(err))
			return
		}
		s.logger.Warn("Refresh after write failed", zap.String("kind", string(kind)), zap.Error(err))
	}
}

// writeError wraps err and, when it looks like an authorization denial, marks
// it with ErrPermissionDenied and a hint to sign in again.
func (s *siteService) writeError(action string, err error) error {
	if isPermissionDenied(err) {
		s.logger.Warn("Permission denied", zap.String("action", action), zap.Error(err))
		if errors.Is(err, apperrors.ErrPermissionDenied) {
			return fmt.Errorf("failed to %s (sign in again and retry): %w", action, err)
		}
		return fmt.Errorf("failed to %s (sign in again and retry): %w: %w", action, apperrors.ErrPermissionDenied, err)
	}
	return fmt.Errorf("failed to %s: %w", action, err)
}

const pgInsufficientPrivilege = "42501"

func isPermissionDenied(err error) bool {
	if errors.Is(err, apperrors.ErrPermissionDenied) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgInsufficientPrivilege
}
