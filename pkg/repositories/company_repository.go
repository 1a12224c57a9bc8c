package repositories

import (
	"context"
	"fmt"

	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/database"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/models"
)

// CompanyRepository enumerates the companies known to the service.
type CompanyRepository interface {
	List(ctx context.Context) ([]models.Company, error)
}

type companyRepository struct {
	db *database.DB
}

// NewCompanyRepository creates a PostgreSQL backed company repository.
func NewCompanyRepository(db *database.DB) CompanyRepository {
	return &companyRepository{db: db}
}

var _ CompanyRepository = (*companyRepository)(nil)

func (r *companyRepository) List(ctx context.Context) ([]models.Company, error) {
	scope, err := r.db.WithoutCompany(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer scope.Close()

	rows, err := scope.Conn.Query(ctx, `SELECT id, name FROM companies ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list companies: %w", err)
	}
	defer rows.Close()

	var companies []models.Company
	for rows.Next() {
		var c models.Company
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("failed to scan company: %w", err)
		}
		companies = append(companies, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating companies: %w", err)
	}
	return companies, nil
}
