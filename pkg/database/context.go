package database

import "context"

type contextKey string

const (
	// CompanyScopeKey is the context key for a company-scoped database connection.
	CompanyScopeKey contextKey = "companyScope"
)

// GetCompanyScope retrieves the company-scoped connection from context.
// Returns nil and false if not present.
func GetCompanyScope(ctx context.Context) (*CompanyScope, bool) {
	scope, ok := ctx.Value(CompanyScopeKey).(*CompanyScope)
	return scope, ok
}

// SetCompanyScope stores the company-scoped connection in context.
func SetCompanyScope(ctx context.Context, scope *CompanyScope) context.Context {
	return context.WithValue(ctx, CompanyScopeKey, scope)
}
