package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CompanyScope wraps a connection, optionally bound to one company's subtree.
// A bound connection has app.current_company set for RLS policy evaluation; the
// company_sites policy only exposes rows whose company_key matches it.
type CompanyScope struct {
	Conn *pgxpool.Conn
}

// Close resets the company context and releases the connection to the pool.
// This MUST be called so one request's company does not leak into the next.
func (s *CompanyScope) Close() {
	if s.Conn == nil {
		return
	}
	_, _ = s.Conn.Exec(context.Background(), "RESET app.current_company")
	s.Conn.Release()
}

// WithCompany acquires a connection scoped to a single raw company key.
// The returned CompanyScope MUST be closed with defer scope.Close().
func (db *DB) WithCompany(ctx context.Context, companyKey string) (*CompanyScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	_, err = conn.Exec(ctx, "SELECT set_config('app.current_company', $1, false)", companyKey)
	if err != nil {
		conn.Release()
		return nil, err
	}

	return &CompanyScope{Conn: conn}, nil
}

// WithoutCompany acquires a connection that sees every company's records.
// Used for the broad ownership read and for cross-company moves.
// The returned CompanyScope MUST be closed with defer scope.Close().
func (db *DB) WithoutCompany(ctx context.Context) (*CompanyScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &CompanyScope{Conn: conn}, nil
}
