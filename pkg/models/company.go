// Package models contains domain types for the site ownership engine.
package models

import "github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/slug"

// Company is a tenant that may own sites.
// ID is the raw identifier exactly as it is stored upstream; it may be a free-text
// name ("MS Byggsystem") or an already normalized slug ("ms-byggsystem").
type Company struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Key returns the normalized identifier used to compare companies.
func (c Company) Key() string {
	return slug.Normalize(c.ID)
}

// DisplayName returns Name, falling back to the raw ID.
func (c Company) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}
