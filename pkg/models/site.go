package models

import (
	"fmt"
	"time"
)

// Site is an external shared resource issued by the directory service.
type Site struct {
	ID     string `json:"id"`
	Name   string `json:"displayName"`
	WebURL string `json:"webUrl"`
}

// SiteRole describes why a company references a site.
type SiteRole string

const (
	SiteRoleSystem   SiteRole = "system"
	SiteRoleProjects SiteRole = "projects"
	SiteRoleCustom   SiteRole = "custom"
)

// String returns the string representation of a SiteRole.
func (r SiteRole) String() string {
	return string(r)
}

// IsValid returns true if the role is one of the known roles.
func (r SiteRole) IsValid() bool {
	switch r {
	case SiteRoleSystem, SiteRoleProjects, SiteRoleCustom:
		return true
	default:
		return false
	}
}

// ParseSiteRole converts a stored role string, defaulting empty values to custom.
func ParseSiteRole(s string) (SiteRole, error) {
	if s == "" {
		return SiteRoleCustom, nil
	}
	role := SiteRole(s)
	if !role.IsValid() {
		return "", fmt.Errorf("unknown site role %q", s)
	}
	return role, nil
}

// OwnershipRecord is a per-(company, site) assertion stored in the ownership store.
// CompanyKey is the raw company identifier the record was filed under; two records
// for the same logical company may carry differently spelled keys.
type OwnershipRecord struct {
	CompanyKey         string    `json:"companyKey"`
	SiteID             string    `json:"siteId"`
	SiteName           string    `json:"siteName"`
	SiteURL            string    `json:"siteUrl"`
	Role               SiteRole  `json:"role"`
	VisibleInLeftPanel bool      `json:"visibleInLeftPanel"`
	UpdatedAt          time.Time `json:"updatedAt,omitempty"`

	// FromSupplemental is set when the record was only found by a per-company
	// fallback read because the broad read returned nothing for that company.
	// It is never persisted.
	FromSupplemental bool `json:"fromSupplemental,omitempty"`
}

// Clone returns a copy of the record.
func (r *OwnershipRecord) Clone() *OwnershipRecord {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// ReadSource selects how a broad ownership read is served.
type ReadSource string

const (
	// ReadFromServer bypasses every cache and asks the authoritative store.
	ReadFromServer ReadSource = "server"
	// ReadFromCache serves the last cached result when one is available.
	ReadFromCache ReadSource = "cache"
)

// String returns the string representation of a ReadSource.
func (s ReadSource) String() string {
	return string(s)
}
