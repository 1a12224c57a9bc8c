package services

import (
	"regexp"
	"strings"
)

// SiteCategory is the kind of reserved site a display name declares.
type SiteCategory string

const (
	SiteCategorySystem  SiteCategory = "system"
	SiteCategoryProject SiteCategory = "project"
)

// Reserved names have the form "<company> <dash> <suffix>" with dash one of
// '-', '–' or '—'. The prefix match is lazy so company names may contain dashes.
var (
	systemSiteName  = regexp.MustCompile(`(?i)^\s*(.+?)\s*[-–—]\s*DK\s+(?:Bas|Site)\s*$`)
	projectSiteName = regexp.MustCompile(`(?i)^\s*(.+?)\s*[-–—]\s*DK\s+Projekt\b.*$`)
)

// MatchSiteNamePattern reports whether name follows a reserved naming
// convention and returns the company prefix it declares.
func MatchSiteNamePattern(name string) (prefix string, category SiteCategory, ok bool) {
	if m := systemSiteName.FindStringSubmatch(name); m != nil {
		if p := strings.TrimSpace(m[1]); p != "" {
			return p, SiteCategorySystem, true
		}
	}
	if m := projectSiteName.FindStringSubmatch(name); m != nil {
		if p := strings.TrimSpace(m[1]); p != "" {
			return p, SiteCategoryProject, true
		}
	}
	return "", "", false
}
