package models

import "time"

// SiteStatus is the liveness of a site as last seen by the status monitor.
type SiteStatus string

const (
	SiteStatusChecking SiteStatus = "checking"
	SiteStatusLive     SiteStatus = "live"
	SiteStatusError    SiteStatus = "error"
)

// SiteStatusEntry is a cached liveness observation for one site.
type SiteStatusEntry struct {
	Status    SiteStatus `json:"status"`
	Reason    string     `json:"reason,omitempty"`
	CheckedAt time.Time  `json:"checkedAt"`
}
