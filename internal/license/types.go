package license

import (
	"errors"
	"time"
)

// NotAvailable is the placeholder stored in session fields the matcher could not recover.
const NotAvailable = "N/A"

// ErrFileUnreadable is returned when a status dump cannot be read at all.
var ErrFileUnreadable = errors.New("license: file unreadable")

// Feature is one licensed capability reported by one tool.
type Feature struct {
	Name          string        `json:"feature"`
	TotalLicenses int           `json:"totalLicenses"`
	InUse         int           `json:"inUse"`
	Available     int           `json:"available"`
	Version       string        `json:"version"`
	Expiry        string        `json:"expiry"`
	Tool          string        `json:"tool"`
	Users         []string      `json:"users"`
	Sessions      []UserSession `json:"userDetails"`
}

// newFeature opens a feature from header fields. Available is derived here and never
// written anywhere else.
func newFeature(h Header, tool string) *Feature {
	return &Feature{
		Name:          h.Name,
		TotalLicenses: h.TotalIssued,
		InUse:         h.TotalInUse,
		Available:     h.TotalIssued - h.TotalInUse,
		Tool:          tool,
		Users:         []string{},
		Sessions:      []UserSession{},
	}
}

// addSession appends a session and records its username the first time it is seen.
func (f *Feature) addSession(s UserSession) {
	f.Sessions = append(f.Sessions, s)
	for _, u := range f.Users {
		if u == s.Username {
			return
		}
	}
	f.Users = append(f.Users, s.Username)
}

// UserSession is one seat-holding session under a Feature.
type UserSession struct {
	Username   string    `json:"username"`
	Host       string    `json:"host"`
	Port       string    `json:"port"`
	Version    string    `json:"version"`
	ProcessID  string    `json:"processId"`
	StartTime  string    `json:"startTime"`
	ObservedAt time.Time `json:"timestamp"`
}

// CountedSession is a UserSession annotated with how many sessions its user holds
// under the same feature.
type CountedSession struct {
	UserSession
	UsageCount int `json:"usageCount"`
}

// FeatureDetail is the per-feature view served to detail queries.
type FeatureDetail struct {
	Feature        string           `json:"feature"`
	Tool           string           `json:"tool"`
	Version        string           `json:"version"`
	Expiry         string           `json:"expiry"`
	TotalLicenses  int              `json:"totalLicenses"`
	InUse          int              `json:"inUse"`
	Available      int              `json:"available"`
	UserDetails    []CountedSession `json:"userDetails"`
	UserUsageCount map[string]int   `json:"userUsageCount"`
}
