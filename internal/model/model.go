// Package model defines the domain types used across the application.
package model

import (
	"fmt"
	"time"
)

// Credential is the token pair used to authenticate against the Matter API.
// It is replaced wholesale on refresh and cleared when refresh fails.
type Credential struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Profile identifies the person or outlet behind a feed entry.
// AnyName may be empty; Domain is always set for publishers.
type Profile struct {
	AnyName string `json:"any_name"`
	Domain  string `json:"domain"`
}

// Tag is a user-assigned label on a feed entry.
type Tag struct {
	Name string `json:"name"`
}

// Annotation is a single highlight within a feed entry, optionally
// carrying a note. WordStart is its position in the source text and is
// the ordering key for materialization.
type Annotation struct {
	Text        string    `json:"text"`
	Note        string    `json:"note"`
	CreatedDate time.Time `json:"created_date"`
	WordStart   int       `json:"word_start"`
}

// FeedEntry is one unit of remote content: an article together with the
// user's annotations on it. Immutable once fetched.
type FeedEntry struct {
	ID                string       `json:"id"`
	Title             string       `json:"title"`
	URL               string       `json:"url"`
	Author            *Profile     `json:"author"`
	Publisher         *Profile     `json:"publisher"`
	NewsletterProfile *Profile     `json:"newsletter_profile"`
	Tags              []Tag        `json:"tags"`
	PublicationDate   *time.Time   `json:"publication_date"`
	Note              string       `json:"note"`
	Annotations       []Annotation `json:"my_annotations"`
}

// FeedPage is one page of the paginated highlights feed.
type FeedPage struct {
	Feed []FeedEntry `json:"feed"`
	Next string      `json:"next"`
}

// SyncInterval is the user-chosen automatic sync cadence in minutes.
// Manual disables automatic firing entirely.
type SyncInterval int

// Supported sync intervals.
const (
	IntervalManual        SyncInterval = -1
	IntervalEveryHalfHour SyncInterval = 30
	IntervalEveryHour     SyncInterval = 60
	IntervalEvery12Hours  SyncInterval = 60 * 12
	IntervalEvery24Hours  SyncInterval = 60 * 24
)

// DefaultInterval is used when the user has never chosen one.
const DefaultInterval = IntervalEveryHour

var intervalLabels = map[SyncInterval]string{
	IntervalManual:        "Manual",
	IntervalEveryHalfHour: "Every half hour",
	IntervalEveryHour:     "Every hour",
	IntervalEvery12Hours:  "Every 12 hours",
	IntervalEvery24Hours:  "Every 24 hours",
}

// String returns the settings-panel label for the interval.
func (i SyncInterval) String() string {
	if label, ok := intervalLabels[i]; ok {
		return label
	}
	return fmt.Sprintf("Every %d minutes", int(i))
}

// Minutes returns the interval length in minutes. Negative means manual.
func (i SyncInterval) Minutes() int { return int(i) }

// ParseInterval maps a settings-panel label back to an interval.
func ParseInterval(label string) (SyncInterval, error) {
	for interval, l := range intervalLabels {
		if l == label {
			return interval, nil
		}
	}
	return 0, fmt.Errorf("unknown sync interval %q", label)
}

// SyncLocation selects where materialized highlights are written.
type SyncLocation string

// Supported placement strategies.
const (
	LocationArticlePage SyncLocation = "Article Page"
	LocationDailyNote   SyncLocation = "Daily Note"
	LocationBoth        SyncLocation = "Article Page & Daily Note"
)

// DefaultLocation is used when the user has never chosen one.
const DefaultLocation = LocationArticlePage

// ParseLocation validates a placement strategy label.
func ParseLocation(label string) (SyncLocation, error) {
	switch SyncLocation(label) {
	case LocationArticlePage, LocationDailyNote, LocationBoth:
		return SyncLocation(label), nil
	}
	return "", fmt.Errorf("unknown sync location %q", label)
}

// SyncState is the persisted, process-wide state of the sync engine.
// IsSyncing and LastHeartbeat together act as a reclaimable lock: a cycle
// holds it by keeping IsSyncing true and the heartbeat fresh.
type SyncState struct {
	LastSync      time.Time
	IsSyncing     bool
	LastHeartbeat time.Time
	Interval      SyncInterval
	Location      SyncLocation
}
