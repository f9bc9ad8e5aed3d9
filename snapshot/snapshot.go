// Package snapshot defines the persisted state of the link tracker: an
// ordered list of links plus a bounded, newest-first activity log.
//
// A Snapshot is the whole document — backends load and save it wholesale,
// and the coordinator replaces its cached copy only after a confirmed write.
// Transforms never run on the live cache; callers work on a Clone.
package snapshot

import (
	"errors"
	"time"
)

// ErrLinkNotFound is returned by transforms that target a link id absent
// from the snapshot. The snapshot is left unchanged.
var ErrLinkNotFound = errors.New("link not found")

// ActivityType classifies one audit-log entry.
type ActivityType string

const (
	ActivityAdded   ActivityType = "added"
	ActivityEdited  ActivityType = "edited"
	ActivityDeleted ActivityType = "deleted"
	ActivityClicked ActivityType = "clicked"
)

// DefaultActivityCap is the canonical activity retention length.
const DefaultActivityCap = 50

// Link is one tracked bookmark.
type Link struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	URL         string     `json:"url"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Clicks      int        `json:"clicks"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

// Activity is one audit-log entry recording a mutation event.
type Activity struct {
	ID        string       `json:"id"`
	Type      ActivityType `json:"type"`
	LinkName  string       `json:"linkName"`
	Timestamp time.Time    `json:"timestamp"`
}

// Snapshot is the full persisted state. Links and Activities are both
// ordered newest-first.
type Snapshot struct {
	Links      []Link     `json:"links"`
	Activities []Activity `json:"activities"`
}

// Empty returns a snapshot with non-nil, zero-length collections so it
// serializes as [] rather than null.
func Empty() Snapshot {
	return Snapshot{Links: []Link{}, Activities: []Activity{}}
}

// Clone returns a deep copy. Link.UpdatedAt pointers are duplicated so the
// copy shares no mutable state with the original.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Links:      make([]Link, len(s.Links)),
		Activities: make([]Activity, len(s.Activities)),
	}
	copy(out.Links, s.Links)
	copy(out.Activities, s.Activities)
	for i, l := range out.Links {
		if l.UpdatedAt != nil {
			t := *l.UpdatedAt
			out.Links[i].UpdatedAt = &t
		}
	}
	return out
}

// FindLink returns the index of the link with the given id, or -1.
func (s Snapshot) FindLink(id string) int {
	for i, l := range s.Links {
		if l.ID == id {
			return i
		}
	}
	return -1
}
