package snapshot

import "time"

// LinkFields carries the caller-settable fields of a link for add/update.
type LinkFields struct {
	Name        string
	URL         string
	Description string
	Category    string
}

// AddLink prepends a new link and records an "added" activity. The caller
// supplies the generated ids and timestamps so the transform stays
// deterministic and replayable after a conflict reload.
func (s *Snapshot) AddLink(l Link, activityID string, limit int) {
	s.Links = append([]Link{l}, s.Links...)
	s.recordActivity(activityID, ActivityAdded, l.Name, l.CreatedAt, limit)
}

// UpdateLink overwrites the caller-settable fields of the link with the
// given id, stamps UpdatedAt, and records an "edited" activity.
func (s *Snapshot) UpdateLink(id string, fields LinkFields, now time.Time, activityID string, limit int) (Link, error) {
	i := s.FindLink(id)
	if i < 0 {
		return Link{}, ErrLinkNotFound
	}
	l := s.Links[i]
	l.Name = fields.Name
	l.URL = fields.URL
	l.Description = fields.Description
	l.Category = fields.Category
	t := now
	l.UpdatedAt = &t
	s.Links[i] = l
	s.recordActivity(activityID, ActivityEdited, l.Name, now, limit)
	return l, nil
}

// DeleteLink removes the link with the given id and records a "deleted"
// activity named after the removed link.
func (s *Snapshot) DeleteLink(id string, now time.Time, activityID string, limit int) (Link, error) {
	i := s.FindLink(id)
	if i < 0 {
		return Link{}, ErrLinkNotFound
	}
	l := s.Links[i]
	s.Links = append(s.Links[:i], s.Links[i+1:]...)
	s.recordActivity(activityID, ActivityDeleted, l.Name, now, limit)
	return l, nil
}

// ClickLink increments the click counter of the link with the given id and
// records a "clicked" activity. Clicks only ever go up.
func (s *Snapshot) ClickLink(id string, now time.Time, activityID string, limit int) (Link, error) {
	i := s.FindLink(id)
	if i < 0 {
		return Link{}, ErrLinkNotFound
	}
	s.Links[i].Clicks++
	l := s.Links[i]
	s.recordActivity(activityID, ActivityClicked, l.Name, now, limit)
	return l, nil
}

// recordActivity prepends one entry and truncates the tail past limit.
// A limit <= 0 falls back to DefaultActivityCap.
func (s *Snapshot) recordActivity(id string, typ ActivityType, linkName string, ts time.Time, limit int) {
	if limit <= 0 {
		limit = DefaultActivityCap
	}
	s.Activities = append([]Activity{{
		ID:        id,
		Type:      typ,
		LinkName:  linkName,
		Timestamp: ts,
	}}, s.Activities...)
	if len(s.Activities) > limit {
		s.Activities = s.Activities[:limit]
	}
}
