package models

import "time"

// Group is a reusable member list that scopes a set of expenses. Membership
// constrains which scopes a user may post into; it does not participate in
// balance algebra (spec.md §3).
type Group struct {
	ID        string
	Name      string
	Members   map[string]struct{}
	CreatorID string
	CreatedAt time.Time
	DeletedAt *time.Time
}

// IsMember reports whether userID belongs to the group.
func (g *Group) IsMember(userID string) bool {
	if g == nil {
		return false
	}
	_, ok := g.Members[userID]
	return ok
}

// IsDeleted reports whether the group has been soft-deleted by its creator.
func (g *Group) IsDeleted() bool {
	return g != nil && g.DeletedAt != nil
}
