// Package identity answers who the current user is and whom they may share
// positions with.
package identity

import (
	"sort"

	"tradeshare/internal/models"
)

// Provider supplies the acting user and the users they can share with.
type Provider interface {
	CurrentUser() models.User
	ValidRecipients() []models.User
	IsValidRecipient(id models.UserID) bool
}

// Static is a Provider built from fixed configuration.
type Static struct {
	user       models.User
	recipients map[models.UserID]models.User
}

// NewStatic creates a provider for user. The current user is never a valid
// recipient, and duplicate recipients collapse to one.
func NewStatic(user models.User, recipients []models.User) *Static {
	s := &Static{
		user:       user,
		recipients: make(map[models.UserID]models.User, len(recipients)),
	}
	for _, r := range recipients {
		if r.ID == "" || r.ID == user.ID {
			continue
		}
		s.recipients[r.ID] = r
	}
	return s
}

// CurrentUser returns the acting user.
func (s *Static) CurrentUser() models.User {
	return s.user
}

// ValidRecipients returns the configured recipients sorted by id.
func (s *Static) ValidRecipients() []models.User {
	out := make([]models.User, 0, len(s.recipients))
	for _, r := range s.recipients {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IsValidRecipient reports whether id may receive a share.
func (s *Static) IsValidRecipient(id models.UserID) bool {
	_, ok := s.recipients[id]
	return ok
}

// Lookup returns the user with id, including the current user.
func (s *Static) Lookup(id models.UserID) (models.User, bool) {
	if id == s.user.ID {
		return s.user, true
	}
	u, ok := s.recipients[id]
	return u, ok
}
