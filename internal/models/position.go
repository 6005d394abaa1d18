package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PositionID identifies a canonical position held by its owner.
type PositionID string

// ReplicaID identifies a recipient's local copy of a shared position.
type ReplicaID string

// UserID identifies a participant.
type UserID string

// CommentID identifies a discussion comment.
type CommentID string

// NewPositionID returns a fresh canonical position id.
func NewPositionID() PositionID { return PositionID(uuid.NewString()) }

// NewReplicaID returns a fresh replica id.
func NewReplicaID() ReplicaID { return ReplicaID(uuid.NewString()) }

// NewCommentID returns a fresh comment id.
func NewCommentID() CommentID { return CommentID(uuid.NewString()) }

// User is a participant as seen by other participants.
type User struct {
	ID   UserID `json:"id"`
	Name string `json:"name"`
}

// AccessLevel controls what a recipient may do with a shared position.
type AccessLevel string

const (
	AccessView    AccessLevel = "view"
	AccessComment AccessLevel = "comment" // comments and tags
)

// AssetType represents the instrument type of a leg.
type AssetType string

const (
	AssetStock  AssetType = "stock"
	AssetOption AssetType = "option"
)

// OptionType represents the right of an option leg.
type OptionType string

const (
	OptionCall OptionType = "call"
	OptionPut  OptionType = "put"
)

// Leg is a single instrument of a position (stock or option).
type Leg struct {
	ID         string          `json:"id"`
	AssetType  AssetType       `json:"assetType"`
	Symbol     string          `json:"symbol"`
	OptionType OptionType      `json:"optionType,omitempty"`
	Strike     decimal.Decimal `json:"strike"`
	Expiration *time.Time      `json:"expiration,omitempty"`
	Quantity   decimal.Decimal `json:"quantity"`
	Premium    decimal.Decimal `json:"premium"`
}

// Comment is a discussion entry on a position.
type Comment struct {
	ID        CommentID `json:"id"`
	UserID    UserID    `json:"userId"`
	UserName  string    `json:"userName"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"timestamp"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Share records one recipient of a canonical position.
type Share struct {
	RecipientID UserID      `json:"recipientId"`
	Access      AccessLevel `json:"accessLevel"`
	SharedAt    time.Time   `json:"sharedAt"`
}

// Position is the canonical, owner-held record of a trade idea.
// OwnerID never changes after creation.
type Position struct {
	ID           PositionID         `json:"id"`
	OwnerID      UserID             `json:"ownerId"`
	Symbol       string             `json:"symbol"`
	Account      string             `json:"account"`
	StrategyType string             `json:"strategyType,omitempty"`
	Legs         []Leg              `json:"legs"`
	Tags         []string           `json:"tags"`
	Comments     []Comment          `json:"comments"`
	ActivityLog  []ActivityLogEntry `json:"activityLog"`
	SharedWith   []UserID           `json:"sharedWith"`
	Shares       []Share            `json:"shares,omitempty"`
	SharedAt     *time.Time         `json:"sharedAt,omitempty"`
	SharedBy     *User              `json:"sharedBy,omitempty"`
	CreatedAt    time.Time          `json:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}

// IsSharedWith reports whether userID is a recipient of the position.
func (p *Position) IsSharedWith(userID UserID) bool {
	for _, id := range p.SharedWith {
		if id == userID {
			return true
		}
	}
	return false
}

// CanAccess reports whether userID is the owner or a recipient.
func (p *Position) CanAccess(userID UserID) bool {
	return p.OwnerID == userID || p.IsSharedWith(userID)
}

// AccessFor returns the access level granted to a recipient. Recipients
// shared before access levels existed default to comment access.
func (p *Position) AccessFor(userID UserID) AccessLevel {
	for _, s := range p.Shares {
		if s.RecipientID == userID {
			return s.Access
		}
	}
	if p.IsSharedWith(userID) {
		return AccessComment
	}
	return ""
}

// Clone returns a deep copy of the position.
func (p Position) Clone() Position {
	out := p
	out.Legs = CloneLegs(p.Legs)
	out.Tags = append([]string(nil), p.Tags...)
	out.Comments = append([]Comment(nil), p.Comments...)
	out.ActivityLog = CloneActivityLog(p.ActivityLog)
	out.SharedWith = append([]UserID(nil), p.SharedWith...)
	out.Shares = append([]Share(nil), p.Shares...)
	if p.SharedAt != nil {
		t := *p.SharedAt
		out.SharedAt = &t
	}
	if p.SharedBy != nil {
		u := *p.SharedBy
		out.SharedBy = &u
	}
	return out
}

// CloneLegs deep-copies a leg slice.
func CloneLegs(legs []Leg) []Leg {
	if legs == nil {
		return nil
	}
	out := make([]Leg, len(legs))
	for i, l := range legs {
		out[i] = l
		if l.Expiration != nil {
			t := *l.Expiration
			out[i].Expiration = &t
		}
	}
	return out
}

// NormalizeTags returns the tags as a sorted set without duplicates or blanks.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// SortComments orders comments by ascending timestamp, keeping the
// relative order of comments with equal timestamps.
func SortComments(comments []Comment) {
	sort.SliceStable(comments, func(i, j int) bool {
		return comments[i].CreatedAt.Before(comments[j].CreatedAt)
	})
}
