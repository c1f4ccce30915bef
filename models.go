package anihive

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Profile is the public profile of a user, keyed by the identity user id.
type Profile struct {
	bun.BaseModel `bun:"table:profiles,alias:prf"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	Username      string     `bun:"username" json:"username"`
	Avatar        *string    `bun:"avatar" json:"avatar"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// BelongsTo reports whether the profile is the one of userID.
func (p *Profile) BelongsTo(userID string) bool {
	if p == nil || userID == "" {
		return false
	}
	return strings.EqualFold(p.ID.String(), userID)
}

// AvatarURL returns the avatar or an empty string.
func (p *Profile) AvatarURL() string {
	if p == nil || p.Avatar == nil {
		return ""
	}
	return *p.Avatar
}

// DisplayName returns the username, falling back to the local part of email.
func (p *Profile) DisplayName(email string) string {
	if p != nil && p.Username != "" {
		return p.Username
	}
	if name, _, ok := strings.Cut(email, "@"); ok {
		return name
	}
	return email
}
