package model

import "time"

// FamilyMember is a household member who can be assigned chores. Color and
// AvatarEmoji are purely presentational. HasPIN is derived from the stored
// hash; the hash itself never leaves the store layer.
type FamilyMember struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Color       string    `json:"color"`
	AvatarEmoji string    `json:"avatar_emoji"`
	HasPIN      bool      `json:"has_pin"`
	SortOrder   int       `json:"sort_order"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

const (
	PINMinLength = 4
	PINMaxLength = 8
)

// ValidPIN reports whether the raw PIN is acceptable: 4-8 digits, nothing
// else. Validated before hashing, so the rule lives here rather than in the
// HTTP layer.
func ValidPIN(pin string) bool {
	if len(pin) < PINMinLength || len(pin) > PINMaxLength {
		return false
	}
	for _, c := range pin {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
