package models

import "time"

// Role is the access level attached to a user. Roles are ordered:
// admin > publish > read.
type Role string

const (
	RoleRead    Role = "read"
	RolePublish Role = "publish"
	RoleAdmin   Role = "admin"
)

var roleRank = map[Role]int{
	RoleRead:    1,
	RolePublish: 2,
	RoleAdmin:   3,
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether r grants at least the access of min.
// Unknown roles rank below every known role.
func (r Role) AtLeast(min Role) bool {
	return roleRank[r] >= roleRank[min]
}

// ParseRole normalizes a role string, falling back to read for empty input.
func ParseRole(s string) (Role, bool) {
	if s == "" {
		return RoleRead, true
	}
	r := Role(s)
	return r, r.Valid()
}

// APIPassword is one labeled machine credential of a user. Only the salted
// hash is stored; the plaintext value is shown once at creation time.
type APIPassword struct {
	Label        string    `json:"label"`
	PasswordHash string    `json:"passwordHash"`
	Salt         string    `json:"salt"`
	CreatedAt    time.Time `json:"createdAt"`
}

// User is one record of the users file.
//
// Older files carry a single flat apiPasswordHash/apiPasswordSalt pair
// instead of the apiPasswords array; those records are presented as having
// one "default" credential without rewriting the file (see EffectiveAPIPasswords).
type User struct {
	ID           string        `json:"id"`
	Username     string        `json:"username"`
	PasswordHash string        `json:"passwordHash"`
	Salt         string        `json:"salt"`
	Role         Role          `json:"role"`
	APIPasswords []APIPassword `json:"apiPasswords,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`

	// Legacy single-credential fields, kept for back-compat reads.
	LegacyAPIPasswordHash string `json:"apiPasswordHash,omitempty"`
	LegacyAPIPasswordSalt string `json:"apiPasswordSalt,omitempty"`
}

// HasLegacyAPIPassword reports whether the record still uses the flat
// single-credential form.
func (u *User) HasLegacyAPIPassword() bool {
	return len(u.APIPasswords) == 0 && u.LegacyAPIPasswordHash != "" && u.LegacyAPIPasswordSalt != ""
}

// EffectiveAPIPasswords returns the credentials usable for Basic auth,
// viewing a legacy record as one "default" entry.
func (u *User) EffectiveAPIPasswords() []APIPassword {
	if u.HasLegacyAPIPassword() {
		return []APIPassword{{
			Label:        "default",
			PasswordHash: u.LegacyAPIPasswordHash,
			Salt:         u.LegacyAPIPasswordSalt,
			CreatedAt:    u.CreatedAt,
		}}
	}
	return u.APIPasswords
}

// UserInfo is the externally visible view of a user (no credential material).
type UserInfo struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Info returns the sanitized view of u.
func (u *User) Info() UserInfo {
	return UserInfo{
		ID:        u.ID,
		Username:  u.Username,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// APIPasswordInfo is the list view of one API password (labels and
// timestamps only, never hashes).
type APIPasswordInfo struct {
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"createdAt"`
}
