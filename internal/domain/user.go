package domain

import "time"

// Role gates which console subtree a user may open.
type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleUser  Role = "USER"
)

// Valid reports whether r is a role the platform issues.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// UserStatus represents lifecycle states for an account.
type UserStatus string

const (
	UserStatusActive    UserStatus = "ACTIVE"
	UserStatusSuspended UserStatus = "SUSPENDED"
)

// User is the backend model for platform accounts.
type User struct {
	ID                int64
	FirstName         string
	LastName          string
	Email             string
	PasswordHash      string
	Role              Role
	Status            UserStatus
	PreferredLanguage string
	Country           string
	AuthProvider      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Profile projects the account onto the shape the console caches.
func (u *User) Profile() UserProfile {
	return UserProfile{
		ID:                u.ID,
		FirstName:         u.FirstName,
		LastName:          u.LastName,
		Email:             u.Email,
		Role:              u.Role,
		PreferredLanguage: u.PreferredLanguage,
		Country:           u.Country,
	}
}

// UserProfile is the server-owned projection cached by the console.
type UserProfile struct {
	ID                int64  `json:"id"`
	FirstName         string `json:"firstName"`
	LastName          string `json:"lastName"`
	Email             string `json:"email"`
	Role              Role   `json:"role"`
	PreferredLanguage string `json:"preferredLanguage,omitempty"`
	Country           string `json:"country,omitempty"`
}

// DisplayName joins first and last name, falling back to the email.
func (p UserProfile) DisplayName() string {
	switch {
	case p.FirstName != "" && p.LastName != "":
		return p.FirstName + " " + p.LastName
	case p.FirstName != "":
		return p.FirstName
	case p.LastName != "":
		return p.LastName
	}
	return p.Email
}
