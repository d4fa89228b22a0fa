// Package models defines the persisted row types shared by the repository
// layer, the HTTP handlers, and the background loops.
package models

import (
	"time"
)

// UserRole represents a user's privilege level.
type UserRole string

const (
	UserRoleNormal UserRole = "normal"
	UserRoleAdmin  UserRole = "admin"
)

// UserStatus represents a user's account status.
type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// User is an identity known to the platform. Users are created the first
// time the auth provider returns an identity we have not seen; they are
// never destroyed, only disabled.
type User struct {
	ID            int64      `json:"id" db:"id"`
	UUID          string     `json:"uuid" db:"uuid"`
	Email         string     `json:"email" db:"email"`
	Name          string     `json:"name" db:"name"`
	NickName      string     `json:"nick_name" db:"nick_name"`
	Avatar        string     `json:"avatar" db:"avatar"`
	Password      string     `json:"-" db:"password"`
	PasswordSalt  string     `json:"-" db:"password_salt"`
	Status        UserStatus `json:"status" db:"status"`
	Role          UserRole   `json:"role" db:"role"`
	OauthUserID   *string    `json:"oauth_user_id,omitempty" db:"oauth_user_id"`
	OauthProvider string     `json:"oauth_provider" db:"oauth_provider"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
	LastLoginAt   time.Time  `json:"last_login_at" db:"last_login_at"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == UserRoleAdmin
}

// IsActive reports whether the user may authenticate.
func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}
