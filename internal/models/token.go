package models

import (
	"time"
)

// TokenUsage scopes a token to the surface it may authenticate against.
type TokenUsage string

const (
	TokenUsageSession TokenUsage = "session"
	TokenUsageCmdline TokenUsage = "cmdline"
	TokenUsageWorker  TokenUsage = "worker"
)

// Valid reports whether the usage is one of the known scopes.
func (u TokenUsage) Valid() bool {
	switch u {
	case TokenUsageSession, TokenUsageCmdline, TokenUsageWorker:
		return true
	default:
		return false
	}
}

// TokenStatus represents a token's lifecycle state.
type TokenStatus string

const (
	TokenStatusActive  TokenStatus = "active"
	TokenStatusExpired TokenStatus = "expired"
	TokenStatusDeleted TokenStatus = "deleted"
)

// Token is a bearer credential. (user_id, name, usage) is unique, and the
// opaque value is unique globally.
type Token struct {
	ID           int64       `json:"id" db:"id"`
	UserID       int64       `json:"user_id" db:"user_id"`
	Name         string      `json:"name" db:"name"`
	Value        string      `json:"value" db:"value"`
	Usage        TokenUsage  `json:"usage" db:"usage"`
	Status       TokenStatus `json:"status" db:"status"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at" db:"updated_at"`
	ExpiredAt    time.Time   `json:"expired_at" db:"expired_at"`
	LatestUsedAt time.Time   `json:"latest_used_at" db:"latest_used_at"`
}

// Usable reports whether the token can authenticate a request right now.
func (t *Token) Usable(now time.Time) bool {
	return t.Status == TokenStatusActive && now.Before(t.ExpiredAt)
}
