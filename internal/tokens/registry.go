// Package tokens implements issuance, scoping, and validation of bearer
// tokens.
package tokens

import (
	"context"
	"crypto/rand"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/runtime-land/land/internal/models"
	apierrors "github.com/runtime-land/land/internal/pkg/errors"
	"github.com/runtime-land/land/internal/repository"
)

const (
	valueLength  = 40
	valueCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	// latestUsedWindow limits how often latest_used_at is rewritten.
	latestUsedWindow = 60 * time.Second

	// SessionTTL is the lifetime of tokens backing browser sessions.
	SessionTTL = 24 * time.Hour
	// CmdlineTTL is the lifetime of CLI tokens.
	CmdlineTTL = 365 * 24 * time.Hour
	// WorkerTTL is the lifetime of worker fleet tokens.
	WorkerTTL = 365 * 24 * time.Hour
)

// Registry issues and validates tokens. The is-new set is process-local UX
// state: a token stays "new" until the admin UI first reads it.
type Registry struct {
	tokens repository.TokenRepository
	users  repository.UserRepository
	logger *slog.Logger

	mu  sync.Mutex
	new map[int64]struct{}
}

// NewRegistry creates a token registry.
func NewRegistry(tokens repository.TokenRepository, users repository.UserRepository, logger *slog.Logger) *Registry {
	return &Registry{
		tokens: tokens,
		users:  users,
		logger: logger,
		new:    make(map[int64]struct{}),
	}
}

// GenerateValue returns a fresh random token value: 40 characters drawn
// uniformly from [A-Za-z0-9].
func GenerateValue() string {
	var b strings.Builder
	b.Grow(valueLength)
	max := big.NewInt(int64(len(valueCharset)))
	for i := 0; i < valueLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failing means the platform's entropy source is
			// broken; nothing sensible to degrade to.
			panic(err)
		}
		b.WriteByte(valueCharset[n.Int64()])
	}
	return b.String()
}

// DefaultTTL returns the token lifetime for a usage scope.
func DefaultTTL(usage models.TokenUsage) time.Duration {
	switch usage {
	case models.TokenUsageSession:
		return SessionTTL
	default:
		return CmdlineTTL
	}
}

// DefaultName returns a generated name for tokens issued without one.
func DefaultName(usage models.TokenUsage) string {
	return string(usage) + "-" + strings.ToLower(ulid.Make().String())
}

// Issue creates a token for the owner. It fails with a conflict when an
// active token with the same (owner, name, usage) exists, and retries on
// the astronomically-unlikely value collision.
func (r *Registry) Issue(ctx context.Context, ownerID int64, name string, ttl time.Duration, usage models.TokenUsage) (*models.Token, error) {
	if name == "" {
		name = DefaultName(usage)
	}
	if ttl <= 0 {
		ttl = DefaultTTL(usage)
	}

	existing, err := r.tokens.GetActiveByName(ctx, ownerID, name, usage)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apierrors.NewConflictError("token name already exists")
	}

	for attempt := 0; attempt < 3; attempt++ {
		token := &models.Token{
			UserID:    ownerID,
			Name:      name,
			Value:     GenerateValue(),
			Usage:     usage,
			Status:    models.TokenStatusActive,
			ExpiredAt: time.Now().Add(ttl),
		}
		err = r.tokens.Create(ctx, token)
		if err == nil {
			r.mu.Lock()
			r.new[token.ID] = struct{}{}
			r.mu.Unlock()
			return token, nil
		}
		if !repository.IsUniqueViolation(err) {
			return nil, err
		}
		// A violation here is either a value collision (retry with a fresh
		// value) or a concurrent issue with the same name (conflict).
		conflict, cerr := r.tokens.GetActiveByName(ctx, ownerID, name, usage)
		if cerr == nil && conflict != nil {
			return nil, apierrors.NewConflictError("token name already exists")
		}
	}
	return nil, err
}

// Verify returns the token and its owner iff the value matches an active,
// unexpired token of the required usage whose owner is active. On success
// it refreshes latest_used_at at most once per minute, best-effort.
func (r *Registry) Verify(ctx context.Context, value string, usage models.TokenUsage) (*models.Token, *models.User, error) {
	token, err := r.tokens.GetByValue(ctx, value, usage)
	if err != nil {
		return nil, nil, err
	}
	now := time.Now()
	if token == nil || !token.Usable(now) {
		return nil, nil, nil
	}

	user, err := r.users.GetByID(ctx, token.UserID)
	if err != nil {
		return nil, nil, err
	}
	if user == nil || !user.IsActive() {
		return nil, nil, nil
	}

	if now.Sub(token.LatestUsedAt) > latestUsedWindow {
		if terr := r.tokens.TouchLatestUsed(ctx, token.ID); terr != nil {
			r.logger.Warn("failed to touch token latest_used_at",
				slog.Int64("token_id", token.ID), slog.String("error", terr.Error()))
		}
	}

	return token, user, nil
}

// ListByUser lists a user's active tokens for one usage scope.
func (r *Registry) ListByUser(ctx context.Context, userID int64, usage models.TokenUsage) ([]*models.Token, error) {
	return r.tokens.ListByUser(ctx, userID, usage)
}

// GetByID retrieves a token by id.
func (r *Registry) GetByID(ctx context.Context, id int64) (*models.Token, error) {
	return r.tokens.GetByID(ctx, id)
}

// Expire soft-deletes a token.
func (r *Registry) Expire(ctx context.Context, id int64, name string) error {
	if err := r.tokens.SetExpired(ctx, id, name); err != nil {
		return err
	}
	r.UnsetNew(id)
	return nil
}

// IsNew reports whether a token has never been shown to its owner. This is
// a UI affordance, not a security property; it does not survive restarts.
func (r *Registry) IsNew(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.new[id]
	return ok
}

// UnsetNew clears the is-new flag once the token has been displayed.
func (r *Registry) UnsetNew(id int64) {
	r.mu.Lock()
	delete(r.new, id)
	r.mu.Unlock()
}
