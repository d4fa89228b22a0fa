// Package users implements sign-in against the external identity provider
// and the local user lifecycle.
package users

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"

	"github.com/runtime-land/land/internal/authprovider"
	"github.com/runtime-land/land/internal/models"
	apierrors "github.com/runtime-land/land/internal/pkg/errors"
	"github.com/runtime-land/land/internal/repository"
	"github.com/runtime-land/land/internal/tokens"
)

// Service signs users in and provisions accounts on first contact.
type Service struct {
	provider authprovider.Provider
	users    repository.UserRepository
	registry *tokens.Registry
	logger   *slog.Logger
}

// NewService creates a user service.
func NewService(provider authprovider.Provider, users repository.UserRepository, registry *tokens.Registry, logger *slog.Logger) *Service {
	return &Service{
		provider: provider,
		users:    users,
		registry: registry,
		logger:   logger,
	}
}

// SignIn validates the provider session, creating the account on first
// sight, and returns the user together with a fresh session token. The
// very first account becomes an admin.
func (s *Service) SignIn(ctx context.Context, session string) (*models.User, *models.Token, error) {
	identity, err := s.provider.Verify(ctx, session)
	if err != nil {
		return nil, nil, err
	}

	user, err := s.users.GetByOauthID(ctx, identity.OauthUserID)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		user, err = s.createFromIdentity(ctx, identity)
		if err != nil {
			return nil, nil, err
		}
		s.logger.Info("created user from identity provider",
			slog.Int64("user_id", user.ID),
			slog.String("role", string(user.Role)))
	}
	if !user.IsActive() {
		return nil, nil, apierrors.ErrForbidden.WithMessage("account is disabled")
	}

	name := "session-" + identity.OauthUserID
	// Reuse the active session token if one exists so repeated sign-ins do
	// not accumulate rows.
	token, err := s.registry.Issue(ctx, user.ID, name, tokens.SessionTTL, models.TokenUsageSession)
	if err != nil {
		apiErr := apierrors.AsAPIError(err)
		if apiErr.StatusCode != 409 {
			return nil, nil, err
		}
		if rerr := s.rotateSession(ctx, user.ID, name); rerr != nil {
			return nil, nil, rerr
		}
		token, err = s.registry.Issue(ctx, user.ID, name, tokens.SessionTTL, models.TokenUsageSession)
		if err != nil {
			return nil, nil, err
		}
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID); err != nil {
		s.logger.Warn("failed to record last login",
			slog.Int64("user_id", user.ID), slog.String("error", err.Error()))
	}
	return user, token, nil
}

// Verify resolves a bearer value to its user for the given scope.
func (s *Service) Verify(ctx context.Context, value string, usage models.TokenUsage) (*models.User, error) {
	_, user, err := s.registry.Verify(ctx, value, usage)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apierrors.ErrUnauthorized
	}
	return user, nil
}

func (s *Service) rotateSession(ctx context.Context, userID int64, name string) error {
	list, err := s.registry.ListByUser(ctx, userID, models.TokenUsageSession)
	if err != nil {
		return err
	}
	for _, t := range list {
		if t.Name == name {
			if err := s.registry.Expire(ctx, t.ID, t.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) createFromIdentity(ctx context.Context, identity *authprovider.Identity) (*models.User, error) {
	first, err := s.users.IsFirst(ctx)
	if err != nil {
		return nil, err
	}

	role := models.UserRoleNormal
	if first {
		role = models.UserRoleAdmin
	}

	// Accounts created through the identity provider never sign in with a
	// password; the stored hash is a random sentinel.
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	hash := argon2.IDKey(secret, salt, 1, 64*1024, 4, 32)

	oauthID := identity.OauthUserID
	user := &models.User{
		UUID:          uuid.NewString(),
		Email:         identity.Email,
		Name:          identity.Name,
		NickName:      identity.Name,
		Avatar:        identity.Avatar,
		Password:      hex.EncodeToString(hash),
		PasswordSalt:  hex.EncodeToString(salt),
		Status:        models.UserStatusActive,
		Role:          role,
		OauthUserID:   &oauthID,
		OauthProvider: "clerk",
	}
	if err := s.users.Create(ctx, user); err != nil {
		if repository.IsUniqueViolation(err) {
			// Concurrent first sign-in from the same identity.
			existing, gerr := s.users.GetByOauthID(ctx, identity.OauthUserID)
			if gerr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}
	user.LastLoginAt = time.Now()
	return user, nil
}
