// Package users implements core.UserService: password-based account
// creation and authentication, alongside the passwordless flows in
// auth/magiclink and auth/oauthfed.
package users

import (
	"context"

	"github.com/google/uuid"

	"github.com/vaultgate/auth/core"
	"github.com/vaultgate/auth/crypto"
)

// Service implements core.UserService.
type Service struct {
	users  core.UserStore
	hasher *crypto.PasswordHasher
	clock  core.Clock
}

// NewService creates a new user service.
func NewService(users core.UserStore, clock core.Clock) *Service {
	return &Service{users: users, hasher: crypto.NewPasswordHasher(), clock: clock}
}

// Authenticate verifies email/password and returns the matching user.
func (s *Service) Authenticate(ctx context.Context, tenantID, email, password string) (*core.User, error) {
	user, err := s.users.GetByEmail(ctx, tenantID, email)
	if err != nil {
		return nil, core.NewError(core.ErrUnauthenticated, "invalid credentials", err)
	}

	hash, err := s.users.GetPassword(ctx, user.ID)
	if err != nil {
		return nil, core.NewError(core.ErrUnauthenticated, "invalid credentials", err)
	}

	ok, err := s.hasher.Verify(password, hash)
	if err != nil || !ok {
		return nil, core.NewError(core.ErrUnauthenticated, "invalid credentials", err)
	}

	if user.Status != "active" {
		return nil, core.NewError(core.ErrForbidden, "account disabled", nil)
	}

	return user, nil
}

// Create registers a new user without a password (e.g. pending a
// magic-link or OAuth-federation first login). Callers that collect a
// password at signup follow with SetPassword.
func (s *Service) Create(ctx context.Context, tenantID, email, displayName string) (*core.User, error) {
	now := s.clock.Now()
	user := &core.User{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Email:     email,
		Status:    "active",
		CreatedAt: now,
		UpdatedAt: &now,
	}
	if displayName != "" {
		user.DisplayName = &displayName
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, core.NewError(core.ErrConflict, "user already exists", err)
	}
	return user, nil
}

// SetPassword hashes and stores a new password for userID.
func (s *Service) SetPassword(ctx context.Context, tenantID, userID, password string) error {
	if _, err := s.users.GetByID(ctx, tenantID, userID); err != nil {
		return core.NewError(core.ErrNotFound, "user not found", err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return core.NewError(core.ErrInternal, "hash password", err)
	}

	if err := s.users.SetPassword(ctx, userID, hash); err != nil {
		return core.NewError(core.ErrInternal, "store password", err)
	}
	return nil
}
