// Package authpw provides team-name/passcode authentication against the roster.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"gavel/api/internal/store"
)

// ErrBadCredentials is returned for any unknown team or passcode mismatch.
// Both cases collapse to one error so a caller cannot probe the roster.
var ErrBadCredentials = errors.New("invalid team name or passcode")

// RosterStore defines the storage interface for sign-in
type RosterStore interface {
	GetOwnerByTeamName(ctx context.Context, teamName string) (store.Owner, error)
}

// Service verifies team passcodes
type Service struct {
	store RosterStore
}

// NewService creates a new passcode auth service
func NewService(store RosterStore) *Service {
	return &Service{store: store}
}

// SignInRequest contains sign-in parameters
type SignInRequest struct {
	TeamName string
	Passcode string
}

// SignIn authenticates a team owner by passcode
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (store.Owner, error) {
	teamName := strings.TrimSpace(req.TeamName)
	if teamName == "" || req.Passcode == "" {
		return store.Owner{}, errors.New("team name and passcode are required")
	}

	owner, err := s.store.GetOwnerByTeamName(ctx, teamName)
	if err != nil {
		return store.Owner{}, ErrBadCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(owner.PasscodeHash), []byte(req.Passcode)); err != nil {
		return store.Owner{}, ErrBadCredentials
	}

	return owner, nil
}

// HashPasscode hashes a passcode for storage
func HashPasscode(passcode string) (string, error) {
	if len(passcode) < 4 {
		return "", errors.New("passcode must be at least 4 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(passcode), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash passcode: %w", err)
	}
	return string(hash), nil
}
