package authpw

import (
	"context"
	"errors"
	"testing"

	"gavel/api/internal/store"
)

// mockRoster is a mock implementation of RosterStore for testing
type mockRoster struct {
	owners map[string]store.Owner // team name -> owner
}

func newMockRoster() *mockRoster {
	return &mockRoster{owners: make(map[string]store.Owner)}
}

func (m *mockRoster) GetOwnerByTeamName(ctx context.Context, teamName string) (store.Owner, error) {
	if owner, ok := m.owners[teamName]; ok {
		return owner, nil
	}
	return store.Owner{}, errors.New("owner not found")
}

func (m *mockRoster) add(t *testing.T, teamName, passcode, role string) store.Owner {
	t.Helper()
	hash, err := HashPasscode(passcode)
	if err != nil {
		t.Fatalf("HashPasscode failed: %v", err)
	}
	owner := store.Owner{
		ID:           "own_" + teamName,
		DisplayName:  teamName + " Owner",
		TeamName:     teamName,
		Role:         role,
		PasscodeHash: hash,
	}
	m.owners[teamName] = owner
	return owner
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	roster := newMockRoster()
	roster.add(t, "Mud Dogs", "touchdown", "owner")
	svc := NewService(roster)

	t.Run("successful sign in", func(t *testing.T) {
		owner, err := svc.SignIn(ctx, SignInRequest{TeamName: "Mud Dogs", Passcode: "touchdown"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if owner.TeamName != "Mud Dogs" {
			t.Errorf("expected team Mud Dogs, got %s", owner.TeamName)
		}
	})

	t.Run("trims team name", func(t *testing.T) {
		_, err := svc.SignIn(ctx, SignInRequest{TeamName: "  Mud Dogs  ", Passcode: "touchdown"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("wrong passcode", func(t *testing.T) {
		_, err := svc.SignIn(ctx, SignInRequest{TeamName: "Mud Dogs", Passcode: "fumble"})
		if !errors.Is(err, ErrBadCredentials) {
			t.Errorf("expected ErrBadCredentials, got %v", err)
		}
	})

	t.Run("unknown team", func(t *testing.T) {
		_, err := svc.SignIn(ctx, SignInRequest{TeamName: "No Such Team", Passcode: "touchdown"})
		if !errors.Is(err, ErrBadCredentials) {
			t.Errorf("expected ErrBadCredentials, got %v", err)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		if _, err := svc.SignIn(ctx, SignInRequest{}); err == nil {
			t.Error("expected error for missing fields")
		}
	})
}

func TestHashPasscode(t *testing.T) {
	t.Run("too short", func(t *testing.T) {
		if _, err := HashPasscode("abc"); err == nil {
			t.Error("expected error for short passcode")
		}
	})

	t.Run("hash verifies", func(t *testing.T) {
		hash, err := HashPasscode("hail-mary")
		if err != nil {
			t.Fatalf("HashPasscode failed: %v", err)
		}
		if hash == "hail-mary" {
			t.Error("hash must not equal the plaintext passcode")
		}

		roster := newMockRoster()
		roster.owners["Ice Box"] = store.Owner{TeamName: "Ice Box", PasscodeHash: hash}
		svc := NewService(roster)
		if _, err := svc.SignIn(context.Background(), SignInRequest{TeamName: "Ice Box", Passcode: "hail-mary"}); err != nil {
			t.Errorf("expected hash to verify: %v", err)
		}
	})
}
