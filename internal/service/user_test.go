package service

import (
	"context"
	"errors"
	"testing"

	"github.com/crudmeter/crudmeter/internal/auth"
	"github.com/crudmeter/crudmeter/internal/model"
	"github.com/crudmeter/crudmeter/internal/repository"
)

// provisionStore extends the in-memory user store with the create/lookup
// methods the provisioning flow needs, including the unique-subject check.
type provisionStore struct {
	*memUserStore

	createErr error
}

func newProvisionStore() *provisionStore {
	return &provisionStore{memUserStore: newMemUserStore()}
}

func (s *provisionStore) CreateUser(ctx context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	for _, existing := range s.users {
		if existing.SubjectID == user.SubjectID {
			return repository.ErrSubjectExists
		}
	}
	copied := *user
	s.users[user.ID] = &copied
	return nil
}

func (s *provisionStore) GetUserBySubjectID(ctx context.Context, subjectID string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.SubjectID == subjectID {
			copied := *user
			return &copied, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (s *provisionStore) UpdateUserProfile(ctx context.Context, id, name, avatarURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	user.Name = name
	user.AvatarURL = avatarURL
	return nil
}

func testIdentity() Identity {
	return Identity{
		SubjectID: "google-oauth2|12345",
		Email:     "alice@example.com",
		Name:      "Alice",
		AvatarURL: "https://example.com/alice.png",
	}
}

func TestProvision_NewUser(t *testing.T) {
	t.Parallel()

	store := newProvisionStore()
	svc := NewUserService(store, 4, auth.EnvLive, discardLogger())

	result, err := svc.Provision(context.Background(), testIdentity())
	if err != nil {
		t.Fatalf("Provision failed: %v", err)
	}

	if !result.Created {
		t.Error("Created should be true for a first sign-in")
	}
	if result.APIKey == "" {
		t.Fatal("new user should receive a plaintext API key")
	}
	if !auth.ValidateKeyFormat(result.APIKey) {
		t.Errorf("returned key %q has invalid format", result.APIKey)
	}
	if result.User.Credits != 4 {
		t.Errorf("Credits = %d, want 4", result.User.Credits)
	}
	if result.User.Recharged {
		t.Error("new user should not be marked recharged")
	}
	if result.User.KeyHash == result.APIKey {
		t.Error("stored hash must not equal the plaintext key")
	}

	ok, err := auth.VerifyKey(result.APIKey, result.User.KeyHash)
	if err != nil || !ok {
		t.Errorf("stored hash does not verify the issued key: ok=%v err=%v", ok, err)
	}
}

func TestProvision_ExistingUserKeepsKeyAndCredits(t *testing.T) {
	t.Parallel()

	store := newProvisionStore()
	svc := NewUserService(store, 4, auth.EnvLive, discardLogger())
	ctx := context.Background()

	first, err := svc.Provision(ctx, testIdentity())
	if err != nil {
		t.Fatalf("first Provision failed: %v", err)
	}

	// Simulate usage between sign-ins.
	store.mu.Lock()
	store.users[first.User.ID].Credits = 1
	store.users[first.User.ID].CreditsUsed = 3
	store.mu.Unlock()

	identity := testIdentity()
	identity.Name = "Alice Cooper"

	second, err := svc.Provision(ctx, identity)
	if err != nil {
		t.Fatalf("second Provision failed: %v", err)
	}

	if second.Created {
		t.Error("Created should be false for a returning user")
	}
	if second.APIKey != "" {
		t.Error("returning user must never receive a plaintext key")
	}
	if second.User.ID != first.User.ID {
		t.Errorf("ID = %q, want %q (same account)", second.User.ID, first.User.ID)
	}
	if second.User.KeyHash != first.User.KeyHash {
		t.Error("key hash must not change on re-sign-in")
	}
	if second.User.Name != "Alice Cooper" {
		t.Errorf("Name = %q, want refreshed profile", second.User.Name)
	}

	stored, _ := store.GetUserByID(ctx, first.User.ID)
	if stored.Credits != 1 || stored.CreditsUsed != 3 {
		t.Errorf("credit state = (%d, %d), want (1, 3) untouched", stored.Credits, stored.CreditsUsed)
	}
}

func TestProvision_InvalidIdentity(t *testing.T) {
	t.Parallel()

	svc := NewUserService(newProvisionStore(), 4, auth.EnvLive, discardLogger())

	cases := []struct {
		name     string
		identity Identity
	}{
		{"missing subject", Identity{Email: "a@b.com"}},
		{"missing email", Identity{SubjectID: "sub-1"}},
		{"empty", Identity{}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := svc.Provision(context.Background(), tc.identity)
			if !errors.Is(err, ErrInvalidIdentity) {
				t.Errorf("err = %v, want ErrInvalidIdentity", err)
			}
		})
	}
}

// racingStore misses the first subject lookup, reports a unique violation on
// create, and serves the winner's row on the re-read. This is the interleaving
// where two sign-ins for the same identity race past each other's lookup.
type racingStore struct {
	provisionStore
	winner  *model.User
	lookups int
}

func (s *racingStore) GetUserBySubjectID(ctx context.Context, subjectID string) (*model.User, error) {
	s.lookups++
	if s.lookups == 1 {
		return nil, repository.ErrUserNotFound
	}
	copied := *s.winner
	return &copied, nil
}

func (s *racingStore) CreateUser(ctx context.Context, user *model.User) error {
	return repository.ErrSubjectExists
}

func TestProvision_CreateRaceFallsBackToWinner(t *testing.T) {
	t.Parallel()

	identity := testIdentity()
	store := &racingStore{winner: &model.User{
		ID:        "winner-id",
		SubjectID: identity.SubjectID,
		Email:     identity.Email,
		Credits:   4,
	}}
	svc := NewUserService(store, 4, auth.EnvLive, discardLogger())

	result, err := svc.Provision(context.Background(), identity)
	if err != nil {
		t.Fatalf("raced Provision failed: %v", err)
	}
	if result.Created {
		t.Error("race loser must not report Created")
	}
	if result.APIKey != "" {
		t.Error("race loser must not receive a plaintext key")
	}
	if result.User.ID != "winner-id" {
		t.Errorf("ID = %q, want the winner's row", result.User.ID)
	}
}
