package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/crudmeter/crudmeter/internal/auth"
	"github.com/crudmeter/crudmeter/internal/model"
	"github.com/crudmeter/crudmeter/internal/repository"
)

// ErrInvalidIdentity indicates a provisioning payload missing required fields.
var ErrInvalidIdentity = errors.New("invalid identity payload")

// UserStore is the storage contract for user provisioning and lookup.
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserBySubjectID(ctx context.Context, subjectID string) (*model.User, error)
	UpdateUserProfile(ctx context.Context, id, name, avatarURL string) error
}

// UserService provisions accounts and serves the dashboard profile.
type UserService struct {
	store          UserStore
	initialCredits int64
	keyEnv         string
	logger         *slog.Logger
}

// NewUserService creates a new UserService.
func NewUserService(store UserStore, initialCredits int64, keyEnv string, logger *slog.Logger) *UserService {
	return &UserService{
		store:          store,
		initialCredits: initialCredits,
		keyEnv:         keyEnv,
		logger:         logger.With("component", "users"),
	}
}

// Identity is a verified external identity, as produced by the sign-in flow.
type Identity struct {
	SubjectID string
	Email     string
	Name      string
	AvatarURL string
}

// ProvisionResult is the outcome of a sign-in.
type ProvisionResult struct {
	User    *model.User
	APIKey  string // Plaintext key, set only when Created
	Created bool
}

// Provision gets or creates the account for a verified identity. A new
// account receives its API key (returned in plaintext exactly once) and the
// configured initial credit grant. An existing account gets a profile
// refresh; its key and credit state are never touched.
func (s *UserService) Provision(ctx context.Context, identity Identity) (*ProvisionResult, error) {
	if identity.SubjectID == "" || identity.Email == "" {
		return nil, ErrInvalidIdentity
	}

	existing, err := s.store.GetUserBySubjectID(ctx, identity.SubjectID)
	if err == nil {
		return s.refreshProfile(ctx, existing, identity)
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	generated, err := auth.GenerateAPIKey(s.keyEnv)
	if err != nil {
		return nil, fmt.Errorf("generate api key: %w", err)
	}

	now := time.Now().UTC()
	user := &model.User{
		ID:        ulid.Make().String(),
		SubjectID: identity.SubjectID,
		Email:     identity.Email,
		Name:      identity.Name,
		AvatarURL: identity.AvatarURL,
		KeyHash:   generated.Hash,
		KeyPrefix: generated.Prefix,
		Credits:   s.initialCredits,
		Recharged: false,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		// Concurrent sign-ins for the same identity: the loser re-reads
		// the winner's row and continues as an existing account.
		if errors.Is(err, repository.ErrSubjectExists) {
			winner, err := s.store.GetUserBySubjectID(ctx, identity.SubjectID)
			if err != nil {
				return nil, fmt.Errorf("lookup user after create race: %w", err)
			}
			return &ProvisionResult{User: winner}, nil
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("user provisioned",
		"user_id", user.ID,
		"key_prefix", user.KeyPrefix,
		"initial_credits", user.Credits,
	)

	return &ProvisionResult{
		User:    user,
		APIKey:  generated.Plaintext,
		Created: true,
	}, nil
}

// Me retrieves the dashboard profile for a session-authenticated user.
func (s *UserService) Me(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// refreshProfile applies name/avatar changes from the identity provider.
func (s *UserService) refreshProfile(ctx context.Context, user *model.User, identity Identity) (*ProvisionResult, error) {
	if user.Name != identity.Name || user.AvatarURL != identity.AvatarURL {
		if err := s.store.UpdateUserProfile(ctx, user.ID, identity.Name, identity.AvatarURL); err != nil {
			return nil, fmt.Errorf("refresh profile: %w", err)
		}
		user.Name = identity.Name
		user.AvatarURL = identity.AvatarURL
	}

	return &ProvisionResult{User: user}, nil
}
