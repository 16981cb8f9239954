// Package gate implements the credit-metering gate: it authenticates an API
// key and spends exactly one credit as a single admission decision. Every
// metered request passes through here before any business logic runs.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/crudmeter/crudmeter/internal/auth"
	"github.com/crudmeter/crudmeter/internal/metrics"
	"github.com/crudmeter/crudmeter/internal/model"
)

// Gate errors. All are terminal for the current request; the gate never
// retries on its own.
var (
	// ErrMissingCredential indicates no API key was supplied at all.
	ErrMissingCredential = errors.New("missing credential")
	// ErrInvalidKey indicates a supplied key that matches no user.
	ErrInvalidKey = errors.New("invalid API key")
	// ErrInsufficientCredits indicates a valid key whose balance is exhausted.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrStorageUnavailable indicates the credential store failed or timed out.
	ErrStorageUnavailable = errors.New("credential storage unavailable")
)

// CredentialStore is the storage contract the gate builds on. ChargeCredit
// must be a single conditioned mutation at the storage layer: check and
// decrement in one atomic operation, safe across processes. The gate never
// composes its own read-then-write.
type CredentialStore interface {
	GetCredentialsByKeyPrefix(ctx context.Context, prefix string) ([]*model.Credential, error)
	ChargeCredit(ctx context.Context, userID string) (remaining int64, charged bool, err error)
}

// IdentityCache caches verified key -> user id mappings so hot keys skip the
// Argon2id verification. Implementations must never cache credit state.
type IdentityCache interface {
	GetIdentity(ctx context.Context, cacheKey string) (string, error)
	SetIdentity(ctx context.Context, cacheKey, userID string) error
}

// Gate authorizes and meters API requests against a credential store.
type Gate struct {
	store          CredentialStore
	cache          IdentityCache
	logger         *slog.Logger
	metrics        metrics.Recorder
	storageTimeout time.Duration
}

// New creates a Gate. cache may be nil to disable identity caching.
func New(store CredentialStore, cache IdentityCache, logger *slog.Logger, recorder metrics.Recorder, storageTimeout time.Duration) *Gate {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Gate{
		store:          store,
		cache:          cache,
		logger:         logger.With("component", "gate"),
		metrics:        recorder,
		storageTimeout: storageTimeout,
	}
}

// Result is the outcome of a successful admission.
type Result struct {
	User      model.UserRef
	Remaining int64 // Credits left after this charge
}

// AuthorizeAndCharge validates the supplied credential and, if it resolves to
// a user with available credits, deducts exactly one credit. Admission and
// billing are indivisible: a request is never served unbilled and never
// billed without being served. There is no refund path; a credit spent on a
// request whose business logic later fails stays spent.
func (g *Gate) AuthorizeAndCharge(ctx context.Context, rawCredential string) (*Result, error) {
	key := normalizeCredential(rawCredential)
	if key == "" {
		g.metrics.IncGateRejected("missing_credential")
		return nil, ErrMissingCredential
	}

	userID, err := g.resolveIdentity(ctx, key)
	if err != nil {
		return nil, err
	}

	// The charge is detached from the caller's context: once admission is
	// decided, a client disconnect must not leave the mutation half-applied
	// or ambiguous. The storage timeout still bounds the call.
	chargeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.storageTimeout)
	defer cancel()

	start := time.Now()
	remaining, charged, err := g.store.ChargeCredit(chargeCtx, userID)
	g.metrics.ObserveChargeDuration(time.Since(start))

	if err != nil {
		g.metrics.IncGateRejected("storage_error")
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if !charged {
		// Lost the race or balance already exhausted; nothing was mutated.
		g.metrics.IncGateRejected("insufficient_credits")
		return nil, ErrInsufficientCredits
	}

	g.metrics.IncGateAllowed()

	return &Result{
		User:      model.UserRef{ID: userID},
		Remaining: remaining,
	}, nil
}

// resolveIdentity maps a plaintext key to a user id, via the identity cache
// when possible, falling back to prefix lookup plus hash verification.
func (g *Gate) resolveIdentity(ctx context.Context, key string) (string, error) {
	cacheKey := auth.QuickHash(key)

	if g.cache != nil {
		if userID, _ := g.cache.GetIdentity(ctx, cacheKey); userID != "" {
			return userID, nil
		}
	}

	parsed, err := auth.ParseAPIKey(key)
	if err != nil {
		g.metrics.IncGateRejected("invalid_key")
		return "", ErrInvalidKey
	}

	lookupCtx, cancel := context.WithTimeout(ctx, g.storageTimeout)
	defer cancel()

	candidates, err := g.store.GetCredentialsByKeyPrefix(lookupCtx, parsed.Prefix)
	if err != nil {
		g.metrics.IncGateRejected("storage_error")
		return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	// Verify against each candidate (handles prefix collisions).
	var matched *model.Credential
	for _, cand := range candidates {
		ok, err := auth.VerifyKey(key, cand.KeyHash)
		if err != nil {
			continue
		}
		if ok {
			matched = cand
			break
		}
	}

	if matched == nil {
		g.metrics.IncGateRejected("invalid_key")
		return "", ErrInvalidKey
	}

	// Early rejection on an exhausted balance. Purely advisory: the
	// conditioned charge is what actually guards the race.
	if matched.Credits <= 0 {
		g.metrics.IncGateRejected("insufficient_credits")
		return "", ErrInsufficientCredits
	}

	if g.cache != nil {
		if err := g.cache.SetIdentity(ctx, cacheKey, matched.UserID); err != nil {
			g.logger.Warn("identity cache write failed", "error", err)
		}
	}

	return matched.UserID, nil
}

// normalizeCredential strips an optional Bearer wrapper and whitespace.
// Both "Bearer cm_live_..." and a bare key are accepted. A Bearer scheme
// with no token at all (net/http trims the trailing space, leaving the
// literal "Bearer") counts as no credential, not an invalid one.
func normalizeCredential(raw string) string {
	cred := strings.TrimSpace(raw)
	if cred == "Bearer" {
		return ""
	}
	if strings.HasPrefix(cred, "Bearer ") {
		cred = strings.TrimSpace(strings.TrimPrefix(cred, "Bearer "))
	}
	return cred
}
