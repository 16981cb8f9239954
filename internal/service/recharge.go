package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/crudmeter/crudmeter/internal/metrics"
	"github.com/crudmeter/crudmeter/internal/model"
	"github.com/crudmeter/crudmeter/internal/repository"
)

// Recharge errors.
var (
	ErrUserNotFound     = errors.New("user not found")
	ErrAlreadyRecharged = errors.New("recharge already used")
)

// RechargeStore is the storage contract for the one-time top-up.
// RechargeOnce must flip the recharged flag and add the credits in one
// conditioned mutation, safe across processes.
type RechargeStore interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	RechargeOnce(ctx context.Context, userID string, amount int64) (*model.CreditBalance, bool, error)
}

// RechargeLogStore appends audit records for recharge attempts.
type RechargeLogStore interface {
	InsertRechargeLog(ctx context.Context, log *model.RechargeLog) error
}

// RechargeService grants each user their single allowed credit top-up.
// The amount is fixed at construction from configuration; callers can
// never supply their own.
type RechargeService struct {
	store          RechargeStore
	logs           RechargeLogStore
	amount         int64
	storageTimeout time.Duration
	logger         *slog.Logger
	metrics        metrics.Recorder
}

// NewRechargeService creates a new RechargeService. logs may be nil to
// disable attempt auditing.
func NewRechargeService(store RechargeStore, logs RechargeLogStore, amount int64, storageTimeout time.Duration, logger *slog.Logger, recorder metrics.Recorder) *RechargeService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &RechargeService{
		store:          store,
		logs:           logs,
		amount:         amount,
		storageTimeout: storageTimeout,
		logger:         logger.With("component", "recharge"),
		metrics:        recorder,
	}
}

// Amount returns the configured top-up size.
func (s *RechargeService) Amount() int64 {
	return s.amount
}

// Recharge grants the one-time top-up to a user. Exactly one call ever
// succeeds per user, no matter how many race: the conditioned update on the
// recharged flag arbitrates concurrent duplicates at the storage layer.
func (s *RechargeService) Recharge(ctx context.Context, userID string) (*model.CreditBalance, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.metrics.IncRechargeAttempt("not_found")
			return nil, ErrUserNotFound
		}
		s.metrics.IncRechargeAttempt("error")
		return nil, fmt.Errorf("load user: %w", err)
	}

	if user.Recharged {
		s.metrics.IncRechargeAttempt("already_recharged")
		s.recordAttempt(ctx, userID, false)
		return nil, ErrAlreadyRecharged
	}

	// Detached from the caller's context: once we decide to grant, a client
	// disconnect must not leave the mutation ambiguous.
	grantCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storageTimeout)
	defer cancel()

	balance, granted, err := s.store.RechargeOnce(grantCtx, userID, s.amount)
	if err != nil {
		s.metrics.IncRechargeAttempt("error")
		return nil, fmt.Errorf("recharge: %w", err)
	}
	if !granted {
		// Lost the race against a concurrent duplicate; nothing was mutated.
		s.metrics.IncRechargeAttempt("already_recharged")
		s.recordAttempt(ctx, userID, false)
		return nil, ErrAlreadyRecharged
	}

	s.metrics.IncRechargeAttempt("granted")
	s.recordAttempt(ctx, userID, true)

	s.logger.Info("recharge granted",
		"user_id", userID,
		"amount", s.amount,
		"credits", balance.Credits,
	)

	return balance, nil
}

// recordAttempt appends an audit row. Best-effort: a failed write never
// affects the recharge outcome.
func (s *RechargeService) recordAttempt(ctx context.Context, userID string, successful bool) {
	if s.logs == nil {
		return
	}

	log := &model.RechargeLog{
		ID:         ulid.Make().String(),
		UserID:     userID,
		Successful: successful,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.logs.InsertRechargeLog(context.WithoutCancel(ctx), log); err != nil {
		s.logger.Warn("recharge log write failed",
			"user_id", userID,
			"error", err,
		)
	}
}
