package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/crudmeter/crudmeter/internal/model"
)

// Common errors for user repository operations.
var (
	ErrUserNotFound  = errors.New("user not found")
	ErrSubjectExists = errors.New("subject already exists")
)

const userColumns = `
	id, subject_id, email, name, avatar_url, key_hash, key_prefix,
	credits, credits_used, recharged, created_at, updated_at
`

// CreateUser inserts a new user into the database.
func (r *Repository) CreateUser(ctx context.Context, user *model.User) error {
	query := `
		INSERT INTO users (
			id, subject_id, email, name, avatar_url, key_hash, key_prefix,
			credits, credits_used, recharged, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.pool.Exec(ctx, query,
		user.ID,
		user.SubjectID,
		user.Email,
		user.Name,
		user.AvatarURL,
		user.KeyHash,
		user.KeyPrefix,
		user.Credits,
		user.CreditsUsed,
		user.Recharged,
		user.CreatedAt,
		user.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrSubjectExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetUserByID retrieves a user by their internal ID.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanUser(r.pool.QueryRow(ctx, query, id))
}

// GetUserBySubjectID retrieves a user by their external identity subject.
func (r *Repository) GetUserBySubjectID(ctx context.Context, subjectID string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE subject_id = $1`
	return r.scanUser(r.pool.QueryRow(ctx, query, subjectID))
}

// UpdateUserProfile refreshes mutable profile fields (name, avatar).
// Credential and credit columns are deliberately untouchable here.
func (r *Repository) UpdateUserProfile(ctx context.Context, id, name, avatarURL string) error {
	query := `
		UPDATE users
		SET name = $2, avatar_url = $3, updated_at = $4
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id, name, avatarURL, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update user profile: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// GetCredentialsByKeyPrefix retrieves authentication candidates matching a
// key prefix. Used by the gate to find keys for hash verification.
func (r *Repository) GetCredentialsByKeyPrefix(ctx context.Context, prefix string) ([]*model.Credential, error) {
	query := `
		SELECT id, key_hash, credits
		FROM users
		WHERE key_prefix = $1
	`

	rows, err := r.pool.Query(ctx, query, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to get credentials by prefix: %w", err)
	}
	defer rows.Close()

	var creds []*model.Credential
	for rows.Next() {
		var cred model.Credential
		if err := rows.Scan(&cred.UserID, &cred.KeyHash, &cred.Credits); err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		creds = append(creds, &cred)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating credentials: %w", err)
	}

	return creds, nil
}

// ChargeCredit atomically spends one credit: decrement credits, increment
// credits_used, guarded by credits > 0 in the same statement. Returns the
// remaining balance and whether the charge applied. charged == false with a
// nil error means the guard failed (balance exhausted, possibly by a
// concurrent caller); nothing was mutated.
func (r *Repository) ChargeCredit(ctx context.Context, userID string) (remaining int64, charged bool, err error) {
	query := `
		UPDATE users
		SET credits = credits - 1,
		    credits_used = credits_used + 1,
		    updated_at = NOW()
		WHERE id = $1 AND credits > 0
		RETURNING credits
	`

	err = r.pool.QueryRow(ctx, query, userID).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Guard failed: no row matched, no mutation occurred.
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to charge credit: %w", err)
	}

	return remaining, true, nil
}

// RechargeOnce atomically grants the one-time top-up: add amount to credits
// and flip recharged, guarded by recharged = FALSE in the same statement.
// granted == false with a nil error means the flag was already consumed
// (possibly by a concurrent caller); nothing was mutated.
func (r *Repository) RechargeOnce(ctx context.Context, userID string, amount int64) (balance *model.CreditBalance, granted bool, err error) {
	query := `
		UPDATE users
		SET credits = credits + $2,
		    recharged = TRUE,
		    updated_at = NOW()
		WHERE id = $1 AND recharged = FALSE
		RETURNING credits, credits_used
	`

	var b model.CreditBalance
	b.UserID = userID
	b.Recharged = true

	err = r.pool.QueryRow(ctx, query, userID, amount).Scan(&b.Credits, &b.CreditsUsed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to recharge: %w", err)
	}

	return &b, true, nil
}

// scanUser scans a single row into a User model.
func (r *Repository) scanUser(row pgx.Row) (*model.User, error) {
	var user model.User

	err := row.Scan(
		&user.ID,
		&user.SubjectID,
		&user.Email,
		&user.Name,
		&user.AvatarURL,
		&user.KeyHash,
		&user.KeyPrefix,
		&user.Credits,
		&user.CreditsUsed,
		&user.Recharged,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	return &user, nil
}
