package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/crudmeter/crudmeter/internal/model"
)

// UsageRepository provides database access for usage events and recharge logs.
type UsageRepository struct {
	repo *Repository
}

// NewUsageRepository creates a new UsageRepository.
func NewUsageRepository(repo *Repository) *UsageRepository {
	return &UsageRepository{repo: repo}
}

// BulkInsert inserts multiple usage events with idempotency via ON CONFLICT DO NOTHING.
// The event_id (Redis stream ID) deduplicates redelivered messages.
func (r *UsageRepository) BulkInsert(ctx context.Context, events []*model.UsageEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}

	query := `
		INSERT INTO api_usage (id, event_id, user_id, endpoint, method, status_code, requested_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (event_id) DO NOTHING
	`

	for _, event := range events {
		batch.Queue(query,
			event.ID,
			event.EventID,
			event.UserID,
			event.Endpoint,
			event.Method,
			event.StatusCode,
			event.RequestedAt,
		)
	}

	results := r.repo.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < len(events); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("batch insert event %d: %w", i, err)
		}
	}

	return nil
}

// InsertRechargeLog appends a recharge attempt record.
func (r *UsageRepository) InsertRechargeLog(ctx context.Context, log *model.RechargeLog) error {
	query := `
		INSERT INTO recharge_logs (id, user_id, successful, created_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.repo.pool.Exec(ctx, query,
		log.ID,
		log.UserID,
		log.Successful,
		log.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert recharge log: %w", err)
	}

	return nil
}

// CountUsageByUser returns how many usage events are recorded for a user.
func (r *UsageRepository) CountUsageByUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.repo.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM api_usage WHERE user_id = $1`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count usage: %w", err)
	}
	return count, nil
}
