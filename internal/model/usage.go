// Package model defines domain entities for the application.
package model

import "time"

// UsageEvent records a single billed API request. Events are best-effort:
// they ride a Redis stream and are batch-inserted by the usage worker.
type UsageEvent struct {
	ID      string `json:"id"`       // ULID (time-sortable)
	EventID string `json:"event_id"` // Idempotency key (Redis stream ID)

	UserID     string `json:"user_id"`
	Endpoint   string `json:"endpoint"` // Request path, e.g. /api/v1/items
	Method     string `json:"method"`
	StatusCode int    `json:"status_code"`

	RequestedAt time.Time `json:"requested_at"` // When the request was served
	CreatedAt   time.Time `json:"created_at"`   // DB insertion time
}

// RechargeLog is an append-only record of a recharge attempt.
type RechargeLog struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Successful bool      `json:"successful"`
	CreatedAt  time.Time `json:"created_at"`
}
