// Package model defines domain entities for the application.
package model

import "time"

// Item is a stored record owned by exactly one user. All access goes through
// the owner filter: a row belonging to someone else is indistinguishable from
// a row that does not exist.
type Item struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Value     int64     `json:"value"`
	TxHash    string    `json:"tx_hash"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
