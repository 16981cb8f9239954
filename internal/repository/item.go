package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/crudmeter/crudmeter/internal/model"
)

// ErrItemNotFound covers both a missing row and an ownership mismatch.
// Collapsing the two hides the existence of other users' items.
var ErrItemNotFound = errors.New("item not found")

const itemColumns = `id, owner_id, value, tx_hash, created_at, updated_at`

// CreateItem inserts a new item into the database.
func (r *Repository) CreateItem(ctx context.Context, item *model.Item) error {
	query := `
		INSERT INTO items (id, owner_id, value, tx_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		item.ID,
		item.OwnerID,
		item.Value,
		item.TxHash,
		item.CreatedAt,
		item.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create item: %w", err)
	}

	return nil
}

// GetItemByID retrieves an item by ID, filtered by owner.
func (r *Repository) GetItemByID(ctx context.Context, id, ownerID string) (*model.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = $1 AND owner_id = $2`
	return r.scanItem(r.pool.QueryRow(ctx, query, id, ownerID))
}

// GetItemByTxHash retrieves an item by transaction hash, filtered by owner.
func (r *Repository) GetItemByTxHash(ctx context.Context, txHash, ownerID string) (*model.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE tx_hash = $1 AND owner_id = $2`
	return r.scanItem(r.pool.QueryRow(ctx, query, txHash, ownerID))
}

// ListItemsByOwner retrieves all items belonging to a user, newest first.
func (r *Repository) ListItemsByOwner(ctx context.Context, ownerID string) ([]*model.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE owner_id = $1 ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []*model.Item
	for rows.Next() {
		var item model.Item
		err := rows.Scan(
			&item.ID,
			&item.OwnerID,
			&item.Value,
			&item.TxHash,
			&item.CreatedAt,
			&item.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, &item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}

	return items, nil
}

// UpdateItemValue updates an item's value, filtered by owner.
func (r *Repository) UpdateItemValue(ctx context.Context, id, ownerID string, value int64) (*model.Item, error) {
	query := `
		UPDATE items
		SET value = $3, updated_at = $4
		WHERE id = $1 AND owner_id = $2
		RETURNING ` + itemColumns

	return r.scanItem(r.pool.QueryRow(ctx, query, id, ownerID, value, time.Now()))
}

// DeleteItem removes an item, filtered by owner.
func (r *Repository) DeleteItem(ctx context.Context, id, ownerID string) error {
	query := `DELETE FROM items WHERE id = $1 AND owner_id = $2`

	result, err := r.pool.Exec(ctx, query, id, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrItemNotFound
	}

	return nil
}

// scanItem scans a single row into an Item model.
func (r *Repository) scanItem(row pgx.Row) (*model.Item, error) {
	var item model.Item

	err := row.Scan(
		&item.ID,
		&item.OwnerID,
		&item.Value,
		&item.TxHash,
		&item.CreatedAt,
		&item.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to scan item: %w", err)
	}

	return &item, nil
}
