// Package service provides business logic for the application.
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/crudmeter/crudmeter/internal/metrics"
	"github.com/crudmeter/crudmeter/internal/model"
	"github.com/crudmeter/crudmeter/internal/repository"
)

// Service errors.
var (
	// ErrItemNotFound covers both missing items and items owned by someone
	// else; the distinction is deliberately not observable.
	ErrItemNotFound  = errors.New("item not found")
	ErrInvalidTxHash = errors.New("invalid transaction hash")
)

const (
	txHashBytes  = 16
	maxTxHashLen = 128
)

// ItemStore is the storage contract for items. Every method takes the owner
// id as a filter; implementations must never return another user's row.
type ItemStore interface {
	CreateItem(ctx context.Context, item *model.Item) error
	GetItemByID(ctx context.Context, id, ownerID string) (*model.Item, error)
	GetItemByTxHash(ctx context.Context, txHash, ownerID string) (*model.Item, error)
	ListItemsByOwner(ctx context.Context, ownerID string) ([]*model.Item, error)
	UpdateItemValue(ctx context.Context, id, ownerID string, value int64) (*model.Item, error)
	DeleteItem(ctx context.Context, id, ownerID string) error
}

// ItemService handles item business logic. It runs strictly behind the
// credit gate: the owner reference always comes from the gate's admission
// result, never from request input.
type ItemService struct {
	store   ItemStore
	metrics metrics.Recorder
}

// NewItemService creates a new ItemService.
func NewItemService(store ItemStore, recorder metrics.Recorder) *ItemService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &ItemService{
		store:   store,
		metrics: recorder,
	}
}

// CreateItemInput defines input for creating an item.
type CreateItemInput struct {
	Value  int64
	TxHash string // Optional; generated when empty
}

// CreateItem stores a new item for the authorized owner.
func (s *ItemService) CreateItem(ctx context.Context, owner model.UserRef, input CreateItemInput) (*model.Item, error) {
	txHash := input.TxHash
	if txHash == "" {
		var err error
		txHash, err = generateTxHash()
		if err != nil {
			return nil, fmt.Errorf("generate tx hash: %w", err)
		}
	} else if len(txHash) > maxTxHashLen {
		return nil, ErrInvalidTxHash
	}

	now := time.Now().UTC()
	item := &model.Item{
		ID:        ulid.Make().String(),
		OwnerID:   owner.ID,
		Value:     input.Value,
		TxHash:    txHash,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}

	s.metrics.IncItemCreated()

	return item, nil
}

// GetItem retrieves one of the owner's items by id.
func (s *ItemService) GetItem(ctx context.Context, owner model.UserRef, id string) (*model.Item, error) {
	item, err := s.store.GetItemByID(ctx, id, owner.ID)
	if err != nil {
		if errors.Is(err, repository.ErrItemNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}
	return item, nil
}

// GetItemByTxHash retrieves one of the owner's items by transaction hash.
func (s *ItemService) GetItemByTxHash(ctx context.Context, owner model.UserRef, txHash string) (*model.Item, error) {
	item, err := s.store.GetItemByTxHash(ctx, txHash, owner.ID)
	if err != nil {
		if errors.Is(err, repository.ErrItemNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}
	return item, nil
}

// ListItems retrieves all of the owner's items, newest first.
func (s *ItemService) ListItems(ctx context.Context, owner model.UserRef) ([]*model.Item, error) {
	items, err := s.store.ListItemsByOwner(ctx, owner.ID)
	if err != nil {
		return nil, err
	}
	return items, nil
}

// UpdateItem replaces the value of one of the owner's items.
func (s *ItemService) UpdateItem(ctx context.Context, owner model.UserRef, id string, value int64) (*model.Item, error) {
	item, err := s.store.UpdateItemValue(ctx, id, owner.ID, value)
	if err != nil {
		if errors.Is(err, repository.ErrItemNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}

	s.metrics.IncItemUpdated()

	return item, nil
}

// DeleteItem removes one of the owner's items.
func (s *ItemService) DeleteItem(ctx context.Context, owner model.UserRef, id string) error {
	if err := s.store.DeleteItem(ctx, id, owner.ID); err != nil {
		if errors.Is(err, repository.ErrItemNotFound) {
			return ErrItemNotFound
		}
		return err
	}

	s.metrics.IncItemDeleted()

	return nil
}

// generateTxHash produces a random hex transaction hash.
func generateTxHash() (string, error) {
	buf := make([]byte, txHashBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
