// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import (
	"time"

	"github.com/crudmeter/crudmeter/internal/model"
)

// CreateItemRequest represents the request body for creating an item.
type CreateItemRequest struct {
	Value  int64  `json:"value"`
	TxHash string `json:"tx_hash,omitempty"`
}

// UpdateItemRequest represents the request body for updating an item.
type UpdateItemRequest struct {
	Value *int64 `json:"value"`
}

// ItemResponse represents an item in API responses.
type ItemResponse struct {
	ID        string    `json:"id"`
	Value     int64     `json:"value"`
	TxHash    string    `json:"tx_hash"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ItemListResponse represents a list of the caller's items.
type ItemListResponse struct {
	Data  []ItemResponse `json:"data"`
	Count int            `json:"count"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ToItemResponse converts an Item model to ItemResponse DTO. The owner id is
// deliberately absent: items are only ever served to their owner.
func ToItemResponse(item *model.Item) *ItemResponse {
	return &ItemResponse{
		ID:        item.ID,
		Value:     item.Value,
		TxHash:    item.TxHash,
		CreatedAt: item.CreatedAt,
		UpdatedAt: item.UpdatedAt,
	}
}

// ToItemListResponse converts a slice of Item models to ItemListResponse.
func ToItemListResponse(items []*model.Item) *ItemListResponse {
	responses := make([]ItemResponse, len(items))
	for i, item := range items {
		responses[i] = *ToItemResponse(item)
	}
	return &ItemListResponse{
		Data:  responses,
		Count: len(responses),
	}
}
