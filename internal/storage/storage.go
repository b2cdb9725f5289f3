// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"

	"news_bot/internal/model"
)

var (
	// ErrNotFound is returned when a looked-up record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an insert hits a unique constraint.
	ErrDuplicate = errors.New("duplicate")
)

// Storage is the interface for all persistence operations.
type Storage interface {
	GetItemByExternalID(ctx context.Context, externalID int64) (*model.Item, error)
	GetItem(ctx context.Context, id int64) (*model.Item, error)
	// InsertItem stores a new item and sets its ID and CreatedAt. An item
	// with the same ExternalID is never overwritten; ErrDuplicate is
	// returned instead.
	InsertItem(ctx context.Context, item *model.Item) error
	ListItems(ctx context.Context) ([]model.Item, error)

	GetSubscriber(ctx context.Context, recipientID int64) (*model.Subscriber, error)
	// SaveSubscriber creates or replaces the subscriber and its category set.
	SaveSubscriber(ctx context.Context, s *model.Subscriber) error
	// ListSubscribersByCategory returns subscribers whose set contains c or
	// the all sentinel.
	ListSubscribersByCategory(ctx context.Context, c model.Category) ([]model.Subscriber, error)
	ListSubscribers(ctx context.Context) ([]model.Subscriber, error)

	GetReaction(ctx context.Context, itemID, recipientID int64) (*model.Reaction, error)
	UpsertReaction(ctx context.Context, r *model.Reaction) error
	DeleteReaction(ctx context.Context, itemID, recipientID int64) error
	CountReactions(ctx context.Context, itemID int64) (map[model.ReactionKind]int, error)
	ListReactions(ctx context.Context) ([]model.Reaction, error)

	Close() error
}
