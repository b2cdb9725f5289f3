// Package reactions keeps one reaction per (item, recipient) and aggregates
// them for rendering.
package reactions

import (
	"context"
	"errors"
	"fmt"

	"news_bot/internal/keymu"
	"news_bot/internal/metrics"
	"news_bot/internal/model"
	"news_bot/internal/storage"
)

// ErrUnknownKind is returned for reaction kinds outside the fixed set.
var ErrUnknownKind = errors.New("unknown reaction kind")

// Action describes what a toggle did.
type Action string

// Toggle outcomes.
const (
	ActionNone    Action = "none"
	ActionAdded   Action = "added"
	ActionChanged Action = "changed"
	ActionRemoved Action = "removed"
)

type pairKey struct {
	itemID      int64
	recipientID int64
}

// Store applies reaction toggles on top of storage.Storage.
type Store struct {
	store storage.Storage
	locks *keymu.Mutex[pairKey]
}

// New creates a Store.
func New(store storage.Storage) *Store {
	return &Store{store: store, locks: keymu.New[pairKey]()}
}

// Toggle sets recipientID's reaction on itemID to kind. Repeating the
// current kind removes the reaction; another kind replaces it. Toggling on
// an item that does not exist does nothing.
func (s *Store) Toggle(ctx context.Context, itemID, recipientID int64, kind model.ReactionKind) (Action, error) {
	if !kind.Valid() {
		return ActionNone, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	unlock := s.locks.Lock(pairKey{itemID, recipientID})
	defer unlock()

	if _, err := s.store.GetItem(ctx, itemID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ActionNone, nil
		}
		return ActionNone, fmt.Errorf("get item: %w", err)
	}

	action := ActionAdded
	cur, err := s.store.GetReaction(ctx, itemID, recipientID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return ActionNone, fmt.Errorf("get reaction: %w", err)
	case cur.Kind == kind:
		if err := s.store.DeleteReaction(ctx, itemID, recipientID); err != nil {
			return ActionNone, fmt.Errorf("delete reaction: %w", err)
		}
		metrics.ObserveReactionToggle(string(ActionRemoved))
		return ActionRemoved, nil
	default:
		action = ActionChanged
	}

	r := model.Reaction{ItemID: itemID, RecipientID: recipientID, Kind: kind}
	if err := s.store.UpsertReaction(ctx, &r); err != nil {
		return ActionNone, fmt.Errorf("upsert reaction: %w", err)
	}
	metrics.ObserveReactionToggle(string(action))
	return action, nil
}

// Counts returns the per-kind totals for itemID, with every kind present,
// and the kind viewerID currently has, if any.
func (s *Store) Counts(ctx context.Context, itemID, viewerID int64) (model.ReactionSummary, error) {
	counts, err := s.store.CountReactions(ctx, itemID)
	if err != nil {
		return model.ReactionSummary{}, fmt.Errorf("count reactions: %w", err)
	}

	sum := model.ReactionSummary{ItemID: itemID, Counts: make(map[model.ReactionKind]int, len(model.ReactionKinds))}
	for _, k := range model.ReactionKinds {
		sum.Counts[k] = counts[k]
	}

	mine, err := s.store.GetReaction(ctx, itemID, viewerID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return model.ReactionSummary{}, fmt.Errorf("get reaction: %w", err)
	default:
		sum.Mine = mine.Kind
	}
	return sum, nil
}
