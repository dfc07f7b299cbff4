package crawl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// SelectionKey is the Store key holding the saved unit selection.
const SelectionKey = "selection"

// SelectionStore persists the unit selection used by scheduled runs.
type SelectionStore struct {
	store    Store
	defaults Selection
}

// NewSelectionStore wraps a Store; defaults apply until a selection is saved.
func NewSelectionStore(store Store, defaults Selection) *SelectionStore {
	return &SelectionStore{store: store, defaults: defaults.Clone()}
}

// Load returns the saved selection or the defaults.
func (s *SelectionStore) Load(ctx context.Context) (Selection, error) {
	raw, err := s.store.Get(ctx, SelectionKey)
	if errors.Is(err, ErrNotFound) {
		return s.defaults.Clone(), nil
	}
	if err != nil {
		return s.defaults.Clone(), fmt.Errorf("load selection: %w", err)
	}
	var sel Selection
	if err := json.Unmarshal(raw, &sel); err != nil {
		return s.defaults.Clone(), fmt.Errorf("decode selection: %w", err)
	}
	return sel, nil
}

// Save persists the selection.
func (s *SelectionStore) Save(ctx context.Context, sel Selection) error {
	raw, err := json.Marshal(sel)
	if err != nil {
		return fmt.Errorf("encode selection: %w", err)
	}
	if err := s.store.Set(ctx, SelectionKey, raw); err != nil {
		return fmt.Errorf("save selection: %w", err)
	}
	return nil
}
