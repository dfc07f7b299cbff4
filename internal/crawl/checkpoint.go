package crawl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// CheckpointKey is the Store key holding the resume marker.
const CheckpointKey = "checkpoint"

// CheckpointStore serializes the resume marker through the Store.
type CheckpointStore struct {
	store Store
}

// NewCheckpointStore wraps a Store.
func NewCheckpointStore(store Store) *CheckpointStore {
	return &CheckpointStore{store: store}
}

// Save overwrites the stored checkpoint.
func (s *CheckpointStore) Save(ctx context.Context, cp Checkpoint) error {
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := s.store.Set(ctx, CheckpointKey, raw); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Load returns the stored checkpoint, or nil when there is none.
func (s *CheckpointStore) Load(ctx context.Context) (*Checkpoint, error) {
	raw, err := s.store.Get(ctx, CheckpointKey)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &cp, nil
}

// Clear removes the checkpoint; a missing checkpoint is not an error.
func (s *CheckpointStore) Clear(ctx context.Context) error {
	if err := s.store.Remove(ctx, CheckpointKey); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("clear checkpoint: %w", err)
	}
	return nil
}
