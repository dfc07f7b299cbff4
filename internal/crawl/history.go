package crawl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// HistoryKey is the Store key holding the bounded run history.
const HistoryKey = "history"

// DefaultHistoryLimit is how many runs are kept when no limit is configured.
const DefaultHistoryLimit = 50

// HistoryStore keeps the most recent N HistoryEntry values, newest first.
type HistoryStore struct {
	mu    sync.Mutex
	store Store
	limit int
}

// NewHistoryStore wraps a Store with a retention limit.
func NewHistoryStore(store Store, limit int) *HistoryStore {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &HistoryStore{store: store, limit: limit}
}

// List returns the stored entries, newest first.
func (h *HistoryStore) List(ctx context.Context) ([]HistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.load(ctx)
}

// Append prepends entry and evicts the oldest entries beyond the limit.
func (h *HistoryStore) Append(ctx context.Context, entry HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	entries, err := h.load(ctx)
	if err != nil {
		// An unreadable history is replaced rather than blocking new entries.
		entries = nil
	}
	entries = append([]HistoryEntry{entry}, entries...)
	if len(entries) > h.limit {
		entries = entries[:h.limit]
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := h.store.Set(ctx, HistoryKey, raw); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}

func (h *HistoryStore) load(ctx context.Context) ([]HistoryEntry, error) {
	raw, err := h.store.Get(ctx, HistoryKey)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	var entries []HistoryEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return entries, nil
}
