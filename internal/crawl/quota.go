package crawl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// QuotaKey is the Store key holding the daily request counter.
const QuotaKey = "quota"

const dateLayout = "2006-01-02"

// QuotaRecord is the persisted {date, count} pair.
type QuotaRecord struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// QuotaGuard counts upstream requests against a calendar-day budget. The day
// is the local date of the clock's location, not a rolling 24h window.
type QuotaGuard struct {
	mu     sync.Mutex
	store  Store
	clock  Clock
	loc    *time.Location
	limit  int
	record QuotaRecord
	logger *zap.Logger
}

// NewQuotaGuard builds a guard; a nil location means time.Local.
func NewQuotaGuard(store Store, clock Clock, loc *time.Location, logger *zap.Logger) *QuotaGuard {
	if clock == nil {
		clock = systemClock{}
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &QuotaGuard{
		store:  store,
		clock:  clock,
		loc:    loc,
		logger: logger,
	}
	g.record.Date = g.today()
	return g
}

// SetLimit applies the daily limit for subsequent checks; 0 means unlimited.
func (g *QuotaGuard) SetLimit(limit int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.limit = limit
}

// Load reads the persisted counter. A record for another date resets to 0.
func (g *QuotaGuard) Load(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	today := g.today()
	g.record = QuotaRecord{Date: today}
	if g.store == nil {
		return nil
	}
	raw, err := g.store.Get(ctx, QuotaKey)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load quota: %w", err)
	}
	var rec QuotaRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("decode quota: %w", err)
	}
	if rec.Date == today {
		g.record = rec
	}
	return nil
}

// CanProceed reports whether another request fits in today's budget.
func (g *QuotaGuard) CanProceed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover()
	return g.limit == 0 || g.record.Count < g.limit
}

// Record counts one request and persists the counter. Persistence failures
// are logged and leave the in-memory count authoritative.
func (g *QuotaGuard) Record(ctx context.Context) {
	g.mu.Lock()
	g.rollover()
	g.record.Count++
	rec := g.record
	g.mu.Unlock()

	if g.store == nil {
		return
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		g.logger.Warn("encode quota record failed", zap.Error(err))
		return
	}
	if err := g.store.Set(ctx, QuotaKey, raw); err != nil {
		g.logger.Warn("persist quota record failed", zap.Error(err))
	}
}

// Usage returns today's record and the active limit.
func (g *QuotaGuard) Usage() (QuotaRecord, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover()
	return g.record, g.limit
}

func (g *QuotaGuard) rollover() {
	if today := g.today(); g.record.Date != today {
		g.record = QuotaRecord{Date: today}
	}
}

func (g *QuotaGuard) today() string {
	return g.clock.Now().In(g.loc).Format(dateLayout)
}
