package progress

import (
	"context"

	"github.com/JakeFAU/rankcrawl/internal/crawl"
)

// Sink consumes batches of events. Implementations must honor ctx deadlines
// and tolerate repeated calls.
type Sink interface {
	Consume(ctx context.Context, batch []crawl.Event) error
	Close(ctx context.Context) error
}
