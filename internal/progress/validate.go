package progress

import (
	"errors"
	"fmt"

	"github.com/JakeFAU/rankcrawl/internal/crawl"
)

// Validate performs coarse validation on events before they are queued.
func Validate(evt crawl.Event) error {
	if evt.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch evt.Kind {
	case crawl.EventRunStart:
	case crawl.EventUnitDone:
		if evt.Unit.ContentType == "" || evt.Unit.Server == "" {
			return errors.New("unit event requires content type and server")
		}
		if evt.Outcome == "" {
			return errors.New("unit event requires an outcome")
		}
	case crawl.EventRunDone:
		if evt.Status == "" {
			return errors.New("run done event requires a status")
		}
	default:
		return fmt.Errorf("unknown event kind %q", evt.Kind)
	}
	if evt.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
