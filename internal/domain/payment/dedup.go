package payment

import "context"

// Deduper remembers webhook deliveries that were already applied. It only
// saves work: every webhook effect is idempotent on its own, so a Deduper
// that forgets is harmless.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

// NopDeduper never reports a delivery as seen.
type NopDeduper struct{}

func (NopDeduper) Seen(context.Context, string) (bool, error) { return false, nil }
func (NopDeduper) Mark(context.Context, string) error         { return nil }
