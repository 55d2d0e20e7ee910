// Package analytics records storefront interaction events. The spool sink
// persists events locally for later batch delivery; tracking never blocks
// or fails a user-facing operation.
package analytics

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/shopglide/cartcore/internal/store"
)

// Event kinds.
const (
	KindImpression = "impression"
	KindClick      = "click"
	KindAddToCart  = "add-to-cart"
	KindCartOpen   = "cart-open"
	KindCartClose  = "cart-close"
	KindClaim      = "claim"
	KindDecline    = "decline"
)

// Event is a single interaction to record.
type Event struct {
	SessionID string
	Kind      string
	ProductID string
	VariantID string
	Extra     map[string]any
}

// Sink receives interaction events. Implementations must be safe for
// concurrent use and must never return control-flow errors to callers.
type Sink interface {
	Track(ctx context.Context, ev Event)
}

// SpoolSink persists events through a Store. Write failures are logged at
// debug level and dropped so tracking never disturbs cart operations.
type SpoolSink struct {
	store store.Store
}

// NewSpoolSink returns a Sink that spools events into st.
func NewSpoolSink(st store.Store) *SpoolSink {
	return &SpoolSink{store: st}
}

func (s *SpoolSink) Track(ctx context.Context, ev Event) {
	rec := store.EventRecord{
		SessionID: ev.SessionID,
		Kind:      ev.Kind,
		ProductID: ev.ProductID,
		VariantID: ev.VariantID,
	}
	if len(ev.Extra) > 0 {
		payload, err := json.Marshal(ev.Extra)
		if err != nil {
			zap.L().Debug("analytics payload marshal failed", zap.String("kind", ev.Kind), zap.Error(err))
		} else {
			rec.Payload = string(payload)
		}
	}

	if err := s.store.SaveEvent(ctx, rec); err != nil {
		zap.L().Debug("analytics event dropped", zap.String("kind", ev.Kind), zap.Error(err))
	}
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Track(ctx context.Context, ev Event) {}
