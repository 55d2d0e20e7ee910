// Package engine assembles the per-session cart facade: one Engine per
// storefront session ties together the cart store, the recommendation
// engine, the reward controller and the analytics sink behind a small
// surface the API layer calls.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shopglide/cartcore/internal/analytics"
	"github.com/shopglide/cartcore/internal/cart"
	"github.com/shopglide/cartcore/internal/model"
	"github.com/shopglide/cartcore/internal/recommend"
	"github.com/shopglide/cartcore/internal/reward"
	"github.com/shopglide/cartcore/internal/threshold"
	"github.com/shopglide/cartcore/pkg/storefront"
)

// Settings is the merchant configuration an engine runs under. A settings
// refresh mid-session rebuilds the recommendation master list; nothing
// else does.
type Settings struct {
	Thresholds           []model.RewardThreshold
	Rules                model.RuleSet
	MaxVisible           int
	MinCount             int
	DebounceWindow       time.Duration
	RerankEnabled        bool
	RerankToleranceCents int64
}

// SettingsProvider supplies the current merchant settings.
type SettingsProvider interface {
	Settings(ctx context.Context) (Settings, error)
}

// RewardState is the evaluated reward position for the current snapshot.
type RewardState struct {
	Phases         map[string]model.RewardPhase `json:"phases"`
	Unlocked       map[string]bool              `json:"unlocked"`
	ReadyToClaim   map[string]bool              `json:"ready_to_claim"`
	Next           *model.RewardThreshold       `json:"next,omitempty"`
	RemainingCents int64                        `json:"remaining_cents"`
}

// State is the denormalized view published to subscribers after every
// recompute. Prompt is set when a gift became claimable since the last
// publish.
type State struct {
	Snapshot *model.CartSnapshot    `json:"snapshot"`
	Visible  []model.Candidate      `json:"visible"`
	Reward   RewardState            `json:"reward"`
	Prompt   *model.RewardThreshold `json:"prompt,omitempty"`
}

// Engine is the per-session facade. All mutations serialize on the engine
// mutex; reads return copies of the last published state.
type Engine struct {
	sessionID string
	cartStore *cart.Store
	catalog   recommend.Catalog
	rec       *recommend.Engine
	rewards   *reward.Controller
	sink      analytics.Sink
	provider  SettingsProvider

	mu       sync.Mutex
	settings Settings
	master   []model.Candidate
	blocked  map[string]bool
	state    State
	subs     []chan State
	closed   bool

	promptMu sync.Mutex
	pending  *model.RewardThreshold

	debounce *recommend.Debouncer
	pairData recommend.PairData
}

// Option configures an Engine.
type Option func(*Engine)

// WithPairData supplies frequently-bought-together pair statistics to the
// recommendation engine.
func WithPairData(p recommend.PairData) Option {
	return func(e *Engine) {
		e.pairData = p
	}
}

// New boots a session engine: it loads settings, performs the initial cart
// read and builds the first recommendation master list. A failed initial
// read leaves an empty snapshot and is logged, not returned; the session
// must come up even when the cart service is down.
func New(ctx context.Context, sessionID string, svc cart.Service, catalog recommend.Catalog, provider SettingsProvider, sink analytics.Sink, opts ...Option) (*Engine, error) {
	if sink == nil {
		sink = analytics.NopSink{}
	}

	e := &Engine{
		sessionID: sessionID,
		catalog:   catalog,
		sink:      sink,
		provider:  provider,
		blocked:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}

	settings, err := provider.Settings(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "engine: load settings")
	}
	e.settings = settings

	recOpts := []recommend.Option{}
	if e.pairData != nil {
		recOpts = append(recOpts, recommend.WithPairData(e.pairData))
	}
	if settings.MinCount > 0 {
		recOpts = append(recOpts, recommend.WithMinCount(settings.MinCount))
	}
	e.rec = recommend.NewEngine(catalog, recOpts...)

	e.cartStore = cart.NewStore(svc)
	e.rewards = reward.NewController(e.cartStore, catalogResolver{catalog}, promptCollector{e})
	e.debounce = recommend.NewDebouncer(settings.DebounceWindow, func() {
		e.recompute(context.Background())
	})

	if _, err := e.cartStore.Refresh(ctx, false); err != nil {
		zap.L().Warn("initial cart read failed, starting empty",
			zap.String("session", sessionID), zap.Error(err))
	}
	if err := e.rebuildMaster(ctx); err != nil {
		zap.L().Warn("initial master list build failed",
			zap.String("session", sessionID), zap.Error(err))
	}
	e.recompute(ctx)

	e.sink.Track(ctx, analytics.Event{SessionID: sessionID, Kind: analytics.KindCartOpen})
	return e, nil
}

// Snapshot returns the current cart snapshot.
func (e *Engine) Snapshot() *model.CartSnapshot {
	return e.cartStore.Snapshot()
}

// VisibleRecommendations returns the currently visible candidate slice.
func (e *Engine) VisibleRecommendations() []model.Candidate {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.Candidate, len(e.state.Visible))
	copy(out, e.state.Visible)
	return out
}

// RewardState returns the evaluated reward position from the last
// recompute.
func (e *Engine) RewardState() RewardState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Reward
}

// AddToCart adds one item and re-derives state. A remote rejection puts
// the variant on the session blocklist so it is dropped from future
// recommendation cycles.
func (e *Engine) AddToCart(ctx context.Context, item cart.AddItem) error {
	_, err := e.cartStore.AddItems(ctx, []cart.AddItem{item})
	if err != nil {
		var rej *storefront.RejectionError
		if errors.As(err, &rej) {
			e.blockVariant(item.VariantID)
			zap.L().Info("variant rejected by cart, blocklisted",
				zap.String("session", e.sessionID),
				zap.String("variant", item.VariantID),
				zap.Int("status", rej.StatusCode))
			e.debounce.Trigger()
		}
		return err
	}

	e.sink.Track(ctx, analytics.Event{
		SessionID: e.sessionID,
		Kind:      analytics.KindAddToCart,
		ProductID: item.ProductID,
		VariantID: item.VariantID,
		Extra:     map[string]any{"quantity": item.Quantity, "provenance": string(item.Provenance)},
	})
	e.debounce.Trigger()
	return nil
}

// ChangeQuantity sets one line's quantity. Overlapping calls surface
// cart.ErrChangeInFlight untouched.
func (e *Engine) ChangeQuantity(ctx context.Context, lineKey string, quantity int) error {
	if _, err := e.cartStore.ChangeQuantity(ctx, lineKey, quantity); err != nil {
		return err
	}
	e.debounce.Trigger()
	return nil
}

// ClaimGift claims the gift for the given threshold id.
func (e *Engine) ClaimGift(ctx context.Context, thresholdID string) error {
	e.mu.Lock()
	thresholds := e.settings.Thresholds
	e.mu.Unlock()

	if _, err := e.rewards.Claim(ctx, thresholds, thresholdID); err != nil {
		return err
	}
	e.sink.Track(ctx, analytics.Event{
		SessionID: e.sessionID,
		Kind:      analytics.KindClaim,
		Extra:     map[string]any{"threshold": thresholdID},
	})
	e.debounce.Trigger()
	return nil
}

// DeclineGift records a session decline for the given threshold id.
func (e *Engine) DeclineGift(ctx context.Context, thresholdID string) error {
	e.mu.Lock()
	thresholds := e.settings.Thresholds
	e.mu.Unlock()

	if err := e.rewards.Decline(thresholds, thresholdID); err != nil {
		return err
	}
	e.sink.Track(ctx, analytics.Event{
		SessionID: e.sessionID,
		Kind:      analytics.KindDecline,
		Extra:     map[string]any{"threshold": thresholdID},
	})
	e.debounce.Trigger()
	return nil
}

// RefreshSettings reloads merchant settings and rebuilds the master list.
func (e *Engine) RefreshSettings(ctx context.Context) error {
	settings, err := e.provider.Settings(ctx)
	if err != nil {
		return eris.Wrap(err, "engine: refresh settings")
	}

	e.mu.Lock()
	e.settings = settings
	e.mu.Unlock()

	if err := e.rebuildMaster(ctx); err != nil {
		return err
	}
	e.recompute(ctx)
	return nil
}

// Subscribe returns a channel that receives every published state. Slow
// subscribers lose intermediate states, never the latest.
func (e *Engine) Subscribe() <-chan State {
	ch := make(chan State, 1)
	e.mu.Lock()
	e.subs = append(e.subs, ch)
	e.mu.Unlock()
	return ch
}

// Close stops the debouncer and closes subscriber channels. The engine
// must not be used afterwards.
func (e *Engine) Close(ctx context.Context) {
	e.debounce.Stop()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	subs := e.subs
	e.subs = nil
	e.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
	e.sink.Track(ctx, analytics.Event{SessionID: e.sessionID, Kind: analytics.KindCartClose})
}

// blockVariant marks a variant as rejected for the rest of the session.
func (e *Engine) blockVariant(variantID string) {
	e.mu.Lock()
	e.blocked[variantID] = true
	e.mu.Unlock()
}

// rebuildMaster recomputes the locked master list from the current cart
// and rules. Only boot and settings refresh call this.
func (e *Engine) rebuildMaster(ctx context.Context) error {
	snap := e.cartStore.Snapshot()

	e.mu.Lock()
	rules := e.settings.Rules
	e.mu.Unlock()

	master, err := e.rec.BuildMasterList(ctx, snap, &rules)
	if err != nil {
		return eris.Wrap(err, "engine: build master list")
	}

	e.mu.Lock()
	e.master = master
	e.mu.Unlock()
	return nil
}

// recompute applies reward transitions, derives the visible slice and
// publishes the new state.
func (e *Engine) recompute(ctx context.Context) {
	e.mu.Lock()
	settings := e.settings
	master := e.masterWithoutBlockedLocked()
	e.mu.Unlock()

	snap := e.cartStore.Snapshot()
	phases := e.rewards.Apply(ctx, snap, settings.Thresholds)

	// Apply may have removed gift lines; re-read before deriving.
	snap = e.cartStore.Snapshot()
	claimed := reward.ClaimedGiftProductIDs(snap, settings.Thresholds)
	res := threshold.Evaluate(snap.TotalCents, settings.Thresholds, claimed)

	visible := recommend.DeriveVisible(master, snap, settings.MaxVisible)
	if settings.RerankEnabled && res.RemainingCents > 0 {
		visible = recommend.RerankForThreshold(visible, res.RemainingCents, settings.RerankToleranceCents)
	}

	state := State{
		Snapshot: snap,
		Visible:  visible,
		Reward: RewardState{
			Phases:         phases,
			Unlocked:       res.Unlocked,
			ReadyToClaim:   res.ReadyToClaim,
			Next:           res.Next,
			RemainingCents: res.RemainingCents,
		},
		Prompt: e.takePrompt(),
	}

	e.mu.Lock()
	e.state = state
	subs := e.subs
	e.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- state:
		default:
			// Drop the stale state so the latest one always fits.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- state:
			default:
			}
		}
	}
}

// masterWithoutBlockedLocked filters blocklisted variants from the master
// list. Caller holds e.mu.
func (e *Engine) masterWithoutBlockedLocked() []model.Candidate {
	if len(e.blocked) == 0 {
		out := make([]model.Candidate, len(e.master))
		copy(out, e.master)
		return out
	}
	out := make([]model.Candidate, 0, len(e.master))
	for _, c := range e.master {
		if e.blocked[c.VariantID] {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (e *Engine) takePrompt() *model.RewardThreshold {
	e.promptMu.Lock()
	defer e.promptMu.Unlock()
	p := e.pending
	e.pending = nil
	return p
}

// promptCollector implements reward.Notifier by stashing the prompt for
// the next published state.
type promptCollector struct {
	e *Engine
}

func (p promptCollector) PromptClaim(th model.RewardThreshold) {
	p.e.promptMu.Lock()
	p.e.pending = &th
	p.e.promptMu.Unlock()
}

// catalogResolver adapts the catalog to the reward controller's variant
// lookup.
type catalogResolver struct {
	catalog recommend.Catalog
}

func (r catalogResolver) ResolveVariant(ctx context.Context, productID string) (string, error) {
	c, err := r.catalog.GetByID(ctx, productID)
	if err != nil {
		return "", eris.Wrapf(err, "engine: resolve gift product %s", productID)
	}
	if c == nil {
		return "", eris.Errorf("engine: gift product %s not in catalog", productID)
	}
	return c.FirstAvailableVariant(), nil
}
