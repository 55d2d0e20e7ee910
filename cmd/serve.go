package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/shopglide/cartcore/internal/analytics"
	"github.com/shopglide/cartcore/internal/cart"
	"github.com/shopglide/cartcore/internal/config"
	"github.com/shopglide/cartcore/internal/engine"
	"github.com/shopglide/cartcore/internal/model"
	"github.com/shopglide/cartcore/internal/resilience"
	"github.com/shopglide/cartcore/internal/store"
	"github.com/shopglide/cartcore/pkg/catalog"
	"github.com/shopglide/cartcore/pkg/storefront"
)

// catalogBurst bounds how many catalog calls the four strategies can fire
// at once during a recompute.
const catalogBurst = 4

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the session API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return eris.Wrap(err, "serve: validate config")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := newServerEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close(ctx)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: env.routes(),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// serverEnv holds the shared collaborators plus the per-session engine
// registry.
type serverEnv struct {
	cfg      *config.Config
	st       store.Store
	cartSvc  storefront.Client
	catalog  *store.CachedCatalog
	sink     analytics.Sink
	provider engine.SettingsProvider

	mu      sync.Mutex
	engines map[string]*engine.Engine
}

func newServerEnv(ctx context.Context, cfg *config.Config) (*serverEnv, error) {
	var st store.Store
	var err error
	switch cfg.Store.Driver {
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	}
	if err != nil {
		return nil, eris.Wrap(err, "serve: open store")
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "serve: migrate store")
	}

	catalogClient := catalog.NewClient(cfg.Catalog.BaseURL,
		catalog.WithRateLimit(rate.Limit(cfg.Catalog.RateLimitPerSec), catalogBurst))
	guarded := store.NewGuardedCatalog(catalogClient, resilience.NewBreaker("catalog"))
	cached := store.NewCachedCatalog(guarded, st,
		time.Duration(cfg.Catalog.CacheTTLMins)*time.Minute)

	var sink analytics.Sink = analytics.NopSink{}
	if cfg.Analytics.Enabled {
		sink = analytics.NewSpoolSink(st)
	}

	return &serverEnv{
		cfg:      cfg,
		st:       st,
		cartSvc:  storefront.NewClient(cfg.Cart.BaseURL),
		catalog:  cached,
		sink:     sink,
		provider: &fileSettings{cfg: cfg},
		engines:  make(map[string]*engine.Engine),
	}, nil
}

func (env *serverEnv) Close(ctx context.Context) {
	env.mu.Lock()
	engines := env.engines
	env.engines = map[string]*engine.Engine{}
	env.mu.Unlock()

	for _, e := range engines {
		e.Close(ctx)
	}
	if err := env.st.Close(); err != nil {
		zap.L().Warn("store close failed", zap.Error(err))
	}
}

// session returns the engine for a session id, booting one on first use.
func (env *serverEnv) session(ctx context.Context, id string) (*engine.Engine, error) {
	env.mu.Lock()
	if e, ok := env.engines[id]; ok {
		env.mu.Unlock()
		return e, nil
	}
	env.mu.Unlock()

	e, err := engine.New(ctx, id, env.cartSvc, env.catalog, env.provider, env.sink)
	if err != nil {
		return nil, err
	}

	env.mu.Lock()
	defer env.mu.Unlock()
	if existing, ok := env.engines[id]; ok {
		e.Close(ctx)
		return existing, nil
	}
	env.engines[id] = e
	return e, nil
}

func (env *serverEnv) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/cart", env.handleGetCart)
		r.Get("/recommendations", env.handleGetRecommendations)
		r.Get("/reward", env.handleGetReward)
		r.Post("/cart/items", env.handleAddItem)
		r.Post("/cart/change", env.handleChangeQuantity)
		r.Post("/reward/{thresholdID}/claim", env.handleClaim)
		r.Post("/reward/{thresholdID}/decline", env.handleDecline)
		r.Post("/settings/refresh", env.handleRefreshSettings)
		r.Post("/events", env.handleTrackEvent)
	})

	return r
}

func (env *serverEnv) withSession(w http.ResponseWriter, req *http.Request) (*engine.Engine, bool) {
	id := chi.URLParam(req, "sessionID")
	e, err := env.session(req.Context(), id)
	if err != nil {
		zap.L().Error("session boot failed", zap.String("session", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "session unavailable"})
		return nil, false
	}
	return e, true
}

func (env *serverEnv) handleGetCart(w http.ResponseWriter, req *http.Request) {
	e, ok := env.withSession(w, req)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, e.Snapshot())
}

func (env *serverEnv) handleGetRecommendations(w http.ResponseWriter, req *http.Request) {
	e, ok := env.withSession(w, req)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": e.VisibleRecommendations()})
}

func (env *serverEnv) handleGetReward(w http.ResponseWriter, req *http.Request) {
	e, ok := env.withSession(w, req)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, e.RewardState())
}

func (env *serverEnv) handleAddItem(w http.ResponseWriter, req *http.Request) {
	e, ok := env.withSession(w, req)
	if !ok {
		return
	}

	var body struct {
		VariantID  string `json:"variant_id"`
		ProductID  string `json:"product_id"`
		Quantity   int    `json:"quantity"`
		Provenance string `json:"provenance"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if body.VariantID == "" || body.Quantity <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "variant_id and positive quantity are required"})
		return
	}

	prov := model.Provenance(body.Provenance)
	if prov == "" {
		prov = model.ProvenanceManual
	}

	err := e.AddToCart(req.Context(), cart.AddItem{
		VariantID:  body.VariantID,
		ProductID:  body.ProductID,
		Quantity:   body.Quantity,
		Provenance: prov,
	})
	if err != nil {
		var rej *storefront.RejectionError
		if errors.As(err, &rej) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": rej.Message})
			return
		}
		zap.L().Error("add to cart failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "cart service unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, e.Snapshot())
}

func (env *serverEnv) handleChangeQuantity(w http.ResponseWriter, req *http.Request) {
	e, ok := env.withSession(w, req)
	if !ok {
		return
	}

	var body struct {
		LineKey  string `json:"line_key"`
		Quantity int    `json:"quantity"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if body.LineKey == "" || body.Quantity < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "line_key and non-negative quantity are required"})
		return
	}

	if err := e.ChangeQuantity(req.Context(), body.LineKey, body.Quantity); err != nil {
		if errors.Is(err, cart.ErrChangeInFlight) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "change already in flight"})
			return
		}
		zap.L().Error("change quantity failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "cart service unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, e.Snapshot())
}

func (env *serverEnv) handleClaim(w http.ResponseWriter, req *http.Request) {
	e, ok := env.withSession(w, req)
	if !ok {
		return
	}

	if err := e.ClaimGift(req.Context(), chi.URLParam(req, "thresholdID")); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, e.RewardState())
}

func (env *serverEnv) handleDecline(w http.ResponseWriter, req *http.Request) {
	e, ok := env.withSession(w, req)
	if !ok {
		return
	}

	if err := e.DeclineGift(req.Context(), chi.URLParam(req, "thresholdID")); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, e.RewardState())
}

func (env *serverEnv) handleRefreshSettings(w http.ResponseWriter, req *http.Request) {
	e, ok := env.withSession(w, req)
	if !ok {
		return
	}

	if err := e.RefreshSettings(req.Context()); err != nil {
		zap.L().Error("settings refresh failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "settings refresh failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": e.VisibleRecommendations()})
}

var trackableKinds = map[string]bool{
	analytics.KindImpression: true,
	analytics.KindClick:      true,
}

// handleTrackEvent records frontend-originated interaction events.
// Server-side events (add-to-cart, claim, decline) are tracked by the
// engine itself and rejected here.
func (env *serverEnv) handleTrackEvent(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Kind      string         `json:"kind"`
		ProductID string         `json:"product_id"`
		VariantID string         `json:"variant_id"`
		Extra     map[string]any `json:"extra"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if !trackableKinds[body.Kind] {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported event kind"})
		return
	}

	env.sink.Track(req.Context(), analytics.Event{
		SessionID: chi.URLParam(req, "sessionID"),
		Kind:      body.Kind,
		ProductID: body.ProductID,
		VariantID: body.VariantID,
		Extra:     body.Extra,
	})
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fileSettings builds engine settings from the loaded config plus the
// rule-set file, re-read on every refresh so merchant edits land without a
// restart.
type fileSettings struct {
	cfg *config.Config
}

func (f *fileSettings) Settings(ctx context.Context) (engine.Settings, error) {
	rules := &model.RuleSet{}
	if f.cfg.Recommend.RulesPath != "" {
		loaded, err := config.LoadRules(f.cfg.Recommend.RulesPath)
		if err != nil {
			zap.L().Warn("rules file unavailable, continuing without overrides",
				zap.String("path", f.cfg.Recommend.RulesPath), zap.Error(err))
		} else {
			rules = loaded
		}
	}

	return engine.Settings{
		Thresholds:           f.cfg.Thresholds(),
		Rules:                *rules,
		MaxVisible:           f.cfg.Recommend.MaxVisible,
		MinCount:             f.cfg.Recommend.MinCount,
		DebounceWindow:       time.Duration(f.cfg.Recommend.DebounceMillis) * time.Millisecond,
		RerankEnabled:        f.cfg.Recommend.RerankEnabled,
		RerankToleranceCents: f.cfg.Recommend.RerankToleranceCents,
	}, nil
}
