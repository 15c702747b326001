package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"notice-engine/internal/api"
	"notice-engine/internal/config"
	"notice-engine/internal/engine"
	"notice-engine/internal/listener"
	"notice-engine/internal/messages"
	"notice-engine/internal/mixin"
	"notice-engine/internal/render"
	"notice-engine/internal/storage"
)

const messagePayloadPrefix = "cn_messages:"

// Purger drops cached messages by key.
type Purger interface {
	Purge(ctx context.Context, keys ...string) error
}

// Refresher keeps the derived state in step with the database: the delivery
// snapshot, the banner cache and the message cache.
type Refresher struct {
	Engine   *engine.DeliveryEngine
	Loader   engine.Loader
	Banners  *storage.BannerCache
	Messages Purger // nil without a message cache
	Now      func() time.Time
}

// Refresh handles one change notification. Message changes only purge the
// message cache; anything else rebuilds the snapshot and drops cached banners.
func (r *Refresher) Refresh(ctx context.Context, payload string) error {
	if key, ok := strings.CutPrefix(payload, messagePayloadPrefix); ok {
		if r.Messages == nil {
			return nil
		}
		return r.Messages.Purge(ctx, key)
	}
	if payload != "" && r.Banners != nil {
		r.Banners.Reset()
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	return r.Engine.BuildSnapshot(ctx, r.Loader, now())
}

func Run(cfg config.Config) error {
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	store, err := storage.New(rootCtx, cfg)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(rootCtx); err != nil {
		return err
	}
	db := store.DB()
	campaigns := storage.NewCampaigns(db)
	bannerCache := storage.NewBannerCache()
	banners := storage.NewBanners(db, bannerCache)

	// Messages
	var (
		source messages.Source = storage.NewMessages(db)
		purger Purger
	)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		if err := client.Ping(rootCtx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable; message cache will fall through")
		}
		cached := messages.NewCached(source, client, cfg.RedisTTL())
		source, purger = cached, cached
	}
	localizer := messages.NewCatalog(source, cfg.Render.FallbackLanguage)

	// Engine
	eng := engine.NewEngine()
	refresher := &Refresher{Engine: eng, Loader: campaigns, Banners: bannerCache, Messages: purger}
	if err := refresher.Refresh(rootCtx, ""); err != nil {
		return fmt.Errorf("initial snapshot build: %w", err)
	}

	// HTTP
	bh := api.NewBannerHandler(banners, eng, render.Options{
		Localizer:   localizer,
		Mixins:      mixin.Builtin(),
		PreviewPath: cfg.Render.PreviewPath,
		EditPath:    cfg.Render.EditPath,
	}, cfg.Render.DefaultDebug)
	ch := api.NewCampaignHandler(campaigns, banners)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.Router(bh, ch),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Listener (LISTEN/NOTIFY) plus a clock-driven rebuild for start/end times
	if cfg.Listener.Channel != storage.NotifyChannel {
		log.Warn().Str("channel", cfg.Listener.Channel).Str("triggers", storage.NotifyChannel).
			Msg("listener channel differs from the schema triggers; only clock refreshes will run")
	}
	go listener.ListenAndRefresh(rootCtx, store.PgxPool(), cfg.Listener.Channel, cfg.Backoff(), refresher.Refresh)
	go listener.RefreshEvery(rootCtx, cfg.RefreshInterval(), refresher.Refresh)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-waitForSignal():
		log.Info().Msg("shutdown...")
	case err := <-errCh:
		return fmt.Errorf("server crashed: %w", err)
	}

	// Graceful shutdown
	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	cancel() // stop background goroutines
	return srv.Shutdown(shCtx)
}

func waitForSignal() <-chan os.Signal {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	return c
}
