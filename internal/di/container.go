// Package di assembles the gift experience runtime from configuration and the
// cloud clients created by the entrypoint.
package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"

	"github.com/giftcraft/experience/internal/catalog"
	"github.com/giftcraft/experience/internal/editor"
	"github.com/giftcraft/experience/internal/platform/cache"
	"github.com/giftcraft/experience/internal/platform/clock"
	"github.com/giftcraft/experience/internal/platform/config"
	pfirestore "github.com/giftcraft/experience/internal/platform/firestore"
	"github.com/giftcraft/experience/internal/platform/idempotency"
	"github.com/giftcraft/experience/internal/platform/jobs"
	"github.com/giftcraft/experience/internal/platform/observability"
	pstorage "github.com/giftcraft/experience/internal/platform/storage"
	"github.com/giftcraft/experience/internal/playback"
	"github.com/giftcraft/experience/internal/renderer"
	"github.com/giftcraft/experience/internal/repositories"
	firestorerepo "github.com/giftcraft/experience/internal/repositories/firestore"
	"github.com/giftcraft/experience/internal/repositories/memory"
	"github.com/giftcraft/experience/internal/services"
	"github.com/giftcraft/experience/internal/sessions"
)

const (
	editorSessionPrefix = "eds_"
	viewerSessionPrefix = "vws_"
)

// Pinger is satisfied by clients that can report liveness, e.g. the secret fetcher.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Clients are the external connections owned by the caller. Every field is
// optional; the memory driver runs with none of them.
type Clients struct {
	Firestore *pfirestore.Provider
	Storage   pstorage.Writer
	Redis     cache.Client
	Topic     *pubsub.Topic
	Secrets   Pinger
	// Templates overrides the embedded catalog.
	Templates *catalog.Catalog
	Scheduler clock.Scheduler
	Build     services.BuildInfo
}

// Container holds the wired runtime.
type Container struct {
	Config    config.Config
	Scheduler clock.Scheduler
	Templates *catalog.Catalog
	Registry  *renderer.Registry
	Content   services.ContentService
	Media     services.MediaService
	System    services.SystemService
	Engine    *playback.Engine
	Editors   *sessions.Store[*editor.Session]
	Viewers   *sessions.Store[*playback.Viewer]
	Replays   idempotency.Store

	logger  *zap.Logger
	sweeper clock.Timer
}

// New builds the container for cfg.Repository.Driver.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, clients Clients) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	scheduler := clients.Scheduler
	if scheduler == nil {
		scheduler = clock.NewReal()
	}
	templates := clients.Templates
	if templates == nil {
		var err error
		if templates, err = catalog.Default(); err != nil {
			return nil, fmt.Errorf("load template catalog: %w", err)
		}
	}

	c := &Container{
		Config:    cfg,
		Scheduler: scheduler,
		Templates: templates,
		Registry:  renderer.NewDefaultRegistry(templates),
		logger:    logger,
	}

	gifts, replays, err := c.buildStores(cfg, clients)
	if err != nil {
		return nil, err
	}
	c.Replays = replays

	contentDeps := services.ContentServiceDeps{
		Gifts:     gifts,
		Templates: templates,
		Clock:     scheduler.Now,
		Logger:    observability.EventLogger(logger.Named("content")),
	}
	if clients.Redis != nil {
		giftCache, err := cache.NewGiftCache(clients.Redis, cfg.Redis.CacheTTL)
		if err != nil {
			return nil, fmt.Errorf("build gift cache: %w", err)
		}
		contentDeps.Cache = giftCache
	}
	if clients.Topic != nil {
		publisher, err := jobs.NewPubSubGiftEventPublisher(clients.Topic)
		if err != nil {
			return nil, fmt.Errorf("build gift event publisher: %w", err)
		}
		contentDeps.Events = publisher
	}
	if c.Content, err = services.NewContentService(contentDeps); err != nil {
		return nil, fmt.Errorf("build content service: %w", err)
	}

	writer := clients.Storage
	bucket := cfg.Storage.MediaBucket
	if writer == nil && cfg.Repository.Driver == config.DriverMemory {
		writer = pstorage.NewMemoryWriter()
		if bucket == "" {
			bucket = "local-media"
		}
	}
	if writer != nil {
		c.Media, err = services.NewMediaService(services.MediaServiceDeps{
			Gifts:         c.Content,
			Writer:        writer,
			Bucket:        bucket,
			PublicBaseURL: cfg.Storage.PublicBaseURL,
			MaxBytes:      cfg.Storage.MaxUploadBytes,
			Clock:         scheduler.Now,
			Logger:        observability.EventLogger(logger.Named("media")),
		})
		if err != nil {
			return nil, fmt.Errorf("build media service: %w", err)
		}
	}

	c.Engine, err = playback.NewEngine(playback.EngineDeps{
		Gifts:     c.Content,
		Templates: templates,
		Registry:  c.Registry,
		Scheduler: scheduler,
		Logger:    observability.EventLogger(logger.Named("playback")),
	})
	if err != nil {
		return nil, fmt.Errorf("build playback engine: %w", err)
	}

	c.Editors = sessions.NewStore[*editor.Session](c.sessionOptions(editorSessionPrefix, "editor"))
	c.Viewers = sessions.NewStore[*playback.Viewer](c.sessionOptions(viewerSessionPrefix, "viewer"))

	health, err := repositories.NewDependencyHealthRepository(c.healthChecks(clients),
		repositories.WithDependencyClock(scheduler.Now),
		repositories.WithEnvironment(cfg.Security.Environment, clients.Build.Version),
	)
	if err != nil {
		c.closeSessions()
		return nil, fmt.Errorf("build health repository: %w", err)
	}
	c.System, err = services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: health,
		Clock:            scheduler.Now,
		Build:            clients.Build,
		Templates:        templates,
	})
	if err != nil {
		c.closeSessions()
		return nil, fmt.Errorf("build system service: %w", err)
	}

	return c, nil
}

func (c *Container) buildStores(cfg config.Config, clients Clients) (repositories.GiftRepository, idempotency.Store, error) {
	switch cfg.Repository.Driver {
	case config.DriverMemory:
		return memory.NewGiftRepository(), idempotency.NewMemoryStore(), nil
	case config.DriverFirestore:
		if clients.Firestore == nil {
			return nil, nil, errors.New("firestore driver selected but no provider supplied")
		}
		gifts, err := firestorerepo.NewGiftRepository(clients.Firestore)
		if err != nil {
			return nil, nil, err
		}
		replays, err := idempotency.NewFirestoreStore(clients.Firestore, "")
		if err != nil {
			return nil, nil, err
		}
		return gifts, replays, nil
	default:
		return nil, nil, fmt.Errorf("unknown repository driver %q", cfg.Repository.Driver)
	}
}

func (c *Container) sessionOptions(prefix, kind string) sessions.Options {
	return sessions.Options{
		Prefix:        prefix,
		IdleTTL:       c.Config.Sessions.IdleTTL,
		SweepInterval: c.Config.Sessions.SweepInterval,
		MaxSessions:   c.Config.Sessions.MaxSessions,
		Scheduler:     c.Scheduler,
		Logger:        observability.EventLogger(c.logger.Named("sessions." + kind)),
	}
}

func (c *Container) healthChecks(clients Clients) []repositories.DependencyCheck {
	checks := []repositories.DependencyCheck{{
		Name: "sessions",
		Check: func(context.Context) error {
			limit := c.Config.Sessions.MaxSessions
			if limit > 0 && (c.Editors.Len() >= limit || c.Viewers.Len() >= limit) {
				return errors.New("session store at capacity")
			}
			return nil
		},
	}}
	if provider := clients.Firestore; provider != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name: "firestore",
			Check: func(ctx context.Context) error {
				client, err := provider.Client(ctx)
				if err != nil {
					return err
				}
				_, err = client.Collections(ctx).Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	if redis := clients.Redis; redis != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redis.Ping(ctx).Err() },
		})
	}
	if topic := clients.Topic; topic != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: 3 * time.Second,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err == nil && !ok {
					err = fmt.Errorf("topic %s does not exist", topic.ID())
				}
				return err
			},
		})
	}
	if secrets := clients.Secrets; secrets != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:  "secretManager",
			Check: secrets.Ping,
		})
	}
	return checks
}

// StartReplaySweeper periodically drops expired Idempotency-Key replays.
// It is a no-op when the sweep interval is zero.
func (c *Container) StartReplaySweeper(ctx context.Context) {
	interval := c.Config.Replay.SweepInterval
	if interval <= 0 || c.Replays == nil || c.sweeper != nil {
		return
	}
	log := c.logger.Named("replays")
	ctx = context.WithoutCancel(ctx)
	c.sweeper = clock.Ticker(c.Scheduler, interval, func() {
		runCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		removed, err := c.Replays.Sweep(runCtx, c.Scheduler.Now(), c.Config.Replay.SweepBatch)
		if err != nil {
			log.Warn("replay sweep failed", zap.Error(err))
			return
		}
		if removed > 0 {
			log.Info("replay sweep removed entries", zap.Int("count", removed))
		}
	})
}

// Close stops the replay sweeper and closes every live session.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.sweeper != nil {
		c.sweeper.Stop()
	}
	done := make(chan struct{})
	go func() {
		c.closeSessions()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close sessions: %w", ctx.Err())
	}
}

func (c *Container) closeSessions() {
	var g errgroup.Group
	if c.Editors != nil {
		g.Go(func() error { c.Editors.Close(); return nil })
	}
	if c.Viewers != nil {
		g.Go(func() error { c.Viewers.Close(); return nil })
	}
	_ = g.Wait()
}
