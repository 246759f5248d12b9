// Package app wires configuration into a running pipeline: store, token
// cache, remote client, notifiers, orchestrator and dispatcher.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"example.com/webinar-sync/internal/auth"
	"example.com/webinar-sync/internal/command"
	"example.com/webinar-sync/internal/config"
	"example.com/webinar-sync/internal/logging"
	"example.com/webinar-sync/internal/model"
	"example.com/webinar-sync/internal/notify"
	"example.com/webinar-sync/internal/pipeline"
	"example.com/webinar-sync/internal/queue"
	"example.com/webinar-sync/internal/store"
	"example.com/webinar-sync/internal/zoom"
)

type App struct {
	Config     *config.Config
	Store      *store.GormStore
	Dispatcher *command.Dispatcher

	redis   *redis.Client
	memory  *auth.MemoryCache
	events  *gochannel.GoChannel
	closers []func() error
}

// New builds the application from cfg. The caller owns the returned App and
// must Close it.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Database.Driver, err)
	}
	a := &App{Config: cfg, Store: st}
	if sqlDB, err := st.DB().DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}

	var cache auth.TokenCache
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.closers = append(a.closers, a.redis.Close)
		cache = auth.NewRedisCache(a.redis, cfg.Redis.Prefix)
		logging.Info().Str("addr", cfg.Redis.Addr).Msg("using redis token cache")
	} else {
		a.memory = auth.NewMemoryCache()
		cache = a.memory
	}

	a.events = gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	a.closers = append(a.closers, a.events.Close)
	notifiers := notify.Multi{notify.NewWatermillNotifier(a.events, notify.DefaultTopic)}
	if a.redis != nil {
		notifiers = append(notifiers, notify.NewRedisNotifier(a.redis, cfg.Redis.Channel))
	}
	if err := a.logInvalidations(ctx); err != nil {
		a.Close()
		return nil, err
	}

	client := zoom.NewClient(zoom.Options{
		BaseURL:    cfg.Zoom.BaseURL,
		Timeout:    cfg.Zoom.Timeout,
		RPS:        cfg.Zoom.RPS,
		Burst:      cfg.Zoom.Burst,
		MaxRetries: cfg.Zoom.MaxRetries,
	})
	resolver := auth.NewResolver(st, model.Credentials{
		AccountID:    cfg.Zoom.AccountID,
		ClientID:     cfg.Zoom.ClientID,
		ClientSecret: cfg.Zoom.ClientSecret,
	})
	tokens := auth.NewManager(cache, cfg.Zoom.TokenURL, auth.WithSkew(cfg.Sync.TokenSkew))

	orch := pipeline.NewOrchestrator(pipeline.Deps{
		Store:       st,
		API:         client,
		Credentials: resolver,
		Tokens:      tokens,
		Notifier:    notifiers,
	}, pipeline.Options{
		ChunkSize:       cfg.Sync.ChunkSize,
		InterChunkDelay: cfg.Sync.InterChunkDelay,
		Settings: pipeline.SettingsOptions{
			BatchSize:  cfg.Sync.SettingsBatchSize,
			BatchDelay: cfg.Sync.SettingsBatchDelay,
			CallBurst:  cfg.Sync.SettingsCallBurst,
			CallPause:  cfg.Sync.SettingsCallPause,
		},
		ParticipantPageSize: cfg.Sync.ParticipantPageSize,
		ParticipantMaxPages: cfg.Sync.ParticipantMaxPages,
		WebinarPageSize:     cfg.Sync.WebinarPageSize,
	})
	a.Dispatcher = command.NewDispatcher(orch, cfg.Sync.RunTimeout)
	return a, nil
}

// logInvalidations subscribes to the in-process invalidation topic and logs
// each event at debug level.
func (a *App) logInvalidations(ctx context.Context) error {
	msgs, err := a.events.Subscribe(context.WithoutCancel(ctx), notify.DefaultTopic)
	if err != nil {
		return fmt.Errorf("subscribe invalidations: %w", err)
	}
	go func() {
		for msg := range msgs {
			var inv notify.Invalidation
			if err := json.Unmarshal(msg.Payload, &inv); err == nil {
				logging.Debug().Str("user_id", inv.UserID).Strs("keys", inv.Keys).Msg("cache keys invalidated")
			}
			msg.Ack()
		}
	}()
	return nil
}

// Queue returns the job queue selected by configuration: RabbitMQ when
// enabled, otherwise an in-process queue.
func (a *App) Queue() (queue.Client, error) {
	if !a.Config.RabbitMQ.Enabled {
		logging.Info().Msg("rabbitmq disabled; using in-process job queue")
		return queue.NewMemoryClient(a.Config.RabbitMQ.Workers * 4), nil
	}
	q, err := queue.NewRabbitClient(a.Config.RabbitMQ.URL, a.Config.RabbitMQ.Queue, a.Config.RabbitMQ.Workers)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	return q, nil
}

func (a *App) Close() error {
	if a.memory != nil {
		a.memory.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
