// Package app は設定に従って通知サービスの各コンポーネントを組み立て、起動と停止を管理する。
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nao1215/livefeed/internal/bridge"
	"github.com/nao1215/livefeed/internal/config"
	"github.com/nao1215/livefeed/internal/notification"
	"github.com/nao1215/livefeed/internal/notification/pgstore"
	"github.com/nao1215/livefeed/internal/presence"
	"github.com/nao1215/livefeed/internal/realtime"
	"github.com/nao1215/livefeed/pkg/logging"
	"github.com/nao1215/livefeed/pkg/middleware"
)

// App は組み立て済みの通知サービス。
type App struct {
	cfg     config.Config
	log     zerolog.Logger
	store   notification.Store
	gateway *realtime.Gateway
	janitor *presence.Janitor
	server  *notification.Server
	closers []func() error
}

// New は設定に従ってストア、ディレクトリ、ブリッジ、ゲートウェイ、HTTPサーバーを組み立てる。
// 途中で失敗した場合は作成済みのリソースを解放する。
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (_ *App, err error) {
	a := &App{cfg: cfg, log: log}
	if slices.Contains(cfg.Server.CORSOrigins, "*") {
		log.Warn().Msg("許可するOriginに * が含まれています。開発環境以外ではOriginを列挙してください")
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	store, err := openStore(ctx, cfg.Store, logging.Component(log, "store"))
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	clients := map[string]*redis.Client{}
	redisFor := func(url string) (*redis.Client, error) {
		if c, ok := clients[url]; ok {
			return c, nil
		}
		opts, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("Redis URLの解析に失敗: %w", err)
		}
		if len(clients) == 0 {
			redis.SetLogger(logging.NewPrintfLogger(logging.Component(log, "redis")))
		}
		c := redis.NewClient(opts)
		clients[url] = c
		a.closers = append(a.closers, c.Close)
		return c, nil
	}

	dir, tracker, err := openDirectory(cfg.Directory, redisFor)
	if err != nil {
		return nil, err
	}

	br, err := openBridge(cfg.Bridge, redisFor, logging.Component(log, "bridge"))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, br.Close)

	a.gateway = realtime.New(cfg.Server.InstanceID, dir, br, realtime.Options{
		SendQueueSize:  cfg.Gateway.SendQueueSize,
		IOTimeout:      cfg.Directory.IOTimeout,
		WriteTimeout:   cfg.Gateway.WriteTimeout,
		RateLimit:      rate.Limit(cfg.Gateway.RateLimit),
		RateBurst:      cfg.Gateway.RateBurst,
		ReadLimit:      cfg.Gateway.ReadLimit,
		OriginPatterns: cfg.Server.CORSOrigins,
		Authenticate:   middleware.TokenAuthenticator(cfg.Auth.JWTSecret),
	}, log)

	a.janitor = presence.NewJanitor(tracker, cfg.Server.InstanceID, presence.JanitorConfig{
		HeartbeatSchedule: cfg.Directory.HeartbeatSchedule,
		SweepSchedule:     cfg.Directory.SweepSchedule,
		InstanceTTL:       cfg.Directory.InstanceTTL,
		Resync:            a.gateway.Resync,
	}, log)

	decider := notification.NewDecider(store, dir, a.gateway, cfg.Directory.LookupTimeout, logging.Component(log, "decider"))
	a.server = notification.NewServer(notification.ServerConfig{
		JWTSecret:     cfg.Auth.JWTSecret,
		ServiceAPIKey: cfg.Auth.ServiceAPIKey,
		CORSOrigins:   cfg.Server.CORSOrigins,
	}, store, decider, a.gateway, logging.Component(log, "http"))

	return a, nil
}

// directoryBackend は Directory と InstanceTracker の両方を満たす実装。
type directoryBackend interface {
	presence.Directory
	presence.InstanceTracker
}

func openStore(ctx context.Context, cfg config.StoreConfig, log zerolog.Logger) (notification.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return pgstore.Open(ctx, cfg.DSN, log)
	case "sqlite":
		return notification.OpenSQLite(ctx, cfg.DSN, log)
	}
	return nil, fmt.Errorf("未対応のストアです: %q", cfg.Driver)
}

func openDirectory(cfg config.DirectoryConfig, redisFor func(string) (*redis.Client, error)) (presence.Directory, presence.InstanceTracker, error) {
	var d directoryBackend
	switch cfg.Driver {
	case "memory":
		d = presence.NewMemoryDirectory()
	case "redis":
		client, err := redisFor(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		d = presence.NewRedisDirectory(client, presence.RedisOptions{
			Prefix:  cfg.KeyPrefix,
			Timeout: cfg.IOTimeout,
		})
	default:
		return nil, nil, fmt.Errorf("未対応のディレクトリです: %q", cfg.Driver)
	}
	return d, d, nil
}

func openBridge(cfg config.BridgeConfig, redisFor func(string) (*redis.Client, error), log zerolog.Logger) (bridge.Bridge, error) {
	switch cfg.Driver {
	case "memory":
		return bridge.NewMemoryBroker(), nil
	case "redis":
		client, err := redisFor(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return bridge.NewRedisBridge(client, bridge.RedisBridgeOptions{
			Prefix:  cfg.Prefix,
			Timeout: cfg.PublishTimeout,
		}), nil
	case "amqp":
		return bridge.DialAMQP(cfg.AMQPURL, bridge.AMQPOptions{
			ExchangePrefix: cfg.Prefix,
			Timeout:        cfg.PublishTimeout,
		}, log)
	}
	return nil, fmt.Errorf("未対応のブリッジです: %q", cfg.Driver)
}

// Handler はHTTPハンドラを返す。
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Run はゲートウェイとJanitorを開始し、ctx が終了するまでHTTPサーバーを動かす。
// 終了時はHTTPサーバーを停止し、全接続の切断処理を待ってから戻る。
func (a *App) Run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	if err := a.gateway.Start(ctx); err != nil {
		return err
	}
	if err := a.janitor.Start(ctx); err != nil {
		return err
	}
	defer a.janitor.Stop()

	srv := &http.Server{
		Addr:              ":" + a.cfg.Server.Port,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		a.log.Info().
			Str("addr", srv.Addr).
			Str("instance_id", a.cfg.Server.InstanceID).
			Msg("通知サービスを起動します")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		stop()
		if werr := a.gateway.Wait(shutdownCtx); werr != nil {
			a.log.Warn().Err(werr).Msg("接続の切断処理が時間内に終わりませんでした")
		}
		a.log.Info().Msg("通知サービスを停止しました")
		return err
	})
	return eg.Wait()
}

// Close は作成したリソースを逆順に解放する。
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
