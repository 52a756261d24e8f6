package videosubscription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/streadway/amqp"
	"golang.org/x/sync/errgroup"

	"github.com/magabrotheeeer/video-subscription/internal/cache"
	"github.com/magabrotheeeer/video-subscription/internal/capability"
	"github.com/magabrotheeeer/video-subscription/internal/config"
	"github.com/magabrotheeeer/video-subscription/internal/http/handlers/content"
	"github.com/magabrotheeeer/video-subscription/internal/http/middlewarectx"
	"github.com/magabrotheeeer/video-subscription/internal/lib/jwt"
	"github.com/magabrotheeeer/video-subscription/internal/lib/password"
	"github.com/magabrotheeeer/video-subscription/internal/lib/sl"
	"github.com/magabrotheeeer/video-subscription/internal/metrics"
	"github.com/magabrotheeeer/video-subscription/internal/migrations"
	"github.com/magabrotheeeer/video-subscription/internal/paymentprovider"
	"github.com/magabrotheeeer/video-subscription/internal/rabbitmq"
	"github.com/magabrotheeeer/video-subscription/internal/services/auth"
	"github.com/magabrotheeeer/video-subscription/internal/services/billing"
	"github.com/magabrotheeeer/video-subscription/internal/services/entitlement"
	"github.com/magabrotheeeer/video-subscription/internal/services/session"
	"github.com/magabrotheeeer/video-subscription/internal/storage"
	"github.com/magabrotheeeer/video-subscription/internal/storage/memory"
	"github.com/magabrotheeeer/video-subscription/internal/storage/postgres"
)

// App — процесс сервиса: HTTP-сервер, потребитель очереди и общие ресурсы.
// Ресурсы создаются один раз в New и освобождаются в Run после остановки.
type App struct {
	cfg     *config.Config
	server  *http.Server
	logger  *slog.Logger
	billing *billing.Service

	consumeCh *amqp.Channel
	closers   []io.Closer
}

// New создаёт ресурсы и собирает приложение по конфигу.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (app *App, err error) {
	const op = "app.videosubscription.New"

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(registry)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	hasher := password.NewHasher(cfg.BcryptCost)

	var (
		credentials  storage.CredentialStore
		entitlements storage.EntitlementStore
		pinger       capability.Pinger
	)
	switch cfg.Driver {
	case "postgres":
		db, err := postgres.New(ctx, cfg.StorageConnectionString, hasher)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		a.closers = append(a.closers, db)
		if err := migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		credentials, entitlements, pinger = db, db, db
	default:
		logger.Warn("using in-memory storage, data is lost on restart")
		store := memory.New(hasher)
		credentials, entitlements = store, store
	}

	base := capability.NewDescriptor(cfg.RuntimeName, cfg.Capabilities...)
	detector := capability.NewProbeDetector(logger, base, pinger, cfg.ProbeInterval, cfg.ProbeTimeout)
	resolver := capability.NewResolver(logger, credentials, entitlements, detector, m)

	var snapshots entitlement.Cache
	if cfg.RedisEnabled {
		c, err := cache.InitServer(ctx, cfg.RedisConnection)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		a.closers = append(a.closers, c)
		snapshots = c
	}

	prices, err := cfg.TierPrices()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	tokens := jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL)
	ledger := entitlement.New(logger, resolver, prices, snapshots, m, cfg.StoreTimeout)
	authService := auth.New(logger, resolver, tokens, hasher, m, cfg.StoreTimeout)
	gate := session.NewGate(logger, tokens, resolver, ledger, m, cfg.StoreTimeout)
	processor := paymentprovider.NewClient(cfg.ProcessorURL, cfg.ProcessorSecretKey, cfg.ProcessorTimeout)

	var queue billing.Enqueuer
	if cfg.RabbitEnabled {
		conn, err := rabbitmq.Connect(ctx, cfg.RabbitURL, cfg.Retries, cfg.RetryDelay)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		a.closers = append(a.closers, conn)

		publishCh, err := rabbitmq.SetupChannel(conn, cfg.Queue, 0)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		a.consumeCh, err = rabbitmq.SetupChannel(conn, cfg.Queue, cfg.Prefetch)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		queue = rabbitmq.NewPublisher(publishCh, cfg.Queue)
	}

	a.billing = billing.New(logger, processor, ledger, queue, m, billing.Config{
		Prices:           prices,
		SuccessURL:       cfg.SuccessURL,
		CancelURL:        cfg.CancelURL,
		WebhookSecret:    cfg.WebhookSecret,
		WebhookTolerance: cfg.WebhookTolerance,
	})

	router := NewRouter(Deps{
		Logger:     logger,
		Auth:       authService,
		Gate:       gate,
		Billing:    a.billing,
		Health:     resolver,
		Limiter:    middlewarectx.NewRateLimiter(logger, cfg.RPS, cfg.Burst),
		Gatherer:   registry,
		Catalog:    content.DefaultCatalog(),
		EdgeHeader: cfg.EdgeHeader,
		TrustProxy: cfg.TrustProxy,
	})

	a.server = &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return a, nil
}

// Handler возвращает корневой HTTP-обработчик.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Run запускает HTTP-сервер и, если очередь включена, её потребителя.
// Блокируется до отмены ctx или ошибки одного из них.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		timeoutCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		return a.server.Shutdown(timeoutCtx)
	})

	if a.consumeCh != nil {
		g.Go(func() error {
			a.logger.Info("billing event consumer starting", slog.String("queue", a.cfg.Queue))
			err := rabbitmq.Consume(gctx, a.logger, a.consumeCh, a.cfg.Queue, a.cfg.Prefetch, a.billing.ProcessQueued)
			if err != nil && gctx.Err() == nil {
				return err
			}
			return nil
		})
	}

	return g.Wait()
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.ShutdownTimeout > 0 {
		return a.cfg.ShutdownTimeout
	}
	return 15 * time.Second
}

// close освобождает ресурсы в обратном порядке создания.
func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("failed to close resource", sl.Err(err))
		}
	}
	a.closers = nil
}
