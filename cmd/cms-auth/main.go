package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-cms-auth"
	"github.com/goliatone/go-cms-auth/middleware/guardware"
	"github.com/goliatone/go-cms-auth/notify"
	"github.com/goliatone/go-cms-auth/repository"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type App struct {
	config     AppConfig
	log        *logrus.Logger
	db         *bun.DB
	redis      *redis.Client
	publisher  *notify.Publisher
	registry   *prometheus.Registry
	srv        router.Server[*fiber.App]
	metricsSrv *http.Server
}

func (a *App) GetLogger(name string) auth.Logger {
	return auth.NewLogrusLogger(a.log, logrus.Fields{"component": name})
}

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := loadAppConfig(nil)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	level, _ := logrus.ParseLevel(cfg.LogLevel)
	log.SetLevel(level)

	if cfg.Debug {
		log.Debugf("configuration:\n%s", print.MaybePrettyJSON(redacted(cfg)))
	}

	app := &App{config: cfg, log: log}

	ctx := context.Background()
	if err := WithPersistence(ctx, app); err != nil {
		log.WithError(err).Fatal("failed to initialize persistence")
	}

	if err := WithMessaging(ctx, app); err != nil {
		log.WithError(err).Fatal("failed to initialize messaging")
	}

	if err := WithHTTPServer(ctx, app); err != nil {
		log.WithError(err).Fatal("failed to initialize http server")
	}

	go func() {
		if err := app.srv.Serve(cfg.HTTPAddr); err != nil {
			log.WithError(err).Error("http server stopped")
		}
	}()

	go func() {
		if err := app.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server stopped")
		}
	}()

	log.WithField("addr", cfg.HTTPAddr).Info("cms auth listening")

	sig := WaitExitSignal()
	log.WithField("signal", sig.String()).Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	app.Close(shutdownCtx)
}

func WithPersistence(ctx context.Context, app *App) error {
	sqldb, err := sql.Open(sqliteshim.ShimName, app.config.DatabaseDSN)
	if err != nil {
		return err
	}
	app.db = bun.NewDB(sqldb, sqlitedialect.New())

	if err := auth.CreateSchema(ctx, app.db); err != nil {
		return err
	}

	if app.config.RedisAddr != "" {
		app.redis = redis.NewClient(&redis.Options{Addr: app.config.RedisAddr})
		if err := app.redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

func WithMessaging(_ context.Context, app *App) error {
	if app.config.AMQPURL == "" {
		return nil
	}
	publisher, err := notify.NewPublisher(app.config.AMQPURL, app.config.EmailExchange)
	if err != nil {
		return err
	}
	app.publisher = publisher
	return nil
}

func WithHTTPServer(_ context.Context, app *App) error {
	cfg := app.config

	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(collectors.NewGoCollector())

	metrics, err := auth.NewPrometheusActivitySink(app.registry)
	if err != nil {
		return err
	}

	var activity auth.ActivitySink = metrics
	var dispatcher auth.EmailDispatcher = notify.NewLogDispatcher(app.log, cfg.AppBaseURL)
	if app.publisher != nil {
		dispatcher = notify.NewAMQPDispatcher(app.publisher, cfg.AppBaseURL)
		activity = auth.MultiActivitySink{metrics, notify.NewActivitySink(app.publisher)}
	}

	repo := auth.NewRepositoryManager(app.db)
	if err := repo.Validate(); err != nil {
		return err
	}

	var ledger auth.TokenLedger = repo.Tokens()
	if app.redis != nil {
		ledger = repository.NewRedisLedger(app.redis)
	}

	codec, err := auth.NewTokenCodec(cfg.Auth)
	if err != nil {
		return err
	}

	sessions, err := auth.NewSessionManager(cfg.Auth, codec, ledger, repo.Users(), dispatcher,
		auth.WithSessionLogger(app.GetLogger("sessions")),
		auth.WithSessionActivitySink(activity),
		auth.WithPasswordHasher(auth.NewBcryptHasher(cfg.Auth.BcryptCost)),
	)
	if err != nil {
		return err
	}

	guard := auth.NewGuard(codec, ledger, repo.Users(),
		auth.WithGuardLogger(app.GetLogger("guard")),
		auth.WithGuardActivitySink(activity),
	)

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:  true,
			StrictRouting: false,
		}))
	})

	controller := auth.NewAuthController(repo, sessions, guard,
		auth.WithControllerLogger(app.GetLogger("auth:ctrl")),
		auth.WithControllerDebug(cfg.Debug),
		auth.WithHashidUserIDs(cfg.UseHashid),
	)
	controller.RegisterRoutes(srv.Router(), guardware.New(guardware.Config{Guard: guard}))

	srv.Router().Get("/health", func(ctx router.Context) error {
		return ctx.JSON(router.StatusOK, map[string]string{"status": "ok"})
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}))
	app.metricsSrv = &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	app.srv = srv
	return nil
}

func (a *App) Close(ctx context.Context) {
	if a.srv != nil {
		if err := a.srv.Shutdown(ctx); err != nil {
			a.log.WithError(err).Warn("http shutdown")
		}
	}
	if a.metricsSrv != nil {
		_ = a.metricsSrv.Shutdown(ctx)
	}
	if a.publisher != nil {
		_ = a.publisher.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}

// redacted drops secrets before the configuration is printed
func redacted(cfg AppConfig) AppConfig {
	if cfg.Auth.SigningSecret != "" {
		cfg.Auth.SigningSecret = "***"
	}
	if cfg.Auth.PreviousSigningSecret != "" {
		cfg.Auth.PreviousSigningSecret = "***"
	}
	if cfg.AMQPURL != "" {
		cfg.AMQPURL = "***"
	}
	return cfg
}
