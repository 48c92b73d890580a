package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"

	"github.com/Ramsey-B/clover/config"
	"github.com/Ramsey-B/clover/pkg/bitrix"
	"github.com/Ramsey-B/clover/pkg/broker"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/httpclient"
	"github.com/Ramsey-B/clover/pkg/ingest"
	"github.com/Ramsey-B/clover/pkg/mailer"
	"github.com/Ramsey-B/clover/pkg/middleware"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/reconcile"
	"github.com/Ramsey-B/clover/pkg/redis"
	"github.com/Ramsey-B/clover/pkg/repositories"
	healthroute "github.com/Ramsey-B/clover/pkg/routes/health"
	oauthroute "github.com/Ramsey-B/clover/pkg/routes/oauth"
	siterequestroute "github.com/Ramsey-B/clover/pkg/routes/siterequest"
	syncroute "github.com/Ramsey-B/clover/pkg/routes/sync"
	webhookroute "github.com/Ramsey-B/clover/pkg/routes/webhook"
	"github.com/Ramsey-B/clover/pkg/siterequest"
	"github.com/Ramsey-B/clover/pkg/startup"
	"github.com/Ramsey-B/clover/pkg/syncctx"
	"github.com/Ramsey-B/clover/pkg/tokenstore"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/Ramsey-B/clover/pkg/tracing/exporters"
	"github.com/Ramsey-B/clover/pkg/webhook"
)

const version = "1.0.0"

func main() {
	_ = godotenv.Load()

	cfg := &config.Config{}
	if err := ectoenv.BindEnv(cfg); err != nil {
		panic(fmt.Sprintf("failed to bind config: %v", err))
	}

	zapLogger := newZapLogger(cfg)
	defer func() { _ = zapLogger.Sync() }()
	logger := zapadapter.NewZapEctoLogger(zapLogger, nil)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app := &application{cfg: cfg, logger: logger, ctx: ctx}

	if err := app.initTracing(ctx); err != nil {
		logger.WithError(err).Error("Failed to initialize tracing, continuing without it")
	}

	boot := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	boot.AddDependency(&dependency{name: "database", start: app.startDatabase, stopFn: app.stopDatabase})
	boot.AddDependency(&dependency{name: "migrations", dependsOn: []string{"database"}, start: app.runMigrations})
	boot.AddDependency(&dependency{name: "redis", start: app.startRedis, stopFn: app.stopRedis})
	boot.AddDependency(&dependency{name: "broker", start: app.startBroker, stopFn: app.stopBroker})
	boot.AddDependency(&dependency{
		name:      "services",
		dependsOn: []string{"database", "migrations", "redis", "broker"},
		start:     app.startServices,
		stopFn:    app.stopServices,
	})
	boot.AddDependency(&dependency{name: "workers", dependsOn: []string{"services"}, start: app.startWorkers})
	boot.AddDependency(&dependency{name: "server", dependsOn: []string{"services"}, start: app.startServer, stopFn: app.stopServer})

	if err := boot.Start(ctx); err != nil {
		logger.WithError(err).Error("Startup failed")
		os.Exit(1)
	}
	app.health.SetReady(true)
	logger.Infof("%s listening on port %d", cfg.AppName, cfg.Port)

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	app.health.SetReady(false)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	if err := boot.Stop(stopCtx); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
	}
}

// dependency adapts plain functions to the startup graph.
type dependency struct {
	name      string
	dependsOn []string
	start     func(ctx context.Context) error
	stopFn    func(ctx context.Context) error
}

func (d *dependency) GetName() string      { return d.name }
func (d *dependency) DependsOn() []string  { return d.dependsOn }
func (d *dependency) Start(ctx context.Context) error {
	return d.start(ctx)
}
func (d *dependency) Stop(ctx context.Context) error {
	if d.stopFn == nil {
		return nil
	}
	return d.stopFn(ctx)
}

type application struct {
	cfg    *config.Config
	logger ectologger.Logger
	ctx    context.Context

	sqlDB    *sqlx.DB
	db       database.DB
	redis    *redis.Client
	broker   *broker.Client
	emitter  *events.Emitter
	bitrix   *bitrix.Client
	pipeline *ingest.Pipeline
	health   *healthroute.Checker
	echo     *echo.Echo
}

func newZapLogger(cfg *config.Config) *zap.Logger {
	var zapCfg zap.Config
	if cfg.PrettyLogs {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	if level, err := zap.ParseAtomicLevel(cfg.LogLevel); err == nil {
		zapCfg.Level = level
	}
	logger, err := zapCfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func (app *application) initTracing(ctx context.Context) error {
	if !app.cfg.OTLPEnabled {
		return nil
	}

	exporter, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
		Endpoint: app.cfg.OTLPEndpoint,
		Protocol: app.cfg.OTLPProtocol,
		Insecure: app.cfg.OTLPInsecure,
	})
	if err != nil {
		return err
	}

	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)
	tracing.SetTracer(provider.Tracer(app.cfg.AppName))
	return nil
}

func (app *application) startDatabase(ctx context.Context) error {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		app.cfg.DatabaseHost, app.cfg.DatabasePort, app.cfg.DatabaseUserName,
		app.cfg.DatabasePassword, app.cfg.DatabaseName, app.cfg.DatabaseSSLMode)

	db, err := sqlx.ConnectContext(ctx, app.cfg.DatabaseDriver, dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(app.cfg.DatabaseMaxOpenConns)
	db.SetMaxIdleConns(app.cfg.DatabaseMaxIdleConns)
	db.SetConnMaxLifetime(app.cfg.DatabaseConnMaxLifetime)

	app.sqlDB = db
	app.db = database.NewDatabaseInstance(db, app.logger)
	return nil
}

func (app *application) stopDatabase(ctx context.Context) error {
	if app.sqlDB == nil {
		return nil
	}
	return app.sqlDB.Close()
}

func (app *application) runMigrations(ctx context.Context) error {
	driver, err := migratepg.WithInstance(app.sqlDB.DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	service := database.NewMigrationService(app.logger, &database.MigrationConfig{
		MigrationFolderPath: app.cfg.DatabaseMigrationFolderPath,
		Version:             uint(app.cfg.DatabaseMigrationVersion),
		Force:               app.cfg.DatabaseMigrationForce,
		AutoRollback:        app.cfg.DatabaseMigrationAutoRollback,
	})
	return service.Migrate(app.cfg.DatabaseName, driver)
}

func (app *application) startRedis(ctx context.Context) error {
	client, err := redis.NewClient(redis.Config{
		Host:     app.cfg.RedisHost,
		Port:     app.cfg.RedisPort,
		Password: app.cfg.RedisPassword,
		DB:       app.cfg.RedisDB,
		TLS:      app.cfg.RedisTLS,
	}, app.logger)
	if err != nil {
		return err
	}
	app.redis = client
	return nil
}

func (app *application) stopRedis(ctx context.Context) error {
	if app.redis == nil {
		return nil
	}
	return app.redis.Close()
}

func (app *application) startBroker(ctx context.Context) error {
	if !app.cfg.ConsumerEnabled && !app.cfg.MailerEnabled {
		app.logger.Info("Broker disabled, skipping")
		return nil
	}

	client, err := broker.NewClient(broker.Config{
		Host:       app.cfg.BrokerHost,
		Port:       app.cfg.BrokerPort,
		User:       app.cfg.BrokerUser,
		Password:   app.cfg.BrokerPassword,
		VHost:      app.cfg.BrokerVHost,
		Exchange:   app.cfg.BrokerExchange,
		Queue:      app.cfg.BrokerQueue,
		RetryDelay: app.cfg.BrokerRetryDelay,
		MaxRetries: app.cfg.BrokerMaxRetries,
	}, app.logger)
	if err != nil {
		return err
	}
	app.broker = client
	return nil
}

func (app *application) stopBroker(ctx context.Context) error {
	if app.broker == nil {
		return nil
	}
	return app.broker.Close()
}

func (app *application) startServices(ctx context.Context) error {
	cfg := app.cfg

	tokens, err := tokenstore.NewStore(app.redis, app.logger, []byte(cfg.TokenEncryptionKey), cfg.BitrixUserID, "bitrix")
	if err != nil {
		return fmt.Errorf("failed to initialize token store: %w", err)
	}

	httpClient := httpclient.NewClient(httpclient.DefaultConfig(), app.logger)
	app.bitrix = bitrix.NewClient(bitrix.Config{
		PortalURL:    cfg.BitrixPortalURL,
		ClientID:     cfg.BitrixClientID,
		ClientSecret: cfg.BitrixClientSecret,
		RedirectURI:  cfg.BitrixRedirectURI,
	}, httpClient, tokens, app.logger)

	if cfg.KafkaEmitterEnabled {
		app.emitter = events.NewEmitter(events.EmitterConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaSyncEventTopic,
		}, app.logger)
	}

	stores := repositories.NewStores(app.db, app.logger)
	dealPortal := bitrix.NewAdapter(app.bitrix, models.KindDeal, bitrix.NamespaceCRM, "deal", 0)
	engine := reconcile.NewEngine(stores.Deals, stores.Stages, dealPortal, app.logger)
	engine.SetProductCheck(func(ctx context.Context, _ *syncctx.Context, deal *models.Deal) (bool, error) {
		rows, err := bitrix.ListProductRows(ctx, app.bitrix, "D", deal.ExternalID)
		if err != nil {
			return false, err
		}
		return len(rows) > 0, nil
	})

	app.pipeline = ingest.NewPipeline(app.db, stores, app.bitrix, engine, app.emitter, app.logger)

	locker := redis.NewLocker(app.redis, "")
	verifier := webhook.NewVerifier(parseTokenDomains(cfg.WebhookTokenDomains), cfg.WebhookMaxAge)
	service := webhook.NewService(webhook.Config{
		LockLease: cfg.LockLease,
		LockPolicy: redis.RetryPolicy{
			MaxRetries: cfg.LockMaxRetries,
			BaseDelay:  cfg.LockBaseDelay,
			MaxDelay:   cfg.LockMaxDelay,
			Jitter:     true,
		},
		TestMode:   cfg.TestMode,
		TestDealID: int64(cfg.TestDealID),
	}, app.db, locker, app.pipeline, app.logger)

	siteHandler := siterequest.NewHandler(app.bitrix, cfg.ManagerIDs, app.logger)
	app.health = healthroute.NewChecker(app.db, app.redis, app.broker, version)

	container, err := ectoinject.NewDIDefaultContainer()
	if err != nil {
		return fmt.Errorf("failed to create DI container: %w", err)
	}
	if err := ectoinject.RegisterInstance[ectologger.Logger](container, app.logger); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[database.DB](container, app.db); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*bitrix.Client](container, app.bitrix); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*ingest.Pipeline](container, app.pipeline); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*webhook.Verifier](container, verifier); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*webhook.Service](container, service); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*siterequest.Handler](container, siteHandler); err != nil {
		return err
	}
	return nil
}

func (app *application) stopServices(ctx context.Context) error {
	if app.emitter == nil {
		return nil
	}
	return app.emitter.Close()
}

func (app *application) startWorkers(ctx context.Context) error {
	if app.cfg.ConsumerEnabled && app.broker != nil {
		worker := broker.NewSiteRequestWorker(
			httpclient.NewClient(httpclient.DefaultConfig(), app.logger),
			app.cfg.SiteRequestURL,
			app.logger,
		)
		go func() {
			if err := app.broker.Consume(app.ctx, worker.Handle); err != nil && app.ctx.Err() == nil {
				app.logger.WithError(err).Error("Broker consumer stopped")
			}
		}()
	}

	if app.cfg.MailerEnabled && app.broker != nil {
		poller := mailer.NewPoller(mailer.Config{
			Host:         app.cfg.IMAPHost,
			Port:         app.cfg.IMAPPort,
			User:         app.cfg.IMAPUser,
			Password:     app.cfg.IMAPPassword,
			Folder:       app.cfg.IMAPFolder,
			Sender:       app.cfg.IMAPTargetSender,
			PollInterval: app.cfg.IMAPPollInterval,
			MaxBackoff:   app.cfg.IMAPMaxBackoff,
		}, app.broker, app.logger)
		go func() {
			if err := poller.Run(app.ctx); err != nil && app.ctx.Err() == nil {
				app.logger.WithError(err).Error("Mail poller stopped")
			}
		}()
	}
	return nil
}

func (app *application) startServer(ctx context.Context) error {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = time.Duration(app.cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(app.cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(app.cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.ReadHeaderTimeout = time.Duration(app.cfg.ReadHeaderTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = app.cfg.MaxHeaderBytes

	e.HTTPErrorHandler = middleware.Error(app.logger)
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: app.cfg.AllowOrigins,
		AllowMethods: app.cfg.AllowMethods,
	}))
	e.Use(otelecho.Middleware(app.cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(app.logger))

	root := e.Group("")
	webhookroute.Register(root)
	siterequestroute.Register(root)
	oauthroute.Register(root)
	syncroute.Register(root)
	app.health.RegisterRoutes(e)

	app.echo = e
	go func() {
		if err := e.Start(fmt.Sprintf(":%d", app.cfg.Port)); err != nil && err != http.ErrServerClosed {
			app.logger.WithError(err).Error("HTTP server stopped")
		}
	}()
	return nil
}

func (app *application) stopServer(ctx context.Context) error {
	if app.echo == nil {
		return nil
	}
	return app.echo.Shutdown(ctx)
}

// parseTokenDomains reads "token:domain" pairs from config.
func parseTokenDomains(pairs []string) map[string]string {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		token, domain, ok := strings.Cut(pair, ":")
		if !ok || token == "" || domain == "" {
			continue
		}
		out[token] = domain
	}
	return out
}
