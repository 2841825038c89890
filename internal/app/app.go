// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/heraldhq/herald/internal/bus"
	"github.com/heraldhq/herald/internal/chat"
	chatpostgres "github.com/heraldhq/herald/internal/chat/postgres"
	"github.com/heraldhq/herald/internal/config"
	"github.com/heraldhq/herald/internal/devices"
	devicespostgres "github.com/heraldhq/herald/internal/devices/postgres"
	"github.com/heraldhq/herald/internal/domain"
	"github.com/heraldhq/herald/internal/events"
	"github.com/heraldhq/herald/internal/hub"
	"github.com/heraldhq/herald/internal/identity"
	"github.com/heraldhq/herald/internal/notifications"
	"github.com/heraldhq/herald/internal/notifications/email"
	"github.com/heraldhq/herald/internal/notifications/inapp"
	notificationspostgres "github.com/heraldhq/herald/internal/notifications/postgres"
	"github.com/heraldhq/herald/internal/notifications/push"
	"github.com/heraldhq/herald/internal/notifications/sms"
	"github.com/heraldhq/herald/internal/pkg/ctxlog"
	"github.com/heraldhq/herald/internal/pkg/httputil"
	"github.com/heraldhq/herald/internal/pkg/kafka"
	"github.com/heraldhq/herald/internal/pkg/metrics"
	"github.com/heraldhq/herald/internal/pkg/postgres"
	"github.com/heraldhq/herald/internal/pkg/secrets"
	"github.com/heraldhq/herald/internal/templates"
	templatespostgres "github.com/heraldhq/herald/internal/templates/postgres"
	"github.com/heraldhq/herald/internal/tenants"
	tenantspostgres "github.com/heraldhq/herald/internal/tenants/postgres"
	"github.com/heraldhq/herald/internal/version"
	"github.com/heraldhq/herald/migrations"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	eventBus      bus.Bus
	producer      sarama.SyncProducer
	runner        *kafka.Runner
	worker        *notifications.Worker
	hub           *hub.Hub
	server        *http.Server
	metricsServer *http.Server
	loopCancel    context.CancelFunc
}

// routerDeps bundles the request-serving components for setupRouter.
type routerDeps struct {
	verifier      httputil.TokenValidator
	tenants       *tenants.Handler
	templates     *templates.Handler
	devices       *devices.Handler
	chat          *chat.Handler
	notifications *notifications.Handler
	hub           *hub.Hub
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if cfg.Database.Migrate {
		if err := postgres.Migrate(cfg.Database.URL, migrations.Files, "."); err != nil {
			db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	cipher, err := secrets.NewCipher(cfg.Encryption.Key)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create credential cipher: %w", err)
	}

	verifier := identity.NewVerifier(cfg.JWT.SecretKey)

	tenantsRepo := tenantspostgres.NewRepository(db, cipher)
	tenantsService := tenants.NewService(tenantsRepo, channelDefaults(cfg.Notifications))

	// The identity service is optional; without it every tenant renders
	// with the default branding.
	var branding tenants.BrandingSource
	if cfg.Identity.BaseURL != "" {
		branding = identity.NewClient(cfg.Identity.BaseURL, cfg.Identity.Timeout, cfg.Identity.RetryMaxElapsed)
	}
	tenantCache := tenants.NewCache(tenantsService, branding, cfg.Cache.PositiveTTL, cfg.Cache.NegativeTTL)

	templatesRepo := templatespostgres.NewRepository(db)
	templatesService := templates.NewService(templatesRepo)

	devicesRepo := devicespostgres.NewRepository(db)
	devicesService := devices.NewService(devicesRepo)

	chatRepo := chatpostgres.NewRepository(db)
	chatService := chat.NewService(chatRepo)

	notificationsRepo := notificationspostgres.NewRepository(db)
	notificationsService := notifications.NewService(notificationsRepo, templatesService)

	var eventBus bus.Bus
	if cfg.Redis.Enabled {
		eventBus, err = bus.NewRedis(connectCtx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("connect to redis bus: %w", err)
		}
	} else {
		slog.Warn("redis disabled: websocket fan-out is limited to this instance")
		eventBus = bus.NewMemory()
	}

	var (
		producer  sarama.SyncProducer
		lifecycle notifications.LifecycleNotifier
	)
	if cfg.Kafka.Enabled {
		producer, err = kafka.NewSyncProducer(cfg.Kafka.Brokers, cfg.Kafka.MaxRetries)
		if err != nil {
			_ = eventBus.Close()
			db.Close()
			return nil, fmt.Errorf("create kafka producer: %w", err)
		}
		if cfg.Kafka.LifecycleTopic != "" {
			lifecycle = events.NewLifecycleProducer(producer, cfg.Kafka.LifecycleTopic)
		}
	}

	slog.Info("notifications configured",
		"enabled", cfg.Notifications.Enabled,
		"email_enabled", cfg.Notifications.Email.Enabled,
		"sms_enabled", cfg.Notifications.SMS.Enabled,
		"push_enabled", cfg.Notifications.Push.Enabled,
		"inapp_enabled", cfg.Notifications.InApp.Enabled,
	)

	var worker *notifications.Worker
	if cfg.Notifications.Enabled {
		worker, err = buildWorker(cfg, notificationsRepo, tenantCache, devicesService, eventBus, lifecycle)
		if err != nil {
			closeResources(producer, eventBus, db)
			return nil, err
		}
	} else {
		slog.Warn("delivery worker disabled: records will queue without being sent")
	}

	var runner *kafka.Runner
	if cfg.Kafka.Enabled {
		group, err := kafka.NewConsumerGroup(cfg.Kafka.Brokers, cfg.Kafka.GroupID)
		if err != nil {
			closeResources(producer, eventBus, db)
			return nil, fmt.Errorf("create kafka consumer group: %w", err)
		}
		registry := events.NewRegistry(
			events.NewAppHandler(),
			events.NewAuthHandler(),
			events.NewDocumentsHandler(),
			events.NewSecurityHandler(),
		)
		consumer := events.NewConsumer(registry, notificationsService, tenantCache, producer, events.ConsumerConfig{
			HandlerTimeout: cfg.Kafka.HandlerTimeout,
			DLQTopic:       cfg.Kafka.DLQTopic,
			MaxRetries:     cfg.Notifications.Retry.MaxAttempts,
		})
		runner = kafka.NewRunner(group, cfg.Kafka.Topics, consumer)
	} else {
		slog.Warn("kafka disabled: notifications are accepted over the REST API only")
	}

	wsHub := hub.New(hub.Config{
		SendBuffer:   cfg.Hub.SendBuffer,
		PingInterval: cfg.Hub.PingInterval,
		WriteTimeout: cfg.Hub.WriteTimeout,
		HistoryLimit: cfg.Chat.HistoryLimit,
		TypingTTL:    cfg.Chat.TypingTTL,
	}, eventBus, verifier, notificationsService, chatService)

	loopCtx, loopCancel := context.WithCancel(context.Background())

	if err := wsHub.Start(loopCtx); err != nil {
		loopCancel()
		closeResources(producer, eventBus, db)
		return nil, fmt.Errorf("start websocket hub: %w", err)
	}
	if worker != nil {
		worker.Start(loopCtx)
	}
	if runner != nil {
		runner.Start(loopCtx)
	}

	app := &App{
		config:     cfg,
		logger:     logger,
		db:         db,
		eventBus:   eventBus,
		producer:   producer,
		runner:     runner,
		worker:     worker,
		hub:        wsHub,
		loopCancel: loopCancel,
	}

	go app.collectDBMetrics(loopCtx)
	go app.collectQueueMetrics(loopCtx, notificationsService)

	router := app.setupRouter(routerDeps{
		verifier:      verifier,
		tenants:       tenants.NewHandler(tenantsService, tenantCache),
		templates:     templates.NewHandler(templatesService),
		devices:       devices.NewHandler(devicesService),
		chat:          chat.NewHandler(chatService),
		notifications: notifications.NewHandler(notificationsService),
		hub:           wsHub,
	})

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// buildWorker assembles the channel senders, dispatcher and worker pool.
func buildWorker(
	cfg *config.Config,
	repo notifications.Repository,
	directory notifications.TenantDirectory,
	devicesService *devices.Service,
	eventBus bus.Bus,
	lifecycle notifications.LifecycleNotifier,
) (*notifications.Worker, error) {
	emailSender, err := email.NewSender(email.Config{
		Enabled:  cfg.Notifications.Email.Enabled,
		Host:     cfg.Notifications.Email.Host,
		Port:     cfg.Notifications.Email.Port,
		Username: cfg.Notifications.Email.Username,
		Password: cfg.Notifications.Email.Password,
		From:     cfg.Notifications.Email.From,
		FromName: cfg.Notifications.Email.FromName,
	})
	if err != nil {
		return nil, fmt.Errorf("create email sender: %w", err)
	}

	smsSender, err := sms.NewSender(sms.Config{
		Enabled:    cfg.Notifications.SMS.Enabled,
		AccountSID: cfg.Notifications.SMS.AccountSID,
		AuthToken:  cfg.Notifications.SMS.AuthToken,
		From:       cfg.Notifications.SMS.From,
		RateLimit:  cfg.Notifications.SMS.RateLimit,
		RateBurst:  cfg.Notifications.SMS.RateBurst,
	})
	if err != nil {
		return nil, fmt.Errorf("create sms sender: %w", err)
	}

	pushSender, err := push.NewSender(push.Config{
		Enabled:            cfg.Notifications.Push.Enabled,
		ServiceAccountJSON: cfg.Notifications.Push.ServiceAccountJSON,
	}, devicesService)
	if err != nil {
		return nil, fmt.Errorf("create push sender: %w", err)
	}

	inappSender := inapp.NewSender(inapp.Config{
		Enabled:        cfg.Notifications.InApp.Enabled,
		PublishTimeout: cfg.Notifications.InApp.PublishTimeout,
	}, eventBus)

	dispatcher := notifications.NewDispatcher(directory, notifications.BreakerSettings{
		FailureThreshold: cfg.Notifications.Breaker.FailureThreshold,
		OpenTimeout:      cfg.Notifications.Breaker.OpenTimeout,
	}, emailSender, smsSender, pushSender, inappSender)

	renderer, err := notifications.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("create notification renderer: %w", err)
	}

	workerConfig := notifications.DefaultWorkerConfig()
	workerConfig.NumWorkers = cfg.Notifications.Worker.NumWorkers
	workerConfig.BatchSize = cfg.Notifications.Worker.BatchSize
	workerConfig.PollInterval = cfg.Notifications.Worker.PollInterval
	workerConfig.ClaimTimeout = cfg.Notifications.Worker.ClaimTimeout
	workerConfig.InitialBackoff = cfg.Notifications.Retry.InitialBackoff
	workerConfig.MaxBackoff = cfg.Notifications.Retry.MaxBackoff
	workerConfig.BackoffMultiplier = cfg.Notifications.Retry.Multiplier
	workerConfig.JitterFraction = cfg.Notifications.Retry.JitterFraction

	return notifications.NewWorker(workerConfig, repo, dispatcher, renderer, directory, lifecycle), nil
}

// channelDefaults translates configured fallback providers into tenant
// credential defaults. Tenants without their own provider rows get these
// persisted as auto-generated credentials on first use.
func channelDefaults(cfg config.NotificationsConfig) tenants.Defaults {
	defaults := tenants.Defaults{}
	if cfg.Email.Enabled && cfg.Email.Host != "" {
		defaults[domain.ChannelTypeEmail] = map[string]string{
			"smtp_host":  cfg.Email.Host,
			"smtp_port":  strconv.Itoa(cfg.Email.Port),
			"username":   cfg.Email.Username,
			"password":   cfg.Email.Password,
			"from_email": cfg.Email.From,
			"from_name":  cfg.Email.FromName,
		}
	}
	if cfg.SMS.Enabled && cfg.SMS.AccountSID != "" {
		defaults[domain.ChannelTypeSMS] = map[string]string{
			"account_sid": cfg.SMS.AccountSID,
			"auth_token":  cfg.SMS.AuthToken,
			"from_number": cfg.SMS.From,
		}
	}
	if cfg.Push.Enabled && cfg.Push.ServiceAccountJSON != "" {
		defaults[domain.ChannelTypePush] = map[string]string{
			"service_account_json": cfg.Push.ServiceAccountJSON,
			"project_id":           cfg.Push.ProjectID,
		}
	}
	if cfg.InApp.Enabled {
		// In-app needs no provider secrets; the presence of the row marks
		// the channel as configured.
		defaults[domain.ChannelTypeInApp] = map[string]string{}
	}
	return defaults
}

func closeResources(producer sarama.SyncProducer, eventBus bus.Bus, db *pgxpool.Pool) {
	if producer != nil {
		_ = producer.Close()
	}
	_ = eventBus.Close()
	db.Close()
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	// Start main server
	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application. Intake stops first so
// nothing new is enqueued, then the worker drains in-flight deliveries,
// then the sockets and servers close.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	a.loopCancel()

	var errs []error

	if a.runner != nil {
		if err := a.runner.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop kafka consumer: %w", err))
		}
	}

	if a.worker != nil {
		a.worker.Stop()
	}

	a.hub.Shutdown(ctx)

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close kafka producer: %w", err))
		}
	}

	if err := a.eventBus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close event bus: %w", err))
	}

	a.db.Close()

	return errors.Join(errs...)
}

func (a *App) collectDBMetrics(ctx context.Context) {
	// Collect immediately on start
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) collectQueueMetrics(ctx context.Context, service *notifications.Service) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats, err := service.QueueStats(ctx)
			if err != nil {
				slog.Error("failed to get queue stats", "error", err)
				continue
			}
			notifications.RecordQueueStats(stats)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Worker returns the delivery worker instance. Used in tests to access
// worker state. Returns nil if notifications are disabled.
func (a *App) Worker() *notifications.Worker {
	return a.worker
}

func (a *App) setupRouter(deps routerDeps) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi.yaml")
	})

	r.Get("/docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
    <title>Herald API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
        SwaggerUIBundle({
            url: "/api/openapi.yaml",
            dom_id: '#swagger-ui',
            presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
            layout: "BaseLayout"
        });
    </script>
</body>
</html>`))
	})

	// WebSocket endpoints authenticate after the upgrade, so they sit
	// outside the bearer middleware.
	deps.hub.RegisterRoutes(r)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(httputil.AuthMiddleware(deps.verifier))

			deps.tenants.RegisterRoutes(r)
			deps.templates.RegisterRoutes(r)
			deps.devices.RegisterRoutes(r)
			deps.chat.RegisterRoutes(r)
			deps.notifications.RegisterRoutes(r)
		})
	})

	return r
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
