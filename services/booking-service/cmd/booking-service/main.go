package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/md-rashed-zaman/shopbook/libs/auth"
	"github.com/md-rashed-zaman/shopbook/libs/db"
	"github.com/md-rashed-zaman/shopbook/libs/grpcx"
	"github.com/md-rashed-zaman/shopbook/libs/httpx"
	"github.com/md-rashed-zaman/shopbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/shopbook/libs/otel"
	"github.com/md-rashed-zaman/shopbook/libs/runtime"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/policy"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/reminders"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var publicPaths = []string{
	"/api/v1/public/slots",
	"/api/v1/public/book",
	"/api/v1/public/appointments/cancel",
	"/api/v1/public/staff",
	"/api/v1/public/services",
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := runtime.NewLogger(cfg.Service, cfg.LogLevel)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.Service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL, db.Options{
		MaxConns:     int32(cfg.DBMaxConns),
		QueryTimeout: cfg.DBQueryTimeout,
		AppName:      cfg.Service,
	})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	bookingMetrics := metrics.NewBookingMetrics(nil)
	repo := storage.NewRepository(pool)
	outboxRepo := outbox.NewRepository()
	reminderRepo := reminders.NewRepository()
	clock := availability.ShopClock{Location: cfg.Location}

	policyProvider := policy.NewSettingsProvider(repo,
		policy.NewStaticProvider(policy.MinutesToOffsets(cfg.ReminderOffsets), cfg.CancellationWindow),
		logger,
	)
	engine := availability.NewEngine(repo, repo, cfg.StepMinutes, logger)
	bookings := booking.NewService(booking.Deps{
		Store:     repo,
		Events:    outboxRepo,
		Reminders: reminderRepo,
		Slots:     engine,
		Policy:    policyProvider,
		Clock:     clock,
		Location:  cfg.Location,
		Metrics:   bookingMetrics,
		Logger:    logger,
	})

	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}

	var writer outbox.MessageWriter
	if brokers := kafkax.SplitBrokers(cfg.KafkaBrokers); len(brokers) > 0 {
		kw := kafkax.NewWriter(brokers)
		defer func() { _ = kw.Close() }()
		writer = kw
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)})
	}
	publisher := outbox.NewPublisher(pool, outboxRepo, writer, logger, bookingMetrics, outbox.PublisherConfig{
		PollEvery: cfg.OutboxPollEvery,
		BatchSize: 50,
	})
	go publisher.Run(ctx)

	worker := reminders.NewWorker(pool, reminderRepo, outboxRepo, logger, bookingMetrics, reminders.WorkerConfig{
		Interval: cfg.ReminderPollEvery,
	})
	go worker.Run(ctx)

	limiter := httpx.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute).Middleware()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()
		limiter = httpx.NewRedisRateLimiter(rdb, cfg.RateLimitPerMinute, time.Minute, "booking:public").Middleware(logger, true)
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Optional: true, Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("/metrics", promhttp.Handler())
	registerRoutes(mux, routeDeps{
		slots:    handlers.NewSlotsHandler(engine, repo, clock, bookingMetrics, logger),
		bookings: handlers.NewBookingHandler(bookings, repo, logger),
		catalog:  handlers.NewCatalogHandler(repo, logger),
		secret:   cfg.JWTSecret,
	})
	if cfg.JWTSecret == "" {
		logger.Warn("AUTH_JWT_SECRET not set; staff routes are unauthenticated")
	}

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger),
		httpx.Only(httpx.WithWidgetCORS(cfg.CORSOrigins), publicPaths...),
		httpx.Only(limiter, publicPaths...),
		httpx.WithBodyLimit(1<<20),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if cfg.GRPCPort != "" {
		startGRPC(ctx, cfg, logger)
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "timezone", cfg.Location.String(), "slot_step_minutes", engine.StepMinutes())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

type routeDeps struct {
	slots    *handlers.SlotsHandler
	bookings *handlers.BookingHandler
	catalog  *handlers.CatalogHandler
	secret   string
}

func registerRoutes(mux *http.ServeMux, d routeDeps) {
	mux.HandleFunc("/api/v1/public/slots", d.slots.Slots)
	mux.HandleFunc("/api/v1/public/book", d.bookings.Book)
	mux.HandleFunc("/api/v1/public/appointments/cancel", d.bookings.CustomerCancel)
	mux.HandleFunc("/api/v1/public/appointments/lookup", d.bookings.CustomerLookup)
	mux.HandleFunc("/api/v1/public/staff", d.catalog.PublicStaff)
	mux.HandleFunc("/api/v1/public/services", d.catalog.PublicServices)

	staff := auth.RequireRole(d.secret, auth.RoleStaff, auth.RoleAdmin)
	admin := auth.RequireRole(d.secret, auth.RoleAdmin)
	mux.Handle("/api/v1/appointments", staff(http.HandlerFunc(d.bookings.List)))
	mux.Handle("/api/v1/appointments/detail", staff(http.HandlerFunc(d.bookings.Get)))
	mux.Handle("/api/v1/appointments/status", staff(http.HandlerFunc(d.bookings.UpdateStatus)))
	mux.Handle("/api/v1/appointments/cancel", staff(http.HandlerFunc(d.bookings.StaffCancel)))
	mux.Handle("/api/v1/staff/schedule", staff(http.HandlerFunc(d.catalog.Schedule)))
	mux.Handle("/api/v1/services/settings", admin(http.HandlerFunc(d.catalog.ServiceSettings)))
	mux.Handle("/api/v1/admin/staff", admin(http.HandlerFunc(d.catalog.Staff)))
	mux.Handle("/api/v1/admin/policies", admin(http.HandlerFunc(d.catalog.Policies)))
}

func startGRPC(ctx context.Context, cfg serviceConfig, logger *slog.Logger) {
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logger.Error("grpc listen failed", "err", err)
		return
	}
	srv := grpcx.NewServer(logger)
	srv.SetServing(cfg.Service, true)
	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := srv.Serve(ctx, lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()
}
