package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"argus_relay/internal/dedupe"
	"argus_relay/internal/events"
	"argus_relay/internal/eventstore"
	apphttp "argus_relay/internal/http"
	"argus_relay/internal/http/router"
	"argus_relay/internal/relay"
	"argus_relay/internal/vapi"
	"argus_relay/platform/config"
	"argus_relay/platform/db"
	"argus_relay/platform/logger"
	"argus_relay/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting relay", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	var (
		store  eventstore.Store
		health apphttp.HealthChecker
		pool   *pgxpool.Pool
	)

	if cfg.DatabaseURL != "" {
		if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
			return db.RunMigrations(ctx, cfg, "migrations")
		}); err != nil {
			log.Error("failed to run database migrations", "error", err)
			panic("failed to run database migrations: " + err.Error())
		}
		log.Info("database migrations complete")

		if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
			p, err := db.NewPool(ctx, cfg)
			if err != nil {
				return err
			}
			pool = p
			return nil
		}); err != nil {
			log.Error("failed to connect to database", "error", err)
			panic("failed to connect to database: " + err.Error())
		}
		defer pool.Close()

		store = eventstore.NewPostgresStore(pool)
		health = db.NewPoolAdapter(pool)
		log.Info("event store ready", "backend", "postgres")
	} else {
		store = eventstore.NewSupabaseStore(cfg)
		log.Info("event store ready", "backend", "supabase")
	}

	// Replay-suppression cache, optional.
	cache, err := dedupe.New(cfg)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		panic("failed to connect to redis: " + err.Error())
	}
	if cache != nil {
		defer cache.Close()
		log.Info("replay-suppression cache enabled")
	} else {
		log.Warn("REDIS_URL not configured; replay suppression uses the store only")
	}

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)
	subscribeAuditLog(eventBus, log)

	// Shared validator instance for dependency injection
	val := validator.New()

	var dispatcher vapi.Dispatcher
	if cfg.IsVapiEnabled() {
		client, err := vapi.NewClient(cfg, val, log)
		if err != nil {
			log.Error("failed to initialize call API client", "error", err)
			panic("failed to initialize call API client: " + err.Error())
		}
		dispatcher = client
	} else {
		log.Warn("VAPI_API_KEY not configured; running in dry-run mode")
	}

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	relayModule := relay.NewModule(store, dispatcher, cache, eventBus, cfg, log)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   health,
		EventBus: eventBus,
		Modules: []apphttp.Module{
			relayModule,
		},
	}

	engine := router.New(app)

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- engine.Run(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = shutdownCtx
	case err := <-srvErr:
		if err != nil {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

// subscribeAuditLog writes every relay domain event to the log so the
// lifecycle of each delivery is traceable without a metrics stack.
func subscribeAuditLog(bus events.Bus, log *logger.Logger) {
	audit := events.HandlerFunc(func(_ context.Context, event events.Event) error {
		log.Info("domain event", "event", event.EventName())
		return nil
	})

	bus.Subscribe("relay.event.received", audit)
	bus.Subscribe("relay.call.forwarded", audit)
	bus.Subscribe("relay.phone.rejected", audit)
	bus.Subscribe("relay.call.failed", audit)
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
