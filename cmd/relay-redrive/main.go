// Command relay-redrive retries stored events that previously failed with
// invalid_phone or call_api_error. Events whose payload still has no
// dialable number simply land in invalid_phone again.
package main

import (
	"context"
	"os"
	"strconv"

	"argus_relay/internal/dedupe"
	"argus_relay/internal/events"
	"argus_relay/internal/eventstore"
	"argus_relay/internal/relay"
	"argus_relay/internal/vapi"
	"argus_relay/platform/config"
	"argus_relay/platform/db"
	"argus_relay/platform/logger"
	"argus_relay/platform/validator"

	"golang.org/x/sync/errgroup"
)

const defaultBatchSize = 100

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting relay redrive")

	if cfg.DatabaseURL == "" {
		log.Error("redrive requires DATABASE_URL; the REST store cannot list failed events")
		os.Exit(1)
	}
	if !cfg.IsVapiEnabled() {
		log.Error("redrive requires VAPI_API_KEY; nothing to dispatch to")
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	store := eventstore.NewPostgresStore(pool)

	cache, err := dedupe.New(cfg)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		panic("failed to connect to redis: " + err.Error())
	}
	if cache != nil {
		defer cache.Close()
	}

	dispatcher, err := vapi.NewClient(cfg, validator.New(), log)
	if err != nil {
		log.Error("failed to initialize call API client", "error", err)
		panic("failed to initialize call API client: " + err.Error())
	}

	bus := events.NewInMemoryBus(log)
	svc := relay.NewService(store, dispatcher, cache, relay.NewLocator(cfg), bus, cfg, log)

	batchSize := defaultBatchSize
	if raw := os.Getenv("REDRIVE_BATCH_SIZE"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			batchSize = n
		}
	}

	retryable := []eventstore.Status{
		eventstore.StatusInvalidPhone,
		eventstore.StatusCallAPIError,
	}

	forwarded, failedAttempts := 0, 0
	for {
		records, err := store.ListByStatus(ctx, retryable, batchSize)
		if err != nil {
			log.Error("failed to list retryable events", "error", err)
			return
		}
		if len(records) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(5)

		outcomes := make([]relay.Outcome, len(records))
		for i, rec := range records {
			i, rec := i, rec
			g.Go(func() error {
				outcomes[i] = svc.Redispatch(gctx, rec)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			log.Error("redrive batch failed", "error", err)
			return
		}

		progress := false
		for _, out := range outcomes {
			if out.Status == eventstore.StatusForwarded {
				forwarded++
				progress = true
			} else {
				failedAttempts++
			}
		}

		log.Info("redrive batch complete", "batch", len(records), "forwarded", forwarded, "failed_attempts", failedAttempts)

		// Every remaining row failed again; stop instead of spinning.
		if !progress {
			break
		}
	}

	log.Info("redrive finished", "forwarded", forwarded, "failed_attempts", failedAttempts)
}
