// Command server runs the identity verification and watchlist alert engine.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"gatewarden/internal/audit"
	"gatewarden/internal/correlate"
	"gatewarden/internal/dispatch"
	"gatewarden/internal/match"
	"gatewarden/internal/platform/config"
	"gatewarden/internal/platform/httpserver"
	"gatewarden/internal/platform/logger"
	"gatewarden/internal/platform/metrics"
	platformpg "gatewarden/internal/platform/postgres"
	platformredis "gatewarden/internal/platform/redis"
	"gatewarden/internal/provider"
	"gatewarden/internal/provider/local"
	"gatewarden/internal/store"
	storepg "gatewarden/internal/store/postgres"
	"gatewarden/internal/store/redisidem"
	transport "gatewarden/internal/transport/http"
	"gatewarden/internal/verify"
	"gatewarden/internal/watchlist"
)

func main() {
	log := logger.New()
	if err := run(log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

type stores struct {
	visitors  store.VisitorStore
	watchlist store.WatchlistStore
	entryLogs store.EntryLogStore
	incidents store.IncidentStore
	audit     store.AuditStore
	idem      store.IdempotencyStore
}

func run(log *slog.Logger) error {
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	health := map[string]transport.HealthCheck{}

	pool, err := platformpg.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
		health["postgres"] = pool.Ping
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		health["redis"] = redisClient.Health
	}

	st, err := buildStores(ctx, pool, redisClient)
	if err != nil {
		return err
	}

	thresholds, err := config.LoadThresholds(cfg.ThresholdsFile, log)
	if err != nil {
		return err
	}
	go func() {
		if err := thresholds.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("threshold watcher stopped", "error", err)
		}
	}()

	dispatcher := dispatch.New(cfg.ReplayWindow, log, m)
	recorder := audit.NewRecorder(st.audit, st.entryLogs, dispatcher, log, m)
	go recorder.Run(ctx)

	refresher := watchlist.NewRefresher(st.watchlist, log, m)
	if err := refresher.Refresh(ctx); err != nil {
		log.Warn("initial watchlist refresh failed, starting with empty snapshot", "error", err)
	}

	var index *local.Index
	var rawProvider provider.Provider
	if cfg.ProviderURL != "" {
		rawProvider = provider.NewHTTPProvider(cfg.ProviderURL)
	} else {
		index = local.NewIndex()
		rawProvider = index
		log.Info("no provider URL configured, using in-process embedding index")
	}
	adapter := provider.NewAdapter(rawProvider, provider.AdapterConfig{
		Timeout: cfg.ProviderTimeout,
		Retries: cfg.ProviderRetries,
	}, log, m).WithAlarms(dispatcher)

	evaluator := match.NewEvaluator(adapter, thresholds, refresher, log)
	correlator := correlate.New(st.incidents, cfg.CooldownWindow, log, m)

	service := verify.NewService(verify.Deps{
		Visitors:    st.visitors,
		EntryLogs:   st.entryLogs,
		Idempotency: st.idem,
		Evaluator:   evaluator,
		Correlator:  correlator,
		Dispatcher:  dispatcher,
		Recorder:    recorder,
		Thresholds:  thresholds,
		SLA:         cfg.DecisionSLA,
		Logger:      log,
		Metrics:     m,
	})

	scheduler := cron.New()
	if _, err := refresher.Schedule(scheduler, cfg.WatchlistRefreshSpec); err != nil {
		return err
	}
	if _, err := scheduler.AddFunc("@daily", func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		pruned, err := st.incidents.PruneResolved(sweepCtx, time.Now().Add(-cfg.IncidentRetention))
		if err != nil {
			log.Error("incident retention sweep failed", "error", err)
			return
		}
		if pruned > 0 {
			log.Info("incident retention sweep", "pruned", pruned)
		}
	}); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	if len(cfg.Kafka.Brokers) > 0 {
		sink, err := dispatch.NewKafkaSink(ctx, cfg.Kafka, log)
		if err != nil {
			return err
		}
		sub := dispatcher.Subscribe(cfg.SubscriberBuffer, 0)
		go sink.Run(ctx, sub)
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			sink.Close(flushCtx)
		}()
	}

	router := transport.NewRouter(transport.Deps{
		Service:          service,
		Index:            index,
		Idem:             st.idem,
		Incidents:        st.incidents,
		EntryLogs:        st.entryLogs,
		Dispatcher:       dispatcher,
		Recorder:         recorder,
		GateKeyHash:      cfg.GateKeyHash,
		StreamSecret:     cfg.StreamSecret,
		SubscriberBuffer: cfg.SubscriberBuffer,
		Health:           health,
		Registry:         registry,
		Logger:           log,
	})

	server := httpserver.New(cfg.Addr, router)
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildStores(ctx context.Context, pool *pgxpool.Pool, redisClient *platformredis.Client) (stores, error) {
	if pool == nil {
		mem := store.NewMemory()
		return stores{
			visitors:  mem,
			watchlist: mem,
			entryLogs: mem,
			incidents: mem,
			audit:     mem,
			idem:      mem,
		}, nil
	}

	pg, err := storepg.New(ctx, pool)
	if err != nil {
		return stores{}, err
	}
	st := stores{
		visitors:  pg,
		watchlist: pg,
		entryLogs: pg,
		incidents: pg,
		audit:     pg,
	}
	if redisClient != nil {
		st.idem = redisidem.New(redisClient.Client)
	} else {
		st.idem = store.NewMemory()
	}
	return st, nil
}
