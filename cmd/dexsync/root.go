package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dexsync/dexsync/internal/api"
	"github.com/dexsync/dexsync/internal/backup"
	"github.com/dexsync/dexsync/internal/cache"
	"github.com/dexsync/dexsync/internal/capture"
	"github.com/dexsync/dexsync/internal/config"
	"github.com/dexsync/dexsync/internal/health"
	"github.com/dexsync/dexsync/internal/netcheck"
	"github.com/dexsync/dexsync/internal/pokeapi"
	"github.com/dexsync/dexsync/internal/store"
	dexsync "github.com/dexsync/dexsync/internal/sync"
	"github.com/dexsync/dexsync/internal/worker"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "dexsync",
	Short: "DexSync - offline capture log with backend pull replication",
	RunE:  run,
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// 3. Initialize logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)
	slog.Info("logger initialized", "level", cfg.Log.Level)

	// 4. Resolve sync modes
	modes := dexsync.Resolve(cfg.Sync.PushEnabled, cfg.Sync.PullEnabled, cfg.Sync.StrictMode)
	slog.Info("sync modes resolved", "push", modes.Push, "pull", modes.Pull)

	// 5. Initialize store (migrations, WAL mode)
	capture.Version = Version
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "path", cfg.Database.Path)

	// 6. Capture log, backup sink and collection
	sink, err := backup.NewUploader(cfg.Backup)
	if err != nil {
		return err
	}
	eventLog := capture.NewEventLog(db, cfg.Client.UserID, cfg.Retention.Dir, sink)
	collection, err := capture.NewCollection(ctx, db, eventLog, cfg.Client.UserID)
	if err != nil {
		return err
	}
	slog.Info("collection loaded", "count", collection.Count())

	// 7. Entity cache and upstream client
	registry := prometheus.NewRegistry()
	entityCache := cache.New[*pokeapi.Pokemon](cfg.Cache.MaxSize, cache.NewMetrics(registry))
	flavorCache := cache.New[[]string](cfg.Cache.MaxSize, nil)
	upstream := pokeapi.New(cfg.PokeAPI.BaseURL, time.Duration(cfg.PokeAPI.RequestTimeout))
	flavors := cache.NewFlavorProvider(flavorCache, func(ctx context.Context, id int) ([]cache.FlavorEntry, error) {
		species, err := upstream.GetSpecies(ctx, id)
		if err != nil {
			return nil, err
		}
		entries := make([]cache.FlavorEntry, 0, len(species.FlavorTextEntries))
		for _, e := range species.FlavorTextEntries {
			entries = append(entries, cache.FlavorEntry{Text: e.FlavorText, Language: e.Language.Name})
		}
		return entries, nil
	}, time.Duration(cfg.Cache.FlavorTTL))

	entityTTL := time.Duration(cfg.Cache.EntryTTL)
	getPokemon := func(ctx context.Context, id int) (*pokeapi.Pokemon, error) {
		return entityCache.Get(ctx, entityKey(id), entityTTL, func(ctx context.Context) (*pokeapi.Pokemon, error) {
			return upstream.GetPokemon(ctx, id)
		})
	}
	preloader := cache.NewPreloader(entityCache, upstream.GetPokemon, entityKey, entityTTL)

	// 8. Connectivity and health monitors
	monitor := netcheck.New(cfg.Backend.BaseURL,
		time.Duration(cfg.Monitor.ProbeInterval), time.Duration(cfg.Monitor.ProbeTimeout))

	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "dexsync",
		Subsystem: "sync",
		Name:      "pending_events",
		Help:      "Capture events not yet acknowledged by the backend.",
	}, func() float64 {
		stats, err := eventLog.Stats(context.Background())
		if err != nil {
			return -1
		}
		return float64(stats.Pending)
	}))
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "dexsync",
		Subsystem: "netcheck",
		Name:      "consecutive_probe_failures",
		Help:      "Consecutive failed backend reachability probes.",
	}, func() float64 {
		return float64(monitor.Status().ErrorCount)
	}))
	healthMon := health.New(collection.Counts, eventLog.LastSync,
		func() bool { return monitor.Status().Connected() },
		cfg.Client.APIKey != "", time.Duration(cfg.Monitor.HealthTick))

	// 9. HTTP surface
	handler := api.NewHandler(eventLog, collection, cfg.Client.UserID, cfg.Client.ClientURL, Version)
	handler.RegisterDiag("connectivity", func() (any, error) { return monitor.Status(), nil })
	handler.RegisterDiag("health", func() (any, error) { return healthMon.Report(), nil })
	handler.RegisterDiag("cache", func() (any, error) { return entityCache.Stats(), nil })
	handler.RegisterDiag("sync_modes", func() (any, error) { return modes, nil })
	handler.SetPokemonProvider(getPokemon)
	handler.SetFlavorProvider(flavors.Get)
	router := api.NewRouter(handler, cfg.Client.APIKey, registry)

	// Warm the cache with the user's own captures.
	var captured []int
	for _, item := range collection.Items() {
		captured = append(captured, item.PokemonID)
	}
	preloader.PreloadBatch(ctx, captured, cache.PriorityHigh)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 10. Background workers
	var wg sync.WaitGroup
	retention := worker.NewRetentionCoordinator(eventLog,
		time.Duration(cfg.Retention.Interval), cfg.Retention.Days, cfg.Retention.MinKeep)
	startWorker(ctx, &wg, "retention-coordinator", retention.Run)
	startWorker(ctx, &wg, "cache-sweeper", func(ctx context.Context) {
		entityCache.RunSweeper(ctx, time.Duration(cfg.Cache.SweepInterval))
	})
	startWorker(ctx, &wg, "flavor-sweeper", func(ctx context.Context) {
		flavorCache.RunSweeper(ctx, time.Duration(cfg.Cache.SweepInterval))
	})
	startWorker(ctx, &wg, "connectivity-monitor", monitor.Run)
	startWorker(ctx, &wg, "health-monitor", healthMon.Run)

	// 11. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 12. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 13. Graceful shutdown: drain HTTP, stop workers, close store
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	wg.Wait()
	collection.Flush()

	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

func entityKey(id int) string {
	return fmt.Sprintf("pokemon:%d", id)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine tracked for graceful
// shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		fn(ctx)
	}()
}
