// Package main is the entry point for the Darwin strategy search server.
// It wires the factor library, mutation tiers, population manager and
// evaluation pool into the generation engine, exposes the HTTP API with the
// live run stream, and schedules checkpoint backups.
package main

import (
	"context"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	evaluatorclient "github.com/aristath/darwin/internal/clients/evaluator"
	"github.com/aristath/darwin/internal/config"
	"github.com/aristath/darwin/internal/database"
	"github.com/aristath/darwin/internal/engine"
	"github.com/aristath/darwin/internal/events"
	"github.com/aristath/darwin/internal/modules/checkpoint"
	"github.com/aristath/darwin/internal/modules/evaluator"
	"github.com/aristath/darwin/internal/modules/factor"
	"github.com/aristath/darwin/internal/modules/immigrant"
	"github.com/aristath/darwin/internal/modules/mutation"
	"github.com/aristath/darwin/internal/modules/population"
	"github.com/aristath/darwin/internal/modules/sandbox"
	"github.com/aristath/darwin/internal/modules/strategy"
	"github.com/aristath/darwin/internal/modules/tiers"
	"github.com/aristath/darwin/internal/reliability"
	"github.com/aristath/darwin/internal/scheduler"
	"github.com/aristath/darwin/internal/server"
	"github.com/aristath/darwin/internal/version"
	"github.com/aristath/darwin/pkg/logger"
)

func main() {
	// Load configuration first to get log level. Invalid configuration is
	// fatal; there is no safe default to fall back to mid-run.
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	log.Info().Str("version", version.Version).Msg("Starting Darwin")

	// The dataset is fixed for the lifetime of a run; every strategy in
	// every generation is evaluated against the same frame.
	dataset, err := strategy.LoadDatasetCSV(cfg.DatasetPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DatasetPath).Msg("Failed to load dataset")
	}
	log.Info().Int("bars", dataset.Len()).Str("path", cfg.DatasetPath).Msg("Dataset loaded")

	// One seeded generator drives all stochastic choices outside the
	// evaluation fan-out, so runs with the same seed vary the same way.
	rng := rand.New(rand.NewPCG(uint64(cfg.Seed), uint64(cfg.Seed)+1))

	// Factor library: builtin indicator factors plus arena-registered
	// signal expressions behind one lookup surface.
	builtin := factor.NewBuiltinLibrary()
	arena := sandbox.NewArena()
	lib := factor.NewMultiLibrary(builtin, arena)

	// Mutation tiers and the risk-routed selector over them.
	selector, err := tiers.NewSelector(log,
		mutation.NewConfigMutator(lib, mutation.DefaultSchema(builtin), rng),
		mutation.NewLibraryMutator(lib, rng),
		mutation.NewCodeMutator(arena, rng),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build tier selector")
	}

	// Evaluation backend: the external backtest service when configured,
	// otherwise the builtin backtest.
	var eval evaluator.Evaluator
	if cfg.EvaluatorServiceURL != "" {
		client := evaluatorclient.NewClient(cfg.EvaluatorServiceURL, log)
		healthCtx, healthCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := client.Health(healthCtx); err != nil {
			log.Warn().Err(err).Msg("Evaluator service not reachable at startup, continuing anyway")
		}
		healthCancel()
		eval = client
		log.Info().Str("url", cfg.EvaluatorServiceURL).Msg("Using external evaluator service")
	} else {
		eval = evaluator.NewBacktest(log, lib, 0)
		log.Info().Msg("Using builtin backtest evaluator")
	}
	pool := evaluator.NewPool(log, eval, cfg.EvalWorkers, time.Duration(cfg.EvalTimeoutSecs)*time.Second)

	// Checkpoint store.
	db, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "checkpoints.db"),
		Profile: database.ProfileDurable,
		Name:    "checkpoints",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open checkpoint database")
	}
	defer db.Close()

	repo, err := checkpoint.NewRepository(log, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize checkpoint repository")
	}

	bus := events.NewBus(log)

	// Optional immigrant injection from a candidate drop directory.
	var injector *immigrant.Injector
	if cfg.ImmigrantFraction > 0 {
		if cfg.ImmigrantDir == "" {
			log.Warn().Msg("Immigrant fraction set but no candidate directory configured, injection disabled")
		} else {
			source := immigrant.NewDirectorySource(cfg.ImmigrantDir, log)
			injector = immigrant.NewInjector(log, immigrant.Config{Fraction: cfg.ImmigrantFraction}, lib, arena, source, rng)
			log.Info().
				Float64("fraction", cfg.ImmigrantFraction).
				Str("dir", cfg.ImmigrantDir).
				Msg("Immigrant injection enabled")
		}
	}

	eng, err := engine.New(log, engine.Config{
		GenerationBudget: cfg.GenerationBudget,
		CheckpointKeep:   cfg.CheckpointKeep,
		Seed:             cfg.Seed,
	}, engine.Deps{
		Library:  lib,
		Arena:    arena,
		Manager:  population.NewManager(log, population.Config{PopulationSize: cfg.PopulationSize, EliteSize: cfg.EliteSize}, lib, selector, rng),
		Pool:     pool,
		Selector: selector,
		Learner:  tiers.NewAdaptiveLearner(log),
		Tracker:  population.NewTracker(0, 0, 0, 0),
		Repo:     repo,
		Bus:      bus,
		Injector: injector,
		Dataset:  dataset,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build engine")
	}

	srv := server.New(server.Config{
		Log:     log,
		Port:    cfg.Port,
		DevMode: cfg.DevMode,
		Engine:  eng,
		Repo:    repo,
		DB:      db,
		Bus:     bus,
		Version: version.Version,
	})

	// Background jobs: checkpoint backups to S3 when configured, and a
	// local prune as a backstop for checkpoints written outside the engine
	// loop.
	sched := scheduler.New(log)
	if cfg.Backup.Enabled() {
		s3Client, err := reliability.NewS3Client(context.Background(), reliability.S3Config{
			Bucket:          cfg.Backup.Bucket,
			Endpoint:        cfg.Backup.Endpoint,
			AccessKeyID:     cfg.Backup.AccessKeyID,
			SecretAccessKey: cfg.Backup.SecretAccessKey,
			Region:          cfg.Backup.Region,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create S3 client")
		}
		backupSvc := reliability.NewBackupService(s3Client, db, cfg.DataDir, bus, log)
		if err := sched.AddJob(cfg.Backup.Schedule, reliability.NewBackupJob(backupSvc, cfg.Backup.RetentionDays)); err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule backup job")
		}
	}
	if err := sched.AddJob("@hourly", reliability.NewCheckpointPruneJob(repo, cfg.CheckpointKeep)); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule checkpoint prune job")
	}
	sched.Start()

	// Start server in goroutine so the run loop and the API serve
	// concurrently.
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started")

	// Run the generation loop until the budget is exhausted, convergence
	// ends the run, or shutdown cancels the context.
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	runDone := make(chan error, 1)
	go func() {
		finalPop, err := eng.Run(runCtx)
		if err == nil && finalPop != nil {
			if champ := finalPop.Champion(); champ != nil {
				log.Info().
					Str("champion_id", champ.ID()).
					Float64("score", champ.Fitness().Score()).
					Msg("Final champion")
			}
		}
		runDone <- err
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-runDone:
		if err != nil {
			log.Error().Err(err).Msg("Run ended with error")
		} else {
			log.Info().Msg("Run completed")
		}
		// Keep serving results until stopped.
		<-quit
	case <-quit:
		log.Info().Msg("Shutdown signal received")
		cancelRun()
		// The loop checkpoints each generation; give the in-flight one a
		// moment to land.
		select {
		case <-runDone:
		case <-time.After(30 * time.Second):
			log.Warn().Msg("Run loop did not stop in time")
		}
	}

	log.Info().Msg("Shutting down...")
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server stopped")
}
