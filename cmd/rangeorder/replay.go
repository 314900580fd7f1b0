package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rangeOrder/internal/amm"
	"rangeOrder/internal/config"
	"rangeOrder/internal/engine"
	"rangeOrder/internal/replay"
	"rangeOrder/internal/settle"
	"rangeOrder/internal/storage"
	"rangeOrder/internal/storage/postgres"
)

// engineAccount holds the materialized payout pots on the pool's balance
// sheet, standing in for the hook contract's own account.
var engineAccount = common.BytesToAddress([]byte("order-engine"))

func runReplay(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadReplay(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Ops == "" {
		return fmt.Errorf("ops path is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	journal := storage.NewJsonlStorage(cfg.Out)
	defer journal.Close()
	sinks := storage.MultiSink{journal}

	var store *postgres.Store
	if cfg.PGDSN != "" {
		store, err = postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		sinks = append(sinks, storage.NewRetrySink(ctx, store.Sink(ctx), 3, 200*time.Millisecond))
	}

	var state replay.StateStore
	switch {
	case store != nil:
		state = &replay.DBStateStore{Store: store, Name: "replay"}
	case cfg.CheckpointEnabled:
		state = &replay.FileStateStore{Path: cfg.Checkpoint}
	}

	pool := amm.NewPoolManager()
	dispatcher := settle.NewDispatcher(pool, logger)
	eng := engine.NewEngine(pool, dispatcher, engineAccount, sinks, logger)

	runner := replay.NewRunner(replay.RunConfig{
		OpsPath:    cfg.Ops,
		ErrorsPath: cfg.Errors,
		BatchSize:  cfg.BatchSize,
	}, pool, eng, state, logger)

	logger.Info("replay start",
		zap.String("ops", cfg.Ops),
		zap.String("out", cfg.Out),
		zap.String("errors", cfg.Errors),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
		zap.String("checkpoint", cfg.Checkpoint),
		zap.Int("batch_size", cfg.BatchSize),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
	)

	if err := runner.Run(ctx); err != nil {
		return err
	}

	if store != nil {
		if err := store.UpsertOrders(ctx, eng.Orders()); err != nil {
			return fmt.Errorf("persist orders: %w", err)
		}
		if err := store.UpsertTickCursors(ctx, eng.TickCursors()); err != nil {
			return fmt.Errorf("persist tick cursors: %w", err)
		}
	}
	return nil
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}
