package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rangeOrder/internal/config"
	"rangeOrder/internal/model"
	"rangeOrder/internal/replay"
	"rangeOrder/internal/storage/postgres"
)

func runExport(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadExport(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.In == "" {
		return fmt.Errorf("input path is required")
	}
	if cfg.PGDSN == "" {
		return fmt.Errorf("pg-dsn is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := postgres.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()

	logger.Info("export start", zap.String("in", cfg.In), zap.String("pg_dsn", redactDSN(cfg.PGDSN)))

	records, err := readEventJournal(cfg.In)
	if err != nil {
		return err
	}

	rec := replay.NewReconstructor(logger)
	if err := rec.Run(cfg.In); err != nil {
		return err
	}
	if issues := rec.Issues(); len(issues) > 0 {
		logger.Warn("exporting an inconsistent journal", zap.Int("issues", len(issues)))
	}

	if err := store.InsertEvents(ctx, records); err != nil {
		return fmt.Errorf("persist events: %w", err)
	}
	orders := rec.Orders()
	if err := store.UpsertOrders(ctx, orders); err != nil {
		return fmt.Errorf("persist orders: %w", err)
	}

	logger.Info("export complete", zap.Int("events", len(records)), zap.Int("orders", len(orders)))
	return nil
}

func readEventJournal(path string) ([]model.EventRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open events: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	var records []model.EventRecord
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec model.EventRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	return records, nil
}
