package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rangeOrder/internal/config"
	"rangeOrder/internal/model"
	"rangeOrder/internal/replay"
)

type checkReport struct {
	Orders []model.OrderSnapshot `json:"orders"`
	Issues []replay.Issue        `json:"issues"`
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadCheck(cfgFile, cmd.Flags())
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

	rec := replay.NewReconstructor(logger)

	logger.Info("check start", zap.String("in", cfg.In), zap.String("out", cfg.Out))

	if err := rec.Run(cfg.In); err != nil {
		return err
	}

	report := checkReport{Orders: rec.Orders(), Issues: rec.Issues()}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	dir := filepath.Dir(cfg.Out)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(cfg.Out, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if len(report.Issues) > 0 {
		return fmt.Errorf("journal has %d inconsistencies", len(report.Issues))
	}
	return nil
}
