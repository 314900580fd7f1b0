package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "rangeorder",
		Short:        "Resting limit-order engine over a concentrated-liquidity pool",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay an operations journal through the order engine",
		RunE:  runReplay,
	}

	replayCmd.Flags().String("ops", "", "input operations JSONL")
	replayCmd.Flags().String("out", "./data/events.jsonl", "output events JSONL")
	replayCmd.Flags().String("errors", "./data/replay_errors.jsonl", "rejected operations JSONL")
	replayCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	replayCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	replayCmd.Flags().Int("batch-size", 200, "operations per checkpoint save")
	replayCmd.Flags().String("pg-dsn", "", "optional Postgres DSN for state and events")
	replayCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(replayCmd)

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Reconstruct order state from an event journal and verify it",
		RunE:  runCheck,
	}

	checkCmd.Flags().String("in", "", "input events JSONL")
	checkCmd.Flags().String("out", "./data/orders.json", "reconstructed orders output path")
	checkCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(checkCmd)

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Push an event journal and its reconstructed orders to Postgres",
		RunE:  runExport,
	}

	exportCmd.Flags().String("in", "", "input events JSONL")
	exportCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	exportCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(exportCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
