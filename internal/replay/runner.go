// Package replay drives the order engine from an operations journal: each
// JSONL line is one operation (pool setup, funding, order lifecycle, trades)
// applied in sequence, with checkpointed resume and a rejections file for
// operations the engine refused.
package replay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"rangeOrder/internal/amm"
	"rangeOrder/internal/engine"
	"rangeOrder/internal/model"
	"rangeOrder/internal/storage"
)

// RunConfig holds runtime settings for a replay.
type RunConfig struct {
	OpsPath    string
	ErrorsPath string
	BatchSize  int
}

// Rejection is one line of the errors file: an operation the engine or pool
// refused, with its journal position and reason.
type Rejection struct {
	OpIndex    uint64 `json:"op_index"`
	Op         string `json:"op"`
	Error      string `json:"error"`
	RecordedAt string `json:"recorded_at"`
}

// Runner applies an ops journal to the engine.
type Runner struct {
	cfg    RunConfig
	pool   *amm.PoolManager
	engine *engine.Engine
	state  StateStore
	logger *zap.Logger
}

func NewRunner(cfg RunConfig, pool *amm.PoolManager, eng *engine.Engine, state StateStore, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:    cfg,
		pool:   pool,
		engine: eng,
		state:  state,
		logger: logger,
	}
}

// Run executes the replay loop. Rejected operations are recorded and skipped;
// only journal or state I/O failures abort the run.
func (r *Runner) Run(ctx context.Context) error {
	if r.pool == nil {
		return fmt.Errorf("pool manager is nil")
	}
	if r.engine == nil {
		return fmt.Errorf("engine is nil")
	}
	if r.cfg.BatchSize <= 0 {
		r.cfg.BatchSize = 200
	}

	var resumeAfter uint64
	if r.state != nil {
		idx, ok, err := r.state.Load(ctx)
		if err != nil {
			return err
		}
		if ok {
			resumeAfter = idx
			r.logger.Info("resume from checkpoint", zap.Uint64("last_processed_op", idx))
		}
	}

	file, err := os.Open(r.cfg.OpsPath)
	if err != nil {
		return fmt.Errorf("open ops: %w", err)
	}
	defer file.Close()

	rejections, err := newRejectionWriter(r.cfg.ErrorsPath)
	if err != nil {
		return err
	}
	defer rejections.Close()

	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	// The pool and engine start empty on every run, so the prefix the
	// checkpoint covers is re-applied with the event sink detached: state is
	// rebuilt, the event sequence advances, and nothing is journaled twice.
	var liveSink storage.EventSink
	rebuilding := resumeAfter > 0
	if rebuilding {
		liveSink = r.engine.SetSink(nil)
		defer func() {
			if rebuilding {
				r.engine.SetSink(liveSink)
			}
		}()
	}

	var opIndex uint64
	var applied, rebuilt, rejected int
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		opIndex++
		if opIndex <= resumeAfter {
			rebuilt++
			var op Operation
			if err := json.Unmarshal(line, &op); err != nil {
				// Already recorded as a rejection on the original run.
				continue
			}
			if err := r.apply(op); err != nil {
				r.logger.Debug("rebuild op rejected again", zap.Uint64("op_index", opIndex), zap.String("op", op.Op), zap.Error(err))
			}
			continue
		}
		if rebuilding {
			r.engine.SetSink(liveSink)
			rebuilding = false
		}

		var op Operation
		if err := json.Unmarshal(line, &op); err != nil {
			rejected++
			if err := rejections.Put(Rejection{OpIndex: opIndex, Error: fmt.Sprintf("decode: %v", err)}); err != nil {
				return err
			}
			continue
		}

		if err := r.apply(op); err != nil {
			rejected++
			r.logger.Warn("operation rejected", zap.Uint64("op_index", opIndex), zap.String("op", op.Op), zap.Error(err))
			if err := rejections.Put(Rejection{OpIndex: opIndex, Op: op.Op, Error: err.Error()}); err != nil {
				return err
			}
			continue
		}
		applied++

		if r.state != nil && (applied+rejected)%r.cfg.BatchSize == 0 {
			if err := r.state.Save(ctx, opIndex); err != nil {
				return err
			}
			r.logger.Info("batch complete", zap.Uint64("op_index", opIndex), zap.Int("applied", applied), zap.Int("rejected", rejected))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan ops: %w", err)
	}

	if r.state != nil && opIndex > 0 {
		if err := r.state.Save(ctx, opIndex); err != nil {
			return err
		}
	}

	r.logger.Info("replay complete",
		zap.Uint64("ops", opIndex),
		zap.Int("applied", applied),
		zap.Int("rebuilt", rebuilt),
		zap.Int("rejected", rejected))
	return nil
}

func (r *Runner) apply(op Operation) error {
	switch op.Op {
	case OpInitPool:
		key, err := op.PoolKey()
		if err != nil {
			return err
		}
		if err := r.pool.Initialize(key, op.Tick); err != nil {
			return err
		}
		return r.engine.RegisterPool(key)

	case OpFund:
		account, err := parseAddress(op.Account)
		if err != nil {
			return fmt.Errorf("account: %w", err)
		}
		currency, err := parseAddress(op.Currency)
		if err != nil {
			return fmt.Errorf("currency: %w", err)
		}
		amount, err := parseAmount(op.Amount)
		if err != nil {
			return err
		}
		return r.pool.Credit(account, currency, amount)

	case OpPlace:
		key, err := op.PoolKey()
		if err != nil {
			return err
		}
		owner, err := parseAddress(op.Owner)
		if err != nil {
			return fmt.Errorf("owner: %w", err)
		}
		liquidity, err := parseAmount(op.Liquidity)
		if err != nil {
			return err
		}
		_, err = r.engine.Place(key, op.TickLower, op.ZeroForOne, owner, liquidity)
		return err

	case OpCancel:
		key, err := op.PoolKey()
		if err != nil {
			return err
		}
		owner, err := parseAddress(op.Owner)
		if err != nil {
			return fmt.Errorf("owner: %w", err)
		}
		recipient, err := parseAddress(op.Recipient)
		if err != nil {
			return fmt.Errorf("recipient: %w", err)
		}
		_, _, err = r.engine.Cancel(key, op.TickLower, op.ZeroForOne, owner, recipient)
		return err

	case OpWithdraw:
		owner, err := parseAddress(op.Owner)
		if err != nil {
			return fmt.Errorf("owner: %w", err)
		}
		recipient, err := parseAddress(op.Recipient)
		if err != nil {
			return fmt.Errorf("recipient: %w", err)
		}
		_, _, err = r.engine.Withdraw(model.OrderID(op.OrderID), owner, recipient)
		return err

	case OpSwap:
		key, err := op.PoolKey()
		if err != nil {
			return err
		}
		var trader common.Address
		if op.Account != "" {
			trader, err = parseAddress(op.Account)
			if err != nil {
				return fmt.Errorf("account: %w", err)
			}
		}
		if _, err := r.pool.Swap(key, amm.SwapParams{ZeroForOne: op.ZeroForOne, TargetTick: op.TargetTick, Trader: trader}); err != nil {
			return err
		}
		return r.engine.AfterSwap(key, op.ZeroForOne)

	case OpDonate:
		key, err := op.PoolKey()
		if err != nil {
			return err
		}
		donor, err := parseAddress(op.Donor)
		if err != nil {
			return fmt.Errorf("donor: %w", err)
		}
		amount0, err := parseAmount(op.Amount0)
		if err != nil {
			return err
		}
		amount1, err := parseAmount(op.Amount1)
		if err != nil {
			return err
		}
		return r.pool.Donate(key, op.TickLower, op.TickUpper, donor, amount0, amount1)

	default:
		return fmt.Errorf("unknown op %q", op.Op)
	}
}

type rejectionWriter struct {
	file   *os.File
	writer *bufio.Writer
}

func newRejectionWriter(path string) (*rejectionWriter, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create errors dir: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open errors file: %w", err)
	}
	return &rejectionWriter{file: file, writer: bufio.NewWriter(file)}, nil
}

func (w *rejectionWriter) Put(rej Rejection) error {
	rej.RecordedAt = time.Now().UTC().Format(time.RFC3339Nano)
	line, err := json.Marshal(rej)
	if err != nil {
		return fmt.Errorf("marshal rejection: %w", err)
	}
	if _, err := w.writer.Write(line); err != nil {
		return fmt.Errorf("write rejection: %w", err)
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	return w.writer.Flush()
}

func (w *rejectionWriter) Close() error {
	if err := w.writer.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
