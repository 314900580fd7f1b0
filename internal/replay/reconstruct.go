package replay

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"sort"

	"go.uber.org/zap"

	"rangeOrder/internal/model"
)

// Issue flags an inconsistency found while reconstructing order state from
// the event journal.
type Issue struct {
	Seq     uint64 `json:"seq"`
	OrderID uint64 `json:"order_id"`
	Problem string `json:"problem"`
}

type rebuildOrder struct {
	id         uint64
	poolID     string
	tickLower  int32
	zeroForOne bool
	filled     bool
	liquidity  *big.Int
	pot0       *big.Int
	pot1       *big.Int
	owners     map[string]*big.Int
	closed     bool
}

// Reconstructor rebuilds order state from an event journal, verifying that
// the recorded lifecycle is internally consistent: contributions sum to
// totals, fills precede withdrawals, and nothing goes negative.
type Reconstructor struct {
	logger *zap.Logger
	orders map[uint64]*rebuildOrder
	issues []Issue
}

func NewReconstructor(logger *zap.Logger) *Reconstructor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconstructor{
		logger: logger,
		orders: make(map[uint64]*rebuildOrder),
	}
}

// Run replays the event journal at path.
func (r *Reconstructor) Run(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open events: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	var prevSeq uint64
	var total int
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		total++

		var rec model.EventRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if rec.Seq <= prevSeq {
			r.flag(rec.Seq, 0, "sequence not increasing")
		}
		prevSeq = rec.Seq

		if err := r.applyEvent(rec); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan events: %w", err)
	}

	r.logger.Info("reconstruction complete", zap.Int("events", total), zap.Int("orders", len(r.orders)), zap.Int("issues", len(r.issues)))
	return nil
}

func (r *Reconstructor) applyEvent(rec model.EventRecord) error {
	switch rec.Type {
	case model.EventPlace:
		var ev model.PlaceEvent
		if err := json.Unmarshal(rec.Payload, &ev); err != nil {
			return fmt.Errorf("decode place payload: %w", err)
		}
		o := r.orders[ev.OrderID]
		if o == nil {
			o = &rebuildOrder{
				id:         ev.OrderID,
				poolID:     ev.PoolID,
				tickLower:  ev.TickLower,
				zeroForOne: ev.ZeroForOne,
				liquidity:  big.NewInt(0),
				pot0:       big.NewInt(0),
				pot1:       big.NewInt(0),
				owners:     make(map[string]*big.Int),
			}
			r.orders[ev.OrderID] = o
		}
		if o.filled {
			r.flag(rec.Seq, ev.OrderID, "placement on filled order")
		}
		if o.closed {
			r.flag(rec.Seq, ev.OrderID, "placement on closed order")
		}
		liq, ok := model.StringToBig(ev.Liquidity)
		if !ok {
			r.flag(rec.Seq, ev.OrderID, "unparseable liquidity")
			return nil
		}
		o.liquidity.Add(o.liquidity, liq)
		stake := o.owners[ev.Owner]
		if stake == nil {
			stake = big.NewInt(0)
			o.owners[ev.Owner] = stake
		}
		stake.Add(stake, liq)

	case model.EventCancel:
		var ev model.CancelEvent
		if err := json.Unmarshal(rec.Payload, &ev); err != nil {
			return fmt.Errorf("decode cancel payload: %w", err)
		}
		o := r.orders[ev.OrderID]
		if o == nil {
			r.flag(rec.Seq, ev.OrderID, "cancel on unknown order")
			return nil
		}
		if o.filled {
			r.flag(rec.Seq, ev.OrderID, "cancel on filled order")
		}
		liq, ok := model.StringToBig(ev.Liquidity)
		if !ok {
			r.flag(rec.Seq, ev.OrderID, "unparseable liquidity")
			return nil
		}
		stake := o.owners[ev.Owner]
		if stake == nil || stake.Cmp(liq) != 0 {
			r.flag(rec.Seq, ev.OrderID, "cancel does not match recorded stake")
		}
		delete(o.owners, ev.Owner)
		o.liquidity.Sub(o.liquidity, liq)
		if o.liquidity.Sign() < 0 {
			r.flag(rec.Seq, ev.OrderID, "liquidity below zero")
		}
		if ev.RemovedAll {
			if o.liquidity.Sign() != 0 {
				r.flag(rec.Seq, ev.OrderID, "removed_all with liquidity outstanding")
			}
			o.closed = true
		}

	case model.EventFill:
		var ev model.FillEvent
		if err := json.Unmarshal(rec.Payload, &ev); err != nil {
			return fmt.Errorf("decode fill payload: %w", err)
		}
		o := r.orders[ev.OrderID]
		if o == nil {
			r.flag(rec.Seq, ev.OrderID, "fill on unknown order")
			return nil
		}
		if o.filled {
			r.flag(rec.Seq, ev.OrderID, "double fill")
		}
		o.filled = true
		if a0, ok := model.StringToBig(ev.Amount0); ok {
			o.pot0.Add(o.pot0, a0)
		}
		if a1, ok := model.StringToBig(ev.Amount1); ok {
			o.pot1.Add(o.pot1, a1)
		}

	case model.EventWithdraw:
		var ev model.WithdrawEvent
		if err := json.Unmarshal(rec.Payload, &ev); err != nil {
			return fmt.Errorf("decode withdraw payload: %w", err)
		}
		o := r.orders[ev.OrderID]
		if o == nil {
			r.flag(rec.Seq, ev.OrderID, "withdraw on unknown order")
			return nil
		}
		if !o.filled {
			r.flag(rec.Seq, ev.OrderID, "withdraw before fill")
		}
		stake := o.owners[ev.Owner]
		if stake == nil {
			r.flag(rec.Seq, ev.OrderID, "withdraw by non-contributor")
		} else {
			o.liquidity.Sub(o.liquidity, stake)
			delete(o.owners, ev.Owner)
		}
		if a0, ok := model.StringToBig(ev.Amount0); ok {
			o.pot0.Sub(o.pot0, a0)
		}
		if a1, ok := model.StringToBig(ev.Amount1); ok {
			o.pot1.Sub(o.pot1, a1)
		}
		if o.pot0.Sign() < 0 || o.pot1.Sign() < 0 {
			r.flag(rec.Seq, ev.OrderID, "payout pot below zero")
		}
		if o.liquidity.Sign() == 0 {
			o.closed = true
		}

	default:
		r.flag(rec.Seq, 0, fmt.Sprintf("unknown event type %q", rec.Type))
	}
	return nil
}

func (r *Reconstructor) flag(seq, orderID uint64, problem string) {
	r.issues = append(r.issues, Issue{Seq: seq, OrderID: orderID, Problem: problem})
	r.logger.Warn("journal inconsistency", zap.Uint64("seq", seq), zap.Uint64("order_id", orderID), zap.String("problem", problem))
}

// Issues returns every inconsistency found, in journal order.
func (r *Reconstructor) Issues() []Issue {
	return r.issues
}

// Orders returns the reconstructed snapshots ordered by id. Live orders only;
// closed entries are dropped the way the engine drops them.
func (r *Reconstructor) Orders() []model.OrderSnapshot {
	out := make([]model.OrderSnapshot, 0, len(r.orders))
	for _, o := range r.orders {
		if o.closed {
			continue
		}
		out = append(out, model.OrderSnapshot{
			OrderID:        o.id,
			PoolID:         o.poolID,
			TickLower:      o.tickLower,
			ZeroForOne:     o.zeroForOne,
			Filled:         o.filled,
			TotalFee0:      o.pot0.String(),
			TotalFee1:      o.pot1.String(),
			LiquidityTotal: o.liquidity.String(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}
