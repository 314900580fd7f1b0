package settle

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"rangeOrder/internal/amm"
	"rangeOrder/internal/model"
)

var (
	cur0  = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	cur1  = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	payer = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *amm.PoolManager, model.PoolKey) {
	t.Helper()
	pm := amm.NewPoolManager()
	key := model.PoolKey{Currency0: cur0, Currency1: cur1, Fee: 0, TickSpacing: 60}
	if err := pm.Initialize(key, 0); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return NewDispatcher(pm, zap.NewNop()), pm, key
}

func TestDispatchSettlesPrincipal(t *testing.T) {
	d, pm, key := newTestDispatcher(t)
	if err := pm.Credit(payer, cur0, big.NewInt(1000)); err != nil {
		t.Fatalf("credit: %v", err)
	}

	req := Request{
		Kind:           KindPlace,
		Key:            key,
		TickLower:      60,
		TickUpper:      120,
		LiquidityDelta: big.NewInt(1000),
	}
	err := d.Dispatch(req, func(s *amm.Session, principal, fees amm.BalanceDelta) error {
		if principal.Amount0.Cmp(big.NewInt(1000)) != 0 {
			t.Fatalf("principal0 = %s, want 1000", principal.Amount0)
		}
		if !fees.IsZero() {
			t.Fatalf("unexpected fees: %+v", fees)
		}
		return s.Settle(key.Currency0, payer, principal.Amount0)
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got := pm.RangeLiquidity(key, 60, 120); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("range liquidity = %s, want 1000", got)
	}
}

func TestDispatchRollsBackUnbalancedFinish(t *testing.T) {
	d, pm, key := newTestDispatcher(t)
	if err := pm.Credit(payer, cur0, big.NewInt(1000)); err != nil {
		t.Fatalf("credit: %v", err)
	}

	req := Request{
		Kind:           KindPlace,
		Key:            key,
		TickLower:      60,
		TickUpper:      120,
		LiquidityDelta: big.NewInt(1000),
	}
	err := d.Dispatch(req, func(*amm.Session, amm.BalanceDelta, amm.BalanceDelta) error {
		// Never settles what the liquidity change owes.
		return nil
	})
	if !errors.Is(err, amm.ErrNonZeroDelta) {
		t.Fatalf("expected ErrNonZeroDelta, got %v", err)
	}
	if got := pm.RangeLiquidity(key, 60, 120); got.Sign() != 0 {
		t.Fatalf("range liquidity = %s after rollback, want 0", got)
	}
	if got := pm.Balance(payer, cur0); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("payer balance = %s after rollback, want 1000", got)
	}
}

func TestDispatchUnknownPool(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	other := model.PoolKey{Currency0: cur0, Currency1: cur1, Fee: 500, TickSpacing: 10}

	req := Request{
		Kind:           KindCancel,
		Key:            other,
		TickLower:      60,
		TickUpper:      70,
		LiquidityDelta: big.NewInt(-10),
	}
	err := d.Dispatch(req, func(*amm.Session, amm.BalanceDelta, amm.BalanceDelta) error {
		t.Fatalf("finish called for unknown pool")
		return nil
	})
	if !errors.Is(err, amm.ErrPoolNotFound) {
		t.Fatalf("expected ErrPoolNotFound, got %v", err)
	}
}
