package engine

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"rangeOrder/internal/amm"
	"rangeOrder/internal/model"
	"rangeOrder/internal/settle"
)

var (
	cur0        = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	cur1        = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	testAccount = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	ownerX      = common.HexToAddress("0x1111111111111111111111111111111111111111")
	ownerY      = common.HexToAddress("0x2222222222222222222222222222222222222222")
	trader      = common.HexToAddress("0x3333333333333333333333333333333333333333")
	donor       = common.HexToAddress("0x4444444444444444444444444444444444444444")
)

func newTestEngine(t *testing.T) (*Engine, *amm.PoolManager, model.PoolKey) {
	t.Helper()
	pm := amm.NewPoolManager()
	key := model.PoolKey{Currency0: cur0, Currency1: cur1, Fee: 0, TickSpacing: 60}
	if err := pm.Initialize(key, 0); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	dispatcher := settle.NewDispatcher(pm, zap.NewNop())
	eng := NewEngine(pm, dispatcher, testAccount, nil, zap.NewNop())
	if err := eng.RegisterPool(key); err != nil {
		t.Fatalf("register pool: %v", err)
	}
	return eng, pm, key
}

func fund(t *testing.T, pm *amm.PoolManager, account common.Address, currency model.Currency, amount int64) {
	t.Helper()
	if err := pm.Credit(account, currency, big.NewInt(amount)); err != nil {
		t.Fatalf("credit: %v", err)
	}
}

func mustPlace(t *testing.T, eng *Engine, key model.PoolKey, tick int32, zeroForOne bool, owner common.Address, liquidity int64) model.OrderID {
	t.Helper()
	id, err := eng.Place(key, tick, zeroForOne, owner, big.NewInt(liquidity))
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	return id
}

func mustDonate(t *testing.T, pm *amm.PoolManager, key model.PoolKey, lower, upper int32, amount1 int64) {
	t.Helper()
	fund(t, pm, donor, cur1, amount1)
	if err := pm.Donate(key, lower, upper, donor, big.NewInt(0), big.NewInt(amount1)); err != nil {
		t.Fatalf("donate: %v", err)
	}
}

func swapTo(t *testing.T, eng *Engine, pm *amm.PoolManager, key model.PoolKey, zeroForOne bool, target int32) {
	t.Helper()
	if _, err := pm.Swap(key, amm.SwapParams{ZeroForOne: zeroForOne, TargetTick: target, Trader: trader}); err != nil {
		t.Fatalf("swap: %v", err)
	}
	if err := eng.AfterSwap(key, zeroForOne); err != nil {
		t.Fatalf("after swap: %v", err)
	}
}

func balance(t *testing.T, pm *amm.PoolManager, account common.Address, currency model.Currency) int64 {
	t.Helper()
	v := pm.Balance(account, currency)
	if !v.IsInt64() {
		t.Fatalf("balance does not fit int64: %s", v)
	}
	return v.Int64()
}

func TestPlaceZeroLiquidity(t *testing.T) {
	eng, _, key := newTestEngine(t)
	if _, err := eng.Place(key, 120, true, ownerX, big.NewInt(0)); !errors.Is(err, model.ErrZeroLiquidity) {
		t.Fatalf("expected ErrZeroLiquidity, got %v", err)
	}
	if _, err := eng.Place(key, 120, true, ownerX, nil); !errors.Is(err, model.ErrZeroLiquidity) {
		t.Fatalf("expected ErrZeroLiquidity for nil, got %v", err)
	}
}

func TestRestThenCancel(t *testing.T) {
	eng, pm, key := newTestEngine(t)
	fund(t, pm, ownerX, cur0, 1000)

	id := mustPlace(t, eng, key, 120, true, ownerX, 1000)
	if id != 1 {
		t.Fatalf("order id = %d, want 1", id)
	}
	if got := eng.OrderLiquidity(id, ownerX); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("order liquidity = %s, want 1000", got)
	}
	if got := balance(t, pm, ownerX, cur0); got != 0 {
		t.Fatalf("owner balance = %d, want 0", got)
	}

	paid0, paid1, err := eng.Cancel(key, 120, true, ownerX, ownerX)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if paid0.Cmp(big.NewInt(1000)) != 0 || paid1.Sign() != 0 {
		t.Fatalf("cancel paid (%s, %s), want (1000, 0)", paid0, paid1)
	}
	if got := eng.OrderID(key, 120, true); got != model.OrderIDSentinel {
		t.Fatalf("key still maps to order %d", got)
	}
	if got := balance(t, pm, ownerX, cur0); got != 1000 {
		t.Fatalf("owner balance = %d, want 1000", got)
	}
}

func TestPlaceWrongSide(t *testing.T) {
	eng, pm, key := newTestEngine(t)
	fund(t, pm, ownerX, cur0, 1000)
	fund(t, pm, ownerX, cur1, 1000)

	// A zeroForOne order must rest above the current price.
	if _, err := eng.Place(key, -60, true, ownerX, big.NewInt(1000)); !errors.Is(err, model.ErrWrongSide) {
		t.Fatalf("expected ErrWrongSide, got %v", err)
	}
	if got := eng.OrderID(key, -60, true); got != model.OrderIDSentinel {
		t.Fatalf("failed placement left key mapped to order %d", got)
	}
	if got := balance(t, pm, ownerX, cur1); got != 1000 {
		t.Fatalf("owner balance = %d after rollback, want 1000", got)
	}

	// And a oneForZero order below it.
	if _, err := eng.Place(key, 120, false, ownerX, big.NewInt(1000)); !errors.Is(err, model.ErrWrongSide) {
		t.Fatalf("expected ErrWrongSide, got %v", err)
	}
}

func TestPlaceRangeCrossed(t *testing.T) {
	eng, pm, key := newTestEngine(t)
	fund(t, pm, ownerX, cur0, 1000)
	fund(t, pm, ownerX, cur1, 1000)

	// The current tick sits inside [0, 60): liquidity would land on both sides.
	if _, err := eng.Place(key, 0, true, ownerX, big.NewInt(1000)); !errors.Is(err, model.ErrRangeCrossed) {
		t.Fatalf("expected ErrRangeCrossed, got %v", err)
	}
}

func TestCancelZeroLiquidity(t *testing.T) {
	eng, pm, key := newTestEngine(t)

	if _, _, err := eng.Cancel(key, 120, true, ownerX, ownerX); !errors.Is(err, model.ErrZeroLiquidity) {
		t.Fatalf("expected ErrZeroLiquidity on empty key, got %v", err)
	}

	fund(t, pm, ownerX, cur0, 1000)
	mustPlace(t, eng, key, 120, true, ownerX, 1000)
	if _, _, err := eng.Cancel(key, 120, true, ownerY, ownerY); !errors.Is(err, model.ErrZeroLiquidity) {
		t.Fatalf("expected ErrZeroLiquidity for non-contributor, got %v", err)
	}
}

func TestContributionConservation(t *testing.T) {
	eng, pm, key := newTestEngine(t)
	fund(t, pm, ownerX, cur0, 1000)
	fund(t, pm, ownerY, cur0, 500)

	idX := mustPlace(t, eng, key, 120, true, ownerX, 1000)
	idY := mustPlace(t, eng, key, 120, true, ownerY, 500)
	if idX != idY {
		t.Fatalf("same key allocated two orders: %d, %d", idX, idY)
	}

	snap, ok := eng.Order(idX)
	if !ok {
		t.Fatalf("order %d missing", idX)
	}
	if snap.LiquidityTotal != "1500" {
		t.Fatalf("liquidity total = %s, want 1500", snap.LiquidityTotal)
	}
	sum := new(big.Int).Add(eng.OrderLiquidity(idX, ownerX), eng.OrderLiquidity(idX, ownerY))
	if sum.Cmp(big.NewInt(1500)) != 0 {
		t.Fatalf("owner contributions sum to %s, want 1500", sum)
	}
}

// Two contributors join the same order with fee revenue accruing between the
// placements. The later entrant's checkpoint snapshots the totals before the
// pending fee is merged, so both share it; after the fill, the first
// withdrawal takes its floored pro-rata share and the second drains the
// remainder exactly.
func TestInterleavedContributionPayouts(t *testing.T) {
	eng, pm, key := newTestEngine(t)
	fund(t, pm, ownerX, cur0, 1000)
	fund(t, pm, ownerY, cur0, 500)
	fund(t, pm, trader, cur1, 2000)

	id := mustPlace(t, eng, key, 120, true, ownerX, 1000)
	mustDonate(t, pm, key, 120, 180, 300)
	mustPlace(t, eng, key, 120, true, ownerY, 500)

	swapTo(t, eng, pm, key, false, 180)

	if got := eng.OrderID(key, 120, true); got != model.OrderIDSentinel {
		t.Fatalf("key still mapped after fill")
	}
	snap, ok := eng.Order(id)
	if !ok {
		t.Fatalf("order %d missing after fill", id)
	}
	if !snap.Filled {
		t.Fatalf("order not marked filled")
	}
	if snap.TotalFee1 != "1800" {
		t.Fatalf("payout pot = %s, want 1800", snap.TotalFee1)
	}

	a0, a1, err := eng.Withdraw(id, ownerX, ownerX)
	if err != nil {
		t.Fatalf("withdraw X: %v", err)
	}
	if a0.Sign() != 0 || a1.Cmp(big.NewInt(1200)) != 0 {
		t.Fatalf("X withdrew (%s, %s), want (0, 1200)", a0, a1)
	}

	a0, a1, err = eng.Withdraw(id, ownerY, ownerY)
	if err != nil {
		t.Fatalf("withdraw Y: %v", err)
	}
	if a1.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("Y withdrew %s, want 600", a1)
	}

	// Fully drained: the entry is reclaimed and the pot account empty.
	if _, ok := eng.Order(id); ok {
		t.Fatalf("order entry kept after full withdrawal")
	}
	if got := balance(t, pm, testAccount, cur1); got != 0 {
		t.Fatalf("engine account holds %d after drain, want 0", got)
	}
}

func TestWithdrawRounding(t *testing.T) {
	eng, pm, key := newTestEngine(t)
	fund(t, pm, ownerX, cur0, 1000)
	fund(t, pm, ownerY, cur0, 500)
	fund(t, pm, trader, cur1, 2000)

	id := mustPlace(t, eng, key, 120, true, ownerX, 1000)
	mustPlace(t, eng, key, 120, true, ownerY, 500)
	mustDonate(t, pm, key, 120, 180, 100)

	swapTo(t, eng, pm, key, false, 180)

	// Pot is 1600 over 1500 liquidity: 1600*1000/1500 floors to 1066.
	_, a1, err := eng.Withdraw(id, ownerX, ownerX)
	if err != nil {
		t.Fatalf("withdraw X: %v", err)
	}
	if a1.Cmp(big.NewInt(1066)) != 0 {
		t.Fatalf("X withdrew %s, want 1066", a1)
	}

	_, a1, err = eng.Withdraw(id, ownerY, ownerY)
	if err != nil {
		t.Fatalf("withdraw Y: %v", err)
	}
	if a1.Cmp(big.NewInt(534)) != 0 {
		t.Fatalf("Y withdrew %s, want 534", a1)
	}
}

func TestFeeFairnessPartialCancel(t *testing.T) {
	eng, pm, key := newTestEngine(t)
	fund(t, pm, ownerX, cur0, 1000)
	fund(t, pm, ownerY, cur0, 500)

	id := mustPlace(t, eng, key, 120, true, ownerX, 1000)
	mustPlace(t, eng, key, 120, true, ownerY, 500)
	mustDonate(t, pm, key, 120, 180, 300)

	// Partial cancel: Y gets principal only, the fee stays with the order.
	paid0, paid1, err := eng.Cancel(key, 120, true, ownerY, ownerY)
	if err != nil {
		t.Fatalf("cancel Y: %v", err)
	}
	if paid0.Cmp(big.NewInt(500)) != 0 || paid1.Sign() != 0 {
		t.Fatalf("Y paid (%s, %s), want (500, 0)", paid0, paid1)
	}
	snap, _ := eng.Order(id)
	if snap.TotalFee1 != "300" {
		t.Fatalf("withheld fee = %s, want 300", snap.TotalFee1)
	}

	// Last out: X recovers principal plus the whole accrued pot.
	paid0, paid1, err = eng.Cancel(key, 120, true, ownerX, ownerX)
	if err != nil {
		t.Fatalf("cancel X: %v", err)
	}
	if paid0.Cmp(big.NewInt(1000)) != 0 || paid1.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("X paid (%s, %s), want (1000, 300)", paid0, paid1)
	}
	if got := eng.OrderID(key, 120, true); got != model.OrderIDSentinel {
		t.Fatalf("key still mapped after full cancel")
	}
	if got := balance(t, pm, testAccount, cur1); got != 0 {
		t.Fatalf("engine account holds %d, want 0", got)
	}
}

func TestFillExclusivityFreshID(t *testing.T) {
	eng, pm, key := newTestEngine(t)
	fund(t, pm, ownerX, cur0, 2000)
	fund(t, pm, trader, cur1, 2000)
	fund(t, pm, trader, cur0, 2000)

	first := mustPlace(t, eng, key, 120, true, ownerX, 1000)
	swapTo(t, eng, pm, key, false, 180)

	// Price returns below the boundary so the key can host a new order.
	swapTo(t, eng, pm, key, true, 0)

	second := mustPlace(t, eng, key, 120, true, ownerX, 1000)
	if second == first {
		t.Fatalf("fill did not retire the order id: %d reused", first)
	}
	if second != first+1 {
		t.Fatalf("expected next id %d, got %d", first+1, second)
	}

	// The filled order's pot is still intact and claimable.
	a0, a1, err := eng.Withdraw(first, ownerX, ownerX)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if a0.Sign() != 0 || a1.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("withdrew (%s, %s), want (0, 1000)", a0, a1)
	}
}

func TestFillDownwardDirection(t *testing.T) {
	eng, pm, key := newTestEngine(t)
	fund(t, pm, ownerX, cur1, 1000)
	fund(t, pm, trader, cur0, 2000)

	id := mustPlace(t, eng, key, -120, false, ownerX, 1000)
	swapTo(t, eng, pm, key, true, -180)

	snap, ok := eng.Order(id)
	if !ok || !snap.Filled {
		t.Fatalf("downward cross did not fill the order")
	}
	a0, a1, err := eng.Withdraw(id, ownerX, ownerX)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if a0.Cmp(big.NewInt(1000)) != 0 || a1.Sign() != 0 {
		t.Fatalf("withdrew (%s, %s), want (1000, 0)", a0, a1)
	}
}

func TestFillAcrossTwoSwaps(t *testing.T) {
	eng, pm, key := newTestEngine(t)
	fund(t, pm, ownerX, cur0, 1000)
	fund(t, pm, trader, cur1, 2000)

	id := mustPlace(t, eng, key, 120, true, ownerX, 1000)

	// The price enters the order's range and stops inside: no fill yet.
	swapTo(t, eng, pm, key, false, 150)
	snap, ok := eng.Order(id)
	if !ok || snap.Filled {
		t.Fatalf("order filled before its range was fully crossed")
	}
	if _, _, err := eng.Withdraw(id, ownerX, ownerX); !errors.Is(err, model.ErrNotFilled) {
		t.Fatalf("expected ErrNotFilled, got %v", err)
	}

	// A second swap exits the far side; the fill completes.
	swapTo(t, eng, pm, key, false, 180)
	snap, ok = eng.Order(id)
	if !ok || !snap.Filled {
		t.Fatalf("two-step cross did not fill the order")
	}
	a0, a1, err := eng.Withdraw(id, ownerX, ownerX)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if a0.Sign() != 0 || a1.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("withdrew (%s, %s), want (0, 1000)", a0, a1)
	}
}

func TestCancelWhileTickInsideRange(t *testing.T) {
	eng, pm, key := newTestEngine(t)
	fund(t, pm, ownerX, cur0, 1000)
	fund(t, pm, trader, cur1, 2000)

	mustPlace(t, eng, key, 120, true, ownerX, 1000)
	swapTo(t, eng, pm, key, false, 150)

	// Unfilled, so the deposit comes back in the currency it went in as.
	paid0, paid1, err := eng.Cancel(key, 120, true, ownerX, ownerX)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if paid0.Cmp(big.NewInt(1000)) != 0 || paid1.Sign() != 0 {
		t.Fatalf("cancel paid (%s, %s), want (1000, 0)", paid0, paid1)
	}
	if got := balance(t, pm, ownerX, cur0); got != 1000 {
		t.Fatalf("owner balance = %d, want 1000", got)
	}
}

func TestAfterSwapNoCross(t *testing.T) {
	eng, pm, key := newTestEngine(t)
	fund(t, pm, ownerX, cur0, 1000)

	id := mustPlace(t, eng, key, 120, true, ownerX, 1000)

	// The price moves within the same spacing bucket: nothing fills.
	if _, err := pm.Swap(key, amm.SwapParams{ZeroForOne: false, TargetTick: 30}); err != nil {
		t.Fatalf("swap: %v", err)
	}
	if err := eng.AfterSwap(key, false); err != nil {
		t.Fatalf("after swap: %v", err)
	}
	snap, ok := eng.Order(id)
	if !ok || snap.Filled {
		t.Fatalf("order state changed without a boundary cross")
	}
}

func TestWithdrawPreconditions(t *testing.T) {
	eng, pm, key := newTestEngine(t)
	fund(t, pm, ownerX, cur0, 1000)
	fund(t, pm, trader, cur1, 2000)

	id := mustPlace(t, eng, key, 120, true, ownerX, 1000)

	if _, _, err := eng.Withdraw(id, ownerX, ownerX); !errors.Is(err, model.ErrNotFilled) {
		t.Fatalf("expected ErrNotFilled, got %v", err)
	}
	if _, _, err := eng.Withdraw(model.OrderID(99), ownerX, ownerX); !errors.Is(err, model.ErrUnknownOrder) {
		t.Fatalf("expected ErrUnknownOrder, got %v", err)
	}

	swapTo(t, eng, pm, key, false, 180)

	if _, _, err := eng.Withdraw(id, ownerY, ownerY); !errors.Is(err, model.ErrZeroLiquidity) {
		t.Fatalf("expected ErrZeroLiquidity for non-contributor, got %v", err)
	}
}

func TestUnknownPool(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	other := model.PoolKey{Currency0: cur0, Currency1: cur1, Fee: 500, TickSpacing: 10}

	if _, err := eng.Place(other, 120, true, ownerX, big.NewInt(1)); !errors.Is(err, model.ErrUnknownPool) {
		t.Fatalf("expected ErrUnknownPool, got %v", err)
	}
	if err := eng.AfterSwap(other, true); !errors.Is(err, model.ErrUnknownPool) {
		t.Fatalf("expected ErrUnknownPool, got %v", err)
	}
}
