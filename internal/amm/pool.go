// Package amm is the external AMM pool collaborator consumed by the order
// engine. Its curve math is deliberately simple: liquidity converts one-to-one
// into the single asset a fully out-of-range position holds, which is the only
// part of the pool's behavior the engine depends on. What the package does
// model faithfully is the settlement protocol: a unit of work opens a session,
// performs range and balance mutations that are tracked as per-currency
// deltas, and must leave every delta at zero before the session commits.
package amm

import (
	"bytes"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"rangeOrder/internal/model"
)

// Tick bounds shared with the engine.
const (
	MinTick int32 = -887272
	MaxTick int32 = 887272
)

type rangeKey struct {
	Lower int32
	Upper int32
}

// rangePosition tracks a range's liquidity together with the denomination of
// its holdings. holdings0 + holdings1 always equals liquidity: deposits land
// on the side splitBySide picks, and Swap moves value between the two columns
// as the price crosses the range.
type rangePosition struct {
	liquidity *big.Int
	holdings0 *big.Int
	holdings1 *big.Int
	feesOwed0 *big.Int
	feesOwed1 *big.Int
}

type poolState struct {
	key  model.PoolKey
	tick int32

	ranges map[rangeKey]*rangePosition
}

// PoolManager holds every pool plus the internal balance sheet used for
// settlement. All mutation goes through Unlock sessions or the explicit
// admin entry points (Initialize, Credit, Swap, Donate).
type PoolManager struct {
	mu     sync.Mutex
	locked bool

	pools    map[model.PoolID]*poolState
	balances map[common.Address]map[model.Currency]*big.Int
	reserves map[model.Currency]*big.Int
}

func NewPoolManager() *PoolManager {
	return &PoolManager{
		pools:    make(map[model.PoolID]*poolState),
		balances: make(map[common.Address]map[model.Currency]*big.Int),
		reserves: make(map[model.Currency]*big.Int),
	}
}

// Initialize creates a pool at the given starting tick.
func (pm *PoolManager) Initialize(key model.PoolKey, initialTick int32) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if bytes.Compare(key.Currency0.Bytes(), key.Currency1.Bytes()) >= 0 {
		return ErrCurrencyNotSorted
	}
	if key.TickSpacing <= 0 {
		return ErrInvalidTickSpacing
	}
	if initialTick < MinTick || initialTick > MaxTick {
		return ErrTickOutOfRange
	}

	id := key.ID()
	if _, ok := pm.pools[id]; ok {
		return ErrPoolExists
	}

	pm.pools[id] = &poolState{
		key:    key,
		tick:   initialTick,
		ranges: make(map[rangeKey]*rangePosition),
	}
	return nil
}

// CurrentTick returns a pool's current tick.
func (pm *PoolManager) CurrentTick(key model.PoolKey) (int32, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pool, ok := pm.pools[key.ID()]
	if !ok {
		return 0, ErrPoolNotFound
	}
	return pool.tick, nil
}

// SwapParams describes an opaque trade: the curve math is out of scope, so a
// trade is expressed directly as the tick the price moves to. Trader is the
// counterparty account funding the conversion; it may be empty when the move
// crosses no liquidity.
type SwapParams struct {
	ZeroForOne bool
	TargetTick int32
	Trader     common.Address
}

const (
	sideBelow = iota
	sideIn
	sideAbove
)

func sideOf(tick int32, rk rangeKey) int {
	switch {
	case tick < rk.Lower:
		return sideBelow
	case tick >= rk.Upper:
		return sideAbove
	default:
		return sideIn
	}
}

// Swap executes a trade against the pool, moving its price to the target
// tick. Selling currency0 moves the price down, selling currency1 up; a
// target against that direction is rejected. Any holdings that end up on the
// wrong side of the new price flip denomination, whether the range was
// crossed in one move or the price had parked inside it in an earlier swap:
// the trader supplies the incoming currency one-for-one plus the pool's fee
// tier (parts per million), which accrues to the range, and receives the
// outgoing currency. Holdings of a range the price stops inside stay as they
// are until the price exits.
func (pm *PoolManager) Swap(key model.PoolKey, params SwapParams) (int32, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pool, ok := pm.pools[key.ID()]
	if !ok {
		return 0, ErrPoolNotFound
	}
	if params.TargetTick < MinTick || params.TargetTick > MaxTick {
		return 0, ErrTickOutOfRange
	}
	if params.ZeroForOne && params.TargetTick > pool.tick {
		return 0, ErrSwapDirection
	}
	if !params.ZeroForOne && params.TargetTick < pool.tick {
		return 0, ErrSwapDirection
	}

	newTick := params.TargetTick
	feePPM := new(big.Int).SetUint64(uint64(pool.key.Fee))
	million := big.NewInt(1_000_000)

	type flip struct {
		rp     *rangePosition
		up     bool
		amount *big.Int
		fee    *big.Int
	}
	var flips []flip
	payIn0, payIn1 := big.NewInt(0), big.NewInt(0)
	payOut0, payOut1 := big.NewInt(0), big.NewInt(0)
	for rk, rp := range pool.ranges {
		if rp.liquidity.Sign() == 0 {
			continue
		}
		var amount *big.Int
		var up bool
		switch sideOf(newTick, rk) {
		case sideAbove:
			// Price leaves the range above: currency0 holdings flip to currency1.
			amount, up = rp.holdings0, true
		case sideBelow:
			amount, up = rp.holdings1, false
		default:
			continue
		}
		if amount.Sign() == 0 {
			continue
		}
		amount = new(big.Int).Set(amount)
		fee := new(big.Int).Mul(amount, feePPM)
		fee.Div(fee, million)
		if up {
			payIn1.Add(payIn1, amount)
			payIn1.Add(payIn1, fee)
			payOut0.Add(payOut0, amount)
		} else {
			payIn0.Add(payIn0, amount)
			payIn0.Add(payIn0, fee)
			payOut1.Add(payOut1, amount)
		}
		flips = append(flips, flip{rp: rp, up: up, amount: amount, fee: fee})
	}

	if len(flips) > 0 {
		c0, c1 := pool.key.Currency0, pool.key.Currency1
		if pm.balance(params.Trader, c0).Cmp(payIn0) < 0 || pm.balance(params.Trader, c1).Cmp(payIn1) < 0 {
			return 0, ErrInsufficientBalance
		}
		if pm.reserve(c0).Cmp(payOut0) < 0 || pm.reserve(c1).Cmp(payOut1) < 0 {
			return 0, ErrInsufficientReserves
		}
		pm.debit(params.Trader, c0, payIn0)
		pm.debit(params.Trader, c1, payIn1)
		pm.addReserve(c0, payIn0)
		pm.addReserve(c1, payIn1)
		pm.subReserve(c0, payOut0)
		pm.subReserve(c1, payOut1)
		pm.credit(params.Trader, c0, payOut0)
		pm.credit(params.Trader, c1, payOut1)
		for _, fl := range flips {
			if fl.up {
				fl.rp.holdings0.Sub(fl.rp.holdings0, fl.amount)
				fl.rp.holdings1.Add(fl.rp.holdings1, fl.amount)
				fl.rp.feesOwed1.Add(fl.rp.feesOwed1, fl.fee)
			} else {
				fl.rp.holdings1.Sub(fl.rp.holdings1, fl.amount)
				fl.rp.holdings0.Add(fl.rp.holdings0, fl.amount)
				fl.rp.feesOwed0.Add(fl.rp.feesOwed0, fl.fee)
			}
		}
	}

	pool.tick = newTick
	return pool.tick, nil
}

// Donate credits fee revenue to a range position, debiting the donor's
// balance. The range must hold liquidity.
func (pm *PoolManager) Donate(key model.PoolKey, tickLower, tickUpper int32, donor common.Address, amount0, amount1 *big.Int) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pool, ok := pm.pools[key.ID()]
	if !ok {
		return ErrPoolNotFound
	}
	rp := pool.ranges[rangeKey{Lower: tickLower, Upper: tickUpper}]
	if rp == nil || rp.liquidity.Sign() == 0 {
		return ErrNoLiquidity
	}
	if amount0 == nil || amount0.Sign() < 0 || amount1 == nil || amount1.Sign() < 0 {
		return ErrInvalidAmount
	}

	if err := pm.debit(donor, pool.key.Currency0, amount0); err != nil {
		return err
	}
	if err := pm.debit(donor, pool.key.Currency1, amount1); err != nil {
		// Undo the first debit so a failed donate leaves balances intact.
		pm.credit(donor, pool.key.Currency0, amount0)
		return err
	}
	pm.addReserve(pool.key.Currency0, amount0)
	pm.addReserve(pool.key.Currency1, amount1)

	rp.feesOwed0.Add(rp.feesOwed0, amount0)
	rp.feesOwed1.Add(rp.feesOwed1, amount1)
	return nil
}

// Credit mints balance for an account. Admin/test funding entry point.
func (pm *PoolManager) Credit(account common.Address, currency model.Currency, amount *big.Int) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	pm.credit(account, currency, amount)
	return nil
}

// Balance returns an account's balance in a currency.
func (pm *PoolManager) Balance(account common.Address, currency model.Currency) *big.Int {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	held, ok := pm.balances[account]
	if !ok {
		return big.NewInt(0)
	}
	bal, ok := held[currency]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(bal)
}

// RangeLiquidity returns the liquidity currently held over a range.
func (pm *PoolManager) RangeLiquidity(key model.PoolKey, tickLower, tickUpper int32) *big.Int {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pool, ok := pm.pools[key.ID()]
	if !ok {
		return big.NewInt(0)
	}
	rp := pool.ranges[rangeKey{Lower: tickLower, Upper: tickUpper}]
	if rp == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(rp.liquidity)
}

// Unlock opens a settlement session and runs fn inside it. Every mutation fn
// performs is tracked; if fn fails, or any per-currency delta is non-zero when
// fn returns, all mutations are undone and the session is discarded.
func (pm *PoolManager) Unlock(fn func(*Session) error) error {
	pm.mu.Lock()
	if pm.locked {
		pm.mu.Unlock()
		return ErrReentrant
	}
	pm.locked = true
	pm.mu.Unlock()

	s := &Session{
		manager: pm,
		deltas:  make(map[model.Currency]*big.Int),
	}

	err := fn(s)
	if err == nil {
		for _, delta := range s.deltas {
			if delta.Sign() != 0 {
				err = ErrNonZeroDelta
				break
			}
		}
	}
	if err != nil {
		s.rollback()
	}
	s.closed = true

	pm.mu.Lock()
	pm.locked = false
	pm.mu.Unlock()

	return err
}

// Balance-sheet helpers. Callers hold pm.mu.

func (pm *PoolManager) credit(account common.Address, currency model.Currency, amount *big.Int) {
	held, ok := pm.balances[account]
	if !ok {
		held = make(map[model.Currency]*big.Int)
		pm.balances[account] = held
	}
	bal, ok := held[currency]
	if !ok {
		bal = big.NewInt(0)
		held[currency] = bal
	}
	bal.Add(bal, amount)
}

func (pm *PoolManager) debit(account common.Address, currency model.Currency, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	held, ok := pm.balances[account]
	if !ok {
		return ErrInsufficientBalance
	}
	bal, ok := held[currency]
	if !ok || bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	bal.Sub(bal, amount)
	return nil
}

func (pm *PoolManager) balance(account common.Address, currency model.Currency) *big.Int {
	held, ok := pm.balances[account]
	if !ok {
		return big.NewInt(0)
	}
	bal, ok := held[currency]
	if !ok {
		return big.NewInt(0)
	}
	return bal
}

func (pm *PoolManager) reserve(currency model.Currency) *big.Int {
	res, ok := pm.reserves[currency]
	if !ok {
		return big.NewInt(0)
	}
	return res
}

func (pm *PoolManager) addReserve(currency model.Currency, amount *big.Int) {
	res, ok := pm.reserves[currency]
	if !ok {
		res = big.NewInt(0)
		pm.reserves[currency] = res
	}
	res.Add(res, amount)
}

func (pm *PoolManager) subReserve(currency model.Currency, amount *big.Int) error {
	res, ok := pm.reserves[currency]
	if !ok || res.Cmp(amount) < 0 {
		return ErrInsufficientReserves
	}
	res.Sub(res, amount)
	return nil
}
