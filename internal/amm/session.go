package amm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"rangeOrder/internal/model"
)

// Session is an open settlement transaction against the pool manager. All
// range and balance mutations inside it are journaled so a failed session can
// be rolled back in full, and every movement of value updates a per-currency
// delta (positive = owed to the pool) that must net to zero at close.
type Session struct {
	manager *PoolManager
	deltas  map[model.Currency]*big.Int
	undo    []func()
	closed  bool
}

// Manager identifies the pool manager that issued this session. Callbacks use
// it to verify the session originates from the expected collaborator.
func (s *Session) Manager() *PoolManager { return s.manager }

func (s *Session) rollback() {
	s.manager.mu.Lock()
	defer s.manager.mu.Unlock()
	for i := len(s.undo) - 1; i >= 0; i-- {
		s.undo[i]()
	}
	s.undo = nil
}

func (s *Session) shiftDelta(currency model.Currency, amount *big.Int) {
	delta, ok := s.deltas[currency]
	if !ok {
		delta = big.NewInt(0)
		s.deltas[currency] = delta
	}
	delta.Add(delta, amount)
}

// ModifyLiquidity adds (positive delta) or removes (negative delta) liquidity
// over [tickLower, tickUpper] and returns the principal/fee split as signed
// balance deltas. A deposit lands on the side of the range relative to the
// current tick: entirely currency0 below the range, entirely currency1 at or
// above it, both sides when the price is inside. A removal pays out of the
// range's recorded holdings, which Swap keeps denominated against the price,
// so it returns what the range actually holds even when the price moved
// through the range since the deposit. Any fees accrued on the range are
// collected and returned as a credit.
func (s *Session) ModifyLiquidity(key model.PoolKey, tickLower, tickUpper int32, liquidityDelta *big.Int) (BalanceDelta, BalanceDelta, error) {
	zero := ZeroBalanceDelta()
	if s.closed {
		return zero, zero, ErrSessionClosed
	}

	pm := s.manager
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pool, ok := pm.pools[key.ID()]
	if !ok {
		return zero, zero, ErrPoolNotFound
	}
	if liquidityDelta == nil || liquidityDelta.Sign() == 0 {
		return zero, zero, ErrInvalidAmount
	}
	if tickLower >= tickUpper {
		return zero, zero, ErrInvalidTickRange
	}
	if tickLower < MinTick || tickUpper > MaxTick {
		return zero, zero, ErrTickOutOfRange
	}
	spacing := pool.key.TickSpacing
	if tickLower%spacing != 0 || tickUpper%spacing != 0 {
		return zero, zero, ErrTickNotAligned
	}

	rk := rangeKey{Lower: tickLower, Upper: tickUpper}
	rp := pool.ranges[rk]

	if liquidityDelta.Sign() < 0 {
		removing := new(big.Int).Neg(liquidityDelta)
		if rp == nil || rp.liquidity.Cmp(removing) < 0 {
			return zero, zero, ErrInsufficientLiquidity
		}
	}

	fees := ZeroBalanceDelta()
	if rp == nil {
		rp = &rangePosition{
			liquidity: big.NewInt(0),
			holdings0: big.NewInt(0),
			holdings1: big.NewInt(0),
			feesOwed0: big.NewInt(0),
			feesOwed1: big.NewInt(0),
		}
		pool.ranges[rk] = rp
		s.undo = append(s.undo, func() { delete(pool.ranges, rk) })
	} else {
		// Collect fees owed on the range; returned as a credit to the caller.
		fees = NewBalanceDelta(rp.feesOwed0, rp.feesOwed1)
		fees = fees.Negate()
		owed0 := new(big.Int).Set(rp.feesOwed0)
		owed1 := new(big.Int).Set(rp.feesOwed1)
		rp.feesOwed0.SetInt64(0)
		rp.feesOwed1.SetInt64(0)
		s.undo = append(s.undo, func() {
			rp.feesOwed0.Set(owed0)
			rp.feesOwed1.Set(owed1)
		})
	}

	prevLiquidity := new(big.Int).Set(rp.liquidity)
	prevHeld0 := new(big.Int).Set(rp.holdings0)
	prevHeld1 := new(big.Int).Set(rp.holdings1)

	var amount0, amount1 *big.Int
	if liquidityDelta.Sign() > 0 {
		amount0, amount1 = splitBySide(pool.tick, tickLower, tickUpper, liquidityDelta)
		rp.holdings0.Add(rp.holdings0, amount0)
		rp.holdings1.Add(rp.holdings1, amount1)
	} else {
		removing := new(big.Int).Neg(liquidityDelta)
		out0 := new(big.Int).Mul(rp.holdings0, removing)
		out0.Div(out0, rp.liquidity)
		out1 := new(big.Int).Sub(removing, out0)
		rp.holdings0.Sub(rp.holdings0, out0)
		rp.holdings1.Sub(rp.holdings1, out1)
		amount0 = out0.Neg(out0)
		amount1 = out1.Neg(out1)
	}
	principal := NewBalanceDelta(amount0, amount1)

	rp.liquidity.Add(rp.liquidity, liquidityDelta)
	s.undo = append(s.undo, func() {
		rp.liquidity.Set(prevLiquidity)
		rp.holdings0.Set(prevHeld0)
		rp.holdings1.Set(prevHeld1)
	})

	s.shiftDelta(pool.key.Currency0, new(big.Int).Add(principal.Amount0, fees.Amount0))
	s.shiftDelta(pool.key.Currency1, new(big.Int).Add(principal.Amount1, fees.Amount1))

	return principal, fees, nil
}

// Settle pays amount of currency from payer into the pool, reducing what the
// session owes.
func (s *Session) Settle(currency model.Currency, payer common.Address, amount *big.Int) error {
	if s.closed {
		return ErrSessionClosed
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}

	pm := s.manager
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if err := pm.debit(payer, currency, amount); err != nil {
		return err
	}
	pm.addReserve(currency, amount)
	moved := new(big.Int).Set(amount)
	s.undo = append(s.undo, func() {
		pm.subReserve(currency, moved)
		pm.credit(payer, currency, moved)
	})

	s.shiftDelta(currency, new(big.Int).Neg(amount))
	return nil
}

// Take pays amount of currency from the pool to recipient, increasing what
// the session owes.
func (s *Session) Take(currency model.Currency, recipient common.Address, amount *big.Int) error {
	if s.closed {
		return ErrSessionClosed
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}

	pm := s.manager
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if err := pm.subReserve(currency, amount); err != nil {
		return err
	}
	pm.credit(recipient, currency, amount)
	moved := new(big.Int).Set(amount)
	s.undo = append(s.undo, func() {
		pm.debit(recipient, currency, moved)
		pm.addReserve(currency, moved)
	})

	s.shiftDelta(currency, amount)
	return nil
}

// splitBySide prices a deposit by where the current tick sits relative to the
// range. One unit of liquidity converts to one base unit of the held asset.
func splitBySide(tick, tickLower, tickUpper int32, liquidity *big.Int) (*big.Int, *big.Int) {
	amount0 := big.NewInt(0)
	amount1 := big.NewInt(0)
	switch {
	case tick < tickLower:
		amount0.Set(liquidity)
	case tick >= tickUpper:
		amount1.Set(liquidity)
	default:
		half := new(big.Int).Rsh(liquidity, 1)
		amount0.Set(half)
		amount1.Sub(liquidity, half)
	}
	return amount0, amount1
}
