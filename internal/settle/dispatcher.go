// Package settle bridges order bookkeeping and pool settlement. Each unit of
// work runs inside a single pool session so that liquidity changes, fee
// collection and balance movements either all land or none do.
package settle

import (
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"rangeOrder/internal/amm"
	"rangeOrder/internal/model"
)

// Kind names the settlement flavor a request carries.
type Kind string

const (
	KindPlace    Kind = "place"
	KindCancel   Kind = "cancel"
	KindWithdraw Kind = "withdraw"
)

// Request describes one settlement unit. LiquidityDelta may be nil for kinds
// that move balances without touching a range (withdraw).
type Request struct {
	Kind           Kind
	Key            model.PoolKey
	TickLower      int32
	TickUpper      int32
	LiquidityDelta *big.Int
}

// FinishFunc completes a settlement inside the open session. Principal and
// fees are the signed deltas produced by the liquidity change, both zero when
// the request carried no liquidity delta. The callback must leave the session
// fully netted.
type FinishFunc func(s *amm.Session, principal, fees amm.BalanceDelta) error

// Dispatcher opens pool sessions on behalf of the order engine.
type Dispatcher struct {
	pool   *amm.PoolManager
	logger *zap.Logger
}

func NewDispatcher(pool *amm.PoolManager, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{pool: pool, logger: logger}
}

// Unlock opens a bare session for multi-order work such as the post-trade
// fill sweep, where several liquidity removals must land or fail together.
func (d *Dispatcher) Unlock(fn func(s *amm.Session) error) error {
	return d.pool.Unlock(func(s *amm.Session) error {
		if s.Manager() != d.pool {
			return model.ErrUnauthorizedCallback
		}
		return fn(s)
	})
}

// Dispatch opens a session, applies the request's liquidity change, and hands
// the resulting deltas to finish. A session originating from any pool manager
// other than the dispatcher's own is rejected before it can move funds.
func (d *Dispatcher) Dispatch(req Request, finish FinishFunc) error {
	err := d.pool.Unlock(func(s *amm.Session) error {
		if s.Manager() != d.pool {
			return model.ErrUnauthorizedCallback
		}

		principal := amm.ZeroBalanceDelta()
		fees := amm.ZeroBalanceDelta()
		if req.LiquidityDelta != nil && req.LiquidityDelta.Sign() != 0 {
			var err error
			principal, fees, err = s.ModifyLiquidity(req.Key, req.TickLower, req.TickUpper, req.LiquidityDelta)
			if err != nil {
				return fmt.Errorf("modify liquidity: %w", err)
			}
		}
		return finish(s, principal, fees)
	})
	if err != nil {
		d.logger.Debug("settlement rejected",
			zap.String("kind", string(req.Kind)),
			zap.Int32("tick_lower", req.TickLower),
			zap.Int32("tick_upper", req.TickUpper),
			zap.Error(err))
		return err
	}
	return nil
}
