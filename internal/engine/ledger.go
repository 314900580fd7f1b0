package engine

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"rangeOrder/internal/model"
)

// ownerContribution tracks one owner's stake in an order. The checkpoints
// snapshot the order's fee totals at contribution time; the owner only claims
// fees accrued past them.
type ownerContribution struct {
	liquidity   *big.Int
	checkpoint0 *big.Int
	checkpoint1 *big.Int
}

// orderState is one order ledger entry. totalFee0/1 accumulate claimable fee
// revenue and, after fill, double as the materialized payout pot.
type orderState struct {
	id             model.OrderID
	key            model.OrderKey
	filled         bool
	currency0      model.Currency
	currency1      model.Currency
	totalFee0      *big.Int
	totalFee1      *big.Int
	liquidityTotal *big.Int
	owners         map[common.Address]*ownerContribution
}

func (o *orderState) snapshot() model.OrderSnapshot {
	return model.OrderSnapshot{
		OrderID:        uint64(o.id),
		PoolID:         o.key.Pool.Hex(),
		TickLower:      o.key.TickLower,
		ZeroForOne:     o.key.ZeroForOne,
		Filled:         o.filled,
		Currency0:      o.currency0.Hex(),
		Currency1:      o.currency1.Hex(),
		TotalFee0:      model.BigToString(o.totalFee0),
		TotalFee1:      model.BigToString(o.totalFee1),
		LiquidityTotal: model.BigToString(o.liquidityTotal),
	}
}

// ledger composes the id allocator, the key index and the order store. IDs
// start at 1 and grow monotonically; 0 is the "no active order" sentinel.
type ledger struct {
	nextID model.OrderID
	index  map[model.OrderKey]model.OrderID
	orders map[model.OrderID]*orderState
}

func newLedger() *ledger {
	return &ledger{
		nextID: 1,
		index:  make(map[model.OrderKey]model.OrderID),
		orders: make(map[model.OrderID]*orderState),
	}
}

// lookup returns the active order id at key, or the sentinel.
func (l *ledger) lookup(key model.OrderKey) model.OrderID {
	return l.index[key]
}

// getOrCreate resolves the active order at key, lazily opening a fresh entry
// with a never-before-used id when none is active.
func (l *ledger) getOrCreate(key model.OrderKey, currency0, currency1 model.Currency) *orderState {
	if id, ok := l.index[key]; ok {
		return l.orders[id]
	}
	o := &orderState{
		id:             l.nextID,
		key:            key,
		currency0:      currency0,
		currency1:      currency1,
		totalFee0:      big.NewInt(0),
		totalFee1:      big.NewInt(0),
		liquidityTotal: big.NewInt(0),
		owners:         make(map[common.Address]*ownerContribution),
	}
	l.nextID++
	l.index[key] = o.id
	l.orders[o.id] = o
	return o
}

// clearKey frees the key so a later placement opens a new order. The ledger
// entry itself stays until its contributions are fully drained.
func (l *ledger) clearKey(key model.OrderKey) {
	delete(l.index, key)
}

func (l *ledger) order(id model.OrderID) (*orderState, bool) {
	o, ok := l.orders[id]
	return o, ok
}

// drop reclaims a fully drained ledger entry.
func (l *ledger) drop(id model.OrderID) {
	delete(l.orders, id)
}
