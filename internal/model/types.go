package model

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Currency identifies one side of a pool's asset pair.
type Currency = common.Address

// PoolID is the hash identity of a pool, derived from its PoolKey.
type PoolID = common.Hash

// OrderID identifies an order epoch. IDs are allocated monotonically and
// never reused; OrderIDSentinel means "no active order".
type OrderID uint64

const OrderIDSentinel OrderID = 0

// PoolKey uniquely identifies a pool by its sorted currency pair, fee tier,
// and tick spacing.
type PoolKey struct {
	Currency0   Currency `json:"currency0"`
	Currency1   Currency `json:"currency1"`
	Fee         uint32   `json:"fee"`
	TickSpacing int32    `json:"tick_spacing"`
}

// ID computes the pool identity hash.
func (pk PoolKey) ID() PoolID {
	buf := make([]byte, 0, 20+20+4+4)
	buf = append(buf, pk.Currency0.Bytes()...)
	buf = append(buf, pk.Currency1.Bytes()...)
	var scratch [4]byte
	binary.BigEndian.PutUint32(scratch[:], pk.Fee)
	buf = append(buf, scratch[:]...)
	binary.BigEndian.PutUint32(scratch[:], uint32(pk.TickSpacing))
	buf = append(buf, scratch[:]...)
	return crypto.Keccak256Hash(buf)
}

// OrderKey addresses one resting order slot: a pool, a lower tick boundary,
// and a fill direction. At most one non-filled order exists per key.
type OrderKey struct {
	Pool       PoolID
	TickLower  int32
	ZeroForOne bool
}

// OrderSnapshot is the exported view of an order ledger entry. Amounts are
// decimal strings so arbitrary-precision values survive JSON.
type OrderSnapshot struct {
	OrderID        uint64 `json:"order_id"`
	PoolID         string `json:"pool_id"`
	TickLower      int32  `json:"tick_lower"`
	ZeroForOne     bool   `json:"zero_for_one"`
	Filled         bool   `json:"filled"`
	Currency0      string `json:"currency0"`
	Currency1      string `json:"currency1"`
	TotalFee0      string `json:"total_fee0"`
	TotalFee1      string `json:"total_fee1"`
	LiquidityTotal string `json:"liquidity_total"`
}

// TickCursor records the last observed lower tick boundary for a pool. It
// bounds the scan range of the next crossing check.
type TickCursor struct {
	PoolID        string `json:"pool_id"`
	TickLowerLast int32  `json:"tick_lower_last"`
}

// BigToString renders a big.Int as its decimal form, treating nil as zero.
func BigToString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// StringToBig parses a decimal string, treating empty as zero.
func StringToBig(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}
	v, ok := new(big.Int).SetString(s, 10)
	return v, ok
}
