package replay

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"rangeOrder/internal/model"
)

// Operation kinds accepted in the ops journal.
const (
	OpInitPool = "init-pool"
	OpFund     = "fund"
	OpPlace    = "place"
	OpCancel   = "cancel"
	OpWithdraw = "withdraw"
	OpSwap     = "swap"
	OpDonate   = "donate"
)

// Operation is one line of the ops journal. Each line is self-contained:
// pool-scoped ops carry the full pool key. Fields irrelevant to an op kind
// are left empty.
type Operation struct {
	Op          string `json:"op"`
	Currency0   string `json:"currency0,omitempty"`
	Currency1   string `json:"currency1,omitempty"`
	Fee         uint32 `json:"fee,omitempty"`
	TickSpacing int32  `json:"tick_spacing,omitempty"`
	Tick        int32  `json:"tick,omitempty"`
	TickLower   int32  `json:"tick_lower,omitempty"`
	TickUpper   int32  `json:"tick_upper,omitempty"`
	ZeroForOne  bool   `json:"zero_for_one,omitempty"`
	TargetTick  int32  `json:"target_tick,omitempty"`
	OrderID     uint64 `json:"order_id,omitempty"`
	Owner       string `json:"owner,omitempty"`
	Recipient   string `json:"recipient,omitempty"`
	Account     string `json:"account,omitempty"`
	Currency    string `json:"currency,omitempty"`
	Donor       string `json:"donor,omitempty"`
	Amount      string `json:"amount,omitempty"`
	Amount0     string `json:"amount0,omitempty"`
	Amount1     string `json:"amount1,omitempty"`
	Liquidity   string `json:"liquidity,omitempty"`
}

// PoolKey extracts and validates the pool key fields.
func (op Operation) PoolKey() (model.PoolKey, error) {
	c0, err := parseAddress(op.Currency0)
	if err != nil {
		return model.PoolKey{}, fmt.Errorf("currency0: %w", err)
	}
	c1, err := parseAddress(op.Currency1)
	if err != nil {
		return model.PoolKey{}, fmt.Errorf("currency1: %w", err)
	}
	return model.PoolKey{
		Currency0:   c0,
		Currency1:   c1,
		Fee:         op.Fee,
		TickSpacing: op.TickSpacing,
	}, nil
}

func parseAddress(input string) (common.Address, error) {
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid address %q", input)
	}
	return common.HexToAddress(input), nil
}

func parseAmount(input string) (*big.Int, error) {
	v, ok := model.StringToBig(input)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", input)
	}
	return v, nil
}
