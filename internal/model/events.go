package model

import "encoding/json"

// Event type tags carried in EventRecord.
const (
	EventPlace    = "place"
	EventCancel   = "cancel"
	EventFill     = "fill"
	EventWithdraw = "withdraw"
)

// EventRecord is the journal form of an engine event. Payload holds the typed
// event encoded as JSON.
type EventRecord struct {
	Seq       uint64          `json:"seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	EmittedAt string          `json:"emitted_at"`
}

// PlaceEvent records a liquidity contribution to a resting order.
type PlaceEvent struct {
	Owner      string `json:"owner"`
	OrderID    uint64 `json:"order_id"`
	PoolID     string `json:"pool_id"`
	TickLower  int32  `json:"tick_lower"`
	ZeroForOne bool   `json:"zero_for_one"`
	Liquidity  string `json:"liquidity"`
}

// CancelEvent records a contribution withdrawal before fill.
type CancelEvent struct {
	Owner      string `json:"owner"`
	OrderID    uint64 `json:"order_id"`
	PoolID     string `json:"pool_id"`
	TickLower  int32  `json:"tick_lower"`
	ZeroForOne bool   `json:"zero_for_one"`
	Liquidity  string `json:"liquidity"`
	Amount0    string `json:"amount0"`
	Amount1    string `json:"amount1"`
	Recipient  string `json:"recipient"`
	RemovedAll bool   `json:"removed_all"`
}

// FillEvent records an order mechanically filled by a price cross.
type FillEvent struct {
	OrderID    uint64 `json:"order_id"`
	PoolID     string `json:"pool_id"`
	TickLower  int32  `json:"tick_lower"`
	ZeroForOne bool   `json:"zero_for_one"`
	Liquidity  string `json:"liquidity"`
	Amount0    string `json:"amount0"`
	Amount1    string `json:"amount1"`
}

// WithdrawEvent records a pro-rata payout claim from a filled order.
type WithdrawEvent struct {
	Owner     string `json:"owner"`
	OrderID   uint64 `json:"order_id"`
	Amount0   string `json:"amount0"`
	Amount1   string `json:"amount1"`
	Recipient string `json:"recipient"`
}
