package model

import "errors"

// Precondition violations abort the whole operation and are never retried.
var (
	ErrZeroLiquidity = errors.New("zero liquidity")
	ErrFilled        = errors.New("order already filled")
	ErrNotFilled     = errors.New("order not filled")
)

// Market-state violations surface after delegating to the pool: the price
// moved between intent and execution and the caller must resubmit.
var (
	ErrRangeCrossed = errors.New("range crossed: liquidity landed on both sides")
	ErrWrongSide    = errors.New("liquidity landed on the wrong side for direction")
)

// ErrUnauthorizedCallback rejects a settlement callback that does not
// originate from the expected pool collaborator.
var ErrUnauthorizedCallback = errors.New("unauthorized settlement callback")

var (
	ErrUnknownPool  = errors.New("pool not registered")
	ErrUnknownOrder = errors.New("unknown order")
)
