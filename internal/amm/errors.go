package amm

import "errors"

var (
	ErrPoolExists            = errors.New("pool already initialized")
	ErrPoolNotFound          = errors.New("pool not found")
	ErrCurrencyNotSorted     = errors.New("currencies not sorted")
	ErrInvalidTickSpacing    = errors.New("tick spacing must be positive")
	ErrInvalidTickRange      = errors.New("invalid tick range")
	ErrTickNotAligned        = errors.New("tick not aligned to pool spacing")
	ErrTickOutOfRange        = errors.New("tick out of range")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInsufficientLiquidity = errors.New("insufficient range liquidity")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientReserves  = errors.New("insufficient pool reserves")
	ErrNoLiquidity           = errors.New("no liquidity in range")
	ErrReentrant             = errors.New("reentrancy detected")
	ErrSessionClosed         = errors.New("session already closed")
	ErrNonZeroDelta          = errors.New("non-zero balance delta after settlement")
	ErrSwapDirection         = errors.New("swap target tick against trade direction")
)
