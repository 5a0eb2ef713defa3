package engine

import "errors"

// Sentinel errors for the engine. Callers should test with errors.Is; the
// engine wraps these with context where it helps diagnosis.
var (
	// ErrOverflow reports fixed-point arithmetic that would exceed int64.
	ErrOverflow = errors.New("monetary value overflow")
	// ErrPrecisionLoss reports a rescale that would silently drop digits.
	ErrPrecisionLoss = errors.New("monetary value precision loss")
	// ErrInvalidOrder reports a malformed order rejected before matching.
	ErrInvalidOrder = errors.New("invalid order")
	// ErrInvalidQuantity reports a quantity reduction larger than remaining.
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrNotFound reports a cancel (or reduce) for an unknown order id.
	// A cancel that loses the race against a fill lands here; it is a
	// normal outcome, not a fault.
	ErrNotFound = errors.New("order not found")
	// ErrNoLiquidity reports a market order with no opposite-side liquidity.
	ErrNoLiquidity = errors.New("no liquidity")
	// ErrChannelSaturated reports a full command queue. Transient and
	// retryable; the command was not accepted.
	ErrChannelSaturated = errors.New("command channel saturated")
	// ErrEngineClosed reports a command submitted after Close.
	ErrEngineClosed = errors.New("engine closed")
	// ErrBookCrossed reports the fatal invariant violation: best bid at or
	// above best ask after a fully applied command. Intake halts.
	ErrBookCrossed = errors.New("order book crossed")
)
