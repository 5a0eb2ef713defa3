package engine

import (
	"time"

	"go.uber.org/zap"
)

// Side represents the direction of an order.
type Side int

const (
	// Buy indicates a bid order.
	Buy Side = iota
	// Sell indicates an ask order.
	Sell
)

// Opposite returns the side an incoming order matches against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// OrderType represents the execution style for an order.
type OrderType int

const (
	// Limit orders rest on the book until filled or canceled.
	Limit OrderType = iota
	// Market orders consume available liquidity immediately and never rest.
	Market
)

func (t OrderType) String() string {
	if t == Limit {
		return "limit"
	}
	return "market"
}

// Order describes a request to trade. ID is assigned by the client and must
// be unique for the lifetime of the engine; Sequence is assigned by the
// engine on arrival and is the authoritative time-priority tie-break.
type Order struct {
	ID        uint64
	Side      Side
	Type      OrderType
	Price     Price // canonical book scale; zero for Market orders
	Quantity  int64 // originally submitted quantity
	Remaining int64 // unfilled quantity, decreases monotonically
	Sequence  uint64
	Timestamp time.Time

	// intrusive FIFO links, owned by the book
	next  *Order
	prev  *Order
	level *priceLevel
}

// Trade is the immutable record of a single fill. Price is always the
// resting order's price.
type Trade struct {
	Sequence    uint64
	Price       Price
	Quantity    int64
	BuyOrderID  uint64
	SellOrderID uint64
	Timestamp   time.Time
}

// Outcome classifies how a command resolved.
type Outcome int

const (
	// OutcomeFilled: the incoming order matched completely.
	OutcomeFilled Outcome = iota
	// OutcomePartiallyFilledResting: a limit remainder now rests on the book.
	OutcomePartiallyFilledResting
	// OutcomePartiallyFilledDiscarded: a market remainder was discarded.
	OutcomePartiallyFilledDiscarded
	// OutcomeRejectedNoLiquidity: a market order found no liquidity at all.
	OutcomeRejectedNoLiquidity
	// OutcomeRejected: the command failed validation; no book mutation.
	OutcomeRejected
	// OutcomeCanceled: the order was removed from the book.
	OutcomeCanceled
	// OutcomeNotFound: a cancel referenced an unknown or resolved order.
	OutcomeNotFound
	// OutcomeRested: a limit order rested without matching.
	OutcomeRested
	// OutcomeEvicted: a resting order was trimmed by the depth cap.
	OutcomeEvicted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFilled:
		return "filled"
	case OutcomePartiallyFilledResting:
		return "partially_filled_resting"
	case OutcomePartiallyFilledDiscarded:
		return "partially_filled_discarded"
	case OutcomeRejectedNoLiquidity:
		return "rejected_no_liquidity"
	case OutcomeRejected:
		return "rejected"
	case OutcomeCanceled:
		return "canceled"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeRested:
		return "rested"
	case OutcomeEvicted:
		return "evicted"
	default:
		return "unknown"
	}
}

// Ack acknowledges one command. Exactly one Ack is emitted per accepted
// command, after that command's trades.
type Ack struct {
	OrderID   uint64
	Outcome   Outcome
	Filled    int64 // quantity filled while processing this command
	Resting   int64 // quantity left resting on the book, if any
	Err       error // set when Outcome is OutcomeRejected
	Timestamp time.Time
}

// EventKind discriminates Event payloads.
type EventKind int

const (
	// EventTrade carries a fill.
	EventTrade EventKind = iota
	// EventAck carries a command acknowledgment.
	EventAck
)

// Event is one entry in the ordered result stream. The stream order matches
// command application order; a command's trades precede its ack.
type Event struct {
	Kind  EventKind
	Trade Trade // valid when Kind == EventTrade
	Ack   Ack   // valid when Kind == EventAck
}

// LevelView is an aggregate of one price level.
type LevelView struct {
	Price    Price
	Quantity int64
	Orders   int
}

// BookView summarizes top-of-book state at a consistent point in time.
type BookView struct {
	BestBid *LevelView
	BestAsk *LevelView
}

// DepthView lists aggregated levels best-first.
type DepthView struct {
	Bids []LevelView
	Asks []LevelView
}

// Config controls engine parameters. The zero value is usable: scale 0,
// no tick constraint, unbounded depth, default buffers.
type Config struct {
	// PriceScale is the canonical decimal scale of the book. Incoming limit
	// prices are rescaled to it; prices that do not fit are rejected.
	PriceScale uint8
	// TickSize, when positive, requires limit price mantissas (at
	// PriceScale) to be a multiple of it.
	TickSize int64
	// MaxDepth, when positive, caps resting orders per side; the worst
	// priced, youngest order past the cap is evicted.
	MaxDepth int
	// CommandBuffer is the bounded command queue length.
	CommandBuffer int
	// EventBuffer is the result stream buffer; events past it are dropped
	// and counted rather than stalling the match loop.
	EventBuffer int
	// UpdateBuffer is the top-of-book stream buffer.
	UpdateBuffer int
	// Inline applies commands in the caller goroutine instead of the worker
	// loop. Single-producer only; used by benchmarks and the load generator.
	Inline bool
	// Logger receives engine diagnostics. Defaults to a nop logger.
	Logger *zap.Logger
}
