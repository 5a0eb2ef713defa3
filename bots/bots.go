package bots

import (
	"context"

	"matchbook/engine"
)

// Bot represents a trading agent that can be run under a supervisor.
type Bot interface {
	Start(ctx context.Context, client EngineClient)
}

// EngineClient abstracts the minimal surface bots need from the matching engine.
type EngineClient interface {
	SubmitOrder(ctx context.Context, order engine.Order) error
	CancelOrder(ctx context.Context, orderID uint64) error
	Snapshot(ctx context.Context) (engine.BookView, error)
	Events() <-chan engine.Event
	PriceScale() uint8
	TickSize() int64
	NextID() uint64
	OwnsOrder(id uint64) bool
}
