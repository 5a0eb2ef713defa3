package bots

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"matchbook/engine"
)

const saturationBackoff = time.Millisecond

// ThrottledClient wraps the engine with rate limiting, retry on a saturated
// command queue, and ownership bookkeeping shared by all bots of one session.
type ThrottledClient struct {
	eng        *engine.Engine
	log        *zap.Logger
	session    string
	priceScale uint8
	tickSize   int64
	throttle   <-chan time.Time
	orderSeq   atomic.Uint64

	mu    sync.Mutex
	owned map[uint64]struct{}
}

// NewThrottledClient wraps an engine with basic rate limiting and bookkeeping.
func NewThrottledClient(eng *engine.Engine, priceScale uint8, tickSize int64, throttle <-chan time.Time, log *zap.Logger) *ThrottledClient {
	if log == nil {
		log = zap.NewNop()
	}
	session := uuid.NewString()
	return &ThrottledClient{
		eng:        eng,
		log:        log.With(zap.String("session", session)),
		session:    session,
		priceScale: priceScale,
		tickSize:   tickSize,
		throttle:   throttle,
		owned:      make(map[uint64]struct{}),
	}
}

func (c *ThrottledClient) waitThrottle(ctx context.Context) error {
	if c.throttle == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.throttle:
		return nil
	}
}

func (c *ThrottledClient) SubmitOrder(ctx context.Context, order engine.Order) error {
	if err := c.waitThrottle(ctx); err != nil {
		return err
	}
	if err := c.retrySaturated(ctx, func() error { return c.eng.Submit(order) }); err != nil {
		return err
	}
	c.mu.Lock()
	c.owned[order.ID] = struct{}{}
	c.mu.Unlock()
	return nil
}

func (c *ThrottledClient) CancelOrder(ctx context.Context, orderID uint64) error {
	return c.retrySaturated(ctx, func() error { return c.eng.Cancel(orderID) })
}

// retrySaturated keeps re-enqueueing while the command queue is full, backing
// off briefly so the loop can drain.
func (c *ThrottledClient) retrySaturated(ctx context.Context, fn func() error) error {
	for {
		err := fn()
		if !errors.Is(err, engine.ErrChannelSaturated) {
			return err
		}
		c.log.Debug("command queue saturated, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(saturationBackoff):
		}
	}
}

func (c *ThrottledClient) Snapshot(ctx context.Context) (engine.BookView, error) {
	type result struct {
		view engine.BookView
		err  error
	}
	done := make(chan result, 1)
	go func() {
		view, err := c.eng.Snapshot()
		done <- result{view: view, err: err}
	}()

	select {
	case <-ctx.Done():
		return engine.BookView{}, ctx.Err()
	case res := <-done:
		return res.view, res.err
	}
}

func (c *ThrottledClient) Events() <-chan engine.Event {
	return c.eng.Events()
}

func (c *ThrottledClient) PriceScale() uint8 {
	return c.priceScale
}

func (c *ThrottledClient) TickSize() int64 {
	return c.tickSize
}

func (c *ThrottledClient) NextID() uint64 {
	return c.orderSeq.Add(1)
}

func (c *ThrottledClient) OwnsOrder(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.owned[id]
	return ok
}
