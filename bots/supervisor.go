package bots

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"matchbook/engine"
)

// Supervisor orchestrates multiple bots with a shared client and PnL tracking.
type Supervisor struct {
	bots     []Bot
	client   *ThrottledClient
	pnl      *pnlTracker
	throttle *time.Ticker
	log      *zap.Logger
}

// NewSupervisor builds a default swarm of bots and a throttled client.
func NewSupervisor(eng *engine.Engine, cfg engine.Config, orderInterval time.Duration, log *zap.Logger) *Supervisor {
	if log == nil {
		log = zap.NewNop()
	}
	throttle := time.NewTicker(orderInterval)
	client := NewThrottledClient(eng, cfg.PriceScale, cfg.TickSize, throttle.C, log)
	bots := []Bot{
		NewRandomBidBot(),
		NewRandomAskBot(),
		NewRandomBidBot(),
		NewRandomAskBot(),
		NewSpreadCaptureBot(),
	}
	return &Supervisor{
		bots:     bots,
		client:   client,
		pnl:      &pnlTracker{log: log},
		throttle: throttle,
		log:      log,
	}
}

// Start launches all bots and PnL monitoring until the context is canceled.
func (s *Supervisor) Start(ctx context.Context) {
	logTicker := time.NewTicker(2 * time.Second)
	defer logTicker.Stop()
	defer s.throttle.Stop()

	for _, bot := range s.bots {
		b := bot
		go b.Start(ctx, s.client)
	}

	go s.consumeEvents(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-logTicker.C:
			pos, cash := s.pnl.Snapshot()
			s.log.Info("pnl", zap.Int64("position", pos), zap.Int64("cash", cash))
		}
	}
}

func (s *Supervisor) consumeEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.client.Events():
			if !ok {
				return
			}
			if ev.Kind == engine.EventTrade {
				s.pnl.Record(ev.Trade, s.client)
			}
		}
	}
}

// pnlTracker accumulates position and cash in mantissa units at the book's
// canonical scale.
type pnlTracker struct {
	log      *zap.Logger
	mu       sync.Mutex
	position int64
	cash     int64
}

func (p *pnlTracker) Record(trade engine.Trade, client EngineClient) {
	p.mu.Lock()
	defer p.mu.Unlock()
	notional, err := trade.Price.MulInt(trade.Quantity)
	if err != nil {
		if p.log != nil {
			p.log.Warn("pnl skipped trade", zap.Uint64("sequence", trade.Sequence), zap.Error(err))
		}
		return
	}
	if client.OwnsOrder(trade.BuyOrderID) {
		p.position += trade.Quantity
		p.cash -= notional.Mantissa()
	}
	if client.OwnsOrder(trade.SellOrderID) {
		p.position -= trade.Quantity
		p.cash += notional.Mantissa()
	}
}

func (p *pnlTracker) Snapshot() (int64, int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position, p.cash
}

// RunExampleSupervisor demonstrates spinning up the supervisor with a fresh
// engine.
func RunExampleSupervisor() {
	log, _ := zap.NewDevelopment()
	defer log.Sync()

	cfg := engine.Config{PriceScale: 2, TickSize: 1, MaxDepth: 50}
	eng := engine.NewEngine(cfg)
	sup := NewSupervisor(eng, cfg, 50*time.Millisecond, log)

	// seed the book so the bots have a mid to quote around
	_ = eng.Submit(engine.Order{ID: ^uint64(0), Side: engine.Buy, Type: engine.Limit, Price: engine.MustPrice(9900, 2), Quantity: 10})
	_ = eng.Submit(engine.Order{ID: ^uint64(0) - 1, Side: engine.Sell, Type: engine.Limit, Price: engine.MustPrice(10100, 2), Quantity: 10})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sup.Start(ctx)
	eng.Close()

	pos, cash := sup.pnl.Snapshot()
	log.Info("final pnl", zap.Int64("position", pos), zap.Int64("cash", cash))
}
