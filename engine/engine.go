package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultCommandBuffer = 1024
	defaultEventBuffer   = 4096
	defaultUpdateBuffer  = 16
)

type commandType int

const (
	cmdSubmit commandType = iota
	cmdCancel
	cmdSnapshot
	cmdDepth
	cmdStop
)

func (t commandType) String() string {
	switch t {
	case cmdSubmit:
		return "submit"
	case cmdCancel:
		return "cancel"
	case cmdSnapshot:
		return "snapshot"
	case cmdDepth:
		return "depth"
	default:
		return "stop"
	}
}

type command struct {
	typ       commandType
	order     Order
	orderID   uint64
	maxLevels int
	view      chan BookView
	depthView chan DepthView
}

// Engine owns a single instrument's order book. One worker goroutine applies
// commands strictly in arrival order from a bounded FIFO queue; results flow
// out on buffered channels that never stall matching. No other component may
// mutate the book.
type Engine struct {
	cfg  Config
	log  *zap.Logger
	book *book

	cmds    chan command
	events  chan Event
	updates chan BookView
	done    chan struct{}

	arrivalSeq uint64
	tradeSeq   uint64

	// closeMu orders producer sends against Close: every send into cmds
	// happens under the read lock, and Close flips closed under the write
	// lock, so no accepted command can land behind the stop marker.
	closeMu sync.RWMutex
	closed  atomic.Bool
	halted  atomic.Bool

	now func() time.Time
}

// NewEngine builds an engine and, unless cfg.Inline is set, launches its
// worker loop.
func NewEngine(cfg Config) *Engine {
	if cfg.CommandBuffer <= 0 {
		cfg.CommandBuffer = defaultCommandBuffer
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	if cfg.UpdateBuffer <= 0 {
		cfg.UpdateBuffer = defaultUpdateBuffer
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	e := &Engine{
		cfg:     cfg,
		log:     log,
		book:    newBook(),
		cmds:    make(chan command, cfg.CommandBuffer),
		events:  make(chan Event, cfg.EventBuffer),
		updates: make(chan BookView, cfg.UpdateBuffer),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	if !cfg.Inline {
		go e.run()
	}
	return e
}

// Submit enqueues a new order. It never blocks: a full command queue returns
// ErrChannelSaturated and the order is not accepted.
func (e *Engine) Submit(o Order) error {
	return e.enqueue(command{typ: cmdSubmit, order: o})
}

// Cancel enqueues a cancel for a resting order. It is ordered against
// concurrent submissions by queue arrival, not wall clock; losing the race
// against a fill yields a NotFound ack, which is a normal outcome.
func (e *Engine) Cancel(orderID uint64) error {
	return e.enqueue(command{typ: cmdCancel, orderID: orderID})
}

func (e *Engine) enqueue(cmd command) error {
	e.closeMu.RLock()
	defer e.closeMu.RUnlock()
	if e.closed.Load() {
		return ErrEngineClosed
	}
	if e.cfg.Inline {
		e.apply(cmd)
		return nil
	}
	select {
	case e.cmds <- cmd:
		return nil
	default:
		commandsSaturatedTotal.Inc()
		return ErrChannelSaturated
	}
}

// Events exposes the ordered result stream: per command, trades first, then
// exactly one ack. The channel closes after Close has drained all accepted
// commands.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// BookUpdates exposes the top-of-book stream published after each mutating
// command.
func (e *Engine) BookUpdates() <-chan BookView {
	return e.updates
}

// Snapshot returns a consistent point-in-time view of the best bid and ask,
// served through the command loop.
func (e *Engine) Snapshot() (BookView, error) {
	cmd := command{typ: cmdSnapshot, view: make(chan BookView, 1)}
	if err := e.query(cmd); err != nil {
		return BookView{}, err
	}
	select {
	case v := <-cmd.view:
		return v, nil
	case <-e.done:
		// a query accepted before the stop marker was answered before done
		// closed; prefer its result over reporting closure
		select {
		case v := <-cmd.view:
			return v, nil
		default:
			return BookView{}, ErrEngineClosed
		}
	}
}

// Depth returns up to maxLevels aggregated price levels per side, best
// first; maxLevels <= 0 returns all levels.
func (e *Engine) Depth(maxLevels int) (DepthView, error) {
	cmd := command{typ: cmdDepth, maxLevels: maxLevels, depthView: make(chan DepthView, 1)}
	if err := e.query(cmd); err != nil {
		return DepthView{}, err
	}
	select {
	case v := <-cmd.depthView:
		return v, nil
	case <-e.done:
		select {
		case v := <-cmd.depthView:
			return v, nil
		default:
			return DepthView{}, ErrEngineClosed
		}
	}
}

func (e *Engine) query(cmd command) error {
	e.closeMu.RLock()
	defer e.closeMu.RUnlock()
	if e.closed.Load() {
		return ErrEngineClosed
	}
	if e.cfg.Inline {
		e.apply(cmd)
		return nil
	}
	select {
	case e.cmds <- cmd:
		return nil
	case <-e.done:
		return ErrEngineClosed
	}
}

// Halted reports whether intake stopped after a detected book invariant
// violation.
func (e *Engine) Halted() bool {
	return e.halted.Load()
}

// Close stops intake, finishes applying every already-accepted command, then
// closes the event and update streams. Safe to call more than once.
func (e *Engine) Close() {
	e.closeMu.Lock()
	if !e.closed.CompareAndSwap(false, true) {
		e.closeMu.Unlock()
		return
	}
	e.closeMu.Unlock()
	if e.cfg.Inline {
		e.shutdown()
		return
	}
	e.cmds <- command{typ: cmdStop}
	<-e.done
}

func (e *Engine) run() {
	for cmd := range e.cmds {
		if cmd.typ == cmdStop {
			e.shutdown()
			return
		}
		e.apply(cmd)
	}
}

// shutdown closes the outbound streams. Every accepted command has been
// applied by now: producers hold closeMu across their sends, so nothing can
// land behind the stop marker, and the queue is FIFO.
func (e *Engine) shutdown() {
	close(e.events)
	close(e.updates)
	close(e.done)
	e.log.Info("engine stopped",
		zap.Uint64("commands", e.arrivalSeq),
		zap.Uint64("trades", e.tradeSeq))
}

func (e *Engine) apply(cmd command) {
	switch cmd.typ {
	case cmdSubmit:
		start := time.Now()
		outcome := e.applySubmit(cmd.order)
		commandDuration.Observe(time.Since(start).Seconds())
		commandsTotal.WithLabelValues("submit", outcome.String()).Inc()
	case cmdCancel:
		outcome := e.applyCancel(cmd.orderID)
		commandsTotal.WithLabelValues("cancel", outcome.String()).Inc()
	case cmdSnapshot:
		cmd.view <- e.book.view()
	case cmdDepth:
		cmd.depthView <- e.book.depth(cmd.maxLevels)
	case cmdStop: // inline mode reaches here via Close
		e.shutdown()
	}
}

func (e *Engine) applySubmit(o Order) Outcome {
	if e.halted.Load() {
		return e.reject(o.ID, ErrBookCrossed)
	}
	if err := e.validate(&o); err != nil {
		return e.reject(o.ID, err)
	}

	e.arrivalSeq++
	o.Sequence = e.arrivalSeq
	o.Remaining = o.Quantity
	o.Timestamp = e.now()

	trades, ack := e.matchIncoming(&o)
	for _, tr := range trades {
		e.emit(Event{Kind: EventTrade, Trade: tr})
		tradesTotal.Inc()
		tradeQuantityTotal.Add(float64(tr.Quantity))
	}

	// Depth cap: evict the worst-priced, youngest resting order past the
	// limit. The eviction may hit the order that just rested.
	if e.cfg.MaxDepth > 0 && ack.Resting > 0 && e.book.sideOrders(o.Side) > e.cfg.MaxDepth {
		if evicted := e.book.evictWorst(o.Side); evicted != nil {
			if evicted.ID == o.ID {
				ack.Outcome = OutcomeEvicted
				ack.Resting = 0
			} else {
				e.emit(Event{Kind: EventAck, Ack: Ack{
					OrderID:   evicted.ID,
					Outcome:   OutcomeEvicted,
					Resting:   evicted.Remaining,
					Timestamp: e.now(),
				}})
			}
		}
	}

	e.emit(Event{Kind: EventAck, Ack: ack})
	e.publishUpdate()
	e.observeBookGauges()
	e.checkInvariants()
	return ack.Outcome
}

func (e *Engine) applyCancel(orderID uint64) Outcome {
	if e.halted.Load() {
		return e.reject(orderID, ErrBookCrossed)
	}
	ack := Ack{OrderID: orderID, Timestamp: e.now()}
	if o, err := e.book.remove(orderID); err != nil {
		ack.Outcome = OutcomeNotFound
		ack.Err = err
	} else {
		ack.Outcome = OutcomeCanceled
		ack.Resting = o.Remaining
	}
	e.emit(Event{Kind: EventAck, Ack: ack})
	e.publishUpdate()
	e.observeBookGauges()
	return ack.Outcome
}

// validate rejects malformed orders before any book mutation and normalizes
// limit prices to the canonical book scale.
func (e *Engine) validate(o *Order) error {
	if o.Quantity <= 0 {
		return fmt.Errorf("%w: quantity %d", ErrInvalidOrder, o.Quantity)
	}
	if e.book.contains(o.ID) {
		return fmt.Errorf("%w: duplicate id %d", ErrInvalidOrder, o.ID)
	}
	switch o.Type {
	case Limit:
		if !o.Price.IsPositive() {
			return fmt.Errorf("%w: limit order requires a positive price", ErrInvalidOrder)
		}
		p, err := o.Price.Rescale(e.cfg.PriceScale)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidOrder, err)
		}
		if e.cfg.TickSize > 0 && p.mantissa%e.cfg.TickSize != 0 {
			return fmt.Errorf("%w: price %s not aligned to tick size %d", ErrInvalidOrder, p, e.cfg.TickSize)
		}
		o.Price = p
	case Market:
		o.Price = Price{scale: e.cfg.PriceScale}
	default:
		return fmt.Errorf("%w: unknown order type %d", ErrInvalidOrder, o.Type)
	}
	return nil
}

func (e *Engine) reject(orderID uint64, err error) Outcome {
	e.emit(Event{Kind: EventAck, Ack: Ack{
		OrderID:   orderID,
		Outcome:   OutcomeRejected,
		Err:       err,
		Timestamp: e.now(),
	}})
	return OutcomeRejected
}

// emit delivers a result event without ever blocking the loop; a lagging
// consumer costs dropped events, counted per kind.
func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		if ev.Kind == EventTrade {
			eventsDroppedTotal.WithLabelValues("trade").Inc()
		} else {
			eventsDroppedTotal.WithLabelValues("ack").Inc()
		}
	}
}

func (e *Engine) publishUpdate() {
	select {
	case e.updates <- e.book.view():
	default:
		updatesDroppedTotal.Inc()
	}
}

// checkInvariants halts intake if the book ended a command crossed. This is
// unreachable through the public API and indicates internal corruption, so
// the book is frozen for diagnosis rather than matched further.
func (e *Engine) checkInvariants() {
	if !e.book.crossed() || e.halted.Load() {
		return
	}
	e.halted.Store(true)
	v := e.book.view()
	e.log.Error("crossed book detected, halting intake",
		zap.String("best_bid", v.BestBid.Price.String()),
		zap.String("best_ask", v.BestAsk.Price.String()))
}
