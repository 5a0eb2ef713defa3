package engine

import (
	"fmt"
	"sort"
)

// priceLevel groups all resting orders at one exact price as a FIFO of
// arrival sequence. Orders link intrusively so cancel is O(1) once located.
type priceLevel struct {
	price    Price
	head     *Order
	tail     *Order
	totalQty int64
	count    int
}

func (l *priceLevel) pushBack(o *Order) {
	o.prev, o.next = l.tail, nil
	if l.tail != nil {
		l.tail.next = o
	} else {
		l.head = o
	}
	l.tail = o
	l.totalQty += o.Remaining
	l.count++
	o.level = l
}

func (l *priceLevel) unlink(o *Order) {
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		l.head = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	} else {
		l.tail = o.prev
	}
	o.prev, o.next = nil, nil
	o.level = nil
	l.totalQty -= o.Remaining
	l.count--
}

func (l *priceLevel) empty() bool { return l.count == 0 }

func (l *priceLevel) view() LevelView {
	return LevelView{Price: l.price, Quantity: l.totalQty, Orders: l.count}
}

// book holds both sides of the order book. Levels are kept best-first in a
// sorted slice (bids by price descending, asks ascending), so best lookup is
// O(1) and locating a price is a binary search. All prices share the
// canonical scale, which makes ordering a plain mantissa comparison.
//
// The book performs no I/O and is not safe for concurrent use; the engine
// loop is its single owner.
type book struct {
	bids []*priceLevel
	asks []*priceLevel
	byID map[uint64]*Order

	bidOrders int
	askOrders int
}

func newBook() *book {
	return &book{
		bids: make([]*priceLevel, 0, 64),
		asks: make([]*priceLevel, 0, 64),
		byID: make(map[uint64]*Order, 1024),
	}
}

// search returns the slice position where a price either lives or belongs,
// preserving best-first order.
func (b *book) search(side Side, mantissa int64) int {
	if side == Buy {
		return sort.Search(len(b.bids), func(i int) bool { return b.bids[i].price.mantissa <= mantissa })
	}
	return sort.Search(len(b.asks), func(i int) bool { return b.asks[i].price.mantissa >= mantissa })
}

func (b *book) sideLevels(side Side) *[]*priceLevel {
	if side == Buy {
		return &b.bids
	}
	return &b.asks
}

// insert adds a resting order to its side, appending to the FIFO of an
// existing level or splicing in a new one. The order must be validated and
// carry a canonical-scale price and a unique ID.
func (b *book) insert(o *Order) {
	levels := b.sideLevels(o.Side)
	idx := b.search(o.Side, o.Price.mantissa)
	if idx < len(*levels) && (*levels)[idx].price.mantissa == o.Price.mantissa {
		(*levels)[idx].pushBack(o)
	} else {
		lvl := &priceLevel{price: o.Price}
		lvl.pushBack(o)
		*levels = append(*levels, nil)
		copy((*levels)[idx+1:], (*levels)[idx:])
		(*levels)[idx] = lvl
	}
	b.byID[o.ID] = o
	if o.Side == Buy {
		b.bidOrders++
	} else {
		b.askOrders++
	}
}

// best returns the best price level for a side, or nil when empty.
func (b *book) best(side Side) *priceLevel {
	levels := *b.sideLevels(side)
	if len(levels) == 0 {
		return nil
	}
	return levels[0]
}

func (b *book) contains(id uint64) bool {
	_, ok := b.byID[id]
	return ok
}

// peekFront returns the earliest resting order at an exact price, or nil.
func (b *book) peekFront(side Side, price Price) *Order {
	levels := *b.sideLevels(side)
	idx := b.search(side, price.mantissa)
	if idx < len(levels) && levels[idx].price.mantissa == price.mantissa {
		return levels[idx].head
	}
	return nil
}

// remove detaches a resting order by id, dropping its level if it empties.
func (b *book) remove(id uint64) (*Order, error) {
	o, ok := b.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	b.detach(o)
	return o, nil
}

func (b *book) detach(o *Order) {
	lvl := o.level
	lvl.unlink(o)
	if lvl.empty() {
		levels := b.sideLevels(o.Side)
		idx := b.search(o.Side, lvl.price.mantissa)
		// idx must point at lvl; empty levels are removed eagerly
		*levels = append((*levels)[:idx], (*levels)[idx+1:]...)
	}
	delete(b.byID, o.ID)
	if o.Side == Buy {
		b.bidOrders--
	} else {
		b.askOrders--
	}
}

// reduceQuantity decrements a resting order's remaining quantity, removing
// the order when it reaches zero. An order with zero remaining is never
// retained.
func (b *book) reduceQuantity(id uint64, amount int64) (*Order, error) {
	o, ok := b.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if amount <= 0 || amount > o.Remaining {
		return nil, fmt.Errorf("%w: reduce %d of %d remaining", ErrInvalidQuantity, amount, o.Remaining)
	}
	o.Remaining -= amount
	o.level.totalQty -= amount
	if o.Remaining == 0 {
		b.detach(o)
	}
	return o, nil
}

// sideOrders reports resting orders on a side.
func (b *book) sideOrders(side Side) int {
	if side == Buy {
		return b.bidOrders
	}
	return b.askOrders
}

// evictWorst removes and returns the youngest order at the worst price on a
// side, or nil when the side is empty. Used by the depth cap.
func (b *book) evictWorst(side Side) *Order {
	levels := *b.sideLevels(side)
	if len(levels) == 0 {
		return nil
	}
	o := levels[len(levels)-1].tail
	b.detach(o)
	return o
}

// crossed reports the fatal invariant violation: best bid at or above best
// ask while both sides are non-empty.
func (b *book) crossed() bool {
	if len(b.bids) == 0 || len(b.asks) == 0 {
		return false
	}
	return b.bids[0].price.mantissa >= b.asks[0].price.mantissa
}

func (b *book) view() BookView {
	var v BookView
	if lvl := b.best(Buy); lvl != nil {
		lv := lvl.view()
		v.BestBid = &lv
	}
	if lvl := b.best(Sell); lvl != nil {
		lv := lvl.view()
		v.BestAsk = &lv
	}
	return v
}

// depth aggregates up to maxLevels best-first levels per side; maxLevels <= 0
// means all.
func (b *book) depth(maxLevels int) DepthView {
	take := func(levels []*priceLevel) []LevelView {
		n := len(levels)
		if maxLevels > 0 && maxLevels < n {
			n = maxLevels
		}
		out := make([]LevelView, 0, n)
		for _, lvl := range levels[:n] {
			out = append(out, lvl.view())
		}
		return out
	}
	return DepthView{Bids: take(b.bids), Asks: take(b.asks)}
}
