package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restingOrder(id uint64, side Side, mantissa, qty int64) *Order {
	return &Order{
		ID:        id,
		Side:      side,
		Type:      Limit,
		Price:     MustPrice(mantissa, 0),
		Quantity:  qty,
		Remaining: qty,
		Sequence:  id,
	}
}

func TestBookBestFirstOrdering(t *testing.T) {
	b := newBook()
	b.insert(restingOrder(1, Buy, 100, 1))
	b.insert(restingOrder(2, Buy, 105, 1))
	b.insert(restingOrder(3, Buy, 95, 1))
	b.insert(restingOrder(4, Sell, 120, 1))
	b.insert(restingOrder(5, Sell, 110, 1))
	b.insert(restingOrder(6, Sell, 130, 1))

	assert.Equal(t, int64(105), b.best(Buy).price.Mantissa())
	assert.Equal(t, int64(110), b.best(Sell).price.Mantissa())

	// removing the best exposes the next best on each side
	_, err := b.remove(2)
	require.NoError(t, err)
	_, err = b.remove(5)
	require.NoError(t, err)
	assert.Equal(t, int64(100), b.best(Buy).price.Mantissa())
	assert.Equal(t, int64(120), b.best(Sell).price.Mantissa())
}

func TestBookLevelFIFO(t *testing.T) {
	b := newBook()
	b.insert(restingOrder(1, Sell, 100, 5))
	b.insert(restingOrder(2, Sell, 100, 7))
	b.insert(restingOrder(3, Sell, 100, 9))

	lvl := b.best(Sell)
	assert.Equal(t, 3, lvl.count)
	assert.Equal(t, int64(21), lvl.totalQty)
	assert.Equal(t, uint64(1), b.peekFront(Sell, MustPrice(100, 0)).ID)

	// removing the middle order keeps arrival order for the rest
	_, err := b.remove(2)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), lvl.head.ID)
	assert.Equal(t, uint64(3), lvl.tail.ID)
	assert.Equal(t, int64(14), lvl.totalQty)

	_, err = b.remove(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), b.peekFront(Sell, MustPrice(100, 0)).ID)
}

func TestBookRemove(t *testing.T) {
	b := newBook()
	b.insert(restingOrder(7, Buy, 50, 4))

	o, err := b.remove(7)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), o.ID)
	assert.Nil(t, b.best(Buy), "empty level must be dropped")
	assert.False(t, b.contains(7))
	assert.Equal(t, 0, b.sideOrders(Buy))

	_, err = b.remove(7)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBookReduceQuantity(t *testing.T) {
	b := newBook()
	b.insert(restingOrder(1, Sell, 100, 10))

	o, err := b.reduceQuantity(1, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(6), o.Remaining)
	assert.Equal(t, int64(6), b.best(Sell).totalQty)

	_, err = b.reduceQuantity(1, 7)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = b.reduceQuantity(1, 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = b.reduceQuantity(99, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	// reducing to zero removes the order entirely
	_, err = b.reduceQuantity(1, 6)
	require.NoError(t, err)
	assert.False(t, b.contains(1))
	assert.Nil(t, b.best(Sell))
}

func TestBookDepth(t *testing.T) {
	b := newBook()
	b.insert(restingOrder(1, Buy, 100, 5))
	b.insert(restingOrder(2, Buy, 100, 3))
	b.insert(restingOrder(3, Buy, 99, 2))
	b.insert(restingOrder(4, Buy, 98, 1))
	b.insert(restingOrder(5, Sell, 101, 4))

	d := b.depth(2)
	require.Len(t, d.Bids, 2)
	require.Len(t, d.Asks, 1)
	assert.Equal(t, int64(100), d.Bids[0].Price.Mantissa())
	assert.Equal(t, int64(8), d.Bids[0].Quantity)
	assert.Equal(t, 2, d.Bids[0].Orders)
	assert.Equal(t, int64(99), d.Bids[1].Price.Mantissa())

	all := b.depth(0)
	assert.Len(t, all.Bids, 3)
}

func TestBookEvictWorst(t *testing.T) {
	b := newBook()
	b.insert(restingOrder(1, Buy, 100, 1))
	b.insert(restingOrder(2, Buy, 98, 1))
	b.insert(restingOrder(3, Buy, 98, 1))

	// worst price is 98; within it the youngest arrival goes first
	o := b.evictWorst(Buy)
	require.NotNil(t, o)
	assert.Equal(t, uint64(3), o.ID)

	o = b.evictWorst(Buy)
	assert.Equal(t, uint64(2), o.ID)
	o = b.evictWorst(Buy)
	assert.Equal(t, uint64(1), o.ID)
	assert.Nil(t, b.evictWorst(Buy))
}

func TestBookCrossed(t *testing.T) {
	b := newBook()
	assert.False(t, b.crossed())

	b.insert(restingOrder(1, Buy, 100, 1))
	assert.False(t, b.crossed())

	b.insert(restingOrder(2, Sell, 101, 1))
	assert.False(t, b.crossed())

	b.insert(restingOrder(3, Sell, 100, 1))
	assert.True(t, b.crossed())
}
