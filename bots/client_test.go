package bots

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"matchbook/engine"
)

func newClientWithEngine(t *testing.T, throttle <-chan time.Time) *ThrottledClient {
	t.Helper()
	eng := engine.NewEngine(engine.Config{PriceScale: 2, Inline: true})
	t.Cleanup(eng.Close)
	return NewThrottledClient(eng, 2, 1, throttle, nil)
}

func TestThrottledClientOwnership(t *testing.T) {
	client := newClientWithEngine(t, nil)
	ctx := context.Background()

	id := client.NextID()
	assert.Equal(t, id+1, client.NextID())

	order := engine.Order{ID: id, Side: engine.Buy, Type: engine.Limit, Price: engine.MustPrice(10000, 2), Quantity: 3}
	require.NoError(t, client.SubmitOrder(ctx, order))
	assert.True(t, client.OwnsOrder(id))
	assert.False(t, client.OwnsOrder(id+99))

	view, err := client.Snapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, view.BestBid)
	assert.Equal(t, int64(10000), view.BestBid.Price.Mantissa())

	require.NoError(t, client.CancelOrder(ctx, id))
	view, err = client.Snapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, view.BestBid)
}

func TestThrottledClientRespectsContext(t *testing.T) {
	throttle := make(chan time.Time)
	client := newClientWithEngine(t, throttle)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	order := engine.Order{ID: 1, Side: engine.Buy, Type: engine.Limit, Price: engine.MustPrice(10000, 2), Quantity: 1}
	assert.ErrorIs(t, client.SubmitOrder(ctx, order), context.Canceled)
	assert.False(t, client.OwnsOrder(1))
}

func TestPnlTracker(t *testing.T) {
	client := newClientWithEngine(t, nil)
	require.NoError(t, client.SubmitOrder(context.Background(), engine.Order{
		ID: 1, Side: engine.Buy, Type: engine.Limit, Price: engine.MustPrice(10000, 2), Quantity: 1,
	}))

	pnl := &pnlTracker{log: zap.NewNop()}
	pnl.Record(engine.Trade{Price: engine.MustPrice(10000, 2), Quantity: 2, BuyOrderID: 1, SellOrderID: 50}, client)
	pos, cash := pnl.Snapshot()
	assert.Equal(t, int64(2), pos)
	assert.Equal(t, int64(-20000), cash)

	pnl.Record(engine.Trade{Price: engine.MustPrice(10100, 2), Quantity: 1, BuyOrderID: 60, SellOrderID: 1}, client)
	pos, cash = pnl.Snapshot()
	assert.Equal(t, int64(1), pos)
	assert.Equal(t, int64(-9900), cash)

	// trades between strangers do not move the pnl
	pnl.Record(engine.Trade{Price: engine.MustPrice(10000, 2), Quantity: 5, BuyOrderID: 70, SellOrderID: 80}, client)
	pos, cash = pnl.Snapshot()
	assert.Equal(t, int64(1), pos)
	assert.Equal(t, int64(-9900), cash)

	// a notional that cannot be represented is skipped, not wrapped around
	pnl.Record(engine.Trade{Price: engine.MustPrice(math.MaxInt64, 0), Quantity: 2, BuyOrderID: 1, SellOrderID: 50}, client)
	pos, cash = pnl.Snapshot()
	assert.Equal(t, int64(1), pos)
	assert.Equal(t, int64(-9900), cash)
}

func TestMidPriceFallbacks(t *testing.T) {
	bid := engine.LevelView{Price: engine.MustPrice(100, 0)}
	ask := engine.LevelView{Price: engine.MustPrice(110, 0)}

	assert.Equal(t, int64(105), midPrice(engine.BookView{BestBid: &bid, BestAsk: &ask}))
	assert.Equal(t, int64(100), midPrice(engine.BookView{BestBid: &bid}))
	assert.Equal(t, int64(110), midPrice(engine.BookView{BestAsk: &ask}))
	assert.Equal(t, int64(0), midPrice(engine.BookView{}))
}

func TestSnapTick(t *testing.T) {
	assert.Equal(t, int64(100), snapTick(104, 5))
	assert.Equal(t, int64(105), snapTick(105, 5))
	assert.Equal(t, int64(7), snapTick(7, 0))
}
