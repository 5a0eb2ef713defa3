package feed

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchbook/engine"
)

type captureWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	gate     chan struct{} // when set, the first write blocks until it closes
	started  chan struct{}
	closed   bool
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.started != nil {
		close(w.started)
		w.started = nil
	}
	if w.gate != nil {
		<-w.gate
		w.gate = nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *captureWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *captureWriter) captured() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.messages...)
}

func TestPublisherEncodesEvents(t *testing.T) {
	w := &captureWriter{}
	p := newPublisher(w, Config{Topic: "matchbook.events"}, nil)

	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	p.Publish(engine.Event{Kind: engine.EventTrade, Trade: engine.Trade{
		Sequence:    7,
		Price:       engine.MustPrice(10125, 2),
		Quantity:    4,
		BuyOrderID:  11,
		SellOrderID: 12,
		Timestamp:   at,
	}})
	p.Publish(engine.Event{Kind: engine.EventAck, Ack: engine.Ack{
		OrderID:   11,
		Outcome:   engine.OutcomeFilled,
		Filled:    4,
		Timestamp: at,
	}})
	require.NoError(t, p.Close())

	msgs := w.captured()
	require.Len(t, msgs, 2)
	assert.True(t, w.closed)

	var trade tradeMessage
	require.NoError(t, json.Unmarshal(msgs[0].Value, &trade))
	assert.Equal(t, "trade", trade.Type)
	assert.Equal(t, "101.25", trade.Price)
	assert.Equal(t, int64(4), trade.Quantity)
	assert.Equal(t, uint64(11), trade.BuyOrderID)
	assert.Equal(t, []byte("7"), msgs[0].Key)

	var ack ackMessage
	require.NoError(t, json.Unmarshal(msgs[1].Value, &ack))
	assert.Equal(t, "ack", ack.Type)
	assert.Equal(t, "filled", ack.Outcome)
	assert.Empty(t, ack.Error)
	assert.Equal(t, []byte("11"), msgs[1].Key)
}

func TestPublisherRejectionCarriesError(t *testing.T) {
	w := &captureWriter{}
	p := newPublisher(w, Config{}, nil)

	p.Publish(engine.Event{Kind: engine.EventAck, Ack: engine.Ack{
		OrderID: 3,
		Outcome: engine.OutcomeRejectedNoLiquidity,
		Err:     engine.ErrNoLiquidity,
	}})
	require.NoError(t, p.Close())

	msgs := w.captured()
	require.Len(t, msgs, 1)
	var ack ackMessage
	require.NoError(t, json.Unmarshal(msgs[0].Value, &ack))
	assert.Equal(t, "rejected_no_liquidity", ack.Outcome)
	assert.NotEmpty(t, ack.Error)
}

func TestPublisherDropsWhenSaturated(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{})
	w := &captureWriter{gate: gate, started: started}
	p := newPublisher(w, Config{Buffer: 1}, nil)

	ev := engine.Event{Kind: engine.EventAck, Ack: engine.Ack{OrderID: 1, Outcome: engine.OutcomeRested}}

	p.Publish(ev)
	<-started // worker is now blocked inside the first write
	p.Publish(ev)
	p.Publish(ev) // buffer full, dropped

	close(gate)
	require.NoError(t, p.Close())
	assert.Len(t, w.captured(), 2)
}

func TestPublisherCloseIdempotent(t *testing.T) {
	w := &captureWriter{}
	p := newPublisher(w, Config{}, nil)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
}

func TestPublishAfterCloseCountsDrop(t *testing.T) {
	w := &captureWriter{}
	p := newPublisher(w, Config{}, nil)
	require.NoError(t, p.Close())

	before := testutil.ToFloat64(droppedTotal)
	p.Publish(engine.Event{Kind: engine.EventAck, Ack: engine.Ack{OrderID: 1}})
	assert.Equal(t, before+1, testutil.ToFloat64(droppedTotal))
	assert.Empty(t, w.captured())
}

func TestPublisherCloseRacesPublish(t *testing.T) {
	// late publishers must observe the closed flag, never the closed channel
	ev := engine.Event{Kind: engine.EventAck, Ack: engine.Ack{OrderID: 1, Outcome: engine.OutcomeRested}}
	for i := 0; i < 200; i++ {
		p := newPublisher(&captureWriter{}, Config{Buffer: 4}, nil)
		var wg sync.WaitGroup
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 8; j++ {
					p.Publish(ev)
				}
			}()
		}
		require.NoError(t, p.Close())
		wg.Wait()
	}
}
