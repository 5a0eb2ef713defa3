package engine

import (
	"math/rand"
	"testing"
)

func randomOrders(n int, seed int64) []Order {
	rng := rand.New(rand.NewSource(seed))
	orders := make([]Order, n)
	for i := range orders {
		o := Order{
			ID:       uint64(i + 1),
			Side:     Side(rng.Intn(2)),
			Quantity: int64(rng.Intn(100) + 1),
		}
		if rng.Intn(10) == 0 {
			o.Type = Market
		} else {
			o.Type = Limit
			o.Price = MustPrice(int64(9500+rng.Intn(1000)), 2)
		}
		orders[i] = o
	}
	return orders
}

func BenchmarkInlineMatchThroughput(b *testing.B) {
	orders := randomOrders(b.N, 42)
	e := NewEngine(Config{Inline: true, PriceScale: 2, EventBuffer: 256, UpdateBuffer: 1})

	b.ResetTimer()
	var trades int64
	for i := 0; i < b.N; i++ {
		if err := e.Submit(orders[i]); err != nil {
			b.Fatal(err)
		}
		for {
			select {
			case ev := <-e.events:
				if ev.Kind == EventTrade {
					trades++
				}
				continue
			case <-e.updates:
				continue
			default:
			}
			break
		}
	}
	b.StopTimer()
	e.Close()
	b.ReportMetric(float64(trades)/b.Elapsed().Seconds(), "trades/sec")
}

func BenchmarkEngineLoopThroughput(b *testing.B) {
	orders := randomOrders(b.N, 42)
	e := NewEngine(Config{PriceScale: 2, CommandBuffer: 1 << 12, EventBuffer: 1 << 14})

	tradesDone := make(chan int64)
	go func() {
		var trades int64
		for ev := range e.Events() {
			if ev.Kind == EventTrade {
				trades++
			}
		}
		tradesDone <- trades
	}()
	go func() {
		for range e.BookUpdates() {
		}
	}()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for e.Submit(orders[i]) != nil {
			// saturated queue: spin until the loop catches up
		}
	}
	e.Close()
	trades := <-tradesDone
	b.StopTimer()
	b.ReportMetric(float64(trades)/b.Elapsed().Seconds(), "trades/sec")
}

func BenchmarkCancelHeavyWorkload(b *testing.B) {
	e := NewEngine(Config{Inline: true, PriceScale: 2, EventBuffer: 256, UpdateBuffer: 1})
	rng := rand.New(rand.NewSource(7))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id := uint64(i + 1)
		o := Order{
			ID:       id,
			Side:     Side(rng.Intn(2)),
			Type:     Limit,
			Price:    MustPrice(int64(9500+rng.Intn(1000)), 2),
			Quantity: int64(rng.Intn(100) + 1),
		}
		if err := e.Submit(o); err != nil {
			b.Fatal(err)
		}
		if i%2 == 1 {
			if err := e.Cancel(id - 1); err != nil {
				b.Fatal(err)
			}
		}
		pendingEvents(e)
		drainUpdates(e)
	}
	b.StopTimer()
	e.Close()
}
