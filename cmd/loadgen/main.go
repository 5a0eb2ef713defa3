package main

import (
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"runtime/pprof"
	"sync/atomic"
	"time"

	"matchbook/engine"
)

func main() {
	totalOrders := flag.Int("orders", 500000, "number of orders to submit")
	priceLevels := flag.Int64("price-levels", 200, "unique price levels around the mid")
	scale := flag.Uint("scale", 2, "decimal scale of the book")
	tick := flag.Int64("tick", 1, "tick size in mantissa units")
	basePrice := flag.Int64("base-price", 10000, "mid price mantissa used for randomization")
	maxDepth := flag.Int("max-depth", 2048, "maximum resting depth per side")
	cancelEvery := flag.Int("cancel-every", 0, "cancel a random earlier order every N submissions")
	inline := flag.Bool("inline", true, "process orders in the caller goroutine instead of over channels")
	cmdBuffer := flag.Int("command-buffer", 2048, "command queue length for async mode")
	seed := flag.Int64("seed", time.Now().UnixNano(), "seed for deterministic random streams")
	cpuProfile := flag.String("cpuprofile", "", "write cpu profile to file")
	memProfile := flag.String("memprofile", "", "write heap profile to file")
	marketRatio := flag.Int("market-ratio", 5, "1 in N orders will be market instead of limit")
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			panic(err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			panic(err)
		}
		defer pprof.StopCPUProfile()
	}

	cfg := engine.Config{
		PriceScale:    uint8(*scale),
		TickSize:      *tick,
		MaxDepth:      *maxDepth,
		CommandBuffer: *cmdBuffer,
		EventBuffer:   1 << 16,
		Inline:        *inline,
	}
	eng := engine.NewEngine(cfg)

	var trades, acks, saturated int64
	eventsDone := make(chan struct{})
	go func() {
		for ev := range eng.Events() {
			switch ev.Kind {
			case engine.EventTrade:
				atomic.AddInt64(&trades, 1)
			case engine.EventAck:
				atomic.AddInt64(&acks, 1)
			}
		}
		close(eventsDone)
	}()
	go func() {
		for range eng.BookUpdates() {
		}
	}()

	start := time.Now()
	for i := 0; i < *totalOrders; i++ {
		order := nextRandomOrder(rng, uint64(i+1), uint8(*scale), *basePrice, *priceLevels, *tick, *marketRatio)
		for {
			err := eng.Submit(order)
			if err == nil {
				break
			}
			if errors.Is(err, engine.ErrChannelSaturated) {
				saturated++
				continue
			}
			fmt.Fprintf(os.Stderr, "submit failed: %v\n", err)
			break
		}
		if *cancelEvery > 0 && i > 0 && i%*cancelEvery == 0 {
			target := uint64(rng.Intn(i) + 1)
			for errors.Is(eng.Cancel(target), engine.ErrChannelSaturated) {
				saturated++
			}
		}
	}
	elapsed := time.Since(start)

	eng.Close()
	<-eventsDone

	if *memProfile != "" {
		f, err := os.Create(*memProfile)
		if err == nil {
			defer f.Close()
			_ = pprof.WriteHeapProfile(f)
		}
	}

	ordersPerSec := float64(*totalOrders) / elapsed.Seconds()
	tradesPerSec := float64(trades) / elapsed.Seconds()

	fmt.Printf("submitted %d orders in %s (%.0f orders/s)\n", *totalOrders, elapsed.Truncate(time.Millisecond), ordersPerSec)
	fmt.Printf("matched %d trades (%.0f trades/s), %d acks, %d saturation retries\n", trades, tradesPerSec, acks, saturated)
	fmt.Printf("config: inline=%t scale=%d depth=%d command-buffer=%d market-ratio=1/%d\n", *inline, *scale, *maxDepth, *cmdBuffer, *marketRatio)
}

func nextRandomOrder(rng *rand.Rand, id uint64, scale uint8, mid, width, tick int64, marketRatio int) engine.Order {
	side := engine.Side(rng.Intn(2))
	var price int64
	if side == engine.Buy {
		price = mid + rng.Int63n(width)*tick
	} else {
		offset := rng.Int63n(width) * tick
		if mid > offset {
			price = mid - offset
		} else {
			price = tick
		}
	}

	otype := engine.Limit
	if marketRatio > 0 && rng.Intn(marketRatio) == 0 {
		otype = engine.Market
	}

	order := engine.Order{
		ID:       id,
		Side:     side,
		Type:     otype,
		Quantity: rng.Int63n(5) + 1,
	}
	if otype == engine.Limit {
		order.Price = engine.MustPrice(price, scale)
	}
	return order
}
