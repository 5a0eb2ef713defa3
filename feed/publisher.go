// Package feed streams engine results to Kafka for downstream consumers
// (settlement, market data, analytics). Publishing is decoupled from the
// match loop: Publish is a non-blocking enqueue and a dedicated worker does
// the broker writes, so a slow or unreachable broker never stalls matching.
package feed

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"matchbook/engine"
)

var (
	publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchbook_feed_published_total",
		Help: "Events written to the feed topic, by kind",
	}, []string{"kind"})

	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchbook_feed_dropped_total",
		Help: "Events dropped because the feed buffer was full",
	})

	errorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchbook_feed_errors_total",
		Help: "Failed writes to the feed topic",
	})
)

const (
	defaultBuffer       = 4096
	defaultBatchTimeout = 10 * time.Millisecond
)

// Config selects the brokers and topic for the event feed.
type Config struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	Buffer       int
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher forwards engine events to a Kafka topic.
type Publisher struct {
	w    messageWriter
	log  *zap.Logger
	in   chan engine.Event
	done chan struct{}

	// mu orders Publish sends against Close: a send only happens under the
	// read lock, and the channel only closes under the write lock.
	mu     sync.RWMutex
	closed bool
}

// New connects a publisher to the configured brokers. The writer batches
// briefly and requires acknowledgment from all in-sync replicas.
func New(cfg Config, log *zap.Logger) *Publisher {
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaultBatchTimeout
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: cfg.BatchTimeout,
	}
	return newPublisher(w, cfg, log)
}

func newPublisher(w messageWriter, cfg Config, log *zap.Logger) *Publisher {
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &Publisher{
		w:    w,
		log:  log,
		in:   make(chan engine.Event, cfg.Buffer),
		done: make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish enqueues one event for delivery. It never blocks; events past the
// buffer, or arriving after Close, are dropped and counted.
func (p *Publisher) Publish(ev engine.Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		droppedTotal.Inc()
		return
	}
	select {
	case p.in <- ev:
	default:
		droppedTotal.Inc()
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for ev := range p.in {
		msg, kind, err := encode(ev)
		if err != nil {
			p.log.Error("feed encode failed", zap.Error(err))
			errorsTotal.Inc()
			continue
		}
		if err := p.w.WriteMessages(context.Background(), msg); err != nil {
			p.log.Warn("feed write failed", zap.Error(err))
			errorsTotal.Inc()
			continue
		}
		publishedTotal.WithLabelValues(kind).Inc()
	}
}

// Close flushes buffered events and releases the writer.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.in)
	p.mu.Unlock()
	<-p.done
	return p.w.Close()
}

type tradeMessage struct {
	Type        string    `json:"type"`
	Sequence    uint64    `json:"sequence"`
	Price       string    `json:"price"`
	Quantity    int64     `json:"quantity"`
	BuyOrderID  uint64    `json:"buy_order_id"`
	SellOrderID uint64    `json:"sell_order_id"`
	Timestamp   time.Time `json:"timestamp"`
}

type ackMessage struct {
	Type      string    `json:"type"`
	OrderID   uint64    `json:"order_id"`
	Outcome   string    `json:"outcome"`
	Filled    int64     `json:"filled"`
	Resting   int64     `json:"resting"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func encode(ev engine.Event) (kafka.Message, string, error) {
	switch ev.Kind {
	case engine.EventTrade:
		tr := ev.Trade
		body, err := json.Marshal(tradeMessage{
			Type:        "trade",
			Sequence:    tr.Sequence,
			Price:       tr.Price.String(),
			Quantity:    tr.Quantity,
			BuyOrderID:  tr.BuyOrderID,
			SellOrderID: tr.SellOrderID,
			Timestamp:   tr.Timestamp,
		})
		if err != nil {
			return kafka.Message{}, "", err
		}
		return kafka.Message{
			Key:   []byte(strconv.FormatUint(tr.Sequence, 10)),
			Value: body,
		}, "trade", nil
	default:
		a := ev.Ack
		m := ackMessage{
			Type:      "ack",
			OrderID:   a.OrderID,
			Outcome:   a.Outcome.String(),
			Filled:    a.Filled,
			Resting:   a.Resting,
			Timestamp: a.Timestamp,
		}
		if a.Err != nil {
			m.Error = a.Err.Error()
		}
		body, err := json.Marshal(m)
		if err != nil {
			return kafka.Message{}, "", err
		}
		return kafka.Message{
			Key:   []byte(strconv.FormatUint(a.OrderID, 10)),
			Value: body,
		}, "ack", nil
	}
}
