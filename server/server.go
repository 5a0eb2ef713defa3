package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"matchbook/engine"
	"matchbook/feed"
)

type server struct {
	eng        *engine.Engine
	pub        *feed.Publisher
	log        *zap.Logger
	priceScale uint8

	tradeHub *hub[engine.Trade]
	ackHub   *hub[engine.Ack]
	bookHub  *hub[engine.BookView]

	// closed when consumeEvents has drained the engine's event stream;
	// the feed publisher must stay open until then
	eventsDone chan struct{}

	upgrader   websocket.Upgrader
	authToken  string
	corsOrigin string
}

type orderRequest struct {
	ID       uint64 `json:"id"`
	Side     string `json:"side"`
	Type     string `json:"type"`
	Price    string `json:"price,omitempty"`
	Quantity int64  `json:"quantity"`
}

type cancelRequest struct {
	OrderID uint64 `json:"order_id"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type publicLevel struct {
	Price    string `json:"price"`
	Quantity int64  `json:"quantity"`
	Orders   int    `json:"orders"`
}

type snapshotResponse struct {
	BestBid *publicLevel `json:"bestBid,omitempty"`
	BestAsk *publicLevel `json:"bestAsk,omitempty"`
}

type depthResponse struct {
	Bids []publicLevel `json:"bids"`
	Asks []publicLevel `json:"asks"`
}

type publicTrade struct {
	Sequence    uint64    `json:"sequence"`
	Price       string    `json:"price"`
	Quantity    int64     `json:"quantity"`
	BuyOrderID  uint64    `json:"buyOrderId"`
	SellOrderID uint64    `json:"sellOrderId"`
	ExecutedAt  time.Time `json:"executedAt"`
}

type publicAck struct {
	OrderID   uint64    `json:"orderId"`
	Outcome   string    `json:"outcome"`
	Filled    int64     `json:"filled"`
	Resting   int64     `json:"resting"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type outboundMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	eng := engine.NewEngine(engine.Config{
		PriceScale:    cfg.Engine.PriceScale,
		TickSize:      cfg.Engine.TickSize,
		MaxDepth:      cfg.Engine.MaxDepth,
		CommandBuffer: cfg.Engine.CommandBuffer,
		EventBuffer:   cfg.Engine.EventBuffer,
		UpdateBuffer:  cfg.Engine.UpdateBuffer,
		Logger:        log.Named("engine"),
	})

	var pub *feed.Publisher
	if cfg.Feed.Enabled {
		pub = feed.New(feed.Config{
			Brokers:      cfg.Feed.Brokers,
			Topic:        cfg.Feed.Topic,
			BatchTimeout: cfg.Feed.BatchTimeout,
		}, log.Named("feed"))
		log.Info("event feed enabled",
			zap.Strings("brokers", cfg.Feed.Brokers),
			zap.String("topic", cfg.Feed.Topic))
	}

	srv := newServer(eng, pub, log, cfg)
	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: srv.routes()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("listening",
			zap.String("addr", cfg.ListenAddr),
			zap.Uint8("price_scale", cfg.Engine.PriceScale))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	eng.Close()
	<-srv.eventsDone
	if pub != nil {
		if err := pub.Close(); err != nil {
			log.Warn("feed shutdown", zap.Error(err))
		}
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

func newServer(eng *engine.Engine, pub *feed.Publisher, log *zap.Logger, cfg *config) *server {
	s := &server{
		eng:        eng,
		pub:        pub,
		log:        log,
		priceScale: cfg.Engine.PriceScale,
		tradeHub:   newHub[engine.Trade]("trades"),
		ackHub:     newHub[engine.Ack]("acks"),
		bookHub:    newHub[engine.BookView]("book"),
		eventsDone: make(chan struct{}),
		upgrader:   websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		authToken:  cfg.AuthToken,
		corsOrigin: cfg.CORSOrigin,
	}

	go s.consumeEvents()
	go s.consumeBookUpdates()
	return s
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/orders", s.withCORS(s.withAuth(http.HandlerFunc(s.handleOrder))))
	mux.Handle("/cancel", s.withCORS(s.withAuth(http.HandlerFunc(s.handleCancel))))
	mux.Handle("/book", s.withCORS(s.withAuth(http.HandlerFunc(s.handleSnapshot))))
	mux.Handle("/depth", s.withCORS(s.withAuth(http.HandlerFunc(s.handleDepth))))
	mux.Handle("/ws/trades", s.withCORS(s.withAuth(http.HandlerFunc(s.handleTradeStream))))
	mux.Handle("/ws/acks", s.withCORS(s.withAuth(http.HandlerFunc(s.handleAckStream))))
	mux.Handle("/ws/book", s.withCORS(s.withAuth(http.HandlerFunc(s.handleBookStream))))
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token != s.authToken {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("missing or invalid token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) handleOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
		return
	}

	order, err := s.buildOrder(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.eng.Submit(order); err != nil {
		writeSubmitError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, statusResponse{Status: "accepted"})
}

func (s *server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
		return
	}

	if err := s.eng.Cancel(req.OrderID); err != nil {
		writeSubmitError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, statusResponse{Status: "accepted"})
}

func (s *server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	view, err := s.eng.Snapshot()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotResponse(view))
}

func (s *server) handleDepth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	levels := 0
	if raw := r.URL.Query().Get("levels"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid levels %q", raw))
			return
		}
		levels = parsed
	}

	view, err := s.eng.Depth(levels)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, depthResponse{
		Bids: toPublicLevels(view.Bids),
		Asks: toPublicLevels(view.Asks),
	})
}

func (s *server) handleTradeStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := s.tradeHub.Subscribe(32)
	defer s.tradeHub.Unsubscribe(sub)

	for trade := range sub.ch {
		msg := outboundMessage{Type: "trade", Data: toPublicTrade(trade)}
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func (s *server) handleAckStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := s.ackHub.Subscribe(32)
	defer s.ackHub.Unsubscribe(sub)

	for ack := range sub.ch {
		msg := outboundMessage{Type: "ack", Data: toPublicAck(ack)}
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func (s *server) handleBookStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := s.bookHub.Subscribe(32)
	defer s.bookHub.Unsubscribe(sub)

	for view := range sub.ch {
		msg := outboundMessage{Type: "book", Data: toSnapshotResponse(view)}
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func (s *server) consumeEvents() {
	defer close(s.eventsDone)
	for ev := range s.eng.Events() {
		if s.pub != nil {
			s.pub.Publish(ev)
		}
		switch ev.Kind {
		case engine.EventTrade:
			s.tradeHub.Broadcast(ev.Trade)
		case engine.EventAck:
			s.ackHub.Broadcast(ev.Ack)
		}
	}
}

func (s *server) consumeBookUpdates() {
	for view := range s.eng.BookUpdates() {
		s.bookHub.Broadcast(view)
	}
}

func (s *server) buildOrder(req orderRequest) (engine.Order, error) {
	if req.ID == 0 {
		return engine.Order{}, errors.New("id is required")
	}
	if req.Quantity <= 0 {
		return engine.Order{}, errors.New("quantity must be positive")
	}

	side, err := parseSide(req.Side)
	if err != nil {
		return engine.Order{}, err
	}
	ordType, err := parseOrderType(req.Type)
	if err != nil {
		return engine.Order{}, err
	}

	order := engine.Order{
		ID:       req.ID,
		Side:     side,
		Type:     ordType,
		Quantity: req.Quantity,
	}
	if ordType == engine.Limit {
		price, err := engine.ParsePrice(req.Price, s.priceScale)
		if err != nil {
			return engine.Order{}, err
		}
		order.Price = price
	}
	return order, nil
}

func parseSide(value string) (engine.Side, error) {
	switch strings.ToLower(value) {
	case "buy", "bid", "b":
		return engine.Buy, nil
	case "sell", "ask", "s":
		return engine.Sell, nil
	default:
		return 0, fmt.Errorf("unknown side %s", value)
	}
}

func parseOrderType(value string) (engine.OrderType, error) {
	switch strings.ToLower(value) {
	case "limit", "lmt":
		return engine.Limit, nil
	case "market", "mkt":
		return engine.Market, nil
	default:
		return 0, fmt.Errorf("unknown order type %s", value)
	}
}

func toSnapshotResponse(view engine.BookView) snapshotResponse {
	return snapshotResponse{
		BestBid: toPublicLevel(view.BestBid),
		BestAsk: toPublicLevel(view.BestAsk),
	}
}

func toPublicLevel(lvl *engine.LevelView) *publicLevel {
	if lvl == nil {
		return nil
	}
	return &publicLevel{
		Price:    lvl.Price.String(),
		Quantity: lvl.Quantity,
		Orders:   lvl.Orders,
	}
}

func toPublicLevels(levels []engine.LevelView) []publicLevel {
	out := make([]publicLevel, 0, len(levels))
	for _, lvl := range levels {
		out = append(out, publicLevel{
			Price:    lvl.Price.String(),
			Quantity: lvl.Quantity,
			Orders:   lvl.Orders,
		})
	}
	return out
}

func toPublicTrade(trade engine.Trade) publicTrade {
	return publicTrade{
		Sequence:    trade.Sequence,
		Price:       trade.Price.String(),
		Quantity:    trade.Quantity,
		BuyOrderID:  trade.BuyOrderID,
		SellOrderID: trade.SellOrderID,
		ExecutedAt:  trade.Timestamp,
	}
}

func toPublicAck(ack engine.Ack) publicAck {
	out := publicAck{
		OrderID:   ack.OrderID,
		Outcome:   ack.Outcome.String(),
		Filled:    ack.Filled,
		Resting:   ack.Resting,
		Timestamp: ack.Timestamp,
	}
	if ack.Err != nil {
		out.Error = ack.Err.Error()
	}
	return out
}

func writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrChannelSaturated):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, err)
	case errors.Is(err, engine.ErrEngineClosed):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusBadRequest, err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
