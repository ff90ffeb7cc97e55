package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/jwpark-dev/vi-monitor/internal/connection"
	"github.com/jwpark-dev/vi-monitor/internal/model"
)

var errMissingSymbol = errors.New("message body has no symbol code")

// Router parses raw feed messages and routes them to the Handler.
type Router interface {
	// Start begins routing messages from the inbound queue.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the router. The source queue must be
	// closed first or the drain can block until the stop context expires.
	Stop(ctx context.Context) error

	// Stats returns current router statistics.
	Stats() RouterStats
}

// router is the internal implementation.
type router struct {
	logger   *slog.Logger
	queue    *connection.Queue
	handler  Handler
	resolver Resolver

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.RWMutex
	received    int64
	viEvents    int64
	trades      int64
	acks        int64
	parseErrors int64
	unknown     int64
}

// NewRouter creates a Message Router reading from the transport queue.
func NewRouter(queue *connection.Queue, handler Handler, resolver Resolver, logger *slog.Logger) Router {
	if logger == nil {
		logger = slog.Default()
	}

	return &router{
		logger:   logger,
		queue:    queue,
		handler:  handler,
		resolver: resolver,
	}
}

// Start begins routing messages.
func (r *router) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.routeLoop()

	r.logger.Info("message router started")

	return nil
}

// Stop gracefully shuts down the router.
func (r *router) Stop(ctx context.Context) error {
	r.logger.Info("stopping message router")

	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("message router stopped")
	case <-ctx.Done():
		r.logger.Warn("message router stop timed out")
	}

	return nil
}

// Stats returns current statistics.
func (r *router) Stats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return RouterStats{
		MessagesReceived: r.received,
		VIEvents:         r.viEvents,
		Trades:           r.trades,
		Acks:             r.acks,
		ParseErrors:      r.parseErrors,
		UnknownMessages:  r.unknown,
	}
}

// routeLoop is the main routing goroutine. It drains the queue in arrival
// order; Pop unblocks when the transport closes the queue.
func (r *router) routeLoop() {
	defer r.wg.Done()

	for {
		raw, ok := r.queue.Pop()
		if !ok {
			r.logger.Info("inbound queue closed")
			return
		}

		select {
		case <-r.ctx.Done():
			return
		default:
		}

		r.route(raw)
	}
}

// route parses and routes a single message. A message that fails to parse is
// logged and dropped; the loop never stops on bad input.
func (r *router) route(raw connection.RawMessage) {
	r.bump(&r.received)

	var env envelopeWire
	if err := json.Unmarshal(raw.Data, &env); err != nil {
		r.logger.Warn("failed to parse feed message", "error", err)
		r.bump(&r.parseErrors)
		return
	}

	// A frame without a body is a system acknowledgement of a
	// subscribe/unsubscribe command.
	if emptyBody(env.Body) {
		r.logAck(env.Header)
		r.bump(&r.acks)
		return
	}

	switch env.Header.TrCd {
	case model.TrCodeVI:
		ev, err := parseVIEvent(env.Body, raw)
		if err != nil {
			r.logger.Warn("failed to parse VI event", "error", err)
			r.bump(&r.parseErrors)
			return
		}
		r.handler.HandleVIEvent(ev)
		r.bump(&r.viEvents)

	case model.TrCodeTradeKOSPI, model.TrCodeTradeKOSDAQ:
		ev, err := parseTrade(env.Body, raw)
		if err != nil {
			r.logger.Warn("failed to parse trade tick", "error", err)
			r.bump(&r.parseErrors)
			return
		}
		r.handler.HandleTrade(ev)
		r.bump(&r.trades)

	default:
		r.logger.Debug("skipping message", "tr_cd", env.Header.TrCd)
		r.bump(&r.unknown)
	}
}

// logAck logs a subscription acknowledgement, enriched with the symbol name
// when reference data resolves the key.
func (r *router) logAck(h headerWire) {
	verb := "feed ack"
	switch h.TrType {
	case model.TrTypeSubscribe:
		verb = "feed subscribed"
	case model.TrTypeUnsubscribe:
		verb = "feed unsubscribed"
	}

	attrs := []any{"tr_cd", h.TrCd, "tr_key", h.TrKey}
	if h.RspMsg != "" {
		attrs = append(attrs, "rsp_msg", h.RspMsg)
	}
	if r.resolver != nil {
		if info, ok := r.resolver.Lookup(h.TrKey); ok {
			attrs = append(attrs, "name", info.Name, "market", info.Market)
		}
	}

	r.logger.Info(verb, attrs...)
}

func (r *router) bump(counter *int64) {
	r.mu.Lock()
	*counter++
	r.mu.Unlock()
}

// emptyBody reports whether the body field is absent, null, or an empty
// object. The feed sends all three shapes for acknowledgements.
func emptyBody(body json.RawMessage) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) == 0 ||
		bytes.Equal(trimmed, []byte("null")) ||
		bytes.Equal(trimmed, []byte("{}"))
}

// parseVIEvent parses a VI_ body. The affected symbol is ref_shcode; some
// feed variants carry it in shcode instead.
func parseVIEvent(body json.RawMessage, raw connection.RawMessage) (model.VIEvent, error) {
	var wire viBodyWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return model.VIEvent{}, err
	}

	code := wire.RefShcode
	if code == "" {
		code = wire.Shcode
	}
	if code == "" {
		return model.VIEvent{}, errMissingSymbol
	}

	return model.VIEvent{
		Code:         code,
		Status:       model.VIStatus(wire.ViGubun),
		TriggerPrice: wire.ViTrgprice,
		TriggerTime:  wire.Time,
		ReceivedAt:   raw.ReceivedAt,
	}, nil
}

// parseTrade parses an S3_/K3_ trade-tick body.
func parseTrade(body json.RawMessage, raw connection.RawMessage) (model.TradeEvent, error) {
	var wire tradeBodyWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return model.TradeEvent{}, err
	}

	if wire.Shcode == "" {
		return model.TradeEvent{}, errMissingSymbol
	}

	return model.TradeEvent{
		Code:       wire.Shcode,
		Price:      wire.Price,
		Volume:     wire.Cvolume,
		ReceivedAt: raw.ReceivedAt,
	}, nil
}
