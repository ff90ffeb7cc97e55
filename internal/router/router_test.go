package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jwpark-dev/vi-monitor/internal/connection"
	"github.com/jwpark-dev/vi-monitor/internal/model"
)

// recordingHandler captures routed events.
type recordingHandler struct {
	mu       sync.Mutex
	viEvents []model.VIEvent
	trades   []model.TradeEvent
}

func (h *recordingHandler) HandleVIEvent(ev model.VIEvent) {
	h.mu.Lock()
	h.viEvents = append(h.viEvents, ev)
	h.mu.Unlock()
}

func (h *recordingHandler) HandleTrade(ev model.TradeEvent) {
	h.mu.Lock()
	h.trades = append(h.trades, ev)
	h.mu.Unlock()
}

func (h *recordingHandler) snapshot() ([]model.VIEvent, []model.TradeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	vi := make([]model.VIEvent, len(h.viEvents))
	copy(vi, h.viEvents)
	tr := make([]model.TradeEvent, len(h.trades))
	copy(tr, h.trades)
	return vi, tr
}

// staticResolver serves a fixed symbol table.
type staticResolver map[string]model.StockInfo

func (r staticResolver) Lookup(code string) (model.StockInfo, bool) {
	info, ok := r[code]
	return info, ok
}

func startRouter(t *testing.T, handler Handler, resolver Resolver) (*connection.Queue, Router) {
	t.Helper()

	queue := connection.NewQueue(16)
	r := NewRouter(queue, handler, resolver, nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		queue.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		r.Stop(ctx)
	})

	return queue, r
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func push(q *connection.Queue, payload string) {
	q.Push(connection.RawMessage{Data: []byte(payload), ReceivedAt: time.Now()})
}

func TestRouter_RoutesVIEvent(t *testing.T) {
	handler := &recordingHandler{}
	queue, _ := startRouter(t, handler, nil)

	push(queue, `{
		"header": {"tr_cd": "VI_", "tr_key": "000000"},
		"body": {"ref_shcode": "005930", "vi_gubun": "1", "vi_trgprice": "71500", "time": "101530"}
	}`)

	waitFor(t, func() bool {
		vi, _ := handler.snapshot()
		return len(vi) == 1
	}, "timed out waiting for VI event")

	vi, _ := handler.snapshot()
	ev := vi[0]
	if ev.Code != "005930" {
		t.Errorf("Code = %q, want 005930", ev.Code)
	}
	if ev.Status != model.VIStatic {
		t.Errorf("Status = %q, want static", ev.Status)
	}
	if ev.TriggerPrice != "71500" {
		t.Errorf("TriggerPrice = %q, want 71500", ev.TriggerPrice)
	}
	if ev.TriggerTime != "101530" {
		t.Errorf("TriggerTime = %q, want 101530", ev.TriggerTime)
	}
	if ev.ReceivedAt.IsZero() {
		t.Error("ReceivedAt should carry the transport timestamp")
	}
}

func TestRouter_VIEventSymbolFallback(t *testing.T) {
	handler := &recordingHandler{}
	queue, _ := startRouter(t, handler, nil)

	// Some feed variants put the symbol in shcode only.
	push(queue, `{
		"header": {"tr_cd": "VI_", "tr_key": "000000"},
		"body": {"shcode": "035720", "vi_gubun": "2"}
	}`)

	waitFor(t, func() bool {
		vi, _ := handler.snapshot()
		return len(vi) == 1
	}, "timed out waiting for VI event")

	vi, _ := handler.snapshot()
	if vi[0].Code != "035720" {
		t.Errorf("Code = %q, want 035720", vi[0].Code)
	}
	if vi[0].Status != model.VIDynamic {
		t.Errorf("Status = %q, want dynamic", vi[0].Status)
	}
}

func TestRouter_RoutesTradesInOrder(t *testing.T) {
	handler := &recordingHandler{}
	queue, _ := startRouter(t, handler, nil)

	push(queue, `{
		"header": {"tr_cd": "S3_", "tr_key": "005930"},
		"body": {"shcode": "005930", "price": "71400", "cvolume": "120"}
	}`)
	push(queue, `{
		"header": {"tr_cd": "K3_", "tr_key": "035720"},
		"body": {"shcode": "035720", "price": "45200", "cvolume": "33"}
	}`)

	waitFor(t, func() bool {
		_, tr := handler.snapshot()
		return len(tr) == 2
	}, "timed out waiting for trades")

	_, trades := handler.snapshot()
	if trades[0].Code != "005930" || trades[0].Price != "71400" || trades[0].Volume != "120" {
		t.Errorf("trade 0 = %+v, want 005930/71400/120", trades[0])
	}
	if trades[1].Code != "035720" || trades[1].Price != "45200" || trades[1].Volume != "33" {
		t.Errorf("trade 1 = %+v, want 035720/45200/33", trades[1])
	}
}

func TestRouter_EmptyBodyIsAck(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{
			name:    "missing body",
			payload: `{"header": {"tr_cd": "VI_", "tr_key": "000000", "tr_type": "3", "rsp_msg": "ok"}}`,
		},
		{
			name:    "null body",
			payload: `{"header": {"tr_cd": "S3_", "tr_key": "005930", "tr_type": "3"}, "body": null}`,
		},
		{
			name:    "empty object body",
			payload: `{"header": {"tr_cd": "S3_", "tr_key": "005930", "tr_type": "4"}, "body": {}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := &recordingHandler{}
			resolver := staticResolver{
				"005930": {Code: "005930", Name: "삼성전자", Market: model.MarketKOSPI},
			}
			queue, r := startRouter(t, handler, resolver)

			push(queue, tt.payload)

			waitFor(t, func() bool {
				return r.Stats().Acks == 1
			}, "timed out waiting for ack")

			vi, tr := handler.snapshot()
			if len(vi) != 0 || len(tr) != 0 {
				t.Errorf("acks must not reach the handler: vi=%d trades=%d", len(vi), len(tr))
			}
		})
	}
}

func TestRouter_MalformedMessageDoesNotStopLoop(t *testing.T) {
	handler := &recordingHandler{}
	queue, r := startRouter(t, handler, nil)

	push(queue, `{not json`)
	push(queue, `{"header": {"tr_cd": "VI_"}, "body": {"vi_gubun": "1"}}`) // no symbol
	push(queue, `{
		"header": {"tr_cd": "S3_", "tr_key": "005930"},
		"body": {"shcode": "005930", "price": "71400", "cvolume": "120"}
	}`)

	waitFor(t, func() bool {
		_, tr := handler.snapshot()
		return len(tr) == 1
	}, "router stopped on malformed input")

	stats := r.Stats()
	if stats.ParseErrors != 2 {
		t.Errorf("ParseErrors = %d, want 2", stats.ParseErrors)
	}
	if stats.Trades != 1 {
		t.Errorf("Trades = %d, want 1", stats.Trades)
	}
}

func TestRouter_UnknownTrCodeDropped(t *testing.T) {
	handler := &recordingHandler{}
	queue, r := startRouter(t, handler, nil)

	push(queue, `{"header": {"tr_cd": "H1_", "tr_key": "005930"}, "body": {"shcode": "005930"}}`)

	waitFor(t, func() bool {
		return r.Stats().UnknownMessages == 1
	}, "timed out waiting for unknown counter")

	vi, tr := handler.snapshot()
	if len(vi) != 0 || len(tr) != 0 {
		t.Errorf("unknown messages must not reach the handler: vi=%d trades=%d", len(vi), len(tr))
	}
}

func TestRouter_StatsTotals(t *testing.T) {
	handler := &recordingHandler{}
	queue, r := startRouter(t, handler, nil)

	push(queue, `{"header": {"tr_cd": "VI_"}, "body": {"ref_shcode": "005930", "vi_gubun": "1"}}`)
	push(queue, `{"header": {"tr_cd": "S3_"}, "body": {"shcode": "005930", "price": "1", "cvolume": "1"}}`)
	push(queue, `{"header": {"tr_cd": "VI_", "tr_type": "3"}}`)
	push(queue, `bad`)

	waitFor(t, func() bool {
		return r.Stats().MessagesReceived == 4
	}, "timed out waiting for stats")

	stats := r.Stats()
	if stats.VIEvents != 1 || stats.Trades != 1 || stats.Acks != 1 || stats.ParseErrors != 1 {
		t.Errorf("stats = %+v, want 1 of each", stats)
	}
}

func TestRouter_QueueCloseStopsLoop(t *testing.T) {
	handler := &recordingHandler{}
	queue := connection.NewQueue(4)
	r := NewRouter(queue, handler, nil, nil)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	queue.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}
