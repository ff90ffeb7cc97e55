package vi

import (
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwpark-dev/vi-monitor/internal/model"
)

// Commander sends subscription commands upstream. The transport manager
// implements it.
type Commander interface {
	Subscribe(trCd, trKey string) error
	Unsubscribe(trCd, trKey string) error
}

// Resolver maps a symbol code to its static reference data.
type Resolver interface {
	Lookup(code string) (model.StockInfo, bool)
}

// Sink receives rows for persistence. May be nil when no database is
// configured.
type Sink interface {
	RecordTick(row model.TickRow)
	RecordSession(row model.SessionRow)
}

// Config holds Subscription Manager configuration.
type Config struct {
	// Window is how long a triggered symbol stays subscribed.
	Window time.Duration

	// HistoryLimit bounds the in-memory ring of completed windows.
	HistoryLimit int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Window:       3 * time.Minute,
		HistoryLimit: 512,
	}
}

// ActiveSub describes one symbol currently inside its VI window.
type ActiveSub struct {
	Code         string
	Name         string
	Market       model.Market
	Status       model.VIStatus
	TriggerPrice string
	ActivatedAt  time.Time
}

// Stats contains runtime counters.
type Stats struct {
	Active       int
	Triggered    int64
	Expired      int64
	Ticks        int64
	DroppedTicks int64
}

// record is one active subscription. The id ties the expiry timer to a
// specific activation.
type record struct {
	id          uuid.UUID
	info        model.StockInfo
	event       model.VIEvent
	activatedAt time.Time
	timer       *time.Timer
}

// Manager is the subscription state machine. All registry mutations happen
// under one mutex; the expiry timers, the router goroutine and Shutdown all
// funnel through it.
type Manager struct {
	cfg      Config
	logger   *slog.Logger
	cmd      Commander
	resolver Resolver
	sink     Sink

	mu       sync.Mutex
	active   map[string]*record
	history  []model.SessionRow
	shutdown bool

	triggered    int64
	expired      int64
	ticks        int64
	droppedTicks int64
}

// NewManager creates a Subscription Manager. sink may be nil.
func NewManager(cfg Config, cmd Commander, resolver Resolver, sink Sink, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}

	return &Manager{
		cfg:      cfg,
		logger:   logger,
		cmd:      cmd,
		resolver: resolver,
		sink:     sink,
		active:   make(map[string]*record),
	}
}

// HandleVIEvent processes one decoded VI feed message. A triggering status
// on an inactive symbol activates its trade subscription for the window; a
// repeat trigger while active is a no-op. A cleared status never releases
// the subscription early, the window timer is the only release path.
func (m *Manager) HandleVIEvent(ev model.VIEvent) {
	info, ok := m.resolver.Lookup(ev.Code)
	if !ok {
		m.logger.Debug("VI event for unknown symbol", "code", ev.Code)
		return
	}

	m.logger.Info("VI status",
		"code", ev.Code,
		"name", info.Name,
		"status", ev.Status.String(),
		"trigger_price", ev.TriggerPrice,
		"exchange_time", ev.TriggerTime,
	)

	if !ev.Status.Triggered() {
		return
	}

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return
	}
	if _, exists := m.active[ev.Code]; exists {
		m.mu.Unlock()
		return
	}

	rec := &record{
		id:          uuid.New(),
		info:        info,
		event:       ev,
		activatedAt: time.Now(),
	}
	m.active[ev.Code] = rec

	id := rec.id
	code := ev.Code
	rec.timer = time.AfterFunc(m.cfg.Window, func() {
		m.expire(code, id)
	})
	m.triggered++
	m.mu.Unlock()

	if err := m.cmd.Subscribe(info.Market.TrCode(), ev.Code); err != nil {
		// The record stays active: reconnect reconciliation resends it.
		m.logger.Warn("trade subscribe failed", "code", ev.Code, "error", err)
	}

	m.logger.Info("VI window opened",
		"code", ev.Code,
		"name", info.Name,
		"market", info.Market,
		"window", m.cfg.Window,
	)
}

// HandleTrade processes one decoded trade tick. Ticks for symbols outside
// their window are dropped.
func (m *Manager) HandleTrade(ev model.TradeEvent) {
	m.mu.Lock()
	rec, ok := m.active[ev.Code]
	if !ok {
		m.droppedTicks++
		m.mu.Unlock()
		return
	}
	m.ticks++
	info := rec.info
	m.mu.Unlock()

	m.logger.Info("trade",
		"name", info.Name,
		"code", ev.Code,
		"price", ev.Price,
		"volume", ev.Volume,
	)

	if m.sink == nil {
		return
	}

	price, perr := parseAmount(ev.Price)
	volume, verr := parseAmount(ev.Volume)
	if perr != nil || verr != nil {
		m.logger.Warn("unparseable trade amounts",
			"code", ev.Code, "price", ev.Price, "volume", ev.Volume)
		return
	}

	m.sink.RecordTick(model.TickRow{
		ID:         uuid.New(),
		Code:       ev.Code,
		Name:       info.Name,
		Market:     info.Market,
		Price:      price,
		Volume:     volume,
		ReceivedAt: ev.ReceivedAt.UnixMicro(),
	})
}

// HandleConnected runs after every successful (re)connection. It always
// registers the all-symbol VI feed; on a reconnect it also replays the
// trade subscriptions of every symbol still inside its window, in ascending
// code order, without touching activation times or timers.
func (m *Manager) HandleConnected(reconnected bool) {
	if err := m.cmd.Subscribe(model.TrCodeVI, model.TrKeyAllSymbols); err != nil {
		m.logger.Error("VI feed subscribe failed", "error", err)
	} else {
		m.logger.Info("VI feed subscribed", "all_symbols", true, "reconnected", reconnected)
	}

	if !reconnected {
		return
	}

	m.mu.Lock()
	type resub struct {
		code string
		trCd string
	}
	pending := make([]resub, 0, len(m.active))
	for code, rec := range m.active {
		pending = append(pending, resub{code: code, trCd: rec.info.Market.TrCode()})
	}
	m.mu.Unlock()

	sort.Slice(pending, func(i, j int) bool { return pending[i].code < pending[j].code })

	for _, p := range pending {
		if err := m.cmd.Subscribe(p.trCd, p.code); err != nil {
			m.logger.Warn("trade resubscribe failed", "code", p.code, "error", err)
			continue
		}
		m.logger.Info("trade resubscribed", "code", p.code)
	}
}

// Shutdown releases every active subscription with reason "shutdown".
// Idempotent; safe against expiry timers firing concurrently.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return
	}
	m.shutdown = true

	released := make([]*record, 0, len(m.active))
	rows := make([]model.SessionRow, 0, len(m.active))
	now := time.Now()
	for code, rec := range m.active {
		rec.timer.Stop()
		delete(m.active, code)

		row := model.SessionRow{
			ID:            rec.id,
			Code:          code,
			ActivatedAt:   rec.activatedAt.UnixMicro(),
			DeactivatedAt: now.UnixMicro(),
			Reason:        "shutdown",
		}
		m.pushHistoryLocked(row)
		released = append(released, rec)
		rows = append(rows, row)
	}
	m.mu.Unlock()

	sort.Slice(released, func(i, j int) bool {
		return released[i].info.Code < released[j].info.Code
	})

	for i, rec := range released {
		if err := m.cmd.Unsubscribe(rec.info.Market.TrCode(), rec.info.Code); err != nil {
			m.logger.Warn("trade unsubscribe failed", "code", rec.info.Code, "error", err)
		}
		if m.sink != nil {
			m.sink.RecordSession(rows[i])
		}
	}

	m.logger.Info("subscription manager shut down", "released", len(released))
}

// Active returns the symbols currently inside their window, ascending by
// code.
func (m *Manager) Active() []ActiveSub {
	m.mu.Lock()
	out := make([]ActiveSub, 0, len(m.active))
	for code, rec := range m.active {
		out = append(out, ActiveSub{
			Code:         code,
			Name:         rec.info.Name,
			Market:       rec.info.Market,
			Status:       rec.event.Status,
			TriggerPrice: rec.event.TriggerPrice,
			ActivatedAt:  rec.activatedAt,
		})
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// ActiveCount returns the number of symbols currently inside their window.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// History returns completed windows, oldest first, bounded by HistoryLimit.
func (m *Manager) History() []model.SessionRow {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.SessionRow, len(m.history))
	copy(out, m.history)
	return out
}

// Stats returns runtime counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		Active:       len(m.active),
		Triggered:    m.triggered,
		Expired:      m.expired,
		Ticks:        m.ticks,
		DroppedTicks: m.droppedTicks,
	}
}

// expire releases one subscription when its window timer fires. The id
// check makes a stale timer a no-op when the record was already released.
func (m *Manager) expire(code string, id uuid.UUID) {
	m.mu.Lock()
	rec, ok := m.active[code]
	if !ok || rec.id != id {
		m.mu.Unlock()
		return
	}
	delete(m.active, code)
	m.expired++

	row := model.SessionRow{
		ID:            rec.id,
		Code:          code,
		ActivatedAt:   rec.activatedAt.UnixMicro(),
		DeactivatedAt: time.Now().UnixMicro(),
		Reason:        "expired",
	}
	m.pushHistoryLocked(row)
	m.mu.Unlock()

	if err := m.cmd.Unsubscribe(rec.info.Market.TrCode(), code); err != nil {
		m.logger.Warn("trade unsubscribe failed", "code", code, "error", err)
	}

	m.logger.Info("VI window closed",
		"code", code,
		"name", rec.info.Name,
		"duration", time.Since(rec.activatedAt).Round(time.Millisecond),
	)

	if m.sink != nil {
		m.sink.RecordSession(row)
	}
}

// pushHistoryLocked appends to the history ring, dropping the oldest
// entries past the limit. Caller holds the mutex.
func (m *Manager) pushHistoryLocked(row model.SessionRow) {
	m.history = append(m.history, row)
	if limit := m.cfg.HistoryLimit; limit > 0 && len(m.history) > limit {
		m.history = m.history[len(m.history)-limit:]
	}
}

// parseAmount converts a wire number to int64. The feed pads some fields
// with a leading sign.
func parseAmount(s string) (int64, error) {
	s = strings.TrimSpace(strings.TrimPrefix(s, "+"))
	return strconv.ParseInt(s, 10, 64)
}
