package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Manager owns the single upstream feed connection. It runs the receive pump
// that pushes every inbound frame onto the ordered queue, serializes outbound
// commands, and applies the reconnect policy: a fixed delay between attempts
// and a hard ceiling on consecutive failures, after which the manager stops
// for good and reports the loss on Fatal().
type Manager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	queue *Queue

	// newClient is swapped for a fake in tests.
	newClient func(cfg ClientConfig, logger *slog.Logger) Client

	// onConnected fires after every successful (re)connection, before the
	// pump starts. reconnected is false only for the first connect.
	onConnected func(reconnected bool)

	fatal chan error

	// sendErr unblocks the pump when a write fails mid-stream.
	sendErr chan error

	mu         sync.Mutex
	client     Client
	stopped    bool
	attempts   int
	reconnects int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a transport manager. Call SetOnConnected before Start.
func NewManager(cfg ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClientBufferSize <= 0 {
		cfg.ClientBufferSize = DefaultManagerConfig().ClientBufferSize
	}

	return &Manager{
		cfg:       cfg,
		logger:    logger,
		queue:     NewQueue(1024),
		newClient: NewClient,
		fatal:     make(chan error, 1),
		sendErr:   make(chan error, 1),
	}
}

// SetOnConnected registers the (re)connection callback. Must be called
// before Start.
func (m *Manager) SetOnConnected(fn func(reconnected bool)) {
	m.onConnected = fn
}

// Messages returns the ordered inbound queue consumed by the router.
func (m *Manager) Messages() *Queue {
	return m.queue
}

// Fatal reports exhaustion of the reconnect budget. Receiving from it means
// the feed is lost and the manager is permanently stopped.
func (m *Manager) Fatal() <-chan error {
	return m.fatal
}

// Start connects and begins the receive pump. The initial connect obeys the
// same retry policy as reconnection, so Start only fails on a stopped
// manager.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrStopped
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run()

	m.logger.Info("transport manager started",
		"url", m.cfg.WSURL,
		"reconnect_delay", m.cfg.ReconnectDelay,
		"max_attempts", m.cfg.MaxReconnectAttempts,
	)

	return nil
}

// Stop is terminal and idempotent: it closes the connection, halts the pump
// and any scheduled reconnect, and guarantees no further queue pushes.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	client := m.client
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if client != nil {
		client.Close()
	}

	m.wg.Wait()
	m.queue.Close()

	m.logger.Info("transport manager stopped")
}

// Subscription direction flags carried in the command header.
const (
	trTypeSubscribe   = "3"
	trTypeUnsubscribe = "4"
)

// Subscribe sends a real-time registration command for one feed/key pair.
func (m *Manager) Subscribe(trCd, trKey string) error {
	return m.sendCommand(trTypeSubscribe, trCd, trKey)
}

// Unsubscribe sends a real-time release command for one feed/key pair.
func (m *Manager) Unsubscribe(trCd, trKey string) error {
	return m.sendCommand(trTypeUnsubscribe, trCd, trKey)
}

// Send serializes and writes one outbound message. A failed write wakes the
// pump so the reconnect policy can take over.
func (m *Manager) Send(v any) error {
	m.mu.Lock()
	client := m.client
	stopped := m.stopped
	m.mu.Unlock()

	if stopped {
		return ErrStopped
	}
	if client == nil || !client.IsConnected() {
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal outbound message: %w", err)
	}

	if err := client.Send(data); err != nil {
		select {
		case m.sendErr <- err:
		default:
		}
		return fmt.Errorf("send: %w", err)
	}

	return nil
}

// Stats returns a snapshot of transport state.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	connected := m.client != nil && m.client.IsConnected()
	return ManagerStats{
		Connected:  connected,
		Attempts:   m.attempts,
		Reconnects: m.reconnects,
		QueueLen:   m.queue.Len(),
	}
}

// run is the connect/pump/reconnect loop.
func (m *Manager) run() {
	defer m.wg.Done()

	connectedOnce := false

	for {
		if m.isDone() {
			return
		}

		client := m.newClient(ClientConfig{
			URL:          m.cfg.WSURL,
			Token:        m.cfg.Token,
			PingInterval: m.cfg.PingInterval,
			PingTimeout:  m.cfg.PingTimeout,
			WriteTimeout: m.cfg.WriteTimeout,
			BufferSize:   m.cfg.ClientBufferSize,
		}, m.logger)

		if err := client.Connect(m.ctx); err != nil {
			client.Close()
			if !m.recordFailure(err) {
				return
			}
			if !m.waitDelay() {
				return
			}
			continue
		}

		m.mu.Lock()
		m.client = client
		m.attempts = 0
		if connectedOnce {
			m.reconnects++
		}
		m.mu.Unlock()

		m.logger.Info("feed connected", "url", m.cfg.WSURL, "reconnected", connectedOnce)

		if m.onConnected != nil {
			m.onConnected(connectedOnce)
		}
		connectedOnce = true

		err := m.pump(client)
		client.Close()

		if m.isDone() {
			return
		}

		m.logger.Warn("feed connection lost", "error", err)
		if !m.recordFailure(err) {
			return
		}
		if !m.waitDelay() {
			return
		}
	}
}

// pump moves inbound frames onto the queue in arrival order until the
// connection fails or the manager is cancelled.
func (m *Manager) pump(client Client) error {
	for {
		select {
		case <-m.ctx.Done():
			return m.ctx.Err()

		case err := <-client.Errors():
			return err

		case err := <-m.sendErr:
			return err

		case msg, ok := <-client.Messages():
			if !ok {
				return ErrNotConnected
			}
			if !m.queue.Push(RawMessage{Data: msg.Data, ReceivedAt: msg.ReceivedAt}) {
				return ErrStopped
			}
		}
	}
}

// recordFailure bumps the attempt counter. Returns false when the budget is
// exhausted, which permanently stops the manager.
func (m *Manager) recordFailure(cause error) bool {
	m.mu.Lock()
	m.attempts++
	attempts := m.attempts
	m.mu.Unlock()

	if attempts <= m.cfg.MaxReconnectAttempts {
		m.logger.Warn("reconnect scheduled",
			"attempt", attempts,
			"max_attempts", m.cfg.MaxReconnectAttempts,
			"delay", m.cfg.ReconnectDelay,
			"cause", cause,
		)
		return true
	}

	m.logger.Error("reconnect attempts exhausted, feed lost",
		"attempts", attempts-1,
		"cause", cause,
	)

	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	m.queue.Close()

	err := ErrAttemptsExhausted
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrAttemptsExhausted, cause)
	}
	select {
	case m.fatal <- err:
	default:
	}

	return false
}

// waitDelay sleeps the fixed reconnect delay, abortable by Stop.
func (m *Manager) waitDelay() bool {
	select {
	case <-m.ctx.Done():
		return false
	case <-time.After(m.cfg.ReconnectDelay):
		return true
	}
}

func (m *Manager) isDone() bool {
	m.mu.Lock()
	stopped := m.stopped
	m.mu.Unlock()
	if stopped {
		return true
	}
	select {
	case <-m.ctx.Done():
		return true
	default:
		return false
	}
}

// sendCommand builds and sends one registration command.
func (m *Manager) sendCommand(trType, trCd, trKey string) error {
	return m.Send(Command{
		Header: CommandHeader{Token: m.cfg.Token, TrType: trType},
		Body:   CommandBody{TrCd: trCd, TrKey: trKey},
	})
}
