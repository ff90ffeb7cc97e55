package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected      = errors.New("not connected")
	ErrStaleConnection   = errors.New("connection stale (no ping)")
	ErrAlreadyClosed     = errors.New("already closed")
	ErrStopped           = errors.New("transport stopped")
	ErrAttemptsExhausted = errors.New("reconnect attempts exhausted")
)

// TimestampedMessage wraps raw message data with a receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from the websocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// RawMessage is one inbound frame handed to the Router, in arrival order.
type RawMessage struct {
	Data       []byte
	ReceivedAt time.Time
}

// Command is an outbound real-time registration message.
type Command struct {
	Header CommandHeader `json:"header"`
	Body   CommandBody   `json:"body"`
}

// CommandHeader carries the access token and the subscribe/unsubscribe flag.
type CommandHeader struct {
	Token  string `json:"token"`
	TrType string `json:"tr_type"` // "3" subscribe, "4" unsubscribe
}

// CommandBody names the feed and the routing key.
type CommandBody struct {
	TrCd  string `json:"tr_cd"`  // Feed code ("VI_", "S3_", "K3_")
	TrKey string `json:"tr_key"` // Symbol code, or "000000" for all symbols
}

// ClientConfig configures a websocket client.
type ClientConfig struct {
	URL          string        // Websocket URL
	Token        string        // Bearer access token for the handshake
	PingInterval time.Duration // Keepalive ping cadence
	PingTimeout  time.Duration // Max silence before the connection is stale
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Client message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval: 30 * time.Second,
		PingTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   4096,
	}
}

// ManagerConfig configures the transport Manager.
type ManagerConfig struct {
	WSURL                string        // Upstream websocket URL
	Token                string        // Access token, attached to handshake and commands
	ReconnectDelay       time.Duration // Fixed wait between attempts
	MaxReconnectAttempts int           // Consecutive failures before giving up
	PingInterval         time.Duration
	PingTimeout          time.Duration
	WriteTimeout         time.Duration
	ClientBufferSize     int
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ReconnectDelay:       5 * time.Second,
		MaxReconnectAttempts: 5,
		PingInterval:         30 * time.Second,
		PingTimeout:          60 * time.Second,
		WriteTimeout:         5 * time.Second,
		ClientBufferSize:     4096,
	}
}

// ManagerStats provides a snapshot of transport state.
type ManagerStats struct {
	Connected  bool
	Attempts   int // Consecutive failed attempts since the last success
	Reconnects int // Successful reconnections after the first connect
	QueueLen   int
}
