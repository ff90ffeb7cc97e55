package model

import (
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Reference Data
// -----------------------------------------------------------------------------

// Market identifies the board a symbol trades on.
type Market string

const (
	MarketKOSPI  Market = "KOSPI"
	MarketKOSDAQ Market = "KOSDAQ"
)

// TrCode returns the real-time trade-tick tr code for the market.
func (m Market) TrCode() string {
	if m == MarketKOSDAQ {
		return TrCodeTradeKOSDAQ
	}
	return TrCodeTradeKOSPI
}

// StockInfo holds the static attributes of one symbol. Populated once at
// startup and read-only thereafter.
type StockInfo struct {
	Code       string // 6-digit symbol code (e.g. "005930")
	Name       string // Display name
	Market     Market // KOSPI or KOSDAQ
	ETF        bool   // ETF flag
	UpperLimit int64  // Daily upper price limit
	LowerLimit int64  // Daily lower price limit
	PrevClose  int64  // Previous close price
	BasePrice  int64  // Reference price for the session
}

// -----------------------------------------------------------------------------
// Real-Time Protocol
// -----------------------------------------------------------------------------

// Real-time tr codes used on the wire.
const (
	TrCodeVI          = "VI_" // Volatility Interruption events, all symbols
	TrCodeTradeKOSPI  = "S3_" // KOSPI trade ticks
	TrCodeTradeKOSDAQ = "K3_" // KOSDAQ trade ticks

	// TrKeyAllSymbols subscribes the VI feed for every listed symbol.
	TrKeyAllSymbols = "000000"
)

// Subscription direction flags carried in the message header.
const (
	TrTypeSubscribe   = "3"
	TrTypeUnsubscribe = "4"
)

// VIStatus is the decoded vi_gubun status code of a VI event.
type VIStatus string

const (
	VICleared       VIStatus = "0"
	VIStatic        VIStatus = "1"
	VIDynamic       VIStatus = "2"
	VIStaticDynamic VIStatus = "3"
)

// Triggered reports whether the status activates volatility protection.
func (s VIStatus) Triggered() bool {
	switch s {
	case VIStatic, VIDynamic, VIStaticDynamic:
		return true
	}
	return false
}

// String returns a human-readable label for log lines.
func (s VIStatus) String() string {
	switch s {
	case VICleared:
		return "cleared"
	case VIStatic:
		return "static"
	case VIDynamic:
		return "dynamic"
	case VIStaticDynamic:
		return "static+dynamic"
	}
	return "unknown"
}

// VIEvent is a decoded VI feed message body.
type VIEvent struct {
	Code         string   // Affected symbol (ref_shcode)
	Status       VIStatus // Decoded vi_gubun
	TriggerPrice string   // vi_trgprice, as sent
	TriggerTime  string   // HHMMSS exchange time, as sent
	ReceivedAt   time.Time
}

// TradeEvent is a decoded trade-tick message body.
type TradeEvent struct {
	Code       string // Symbol (shcode)
	Price      string // Trade price, as sent
	Volume     string // Tick volume (cvolume), as sent
	ReceivedAt time.Time
}

// -----------------------------------------------------------------------------
// Persistence Rows
// -----------------------------------------------------------------------------

// TickRow is one trade tick observed during a VI window, ready for insert.
type TickRow struct {
	ID         uuid.UUID
	Code       string
	Name       string
	Market     Market
	Price      int64
	Volume     int64
	ReceivedAt int64 // µs since epoch
}

// SessionRow is one completed VI subscription window.
type SessionRow struct {
	ID            uuid.UUID
	Code          string
	ActivatedAt   int64 // µs since epoch
	DeactivatedAt int64 // µs since epoch
	Reason        string // "expired" or "shutdown"
}
