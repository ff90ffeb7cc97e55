package router

import (
	"encoding/json"

	"github.com/jwpark-dev/vi-monitor/internal/model"
)

// Handler receives decoded feed events. The registry implements it.
type Handler interface {
	HandleVIEvent(ev model.VIEvent)
	HandleTrade(ev model.TradeEvent)
}

// Resolver maps a symbol code to its static reference data. Used to enrich
// acknowledgement log lines; may be nil.
type Resolver interface {
	Lookup(code string) (model.StockInfo, bool)
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	MessagesReceived int64
	VIEvents         int64
	Trades           int64
	Acks             int64
	ParseErrors      int64
	UnknownMessages  int64
}

// Wire types for JSON parsing

// envelopeWire is the outer frame of every feed message. The body stays raw
// until the tr code decides its shape.
type envelopeWire struct {
	Header headerWire      `json:"header"`
	Body   json.RawMessage `json:"body"`
}

// headerWire is the wire format of the message header.
type headerWire struct {
	TrCd   string `json:"tr_cd"`
	TrKey  string `json:"tr_key"`
	TrType string `json:"tr_type"`
	RspCd  string `json:"rsp_cd"`
	RspMsg string `json:"rsp_msg"`
}

// viBodyWire is the wire format of a VI_ body.
type viBodyWire struct {
	RefShcode  string `json:"ref_shcode"`
	Shcode     string `json:"shcode"`
	ViGubun    string `json:"vi_gubun"`
	ViTrgprice string `json:"vi_trgprice"`
	Time       string `json:"time"`
}

// tradeBodyWire is the wire format of an S3_/K3_ trade-tick body.
type tradeBodyWire struct {
	Shcode  string `json:"shcode"`
	Price   string `json:"price"`
	Cvolume string `json:"cvolume"`
}
