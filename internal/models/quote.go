package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuoteSource records which layer of the provider client satisfied a request.
type QuoteSource string

const (
	// SourceCache marks responses served from the TTL cache without any
	// upstream traffic, including stale last-good fallbacks.
	SourceCache QuoteSource = "CACHE"
	// SourceBatch marks responses that travelled through a coalesced
	// multi-instrument upstream call.
	SourceBatch QuoteSource = "BATCH"
	// SourceDirect marks responses fetched with a dedicated upstream call.
	SourceDirect QuoteSource = "DIRECT"
)

// Quote is a single normalized last-traded snapshot for one instrument.
type Quote struct {
	Key        InstrumentKey   `json:"key"`
	LastPrice  decimal.Decimal `json:"last_price"`
	BidPrice   decimal.Decimal `json:"bid_price"`
	AskPrice   decimal.Decimal `json:"ask_price"`
	Volume     int64           `json:"volume"`
	OI         int64           `json:"oi"`
	ExchangeTS time.Time       `json:"exchange_ts"`
}

// OptionQuote is one strike row inside a chain snapshot. Call and put legs
// are carried side by side the way the upstream chain endpoint returns them.
type OptionQuote struct {
	Strike    int64           `json:"strike"`
	CallLTP   decimal.Decimal `json:"call_ltp"`
	CallBid   decimal.Decimal `json:"call_bid"`
	CallAsk   decimal.Decimal `json:"call_ask"`
	CallOI    int64           `json:"call_oi"`
	CallVol   int64           `json:"call_vol"`
	CallIV    float64         `json:"call_iv"`
	PutLTP    decimal.Decimal `json:"put_ltp"`
	PutBid    decimal.Decimal `json:"put_bid"`
	PutAsk    decimal.Decimal `json:"put_ask"`
	PutOI     int64           `json:"put_oi"`
	PutVol    int64           `json:"put_vol"`
	PutIV     float64         `json:"put_iv"`
	Timestamp time.Time       `json:"timestamp"`
}

// ChainSnapshot is a full option chain for one index and expiry.
type ChainSnapshot struct {
	Index     string          `json:"index"`
	Expiry    string          `json:"expiry"`
	Spot      decimal.Decimal `json:"spot"`
	Rows      []OptionQuote   `json:"rows"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// QuoteResponse is the provider client's answer for one instrument key.
// Exactly one of Quote or Chain is populated depending on the key kind.
type QuoteResponse struct {
	Key       InstrumentKey  `json:"key"`
	Quote     *Quote         `json:"quote,omitempty"`
	Chain     *ChainSnapshot `json:"chain,omitempty"`
	FetchedAt time.Time      `json:"fetched_at"`
	Source    QuoteSource    `json:"source"`
	// Stale is set when the response was synthesized from last-good data
	// because the live path was throttled.
	Stale bool `json:"stale,omitempty"`
}
