package models

// NSEChainResp mirrors the option-chain payload served by the NSE public
// API. Field names follow the wire format, including its inconsistent
// casing on bidprice.
type NSEChainResp struct {
	Records NSEChainRecords `json:"records"`
}

type NSEChainRecords struct {
	ExpiryDates     []string      `json:"expiryDates"`
	Data            []NSEChainRow `json:"data"`
	Timestamp       string        `json:"timestamp"`
	UnderlyingValue float64       `json:"underlyingValue"`
}

type NSEChainRow struct {
	StrikePrice float64       `json:"strikePrice"`
	ExpiryDate  string        `json:"expiryDate"`
	CE          *NSEOptionLeg `json:"CE,omitempty"`
	PE          *NSEOptionLeg `json:"PE,omitempty"`
}

type NSEOptionLeg struct {
	StrikePrice       float64 `json:"strikePrice"`
	ExpiryDate        string  `json:"expiryDate"`
	Underlying        string  `json:"underlying"`
	Identifier        string  `json:"identifier"`
	OpenInterest      float64 `json:"openInterest"`
	ChangeInOI        float64 `json:"changeinOpenInterest"`
	TotalTradedVolume float64 `json:"totalTradedVolume"`
	ImpliedVolatility float64 `json:"impliedVolatility"`
	LastPrice         float64 `json:"lastPrice"`
	Change            float64 `json:"change"`
	PChange           float64 `json:"pChange"`
	BidQty            int64   `json:"bidQty"`
	BidPrice          float64 `json:"bidprice"`
	AskQty            int64   `json:"askQty"`
	AskPrice          float64 `json:"askPrice"`
	UnderlyingValue   float64 `json:"underlyingValue"`
}

// NSEIndicesResp mirrors the all-indices payload used for spot levels.
type NSEIndicesResp struct {
	Data []NSEIndexRow `json:"data"`
}

type NSEIndexRow struct {
	Index         string  `json:"index"`
	IndexSymbol   string  `json:"indexSymbol"`
	Last          float64 `json:"last"`
	Variation     float64 `json:"variation"`
	PercentChange float64 `json:"percentChange"`
	TimeVal       string  `json:"timeVal"`
}
