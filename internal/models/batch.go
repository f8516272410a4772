package models

import "time"

// ChainRow is one flattened option chain row as written to storage. One
// ChainSnapshot fans out into one row per strike.
type ChainRow struct {
	Index      string    `json:"index"`
	Expiry     string    `json:"expiry"`
	Strike     int64     `json:"strike"`
	OptionType string    `json:"option_type"` // "CE" or "PE"
	LTP        float64   `json:"ltp"`
	Bid        float64   `json:"bid"`
	Ask        float64   `json:"ask"`
	OI         int64     `json:"oi"`
	Volume     int64     `json:"volume"`
	IV         float64   `json:"iv"`
	Spot       float64   `json:"spot"`
	Timestamp  time.Time `json:"timestamp"`
	CycleNum   uint64    `json:"cycle_num"`
}

// SpotRow is one flattened index spot observation as written to storage.
type SpotRow struct {
	Index     string    `json:"index"`
	LastPrice float64   `json:"last_price"`
	Source    string    `json:"source"`
	Stale     bool      `json:"stale"`
	Timestamp time.Time `json:"timestamp"`
	CycleNum  uint64    `json:"cycle_num"`
}

// SpotBatch groups spot rows flowing from the collector to the writer.
type SpotBatch struct {
	BatchID     string    `json:"batch_id"`
	Index       string    `json:"index"`
	Rows        []SpotRow `json:"rows"`
	RecordCount int       `json:"record_count"`
	Timestamp   time.Time `json:"timestamp"`
}

// ChainBatch groups chain rows flowing from the collector to the writer.
type ChainBatch struct {
	BatchID     string     `json:"batch_id"`
	Index       string     `json:"index"`
	Expiry      string     `json:"expiry"`
	Rows        []ChainRow `json:"rows"`
	RecordCount int        `json:"record_count"`
	Timestamp   time.Time  `json:"timestamp"`
}

// FlattenChain expands a chain snapshot into storage rows, one per populated
// option leg. Strikes with no traded legs still produce rows so gaps in the
// chain remain visible downstream.
func FlattenChain(snap *ChainSnapshot, cycle uint64) []ChainRow {
	if snap == nil {
		return nil
	}
	spot, _ := snap.Spot.Float64()
	rows := make([]ChainRow, 0, len(snap.Rows)*2)
	for _, r := range snap.Rows {
		ts := r.Timestamp
		if ts.IsZero() {
			ts = snap.FetchedAt
		}
		callLTP, _ := r.CallLTP.Float64()
		callBid, _ := r.CallBid.Float64()
		callAsk, _ := r.CallAsk.Float64()
		rows = append(rows, ChainRow{
			Index:      snap.Index,
			Expiry:     snap.Expiry,
			Strike:     r.Strike,
			OptionType: string(OptionTypeCall),
			LTP:        callLTP,
			Bid:        callBid,
			Ask:        callAsk,
			OI:         r.CallOI,
			Volume:     r.CallVol,
			IV:         r.CallIV,
			Spot:       spot,
			Timestamp:  ts,
			CycleNum:   cycle,
		})
		putLTP, _ := r.PutLTP.Float64()
		putBid, _ := r.PutBid.Float64()
		putAsk, _ := r.PutAsk.Float64()
		rows = append(rows, ChainRow{
			Index:      snap.Index,
			Expiry:     snap.Expiry,
			Strike:     r.Strike,
			OptionType: string(OptionTypePut),
			LTP:        putLTP,
			Bid:        putBid,
			Ask:        putAsk,
			OI:         r.PutOI,
			Volume:     r.PutVol,
			IV:         r.PutIV,
			Spot:       spot,
			Timestamp:  ts,
			CycleNum:   cycle,
		})
	}
	return rows
}
