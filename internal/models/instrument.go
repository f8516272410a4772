package models

import (
	"fmt"
	"strings"
	"time"
)

// InstrumentKind distinguishes the flavours of market data a key can address.
type InstrumentKind string

const (
	KindSpot   InstrumentKind = "spot"
	KindOption InstrumentKind = "option"
	KindChain  InstrumentKind = "chain"
)

// OptionType is the contract side of an option instrument.
type OptionType string

const (
	OptionTypeCall OptionType = "CE"
	OptionTypePut  OptionType = "PE"
)

// InstrumentKey identifies a single upstream instrument. The zero Strike,
// Expiry and OptionType are used for spot keys. The struct is comparable so
// it can be used directly as a map key by the cache and coalescer.
type InstrumentKey struct {
	Index      string         `json:"index"`
	Expiry     string         `json:"expiry,omitempty"` // YYYY-MM-DD, empty for spot
	Strike     int64          `json:"strike,omitempty"`
	OptionType OptionType     `json:"option_type,omitempty"`
	Kind       InstrumentKind `json:"kind"`
}

// SpotKey builds the key addressing an index spot quote.
func SpotKey(index string) InstrumentKey {
	return InstrumentKey{Index: strings.ToUpper(strings.TrimSpace(index)), Kind: KindSpot}
}

// OptionKey builds the key addressing a single option contract.
func OptionKey(index, expiry string, strike int64, optType OptionType) InstrumentKey {
	return InstrumentKey{
		Index:      strings.ToUpper(strings.TrimSpace(index)),
		Expiry:     expiry,
		Strike:     strike,
		OptionType: optType,
		Kind:       KindOption,
	}
}

// ChainKey builds the key addressing a full option chain snapshot.
func ChainKey(index, expiry string) InstrumentKey {
	return InstrumentKey{
		Index:  strings.ToUpper(strings.TrimSpace(index)),
		Expiry: expiry,
		Kind:   KindChain,
	}
}

// String renders the key in the compact form used in logs and metric fields,
// e.g. "NIFTY", "NIFTY:2026-08-27" or "BANKNIFTY:2026-08-27:48000CE".
func (k InstrumentKey) String() string {
	switch k.Kind {
	case KindOption:
		return fmt.Sprintf("%s:%s:%d%s", k.Index, k.Expiry, k.Strike, k.OptionType)
	case KindChain:
		return fmt.Sprintf("%s:%s", k.Index, k.Expiry)
	default:
		return k.Index
	}
}

// Validate reports whether the key is well formed for its kind.
func (k InstrumentKey) Validate() error {
	if k.Index == "" {
		return fmt.Errorf("instrument key missing index")
	}
	switch k.Kind {
	case KindSpot:
		return nil
	case KindChain:
		if k.Expiry == "" {
			return fmt.Errorf("chain key %s missing expiry", k.Index)
		}
		return nil
	case KindOption:
		if k.Expiry == "" {
			return fmt.Errorf("option key %s missing expiry", k.Index)
		}
		if k.Strike <= 0 {
			return fmt.Errorf("option key %s has invalid strike %d", k.Index, k.Strike)
		}
		if k.OptionType != OptionTypeCall && k.OptionType != OptionTypePut {
			return fmt.Errorf("option key %s has invalid option type %q", k.Index, k.OptionType)
		}
		return nil
	default:
		return fmt.Errorf("instrument key %s has unknown kind %q", k.Index, k.Kind)
	}
}

// ParseExpiry converts an expiry tag into a time value at midnight venue time.
func ParseExpiry(tag string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation("2006-01-02", tag, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid expiry tag %q: %w", tag, err)
	}
	return t, nil
}
