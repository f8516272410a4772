package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	appconfig "optionflow/config"
	"optionflow/internal/models"
	"optionflow/logger"
)

const nseExpiryLayout = "02-Jan-2006"

// spotNames maps an index symbol to the display name used by the NSE
// all-indices payload.
var spotNames = map[string]string{
	"NIFTY":      "NIFTY 50",
	"BANKNIFTY":  "NIFTY BANK",
	"FINNIFTY":   "NIFTY FINANCIAL SERVICES",
	"MIDCPNIFTY": "NIFTY MIDCAP SELECT",
}

// liveBackend polls the public NSE REST endpoints. NSE fronts the API with
// a bot-detection layer that requires browser-like headers and a session
// cookie obtained from the homepage, so the backend keeps a cookie jar and
// re-primes it whenever the upstream rejects the session.
type liveBackend struct {
	baseURL string
	client  *http.Client
	log     *logger.Log

	mu       sync.Mutex
	primedAt time.Time
}

func newLiveBackend(cfg *appconfig.Config) (*liveBackend, error) {
	baseURL := strings.TrimSpace(cfg.Provider.BaseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("live backend requires provider.base_url")
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	timeout := cfg.Provider.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &liveBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
			Jar:     jar,
		},
		log: logger.GetLogger(),
	}, nil
}

func (b *liveBackend) Name() string {
	return "live"
}

func (b *liveBackend) FetchSpot(ctx context.Context, index string) (models.QuoteResponse, error) {
	key := models.SpotKey(index)
	if err := key.Validate(); err != nil {
		return models.QuoteResponse{}, err
	}

	payload, err := b.fetchIndices(ctx)
	if err != nil {
		return models.QuoteResponse{}, err
	}

	resp, err := spotFromIndices(payload, key)
	if err != nil {
		return models.QuoteResponse{}, err
	}
	return resp, nil
}

func (b *liveBackend) FetchChain(ctx context.Context, index, expiry string) (models.QuoteResponse, error) {
	key := models.ChainKey(index, expiry)
	if err := key.Validate(); err != nil {
		return models.QuoteResponse{}, err
	}

	payload, err := b.fetchChainPayload(ctx, key.Index)
	if err != nil {
		return models.QuoteResponse{}, err
	}
	return chainFromPayload(payload, key)
}

// FetchQuotes serves a coalesced batch. Spot keys share one all-indices
// call; option and chain keys share one chain call per distinct index and
// expiry. Groups are fetched sequentially so a large window does not burst
// the upstream.
func (b *liveBackend) FetchQuotes(ctx context.Context, keys []models.InstrumentKey) (map[models.InstrumentKey]models.QuoteResponse, error) {
	results := make(map[models.InstrumentKey]models.QuoteResponse, len(keys))

	var spotKeys []models.InstrumentKey
	chainGroups := make(map[string][]models.InstrumentKey)
	for _, key := range keys {
		if key.Kind == models.KindSpot {
			spotKeys = append(spotKeys, key)
			continue
		}
		group := key.Index + "|" + key.Expiry
		chainGroups[group] = append(chainGroups[group], key)
	}

	if len(spotKeys) > 0 {
		payload, err := b.fetchIndices(ctx)
		if err != nil {
			return nil, err
		}
		for _, key := range spotKeys {
			resp, err := spotFromIndices(payload, key)
			if err != nil {
				continue
			}
			results[key] = resp
		}
	}

	groups := make([]string, 0, len(chainGroups))
	for group := range chainGroups {
		groups = append(groups, group)
	}
	sort.Strings(groups)

	for _, group := range groups {
		members := chainGroups[group]
		index, expiry := members[0].Index, members[0].Expiry
		payload, err := b.fetchChainPayload(ctx, index)
		if err != nil {
			return nil, err
		}
		chainResp, err := chainFromPayload(payload, models.ChainKey(index, expiry))
		if err != nil {
			continue
		}
		for _, key := range members {
			if key.Kind == models.KindChain {
				resp := chainResp
				resp.Key = key
				results[key] = resp
				continue
			}
			if quote, ok := optionFromChain(chainResp.Chain, key); ok {
				results[key] = models.QuoteResponse{
					Key:       key,
					Quote:     &quote,
					FetchedAt: chainResp.FetchedAt,
					Source:    models.SourceDirect,
				}
			}
		}
	}

	return results, nil
}

func (b *liveBackend) HealthCheck(ctx context.Context) error {
	_, err := b.fetchIndices(ctx)
	return err
}

func (b *liveBackend) fetchIndices(ctx context.Context) (*models.NSEIndicesResp, error) {
	var payload models.NSEIndicesResp
	if err := b.getJSON(ctx, "/api/allIndices", &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (b *liveBackend) fetchChainPayload(ctx context.Context, index string) (*models.NSEChainResp, error) {
	endpoint := "/api/option-chain-indices?symbol=" + url.QueryEscape(index)
	var payload models.NSEChainResp
	if err := b.getJSON(ctx, endpoint, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (b *liveBackend) getJSON(ctx context.Context, endpoint string, out any) error {
	if err := b.primeSession(ctx, false); err != nil {
		return err
	}

	resp, err := b.get(ctx, endpoint)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	// A rejected session means the anti-bot cookie expired. Re-prime once
	// and replay before treating it as a failure.
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		drain(resp)
		if err := b.primeSession(ctx, true); err != nil {
			return err
		}
		resp, err = b.get(ctx, endpoint)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUpstream, err)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return newUpstreamError(resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrUpstream, endpoint, err)
	}
	return nil
}

func (b *liveBackend) get(ctx context.Context, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+endpoint, nil)
	if err != nil {
		return nil, err
	}
	b.setHeaders(req)
	return b.client.Do(req)
}

// primeSession fetches the homepage so the cookie jar holds a valid
// session. Sessions last well beyond one cycle; re-priming on every call
// would itself look like bot traffic.
func (b *liveBackend) primeSession(ctx context.Context, force bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !force && time.Since(b.primedAt) < 15*time.Minute && !b.primedAt.IsZero() {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	b.setHeaders(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: prime session: %v", ErrUpstream, err)
	}
	drain(resp)

	if resp.StatusCode != http.StatusOK {
		return newUpstreamError(resp.StatusCode, "session prime rejected")
	}

	b.primedAt = time.Now()
	b.log.WithComponent("live_backend").Debug("nse session primed")
	return nil
}

func (b *liveBackend) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", b.baseURL+"/option-chain")
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}

func spotFromIndices(payload *models.NSEIndicesResp, key models.InstrumentKey) (models.QuoteResponse, error) {
	want := spotNames[key.Index]
	if want == "" {
		want = key.Index
	}

	for _, row := range payload.Data {
		if !strings.EqualFold(row.Index, want) && !strings.EqualFold(row.IndexSymbol, key.Index) {
			continue
		}
		now := time.Now().UTC()
		return models.QuoteResponse{
			Key: key,
			Quote: &models.Quote{
				Key:        key,
				LastPrice:  decimal.NewFromFloat(row.Last),
				ExchangeTS: now,
			},
			FetchedAt: now,
			Source:    models.SourceDirect,
		}, nil
	}
	return models.QuoteResponse{}, fmt.Errorf("%w: index %s", ErrNotFound, key.Index)
}

func chainFromPayload(payload *models.NSEChainResp, key models.InstrumentKey) (models.QuoteResponse, error) {
	expiry, err := models.ParseExpiry(key.Expiry, time.UTC)
	if err != nil {
		return models.QuoteResponse{}, err
	}
	nseExpiry := expiry.Format(nseExpiryLayout)

	now := time.Now().UTC()
	snap := &models.ChainSnapshot{
		Index:     key.Index,
		Expiry:    key.Expiry,
		Spot:      decimal.NewFromFloat(payload.Records.UnderlyingValue),
		FetchedAt: now,
	}

	for _, row := range payload.Records.Data {
		if row.ExpiryDate != nseExpiry {
			continue
		}
		quote := models.OptionQuote{
			Strike:    int64(row.StrikePrice),
			Timestamp: now,
		}
		if leg := row.CE; leg != nil {
			quote.CallLTP = decimal.NewFromFloat(leg.LastPrice)
			quote.CallBid = decimal.NewFromFloat(leg.BidPrice)
			quote.CallAsk = decimal.NewFromFloat(leg.AskPrice)
			quote.CallOI = int64(leg.OpenInterest)
			quote.CallVol = int64(leg.TotalTradedVolume)
			quote.CallIV = leg.ImpliedVolatility
		}
		if leg := row.PE; leg != nil {
			quote.PutLTP = decimal.NewFromFloat(leg.LastPrice)
			quote.PutBid = decimal.NewFromFloat(leg.BidPrice)
			quote.PutAsk = decimal.NewFromFloat(leg.AskPrice)
			quote.PutOI = int64(leg.OpenInterest)
			quote.PutVol = int64(leg.TotalTradedVolume)
			quote.PutIV = leg.ImpliedVolatility
		}
		snap.Rows = append(snap.Rows, quote)
	}

	if len(snap.Rows) == 0 {
		return models.QuoteResponse{}, fmt.Errorf("%w: no strikes for %s", ErrNotFound, key.String())
	}

	sort.Slice(snap.Rows, func(i, j int) bool {
		return snap.Rows[i].Strike < snap.Rows[j].Strike
	})

	return models.QuoteResponse{
		Key:       key,
		Chain:     snap,
		FetchedAt: now,
		Source:    models.SourceDirect,
	}, nil
}

// optionFromChain extracts one leg quote for an option key out of a chain
// snapshot.
func optionFromChain(snap *models.ChainSnapshot, key models.InstrumentKey) (models.Quote, bool) {
	if snap == nil {
		return models.Quote{}, false
	}
	for _, row := range snap.Rows {
		if row.Strike != key.Strike {
			continue
		}
		quote := models.Quote{
			Key:        key,
			ExchangeTS: row.Timestamp,
		}
		switch key.OptionType {
		case models.OptionTypeCall:
			quote.LastPrice = row.CallLTP
			quote.BidPrice = row.CallBid
			quote.AskPrice = row.CallAsk
			quote.OI = row.CallOI
			quote.Volume = row.CallVol
		case models.OptionTypePut:
			quote.LastPrice = row.PutLTP
			quote.BidPrice = row.PutBid
			quote.AskPrice = row.PutAsk
			quote.OI = row.PutOI
			quote.Volume = row.PutVol
		default:
			return models.Quote{}, false
		}
		return quote, true
	}
	return models.Quote{}, false
}
