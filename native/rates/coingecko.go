package rates

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPDoer abstracts the HTTP client so tests can stub transport behaviour.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

const defaultCoinGeckoEndpoint = "https://api.coingecko.com/api/v3/simple/price"

// CoinGeckoOracle adapts the public CoinGecko simple price API. The idMap
// translates asset symbols (e.g. SOL) into CoinGecko asset identifiers
// (e.g. solana); unmapped symbols fall back to their lowercase form.
type CoinGeckoOracle struct {
	client   HTTPDoer
	endpoint string
	idMap    map[string]string
}

// NewCoinGeckoOracle constructs a new adapter. A nil client uses the default
// HTTP client; an empty endpoint uses the public API.
func NewCoinGeckoOracle(client HTTPDoer, endpoint string, idMap map[string]string) *CoinGeckoOracle {
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		ep = defaultCoinGeckoEndpoint
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	mapped := make(map[string]string, len(idMap))
	for symbol, id := range idMap {
		mapped[normalizeSymbol(symbol)] = strings.TrimSpace(id)
	}
	return &CoinGeckoOracle{client: client, endpoint: ep, idMap: mapped}
}

func (o *CoinGeckoOracle) assetID(symbol string) string {
	if id, ok := o.idMap[normalizeSymbol(symbol)]; ok && id != "" {
		return id
	}
	return strings.ToLower(strings.TrimSpace(symbol))
}

// GetRate implements PriceOracle. The returned rate is fiat units per whole
// crypto unit, exactly as the simple price endpoint reports it.
func (o *CoinGeckoOracle) GetRate(fiat, asset string) (PriceQuote, error) {
	fiatSym := strings.ToLower(normalizeSymbol(fiat))
	id := o.assetID(asset)
	if fiatSym == "" || id == "" {
		return PriceQuote{}, fmt.Errorf("rates: coingecko pair incomplete")
	}

	req, err := http.NewRequest(http.MethodGet, o.endpoint, nil)
	if err != nil {
		return PriceQuote{}, err
	}
	values := url.Values{}
	values.Set("ids", id)
	values.Set("vs_currencies", fiatSym)
	values.Set("include_last_updated_at", "true")
	req.URL.RawQuery = values.Encode()

	resp, err := o.client.Do(req)
	if err != nil {
		return PriceQuote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return PriceQuote{}, fmt.Errorf("rates: coingecko status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	var payload map[string]map[string]json.Number
	if err := decoder.Decode(&payload); err != nil {
		return PriceQuote{}, fmt.Errorf("rates: coingecko decode: %w", err)
	}
	entry, ok := payload[id]
	if !ok {
		return PriceQuote{}, fmt.Errorf("rates: coingecko quote missing for %s", id)
	}
	price, ok := entry[fiatSym]
	if !ok {
		return PriceQuote{}, fmt.Errorf("rates: coingecko price missing for %s/%s", fiatSym, id)
	}
	rat, ok := new(big.Rat).SetString(price.String())
	if !ok || rat.Sign() <= 0 {
		return PriceQuote{}, fmt.Errorf("rates: coingecko invalid rate %q", price.String())
	}

	ts := time.Now()
	if rawTs, exists := entry["last_updated_at"]; exists {
		if parsed, err := strconv.ParseInt(rawTs.String(), 10, 64); err == nil && parsed > 0 {
			ts = time.Unix(parsed, 0)
		}
	}
	return PriceQuote{Rate: rat, Timestamp: ts, Source: "coingecko"}, nil
}
