package exchanges

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Extractor pulls the KAS/USDT last price out of an exchange response body.
type Extractor func(body []byte) (decimal.Decimal, error)

// Source is one exchange endpoint.
type Source struct {
	Name    string
	URL     string
	Extract Extractor
}

var errNoPrice = errors.New("no price in response")

// DefaultSources returns every exchange polled for KAS rates, in chart order.
func DefaultSources() []Source {
	return []Source{
		{Name: "bybit", URL: "https://api.bybit.com/v5/market/tickers?category=spot&symbol=KASUSDT", Extract: extractBybit},
		{Name: "kraken", URL: "https://api.kraken.com/0/public/Ticker?pair=KASUSD", Extract: extractKraken},
		{Name: "kucoin", URL: "https://api.kucoin.com/api/v1/market/orderbook/level1?symbol=KAS-USDT", Extract: extractKucoin},
		{Name: "mexc", URL: "https://api.mexc.com/api/v3/ticker/price?symbol=KASUSDT", Extract: extractMexc},
		{Name: "coinex", URL: "https://api.coinex.com/v1/market/ticker?market=KASUSDT", Extract: extractCoinex},
		{Name: "gate", URL: "https://api.gateio.ws/api2/1/ticker/KAS_USDT", Extract: extractGate},
		{Name: "digifinex", URL: "https://openapi.digifinex.com/v3/ticker?symbol=kas_usdt", Extract: extractDigifinex},
		{Name: "xeggex", URL: "https://api.xeggex.com/api/v2/market/info?id=251&symbol=KAS/USDT", Extract: extractXeggex},
		{Name: "uphold", URL: "https://api.uphold.com/v0/ticker/KAS-USD", Extract: extractUphold},
		{Name: "bitget", URL: "https://api.bitget.com/api/v2/spot/market/tickers?symbol=KASUSDT", Extract: extractBitget},
		{Name: "lbank", URL: "https://api.lbkex.com/v2/ticker.do?symbol=kas_usdt", Extract: extractLbank},
		{Name: "bydfi", URL: "https://www.bydfi.com/b2b/rank/orderbook?market_pair=KAS_USDT&depth=1", Extract: extractBydfi},
		{Name: "btse", URL: "https://api.btse.com/spot/api/v3.2/price?symbol=KAS-USDT", Extract: extractBtse},
	}
}

// SourceNames returns the names of sources in order.
func SourceNames(sources []Source) []string {
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = s.Name
	}
	return names
}

// FilterSources keeps the sources named in names, in the order of names.
// An empty names list keeps everything.
func FilterSources(sources []Source, names []string) ([]Source, error) {
	if len(names) == 0 {
		return sources, nil
	}
	byName := make(map[string]Source, len(sources))
	for _, s := range sources {
		byName[strings.ToLower(s.Name)] = s
	}
	out := make([]Source, 0, len(names))
	for _, n := range names {
		s, ok := byName[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return nil, fmt.Errorf("unknown exchange %q", n)
		}
		out = append(out, s)
	}
	return out, nil
}

func extractBybit(body []byte) (decimal.Decimal, error) {
	var r struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List []struct {
				LastPrice decimal.Decimal `json:"lastPrice"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return decimal.Zero, err
	}
	if r.RetCode != 0 {
		return decimal.Zero, fmt.Errorf("retCode=%d msg=%s", r.RetCode, r.RetMsg)
	}
	if len(r.Result.List) == 0 {
		return decimal.Zero, errNoPrice
	}
	return r.Result.List[0].LastPrice, nil
}

func extractKraken(body []byte) (decimal.Decimal, error) {
	var r struct {
		Error  []string `json:"error"`
		Result map[string]struct {
			Close []decimal.Decimal `json:"c"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return decimal.Zero, err
	}
	if len(r.Error) > 0 {
		return decimal.Zero, fmt.Errorf("kraken: %s", strings.Join(r.Error, "; "))
	}
	pair, ok := r.Result["KASUSD"]
	if !ok || len(pair.Close) == 0 {
		return decimal.Zero, errNoPrice
	}
	return pair.Close[0], nil
}

func extractKucoin(body []byte) (decimal.Decimal, error) {
	var r struct {
		Code string `json:"code"`
		Data *struct {
			Price decimal.Decimal `json:"price"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return decimal.Zero, err
	}
	if r.Code != "200000" {
		return decimal.Zero, fmt.Errorf("code=%s", r.Code)
	}
	if r.Data == nil {
		return decimal.Zero, errNoPrice
	}
	return r.Data.Price, nil
}

func extractMexc(body []byte) (decimal.Decimal, error) {
	var r struct {
		Price *decimal.Decimal `json:"price"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return decimal.Zero, err
	}
	if r.Price == nil {
		return decimal.Zero, errNoPrice
	}
	return *r.Price, nil
}

func extractCoinex(body []byte) (decimal.Decimal, error) {
	var r struct {
		Code int `json:"code"`
		Data struct {
			Ticker struct {
				Last *decimal.Decimal `json:"last"`
			} `json:"ticker"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return decimal.Zero, err
	}
	if r.Code != 0 {
		return decimal.Zero, fmt.Errorf("code=%d", r.Code)
	}
	if r.Data.Ticker.Last == nil {
		return decimal.Zero, errNoPrice
	}
	return *r.Data.Ticker.Last, nil
}

func extractGate(body []byte) (decimal.Decimal, error) {
	var r struct {
		Result json.RawMessage  `json:"result"`
		Last   *decimal.Decimal `json:"last"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return decimal.Zero, err
	}
	if !truthy(r.Result) {
		return decimal.Zero, fmt.Errorf("result=%s", string(r.Result))
	}
	if r.Last == nil {
		return decimal.Zero, errNoPrice
	}
	return *r.Last, nil
}

func extractDigifinex(body []byte) (decimal.Decimal, error) {
	var r struct {
		Code   int `json:"code"`
		Ticker []struct {
			Last decimal.Decimal `json:"last"`
		} `json:"ticker"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return decimal.Zero, err
	}
	if r.Code != 0 {
		return decimal.Zero, fmt.Errorf("code=%d", r.Code)
	}
	if len(r.Ticker) == 0 {
		return decimal.Zero, errNoPrice
	}
	return r.Ticker[0].Last, nil
}

func extractXeggex(body []byte) (decimal.Decimal, error) {
	var r struct {
		LastPrice *decimal.Decimal `json:"lastPrice"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return decimal.Zero, err
	}
	if r.LastPrice == nil {
		return decimal.Zero, errNoPrice
	}
	return *r.LastPrice, nil
}

func extractUphold(body []byte) (decimal.Decimal, error) {
	var r struct {
		Ask *decimal.Decimal `json:"ask"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return decimal.Zero, err
	}
	if r.Ask == nil {
		return decimal.Zero, errNoPrice
	}
	return *r.Ask, nil
}

func extractBitget(body []byte) (decimal.Decimal, error) {
	var r struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
		Data []struct {
			LastPr decimal.Decimal `json:"lastPr"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return decimal.Zero, err
	}
	if r.Code != "00000" {
		return decimal.Zero, fmt.Errorf("code=%s msg=%s", r.Code, r.Msg)
	}
	if len(r.Data) == 0 {
		return decimal.Zero, errNoPrice
	}
	return r.Data[0].LastPr, nil
}

func extractLbank(body []byte) (decimal.Decimal, error) {
	var r struct {
		Result json.RawMessage `json:"result"`
		Data   []struct {
			Ticker struct {
				Latest decimal.Decimal `json:"latest"`
			} `json:"ticker"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return decimal.Zero, err
	}
	if !truthy(r.Result) {
		return decimal.Zero, fmt.Errorf("result=%s", string(r.Result))
	}
	if len(r.Data) == 0 {
		return decimal.Zero, errNoPrice
	}
	return r.Data[0].Ticker.Latest, nil
}

func extractBydfi(body []byte) (decimal.Decimal, error) {
	var r struct {
		Code int `json:"code"`
		Asks []struct {
			Price decimal.Decimal `json:"price"`
		} `json:"asks"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return decimal.Zero, err
	}
	if r.Code != 200 {
		return decimal.Zero, fmt.Errorf("code=%d", r.Code)
	}
	if len(r.Asks) == 0 {
		return decimal.Zero, errNoPrice
	}
	return r.Asks[0].Price, nil
}

func extractBtse(body []byte) (decimal.Decimal, error) {
	var r []struct {
		LastPrice decimal.Decimal `json:"lastPrice"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return decimal.Zero, err
	}
	if len(r) == 0 {
		return decimal.Zero, errNoPrice
	}
	return r[0].LastPrice, nil
}

// truthy accepts both "true" and true; some exchanges quote their booleans.
func truthy(raw json.RawMessage) bool {
	return strings.Trim(strings.TrimSpace(string(raw)), `"`) == "true"
}
