// Package rates fetches fiat exchange rates for supported tokens from
// CoinGecko, with a TTL cache and stale fallback so a flaky rate API
// degrades quoting instead of breaking checkout.
package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"bursar/internal/payments"
	"bursar/pkg/logging"
)

const defaultBaseURL = "https://api.coingecko.com/api/v3"

type cacheEntry struct {
	rate      decimal.Decimal
	fetchedAt time.Time
}

// CoinGecko is a RateSource backed by the CoinGecko simple price API.
// Rates are cached per (token, fiat) pair; on a fetch failure a stale
// cached rate is returned rather than an error, because an old rate
// still produces a payable quote.
type CoinGecko struct {
	baseURL string
	client  *http.Client
	tokens  *payments.TokenRegistry
	logger  logging.Logger
	ttl     time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type Option func(*CoinGecko)

func NewCoinGecko(tokens *payments.TokenRegistry, logger logging.Logger, opts ...Option) *CoinGecko {
	c := &CoinGecko{
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		tokens:  tokens,
		logger:  logger,
		ttl:     time.Minute,
		cache:   make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func WithBaseURL(baseURL string) Option {
	return func(c *CoinGecko) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *CoinGecko) {
		if client != nil {
			c.client = client
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(c *CoinGecko) { c.ttl = ttl }
}

var _ payments.RateSource = (*CoinGecko)(nil)

// Rate returns the fiat price of one whole token
func (c *CoinGecko) Rate(ctx context.Context, fiatCurrency, token string) (decimal.Decimal, error) {
	tok, ok := c.tokens.Get(token)
	if !ok {
		return decimal.Zero, payments.ErrUnsupportedToken
	}
	vs := strings.ToLower(fiatCurrency)
	key := tok.CoinGeckoID + "/" + vs

	c.mu.RLock()
	cached, haveCached := c.cache[key]
	c.mu.RUnlock()

	if haveCached && time.Since(cached.fetchedAt) < c.ttl {
		return cached.rate, nil
	}

	rate, err := c.fetch(ctx, tok.CoinGeckoID, vs)
	if err != nil {
		if haveCached {
			c.logger.WithError(err).WithField("token", tok.Symbol).Warn("Rate fetch failed, using stale rate")
			return cached.rate, nil
		}
		return decimal.Zero, fmt.Errorf("%w: %v", payments.ErrRateUnavailable, err)
	}

	c.mu.Lock()
	c.cache[key] = cacheEntry{rate: rate, fetchedAt: time.Now()}
	c.mu.Unlock()

	c.logger.WithFields(logging.Fields{"token": tok.Symbol, "fiat": vs, "rate": rate.String()}).Debug("Fetched fresh rate")
	return rate, nil
}

func (c *CoinGecko) fetch(ctx context.Context, coinID, vs string) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=%s&precision=full", c.baseURL, coinID, vs)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch rate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("rate API returned status %d", resp.StatusCode)
	}

	// {"solana":{"usd":150.25}}
	var result map[string]map[string]json.Number
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode rate response: %w", err)
	}

	raw, ok := result[coinID][vs]
	if !ok {
		return decimal.Zero, fmt.Errorf("rate for %s/%s not in response", coinID, vs)
	}
	rate, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid rate %q: %w", raw.String(), err)
	}
	if rate.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("non-positive rate %s", rate.String())
	}
	return rate, nil
}
