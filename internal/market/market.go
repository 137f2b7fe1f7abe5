// Package market fetches current spot prices for the outcome evaluator.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"alert-tuning-lab/internal/domain"
	"alert-tuning-lab/internal/observability"
)

// PriceFetcher returns the current price of a symbol.
// Failures wrap domain.ErrPriceUnavailable.
type PriceFetcher interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Config configures the ticker client.
type Config struct {
	BaseURL         string
	Timeout         time.Duration // per attempt
	Retries         int           // extra attempts after the first
	RatePerSecond   float64
	Burst           int
	BreakerFailures uint32
}

// Client is a PriceFetcher for a /api/v3/ticker/price style endpoint.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	metrics *observability.Metrics
}

// NewClient creates a ticker client. metrics may be nil.
func NewClient(cfg Config, metrics *observability.Metrics) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	st := gobreaker.Settings{
		Name:    "market-ticker",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// A symbol the venue does not list is not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errUnknownSymbol)
		},
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker(st),
		metrics: metrics,
	}
}

var errUnknownSymbol = errors.New("unknown symbol")

type tickerResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// Price fetches the last price. Each attempt is bounded by cfg.Timeout.
func (c *Client) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	start := time.Now()
	var (
		price decimal.Decimal
		err   error
	)
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		price, err = c.attempt(ctx, symbol)
		if err == nil || errors.Is(err, errUnknownSymbol) || errors.Is(err, gobreaker.ErrOpenState) || ctx.Err() != nil {
			break
		}
	}
	c.metrics.RecordPriceFetch(time.Since(start), err)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %v", domain.ErrPriceUnavailable, symbol, err)
	}
	return price, nil
}

func (c *Client) attempt(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return decimal.Zero, err
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, symbol)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return out.(decimal.Decimal), nil
}

func (c *Client) fetch(ctx context.Context, symbol string) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	u := c.cfg.BaseURL + "/api/v3/ticker/price?symbol=" + url.QueryEscape(symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get ticker: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return decimal.Zero, fmt.Errorf("read ticker: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound:
		return decimal.Zero, fmt.Errorf("%w: status %d", errUnknownSymbol, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return decimal.Zero, fmt.Errorf("ticker returned status %d", resp.StatusCode)
	}

	var tr tickerResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return decimal.Zero, fmt.Errorf("decode ticker: %w", err)
	}
	price, err := decimal.NewFromString(tr.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse price %q: %w", tr.Price, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive price %s", price)
	}
	return price, nil
}

// Memo caches one price per symbol for the lifetime of an evaluator pass.
// Failures are cached too so a bad symbol costs one lookup per pass.
type Memo struct {
	fetcher PriceFetcher

	mu      sync.Mutex
	results map[string]memoResult
}

type memoResult struct {
	price decimal.Decimal
	err   error
}

// NewMemo wraps fetcher.
func NewMemo(fetcher PriceFetcher) *Memo {
	return &Memo{fetcher: fetcher, results: make(map[string]memoResult)}
}

// Price implements PriceFetcher.
func (m *Memo) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.results[symbol]; ok {
		return r.price, r.err
	}
	p, err := m.fetcher.Price(ctx, symbol)
	m.results[symbol] = memoResult{price: p, err: err}
	return p, err
}

// Static is a fixed price table, used by tests and dry runs.
type Static map[string]decimal.Decimal

// Price implements PriceFetcher.
func (s Static) Price(_ context.Context, symbol string) (decimal.Decimal, error) {
	p, ok := s[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrPriceUnavailable, symbol)
	}
	return p, nil
}
