// Package currency converts base-currency prices into display currencies
// using exchange rates refreshed from a public rates endpoint.
package currency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"pricewatch/internal/domain"
	logx "pricewatch/pkg/logx"
)

const (
	DefaultBase    = "CNY"
	DefaultAPIURL  = "https://api.exchangerate-api.com/v4/latest/"
	DefaultTimeout = 10 * time.Second
)

// DefaultFallbackRates are used until the first successful refresh.
var DefaultFallbackRates = map[string]decimal.Decimal{
	"USD": decimal.RequireFromString("0.14"),
	"RUB": decimal.RequireFromString("13.0"),
}

type Config struct {
	Base          string
	Targets       []string
	APIURL        string // base currency code is appended
	Timeout       time.Duration
	FallbackRates map[string]decimal.Decimal
}

// Snapshot is a copy of the converter state.
type Snapshot struct {
	Base      string                     `json:"base"`
	Rates     map[string]decimal.Decimal `json:"rates"`
	UpdatedAt *time.Time                 `json:"updated_at,omitempty"`
	Fallback  bool                       `json:"fallback"`
}

// Converter holds the last good rates. It is safe for concurrent use.
type Converter struct {
	cfg   Config
	log   logx.Logger
	http  *http.Client
	clock domain.Clock

	mu        sync.RWMutex
	rates     map[string]decimal.Decimal
	updatedAt *time.Time
}

func New(cfg Config, log logx.Logger, clock domain.Clock) *Converter {
	cfg.Base = strings.ToUpper(strings.TrimSpace(cfg.Base))
	if cfg.Base == "" {
		cfg.Base = DefaultBase
	}
	if strings.TrimSpace(cfg.APIURL) == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if len(cfg.FallbackRates) == 0 {
		cfg.FallbackRates = DefaultFallbackRates
	}
	if len(cfg.Targets) == 0 {
		for k := range cfg.FallbackRates {
			cfg.Targets = append(cfg.Targets, k)
		}
		sort.Strings(cfg.Targets)
	}
	targets := make([]string, 0, len(cfg.Targets))
	for _, t := range cfg.Targets {
		targets = append(targets, strings.ToUpper(strings.TrimSpace(t)))
	}
	cfg.Targets = targets
	if log.IsZero() {
		log = logx.Nop()
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Converter{
		cfg:   cfg,
		log:   log,
		clock: clock,
		http:  &http.Client{Timeout: cfg.Timeout},
		rates: copyRates(cfg.FallbackRates),
	}
}

func (c *Converter) Base() string { return c.cfg.Base }

// Convert expresses amount (in the base currency) in the base and every
// target currency, rounded to 2 decimals. Targets without a known rate are
// omitted.
func (c *Converter) Convert(amount decimal.Decimal) domain.Amounts {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(domain.Amounts, 0, len(c.cfg.Targets)+1)
	out = append(out, domain.Money{Currency: c.cfg.Base, Amount: amount.Round(2)})
	for _, cur := range c.cfg.Targets {
		if cur == c.cfg.Base {
			continue
		}
		r, ok := c.rates[cur]
		if !ok {
			continue
		}
		out = append(out, domain.Money{Currency: cur, Amount: amount.Mul(r).Round(2)})
	}
	return out
}

type ratesResponse struct {
	Base  string                     `json:"base"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

// Refresh fetches current rates. On failure the previous rates stay in use.
// Targets missing from the response keep their previous rate.
func (c *Converter) Refresh(ctx context.Context) error {
	rates, err := c.fetch(ctx)
	if err != nil {
		c.log.Warn("currency refresh failed, keeping previous rates", logx.Err(err))
		return err
	}

	now := c.clock.Now()
	c.mu.Lock()
	next := copyRates(c.rates)
	for _, cur := range c.cfg.Targets {
		if r, ok := rates[cur]; ok && r.IsPositive() {
			next[cur] = r
		}
	}
	c.rates = next
	c.updatedAt = &now
	c.mu.Unlock()

	fields := []logx.Field{logx.String("base", c.cfg.Base)}
	for _, cur := range c.cfg.Targets {
		if r, ok := next[cur]; ok {
			fields = append(fields, logx.Stringer(strings.ToLower(cur), r))
		}
	}
	c.log.Info("currency rates refreshed", fields...)
	return nil
}

func (c *Converter) fetch(ctx context.Context) (map[string]decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIURL+c.cfg.Base, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var body ratesResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode rates: %w", err)
	}
	if len(body.Rates) == 0 {
		return nil, errors.New("empty rates")
	}
	return body.Rates, nil
}

func (c *Converter) Rates() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Snapshot{Base: c.cfg.Base, Rates: copyRates(c.rates), Fallback: c.updatedAt == nil}
	if c.updatedAt != nil {
		t := *c.updatedAt
		s.UpdatedAt = &t
	}
	return s
}

func copyRates(in map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(in))
	for k, v := range in {
		out[strings.ToUpper(k)] = v
	}
	return out
}
