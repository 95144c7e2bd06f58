// Package buff prices items through the buff.163.com sell-order API.
package buff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pricewatch/internal/domain"
	"pricewatch/internal/pricesource"
	logx "pricewatch/pkg/logx"
)

const (
	DefaultBaseURL   = "https://buff.163.com"
	DefaultGame      = "csgo"
	DefaultTimeout   = 15 * time.Second
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

	sellOrderPath = "/api/market/goods/sell_order"
	maxBodyBytes  = 2 << 20
)

type Config struct {
	BaseURL       string
	SessionCookie string
	Game          string
	Timeout       time.Duration
	UserAgent     string
}

// Client is a pricesource.Source backed by the buff sell-order listing.
// The lowest listed sell order is the item's price.
type Client struct {
	cfg  Config
	log  logx.Logger
	http *http.Client
}

var _ pricesource.Source = (*Client)(nil)

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.SessionCookie) == "" {
		return nil, errors.New("buff session cookie is empty")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("buff base url: %w", err)
	}
	if strings.TrimSpace(cfg.Game) == "" {
		cfg.Game = DefaultGame
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg: cfg,
		log: log,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

type sellOrderResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Items []struct {
			Price string `json:"price"`
		} `json:"items"`
		GoodsInfos map[string]struct {
			MarketHashName string `json:"market_hash_name"`
			Name           string `json:"name"`
		} `json:"goods_infos"`
	} `json:"data"`
}

// Fetch returns the lowest sell order for catalogID. Every failure is a
// *domain.FetchError.
func (c *Client) Fetch(ctx context.Context, catalogID int64) (pricesource.Quote, error) {
	start := time.Now()
	q, err := c.fetch(ctx, catalogID)
	if err != nil {
		c.log.Debug("buff fetch failed", logx.Int64("catalog_id", catalogID), logx.Duration("took", time.Since(start)), logx.Err(err))
		return pricesource.Quote{}, &domain.FetchError{CatalogID: catalogID, Err: err}
	}
	c.log.Trace("buff fetch ok", logx.Int64("catalog_id", catalogID), logx.Stringer("price", q.Price), logx.Duration("took", time.Since(start)))
	return q, nil
}

func (c *Client) fetch(ctx context.Context, catalogID int64) (pricesource.Quote, error) {
	id := strconv.FormatInt(catalogID, 10)
	v := url.Values{}
	v.Set("game", c.cfg.Game)
	v.Set("goods_id", id)
	v.Set("page_num", "1")
	v.Set("sort_by", "default")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+sellOrderPath+"?"+v.Encode(), nil)
	if err != nil {
		return pricesource.Quote{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cookie", "session="+c.cfg.SessionCookie)

	resp, err := c.http.Do(req)
	if err != nil {
		return pricesource.Quote{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return pricesource.Quote{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var body sellOrderResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return pricesource.Quote{}, fmt.Errorf("decode response: %w", err)
	}
	if body.Code != "OK" {
		if body.Msg != "" {
			return pricesource.Quote{}, fmt.Errorf("api code %q: %s", body.Code, body.Msg)
		}
		return pricesource.Quote{}, fmt.Errorf("api code %q", body.Code)
	}
	if len(body.Data.Items) == 0 {
		return pricesource.Quote{}, errors.New("no sell orders listed")
	}

	price, err := decimal.NewFromString(strings.TrimSpace(body.Data.Items[0].Price))
	if err != nil {
		return pricesource.Quote{}, fmt.Errorf("malformed price %q: %w", body.Data.Items[0].Price, err)
	}
	if !price.IsPositive() {
		return pricesource.Quote{}, fmt.Errorf("non-positive price %s", price)
	}

	name := ""
	if info, ok := body.Data.GoodsInfos[id]; ok {
		name = info.MarketHashName
		if name == "" {
			name = info.Name
		}
	}
	if name == "" {
		name = "Item " + id
	}
	return pricesource.Quote{CatalogID: catalogID, Name: name, Price: price}, nil
}
