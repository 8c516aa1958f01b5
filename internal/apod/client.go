package apod

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/pders01/apodtok/internal/apikey"
	"github.com/pders01/apodtok/internal/config"
	"github.com/pders01/apodtok/internal/debuglog"
	"github.com/pders01/apodtok/internal/validation"
)

const (
	defaultUserAgent = "apodtok/1.0 (APOD viewer; github.com/pders01/apodtok)"
	maxBodyBytes     = 8 << 20
)

// Client fetches random batches of pictures from the APOD API, optionally
// through a CORS-style relay.
type Client struct {
	http      *http.Client
	keys      apikey.Provider
	parser    *Parser
	limiter   *rate.Limiter
	baseURL   string
	relayURL  string
	userAgent string
}

// NewClient builds a client from config. The http.Client is injected so the
// offline transport can sit underneath it.
func NewClient(cfg *config.Config, httpClient *http.Client, keys apikey.Provider) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Feed.HTTPTimeout}
	}
	if keys == nil {
		keys = apikey.New(cfg.API.Key, cfg.API.KeyEndpoint, httpClient)
	}

	ua := cfg.Feed.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	limit := rate.Inf
	if cfg.API.RateLimit > 0 {
		limit = rate.Limit(cfg.API.RateLimit)
	}
	burst := cfg.API.Burst
	if burst < 1 {
		burst = 1
	}

	c := &Client{
		http:      httpClient,
		keys:      keys,
		parser:    NewParser(nil),
		limiter:   rate.NewLimiter(limit, burst),
		baseURL:   cfg.API.BaseURL,
		userAgent: ua,
	}
	if cfg.Relay.Enabled {
		c.relayURL = cfg.Relay.URL
	}
	return c
}

// SetPermissiveValidation lets media URLs point at loopback and private
// hosts, for local servers and tests.
func (c *Client) SetPermissiveValidation(permissive bool) {
	if permissive {
		c.parser = NewParser(validation.NewPermissiveURLValidator())
	} else {
		c.parser = NewParser(validation.NewURLValidator())
	}
}

// RequestURL builds the upstream URL for a batch of n random items.
func (c *Client) RequestURL(key string, n int) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	q := u.Query()
	q.Set("api_key", key)
	q.Set("count", strconv.Itoa(n))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) relayed(upstream string) (string, error) {
	u, err := url.Parse(c.relayURL)
	if err != nil {
		return "", fmt.Errorf("parsing relay URL: %w", err)
	}
	q := u.Query()
	q.Set("url", upstream)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type relayEnvelope struct {
	Contents *string `json:"contents"`
}

// FetchBatch requests n random items. Items that fail validation are
// dropped, so fewer than n may come back.
func (c *Client) FetchBatch(ctx context.Context, n int) ([]Item, error) {
	if n <= 0 {
		return nil, &FetchError{Op: "fetch", Err: fmt.Errorf("batch size must be positive, got %d", n)}
	}

	key, err := c.keys.Key(ctx)
	if err != nil {
		return nil, &FetchError{Op: "api key", Err: err}
	}

	target, err := c.RequestURL(key, n)
	if err != nil {
		return nil, &FetchError{Op: "fetch", Err: err}
	}
	if c.relayURL != "" {
		if target, err = c.relayed(target); err != nil {
			return nil, &FetchError{Op: "fetch", Err: err}
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{Op: "fetch", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &FetchError{Op: "fetch", Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{Op: "fetch", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &FetchError{Op: "fetch", Err: fmt.Errorf("reading body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := fmt.Errorf("%s", http.StatusText(resp.StatusCode))
		if _, _, perr := c.parser.Parse(body); perr != nil {
			msg = perr
		}
		return nil, &FetchError{Op: "fetch", Status: resp.StatusCode, Err: msg}
	}

	if c.relayURL != "" {
		var env relayEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, &FetchError{Op: "relay", Err: fmt.Errorf("decoding envelope: %w", err)}
		}
		if env.Contents == nil {
			return nil, &FetchError{Op: "relay", Err: errors.New("envelope has no contents")}
		}
		body = []byte(*env.Contents)
	}

	items, rejected, err := c.parser.Parse(body)
	if err != nil {
		return nil, &FetchError{Op: "decode", Err: err}
	}
	for _, q := range rejected {
		debuglog.WithFields(map[string]interface{}{
			"component": "apod",
			"index":     q.Index,
		}).Warnf("quarantined item: %s", q.Reason)
	}

	debuglog.Debugf("apod: fetched %d items (%d quarantined)", len(items), len(rejected))
	return items, nil
}
