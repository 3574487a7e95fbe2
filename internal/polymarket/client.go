// Package polymarket fetches raw market records from the Polymarket Gamma
// API. Records are returned undecoded: the upstream is inconsistent about
// field shapes, so interpretation is left to the normalize package.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ClientConfig tunes retry and connection behavior.
type ClientConfig struct {
	MaxRetries     int
	RetryDelayBase time.Duration
}

// Client provides access to the Gamma markets endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cfg        ClientConfig
}

// NewClient creates a Gamma API client.
func NewClient(baseURL string, timeout time.Duration, cfg ClientConfig) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		cfg:        cfg,
	}
}

// pageSize is the per-request cap accepted by the Gamma endpoint.
const pageSize = 500

// FetchMarkets retrieves up to limit active markets as raw records, paging
// through the endpoint with offset until limit is reached or a short page
// signals the end of the listing. A failure on any page means the whole
// cycle is skipped; there is no partial result.
func (c *Client) FetchMarkets(ctx context.Context, limit int) ([]json.RawMessage, error) {
	u, err := url.Parse(c.baseURL + "/markets")
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	var all []json.RawMessage
	for offset := 0; offset < limit; offset += pageSize {
		size := pageSize
		if remaining := limit - offset; remaining < size {
			size = remaining
		}

		q := u.Query()
		q.Set("active", "true")
		q.Set("closed", "false")
		q.Set("archived", "false")
		q.Set("limit", strconv.Itoa(size))
		q.Set("offset", strconv.Itoa(offset))
		u.RawQuery = q.Encode()

		page, err := c.fetchPage(ctx, u.String())
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < size {
			break
		}
	}
	return all, nil
}

func (c *Client) fetchPage(ctx context.Context, urlStr string) ([]json.RawMessage, error) {
	resp, err := c.doRequest(ctx, urlStr)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch markets: %w", err)
	}
	defer resp.Body.Close()

	// The endpoint answers either with a bare array or with a {"data": [...]}
	// wrapper depending on deployment.
	var body json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode markets response: %w", err)
	}
	records, err := unwrapRecords(body)
	if err != nil {
		return nil, fmt.Errorf("unexpected markets response shape: %w", err)
	}
	return records, nil
}

func unwrapRecords(body json.RawMessage) ([]json.RawMessage, error) {
	var records []json.RawMessage
	if err := json.Unmarshal(body, &records); err == nil {
		return records, nil
	}
	var wrapper struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, err
	}
	if wrapper.Data == nil {
		return nil, fmt.Errorf("neither an array nor a data wrapper")
	}
	return wrapper.Data, nil
}

// doRequest performs a GET with linear-backoff retry on transport errors and
// 5xx responses.
func (c *Client) doRequest(ctx context.Context, urlStr string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.cfg.MaxRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
		} else if resp.StatusCode >= 400 {
			resp.Body.Close()
			return nil, fmt.Errorf("client error: %d", resp.StatusCode)
		} else {
			return resp, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.cfg.RetryDelayBase * time.Duration(i+1)):
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
