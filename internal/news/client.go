package news

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mbd888/coachgate/internal/apierror"
	"github.com/tidwall/gjson"
)

const (
	// DefaultQuery is the search used for the feed.
	DefaultQuery    = `leadership OR "career development" OR "workplace wellness" OR productivity`
	defaultPageSize = 30
	defaultTimeout  = 10 * time.Second
	maxResponseSize = 5 << 20
)

// Searcher fetches articles for a query.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Item, error)
}

// Client queries a NewsAPI-compatible "everything" endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a news search client.
func NewClient(apiKey, baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{apiKey: apiKey, baseURL: baseURL, httpClient: httpClient}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool { return c.apiKey != "" }

func (c *Client) Search(ctx context.Context, query string) ([]Item, error) {
	if c.apiKey == "" {
		return nil, &apierror.ConfigurationError{Setting: "NEWS_API_KEY"}
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse news url: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("language", "en")
	q.Set("sortBy", "publishedAt")
	q.Set("pageSize", strconv.Itoa(defaultPageSize))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build news request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &apierror.UpstreamError{Status: http.StatusBadGateway, Message: "news search unreachable", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &apierror.UpstreamError{Status: http.StatusBadGateway, Message: "news search read failed", Err: err}
	}

	if resp.StatusCode >= 300 || gjson.GetBytes(body, "status").String() == "error" {
		msg := gjson.GetBytes(body, "message").String()
		if msg == "" {
			msg = "news search failed"
		}
		status := resp.StatusCode
		if status < 400 {
			status = http.StatusBadGateway
		}
		return nil, &apierror.UpstreamError{Status: status, Message: msg}
	}

	return Normalize(body), nil
}

var _ Searcher = (*Client)(nil)
