// Package provider forwards chat requests to the hosted LLM (Anthropic Messages API).
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mbd888/coachgate/internal/apierror"
	"github.com/mbd888/coachgate/internal/metrics"
	"github.com/mbd888/coachgate/internal/traces"
	"github.com/tidwall/gjson"
)

const (
	DefaultMaxTokens = 1000
	DefaultTimeout   = 60 * time.Second
	DefaultURL       = "https://api.anthropic.com/v1/messages"
	APIVersion       = "2023-06-01"

	maxResponseSize = 10 * 1024 * 1024 // 10MB
	genericFailure  = "AI provider request failed"
)

// Request is a chat call. Zero Model and MaxTokens take the gateway defaults.
// Messages are forwarded as given.
type Request struct {
	Model     string            `json:"model,omitempty"`
	MaxTokens int               `json:"max_tokens,omitempty"`
	System    string            `json:"system,omitempty"`
	Messages  []json.RawMessage `json:"messages"`
}

// Response is a successful upstream reply. Body is the unmodified response body.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
	Model       string
	Latency     time.Duration
}

// Config configures a Gateway.
type Config struct {
	APIKey       string
	URL          string
	DefaultModel string
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// Gateway issues one synchronous call per Forward. It never retries.
type Gateway struct {
	apiKey       string
	url          string
	defaultModel string
	timeout      time.Duration
	client       *http.Client
}

// New creates a Gateway. An empty APIKey is accepted; Forward then reports
// a ConfigurationError.
func New(cfg Config) *Gateway {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Gateway{
		apiKey:       cfg.APIKey,
		url:          cfg.URL,
		defaultModel: cfg.DefaultModel,
		timeout:      cfg.Timeout,
		client:       cfg.HTTPClient,
	}
}

// Configured reports whether an API key is set.
func (g *Gateway) Configured() bool { return g.apiKey != "" }

// Forward sends req upstream. Non-2xx replies become *apierror.UpstreamError
// carrying the upstream status and its error.message when one is present.
func (g *Gateway) Forward(ctx context.Context, req Request) (*Response, error) {
	if g.apiKey == "" {
		return nil, &apierror.ConfigurationError{Setting: "ANTHROPIC_API_KEY"}
	}
	if req.Model == "" {
		req.Model = g.defaultModel
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = DefaultMaxTokens
	}

	ctx, span := traces.StartSpan(ctx, "provider.Forward", traces.Model(req.Model))
	defer span.End()

	resp, err := g.do(ctx, req)
	if err != nil {
		traces.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(traces.UpstreamStatus(resp.StatusCode))
	return resp, nil
}

func (g *Gateway) do(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, apierror.Invalid("messages", "request could not be encoded")
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", g.apiKey)
	httpReq.Header.Set("anthropic-version", APIVersion)

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.UpstreamDuration.WithLabelValues("timeout").Observe(latency.Seconds())
			return nil, &apierror.UpstreamError{
				Status:  http.StatusGatewayTimeout,
				Message: "AI provider timed out",
				Err:     err,
			}
		}
		metrics.UpstreamDuration.WithLabelValues("error").Observe(latency.Seconds())
		return nil, &apierror.UpstreamError{
			Status:  http.StatusBadGateway,
			Message: "AI provider unreachable",
			Err:     err,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		return nil, &apierror.UpstreamError{Status: status, Message: genericFailure, Err: err}
	}
	metrics.UpstreamDuration.WithLabelValues(metrics.StatusBucket(resp.StatusCode)).Observe(latency.Seconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &apierror.UpstreamError{
			Status:  resp.StatusCode,
			Message: errorMessage(respBody),
		}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Body:        respBody,
		Model:       req.Model,
		Latency:     latency,
	}, nil
}

// errorMessage pulls error.message out of an upstream error body such as
// {"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}.
func errorMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return genericFailure
	}
	msg := gjson.GetBytes(body, "error.message")
	if msg.Type != gjson.String || msg.Str == "" {
		return genericFailure
	}
	return msg.Str
}
