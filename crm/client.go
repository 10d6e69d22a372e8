// Package crm is a thin authenticated client for the Bigin v2 REST API.
//
// The client never retries on its own apart from the single forced token
// refresh after a 401 on a cached token. Rate limits, server errors and
// transport failures are returned as typed errors for the caller to act on.
package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-crmwatch/core"
	"github.com/goliatone/go-crmwatch/transport"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	minRetryAfter = time.Second
	maxRetryAfter = 10 * time.Second
)

type Config struct {
	DefaultDomain string
	BasePath      string
	AuthScheme    string
	Timeout       time.Duration
}

func ConfigFromCore(cfg core.Config) Config {
	return Config{
		DefaultDomain: cfg.API.DefaultDomain,
		BasePath:      cfg.API.BasePath,
		AuthScheme:    cfg.API.AuthScheme,
		Timeout:       cfg.API.Timeout,
	}
}

type Option func(*Client)

func WithHTTPClient(client core.HTTPDoer) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

type Client struct {
	cfg        Config
	tokens     core.TokenSource
	httpClient core.HTTPDoer
	adapter    *transport.RESTAdapter
	logger     core.Logger
	observer   core.Observer
}

func New(tokens core.TokenSource, cfg Config, opts ...Option) (*Client, error) {
	if tokens == nil {
		return nil, core.ConfigError("crm: token source is required", nil)
	}
	if strings.TrimSpace(cfg.BasePath) == "" {
		cfg.BasePath = "/bigin/v2"
	}
	if strings.TrimSpace(cfg.AuthScheme) == "" {
		cfg.AuthScheme = "Zoho-oauthtoken"
	}
	c := &Client{cfg: cfg, tokens: tokens}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	_, c.logger = glog.Resolve("crmwatch.crm", nil, c.logger)
	c.observer = core.NewObserver(c.logger)
	c.adapter = transport.NewRESTAdapter(c.httpClient, cfg.Timeout)
	return c, nil
}

// Response is a decoded-on-demand API reply. Empty is set for 204 and blank
// bodies.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Empty      bool
}

func (r Response) Decode(target any) error {
	if r.Empty || len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, target); err != nil {
		return core.ServerError(err, http.StatusBadGateway, "crm: decode response body", map[string]any{"status": r.StatusCode})
	}
	return nil
}

type CallOption func(*callOptions)

type callOptions struct {
	query url.Values
}

func WithQuery(query url.Values) CallOption {
	return func(o *callOptions) {
		o.query = query
	}
}

// Call sends method to path relative to the API base. body is JSON encoded
// when not nil.
func (c *Client) Call(ctx context.Context, method string, path string, body any, opts ...CallOption) (response Response, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	options := callOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}

	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return Response{}, core.InternalError("crm: encode request body: "+err.Error(), map[string]any{"path": path})
		}
	}

	startedAt := time.Now()
	fields := map[string]any{"method": method, "path": path}
	defer func() {
		fields["status"] = response.StatusCode
		c.observer.Observe(ctx, startedAt, "crm_call", err, fields)
	}()

	grant, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return Response{}, err
	}
	res, err := c.send(ctx, grant, method, path, options.query, payload)
	if err != nil {
		return Response{}, err
	}
	if res.StatusCode == http.StatusUnauthorized {
		if grant.Refreshed {
			return Response{StatusCode: res.StatusCode}, unauthorizedError(res, path, "freshly refreshed token was rejected")
		}
		fields["forced_refresh"] = true
		grant, err = c.tokens.ForceRefresh(ctx, grant.Token)
		if err != nil {
			return Response{}, err
		}
		res, err = c.send(ctx, grant, method, path, options.query, payload)
		if err != nil {
			return Response{}, err
		}
		if res.StatusCode == http.StatusUnauthorized {
			return Response{StatusCode: res.StatusCode}, unauthorizedError(res, path, "token rejected after forced refresh")
		}
	}
	return classify(res, path)
}

func (c *Client) Get(ctx context.Context, path string, query url.Values) (Response, error) {
	return c.Call(ctx, http.MethodGet, path, nil, WithQuery(query))
}

func (c *Client) Post(ctx context.Context, path string, body any) (Response, error) {
	return c.Call(ctx, http.MethodPost, path, body)
}

func (c *Client) Put(ctx context.Context, path string, body any) (Response, error) {
	return c.Call(ctx, http.MethodPut, path, body)
}

func (c *Client) Delete(ctx context.Context, path string, query url.Values) (Response, error) {
	return c.Call(ctx, http.MethodDelete, path, nil, WithQuery(query))
}

// URL joins the API domain, base path and path.
func (c *Client) URL(apiDomain string, path string) string {
	domain := strings.TrimSpace(apiDomain)
	if domain == "" {
		domain = strings.TrimSpace(c.cfg.DefaultDomain)
	}
	base := strings.Trim(strings.TrimSpace(c.cfg.BasePath), "/")
	return strings.TrimRight(domain, "/") + "/" + base + "/" + strings.TrimLeft(strings.TrimSpace(path), "/")
}

func (c *Client) send(ctx context.Context, grant core.AccessGrant, method, path string, query url.Values, payload []byte) (transport.Response, error) {
	headers := map[string]string{
		"Authorization": c.cfg.AuthScheme + " " + grant.Token,
	}
	if payload != nil {
		headers["Content-Type"] = "application/json"
	}
	res, err := c.adapter.Do(ctx, transport.Request{
		Method:  method,
		URL:     c.URL(grant.APIDomain, path),
		Query:   query,
		Headers: headers,
		Body:    payload,
	})
	if err != nil {
		if transport.IsInvalidRequest(err) {
			return transport.Response{}, core.WrapConfigError(err, "crm: invalid api url", map[string]any{"api_domain": grant.APIDomain, "path": path})
		}
		return transport.Response{}, core.ServerError(err, 0, "crm: request failed", map[string]any{
			"path":    path,
			"timeout": transport.IsTimeout(err),
		})
	}
	return res, nil
}

func classify(res transport.Response, path string) (Response, error) {
	out := Response{StatusCode: res.StatusCode, Headers: res.Headers, Body: res.Body}
	status := res.StatusCode
	switch {
	case status >= http.StatusOK && status < http.StatusMultipleChoices:
		if status == http.StatusNoContent || len(strings.TrimSpace(string(res.Body))) == 0 {
			out.Empty = true
			out.Body = nil
		}
		return out, nil
	case status == http.StatusTooManyRequests:
		metadata := vendorMetadata(res, path)
		metadata["retry_after_seconds"] = int(RetryAfter(res.Headers).Seconds())
		return out, core.RateLimitedError("crm: rate limited", metadata)
	case status >= http.StatusInternalServerError:
		return out, core.ServerError(nil, status, fmt.Sprintf("crm: server error (%d)", status), vendorMetadata(res, path))
	default:
		metadata := vendorMetadata(res, path)
		message := fmt.Sprintf("crm: request rejected (%d)", status)
		if vendor, ok := metadata["vendor_message"].(string); ok && vendor != "" {
			message += ": " + vendor
		}
		return out, core.ClientRequestError(status, message, metadata)
	}
}

func unauthorizedError(res transport.Response, path string, message string) error {
	return core.AuthScopeError("crm: "+message, vendorMetadata(res, path))
}

// RetryAfter parses the Retry-After header in seconds, clamped to 1..10s.
// A missing or unparsable header yields the minimum.
func RetryAfter(headers http.Header) time.Duration {
	delay := minRetryAfter
	if raw := strings.TrimSpace(headers.Get("Retry-After")); raw != "" {
		if seconds, err := strconv.Atoi(raw); err == nil {
			delay = time.Duration(seconds) * time.Second
		} else if when, err := http.ParseTime(raw); err == nil {
			delay = time.Until(when)
		}
	}
	if delay < minRetryAfter {
		return minRetryAfter
	}
	if delay > maxRetryAfter {
		return maxRetryAfter
	}
	return delay
}

// VendorError is the error envelope the API returns, either at the top
// level or as the first element of data.
type VendorError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  string         `json:"status"`
	Details map[string]any `json:"details"`
}

func ParseVendorError(body []byte) (VendorError, bool) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return VendorError{}, false
	}
	var envelope struct {
		VendorError
		Data  []VendorError `json:"data"`
		Watch []VendorError `json:"watch"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return VendorError{}, false
	}
	if envelope.Code != "" || envelope.Message != "" {
		return envelope.VendorError, true
	}
	for _, items := range [][]VendorError{envelope.Data, envelope.Watch} {
		if len(items) > 0 && (items[0].Code != "" || items[0].Message != "") {
			return items[0], true
		}
	}
	return VendorError{}, false
}

func vendorMetadata(res transport.Response, path string) map[string]any {
	metadata := map[string]any{"status": res.StatusCode, "path": path}
	vendor, ok := ParseVendorError(res.Body)
	if !ok {
		return metadata
	}
	if vendor.Code != "" {
		metadata["vendor_code"] = vendor.Code
	}
	if vendor.Message != "" {
		metadata["vendor_message"] = vendor.Message
	}
	if len(vendor.Details) > 0 {
		metadata["vendor_details"] = vendor.Details
		if field, ok := vendor.Details["api_name"].(string); ok && field != "" {
			metadata["vendor_field"] = field
		}
	}
	return metadata
}
