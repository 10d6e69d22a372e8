package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-crmwatch/core"
)

const DefaultTimeout = 10 * time.Second

const defaultResponseBodyLimit int64 = 10 << 20 // 10 MiB

type Request struct {
	Method  string
	URL     string
	Query   url.Values
	Headers map[string]string
	Body    []byte
	// Timeout overrides the adapter timeout for this request.
	Timeout              time.Duration
	MaxResponseBodyBytes int64
}

type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// RESTAdapter performs one HTTP exchange per call. It never retries and
// never interprets status codes; callers classify the response.
type RESTAdapter struct {
	Client               core.HTTPDoer
	DefaultHeaders       map[string]string
	Timeout              time.Duration
	MaxResponseBodyBytes int64
}

func NewRESTAdapter(client core.HTTPDoer, timeout time.Duration) *RESTAdapter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &RESTAdapter{
		Client: client,
		DefaultHeaders: map[string]string{
			"Accept": "application/json",
		},
		Timeout:              timeout,
		MaxResponseBodyBytes: defaultResponseBodyLimit,
	}
}

// FormBody encodes values as an urlencoded request body.
func FormBody(values url.Values) ([]byte, map[string]string) {
	return []byte(values.Encode()), map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
	}
}

func (a *RESTAdapter) Do(ctx context.Context, req Request) (Response, error) {
	if a == nil || a.Client == nil {
		return Response{}, invalidRequest(nil, "transport: rest adapter requires an http client", nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	method := strings.TrimSpace(strings.ToUpper(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	rawURL := strings.TrimSpace(req.URL)
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return Response{}, invalidRequest(err, "transport: invalid request url", map[string]any{"url": rawURL})
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return Response{}, invalidRequest(nil, "transport: request url must be absolute", map[string]any{"url": rawURL})
	}
	if len(req.Query) > 0 {
		query := parsedURL.Query()
		for key, values := range req.Query {
			if strings.TrimSpace(key) == "" {
				continue
			}
			query[strings.TrimSpace(key)] = append([]string(nil), values...)
		}
		parsedURL.RawQuery = query.Encode()
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = a.Timeout
	}
	requestCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(requestCtx, method, parsedURL.String(), body)
	if err != nil {
		return Response{}, invalidRequest(err, "transport: create http request",
			map[string]any{"method": method, "url": redactURL(parsedURL)})
	}
	for key, value := range a.DefaultHeaders {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	for key, value := range req.Headers {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}

	startedAt := time.Now()
	httpRes, err := a.Client.Do(httpReq)
	if err != nil {
		return Response{}, executeFailed(err, "transport: execute http request",
			map[string]any{"method": method, "url": redactURL(parsedURL)})
	}
	defer httpRes.Body.Close()

	maxBodyBytes := resolveResponseBodyLimit(req.MaxResponseBodyBytes, a.MaxResponseBodyBytes)
	payload, err := io.ReadAll(io.LimitReader(httpRes.Body, maxBodyBytes+1))
	if err != nil {
		return Response{}, executeFailed(err, "transport: read response body",
			map[string]any{"status_code": httpRes.StatusCode})
	}
	if int64(len(payload)) > maxBodyBytes {
		return Response{}, responseTooLarge(httpRes.StatusCode, maxBodyBytes)
	}

	return Response{
		StatusCode: httpRes.StatusCode,
		Headers:    httpRes.Header.Clone(),
		Body:       payload,
		Duration:   time.Since(startedAt),
	}, nil
}

// redactURL drops the query string, which may carry identifiers.
func redactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	copied := *u
	copied.RawQuery = ""
	copied.User = nil
	return copied.String()
}

func resolveResponseBodyLimit(requestLimit int64, adapterLimit int64) int64 {
	if requestLimit > 0 {
		return requestLimit
	}
	if adapterLimit > 0 {
		return adapterLimit
	}
	return defaultResponseBodyLimit
}
