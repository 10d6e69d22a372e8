package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

func TestRESTAdapter_SendsFormBodyAndHeaders(t *testing.T) {
	var gotContentType, gotAccept, gotBody, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotAccept = r.Header.Get("Accept")
		gotQuery = r.URL.Query().Get("channel_ids")
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"code":"TOO_MANY_REQUESTS"}`))
	}))
	defer server.Close()

	adapter := NewRESTAdapter(server.Client(), time.Second)
	body, headers := FormBody(url.Values{"grant_type": {"refresh_token"}})
	res, err := adapter.Do(context.Background(), Request{
		Method:  http.MethodPost,
		URL:     server.URL + "/oauth/v2/token",
		Query:   url.Values{"channel_ids": {"1000000068001"}},
		Headers: headers,
		Body:    body,
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if res.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected status passthrough, got %d", res.StatusCode)
	}
	if res.Headers.Get("Retry-After") != "3" {
		t.Fatalf("expected response headers, got %#v", res.Headers)
	}
	if gotContentType != "application/x-www-form-urlencoded" || gotAccept != "application/json" {
		t.Fatalf("unexpected request headers %q %q", gotContentType, gotAccept)
	}
	if gotBody != "grant_type=refresh_token" {
		t.Fatalf("unexpected body %q", gotBody)
	}
	if gotQuery != "1000000068001" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
}

func TestRESTAdapter_ResponseLimitReturnsRichError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("12345"))
	}))
	defer server.Close()

	adapter := NewRESTAdapter(server.Client(), time.Second)
	adapter.MaxResponseBodyBytes = 4

	_, err := adapter.Do(context.Background(), Request{Method: http.MethodGet, URL: server.URL})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.TextCode != ErrorResponseTooLarge || rich.Code != http.StatusBadGateway {
		t.Fatalf("unexpected error %q/%d", rich.TextCode, rich.Code)
	}
}

func TestRESTAdapter_RejectsRelativeURL(t *testing.T) {
	adapter := NewRESTAdapter(nil, 0)
	_, err := adapter.Do(context.Background(), Request{URL: "/bigin/v2/actions/watch"})
	if !IsInvalidRequest(err) {
		t.Fatalf("expected invalid request error, got %v", err)
	}
}

func TestRESTAdapter_TimeoutIsReported(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	adapter := NewRESTAdapter(server.Client(), 20*time.Millisecond)
	_, err := adapter.Do(context.Background(), Request{URL: server.URL})
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if !IsTimeout(err) {
		t.Fatalf("expected timeout classification, got %v", err)
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != ErrorExecute {
		t.Fatalf("expected execute failure code, got %v", err)
	}
	if !IsExecuteFailure(err) || IsInvalidRequest(err) {
		t.Fatalf("expected execute classification only, got %v", err)
	}
	if rich.Metadata["timeout"] != true {
		t.Fatalf("expected timeout metadata, got %#v", rich.Metadata)
	}
}

func TestRESTAdapter_NilAdapterIsInvalidRequest(t *testing.T) {
	var adapter *RESTAdapter
	_, err := adapter.Do(context.Background(), Request{URL: "https://accounts.zoho.eu/oauth/v2/token"})
	if !IsInvalidRequest(err) || IsExecuteFailure(err) {
		t.Fatalf("expected invalid request, got %v", err)
	}
	if IsTimeout(nil) {
		t.Fatalf("nil error is not a timeout")
	}
}
