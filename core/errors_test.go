package core

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestErrorConstructors_AssignTextCodesAndCategories(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		code     string
		category goerrors.Category
	}{
		{"config", ConfigError("missing", nil), ErrorConfig, goerrors.CategoryValidation},
		{"persistence", PersistenceError(stderrors.New("disk"), "write", nil), ErrorPersistence, goerrors.CategoryOperation},
		{"transient", TransientAuthError(nil, "timeout", nil), ErrorTransientAuth, goerrors.CategoryExternal},
		{"scope", AuthScopeError("invalid_client", nil), ErrorAuthScope, goerrors.CategoryAuth},
		{"client", ClientRequestError(400, "bad", nil), ErrorClientRequest, goerrors.CategoryBadInput},
		{"rate", RateLimitedError("slow down", nil), ErrorRateLimited, goerrors.CategoryRateLimit},
		{"server", ServerError(nil, 503, "unavailable", nil), ErrorServer, goerrors.CategoryExternal},
		{"channel", InvalidChannelIDError("abc", nil), ErrorInvalidChannelID, goerrors.CategoryValidation},
		{"params", InvalidSubscriptionParamsError("events", nil), ErrorInvalidSubscriptionParams, goerrors.CategoryValidation},
		{"subscription", SubscriptionError(nil, "vendor", nil), ErrorSubscription, goerrors.CategoryOperation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var rich *goerrors.Error
			if !goerrors.As(tc.err, &rich) {
				t.Fatalf("expected go-errors type, got %T", tc.err)
			}
			if rich.TextCode != tc.code {
				t.Fatalf("expected %q, got %q", tc.code, rich.TextCode)
			}
			if rich.Category != tc.category {
				t.Fatalf("expected category %q, got %q", tc.category, rich.Category)
			}
		})
	}
}

func TestServerError_ClampsNonServerStatus(t *testing.T) {
	var rich *goerrors.Error
	if !goerrors.As(ServerError(stderrors.New("dial"), 0, "network", nil), &rich) {
		t.Fatalf("expected go-errors type")
	}
	if rich.Code != 502 {
		t.Fatalf("expected 502 for transport failure, got %d", rich.Code)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", stderrors.New("boom"), false},
		{"transient", TransientAuthError(nil, "timeout", nil), true},
		{"server", ServerError(nil, 500, "oops", nil), true},
		{"rate", RateLimitedError("429", nil), true},
		{"scope", AuthScopeError("invalid_grant", nil), false},
		{"config", ConfigError("missing", nil), false},
		{"channel", InvalidChannelIDError("abc", nil), false},
		{"client", ClientRequestError(400, "bad", nil), false},
		{"subscription_over_server", SubscriptionError(ServerError(nil, 503, "down", nil), "register", nil), true},
		{"subscription_over_client", SubscriptionError(ClientRequestError(400, "INVALID_DATA", nil), "register", nil), false},
		{"subscription_over_scope", SubscriptionError(AuthScopeError("scope", nil), "register", nil), false},
		{"wrapped_plain", fmt.Errorf("outer: %w", TransientAuthError(nil, "timeout", nil)), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err); got != tc.want {
				t.Fatalf("expected retryable=%v, got %v", tc.want, got)
			}
		})
	}
}

func TestHasTextCode_WalksWrapChain(t *testing.T) {
	inner := ClientRequestError(400, "INVALID_DATA", map[string]any{"vendor_code": "INVALID_DATA"})
	outer := SubscriptionError(inner, "watch registration failed", map[string]any{"channel_id": "1000000068001"})
	if !HasTextCode(outer, ErrorClientRequest) {
		t.Fatalf("expected nested client request code")
	}
	if !HasTextCode(outer, ErrorSubscription) {
		t.Fatalf("expected outer subscription code")
	}
	if HasTextCode(outer, ErrorAuthScope) {
		t.Fatalf("did not expect auth scope code")
	}
	if TextCode(outer) != ErrorSubscription {
		t.Fatalf("expected outermost code, got %q", TextCode(outer))
	}
}

func TestSubscriptionError_KeepsTypedSource(t *testing.T) {
	inner := ServerError(nil, 503, "bigin unavailable", map[string]any{"status": 503})
	outer := SubscriptionError(inner, "watch registration failed", nil)
	if TextCode(outer) != ErrorSubscription {
		t.Fatalf("expected outer code, got %q", TextCode(outer))
	}
	if !HasTextCode(outer, ErrorServer) {
		t.Fatalf("expected inner server code to survive the wrap")
	}
	if !stderrors.Is(outer, inner) {
		t.Fatalf("expected inner error reachable through Unwrap")
	}
	if !IsRetryable(outer) {
		t.Fatalf("expected wrapped server failure to be retryable")
	}
	if inner.(*goerrors.Error).TextCode != ErrorServer {
		t.Fatalf("wrapping must not mutate the inner error")
	}
}

func TestMetadata_OuterValuesWin(t *testing.T) {
	inner := ClientRequestError(400, "bad", map[string]any{"status": 400, "vendor_code": "INVALID_DATA"})
	outer := SubscriptionError(inner, "register", map[string]any{"status": "overridden", "channel_id": "1"})
	md := Metadata(outer)
	if md["vendor_code"] != "INVALID_DATA" {
		t.Fatalf("expected inner metadata, got %#v", md)
	}
	if md["status"] != "overridden" {
		t.Fatalf("expected outer metadata to win, got %#v", md["status"])
	}
}

func TestDescribe_IncludesCodeMetadataAndHint(t *testing.T) {
	err := SubscriptionError(AuthScopeError("token endpoint rejected credential", map[string]any{"vendor_error": "invalid_code"}), "watch registration failed", nil)
	text := Describe(err)
	for _, want := range []string{"watch registration failed", ErrorSubscription, "vendor_error=invalid_code", "hint:"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in %q", want, text)
		}
	}
	if Describe(stderrors.New("plain")) != "plain" {
		t.Fatalf("expected plain errors to render their message")
	}
}
