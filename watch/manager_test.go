package watch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-crmwatch/core"
	"github.com/goliatone/go-crmwatch/crm"
)

type apiCall struct {
	method string
	path   string
	body   any
	opts   int
}

type stubAPI struct {
	calls    []apiCall
	response crm.Response
	err      error
	errs     []error
}

func (s *stubAPI) Call(_ context.Context, method string, path string, body any, opts ...crm.CallOption) (crm.Response, error) {
	s.calls = append(s.calls, apiCall{method: method, path: path, body: body, opts: len(opts)})
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return crm.Response{}, err
		}
	}
	return s.response, s.err
}

func validSubscription() core.Subscription {
	return core.Subscription{
		Module:      "Contacts",
		Events:      []string{"create", "Contacts.edit"},
		NotifyURL:   "https://hooks.example.com/bigin-webhook",
		VerifyToken: "shared-secret",
		ChannelID:   "1000000068001",
	}
}

func successBody() []byte {
	return []byte(`{"watch":[{"code":"SUCCESS","details":{"events":[{"channel_expiry":"2026-10-15T12:00:00+00:00","resource_uri":"https://www.zohoapis.eu/bigin/v2/Contacts","resource_id":"886415000000002175","resource_name":"Contacts","channel_id":"1000000068001"}]},"message":"Successfully subscribed for actions-watch of the given module","status":"success"}]}`)
}

func fixedClock() core.Clock {
	return func() time.Time { return time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC) }
}

func TestRegister_InvalidChannelIDSkipsNetwork(t *testing.T) {
	for _, channelID := range []string{"abc", "", "123", "0123456789", "123456789012345678901", "12345 67890"} {
		api := &stubAPI{}
		manager, err := NewManager(api)
		if err != nil {
			t.Fatalf("new manager: %v", err)
		}
		sub := validSubscription()
		sub.ChannelID = channelID
		_, err = manager.Register(context.Background(), sub)
		if !core.HasTextCode(err, core.ErrorInvalidChannelID) {
			t.Fatalf("channel %q: expected invalid channel id, got %v", channelID, err)
		}
		if len(api.calls) != 0 {
			t.Fatalf("channel %q: expected no network call", channelID)
		}
	}
}

func TestRegister_InvalidParamsSkipNetwork(t *testing.T) {
	cases := map[string]func(*core.Subscription){
		"module":       func(s *core.Subscription) { s.Module = "" },
		"events_empty": func(s *core.Subscription) { s.Events = nil },
		"events_verb":  func(s *core.Subscription) { s.Events = []string{"Contacts.explode"} },
		"http_url":     func(s *core.Subscription) { s.NotifyURL = "http://hooks.example.com/bigin-webhook" },
		"relative_url": func(s *core.Subscription) { s.NotifyURL = "/bigin-webhook" },
		"empty_token":  func(s *core.Subscription) { s.VerifyToken = "" },
		"long_token":   func(s *core.Subscription) { s.VerifyToken = strings.Repeat("x", 51) },
		"past_expiry": func(s *core.Subscription) {
			past := time.Date(2026, 10, 13, 0, 0, 0, 0, time.UTC)
			s.ChannelExpiry = &past
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			api := &stubAPI{}
			manager, _ := NewManager(api, WithClock(fixedClock()))
			sub := validSubscription()
			mutate(&sub)
			_, err := manager.Register(context.Background(), sub)
			if !core.HasTextCode(err, core.ErrorInvalidSubscriptionParams) {
				t.Fatalf("expected invalid params, got %v", err)
			}
			if len(api.calls) != 0 {
				t.Fatalf("expected no network call")
			}
		})
	}
}

func TestRegister_AllowInsecureAcceptsHTTP(t *testing.T) {
	api := &stubAPI{response: crm.Response{StatusCode: http.StatusOK, Body: successBody()}}
	manager, _ := NewManager(api, WithAllowInsecure(true))
	sub := validSubscription()
	sub.NotifyURL = "http://localhost:8000/bigin-webhook"
	if _, err := manager.Register(context.Background(), sub); err != nil {
		t.Fatalf("register: %v", err)
	}
}

func TestRegister_BuildsPayloadAndParsesAck(t *testing.T) {
	api := &stubAPI{response: crm.Response{StatusCode: http.StatusOK, Body: successBody()}}
	manager, _ := NewManager(api, WithClock(fixedClock()), WithChannelTTL(24*time.Hour))

	result, err := manager.Register(context.Background(), validSubscription())
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(api.calls) != 1 || api.calls[0].method != http.MethodPost || api.calls[0].path != "actions/watch" {
		t.Fatalf("unexpected calls %#v", api.calls)
	}
	encoded, err := json.Marshal(api.calls[0].body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	body := string(encoded)
	for _, want := range []string{
		`"channel_id":1000000068001`,
		`"events":["Contacts.create","Contacts.edit"]`,
		`"notify_url":"https://hooks.example.com/bigin-webhook"`,
		`"token":"shared-secret"`,
		`"channel_expiry":"2026-10-15T12:00:00+00:00"`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %s in %s", want, body)
		}
	}
	if result.Code != "SUCCESS" || result.ResourceID != "886415000000002175" {
		t.Fatalf("unexpected result %#v", result)
	}
	if result.ChannelExpiry == nil || !result.ChannelExpiry.Equal(time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected expiry %v", result.ChannelExpiry)
	}
}

func TestRegister_ItemErrorIsSubscriptionError(t *testing.T) {
	api := &stubAPI{response: crm.Response{
		StatusCode: http.StatusOK,
		Body:       []byte(`{"watch":[{"code":"INVALID_DATA","details":{"api_name":"notify_url"},"message":"invalid data","status":"error"}]}`),
	}}
	manager, _ := NewManager(api)
	_, err := manager.Register(context.Background(), validSubscription())
	if !core.HasTextCode(err, core.ErrorSubscription) {
		t.Fatalf("expected subscription error, got %v", err)
	}
	md := core.Metadata(err)
	if md["vendor_code"] != "INVALID_DATA" || md["vendor_field"] != "notify_url" || md["channel_id"] != "1000000068001" {
		t.Fatalf("unexpected metadata %#v", md)
	}
	if core.IsRetryable(err) {
		t.Fatalf("vendor rejection must not be retryable")
	}
}

func TestRegister_VendorRejectionThroughClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(raw), `"channel_id":1000000068001`) {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"watch":[{"code":"INVALID_DATA","details":{"api_name":"channel_id"},"message":"invalid data","status":"error"}]}`)
	}))
	defer server.Close()

	client, err := crm.New(staticTokens{}, crm.Config{DefaultDomain: server.URL}, crm.WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	manager, _ := NewManager(client)
	_, err = manager.Register(context.Background(), validSubscription())
	if !core.HasTextCode(err, core.ErrorSubscription) || !core.HasTextCode(err, core.ErrorClientRequest) {
		t.Fatalf("expected subscription error wrapping client request error, got %v", err)
	}
	if core.Metadata(err)["vendor_field"] != "channel_id" {
		t.Fatalf("expected vendor field, got %#v", core.Metadata(err))
	}
}

func TestRegister_ServerFailureIsRetryable(t *testing.T) {
	api := &stubAPI{err: core.ServerError(nil, http.StatusServiceUnavailable, "down", nil)}
	manager, _ := NewManager(api)
	_, err := manager.Register(context.Background(), validSubscription())
	if !core.HasTextCode(err, core.ErrorSubscription) || !core.IsRetryable(err) {
		t.Fatalf("expected retryable subscription error, got %v", err)
	}
}

func TestList_DecodesChannels(t *testing.T) {
	api := &stubAPI{response: crm.Response{
		StatusCode: http.StatusOK,
		Body:       []byte(`{"watch":[{"channel_id":1000000068001,"events":["Contacts.edit"],"notify_url":"https://hooks.example.com/bigin-webhook","channel_expiry":"2026-10-15T12:00:00+00:00","resource_name":"Contacts","token":"shared-secret"}]}`),
	}}
	manager, _ := NewManager(api)
	channels, err := manager.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(channels) != 1 || channels[0].ChannelID != "1000000068001" || channels[0].ResourceName != "Contacts" {
		t.Fatalf("unexpected channels %#v", channels)
	}
	if api.calls[0].method != http.MethodGet {
		t.Fatalf("expected GET, got %s", api.calls[0].method)
	}
}

func TestList_EmptyResponse(t *testing.T) {
	manager, _ := NewManager(&stubAPI{response: crm.Response{StatusCode: http.StatusNoContent, Empty: true}})
	channels, err := manager.List(context.Background())
	if err != nil || len(channels) != 0 {
		t.Fatalf("expected no channels, got %v/%v", channels, err)
	}
}

func TestDisable_ValidatesAndSendsDelete(t *testing.T) {
	api := &stubAPI{response: crm.Response{
		StatusCode: http.StatusOK,
		Body:       []byte(`{"watch":[{"code":"SUCCESS","status":"success","message":"Successfully unsubscribed"}]}`),
	}}
	manager, _ := NewManager(api)
	if err := manager.Disable(context.Background(), "abc"); !core.HasTextCode(err, core.ErrorInvalidChannelID) {
		t.Fatalf("expected invalid channel id, got %v", err)
	}
	if err := manager.Disable(context.Background()); !core.HasTextCode(err, core.ErrorInvalidSubscriptionParams) {
		t.Fatalf("expected invalid params for no ids, got %v", err)
	}
	if len(api.calls) != 0 {
		t.Fatalf("expected no calls for invalid input")
	}
	if err := manager.Disable(context.Background(), "1000000068001", "1000000068002"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if api.calls[0].method != http.MethodDelete || api.calls[0].opts != 1 {
		t.Fatalf("unexpected call %#v", api.calls[0])
	}
}

func TestNotifyURL(t *testing.T) {
	cases := []struct{ base, path, want string }{
		{"https://abcd.ngrok.io", "/bigin-webhook", "https://abcd.ngrok.io/bigin-webhook"},
		{"https://abcd.ngrok.io/", "bigin-webhook", "https://abcd.ngrok.io/bigin-webhook"},
		{"https://abcd.ngrok.io", "", "https://abcd.ngrok.io"},
		{"", "/bigin-webhook", ""},
	}
	for _, tc := range cases {
		if got := NotifyURL(tc.base, tc.path); got != tc.want {
			t.Fatalf("NotifyURL(%q, %q) = %q, want %q", tc.base, tc.path, got, tc.want)
		}
	}
}

func TestNormalizeEvents(t *testing.T) {
	events, err := NormalizeEvents("Contacts", []string{" create ", "Contacts.EDIT", "Contacts.create", "Deals.all"})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	want := []string{"Contacts.create", "Contacts.edit", "Deals.all"}
	if strings.Join(events, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, events)
	}
}

type staticTokens struct{}

func (staticTokens) AccessToken(context.Context) (core.AccessGrant, error) {
	return core.AccessGrant{Token: "A1"}, nil
}

func (staticTokens) ForceRefresh(context.Context, string) (core.AccessGrant, error) {
	return core.AccessGrant{Token: "A2", Refreshed: true}, nil
}
