package watch

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-crmwatch/core"
	"github.com/goliatone/go-crmwatch/crm"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	watchPath = "actions/watch"
	// expiryLayout always renders an explicit offset, UTC included.
	expiryLayout = "2006-01-02T15:04:05-07:00"
)

// API is the slice of the CRM client the manager needs.
type API interface {
	Call(ctx context.Context, method string, path string, body any, opts ...crm.CallOption) (crm.Response, error)
}

type Option func(*Manager)

func WithLogger(logger core.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithClock(clock core.Clock) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithAllowInsecure accepts http notify URLs, for local tunnels and tests.
func WithAllowInsecure(allow bool) Option {
	return func(m *Manager) {
		m.allowInsecure = allow
	}
}

// WithChannelTTL sets channel_expiry to now+ttl when a subscription has none.
func WithChannelTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.channelTTL = ttl
		}
	}
}

type Manager struct {
	api           API
	logger        core.Logger
	observer      core.Observer
	clock         core.Clock
	allowInsecure bool
	channelTTL    time.Duration
}

func NewManager(api API, opts ...Option) (*Manager, error) {
	if api == nil {
		return nil, core.ConfigError("watch: crm api is required", nil)
	}
	m := &Manager{api: api}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	_, m.logger = glog.Resolve("crmwatch.watch", nil, m.logger)
	m.observer = core.NewObserver(m.logger)
	return m, nil
}

// SubscriptionResult is the vendor acknowledgement of a registration.
type SubscriptionResult struct {
	ChannelID     string
	Module        string
	Events        []string
	NotifyURL     string
	ChannelExpiry *time.Time
	ResourceURI   string
	ResourceID    string
	Code          string
	Message       string
}

// Channel is an active watch as listed by the vendor. The verification
// token is deliberately left out.
type Channel struct {
	ChannelID     string
	Events        []string
	NotifyURL     string
	ChannelExpiry *time.Time
	ResourceName  string
	ResourceURI   string
}

type watchItem struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Status  string          `json:"status"`
	Details json.RawMessage `json:"details"`
}

type watchEnvelope struct {
	Watch []json.RawMessage `json:"watch"`
}

type watchEventDetail struct {
	ChannelID     json.Number `json:"channel_id"`
	ChannelExpiry string      `json:"channel_expiry"`
	ResourceURI   string      `json:"resource_uri"`
	ResourceID    string      `json:"resource_id"`
	ResourceName  string      `json:"resource_name"`
}

// Validate runs every local check Register performs and returns the
// normalized subscription.
func (m *Manager) Validate(sub core.Subscription) (core.Subscription, error) {
	sub.ChannelID = strings.TrimSpace(sub.ChannelID)
	sub.Module = strings.TrimSpace(sub.Module)
	sub.NotifyURL = strings.TrimSpace(sub.NotifyURL)
	if err := ValidateChannelID(sub.ChannelID); err != nil {
		return core.Subscription{}, err
	}
	if err := validateModule(sub.Module); err != nil {
		return core.Subscription{}, err
	}
	events, err := NormalizeEvents(sub.Module, sub.Events)
	if err != nil {
		return core.Subscription{}, err
	}
	sub.Events = events
	if err := ValidateNotifyURL(sub.NotifyURL, m.allowInsecure); err != nil {
		return core.Subscription{}, err
	}
	if err := validateVerifyToken(sub.VerifyToken); err != nil {
		return core.Subscription{}, err
	}
	now := m.clock.Now()
	if sub.ChannelExpiry == nil && m.channelTTL > 0 {
		expiry := now.Add(m.channelTTL)
		sub.ChannelExpiry = &expiry
	}
	if sub.ChannelExpiry != nil && !sub.ChannelExpiry.After(now) {
		return core.Subscription{}, paramsError("watch: channel expiry must be in the future", "channel_expiry", map[string]any{
			"channel_expiry": sub.ChannelExpiry.UTC().Format(time.RFC3339),
		})
	}
	return sub, nil
}

// Register creates or replaces the watch for sub.ChannelID.
func (m *Manager) Register(ctx context.Context, sub core.Subscription) (result SubscriptionResult, err error) {
	sub, err = m.Validate(sub)
	if err != nil {
		return SubscriptionResult{}, err
	}
	startedAt := time.Now()
	fields := map[string]any{
		"channel_id": sub.ChannelID,
		"module":     sub.Module,
		"events":     strings.Join(sub.Events, ","),
		"notify_url": sub.NotifyURL,
	}
	defer func() {
		m.observer.Observe(ctx, startedAt, "watch_register", err, fields)
	}()

	item := map[string]any{
		"channel_id": json.Number(sub.ChannelID),
		"events":     sub.Events,
		"notify_url": sub.NotifyURL,
		"token":      sub.VerifyToken,
	}
	if sub.ChannelExpiry != nil {
		item["channel_expiry"] = sub.ChannelExpiry.Format(expiryLayout)
	}
	res, err := m.api.Call(ctx, http.MethodPost, watchPath, map[string]any{"watch": []any{item}})
	if err != nil {
		return SubscriptionResult{}, subscriptionFailure(err, "watch: register failed", sub.ChannelID, sub.Module)
	}
	items, err := decodeItems(res)
	if err != nil {
		return SubscriptionResult{}, subscriptionFailure(err, "watch: register failed", sub.ChannelID, sub.Module)
	}
	if len(items) == 0 {
		return SubscriptionResult{}, subscriptionFailure(
			core.ServerError(nil, http.StatusBadGateway, "watch: empty acknowledgement", map[string]any{"status": res.StatusCode}),
			"watch: register failed", sub.ChannelID, sub.Module,
		)
	}
	var ack watchItem
	if err := json.Unmarshal(items[0], &ack); err != nil {
		return SubscriptionResult{}, subscriptionFailure(
			core.ServerError(err, http.StatusBadGateway, "watch: decode acknowledgement", nil),
			"watch: register failed", sub.ChannelID, sub.Module,
		)
	}
	if itemErr := itemError(res.StatusCode, ack); itemErr != nil {
		return SubscriptionResult{}, subscriptionFailure(itemErr, "watch: register rejected", sub.ChannelID, sub.Module)
	}

	result = SubscriptionResult{
		ChannelID:     sub.ChannelID,
		Module:        sub.Module,
		Events:        append([]string(nil), sub.Events...),
		NotifyURL:     sub.NotifyURL,
		ChannelExpiry: sub.ChannelExpiry,
		Code:          ack.Code,
		Message:       ack.Message,
	}
	if detail, ok := firstEventDetail(ack.Details); ok {
		result.ResourceURI = detail.ResourceURI
		result.ResourceID = detail.ResourceID
		if expiry, ok := parseExpiry(detail.ChannelExpiry); ok {
			result.ChannelExpiry = &expiry
		}
	}
	if result.ChannelExpiry != nil {
		fields["channel_expiry"] = result.ChannelExpiry.UTC().Format(time.RFC3339)
	}
	return result, nil
}

// List returns the active watches of the credential's organisation.
func (m *Manager) List(ctx context.Context) (channels []Channel, err error) {
	startedAt := time.Now()
	defer func() {
		m.observer.Observe(ctx, startedAt, "watch_list", err, map[string]any{"count": len(channels)})
	}()
	res, err := m.api.Call(ctx, http.MethodGet, watchPath, nil)
	if err != nil {
		return nil, subscriptionFailure(err, "watch: list failed", "", "")
	}
	items, err := decodeItems(res)
	if err != nil {
		return nil, subscriptionFailure(err, "watch: list failed", "", "")
	}
	channels = make([]Channel, 0, len(items))
	for _, raw := range items {
		var item struct {
			ChannelID     json.Number `json:"channel_id"`
			Events        []string    `json:"events"`
			NotifyURL     string      `json:"notify_url"`
			ChannelExpiry string      `json:"channel_expiry"`
			ResourceName  string      `json:"resource_name"`
			ResourceURI   string      `json:"resource_uri"`
		}
		if err := decodeNumber(raw, &item); err != nil {
			return nil, subscriptionFailure(
				core.ServerError(err, http.StatusBadGateway, "watch: decode channel", nil),
				"watch: list failed", "", "",
			)
		}
		channel := Channel{
			ChannelID:    item.ChannelID.String(),
			Events:       item.Events,
			NotifyURL:    item.NotifyURL,
			ResourceName: item.ResourceName,
			ResourceURI:  item.ResourceURI,
		}
		if expiry, ok := parseExpiry(item.ChannelExpiry); ok {
			channel.ChannelExpiry = &expiry
		}
		channels = append(channels, channel)
	}
	return channels, nil
}

// Disable removes the watches for channelIDs.
func (m *Manager) Disable(ctx context.Context, channelIDs ...string) (err error) {
	ids := make([]string, 0, len(channelIDs))
	for _, id := range channelIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if err := ValidateChannelID(id); err != nil {
			return err
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return paramsError("watch: at least one channel id is required", "channel_id", nil)
	}
	joined := strings.Join(ids, ",")
	startedAt := time.Now()
	defer func() {
		m.observer.Observe(ctx, startedAt, "watch_disable", err, map[string]any{"channel_ids": joined})
	}()
	res, err := m.api.Call(ctx, http.MethodDelete, watchPath, nil, crm.WithQuery(url.Values{"channel_ids": {joined}}))
	if err != nil {
		return subscriptionFailure(err, "watch: disable failed", joined, "")
	}
	items, err := decodeItems(res)
	if err != nil {
		return subscriptionFailure(err, "watch: disable failed", joined, "")
	}
	for _, raw := range items {
		var ack watchItem
		if err := json.Unmarshal(raw, &ack); err != nil {
			continue
		}
		if itemErr := itemError(res.StatusCode, ack); itemErr != nil {
			return subscriptionFailure(itemErr, "watch: disable rejected", joined, "")
		}
	}
	return nil
}

func decodeItems(res crm.Response) ([]json.RawMessage, error) {
	if res.Empty || len(res.Body) == 0 {
		return nil, nil
	}
	var envelope watchEnvelope
	if err := json.Unmarshal(res.Body, &envelope); err != nil {
		return nil, core.ServerError(err, http.StatusBadGateway, "watch: decode response", map[string]any{"status": res.StatusCode})
	}
	return envelope.Watch, nil
}

func decodeNumber(raw []byte, target any) error {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	return decoder.Decode(target)
}

func itemError(status int, item watchItem) error {
	if !strings.EqualFold(item.Status, "error") {
		return nil
	}
	metadata := map[string]any{"status": status}
	if item.Code != "" {
		metadata["vendor_code"] = item.Code
	}
	if item.Message != "" {
		metadata["vendor_message"] = item.Message
	}
	var details map[string]any
	if len(item.Details) > 0 && json.Unmarshal(item.Details, &details) == nil && len(details) > 0 {
		metadata["vendor_details"] = details
		if field, ok := details["api_name"].(string); ok && field != "" {
			metadata["vendor_field"] = field
		}
	}
	message := "watch: vendor rejected the request"
	if item.Message != "" {
		message += ": " + item.Message
	}
	return core.ClientRequestError(http.StatusBadRequest, message, metadata)
}

func subscriptionFailure(cause error, message string, channelID string, module string) error {
	metadata := map[string]any{}
	if channelID != "" {
		metadata["channel_id"] = channelID
	}
	if module != "" {
		metadata["module"] = module
	}
	return core.SubscriptionError(cause, message, metadata)
}

func firstEventDetail(raw json.RawMessage) (watchEventDetail, bool) {
	if len(raw) == 0 {
		return watchEventDetail{}, false
	}
	var details struct {
		Events []watchEventDetail `json:"events"`
	}
	if err := decodeNumber(raw, &details); err != nil || len(details.Events) == 0 {
		return watchEventDetail{}, false
	}
	return details.Events[0], true
}

func parseExpiry(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	value, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return value, true
}
