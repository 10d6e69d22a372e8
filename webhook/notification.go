package webhook

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-crmwatch/core"
)

// DecodeNotification parses a notification body. The body must be a JSON
// object; ids are read from the top level and fall back to payload.ids.
func DecodeNotification(body []byte) (core.Notification, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil || raw == nil {
		return core.Notification{}, core.ClientRequestError(http.StatusBadRequest, "webhook: body is not a JSON object", nil)
	}

	notification := core.Notification{
		Token:       stringField(raw["token"]),
		Module:      scalarString(raw["module"]),
		Operation:   scalarString(raw["operation"]),
		ChannelID:   scalarString(raw["channel_id"]),
		ResourceURI: scalarString(raw["resource_uri"]),
		IDs:         stringList(raw["ids"]),
		Raw:         raw,
	}
	if len(notification.IDs) == 0 {
		if payload, ok := raw["payload"].(map[string]any); ok {
			notification.IDs = stringList(payload["ids"])
		}
	}
	notification.AffectedFields = affectedFields(raw["affected_fields"])
	if serverTime, ok := epochMillis(raw["server_time"]); ok {
		notification.ServerTime = &serverTime
	}
	return notification, nil
}

// stringField only accepts JSON strings, so a numeric token can never match.
func stringField(value any) string {
	text, _ := value.(string)
	return text
}

func scalarString(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return typed.String()
	case bool:
		if typed {
			return "true"
		}
		return "false"
	}
	return ""
}

func stringList(value any) []string {
	items, ok := value.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if text := scalarString(item); text != "" {
			out = append(out, text)
		}
	}
	return out
}

// affectedFields accepts a list of field names or the per-record form
// [{"<id>": ["Field", ...]}] and returns the sorted distinct names.
func affectedFields(value any) []string {
	items, ok := value.([]any)
	if !ok {
		return nil
	}
	seen := map[string]struct{}{}
	for _, item := range items {
		switch typed := item.(type) {
		case string:
			seen[typed] = struct{}{}
		case map[string]any:
			for _, fields := range typed {
				for _, field := range stringList(fields) {
					seen[field] = struct{}{}
				}
			}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for field := range seen {
		out = append(out, field)
	}
	sort.Strings(out)
	return out
}

func epochMillis(value any) (time.Time, bool) {
	number, ok := value.(json.Number)
	if !ok {
		return time.Time{}, false
	}
	millis, err := number.Int64()
	if err != nil || millis <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(millis).UTC(), true
}
