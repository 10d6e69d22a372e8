package watch

import (
	"net/url"
	"strings"

	"github.com/goliatone/go-crmwatch/core"
)

const (
	minChannelIDDigits = 10
	maxChannelIDDigits = 20
	maxVerifyTokenLen  = 50
)

var eventVerbs = map[string]struct{}{
	"create": {},
	"edit":   {},
	"delete": {},
	"all":    {},
}

// ValidateChannelID accepts a positive integer of 10 to 20 digits.
func ValidateChannelID(channelID string) error {
	metadata := map[string]any{"channel_id": channelID}
	if len(channelID) < minChannelIDDigits || len(channelID) > maxChannelIDDigits {
		return core.InvalidChannelIDError("watch: channel id must have 10 to 20 digits", metadata)
	}
	if channelID[0] == '0' {
		return core.InvalidChannelIDError("watch: channel id must not start with zero", metadata)
	}
	for _, r := range channelID {
		if r < '0' || r > '9' {
			return core.InvalidChannelIDError("watch: channel id must be numeric", metadata)
		}
	}
	return nil
}

// NormalizeEvents qualifies bare verbs with module and checks every event is
// Module.verb with a known verb. Duplicates are dropped, order is kept.
func NormalizeEvents(module string, events []string) ([]string, error) {
	module = strings.TrimSpace(module)
	out := make([]string, 0, len(events))
	seen := map[string]struct{}{}
	for _, raw := range events {
		event := strings.TrimSpace(raw)
		if event == "" {
			continue
		}
		if !strings.Contains(event, ".") {
			event = module + "." + event
		}
		prefix, verb, _ := strings.Cut(event, ".")
		if strings.TrimSpace(prefix) == "" || strings.ContainsAny(prefix, " /") {
			return nil, paramsError("watch: event module is invalid", "events", map[string]any{"event": raw})
		}
		if _, ok := eventVerbs[strings.ToLower(verb)]; !ok {
			return nil, paramsError("watch: event verb must be create, edit, delete or all", "events", map[string]any{"event": raw})
		}
		event = prefix + "." + strings.ToLower(verb)
		if _, dup := seen[event]; dup {
			continue
		}
		seen[event] = struct{}{}
		out = append(out, event)
	}
	if len(out) == 0 {
		return nil, paramsError("watch: at least one event is required", "events", nil)
	}
	return out, nil
}

// ValidateNotifyURL requires an absolute https URL unless allowInsecure is
// set, in which case http is accepted too.
func ValidateNotifyURL(raw string, allowInsecure bool) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return paramsError("watch: notify url is required", "notify_url", nil)
	}
	parsed, err := url.Parse(raw)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return paramsError("watch: notify url must be absolute", "notify_url", map[string]any{"notify_url": raw})
	}
	switch strings.ToLower(parsed.Scheme) {
	case "https":
		return nil
	case "http":
		if allowInsecure {
			return nil
		}
	}
	return paramsError("watch: notify url must use https", "notify_url", map[string]any{"notify_url": raw})
}

func validateVerifyToken(token string) error {
	if token == "" {
		return paramsError("watch: verify token is required", "verify_token", nil)
	}
	if len(token) > maxVerifyTokenLen {
		return paramsError("watch: verify token must be at most 50 characters", "verify_token", map[string]any{"length": len(token)})
	}
	return nil
}

func validateModule(module string) error {
	module = strings.TrimSpace(module)
	if module == "" {
		return paramsError("watch: module is required", "module", nil)
	}
	if strings.ContainsAny(module, " /?.") {
		return paramsError("watch: module name is invalid", "module", map[string]any{"module": module})
	}
	return nil
}

func paramsError(message string, field string, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["field"] = field
	return core.InvalidSubscriptionParamsError(message, metadata)
}

// NotifyURL joins the public base URL with the callback path.
func NotifyURL(base string, path string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return ""
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return base
	}
	return base + "/" + strings.TrimLeft(path, "/")
}
