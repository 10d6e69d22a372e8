package command

import (
	"strings"

	"github.com/goliatone/go-crmwatch/core"
	"github.com/goliatone/go-crmwatch/watch"
)

const (
	TypeRegisterWatch = "crmwatch.command.watch.register"
	TypeDisableWatch  = "crmwatch.command.watch.disable"
	TypeRefreshToken  = "crmwatch.command.token.refresh"
)

type RegisterWatchMessage struct {
	Subscription core.Subscription
}

func (RegisterWatchMessage) Type() string { return TypeRegisterWatch }

// Validate only checks what a message needs to be routed; the manager runs
// the full subscription checks before any request is sent.
func (m RegisterWatchMessage) Validate() error {
	if err := watch.ValidateChannelID(strings.TrimSpace(m.Subscription.ChannelID)); err != nil {
		return commandWrapValidation(err, "command: register watch")
	}
	if strings.TrimSpace(m.Subscription.Module) == "" {
		return commandValidationError("module", "module is required")
	}
	if strings.TrimSpace(m.Subscription.NotifyURL) == "" {
		return commandValidationError("notify_url", "notify url is required")
	}
	return nil
}

type DisableWatchMessage struct {
	ChannelIDs []string
}

func (DisableWatchMessage) Type() string { return TypeDisableWatch }

func (m DisableWatchMessage) Validate() error {
	count := 0
	for _, id := range m.ChannelIDs {
		if strings.TrimSpace(id) == "" {
			continue
		}
		if err := watch.ValidateChannelID(strings.TrimSpace(id)); err != nil {
			return commandWrapValidation(err, "command: disable watch")
		}
		count++
	}
	if count == 0 {
		return commandValidationError("channel_ids", "at least one channel id is required")
	}
	return nil
}

// RefreshTokenMessage refreshes the access token when it is stale, or always
// when Force is set.
type RefreshTokenMessage struct {
	Force bool
}

func (RefreshTokenMessage) Type() string { return TypeRefreshToken }

func (RefreshTokenMessage) Validate() error { return nil }
