package webhook

import (
	"crypto/sha256"
	"crypto/subtle"
	"strings"

	"github.com/goliatone/go-crmwatch/core"
)

// Verify accepts the notification only when its token equals expected
// exactly. Both values are hashed first so the comparison time depends on
// neither the matching prefix nor the token length.
func Verify(notification core.Notification, expected string) core.Verdict {
	if expected == "" || notification.Token == "" {
		return core.VerdictRejected
	}
	got := sha256.Sum256([]byte(notification.Token))
	want := sha256.Sum256([]byte(expected))
	if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
		return core.VerdictRejected
	}
	return core.VerdictAccepted
}

// Verifier checks the shared token and, when ChannelID is set, that the
// notification belongs to that channel.
type Verifier struct {
	Token     string
	ChannelID string
}

func (v Verifier) Verify(notification core.Notification) core.Verdict {
	if Verify(notification, v.Token) != core.VerdictAccepted {
		return core.VerdictRejected
	}
	channelID := strings.TrimSpace(v.ChannelID)
	if channelID != "" && notification.ChannelID != "" && notification.ChannelID != channelID {
		return core.VerdictRejected
	}
	return core.VerdictAccepted
}
