package webhook

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/goliatone/go-crmwatch/core"
)

// LoggingDispatcher records accepted notifications and does nothing else.
type LoggingDispatcher struct {
	Observer core.Observer
}

func (d LoggingDispatcher) Dispatch(ctx context.Context, notification core.Notification) error {
	d.Observer.Log(ctx, "info", "webhook notification accepted", map[string]any{
		"request_id":      notification.RequestID,
		"channel_id":      notification.ChannelID,
		"module":          notification.Module,
		"operation":       notification.Operation,
		"ids":             strings.Join(notification.IDs, ","),
		"affected_fields": strings.Join(notification.AffectedFields, ","),
	})
	return nil
}

// Mux routes notifications to a dispatcher per module. Notifications for
// modules without a dispatcher go to Fallback when set.
type Mux struct {
	Fallback core.NotificationDispatcher

	mu       sync.RWMutex
	byModule map[string]core.NotificationDispatcher
}

func NewMux(fallback core.NotificationDispatcher) *Mux {
	return &Mux{Fallback: fallback, byModule: map[string]core.NotificationDispatcher{}}
}

func (m *Mux) Handle(module string, dispatcher core.NotificationDispatcher) error {
	key := strings.ToLower(strings.TrimSpace(module))
	if key == "" {
		return core.ClientRequestError(http.StatusBadRequest, "webhook: module is required", nil)
	}
	if dispatcher == nil {
		return core.ClientRequestError(http.StatusBadRequest, "webhook: dispatcher is nil", map[string]any{"module": module})
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byModule == nil {
		m.byModule = map[string]core.NotificationDispatcher{}
	}
	if _, exists := m.byModule[key]; exists {
		return core.ClientRequestError(http.StatusConflict, "webhook: dispatcher already registered for module", map[string]any{"module": module})
	}
	m.byModule[key] = dispatcher
	return nil
}

func (m *Mux) Dispatch(ctx context.Context, notification core.Notification) error {
	m.mu.RLock()
	dispatcher, ok := m.byModule[strings.ToLower(strings.TrimSpace(notification.Module))]
	m.mu.RUnlock()
	if !ok {
		dispatcher = m.Fallback
	}
	if dispatcher == nil {
		return nil
	}
	return dispatcher.Dispatch(ctx, notification)
}
