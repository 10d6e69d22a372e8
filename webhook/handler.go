package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/goliatone/go-crmwatch/core"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
)

const DefaultMaxBodyBytes int64 = 1 << 20

type NotificationVerifier interface {
	Verify(notification core.Notification) core.Verdict
}

type HandlerOption func(*Handler)

func WithLogger(logger core.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithMaxBodyBytes(limit int64) HandlerOption {
	return func(h *Handler) {
		if limit > 0 {
			h.maxBodyBytes = limit
		}
	}
}

// Handler serves the notification callback endpoint.
type Handler struct {
	verifier     NotificationVerifier
	dispatcher   core.NotificationDispatcher
	logger       core.Logger
	observer     core.Observer
	maxBodyBytes int64
}

func NewHandler(verifier NotificationVerifier, dispatcher core.NotificationDispatcher, opts ...HandlerOption) (*Handler, error) {
	if verifier == nil {
		return nil, core.ConfigError("webhook: verifier is required", nil)
	}
	h := &Handler{
		verifier:     verifier,
		dispatcher:   dispatcher,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	_, h.logger = glog.Resolve("crmwatch.webhook", nil, h.logger)
	h.observer = core.NewObserver(h.logger)
	if h.dispatcher == nil {
		h.dispatcher = LoggingDispatcher{Observer: h.observer}
	}
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetReqID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"ok": false, "error": "payload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid body"})
		return
	}
	notification, err := DecodeNotification(body)
	if err != nil {
		h.observer.Log(ctx, "warn", "webhook payload rejected", map[string]any{
			"request_id": requestID,
			"reason":     "invalid_json",
		})
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid JSON"})
		return
	}
	notification.RequestID = requestID

	fields := map[string]any{
		"request_id": requestID,
		"channel_id": notification.ChannelID,
		"module":     notification.Module,
		"operation":  notification.Operation,
		"ids":        len(notification.IDs),
	}
	if !h.verifier.Verify(notification).Accepted() {
		h.observer.Log(ctx, "warn", "webhook notification rejected", fields)
		writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false, "error": "unauthorized"})
		return
	}

	startedAt := time.Now()
	dispatchErr := h.dispatch(ctx, notification)
	h.observer.Observe(ctx, startedAt, "webhook_dispatch", dispatchErr, fields)

	received := notification.IDs
	if received == nil {
		received = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "received": received})
}

func (h *Handler) dispatch(ctx context.Context, notification core.Notification) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = core.InternalError(fmt.Sprintf("webhook: dispatcher panicked: %v", recovered), map[string]any{
				"request_id": notification.RequestID,
			})
		}
	}()
	return h.dispatcher.Dispatch(ctx, notification)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
