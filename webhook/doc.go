// Package webhook receives vendor change notifications.
//
// A notification is accepted only when its token matches the configured
// verify token. Accepted notifications are dispatched synchronously and are
// always acknowledged with 200, whatever the dispatcher returns, so the
// vendor never backs off a healthy subscription because of downstream
// failures. Rejections get a generic 401.
package webhook
