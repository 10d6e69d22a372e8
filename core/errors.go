package core

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorConfig                    = "CRMWATCH_CONFIG_ERROR"
	ErrorPersistence               = "CRMWATCH_PERSISTENCE_ERROR"
	ErrorTransientAuth             = "CRMWATCH_TRANSIENT_AUTH_ERROR"
	ErrorAuthScope                 = "CRMWATCH_AUTH_SCOPE_ERROR"
	ErrorClientRequest             = "CRMWATCH_CLIENT_REQUEST_ERROR"
	ErrorRateLimited               = "CRMWATCH_RATE_LIMITED"
	ErrorServer                    = "CRMWATCH_SERVER_ERROR"
	ErrorInvalidChannelID          = "CRMWATCH_INVALID_CHANNEL_ID"
	ErrorInvalidSubscriptionParams = "CRMWATCH_INVALID_SUBSCRIPTION_PARAMS"
	ErrorSubscription              = "CRMWATCH_SUBSCRIPTION_ERROR"
	ErrorInternal                  = "CRMWATCH_INTERNAL_ERROR"
)

func newError(message string, category goerrors.Category, code int, textCode string, metadata map[string]any) *goerrors.Error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// wrapError keeps source reachable through Source. goerrors.Wrap would clone
// a typed source and lose its text code once the outer code is applied.
func wrapError(source error, message string, category goerrors.Category, code int, textCode string, metadata map[string]any) *goerrors.Error {
	err := newError(message, category, code, textCode, metadata)
	err.Source = source
	return err
}

// ConfigError reports bad or missing local configuration or credential files.
func ConfigError(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryValidation, http.StatusInternalServerError, ErrorConfig, metadata)
}

func WrapConfigError(source error, message string, metadata map[string]any) error {
	return wrapError(source, message, goerrors.CategoryValidation, http.StatusInternalServerError, ErrorConfig, metadata)
}

func PersistenceError(source error, message string, metadata map[string]any) error {
	return wrapError(source, message, goerrors.CategoryOperation, http.StatusInternalServerError, ErrorPersistence, metadata)
}

func TransientAuthError(source error, message string, metadata map[string]any) error {
	return wrapError(source, message, goerrors.CategoryExternal, http.StatusBadGateway, ErrorTransientAuth, metadata)
}

// AuthScopeError is never retried: the operator must mint a credential with
// the right scopes.
func AuthScopeError(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryAuth, http.StatusUnauthorized, ErrorAuthScope, metadata)
}

func ClientRequestError(status int, message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryBadInput, status, ErrorClientRequest, metadata)
}

func RateLimitedError(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryRateLimit, http.StatusTooManyRequests, ErrorRateLimited, metadata)
}

func ServerError(source error, status int, message string, metadata map[string]any) error {
	if status < http.StatusInternalServerError {
		status = http.StatusBadGateway
	}
	return wrapError(source, message, goerrors.CategoryExternal, status, ErrorServer, metadata)
}

func InvalidChannelIDError(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryValidation, http.StatusBadRequest, ErrorInvalidChannelID, metadata)
}

func InvalidSubscriptionParamsError(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryValidation, http.StatusBadRequest, ErrorInvalidSubscriptionParams, metadata)
}

func SubscriptionError(source error, message string, metadata map[string]any) error {
	return wrapError(source, message, goerrors.CategoryOperation, http.StatusBadGateway, ErrorSubscription, metadata)
}

func InternalError(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryInternal, http.StatusInternalServerError, ErrorInternal, metadata)
}

// HasTextCode walks the wrap chain looking for an error with the given code.
func HasTextCode(err error, textCode string) bool {
	for current := err; current != nil; current = nextInChain(current) {
		if rich, ok := current.(*goerrors.Error); ok && rich != nil && rich.TextCode == textCode {
			return true
		}
	}
	return false
}

func nextInChain(err error) error {
	if rich, ok := err.(*goerrors.Error); ok && rich != nil {
		return rich.Source
	}
	return errors.Unwrap(err)
}

// TextCode returns the outermost text code, or "" for plain errors.
func TextCode(err error) string {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich != nil {
		return rich.TextCode
	}
	return ""
}

// IsRetryable reports whether an orchestrating caller may retry err.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if HasTextCode(err, ErrorAuthScope) {
		return false
	}
	switch TextCode(err) {
	case ErrorTransientAuth, ErrorServer, ErrorRateLimited:
		return true
	case ErrorSubscription:
		return HasTextCode(err, ErrorServer) || HasTextCode(err, ErrorTransientAuth) || HasTextCode(err, ErrorRateLimited)
	}
	return false
}

// Metadata merges metadata along the wrap chain, outer values win.
func Metadata(err error) map[string]any {
	out := map[string]any{}
	var chain []*goerrors.Error
	for current := err; current != nil; current = nextInChain(current) {
		if rich, ok := current.(*goerrors.Error); ok && rich != nil {
			chain = append(chain, rich)
		}
	}
	for i := len(chain) - 1; i >= 0; i-- {
		for key, value := range chain[i].Metadata {
			out[key] = value
		}
	}
	return out
}

// Describe renders an operator facing message: the messages along the wrap
// chain, the outer text code and the metadata that explains what to fix.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich == nil {
		return err.Error()
	}
	headline := chainMessage(rich)
	if rich.TextCode != "" {
		headline = fmt.Sprintf("%s [%s]", headline, rich.TextCode)
	}
	parts := []string{headline}
	metadata := Metadata(err)
	keys := make([]string, 0, len(metadata))
	for key := range metadata {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", key, metadata[key]))
	}
	if hint := describeHint(err); hint != "" {
		parts = append(parts, "hint: "+hint)
	}
	return strings.Join(parts, " ")
}

func chainMessage(err *goerrors.Error) string {
	messages := []string{}
	var current error = err
	for current != nil {
		rich, ok := current.(*goerrors.Error)
		if !ok || rich == nil {
			messages = append(messages, current.Error())
			break
		}
		if msg := strings.TrimSpace(rich.Message); msg != "" {
			messages = append(messages, msg)
		}
		current = rich.Source
	}
	return strings.Join(messages, ": ")
}

func describeHint(err error) string {
	switch {
	case HasTextCode(err, ErrorAuthScope):
		return "mint a new refresh token with the required scopes and update the credential file"
	case HasTextCode(err, ErrorInvalidChannelID):
		return "channel_id must be a positive integer of 10 to 20 digits"
	case HasTextCode(err, ErrorConfig):
		return "fix the configuration or credential file before retrying"
	}
	return ""
}
