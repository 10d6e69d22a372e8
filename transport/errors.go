package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorInvalidRequest   = "TRANSPORT_INVALID_REQUEST"
	ErrorExecute          = "TRANSPORT_EXECUTE_FAILED"
	ErrorResponseTooLarge = "TRANSPORT_RESPONSE_TOO_LARGE"
)

// invalidRequest covers everything rejected before the request left the
// process. A nil source yields a fresh error.
func invalidRequest(source error, message string, metadata map[string]any) error {
	return build(source, message, goerrors.CategoryBadInput, http.StatusBadRequest, ErrorInvalidRequest, metadata)
}

// executeFailed covers network failures and truncated reads. Callers map it
// to a transient error.
func executeFailed(source error, message string, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["timeout"] = IsTimeout(source)
	return build(source, message, goerrors.CategoryExternal, http.StatusBadGateway, ErrorExecute, metadata)
}

func responseTooLarge(status int, limit int64) error {
	return build(nil,
		fmt.Sprintf("transport: response body exceeds limit of %d bytes", limit),
		goerrors.CategoryExternal, http.StatusBadGateway, ErrorResponseTooLarge,
		map[string]any{"status_code": status, "response_limit_b": limit},
	)
}

func build(source error, message string, category goerrors.Category, code int, textCode string, metadata map[string]any) error {
	err := goerrors.New(message, category).WithCode(code).WithTextCode(textCode)
	err.Source = source
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func hasCode(err error, textCode string) bool {
	var rich *goerrors.Error
	return goerrors.As(err, &rich) && rich != nil && rich.TextCode == textCode
}

// IsInvalidRequest reports errors raised before anything was sent.
func IsInvalidRequest(err error) bool { return hasCode(err, ErrorInvalidRequest) }

// IsExecuteFailure reports requests that were sent but got no usable response.
func IsExecuteFailure(err error) bool {
	return hasCode(err, ErrorExecute) || hasCode(err, ErrorResponseTooLarge)
}

// IsTimeout reports deadline and network timeout failures.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
