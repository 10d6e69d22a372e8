package command

import (
	"net/http"

	"github.com/goliatone/go-crmwatch/core"
	goerrors "github.com/goliatone/go-errors"
)

func commandDependencyError(message string) error {
	return core.InternalError(message, map[string]any{"package": "command"})
}

func commandValidationError(field string, message string) error {
	return goerrors.NewValidation("command: validation failed", goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.ErrorInvalidSubscriptionParams).
		WithSeverity(goerrors.SeverityError)
}

// commandWrapValidation keeps the inner text code so callers can still tell
// a bad channel id from other parameter errors.
func commandWrapValidation(err error, message string) error {
	if err == nil {
		return nil
	}
	textCode := core.TextCode(err)
	if textCode == "" {
		textCode = core.ErrorInvalidSubscriptionParams
	}
	wrapped := goerrors.New(message, goerrors.CategoryValidation).
		WithCode(http.StatusBadRequest).
		WithTextCode(textCode)
	wrapped.Source = err
	return wrapped
}
