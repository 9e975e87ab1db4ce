package api

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/go-typerace/internal/anticheat"
	"github.com/npezzotti/go-typerace/internal/submission"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

// newApiError builds an error whose message is the lowercased status text.
func newApiError(status int, err error) *ApiError {
	return &ApiError{
		StatusCode: status,
		Message:    strings.ToLower(http.StatusText(status)),
		Err:        err,
	}
}

func NewBadRequestError() *ApiError       { return newApiError(http.StatusBadRequest, nil) }
func NewUnauthorizedError() *ApiError     { return newApiError(http.StatusUnauthorized, nil) }
func NewForbiddenError() *ApiError        { return newApiError(http.StatusForbidden, nil) }
func NewNotFoundError() *ApiError         { return newApiError(http.StatusNotFound, nil) }
func NewMethodNotAllowedError() *ApiError { return newApiError(http.StatusMethodNotAllowed, nil) }

func NewInternalServerError(err error) *ApiError {
	return newApiError(http.StatusInternalServerError, err)
}

// domainErrors lists the errors a client can act on. Their text is safe to
// return as the response message.
var domainErrors = []struct {
	target error
	status int
}{
	{sql.ErrNoRows, http.StatusNotFound},
	{anticheat.ErrSessionNotFound, http.StatusNotFound},
	{anticheat.ErrSessionExpired, http.StatusNotFound},
	{anticheat.ErrNotSessionOwner, http.StatusForbidden},
	{submission.ErrInvalidRequest, http.StatusBadRequest},
	{submission.ErrResultNotFound, http.StatusNotFound},
	{submission.ErrNotOwner, http.StatusForbidden},
}

// errorFor maps err to the response the client gets. Unknown errors become
// a 500 that keeps err for logging but never shows it.
func errorFor(err error) *ApiError {
	for _, de := range domainErrors {
		if !errors.Is(err, de.target) {
			continue
		}

		apiErr := newApiError(de.status, err)
		if de.target != sql.ErrNoRows {
			apiErr.Message = de.target.Error()
		}
		return apiErr
	}

	return NewInternalServerError(err)
}
