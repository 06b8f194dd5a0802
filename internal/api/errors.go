package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/npezzotti/go-flashroom/internal/auth"
	"github.com/samber/lo"
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

func lower(s string) string {
	return strings.ToLower(s)
}

func newApiError(statusCode int) *ApiError {
	return &ApiError{
		StatusCode: statusCode,
		Message:    lower(http.StatusText(statusCode)),
	}
}

func NewBadRequestError() *ApiError {
	return newApiError(http.StatusBadRequest)
}

// NewValidationError reports which request fields failed validation.
func NewValidationError(err error) *ApiError {
	msg := lower(http.StatusText(http.StatusBadRequest))

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := lo.Map(verrs, func(fe validator.FieldError, _ int) string {
			return fmt.Sprintf("%s failed %s", lower(fe.Field()), fe.Tag())
		})
		msg = fmt.Sprintf("invalid request: %s", strings.Join(fields, ", "))
	}

	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Message:    msg,
		Err:        err,
	}
}

func NewNotFoundError() *ApiError {
	return newApiError(http.StatusNotFound)
}

// NewGoneError is returned for rooms that exist but have expired.
func NewGoneError() *ApiError {
	return newApiError(http.StatusGone)
}

func NewConflictError(msg string) *ApiError {
	return &ApiError{
		StatusCode: http.StatusConflict,
		Message:    msg,
	}
}

func NewInternalServerError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusInternalServerError,
		Message:    lower(http.StatusText(http.StatusInternalServerError)),
		Err:        err,
	}
}

func NewUnauthorizedError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusUnauthorized,
		Message:    auth.ErrAuthenticationRequired.Error(),
	}
}

func NewInvalidCredentialsError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusUnauthorized,
		Message:    "invalid username or password",
	}
}
