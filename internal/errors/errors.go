package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/gin-gonic/gin"
)

// ErrorCategory classifies an error for handling and propagation.
type ErrorCategory string

const (
	// CategorySignalFetch is recoverable: the signal's contribution
	// degrades to 0 and a warning is attached to the score.
	CategorySignalFetch ErrorCategory = "signal_fetch"
	// CategoryUnknownProfile is fatal to the request: the caller must
	// supply an existing profile id.
	CategoryUnknownProfile ErrorCategory = "unknown_profile"
	// CategoryInvalidProfile is fatal at publish time: bad weights or
	// malformed transfers.
	CategoryInvalidProfile ErrorCategory = "invalid_profile"
	// CategoryCoalescingTimeout is recoverable: the cache falls back to
	// a direct synchronous compute.
	CategoryCoalescingTimeout ErrorCategory = "cache_coalescing_timeout"

	CategoryValidation ErrorCategory = "validation"
	CategoryTimeout    ErrorCategory = "timeout"
	CategoryRateLimit  ErrorCategory = "rate_limit"
	CategoryInternal   ErrorCategory = "internal"
)

// AppError wraps an errbuilder error with the category and HTTP status
// the transport layer needs.
type AppError struct {
	*errbuilder.ErrBuilder
	Category   ErrorCategory `json:"category"`
	HTTPStatus int           `json:"http_status"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Category, e.ErrBuilder.Msg)
}

// Unwrap returns the underlying cause.
func (e *AppError) Unwrap() error {
	return e.ErrBuilder.Unwrap()
}

// Recoverable reports whether scoring may proceed with degraded data
// instead of surfacing this error to the caller.
func (e *AppError) Recoverable() bool {
	switch e.Category {
	case CategorySignalFetch, CategoryCoalescingTimeout:
		return true
	}
	return false
}

// NewAppError builds an AppError from an errbuilder with category and status.
func NewAppError(builder *errbuilder.ErrBuilder, category ErrorCategory, httpStatus int) *AppError {
	return &AppError{
		ErrBuilder: builder,
		Category:   category,
		HTTPStatus: httpStatus,
		Timestamp:  time.Now(),
	}
}

// NewSignalFetchError marks a failed signal fetch. Recoverable.
func NewSignalFetchError(signalName string, cause error) *AppError {
	errorMap := errbuilder.ErrorMap{}
	errorMap.Set("signal", errors.New(signalName))

	builder := errbuilder.New().
		WithCode(errbuilder.CodeUnavailable).
		WithMsg(fmt.Sprintf("signal %q could not be fetched", signalName)).
		WithDetails(errbuilder.NewErrDetails(errorMap))

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(builder, CategorySignalFetch, http.StatusBadGateway)
}

// NewUnknownProfileError rejects a request naming a profile that does
// not exist.
func NewUnknownProfileError(profileID string) *AppError {
	errorMap := errbuilder.ErrorMap{}
	errorMap.Set("profile_id", errors.New(profileID))

	builder := errbuilder.New().
		WithCode(errbuilder.CodeNotFound).
		WithMsg(fmt.Sprintf("unknown scoring profile %q", profileID)).
		WithDetails(errbuilder.NewErrDetails(errorMap))

	return NewAppError(builder, CategoryUnknownProfile, http.StatusNotFound)
}

// NewInvalidProfileError rejects a profile at publish time.
func NewInvalidProfileError(cause error) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg("scoring profile rejected")

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(builder, CategoryInvalidProfile, http.StatusBadRequest)
}

// NewCoalescingTimeoutError marks a coalesced cache wait that expired.
// Recoverable: the caller computes directly, bypassing the cache.
func NewCoalescingTimeoutError(cacheKey string) *AppError {
	errorMap := errbuilder.ErrorMap{}
	errorMap.Set("cache_key", errors.New(cacheKey))

	builder := errbuilder.New().
		WithCode(errbuilder.CodeDeadlineExceeded).
		WithMsg("timed out waiting on in-flight score computation").
		WithDetails(errbuilder.NewErrDetails(errorMap))

	return NewAppError(builder, CategoryCoalescingTimeout, http.StatusGatewayTimeout)
}

// NewValidationError rejects a malformed request.
func NewValidationError(message string) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(message)

	return NewAppError(builder, CategoryValidation, http.StatusBadRequest)
}

// NewRateLimitError rejects a request over quota.
func NewRateLimitError(retryAfter time.Duration) *AppError {
	errorMap := errbuilder.ErrorMap{}
	errorMap.Set("retry_after", errors.New(retryAfter.String()))

	builder := errbuilder.New().
		WithCode(errbuilder.CodeResourceExhausted).
		WithMsg("rate limit exceeded").
		WithDetails(errbuilder.NewErrDetails(errorMap))

	return NewAppError(builder, CategoryRateLimit, http.StatusTooManyRequests)
}

// NewTimeoutError marks an expired request deadline.
func NewTimeoutError(message string, cause error) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeDeadlineExceeded).
		WithMsg(message)

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(builder, CategoryTimeout, http.StatusGatewayTimeout)
}

// NewInternalError wraps an unexpected failure.
func NewInternalError(message string, cause error) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg(message)

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(builder, CategoryInternal, http.StatusInternalServerError)
}

// ToAppError normalizes any error into an AppError.
func ToAppError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	if ebErr, ok := err.(*errbuilder.ErrBuilder); ok {
		return NewAppError(ebErr, CategoryInternal, http.StatusInternalServerError)
	}

	if errors.Is(err, context.Canceled) {
		return NewTimeoutError("request cancelled", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError("request deadline exceeded", err)
	}

	return NewInternalError("an unexpected error occurred", err)
}

// ErrorHandler is Gin middleware that converts accumulated handler
// errors into structured responses.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		appErr := ToAppError(c.Errors.Last().Err)
		LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, appErr)
	}
}

// RecoveryHandler converts panics into structured 500 responses.
func RecoveryHandler() gin.HandlerFunc {
	return gin.RecoveryWithWriter(nil, func(c *gin.Context, err interface{}) {
		appErr := NewInternalError(
			fmt.Sprintf("panic recovered: %v", err),
			fmt.Errorf("%v", err),
		)
		LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, appErr)
	})
}

// LogError logs an AppError at a level matching its category. Request
// shape and configuration errors are the caller's fault and logged at
// Warn; recoverable degradations at Info; the rest at Error.
func LogError(c *gin.Context, err *AppError) {
	logEntry := slog.With(
		"error_category", err.Category,
		"error_code", err.ErrBuilder.ErrCode(),
		"http_status", err.HTTPStatus,
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"ip", c.ClientIP(),
	)

	msg := err.ErrBuilder.Msg
	cause := err.ErrBuilder.Unwrap()

	switch {
	case err.Recoverable():
		logEntry.Info(msg, "cause", cause)
	case err.Category == CategoryValidation,
		err.Category == CategoryUnknownProfile,
		err.Category == CategoryInvalidProfile,
		err.Category == CategoryRateLimit:
		logEntry.Warn(msg, "cause", cause)
	default:
		logEntry.Error(msg, "cause", cause)
	}
}
