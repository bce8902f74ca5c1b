// Package apierror defines the gateway's error taxonomy and converts errors
// into JSON responses at the request boundary.
package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/coachgate/internal/logging"
)

// ErrQuotaExceeded is returned when an account has used all calls its tier allows.
var ErrQuotaExceeded = errors.New("quota exceeded")

// ConfigurationError reports a required secret or setting that is missing.
// It is fatal for the affected endpoint only.
type ConfigurationError struct {
	Setting string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s is not set", e.Setting)
}

// StorageError wraps a data-store failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Storage wraps err as a StorageError unless it is nil or already one.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// AuthError reports a missing or rejected identity.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string { return "auth error: " + e.Message }

// UpstreamError carries a failed upstream call's status and message.
type UpstreamError struct {
	Status  int
	Message string
	Err     error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream error (%d): %s: %v", e.Status, e.Message, e.Err)
	}
	return fmt.Sprintf("upstream error (%d): %s", e.Status, e.Message)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// ValidationError reports malformed client input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Invalid is shorthand for a ValidationError.
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// Status returns the HTTP status and machine-readable code for err.
func Status(err error) (int, string) {
	var (
		cfgErr      *ConfigurationError
		storageErr  *StorageError
		authErr     *AuthError
		upstreamErr *UpstreamError
		validErr    *ValidationError
	)
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		return http.StatusForbidden, "limit_reached"
	case errors.As(err, &validErr):
		return http.StatusBadRequest, "invalid_request"
	case errors.As(err, &authErr):
		status := authErr.Status
		if status == 0 {
			status = http.StatusUnauthorized
		}
		return status, "unauthorized"
	case errors.As(err, &upstreamErr):
		status := upstreamErr.Status
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		return status, "upstream_error"
	case errors.As(err, &cfgErr):
		return http.StatusInternalServerError, "configuration_error"
	case errors.As(err, &storageErr):
		return http.StatusInternalServerError, "storage_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// Respond writes err as a JSON error body and aborts the gin chain.
// Internal details of configuration and storage failures are logged, not returned.
func Respond(c *gin.Context, err error) {
	status, code := Status(err)
	message := publicMessage(err)

	logger := logging.L(c.Request.Context())
	if status >= 500 {
		logger.Error("request failed", "error", err, "code", code, "path", c.Request.URL.Path)
	} else {
		logger.Warn("request rejected", "error", err, "code", code, "path", c.Request.URL.Path)
	}

	c.AbortWithStatusJSON(status, gin.H{
		"error":   code,
		"message": message,
	})
}

func publicMessage(err error) string {
	var (
		authErr     *AuthError
		upstreamErr *UpstreamError
		validErr    *ValidationError
		cfgErr      *ConfigurationError
		storageErr  *StorageError
	)
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		return "Usage limit reached for your plan"
	case errors.As(err, &validErr):
		if validErr.Field == "" {
			return validErr.Message
		}
		return validErr.Field + ": " + validErr.Message
	case errors.As(err, &authErr):
		return authErr.Message
	case errors.As(err, &upstreamErr):
		return upstreamErr.Message
	case errors.As(err, &cfgErr):
		return "Service is not configured"
	case errors.As(err, &storageErr):
		return "Database error"
	default:
		return "An unexpected error occurred"
	}
}
