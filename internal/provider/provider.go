// Package provider defines the per-platform send contract implemented by
// every push backend adapter (fake, WNS, FCM, and the extensibility
// demos under pkg/). The dispatcher depends only on this interface.
package provider

import (
	"context"
	"net/http"

	"github.com/pushbox/outbox-dispatcher/internal/model"
)

// Result is the outcome of a single Send call. Ok is mutually exclusive
// with the Fail fields; a zero-value Result with Ok=false and no error
// set is never produced by a correct provider.
type Result struct {
	Ok        bool
	Message   string
	Code      int
	Category  model.FailureCategory
	Retryable bool
}

// Success builds the Ok result.
func Success() Result {
	return Result{Ok: true}
}

// Failure builds a classified failure. Retryable is derived from the
// category so callers cannot accidentally set them inconsistently.
func Failure(category model.FailureCategory, code int, message string) Result {
	return Result{
		Ok:        false,
		Message:   message,
		Code:      code,
		Category:  category,
		Retryable: category.Retryable(),
	}
}

// Provider is the outbound send primitive for one platform. Implementations
// own all network I/O, authentication, and native payload serialization,
// and MUST classify every failure per the FailureCategory taxonomy.
type Provider interface {
	// Send delivers a single push to token, returning a classified Result.
	// It must respect ctx cancellation/deadline and never block past it.
	Send(ctx context.Context, token, title, body string, data map[string]string) Result
}

// Name identifies a provider implementation for logging; optional.
type Named interface {
	Name() string
}

// MapStatusCode applies the backend error mapping shared by both real
// providers (spec §4.3): 400->InvalidPayload, 401->Unauthorized,
// 404->InvalidToken, 429->RateLimited, 500|503->ServiceUnavailable,
// anything else unrecognized -> Unknown.
func MapStatusCode(code int) model.FailureCategory {
	switch code {
	case http.StatusBadRequest:
		return model.CategoryInvalidPayload
	case http.StatusUnauthorized:
		return model.CategoryUnauthorized
	case http.StatusNotFound:
		return model.CategoryInvalidToken
	case http.StatusTooManyRequests:
		return model.CategoryRateLimited
	case http.StatusInternalServerError, http.StatusServiceUnavailable:
		return model.CategoryServiceUnavailable
	default:
		return model.CategoryUnknown
	}
}
