package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"lifesync/internal/identity"
	"lifesync/internal/localstore"
	"lifesync/internal/log"
	"lifesync/internal/mirror"
	"lifesync/internal/services"
	"lifesync/internal/store"
)

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// validationError marks err as rejected user input.
func validationError(err error) error {
	return fmt.Errorf("%w: %w", services.ErrValidation, err)
}

// inputError classifies a body decoding failure: malformed JSON stays a bad
// request, rejected amounts and dates become validation failures.
func inputError(err error) error {
	if errors.Is(err, errBadRequest) {
		return err
	}
	return validationError(err)
}

// errorResponse maps a service error to its HTTP status and logs what the
// client cannot see.
func errorResponse(ctx context.Context, err error) *JSONResponseBuilder {
	switch {
	case errors.Is(err, errBadRequest):
		return BadRequestError(err.Error())
	case errors.Is(err, mirror.ErrNoPrincipal):
		return UnauthorizedError("sign in required")
	case errors.Is(err, services.ErrValidation), errors.Is(err, localstore.ErrInvalidKey):
		logRejected(ctx, err, log.ErrorTypeValidation)
		return UnprocessableEntityError(err.Error())
	case errors.Is(err, store.ErrNotFound):
		logRejected(ctx, err, log.ErrorTypeNotFound)
		return NotFoundError("document not found")
	case errors.Is(err, identity.ErrCancelled):
		logRejected(ctx, err, log.ErrorTypeConflict)
		return ErrorResponse(http.StatusConflict, CodeSignInCancelled, "sign-in cancelled")
	case errors.Is(err, identity.ErrAuthFailure):
		log.FromContext(ctx).WarnContext(ctx, "Identity provider failure",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeAuth)
		return ErrorResponse(http.StatusBadGateway, CodeAuthFailure, "identity provider failed")
	case errors.Is(err, services.ErrNoExportSink):
		return ErrorResponse(http.StatusConflict, CodeNoExportSink, err.Error())
	default:
		log.NewStructuredLogger(log.FromContext(ctx)).
			LogError(ctx, "Request failed", err, log.ErrorTypeInternal, "request", log.NewFields())
		return InternalServerError("internal error")
	}
}

func logRejected(ctx context.Context, err error, errorType string) {
	log.FromContext(ctx).DebugContext(ctx, "Request rejected", log.FieldError, err, log.FieldErrorType, errorType)
}

// writeError answers r with the response errorResponse selects for err.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	errorResponse(r.Context(), err).Write(w)
}
