package httputil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	apperrors "relaybox/internal/errors"
	"relaybox/internal/tracing"
	"relaybox/internal/validation"

	"github.com/sirupsen/logrus"
)

// RetryAfterSeconds is advertised on 503 responses caused by an unavailable store
const RetryAfterSeconds = 1

// WriteJSON encodes body as the JSON response with the given status
func WriteJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError maps err onto its HTTP status and writes the standard error body.
// Server side failures are logged; client mistakes are not.
func WriteError(w http.ResponseWriter, r *http.Request, logger *logrus.Logger, err error) {
	if appErr, ok := apperrors.As(err); ok {
		apperrors.WithContextFromRequest(appErr, r.Context())
	}
	status := apperrors.HTTPStatusCode(err)
	if apperrors.IsRetryable(err) {
		w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
	}

	if status >= http.StatusInternalServerError && logger != nil {
		apperrors.WrapLogger(logger).LogRetryableError(err, "Request failed", logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": tracing.GetRequestID(r.Context()),
		})
	}

	WriteJSON(w, status, apperrors.ToHTTPResponse(err, tracing.GetRequestID(r.Context())))
}

// DecodeJSON reads at most maxBytes of the body into dst
func DecodeJSON(r *http.Request, maxBytes int64, dst interface{}) error {
	if err := validation.ValidateHTTPRequestSize(r, maxBytes); err != nil {
		return err
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "failed to read request body").
			WithUserMessage("Could not read request body")
	}
	if int64(len(body)) > maxBytes {
		return apperrors.New(apperrors.ErrCodeInvalidInput, fmt.Sprintf("request body exceeds %d bytes", maxBytes)).
			WithUserMessage("Request body too large")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid JSON payload").
			WithUserMessage("Request body is not valid JSON")
	}
	return nil
}
