package validation

import (
	"fmt"
	"net/http"
	"unicode"
	"unicode/utf8"

	"relaybox/internal/constants"
	"relaybox/internal/errors"
)

// ValidateIdentity validates a sender or recipient identity. field names the
// envelope field so the error can point at it.
func ValidateIdentity(field, identity string) error {
	if identity == "" {
		return errors.NewValidationError(field, identity, fmt.Sprintf("%s cannot be empty", field))
	}

	if len(identity) > constants.MaxIdentityLength {
		return errors.NewValidationError(field, identity,
			fmt.Sprintf("%s too long (max %d characters)", field, constants.MaxIdentityLength))
	}

	if !utf8.ValidString(identity) {
		return errors.NewValidationError(field, identity, fmt.Sprintf("%s must be valid UTF-8", field))
	}

	for _, char := range identity {
		if unicode.IsControl(char) || unicode.IsSpace(char) {
			return errors.NewValidationError(field, identity,
				fmt.Sprintf("%s must not contain whitespace or control characters", field))
		}
	}

	return nil
}

// ValidateBody validates a message body against the configured size bound
func ValidateBody(body string, maxBytes int) error {
	if len(body) > maxBytes {
		return errors.NewValidationError("body", "",
			fmt.Sprintf("body too large: %d bytes (max %d bytes)", len(body), maxBytes))
	}

	if !utf8.ValidString(body) {
		return errors.NewValidationError("body", "", "body must be valid UTF-8")
	}

	return nil
}

// ValidateEnvelope validates a full send request
func ValidateEnvelope(sender, recipient, body string, maxBodyBytes int) error {
	if err := ValidateIdentity("recipient", recipient); err != nil {
		return err
	}
	if err := ValidateIdentity("sender", sender); err != nil {
		return err
	}
	return ValidateBody(body, maxBodyBytes)
}

// ValidateHTTPRequestSize rejects a request whose declared Content-Length is over
// maxSizeBytes. Bodies without a declared length are capped while reading.
func ValidateHTTPRequestSize(r *http.Request, maxSizeBytes int64) error {
	if r.ContentLength > maxSizeBytes {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("request too large: %d bytes (max %d bytes)", r.ContentLength, maxSizeBytes)).
			WithUserMessage("Request body too large")
	}

	return nil
}

// ValidateTimeout validates timeout values
func ValidateTimeout(timeoutSec int, fieldName string) error {
	if timeoutSec < 1 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s must be at least 1 second", fieldName))
	}

	if timeoutSec > 3600 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max 3600 seconds)", fieldName))
	}

	return nil
}

// ValidateRetentionDays validates data retention period
func ValidateRetentionDays(days int) error {
	if days < 1 {
		return errors.New(errors.ErrCodeInvalidInput, "retention days must be at least 1")
	}

	if days > 3650 {
		return errors.New(errors.ErrCodeInvalidInput, "retention days too large (max 3650)")
	}

	return nil
}
