package privacy

import (
	"fmt"
	"strings"

	"relaybox/internal/constants"
)

// MaskIdentity masks an identity showing only its last few characters
// Example: "alice@example.org" -> "**************org"
func MaskIdentity(identity string) string {
	if identity == "" {
		return ""
	}

	// keep the domain readable for address-like identities
	if at := strings.LastIndex(identity, "@"); at > 0 {
		return maskString(identity[:at], constants.DefaultIdentityMaskLength) + identity[at:]
	}

	return maskString(identity, constants.DefaultIdentityMaskLength)
}

// MaskBody hides message content, keeping only its size for debugging
func MaskBody(body string) string {
	if body == "" {
		return ""
	}
	return fmt.Sprintf("[hidden %d bytes]", len(body))
}

// MaskToken hides a bearer token entirely
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	return "[redacted]"
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}

	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}

	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		s, isString := v.(string)
		if !isString {
			masked[k] = v
			continue
		}

		switch k {
		case "identity", "sender", "recipient", "peer":
			masked[k] = MaskIdentity(s)
		case "body", "content":
			masked[k] = MaskBody(s)
		case "token", "authorization":
			masked[k] = MaskToken(s)
		default:
			masked[k] = v
		}
	}

	return masked
}
