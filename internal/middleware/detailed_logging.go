package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"relaybox/internal/httputil"
	"relaybox/internal/privacy"
	"relaybox/internal/service"
	"relaybox/internal/tracing"

	"github.com/sirupsen/logrus"
)

// DetailedLoggingConfig controls what gets logged
type DetailedLoggingConfig struct {
	LogRequestHeaders bool     `json:"log_request_headers" yaml:"log_request_headers"`
	LogRequestBody    bool     `json:"log_request_body" yaml:"log_request_body"`
	LogResponseBody   bool     `json:"log_response_body" yaml:"log_response_body"`
	MaxBodySize       int      `json:"max_body_size" yaml:"max_body_size"`
	SensitiveHeaders  []string `json:"sensitive_headers" yaml:"sensitive_headers"`
	SkipEndpoints     []string `json:"skip_endpoints" yaml:"skip_endpoints"`
}

// DefaultDetailedLoggingConfig returns sensible defaults
func DefaultDetailedLoggingConfig() DetailedLoggingConfig {
	return DetailedLoggingConfig{
		LogRequestHeaders: true,
		LogRequestBody:    true,
		LogResponseBody:   false,
		MaxBodySize:       4096,
		SensitiveHeaders: []string{
			"authorization", "cookie", "set-cookie", "sec-websocket-key",
		},
		SkipEndpoints: []string{
			"/metrics", "/health", "/v1/live",
		},
	}
}

// DetailedLoggingMiddleware logs request and response detail at debug level.
// JSON bodies are logged with identities masked and message bodies hidden.
func DetailedLoggingMiddleware(logger *logrus.Logger, config DetailedLoggingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !logger.IsLevelEnabled(logrus.DebugLevel) || skipEndpoint(r.URL.Path, config.SkipEndpoints) {
				next.ServeHTTP(w, r)
				return
			}

			requestInfo := tracing.GetRequestInfo(r.Context())
			logRequestDetails(logger, r, requestInfo, config)

			if !config.LogResponseBody {
				next.ServeHTTP(w, r)
				return
			}

			capture := &responseCaptureWrapper{
				ResponseWriter: w,
				body:           bytes.NewBuffer(nil),
				statusCode:     http.StatusOK,
			}
			next.ServeHTTP(capture, r)
			logResponseDetails(logger, capture, requestInfo, config)
		})
	}
}

func skipEndpoint(path string, skip []string) bool {
	for _, s := range skip {
		if strings.HasPrefix(path, s) {
			return true
		}
	}
	return false
}

func logRequestDetails(logger *logrus.Logger, r *http.Request, requestInfo *tracing.RequestInfo, config DetailedLoggingConfig) {
	fields := logrus.Fields{
		service.LogFieldRequestID: requestInfo.RequestID,
		service.LogFieldTraceID:   requestInfo.TraceID,
		service.LogFieldMethod:    r.Method,
		service.LogFieldRemoteIP:  httputil.GetClientIP(r),
		"content_length":          r.ContentLength,
		"protocol":                r.Proto,
	}

	if config.LogRequestHeaders {
		headers := make(map[string]string)
		for name, values := range r.Header {
			if isSensitiveHeader(name, config.SensitiveHeaders) {
				headers[name] = "***MASKED***"
			} else {
				headers[name] = strings.Join(values, ", ")
			}
		}
		fields["request_headers"] = headers
	}

	if config.LogRequestBody && isJSON(r.Header.Get("Content-Type")) &&
		r.ContentLength > 0 && r.ContentLength <= int64(config.MaxBodySize) {
		body, err := io.ReadAll(r.Body)
		if err == nil {
			// Restore body for the actual handler
			r.Body = io.NopCloser(bytes.NewReader(body))
			fields["request_body"] = maskJSON(body)
		}
	}

	logger.WithFields(fields).Debug("Detailed request logging")
}

func logResponseDetails(logger *logrus.Logger, capture *responseCaptureWrapper, requestInfo *tracing.RequestInfo, config DetailedLoggingConfig) {
	fields := logrus.Fields{
		service.LogFieldRequestID:  requestInfo.RequestID,
		service.LogFieldStatusCode: capture.statusCode,
		service.LogFieldSize:       capture.body.Len(),
	}

	if size := capture.body.Len(); size > 0 {
		if size <= config.MaxBodySize {
			fields["response_body"] = maskJSON(capture.body.Bytes())
		} else {
			fields["response_body"] = fmt.Sprintf("***TRUNCATED*** (size: %d bytes)", size)
		}
	}

	logger.WithFields(fields).Debug("Detailed response logging")
}

// maskJSON masks identity and body fields of a JSON object or array of objects
func maskJSON(data []byte) interface{} {
	var object map[string]interface{}
	if err := json.Unmarshal(data, &object); err == nil {
		return privacy.MaskSensitiveFields(object)
	}

	var list []map[string]interface{}
	if err := json.Unmarshal(data, &list); err == nil {
		masked := make([]map[string]interface{}, len(list))
		for i, item := range list {
			masked[i] = privacy.MaskSensitiveFields(item)
		}
		return masked
	}

	return privacy.MaskBody(string(data))
}

// responseCaptureWrapper captures response data for logging
type responseCaptureWrapper struct {
	http.ResponseWriter
	body       *bytes.Buffer
	statusCode int
}

func (rc *responseCaptureWrapper) Write(data []byte) (int, error) {
	n, err := rc.ResponseWriter.Write(data)
	if n > 0 {
		rc.body.Write(data[:n])
	}
	return n, err
}

func (rc *responseCaptureWrapper) WriteHeader(statusCode int) {
	rc.statusCode = statusCode
	rc.ResponseWriter.WriteHeader(statusCode)
}

// isSensitiveHeader checks if a header should be masked
func isSensitiveHeader(headerName string, sensitiveHeaders []string) bool {
	for _, sensitive := range sensitiveHeaders {
		if strings.EqualFold(sensitive, headerName) {
			return true
		}
	}
	return false
}

func isJSON(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "application/json")
}
