// Package client talks to a relaybox server over the HTTP mailbox gateway and
// the live WebSocket endpoint.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"relaybox/pkg/constants"

	"github.com/sirupsen/logrus"
)

type Client interface {
	Post(ctx context.Context, sender, recipient, body string) (*Message, error)
	Poll(ctx context.Context, recipient string) ([]MailboxItem, error)
	PendingCount(ctx context.Context, recipient string) (int, error)
	Health(ctx context.Context) error
	DialLive(ctx context.Context, identity string) (*LiveConn, error)
}

type RelayClient struct {
	baseURL    string
	token      string
	client     *http.Client
	retryCount int
	logger     *logrus.Logger
}

// Options configures a RelayClient. Zero values use the package defaults.
type Options struct {
	Token      string
	HTTPClient *http.Client
	RetryCount int
	Logger     *logrus.Logger
}

func NewClient(baseURL string, opts Options) *RelayClient {
	if baseURL == "" {
		baseURL = constants.DefaultServerURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: constants.DefaultHTTPTimeoutSec * time.Second}
	}
	if opts.RetryCount < 0 {
		opts.RetryCount = 0
	} else if opts.RetryCount == 0 {
		opts.RetryCount = constants.DefaultClientRetryCount
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
		opts.Logger.SetLevel(logrus.WarnLevel)
	}

	return &RelayClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      opts.Token,
		client:     opts.HTTPClient,
		retryCount: opts.RetryCount,
		logger:     opts.Logger,
	}
}

// Post stores a message for recipient. The relay hands it over live when the
// recipient is connected.
func (c *RelayClient) Post(ctx context.Context, sender, recipient, body string) (*Message, error) {
	payload, err := json.Marshal(map[string]string{
		"sender":    sender,
		"recipient": recipient,
		"body":      body,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var msg Message
	if err := c.do(ctx, http.MethodPost, constants.MessagesPath, payload, http.StatusCreated, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Poll collects every pending message for recipient. Collected messages are
// marked delivered and will not be returned again.
func (c *RelayClient) Poll(ctx context.Context, recipient string) ([]MailboxItem, error) {
	items := []MailboxItem{}
	if err := c.do(ctx, http.MethodGet, constants.MailboxPath+url.PathEscape(recipient), nil, http.StatusOK, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// PendingCount reports how many messages wait for recipient without collecting them
func (c *RelayClient) PendingCount(ctx context.Context, recipient string) (int, error) {
	var out countBody
	if err := c.do(ctx, http.MethodGet, constants.MailboxPath+url.PathEscape(recipient)+"/count", nil, http.StatusOK, &out); err != nil {
		return 0, err
	}
	return out.Pending, nil
}

// Health checks that the relay and its store are up
func (c *RelayClient) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, constants.HealthPath, nil, http.StatusOK, nil)
}

// do sends the request, retrying 503 responses with jittered backoff
func (c *RelayClient) do(ctx context.Context, method, path string, body []byte, wantStatus int, out interface{}) error {
	delay := time.Duration(constants.DefaultBackoffInitialMs) * time.Millisecond
	maxDelay := time.Duration(constants.DefaultBackoffMaxSec) * time.Second

	for attempt := 0; ; attempt++ {
		err := c.doOnce(ctx, method, path, body, wantStatus, out)
		var apiErr *APIError
		if err == nil || !errors.As(err, &apiErr) || !apiErr.Retryable() || attempt >= c.retryCount {
			return err
		}

		wait := delay/2 + rand.N(delay/2+1)
		c.logger.WithFields(logrus.Fields{
			"path":    path,
			"attempt": attempt + 1,
			"wait":    wait,
		}).Debug("Relay unavailable, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func (c *RelayClient) doOnce(ctx context.Context, method, path string, body []byte, wantStatus int, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return decodeAPIError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var parsed errorBody
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Error.Code != "" {
		apiErr.Code = parsed.Error.Code
		apiErr.Message = parsed.Error.Message
		return apiErr
	}

	apiErr.Code = strconv.Itoa(resp.StatusCode)
	apiErr.Message = strings.TrimSpace(string(data))
	return apiErr
}
