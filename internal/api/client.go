package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Retry and backoff constants.
const (
	maxRetries     = 4
	baseBackoff    = 1 * time.Second
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25

	// DefaultUserAgent is sent when the caller does not configure one.
	DefaultUserAgent = "saveknight-go/0.1"

	// maxErrorBody caps how much of an error response is kept.
	maxErrorBody = 64 << 10
)

// errNoCredential marks a request that never left the process because no
// token could be obtained. It is not retried.
var errNoCredential = errors.New("obtaining token")

// TokenSource provides device bearer tokens. auth.Session is the real
// implementation; it refreshes the token when it is close to expiry.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// retryMode says which failures a request may be resent after.
type retryMode int

const (
	// retryIdempotent resends after network errors and any retryable status.
	retryIdempotent retryMode = iota
	// retryRejected resends only when the server refused without processing.
	retryRejected
	// retryNever is for streamed bodies that cannot be replayed.
	retryNever
)

// request describes one API call. Exactly one of bearer, cookie or the
// client's TokenSource supplies the credential.
type request struct {
	method      string
	path        string
	body        []byte
	stream      io.Reader
	contentType string
	bearer      string
	cookie      string
	retry       retryMode
}

// Client is an HTTP client for the backup service API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	userAgent  string
	logger     *slog.Logger

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates an API client. token may be nil for a client that only
// makes calls with explicit credentials (registration, validation).
func NewClient(baseURL string, httpClient *http.Client, token TokenSource, userAgent string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		token:      token,
		userAgent:  userAgent,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// BaseURL returns the service root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do executes req with retry according to req.retry. The caller closes the
// response body on success.
func (c *Client) do(ctx context.Context, req *request) (*http.Response, error) {
	url := c.baseURL + req.path

	var attempt int
	for {
		resp, err := c.doOnce(ctx, url, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("api: request canceled: %w", ctx.Err())
			}

			if req.retry == retryIdempotent && attempt < maxRetries && !errors.Is(err, errNoCredential) {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", req.method),
					slog.String("path", req.path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("api: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("api: %s %s: %w", req.method, req.path, err)
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("method", req.method),
				slog.String("path", req.path),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if c.shouldRetryStatus(req.retry, resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", req.method),
				slog.String("path", req.path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("api: request canceled: %w", err)
			}

			attempt++

			continue
		}

		apiErr := &Error{
			StatusCode: resp.StatusCode,
			RequestID:  resp.Header.Get("X-Request-Id"),
			Message:    errorMessage(errBody),
			Err:        classifyStatus(resp.StatusCode),
		}

		if attempt > 0 {
			c.logger.Error("request failed after retries",
				slog.String("method", req.method),
				slog.String("path", req.path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", attempt+1),
			)
		}

		return nil, apiErr
	}
}

func (c *Client) shouldRetryStatus(mode retryMode, code int) bool {
	switch mode {
	case retryIdempotent:
		return isRetryable(code)
	case retryRejected:
		return isRejectedBeforeProcessing(code)
	default:
		return false
	}
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(ctx context.Context, url string, req *request) (*http.Response, error) {
	var body io.Reader = http.NoBody

	switch {
	case req.stream != nil:
		body = req.stream
	case req.body != nil:
		body = bytes.NewReader(req.body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	switch {
	case req.cookie != "":
		httpReq.Header.Set("Cookie", "connect.sid="+req.cookie)
	case req.bearer != "":
		httpReq.Header.Set("Authorization", "Bearer "+req.bearer)
	case c.token != nil:
		tok, tokErr := c.token.Token(ctx)
		if tokErr != nil {
			return nil, fmt.Errorf("%w: %w", errNoCredential, tokErr)
		}

		httpReq.Header.Set("Authorization", "Bearer "+tok)
	}

	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("Accept", "application/json")

	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}

	return c.httpClient.Do(httpReq)
}

// doJSON sends a JSON body (when in is non-nil) and decodes a JSON response
// into out (when out is non-nil).
func (c *Client) doJSON(ctx context.Context, req *request, in, out any) error {
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("api: encoding request: %w", err)
		}

		req.body = data
		req.contentType = "application/json"
	}

	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decoding %s %s response: %w", req.method, req.path, err)
	}

	return nil
}

// errorMessage pulls a human-readable message out of an error body. The
// service answers with {"error": "..."} or {"message": "..."}; anything else
// is returned as text.
func errorMessage(body []byte) string {
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}

	if json.Unmarshal(body, &parsed) == nil {
		if parsed.Message != "" {
			return parsed.Message
		}

		if parsed.Error != "" {
			return parsed.Error
		}
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "(empty response body)"
	}

	return msg
}

// retryBackoff returns the backoff duration for a retryable response.
// For 429 and 503 responses with a Retry-After header, that value is used.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
