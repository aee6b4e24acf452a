package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"sublate/internal/logging"
	"sublate/internal/subtitle"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultConnectTimeout = 10 * time.Second
	defaultRetryAttempts  = 5
	defaultRetryBaseDelay = 1 * time.Second
	defaultRetryMaxDelay  = 32 * time.Second
	defaultJitterFraction = 0.1
)

// Config captures the runtime settings required to talk to the endpoint.
type Config struct {
	BaseURL        string
	APIToken       string
	Timeout        time.Duration
	ConnectTimeout time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	JitterFraction float64
}

// Client is the retrying HTTP client for the transcription/translation
// endpoint. The underlying transport is pooled and reused across calls.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	sleeper    func(time.Duration)
	randomFn   func() float64
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLogger attaches a logger for per-attempt diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// WithRandom overrides the jitter source (useful for tests).
func WithRandom(fn func() float64) Option {
	return func(c *Client) {
		if fn != nil {
			c.randomFn = fn
		}
	}
}

// NewClient constructs a client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = defaultRetryAttempts
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaultRetryBaseDelay
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = defaultRetryMaxDelay
	}
	if cfg.JitterFraction < 0 || cfg.JitterFraction > 1 {
		cfg.JitterFraction = defaultJitterFraction
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.APIToken = strings.TrimSpace(cfg.APIToken)

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}

	client := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		logger:   logging.NewNop(),
		randomFn: rand.Float64,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// ValidateCredential reports whether the client has an API token. It makes
// no network attempt.
func (c *Client) ValidateCredential() error {
	if c.cfg.APIToken == "" {
		return ErrCredential
	}
	return nil
}

type transcriptionResponse struct {
	Text   string `json:"text"`
	Chunks []struct {
		Timestamp []float64 `json:"timestamp"`
		Text      string    `json:"text"`
	} `json:"chunks"`
}

type translationRequest struct {
	TargetLanguage string    `json:"target_language"`
	Cues           []wireCue `json:"cues"`
}

type translationResponse struct {
	Cues []wireCue `json:"cues"`
}

type wireCue struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcribe sends an audio file to the endpoint and returns timed cues.
func (c *Client) Transcribe(ctx context.Context, audioPath, sourceLanguage string) ([]subtitle.Cue, error) {
	if err := c.ValidateCredential(); err != nil {
		return nil, err
	}
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, fmt.Errorf("inference transcribe: read audio: %w", err)
	}

	endpoint, err := url.JoinPath(c.cfg.BaseURL, "transcriptions")
	if err != nil {
		return nil, fmt.Errorf("inference transcribe: build url: %w", err)
	}

	body, err := c.do(ctx, "transcribe", func(correlationID string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(audio))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "audio/wav")
		if sourceLanguage != "" {
			req.Header.Set("X-Source-Language", sourceLanguage)
		}
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	var decoded transcriptionResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("inference transcribe: decode response: %w", err)
	}

	var cues []subtitle.Cue
	for _, chunk := range decoded.Chunks {
		if len(chunk.Timestamp) != 2 {
			continue
		}
		text := strings.TrimSpace(chunk.Text)
		if text == "" {
			continue
		}
		cues = append(cues, subtitle.Cue{Start: chunk.Timestamp[0], End: chunk.Timestamp[1], Text: text})
	}
	if len(cues) == 0 {
		return nil, fmt.Errorf("inference transcribe: response carried no timed segments")
	}
	return cues, nil
}

// Translate sends cues to the endpoint for translation into targetLanguage.
// The endpoint may re-segment, so the returned cues carry the service's own
// timings; callers re-time them onto the original clock separately.
func (c *Client) Translate(ctx context.Context, cues []subtitle.Cue, targetLanguage string) ([]subtitle.Cue, error) {
	if err := c.ValidateCredential(); err != nil {
		return nil, err
	}
	if len(cues) == 0 {
		return nil, nil
	}

	payload := translationRequest{TargetLanguage: targetLanguage, Cues: make([]wireCue, len(cues))}
	for i, cue := range cues {
		payload.Cues[i] = wireCue{Start: cue.Start, End: cue.End, Text: cue.Text}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("inference translate: encode body: %w", err)
	}

	endpoint, err := url.JoinPath(c.cfg.BaseURL, "translations")
	if err != nil {
		return nil, fmt.Errorf("inference translate: build url: %w", err)
	}

	body, err := c.do(ctx, "translate", func(correlationID string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	var decoded translationResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("inference translate: decode response: %w", err)
	}
	if len(decoded.Cues) == 0 {
		return nil, fmt.Errorf("inference translate: response carried no cues")
	}

	translated := make([]subtitle.Cue, 0, len(decoded.Cues))
	for _, cue := range decoded.Cues {
		text := strings.TrimSpace(cue.Text)
		if text == "" {
			continue
		}
		translated = append(translated, subtitle.Cue{Start: cue.Start, End: cue.End, Text: text})
	}
	return translated, nil
}

// do runs the request build/send cycle with the retry policy. Each attempt
// gets a fresh correlation id; cancellation is checked before every attempt
// and honored during backoff sleeps.
func (c *Client) do(ctx context.Context, op string, build func(correlationID string) (*http.Request, error)) ([]byte, error) {
	attempts := c.cfg.RetryAttempts
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		correlationID := uuid.NewString()
		body, err := c.sendOnce(ctx, build, correlationID)
		if err == nil {
			return body, nil
		}
		// Only the caller's context ends the retry loop early. A per-request
		// timeout from http.Client.Timeout also unwraps to DeadlineExceeded,
		// so the attempt error alone cannot distinguish the two; that case
		// stays retryable as KindTimeout.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		var reqErr *RequestError
		if !errors.As(err, &reqErr) || !reqErr.Retryable() {
			return nil, err
		}
		lastErr = err

		if attempt == attempts-1 {
			break
		}

		delay := c.retryDelay(reqErr, attempt)
		c.logger.Warn("inference attempt failed; retrying",
			logging.String("op", op),
			logging.String(logging.FieldCorrelationID, correlationID),
			logging.Int("attempt", attempt+1),
			logging.Int("max_attempts", attempts),
			logging.Duration("delay", delay),
			logging.Error(err),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, &RetryExhaustedError{Attempts: attempts, Last: lastErr}
}

func (c *Client) sendOnce(ctx context.Context, build func(string) (*http.Request, error), correlationID string) ([]byte, error) {
	req, err := build(correlationID)
	if err != nil {
		return nil, fmt.Errorf("inference request: build: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	req.Header.Set("X-Request-ID", correlationID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.classifyTransportError(err, correlationID)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RequestError{Kind: KindConnection, CorrelationID: correlationID, Err: err}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		reqErr := &RequestError{
			Kind:          classifyStatus(resp.StatusCode),
			StatusCode:    resp.StatusCode,
			CorrelationID: correlationID,
			Body:          summarizeBody(body),
		}
		if retryAfter, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
			reqErr.RetryAfter = retryAfter
		}
		return nil, reqErr
	}

	return body, nil
}

func (c *Client) classifyTransportError(err error, correlationID string) error {
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &RequestError{Kind: KindTimeout, CorrelationID: correlationID, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &RequestError{Kind: KindTimeout, CorrelationID: correlationID, Err: err}
	}
	return &RequestError{Kind: KindConnection, CorrelationID: correlationID, Err: err}
}

// retryDelay computes the pause before the next attempt: the server's
// Retry-After when provided, otherwise base*2^attempt capped at the max,
// plus jitter drawn from [0, jitterFraction*delay].
func (c *Client) retryDelay(reqErr *RequestError, attempt int) time.Duration {
	if reqErr != nil && reqErr.RetryAfter > 0 {
		return c.capDelay(reqErr.RetryAfter)
	}

	delay := c.cfg.RetryBaseDelay
	for i := 0; i < attempt; i++ {
		if delay > c.cfg.RetryMaxDelay/2 {
			delay = c.cfg.RetryMaxDelay
			break
		}
		delay *= 2
	}
	delay = c.capDelay(delay)

	if c.cfg.JitterFraction > 0 && delay > 0 {
		jitter := time.Duration(c.randomFn() * c.cfg.JitterFraction * float64(delay))
		delay += jitter
	}
	return delay
}

func (c *Client) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if delay > c.cfg.RetryMaxDelay {
		return c.cfg.RetryMaxDelay
	}
	return delay
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}

func summarizeBody(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	const limit = 160
	runes := []rune(trimmed)
	if len(runes) > limit {
		return string(runes[:limit]) + "..."
	}
	return trimmed
}
