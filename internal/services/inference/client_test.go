package inference_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"sublate/internal/services/inference"
	"sublate/internal/subtitle"
)

func writeAudioFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audio.wav")
	if err := os.WriteFile(path, []byte("RIFF fake audio"), 0o644); err != nil {
		t.Fatalf("write audio fixture: %v", err)
	}
	return path
}

func newTestClient(t *testing.T, baseURL string, delays *[]time.Duration) *inference.Client {
	t.Helper()
	return inference.NewClient(
		inference.Config{
			BaseURL:        baseURL,
			APIToken:       "test-token",
			RetryAttempts:  5,
			RetryBaseDelay: 10 * time.Millisecond,
			RetryMaxDelay:  100 * time.Millisecond,
			JitterFraction: 0.1,
		},
		inference.WithSleeper(func(d time.Duration) {
			if delays != nil {
				*delays = append(*delays, d)
			}
		}),
		inference.WithRandom(func() float64 { return 0.5 }),
	)
}

const transcriptionBody = `{
	"text": "hello world goodbye",
	"chunks": [
		{"timestamp": [0.0, 2.0], "text": "hello world"},
		{"timestamp": [2.5, 4.0], "text": "goodbye"}
	]
}`

func TestTranscribeRetriesServerErrorsThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("missing bearer token: %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("missing correlation id header")
		}
		if calls.Add(1) <= 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(transcriptionBody))
	}))
	defer server.Close()

	var delays []time.Duration
	client := newTestClient(t, server.URL, &delays)

	cues, err := client.Transcribe(context.Background(), writeAudioFixture(t), "en")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if len(cues) != 2 {
		t.Fatalf("expected 2 cues, got %d", len(cues))
	}
	if cues[0] != (subtitle.Cue{Start: 0, End: 2, Text: "hello world"}) {
		t.Fatalf("unexpected first cue: %+v", cues[0])
	}

	if got := calls.Load(); got != 4 {
		t.Fatalf("expected 4 attempts, got %d", got)
	}
	if len(delays) != 3 {
		t.Fatalf("expected 3 backoff sleeps, got %d", len(delays))
	}
	for i := 1; i < len(delays); i++ {
		if delays[i] < delays[i-1] {
			t.Fatalf("delays must be non-decreasing: %v", delays)
		}
	}
}

func TestTranscribeClientErrorDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	_, err := client.Transcribe(context.Background(), writeAudioFixture(t), "en")

	var reqErr *inference.RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	if reqErr.Kind != inference.KindClient || reqErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected categorization: %+v", reqErr)
	}
	if calls.Load() != 1 {
		t.Fatalf("client errors must not retry, saw %d attempts", calls.Load())
	}
}

func TestTranscribeExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	_, err := client.Transcribe(context.Background(), writeAudioFixture(t), "en")

	var exhausted *inference.RetryExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected RetryExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 5 {
		t.Fatalf("expected 5 attempts recorded, got %d", exhausted.Attempts)
	}
	var reqErr *inference.RequestError
	if !errors.As(err, &reqErr) || reqErr.Kind != inference.KindServer {
		t.Fatalf("exhaustion should wrap the categorized cause, got %v", err)
	}
	if calls.Load() != 5 {
		t.Fatalf("expected exactly 5 attempts, got %d", calls.Load())
	}
}

func TestRateLimitHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(transcriptionBody))
	}))
	defer server.Close()

	var delays []time.Duration
	client := newTestClient(t, server.URL, &delays)
	if _, err := client.Transcribe(context.Background(), writeAudioFixture(t), "en"); err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	// Retry-After of 2s exceeds the 100ms cap, so the cap applies.
	if len(delays) != 1 || delays[0] != 100*time.Millisecond {
		t.Fatalf("expected capped retry-after delay, got %v", delays)
	}
}

func TestMissingCredentialFailsBeforeNetwork(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	client := inference.NewClient(inference.Config{BaseURL: server.URL})
	_, err := client.Transcribe(context.Background(), writeAudioFixture(t), "en")
	if !errors.Is(err, inference.ErrCredential) {
		t.Fatalf("expected ErrCredential, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatal("no network attempt may happen without a credential")
	}
}

func TestCancelledContextStopsRetrying(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := inference.NewClient(
		inference.Config{BaseURL: server.URL, APIToken: "t", RetryAttempts: 5, RetryBaseDelay: time.Millisecond},
		inference.WithSleeper(func(time.Duration) { cancel() }),
	)
	_, err := client.Transcribe(ctx, writeAudioFixture(t), "en")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPerRequestTimeoutIsRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			time.Sleep(500 * time.Millisecond)
			return
		}
		w.Write([]byte(transcriptionBody))
	}))
	defer server.Close()

	client := inference.NewClient(
		inference.Config{
			BaseURL:        server.URL,
			APIToken:       "test-token",
			Timeout:        100 * time.Millisecond,
			RetryAttempts:  3,
			RetryBaseDelay: time.Millisecond,
		},
		inference.WithSleeper(func(time.Duration) {}),
	)

	cues, err := client.Transcribe(context.Background(), writeAudioFixture(t), "en")
	if err != nil {
		t.Fatalf("Transcribe after timeout: %v", err)
	}
	if len(cues) != 2 {
		t.Fatalf("expected 2 cues, got %d", len(cues))
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected the timed-out attempt to be retried once, got %d calls", got)
	}
}

func TestTranslate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/translations" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"cues": [
			{"start": 0.2, "end": 2.1, "text": "hola mundo"},
			{"start": 2.6, "end": 4.2, "text": "adios"}
		]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	cues := []subtitle.Cue{
		{Start: 0, End: 2, Text: "hello world"},
		{Start: 2.5, End: 4, Text: "goodbye"},
	}
	translated, err := client.Translate(context.Background(), cues, "es")
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if len(translated) != 2 || translated[0].Text != "hola mundo" {
		t.Fatalf("unexpected translation: %+v", translated)
	}
}

func TestTranslateEmptyInput(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:0", nil)
	translated, err := client.Translate(context.Background(), nil, "es")
	if err != nil || translated != nil {
		t.Fatalf("empty input should be a no-op, got (%v, %v)", translated, err)
	}
}
