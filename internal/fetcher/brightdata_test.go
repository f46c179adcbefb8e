package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/serpkit/serpkit/internal/config"
	"github.com/serpkit/serpkit/internal/ratelimit"
	"github.com/serpkit/serpkit/internal/types"
)

func testSettings(baseURL string) *config.Settings {
	s := config.DefaultSettings()
	s.APIKey = "test-key"
	s.APIBaseURL = baseURL
	s.PollIntervalSeconds = 0.01
	s.MaxPolls = 5
	s.RequestTimeoutSeconds = 5
	s.MaxRetries = 1
	return s
}

func testClient(baseURL string) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(testSettings(baseURL), ratelimit.NewNull(), logger)
}

func testParams() types.SearchParams {
	return types.SearchParams{
		Query:       "golang generics",
		Country:     "us",
		Language:    "en",
		MaxPages:    1,
		Concurrency: 1,
	}
}

func pagePayload(links ...string) string {
	organic := make([]map[string]any, 0, len(links))
	for i, l := range links {
		organic = append(organic, map[string]any{
			"link":  l,
			"title": "title " + l,
			"rank":  i + 1,
		})
	}
	body, _ := json.Marshal(map[string]any{
		"general": map[string]any{"search_engine": "google"},
		"organic": organic,
	})
	return string(body)
}

func TestFetchPageSubmitPoll(t *testing.T) {
	var submitBody struct {
		Zone   string `json:"zone"`
		URL    string `json:"url"`
		Format string `json:"format"`
	}
	var polls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/serp/req":
			if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
				t.Errorf("unexpected auth header %q", got)
			}
			if err := json.NewDecoder(r.Body).Decode(&submitBody); err != nil {
				t.Errorf("decode submit body: %v", err)
			}
			fmt.Fprint(w, `{"response_id":"resp-1"}`)

		case r.Method == http.MethodGet && r.URL.Path == "/serp/get_result":
			if got := r.URL.Query().Get("response_id"); got != "resp-1" {
				t.Errorf("unexpected response_id %q", got)
			}
			// First poll still pending, second delivers.
			if polls.Add(1) == 1 {
				w.WriteHeader(http.StatusAccepted)
				return
			}
			fmt.Fprint(w, pagePayload("https://example.com/a", "https://example.com/b"))

		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := testClient(server.URL)
	page, err := client.FetchPage(context.Background(), testParams(), 10)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}

	if len(page.Organic) != 2 {
		t.Fatalf("expected 2 organic entries, got %d", len(page.Organic))
	}
	if page.Organic[0].Link != "https://example.com/a" || page.Organic[0].Rank != 1 {
		t.Errorf("unexpected first entry: %+v", page.Organic[0])
	}
	if polls.Load() != 2 {
		t.Errorf("expected 2 polls, got %d", polls.Load())
	}

	if submitBody.Zone != "serp_api1" || submitBody.Format != "raw" {
		t.Errorf("unexpected submit envelope: %+v", submitBody)
	}
	wantURL := "https://www.google.com/search?gl=us&hl=en&brd_json=1&q=golang+generics&start=10"
	if submitBody.URL != wantURL {
		t.Errorf("search URL mismatch:\n got %s\nwant %s", submitBody.URL, wantURL)
	}
}

func TestFetchPageSubmitRateLimited(t *testing.T) {
	var submits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		submits.Add(1)
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := testClient(server.URL)
	_, err := client.FetchPage(context.Background(), testParams(), 0)

	var rle *types.RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rle.RetryAfter != 7*time.Second {
		t.Errorf("expected RetryAfter 7s, got %v", rle.RetryAfter)
	}
	// A 429 is a typed upstream error: no transport retry.
	if submits.Load() != 1 {
		t.Errorf("expected 1 submit, got %d", submits.Load())
	}
}

func TestFetchPageMissingResponseID(t *testing.T) {
	var submits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		submits.Add(1)
		fmt.Fprint(w, `{"status":"ok"}`)
	}))
	defer server.Close()

	client := testClient(server.URL)
	_, err := client.FetchPage(context.Background(), testParams(), 0)

	var apiErr *types.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if !strings.Contains(apiErr.Message, "response_id") {
		t.Errorf("unexpected message %q", apiErr.Message)
	}
	if submits.Load() != 1 {
		t.Errorf("missing response_id should not retry, got %d submits", submits.Load())
	}
}

func TestFetchPagePollRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			fmt.Fprint(w, `{"response_id":"resp-9"}`)
			return
		}
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := testClient(server.URL)
	_, err := client.FetchPage(context.Background(), testParams(), 0)

	var rle *types.RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rle.ResponseID != "resp-9" {
		t.Errorf("expected response id resp-9, got %q", rle.ResponseID)
	}
}

func TestFetchPagePollTimeout(t *testing.T) {
	var polls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			fmt.Fprint(w, `{"response_id":"resp-2"}`)
			return
		}
		polls.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := testClient(server.URL)
	_, err := client.FetchPage(context.Background(), testParams(), 0)

	var te *types.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if te.ResponseID != "resp-2" {
		t.Errorf("expected response id resp-2, got %q", te.ResponseID)
	}
	if polls.Load() != 5 {
		t.Errorf("expected max_polls (5) polls, got %d", polls.Load())
	}
}

func TestFetchPagePollErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			fmt.Fprint(w, `{"response_id":"resp-3"}`)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := testClient(server.URL)
	_, err := client.FetchPage(context.Background(), testParams(), 0)

	var apiErr *types.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadGateway {
		t.Errorf("expected status 502, got %d", apiErr.StatusCode)
	}
}

func TestFetchPageTransportRetry(t *testing.T) {
	// A closed server yields connection refused, which is retryable.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := testClient(server.URL)
	start := time.Now()
	_, err := client.FetchPage(context.Background(), testParams(), 0)
	if err == nil {
		t.Fatal("expected error from closed server")
	}

	var apiErr *types.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError after exhausted retries, got %v", err)
	}
	// One retry with backoff 2.0^0 = 1s.
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Errorf("expected at least one backoff sleep, elapsed %v", elapsed)
	}
}

func TestFetchPageContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			fmt.Fprint(w, `{"response_id":"resp-4"}`)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	client := testClient(server.URL)
	_, err := client.FetchPage(ctx, testParams(), 0)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestIsRetryableTransport(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"eof", io.EOF, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"api error", &types.APIError{Message: "boom"}, false},
		{"rate limit", &types.RateLimitError{Message: "slow down"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isRetryableTransport(tc.err); got != tc.want {
				t.Errorf("isRetryableTransport(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter(""); got != 0 {
		t.Errorf("empty header should give 0, got %v", got)
	}
	if got := parseRetryAfter("30"); got != 30*time.Second {
		t.Errorf("expected 30s, got %v", got)
	}
	if got := parseRetryAfter("600"); got != 2*time.Minute {
		t.Errorf("expected cap at 2m, got %v", got)
	}
	date := time.Now().Add(10 * time.Second).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(date); got < 5*time.Second || got > 15*time.Second {
		t.Errorf("HTTP-date parse out of range: %v", got)
	}
	if got := parseRetryAfter("garbage"); got != 0 {
		t.Errorf("unparseable header should give 0, got %v", got)
	}
}
