package fetcher

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/serpkit/serpkit/internal/config"
	"github.com/serpkit/serpkit/internal/ratelimit"
	"github.com/serpkit/serpkit/internal/types"
)

// Client talks to the Bright Data SERP API. One Client owns one shared
// http.Client and is safe for concurrent use.
type Client struct {
	http     *http.Client
	settings *config.Settings
	limiter  ratelimit.Limiter
	logger   *slog.Logger
}

// submitEnvelope is the phase-A request body.
type submitEnvelope struct {
	Zone   string `json:"zone"`
	URL    string `json:"url"`
	Format string `json:"format"`
}

// submitResponse is the phase-A response body. response_id is required;
// its absence is a fatal API error.
type submitResponse struct {
	ResponseID string `json:"response_id"`
}

// NewClient creates a Client with a tuned shared transport.
func NewClient(settings *config.Settings, limiter ratelimit.Limiter, logger *slog.Logger) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 50,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DisableCompression:  true, // we handle decompression ourselves (including brotli)
	}

	return &Client{
		http:     &http.Client{Transport: transport},
		settings: settings,
		limiter:  limiter,
		logger:   logger.With("component", "fetcher"),
	}
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// FetchPage fetches one SERP page. Transport errors are retried with
// exponential backoff up to max_retries; typed upstream errors (429,
// missing response_id, polling timeout) propagate immediately.
func (c *Client) FetchPage(ctx context.Context, params types.SearchParams, offset int) (*types.PageResponse, error) {
	searchURL := c.searchURL(params, offset)

	var lastErr error
	for attempt := 0; attempt <= c.settings.MaxRetries; attempt++ {
		page, err := c.fetchOnce(ctx, searchURL)
		if err == nil {
			return page, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isRetryableTransport(err) {
			return nil, err
		}

		lastErr = err
		if attempt < c.settings.MaxRetries {
			backoff := time.Duration(math.Pow(c.settings.RetryBackoff, float64(attempt)) * float64(time.Second))
			c.logger.Debug("transport error, retrying",
				"attempt", attempt+1,
				"max_retries", c.settings.MaxRetries,
				"backoff", backoff,
				"error", err,
			)
			if serr := sleepCtx(ctx, backoff); serr != nil {
				return nil, serr
			}
		}
	}

	if isTimeout(lastErr) {
		return nil, &types.TimeoutError{
			Message: "request timed out after all retries",
			Elapsed: c.settings.RequestTimeout(),
		}
	}
	return nil, &types.APIError{Message: fmt.Sprintf("transport error after all retries: %v", lastErr), Err: lastErr}
}

// fetchOnce runs one full submit/poll exchange.
func (c *Client) fetchOnce(ctx context.Context, searchURL string) (*types.PageResponse, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	responseID, err := c.submit(ctx, searchURL)
	if err != nil {
		return nil, err
	}
	return c.poll(ctx, responseID)
}

// submit POSTs the search job and returns the response_id to poll.
func (c *Client) submit(ctx context.Context, searchURL string) (string, error) {
	payload, err := json.Marshal(submitEnvelope{
		Zone:   c.settings.Zone,
		URL:    searchURL,
		Format: "raw",
	})
	if err != nil {
		return "", &types.APIError{Message: "encode submit envelope", Err: err}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.settings.RequestTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.settings.APIBaseURL+"/serp/req", bytes.NewReader(payload))
	if err != nil {
		return "", &types.APIError{Message: "build submit request", Err: err}
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.limiter.OnError()
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.limiter.OnRateLimit()
		return "", &types.RateLimitError{
			Message:    "rate limit exceeded on submit",
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	body, err := readBody(resp)
	if err != nil {
		c.limiter.OnError()
		return "", err
	}

	var sub submitResponse
	if err := json.Unmarshal(body, &sub); err != nil || sub.ResponseID == "" {
		c.limiter.OnError()
		return "", &types.APIError{
			Message:    "no response_id returned from API",
			StatusCode: resp.StatusCode,
			Err:        err,
		}
	}
	return sub.ResponseID, nil
}

// poll GETs the job result every poll_interval until it is ready or the
// polling budget runs out.
func (c *Client) poll(ctx context.Context, responseID string) (*types.PageResponse, error) {
	pollURL := c.settings.APIBaseURL + "/serp/get_result?response_id=" + url.QueryEscape(responseID)

	for n := 0; n < c.settings.MaxPolls; n++ {
		if err := sleepCtx(ctx, c.settings.PollInterval()); err != nil {
			return nil, err
		}

		page, done, err := c.pollOnce(ctx, pollURL, responseID)
		if err != nil {
			return nil, err
		}
		if done {
			return page, nil
		}
	}

	c.limiter.OnError()
	return nil, &types.TimeoutError{
		Message:    fmt.Sprintf("polling gave up after %d attempts", c.settings.MaxPolls),
		ResponseID: responseID,
		Elapsed:    c.settings.MaxPollTime(),
	}
}

// pollOnce issues one poll. done is false while the upstream reports
// the job still pending (102/202).
func (c *Client) pollOnce(ctx context.Context, pollURL, responseID string) (page *types.PageResponse, done bool, err error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.settings.RequestTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, pollURL, nil)
	if err != nil {
		return nil, false, &types.APIError{Message: "build poll request", Err: err}
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		c.limiter.OnError()
		return nil, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := readBody(resp)
		if err != nil {
			c.limiter.OnError()
			return nil, false, err
		}
		var pr types.PageResponse
		if err := json.Unmarshal(body, &pr); err != nil {
			c.limiter.OnError()
			return nil, false, &types.APIError{
				Message:    "malformed result payload",
				StatusCode: resp.StatusCode,
				ResponseID: responseID,
				Err:        err,
			}
		}
		c.limiter.OnSuccess()
		return &pr, true, nil

	case http.StatusProcessing, http.StatusAccepted:
		// Not ready yet; keep polling.
		return nil, false, nil

	case http.StatusTooManyRequests:
		c.limiter.OnRateLimit()
		return nil, false, &types.RateLimitError{
			Message:    "rate limit exceeded during polling",
			ResponseID: responseID,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}

	default:
		c.limiter.OnError()
		return nil, false, &types.APIError{
			Message:    fmt.Sprintf("unexpected status during polling: %d", resp.StatusCode),
			StatusCode: resp.StatusCode,
			ResponseID: responseID,
		}
	}
}

// searchURL builds the upstream search URL for one page. Parameter
// order matches the provider contract: gl, hl, brd_json, q, start.
func (c *Client) searchURL(params types.SearchParams, offset int) string {
	return fmt.Sprintf(
		"https://www.google.com/search?gl=%s&hl=%s&brd_json=1&q=%s&start=%d",
		params.Country, params.Language, url.QueryEscape(params.Query), offset,
	)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.settings.APIKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
}

// readBody reads a response body, decompressing gzip, deflate, or
// brotli as announced by Content-Encoding.
func readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	case "deflate":
		fl := flate.NewReader(reader)
		defer fl.Close()
		reader = fl
	case "br":
		reader = brotli.NewReader(reader)
	}
	return io.ReadAll(reader)
}

// isTimeout reports whether err is deadline-shaped.
func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	var ne net.Error
	return errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout())
}

// sleepCtx sleeps for d or until ctx fires, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
