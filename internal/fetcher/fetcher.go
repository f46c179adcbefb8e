// Package fetcher implements the upstream SERP provider protocol: a
// two-phase submit/poll exchange that yields one page of results.
package fetcher

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/serpkit/serpkit/internal/types"
)

// PageFetcher fetches the payload for one query at one page offset.
// offset is a non-negative multiple of 10.
type PageFetcher interface {
	FetchPage(ctx context.Context, params types.SearchParams, offset int) (*types.PageResponse, error)
}

// isRetryableTransport reports whether a transport-level error warrants
// resubmitting the request. Typed upstream errors and context
// cancellation never retry.
func isRetryableTransport(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.ECONNRESET) ||
			errors.Is(opErr.Err, syscall.ECONNREFUSED) {
			return true
		}
	}
	return false
}

// parseRetryAfter parses a Retry-After header value. Supports both
// integer seconds and HTTP-date formats; caps at 2 minutes.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil {
		if secs > 120 {
			secs = 120
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		d := time.Until(t)
		if d < 0 {
			return time.Second
		}
		if d > 2*time.Minute {
			return 2 * time.Minute
		}
		return d
	}
	return 0
}
