package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"time"

	oerr "github.com/outcome-labs/oswap/internal/errors"
)

// Client is a retrying JSON HTTP client shared by the off-chain venue and
// multisig service adapters. Retries cover transport failures, 429 and 5xx;
// 404 maps to CodeOrderNotFound and is never retried.
type Client struct {
	httpClient *http.Client
	retries    int
	userAgent  string
}

func New(timeout time.Duration, retries int) *Client {
	if retries < 0 {
		retries = 0
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		retries:    retries,
		userAgent:  "oswap/1.0",
	}
}

func (c *Client) DoJSON(ctx context.Context, req *http.Request, out any) (http.Header, error) {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, oerr.Wrap(oerr.CodeNetworkTimeout, "request cancelled", ctx.Err())
			case <-time.After(backoff(attempt)):
			}
		}

		cloneReq := req.Clone(ctx)
		if req.Body != nil && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, oerr.Wrap(oerr.CodeInternal, "clone request body", err)
			}
			cloneReq.Body = body
		}

		resp, err := c.httpClient.Do(cloneReq)
		if err != nil {
			lastErr = mapNetError(err)
			if attempt < c.retries {
				continue
			}
			return nil, lastErr
		}

		buf, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return resp.Header, oerr.Wrap(oerr.CodeUnavailable, "read response body", readErr)
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return resp.Header, oerr.New(oerr.CodeOrderNotFound, "resource not found")
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = oerr.New(oerr.CodeRateLimited, "rate limited")
			if attempt < c.retries {
				continue
			}
			return resp.Header, lastErr
		case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
			return resp.Header, oerr.New(oerr.CodeAuth, "authentication failed")
		case resp.StatusCode >= http.StatusInternalServerError:
			lastErr = oerr.New(oerr.CodeUnavailable, fmt.Sprintf("service unavailable (status %d)", resp.StatusCode))
			if attempt < c.retries {
				continue
			}
			return resp.Header, lastErr
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return resp.Header, oerr.New(oerr.CodeUnsupported, fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, truncateBody(buf)))
		}

		if out == nil {
			return resp.Header, nil
		}
		if len(bytes.TrimSpace(buf)) == 0 {
			return resp.Header, oerr.New(oerr.CodeUnavailable, "empty response body")
		}
		if err := json.Unmarshal(buf, out); err != nil {
			return resp.Header, oerr.Wrap(oerr.CodeUnavailable, "decode response JSON", err)
		}
		return resp.Header, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, oerr.New(oerr.CodeUnavailable, "request failed")
}

func (c *Client) GetJSON(ctx context.Context, url string, headers map[string]string, out any) (http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, oerr.Wrap(oerr.CodeInternal, "build request", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.DoJSON(ctx, req, out)
}

func (c *Client) PostJSON(ctx context.Context, url string, body []byte, headers map[string]string, out any) (http.Header, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return nil, oerr.Wrap(oerr.CodeInternal, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.DoJSON(ctx, req, out)
}

func mapNetError(err error) error {
	if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
		return oerr.Wrap(oerr.CodeNetworkTimeout, "request timed out", err)
	}
	return oerr.Wrap(oerr.CodeUnavailable, "request failed", err)
}

func backoff(attempt int) time.Duration {
	base := 120 * time.Millisecond
	d := base * time.Duration(1<<uint(attempt-1))
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	jitter := time.Duration(rand.Intn(75)) * time.Millisecond
	return d + jitter
}

func truncateBody(buf []byte) string {
	const max = 120
	s := string(bytes.TrimSpace(buf))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
