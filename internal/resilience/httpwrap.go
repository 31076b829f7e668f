package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client sends requests through a breaker with bounded retries. Transport
// errors, 5xx and 429 responses count as failures and are retried.
type Client struct {
	HTTP    *http.Client
	Breaker *Breaker
	Retry   Retry
	// Timeout bounds each attempt. Zero falls back to HTTP.Timeout.
	Timeout time.Duration
}

// Do sends req, buffering its body so every attempt replays the same bytes.
// A refused call returns an error wrapping ErrOpenCircuit.
func (c Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if c.HTTP == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	body, err := drain(req)
	if err != nil {
		return nil, err
	}

	attempts := c.Retry.attempts()
	var lastErr error
	for n := 1; n <= attempts; n++ {
		if c.Breaker != nil && !c.Breaker.Allow(ctx) {
			if lastErr != nil {
				return nil, fmt.Errorf("%w: %v", ErrOpenCircuit, lastErr)
			}
			return nil, ErrOpenCircuit
		}
		resp, err := c.attempt(ctx, req, body)
		failed := err != nil || retryable(resp.StatusCode)
		if c.Breaker != nil {
			c.Breaker.Report(ctx, !failed)
		}
		if !failed {
			return resp, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("resilience: upstream responded %s", resp.Status)
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
		if n == attempts || ctx.Err() != nil {
			break
		}
		timer := time.NewTimer(c.Retry.Delay(n))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

func (c Client) attempt(ctx context.Context, req *http.Request, body []byte) (*http.Response, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = c.HTTP.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		resp, err := c.HTTP.Do(clone(ctx, req, body))
		if err != nil {
			cancel()
			return nil, err
		}
		resp.Body = cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}
	return c.HTTP.Do(clone(ctx, req, body))
}

func retryable(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}

func drain(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer func() { _ = req.Body.Close() }()
	return io.ReadAll(req.Body)
}

func clone(ctx context.Context, req *http.Request, body []byte) *http.Request {
	out := req.Clone(ctx)
	if body == nil {
		out.Body = http.NoBody
		return out
	}
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.ContentLength = int64(len(body))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	return out
}

// cancelOnClose keeps the attempt context alive until the caller is done reading.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
