package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/oauth2"

	"github.com/jesterbot/gateway/pkg/gateway"
)

const (
	// defaultHTTPTimeout bounds any single outbound call to a backend.
	defaultHTTPTimeout = 30 * time.Second

	// maxResponseBytes caps how much of a backend response we will read.
	maxResponseBytes = 8 << 20

	// transientMaxTries bounds in-connector retries of transient failures.
	transientMaxTries = 3
)

// NewHTTPClient returns the http.Client connectors use for outbound calls.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultHTTPTimeout}
}

// ClassifyStatus maps an HTTP response status from a backend to a failure
// class. 2xx statuses must be handled by the caller before classifying.
func ClassifyStatus(status int) gateway.FailureClass {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return gateway.FailureAuth
	case status == http.StatusNotFound:
		return gateway.FailureNotFound
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return gateway.FailureTransient
	case status >= 500:
		return gateway.FailureTransient
	default:
		return gateway.FailurePermanent
	}
}

// DoJSON executes the request produced by build, retrying transient
// failures with capped exponential backoff, and returns the response body
// on a 2xx status. Requests are rebuilt per attempt so bodies can be
// re-sent safely. Any failure is returned as a HandlerError classified for
// the named handler.
func DoJSON(
	ctx context.Context,
	client *http.Client,
	handler string,
	build func(ctx context.Context) (*http.Request, error),
) ([]byte, error) {
	operation := func() ([]byte, error) {
		req, err := build(ctx)
		if err != nil {
			return nil, backoff.Permanent(gateway.NewHandlerError(gateway.FailurePermanent, handler, err))
		}

		resp, err := client.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, backoff.Permanent(gateway.NewHandlerError(gateway.FailureTimeout, handler, err))
			}
			// A failed token exchange surfaces through the oauth2 transport.
			var rerr *oauth2.RetrieveError
			if errors.As(err, &rerr) {
				return nil, backoff.Permanent(gateway.NewHandlerError(gateway.FailureAuth, handler, err))
			}
			// Network-level failures are worth a retry.
			return nil, gateway.NewHandlerError(gateway.FailureTransient, handler, err)
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, gateway.NewHandlerError(gateway.FailureTransient, handler, err)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return body, nil
		}

		class := ClassifyStatus(resp.StatusCode)
		herr := gateway.NewHandlerError(class, handler,
			fmt.Errorf("backend returned %d: %s", resp.StatusCode, gateway.Snippet(string(body), 200)))
		if class != gateway.FailureTransient {
			return nil, backoff.Permanent(herr)
		}
		return nil, herr
	}

	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(transientMaxTries),
	)
	if err != nil {
		var herr *gateway.HandlerError
		if errors.As(err, &herr) {
			return nil, herr
		}
		return nil, gateway.NewHandlerError(gateway.ClassOf(err), handler, err)
	}
	return body, nil
}
