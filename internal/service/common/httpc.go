package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/oshokin/iso-verifier/internal/domain/pipeline"
)

// defaultMaxTries bounds the retry loop around small HTTP fetches.
const defaultMaxTries = 3

// errBadHTTPStatus is returned for non-2xx responses.
var errBadHTTPStatus = errors.New("unexpected http status")

// NewClient builds the HTTP client used for metadata-sized requests
// (listing, manifests, key material), bounded by the configured timeout.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// JoinURL appends a filename to a base URL, normalizing duplicate slashes.
func JoinURL(base, name string) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse URL %s: %w", base, err)
	}

	parsed.Path = path.Join(parsed.Path, name)

	return parsed.String(), nil
}

// SiblingURL replaces the last path element of rawURL with name, yielding the
// URL of a file hosted next to it (e.g. a checksum manifest next to the ISO).
func SiblingURL(rawURL, name string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse URL %s: %w", rawURL, err)
	}

	parsed.Path = path.Join(path.Dir(parsed.Path), name)

	return parsed.String(), nil
}

// FetchAll downloads a small file into memory, retrying transient failures
// with capped exponential backoff. Client errors (4xx) are not retried.
func FetchAll(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	operation := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		response, err := client.Do(req)
		if err != nil {
			return nil, err
		}

		defer func() {
			_ = response.Body.Close()
		}()

		if response.StatusCode != http.StatusOK {
			err = fmt.Errorf("%s, %s: %w", rawURL, response.Status, errBadHTTPStatus)
			if response.StatusCode >= http.StatusBadRequest && response.StatusCode < http.StatusInternalServerError {
				return nil, backoff.Permanent(err)
			}

			return nil, err
		}

		return io.ReadAll(response.Body)
	}

	data, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(defaultMaxTries))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", rawURL, pipeline.ErrNetworkFailure, err)
	}

	return data, nil
}

// Head issues a metadata-only request and returns the authoritative remote
// size, or -1 when the server does not report one.
func Head(ctx context.Context, client *http.Client, rawURL string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, http.NoBody)
	if err != nil {
		return 0, err
	}

	response, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %w", rawURL, pipeline.ErrNetworkFailure, err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%s, %s: %w: %w",
			rawURL, response.Status, pipeline.ErrNetworkFailure, errBadHTTPStatus)
	}

	return response.ContentLength, nil
}
