// Package origin fetches raw artifact bytes from where they originally live.
package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Fetcher streams the bytes behind locator into w.
type Fetcher interface {
	Fetch(ctx context.Context, locator string, w io.Writer) error
}

// Func adapts a plain function to Fetcher.
type Func func(ctx context.Context, locator string, w io.Writer) error

func (f Func) Fetch(ctx context.Context, locator string, w io.Writer) error {
	return f(ctx, locator, w)
}

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	Locator string
	Code    int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("origin: %s: unexpected status %d", e.Locator, e.Code)
}

var ErrTooLarge = errors.New("origin: payload exceeds limit")

// HTTP fetches locators as URLs.
type HTTP struct {
	Client *http.Client // nil => http.DefaultClient
	Header http.Header
	// MaxBytes caps the body size. 0 => unlimited.
	MaxBytes int64
}

var _ Fetcher = (*HTTP)(nil)

func (h *HTTP) Fetch(ctx context.Context, locator string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return fmt.Errorf("origin: %w", err)
	}
	for k, vs := range h.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("origin: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return &StatusError{Locator: locator, Code: resp.StatusCode}
	}
	return copyLimited(w, resp.Body, h.MaxBytes)
}

func copyLimited(w io.Writer, r io.Reader, max int64) error {
	if max <= 0 {
		_, err := io.Copy(w, r)
		return err
	}
	n, err := io.Copy(w, io.LimitReader(r, max+1))
	if err != nil {
		return err
	}
	if n > max {
		return ErrTooLarge
	}
	return nil
}
