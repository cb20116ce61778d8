// Package gateway talks to the remote mission controller over signed HTTP.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// SignatureHeader carries the HMAC of the request body.
	SignatureHeader = "X-Signature"
	// SignaturePrefix precedes the hex digest in SignatureHeader.
	SignaturePrefix = "sha256="

	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4 << 10
)

// ErrNoSecret is returned by NewTransport when no signing secret is given.
var ErrNoSecret = errors.New("gateway signing secret is required")

// Sign returns the X-Signature header value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Sender issues a signed request. *Transport implements it.
type Sender interface {
	Send(ctx context.Context, method, url string, body []byte) (*http.Response, error)
}

// Transport signs every request body and issues it. It never retries and
// never interprets status codes; both are the caller's policy.
type Transport struct {
	secret []byte
	client *http.Client
}

// TransportConfig configures a Transport.
type TransportConfig struct {
	Secret string
	// RoundTripper overrides the base transport (tests, cassettes).
	RoundTripper http.RoundTripper
	// Timeout bounds a single request. Defaults to 30s.
	Timeout time.Duration
}

// NewTransport creates a signing transport instrumented with otelhttp.
func NewTransport(cfg TransportConfig) (*Transport, error) {
	if cfg.Secret == "" {
		return nil, ErrNoSecret
	}
	base := cfg.RoundTripper
	if base == nil {
		base = http.DefaultTransport
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Transport{
		secret: []byte(cfg.Secret),
		client: &http.Client{
			Transport: otelhttp.NewTransport(base),
			Timeout:   timeout,
		},
	}, nil
}

// Send signs body, issues method against url and returns the raw response.
// For GET requests the body is used only for the signature and is not sent.
// The caller owns closing the response body.
func (t *Transport) Send(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if method != http.MethodGet && method != http.MethodHead {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set(SignatureHeader, Sign(t.secret, body))
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	return resp, nil
}

// StatusError describes a non-2xx Gateway response.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.Code)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// CheckResponse returns nil for 2xx responses and a *StatusError otherwise,
// consuming up to a few KiB of the body for diagnostics. It does not close the body.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	serr := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	if resp.Request != nil {
		serr.Method = resp.Request.Method
		serr.URL = resp.Request.URL.String()
	}
	return serr
}

// Drain discards the rest of a response body and closes it so the connection can be reused.
func Drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
