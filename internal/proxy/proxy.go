// Package proxy fetches third-party pages server side so the editor can
// frame them same-origin. It is a read-only GET passthrough: no caching, no
// rewriting of the upstream body.
package proxy

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrBadTarget covers every way the encoded target can be unusable: not
// base64, not a URL, or not absolute http(s).
var ErrBadTarget = errors.New("invalid proxy target")

// UpstreamError reports a non-2xx response from the target site.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d", e.Status)
}

// Result is the upstream body re-served verbatim.
type Result struct {
	Body        []byte
	ContentType string
}

type Service struct {
	client *resty.Client
}

func New(timeout time.Duration, userAgent string) *Service {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent).
		SetDoNotParseResponse(false)
	// One attempt per request; a failed fetch surfaces to the caller.
	client.SetRetryCount(0)
	return &Service{client: client}
}

// DecodeTarget turns the opaque path segment back into an absolute URL.
// It never touches the network.
func DecodeTarget(encoded string) (string, error) {
	raw, err := decodeBase64(encoded)
	if err != nil {
		return "", ErrBadTarget
	}
	target := strings.TrimSpace(string(raw))
	parsed, err := url.Parse(target)
	if err != nil {
		return "", ErrBadTarget
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", ErrBadTarget
	}
	return target, nil
}

// Fetch issues a single GET against the decoded target and returns the body
// with its upstream Content-Type. Missing Content-Type falls back to a safe
// generic HTML type.
func (s *Service) Fetch(ctx context.Context, encoded string) (Result, error) {
	target, err := DecodeTarget(encoded)
	if err != nil {
		return Result{}, err
	}

	resp, err := s.client.R().SetContext(ctx).Get(target)
	if err != nil {
		return Result{}, fmt.Errorf("fetch %s: %w", target, err)
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return Result{}, &UpstreamError{Status: resp.StatusCode(), Body: string(resp.Body())}
	}

	contentType := resp.Header().Get("Content-Type")
	if contentType == "" {
		contentType = "text/html"
	}
	return Result{Body: resp.Body(), ContentType: contentType}, nil
}

// decodeBase64 accepts standard and URL-safe alphabets, padded or not, since
// clients encode the target with whatever base64 helper they have on hand.
func decodeBase64(encoded string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		raw, err := enc.DecodeString(encoded)
		if err == nil {
			return raw, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
