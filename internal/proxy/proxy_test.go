package proxy

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func encode(target string) string {
	return base64.StdEncoding.EncodeToString([]byte(target))
}

func TestFetchPassesThroughBodyAndContentType(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer upstream.Close()

	svc := New(5*time.Second, "test-agent")
	result, err := svc.Fetch(context.Background(), encode(upstream.URL))
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(result.Body) != "<html><body>hello</body></html>" {
		t.Errorf("unexpected body: %q", result.Body)
	}
	if result.ContentType != "text/html; charset=utf-8" {
		t.Errorf("unexpected content type: %q", result.ContentType)
	}
	if hits.Load() != 1 {
		t.Errorf("expected exactly one upstream GET, got %d", hits.Load())
	}
}

func TestFetchSendsBrowserUserAgent(t *testing.T) {
	var got string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
	}))
	defer upstream.Close()

	svc := New(5*time.Second, "Mozilla/5.0 (test)")
	if _, err := svc.Fetch(context.Background(), encode(upstream.URL)); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if got != "Mozilla/5.0 (test)" {
		t.Errorf("unexpected user agent: %q", got)
	}
}

func TestFetchDefaultsMissingContentTypeToHTML(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Suppress Go's automatic content-type sniffing header.
		w.Header()["Content-Type"] = nil
		_, _ = w.Write([]byte("raw"))
	}))
	defer upstream.Close()

	svc := New(5*time.Second, "test-agent")
	result, err := svc.Fetch(context.Background(), encode(upstream.URL))
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if result.ContentType != "text/html" {
		t.Errorf("expected text/html fallback, got %q", result.ContentType)
	}
}

func TestFetchReportsUpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer upstream.Close()

	svc := New(5*time.Second, "test-agent")
	_, err := svc.Fetch(context.Background(), encode(upstream.URL))
	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upErr.Status != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", upErr.Status)
	}
}

func TestFetchRejectsMalformedEncodingWithoutUpstreamRequest(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer upstream.Close()

	svc := New(5*time.Second, "test-agent")
	cases := []string{
		"%%%not-base64%%%",
		encode("not a url"),
		encode("ftp://example.com/file"),
		encode("//missing-scheme"),
		"",
	}
	for _, encoded := range cases {
		if _, err := svc.Fetch(context.Background(), encoded); !errors.Is(err, ErrBadTarget) {
			t.Errorf("encoded %q: expected ErrBadTarget, got %v", encoded, err)
		}
	}
	if hits.Load() != 0 {
		t.Errorf("expected zero upstream requests, got %d", hits.Load())
	}
}

func TestDecodeTargetAcceptsURLSafeAlphabet(t *testing.T) {
	target := "https://example.com/page?a=1&b=2"
	encoded := base64.RawURLEncoding.EncodeToString([]byte(target))
	decoded, err := DecodeTarget(encoded)
	if err != nil {
		t.Fatalf("DecodeTarget failed: %v", err)
	}
	if decoded != target {
		t.Errorf("expected %q, got %q", target, decoded)
	}
}
