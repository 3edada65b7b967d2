package blob

import "testing"

func TestResolveURL(t *testing.T) {
	s := &Store{publicBaseURL: "http://localhost:9000/canvasly-thumbnails"}

	if got := s.ResolveURL(nil); got != PlaceholderURL {
		t.Errorf("nil reference: got %q", got)
	}

	empty := ""
	if got := s.ResolveURL(&empty); got != PlaceholderURL {
		t.Errorf("empty reference: got %q", got)
	}

	key := "thumbnails/abc123.jpg"
	if got := s.ResolveURL(&key); got != "http://localhost:9000/canvasly-thumbnails/thumbnails/abc123.jpg" {
		t.Errorf("storage key: got %q", got)
	}

	external := "https://cdn.example.com/shot.jpg"
	if got := s.ResolveURL(&external); got != external {
		t.Errorf("external url: got %q", got)
	}
}

func TestIsExternalURL(t *testing.T) {
	if IsExternalURL("thumbnails/abc.jpg") {
		t.Error("storage key misread as external URL")
	}
	if !IsExternalURL("https://example.com/a.jpg") {
		t.Error("https URL not recognized")
	}
	if !IsExternalURL("http://example.com/a.jpg") {
		t.Error("http URL not recognized")
	}
}
