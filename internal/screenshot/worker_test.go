package screenshot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fakharkhan/canvasly/internal/notify"
	"github.com/fakharkhan/canvasly/internal/store"
)

type fakeCapturer struct {
	data []byte
	err  error
}

func (f *fakeCapturer) Capture(context.Context, string) ([]byte, error) {
	return f.data, f.err
}

type fakeCanvasStore struct {
	mu       sync.Mutex
	previous *string
	err      error
	setKeys  []string
}

func (f *fakeCanvasStore) SetCanvasThumbnail(ctx context.Context, canvasID, thumbnail string) (*string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.setKeys = append(f.setKeys, thumbnail)
	return f.previous, nil
}

type fakeBlobStore struct {
	mu      sync.Mutex
	puts    []string
	deletes []string
}

func (f *fakeBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, key)
	return key, nil
}

func (f *fakeBlobStore) Delete(ctx context.Context, reference string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, reference)
	return nil
}

func (f *fakeBlobStore) ResolveURL(reference *string) string {
	if reference == nil {
		return "placeholder"
	}
	return "http://blobs.test/" + *reference
}

type fakePublisher struct {
	mu     sync.Mutex
	events []notify.CanvasUpdated
}

func (f *fakePublisher) Publish(ctx context.Context, event notify.CanvasUpdated) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestProducerStoresThumbnailAndBroadcasts(t *testing.T) {
	old := "thumbnails/old.jpg"
	canvases := &fakeCanvasStore{previous: &old}
	blobs := &fakeBlobStore{}
	broker := &fakePublisher{}
	producer := NewProducer(&fakeCapturer{data: []byte("jpeg")}, canvases, blobs, broker, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	producer.Start(ctx)

	producer.Enqueue(store.Canvas{ID: "cnv_1", URL: "https://example.com"})

	waitFor(t, func() bool { return broker.count() == 1 })

	blobs.mu.Lock()
	defer blobs.mu.Unlock()
	if len(blobs.puts) != 1 || !strings.HasPrefix(blobs.puts[0], "thumbnails/") {
		t.Errorf("unexpected puts: %v", blobs.puts)
	}
	// The replaced thumbnail must be released.
	if len(blobs.deletes) != 1 || blobs.deletes[0] != old {
		t.Errorf("unexpected deletes: %v", blobs.deletes)
	}

	broker.mu.Lock()
	event := broker.events[0]
	broker.mu.Unlock()
	if event.CanvasID != "cnv_1" {
		t.Errorf("unexpected event canvas: %q", event.CanvasID)
	}
	if event.Thumbnail == nil || !strings.HasPrefix(*event.Thumbnail, "http://blobs.test/thumbnails/") {
		t.Errorf("unexpected event thumbnail: %v", event.Thumbnail)
	}
}

func TestProducerCaptureFailureIsSilent(t *testing.T) {
	canvases := &fakeCanvasStore{}
	blobs := &fakeBlobStore{}
	broker := &fakePublisher{}
	producer := NewProducer(&fakeCapturer{err: errors.New("render crashed")}, canvases, blobs, broker, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	producer.Start(ctx)

	producer.Enqueue(store.Canvas{ID: "cnv_1", URL: "https://example.com"})

	// Give the worker a moment; nothing should be stored or broadcast.
	time.Sleep(100 * time.Millisecond)
	blobs.mu.Lock()
	puts := len(blobs.puts)
	blobs.mu.Unlock()
	if puts != 0 {
		t.Errorf("expected no blob writes after capture failure, got %d", puts)
	}
	if broker.count() != 0 {
		t.Error("expected no broadcast after capture failure")
	}
}

func TestProducerReleasesOrphanWhenCanvasGone(t *testing.T) {
	canvases := &fakeCanvasStore{err: errors.New("canvas deleted")}
	blobs := &fakeBlobStore{}
	broker := &fakePublisher{}
	producer := NewProducer(&fakeCapturer{data: []byte("jpeg")}, canvases, blobs, broker, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	producer.Start(ctx)

	producer.Enqueue(store.Canvas{ID: "cnv_gone", URL: "https://example.com"})

	waitFor(t, func() bool {
		blobs.mu.Lock()
		defer blobs.mu.Unlock()
		return len(blobs.deletes) == 1
	})

	blobs.mu.Lock()
	defer blobs.mu.Unlock()
	if blobs.deletes[0] != blobs.puts[0] {
		t.Errorf("expected orphaned object %q to be deleted, got %q", blobs.puts[0], blobs.deletes[0])
	}
	if broker.count() != 0 {
		t.Error("expected no broadcast when canvas update failed")
	}
}
