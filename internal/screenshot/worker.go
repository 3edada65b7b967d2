package screenshot

import (
	"context"
	"log"
	"sync"

	"github.com/fakharkhan/canvasly/internal/notify"
	"github.com/fakharkhan/canvasly/internal/store"
	"github.com/fakharkhan/canvasly/internal/util"
)

// CanvasStore is the slice of storage the worker needs.
type CanvasStore interface {
	SetCanvasThumbnail(ctx context.Context, canvasID, thumbnail string) (*string, error)
}

// BlobStore persists captured images and releases replaced ones.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, reference string) error
	ResolveURL(reference *string) string
}

// Publisher announces completed thumbnails.
type Publisher interface {
	Publish(ctx context.Context, event notify.CanvasUpdated) error
}

type job struct {
	canvas store.Canvas
}

// Producer runs screenshot jobs on a single background worker. Enqueue never
// blocks the registering request; a full queue drops the job with a log line
// and the canvas simply keeps its prior thumbnail.
type Producer struct {
	capturer Capturer
	canvases CanvasStore
	blobs    BlobStore
	broker   Publisher

	jobs chan job
	wg   sync.WaitGroup
}

func NewProducer(capturer Capturer, canvases CanvasStore, blobs BlobStore, broker Publisher, queueSize int) *Producer {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Producer{
		capturer: capturer,
		canvases: canvases,
		blobs:    blobs,
		broker:   broker,
		jobs:     make(chan job, queueSize),
	}
}

// Start launches the worker loop. It drains until ctx is canceled.
func (p *Producer) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case j := <-p.jobs:
				p.process(ctx, j.canvas)
			}
		}
	}()
}

// Wait blocks until the worker loop has exited.
func (p *Producer) Wait() {
	p.wg.Wait()
}

// Enqueue schedules a screenshot for the canvas, fire and forget.
func (p *Producer) Enqueue(canvas store.Canvas) {
	select {
	case p.jobs <- job{canvas: canvas}:
	default:
		log.Printf("screenshot: queue full, dropping job for canvas %s", canvas.ID)
	}
}

func (p *Producer) process(ctx context.Context, canvas store.Canvas) {
	shot, err := p.capturer.Capture(ctx, canvas.URL)
	if err != nil {
		log.Printf("screenshot: capture %s (%s) failed: %v", canvas.ID, canvas.URL, err)
		return
	}

	key := "thumbnails/" + util.NewID("") + ".jpg"
	if _, err := p.blobs.Put(ctx, key, shot, "image/jpeg"); err != nil {
		log.Printf("screenshot: store thumbnail for %s failed: %v", canvas.ID, err)
		return
	}

	previous, err := p.canvases.SetCanvasThumbnail(ctx, canvas.ID, key)
	if err != nil {
		// The canvas may have been deleted while we rendered; release the
		// orphaned object.
		log.Printf("screenshot: update canvas %s failed: %v", canvas.ID, err)
		if cleanupErr := p.blobs.Delete(ctx, key); cleanupErr != nil {
			log.Printf("screenshot: cleanup %s failed: %v", key, cleanupErr)
		}
		return
	}

	if previous != nil && *previous != "" {
		if err := p.blobs.Delete(ctx, *previous); err != nil {
			log.Printf("screenshot: release old thumbnail %s failed: %v", *previous, err)
		}
	}

	if p.broker == nil {
		return
	}
	displayURL := p.blobs.ResolveURL(&key)
	event := notify.CanvasUpdated{
		CanvasID:    canvas.ID,
		URL:         canvas.URL,
		Description: canvas.Description,
		Thumbnail:   &displayURL,
	}
	if err := p.broker.Publish(ctx, event); err != nil {
		log.Printf("screenshot: broadcast for %s failed: %v", canvas.ID, err)
	}
}
