// Package gallery keeps the card list shown on the dashboard consistent
// with the canvas registry while thumbnails arrive asynchronously and
// deletions run their confirm-then-remove dance.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fakharkhan/canvasly/internal/notify"
	"github.com/fakharkhan/canvasly/internal/store"
)

// ErrUnknownCanvas is returned when an operation names a canvas the gallery
// has no card for.
var ErrUnknownCanvas = errors.New("unknown canvas")

// Remover deletes a canvas from the registry and hands back the stored
// thumbnail reference for release.
type Remover interface {
	DeleteCanvas(ctx context.Context, canvasID string) (*string, error)
}

// Card is one gallery entry with its transient display flags.
type Card struct {
	CanvasID     string    `json:"canvasId"`
	URL          string    `json:"url"`
	Description  *string   `json:"description"`
	ThumbnailURL string    `json:"thumbnailUrl"`
	CreatedAt    time.Time `json:"createdAt"`

	// LoadingThumbnail is set while a capture is queued or running.
	LoadingThumbnail bool `json:"loadingThumbnail"`
	// NeedsRefresh tells the renderer to cache-bust the thumbnail image.
	NeedsRefresh bool `json:"needsRefresh"`
	// FailedToLoad is set when the thumbnail image errored on display.
	FailedToLoad bool `json:"failedToLoad"`
	// Removing marks a card whose delete is pending acknowledgment.
	Removing bool `json:"removing"`
}

// Gallery reconciles registry listings, thumbnail broadcasts, and deletes
// into one card set. Safe for concurrent use.
type Gallery struct {
	remover     Remover
	resolve     func(thumbnail *string) string
	removeDelay time.Duration

	mu    sync.Mutex
	cards map[string]*Card
	order []string
}

func New(remover Remover, resolve func(*string) string, removeDelay time.Duration) *Gallery {
	return &Gallery{
		remover:     remover,
		resolve:     resolve,
		removeDelay: removeDelay,
		cards:       make(map[string]*Card),
	}
}

// Sync replaces the card set from a registry listing. Transient flags on
// cards that survive the sync are preserved; cards mid-removal stay until
// their delete settles.
func (g *Gallery) Sync(canvases []store.Canvas) {
	g.mu.Lock()
	defer g.mu.Unlock()

	next := make(map[string]*Card, len(canvases))
	order := make([]string, 0, len(canvases))
	for _, canvas := range canvases {
		card := &Card{
			CanvasID:     canvas.ID,
			URL:          canvas.URL,
			Description:  canvas.Description,
			ThumbnailURL: g.resolve(canvas.Thumbnail),
			CreatedAt:    canvas.CreatedAt,
		}
		if prev, ok := g.cards[canvas.ID]; ok {
			card.LoadingThumbnail = prev.LoadingThumbnail
			card.NeedsRefresh = prev.NeedsRefresh
			card.FailedToLoad = prev.FailedToLoad
			card.Removing = prev.Removing
		}
		next[canvas.ID] = card
		order = append(order, canvas.ID)
	}
	for id, card := range g.cards {
		if _, ok := next[id]; !ok && card.Removing {
			next[id] = card
			order = append(order, id)
		}
	}
	g.cards = next
	g.order = order
}

// Cards returns the current card set in listing order.
func (g *Gallery) Cards() []Card {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Card, 0, len(g.order))
	for _, id := range g.order {
		if card, ok := g.cards[id]; ok {
			out = append(out, *card)
		}
	}
	return out
}

// Card looks up one entry.
func (g *Gallery) Card(canvasID string) (Card, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	card, ok := g.cards[canvasID]
	if !ok {
		return Card{}, false
	}
	return *card, true
}

// MarkLoading flags a card while its capture is in flight.
func (g *Gallery) MarkLoading(canvasID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if card, ok := g.cards[canvasID]; ok {
		card.LoadingThumbnail = true
		card.FailedToLoad = false
	}
}

// MarkImageFailed records that the thumbnail image errored on display, so
// the renderer can fall back to the placeholder treatment.
func (g *Gallery) MarkImageFailed(canvasID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if card, ok := g.cards[canvasID]; ok {
		card.FailedToLoad = true
		card.LoadingThumbnail = false
	}
}

// ApplyUpdate folds a broadcast into the card set: the fresh thumbnail
// replaces the old one, the loading flag clears, and the card is told to
// cache-bust its image. Updates for unknown canvases are dropped; the next
// Sync will pick the canvas up.
func (g *Gallery) ApplyUpdate(evt notify.CanvasUpdated) {
	g.mu.Lock()
	defer g.mu.Unlock()

	card, ok := g.cards[evt.CanvasID]
	if !ok {
		return
	}
	card.URL = evt.URL
	card.Description = evt.Description
	if evt.Thumbnail != nil && *evt.Thumbnail != "" {
		card.ThumbnailURL = *evt.Thumbnail
	} else {
		card.ThumbnailURL = g.resolve(nil)
	}
	card.LoadingThumbnail = false
	card.FailedToLoad = false
	card.NeedsRefresh = true
}

// AckRefresh clears the cache-bust flag once the renderer has reloaded the
// image.
func (g *Gallery) AckRefresh(canvasID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if card, ok := g.cards[canvasID]; ok {
		card.NeedsRefresh = false
	}
}

// Remove runs the two-phase delete: the card is first marked as removing
// (so it renders dimmed but stays in place), then after the settle delay
// the registry delete runs. The card disappears only on acknowledgment; a
// failed delete restores it. Returns the released thumbnail reference.
func (g *Gallery) Remove(ctx context.Context, canvasID string) (*string, error) {
	g.mu.Lock()
	card, ok := g.cards[canvasID]
	if !ok {
		g.mu.Unlock()
		return nil, ErrUnknownCanvas
	}
	if card.Removing {
		g.mu.Unlock()
		return nil, fmt.Errorf("canvas %s is already being removed", canvasID)
	}
	card.Removing = true
	g.mu.Unlock()

	if g.removeDelay > 0 {
		select {
		case <-ctx.Done():
			g.restore(canvasID)
			return nil, ctx.Err()
		case <-time.After(g.removeDelay):
		}
	}

	thumbnail, err := g.remover.DeleteCanvas(ctx, canvasID)
	if err != nil {
		g.restore(canvasID)
		return nil, fmt.Errorf("delete canvas: %w", err)
	}

	g.mu.Lock()
	delete(g.cards, canvasID)
	for i, id := range g.order {
		if id == canvasID {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	g.mu.Unlock()
	return thumbnail, nil
}

func (g *Gallery) restore(canvasID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if card, ok := g.cards[canvasID]; ok {
		card.Removing = false
	}
}

// Watch applies thumbnail broadcasts until the channel closes or ctx ends.
func (g *Gallery) Watch(ctx context.Context, updates <-chan notify.CanvasUpdated) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-updates:
				if !ok {
					return
				}
				g.ApplyUpdate(evt)
				log.Printf("gallery: refreshed thumbnail for canvas %s", evt.CanvasID)
			}
		}
	}()
}
