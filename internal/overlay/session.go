package overlay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	ErrPinNotFound  = errors.New("pin not found")
	ErrNotDraft     = errors.New("pin is not a draft")
	ErrNotPersisted = errors.New("pin is not persisted")
)

// CommentStore is the persistence contract the overlay reconciles toward.
type CommentStore interface {
	CreateComment(ctx context.Context, canvasID string, x, y float64, content, pageURL string) (Pin, error)
	UpdateComment(ctx context.Context, canvasID, commentID string, content *string, resolved *bool) (Pin, error)
	DeleteComment(ctx context.Context, canvasID, commentID string) error
}

// Session tracks one open editor. All pin mutations happen under the
// session mutex; store calls run outside it so a slow save never blocks
// toggling comment mode or navigating.
type Session struct {
	ID       string
	CanvasID string

	comments CommentStore

	mu          sync.Mutex
	trackedURL  string
	commentMode bool
	pins        []*Pin
	seq         uint64
	lastActive  time.Time
}

func newSession(id, canvasID, rootURL string, existing []Pin, comments CommentStore) *Session {
	s := &Session{
		ID:         id,
		CanvasID:   canvasID,
		comments:   comments,
		trackedURL: rootURL,
		lastActive: time.Now(),
	}
	for i := range existing {
		pin := existing[i]
		pin.State = StatePersisted
		// Freshly loaded pins start closed.
		pin.DisplayOpen = false
		s.pins = append(s.pins, &pin)
	}
	return s
}

func (s *Session) touch() {
	s.lastActive = time.Now()
}

// TrackedURL returns the sub-page the overlay currently believes the frame
// is showing.
func (s *Session) TrackedURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trackedURL
}

// CommentMode reports whether overlay clicks create pins.
func (s *Session) CommentMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commentMode
}

// SetCommentMode flips the annotate/browse gate.
func (s *Session) SetCommentMode(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	s.commentMode = enabled
}

// Navigated records a frame navigation. An empty URL means the frame's
// location could not be read (cross-origin); the tracked URL then stays as
// it was.
func (s *Session) Navigated(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	if strings.TrimSpace(url) == "" {
		return
	}
	s.trackedURL = url
}

// Click translates a pointer event into a draft pin. It returns nil when
// the click is ignored: comment mode off, or the click landed inside an
// existing pin's chrome.
func (s *Session) Click(input ClickInput) *Pin {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if !s.commentMode {
		return nil
	}
	if pinID, ok := input.Target.pinChrome(); ok && s.indexOf(pinID) >= 0 {
		return nil
	}

	s.seq++
	pin := &Pin{
		ID:          tempID(s.seq),
		CanvasID:    s.CanvasID,
		PageURL:     s.trackedURL,
		X:           input.ClientX - input.OriginX,
		Y:           input.ClientY - input.OriginY,
		State:       StateDraft,
		DisplayOpen: true,
	}
	s.pins = append(s.pins, pin)
	return pin
}

// SaveDraft persists a draft through the comment store. On success the
// temporary pin is replaced in place by the server's pin; on failure it is
// left untouched so the user can retry.
func (s *Session) SaveDraft(ctx context.Context, pinID, content string) (Pin, error) {
	if strings.TrimSpace(content) == "" {
		return Pin{}, errors.New("content is required")
	}

	s.mu.Lock()
	s.touch()
	idx := s.indexOf(pinID)
	if idx < 0 {
		s.mu.Unlock()
		return Pin{}, ErrPinNotFound
	}
	draft := *s.pins[idx]
	s.mu.Unlock()

	if draft.State != StateDraft {
		return Pin{}, ErrNotDraft
	}

	saved, err := s.comments.CreateComment(ctx, s.CanvasID, draft.X, draft.Y, content, draft.PageURL)
	if err != nil {
		return Pin{}, fmt.Errorf("save pin: %w", err)
	}
	saved.State = StatePersisted
	// The author just wrote this; show it open.
	saved.DisplayOpen = true

	s.Reconcile(saved, pinID)
	return saved, nil
}

// CancelDraft discards an unsaved pin locally. No network call is made.
func (s *Session) CancelDraft(pinID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	idx := s.indexOf(pinID)
	if idx < 0 {
		return ErrPinNotFound
	}
	if s.pins[idx].State != StateDraft {
		return ErrNotDraft
	}
	s.pins = append(s.pins[:idx], s.pins[idx+1:]...)
	return nil
}

// DeletePin removes a persisted pin. Local state changes only after the
// store acknowledges; a failed delete leaves the pin visible.
func (s *Session) DeletePin(ctx context.Context, pinID string) error {
	s.mu.Lock()
	s.touch()
	idx := s.indexOf(pinID)
	if idx < 0 {
		s.mu.Unlock()
		return ErrPinNotFound
	}
	state := s.pins[idx].State
	s.mu.Unlock()

	if state != StatePersisted {
		return ErrNotPersisted
	}

	if err := s.comments.DeleteComment(ctx, s.CanvasID, pinID); err != nil {
		return fmt.Errorf("delete pin: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexOf(pinID); idx >= 0 {
		s.pins = append(s.pins[:idx], s.pins[idx+1:]...)
	}
	return nil
}

// SetResolved updates the resolved flag through the store and reconciles
// the returned pin in place.
func (s *Session) SetResolved(ctx context.Context, pinID string, resolved bool) (Pin, error) {
	s.mu.Lock()
	s.touch()
	idx := s.indexOf(pinID)
	if idx < 0 {
		s.mu.Unlock()
		return Pin{}, ErrPinNotFound
	}
	state := s.pins[idx].State
	displayOpen := s.pins[idx].DisplayOpen
	s.mu.Unlock()

	if state != StatePersisted {
		return Pin{}, ErrNotPersisted
	}

	updated, err := s.comments.UpdateComment(ctx, s.CanvasID, pinID, nil, &resolved)
	if err != nil {
		return Pin{}, fmt.Errorf("resolve pin: %w", err)
	}
	updated.State = StatePersisted
	updated.DisplayOpen = displayOpen

	s.Reconcile(updated, "")
	return updated, nil
}

// SetDisplay flips the open/closed view toggle on a pin.
func (s *Session) SetDisplay(pinID string, open bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	idx := s.indexOf(pinID)
	if idx < 0 {
		return ErrPinNotFound
	}
	s.pins[idx].DisplayOpen = open
	return nil
}

// Reconcile merges a server-confirmed pin into the set: an entry with the
// same identity (or the temporary identity it replaces) is swapped in place,
// otherwise the pin is appended. The set never holds two entries for one
// effective identity, no matter how often or in what order confirmations
// arrive.
func (s *Session) Reconcile(pin Pin, replacesID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx := s.indexOf(pin.ID); idx >= 0 {
		s.pins[idx] = &pin
		s.removeDuplicate(pin.ID, idx)
		if replacesID != "" && replacesID != pin.ID {
			if old := s.indexOf(replacesID); old >= 0 {
				s.pins = append(s.pins[:old], s.pins[old+1:]...)
			}
		}
		return
	}
	if replacesID != "" {
		if idx := s.indexOf(replacesID); idx >= 0 {
			s.pins[idx] = &pin
			return
		}
	}
	s.pins = append(s.pins, &pin)
}

// removeDuplicate drops any second entry carrying the same identity.
func (s *Session) removeDuplicate(pinID string, keep int) {
	for i := len(s.pins) - 1; i >= 0; i-- {
		if i != keep && s.pins[i].ID == pinID {
			s.pins = append(s.pins[:i], s.pins[i+1:]...)
		}
	}
}

// VisiblePins filters the full in-memory set down to the pins anchored to
// the currently tracked page, in insertion order, with 1-based badge
// ordinals. Switching back to an earlier page re-reveals its pins with no
// re-fetch.
func (s *Session) VisiblePins() []PinView {
	s.mu.Lock()
	defer s.mu.Unlock()

	views := []PinView{}
	for _, pin := range s.pins {
		if pin.PageURL != s.trackedURL {
			continue
		}
		views = append(views, PinView{Pin: *pin, Ordinal: len(views) + 1})
	}
	return views
}

// AllPins returns a copy of the full set, visible or not.
func (s *Session) AllPins() []Pin {
	s.mu.Lock()
	defer s.mu.Unlock()

	pins := make([]Pin, 0, len(s.pins))
	for _, pin := range s.pins {
		pins = append(pins, *pin)
	}
	return pins
}

// View is the session snapshot returned to the editor.
type View struct {
	ID          string    `json:"id"`
	CanvasID    string    `json:"canvasId"`
	TrackedURL  string    `json:"trackedUrl"`
	CommentMode bool      `json:"commentMode"`
	Pins        []PinView `json:"pins"`
}

func (s *Session) Snapshot() View {
	pins := s.VisiblePins()
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		ID:          s.ID,
		CanvasID:    s.CanvasID,
		TrackedURL:  s.trackedURL,
		CommentMode: s.commentMode,
		Pins:        pins,
	}
}

func (s *Session) indexOf(pinID string) int {
	for i, pin := range s.pins {
		if pin.ID == pinID {
			return i
		}
	}
	return -1
}
