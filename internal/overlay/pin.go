// Package overlay holds the annotation model for an open editor: which
// sub-page the embedded frame is showing, whether comment mode is on, and
// the lifecycle of every pin dropped on it. State here is per editor
// session, in memory only; the comment store stays the source of truth.
package overlay

import (
	"fmt"
	"strings"
	"time"
)

// TempIDPrefix marks pin identities synthesized client side before the
// comment store has accepted them.
const TempIDPrefix = "tmp_"

// IsTempID reports whether a pin identity belongs to an unsaved draft.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// PinState is the lifecycle state of a pin: draft -> persisted -> gone.
type PinState string

const (
	StateDraft     PinState = "draft"
	StatePersisted PinState = "persisted"
)

// Author identifies the user who saved a pin. Drafts have none.
type Author struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Pin is one position-anchored comment. X and Y are pixel offsets from the
// overlay's origin at creation time; PageURL is the sub-page the frame was
// showing when the pin was dropped.
type Pin struct {
	ID        string    `json:"id"`
	CanvasID  string    `json:"canvasId"`
	PageURL   string    `json:"pageUrl"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Content   string    `json:"content"`
	Resolved  bool      `json:"resolved"`
	Author    *Author   `json:"user"`
	CreatedAt time.Time `json:"createdAt"`
	State     PinState  `json:"state"`
	// DisplayOpen is a pure view toggle, independent of lifecycle state.
	DisplayOpen bool `json:"isOpen"`
}

// PinView is a rendered pin: the badge ordinal is its 1-based position in
// the currently filtered sequence, so it can shift as drafts come and go or
// the tracked page changes.
type PinView struct {
	Pin
	Ordinal int `json:"ordinal"`
}

// ClickTarget describes the element under the pointer together with its
// ancestor chain. Elements belonging to a pin's chrome (badge, form, card)
// carry that pin's identity.
type ClickTarget struct {
	PinID  string       `json:"pinId,omitempty"`
	Parent *ClickTarget `json:"parent,omitempty"`
}

// pinChrome walks up the ancestor chain and returns the identity of the
// first pin whose chrome contains the click, if any. Containment beats
// coordinate overlap here: chrome may render outside the overlay's box.
func (t *ClickTarget) pinChrome() (string, bool) {
	for node := t; node != nil; node = node.Parent {
		if node.PinID != "" {
			return node.PinID, true
		}
	}
	return "", false
}

// ClickInput is a pointer event on the overlay, in viewport coordinates,
// with the overlay's bounding-box origin for translation.
type ClickInput struct {
	ClientX float64      `json:"clientX"`
	ClientY float64      `json:"clientY"`
	OriginX float64      `json:"originX"`
	OriginY float64      `json:"originY"`
	Target  *ClickTarget `json:"target,omitempty"`
}

// tempID builds a draft identity from the session's monotonic counter and
// the wall clock, unique within the session by construction.
func tempID(seq uint64) string {
	return fmt.Sprintf("%s%d_%d", TempIDPrefix, time.Now().UnixNano(), seq)
}
