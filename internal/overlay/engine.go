package overlay

import (
	"context"
	"sync"
	"time"

	"github.com/fakharkhan/canvasly/internal/util"
)

// Engine owns every live overlay session. Sessions are cheap in-memory
// objects discarded on close or after sitting idle past the TTL.
type Engine struct {
	comments CommentStore
	ttl      time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewEngine(comments CommentStore, ttl time.Duration) *Engine {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Engine{
		comments: comments,
		ttl:      ttl,
		sessions: make(map[string]*Session),
	}
}

// Open starts a session for a canvas. The tracked page URL begins at the
// canvas root; existing holds the canvas's persisted pins.
func (e *Engine) Open(canvasID, rootURL string, existing []Pin) *Session {
	session := newSession(util.NewID("ovl"), canvasID, rootURL, existing, e.comments)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions[session.ID] = session
	return session
}

// Get looks up a live session.
func (e *Engine) Get(sessionID string) (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	session, ok := e.sessions[sessionID]
	return session, ok
}

// Close discards a session. In-flight store calls finish against the
// detached session and are inert.
func (e *Engine) Close(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, sessionID)
}

// CloseForCanvas discards every session attached to a canvas, used when the
// canvas itself is deleted.
func (e *Engine) CloseForCanvas(canvasID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, session := range e.sessions {
		if session.CanvasID == canvasID {
			delete(e.sessions, id)
		}
	}
}

// Sweep drops sessions idle past the TTL and returns how many were removed.
func (e *Engine) Sweep(now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	removed := 0
	for id, session := range e.sessions {
		session.mu.Lock()
		idle := now.Sub(session.lastActive)
		session.mu.Unlock()
		if idle > e.ttl {
			delete(e.sessions, id)
			removed++
		}
	}
	return removed
}

// StartJanitor sweeps periodically until ctx is canceled.
func (e *Engine) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				e.Sweep(now)
			}
		}
	}()
}
