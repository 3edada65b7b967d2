package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fakharkhan/canvasly/internal/auth"
	"github.com/fakharkhan/canvasly/internal/authpw"
	"github.com/fakharkhan/canvasly/internal/blob"
	"github.com/fakharkhan/canvasly/internal/config"
	"github.com/fakharkhan/canvasly/internal/gallery"
	"github.com/fakharkhan/canvasly/internal/overlay"
	"github.com/fakharkhan/canvasly/internal/proxy"
	"github.com/fakharkhan/canvasly/internal/screenshot"
	"github.com/fakharkhan/canvasly/internal/search"
	"github.com/fakharkhan/canvasly/internal/store"
	"github.com/fakharkhan/canvasly/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	ListCanvases(context.Context) ([]store.Canvas, error)
	GetCanvas(context.Context, string) (store.Canvas, error)
	InsertCanvas(context.Context, store.Canvas) error
	UpdateCanvas(context.Context, string, string, *string) (store.Canvas, error)
	DeleteCanvas(context.Context, string) (*string, error)
	ListComments(context.Context, string) ([]store.Comment, error)
	GetComment(context.Context, string, string) (store.Comment, error)
	InsertComment(context.Context, store.Comment) (store.Comment, error)
	UpdateComment(context.Context, string, string, *string, *bool) (store.Comment, error)
	DeleteComment(context.Context, string, string) error
	GetUserByID(context.Context, string) (store.User, error)
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	Ping(ctx context.Context) error
}

type blobStore interface {
	Delete(ctx context.Context, reference string) error
	ResolveURL(reference *string) string
}

type thumbnailQueue interface {
	Enqueue(canvas store.Canvas)
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexCanvas(c search.CanvasRecord)
	IndexComment(c search.CommentRecord)
	DeleteCanvas(id string)
	DeleteComment(id string)
	DeleteCommentsForCanvas(canvasID string)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	authpw   *authpw.Service
	blobs    blobStore
	shots    thumbnailQueue
	proxy    *proxy.Service
	search   searchIndex
	cards    *gallery.Gallery
	overlays *overlay.Engine
}

func New(cfg config.Config, dataStore *store.PostgresStore, blobs *blob.Store, shots *screenshot.Producer, proxySvc *proxy.Service, searchSvc *search.Service) *Service {
	var searchIdx searchIndex
	if searchSvc != nil {
		searchIdx = searchSvc
	}
	return newService(cfg, dataStore, authpw.NewService(dataStore), blobs, shots, proxySvc, searchIdx)
}

func newService(cfg config.Config, ds dataStore, authSvc *authpw.Service, blobs blobStore, shots thumbnailQueue, proxySvc *proxy.Service, searchSvc searchIndex) *Service {
	s := &Service{
		cfg:    cfg,
		store:  ds,
		authpw: authSvc,
		blobs:  blobs,
		shots:  shots,
		proxy:  proxySvc,
		search: searchSvc,
	}
	s.cards = gallery.New(ds, blobs.ResolveURL, cfg.RemoveDelay)
	s.overlays = overlay.NewEngine(&overlayComments{service: s}, cfg.OverlayTTL)
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

// Cards exposes the gallery reconciler so the notify subscription can feed it.
func (s *Service) Cards() *gallery.Gallery {
	return s.cards
}

// Overlays exposes the overlay engine for the janitor and canvas teardown.
func (s *Service) Overlays() *overlay.Engine {
	return s.overlays
}

// ── Sessions ──

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.store.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.store.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.store.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		_ = s.store.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ── Canvas Registry ──

func (s *Service) ListCanvases(ctx context.Context) ([]gallery.Card, error) {
	if err := s.refreshCards(ctx); err != nil {
		return nil, err
	}
	return s.cards.Cards(), nil
}

func (s *Service) CreateCanvas(ctx context.Context, rawURL string, description *string) (gallery.Card, error) {
	cleaned, err := validateCanvasURL(rawURL)
	if err != nil {
		return gallery.Card{}, err
	}

	canvas := store.Canvas{
		ID:          util.NewID("cnv"),
		URL:         cleaned,
		Description: description,
	}
	if err := s.store.InsertCanvas(ctx, canvas); err != nil {
		return gallery.Card{}, err
	}

	if err := s.refreshCards(ctx); err != nil {
		return gallery.Card{}, err
	}
	s.cards.MarkLoading(canvas.ID)
	if s.shots != nil {
		s.shots.Enqueue(canvas)
	}
	s.indexCanvas(canvas)

	card, ok := s.cards.Card(canvas.ID)
	if !ok {
		return gallery.Card{}, fmt.Errorf("canvas %s missing after create", canvas.ID)
	}
	return card, nil
}

func (s *Service) GetCanvas(ctx context.Context, canvasID string) (map[string]any, error) {
	canvas, err := s.store.GetCanvas(ctx, canvasID)
	if err != nil {
		return nil, err
	}
	return s.canvasJSON(canvas), nil
}

func (s *Service) UpdateCanvas(ctx context.Context, canvasID, rawURL string, description *string) (map[string]any, error) {
	cleaned, err := validateCanvasURL(rawURL)
	if err != nil {
		return nil, err
	}

	canvas, err := s.store.UpdateCanvas(ctx, canvasID, cleaned, description)
	if err != nil {
		return nil, err
	}

	// Every update retakes the preview, even when only the description
	// changed: the target page may have moved on since the last capture.
	if err := s.refreshCards(ctx); err == nil {
		s.cards.MarkLoading(canvas.ID)
	}
	if s.shots != nil {
		s.shots.Enqueue(canvas)
	}
	s.indexCanvas(canvas)

	return s.canvasJSON(canvas), nil
}

func (s *Service) DeleteCanvas(ctx context.Context, canvasID string) error {
	if _, err := s.store.GetCanvas(ctx, canvasID); err != nil {
		return err
	}
	if err := s.refreshCards(ctx); err != nil {
		return err
	}

	thumbnail, err := s.cards.Remove(ctx, canvasID)
	if err != nil {
		return err
	}

	if thumbnail != nil && *thumbnail != "" {
		if err := s.blobs.Delete(ctx, *thumbnail); err != nil {
			log.Printf("app: release thumbnail %s: %v", *thumbnail, err)
		}
	}
	s.overlays.CloseForCanvas(canvasID)
	if s.search != nil {
		s.search.DeleteCanvas(canvasID)
		// Postgres cascades the comment rows; the comment index must follow.
		s.search.DeleteCommentsForCanvas(canvasID)
	}
	return nil
}

func (s *Service) MarkThumbnailFailed(ctx context.Context, canvasID string) error {
	if _, err := s.store.GetCanvas(ctx, canvasID); err != nil {
		return err
	}
	if err := s.refreshCards(ctx); err != nil {
		return err
	}
	s.cards.MarkImageFailed(canvasID)
	return nil
}

func (s *Service) AckThumbnailRefresh(canvasID string) {
	s.cards.AckRefresh(canvasID)
}

func (s *Service) refreshCards(ctx context.Context) error {
	canvases, err := s.store.ListCanvases(ctx)
	if err != nil {
		return err
	}
	s.cards.Sync(canvases)
	return nil
}

func (s *Service) canvasJSON(canvas store.Canvas) map[string]any {
	return map[string]any{
		"id":           canvas.ID,
		"url":          canvas.URL,
		"description":  canvas.Description,
		"thumbnailUrl": s.blobs.ResolveURL(canvas.Thumbnail),
		"createdAt":    canvas.CreatedAt,
		"updatedAt":    canvas.UpdatedAt,
	}
}

func validateCanvasURL(raw string) (string, error) {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "url is required", nil)
	}
	parsed, err := url.Parse(cleaned)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "url must be an absolute http(s) URL", nil)
	}
	return cleaned, nil
}

// ── Comment Store ──

func (s *Service) ListComments(ctx context.Context, canvasID string) ([]map[string]any, error) {
	if _, err := s.store.GetCanvas(ctx, canvasID); err != nil {
		return nil, err
	}
	comments, err := s.store.ListComments(ctx, canvasID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(comments))
	for _, comment := range comments {
		items = append(items, commentJSON(comment))
	}
	return items, nil
}

func (s *Service) CreateComment(ctx context.Context, canvasID string, userID *string, x, y float64, content, pageURL string) (store.Comment, error) {
	if strings.TrimSpace(content) == "" {
		return store.Comment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required", nil)
	}
	if strings.TrimSpace(pageURL) == "" {
		return store.Comment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "pageUrl is required", nil)
	}
	if _, err := s.store.GetCanvas(ctx, canvasID); err != nil {
		return store.Comment{}, err
	}

	comment, err := s.store.InsertComment(ctx, store.Comment{
		ID:       util.NewID("cmt"),
		CanvasID: canvasID,
		UserID:   userID,
		PageURL:  pageURL,
		X:        x,
		Y:        y,
		Content:  content,
	})
	if err != nil {
		return store.Comment{}, err
	}
	if userID != nil {
		if user, err := s.store.GetUserByID(ctx, *userID); err == nil {
			comment.UserName = &user.DisplayName
		}
	}
	s.indexComment(comment)
	return comment, nil
}

func (s *Service) UpdateComment(ctx context.Context, canvasID, commentID string, content *string, resolved *bool) (store.Comment, error) {
	if content == nil && resolved == nil {
		return store.Comment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "nothing to update", nil)
	}
	if content != nil && strings.TrimSpace(*content) == "" {
		return store.Comment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content cannot be empty", nil)
	}
	comment, err := s.store.UpdateComment(ctx, canvasID, commentID, content, resolved)
	if err != nil {
		return store.Comment{}, err
	}
	s.indexComment(comment)
	return comment, nil
}

func (s *Service) DeleteComment(ctx context.Context, canvasID, commentID string) error {
	if err := s.store.DeleteComment(ctx, canvasID, commentID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteComment(commentID)
	}
	return nil
}

func commentJSON(comment store.Comment) map[string]any {
	var user map[string]any
	if comment.UserID != nil {
		name := ""
		if comment.UserName != nil {
			name = *comment.UserName
		}
		user = map[string]any{"id": *comment.UserID, "name": name}
	}
	return map[string]any{
		"id":        comment.ID,
		"canvasId":  comment.CanvasID,
		"pageUrl":   comment.PageURL,
		"x":         comment.X,
		"y":         comment.Y,
		"content":   comment.Content,
		"resolved":  comment.Resolved,
		"user":      user,
		"createdAt": comment.CreatedAt,
		"updatedAt": comment.UpdatedAt,
	}
}

// ── Annotation overlay sessions ──

func (s *Service) OpenOverlay(ctx context.Context, canvasID string) (overlay.View, error) {
	canvas, err := s.store.GetCanvas(ctx, canvasID)
	if err != nil {
		return overlay.View{}, err
	}
	comments, err := s.store.ListComments(ctx, canvasID)
	if err != nil {
		return overlay.View{}, err
	}

	pins := make([]overlay.Pin, 0, len(comments))
	for _, comment := range comments {
		pins = append(pins, pinFromComment(comment))
	}

	session := s.overlays.Open(canvasID, canvas.URL, pins)
	return session.Snapshot(), nil
}

func (s *Service) overlaySession(sessionID string) (*overlay.Session, error) {
	session, ok := s.overlays.Get(sessionID)
	if !ok {
		return nil, domainError(http.StatusNotFound, "SESSION_NOT_FOUND", "Overlay session not found", nil)
	}
	return session, nil
}

func (s *Service) OverlayView(sessionID string) (overlay.View, error) {
	session, err := s.overlaySession(sessionID)
	if err != nil {
		return overlay.View{}, err
	}
	return session.Snapshot(), nil
}

func (s *Service) SetOverlayMode(sessionID string, enabled bool) (overlay.View, error) {
	session, err := s.overlaySession(sessionID)
	if err != nil {
		return overlay.View{}, err
	}
	session.SetCommentMode(enabled)
	return session.Snapshot(), nil
}

func (s *Service) OverlayNavigated(sessionID, url string) (overlay.View, error) {
	session, err := s.overlaySession(sessionID)
	if err != nil {
		return overlay.View{}, err
	}
	session.Navigated(url)
	return session.Snapshot(), nil
}

func (s *Service) OverlayClick(sessionID string, input overlay.ClickInput) (*overlay.Pin, overlay.View, error) {
	session, err := s.overlaySession(sessionID)
	if err != nil {
		return nil, overlay.View{}, err
	}
	pin := session.Click(input)
	return pin, session.Snapshot(), nil
}

func (s *Service) SaveOverlayPin(ctx context.Context, sessionID, pinID, content string, userID string) (overlay.Pin, error) {
	session, err := s.overlaySession(sessionID)
	if err != nil {
		return overlay.Pin{}, err
	}
	if userID != "" {
		ctx = withUserID(ctx, userID)
	}
	return session.SaveDraft(ctx, pinID, content)
}

func (s *Service) CancelOverlayPin(sessionID, pinID string) error {
	session, err := s.overlaySession(sessionID)
	if err != nil {
		return err
	}
	return session.CancelDraft(pinID)
}

func (s *Service) DeleteOverlayPin(ctx context.Context, sessionID, pinID string) error {
	session, err := s.overlaySession(sessionID)
	if err != nil {
		return err
	}
	return session.DeletePin(ctx, pinID)
}

func (s *Service) ResolveOverlayPin(ctx context.Context, sessionID, pinID string, resolved bool) (overlay.Pin, error) {
	session, err := s.overlaySession(sessionID)
	if err != nil {
		return overlay.Pin{}, err
	}
	return session.SetResolved(ctx, pinID, resolved)
}

func (s *Service) SetOverlayPinDisplay(sessionID, pinID string, open bool) error {
	session, err := s.overlaySession(sessionID)
	if err != nil {
		return err
	}
	return session.SetDisplay(pinID, open)
}

func (s *Service) CloseOverlay(sessionID string) {
	s.overlays.Close(sessionID)
}

// overlayComments adapts the service's comment operations to the overlay
// engine's persistence contract.
type overlayComments struct {
	service *Service
}

func (a *overlayComments) CreateComment(ctx context.Context, canvasID string, x, y float64, content, pageURL string) (overlay.Pin, error) {
	comment, err := a.service.CreateComment(ctx, canvasID, userIDFromContext(ctx), x, y, content, pageURL)
	if err != nil {
		return overlay.Pin{}, err
	}
	return pinFromComment(comment), nil
}

func (a *overlayComments) UpdateComment(ctx context.Context, canvasID, commentID string, content *string, resolved *bool) (overlay.Pin, error) {
	comment, err := a.service.UpdateComment(ctx, canvasID, commentID, content, resolved)
	if err != nil {
		return overlay.Pin{}, err
	}
	return pinFromComment(comment), nil
}

func (a *overlayComments) DeleteComment(ctx context.Context, canvasID, commentID string) error {
	return a.service.DeleteComment(ctx, canvasID, commentID)
}

func pinFromComment(comment store.Comment) overlay.Pin {
	pin := overlay.Pin{
		ID:        comment.ID,
		CanvasID:  comment.CanvasID,
		PageURL:   comment.PageURL,
		X:         comment.X,
		Y:         comment.Y,
		Content:   comment.Content,
		Resolved:  comment.Resolved,
		CreatedAt: comment.CreatedAt,
	}
	if comment.UserID != nil {
		author := &overlay.Author{ID: *comment.UserID}
		if comment.UserName != nil {
			author.Name = *comment.UserName
		}
		pin.Author = author
	}
	return pin
}

type userIDKey struct{}

func withUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

func userIDFromContext(ctx context.Context) *string {
	if userID, ok := ctx.Value(userIDKey{}).(string); ok && userID != "" {
		return &userID
	}
	return nil
}

// ── Content proxy ──

func (s *Service) FetchProxied(ctx context.Context, encoded string) (proxy.Result, error) {
	return s.proxy.Fetch(ctx, encoded)
}

// ── Search ──

func (s *Service) Search(ctx context.Context, text, filterType, canvasID string, limit, offset int) (search.Response, error) {
	switch search.ResultType(filterType) {
	case "", search.ResultCanvas, search.ResultComment:
	default:
		return search.Response{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "type must be canvas or comment", nil)
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(search.Query{
		Text:           text,
		FilterType:     search.ResultType(filterType),
		FilterCanvasID: canvasID,
		Limit:          limit,
		Offset:         offset,
	}), nil
}

func (s *Service) indexCanvas(canvas store.Canvas) {
	if s.search == nil {
		return
	}
	description := ""
	if canvas.Description != nil {
		description = *canvas.Description
	}
	s.search.IndexCanvas(search.CanvasRecord{
		ID:          canvas.ID,
		URL:         canvas.URL,
		Description: description,
	})
}

func (s *Service) indexComment(comment store.Comment) {
	if s.search == nil {
		return
	}
	s.search.IndexComment(search.CommentRecord{
		ID:       comment.ID,
		Content:  comment.Content,
		CanvasID: comment.CanvasID,
		PageURL:  comment.PageURL,
		Resolved: comment.Resolved,
	})
}
