package app

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T) (*testEnv, *httptest.Server) {
	t.Helper()
	env := newTestEnv()
	srv := httptest.NewServer(NewHTTPServer(env.service, "*").Handler())
	t.Cleanup(srv.Close)
	return env, srv
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func sessionToken(t *testing.T, env *testEnv) string {
	t.Helper()
	user := env.seedUser(t)
	session, err := env.service.CreateSession(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	return session.Token
}

func TestHealthEndpoint(t *testing.T) {
	_, srv := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	decodeJSON(t, resp, &body)
	if body["ok"] != true {
		t.Errorf("unexpected health body %v", body)
	}
}

func TestCanvasRoutesRequireSession(t *testing.T) {
	_, srv := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/canvases", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", resp.StatusCode)
	}
	var body map[string]any
	decodeJSON(t, resp, &body)
	if body["code"] != "UNAUTHORIZED" {
		t.Errorf("unexpected error body %v", body)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/canvases", "not-a-token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 with a garbage token, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSignUpVerifySignInFlow(t *testing.T) {
	_, srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/auth/signup", "", map[string]string{
		"email":       "sam@example.com",
		"password":    "correct horse battery",
		"displayName": "Sam",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 from signup, got %d", resp.StatusCode)
	}
	var created map[string]any
	decodeJSON(t, resp, &created)
	verifyToken, _ := created["devVerificationToken"].(string)
	if verifyToken == "" {
		t.Fatal("signup should return the dev verification token")
	}

	signin := map[string]string{"email": "sam@example.com", "password": "correct horse battery"}
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/auth/signin", "", signin)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("unverified signin should be 403, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/auth/verify-email", "", map[string]string{"token": verifyToken})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify-email failed with %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/auth/signin", "", signin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verified signin should be 200, got %d", resp.StatusCode)
	}
	var session map[string]any
	decodeJSON(t, resp, &session)
	token, _ := session["accessToken"].(string)
	if token == "" {
		t.Fatal("signin should return an access token")
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/session", token, nil)
	var who map[string]any
	decodeJSON(t, resp, &who)
	if who["authenticated"] != true || who["userName"] != "Sam" {
		t.Errorf("unexpected session body %v", who)
	}
}

func TestSignUpDuplicateEmail(t *testing.T) {
	env, srv := newTestServer(t)
	env.seedUser(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/auth/signup", "", map[string]string{
		"email":       "avery@example.com",
		"password":    "another pass",
		"displayName": "Avery Two",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	var body map[string]any
	decodeJSON(t, resp, &body)
	if body["code"] != "EMAIL_EXISTS" {
		t.Errorf("unexpected error body %v", body)
	}
}

func TestCanvasLifecycleOverHTTP(t *testing.T) {
	env, srv := newTestServer(t)
	token := sessionToken(t, env)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/canvases", token, map[string]string{
		"url": "https://example.com",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var card map[string]any
	decodeJSON(t, resp, &card)
	canvasID, _ := card["canvasId"].(string)
	if canvasID == "" {
		t.Fatalf("missing canvas id in %v", card)
	}
	if card["loadingThumbnail"] != true {
		t.Errorf("fresh card should be loading, got %v", card)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/canvases", token, nil)
	var listing struct {
		Canvases []map[string]any `json:"canvases"`
	}
	decodeJSON(t, resp, &listing)
	if len(listing.Canvases) != 1 {
		t.Fatalf("expected one card, got %d", len(listing.Canvases))
	}

	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/canvases/"+canvasID, token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from delete, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/canvases/"+canvasID, token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("deleted canvas should be 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestProxyPassthrough(t *testing.T) {
	env, srv := newTestServer(t)
	token := sessionToken(t, env)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><body>hello</body></html>")
	}))
	defer upstream.Close()

	encoded := base64.RawURLEncoding.EncodeToString([]byte(upstream.URL))
	resp := doJSON(t, http.MethodGet, srv.URL+"/proxy/"+encoded, token, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("upstream content type should pass through, got %q", ct)
	}
	if xfo := resp.Header.Get("X-Frame-Options"); xfo != "SAMEORIGIN" {
		t.Errorf("expected SAMEORIGIN frame policy, got %q", xfo)
	}
}

func TestProxyErrorShape(t *testing.T) {
	env, srv := newTestServer(t)
	token := sessionToken(t, env)

	// Valid base64 of something that is not a URL.
	encoded := base64.RawURLEncoding.EncodeToString([]byte("not a url"))
	resp := doJSON(t, http.MethodGet, srv.URL+"/proxy/"+encoded, token, nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	var body map[string]any
	decodeJSON(t, resp, &body)
	if body["error"] != "Failed to load URL" {
		t.Errorf("unexpected error envelope %v", body)
	}
	if msg, _ := body["message"].(string); msg == "" {
		t.Error("error envelope should carry a message")
	}
}

func TestOverlayFlowOverHTTP(t *testing.T) {
	env, srv := newTestServer(t)
	token := sessionToken(t, env)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/canvases", token, map[string]string{
		"url": "https://example.com",
	})
	var card map[string]any
	decodeJSON(t, resp, &card)
	canvasID := card["canvasId"].(string)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/canvases/"+canvasID+"/overlay", token, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 opening overlay, got %d", resp.StatusCode)
	}
	var view struct {
		ID          string `json:"id"`
		CommentMode bool   `json:"commentMode"`
	}
	decodeJSON(t, resp, &view)
	if view.ID == "" || view.CommentMode {
		t.Fatalf("unexpected opening view %+v", view)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/overlay/"+view.ID+"/mode", token, map[string]bool{"enabled": true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mode toggle failed with %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/overlay/"+view.ID+"/click", token, map[string]float64{
		"clientX": 150, "clientY": 250, "originX": 50, "originY": 200,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("click failed with %d", resp.StatusCode)
	}
	var clicked struct {
		Pin *struct {
			ID string `json:"id"`
			X  float64
			Y  float64
		} `json:"pin"`
	}
	decodeJSON(t, resp, &clicked)
	if clicked.Pin == nil {
		t.Fatal("comment-mode click should create a draft pin")
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/overlay/"+view.ID+"/pins/"+clicked.Pin.ID+"/save", token, map[string]string{
		"content": "crop this image tighter",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save failed with %d", resp.StatusCode)
	}
	var saved struct {
		ID   string `json:"id"`
		User *struct {
			Name string `json:"name"`
		} `json:"user"`
	}
	decodeJSON(t, resp, &saved)
	if saved.ID == clicked.Pin.ID {
		t.Error("save should swap the temp identity for the stored one")
	}
	if saved.User == nil || saved.User.Name != "Avery" {
		t.Errorf("saved pin should carry the author, got %+v", saved.User)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/canvases/"+canvasID+"/comments", token, nil)
	var comments struct {
		Comments []map[string]any `json:"comments"`
	}
	decodeJSON(t, resp, &comments)
	if len(comments.Comments) != 1 {
		t.Fatalf("expected one persisted comment, got %d", len(comments.Comments))
	}

	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/overlay/"+view.ID, token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("close failed with %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/overlay/"+view.ID, token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("closed session should be 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestOverlayUnknownSession(t *testing.T) {
	env, srv := newTestServer(t)
	token := sessionToken(t, env)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/overlay/ovl_missing", token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	var body map[string]any
	decodeJSON(t, resp, &body)
	if body["code"] != "SESSION_NOT_FOUND" {
		t.Errorf("unexpected error body %v", body)
	}
}

func TestSearchRejectsBadType(t *testing.T) {
	env, srv := newTestServer(t)
	token := sessionToken(t, env)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/search?q=hello&type=bogus", token, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	var body map[string]any
	decodeJSON(t, resp, &body)
	if body["code"] != "VALIDATION_ERROR" {
		t.Errorf("unexpected error body %v", body)
	}
}
