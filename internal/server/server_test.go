package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"cartshare/internal/app"
	"cartshare/internal/hub"
	"cartshare/internal/store"
	"cartshare/internal/token"
	"cartshare/pkg/domain"
)

type testEnv struct {
	srv *httptest.Server
	hub *hub.Hub
}

func newTestEnv(t *testing.T, cfg func(*Config)) *testEnv {
	t.Helper()
	redis := miniredis.RunT(t)
	h := hub.New()
	t.Cleanup(h.Close)
	tokens := token.NewManager("test-secret", time.Hour)
	a, err := app.New(app.Config{
		Store:  store.NewMemoryStore(),
		Hub:    h,
		Tokens: tokens,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	serverCfg := Config{
		App:       a,
		Hub:       h,
		Tokens:    tokens,
		RedisAddr: redis.Addr(),
	}
	if cfg != nil {
		cfg(&serverCfg)
	}
	s, err := New(serverCfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, hub: h}
}

func (e *testEnv) do(t *testing.T, method, path, bearer string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &decoded)
	}
	return resp, decoded
}

func (e *testEnv) register(t *testing.T, name, email string) (string, string) {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name":     name,
		"email":    email,
		"password": "Str0ng#Pass1!",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: expected 201, got %d (%v)", email, resp.StatusCode, body)
	}
	tok, _ := body["token"].(string)
	user, _ := body["user"].(map[string]any)
	id, _ := user["id"].(string)
	if tok == "" || id == "" {
		t.Fatalf("register %s: missing token or user id in %v", email, body)
	}
	return tok, id
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, body := env.do(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("expected healthy response, got %d %v", resp.StatusCode, body)
	}
}

func TestRegisterLoginMeFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	tok, id := env.register(t, "Alice", "alice@example.com")

	// duplicate email
	resp, _ := env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Alice Again", "email": "alice@example.com", "password": "Str0ng#Pass1!",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate email expected 409, got %d", resp.StatusCode)
	}

	// weak password
	resp, _ = env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Bob", "email": "bob@example.com", "password": "short",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("weak password expected 400, got %d", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "wrong-password",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password expected 401, got %d", resp.StatusCode)
	}

	resp, body := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "Str0ng#Pass1!",
	})
	if resp.StatusCode != http.StatusOK || body["token"] == "" {
		t.Fatalf("login expected 200 with token, got %d %v", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodGet, "/api/auth/me", tok, nil)
	if resp.StatusCode != http.StatusOK || body["id"] != id {
		t.Fatalf("me expected 200 for user %s, got %d %v", id, resp.StatusCode, body)
	}
	if _, leaked := body["passwordHash"]; leaked {
		t.Fatalf("password hash must not be serialized: %v", body)
	}

	resp, _ = env.do(t, http.MethodGet, "/api/auth/me", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token expected 401, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodGet, "/api/auth/me", "not-a-jwt", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token expected 401, got %d", resp.StatusCode)
	}
}

func TestListLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t, nil)
	aliceTok, _ := env.register(t, "Alice", "alice@example.com")
	bobTok, _ := env.register(t, "Bob", "bob@example.com")

	resp, body := env.do(t, http.MethodPost, "/api/lists", aliceTok, map[string]string{"name": "Groceries"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create list expected 201, got %d %v", resp.StatusCode, body)
	}
	listID, _ := body["id"].(string)
	inviteCode, _ := body["inviteCode"].(string)
	if listID == "" || len(inviteCode) != 6 {
		t.Fatalf("expected list id and 6-char invite code, got %v", body)
	}
	if body["role"] != string(domain.RoleOwner) {
		t.Fatalf("creator must be owner, got %v", body["role"])
	}

	// a non-member sees the same 404 as a missing list
	resp, body = env.do(t, http.MethodGet, "/api/lists/"+listID, bobTok, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("non-member expected 404, got %d", resp.StatusCode)
	}
	nonMemberBody := body["error"]
	resp, body = env.do(t, http.MethodGet, "/api/lists/does-not-exist", bobTok, nil)
	if resp.StatusCode != http.StatusNotFound || body["error"] != nonMemberBody {
		t.Fatalf("missing list must be indistinguishable from denied access, got %d %v", resp.StatusCode, body)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/lists/join", bobTok, map[string]string{"inviteCode": "ZZZZZZ"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown invite code expected 404, got %d", resp.StatusCode)
	}

	resp, body = env.do(t, http.MethodPost, "/api/lists/join", bobTok, map[string]string{"inviteCode": inviteCode})
	if resp.StatusCode != http.StatusOK || body["id"] != listID {
		t.Fatalf("join expected 200 for list %s, got %d %v", listID, resp.StatusCode, body)
	}
	resp, _ = env.do(t, http.MethodPost, "/api/lists/join", bobTok, map[string]string{"inviteCode": inviteCode})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second join expected 409, got %d", resp.StatusCode)
	}

	resp, body = env.do(t, http.MethodGet, "/api/lists", bobTok, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("my lists expected 200, got %d", resp.StatusCode)
	}
	if count, _ := body["count"].(float64); count != 1 {
		t.Fatalf("expected 1 list for bob, got %v", body)
	}

	// member but not owner cannot delete, and the denial is masked
	resp, _ = env.do(t, http.MethodDelete, "/api/lists/"+listID, bobTok, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("non-owner delete expected 404, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodDelete, "/api/lists/"+listID, aliceTok, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("owner delete expected 204, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodGet, "/api/lists/"+listID, aliceTok, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted list expected 404, got %d", resp.StatusCode)
	}
}

func TestItemLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t, nil)
	aliceTok, aliceID := env.register(t, "Alice", "alice@example.com")

	_, body := env.do(t, http.MethodPost, "/api/lists", aliceTok, map[string]string{"name": "Groceries"})
	listID, _ := body["id"].(string)

	resp, body := env.do(t, http.MethodPost, "/api/lists/"+listID+"/items", aliceTok, map[string]any{
		"name": "Milk", "quantity": 2, "unit": "l",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add item expected 201, got %d %v", resp.StatusCode, body)
	}
	itemID, _ := body["id"].(string)
	if itemID == "" || body["quantity"].(float64) != 2 {
		t.Fatalf("unexpected item %v", body)
	}
	addedBy, _ := body["addedByUser"].(map[string]any)
	if addedBy["id"] != aliceID {
		t.Fatalf("expected hydrated addedByUser, got %v", body)
	}

	// omitted quantity defaults to one
	resp, body = env.do(t, http.MethodPost, "/api/lists/"+listID+"/items", aliceTok, map[string]any{"name": "Eggs"})
	if resp.StatusCode != http.StatusCreated || body["quantity"].(float64) != 1 {
		t.Fatalf("expected default quantity 1, got %d %v", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodPatch, "/api/lists/"+listID+"/items/"+itemID+"/toggle", aliceTok, nil)
	if resp.StatusCode != http.StatusOK || body["checked"] != true {
		t.Fatalf("toggle expected checked item, got %d %v", resp.StatusCode, body)
	}
	checkedBy, _ := body["checkedByUser"].(map[string]any)
	if checkedBy["id"] != aliceID {
		t.Fatalf("expected checkedByUser, got %v", body)
	}

	resp, body = env.do(t, http.MethodPut, "/api/lists/"+listID+"/items/"+itemID, aliceTok, map[string]any{
		"name": "Oat milk", "quantity": 3,
	})
	if resp.StatusCode != http.StatusOK || body["name"] != "Oat milk" || body["quantity"].(float64) != 3 {
		t.Fatalf("update expected changed fields, got %d %v", resp.StatusCode, body)
	}
	if body["checked"] != true {
		t.Fatalf("update must not clear untouched checked state, got %v", body)
	}

	resp, _ = env.do(t, http.MethodDelete, "/api/lists/"+listID+"/items/"+itemID, aliceTok, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete item expected 204, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodPatch, "/api/lists/"+listID+"/items/"+itemID+"/toggle", aliceTok, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("toggle of deleted item expected 404, got %d", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/lists/"+listID+"/items", aliceTok, map[string]any{"name": ""})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty item name expected 400, got %d", resp.StatusCode)
	}
}

func TestLoginRateLimited(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.LoginLimit = 2
	})
	env.register(t, "Alice", "alice@example.com")

	for i := 0; i < 2; i++ {
		resp, _ := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
			"email": "alice@example.com", "password": "wrong-password",
		})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d expected 401, got %d", i, resp.StatusCode)
		}
	}
	resp, _ := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "Str0ng#Pass1!",
	})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after limit, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestUnknownPathsAndMethods(t *testing.T) {
	env := newTestEnv(t, nil)
	tok, _ := env.register(t, "Alice", "alice@example.com")

	resp, _ := env.do(t, http.MethodGet, "/api/auth/register", "", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET register expected 405, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodGet, "/api/lists/a/b/c/d/e", tok, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown subtree path expected 404, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodPost, "/api/lists", "", map[string]string{"name": "x"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated create expected 401, got %d", resp.StatusCode)
	}
}
