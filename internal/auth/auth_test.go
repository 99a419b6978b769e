package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func newTestService(t *testing.T, password string) *Service {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return NewService("test-secret", "admin", string(hash))
}

func TestIssueAndParse(t *testing.T) {
	s := newTestService(t, "pw")
	tok, err := s.IssueJWT("admin", "admin")
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}
	claims, err := s.Parse(tok)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Sub != "admin" || claims.Role != "admin" {
		t.Errorf("claims = %+v", claims)
	}
	if claims.Issuer != "zipgrade-pipeline" {
		t.Errorf("issuer = %q", claims.Issuer)
	}

	// A token signed under a different secret must not parse.
	other := NewService("other-secret", "admin", "")
	if _, err := other.Parse(tok); err == nil {
		t.Error("foreign token accepted")
	}
}

func TestLoginHandler(t *testing.T) {
	s := newTestService(t, "correcthorse")
	h := LoginHandler(s)

	do := func(body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
		h(w, r)
		return w
	}

	w := do(`{"username":"admin","password":"correcthorse"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d", w.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["access_token"] == "" {
		t.Fatal("no access token")
	}
	if _, err := s.Parse(resp["access_token"]); err != nil {
		t.Errorf("issued token does not parse: %v", err)
	}

	if w := do(`{"username":"admin","password":"wrong"}`); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong password status = %d", w.Code)
	}
	if w := do(`{"username":"root","password":"correcthorse"}`); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong user status = %d", w.Code)
	}
	if w := do(`not json`); w.Code != http.StatusBadRequest {
		t.Errorf("bad json status = %d", w.Code)
	}
}

func TestJWTMiddleware(t *testing.T) {
	s := newTestService(t, "pw")
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mw := JWTMiddleware(s)(next)

	w := httptest.NewRecorder()
	mw.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no header status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer garbage")
	mw.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad token status = %d", w.Code)
	}

	tok, err := s.IssueJWT("admin", "admin")
	if err != nil {
		t.Fatal(err)
	}
	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+tok)
	mw.ServeHTTP(w, r)
	if w.Code != http.StatusNoContent {
		t.Errorf("valid token status = %d", w.Code)
	}
}
