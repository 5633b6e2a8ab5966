package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func okHandler(t *testing.T, wantSubject string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := GetClaims(r.Context())
		if claims == nil {
			t.Error("claims missing from context")
		} else if claims.Subject != wantSubject {
			t.Errorf("subject = %q, want %q", claims.Subject, wantSubject)
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestMiddlewareAcceptsIssuedToken(t *testing.T) {
	a := New("test-secret")
	token, exp, err := a.IssueToken("alice", time.Hour, false)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Errorf("expiry %v is in the past", exp)
	}

	req := httptest.NewRequest(http.MethodPut, "/api/v1/files/a.txt", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	a.Middleware(okHandler(t, "alice")).ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
}

func TestMiddlewareQueryToken(t *testing.T) {
	a := New("test-secret")
	token, _, _ := a.IssueToken("bob", 0, false)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events?token="+token, nil)
	w := httptest.NewRecorder()
	a.Middleware(okHandler(t, "bob")).ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
}

func TestMiddlewareRejects(t *testing.T) {
	a := New("test-secret")
	other := New("other-secret")
	foreign, _, _ := other.IssueToken("mallory", time.Hour, false)

	expired := New("test-secret")
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, _, _ := expired.IssueToken("carol", time.Hour, false)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"garbage", "Bearer not-a-token"},
		{"wrong secret", "Bearer " + foreign},
		{"expired", "Bearer " + stale},
		{"alg none", "Bearer " + unsigned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/tree", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Error("handler should not run")
			})).ServeHTTP(w, req)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
		})
	}
}

func TestMiddlewareReadOnly(t *testing.T) {
	a := New("test-secret")
	token, _, _ := a.IssueToken("viewer", time.Hour, true)

	get := httptest.NewRequest(http.MethodGet, "/api/v1/tree", nil)
	get.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	a.Middleware(okHandler(t, "viewer")).ServeHTTP(w, get)
	if w.Code != http.StatusNoContent {
		t.Errorf("GET status = %d, want 204", w.Code)
	}

	del := httptest.NewRequest(http.MethodDelete, "/api/v1/files", nil)
	del.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	a.Middleware(okHandler(t, "viewer")).ServeHTTP(w, del)
	if w.Code != http.StatusForbidden {
		t.Errorf("DELETE status = %d, want 403", w.Code)
	}
}

func TestIssueTokenRequiresSubject(t *testing.T) {
	if _, _, err := New("s").IssueToken("", time.Hour, false); err == nil {
		t.Error("expected error for empty subject")
	}
}
