package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func protectedProbe(t *testing.T, hit *bool) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			t.Fatal("expected claims in request context")
		}
		if claims.AccountID != 7 {
			t.Fatalf("expected account 7 in claims, got %d", claims.AccountID)
		}
		*hit = true
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestMiddleware_ValidAccessToken(t *testing.T) {
	now := time.Now().UTC()
	codec := testCodec(t, now)
	codec.now = time.Now

	token, err := codec.IssueAccessToken(NewPrincipal(activeAccount("ADMIN")), now)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	var hit bool
	handler := Middleware(codec, protectedProbe(t, &hit))

	req := httptest.NewRequest(http.MethodGet, "/auth/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent || !hit {
		t.Fatalf("expected 204 and handler hit, got %d hit=%v", rec.Code, hit)
	}
}

func TestMiddleware_Rejections(t *testing.T) {
	now := time.Now().UTC()
	codec := testCodec(t, now)
	codec.now = time.Now

	principal := NewPrincipal(activeAccount("ADMIN"))
	refresh, err := codec.IssueRefreshToken(principal, now)
	if err != nil {
		t.Fatalf("IssueRefreshToken: %v", err)
	}

	expiredCodec := testCodec(t, now.Add(-24*time.Hour))
	expired, err := expiredCodec.IssueAccessToken(principal, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic dXNlcjpwYXNz"},
		{"garbage token", "Bearer not-a-token"},
		{"refresh token", "Bearer " + refresh},
		{"expired token", "Bearer " + expired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := Middleware(codec, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatal("protected handler must not run")
			}))

			req := httptest.NewRequest(http.MethodGet, "/auth/sessions", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	now := time.Now().UTC()
	codec := testCodec(t, now)
	codec.now = time.Now

	adminToken, err := codec.IssueAccessToken(NewPrincipal(activeAccount("ADMIN")), now)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	viewerToken, err := codec.IssueAccessToken(NewPrincipal(activeAccount("VIEWER")), now)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	var hit bool
	handler := Middleware(codec, RequireRole("ADMIN", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		w.WriteHeader(http.StatusNoContent)
	})))

	req := httptest.NewRequest(http.MethodPost, "/admin/accounts/unlock", nil)
	req.Header.Set("Authorization", "Bearer "+viewerToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden || hit {
		t.Fatalf("expected 403 without role, got %d hit=%v", rec.Code, hit)
	}

	req = httptest.NewRequest(http.MethodPost, "/admin/accounts/unlock", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || !hit {
		t.Fatalf("expected 204 with role, got %d hit=%v", rec.Code, hit)
	}
}

func TestRequireRole_WithoutMiddleware(t *testing.T) {
	handler := RequireRole("ADMIN", http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("protected handler must not run")
	}))

	req := httptest.NewRequest(http.MethodPost, "/admin/accounts/unlock", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
