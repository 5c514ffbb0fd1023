package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const testSecret = "test-secret"

func authed(t *testing.T, h http.Handler, header string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/v1/credits", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthJWT(t *testing.T) {
	var gotAccount, gotRole string
	h := AuthJWT(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccount = AccountIDFromContext(r.Context())
		gotRole = RoleFromContext(r.Context())
	}))

	token, err := SignToken(testSecret, "acct-7", RoleAdmin, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if rec := authed(t, h, "Bearer "+token); rec.Code != http.StatusOK {
		t.Fatalf("valid token: status %d", rec.Code)
	}
	if gotAccount != "acct-7" || gotRole != RoleAdmin {
		t.Fatalf("principal = %q/%q", gotAccount, gotRole)
	}

	expired, _ := SignToken(testSecret, "acct-7", "", -time.Minute)
	forged, _ := SignToken("other-secret", "acct-7", "", time.Hour)
	noSubject, _ := SignToken(testSecret, "", "", time.Hour)
	for name, header := range map[string]string{
		"missing":    "",
		"scheme":     "Basic abc",
		"garbage":    "Bearer not.a.token",
		"expired":    "Bearer " + expired,
		"forged":     "Bearer " + forged,
		"no subject": "Bearer " + noSubject,
	} {
		t.Run(name, func(t *testing.T) {
			if rec := authed(t, h, header); rec.Code != http.StatusUnauthorized {
				t.Fatalf("status %d, want 401", rec.Code)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	h := RequireRole(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/accounts/a/credits", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req.WithContext(ContextWithAccount(req.Context(), "acct-1", "")))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status %d, want 403", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req.WithContext(ContextWithAccount(req.Context(), "ops", RoleAdmin)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}
}
