package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	royalty "royalty-cloud/internal/royalty/domain"
)

func newTestHandler(t *testing.T, secret []byte) (http.Handler, *Identity) {
	t.Helper()
	seen := &Identity{}
	mw := NewMiddleware(secret, NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil))
	return mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})), seen
}

func TestAuthMiddleware_NoToken(t *testing.T) {
	handler, _ := newTestHandler(t, []byte("test-secret"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/statements", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestAuthMiddleware_ExemptPath(t *testing.T) {
	handler, _ := newTestHandler(t, []byte("test-secret"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestAuthMiddleware_RoleMatrix(t *testing.T) {
	secret := []byte("test-secret")
	handler, seen := newTestHandler(t, secret)

	cases := []struct {
		role   Role
		method string
		path   string
		want   int
	}{
		{RoleViewer, http.MethodGet, "/api/v1/statements", http.StatusOK},
		{RoleViewer, http.MethodGet, "/api/v1/statements/stmt-1", http.StatusOK},
		{RoleViewer, http.MethodPost, "/api/v1/statements/generate", http.StatusForbidden},
		{RoleOperator, http.MethodPost, "/api/v1/statements/generate", http.StatusOK},
		{RoleOperator, http.MethodPost, "/api/v1/calculate", http.StatusOK},
		{RoleOperator, http.MethodPost, "/api/v1/statements/stmt-1/finalize", http.StatusForbidden},
		{RoleOperator, http.MethodGet, "/api/v1/statements/stmt-1/export.pdf", http.StatusForbidden},
		{RoleAdmin, http.MethodPost, "/api/v1/statements/stmt-1/finalize", http.StatusOK},
		{RoleAdmin, http.MethodPost, "/api/v1/statements/stmt-1/void", http.StatusOK},
		{RoleAdmin, http.MethodGet, "/api/v1/statements/stmt-1/export.xlsx", http.StatusOK},
	}
	for _, tc := range cases {
		token, err := IssueJWT(secret, "tenant-a", tc.role, "user-1", time.Hour)
		if err != nil {
			t.Fatalf("issue token: %v", err)
		}
		req := httptest.NewRequest(tc.method, tc.path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != tc.want {
			t.Fatalf("%s %s %s: expected %d, got %d", tc.role, tc.method, tc.path, tc.want, resp.Code)
		}
		if tc.want == http.StatusOK && (seen.TenantID != "tenant-a" || seen.Role != tc.role || seen.Subject != "user-1") {
			t.Fatalf("identity not propagated: %+v", *seen)
		}
	}
}

func TestParseJWT_Rejects(t *testing.T) {
	secret := []byte("test-secret")
	expired, err := IssueJWT(secret, "tenant-a", RoleAdmin, "user-1", -time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := ParseJWT(expired, secret); err == nil {
		t.Fatalf("expected expired token to fail")
	}
	valid, err := IssueJWT(secret, "tenant-a", RoleAdmin, "user-1", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := ParseJWT(valid, []byte("other-secret")); err == nil {
		t.Fatalf("expected signature mismatch to fail")
	}
	if _, err := IssueJWT(secret, "tenant-a", Role("root"), "user-1", time.Hour); err == nil {
		t.Fatalf("expected unknown role to fail")
	}
}

type stubContracts map[string]*royalty.Contract

func (s stubContracts) GetContract(_ context.Context, tenantID, contractID string) (*royalty.Contract, error) {
	c, ok := s[contractID]
	if !ok || c.TenantID != tenantID {
		return nil, royalty.ErrContractNotFound
	}
	return c, nil
}

func TestContractChecker(t *testing.T) {
	checker := NewContractChecker(stubContracts{"contract-1": {ID: "contract-1", TenantID: "tenant-a"}})
	ctx := context.Background()
	if err := checker.EnsureContractTenant(ctx, "tenant-a", "contract-1"); err != nil {
		t.Fatalf("owner check: %v", err)
	}
	if err := checker.EnsureContractTenant(ctx, "tenant-b", "contract-1"); err != ErrTenantMismatch {
		t.Fatalf("expected tenant mismatch, got %v", err)
	}
	var nilChecker *ContractChecker
	if err := nilChecker.EnsureContractTenant(ctx, "tenant-b", "contract-1"); err != nil {
		t.Fatalf("nil checker should allow: %v", err)
	}
}

func TestPolicy_ExemptPrefixAndDefaults(t *testing.T) {
	policy := NewDefaultPolicy(nil, []string{"/debug/"})
	cases := []struct {
		method string
		path   string
		role   Role
		ok     bool
	}{
		{http.MethodGet, "/debug/pprof", "", false},
		{http.MethodGet, "/static/app.js", "", false},
		{http.MethodGet, "/api/v1/payees", RoleViewer, true},
		{http.MethodDelete, "/api/v1/payees/p-1", RoleAdmin, true},
		{http.MethodGet, "/api/v1/statements/stmt-1/verify", RoleViewer, true},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		role, ok := policy.RequiredRole(req)
		if role != tc.role || ok != tc.ok {
			t.Fatalf("%s %s: got (%q, %v), want (%q, %v)", tc.method, tc.path, role, ok, tc.role, tc.ok)
		}
	}
	if !policy.IsExempt(httptest.NewRequest(http.MethodGet, "/debug/vars", nil)) {
		t.Fatalf("expected /debug/ prefix to be exempt")
	}
}

func TestAuthMiddleware_UnauthorizedBody(t *testing.T) {
	handler, _ := newTestHandler(t, []byte("test-secret"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/statements/generate", nil)
	req.Header.Set("Authorization", "Basic abc")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized || resp.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("expected bearer challenge, got %d %v", resp.Code, resp.Header())
	}
}
