package core

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"flui/internal/types"
)

func newAuthServer(t *testing.T) *Server {
	t.Helper()
	srv, err := NewServer(testConfig(), discardLogger())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}

func decodeAuthError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var resp APIErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp.Error
}

func TestAuthMiddleware_ValidKey_InjectsActor(t *testing.T) {
	srv := newAuthServer(t)

	var got types.Actor
	var ok bool
	handler := srv.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = types.GetActor(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := authedRequest(http.MethodPost, "/v1/access/check", " acct_123 ")
	req.Header.Set("User-Agent", "pulse-worker")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !ok {
		t.Fatal("expected actor in context")
	}
	if got.ID != "service" || got.Type != types.ActorTypeService {
		t.Errorf("unexpected actor identity %+v", got)
	}
	if got.AccountID != "acct_123" {
		t.Errorf("expected trimmed account id, got %q", got.AccountID)
	}
	if got.Source != "pulse-worker" {
		t.Errorf("expected source from User-Agent, got %q", got.Source)
	}
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		header string
		code   types.ErrorCode
	}{
		{"missing header", "", types.ErrCodeAuthTokenMissing},
		{"empty bearer", "Bearer ", types.ErrCodeAuthTokenMissing},
		{"basic scheme", "Basic dXNlcjpwYXNz", types.ErrCodeAuthTokenMissing},
		{"wrong key", "Bearer svc_wrong", types.ErrCodeAuthTokenInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newAuthServer(t)
			called := false
			handler := srv.AuthMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

			req := httptest.NewRequest(http.MethodGet, "/v1/usage", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			req = req.WithContext(types.WithRequestID(req.Context(), "req-auth"))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if called {
				t.Error("next handler must not run")
			}
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected JSON response, got %q", ct)
			}
			detail := decodeAuthError(t, rec)
			if detail.Code != string(tt.code) {
				t.Errorf("expected code %s, got %s", tt.code, detail.Code)
			}
			if detail.RequestID != "req-auth" {
				t.Errorf("expected request id to be preserved, got %q", detail.RequestID)
			}
		})
	}
}

func TestAuthMiddleware_EmptyConfiguredKeyRejectsEverything(t *testing.T) {
	cfg := testConfig()
	cfg.Security.ServiceAPIKey = ""
	srv, _ := NewServer(cfg, discardLogger())

	handler := srv.AuthMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("next handler must not run")
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/usage", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthMiddleware_PublicPathsSkipAuth(t *testing.T) {
	for _, path := range []string{"/health", "/metrics", "/v1/webhooks/stripe"} {
		t.Run(path, func(t *testing.T) {
			srv := newAuthServer(t)
			handler := srv.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))

			if rec.Code != http.StatusOK {
				t.Errorf("expected public path to pass, got %d", rec.Code)
			}
		})
	}
}

func TestRequireAccount(t *testing.T) {
	tests := []struct {
		name     string
		actor    *types.Actor
		wantCode int
		errCode  types.ErrorCode
	}{
		{"no actor", nil, http.StatusUnauthorized, types.ErrCodeAuthTokenMissing},
		{"no account", &types.Actor{ID: "service", Type: types.ActorTypeService}, http.StatusUnauthorized, types.ErrCodeAuthAccountMissing},
		{"account present", &types.Actor{ID: "service", Type: types.ActorTypeService, AccountID: "acct_9"}, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newAuthServer(t)
			var seen string
			handler := srv.RequireAccount(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = AccountID(r)
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/v1/usage", nil)
			if tt.actor != nil {
				req = req.WithContext(types.WithActor(req.Context(), *tt.actor))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			if tt.errCode != "" {
				if got := decodeAuthError(t, rec).Code; got != string(tt.errCode) {
					t.Errorf("expected code %s, got %s", tt.errCode, got)
				}
				return
			}
			if seen != "acct_9" {
				t.Errorf("expected AccountID helper to return acct_9, got %q", seen)
			}
		})
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer svc_abc", "svc_abc"},
		{"bearer svc_abc", "svc_abc"},
		{"BEARER svc_abc", "svc_abc"},
		{"Bearer   svc_abc  ", "svc_abc"},
		{"Bearer ", ""},
		{"Bearer", ""},
		{"Token svc_abc", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := extractBearerToken(tt.header); got != tt.want {
			t.Errorf("extractBearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}
