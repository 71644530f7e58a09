package core

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"flui/internal/types"
)

// HeaderAccountID names the header carrying the account an upstream service
// acts for.
const HeaderAccountID = "X-Account-ID"

// authPublicPaths are exempt from service-key authentication. The Stripe
// webhook authenticates with its signature instead.
var authPublicPaths = map[string]bool{
	"/health":             true,
	"/metrics":            true,
	"/v1/webhooks/stripe": true,
}

// AuthMiddleware authenticates upstream services.
//
//  1. Extracts the Bearer token from the Authorization header.
//  2. Compares it in constant time with SERVICE_API_KEY.
//  3. Injects a service Actor carrying the X-Account-ID header value.
//
// Missing or wrong tokens get 401. Whether an account is required is decided
// per route by RequireAccount.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	expected := []byte(s.Config.Security.ServiceAPIKey.Unmask())

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authPublicPaths[r.URL.Path] || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Authorization header is required")
			return
		}

		token := extractBearerToken(authHeader)
		if token == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Bearer token is required")
			return
		}

		if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
			s.Logger.Warn("authentication failed: invalid service key",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
			)
			s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid authentication token")
			return
		}

		actor := types.Actor{
			ID:        "service",
			Type:      types.ActorTypeService,
			AccountID: strings.TrimSpace(r.Header.Get(HeaderAccountID)),
			Source:    r.Header.Get("User-Agent"),
		}
		next.ServeHTTP(w, r.WithContext(types.WithActor(r.Context(), actor)))
	})
}

// RequireAccount rejects requests whose Actor carries no account.
func (s *Server) RequireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := types.GetActor(r.Context())
		if !ok {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Authentication required")
			return
		}
		if actor.AccountID == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthAccountMissing, HeaderAccountID+" header is required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AccountID returns the account of the authenticated Actor.
func AccountID(r *http.Request) string {
	actor, _ := types.GetActor(r.Context())
	return actor.AccountID
}

// extractBearerToken returns the token of a "Bearer <token>" header, with a
// case-insensitive scheme per RFC 7235, or "" when malformed.
func extractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}

func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	resp := APIErrorResponse{
		Error: ErrorDetail{
			Code:      string(code),
			Message:   message,
			RequestID: types.GetRequestID(r.Context()),
		},
	}
	JSON(w, r, http.StatusUnauthorized, resp)
}
