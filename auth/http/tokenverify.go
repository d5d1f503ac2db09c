package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/vaultgate/auth/core"
)

// ContextKeyTokenClaims stores a verified bearer token's claims in the
// request context.
const ContextKeyTokenClaims contextKey = "token_claims"

// GetTokenClaims retrieves the verified bearer-token claims from the
// request context.
func GetTokenClaims(ctx context.Context) (*core.TokenClaims, bool) {
	claims, ok := ctx.Value(ContextKeyTokenClaims).(*core.TokenClaims)
	return claims, ok
}

// VerifyAccessToken composes C1's signature/issuer/expiry check with
// C2's revoked-jti hot set, so a revoked access token is rejected even
// while it is still within its signed exp. Neither tokens.Service nor
// sessions.Service does this alone: tokens doesn't consult revocation,
// and sessions holds the revoked-jti set but doesn't verify tokens.
// This is the one place both are in scope.
func VerifyAccessToken(ctx context.Context, tokens core.TokenService, sessions core.SessionService, tokenString string) (*core.TokenClaims, error) {
	claims, err := tokens.ValidateAccessToken(ctx, tokenString)
	if err != nil {
		return nil, err
	}

	revoked, err := sessions.IsJTIRevoked(ctx, claims.JWTID)
	if err != nil {
		return nil, core.NewError(core.ErrInternal, "check jti revocation", err)
	}
	if revoked {
		return nil, core.NewError(core.ErrRevoked, "access token revoked", nil)
	}

	return claims, nil
}

// BearerAuthMiddleware authenticates a request via "Authorization:
// Bearer <jwt>" through VerifyAccessToken, as an alternative to
// SessionMiddleware's cookie-based auth for API clients that hold a
// token directly (service-to-service calls, mobile clients). A missing
// or malformed header simply skips this middleware, same as
// APIKeyMiddleware; a present-but-invalid token is rejected outright.
type BearerAuthMiddleware struct {
	tokens   core.TokenService
	sessions core.SessionService
}

// NewBearerAuthMiddleware creates a new BearerAuthMiddleware.
func NewBearerAuthMiddleware(tokens core.TokenService, sessions core.SessionService) *BearerAuthMiddleware {
	return &BearerAuthMiddleware{tokens: tokens, sessions: sessions}
}

// Handler wraps an http.Handler with bearer-token verification.
func (m *BearerAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const prefix = "Bearer "
		header := r.Header.Get("Authorization")
		if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := VerifyAccessToken(r.Context(), m.tokens, m.sessions, header[len(prefix):])
		if err != nil {
			writeCoreError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), ContextKeyTokenClaims, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
