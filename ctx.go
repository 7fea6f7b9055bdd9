package otpauth

import (
	"context"

	"github.com/goliatone/go-router"

	"github.com/goliatone/go-auth-otp/middleware/jwtware"
)

// DefaultContextKey is the router locals key holding verified claims.
const DefaultContextKey = "user"

var claimsCtxKey = &contextKey{"claims"}

type contextKey struct {
	name string
}

// WithClaimsContext sets the claims in the given context
func WithClaimsContext(r context.Context, claims *JWTClaims) context.Context {
	return context.WithValue(r, claimsCtxKey, claims)
}

// GetClaims extracts the claims from the standard context
func GetClaims(ctx context.Context) (*JWTClaims, bool) {
	raw, ok := ctx.Value(claimsCtxKey).(*JWTClaims)
	return raw, ok && raw != nil
}

// GetRouterClaims extracts the claims from the router context
func GetRouterClaims(ctx router.Context, key string) (*JWTClaims, bool) {
	if key == "" {
		key = DefaultContextKey
	}
	raw := ctx.Locals(key)
	if raw == nil {
		return nil, false
	}
	claims, ok := raw.(*JWTClaims)
	return claims, ok && claims != nil
}

// ActorFromClaims returns the activity actor for a verified token.
func ActorFromClaims(claims *JWTClaims) ActorRef {
	if claims == nil {
		return ActorRef{Type: "system"}
	}
	actorType := "user"
	if UserRole(claims.Role()).IsAdmin() {
		actorType = "admin"
	}
	return ActorRef{ID: claims.UserID(), Type: actorType}
}

// ContextEnricherAdapter stores verified claims in the standard context so
// command handlers can read them.
func ContextEnricherAdapter(c context.Context, claims jwtware.AuthClaims) context.Context {
	jwtClaims, ok := claims.(*JWTClaims)
	if !ok {
		return c
	}
	return WithClaimsContext(c, jwtClaims)
}

// TokenValidatorAdapter exposes a TokenService to the bearer middleware.
func TokenValidatorAdapter(tokens TokenService) jwtware.TokenValidator {
	return jwtware.TokenValidatorFunc(func(raw string) (jwtware.AuthClaims, error) {
		claims, err := tokens.Verify(raw)
		if err != nil {
			return nil, err
		}
		return claims, nil
	})
}
