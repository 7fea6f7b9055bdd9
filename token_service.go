package otpauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is the lifetime of issued tokens when none is given.
const DefaultTokenTTL = time.Hour

// TokenService issues and verifies signed bearer tokens.
type TokenService interface {
	Issue(claims TokenClaims, ttl time.Duration) (string, time.Time, error)
	Verify(token string) (*JWTClaims, error)
}

// TokenServiceImpl implements TokenService with HS256 signatures
type TokenServiceImpl struct {
	signingKey []byte
	issuer     string
	defaultTTL time.Duration
	now        Clock
	logger     Logger
}

var _ TokenService = (*TokenServiceImpl)(nil)

// TokenServiceOption customizes a TokenServiceImpl.
type TokenServiceOption func(*TokenServiceImpl)

// WithTokenIssuer sets the iss claim and requires it on verification.
func WithTokenIssuer(issuer string) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		ts.issuer = issuer
	}
}

// WithTokenTTL sets the lifetime used when Issue receives no TTL.
func WithTokenTTL(ttl time.Duration) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		if ttl > 0 {
			ts.defaultTTL = ttl
		}
	}
}

// WithTokenClock injects a custom clock (useful for tests).
func WithTokenClock(clock Clock) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		if clock != nil {
			ts.now = clock
		}
	}
}

// WithTokenLogger overrides the logger.
func WithTokenLogger(logger Logger) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		if logger != nil {
			ts.logger = logger
		}
	}
}

// NewTokenService creates a new TokenService instance
func NewTokenService(signingKey []byte, opts ...TokenServiceOption) *TokenServiceImpl {
	ts := &TokenServiceImpl{
		signingKey: signingKey,
		defaultTTL: DefaultTokenTTL,
		now:        time.Now,
		logger:     defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}
	return ts
}

// Issue signs a token for claims valid for ttl, or the default TTL when ttl
// is not positive.
func (ts *TokenServiceImpl) Issue(claims TokenClaims, ttl time.Duration) (string, time.Time, error) {
	if claims.Subject == "" {
		return "", time.Time{}, internalError(errors.New("empty subject"), "failed to issue token")
	}

	if ttl <= 0 {
		ttl = ts.defaultTTL
	}

	now := ts.now()
	expiresAt := now.Add(ttl)

	jwtClaims := &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   claims.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UID:      claims.Subject,
		UserRole: string(claims.Role),
	}
	ensureTokenID(&jwtClaims.RegisteredClaims)

	signed, err := ts.SignClaims(jwtClaims)
	if err != nil {
		return "", time.Time{}, err
	}

	// the exp claim has second precision
	return signed, jwtClaims.Expires(), nil
}

// SignClaims signs arbitrary JWT claims using the configured signing key.
func (ts *TokenServiceImpl) SignClaims(claims *JWTClaims) (string, error) {
	if claims == nil {
		return "", internalError(errors.New("claims must not be nil"), "failed to sign JWT")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedString, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", internalError(err, "failed to sign JWT")
	}

	return signedString, nil
}

// Verify checks the signature and then the expiry. Tampered and malformed
// tokens both yield ErrTokenInvalid.
func (ts *TokenServiceImpl) Verify(tokenString string) (*JWTClaims, error) {
	if tokenString == "" {
		return nil, ErrTokenInvalid
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(ts.now),
		jwt.WithExpirationRequired(),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Warn("token verify encountered unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		ts.logger.Debug("token verify failed", "error", err)
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
