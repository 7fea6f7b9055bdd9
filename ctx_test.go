package otpauth_test

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	otpauth "github.com/goliatone/go-auth-otp"
	"github.com/goliatone/go-auth-otp/middleware/jwtware"
)

func userClaims(id string, role otpauth.UserRole) *otpauth.JWTClaims {
	return &otpauth.JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: id},
		UserRole:         string(role),
	}
}

func TestClaimsContext(t *testing.T) {
	_, ok := otpauth.GetClaims(context.Background())
	assert.False(t, ok)

	_, ok = otpauth.GetClaims(otpauth.WithClaimsContext(context.Background(), nil))
	assert.False(t, ok, "nil claims are not reported")

	claims := userClaims("user-1", otpauth.RoleUser)
	got, ok := otpauth.GetClaims(otpauth.WithClaimsContext(context.Background(), claims))
	require.True(t, ok)
	assert.Same(t, claims, got)
}

func TestActorFromClaims(t *testing.T) {
	assert.Equal(t, otpauth.ActorRef{Type: "system"}, otpauth.ActorFromClaims(nil))
	assert.Equal(t, otpauth.ActorRef{ID: "user-1", Type: "user"}, otpauth.ActorFromClaims(userClaims("user-1", otpauth.RoleUser)))
	assert.Equal(t, otpauth.ActorRef{ID: "admin", Type: "admin"}, otpauth.ActorFromClaims(userClaims("admin", otpauth.RoleAdmin)))
}

type foreignClaims struct{}

var _ jwtware.AuthClaims = foreignClaims{}

func (foreignClaims) Subject() string       { return "x" }
func (foreignClaims) UserID() string        { return "x" }
func (foreignClaims) Role() string          { return "user" }
func (foreignClaims) HasRole(string) bool   { return false }
func (foreignClaims) IsAtLeast(string) bool { return false }

func TestContextEnricherAdapter(t *testing.T) {
	claims := userClaims("user-2", otpauth.RoleUser)
	ctx := otpauth.ContextEnricherAdapter(context.Background(), claims)
	got, ok := otpauth.GetClaims(ctx)
	require.True(t, ok)
	assert.Equal(t, "user-2", got.UserID())

	base := context.Background()
	assert.Equal(t, base, otpauth.ContextEnricherAdapter(base, foreignClaims{}))
}

func TestTokenValidatorAdapter(t *testing.T) {
	tokens := otpauth.NewTokenService(testSigningKey)
	token, _, err := tokens.Issue(otpauth.TokenClaims{Subject: "user-3", Role: otpauth.RoleAdmin}, 0)
	require.NoError(t, err)

	validator := otpauth.TokenValidatorAdapter(tokens)

	claims, err := validator.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-3", claims.UserID())
	assert.True(t, claims.IsAtLeast(string(otpauth.RoleUser)))

	claims, err = validator.Validate(token + "x")
	assert.Error(t, err)
	assert.Nil(t, claims, "no typed nil on failure")
}

func TestGetRouterClaims(t *testing.T) {
	claims := userClaims("user-4", otpauth.RoleUser)

	srv := router.NewFiberAdapter(func(_ *fiber.App) *fiber.App {
		return fiber.New(fiber.Config{DisableStartupMessage: true})
	})
	set := func(key string, value any) router.MiddlewareFunc {
		return func(next router.HandlerFunc) router.HandlerFunc {
			return func(c router.Context) error {
				c.Locals(key, value)
				return next(c)
			}
		}
	}
	read := func(key string) router.HandlerFunc {
		return func(c router.Context) error {
			got, ok := otpauth.GetRouterClaims(c, key)
			if !ok {
				return c.Status(404).SendString("none")
			}
			return c.SendString(got.UserID())
		}
	}

	r := srv.Router()
	r.Get("/default", read(""), set(otpauth.DefaultContextKey, claims))
	r.Get("/custom", read("principal"), set("principal", claims))
	r.Get("/missing", read(""))
	r.Get("/wrong-type", read(""), set(otpauth.DefaultContextKey, "not claims"))

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{"/default", 200, "user-4"},
		{"/custom", 200, "user-4"},
		{"/missing", 404, "none"},
		{"/wrong-type", 404, "none"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := srv.WrappedRouter().Test(httptest.NewRequest("GET", tt.path, nil))
			require.NoError(t, err)
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.body, string(body))
		})
	}
}
