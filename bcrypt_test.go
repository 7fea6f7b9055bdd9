package otpauth_test

import (
	"strings"
	"testing"

	otpauth "github.com/goliatone/go-auth-otp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasher_Hash(t *testing.T) {
	hasher := otpauth.NewBcryptHasher(bcrypt.MinCost)

	tests := []struct {
		name     string
		password string
		textCode string
	}{
		{
			name:     "Valid password",
			password: "securePassword123!",
		},
		{
			name:     "Exactly 72 bytes",
			password: strings.Repeat("a", 72),
		},
		{
			name:     "Empty password",
			password: "",
			textCode: otpauth.TextCodeEmptyPassword,
		},
		{
			name:     "Above 72 bytes",
			password: strings.Repeat("a", 73),
			textCode: otpauth.TextCodeInputTooLarge,
		},
		{
			name:     "Invalid UTF-8",
			password: "abc\xff\xfe",
			textCode: otpauth.TextCodeInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := hasher.Hash(tt.password)

			if tt.textCode != "" {
				require.Error(t, err)
				assert.True(t, otpauth.HasTextCode(err, tt.textCode))
				assert.Empty(t, hash)
				return
			}

			require.NoError(t, err)
			assert.NotEmpty(t, hash)
			assert.NotContains(t, hash, tt.password)
			assert.True(t, hasher.Verify(tt.password, hash))
		})
	}
}

func TestBcryptHasher_SaltedPerCall(t *testing.T) {
	hasher := otpauth.NewBcryptHasher(bcrypt.MinCost)

	h1, err := hasher.Hash("correct horse")
	require.NoError(t, err)
	h2, err := hasher.Hash("correct horse")
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
	assert.True(t, hasher.Verify("correct horse", h1))
	assert.True(t, hasher.Verify("correct horse", h2))
}

func TestBcryptHasher_Verify(t *testing.T) {
	hasher := otpauth.NewBcryptHasher(bcrypt.MinCost)
	password := "testPassword123!"
	hash, err := hasher.Hash(password)
	require.NoError(t, err)

	tests := []struct {
		name     string
		password string
		hash     string
		want     bool
	}{
		{name: "Matching password", password: password, hash: hash, want: true},
		{name: "Wrong password", password: "wrongPassword", hash: hash, want: false},
		{name: "Invalid hash", password: password, hash: "invalidhash", want: false},
		{name: "Empty hash", password: password, hash: "", want: false},
		{name: "Empty password", password: "", hash: hash, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hasher.Verify(tt.password, tt.hash))
		})
	}
}

func TestBcryptHasher_VerifyRejectsInputBeyondLimit(t *testing.T) {
	hasher := otpauth.NewBcryptHasher(bcrypt.MinCost)
	password := strings.Repeat("m", 72)
	hash, err := hasher.Hash(password)
	require.NoError(t, err)

	assert.True(t, hasher.Verify(password, hash))
	assert.False(t, hasher.Verify(password+"x", hash), "same 72 byte prefix must not match")
	assert.False(t, hasher.Verify(password+"anything-else", hash))
	assert.False(t, hasher.Verify(string([]byte{0xff, 0xfe}), hash))
}

func TestNewBcryptHasher_InvalidCostFallsBack(t *testing.T) {
	hasher := otpauth.NewBcryptHasher(0)
	assert.GreaterOrEqual(t, hasher.Cost(), bcrypt.DefaultCost)

	hasher = otpauth.NewBcryptHasher(bcrypt.MaxCost + 1)
	assert.GreaterOrEqual(t, hasher.Cost(), bcrypt.DefaultCost)
	assert.LessOrEqual(t, hasher.Cost(), bcrypt.MaxCost)
}
