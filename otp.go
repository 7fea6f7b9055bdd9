package otpauth

import (
	"bytes"
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultOTPDigits = 6
	DefaultOTPTTL    = 10 * time.Minute

	minOTPDigits = 4
	maxOTPDigits = 9
)

// OTPResult is the outcome of comparing a submitted code with the stored one.
type OTPResult int

const (
	OTPOk OTPResult = iota
	OTPExpired
	OTPMismatch
)

func (r OTPResult) String() string {
	switch r {
	case OTPOk:
		return "ok"
	case OTPExpired:
		return "expired"
	case OTPMismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// OTPGenerator produces fixed width numeric codes with an expiry.
type OTPGenerator struct {
	digits int
	ttl    time.Duration
	now    Clock
	rand   io.Reader
}

// OTPGeneratorOption customizes an OTPGenerator.
type OTPGeneratorOption func(*OTPGenerator)

// WithOTPDigits sets the code width. Values outside 4..9 are ignored.
func WithOTPDigits(digits int) OTPGeneratorOption {
	return func(g *OTPGenerator) {
		if digits >= minOTPDigits && digits <= maxOTPDigits {
			g.digits = digits
		}
	}
}

// WithOTPTTL sets how long a code stays valid.
func WithOTPTTL(ttl time.Duration) OTPGeneratorOption {
	return func(g *OTPGenerator) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithOTPClock injects a custom clock (useful for tests).
func WithOTPClock(clock Clock) OTPGeneratorOption {
	return func(g *OTPGenerator) {
		if clock != nil {
			g.now = clock
		}
	}
}

// WithOTPRandReader overrides the entropy source.
func WithOTPRandReader(r io.Reader) OTPGeneratorOption {
	return func(g *OTPGenerator) {
		if r != nil {
			g.rand = r
		}
	}
}

// NewOTPGenerator returns a generator for 6 digit codes valid for 10 minutes.
func NewOTPGenerator(opts ...OTPGeneratorOption) *OTPGenerator {
	g := &OTPGenerator{
		digits: DefaultOTPDigits,
		ttl:    DefaultOTPTTL,
		now:    time.Now,
		rand:   rand.Reader,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Digits returns the configured code width.
func (g *OTPGenerator) Digits() int {
	return g.digits
}

// TTL returns the configured code lifetime.
func (g *OTPGenerator) TTL() time.Duration {
	return g.ttl
}

// Generate returns a zero padded code drawn uniformly from [0, 10^digits)
// and its expiry.
func (g *OTPGenerator) Generate() (string, time.Time, error) {
	limit := big.NewInt(pow10(g.digits))
	n, err := rand.Int(g.rand, limit)
	if err != nil {
		return "", time.Time{}, internalError(err, "failed to generate verification code")
	}

	code := fmt.Sprintf("%0*d", g.digits, n.Int64())
	return code, g.now().Add(g.ttl), nil
}

// Validate compares submitted against stored using the generator width.
func (g *OTPGenerator) Validate(submitted, stored string, expiresAt, now time.Time) OTPResult {
	return validateOTP(submitted, stored, expiresAt, now, g.digits)
}

// ValidateOTP checks a submitted code against the stored one. Expiry is
// evaluated first, so a correct code past its deadline is OTPExpired.
func ValidateOTP(submitted, stored string, expiresAt, now time.Time) OTPResult {
	return validateOTP(submitted, stored, expiresAt, now, DefaultOTPDigits)
}

func validateOTP(submitted, stored string, expiresAt, now time.Time, digits int) OTPResult {
	if !now.Before(expiresAt) {
		return OTPExpired
	}

	want, ok := NormalizeOTP(stored, digits)
	if !ok {
		return OTPMismatch
	}

	got, ok := NormalizeOTP(submitted, digits)
	if !ok {
		return OTPMismatch
	}

	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return OTPMismatch
	}

	return OTPOk
}

// NormalizeOTP trims the code and canonicalises leading zeros to digits
// width. Codes containing anything other than ASCII digits are rejected.
func NormalizeOTP(code string, digits int) (string, bool) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", false
	}

	for _, r := range code {
		if r < '0' || r > '9' {
			return "", false
		}
	}

	code = strings.TrimLeft(code, "0")
	if len(code) > digits {
		return "", false
	}

	return strings.Repeat("0", digits-len(code)) + code, true
}

// OTPCode accepts a code sent either as a JSON string or a JSON number.
type OTPCode string

// UnmarshalJSON implements json.Unmarshaler.
func (c *OTPCode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = OTPCode(s)
		return nil
	}

	n, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("otp code must be a string or a non negative integer: %w", err)
	}
	*c = OTPCode(strconv.FormatUint(n, 10))
	return nil
}

// String returns the raw code.
func (c OTPCode) String() string {
	return string(c)
}

func pow10(n int) int64 {
	out := int64(1)
	for i := 0; i < n; i++ {
		out *= 10
	}
	return out
}
