package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/joho/godotenv"

	otpauth "github.com/goliatone/go-auth-otp"
)

const redacted = "********"

// SMTP holds the notifier credentials. An empty host selects the log notifier.
type SMTP struct {
	Host               string `env:"HOST"`
	Port               int    `env:"PORT" envDefault:"587"`
	Username           string `env:"USERNAME"`
	Password           string `env:"PASSWORD"`
	From               string `env:"FROM"`
	FromName           string `env:"FROM_NAME" envDefault:"OTP Auth"`
	Subject            string `env:"SUBJECT"`
	InsecureSkipVerify bool   `env:"INSECURE_SKIP_VERIFY"`
}

// Config is loaded from the environment, optionally seeded from .env files.
type Config struct {
	SigningKey       string        `env:"JWT_SECRET,required"`
	Issuer           string        `env:"JWT_ISSUER" envDefault:"otpauth"`
	TokenTTL         time.Duration `env:"TOKEN_TTL" envDefault:"1h"`
	OTPTTL           time.Duration `env:"OTP_TTL" envDefault:"10m"`
	OTPDigits        int           `env:"OTP_DIGITS" envDefault:"6"`
	Port             string        `env:"PORT" envDefault:"8080"`
	StorageURI       string        `env:"STORAGE_URI" envDefault:"file:otpauth.db"`
	RedisURL         string        `env:"REDIS_URL"`
	RedisPrefix      string        `env:"REDIS_PREFIX" envDefault:"otpauth:pending:"`
	SMTP             SMTP          `envPrefix:"SMTP_"`
	AdminEmail       string        `env:"ADMIN_EMAIL"`
	AdminPassword    string        `env:"ADMIN_PASSWORD"`
	OperationTimeout time.Duration `env:"OP_TIMEOUT" envDefault:"5s"`
	SweepInterval    time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	VerifyBurst      int           `env:"VERIFY_BURST" envDefault:"5"`
	VerifyRefill     time.Duration `env:"VERIFY_REFILL" envDefault:"1m"`
	ExposeOTPErrors  bool          `env:"EXPOSE_OTP_ERRORS"`
	MetricsAddr      string        `env:"METRICS_ADDR" envDefault:":9090"`
	BcryptCost       int           `env:"BCRYPT_COST"`
	ContextKey       string        `env:"CONTEXT_KEY" envDefault:"user"`
	AuthScheme       string        `env:"AUTH_SCHEME" envDefault:"Bearer"`
	Debug            bool          `env:"DEBUG"`
}

var _ otpauth.Config = Config{}

// Load reads the given .env files (".env" when none), skipping missing
// ones, then parses and validates the environment. Variables already set
// in the process win over file values.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, file := range files {
		if _, err := os.Stat(file); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", file, err)
		}
	}

	return Parse(env.Options{})
}

// Parse reads the configuration from opts. Tests pass Environment to avoid
// touching the process environment.
func Parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges the environment parser cannot express.
func (c Config) Validate() error {
	if err := goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&c,
			validation.Field(&c.SigningKey, validation.Required, validation.Length(16, 0)),
			validation.Field(&c.TokenTTL, validation.Min(time.Minute)),
			validation.Field(&c.OTPTTL, validation.Min(time.Minute)),
			validation.Field(&c.OTPDigits, validation.Min(4), validation.Max(9)),
			validation.Field(&c.Port, validation.Required, is.Port),
			validation.Field(&c.StorageURI, validation.Required),
			validation.Field(&c.AdminEmail, is.EmailFormat, validation.When(c.AdminPassword != "", validation.Required)),
			validation.Field(&c.AdminPassword, validation.When(c.AdminEmail != "", validation.Required, validation.Length(8, 0))),
			validation.Field(&c.OperationTimeout, validation.Min(100*time.Millisecond)),
			validation.Field(&c.SweepInterval, validation.Min(time.Second)),
			validation.Field(&c.VerifyBurst, validation.Min(1)),
			validation.Field(&c.VerifyRefill, validation.Min(time.Second)),
			validation.Field(&c.BcryptCost, validation.When(c.BcryptCost != 0, validation.Min(4), validation.Max(31))),
		)
	}, "invalid configuration"); err != nil {
		return err
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	out := c
	for _, secret := range []*string{&out.SigningKey, &out.AdminPassword, &out.SMTP.Password} {
		if *secret != "" {
			*secret = redacted
		}
	}
	return out
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return ":" + c.Port
}

// SMTPConfig maps the notifier settings. ok is false when no relay is set.
func (c Config) SMTPConfig() (cfg otpauth.SMTPConfig, ok bool) {
	if c.SMTP.Host == "" {
		return otpauth.SMTPConfig{}, false
	}
	return otpauth.SMTPConfig{
		Host:               c.SMTP.Host,
		Port:               c.SMTP.Port,
		Username:           c.SMTP.Username,
		Password:           c.SMTP.Password,
		From:               c.SMTP.From,
		FromName:           c.SMTP.FromName,
		Subject:            c.SMTP.Subject,
		InsecureSkipVerify: c.SMTP.InsecureSkipVerify,
	}, true
}

func (c Config) GetSigningKey() string              { return c.SigningKey }
func (c Config) GetIssuer() string                  { return c.Issuer }
func (c Config) GetTokenTTL() time.Duration         { return c.TokenTTL }
func (c Config) GetOTPTTL() time.Duration           { return c.OTPTTL }
func (c Config) GetOTPDigits() int                  { return c.OTPDigits }
func (c Config) GetOperationTimeout() time.Duration { return c.OperationTimeout }
func (c Config) GetContextKey() string              { return c.ContextKey }
func (c Config) GetAuthScheme() string              { return c.AuthScheme }
func (c Config) GetAdminEmail() string              { return c.AdminEmail }
func (c Config) GetAdminPassword() string           { return c.AdminPassword }
func (c Config) GetExposeOTPErrors() bool           { return c.ExposeOTPErrors }
