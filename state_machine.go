package otpauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
)

const (
	// DefaultOperationTimeout bounds every store and notifier call.
	DefaultOperationTimeout = 5 * time.Second
	// AdminSubject is the token subject issued for the configured admin pair.
	AdminSubject = "admin"
)

// RegisterInput is the payload accepted by Registrar.Register.
type RegisterInput struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
}

// Validate checks the registration payload.
func (in RegisterInput) Validate() error {
	if err := goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&in,
			validation.Field(&in.DisplayName, validation.Required, validation.Length(1, 200)),
			validation.Field(&in.Email, validation.Required, validation.Length(3, 254), is.EmailFormat),
			validation.Field(&in.Password, validation.Required, validation.Length(6, 0), validation.By(maxBytes(bcryptMaxInput))),
		)
	}, "invalid registration payload"); err != nil {
		return err
	}
	return nil
}

func maxBytes(limit int) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if len(s) > limit {
			return errors.New("must be at most 72 bytes")
		}
		return nil
	}
}

// RegisterResult is returned once the verification code has been dispatched.
type RegisterResult struct {
	Email        string    `json:"email"`
	OTPExpiresAt time.Time `json:"otp_expires_at"`
}

// LoginResult carries the issued bearer token.
type LoginResult struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	Identity  IdentitySummary `json:"user"`
}

// Registrar drives an email through Unregistered, Pending and Verified and
// issues tokens for verified identities. There is no way back from Verified.
type Registrar struct {
	identities IdentityStore
	pending    PendingStore
	tokens     TokenService
	hasher     PasswordHasher
	otp        *OTPGenerator
	notifier   Notifier
	limiter    AttemptLimiter

	otpDigits     int
	otpTTL        time.Duration
	tokenTTL      time.Duration
	opTimeout     time.Duration
	adminEmail    string
	adminPassword string

	now          Clock
	logger       Logger
	activitySink ActivitySink

	dummyOnce sync.Once
	dummyHash string
}

// RegistrarOption customizes a Registrar.
type RegistrarOption func(*Registrar)

// WithRegistrarConfig applies the OTP, token, timeout and admin settings of cfg.
func WithRegistrarConfig(cfg Config) RegistrarOption {
	return func(r *Registrar) {
		if cfg == nil {
			return
		}
		r.otpDigits = cfg.GetOTPDigits()
		r.otpTTL = cfg.GetOTPTTL()
		r.tokenTTL = cfg.GetTokenTTL()
		if d := cfg.GetOperationTimeout(); d > 0 {
			r.opTimeout = d
		}
		r.adminEmail = NormalizeEmail(cfg.GetAdminEmail())
		r.adminPassword = cfg.GetAdminPassword()
	}
}

// WithRegistrarHasher overrides the bcrypt hasher.
func WithRegistrarHasher(hasher PasswordHasher) RegistrarOption {
	return func(r *Registrar) {
		if hasher != nil {
			r.hasher = hasher
		}
	}
}

// WithRegistrarOTPGenerator overrides the code generator.
func WithRegistrarOTPGenerator(g *OTPGenerator) RegistrarOption {
	return func(r *Registrar) {
		if g != nil {
			r.otp = g
		}
	}
}

// WithRegistrarNotifier sets the code delivery channel.
func WithRegistrarNotifier(n Notifier) RegistrarOption {
	return func(r *Registrar) {
		if n != nil {
			r.notifier = n
		}
	}
}

// WithRegistrarLimiter sets the verify attempt limiter.
func WithRegistrarLimiter(l AttemptLimiter) RegistrarOption {
	return func(r *Registrar) {
		if l != nil {
			r.limiter = l
		}
	}
}

// WithRegistrarOperationTimeout bounds each dependency call.
func WithRegistrarOperationTimeout(d time.Duration) RegistrarOption {
	return func(r *Registrar) {
		if d > 0 {
			r.opTimeout = d
		}
	}
}

// WithRegistrarAdminCredentials enables the fixed admin login pair.
func WithRegistrarAdminCredentials(email, password string) RegistrarOption {
	return func(r *Registrar) {
		r.adminEmail = NormalizeEmail(email)
		r.adminPassword = password
	}
}

// WithRegistrarClock injects a custom clock (useful for tests).
func WithRegistrarClock(clock Clock) RegistrarOption {
	return func(r *Registrar) {
		if clock != nil {
			r.now = clock
		}
	}
}

// WithRegistrarLogger sets the logger.
func WithRegistrarLogger(logger Logger) RegistrarOption {
	return func(r *Registrar) {
		r.logger = normalizeLogger(logger)
	}
}

// WithRegistrarActivitySink wires an activity sink for audit events.
func WithRegistrarActivitySink(sink ActivitySink) RegistrarOption {
	return func(r *Registrar) {
		r.activitySink = normalizeActivitySink(sink)
	}
}

// NewRegistrar wires the state machine over the two stores and the token issuer.
func NewRegistrar(identities IdentityStore, pending PendingStore, tokens TokenService, opts ...RegistrarOption) *Registrar {
	r := &Registrar{
		identities:   identities,
		pending:      pending,
		tokens:       tokens,
		limiter:      unlimited{},
		opTimeout:    DefaultOperationTimeout,
		now:          time.Now,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	if r.hasher == nil {
		r.hasher = NewBcryptHasher(0)
	}
	if r.notifier == nil {
		r.notifier = NewLogNotifier(r.logger)
	}
	if r.otp == nil {
		r.otp = NewOTPGenerator(
			WithOTPDigits(r.otpDigits),
			WithOTPTTL(r.otpTTL),
			WithOTPClock(r.now),
		)
	}

	return r
}

// Register validates the input, stores a pending registration with a fresh
// code and hands the code to the notifier. A pending entry for the same
// email is replaced. The entry is kept when delivery fails.
func (r *Registrar) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during registration")
	default:
	}

	in.DisplayName = strings.TrimSpace(in.DisplayName)
	in.Email = NormalizeEmail(in.Email)
	if err := in.Validate(); err != nil {
		return nil, err
	}

	existing, err := r.findIdentity(ctx, in.Email)
	switch {
	case err == nil && existing.IsVerified:
		return nil, ErrEmailAlreadyVerified
	case err == nil:
		return nil, ErrEmailAlreadyRegistered
	case !HasTextCode(err, TextCodeIdentityNotFound):
		return nil, err
	}

	hash, err := r.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	code, expiresAt, err := r.otp.Generate()
	if err != nil {
		return nil, err
	}

	entry := PendingRegistration{
		Email:        in.Email,
		DisplayName:  in.DisplayName,
		PasswordHash: hash,
		OTPCode:      code,
		OTPExpiresAt: expiresAt,
		CreatedAt:    r.now(),
	}

	if err := r.putPending(ctx, entry); err != nil {
		return nil, err
	}

	if err := r.notify(ctx, entry); err != nil {
		r.logger.Error("verification code delivery failed", "email", in.Email, "error", err)
		r.recordActivity(ctx, ActivityEvent{
			EventType: ActivityEventRegistrationNotifyFailed,
			Email:     in.Email,
			FromState: StateUnregistered,
			ToState:   StatePending,
		})
		return nil, dependencyError(err, "notifier", "failed to deliver verification code")
	}

	r.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventRegistrationRequested,
		Email:     in.Email,
		FromState: StateUnregistered,
		ToState:   StatePending,
		Metadata:  map[string]any{"otp_expires_at": expiresAt},
	})

	return &RegisterResult{Email: in.Email, OTPExpiresAt: expiresAt}, nil
}

// Verify confirms the pending registration for email with code. On success
// the identity is created verified and the pending entry is consumed.
// Attempts are counted per email by the configured AttemptLimiter, so once
// its burst is spent even a correct code gets ErrTooManyAttempts until the
// bucket refills. Without a limiter a mismatch never blocks a later correct code.
func (r *Registrar) Verify(ctx context.Context, email, code string) (*IdentitySummary, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during verification")
	default:
	}

	email = NormalizeEmail(email)

	if !r.limiter.Allow(email) {
		r.verifyFailed(ctx, email, "too_many_attempts")
		return nil, ErrTooManyAttempts
	}

	entry, err := r.getPending(ctx, email)
	if err != nil {
		if HasTextCode(err, TextCodePendingNotFound) {
			// a concurrent Verify may have already consumed the entry
			if identity, findErr := r.findIdentity(ctx, email); findErr == nil && identity.IsVerified {
				return nil, ErrEmailAlreadyVerified
			}
			r.verifyFailed(ctx, email, "not_found")
		}
		return nil, err
	}

	switch r.otp.Validate(code, entry.OTPCode, entry.OTPExpiresAt, r.now()) {
	case OTPExpired:
		r.verifyFailed(ctx, email, "expired")
		return nil, ErrOTPExpired
	case OTPMismatch:
		r.verifyFailed(ctx, email, "mismatch")
		return nil, ErrOTPMismatch
	}

	if _, err := r.findIdentity(ctx, email); err == nil {
		r.deletePending(ctx, email)
		return nil, ErrEmailAlreadyVerified
	} else if !HasTextCode(err, TextCodeIdentityNotFound) {
		return nil, err
	}

	created, err := r.createIdentity(ctx, &Identity{
		DisplayName:  entry.DisplayName,
		Email:        entry.Email,
		PasswordHash: entry.PasswordHash,
		IsVerified:   true,
		Role:         RoleUser,
	})
	if err != nil {
		if HasTextCode(err, TextCodeIdentityConflict) {
			r.deletePending(ctx, email)
			return nil, ErrEmailAlreadyVerified
		}
		return nil, err
	}

	r.deletePending(ctx, email)
	r.limiter.Forget(email)

	r.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventRegistrationVerified,
		UserID:    created.ID.String(),
		Email:     email,
		FromState: StatePending,
		ToState:   StateVerified,
	})

	summary := created.Summary()
	return &summary, nil
}

// Login checks the credentials of a verified identity and issues a token.
// Unknown emails and wrong passwords produce the same error.
func (r *Registrar) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during login")
	default:
	}

	email = NormalizeEmail(email)

	if r.isAdminLogin(email, password) {
		return r.issueAdmin(ctx)
	}

	identity, err := r.findIdentity(ctx, email)
	if err != nil {
		if !HasTextCode(err, TextCodeIdentityNotFound) {
			return nil, err
		}
		r.hasher.Verify(password, r.dummyPasswordHash())
		r.loginFailed(ctx, email, "", "unknown_email")
		return nil, ErrInvalidCredentials
	}

	if !r.hasher.Verify(password, identity.PasswordHash) {
		r.loginFailed(ctx, email, identity.ID.String(), "password_mismatch")
		return nil, ErrInvalidCredentials
	}

	if !identity.IsVerified {
		r.loginFailed(ctx, email, identity.ID.String(), "not_verified")
		return nil, ErrNotVerified
	}

	token, expiresAt, err := r.tokens.Issue(TokenClaims{
		Subject: identity.ID.String(),
		Role:    identity.Role,
	}, r.tokenTTL)
	if err != nil {
		return nil, err
	}

	r.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		UserID:    identity.ID.String(),
		Email:     email,
	})

	return &LoginResult{
		Token:     token,
		ExpiresAt: expiresAt,
		Identity:  identity.Summary(),
	}, nil
}

// RegistrationState reports where email is in its lifecycle. An identity
// that exists but was never verified reports StatePending.
func (r *Registrar) RegistrationState(ctx context.Context, email string) (RegistrationState, error) {
	email = NormalizeEmail(email)

	identity, err := r.findIdentity(ctx, email)
	switch {
	case err == nil && identity.IsVerified:
		return StateVerified, nil
	case err == nil:
		return StatePending, nil
	case !HasTextCode(err, TextCodeIdentityNotFound):
		return "", err
	}

	if _, err := r.getPending(ctx, email); err != nil {
		if HasTextCode(err, TextCodePendingNotFound) {
			return StateUnregistered, nil
		}
		return "", err
	}
	return StatePending, nil
}

// Sweep drops expired pending entries, when the store supports it, and idle
// limiter state. It returns the number of pending entries removed.
func (r *Registrar) Sweep(now time.Time) int {
	removed := 0
	if sweeper, ok := r.pending.(Sweeper); ok {
		removed = sweeper.Sweep(now)
	}
	pruned := r.limiter.Prune(now)
	if removed > 0 || pruned > 0 {
		r.logger.Debug("janitor sweep", "pending_removed", removed, "limiters_pruned", pruned)
	}
	return removed
}

// RunJanitor calls Sweep every interval until ctx is done.
func (r *Registrar) RunJanitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Sweep(r.now())
		}
	}
}

func (r *Registrar) isAdminLogin(email, password string) bool {
	if r.adminEmail == "" || r.adminPassword == "" {
		return false
	}
	emailOK := subtle.ConstantTimeCompare([]byte(email), []byte(r.adminEmail))
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(r.adminPassword))
	return emailOK&passOK == 1
}

func (r *Registrar) issueAdmin(ctx context.Context) (*LoginResult, error) {
	token, expiresAt, err := r.tokens.Issue(TokenClaims{Subject: AdminSubject, Role: RoleAdmin}, r.tokenTTL)
	if err != nil {
		return nil, err
	}

	r.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		Actor:     ActorRef{ID: AdminSubject, Type: "admin"},
		UserID:    AdminSubject,
		Email:     r.adminEmail,
	})

	return &LoginResult{
		Token:     token,
		ExpiresAt: expiresAt,
		Identity:  r.AdminSummary(),
	}, nil
}

// AdminSummary describes the configured admin, which has no stored identity.
func (r *Registrar) AdminSummary() IdentitySummary {
	return IdentitySummary{
		ID:          AdminSubject,
		DisplayName: "Administrator",
		Email:       r.adminEmail,
		IsVerified:  true,
		Role:        RoleAdmin,
	}
}

func (r *Registrar) dummyPasswordHash() string {
	r.dummyOnce.Do(func() {
		r.dummyHash = randomPasswordHash(r.hasher)
	})
	return r.dummyHash
}

func (r *Registrar) findIdentity(ctx context.Context, email string) (*Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	identity, err := r.identities.FindByEmail(ctx, email)
	if err != nil {
		return nil, classifyStoreError(err, "identity_store", "failed to load identity")
	}
	return identity, nil
}

func (r *Registrar) createIdentity(ctx context.Context, identity *Identity) (*Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	created, err := r.identities.Create(ctx, identity)
	if err != nil {
		return nil, classifyStoreError(err, "identity_store", "failed to create identity")
	}
	return created, nil
}

func (r *Registrar) getPending(ctx context.Context, email string) (*PendingRegistration, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	entry, err := r.pending.Get(ctx, email)
	if err != nil {
		return nil, classifyStoreError(err, "pending_store", "failed to load pending registration")
	}
	return entry, nil
}

func (r *Registrar) putPending(ctx context.Context, entry PendingRegistration) error {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	return classifyStoreError(r.pending.Put(ctx, entry), "pending_store", "failed to store pending registration")
}

// deletePending is best effort, a leftover entry expires on its own.
func (r *Registrar) deletePending(ctx context.Context, email string) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	if err := r.pending.Delete(ctx, email); err != nil {
		r.logger.Warn("failed to delete pending registration", "email", email, "error", err)
	}
}

func (r *Registrar) notify(ctx context.Context, entry PendingRegistration) error {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	return r.notifier.SendOTP(ctx, OTPMessage{
		Email:       entry.Email,
		DisplayName: entry.DisplayName,
		Code:        entry.OTPCode,
		ExpiresAt:   entry.OTPExpiresAt,
	})
}

func (r *Registrar) verifyFailed(ctx context.Context, email, reason string) {
	r.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventRegistrationVerifyFailed,
		Email:     email,
		FromState: StatePending,
		ToState:   StatePending,
		Metadata:  map[string]any{"reason": reason},
	})
}

func (r *Registrar) loginFailed(ctx context.Context, email, userID, reason string) {
	r.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventLoginFailure,
		UserID:    userID,
		Email:     email,
		Metadata:  map[string]any{"reason": reason},
	})
}

func (r *Registrar) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = ActorRef{Type: "system"}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = r.now()
	}

	sink := normalizeActivitySink(r.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		r.logger.Warn("activity sink error", "event", event.EventType, "error", err)
	}
}
