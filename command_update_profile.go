package otpauth

import (
	"context"
	"net/http"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// MaxProfilePictureBytes caps the avatar payload.
const MaxProfilePictureBytes = 5 << 20

const commandTimeout = time.Second * 10

// CommandOption customizes the identity command handlers.
type CommandOption func(*commandDeps)

type commandDeps struct {
	hasher   PasswordHasher
	activity ActivitySink
	logger   Logger
	now      Clock
}

// WithCommandHasher overrides the hasher used for password changes.
func WithCommandHasher(hasher PasswordHasher) CommandOption {
	return func(d *commandDeps) {
		if hasher != nil {
			d.hasher = hasher
		}
	}
}

// WithCommandActivitySink wires an activity sink for identity events.
func WithCommandActivitySink(sink ActivitySink) CommandOption {
	return func(d *commandDeps) {
		d.activity = normalizeActivitySink(sink)
	}
}

// WithCommandLogger sets the logger.
func WithCommandLogger(logger Logger) CommandOption {
	return func(d *commandDeps) {
		d.logger = normalizeLogger(logger)
	}
}

// WithCommandClock injects a custom clock (useful for tests).
func WithCommandClock(clock Clock) CommandOption {
	return func(d *commandDeps) {
		if clock != nil {
			d.now = clock
		}
	}
}

func newCommandDeps(opts ...CommandOption) commandDeps {
	d := commandDeps{
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&d)
		}
	}
	if d.hasher == nil {
		d.hasher = NewBcryptHasher(0)
	}
	return d
}

func (d commandDeps) record(ctx context.Context, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = ActorRef{ID: event.UserID, Type: "user"}
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = d.now()
	}
	if err := d.activity.Record(ctx, event); err != nil {
		d.logger.Warn("activity sink error", "event", event.EventType, "error", err)
	}
}

// UpdateProfileMessage changes the fields of the caller's own identity.
// Nil fields are left untouched. ProfilePicture travels as base64 in JSON.
type UpdateProfileMessage struct {
	IdentityID           uuid.UUID              `json:"-"`
	DisplayName          *string                `json:"display_name,omitempty"`
	Email                *string                `json:"email,omitempty"`
	Password             *string                `json:"password,omitempty"`
	ProfilePicture       []byte                 `json:"profile_picture,omitempty"`
	RemoveProfilePicture bool                   `json:"remove_profile_picture,omitempty"`
	OnResponse           func(*IdentitySummary) `json:"-"`
}

func (e UpdateProfileMessage) Type() string { return "identity.update_profile" }

// Validate checks the field formats.
func (e UpdateProfileMessage) Validate() error {
	e.DisplayName = trimmedPtr(e.DisplayName)
	e.Email = trimmedPtr(e.Email)
	if err := goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&e,
			validation.Field(&e.DisplayName, validation.NilOrNotEmpty, validation.Length(1, 200)),
			validation.Field(&e.Email, validation.NilOrNotEmpty, validation.Length(3, 254), is.EmailFormat),
			validation.Field(&e.Password, validation.NilOrNotEmpty, validation.Length(6, 0), validation.By(maxBytes(bcryptMaxInput))),
		)
	}, "invalid profile payload"); err != nil {
		return err
	}
	return nil
}

// UpdateProfileHandler applies UpdateProfileMessage inside a transaction.
type UpdateProfileHandler struct {
	repo RepositoryManager
	deps commandDeps
}

// NewUpdateProfileHandler returns the profile command handler.
func NewUpdateProfileHandler(repo RepositoryManager, opts ...CommandOption) *UpdateProfileHandler {
	return &UpdateProfileHandler{repo: repo, deps: newCommandDeps(opts...)}
}

func (h *UpdateProfileHandler) Execute(ctx context.Context, event UpdateProfileMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during profile update")
	default:
		return h.execute(ctx, event)
	}
}

func (h *UpdateProfileHandler) execute(ctx context.Context, event UpdateProfileMessage) error {
	if err := event.Validate(); err != nil {
		return err
	}

	var contentType string
	if len(event.ProfilePicture) > 0 {
		var err error
		if contentType, err = sniffProfilePicture(event.ProfilePicture); err != nil {
			return err
		}
	}

	// hash outside the transaction, bcrypt is slow
	var passwordHash string
	if event.Password != nil {
		hash, err := h.deps.hasher.Hash(*event.Password)
		if err != nil {
			return err
		}
		passwordHash = hash
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var (
		updated *Identity
		changed []string
	)

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		identity, err := h.repo.Identities().FindByIDTx(ctx, tx, event.IdentityID)
		if err != nil {
			return err
		}

		if event.DisplayName != nil {
			identity.DisplayName = strings.TrimSpace(*event.DisplayName)
			changed = append(changed, "display_name")
		}

		if event.Email != nil {
			email := NormalizeEmail(*event.Email)
			if email != identity.Email {
				if err := ensureEmailAvailable(ctx, tx, h.repo.Identities(), email, identity.ID); err != nil {
					return err
				}
				identity.Email = email
				changed = append(changed, "email")
			}
		}

		if passwordHash != "" {
			identity.PasswordHash = passwordHash
			changed = append(changed, "password")
		}

		switch {
		case len(event.ProfilePicture) > 0:
			identity.ProfilePicture = event.ProfilePicture
			identity.ProfilePictureType = contentType
			changed = append(changed, "profile_picture")
		case event.RemoveProfilePicture:
			identity.ProfilePicture = nil
			identity.ProfilePictureType = ""
			changed = append(changed, "profile_picture")
		}

		updated, err = h.repo.Identities().SaveTx(ctx, tx, identity)
		return err
	})

	if err != nil {
		return classifyStoreError(err, "identity_store", "failed to update profile")
	}

	h.deps.record(ctx, ActivityEvent{
		EventType: ActivityEventIdentityUpdated,
		UserID:    updated.ID.String(),
		Email:     updated.Email,
		Metadata:  map[string]any{"fields": changed},
	})

	if event.OnResponse != nil {
		summary := updated.Summary()
		event.OnResponse(&summary)
	}

	return nil
}

func ensureEmailAvailable(ctx context.Context, tx bun.IDB, identities Identities, email string, owner uuid.UUID) error {
	other, err := identities.FindByEmailTx(ctx, tx, email)
	switch {
	case err == nil && other.ID != owner:
		return ErrIdentityConflict
	case err == nil:
		return nil
	case HasTextCode(err, TextCodeIdentityNotFound):
		return nil
	default:
		return err
	}
}

func sniffProfilePicture(data []byte) (string, error) {
	if len(data) > MaxProfilePictureBytes {
		return "", ErrProfilePictureTooLarge
	}
	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return "", ErrProfilePictureType
	}
	return contentType, nil
}

// trimmedPtr returns a trimmed copy so blank values fail NilOrNotEmpty.
func trimmedPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
