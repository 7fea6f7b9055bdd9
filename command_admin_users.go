package otpauth

import (
	"context"
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AdminUpdateIdentityMessage edits any identity. Nil fields are left untouched.
type AdminUpdateIdentityMessage struct {
	Actor       ActorRef               `json:"-"`
	IdentityID  uuid.UUID              `json:"-"`
	DisplayName *string                `json:"display_name,omitempty"`
	Email       *string                `json:"email,omitempty"`
	IsVerified  *bool                  `json:"is_verified,omitempty"`
	Role        *UserRole              `json:"role,omitempty"`
	OnResponse  func(*IdentitySummary) `json:"-"`
}

func (e AdminUpdateIdentityMessage) Type() string { return "identity.admin_update" }

// Validate checks the field formats.
func (e AdminUpdateIdentityMessage) Validate() error {
	e.DisplayName = trimmedPtr(e.DisplayName)
	e.Email = trimmedPtr(e.Email)
	if err := goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&e,
			validation.Field(&e.DisplayName, validation.NilOrNotEmpty, validation.Length(1, 200)),
			validation.Field(&e.Email, validation.NilOrNotEmpty, validation.Length(3, 254), is.EmailFormat),
			validation.Field(&e.Role, validation.By(func(value any) error {
				role, ok := value.(*UserRole)
				if !ok || role == nil || role.IsValid() {
					return nil
				}
				return errors.New("must be one of user, admin")
			})),
		)
	}, "invalid identity payload"); err != nil {
		return err
	}
	return nil
}

// AdminUpdateIdentityHandler applies AdminUpdateIdentityMessage.
type AdminUpdateIdentityHandler struct {
	repo RepositoryManager
	deps commandDeps
}

// NewAdminUpdateIdentityHandler returns the admin edit handler.
func NewAdminUpdateIdentityHandler(repo RepositoryManager, opts ...CommandOption) *AdminUpdateIdentityHandler {
	return &AdminUpdateIdentityHandler{repo: repo, deps: newCommandDeps(opts...)}
}

func (h *AdminUpdateIdentityHandler) Execute(ctx context.Context, event AdminUpdateIdentityMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during identity update")
	default:
		return h.execute(ctx, event)
	}
}

func (h *AdminUpdateIdentityHandler) execute(ctx context.Context, event AdminUpdateIdentityMessage) error {
	if err := event.Validate(); err != nil {
		return err
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

		if event.IsVerified != nil {
			identity.IsVerified = *event.IsVerified
			changed = append(changed, "is_verified")
		}

		if event.Role != nil {
			identity.Role = *event.Role
			changed = append(changed, "role")
		}

		updated, err = h.repo.Identities().SaveTx(ctx, tx, identity)
		return err
	})

	if err != nil {
		return classifyStoreError(err, "identity_store", "failed to update identity")
	}

	h.deps.record(ctx, ActivityEvent{
		EventType: ActivityEventIdentityUpdated,
		Actor:     event.Actor,
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

// AdminDeleteIdentityMessage removes an identity.
type AdminDeleteIdentityMessage struct {
	Actor      ActorRef
	IdentityID uuid.UUID
}

func (e AdminDeleteIdentityMessage) Type() string { return "identity.admin_delete" }

// AdminDeleteIdentityHandler applies AdminDeleteIdentityMessage.
type AdminDeleteIdentityHandler struct {
	repo RepositoryManager
	deps commandDeps
}

// NewAdminDeleteIdentityHandler returns the admin delete handler.
func NewAdminDeleteIdentityHandler(repo RepositoryManager, opts ...CommandOption) *AdminDeleteIdentityHandler {
	return &AdminDeleteIdentityHandler{repo: repo, deps: newCommandDeps(opts...)}
}

func (h *AdminDeleteIdentityHandler) Execute(ctx context.Context, event AdminDeleteIdentityMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during identity removal")
	default:
		return h.execute(ctx, event)
	}
}

func (h *AdminDeleteIdentityHandler) execute(ctx context.Context, event AdminDeleteIdentityMessage) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var email string
	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		identity, err := h.repo.Identities().FindByIDTx(ctx, tx, event.IdentityID)
		if err != nil {
			return err
		}
		email = identity.Email
		return h.repo.Identities().DeleteTx(ctx, tx, identity.ID)
	})

	if err != nil {
		return classifyStoreError(err, "identity_store", "failed to delete identity")
	}

	h.deps.record(ctx, ActivityEvent{
		EventType: ActivityEventIdentityDeleted,
		Actor:     event.Actor,
		UserID:    event.IdentityID.String(),
		Email:     email,
	})
	return nil
}
