package otpauth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// ListOptions paginates IdentityStore.List.
type ListOptions struct {
	Limit  int
	Offset int
}

func (o ListOptions) normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = defaultListLimit
	}
	if o.Limit > maxListLimit {
		o.Limit = maxListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// IdentityStore persists confirmed identities. Email is unique.
type IdentityStore interface {
	FindByEmail(ctx context.Context, email string) (*Identity, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Identity, error)
	Create(ctx context.Context, identity *Identity) (*Identity, error)
	Save(ctx context.Context, identity *Identity) (*Identity, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, opts ListOptions) ([]*Identity, int, error)
}

// Identities is the bun backed IdentityStore with transaction aware variants.
type Identities interface {
	IdentityStore

	FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Identity, error)
	FindByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Identity, error)
	CreateTx(ctx context.Context, tx bun.IDB, identity *Identity) (*Identity, error)
	SaveTx(ctx context.Context, tx bun.IDB, identity *Identity) (*Identity, error)
	DeleteTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error
}

type identities struct {
	repo repository.Repository[*Identity]
	db   *bun.DB
	now  Clock
}

var _ Identities = (*identities)(nil)

// IdentitiesOption customizes the identities repository.
type IdentitiesOption func(*identities)

// WithIdentitiesClock injects a custom clock (useful for tests).
func WithIdentitiesClock(clock Clock) IdentitiesOption {
	return func(i *identities) {
		if clock != nil {
			i.now = clock
		}
	}
}

// NewIdentitiesRepository returns the identities repository backed by db.
func NewIdentitiesRepository(db *bun.DB, opts ...IdentitiesOption) Identities {
	repo := repository.NewRepository[*Identity](db, repository.ModelHandlers[*Identity]{
		NewRecord: func() *Identity { return &Identity{} },
		GetID: func(record *Identity) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *Identity, id uuid.UUID) {
			if record != nil {
				record.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	out := &identities{
		repo: repo,
		db:   db,
		now:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(out)
		}
	}
	return out
}

func (a *identities) FindByEmail(ctx context.Context, email string) (*Identity, error) {
	return a.FindByEmailTx(ctx, a.db, email)
}

func (a *identities) FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Identity, error) {
	return a.findOne(ctx, tx, "email", NormalizeEmail(email))
}

func (a *identities) FindByID(ctx context.Context, id uuid.UUID) (*Identity, error) {
	return a.FindByIDTx(ctx, a.db, id)
}

func (a *identities) FindByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Identity, error) {
	return a.findOne(ctx, tx, "id", id.String())
}

func (a *identities) findOne(ctx context.Context, tx bun.IDB, column string, value any) (*Identity, error) {
	record := &Identity{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, dependencyError(err, "identity_store", "failed to load identity")
	}
	return record, nil
}

// Create inserts identity inside its own transaction. An existing row for
// the email, or a unique index violation from a concurrent insert, yields
// ErrIdentityConflict.
func (a *identities) Create(ctx context.Context, identity *Identity) (*Identity, error) {
	var created *Identity
	err := a.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		created, err = a.CreateTx(ctx, tx, identity)
		return err
	})
	if err != nil {
		return nil, classifyStoreError(err, "identity_store", "failed to create identity")
	}
	return created, nil
}

func (a *identities) CreateTx(ctx context.Context, tx bun.IDB, identity *Identity) (*Identity, error) {
	if identity == nil {
		return nil, internalError(errors.New("identity is nil"), "failed to create identity")
	}

	record := identity.Clone()
	prepareIdentityDefaults(record, a.now())

	if _, err := a.FindByEmailTx(ctx, tx, record.Email); err == nil {
		return nil, ErrIdentityConflict
	} else if !HasTextCode(err, TextCodeIdentityNotFound) {
		return nil, err
	}

	created, err := a.repo.CreateTx(ctx, tx, record)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrIdentityConflict
		}
		return nil, dependencyError(err, "identity_store", "failed to insert identity")
	}
	if created == nil {
		created = record
	}
	return created, nil
}

func (a *identities) Save(ctx context.Context, identity *Identity) (*Identity, error) {
	return a.SaveTx(ctx, a.db, identity)
}

// SaveTx writes the full record, inserting it when the id is unknown.
func (a *identities) SaveTx(ctx context.Context, tx bun.IDB, identity *Identity) (*Identity, error) {
	if identity == nil {
		return nil, internalError(errors.New("identity is nil"), "failed to save identity")
	}

	record := identity.Clone()
	prepareIdentityDefaults(record, a.now())
	record.UpdatedAt = a.now()

	_, err := tx.NewInsert().
		Model(record).
		On("CONFLICT (id) DO UPDATE").
		Set("display_name = EXCLUDED.display_name").
		Set("email = EXCLUDED.email").
		Set("password_hash = EXCLUDED.password_hash").
		Set("is_verified = EXCLUDED.is_verified").
		Set("role = EXCLUDED.role").
		Set("profile_picture = EXCLUDED.profile_picture").
		Set("profile_picture_type = EXCLUDED.profile_picture_type").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)

	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrIdentityConflict
		}
		return nil, dependencyError(err, "identity_store", "failed to save identity")
	}

	return a.FindByIDTx(ctx, tx, record.ID)
}

func (a *identities) Delete(ctx context.Context, id uuid.UUID) error {
	return a.DeleteTx(ctx, a.db, id)
}

func (a *identities) DeleteTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	res, err := tx.NewDelete().
		Model((*Identity)(nil)).
		Where("id = ?", id.String()).
		Exec(ctx)
	if err != nil {
		return dependencyError(err, "identity_store", "failed to delete identity")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return dependencyError(err, "identity_store", "failed to delete identity")
	}

	if affected == 0 {
		return ErrIdentityNotFound
	}
	return nil
}

// List returns a page of identities ordered by creation time and the total count.
func (a *identities) List(ctx context.Context, opts ListOptions) ([]*Identity, int, error) {
	opts = opts.normalize()

	records := make([]*Identity, 0, opts.Limit)
	total, err := a.db.NewSelect().
		Model(&records).
		Order("created_at ASC", "id ASC").
		Limit(opts.Limit).
		Offset(opts.Offset).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, dependencyError(err, "identity_store", "failed to list identities")
	}
	return records, total, nil
}
