package otpauth

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RegistrationState is the lifecycle position of an email address.
type RegistrationState string

const (
	StateUnregistered RegistrationState = "unregistered"
	StatePending      RegistrationState = "pending"
	StateVerified     RegistrationState = "verified"
)

// PendingRegistration is a registration waiting for its code to be confirmed.
// It is replaced wholesale by a newer Register for the same email and is
// never mutated in place.
type PendingRegistration struct {
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"password_hash"`
	OTPCode      string    `json:"otp_code"`
	OTPExpiresAt time.Time `json:"otp_expires_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// Expired reports whether the code can no longer be used at now.
func (p *PendingRegistration) Expired(now time.Time) bool {
	return !now.Before(p.OTPExpiresAt)
}

// Identity is a confirmed account.
type Identity struct {
	bun.BaseModel      `bun:"table:identities,alias:idt"`
	ID                 uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	DisplayName        string    `bun:"display_name,notnull" json:"display_name"`
	Email              string    `bun:"email,notnull,unique" json:"email"`
	PasswordHash       string    `bun:"password_hash,notnull" json:"-"`
	IsVerified         bool      `bun:"is_verified,notnull" json:"is_verified"`
	Role               UserRole  `bun:"role,notnull" json:"role"`
	ProfilePicture     []byte    `bun:"profile_picture" json:"-"`
	ProfilePictureType string    `bun:"profile_picture_type" json:"profile_picture_type,omitempty"`
	CreatedAt          time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt          time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

// IdentitySummary is the redacted projection returned to clients.
type IdentitySummary struct {
	ID                string    `json:"id"`
	DisplayName       string    `json:"display_name"`
	Email             string    `json:"email"`
	IsVerified        bool      `json:"is_verified"`
	Role              UserRole  `json:"role"`
	HasProfilePicture bool      `json:"has_profile_picture"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Summary drops the credential and the avatar payload.
func (i *Identity) Summary() IdentitySummary {
	if i == nil {
		return IdentitySummary{}
	}
	return IdentitySummary{
		ID:                i.ID.String(),
		DisplayName:       i.DisplayName,
		Email:             i.Email,
		IsVerified:        i.IsVerified,
		Role:              i.Role,
		HasProfilePicture: len(i.ProfilePicture) > 0,
		CreatedAt:         i.CreatedAt,
		UpdatedAt:         i.UpdatedAt,
	}
}

// Clone returns a deep copy.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	out := *i
	if i.ProfilePicture != nil {
		out.ProfilePicture = append([]byte(nil), i.ProfilePicture...)
	}
	return &out
}

// NormalizeEmail returns the canonical form used as the store key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func prepareIdentityDefaults(record *Identity, now time.Time) {
	if record == nil {
		return
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	if record.Role == "" {
		record.Role = RoleUser
	}

	record.Email = NormalizeEmail(record.Email)

	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}
}
