package domain

import (
	"context"
	"time"
)

// PersonalInfo is the normalized subset of provider claims the marketplace
// keeps on a verified user.
type PersonalInfo struct {
	GivenName  string `bson:"given_name,omitempty"  json:"given_name,omitempty"`
	FamilyName string `bson:"family_name,omitempty" json:"family_name,omitempty"`
	Email      string `bson:"email,omitempty"       json:"email,omitempty"`
	Phone      string `bson:"phone,omitempty"       json:"phone,omitempty"`
	Birthdate  string `bson:"birthdate,omitempty"   json:"birthdate,omitempty"`
	Gender     string `bson:"gender,omitempty"      json:"gender,omitempty"`
	Address    string `bson:"address,omitempty"     json:"address,omitempty"`
	PictureRef string `bson:"picture_ref,omitempty" json:"picture_ref,omitempty"`
}

// VerificationOutcome is the durable record of a completed verification flow.
// A user owns at most one current outcome; a new successful flow overwrites
// the previous one.
type VerificationOutcome struct {
	ID                string         `bson:"_id,omitempty"       json:"id,omitempty"`
	UserID            string         `bson:"user_id"             json:"user_id"`
	ExternalSubjectID string         `bson:"external_subject_id" json:"external_subject_id"`
	PersonalInfo      PersonalInfo   `bson:"personal_info"       json:"personal_info"`
	Status            KYCStatus      `bson:"status"              json:"status"`
	VerifiedAt        time.Time      `bson:"verified_at"         json:"verified_at"`
	RawClaims         map[string]any `bson:"raw_claims"          json:"raw_claims"`
	CreatedAt         time.Time      `bson:"created_at"          json:"created_at"`
	UpdatedAt         time.Time      `bson:"updated_at"          json:"updated_at"`
}

// OutcomeRepository persists verification outcomes. Save is idempotent on
// (UserID, ExternalSubjectID): delivering the same outcome twice results in a
// single record, and a new outcome for the same user replaces the old one.
type OutcomeRepository interface {
	Save(ctx context.Context, outcome *VerificationOutcome) error
	GetByUserID(ctx context.Context, userID string) (*VerificationOutcome, error)
}

// UserDirectory is the narrow view of the marketplace's user records this
// core needs. The full user model (profile, listings, payment methods) lives
// with the external collaborator.
type UserDirectory interface {
	GetKYCStatus(ctx context.Context, userID string) (KYCStatus, error)
	SetKYCStatus(ctx context.Context, userID string, status KYCStatus) error

	// ApplyOutcome marks the user verified and stores the external subject id
	// and normalized personal info. Re-delivering the same outcome must not
	// create a second identity link.
	ApplyOutcome(ctx context.Context, outcome *VerificationOutcome) error
}
