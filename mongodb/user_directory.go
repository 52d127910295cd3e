package mongodb

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/nestlease/kyc/domain"
	apperrors "github.com/nestlease/kyc/errors"
)

// UserDirectory reads and writes the KYC fields of marketplace user
// documents. The rest of the user model belongs to the marketplace service;
// this directory only touches verification state.
type UserDirectory struct {
	collection *mongo.Collection
}

// NewUserDirectory creates a directory over the users collection.
func NewUserDirectory(db *mongo.Database) *UserDirectory {
	return &UserDirectory{collection: db.Collection(UsersCollection)}
}

// GetKYCStatus returns the user's current verification status. Users without
// a status field, or not yet present in the collection, are UNVERIFIED.
func (d *UserDirectory) GetKYCStatus(ctx context.Context, userID string) (domain.KYCStatus, error) {
	var doc struct {
		KYCStatus string `bson:"kyc_status"`
	}
	opts := options.FindOne().SetProjection(bson.M{"kyc_status": 1})
	err := d.collection.FindOne(ctx, bson.M{"_id": userID}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.KYCStatusUnverified, nil
	}
	if err != nil {
		return "", &apperrors.PersistenceError{Op: "get kyc status", Err: err}
	}

	status, err := domain.ParseKYCStatus(doc.KYCStatus)
	if err != nil {
		return "", &apperrors.PersistenceError{Op: "get kyc status", Err: err}
	}
	return status, nil
}

// SetKYCStatus writes the user's verification status.
func (d *UserDirectory) SetKYCStatus(ctx context.Context, userID string, status domain.KYCStatus) error {
	update := bson.M{"$set": bson.M{
		"kyc_status":     status,
		"kyc_updated_at": time.Now(),
	}}
	opts := options.UpdateOne().SetUpsert(true)
	if _, err := d.collection.UpdateOne(ctx, bson.M{"_id": userID}, update, opts); err != nil {
		return &apperrors.PersistenceError{Op: "set kyc status", Err: err}
	}
	return nil
}

// ApplyOutcome marks the user verified and records the provider identity
// link. The $set is idempotent, so a re-delivered outcome rewrites the same
// values instead of creating a second link.
func (d *UserDirectory) ApplyOutcome(ctx context.Context, outcome *domain.VerificationOutcome) error {
	update := bson.M{"$set": bson.M{
		"kyc_status":              outcome.Status,
		"kyc_verified_at":         outcome.VerifiedAt,
		"kyc_external_subject_id": outcome.ExternalSubjectID,
		"kyc_personal_info":       outcome.PersonalInfo,
		"kyc_updated_at":          time.Now(),
	}}
	opts := options.UpdateOne().SetUpsert(true)
	if _, err := d.collection.UpdateOne(ctx, bson.M{"_id": outcome.UserID}, update, opts); err != nil {
		return &apperrors.PersistenceError{Op: "apply outcome", Err: err}
	}
	return nil
}
