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

// ErrOutcomeNotFound is returned when a user has no stored outcome.
var ErrOutcomeNotFound = errors.New("verification outcome not found")

// OutcomeRepository stores completed verification outcomes, one current
// outcome per user. A unique index on external_subject_id keeps one provider
// identity from being linked to two marketplace accounts.
type OutcomeRepository struct {
	collection *mongo.Collection
}

// NewOutcomeRepository creates the repository over the kyc_outcomes
// collection and ensures its indexes.
func NewOutcomeRepository(ctx context.Context, db *mongo.Database) (*OutcomeRepository, error) {
	collection := db.Collection(OutcomesCollection)

	_, err := collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "external_subject_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
	if err != nil {
		return nil, &apperrors.PersistenceError{Op: "create outcome indexes", Err: err}
	}
	return &OutcomeRepository{collection: collection}, nil
}

// Save upserts the user's outcome. Delivering the same outcome twice, or a
// fresh outcome for the same user, replaces the existing record instead of
// accumulating duplicates.
func (r *OutcomeRepository) Save(ctx context.Context, outcome *domain.VerificationOutcome) error {
	now := time.Now()
	update := bson.M{
		"$set": bson.M{
			"external_subject_id": outcome.ExternalSubjectID,
			"personal_info":       outcome.PersonalInfo,
			"status":              outcome.Status,
			"verified_at":         outcome.VerifiedAt,
			"raw_claims":          outcome.RawClaims,
			"updated_at":          now,
		},
		"$setOnInsert": bson.M{
			"_id":        outcome.ID,
			"user_id":    outcome.UserID,
			"created_at": now,
		},
	}

	opts := options.UpdateOne().SetUpsert(true)
	if _, err := r.collection.UpdateOne(ctx, bson.M{"user_id": outcome.UserID}, update, opts); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return &apperrors.PersistenceError{Op: "save outcome", Err: errors.New("external subject already linked to another user")}
		}
		return &apperrors.PersistenceError{Op: "save outcome", Err: err}
	}
	return nil
}

// GetByUserID returns the user's current outcome.
func (r *OutcomeRepository) GetByUserID(ctx context.Context, userID string) (*domain.VerificationOutcome, error) {
	var outcome domain.VerificationOutcome
	err := r.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&outcome)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrOutcomeNotFound
	}
	if err != nil {
		return nil, &apperrors.PersistenceError{Op: "get outcome", Err: err}
	}
	return &outcome, nil
}
