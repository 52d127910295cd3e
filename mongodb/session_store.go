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

// SessionStore persists pending verification sessions in MongoDB. A unique
// index on state enforces one session per state, and a TTL index lets Mongo
// reap sessions whose deadline passed without a callback.
type SessionStore struct {
	collection *mongo.Collection
}

// NewSessionStore creates a session store over the kyc_sessions collection
// and ensures its indexes.
func NewSessionStore(ctx context.Context, db *mongo.Database) (*SessionStore, error) {
	collection := db.Collection(SessionsCollection)

	_, err := collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "state", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	})
	if err != nil {
		return nil, &apperrors.PersistenceError{Op: "create session indexes", Err: err}
	}
	return &SessionStore{collection: collection}, nil
}

// Put inserts a pending session. The unique state index turns a concurrent
// insert with the same state into a duplicate-key error, which surfaces as
// [domain.ErrDuplicateState].
func (s *SessionStore) Put(ctx context.Context, session *domain.VerificationSession) error {
	_, err := s.collection.InsertOne(ctx, session)
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrDuplicateState
	}
	if err != nil {
		return &apperrors.PersistenceError{Op: "insert session", Err: err}
	}
	return nil
}

// TakeByState removes and returns the session bound to a state in a single
// findAndDelete, so concurrent callbacks for the same state resolve to at
// most one winner. Sessions past their deadline are filtered out even if the
// TTL monitor has not deleted them yet.
func (s *SessionStore) TakeByState(ctx context.Context, state string) (*domain.VerificationSession, error) {
	filter := bson.M{
		"state":      state,
		"expires_at": bson.M{"$gt": time.Now()},
	}

	var session domain.VerificationSession
	err := s.collection.FindOneAndDelete(ctx, filter).Decode(&session)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, &apperrors.PersistenceError{Op: "take session", Err: err}
	}
	return &session, nil
}
