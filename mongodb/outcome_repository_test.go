package mongodb

// These tests run against a live MongoDB named by MONGO_TEST_URI and are
// skipped otherwise. The semantics under test (upsert idempotence, unique
// indexes, findAndDelete atomicity) are exactly what an in-memory fake
// cannot prove.

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/nestlease/kyc/domain"
)

func testDB(t *testing.T) *mongo.Database {
	t.Helper()

	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set, skipping MongoDB integration tests")
	}

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	require.NoError(t, err)

	db := client.Database("kyc_test_" + uuid.NewString()[:8])
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = db.Drop(ctx)
		_ = client.Disconnect(ctx)
	})
	return db
}

func testOutcome(userID, subjectID string) *domain.VerificationOutcome {
	now := time.Now().Truncate(time.Millisecond)
	return &domain.VerificationOutcome{
		ID:                uuid.NewString(),
		UserID:            userID,
		ExternalSubjectID: subjectID,
		PersonalInfo: domain.PersonalInfo{
			GivenName:  "Almaz",
			FamilyName: "Tesfaye",
		},
		Status:     domain.KYCStatusVerified,
		VerifiedAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestOutcomeRepository_DeliverTwiceIsOneRecord(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	repo, err := NewOutcomeRepository(ctx, db)
	require.NoError(t, err)

	outcome := testOutcome("user-1", "X123")
	require.NoError(t, repo.Save(ctx, outcome))
	require.NoError(t, repo.Save(ctx, outcome))

	count, err := db.Collection(OutcomesCollection).CountDocuments(ctx, bson.M{"user_id": "user-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	got, err := repo.GetByUserID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "X123", got.ExternalSubjectID)
	assert.Equal(t, domain.KYCStatusVerified, got.Status)
}

func TestOutcomeRepository_NewOutcomeReplacesOld(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	repo, err := NewOutcomeRepository(ctx, db)
	require.NoError(t, err)

	require.NoError(t, repo.Save(ctx, testOutcome("user-1", "X123")))

	fresh := testOutcome("user-1", "X123")
	fresh.PersonalInfo.Email = "almaz@example.com"
	require.NoError(t, repo.Save(ctx, fresh))

	count, err := db.Collection(OutcomesCollection).CountDocuments(ctx, bson.M{"user_id": "user-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	got, err := repo.GetByUserID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "almaz@example.com", got.PersonalInfo.Email)
}

func TestOutcomeRepository_SubjectCannotLinkTwoUsers(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	repo, err := NewOutcomeRepository(ctx, db)
	require.NoError(t, err)

	require.NoError(t, repo.Save(ctx, testOutcome("user-1", "X123")))
	assert.Error(t, repo.Save(ctx, testOutcome("user-2", "X123")))
}

func TestUserDirectory_ApplyOutcomeIdempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	dir := NewUserDirectory(db)
	outcome := testOutcome("user-1", "X123")

	require.NoError(t, dir.ApplyOutcome(ctx, outcome))
	require.NoError(t, dir.ApplyOutcome(ctx, outcome))

	status, err := dir.GetKYCStatus(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.KYCStatusVerified, status)

	count, err := db.Collection(UsersCollection).CountDocuments(ctx, bson.M{"_id": "user-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSessionStore_AtMostOnce(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	store, err := NewSessionStore(ctx, db)
	require.NoError(t, err)

	now := time.Now()
	session := &domain.VerificationSession{
		State:        uuid.NewString(),
		Nonce:        uuid.NewString(),
		CodeVerifier: "verifier",
		UserID:       "user-1",
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Minute),
	}
	require.NoError(t, store.Put(ctx, session))
	assert.ErrorIs(t, store.Put(ctx, session), domain.ErrDuplicateState)

	got, err := store.TakeByState(ctx, session.State)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)

	_, err = store.TakeByState(ctx, session.State)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}
