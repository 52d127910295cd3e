package mongodb

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/v2/mongo/otelmongo"
)

const (
	UsersCollection    = "users"        // Marketplace user profiles
	SessionsCollection = "kyc_sessions" // Pending verification sessions
	OutcomesCollection = "kyc_outcomes" // Completed verification outcomes
)

var (
	clientInstance *mongo.Client
	clientOnce     sync.Once
	dbInstance     *mongo.Database
	dbOnce         sync.Once
)

// InitMongoDB initializes the MongoDB client and database instances.
// It should be called once at application startup.
func InitMongoDB(ctx context.Context, uri, dbName string) error {
	var err error
	clientOnce.Do(func() {
		log.Info().Str("database", dbName).Msg("Initializing MongoDB client")
		clientOptions := options.Client().ApplyURI(uri)
		clientOptions.SetConnectTimeout(10 * time.Second)
		clientOptions.SetMonitor(otelmongo.NewMonitor())

		client, clientErr := mongo.Connect(clientOptions)
		if clientErr != nil {
			err = clientErr
			log.Error().Err(clientErr).Msg("Failed to connect to MongoDB")
			return
		}

		// Ping the primary to verify the connection before handing it out.
		if pingErr := client.Ping(ctx, readpref.Primary()); pingErr != nil {
			err = pingErr
			log.Error().Err(pingErr).Msg("Failed to ping MongoDB primary")
			return
		}
		clientInstance = client
		log.Info().Msg("MongoDB client initialized successfully.")
	})
	if err != nil {
		return err
	}
	if clientInstance == nil {
		return errors.New("mongodb client not initialized")
	}

	dbOnce.Do(func() {
		dbInstance = clientInstance.Database(dbName)
	})
	return nil
}

// GetDB returns the MongoDB database instance.
// It panics if InitMongoDB has not been called successfully.
func GetDB() *mongo.Database {
	if dbInstance == nil {
		log.Fatal().Msg("MongoDB database instance is not initialized. Call InitMongoDB first.")
	}
	return dbInstance
}

// Ping sends a ping to the MongoDB server using the global client.
// This is useful for health checks.
func Ping(ctx context.Context) error {
	if clientInstance == nil {
		return errors.New("mongodb client is not initialized")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return clientInstance.Ping(pingCtx, readpref.Primary())
}

// CloseMongoDB disconnects the MongoDB client.
// It should be called on application shutdown.
func CloseMongoDB(ctx context.Context) {
	if clientInstance != nil {
		log.Info().Msg("Closing MongoDB connection.")
		if err := clientInstance.Disconnect(ctx); err != nil {
			log.Error().Err(err).Msg("Error closing MongoDB connection")
		}
	}
}
