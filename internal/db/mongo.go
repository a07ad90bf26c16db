package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// ConnectDB initializes and returns a MongoDB client and database instance.
func ConnectDB(uri, dbName string) (*mongo.Client, *mongo.Database, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Retry the ping so the app survives starting before the database does.
	err = WithRetries(func() error {
		ctxPing, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelPing()
		return client.Ping(ctxPing, readpref.Primary())
	}, DefaultMaxRetries, func(error) bool { return true })
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	fmt.Println("Successfully connected to MongoDB!")
	return client, client.Database(dbName), nil
}

// DisconnectDB closes the MongoDB client connection.
func DisconnectDB(client *mongo.Client) error {
	if client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect MongoDB: %w", err)
	}
	return nil
}

// EnsureIndexes creates the indexes the application depends on. Safe to call
// on every startup; CreateMany is a no-op for indexes that already exist.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	// One inquiry thread per (listing, buyer) pair.
	_, err := db.Collection("inquiries").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "listing_id", Value: 1}, {Key: "buyer_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_listing_buyer"),
	})
	if err != nil {
		return fmt.Errorf("failed to create inquiry index: %w", err)
	}

	// Login attempts are retained on a rolling 90-day window.
	_, err = db.Collection("login_attempts").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "created_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(90 * 24 * 3600).SetName("ttl_login_attempts"),
	})
	if err != nil {
		return fmt.Errorf("failed to create login_attempts TTL index: %w", err)
	}

	_, err = db.Collection("users").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_user_email"),
	})
	if err != nil {
		return fmt.Errorf("failed to create user email index: %w", err)
	}

	// The sweep scans active purchases by expiry.
	_, err = db.Collection("addon_purchases").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}},
		Options: options.Index().SetName("status_expiry"),
	})
	if err != nil {
		return fmt.Errorf("failed to create addon_purchases index: %w", err)
	}

	_, err = db.Collection("seller_verifications").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetName("verification_user"),
	})
	if err != nil {
		return fmt.Errorf("failed to create seller_verifications index: %w", err)
	}

	return nil
}
