package database

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	Up          func(*mongo.Database) error
}

// migrationRecord tracks applied migrations
type migrationRecord struct {
	Version   int       `bson:"version"`
	AppliedAt time.Time `bson:"appliedAt"`
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Create users collection with indexes",
		Up:          createUsersCollection,
	},
	{
		Version:     2,
		Description: "Create groups collection with indexes",
		Up:          createGroupsCollection,
	},
	{
		Version:     3,
		Description: "Create emergencies collection with indexes",
		Up:          createEmergenciesCollection,
	},
	{
		Version:     4,
		Description: "Create locks collection with TTL index",
		Up:          createLocksCollection,
	},
}

// RunMigrations executes all pending migrations
func RunMigrations(db *mongo.Database) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	migrationsCol := db.Collection("migrations")

	currentVersion := getCurrentMigrationVersion(ctx, migrationsCol)
	logrus.Infof("📋 Current migration version: %d", currentVersion)

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		logrus.Infof("🔄 Running migration %d: %s", migration.Version, migration.Description)

		if err := migration.Up(db); err != nil {
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}

		_, err := migrationsCol.InsertOne(ctx, migrationRecord{
			Version:   migration.Version,
			AppliedAt: time.Now(),
		})
		if err != nil {
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		logrus.Infof("✅ Migration %d completed", migration.Version)
	}

	return nil
}

func getCurrentMigrationVersion(ctx context.Context, col *mongo.Collection) int {
	opts := options.FindOne().SetSort(bson.D{{Key: "version", Value: -1}})
	var record migrationRecord
	err := col.FindOne(ctx, bson.D{}, opts).Decode(&record)
	if err != nil {
		return 0
	}
	return record.Version
}

func createUsersCollection(db *mongo.Database) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	col := db.Collection("users")

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "role", Value: 1}, {Key: "isActive", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "deviceToken", Value: 1}},
		},
	}

	_, err := col.Indexes().CreateMany(ctx, indexes)
	return err
}

func createGroupsCollection(db *mongo.Database) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	col := db.Collection("groups")

	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "members.userId", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "organizerId", Value: 1}},
		},
	}

	_, err := col.Indexes().CreateMany(ctx, indexes)
	return err
}

func createEmergenciesCollection(db *mongo.Database) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	col := db.Collection("emergencies")

	// reporterId+status serves the duplicate-prevention query; no unique
	// constraint here, the read-then-create race is tolerated upstream.
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "reporterId", Value: 1}, {Key: "status", Value: 1}, {Key: "createdAt", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "groupId", Value: 1}, {Key: "createdAt", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "updatedAt", Value: -1}},
		},
	}

	_, err := col.Indexes().CreateMany(ctx, indexes)
	return err
}

func createLocksCollection(db *mongo.Database) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	col := db.Collection("locks")

	// Mongo's TTL monitor lags by up to a minute, so expiry is still
	// checked in the acquire filter; the index only garbage-collects.
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expiresAt", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
		{
			Keys: bson.D{{Key: "ownerId", Value: 1}},
		},
	}

	_, err := col.Indexes().CreateMany(ctx, indexes)
	return err
}
