package repositories

import (
	"context"
	"time"

	"resqlink/models"
	"resqlink/utils"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type LockRepository struct {
	collection *mongo.Collection
}

func NewLockRepository(database *mongo.Database) *LockRepository {
	return &LockRepository{
		collection: database.Collection("locks"),
	}
}

// TryAcquire attempts to take or steal the lock in a single upsert CAS.
// The filter matches only a lock that is already expired; when no document
// exists the upsert creates one, and when a live lock is held by anyone the
// filter misses but the upsert collides on _id, surfacing a duplicate-key
// error that we read as "held". Renewal by the current owner also matches
// via the ownerId branch.
func (lr *LockRepository) TryAcquire(ctx context.Context, resourceID, ownerID string, ttl time.Duration) (bool, error) {
	now := time.Now()

	filter := bson.M{
		"_id": resourceID,
		"$or": []bson.M{
			{"expiresAt": bson.M{"$lt": now}},
			{"ownerId": ownerID},
		},
	}
	update := bson.M{
		"$set": bson.M{
			"ownerId":   ownerID,
			"expiresAt": now.Add(ttl),
		},
		"$setOnInsert": bson.M{
			"createdAt": now,
		},
	}

	opts := options.Update().SetUpsert(true)

	_, err := lr.collection.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// Unexpired lock held by someone else; no mutation happened.
			return false, nil
		}
		logrus.Errorf("Failed to acquire lock %s: %v", resourceID, err)
		return false, utils.NewTransientStoreError("acquire lock", err)
	}

	return true, nil
}

// Release deletes the lock only if the caller still owns it. A false return
// means owner mismatch: the lock expired and was stolen, or never existed.
func (lr *LockRepository) Release(ctx context.Context, resourceID, ownerID string) (bool, error) {
	result, err := lr.collection.DeleteOne(ctx, bson.M{
		"_id":     resourceID,
		"ownerId": ownerID,
	})
	if err != nil {
		logrus.Errorf("Failed to release lock %s: %v", resourceID, err)
		return false, utils.NewTransientStoreError("release lock", err)
	}

	return result.DeletedCount == 1, nil
}

// Get reads the current lock document, nil when absent.
func (lr *LockRepository) Get(ctx context.Context, resourceID string) (*models.Lock, error) {
	var lock models.Lock
	err := lr.collection.FindOne(ctx, bson.M{"_id": resourceID}).Decode(&lock)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, utils.NewTransientStoreError("get lock", err)
	}
	return &lock, nil
}

// DeleteExpired sweeps stale lock documents. The TTL index handles this
// eventually; the cleanup worker calls it to keep the collection tidy
// between TTL monitor passes.
func (lr *LockRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := lr.collection.DeleteMany(ctx, bson.M{
		"expiresAt": bson.M{"$lt": time.Now()},
	})
	if err != nil {
		return 0, utils.NewTransientStoreError("delete expired locks", err)
	}
	return result.DeletedCount, nil
}
