package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"resqlink/models"
	"resqlink/utils"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	userLocationKeyPrefix = "location:user:"
	userLocationTTL       = 30 * time.Minute
)

type UserRepository struct {
	collection *mongo.Collection
	redis      *redis.Client
}

func NewUserRepository(database *mongo.Database, redisClient *redis.Client) *UserRepository {
	return &UserRepository{
		collection: database.Collection("users"),
		redis:      redisClient,
	}
}

func (ur *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, utils.NewBadRequestError("invalid user ID")
	}

	var user models.User
	err = ur.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&user)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, utils.NewNotFoundError("User")
		}
		logrus.Errorf("Failed to get user by ID: %v", err)
		return nil, utils.NewTransientStoreError("get user", err)
	}

	return &user, nil
}

func (ur *UserRepository) GetByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	objectIDs := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		objectID, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			continue
		}
		objectIDs = append(objectIDs, objectID)
	}
	if len(objectIDs) == 0 {
		return nil, nil
	}

	cursor, err := ur.collection.Find(ctx, bson.M{"_id": bson.M{"$in": objectIDs}})
	if err != nil {
		logrus.Errorf("Failed to get users by IDs: %v", err)
		return nil, utils.NewTransientStoreError("get users", err)
	}
	defer cursor.Close(ctx)

	var users []models.User
	if err = cursor.All(ctx, &users); err != nil {
		return nil, utils.NewTransientStoreError("decode users", err)
	}

	return users, nil
}

// GetDeviceTokens returns the push tokens of the given users, skipping any
// without a registered device.
func (ur *UserRepository) GetDeviceTokens(ctx context.Context, userIDs []string) (map[string]string, error) {
	users, err := ur.GetByIDs(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	tokens := make(map[string]string)
	for _, user := range users {
		if user.DeviceToken != "" && user.IsActive {
			tokens[user.ID.Hex()] = user.DeviceToken
		}
	}

	return tokens, nil
}

func (ur *UserRepository) UpdateDeviceToken(ctx context.Context, userID, token, deviceType string) error {
	objectID, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return utils.NewBadRequestError("invalid user ID")
	}

	update := bson.M{"$set": bson.M{
		"deviceToken": token,
		"deviceType":  deviceType,
		"updatedAt":   time.Now(),
	}}

	result, err := ur.collection.UpdateOne(ctx, bson.M{"_id": objectID}, update)
	if err != nil {
		logrus.Errorf("Failed to update device token: %v", err)
		return utils.NewTransientStoreError("update device token", err)
	}
	if result.MatchedCount == 0 {
		return utils.NewNotFoundError("User")
	}

	return nil
}

func (ur *UserRepository) SetOnlineStatus(ctx context.Context, userID string, online bool) error {
	objectID, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return utils.NewBadRequestError("invalid user ID")
	}

	update := bson.M{"$set": bson.M{
		"isOnline": online,
		"lastSeen": time.Now(),
	}}

	_, err = ur.collection.UpdateOne(ctx, bson.M{"_id": objectID}, update)
	if err != nil {
		logrus.Errorf("Failed to set online status: %v", err)
		return utils.NewTransientStoreError("set online status", err)
	}

	return nil
}

// UpdateLastKnownLocation writes the user's latest position to Mongo and
// mirrors it into Redis for the fan-out radius check. Telemetry path: last
// writer wins, no CAS.
func (ur *UserRepository) UpdateLastKnownLocation(ctx context.Context, userID string, location models.GeoPoint) error {
	objectID, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return utils.NewBadRequestError("invalid user ID")
	}

	now := time.Now()
	update := bson.M{"$set": bson.M{
		"lastKnownLocation":   location,
		"lastKnownLocationAt": now,
		"lastSeen":            now,
	}}

	if _, err = ur.collection.UpdateOne(ctx, bson.M{"_id": objectID}, update); err != nil {
		logrus.Errorf("Failed to update last known location: %v", err)
		return utils.NewTransientStoreError("update location", err)
	}

	if ur.redis != nil {
		payload, _ := json.Marshal(cachedLocation{
			Latitude:  location.Latitude,
			Longitude: location.Longitude,
			UpdatedAt: now,
		})
		if err := ur.redis.Set(ctx, userLocationKeyPrefix+userID, payload, userLocationTTL).Err(); err != nil {
			logrus.Warnf("Failed to cache location for user %s: %v", userID, err)
		}
	}

	return nil
}

type cachedLocation struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// GetLastKnownLocation prefers the Redis mirror and falls back to Mongo.
func (ur *UserRepository) GetLastKnownLocation(ctx context.Context, userID string) (*models.GeoPoint, error) {
	if ur.redis != nil {
		data, err := ur.redis.Get(ctx, userLocationKeyPrefix+userID).Bytes()
		if err == nil {
			var cached cachedLocation
			if jsonErr := json.Unmarshal(data, &cached); jsonErr == nil {
				return &models.GeoPoint{Latitude: cached.Latitude, Longitude: cached.Longitude}, nil
			}
		} else if err != redis.Nil {
			logrus.Warnf("Redis location lookup failed for user %s: %v", userID, err)
		}
	}

	user, err := ur.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return user.LastKnownLocation, nil
}

// GetNearbyUsers returns the subset of candidateIDs whose last known
// location falls within radiusM of center. A bounding-box Mongo query does
// the coarse cut; exact distances come from the Haversine formula.
func (ur *UserRepository) GetNearbyUsers(ctx context.Context, candidateIDs []string, center models.GeoPoint, radiusM float64) ([]models.User, error) {
	objectIDs := make([]primitive.ObjectID, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		objectID, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			continue
		}
		objectIDs = append(objectIDs, objectID)
	}
	if len(objectIDs) == 0 {
		return nil, nil
	}

	box := utils.CalculateBoundingBox(center.Latitude, center.Longitude, radiusM)
	filter := bson.M{
		"_id":      bson.M{"$in": objectIDs},
		"isActive": true,
		"lastKnownLocation.latitude": bson.M{
			"$gte": box.SouthWest.Latitude,
			"$lte": box.NorthEast.Latitude,
		},
		"lastKnownLocation.longitude": bson.M{
			"$gte": box.SouthWest.Longitude,
			"$lte": box.NorthEast.Longitude,
		},
	}

	cursor, err := ur.collection.Find(ctx, filter)
	if err != nil {
		logrus.Errorf("Failed to query nearby users: %v", err)
		return nil, utils.NewTransientStoreError("query nearby users", err)
	}
	defer cursor.Close(ctx)

	var candidates []models.User
	if err = cursor.All(ctx, &candidates); err != nil {
		return nil, utils.NewTransientStoreError("decode nearby users", err)
	}

	var nearby []models.User
	for _, user := range candidates {
		if user.LastKnownLocation == nil {
			continue
		}
		distance := utils.CalculateDistance(
			center.Latitude, center.Longitude,
			user.LastKnownLocation.Latitude, user.LastKnownLocation.Longitude,
		)
		if distance <= radiusM {
			nearby = append(nearby, user)
		}
	}

	return nearby, nil
}

// ClearLocationCache drops the Redis mirror entry, used when a user goes
// offline.
func (ur *UserRepository) ClearLocationCache(ctx context.Context, userID string) error {
	if ur.redis == nil {
		return nil
	}
	if err := ur.redis.Del(ctx, userLocationKeyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("clear location cache: %w", err)
	}
	return nil
}
