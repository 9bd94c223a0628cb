package repositories

import (
	"context"
	"time"

	"resqlink/models"
	"resqlink/utils"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type GroupRepository struct {
	collection *mongo.Collection
}

func NewGroupRepository(database *mongo.Database) *GroupRepository {
	return &GroupRepository{
		collection: database.Collection("groups"),
	}
}

func (gr *GroupRepository) GetByID(ctx context.Context, id string) (*models.Group, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, utils.NewBadRequestError("invalid group ID")
	}

	var group models.Group
	err = gr.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&group)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, utils.NewNotFoundError("Group")
		}
		logrus.Errorf("Failed to get group by ID: %v", err)
		return nil, utils.NewTransientStoreError("get group", err)
	}

	return &group, nil
}

func (gr *GroupRepository) GetUserGroups(ctx context.Context, userID string) ([]models.Group, error) {
	userObjectID, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, utils.NewBadRequestError("invalid user ID")
	}

	cursor, err := gr.collection.Find(ctx, bson.M{"members.userId": userObjectID})
	if err != nil {
		logrus.Errorf("Failed to get user groups: %v", err)
		return nil, utils.NewTransientStoreError("get user groups", err)
	}
	defer cursor.Close(ctx)

	var groups []models.Group
	if err = cursor.All(ctx, &groups); err != nil {
		logrus.Errorf("Failed to decode user groups: %v", err)
		return nil, utils.NewTransientStoreError("decode user groups", err)
	}

	return groups, nil
}

// SetMemberEmergencyFlag flips the denormalized is-in-emergency marker on
// one roster entry. Best-effort secondary write: not atomically joined to
// the Emergency transition that motivated it.
func (gr *GroupRepository) SetMemberEmergencyFlag(ctx context.Context, groupID, userID string, inEmergency bool) error {
	groupObjectID, err := primitive.ObjectIDFromHex(groupID)
	if err != nil {
		return utils.NewBadRequestError("invalid group ID")
	}
	userObjectID, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return utils.NewBadRequestError("invalid user ID")
	}

	filter := bson.M{
		"_id":            groupObjectID,
		"members.userId": userObjectID,
	}
	update := bson.M{"$set": bson.M{
		"members.$.isInEmergency": inEmergency,
		"members.$.lastActivity":  time.Now(),
		"updatedAt":               time.Now(),
	}}

	result, err := gr.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		logrus.Errorf("Failed to set emergency flag for member %s in group %s: %v", userID, groupID, err)
		return utils.NewTransientStoreError("set member emergency flag", err)
	}
	if result.MatchedCount == 0 {
		return utils.NewNotFoundError("Group member")
	}

	return nil
}

// GetAllGroups returns every group. The reconciliation pass iterates the
// full set; group counts are small in this deployment.
func (gr *GroupRepository) GetAllGroups(ctx context.Context) ([]models.Group, error) {
	cursor, err := gr.collection.Find(ctx, bson.M{})
	if err != nil {
		logrus.Errorf("Failed to list groups: %v", err)
		return nil, utils.NewTransientStoreError("list groups", err)
	}
	defer cursor.Close(ctx)

	var groups []models.Group
	if err = cursor.All(ctx, &groups); err != nil {
		return nil, utils.NewTransientStoreError("decode groups", err)
	}

	return groups, nil
}
