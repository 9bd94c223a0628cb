package repositories

import (
	"context"
	"fmt"
	"time"

	"resqlink/models"
	"resqlink/utils"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type EmergencyRepository struct {
	database   *mongo.Database
	collection *mongo.Collection
}

func NewEmergencyRepository(database *mongo.Database) *EmergencyRepository {
	return &EmergencyRepository{
		database:   database,
		collection: database.Collection("emergencies"),
	}
}

// =================== BASIC CRUD OPERATIONS ===================

func (er *EmergencyRepository) Create(ctx context.Context, emergency *models.Emergency) error {
	emergency.ID = primitive.NewObjectID()
	emergency.CreatedAt = time.Now()
	emergency.UpdatedAt = time.Now()

	if emergency.Status == "" {
		emergency.Status = models.EmergencyStatusUnverified
	}
	if emergency.Responses == nil {
		emergency.Responses = map[string]models.VolunteerResponse{}
	}
	if emergency.Resolution.VolunteerResolutions == nil {
		emergency.Resolution.VolunteerResolutions = map[string]models.VolunteerResolution{}
	}

	_, err := er.collection.InsertOne(ctx, emergency)
	if err != nil {
		logrus.Errorf("Failed to create emergency: %v", err)
		return utils.NewTransientStoreError("create emergency", err)
	}

	return nil
}

func (er *EmergencyRepository) GetByID(ctx context.Context, id string) (*models.Emergency, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, utils.NewBadRequestError("invalid emergency ID")
	}

	var emergency models.Emergency
	err = er.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&emergency)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, utils.NewNotFoundError("Emergency")
		}
		logrus.Errorf("Failed to get emergency by ID: %v", err)
		return nil, utils.NewTransientStoreError("get emergency", err)
	}

	return &emergency, nil
}

// GetActiveByReporter returns the newest non-terminal emergency owned by the
// reporter, or nil when none exists. This is the duplicate-prevention read;
// it is deliberately not lock-protected, so a narrow create race remains.
func (er *EmergencyRepository) GetActiveByReporter(ctx context.Context, reporterID string) (*models.Emergency, error) {
	reporterObjectID, err := primitive.ObjectIDFromHex(reporterID)
	if err != nil {
		return nil, utils.NewBadRequestError("invalid reporter ID")
	}

	filter := bson.M{
		"reporterId": reporterObjectID,
		"status":     bson.M{"$in": models.ActiveStatuses()},
	}

	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}})

	var emergency models.Emergency
	err = er.collection.FindOne(ctx, filter, opts).Decode(&emergency)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		logrus.Errorf("Failed to get active emergency for reporter: %v", err)
		return nil, utils.NewTransientStoreError("get active emergency", err)
	}

	return &emergency, nil
}

// GetAllActiveByReporter returns every non-terminal emergency for the
// reporter, newest first. Used by the duplicate cleanup pass.
func (er *EmergencyRepository) GetAllActiveByReporter(ctx context.Context, reporterID string) ([]models.Emergency, error) {
	reporterObjectID, err := primitive.ObjectIDFromHex(reporterID)
	if err != nil {
		return nil, utils.NewBadRequestError("invalid reporter ID")
	}

	filter := bson.M{
		"reporterId": reporterObjectID,
		"status":     bson.M{"$in": models.ActiveStatuses()},
	}

	return er.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
}

// GetAllActive returns every live emergency, newest first.
func (er *EmergencyRepository) GetAllActive(ctx context.Context) ([]models.Emergency, error) {
	filter := bson.M{"status": bson.M{"$in": models.ActiveStatuses()}}
	return er.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
}

func (er *EmergencyRepository) GetGroupEmergencies(ctx context.Context, groupID string) ([]models.Emergency, error) {
	groupObjectID, err := primitive.ObjectIDFromHex(groupID)
	if err != nil {
		return nil, utils.NewBadRequestError("invalid group ID")
	}

	return er.find(ctx, bson.M{"groupId": groupObjectID}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
}

func (er *EmergencyRepository) GetVolunteerEmergencies(ctx context.Context, volunteerID string) ([]models.Emergency, error) {
	filter := bson.M{
		fmt.Sprintf("responses.%s", volunteerID): bson.M{"$exists": true},
	}

	return er.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
}

func (er *EmergencyRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.Emergency, error) {
	cursor, err := er.collection.Find(ctx, filter, opts)
	if err != nil {
		logrus.Errorf("Failed to query emergencies: %v", err)
		return nil, utils.NewTransientStoreError("query emergencies", err)
	}
	defer cursor.Close(ctx)

	var emergencies []models.Emergency
	if err = cursor.All(ctx, &emergencies); err != nil {
		logrus.Errorf("Failed to decode emergencies: %v", err)
		return nil, utils.NewTransientStoreError("decode emergencies", err)
	}

	return emergencies, nil
}

// =================== CAS TRANSITIONS ===================

// TransitionStatus moves the emergency to target in a single filtered
// FindOneAndUpdate: the filter encodes the legal predecessor set, so an
// illegal transition matches nothing and no write happens. set carries the
// transition timestamp and any volunteer-scoped response fields; updatedAt
// is always touched so subscribers refresh.
func (er *EmergencyRepository) TransitionStatus(ctx context.Context, id, target string, set bson.M) (*models.Emergency, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, utils.NewBadRequestError("invalid emergency ID")
	}

	legalFrom := models.LegalPredecessors(target)
	if len(legalFrom) == 0 {
		return nil, utils.NewInvalidTransitionError("any", target)
	}

	if set == nil {
		set = bson.M{}
	}
	set["status"] = target
	set["updatedAt"] = time.Now()

	filter := bson.M{
		"_id":    objectID,
		"status": bson.M{"$in": legalFrom},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated models.Emergency
	err = er.collection.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&updated)
	if err == nil {
		return &updated, nil
	}
	if err != mongo.ErrNoDocuments {
		logrus.Errorf("Failed to transition emergency %s to %s: %v", id, target, err)
		return nil, utils.NewTransientStoreError("transition emergency", err)
	}

	// No match: either the document is gone or its status is not a legal
	// predecessor. Re-read to tell the two apart.
	current, getErr := er.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, utils.NewInvalidTransitionError(current.Status, target)
}

// ForceResolve moves any non-terminal emergency straight to resolved. Used
// by attendee cancellation and duplicate cleanup; does not consult the
// consensus predicate.
func (er *EmergencyRepository) ForceResolve(ctx context.Context, id, reason string) (*models.Emergency, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, utils.NewBadRequestError("invalid emergency ID")
	}

	now := time.Now()
	filter := bson.M{
		"_id":    objectID,
		"status": bson.M{"$in": models.ActiveStatuses()},
	}
	update := bson.M{"$set": bson.M{
		"status":             models.EmergencyStatusResolved,
		"cancellationReason": reason,
		"resolvedAt":         now,
		"updatedAt":          now,
	}}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated models.Emergency
	err = er.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated)
	if err == nil {
		return &updated, nil
	}
	if err != mongo.ErrNoDocuments {
		logrus.Errorf("Failed to force-resolve emergency %s: %v", id, err)
		return nil, utils.NewTransientStoreError("force-resolve emergency", err)
	}

	current, getErr := er.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, utils.NewInvalidTransitionError(current.Status, models.EmergencyStatusResolved)
}

// =================== PATH-SCOPED RESPONSE WRITES ===================

// SetResponse creates or overwrites responses[volunteerID] in one update.
func (er *EmergencyRepository) SetResponse(ctx context.Context, id, volunteerID string, response models.VolunteerResponse) error {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return utils.NewBadRequestError("invalid emergency ID")
	}

	update := bson.M{"$set": bson.M{
		fmt.Sprintf("responses.%s", volunteerID): response,
		"updatedAt":                              time.Now(),
	}}

	result, err := er.collection.UpdateOne(ctx, bson.M{"_id": objectID}, update)
	if err != nil {
		logrus.Errorf("Failed to set response for emergency %s: %v", id, err)
		return utils.NewTransientStoreError("set volunteer response", err)
	}
	if result.MatchedCount == 0 {
		return utils.NewNotFoundError("Emergency")
	}

	return nil
}

// UpdateResponseFields writes specific paths under responses[volunteerID],
// leaving sibling fields of concurrent writers untouched.
func (er *EmergencyRepository) UpdateResponseFields(ctx context.Context, id, volunteerID string, fields bson.M) error {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return utils.NewBadRequestError("invalid emergency ID")
	}

	set := bson.M{"updatedAt": time.Now()}
	for key, value := range fields {
		set[fmt.Sprintf("responses.%s.%s", volunteerID, key)] = value
	}

	filter := bson.M{
		"_id": objectID,
		fmt.Sprintf("responses.%s", volunteerID): bson.M{"$exists": true},
	}

	result, err := er.collection.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		logrus.Errorf("Failed to update response fields for emergency %s: %v", id, err)
		return utils.NewTransientStoreError("update volunteer response", err)
	}
	if result.MatchedCount == 0 {
		return utils.NewNotFoundError("Volunteer response")
	}

	return nil
}

// AppendRoutePoint records a tracking sample: pushes onto routePoints and
// refreshes currentLocation and the ETA text in the same write.
func (er *EmergencyRepository) AppendRoutePoint(ctx context.Context, id, volunteerID string, point models.GeoPoint, eta string) error {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return utils.NewBadRequestError("invalid emergency ID")
	}

	now := time.Now()
	prefix := fmt.Sprintf("responses.%s", volunteerID)

	update := bson.M{
		"$push": bson.M{prefix + ".routePoints": point},
		"$set": bson.M{
			prefix + ".currentLocation":      point,
			prefix + ".estimatedArrivalTime": eta,
			prefix + ".lastUpdated":          now,
			"updatedAt":                      now,
		},
	}

	filter := bson.M{
		"_id":    objectID,
		prefix:   bson.M{"$exists": true},
		"status": bson.M{"$in": models.ActiveStatuses()},
	}

	result, err := er.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		logrus.Errorf("Failed to append route point for emergency %s: %v", id, err)
		return utils.NewTransientStoreError("append route point", err)
	}
	if result.MatchedCount == 0 {
		return utils.NewNotFoundError("Volunteer response")
	}

	return nil
}

// =================== NOTIFICATION LOG ===================

// AppendNotification appends to the append-only log. Prior entries are
// never rewritten or removed here; pruning is an archival concern.
func (er *EmergencyRepository) AppendNotification(ctx context.Context, id string, notification models.AttendeeNotification) error {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return utils.NewBadRequestError("invalid emergency ID")
	}

	update := bson.M{
		"$push": bson.M{"notifications": notification},
		"$set":  bson.M{"updatedAt": time.Now()},
	}

	result, err := er.collection.UpdateOne(ctx, bson.M{"_id": objectID}, update)
	if err != nil {
		logrus.Errorf("Failed to append notification for emergency %s: %v", id, err)
		return utils.NewTransientStoreError("append notification", err)
	}
	if result.MatchedCount == 0 {
		return utils.NewNotFoundError("Emergency")
	}

	return nil
}

// =================== RESOLUTION WRITES ===================

// SetAttendeeResolution records the attendee acknowledgement. Idempotent:
// repeating it refreshes the timestamp without duplicating state.
func (er *EmergencyRepository) SetAttendeeResolution(ctx context.Context, id, notes string) (*models.Emergency, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, utils.NewBadRequestError("invalid emergency ID")
	}

	now := time.Now()
	update := bson.M{"$set": bson.M{
		"resolution.attendee":                true,
		"resolution.attendeeResolvedAt":      now,
		"resolution.attendeeResolutionNotes": notes,
		"updatedAt":                          now,
	}}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated models.Emergency
	err = er.collection.FindOneAndUpdate(ctx, bson.M{"_id": objectID}, update, opts).Decode(&updated)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, utils.NewNotFoundError("Emergency")
		}
		logrus.Errorf("Failed to set attendee resolution for emergency %s: %v", id, err)
		return nil, utils.NewTransientStoreError("set attendee resolution", err)
	}

	return &updated, nil
}

// SetVolunteerResolution records one volunteer's acknowledgement keyed by
// their ID and latches hasVolunteerCompleted on the first ack.
func (er *EmergencyRepository) SetVolunteerResolution(ctx context.Context, id, volunteerID, notes string) (*models.Emergency, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, utils.NewBadRequestError("invalid emergency ID")
	}

	now := time.Now()
	update := bson.M{"$set": bson.M{
		fmt.Sprintf("resolution.volunteerResolutions.%s", volunteerID): models.VolunteerResolution{
			ResolvedAt: now,
			Notes:      notes,
		},
		"resolution.hasVolunteerCompleted": true,
		"updatedAt":                        now,
	}}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated models.Emergency
	err = er.collection.FindOneAndUpdate(ctx, bson.M{"_id": objectID}, update, opts).Decode(&updated)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, utils.NewNotFoundError("Emergency")
		}
		logrus.Errorf("Failed to set volunteer resolution for emergency %s: %v", id, err)
		return nil, utils.NewTransientStoreError("set volunteer resolution", err)
	}

	return &updated, nil
}

// =================== CHANGE STREAMS ===================

// WatchAll opens a change stream over the whole emergencies collection with
// full post-images; the snapshot router fans documents out to group rooms
// and direct subscribers.
func (er *EmergencyRepository) WatchAll(ctx context.Context) (*mongo.ChangeStream, error) {
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	stream, err := er.collection.Watch(ctx, mongo.Pipeline{}, opts)
	if err != nil {
		logrus.Errorf("Failed to open emergency change stream: %v", err)
		return nil, utils.NewTransientStoreError("open change stream", err)
	}

	return stream, nil
}
