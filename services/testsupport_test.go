package services

import (
	"context"
	"sync"
	"time"

	"resqlink/models"
	"resqlink/utils"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// fakeEmergencyStore is an in-memory EmergencyStore with the same
// conditional-write semantics as the Mongo repository: transitions check
// legal predecessors atomically under the store mutex.
type fakeEmergencyStore struct {
	mu          sync.Mutex
	emergencies map[string]*models.Emergency
}

func newFakeEmergencyStore() *fakeEmergencyStore {
	return &fakeEmergencyStore{emergencies: make(map[string]*models.Emergency)}
}

func (f *fakeEmergencyStore) Create(ctx context.Context, emergency *models.Emergency) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if emergency.ID.IsZero() {
		emergency.ID = primitive.NewObjectID()
	}
	if emergency.Status == "" {
		emergency.Status = models.EmergencyStatusUnverified
	}
	if emergency.Responses == nil {
		emergency.Responses = make(map[string]models.VolunteerResponse)
	}
	if emergency.Resolution.VolunteerResolutions == nil {
		emergency.Resolution.VolunteerResolutions = make(map[string]models.VolunteerResolution)
	}
	now := time.Now()
	emergency.CreatedAt = now
	emergency.UpdatedAt = now

	clone := cloneEmergency(emergency)
	f.emergencies[emergency.ID.Hex()] = clone
	return nil
}

func (f *fakeEmergencyStore) GetByID(ctx context.Context, id string) (*models.Emergency, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getLocked(id)
}

func (f *fakeEmergencyStore) getLocked(id string) (*models.Emergency, error) {
	emergency, ok := f.emergencies[id]
	if !ok {
		return nil, utils.NewNotFoundError("Emergency")
	}
	return cloneEmergency(emergency), nil
}

func (f *fakeEmergencyStore) GetActiveByReporter(ctx context.Context, reporterID string) (*models.Emergency, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var newest *models.Emergency
	for _, emergency := range f.emergencies {
		if emergency.ReporterID.Hex() != reporterID || models.IsTerminalStatus(emergency.Status) {
			continue
		}
		if newest == nil || emergency.CreatedAt.After(newest.CreatedAt) {
			newest = emergency
		}
	}
	if newest == nil {
		return nil, nil
	}
	return cloneEmergency(newest), nil
}

func (f *fakeEmergencyStore) GetAllActiveByReporter(ctx context.Context, reporterID string) ([]models.Emergency, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []models.Emergency
	for _, emergency := range f.emergencies {
		if emergency.ReporterID.Hex() == reporterID && !models.IsTerminalStatus(emergency.Status) {
			result = append(result, *cloneEmergency(emergency))
		}
	}
	return result, nil
}

func (f *fakeEmergencyStore) GetAllActive(ctx context.Context) ([]models.Emergency, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []models.Emergency
	for _, emergency := range f.emergencies {
		if !models.IsTerminalStatus(emergency.Status) {
			result = append(result, *cloneEmergency(emergency))
		}
	}
	return result, nil
}

func (f *fakeEmergencyStore) GetGroupEmergencies(ctx context.Context, groupID string) ([]models.Emergency, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []models.Emergency
	for _, emergency := range f.emergencies {
		if emergency.GroupID.Hex() == groupID {
			result = append(result, *cloneEmergency(emergency))
		}
	}
	return result, nil
}

func (f *fakeEmergencyStore) GetVolunteerEmergencies(ctx context.Context, volunteerID string) ([]models.Emergency, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []models.Emergency
	for _, emergency := range f.emergencies {
		if _, ok := emergency.Responses[volunteerID]; ok {
			result = append(result, *cloneEmergency(emergency))
		}
	}
	return result, nil
}

func (f *fakeEmergencyStore) TransitionStatus(ctx context.Context, id, target string, set bson.M) (*models.Emergency, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	emergency, ok := f.emergencies[id]
	if !ok {
		return nil, utils.NewNotFoundError("Emergency")
	}
	if !models.CanTransition(emergency.Status, target) {
		return nil, utils.NewInvalidTransitionError(emergency.Status, target)
	}

	emergency.Status = target
	emergency.UpdatedAt = time.Now()
	applyTimestamps(emergency, set)
	if reason, ok := set["escalationReason"].(string); ok {
		emergency.EscalationReason = reason
	}

	return cloneEmergency(emergency), nil
}

func (f *fakeEmergencyStore) ForceResolve(ctx context.Context, id, reason string) (*models.Emergency, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	emergency, ok := f.emergencies[id]
	if !ok {
		return nil, utils.NewNotFoundError("Emergency")
	}
	if models.IsTerminalStatus(emergency.Status) {
		return nil, utils.NewInvalidTransitionError(emergency.Status, models.EmergencyStatusResolved)
	}

	now := time.Now()
	emergency.Status = models.EmergencyStatusResolved
	emergency.CancellationReason = reason
	emergency.ResolvedAt = &now
	emergency.UpdatedAt = now

	return cloneEmergency(emergency), nil
}

func (f *fakeEmergencyStore) SetResponse(ctx context.Context, id, volunteerID string, response models.VolunteerResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	emergency, ok := f.emergencies[id]
	if !ok {
		return utils.NewNotFoundError("Emergency")
	}
	emergency.Responses[volunteerID] = response
	emergency.UpdatedAt = time.Now()
	return nil
}

func (f *fakeEmergencyStore) UpdateResponseFields(ctx context.Context, id, volunteerID string, fields bson.M) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	emergency, ok := f.emergencies[id]
	if !ok {
		return utils.NewNotFoundError("Emergency")
	}
	response, ok := emergency.Responses[volunteerID]
	if !ok {
		return utils.NewNotFoundError("Volunteer response")
	}

	if status, ok := fields["status"].(string); ok {
		response.Status = status
	}
	if updated, ok := fields["lastUpdated"].(time.Time); ok {
		response.LastUpdated = updated
	}
	if location, ok := fields["currentLocation"].(*models.GeoPoint); ok {
		response.CurrentLocation = location
	}
	if eta, ok := fields["estimatedArrivalTime"].(string); ok {
		response.EstimatedArrivalTime = eta
	}

	emergency.Responses[volunteerID] = response
	emergency.UpdatedAt = time.Now()
	return nil
}

func (f *fakeEmergencyStore) AppendRoutePoint(ctx context.Context, id, volunteerID string, point models.GeoPoint, eta string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	emergency, ok := f.emergencies[id]
	if !ok {
		return utils.NewNotFoundError("Emergency")
	}
	if models.IsTerminalStatus(emergency.Status) {
		return utils.NewInvalidTransitionError(emergency.Status, emergency.Status)
	}
	response, ok := emergency.Responses[volunteerID]
	if !ok {
		return utils.NewNotFoundError("Volunteer response")
	}

	response.RoutePoints = append(response.RoutePoints, point)
	response.CurrentLocation = &point
	response.EstimatedArrivalTime = eta
	response.LastUpdated = time.Now()
	emergency.Responses[volunteerID] = response
	emergency.UpdatedAt = time.Now()
	return nil
}

func (f *fakeEmergencyStore) AppendNotification(ctx context.Context, id string, notification models.AttendeeNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	emergency, ok := f.emergencies[id]
	if !ok {
		return utils.NewNotFoundError("Emergency")
	}
	emergency.Notifications = append(emergency.Notifications, notification)
	emergency.UpdatedAt = time.Now()
	return nil
}

func (f *fakeEmergencyStore) SetAttendeeResolution(ctx context.Context, id, notes string) (*models.Emergency, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	emergency, ok := f.emergencies[id]
	if !ok {
		return nil, utils.NewNotFoundError("Emergency")
	}
	if !emergency.Resolution.Attendee {
		now := time.Now()
		emergency.Resolution.Attendee = true
		emergency.Resolution.AttendeeResolvedAt = &now
		emergency.Resolution.AttendeeNotes = notes
		emergency.UpdatedAt = now
	}
	return cloneEmergency(emergency), nil
}

func (f *fakeEmergencyStore) SetVolunteerResolution(ctx context.Context, id, volunteerID, notes string) (*models.Emergency, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	emergency, ok := f.emergencies[id]
	if !ok {
		return nil, utils.NewNotFoundError("Emergency")
	}
	now := time.Now()
	if emergency.Resolution.VolunteerResolutions == nil {
		emergency.Resolution.VolunteerResolutions = make(map[string]models.VolunteerResolution)
	}
	if _, acked := emergency.Resolution.VolunteerResolutions[volunteerID]; !acked {
		emergency.Resolution.VolunteerResolutions[volunteerID] = models.VolunteerResolution{
			ResolvedAt: now,
			Notes:      notes,
		}
	}
	emergency.Resolution.HasVolunteerCompleted = true
	emergency.UpdatedAt = now
	return cloneEmergency(emergency), nil
}

func applyTimestamps(emergency *models.Emergency, set bson.M) {
	for key, value := range set {
		ts, ok := value.(time.Time)
		if !ok {
			continue
		}
		switch key {
		case "acceptedAt":
			emergency.AcceptedAt = &ts
		case "arrivedAt":
			emergency.ArrivedAt = &ts
		case "verifiedAt":
			emergency.VerifiedAt = &ts
		case "resolvedAt":
			emergency.ResolvedAt = &ts
		}
	}
}

func cloneEmergency(src *models.Emergency) *models.Emergency {
	clone := *src
	clone.Responses = make(map[string]models.VolunteerResponse, len(src.Responses))
	for k, v := range src.Responses {
		clone.Responses[k] = v
	}
	clone.Resolution.VolunteerResolutions = make(map[string]models.VolunteerResolution, len(src.Resolution.VolunteerResolutions))
	for k, v := range src.Resolution.VolunteerResolutions {
		clone.Resolution.VolunteerResolutions[k] = v
	}
	clone.Notifications = append([]models.AttendeeNotification(nil), src.Notifications...)
	return &clone
}

// fakeLockStore mimics the Mongo lock collection: acquire succeeds only
// when the document is absent, expired, or already owned by the caller.
type fakeLockStore struct {
	mu    sync.Mutex
	locks map[string]models.Lock
}

func newFakeLockStore() *fakeLockStore {
	return &fakeLockStore{locks: make(map[string]models.Lock)}
}

func (f *fakeLockStore) TryAcquire(ctx context.Context, resourceID, ownerID string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	existing, held := f.locks[resourceID]
	if held && !existing.IsExpired(now) && existing.OwnerID != ownerID {
		return false, nil
	}

	f.locks[resourceID] = models.Lock{
		ResourceID: resourceID,
		OwnerID:    ownerID,
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	}
	return true, nil
}

func (f *fakeLockStore) Release(ctx context.Context, resourceID, ownerID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	existing, held := f.locks[resourceID]
	if !held || existing.OwnerID != ownerID {
		return false, nil
	}
	delete(f.locks, resourceID)
	return true, nil
}

func (f *fakeLockStore) Get(ctx context.Context, resourceID string) (*models.Lock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	existing, held := f.locks[resourceID]
	if !held {
		return nil, nil
	}
	clone := existing
	return &clone, nil
}

// fakeGroupStore serves a fixed set of groups and records flag writes.
type fakeGroupStore struct {
	mu     sync.Mutex
	groups map[string]*models.Group
}

func newFakeGroupStore() *fakeGroupStore {
	return &fakeGroupStore{groups: make(map[string]*models.Group)}
}

func (f *fakeGroupStore) add(group *models.Group) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups[group.ID.Hex()] = group
}

func (f *fakeGroupStore) GetByID(ctx context.Context, id string) (*models.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	group, ok := f.groups[id]
	if !ok {
		return nil, utils.NewNotFoundError("Group")
	}
	clone := *group
	clone.Members = append([]models.GroupMember(nil), group.Members...)
	return &clone, nil
}

func (f *fakeGroupStore) GetUserGroups(ctx context.Context, userID string) ([]models.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []models.Group
	for _, group := range f.groups {
		if _, ok := group.Member(userID); ok {
			result = append(result, *group)
		}
	}
	return result, nil
}

func (f *fakeGroupStore) GetAllGroups(ctx context.Context) ([]models.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []models.Group
	for _, group := range f.groups {
		result = append(result, *group)
	}
	return result, nil
}

func (f *fakeGroupStore) SetMemberEmergencyFlag(ctx context.Context, groupID, userID string, inEmergency bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	group, ok := f.groups[groupID]
	if !ok {
		return utils.NewNotFoundError("Group")
	}
	for i := range group.Members {
		if group.Members[i].UserID.Hex() == userID {
			group.Members[i].IsInEmergency = inEmergency
			return nil
		}
	}
	return utils.NewNotFoundError("Group member")
}

// fakeUserStore serves a fixed set of users.
type fakeUserStore struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]*models.User)}
}

func (f *fakeUserStore) add(user *models.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID.Hex()] = user
}

func (f *fakeUserStore) GetByID(ctx context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	user, ok := f.users[id]
	if !ok {
		return nil, utils.NewNotFoundError("User")
	}
	clone := *user
	return &clone, nil
}

func (f *fakeUserStore) GetByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []models.User
	for _, id := range ids {
		if user, ok := f.users[id]; ok {
			result = append(result, *user)
		}
	}
	return result, nil
}

func (f *fakeUserStore) GetDeviceTokens(ctx context.Context, userIDs []string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	tokens := make(map[string]string)
	for _, id := range userIDs {
		if user, ok := f.users[id]; ok && user.DeviceToken != "" {
			tokens[id] = user.DeviceToken
		}
	}
	return tokens, nil
}

func (f *fakeUserStore) GetLastKnownLocation(ctx context.Context, userID string) (*models.GeoPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	user, ok := f.users[userID]
	if !ok {
		return nil, utils.NewNotFoundError("User")
	}
	return user.LastKnownLocation, nil
}

func (f *fakeUserStore) GetNearbyUsers(ctx context.Context, candidateIDs []string, center models.GeoPoint, radiusM float64) ([]models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var nearby []models.User
	for _, id := range candidateIDs {
		user, ok := f.users[id]
		if !ok || user.LastKnownLocation == nil {
			continue
		}
		distance := utils.CalculateDistance(
			center.Latitude, center.Longitude,
			user.LastKnownLocation.Latitude, user.LastKnownLocation.Longitude,
		)
		if distance <= radiusM {
			nearby = append(nearby, *user)
		}
	}
	return nearby, nil
}

func (f *fakeUserStore) UpdateLastKnownLocation(ctx context.Context, userID string, location models.GeoPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	user, ok := f.users[userID]
	if !ok {
		return utils.NewNotFoundError("User")
	}
	now := time.Now()
	user.LastKnownLocation = &location
	user.LastKnownLocationAt = &now
	return nil
}

// syncDispatcher runs submitted jobs inline so tests observe side effects
// deterministically.
type syncDispatcher struct{}

func (syncDispatcher) Submit(name string, fn func(ctx context.Context) error) {
	_ = fn(context.Background())
}

// recordingSender captures outbound pushes and SMS, keyed by device token.
type recordingSender struct {
	mu     sync.Mutex
	pushes []utils.PushNotification
	sent   map[string][]utils.PushNotification
	sms    []utils.SMSMessage
}

func (r *recordingSender) SendPushToMultipleDevices(ctx context.Context, deviceTokens []string, notification utils.PushNotification) ([]*utils.NotificationResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes = append(r.pushes, notification)
	if r.sent == nil {
		r.sent = make(map[string][]utils.PushNotification)
	}
	for _, token := range deviceTokens {
		r.sent[token] = append(r.sent[token], notification)
	}
	return []*utils.NotificationResult{{Success: true}}, nil
}

func (r *recordingSender) pushesTo(token string) []utils.PushNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]utils.PushNotification(nil), r.sent[token]...)
}

func (r *recordingSender) SendSMS(ctx context.Context, sms utils.SMSMessage) (*utils.NotificationResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sms = append(r.sms, sms)
	return &utils.NotificationResult{Success: true}, nil
}

func (r *recordingSender) smsCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sms)
}

// nullHub satisfies the broadcaster interface without a real hub.
type nullHub struct{}

func (nullHub) BroadcastToGroup(groupID string, message models.WSMessage) {}
func (nullHub) SendToUser(userID string, message models.WSMessage)       {}
func (nullHub) IsUserOnline(userID string) bool                          { return false }
