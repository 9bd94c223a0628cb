package models

import "time"

// Lock is a TTL-bounded advisory lock document. Keyed by resource ID
// (the document _id), created/renewed/deleted only inside CAS updates.
// Nothing at the data layer stops a writer that skips the lock; mutual
// exclusion holds only among callers honoring the convention.
type Lock struct {
	ResourceID string    `json:"resourceId" bson:"_id"`
	OwnerID    string    `json:"ownerId" bson:"ownerId"`
	ExpiresAt  time.Time `json:"expiresAt" bson:"expiresAt"`
	CreatedAt  time.Time `json:"createdAt" bson:"createdAt"`
}

// IsExpired reports whether the lock is reclaimable at the given instant.
func (l Lock) IsExpired(now time.Time) bool {
	return l.ExpiresAt.Before(now)
}

// HeldBy reports whether the lock is live and owned by ownerID.
func (l Lock) HeldBy(ownerID string, now time.Time) bool {
	return l.OwnerID == ownerID && !l.IsExpired(now)
}
