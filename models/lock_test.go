package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLockExpiry(t *testing.T) {
	now := time.Now()
	lock := Lock{
		ResourceID: "group:abc",
		OwnerID:    "owner-1",
		ExpiresAt:  now.Add(30 * time.Second),
	}

	assert.False(t, lock.IsExpired(now))
	assert.True(t, lock.IsExpired(now.Add(31*time.Second)))
}

func TestLockHeldBy(t *testing.T) {
	now := time.Now()
	lock := Lock{
		ResourceID: "group:abc",
		OwnerID:    "owner-1",
		ExpiresAt:  now.Add(30 * time.Second),
	}

	assert.True(t, lock.HeldBy("owner-1", now))
	assert.False(t, lock.HeldBy("owner-2", now))
	assert.False(t, lock.HeldBy("owner-1", now.Add(time.Minute)), "expired lock is not held")
}
