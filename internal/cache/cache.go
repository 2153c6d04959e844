// Package cache holds pending verifications in memory, one per user.
// Entries are never swept. Expiry is checked by the caller when an
// entry is used, and stale entries linger until they're overwritten or
// removed.
package cache

import (
	"sync"

	"github.com/knadh/verifybot/pkg/models"
)

// Cache is a concurrency safe map of user ID to pending verification.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]models.PendingVerification
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{
		entries: make(map[string]models.PendingVerification),
	}
}

// Put sets the pending verification for a user, replacing any
// existing one.
func (c *Cache) Put(userID string, p models.PendingVerification) {
	c.mu.Lock()
	c.entries[userID] = p
	c.mu.Unlock()
}

// Get returns the pending verification for a user.
func (c *Cache) Get(userID string) (models.PendingVerification, bool) {
	c.mu.RLock()
	p, ok := c.entries[userID]
	c.mu.RUnlock()
	return p, ok
}

// Remove deletes a user's pending verification. It's a no-op if there
// is none.
func (c *Cache) Remove(userID string) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
}

// Claim removes and returns a user's pending verification only if it
// still carries the given OTP. Of several concurrent claims on the same
// entry, only one succeeds.
func (c *Cache) Claim(userID string, o models.OTP) (models.PendingVerification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.entries[userID]
	if !ok || p.OTP.Password != o.Password || !p.OTP.Expiry.Equal(o.Expiry) {
		return models.PendingVerification{}, false
	}
	delete(c.entries, userID)
	return p, true
}

// Restore puts back a claimed entry unless the user has a newer one.
func (c *Cache) Restore(userID string, p models.PendingVerification) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[userID]; ok {
		return false
	}
	c.entries[userID] = p
	return true
}

// IncrAttempts increments the attempt counter on a user's pending
// verification and returns the new count. It returns 0 if there's no
// entry.
func (c *Cache) IncrAttempts(userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.entries[userID]
	if !ok {
		return 0
	}
	p.Attempts++
	c.entries[userID] = p
	return p.Attempts
}

// Len returns the number of pending verifications.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
