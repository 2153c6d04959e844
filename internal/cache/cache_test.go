package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/knadh/verifybot/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mockEntry = models.PendingVerification{
	OTP: models.OTP{
		Password: "AABB",
		Expiry:   time.Unix(1000, 0),
	},
	Identity: "z1234567",
	Extra:    map[string]string{"person_name": "Linus"},
}

func TestPutGetRemove(t *testing.T) {
	c := New()

	_, ok := c.Get("user")
	assert.False(t, ok, "empty cache returned an entry")

	c.Put("user", mockEntry)
	p, ok := c.Get("user")
	require.True(t, ok, "entry not found after put")
	assert.Equal(t, mockEntry, p, "entry doesn't match")

	c.Remove("user")
	_, ok = c.Get("user")
	assert.False(t, ok, "entry found after remove")

	// Idempotent.
	c.Remove("user")
	assert.Equal(t, 0, c.Len())
}

func TestPutOverwrites(t *testing.T) {
	c := New()
	c.Put("user", mockEntry)

	second := mockEntry
	second.OTP.Password = "BBBB"
	second.Identity = "z7654321"
	second.Extra = nil
	c.Put("user", second)

	assert.Equal(t, 1, c.Len(), "expected exactly one entry")
	p, _ := c.Get("user")
	assert.Equal(t, second, p, "entry wasn't replaced")
}

func TestClaim(t *testing.T) {
	c := New()
	c.Put("user", mockEntry)

	// Claiming with a stale OTP doesn't remove the entry.
	_, ok := c.Claim("user", models.OTP{Password: "ABAB", Expiry: mockEntry.OTP.Expiry})
	assert.False(t, ok, "claimed with the wrong OTP")
	assert.Equal(t, 1, c.Len())

	p, ok := c.Claim("user", mockEntry.OTP)
	assert.True(t, ok, "claim failed")
	assert.Equal(t, mockEntry, p)
	assert.Equal(t, 0, c.Len())

	_, ok = c.Claim("user", mockEntry.OTP)
	assert.False(t, ok, "entry claimed twice")
}

func TestClaimConcurrent(t *testing.T) {
	c := New()
	c.Put("user", mockEntry)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := c.Claim("user", mockEntry.OTP); ok {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, won, "expected exactly one successful claim")
}

func TestRestore(t *testing.T) {
	c := New()
	assert.True(t, c.Restore("user", mockEntry), "restore into empty slot failed")

	newer := mockEntry
	newer.OTP.Password = "BBBB"
	c.Put("user", newer)
	assert.False(t, c.Restore("user", mockEntry), "restore clobbered a newer entry")

	p, _ := c.Get("user")
	assert.Equal(t, "BBBB", p.OTP.Password)
}

func TestIncrAttempts(t *testing.T) {
	c := New()
	assert.Equal(t, 0, c.IncrAttempts("user"), "attempts on missing entry")

	c.Put("user", mockEntry)
	assert.Equal(t, 1, c.IncrAttempts("user"))
	assert.Equal(t, 2, c.IncrAttempts("user"))

	p, _ := c.Get("user")
	assert.Equal(t, 2, p.Attempts)
}

func TestConcurrentUsers(t *testing.T) {
	c := New()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("user%d", i)
			p := mockEntry
			p.Identity = id
			c.Put(id, p)
			c.Get(id)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 100, c.Len())
	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("user%d", i)
		p, ok := c.Get(id)
		require.True(t, ok)
		assert.Equal(t, id, p.Identity, "entries overwrote each other")
	}
}
