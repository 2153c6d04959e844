package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/knadh/verifybot/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestamp(t *testing.T) {
	ts := time.Date(2024, 2, 1, 10, 0, 0, 250000000, time.UTC)
	s := formatTimestamp(ts)
	assert.Equal(t, "1706781600.250000", s)
	assert.True(t, ts.Equal(parseTimestamp(s)), "timestamp doesn't round trip")

	assert.True(t, parseTimestamp("bogus").IsZero())
}

// TestStore runs against a live MongoDB when MONGO_URI is set.
func TestStore(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}

	ctx := context.Background()
	m, err := New(ctx, Conf{URI: uri, Database: "verifybot_test", Collection: "verify"})
	require.NoError(t, err)
	t.Cleanup(func() {
		m.coll.Drop(ctx)
		m.Close(ctx)
	})
	require.NoError(t, m.Ping(ctx))

	rec := models.Record{
		ID:          "01HQ7Z8F4M2S9W3X5Y6Z7A8B9C",
		UserID:      "237465974545055744",
		Identity:    "z1234567",
		DisplayName: "stellaurora",
		VerifiedAt:  time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC),
		Extra:       map[string]string{"person_name": "Linus Torvalds"},
	}
	require.NoError(t, m.Append(ctx, rec))
	require.NoError(t, m.Append(ctx, rec))

	var out []models.Record
	require.NoError(t, m.Stream(ctx, func(r models.Record) error {
		out = append(out, r)
		return nil
	}))
	require.Len(t, out, 2)
	assert.Equal(t, rec, out[0])
}
