// Package mongo implements a MongoDB Store. Documents are laid out as
// {snowflake, data: {zid, discord_name, verif_timestamp, extra_data}}
// so that existing verification collections remain readable.
package mongo

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/knadh/verifybot/internal/store"
	"github.com/knadh/verifybot/pkg/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Conf contains MongoDB configuration fields.
type Conf struct {
	URI        string        `koanf:"uri"`
	Database   string        `koanf:"database"`
	Collection string        `koanf:"collection"`
	Timeout    time.Duration `koanf:"timeout"`
}

type document struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	RecordID  string             `bson:"record_id"`
	Snowflake string             `bson:"snowflake"`
	Data      data               `bson:"data"`
}

type data struct {
	ZID         string            `bson:"zid"`
	DiscordName string            `bson:"discord_name"`
	Timestamp   string            `bson:"verif_timestamp"`
	Extra       map[string]string `bson:"extra_data"`
}

// Mongo implements store.Store.
type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// New connects to MongoDB.
func New(ctx context.Context, c Conf) (*Mongo, error) {
	if c.Database == "" {
		c.Database = "lyn"
	}
	if c.Collection == "" {
		c.Collection = "verify"
	}
	if c.Timeout < time.Second {
		c.Timeout = time.Second * 5
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(c.URI).SetTimeout(c.Timeout))
	if err != nil {
		return nil, fmt.Errorf("error connecting to mongodb: %w", err)
	}

	return &Mongo{
		client: client,
		coll:   client.Database(c.Database).Collection(c.Collection),
	}, nil
}

// Append inserts a record document.
func (m *Mongo) Append(ctx context.Context, r models.Record) error {
	_, err := m.coll.InsertOne(ctx, document{
		RecordID:  r.ID,
		Snowflake: r.UserID,
		Data: data{
			ZID:         r.Identity,
			DiscordName: r.DisplayName,
			Timestamp:   formatTimestamp(r.VerifiedAt),
			Extra:       r.Extra,
		},
	})
	return err
}

// Stream iterates over all documents in insertion order.
func (m *Mongo) Stream(ctx context.Context, fn func(models.Record) error) error {
	cur, err := m.coll.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return err
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var d document
		if err := cur.Decode(&d); err != nil {
			return err
		}

		if err := fn(models.Record{
			ID:          d.RecordID,
			UserID:      d.Snowflake,
			Identity:    d.Data.ZID,
			DisplayName: d.Data.DiscordName,
			VerifiedAt:  parseTimestamp(d.Data.Timestamp),
			Extra:       d.Data.Extra,
		}); err != nil {
			if err == store.ErrStop {
				return nil
			}
			return err
		}
	}

	return cur.Err()
}

// Ping checks if the primary is reachable.
func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// formatTimestamp formats t as fractional unix seconds.
func formatTimestamp(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixMicro())/1e6, 'f', 6, 64)
}

func parseTimestamp(s string) time.Time {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e6))*1e3).UTC()
}
