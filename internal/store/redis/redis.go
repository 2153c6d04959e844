package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/knadh/verifybot/internal/store"
	"github.com/knadh/verifybot/pkg/models"
	"github.com/redis/go-redis/v9"
)

const pageSize = 100

// Redis implements a Redis Store. Records are appended to a Redis
// stream.
type Redis struct {
	client *redis.Client
	conf   Conf
}

// Conf contains Redis configuration fields.
type Conf struct {
	Host     string        `koanf:"host"`
	Port     int           `koanf:"port"`
	Username string        `koanf:"username"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	Timeout  time.Duration `koanf:"timeout"`
	Key      string        `koanf:"key"`

	// If this is set, 'verified' events will be PUBLISHed to
	// to this Redis key (Redis PubSub).
	PublishKey string `koanf:"publish_key"`
}

type event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// New returns a Redis implementation of store.
func New(c Conf) *Redis {
	if c.Key == "" {
		c.Key = "verifybot:records"
	}

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", c.Host, c.Port),
		Username:     c.Username,
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  c.Timeout,
		WriteTimeout: c.Timeout,
		ReadTimeout:  c.Timeout,
	})

	return &Redis{
		conf:   c,
		client: client,
	}
}

// Ping checks if Redis server is reachable
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Append adds a record to the stream.
func (r *Redis) Append(ctx context.Context, rec models.Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	if err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.conf.Key,
		Values: map[string]interface{}{"record": string(b)},
	}).Err(); err != nil {
		return err
	}

	// If there's a configured PublishKey, publish the event.
	if r.conf.PublishKey != "" {
		e, _ := json.Marshal(event{
			Type: "verified",
			Data: json.RawMessage(b),
		})
		if err := r.client.Publish(ctx, r.conf.PublishKey, e).Err(); err != nil {
			return err
		}
	}

	return nil
}

// Stream reads the stream from the beginning, page by page.
func (r *Redis) Stream(ctx context.Context, fn func(models.Record) error) error {
	start := "-"
	for {
		msgs, err := r.client.XRangeN(ctx, r.conf.Key, start, "+", pageSize).Result()
		if err != nil {
			return err
		}

		// Every page after the first starts with the last ID of the
		// previous page, which has already been read.
		if start != "-" && len(msgs) > 0 && msgs[0].ID == start {
			msgs = msgs[1:]
		}
		if len(msgs) == 0 {
			return nil
		}

		for _, m := range msgs {
			raw, _ := m.Values["record"].(string)

			var rec models.Record
			if err := json.Unmarshal([]byte(raw), &rec); err != nil {
				return fmt.Errorf("error decoding record %s: %v", m.ID, err)
			}

			if err := fn(rec); err != nil {
				if err == store.ErrStop {
					return nil
				}
				return err
			}
		}

		start = msgs[len(msgs)-1].ID
	}
}

// Close closes the Redis client.
func (r *Redis) Close(ctx context.Context) error {
	return r.client.Close()
}
