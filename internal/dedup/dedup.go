// Package dedup gates once-per-day actions behind Redis keys so that a
// restart or a second replica does not repeat a report or alert.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Keys live long enough to cover a calendar day plus clock skew, then
// expire so the keyspace does not grow forever.
const gateTTL = 48 * time.Hour

// Gate records which daily reports and alerts have already fired.
type Gate struct {
	rdb *redis.Client
}

// New creates a Gate backed by Redis.
func New(redisURL, password string) (*Gate, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if password != "" {
		opts.Password = password
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Gate{rdb: rdb}, nil
}

// Close shuts down the Redis connection.
func (g *Gate) Close() error {
	return g.rdb.Close()
}

func reportKey(date time.Time) string {
	return fmt.Sprintf("report:sent:%s", date.Format("2006-01-02"))
}

// TryAcquireReport atomically claims the report slot for a calendar day.
// Returns true when this caller won the slot. Fails closed: a Redis
// error reports false so a broken gate cannot cause duplicate sends.
func (g *Gate) TryAcquireReport(ctx context.Context, date time.Time) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, reportKey(date), "1", gateTTL).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// ReleaseReport frees a day's slot so the report can be retried, used
// when generation fails after the slot was claimed.
func (g *Gate) ReleaseReport(ctx context.Context, date time.Time) {
	g.rdb.Del(ctx, reportKey(date)) //nolint:errcheck
}

// ReportSent reports whether a day's report already went out.
func (g *Gate) ReportSent(ctx context.Context, date time.Time) bool {
	exists, err := g.rdb.Exists(ctx, reportKey(date)).Result()
	if err != nil {
		// Fail closed: assume sent rather than risk a duplicate.
		return true
	}
	return exists > 0
}

// AlertFired reports whether an alert key was recorded within its window.
func (g *Gate) AlertFired(ctx context.Context, key string) bool {
	exists, err := g.rdb.Exists(ctx, key).Result()
	return err == nil && exists > 0
}

// RecordAlert marks an alert key for the given window.
func (g *Gate) RecordAlert(ctx context.Context, key string, ttl time.Duration) {
	g.rdb.Set(ctx, key, "1", ttl) //nolint:errcheck
}

// ClearAlert removes an alert key so it can fire again once the
// condition has reset.
func (g *Gate) ClearAlert(ctx context.Context, key string) {
	g.rdb.Del(ctx, key) //nolint:errcheck
}
