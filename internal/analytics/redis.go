// Package analytics records rule-hit counters in Redis for dashboards.
// Writes are best-effort: a Redis outage never affects run correctness.
package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/djlord-it/govsync/internal/domain"
)

// DefaultRetention is how long hit counters are kept.
const DefaultRetention = 30 * 24 * time.Hour

type RedisSink struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{client: client, retention: DefaultRetention}
}

// RecordRuleHit increments the tenant's hourly bucket for the automation
// rule. Errors are logged and swallowed.
func (s *RedisSink) RecordRuleHit(ctx context.Context, tenantID uuid.UUID, automation domain.AutomationType, at time.Time) {
	key := buildKey(tenantID.String(), string(automation), at)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("analytics: redis pipeline: %v", err)
	}
}

func buildKey(tenantID, automation string, t time.Time) string {
	return fmt.Sprintf("t:%s:a:%s:%s", tenantID, automation, t.UTC().Format("2006010215"))
}
