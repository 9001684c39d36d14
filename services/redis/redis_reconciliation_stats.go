package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/VillaPay/VillaPay-Backend/services/reconciliation"
)

/// This file tracks reconciliation pass statistics for the ops dashboard

const lastPassKey = "reconciliation:last_pass"

// RecordPass stores the most recent pass outcome and bumps the daily
// counters. Satisfies the reconciler's stats-recorder contract.
func (r *RedisService) RecordPass(ctx context.Context, stats reconciliation.PassStats) error {
	err := r.client.HSet(ctx, lastPassKey, map[string]interface{}{
		"pass_id":     stats.PassID,
		"started_at":  stats.StartedAt.Format(time.RFC3339),
		"finished_at": stats.FinishedAt.Format(time.RFC3339),
		"examined":    stats.Examined,
		"matched":     stats.Matched,
		"collisions":  stats.Collisions,
		"failures":    stats.Failures,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to store pass stats: %w", err)
	}

	day := stats.StartedAt.Format("2006-01-02")
	dailyKey := fmt.Sprintf("reconciliation:daily:%s", day)

	pipe := r.client.Pipeline()
	pipe.HIncrBy(ctx, dailyKey, "passes", 1)
	pipe.HIncrBy(ctx, dailyKey, "examined", int64(stats.Examined))
	pipe.HIncrBy(ctx, dailyKey, "matched", int64(stats.Matched))
	pipe.HIncrBy(ctx, dailyKey, "collisions", int64(stats.Collisions))
	pipe.HIncrBy(ctx, dailyKey, "failures", int64(stats.Failures))
	pipe.Expire(ctx, dailyKey, 7*24*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to bump daily pass counters: %w", err)
	}

	return nil
}

// GetLastPass returns the stored fields of the most recent pass, empty when
// no pass has run yet.
func (r *RedisService) GetLastPass(ctx context.Context) (map[string]string, error) {
	fields, err := r.client.HGetAll(ctx, lastPassKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get last pass stats: %w", err)
	}
	return fields, nil
}
