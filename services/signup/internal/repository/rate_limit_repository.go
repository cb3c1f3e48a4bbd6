package repository

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"
)

type RateLimitRepository interface {
	CheckRateLimit(ctx context.Context, key string, requests int, window time.Duration) (bool, error)
	CleanupExpired(ctx context.Context) (int64, error)
}

type rateLimitRepository struct {
	db  Querier
	now func() time.Time
}

func NewRateLimitRepository(db Querier) RateLimitRepository {
	return &rateLimitRepository{db: db, now: time.Now}
}

// CheckRateLimit counts one hit against key in a fixed window and reports
// whether the caller is still within requests. On a database error the
// request is allowed and the error returned for logging.
func (r *rateLimitRepository) CheckRateLimit(ctx context.Context, key string, requests int, window time.Duration) (bool, error) {
	// Keys carry client IPs; store only a digest.
	hashedKey := fmt.Sprintf("%x", sha256.Sum256([]byte(key)))

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	now := r.now()
	windowStart := now.Add(-window)

	const query = `
		INSERT INTO rate_limits (rl_key, count, window_start, expires_at)
		VALUES ($1, 1, $4, $3)
		ON CONFLICT (rl_key) DO UPDATE SET
			count = CASE
				WHEN rate_limits.window_start < $2 THEN 1
				ELSE rate_limits.count + 1
			END,
			window_start = CASE
				WHEN rate_limits.window_start < $2 THEN $4
				ELSE rate_limits.window_start
			END,
			expires_at = $3
		RETURNING count`

	var count int
	err := r.db.QueryRow(ctx, query, hashedKey, windowStart, now.Add(window+time.Hour), now).Scan(&count)
	if err != nil {
		return true, classifyStatement(err)
	}

	return count <= requests, nil
}

func (r *rateLimitRepository) CleanupExpired(ctx context.Context) (int64, error) {
	const q = `DELETE FROM rate_limits WHERE expires_at < now()`

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result, err := r.db.Exec(ctx, q)
	if err != nil {
		return 0, classifyStatement(err)
	}

	return result.RowsAffected(), nil
}
