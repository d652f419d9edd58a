package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisAppender persists decision events onto a redis stream, from which the
// downstream event publisher consumes.
type RedisAppender struct {
	rdb     *redis.Client
	stream  string
	maxLen  int64
	timeout time.Duration
}

// NewRedisAppender writes to the given stream, trimming it to roughly maxLen
// entries.
func NewRedisAppender(rdb *redis.Client, stream string, maxLen int64) *RedisAppender {
	if stream == "" {
		stream = "authgate:decisions"
	}
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &RedisAppender{rdb: rdb, stream: stream, maxLen: maxLen, timeout: 2 * time.Second}
}

// Append serialises the event and XADDs it. Any failure is retryable.
func (a *RedisAppender) Append(ev *Event) error {
	payload, err := json.Marshal(struct {
		Transaction any `json:"transaction"`
		Decision    any `json:"decision"`
	}{ev.Transaction, ev.Decision})
	if err != nil {
		return fmt.Errorf("marshal decision event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	err = a.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: a.stream,
		MaxLen: a.maxLen,
		Approx: true,
		Values: map[string]any{
			"decision_id":    ev.Decision.DecisionID,
			"transaction_id": ev.Decision.TransactionID,
			"payload":        payload,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("append decision event: %w", err)
	}
	return nil
}
