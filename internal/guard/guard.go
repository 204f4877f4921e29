// Package guard is the durable idempotency layer: it remembers which
// (order, message type) pairs were already delivered so no customer is ever
// messaged twice, across restarts and spreadsheet edits.
package guard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"order-messenger/internal/orders"
)

const redisOpTimeout = 3 * time.Second

// Guard consults two tiers: Redis when reachable, and the local file always.
// The file is authoritative under Redis outage; Redis adds cross-process
// visibility when several instances share one order book.
type Guard struct {
	redis  *redis.Client // nil when Redis was unreachable at startup
	file   *FileStore
	logger *zap.Logger
}

func New(rdb *redis.Client, file *FileStore, logger *zap.Logger) *Guard {
	return &Guard{redis: rdb, file: file, logger: logger}
}

// Keys derives up to three idempotency keys for one send. Order ID, phone
// and name each get their own key family so an order whose ID column was
// rewritten still collides on phone or name.
func Keys(orderID string, msgType orders.MessageType, phoneNumber, name string) []string {
	keys := make([]string, 0, 3)
	if id := strings.TrimSpace(orderID); id != "" {
		keys = append(keys, fmt.Sprintf("msg:order:%s:%s", msgType, id))
	}
	if digits := digitsOnly(phoneNumber); digits != "" {
		keys = append(keys, fmt.Sprintf("msg:phone:%s:%s", msgType, digits))
	}
	if n := strings.TrimSpace(name); n != "" {
		keys = append(keys, fmt.Sprintf("msg:name:%s:%s", msgType, n))
	}
	return keys
}

// ShouldSend returns true only when none of the derived keys exists in
// either tier. No derivable key means nothing to dedup on, so the send is
// allowed.
func (g *Guard) ShouldSend(ctx context.Context, orderID string, msgType orders.MessageType, phoneNumber, name string) bool {
	for _, key := range Keys(orderID, msgType, phoneNumber, name) {
		if g.file.Has(key) {
			return false
		}
		if g.redisHas(ctx, key) {
			return false
		}
	}
	return true
}

// MarkSent records every derived key in both tiers. The file write is the
// one that must succeed; Redis failures are logged and tolerated.
func (g *Guard) MarkSent(ctx context.Context, orderID string, msgType orders.MessageType, phoneNumber, name string) error {
	keys := Keys(orderID, msgType, phoneNumber, name)
	if len(keys) == 0 {
		return nil
	}

	if err := g.file.Add(keys...); err != nil {
		return fmt.Errorf("persist sent keys: %w", err)
	}

	if g.redis != nil {
		opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
		defer cancel()
		for _, key := range keys {
			if err := g.redis.Set(opCtx, key, "1", 0).Err(); err != nil {
				g.logger.Warn("failed to mirror sent key to redis",
					zap.String("key", key), zap.Error(err))
				break
			}
		}
	}
	return nil
}

// Reset clears the durable sent-key set in both tiers. Only the explicit
// administrative path calls this.
func (g *Guard) Reset(ctx context.Context) error {
	if err := g.file.Clear(); err != nil {
		return err
	}
	if g.redis == nil {
		return nil
	}

	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	var cursor uint64
	for {
		keys, next, err := g.redis.Scan(opCtx, cursor, "msg:*", 200).Result()
		if err != nil {
			g.logger.Warn("failed to clear redis sent keys", zap.Error(err))
			return nil
		}
		if len(keys) > 0 {
			if err := g.redis.Del(opCtx, keys...).Err(); err != nil {
				g.logger.Warn("failed to delete redis sent keys", zap.Error(err))
				return nil
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (g *Guard) redisHas(ctx context.Context, key string) bool {
	if g.redis == nil {
		return false
	}
	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	n, err := g.redis.Exists(opCtx, key).Result()
	if err != nil {
		// Outage mode: the file tier already answered.
		g.logger.Debug("redis lookup failed, relying on file tier", zap.Error(err))
		return false
	}
	return n > 0
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
