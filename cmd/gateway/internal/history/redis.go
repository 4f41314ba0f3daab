package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shubham-shewale/quote-fanout/pkg/models"
)

const (
	quoteKeyPrefix = "quotes:"
	symbolsKey     = "quotes:symbols"
)

// Compile-time check to ensure RedisStore implements Store
var _ Store = (*RedisStore)(nil)

// RedisStore keeps one sorted set per symbol, scored by unix micro. Members
// are the JSON quote behind a zero-padded seq prefix, so quotes sharing a
// timestamp sort in arrival order. A side set indexes known symbols for
// pruning.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func quoteKey(symbol string) string { return quoteKeyPrefix + symbol }

// member sorts lexicographically by seq within one score.
func member(q models.Quote, payload []byte) string {
	return fmt.Sprintf("%020d|%s", q.Seq, payload)
}

func score(t time.Time) string { return strconv.FormatInt(t.UnixMicro(), 10) }

func (r *RedisStore) Append(ctx context.Context, q models.Quote) error {
	payload, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal quote: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.ZAdd(ctx, quoteKey(q.Symbol), redis.Z{Score: float64(q.Timestamp.UnixMicro()), Member: member(q, payload)})
	pipe.SAdd(ctx, symbolsKey, q.Symbol)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis append %s: %w", q.Symbol, err)
	}
	return nil
}

func (r *RedisStore) Range(ctx context.Context, symbol string, from, to time.Time) ([]models.Quote, error) {
	members, err := r.client.ZRangeByScore(ctx, quoteKey(symbol), &redis.ZRangeBy{
		Min: score(from),
		Max: score(to),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis range %s: %w", symbol, err)
	}
	return decodeQuotes(members)
}

func (r *RedisStore) Latest(ctx context.Context, symbol string, n int) ([]models.Quote, error) {
	if n <= 0 {
		return []models.Quote{}, nil
	}
	members, err := r.client.ZRange(ctx, quoteKey(symbol), int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis latest %s: %w", symbol, err)
	}
	return decodeQuotes(members)
}

func (r *RedisStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	symbols, err := r.client.SMembers(ctx, symbolsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis list symbols: %w", err)
	}
	if len(symbols) == 0 {
		return 0, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(symbols))
	for i, sym := range symbols {
		cmds[i] = pipe.ZRemRangeByScore(ctx, quoteKey(sym), "-inf", "("+score(before))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis prune: %w", err)
	}

	var removed int64
	for _, cmd := range cmds {
		removed += cmd.Val()
	}
	return removed, nil
}

// Close is a no-op; the client is owned by the caller.
func (r *RedisStore) Close() error {
	return nil
}

func decodeQuotes(members []string) ([]models.Quote, error) {
	out := make([]models.Quote, 0, len(members))
	for _, m := range members {
		_, payload, ok := strings.Cut(m, "|")
		if !ok {
			return nil, fmt.Errorf("decode quote: malformed member %q", m)
		}
		var q models.Quote
		if err := json.Unmarshal([]byte(payload), &q); err != nil {
			return nil, fmt.Errorf("decode quote: %w", err)
		}
		out = append(out, q)
	}
	return out, nil
}
