package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"chat-hub/internal/config"
	"chat-hub/internal/log"
)

// NewRedisClient connects and pings. It fails fast when the server is unreachable.
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// PresenceMirror publishes confirmed presence transitions as Redis hashes so
// other services can read who is online without talking to this process.
// Online keys carry a TTL; a crashed instance therefore stops claiming users.
type PresenceMirror struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewPresenceMirror(client *redis.Client, prefix string, ttl time.Duration) *PresenceMirror {
	if prefix == "" {
		prefix = "chat:presence"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &PresenceMirror{client: client, prefix: prefix, ttl: ttl}
}

func (m *PresenceMirror) keyFor(userID int) string {
	return fmt.Sprintf("%s:user:%d", m.prefix, userID)
}

func (m *PresenceMirror) SetOnline(ctx context.Context, userID int) error {
	key := m.keyFor(userID)
	pipe := m.client.TxPipeline()
	pipe.HSet(ctx, key, "online", "1", "since", time.Now().UTC().Format(time.RFC3339))
	pipe.HDel(ctx, key, "last_seen")
	pipe.Expire(ctx, key, m.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mirror online presence: %w", err)
	}
	logger := log.L()
	logger.Debug().Int(log.FieldUserID, userID).Msg("presence mirrored online")
	return nil
}

// SetOffline keeps the key without a TTL so last_seen survives.
func (m *PresenceMirror) SetOffline(ctx context.Context, userID int, lastSeen time.Time) error {
	key := m.keyFor(userID)
	pipe := m.client.TxPipeline()
	pipe.HSet(ctx, key, "online", "0", "last_seen", lastSeen.UTC().Format(time.RFC3339Nano))
	pipe.HDel(ctx, key, "since")
	pipe.Persist(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mirror offline presence: %w", err)
	}
	logger := log.L()
	logger.Debug().Int(log.FieldUserID, userID).Msg("presence mirrored offline")
	return nil
}

// Lookup reads a mirrored entry. A missing key reports offline with no last seen.
func (m *PresenceMirror) Lookup(ctx context.Context, userID int) (bool, *time.Time, error) {
	values, err := m.client.HGetAll(ctx, m.keyFor(userID)).Result()
	if err != nil {
		return false, nil, err
	}
	online, _ := strconv.ParseBool(values["online"])
	raw, ok := values["last_seen"]
	if !ok {
		return online, nil, nil
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return online, nil, fmt.Errorf("invalid last_seen %q: %w", raw, err)
	}
	return online, &at, nil
}
