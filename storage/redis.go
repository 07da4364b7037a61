package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"webnova-backend/sections/models"

	"github.com/redis/go-redis/v9"
)

// RedisClient wraps the Redis client with notification fan-out operations
type RedisClient struct {
	client *redis.Client
	prefix string
}

// NewRedisClient creates a new Redis client
func NewRedisClient(addr, password, prefix string, db int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	slog.Info("Redis client initialized successfully", "addr", addr)
	return &RedisClient{client: client, prefix: prefix}, nil
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}

func (r *RedisClient) key(parts ...string) string {
	key := r.prefix
	for i, p := range parts {
		if i > 0 {
			key += ":"
		}
		key += p
	}
	return key
}

// PublishNotification pushes a notification onto the user's recent list and
// publishes it on the notifications channel for the external notification
// surface. Implements billing.Notifier.
func (r *RedisClient) PublishNotification(ctx context.Context, n *models.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to serialize notification: %w", err)
	}

	listKey := r.key("notifications", fmt.Sprintf("%d", n.UserID))
	pipe := r.client.Pipeline()
	pipe.LPush(ctx, listKey, data)
	pipe.LTrim(ctx, listKey, 0, 99)
	pipe.Expire(ctx, listKey, 30*24*time.Hour)
	pipe.Publish(ctx, r.key("notifications"), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	slog.Debug("Notification published", "user_id", n.UserID, "type", n.Type)
	return nil
}

// RecentNotifications returns the cached recent notifications for a user
func (r *RedisClient) RecentNotifications(ctx context.Context, userID uint, limit int64) ([]models.Notification, error) {
	listKey := r.key("notifications", fmt.Sprintf("%d", userID))
	values, err := r.client.LRange(ctx, listKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read notifications from Redis: %w", err)
	}

	notifications := make([]models.Notification, 0, len(values))
	for _, v := range values {
		var n models.Notification
		if err := json.Unmarshal([]byte(v), &n); err != nil {
			continue
		}
		notifications = append(notifications, n)
	}
	return notifications, nil
}
