// Package session provides storage backends for team session tokens.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"gavel/api/internal/store"
)

// ErrSessionNotFound marks a token with no live session, as opposed to a
// backend failure during lookup.
var ErrSessionNotFound = errors.New("session not found or expired")

// SessionData holds the data stored for each session token
type SessionData struct {
	OwnerID   string    `json:"owner_id"`
	TeamName  string    `json:"team_name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisStore implements session token storage using Redis
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis-backed session store
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{
		client: client,
		prefix: "session:",
	}, nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "session:",
	}
}

func (s *RedisStore) key(tokenHash string) string {
	return s.prefix + tokenHash
}

// SaveSession stores a session token for an owner with expiration
func (s *RedisStore) SaveSession(ctx context.Context, tokenHash string, owner store.Owner, expiresAt time.Time) error {
	data := SessionData{
		OwnerID:   owner.ID,
		TeamName:  owner.TeamName,
		Role:      owner.Role,
		CreatedAt: time.Now(),
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal session data: %w", err)
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}

	if err := s.client.Set(ctx, s.key(tokenHash), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("save session token: %w", err)
	}
	return nil
}

// LookupSession retrieves a session token and returns the owner identity
func (s *RedisStore) LookupSession(ctx context.Context, tokenHash string) (store.Owner, error) {
	jsonData, err := s.client.Get(ctx, s.key(tokenHash)).Result()
	if err == redis.Nil {
		return store.Owner{}, ErrSessionNotFound
	}
	if err != nil {
		return store.Owner{}, fmt.Errorf("lookup session token: %w", err)
	}

	var data SessionData
	if err := json.Unmarshal([]byte(jsonData), &data); err != nil {
		return store.Owner{}, fmt.Errorf("unmarshal session data: %w", err)
	}

	if data.Role == "" {
		data.Role = "owner"
	}

	return store.Owner{
		ID:       data.OwnerID,
		TeamName: data.TeamName,
		Role:     data.Role,
	}, nil
}

// RevokeSession deletes a session token
func (s *RedisStore) RevokeSession(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, s.key(tokenHash)).Err(); err != nil {
		return fmt.Errorf("revoke session token: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
