package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// RoutePrefix is the Redis key prefix for route hashes.
	RoutePrefix = "route:"

	// RouteTTL bounds how long a route outlives a crashed server.
	RouteTTL = 2 * time.Minute
)

// deleteIfOwnerLua removes a route only while it still names the given
// connection, so a late disconnect cannot erase a newer connect.
const deleteIfOwnerLua = `
if redis.call("HGET", KEYS[1], "connection_id") == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// Store manages routes in Redis on behalf of one server instance.
type Store struct {
	client       *redis.Client
	serverName   string
	deleteScript *redis.Script
}

// NewStore connects to Redis and verifies the connection.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return NewStoreWithClient(client, serverName), nil
}

// NewStoreWithClient wraps an existing Redis client.
func NewStoreWithClient(client *redis.Client, serverName string) *Store {
	return &Store{
		client:       client,
		serverName:   serverName,
		deleteScript: redis.NewScript(deleteIfOwnerLua),
	}
}

// ServerName returns the instance name routes are written under.
func (s *Store) ServerName() string {
	return s.serverName
}

// Set points identity at this server and connectionID, replacing any
// previous route.
func (s *Store) Set(ctx context.Context, identity, connectionID string) error {
	key := RoutePrefix + identity

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, map[string]interface{}{
		"identity":      identity,
		"server":        s.serverName,
		"connection_id": connectionID,
		"connected_at":  time.Now().Unix(),
	})
	pipe.Expire(ctx, key, RouteTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: set route %s: %w", identity, err)
	}
	return nil
}

// Get returns identity's route, or nil when it has none.
func (s *Store) Get(ctx context.Context, identity string) (*Route, error) {
	var route Route
	if err := s.client.HGetAll(ctx, RoutePrefix+identity).Scan(&route); err != nil {
		return nil, fmt.Errorf("session: get route %s: %w", identity, err)
	}
	if route.Server == "" {
		return nil, nil
	}
	return &route, nil
}

// Delete removes identity's route if it still belongs to connectionID. It
// reports whether a route was removed.
func (s *Store) Delete(ctx context.Context, identity, connectionID string) (bool, error) {
	n, err := s.deleteScript.Run(ctx, s.client, []string{RoutePrefix + identity}, connectionID).Int()
	if err != nil {
		return false, fmt.Errorf("session: delete route %s: %w", identity, err)
	}
	return n > 0, nil
}

// Refresh extends the TTL of the given identities' routes.
func (s *Store) Refresh(ctx context.Context, identities []string) error {
	if len(identities) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, id := range identities {
		pipe.Expire(ctx, RoutePrefix+id, RouteTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: refresh routes: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
