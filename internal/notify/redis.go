package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// pairTTL bounds how long a stale pairing can linger after an unclean
// disconnect.
const pairTTL = 24 * time.Hour

// RedisPairStore keeps pairings in Redis sets so every instance of the API
// can resolve connections registered elsewhere.
type RedisPairStore struct {
	client *redis.Client
}

func NewRedisPairStore(client *redis.Client) *RedisPairStore {
	return &RedisPairStore{client: client}
}

func txnKey(txnID string) string   { return "notify:txn:" + txnID }
func connKey(connID string) string { return "notify:conn:" + connID }

func (s *RedisPairStore) AddPair(ctx context.Context, txnID, connID string) error {
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, txnKey(txnID), connID)
	pipe.Expire(ctx, txnKey(txnID), pairTTL)
	pipe.SAdd(ctx, connKey(connID), txnID)
	pipe.Expire(ctx, connKey(connID), pairTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("register pairing: %w", err)
	}
	return nil
}

func (s *RedisPairStore) Connections(ctx context.Context, txnID string) ([]string, error) {
	conns, err := s.client.SMembers(ctx, txnKey(txnID)).Result()
	if err != nil {
		return nil, fmt.Errorf("lookup pairings: %w", err)
	}
	return conns, nil
}

func (s *RedisPairStore) RemoveConnection(ctx context.Context, connID string) error {
	txns, err := s.client.SMembers(ctx, connKey(connID)).Result()
	if err != nil {
		return fmt.Errorf("lookup connection pairings: %w", err)
	}
	pipe := s.client.TxPipeline()
	for _, txnID := range txns {
		pipe.SRem(ctx, txnKey(txnID), connID)
	}
	pipe.Del(ctx, connKey(connID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove pairings: %w", err)
	}
	return nil
}
