package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisEvaluationStoreConfig 描述 Redis 缓存的连接参数。
type RedisEvaluationStoreConfig struct {
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisEvaluationStore 使用 Redis hash 缓存评估结果，
// 供多实例部署时共享同一份缓存。
type RedisEvaluationStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisEvaluationStore 创建 Redis 缓存实例。
func NewRedisEvaluationStore(cfg RedisEvaluationStoreConfig) (*RedisEvaluationStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisEvaluationStore{client: client, ttl: ttl}, nil
}

func redisEvalKey(key string) string {
	return "safeagent:eval:" + key
}

func (s *RedisEvaluationStore) Get(ctx context.Context, key string) (EvaluationRecord, error) {
	fields, err := s.client.HGetAll(ctx, redisEvalKey(key)).Result()
	if err != nil {
		return EvaluationRecord{}, fmt.Errorf("读取评估缓存失败: %w", err)
	}
	return EvaluationRecord{
		ChecksPassed:  fields["checksPassed"] == "1",
		TwoFAApproved: fields["twoFAApproved"] == "1",
	}, nil
}

func (s *RedisEvaluationStore) MarkChecksPassed(ctx context.Context, key string) error {
	return s.mark(ctx, key, "checksPassed")
}

func (s *RedisEvaluationStore) MarkTwoFAApproved(ctx context.Context, key string) error {
	return s.mark(ctx, key, "twoFAApproved")
}

func (s *RedisEvaluationStore) mark(ctx context.Context, key, field string) error {
	full := redisEvalKey(key)
	if err := s.client.HSet(ctx, full, field, "1").Err(); err != nil {
		return fmt.Errorf("写入评估缓存失败: %w", err)
	}
	if err := s.client.Expire(ctx, full, s.ttl).Err(); err != nil {
		return fmt.Errorf("设置评估缓存过期失败: %w", err)
	}
	return nil
}

// Close 释放 Redis 连接。
func (s *RedisEvaluationStore) Close() error {
	return s.client.Close()
}
