package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Ключи для редиса
const (
	sessionKey = "tg:sess:%s"
	historyKey = "tg:hist:%d"
)

type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStore подключается и пингует, чтобы падать на старте, а не на первом апдейте.
func NewRedisStore(ctx context.Context, opts RedisOptions, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisStoreFromClient(client, ttl), nil
}

func NewRedisStoreFromClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (r *RedisStore) Load(ctx context.Context, key Key) (*Session, error) {
	raw, err := r.client.Get(ctx, fmt.Sprintf(sessionKey, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil // нет сессии != ошибка
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}
	return Decode(raw)
}

// Save перезаписывает сессию целиком и продлевает TTL.
func (r *RedisStore) Save(ctx context.Context, key Key, s *Session) error {
	raw, err := Encode(s)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, fmt.Sprintf(sessionKey, key), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key Key) error {
	if err := r.client.Del(ctx, fmt.Sprintf(sessionKey, key)).Err(); err != nil {
		return fmt.Errorf("redis del session: %w", err)
	}
	return nil
}

// Логирует одно сообщение
func (r *RedisStore) AppendHistory(ctx context.Context, userID int64, text string) error {
	key := fmt.Sprintf(historyKey, userID)
	pipe := r.client.Pipeline()
	pipe.LPush(ctx, key, text)
	pipe.LTrim(ctx, key, 0, historySize-1)
	pipe.Expire(ctx, key, r.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// История в хронологическом порядке
func (r *RedisStore) History(ctx context.Context, userID int64) ([]string, error) {
	messages, err := r.client.LRange(ctx, fmt.Sprintf(historyKey, userID), 0, historySize-1).Result()
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Закрывает клиент
func (r *RedisStore) Close() error {
	return r.client.Close()
}
