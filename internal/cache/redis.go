// Package cache хранит снимки entitlement в Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/magabrotheeeer/video-subscription/internal/config"
	"github.com/magabrotheeeer/video-subscription/internal/models"
)

const keyPrefix = "entitlement:"

// putIfNewer записывает снимок, только если его версия больше сохранённой.
// Строки сравниваются побайтово, strcoll в Lua зависит от локали.
var putIfNewer = redis.NewScript(`
local function less(a, b)
  local n = math.min(#a, #b)
  for i = 1, n do
    local x, y = string.byte(a, i), string.byte(b, i)
    if x ~= y then return x < y end
  end
  return #a < #b
end
local cur = redis.call('HGET', KEYS[1], 'order')
if cur and not less(cur, ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'order', ARGV[1], 'data', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// Cache хранит снимки entitlement по пользователю.
type Cache struct {
	Db  *redis.Client
	ttl time.Duration
}

// InitServer подключается к Redis и проверяет соединение.
func InitServer(ctx context.Context, cfg config.RedisConnection) (*Cache, error) {
	const op = "cache.InitServer"
	db := redis.NewClient(&redis.Options{
		Addr:         cfg.AddressRedis,
		Password:     cfg.Password,
		DB:           cfg.DB,
		Username:     cfg.User,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.TimeoutRedis,
		WriteTimeout: cfg.TimeoutRedis,
	})

	if err := db.Ping(ctx).Err(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return New(db, cfg.EntitlementTTL), nil
}

// New оборачивает готовый клиент.
func New(db *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{Db: db, ttl: ttl}
}

// Close закрывает клиент.
func (c *Cache) Close() error {
	return c.Db.Close()
}

// orderKey кодирует Version так, что побайтовое сравнение строк совпадает
// с порядком версий.
func orderKey(e models.Entitlement) string {
	return fmt.Sprintf("%020d", max(e.Version, 0))
}

// GetEntitlement возвращает снимок из кеша. found == false при промахе.
func (c *Cache) GetEntitlement(ctx context.Context, userID string) (models.Entitlement, bool, error) {
	const op = "cache.GetEntitlement"

	val, err := c.Db.HGet(ctx, keyPrefix+userID, "data").Result()
	if errors.Is(err, redis.Nil) {
		return models.Entitlement{}, false, nil
	}
	if err != nil {
		return models.Entitlement{}, false, fmt.Errorf("%s: %w", op, err)
	}
	var e models.Entitlement
	if err = json.Unmarshal([]byte(val), &e); err != nil {
		return models.Entitlement{}, false, fmt.Errorf("%s: %w", op, err)
	}
	return e, true, nil
}

// PutEntitlement сохраняет снимок, если в кеше нет более нового.
// Возвращает true, если снимок записан.
func (c *Cache) PutEntitlement(ctx context.Context, e models.Entitlement) (bool, error) {
	const op = "cache.PutEntitlement"

	data, err := json.Marshal(e)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	written, err := putIfNewer.Run(ctx, c.Db, []string{keyPrefix + e.UserID},
		orderKey(e), string(data), c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return written == 1, nil
}

// Invalidate удаляет снимок пользователя. Следующее чтение возьмёт запись
// из хранилища.
func (c *Cache) Invalidate(ctx context.Context, userID string) error {
	const op = "cache.Invalidate"
	if err := c.Db.Del(ctx, keyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
