package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"

	"moderngov/internal/config"
)

const (
	keyPrefix  = "moderngov:"
	defaultTTL = time.Hour
	opTimeout  = 2 * time.Second
)

// Entry is a transformed response as stored in Redis.
type Entry struct {
	Body       []byte      `json:"body"`
	Headers    http.Header `json:"headers"`
	StatusCode int         `json:"status_code"`
	Timestamp  time.Time   `json:"timestamp"`
	MaxAge     *int        `json:"max_age,omitempty"`
	Expires    *time.Time  `json:"expires,omitempty"`
	// TTL is the freshness lifetime resolved when the entry was stored.
	TTL time.Duration `json:"ttl"`
}

// Cache stores transformed responses. A nil *Cache is a disabled cache:
// every Get misses and every Set is dropped.
type Cache struct {
	client *redis.Client
}

// New connects to Redis and checks the connection.
func New(cfg config.RedisConfig) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return &Cache{client: client}, nil
}

// Close releases the Redis connection pool.
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Get returns the entry cached for r as served from origin, or nil on a
// miss, an expired entry or any Redis error.
func (c *Cache) Get(r *http.Request, origin string) *Entry {
	if c == nil || c.client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(r.Context(), opTimeout)
	defer cancel()

	data, err := c.client.Get(ctx, c.generateKey(r, origin)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Error("Failed to read cache entry", "error", err)
		}
		return nil
	}

	var entry Entry
	if err := sonic.Unmarshal(data, &entry); err != nil {
		slog.Error("Failed to decode cache entry", "error", err)
		return nil
	}

	if c.isExpired(&entry) {
		return nil
	}
	return &entry
}

// Set stores entry for r as served from origin. The TTL comes from the
// response's freshness headers, else fallbackTTL, else one hour.
func (c *Cache) Set(r *http.Request, origin string, entry *Entry, fallbackTTL time.Duration) error {
	if c == nil || c.client == nil {
		return nil
	}

	if entry.MaxAge == nil && entry.Expires == nil {
		entry.MaxAge = parseMaxAge(entry.Headers.Get("Cache-Control"))
		entry.Expires = parseExpires(entry.Headers.Get("Expires"))
	}

	entry.TTL = c.calculateTTL(entry, fallbackTTL)
	if entry.TTL <= 0 {
		return nil
	}

	data, err := sonic.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := c.client.Set(ctx, c.generateKey(r, origin), data, entry.TTL).Err(); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// IsCacheable reports whether resp may be stored at all.
func (c *Cache) IsCacheable(resp *http.Response) bool {
	if resp.Request == nil || resp.Request.Method != http.MethodGet {
		return false
	}
	if resp.StatusCode != http.StatusOK {
		return false
	}
	if resp.Header.Get("Set-Cookie") != "" {
		return false
	}

	cacheControl := strings.ToLower(resp.Header.Get("Cache-Control"))
	for _, directive := range []string{"no-cache", "no-store", "private"} {
		if strings.Contains(cacheControl, directive) {
			return false
		}
	}
	return true
}

// generateKey hashes everything the transformed body depends on: the
// origin prefixed to absolute URLs, the path and the query, which carries
// the transform flags. The request Host is not used; origin already
// reflects it.
func (c *Cache) generateKey(r *http.Request, origin string) string {
	h := xxhash.New()
	_, _ = h.WriteString(r.Method)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(origin)
	_, _ = h.WriteString("\x00")
	if r.URL != nil {
		_, _ = h.WriteString(r.URL.Path)
		_, _ = h.WriteString("\x00")
		_, _ = h.WriteString(r.URL.RawQuery)
	}
	return keyPrefix + strconv.FormatUint(h.Sum64(), 16)
}

// isExpired checks the TTL resolved when the entry was stored.
func (c *Cache) isExpired(entry *Entry) bool {
	return time.Since(entry.Timestamp) > entry.TTL
}

func (c *Cache) calculateTTL(entry *Entry, fallback time.Duration) time.Duration {
	if entry.MaxAge != nil {
		return time.Duration(*entry.MaxAge) * time.Second
	}
	if entry.Expires != nil {
		return entry.Expires.Sub(entry.Timestamp)
	}
	if fallback > 0 {
		return fallback
	}
	return defaultTTL
}

func parseMaxAge(cacheControl string) *int {
	for _, directive := range strings.Split(cacheControl, ",") {
		directive = strings.TrimSpace(directive)
		value, ok := strings.CutPrefix(directive, "max-age=")
		if !ok {
			continue
		}
		seconds, err := strconv.Atoi(value)
		if err != nil {
			return nil
		}
		return &seconds
	}
	return nil
}

func parseExpires(expires string) *time.Time {
	if expires == "" {
		return nil
	}
	t, err := http.ParseTime(expires)
	if err != nil {
		return nil
	}
	return &t
}
