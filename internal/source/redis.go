package source

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"perfagent/internal/match"
)

// RedisSourceOptions describes one Redis INFO source.
// Params: address as host:port or redis:// URL, password override, database, timeout, domain.
// Returns: source options.
type RedisSourceOptions struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration
	Domain   string
}

// RedisSource exposes Redis INFO sections as objects.
// Params: source name, object domain and INFO reader.
// Returns: Redis attribute source.
type RedisSource struct {
	name   string
	domain string
	info   func(context.Context) (string, error)
	close  func() error
}

// NewRedisSource creates a Redis source with a single-connection client.
// Params: name registered source name; options connection settings.
// Returns: configured source or error on bad address.
func NewRedisSource(name string, options RedisSourceOptions) (*RedisSource, error) {
	addr := strings.TrimSpace(options.Addr)
	if addr == "" {
		return nil, fmt.Errorf("source %q: addr is required", name)
	}

	opts := &redis.Options{Addr: addr, DB: options.DB}
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("source %q: parse redis url: %w", name, err)
		}
		opts = parsed
	}
	if opts.Password == "" {
		opts.Password = options.Password
	}
	opts.PoolSize = 1
	opts.DialTimeout = options.Timeout
	opts.ReadTimeout = options.Timeout
	opts.WriteTimeout = options.Timeout

	client := redis.NewClient(opts)
	return &RedisSource{
		name:   name,
		domain: defaultDomain(options.Domain, "redis"),
		info: func(ctx context.Context) (string, error) {
			return client.Info(ctx, "all").Result()
		},
		close: client.Close,
	}, nil
}

// Name returns the registered source name.
// Params: none.
// Returns: source name.
func (s *RedisSource) Name() string {
	return s.name
}

// Objects runs INFO all and converts sections into objects.
// Params: ctx for cancellation.
// Returns: section objects or command error.
func (s *RedisSource) Objects(ctx context.Context) ([]Object, error) {
	info, err := s.info(ctx)
	if err != nil {
		return nil, fmt.Errorf("redis INFO: %w", err)
	}
	return parseRedisInfo(s.domain, info), nil
}

// Close releases the Redis client.
// Params: none.
// Returns: close error.
func (s *RedisSource) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// parseRedisInfo converts INFO text into objects.
// Plain sections become "<domain>:section=<name>"; keyspace and commandstats lines become
// one object per database or command.
// Params: domain object domain; info raw INFO reply.
// Returns: objects in reply order.
func parseRedisInfo(domain, info string) []Object {
	var objects []Object
	var current map[string]any
	section := ""

	scanner := bufio.NewScanner(strings.NewReader(info))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			section = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, "#")))
			current = nil
			continue
		}

		field, value, ok := strings.Cut(line, ":")
		if !ok || field == "" || section == "" {
			continue
		}

		switch section {
		case "keyspace":
			objects = append(objects, Object{
				Name:  match.NewObjectName(domain, "section", section, "db", field),
				Attrs: parseRedisPairs(value),
			})
		case "commandstats":
			objects = append(objects, Object{
				Name:  match.NewObjectName(domain, "section", section, "command", strings.TrimPrefix(field, "cmdstat_")),
				Attrs: parseRedisPairs(value),
			})
		default:
			if current == nil {
				current = make(map[string]any)
				objects = append(objects, Object{
					Name:  match.NewObjectName(domain, "section", section),
					Attrs: current,
				})
			}
			current[field] = redisValue(value)
		}
	}
	return objects
}

// parseRedisPairs parses "k=v,k2=v2" property values.
// Params: value raw property value.
// Returns: attribute map.
func parseRedisPairs(value string) map[string]any {
	attrs := make(map[string]any)
	for _, pair := range strings.Split(value, ",") {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			continue
		}
		attrs[key] = redisValue(raw)
	}
	return attrs
}

// redisValue converts a property value into a number when possible.
func redisValue(raw string) any {
	if value, ok := parseNumberToken(raw); ok {
		return value
	}
	return raw
}
