package permissions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/fieldline/gatehouse/pkg/observability"
)

const (
	redisMappingKeyPrefix = "gatehouse:mappings:"
	redisGroupIndexKey    = "gatehouse:mappings:groups"
)

// RedisStore reads permission mappings from Redis. Each group identity
// owns one key holding the JSON-encoded mappings granted to it, and a
// set indexes all populated groups for the integrity sweeper. The
// surrounding platform writes these keys whenever mappings change.
type RedisStore struct {
	client  *redis.Client
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewRedisStore creates a mapping store over client. logger and metrics
// may be nil.
func NewRedisStore(client *redis.Client, logger *observability.Logger, metrics *observability.Metrics) *RedisStore {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RedisStore{client: client, logger: logger, metrics: metrics}
}

func groupKey(g GroupIdentity) string {
	return redisMappingKeyPrefix + g.String()
}

// MappingsFor fetches the mapping lists for all groups in one MGET.
// Keys that are missing, or hold values that fail to decode, contribute
// nothing.
func (s *RedisStore) MappingsFor(ctx context.Context, groups []GroupIdentity) ([]Mapping, error) {
	if len(groups) == 0 {
		return nil, nil
	}

	keys := make([]string, len(groups))
	for i, g := range groups {
		keys[i] = groupKey(g)
	}

	start := time.Now()
	values, err := s.client.MGet(ctx, keys...).Result()
	s.observeQuery(start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch permission mappings: %w", err)
	}

	var mappings []Mapping
	for i, value := range values {
		if value == nil {
			continue
		}
		raw, ok := value.(string)
		if !ok {
			s.logger.WithField("key", keys[i]).Warn("Skipping mapping key with non-string value")
			continue
		}
		mappings = append(mappings, s.decodeMappings(keys[i], []byte(raw))...)
	}

	return mappings, nil
}

// AllActive walks the group index and returns every active mapping.
func (s *RedisStore) AllActive(ctx context.Context) ([]Mapping, error) {
	start := time.Now()
	members, err := s.client.SMembers(ctx, redisGroupIndexKey).Result()
	s.observeQuery(start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list mapping groups: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = redisMappingKeyPrefix + m
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch permission mappings: %w", err)
	}

	var mappings []Mapping
	for i, value := range values {
		if value == nil {
			continue
		}
		raw, ok := value.(string)
		if !ok {
			continue
		}
		mappings = append(mappings, s.decodeMappings(keys[i], []byte(raw))...)
	}

	return mappings, nil
}

// decodeMappings unmarshals one group's mapping list, dropping inactive
// entries and entries that are not well-formed. Malformed stored data is
// logged and skipped, never turned into a grant.
func (s *RedisStore) decodeMappings(key string, raw []byte) []Mapping {
	var stored []Mapping
	if err := json.Unmarshal(raw, &stored); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Skipping undecodable mapping list")
		return nil
	}

	out := make([]Mapping, 0, len(stored))
	for _, m := range stored {
		if !m.IsActive {
			continue
		}
		if !m.Target.Kind.Valid() {
			s.logger.WithFields(map[string]interface{}{
				"key":         key,
				"entity_type": string(m.Target.Kind),
			}).Warn("Skipping mapping with unknown entity type")
			continue
		}
		if m.ScopeOverride != nil && !m.ScopeOverride.Valid() {
			s.logger.WithFields(map[string]interface{}{
				"key":            key,
				"scope_override": int(*m.ScopeOverride),
			}).Warn("Skipping mapping with invalid scope override")
			continue
		}
		out = append(out, m)
	}
	return out
}

// SetMappings replaces the mapping list for a group and records the
// group in the sweep index. Used by fixtures and the platform's sync
// job, not by the resolution path.
func (s *RedisStore) SetMappings(ctx context.Context, group GroupIdentity, mappings []Mapping) error {
	data, err := json.Marshal(mappings)
	if err != nil {
		return fmt.Errorf("failed to marshal mappings: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, groupKey(group), data, 0)
	pipe.SAdd(ctx, redisGroupIndexKey, group.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store mappings: %w", err)
	}
	return nil
}

// DeleteMappings removes a group's mapping list and its index entry.
func (s *RedisStore) DeleteMappings(ctx context.Context, group GroupIdentity) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, groupKey(group))
	pipe.SRem(ctx, redisGroupIndexKey, group.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete mappings: %w", err)
	}
	return nil
}

func (s *RedisStore) observeQuery(start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.StoreQueriesTotal.WithLabelValues("redis", status).Inc()
	s.metrics.StoreQueryDuration.WithLabelValues("redis").Observe(time.Since(start).Seconds())
}
