// Package redisstore keeps bot totals and session history in Redis, for
// deployments where several dashboards share one history.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"botpilot/pkg/persistence"
	"botpilot/pkg/proto"
)

const defaultPrefix = "botpilot"

// Store implements persistence.Store on top of a Redis client.
type Store struct {
	client   *goredis.Client
	prefix   string
	addr     string
	password string
	ttl      time.Duration
	db       int
}

// Option configures a Store.
type Option func(*Store)

// WithPassword sets the Redis password.
func WithPassword(password string) Option {
	return func(s *Store) {
		s.password = password
	}
}

// WithDB selects the Redis database index.
func WithDB(db int) Option {
	return func(s *Store) {
		s.db = db
	}
}

// WithTTL expires session records after ttl. Totals never expire.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithPrefix namespaces every key.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if strings.TrimSpace(prefix) != "" {
			s.prefix = strings.TrimSpace(prefix)
		}
	}
}

// WithClient reuses an existing client.
func WithClient(client *goredis.Client) Option {
	return func(s *Store) {
		if client != nil {
			s.client = client
		}
	}
}

// New connects to Redis at addr and verifies the connection.
func New(addr string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	s := &Store{
		prefix: defaultPrefix,
		addr:   addr,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = goredis.NewClient(&goredis.Options{
			Addr:     s.addr,
			Password: s.password,
			DB:       s.db,
		})
	}

	if err := s.client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return s, nil
}

// LoadTotals returns the persisted totals, or zero totals when none were saved.
func (s *Store) LoadTotals(ctx context.Context) (proto.Stats, error) {
	values, err := s.client.HGetAll(ctx, s.totalsKey()).Result()
	if err != nil {
		return proto.Stats{}, fmt.Errorf("failed to load totals from redis: %w", err)
	}
	var t proto.Stats
	for field, dst := range map[string]*int{
		"jobs_found":   &t.JobsFound,
		"jobs_applied": &t.JobsApplied,
		"jobs_failed":  &t.JobsFailed,
		"credits_used": &t.CreditsUsed,
	} {
		raw, ok := values[field]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return proto.Stats{}, fmt.Errorf("invalid totals field %s: %w", field, err)
		}
		*dst = n
	}
	return t, nil
}

// SaveTotals replaces the persisted totals.
func (s *Store) SaveTotals(ctx context.Context, totals proto.Stats) error {
	err := s.client.HSet(ctx, s.totalsKey(),
		"jobs_found", totals.JobsFound,
		"jobs_applied", totals.JobsApplied,
		"jobs_failed", totals.JobsFailed,
		"credits_used", totals.CreditsUsed,
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to save totals in redis: %w", err)
	}
	return nil
}

// RecordSession stores a finished session and indexes it by end time.
func (s *Store) RecordSession(ctx context.Context, rec persistence.SessionRecord) error {
	if rec.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if rec.EndedAt.IsZero() {
		rec.EndedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.sessionKey(rec.SessionID), string(raw), s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), goredis.Z{
		Score:  float64(rec.EndedAt.UnixMilli()),
		Member: rec.SessionID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record session in redis: %w", err)
	}
	return nil
}

// GetSession returns one recorded session.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*persistence.SessionRecord, error) {
	raw, err := s.client.Get(ctx, s.sessionKey(sessionID)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, persistence.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s from redis: %w", sessionID, err)
	}
	var rec persistence.SessionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", sessionID, err)
	}
	return &rec, nil
}

// ListSessions returns the most recently ended sessions first. Index entries
// whose record has expired are pruned.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]persistence.SessionRecord, error) {
	if limit <= 0 {
		limit = persistence.DefaultHistoryLimit
	}
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions from redis: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.sessionKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions from redis: %w", err)
	}

	out := make([]persistence.SessionRecord, 0, len(values))
	var expired []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		var rec persistence.SessionRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode session %s: %w", ids[i], err)
		}
		out = append(out, rec)
	}
	if len(expired) > 0 {
		_ = s.client.ZRem(ctx, s.indexKey(), expired...).Err()
	}
	return out, nil
}

// Close closes the Redis client.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	return nil
}

func (s *Store) totalsKey() string {
	return s.prefix + ":totals"
}

func (s *Store) indexKey() string {
	return s.prefix + ":sessions"
}

func (s *Store) sessionKey(id string) string {
	return s.prefix + ":session:" + id
}

var _ persistence.Store = (*Store)(nil)
