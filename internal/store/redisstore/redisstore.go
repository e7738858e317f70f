// Package redisstore keeps sessions in Redis. Licenses, devices and the audit log
// stay in the primary store; see store.WithSessions.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"licenseapi/internal/store"
	"licenseapi/pkg/contracts/domain"
)

const (
	sessionPrefix = "license:session:"
	pairPrefix    = "license:pair:"
	expiryIndex   = "license:sessions:expiry"

	// Expired sessions outlive their expiry so heartbeats can still report
	// SESSION_EXPIRED instead of INVALID_SESSION until the reaper runs
	expiredGrace = 24 * time.Hour

	maxUpdateAttempts = 3
)

// Options configures the Redis connection
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Store implements store.SessionBackend on Redis
type Store struct {
	client *redis.Client
	now    func() time.Time

	// beforeCommit runs between the watched read and the write of UpdateSession
	beforeCommit func()
}

var _ store.SessionBackend = (*Store)(nil)

// Open creates a client and verifies the connection
func Open(ctx context.Context, opts Options) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	s := New(client)
	if err := s.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	return s, nil
}

// New wraps an existing client
func New(client *redis.Client) *Store {
	return &Store{client: client, now: time.Now}
}

func sessionKey(token string) string {
	return sessionPrefix + token
}

func pairKey(licenseID, deviceID string) string {
	return pairPrefix + licenseID + ":" + deviceID
}

func (s *Store) ttl(expiresAt time.Time) time.Duration {
	remaining := expiresAt.Sub(s.now())
	if remaining < 0 {
		remaining = 0
	}
	return remaining + expiredGrace
}

func (s *Store) queueWrite(ctx context.Context, pipe redis.Pipeliner, sess *domain.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	pair := pairKey(sess.LicenseID, sess.DeviceID)
	pipe.Set(ctx, sessionKey(sess.Token), data, s.ttl(sess.ExpiresAt))
	pipe.SAdd(ctx, pair, sess.Token)
	pipe.Expire(ctx, pair, s.ttl(sess.ExpiresAt))
	pipe.ZAdd(ctx, expiryIndex, redis.Z{Score: float64(sess.ExpiresAt.UnixMilli()), Member: sess.Token})
	return nil
}

func (s *Store) CreateSession(ctx context.Context, sess *domain.Session) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		return s.queueWrite(ctx, pipe, sess)
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *Store) load(ctx context.Context, token string) (*domain.Session, error) {
	return loadFrom(ctx, s.client, token)
}

func loadFrom(ctx context.Context, c getter, token string) (*domain.Session, error) {
	data, err := c.Get(ctx, sessionKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var sess domain.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (s *Store) GetSession(ctx context.Context, token, deviceID string) (*domain.Session, error) {
	sess, err := s.load(ctx, token)
	if err != nil {
		return nil, err
	}
	if sess.DeviceID != deviceID {
		return nil, store.ErrNotFound
	}
	return sess, nil
}

// UpdateSession replaces the session stored under oldToken. The old key is watched,
// so a concurrent deletion makes the write abort and the update reports
// store.ErrNotFound instead of resurrecting the session.
func (s *Store) UpdateSession(ctx context.Context, oldToken string, sess *domain.Session) error {
	update := func(tx *redis.Tx) error {
		old, err := loadFrom(ctx, tx, oldToken)
		if err != nil {
			return err
		}
		if s.beforeCommit != nil {
			s.beforeCommit()
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if oldToken != sess.Token {
				pipe.Del(ctx, sessionKey(oldToken))
				pipe.SRem(ctx, pairKey(old.LicenseID, old.DeviceID), oldToken)
				pipe.ZRem(ctx, expiryIndex, oldToken)
			}
			return s.queueWrite(ctx, pipe, sess)
		})
		return err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.client.Watch(ctx, update, sessionKey(oldToken))
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, store.ErrNotFound):
			return err
		default:
			return fmt.Errorf("update session: %w", err)
		}
	}
	return fmt.Errorf("update session: %w", redis.TxFailedErr)
}

func (s *Store) DeleteSession(ctx context.Context, token string) error {
	sess, err := s.load(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return s.client.ZRem(ctx, expiryIndex, token).Err()
	}
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKey(token))
		pipe.SRem(ctx, pairKey(sess.LicenseID, sess.DeviceID), token)
		pipe.ZRem(ctx, expiryIndex, token)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *Store) DeleteDeviceSessions(ctx context.Context, licenseID, deviceID string) (int64, error) {
	pair := pairKey(licenseID, deviceID)
	tokens, err := s.client.SMembers(ctx, pair).Result()
	if err != nil {
		return 0, fmt.Errorf("list device sessions: %w", err)
	}
	if len(tokens) == 0 {
		return 0, nil
	}

	removed, err := s.deleteTokens(ctx, tokens, pair)
	if err != nil {
		return 0, fmt.Errorf("delete device sessions: %w", err)
	}
	return removed, nil
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	tokens, err := s.client.ZRangeByScore(ctx, expiryIndex, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan expired sessions: %w", err)
	}

	var removed int64
	for _, token := range tokens {
		sess, err := s.load(ctx, token)
		switch {
		case errors.Is(err, store.ErrNotFound):
			// Key already evicted; drop the index entry
			if err := s.client.ZRem(ctx, expiryIndex, token).Err(); err != nil {
				return removed, fmt.Errorf("prune expiry index: %w", err)
			}
			continue
		case err != nil:
			return removed, err
		}

		n, err := s.deleteTokens(ctx, []string{token}, pairKey(sess.LicenseID, sess.DeviceID))
		if err != nil {
			return removed, fmt.Errorf("delete expired session: %w", err)
		}
		removed += n
	}
	return removed, nil
}

// deleteTokens removes the session keys and their index entries and returns how
// many session keys existed
func (s *Store) deleteTokens(ctx context.Context, tokens []string, pair string) (int64, error) {
	keys := make([]string, len(tokens))
	members := make([]any, len(tokens))
	for i, t := range tokens {
		keys[i] = sessionKey(t)
		members[i] = t
	}

	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, keys...)
		pipe.SRem(ctx, pair, members...)
		pipe.ZRem(ctx, expiryIndex, members...)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return del.Val(), nil
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client
func (s *Store) Close() error {
	return s.client.Close()
}
