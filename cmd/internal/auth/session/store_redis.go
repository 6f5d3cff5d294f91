package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	redisTokenPrefix = "streamgate:sess:tok:"
	redisIDPrefix    = "streamgate:sess:id:"
	redisUserPrefix  = "streamgate:sess:user:"
	redisLockPrefix  = "streamgate:lock:user:"

	redisDefaultLockTTL = 30 * time.Second
	redisLockRetry      = 25 * time.Millisecond
	redisTxRetries      = 8
)

// unlockScript deletes the lock only if we still own it.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisStore implements Store on Redis.
//
// Unlike the Postgres store, inactive sessions are retained only for the
// configured retention window (Redis TTL), trading the indefinite audit
// trail for keyspace hygiene. The visible session contract is unchanged.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
	lockTTL   time.Duration
}

// NewRedisStore creates a Redis-backed session store. retention bounds how
// long session records (active or not) are kept; it must exceed the session
// absolute lifetime. lockTTL bounds the per-user admission lease and must
// comfortably exceed the store call timeout so a single slow call cannot
// outlive the lease.
func NewRedisStore(client *redis.Client, retention, lockTTL time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("session: nil redis client")
	}
	if retention <= 0 {
		retention = 48 * time.Hour
	}
	if lockTTL <= 0 {
		lockTTL = redisDefaultLockTTL
	}
	return &RedisStore{client: client, retention: retention, lockTTL: lockTTL}, nil
}

// FindActiveByToken implements Store.
func (s *RedisStore) FindActiveByToken(ctx context.Context, tokenHash string) (Session, error) {
	sess, err := s.getByKey(ctx, redisTokenPrefix+tokenHash)
	if err != nil {
		return Session{}, err
	}
	if !sess.Active {
		return Session{}, ErrSessionNotFound
	}
	return sess, nil
}

// FindActiveByUser implements Store.
func (s *RedisStore) FindActiveByUser(ctx context.Context, userID string) ([]Session, error) {
	ids, err := s.client.SMembers(ctx, redisUserPrefix+userID).Result()
	if err != nil {
		return nil, err
	}

	var out []Session
	for _, id := range ids {
		digest, err := s.client.Get(ctx, redisIDPrefix+id).Result()
		if errors.Is(err, redis.Nil) {
			// Record aged out; drop the dangling index member.
			_ = s.client.SRem(ctx, redisUserPrefix+userID, id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		sess, err := s.getByKey(ctx, redisTokenPrefix+digest)
		if errors.Is(err, ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if sess.Active {
			out = append(out, sess)
		}
	}
	return out, nil
}

// Insert implements Store. The token key is the uniqueness anchor.
func (s *RedisStore) Insert(ctx context.Context, sess Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, redisTokenPrefix+sess.TokenHash, raw, s.retention).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, redisIDPrefix+sess.ID, sess.TokenHash, s.retention)
		p.SAdd(ctx, redisUserPrefix+sess.UserID, sess.ID)
		p.Expire(ctx, redisUserPrefix+sess.UserID, s.retention)
		return nil
	})
	return err
}

// Deactivate implements Store.
func (s *RedisStore) Deactivate(ctx context.Context, sessionID string, now time.Time) error {
	return s.mutate(ctx, sessionID, func(sess *Session) {
		sess.Active = false
	})
}

// Touch implements Store; inactive sessions are left untouched.
func (s *RedisStore) Touch(ctx context.Context, sessionID string, now time.Time) error {
	return s.mutate(ctx, sessionID, func(sess *Session) {
		if sess.Active {
			sess.LastActivityAt = now
		}
	})
}

// DeactivateExpired implements Store with a cursor scan over session records.
func (s *RedisStore) DeactivateExpired(ctx context.Context, idleBefore, createdBefore, now time.Time) (int64, error) {
	var (
		n      int64
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, redisTokenPrefix+"*", 256).Result()
		if err != nil {
			return n, err
		}
		for _, key := range keys {
			sess, err := s.getByKey(ctx, key)
			if errors.Is(err, ErrSessionNotFound) {
				continue
			}
			if err != nil {
				return n, err
			}
			if !sess.Active {
				continue
			}
			if sess.LastActivityAt.Before(idleBefore) || sess.CreatedAt.Before(createdBefore) {
				if err := s.saveByKey(ctx, key, func() Session {
					sess.Active = false
					return sess
				}()); err != nil {
					return n, err
				}
				n++
			}
		}
		cursor = next
		if cursor == 0 {
			return n, nil
		}
	}
}

// WithUserLock implements Store with a SET NX lease lock, released only by
// its owner. The lease TTL bounds lock leakage if the process dies mid-admission.
func (s *RedisStore) WithUserLock(ctx context.Context, userID string, fn func(ctx context.Context) error) error {
	key := redisLockPrefix + userID
	owner, err := randomHex(16)
	if err != nil {
		return err
	}

	for {
		ok, err := s.client.SetNX(ctx, key, owner, s.lockTTL).Result()
		if err != nil {
			return err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(redisLockRetry):
		}
	}
	defer func() {
		_, _ = unlockScript.Run(context.WithoutCancel(ctx), s.client, []string{key}, owner).Result()
	}()

	return fn(ctx)
}

func (s *RedisStore) getByKey(ctx context.Context, key string) (Session, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

func (s *RedisStore) saveByKey(ctx context.Context, key string, sess Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	// KeepTTL preserves the original retention clock.
	return s.client.Set(ctx, key, raw, redis.KeepTTL).Err()
}

// mutate applies fn to the session record under optimistic concurrency. The
// token key is WATCHed, so a competing write between read and write aborts
// the transaction and the mutation retries against fresh state. That keeps
// deactivation one-way: a touch racing a deactivation re-reads the inactive
// record and becomes a no-op instead of writing back a stale active snapshot.
func (s *RedisStore) mutate(ctx context.Context, sessionID string, apply func(*Session)) error {
	digest, err := s.client.Get(ctx, redisIDPrefix+sessionID).Result()
	if errors.Is(err, redis.Nil) {
		return nil // unknown id: deactivate/touch are no-ops
	}
	if err != nil {
		return err
	}
	key := redisTokenPrefix + digest

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		var sess Session
		if err := json.Unmarshal(raw, &sess); err != nil {
			return err
		}
		apply(&sess)
		out, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, out, redis.KeepTTL)
			return nil
		})
		return err
	}

	for i := 0; i < redisTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("session: mutate contention on session %s", sessionID)
}

func randomHex(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
