package party

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/HMasataka/partyline/pkg/domain"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix    = "partyline:"
	partyKey     = keyPrefix + "party:"
	createdIndex = keyPrefix + "parties"
	emailIndex   = keyPrefix + "parties:email:"

	maxUpdateRetries = 5
)

// RedisStore keeps each party as a JSON string, with a sorted set by
// creation time and a set of ids per email.
type RedisStore struct {
	rdb   *redis.Client
	clock clockwork.Clock
}

// OpenRedis connects to the redis:// URL and pings it
func OpenRedis(ctx context.Context, url string, clock clockwork.Clock) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewRedisStore(rdb, clock), nil
}

// NewRedisStore wraps an existing client
func NewRedisStore(rdb *redis.Client, clock clockwork.Clock) *RedisStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RedisStore{rdb: rdb, clock: clock}
}

func (s *RedisStore) List(ctx context.Context) ([]domain.Party, error) {
	ids, err := s.rdb.ZRange(ctx, createdIndex, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list parties: %w", err)
	}
	return s.load(ctx, ids)
}

func (s *RedisStore) ListByEmail(ctx context.Context, email string) ([]domain.Party, error) {
	ids, err := s.rdb.SMembers(ctx, emailIndex+email).Result()
	if err != nil {
		return nil, fmt.Errorf("list parties by email: %w", err)
	}

	parties, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(parties, func(i, j int) bool {
		return parties[i].CreatedAt.Before(parties[j].CreatedAt)
	})
	return parties, nil
}

func (s *RedisStore) Create(ctx context.Context, in domain.PartyInput) (domain.Party, error) {
	p := newParty(uuid.NewString(), in, s.clock)

	data, err := json.Marshal(p)
	if err != nil {
		return domain.Party{}, fmt.Errorf("encode party: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, partyKey+p.ID, data, 0)
		pipe.ZAdd(ctx, createdIndex, redis.Z{Score: score(p), Member: p.ID})
		if p.Email != "" {
			pipe.SAdd(ctx, emailIndex+p.Email, p.ID)
		}
		return nil
	})
	if err != nil {
		return domain.Party{}, fmt.Errorf("create party: %w", err)
	}

	return p, nil
}

func (s *RedisStore) Update(ctx context.Context, id string, in domain.PartyInput) (domain.Party, error) {
	key := partyKey + id
	var updated domain.Party

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.ErrPartyNotFound
		}
		if err != nil {
			return err
		}

		var p domain.Party
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("decode party: %w", err)
		}
		in.Apply(&p)
		p.UpdatedAt = s.clock.Now().UTC()

		encoded, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode party: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		if err == nil {
			updated = p
		}
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, domain.ErrPartyNotFound) {
			return domain.Party{}, err
		}
		if err != nil {
			return domain.Party{}, fmt.Errorf("update party: %w", err)
		}
		return updated, nil
	}

	return domain.Party{}, fmt.Errorf("update party: %w", redis.TxFailedErr)
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	key := partyKey + id

	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete party: %w", err)
	}

	var p domain.Party
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode party: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.ZRem(ctx, createdIndex, id)
		if p.Email != "" {
			pipe.SRem(ctx, emailIndex+p.Email, id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete party: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// load fetches ids in order, skipping ids whose document is gone
func (s *RedisStore) load(ctx context.Context, ids []string) ([]domain.Party, error) {
	parties := make([]domain.Party, 0, len(ids))
	if len(ids) == 0 {
		return parties, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = partyKey + id
	}

	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load parties: %w", err)
	}

	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var p domain.Party
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decode party: %w", err)
		}
		parties = append(parties, p)
	}
	return parties, nil
}

// score orders by creation time with microsecond resolution, which a
// float64 holds exactly.
func score(p domain.Party) float64 {
	return float64(p.CreatedAt.UnixMicro())
}
