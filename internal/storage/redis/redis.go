// Package redis provides a lobby.Store backed by Redis. Each session is a JSON
// blob under its own key, and a sorted set ordered by creation time indexes
// them for Find.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cory-johannsen/mansion/internal/config"
	"github.com/cory-johannsen/mansion/internal/lobby"
	"github.com/cory-johannsen/mansion/internal/online"
)

const (
	defaultKeyPrefix = "mansion:lobby:"
	updateRetries    = 100
	findBatch        = 256
)

// Config contains configuration options for the SessionStore.
type Config struct {
	// Client is the Redis client instance.
	Client *redis.Client

	// KeyPrefix is the prefix for all Redis keys.
	// Default: "mansion:lobby:"
	KeyPrefix string
}

// SessionStore implements lobby.Store using Redis.
type SessionStore struct {
	client    *redis.Client
	keyPrefix string
}

// storedRecord is the JSON layout of a session blob.
type storedRecord struct {
	ID                    string    `json:"id"`
	Name                  string    `json:"name"`
	OwnerName             string    `json:"owner_name"`
	Address               string    `json:"address"`
	TokenHash             []byte    `json:"token_hash"`
	LAN                   bool      `json:"lan"`
	Advertise             bool      `json:"advertise"`
	MaxPublicConnections  int       `json:"max_public_connections"`
	AllowJoinInProgress   bool      `json:"allow_join_in_progress"`
	UsesPresence          bool      `json:"uses_presence"`
	AllowJoinViaPresence  bool      `json:"allow_join_via_presence"`
	UseLobbiesIfAvailable bool      `json:"use_lobbies_if_available"`
	OpenSlots             int       `json:"open_slots"`
	CreatedAt             time.Time `json:"created_at"`
}

// New creates a SessionStore.
func New(cfg Config) (*SessionStore, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	return &SessionStore{client: cfg.Client, keyPrefix: cfg.KeyPrefix}, nil
}

// Dial connects to the Redis server in cfg and returns a SessionStore that
// owns the client.
//
// Postcondition: The server answered PING, or a non-nil error is returned.
func Dial(ctx context.Context, cfg config.RedisConfig) (*SessionStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis %s: %w", cfg.Addr, err)
	}
	return New(Config{Client: client, KeyPrefix: cfg.KeyPrefix})
}

// Close closes the underlying client.
func (s *SessionStore) Close() error {
	return s.client.Close()
}

func (s *SessionStore) sessionKey(id string) string { return s.keyPrefix + "session:" + id }
func (s *SessionStore) indexKey() string           { return s.keyPrefix + "index" }

// Insert implements lobby.Store.
func (s *SessionStore) Insert(ctx context.Context, r lobby.Record) error {
	data, err := json.Marshal(toStored(r))
	if err != nil {
		return fmt.Errorf("marshalling lobby session: %w", err)
	}
	created, err := s.client.SetNX(ctx, s.sessionKey(r.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("storing lobby session %s: %w", r.ID, err)
	}
	if !created {
		return fmt.Errorf("%w: %s", lobby.ErrExists, r.ID)
	}
	if err := s.client.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(r.CreatedAt.UnixMilli()),
		Member: r.ID,
	}).Err(); err != nil {
		return fmt.Errorf("indexing lobby session %s: %w", r.ID, err)
	}
	return nil
}

// Get implements lobby.Store.
func (s *SessionStore) Get(ctx context.Context, id string) (lobby.Record, error) {
	return s.get(ctx, s.client, id)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *SessionStore) get(ctx context.Context, c getter, id string) (lobby.Record, error) {
	data, err := c.Get(ctx, s.sessionKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return lobby.Record{}, fmt.Errorf("%w: %s", lobby.ErrNotFound, id)
		}
		return lobby.Record{}, fmt.Errorf("loading lobby session %s: %w", id, err)
	}
	var st storedRecord
	if err := json.Unmarshal(data, &st); err != nil {
		return lobby.Record{}, fmt.Errorf("unmarshalling lobby session %s: %w", id, err)
	}
	return st.record(), nil
}

// Find implements lobby.Store. Index entries whose blob has vanished are skipped.
func (s *SessionStore) Find(ctx context.Context, f lobby.Filter) ([]lobby.Record, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = lobby.MaxFindResults
	}
	var out []lobby.Record
	for start := int64(0); len(out) < limit; start += findBatch {
		ids, err := s.client.ZRange(ctx, s.indexKey(), start, start+findBatch-1).Result()
		if err != nil {
			return nil, fmt.Errorf("reading lobby index: %w", err)
		}
		if len(ids) == 0 {
			break
		}
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = s.sessionKey(id)
		}
		blobs, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("loading lobby sessions: %w", err)
		}
		for _, blob := range blobs {
			raw, ok := blob.(string)
			if !ok {
				continue
			}
			var st storedRecord
			if err := json.Unmarshal([]byte(raw), &st); err != nil {
				return nil, fmt.Errorf("unmarshalling lobby session: %w", err)
			}
			if r := st.record(); f.Matches(r) {
				out = append(out, r)
				if len(out) == limit {
					break
				}
			}
		}
	}
	return out, nil
}

// Reserve implements lobby.Store.
func (s *SessionStore) Reserve(ctx context.Context, id string) (lobby.Record, error) {
	return s.update(ctx, id, func(r *lobby.Record) error {
		if r.OpenSlots <= 0 {
			return fmt.Errorf("%w: %s", lobby.ErrFull, id)
		}
		r.OpenSlots--
		return nil
	})
}

// Release implements lobby.Store.
func (s *SessionStore) Release(ctx context.Context, id string) (lobby.Record, error) {
	return s.update(ctx, id, func(r *lobby.Record) error {
		if r.OpenSlots < r.Settings.MaxPublicConnections {
			r.OpenSlots++
		}
		return nil
	})
}

// update applies fn to the stored record with an optimistic WATCH/MULTI
// transaction, retrying when another writer got there first.
func (s *SessionStore) update(ctx context.Context, id string, fn func(r *lobby.Record) error) (lobby.Record, error) {
	key := s.sessionKey(id)
	var updated lobby.Record
	txf := func(tx *redis.Tx) error {
		r, err := s.get(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(&r); err != nil {
			return err
		}
		data, err := json.Marshal(toStored(r))
		if err != nil {
			return fmt.Errorf("marshalling lobby session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err != nil {
			return err
		}
		updated = r
		return nil
	}

	for i := 0; i < updateRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return lobby.Record{}, err
		}
		return updated, nil
	}
	return lobby.Record{}, fmt.Errorf("updating lobby session %s: too much contention", id)
}

// Delete implements lobby.Store.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.sessionKey(id))
		pipe.ZRem(ctx, s.indexKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting lobby session %s: %w", id, err)
	}
	if del.Val() == 0 {
		return fmt.Errorf("%w: %s", lobby.ErrNotFound, id)
	}
	return nil
}

func toStored(r lobby.Record) storedRecord {
	s := r.Settings
	return storedRecord{
		ID:                    r.ID,
		Name:                  r.Name,
		OwnerName:             r.OwnerName,
		Address:               r.Address,
		TokenHash:             r.TokenHash,
		LAN:                   s.IsLAN(),
		Advertise:             s.Advertise,
		MaxPublicConnections:  s.MaxPublicConnections,
		AllowJoinInProgress:   s.AllowJoinInProgress,
		UsesPresence:          s.UsesPresence,
		AllowJoinViaPresence:  s.AllowJoinViaPresence,
		UseLobbiesIfAvailable: s.UseLobbiesIfAvailable,
		OpenSlots:             r.OpenSlots,
		CreatedAt:             r.CreatedAt,
	}
}

func (st storedRecord) record() lobby.Record {
	visibility := online.VisibilityOnline
	if st.LAN {
		visibility = online.VisibilityLAN
	}
	return lobby.Record{
		ID:        st.ID,
		Name:      st.Name,
		OwnerName: st.OwnerName,
		Address:   st.Address,
		TokenHash: st.TokenHash,
		Settings: online.Settings{
			Visibility:            visibility,
			Advertise:             st.Advertise,
			MaxPublicConnections:  st.MaxPublicConnections,
			AllowJoinInProgress:   st.AllowJoinInProgress,
			UsesPresence:          st.UsesPresence,
			AllowJoinViaPresence:  st.AllowJoinViaPresence,
			UseLobbiesIfAvailable: st.UseLobbiesIfAvailable,
		},
		OpenSlots: st.OpenSlots,
		CreatedAt: st.CreatedAt,
	}
}
