// Package redisstore implements domain.Store on Redis hashes. Each record
// occupies two keys: a hash with the direct fields and a sibling hash with
// the JSON-encoded metadata entries. Both expire after RecordTTL.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/DaanH/buildings-visualizer/internal/domain"
)

// RecordTTL is how long a record survives in Redis. SQL-backed drivers do
// not expire records; the divergence is a property of this driver.
const RecordTTL = 7 * 24 * time.Hour

const keyPrefix = "vis:image:"

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Store is the Redis-backed record store.
type Store struct {
	client *redis.Client
}

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, opts Options) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redisstore: ping: %w", err)
	}
	return &Store{client: client}, nil
}

// New wraps an existing client, mainly for tests.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

func recordKey(id string) string { return keyPrefix + id }
func metaKey(id string) string   { return keyPrefix + id + ":meta" }

// Put applies the patch inside a MULTI/EXEC pipeline so the record hash
// and the metadata hash change together or not at all.
func (s *Store) Put(ctx context.Context, id string, patch domain.RecordPatch) error {
	fields := make(map[string]any)
	if patch.Data != nil {
		fields[domain.FieldData] = *patch.Data
	}
	if patch.Status != nil {
		fields[domain.FieldStatus] = string(*patch.Status)
	}
	if patch.FileName != nil {
		fields[domain.FieldFileName] = *patch.FileName
	}
	if patch.Timestamp != nil {
		fields[domain.FieldTimestamp] = *patch.Timestamp
	}
	if patch.ErrorMessage != nil {
		fields[domain.FieldErrorMessage] = *patch.ErrorMessage
	}

	var meta map[string]string
	if patch.Metadata != nil {
		meta = make(map[string]string, len(patch.Metadata))
		for k, v := range patch.Metadata {
			encoded, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("redisstore: encode metadata %q: %w", k, err)
			}
			meta[k] = string(encoded)
		}
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, recordKey(id), "id", id)
	if len(fields) > 0 {
		pipe.HSet(ctx, recordKey(id), fields)
	}
	if meta != nil {
		pipe.Del(ctx, metaKey(id))
		if len(meta) > 0 {
			pipe.HSet(ctx, metaKey(id), meta)
		}
	}
	pipe.Expire(ctx, recordKey(id), RecordTTL)
	pipe.Expire(ctx, metaKey(id), RecordTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: put %s: %w", id, err)
	}
	return nil
}

// Get loads the record and its decoded metadata.
func (s *Store) Get(ctx context.Context, id string) (*domain.Record, error) {
	pipe := s.client.TxPipeline()
	recCmd := pipe.HGetAll(ctx, recordKey(id))
	metaCmd := pipe.HGetAll(ctx, metaKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redisstore: get %s: %w", id, err)
	}
	fields := recCmd.Val()
	if len(fields) == 0 {
		return nil, domain.ErrNotFound
	}
	rec := &domain.Record{
		ID:           id,
		Data:         fields[domain.FieldData],
		Status:       domain.Status(fields[domain.FieldStatus]),
		FileName:     fields[domain.FieldFileName],
		Timestamp:    fields[domain.FieldTimestamp],
		ErrorMessage: fields[domain.FieldErrorMessage],
	}
	raw := metaCmd.Val()
	if len(raw) > 0 {
		rec.Metadata = make(map[string]any, len(raw))
		for k, v := range raw {
			rec.Metadata[k] = decodeMetaValue(v)
		}
	}
	return rec, nil
}

// GetField reads a single direct field, falling back to the metadata hash.
func (s *Store) GetField(ctx context.Context, id, field string) (any, error) {
	pipe := s.client.TxPipeline()
	existsCmd := pipe.Exists(ctx, recordKey(id))
	fieldCmd := pipe.HGet(ctx, recordKey(id), field)
	metaCmd := pipe.HGet(ctx, metaKey(id), field)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redisstore: get field %s.%s: %w", id, field, err)
	}
	if existsCmd.Val() == 0 {
		return nil, domain.ErrNotFound
	}
	if v, err := fieldCmd.Result(); err == nil {
		return v, nil
	}
	if v, err := metaCmd.Result(); err == nil {
		return decodeMetaValue(v), nil
	}
	return nil, domain.ErrNotFound
}

// Delete removes the record and metadata keys in one transaction, so a
// failure can never leave the metadata hash orphaned. The count reflects
// the record key only.
func (s *Store) Delete(ctx context.Context, id string) (int, error) {
	pipe := s.client.TxPipeline()
	existed := pipe.Del(ctx, recordKey(id))
	pipe.Del(ctx, metaKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redisstore: delete %s: %w", id, err)
	}
	return int(existed.Val()), nil
}

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Metadata values are written JSON-encoded, so decoding restores the
// structured form exactly: strings stay strings even when their content
// happens to be valid JSON.
func decodeMetaValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

var _ domain.Store = (*Store)(nil)
