package conversation

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"driver_intake/internal/registration"
)

// Redis is a Store backed by one Redis hash per phone plus an index set, so
// pending conversations survive a restart. Entries carry no TTL.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis creates a Redis-backed store. Keys are namespaced under prefix.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "intake"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(phone string) string {
	return r.prefix + ":conversation:" + phone
}

func (r *Redis) indexKey() string {
	return r.prefix + ":conversations"
}

func (r *Redis) Merge(ctx context.Context, phone string, update registration.Record) (registration.Record, error) {
	if err := validatePhone(phone); err != nil {
		return registration.Record{}, err
	}

	// Only non-empty values are written, so known fields are never blanked.
	values := map[string]interface{}{string(registration.FieldPhone): phone}
	for _, f := range registration.Fields {
		if v := update.Get(f); v != "" && f != registration.FieldPhone {
			values[string(f)] = v
		}
	}

	var all *redis.MapStringStringCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.key(phone), values)
		pipe.SAdd(ctx, r.indexKey(), phone)
		all = pipe.HGetAll(ctx, r.key(phone))
		return nil
	})
	if err != nil {
		return registration.Record{}, fmt.Errorf("conversation: merge %s: %w: %w", phone, registration.ErrStorage, err)
	}

	return recordFromHash(all.Val()), nil
}

func (r *Redis) Get(ctx context.Context, phone string) (registration.Record, bool, error) {
	hash, err := r.client.HGetAll(ctx, r.key(phone)).Result()
	if err != nil {
		return registration.Record{}, false, fmt.Errorf("conversation: get %s: %w: %w", phone, registration.ErrStorage, err)
	}
	if len(hash) == 0 {
		return registration.Record{}, false, nil
	}
	return recordFromHash(hash), true, nil
}

func (r *Redis) Remove(ctx context.Context, phone string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key(phone))
		pipe.SRem(ctx, r.indexKey(), phone)
		return nil
	})
	if err != nil {
		return fmt.Errorf("conversation: remove %s: %w: %w", phone, registration.ErrStorage, err)
	}
	return nil
}

func (r *Redis) List(ctx context.Context) ([]registration.Record, error) {
	phones, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("conversation: list: %w: %w", registration.ErrStorage, err)
	}

	cmds := make([]*redis.MapStringStringCmd, len(phones))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, phone := range phones {
			cmds[i] = pipe.HGetAll(ctx, r.key(phone))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("conversation: list: %w: %w", registration.ErrStorage, err)
	}

	records := make([]registration.Record, 0, len(cmds))
	for _, cmd := range cmds {
		if hash := cmd.Val(); len(hash) > 0 {
			records = append(records, recordFromHash(hash))
		}
	}
	sortByPhone(records)
	return records, nil
}

func recordFromHash(hash map[string]string) registration.Record {
	var rec registration.Record
	for _, f := range registration.Fields {
		rec.Set(f, hash[string(f)])
	}
	return rec
}
