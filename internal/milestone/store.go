package milestone

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"driver_intake/internal/registration"
)

// FileStore keeps the count as a decimal integer in a text file.
//
// A missing file reads as zero. An unreadable or corrupt file reads as zero
// with a warning unless Strict is set, in which case Load fails with
// registration.ErrConfig.
type FileStore struct {
	Path   string
	Strict bool
	logger *zap.Logger
}

// NewFileStore creates a file-backed counter store.
func NewFileStore(path string, strict bool, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{Path: path, Strict: strict, logger: logger}
}

func (s *FileStore) Load(_ context.Context) (int, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return s.corrupt(fmt.Errorf("read %s: %w", s.Path, err))
	}

	count, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || count < 0 {
		return s.corrupt(fmt.Errorf("parse %s: %q", s.Path, strings.TrimSpace(string(data))))
	}
	return count, nil
}

func (s *FileStore) corrupt(cause error) (int, error) {
	if s.Strict {
		return 0, fmt.Errorf("milestone: counter file: %w: %w", registration.ErrConfig, cause)
	}
	s.logger.Warn("Counter file unreadable, starting from zero", zap.Error(cause))
	return 0, nil
}

func (s *FileStore) Save(_ context.Context, count int) error {
	if dir := filepath.Dir(s.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("milestone: counter dir: %w: %w", registration.ErrStorage, err)
		}
	}

	// Readers never observe a partially written value.
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(count)), 0o644); err != nil {
		return fmt.Errorf("milestone: write counter: %w: %w", registration.ErrStorage, err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return fmt.Errorf("milestone: write counter: %w: %w", registration.ErrStorage, err)
	}
	return nil
}

// RedisStore keeps the count under a single Redis key.
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedisStore creates a Redis-backed counter store.
func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	if key == "" {
		key = "intake:counter"
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Load(ctx context.Context) (int, error) {
	count, err := s.client.Get(ctx, s.key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("milestone: load counter: %w: %w", registration.ErrStorage, err)
	}
	return count, nil
}

func (s *RedisStore) Save(ctx context.Context, count int) error {
	if err := s.client.Set(ctx, s.key, count, 0).Err(); err != nil {
		return fmt.Errorf("milestone: save counter: %w: %w", registration.ErrStorage, err)
	}
	return nil
}
