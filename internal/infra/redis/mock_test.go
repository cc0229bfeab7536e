//go:build !integration

package redis

import (
	"context"
	"sync"
	"time"

	"media-gen-orchestrator/internal/domain/model"
	"media-gen-orchestrator/internal/domain/ports/repository"

	"github.com/go-redis/redis/v8"
)

// mockRedisClient is an in-memory RedisClient; XFunc fields override single calls.
type mockRedisClient struct {
	mu   sync.Mutex
	data map[string]string

	GetFunc   func(ctx context.Context, key string) (string, error)
	SetFunc   func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	SetNXFunc func(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	IncrFunc  func(ctx context.Context, key string) (int64, error)

	expires map[string]time.Duration
	deleted []string
}

var _ RedisClient = (*mockRedisClient)(nil)

func newMockRedis() *mockRedisClient {
	return &mockRedisClient{data: map[string]string{}, expires: map[string]time.Duration{}}
}

func (m *mockRedisClient) Ping(ctx context.Context) error { return nil }

func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if m.SetFunc != nil {
		return m.SetFunc(ctx, key, value, expiration)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = toString(value)
	m.expires[key] = expiration
	return nil
}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *mockRedisClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	if m.SetNXFunc != nil {
		return m.SetNXFunc(ctx, key, value, expiration)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = toString(value)
	m.expires[key] = expiration
	return true, nil
}

func (m *mockRedisClient) DelIfEquals(ctx context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[key] != value {
		return false, nil
	}
	delete(m.data, key)
	m.deleted = append(m.deleted, key)
	return true, nil
}

func (m *mockRedisClient) Incr(ctx context.Context, key string) (int64, error) {
	if m.IncrFunc != nil {
		return m.IncrFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, c := range m.data[key] {
		n = n*10 + int64(c-'0')
	}
	n++
	m.data[key] = toString(n)
	return n, nil
}

func (m *mockRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expires[key] = expiration
	return nil
}

func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	m.deleted = append(m.deleted, keys...)
	return nil
}

func (m *mockRedisClient) Close() error { return nil }

func toString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return formatInt(x)
	}
	return ""
}

func formatInt(n int64) string {
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	return string(b)
}

// mockJobRepo mocks the store the cache decorates.
type mockJobRepo struct {
	CreateFunc          func(ctx context.Context, job *model.GenerationJob) error
	GetFunc             func(ctx context.Context, id string) (*model.GenerationJob, error)
	UpdateFunc          func(ctx context.Context, id string, fn repository.Mutation) (*model.GenerationJob, error)
	ListNonTerminalFunc func(ctx context.Context) ([]*model.GenerationJob, error)
}

var _ repository.GenerationJobRepository = (*mockJobRepo)(nil)

func (m *mockJobRepo) Create(ctx context.Context, job *model.GenerationJob) error {
	return m.CreateFunc(ctx, job)
}
func (m *mockJobRepo) Get(ctx context.Context, id string) (*model.GenerationJob, error) {
	return m.GetFunc(ctx, id)
}
func (m *mockJobRepo) Update(ctx context.Context, id string, fn repository.Mutation) (*model.GenerationJob, error) {
	return m.UpdateFunc(ctx, id, fn)
}
func (m *mockJobRepo) ListNonTerminal(ctx context.Context) ([]*model.GenerationJob, error) {
	return m.ListNonTerminalFunc(ctx)
}
