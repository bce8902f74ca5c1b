package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryEmpty(t *testing.T) {
	healthy, statuses := NewRegistry().CheckAll(context.Background())
	assert.True(t, healthy)
	assert.Empty(t, statuses)
}

func TestRegistryOneUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("db", func(_ context.Context) Status {
		return Status{Healthy: true}
	})
	r.Register("cache", func(_ context.Context) Status {
		return Status{Name: "cache", Healthy: false, Detail: "connection refused"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	assert.False(t, healthy)
	require.Len(t, statuses, 2)
	assert.Equal(t, "db", statuses[0].Name, "name filled from registration")
	assert.Equal(t, "connection refused", statuses[1].Detail)
}

func TestRegistryConcurrentRegisterAndCheck(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Register("checker", func(_ context.Context) Status { return Status{Healthy: true} })
		}()
		go func() {
			defer wg.Done()
			r.CheckAll(context.Background())
		}()
	}
	wg.Wait()
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) PingContext(ctx context.Context) error { return f(ctx) }

func TestPingChecker(t *testing.T) {
	ok := PingChecker("database", pingFunc(func(context.Context) error { return nil }), time.Second)
	assert.Equal(t, Status{Name: "database", Healthy: true}, ok(context.Background()))

	down := PingChecker("database", pingFunc(func(context.Context) error { return errors.New("dial tcp: refused") }), time.Second)
	st := down(context.Background())
	assert.False(t, st.Healthy)
	assert.Equal(t, "dial tcp: refused", st.Detail)

	slow := PingChecker("database", pingFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}), 10*time.Millisecond)
	assert.False(t, slow(context.Background()).Healthy)
}
