package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(context.Context) error { return nil }

func TestRegistry_Empty(t *testing.T) {
	healthy, statuses := NewRegistry().CheckAll(context.Background())
	assert.True(t, healthy)
	assert.Empty(t, statuses)
}

func TestRegistry_CriticalFailure(t *testing.T) {
	r := NewRegistry()
	r.Register("database", ok)
	r.Register("rpc", func(context.Context) error { return errors.New("dial tcp: refused") })

	healthy, statuses := r.CheckAll(context.Background())
	assert.False(t, healthy)
	require.Len(t, statuses, 2)
	assert.Equal(t, "database", statuses[0].Name)
	assert.True(t, statuses[0].Healthy)
	assert.Equal(t, "rpc", statuses[1].Name)
	assert.False(t, statuses[1].Healthy)
	assert.Equal(t, "dial tcp: refused", statuses[1].Detail)
	assert.NotEmpty(t, statuses[1].Latency)
}

func TestRegistry_InformationalFailureStaysHealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("database", ok)
	r.RegisterInformational("webhooks", func(context.Context) error { return errors.New("breaker open") })

	healthy, statuses := r.CheckAll(context.Background())
	assert.True(t, healthy)
	assert.False(t, statuses[1].Healthy)
	assert.False(t, statuses[1].Critical)
}

func TestRegistry_CheckTimeout(t *testing.T) {
	r := NewRegistry()
	r.add(entry{name: "slow", critical: true, timeout: 20 * time.Millisecond, check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	start := time.Now()
	healthy, statuses := r.CheckAll(context.Background())
	assert.False(t, healthy)
	assert.Contains(t, statuses[0].Detail, "deadline exceeded")
	assert.Less(t, time.Since(start), time.Second)
}

func TestRegistry_ChecksRunConcurrently(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"a", "b", "c"} {
		r.Register(name, func(context.Context) error {
			time.Sleep(50 * time.Millisecond)
			return nil
		})
	}
	start := time.Now()
	healthy, _ := r.CheckAll(context.Background())
	assert.True(t, healthy)
	assert.Less(t, time.Since(start), 140*time.Millisecond)
}
