package config

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-consensus/internal/ports"
)

type testConfig struct {
	Addr    string        `env:"ADDR" envDefault:"localhost:9090"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`
}

func TestEnvLoader_Load(t *testing.T) {
	t.Run("applies defaults when variables are unset", func(t *testing.T) {
		loader := NewEnvLoader(WithPrefix("TESTLOAD_DEFAULTS_"))

		var cfg testConfig
		require.NoError(t, loader.Load(context.Background(), &cfg))

		assert.Equal(t, "localhost:9090", cfg.Addr)
		assert.Equal(t, 30*time.Second, cfg.Timeout)
	})

	t.Run("reads prefixed variables", func(t *testing.T) {
		t.Setenv("TESTLOAD_PREFIX_ADDR", ":8080")
		t.Setenv("TESTLOAD_PREFIX_TIMEOUT", "5s")

		loader := NewEnvLoader(WithPrefix("TESTLOAD_PREFIX_"))

		var cfg testConfig
		require.NoError(t, loader.Load(context.Background(), &cfg))

		assert.Equal(t, ":8080", cfg.Addr)
		assert.Equal(t, 5*time.Second, cfg.Timeout)
	})

	t.Run("wraps parse failures in ConfigError", func(t *testing.T) {
		t.Setenv("TESTLOAD_BAD_TIMEOUT", "not-a-duration")

		loader := NewEnvLoader(WithPrefix("TESTLOAD_BAD_"))

		var cfg testConfig
		err := loader.Load(context.Background(), &cfg)
		require.Error(t, err)

		var configErr *ports.ConfigError
		require.True(t, errors.As(err, &configErr))
		assert.Equal(t, "TESTLOAD_BAD_*", configErr.ConfigKey)
	})

	t.Run("respects cancelled context", func(t *testing.T) {
		loader := NewEnvLoader()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		var cfg testConfig
		require.ErrorIs(t, loader.Load(ctx, &cfg), context.Canceled)
	})
}

func TestEnvLoader_Watch(t *testing.T) {
	t.Run("rejects non-pointer config", func(t *testing.T) {
		loader := NewEnvLoader()

		_, err := loader.Watch(context.Background(), testConfig{}, func(any) {})
		require.Error(t, err)

		var configErr *ports.ConfigError
		assert.True(t, errors.As(err, &configErr))
	})

	t.Run("invokes callback when the environment changes", func(t *testing.T) {
		t.Setenv("TESTWATCH_ADDR", ":1111")

		loader := NewEnvLoader(
			WithPrefix("TESTWATCH_"),
			WithWatchInterval(10*time.Millisecond),
		)

		var calls atomic.Int64
		changed := make(chan any, 1)

		stop, err := loader.Watch(context.Background(), &testConfig{}, func(cfg any) {
			if calls.Add(1) == 1 {
				changed <- cfg
			}
		})
		require.NoError(t, err)
		defer stop()

		t.Setenv("TESTWATCH_ADDR", ":2222")

		select {
		case cfg := <-changed:
			tc, ok := cfg.(*testConfig)
			require.True(t, ok)
			assert.Equal(t, ":2222", tc.Addr)
		case <-time.After(2 * time.Second):
			t.Fatal("watch callback was not invoked")
		}
	})

	t.Run("stop halts polling", func(t *testing.T) {
		loader := NewEnvLoader(WithWatchInterval(10 * time.Millisecond))

		stop, err := loader.Watch(context.Background(), &testConfig{}, func(any) {})
		require.NoError(t, err)

		// Stopping twice must be safe.
		stop()
		stop()
	})
}
