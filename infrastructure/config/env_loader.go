// Package config provides environment-backed configuration loading for the
// consensus engine.
package config

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/ahrav/go-consensus/internal/ports"
)

// Compile-time verification that EnvLoader implements ConfigLoader.
var _ ports.ConfigLoader = (*EnvLoader)(nil)

// defaultWatchInterval is how often Watch re-reads the environment when no
// interval is configured.
const defaultWatchInterval = 30 * time.Second

// EnvLoader implements ports.ConfigLoader on top of process environment
// variables. Struct fields are mapped to variables through `env` tags, with
// defaults supplied via `envDefault`.
type EnvLoader struct {
	// prefix is prepended to every variable name, e.g. "CROWDSTUDY_".
	prefix string
	// watchInterval controls how often Watch polls the environment.
	watchInterval time.Duration
}

// EnvLoaderOption customizes an EnvLoader.
type EnvLoaderOption func(*EnvLoader)

// WithPrefix namespaces all environment variables read by the loader.
func WithPrefix(prefix string) EnvLoaderOption {
	return func(l *EnvLoader) { l.prefix = prefix }
}

// WithWatchInterval sets the polling interval used by Watch.
func WithWatchInterval(interval time.Duration) EnvLoaderOption {
	return func(l *EnvLoader) { l.watchInterval = interval }
}

// NewEnvLoader creates an EnvLoader with the given options.
func NewEnvLoader(opts ...EnvLoaderOption) *EnvLoader {
	loader := &EnvLoader{watchInterval: defaultWatchInterval}
	for _, opt := range opts {
		opt(loader)
	}
	return loader
}

// Load reads the environment into the provided struct pointer.
func (l *EnvLoader) Load(ctx context.Context, config any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := env.ParseWithOptions(config, env.Options{Prefix: l.prefix}); err != nil {
		return ports.NewConfigError(l.prefix+"*", err)
	}
	return nil
}

// Watch polls the environment and invokes the callback with a freshly
// parsed configuration whenever any value changes. The config argument
// must be a struct pointer; it is used only as the schema and is not
// modified. The returned stop function cancels the watch; cancelling the
// context has the same effect.
func (l *EnvLoader) Watch(ctx context.Context, config any, callback func(any)) (func(), error) {
	rv := reflect.ValueOf(config)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return nil, ports.NewConfigError(l.prefix+"*", fmt.Errorf("config must be a struct pointer, got %T", config))
	}

	current := reflect.New(rv.Elem().Type()).Interface()
	if err := l.Load(ctx, current); err != nil {
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(l.watchInterval)
		defer ticker.Stop()

		for {
			select {
			case <-watchCtx.Done():
				return
			case <-ticker.C:
				next := reflect.New(rv.Elem().Type()).Interface()
				if err := l.Load(watchCtx, next); err != nil {
					continue
				}
				if !reflect.DeepEqual(current, next) {
					current = next
					callback(next)
				}
			}
		}
	}()

	return cancel, nil
}
