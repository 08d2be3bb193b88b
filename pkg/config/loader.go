package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Validator is implemented by config structs that check their own values
// after parsing. Load returns the error joined with ErrInvalidConfig.
type Validator interface {
	Validate() error
}

type configCache struct {
	mu     sync.Mutex
	values map[string]any
}

var (
	cache = &configCache{values: make(map[string]any)}

	defaultEnvLoaded sync.Once
)

// LoadEnv reads one or more .env files into the process environment. Later
// files override earlier ones. Variables already present in the process
// environment are kept.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	env, err := godotenv.Read(paths...)
	if err != nil {
		return errors.Join(ErrLoadingEnvFile, err)
	}
	for k, v := range env {
		if _, exists := os.LookupEnv(k); exists {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return errors.Join(ErrLoadingEnvFile, err)
		}
	}
	ResetCache()
	return nil
}

// MustLoadEnv works like LoadEnv but panics on failure.
func MustLoadEnv(paths ...string) {
	if err := LoadEnv(paths...); err != nil {
		panic(fmt.Sprintf("failed to load env files: %v", err))
	}
}

// Load parses environment variables into v based on its `env` tags. Each
// config type is parsed once per process and served from cache afterwards.
//
// The default .env file in the working directory is read on the first call
// if present; missing files are ignored.
//
//	var cfg billing.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
func Load[T any](v *T) error {
	defaultEnvLoaded.Do(func() {
		_ = godotenv.Load()
	})
	if v == nil {
		return ErrNilPointer
	}

	key := typeKey[T]()

	cache.mu.Lock()
	defer cache.mu.Unlock()

	if cached, ok := cache.values[key]; ok {
		*v = cached.(T)
		return nil
	}

	var parsed T
	if err := env.Parse(&parsed); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	if val, ok := any(&parsed).(Validator); ok {
		if err := val.Validate(); err != nil {
			return errors.Join(ErrInvalidConfig, err)
		}
	}

	cache.values[key] = parsed
	*v = parsed
	return nil
}

// MustLoad works like Load but panics if configuration loading fails.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
}

// ResetCache drops every cached config so the next Load re-reads the environment.
func ResetCache() {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	cache.values = make(map[string]any)
}

func typeKey[T any]() string {
	t := reflect.TypeFor[T]()
	return t.PkgPath() + "." + t.String()
}
