// Package config loads typed configuration from environment variables.
//
// It wraps github.com/joho/godotenv and github.com/caarlos0/env/v11:
//
//   - LoadEnv reads one or more .env files into the process environment.
//   - Load parses the environment into a struct using `env` tags and caches
//     the result per type, so every component sees the same values.
//   - Structs implementing Validator are checked after parsing.
//
// # Usage
//
//	var cfg billing.Config
//	if err := config.Load(&cfg); err != nil {
//	    log.Fatalf("billing config: %v", err)
//	}
//
// The default .env in the working directory is read on the first Load when
// present. Variables already set in the process take precedence over files.
//
// # Error Handling
//
//   - ErrParsingConfig: a value could not be parsed or a required one is missing.
//   - ErrInvalidConfig: the struct's Validate method rejected the values.
//   - ErrLoadingEnvFile: a file passed to LoadEnv could not be read.
//   - ErrNilPointer: nil pointer passed to Load or MustLoad.
//
// ResetCache clears cached configs, which tests use between cases.
package config
