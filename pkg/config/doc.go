// Package config loads application configuration from environment variables.
//
// It wraps `github.com/joho/godotenv` and `github.com/caarlos0/env/v11`:
//
//   - .env files are loaded first; explicit files must exist, the default
//     ./.env is optional.
//   - The environment is parsed into any Go struct using field tags, with an
//     optional prefix applied to every variable name.
//   - Structs implementing Validator are validated after parsing.
//
// # Usage
//
//	type DatabaseConfig struct {
//	    Host string `env:"DB_HOST,required"`
//	    Port int    `env:"DB_PORT" envDefault:"5432"`
//	}
//
//	var db DatabaseConfig
//	if err := config.Load(&db, config.WithPrefix("BILLING_")); err != nil {
//	    log.Fatalf("parsing env: %v", err)
//	}
//
// Nested structs share the prefix, so a field tagged `envPrefix:"PG_"` resolves
// to BILLING_PG_* variables.
//
// # Error Handling
//
// The package defines sentinel errors that can be compared with `errors.Is`:
//
//   - `ErrParsingConfig`  – failed to parse env vars into struct.
//   - `ErrLoadingEnvFile` – an explicit .env file is missing or unreadable.
//   - `ErrInvalidConfig`  – Validate rejected the parsed values.
//   - `ErrNilPointer`     – nil pointer passed to `Load`/`MustLoad`.
package config
