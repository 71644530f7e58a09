package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is the diagnostic error returned by LoadConfig.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ssmParamSuffix marks a variable whose value is an SSM path for the variable
// named without the suffix, e.g. STRIPE_SECRET_KEY_SSM_PARAM.
const ssmParamSuffix = "_SSM_PARAM"

// localEnv is the APP_ENV value that bypasses SSM resolution.
const localEnv = "local"

// ssmTimeout bounds the batch SSM lookup at startup.
const ssmTimeout = 30 * time.Second

// environment abstracts the process environment so tests never touch os state.
type environment struct {
	lookup  func(key string) (string, bool)
	set     func(key, value string) error
	environ func() []string
}

func osEnvironment() environment {
	return environment{
		lookup:  os.LookupEnv,
		set:     os.Setenv,
		environ: os.Environ,
	}
}

// LoadConfig loads and validates the configuration.
//
//  1. Pin the process timezone to UTC (billing cycles are computed in UTC).
//  2. Load a .env file if present.
//  3. Outside APP_ENV=local, resolve *_SSM_PARAM pointers through provider.
//  4. Populate Config from the environment with envconfig.
//  5. Attach build metadata and validate.
//
// provider may be nil in local mode.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return load(provider, osEnvironment())
}

func load(provider SecretProvider, env environment) (*Config, error) {
	time.Local = time.UTC

	// Missing .env is not an error; existing variables are never overridden.
	_ = godotenv.Load()

	if appEnv, _ := env.lookup("APP_ENV"); appEnv != localEnv {
		if err := resolveSSMParams(provider, env); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{Type: ErrParsing, Message: "failed to process environment configuration", Err: err}
	}

	cfg.Build = NewBuildInfo()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{Type: ErrValidation, Message: "configuration validation failed", Err: err}
	}
	return &cfg, nil
}

// ResolveSecrets runs only the SSM step. Lambda entry points that do not need
// the full Config call it before reading individual variables.
func ResolveSecrets(provider SecretProvider) error {
	env := osEnvironment()
	if appEnv, _ := env.lookup("APP_ENV"); appEnv == localEnv {
		return nil
	}
	return resolveSSMParams(provider, env)
}

// resolveSSMParams fetches every *_SSM_PARAM pointer whose target variable is
// not already set and exports the resolved value under the target name.
func resolveSSMParams(provider SecretProvider, env environment) error {
	targets := make(map[string]string) // ssm path -> target variable
	for _, entry := range env.environ() {
		key, path, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasSuffix(key, ssmParamSuffix) || path == "" {
			continue
		}
		target := strings.TrimSuffix(key, ssmParamSuffix)
		if _, set := env.lookup(target); set {
			continue
		}
		targets[path] = target
	}
	if len(targets) == 0 {
		return nil
	}

	paths := make([]string, 0, len(targets))
	for p := range targets {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	if provider == nil {
		names := make([]string, 0, len(paths))
		for _, p := range paths {
			names = append(names, targets[p])
		}
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "SecretProvider is required outside local mode (unresolved: " + strings.Join(names, ", ") + ")",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), ssmTimeout)
	defer cancel()

	resolved, err := provider.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{Type: ErrSSMResolution, Message: fmt.Sprintf("failed to resolve %d SSM parameters", len(paths)), Err: err}
	}

	var missing []string
	for _, p := range paths {
		value, ok := resolved[p]
		if !ok {
			missing = append(missing, targets[p])
			continue
		}
		if err := env.set(targets[p], value); err != nil {
			return &ConfigError{Type: ErrSSMResolution, Message: "failed to export " + targets[p], Err: err}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{Type: ErrSSMResolution, Message: "SSM parameters not found for: " + strings.Join(missing, ", ")}
	}
	return nil
}
