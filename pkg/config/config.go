// Package config holds configuration for the report tooling. The boot
// pipeline itself takes no configuration; only the host-side tools do.
package config

import "os"

// Config holds tooling configuration.
type Config struct {
	StorePath      string
	OTLPEndpoint   string
	LogLevel       string
	LoaderIdentity string
}

// Load loads configuration from environment variables.
func Load() *Config {
	storePath := os.Getenv("NOSBOOT_STORE")

	otlp := os.Getenv("NOSBOOT_OTLP_ENDPOINT")

	logLevel := os.Getenv("NOSBOOT_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	identity := os.Getenv("NOSBOOT_LOADER_IDENTITY")
	if identity == "" {
		identity = "nosboot simulator"
	}

	return &Config{
		StorePath:      storePath,
		OTLPEndpoint:   otlp,
		LogLevel:       logLevel,
		LoaderIdentity: identity,
	}
}
