// Package config loads and validates the exporter's process configuration.
//
// Every field is populated from the environment in one pass and validated
// before any collaborator is constructed, so the process never runs with a
// partially initialized configuration (spec Design Note: "do not expose
// partially initialized objects").
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Config is the exporter's complete environment-derived configuration.
type Config struct {
	// Message broker.
	RabbitURL string `env:"RABBIT_URL" validate:"required"`

	ExperimentExchange      string `env:"EXPERIMENT_EXCHANGE" envDefault:"ingest.exporter.exchange"`
	ExperimentSubmittedKey  string `env:"EXPERIMENT_SUBMITTED_KEY" envDefault:"ingest.exporter.experiment.submitted"`
	ExperimentExportedKey   string `env:"EXPERIMENT_EXPORTED_KEY" envDefault:"ingest.exporter.experiment.exported"`
	ManifestSubmittedKey    string `env:"MANIFEST_SUBMITTED_KEY" envDefault:"ingest.exporter.manifest.submitted"`
	DisableManifest         bool   `env:"DISABLE_MANIFEST" envDefault:"false"`

	// Metadata / schema / export-job repository.
	IngestAPIURL                string  `env:"INGEST_API" validate:"required"`
	MetadataServiceRateLimitRPS float64 `env:"METADATA_SERVICE_RATE_LIMIT_RPS" envDefault:"10"`
	SchemaCacheTTLSeconds       int     `env:"SCHEMA_CACHE_TTL_SECONDS" envDefault:"600"`

	// Destination object store.
	GCPProjectID  string `env:"GCP_PROJECT_ID" validate:"required"`
	GCSDestBucket string `env:"GCS_DEST_BUCKET" validate:"required"`
	GCSDestPrefix string `env:"GCS_DEST_PREFIX"`

	// Source object store credentials, passed through to the transfer job spec.
	TransferSourceAWSAccessKeyID     string `env:"TRANSFER_SOURCE_AWS_ACCESS_KEY_ID"`
	TransferSourceAWSSecretAccessKey string `env:"TRANSFER_SOURCE_AWS_SECRET_ACCESS_KEY"`

	// Worker pool / process.
	WorkerPoolSize int `env:"WORKER_POOL_SIZE" envDefault:"8" validate:"gte=1"`
	HealthPort     int `env:"HEALTH_PORT" envDefault:"8080"`
}

// Error is returned when loading or validating the configuration fails.
type Error struct {
	Wrapped error
}

func (e *Error) Error() string { return fmt.Sprintf("config: %s", e.Wrapped) }
func (e *Error) Unwrap() error { return e.Wrapped }

// Load reads the configuration from the environment and validates it.
// It never returns a partially populated Config: on any error the returned
// pointer is nil.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, &Error{Wrapped: err}
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, &Error{Wrapped: err}
	}
	return cfg, nil
}
