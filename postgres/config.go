package postgres

import "time"

// Config holds the connection pool and migration settings, populated from the
// environment.
type Config struct {
	ConnectionString  string        `env:"POSTGRES_URL,required"`
	MaxOpenConns      int32         `env:"POSTGRES_MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns      int32         `env:"POSTGRES_MAX_IDLE_CONNS" envDefault:"5"`
	HealthCheckPeriod time.Duration `env:"POSTGRES_HEALTHCHECK_PERIOD" envDefault:"1m"`
	MaxConnIdleTime   time.Duration `env:"POSTGRES_MAX_CONN_IDLE_TIME" envDefault:"10m"`
	MaxConnLifetime   time.Duration `env:"POSTGRES_MAX_CONN_LIFETIME" envDefault:"30m"`

	RetryAttempts int           `env:"POSTGRES_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval time.Duration `env:"POSTGRES_RETRY_INTERVAL" envDefault:"5s"`

	MigrationsTable string `env:"POSTGRES_MIGRATIONS_TABLE" envDefault:"schema_migrations"`
}
