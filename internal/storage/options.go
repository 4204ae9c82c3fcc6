package storage

import (
	"strings"
	"time"
)

// Option configures either provider. Options that only make sense for one
// backend are ignored by the other.
type Option interface {
	applyMemory(*MemoryProvider)
	applyPostgres(*PostgresConfig)
}

type optionAdapter struct {
	memory func(*MemoryProvider)
	pg     func(*PostgresConfig)
}

func (o optionAdapter) applyMemory(p *MemoryProvider) {
	if o.memory != nil && p != nil {
		o.memory(p)
	}
}

func (o optionAdapter) applyPostgres(cfg *PostgresConfig) {
	if o.pg != nil && cfg != nil {
		o.pg(cfg)
	}
}

func memoryOnlyOption(memory func(*MemoryProvider)) Option {
	return optionAdapter{memory: memory}
}

func postgresOnlyOption(pg func(*PostgresConfig)) Option {
	return optionAdapter{pg: pg}
}

// WithClock sets the clock used to stamp created_at on in-memory inserts.
func WithClock(now func() time.Time) Option {
	return memoryOnlyOption(func(p *MemoryProvider) {
		if now != nil {
			p.now = now
		}
	})
}

// WithIDGenerator replaces the in-memory id generator.
func WithIDGenerator(next func() string) Option {
	return memoryOnlyOption(func(p *MemoryProvider) {
		if next != nil {
			p.newID = next
		}
	})
}

// WithQueryTimeout bounds every provider operation. The request context still
// applies, so whichever deadline is earlier wins.
func WithQueryTimeout(timeout time.Duration) Option {
	return optionAdapter{
		memory: func(p *MemoryProvider) {
			if timeout > 0 {
				p.timeout = timeout
			}
		},
		pg: func(cfg *PostgresConfig) {
			if timeout > 0 {
				cfg.QueryTimeout = timeout
			}
		},
	}
}

func WithPostgresPoolLimits(maxConns, minConns int32) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if maxConns > 0 {
			cfg.MaxConnections = maxConns
		}
		if minConns >= 0 {
			cfg.MinConnections = minConns
		}
	})
}

// WithPostgresAcquireTimeout bounds how long a new connection may take to
// establish.
func WithPostgresAcquireTimeout(timeout time.Duration) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if timeout > 0 {
			cfg.AcquireTimeout = timeout
		}
	})
}

func WithPostgresPoolDurations(maxLifetime, maxIdle, healthInterval time.Duration) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if maxLifetime > 0 {
			cfg.MaxConnLifetime = maxLifetime
		}
		if maxIdle > 0 {
			cfg.MaxConnIdleTime = maxIdle
		}
		if healthInterval > 0 {
			cfg.HealthCheckInterval = healthInterval
		}
	})
}

func WithPostgresApplicationName(name string) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			cfg.ApplicationName = trimmed
		}
	})
}

// WithMigrations applies the embedded schema migrations when the Postgres
// provider opens.
func WithMigrations(enabled bool) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		cfg.RunMigrations = enabled
	})
}
