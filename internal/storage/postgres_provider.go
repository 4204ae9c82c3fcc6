package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresProvider implements Provider on a pgx connection pool.
type PostgresProvider struct {
	pool *pgxpool.Pool
	cfg  PostgresConfig
}

// NewPostgresProvider opens a pooled connection to dsn. When WithMigrations is
// set the embedded schema is applied before the provider is returned.
func NewPostgresProvider(ctx context.Context, dsn string, opts ...Option) (*PostgresProvider, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if cfg.RunMigrations {
		if err := Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return &PostgresProvider{pool: pool, cfg: cfg}, nil
}

func (p *PostgresProvider) Close(ctx context.Context) error {
	if p == nil || p.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		p.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (p *PostgresProvider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.QueryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.cfg.QueryTimeout)
}

func (p *PostgresProvider) SelectOrdered(ctx context.Context, table, orderColumn string, descending bool) ([]Row, error) {
	if err := checkIdentifiers(table, orderColumn); err != nil {
		return nil, err
	}
	direction := "ASC"
	if descending {
		direction = "DESC"
	}
	query, args, err := psql.Select("*").From(table).OrderBy(orderColumn + " " + direction).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	return p.queryRows(ctx, query, args...)
}

func (p *PostgresProvider) Insert(ctx context.Context, table string, values Row) (Row, error) {
	if err := checkIdentifiers(table); err != nil {
		return nil, err
	}
	if err := checkColumns(values); err != nil {
		return nil, err
	}
	query, args, err := psql.Insert(table).SetMap(map[string]any(values)).Suffix("RETURNING *").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert: %w", err)
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	rows, err := p.queryRows(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.New("insert returned no row")
	}
	return rows[0], nil
}

func (p *PostgresProvider) UpdateByID(ctx context.Context, table, id string, values Row) (Row, bool, error) {
	if err := checkIdentifiers(table); err != nil {
		return nil, false, err
	}
	if err := checkColumns(values); err != nil {
		return nil, false, err
	}
	builder := psql.Update(table).Where(sq.Eq{"id": id}).Suffix("RETURNING *")
	if len(values) == 0 {
		// Nothing to change; touch id so the row is still returned.
		builder = builder.Set("id", sq.Expr("id"))
	} else {
		builder = builder.SetMap(map[string]any(values))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("build update: %w", err)
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	rows, err := p.queryRows(ctx, query, args...)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

func (p *PostgresProvider) DeleteByID(ctx context.Context, table, id string) error {
	if err := checkIdentifiers(table); err != nil {
		return err
	}
	query, args, err := psql.Delete(table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	if _, err := p.pool.Exec(ctx, query, args...); err != nil {
		return err
	}
	return nil
}

func (p *PostgresProvider) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.pool.Ping(ctx)
}

func (p *PostgresProvider) queryRows(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, err
	}
	out := make([]Row, len(maps))
	for i, m := range maps {
		out[i] = Row(m)
	}
	return out, nil
}

func checkIdentifiers(names ...string) error {
	for _, name := range names {
		if !identifierPattern.MatchString(name) {
			return fmt.Errorf("invalid identifier %q", name)
		}
	}
	return nil
}

func checkColumns(values Row) error {
	for column := range values {
		if err := checkIdentifiers(column); err != nil {
			return err
		}
	}
	return nil
}
