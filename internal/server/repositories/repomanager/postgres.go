package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/feedkeeper/internal/dbx"
	"github.com/dmitrijs2005/feedkeeper/internal/server/migrations"
	"github.com/dmitrijs2005/feedkeeper/internal/server/repositories/aggregates"
	"github.com/dmitrijs2005/feedkeeper/internal/server/repositories/entries"
	"github.com/dmitrijs2005/feedkeeper/internal/server/repositories/sequences"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager runs repositories over a PostgreSQL pool. Reads
// use read-only repeatable-read transactions so a feed page sees one
// snapshot; writes retry serialization failures.
type PostgresRepositoryManager struct {
	db   *sql.DB
	opts Options
}

func NewPostgresRepositoryManager(db *sql.DB, opts Options) *PostgresRepositoryManager {
	return &PostgresRepositoryManager{db: db, opts: opts}
}

// OpenPostgres connects to dsn with the pgx driver.
func OpenPostgres(ctx context.Context, dsn string, opts Options) (*PostgresRepositoryManager, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return NewPostgresRepositoryManager(db, opts), nil
}

func (m *PostgresRepositoryManager) repositories(tx dbx.DBTX) *Repositories {
	return &Repositories{
		Entries:    entries.NewPostgresRepository(tx),
		Aggregates: aggregates.NewPostgresRepository(tx),
		Sequences:  sequences.NewPostgresRepository(tx, m.opts.LockTimeout),
	}
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded goose migrations.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, m.db, ".")
}

func (m *PostgresRepositoryManager) Read(ctx context.Context, fn func(ctx context.Context, r *Repositories) error) error {
	o := dbx.TxOptions{
		Isolation: sql.LevelRepeatableRead,
		ReadOnly:  true,
		Timeout:   m.opts.TxTimeout,
		Retries:   m.opts.TxRetries,
	}
	return dbx.Run(ctx, m.db, o, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, m.repositories(tx))
	})
}

func (m *PostgresRepositoryManager) WithTx(ctx context.Context, fn func(ctx context.Context, r *Repositories) error) error {
	o := dbx.TxOptions{
		Timeout: m.opts.TxTimeout,
		Retries: m.opts.TxRetries,
	}
	return dbx.Run(ctx, m.db, o, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, m.repositories(tx))
	})
}

func (m *PostgresRepositoryManager) Close() error {
	return m.db.Close()
}
