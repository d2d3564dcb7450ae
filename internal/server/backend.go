package server

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dmitrijs2005/feedkeeper/internal/filex"
	"github.com/dmitrijs2005/feedkeeper/internal/logging"
	"github.com/dmitrijs2005/feedkeeper/internal/server/config"
	"github.com/dmitrijs2005/feedkeeper/internal/server/content"
	"github.com/dmitrijs2005/feedkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/feedkeeper/internal/server/services"
)

// Backend is the configured metadata store, content store and the services
// built over them. It is shared by the server and the admin tool.
type Backend struct {
	Manager    repomanager.RepositoryManager
	Content    content.Store
	Aggregates *services.AggregateEngine
	Entries    *services.EntryService
	Feeds      *services.FeedService
	Batch      *services.BatchService
}

func openMetadata(ctx context.Context, c *config.Config) (repomanager.RepositoryManager, error) {
	opts := repomanager.Options{
		LockTimeout: c.LockTimeout,
		TxTimeout:   c.TxTimeout,
		TxRetries:   c.TxRetries,
	}
	switch c.MetadataBackend {
	case config.BackendPostgres:
		return repomanager.OpenPostgres(ctx, c.DatabaseDSN, opts)
	case config.BackendFile:
		dir, err := filex.EnsureDir(c.DataDir)
		if err != nil {
			return nil, err
		}
		return repomanager.OpenFile(filepath.Join(dir, "metadata.json.gz"), opts)
	case config.BackendMemory:
		return repomanager.NewMemoryRepositoryManager(opts), nil
	}
	return nil, fmt.Errorf("unknown metadata backend %q", c.MetadataBackend)
}

func openContent(ctx context.Context, c *config.Config) (content.Store, error) {
	switch c.ContentBackend {
	case config.BackendS3:
		return content.NewS3Store(ctx, content.S3Config{
			Region:       c.S3Region,
			BaseEndpoint: c.S3BaseEndpoint,
			AccessKey:    c.S3RootUser,
			SecretKey:    c.S3RootPassword,
			Bucket:       c.S3Bucket,
			Prefix:       c.S3Prefix,
		})
	case config.BackendFile:
		return content.NewFileStore(filepath.Join(c.DataDir, "content"))
	case config.BackendMemory:
		return content.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown content backend %q", c.ContentBackend)
}

// OpenBackend opens the stores named by c, applies migrations and wires the
// services. The caller must Close the returned Backend.
func OpenBackend(ctx context.Context, c *config.Config, logger logging.Logger) (*Backend, error) {
	scope, err := services.ParseSequenceScope(c.SequenceScope)
	if err != nil {
		return nil, err
	}

	m, err := openMetadata(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("metadata init error: %w", err)
	}
	if err := m.RunMigrations(ctx); err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	cs, err := openContent(ctx, c)
	if err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("content init error: %w", err)
	}

	engine, err := services.NewAggregateEngine(m, c.Joins, scope, logger)
	if err != nil {
		_ = m.Close()
		return nil, err
	}
	es := services.NewEntryService(m, cs, engine, scope, logger)

	return &Backend{
		Manager:    m,
		Content:    cs,
		Aggregates: engine,
		Entries:    es,
		Feeds:      services.NewFeedService(m, engine, c.DefaultPageSize, c.MaxPageSize),
		Batch:      services.NewBatchService(es, c.MaxBatchSize, c.BatchWorkers, c.BatchItemTimeout, logger),
	}, nil
}

func (b *Backend) Close() error {
	return b.Manager.Close()
}
