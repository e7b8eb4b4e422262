package main

import (
	"context"
	"fmt"

	"github.com/nidhogg/mindprint/internal/blob"
	"github.com/nidhogg/mindprint/internal/chat"
	"github.com/nidhogg/mindprint/internal/config"
	"github.com/nidhogg/mindprint/internal/document"
	"github.com/nidhogg/mindprint/internal/embedding"
	"github.com/nidhogg/mindprint/internal/enrollment"
	"github.com/nidhogg/mindprint/internal/memory"
	"github.com/nidhogg/mindprint/internal/provider"
	"github.com/nidhogg/mindprint/internal/question"
	pgstore "github.com/nidhogg/mindprint/internal/store"
	"github.com/nidhogg/mindprint/internal/store/memstore"
	"github.com/nidhogg/mindprint/internal/tasks"
	"github.com/nidhogg/mindprint/internal/vectorstore"
	"go.uber.org/zap"
)

// repository is every service repository at once; both the PostgreSQL and
// in-memory stores satisfy it.
type repository interface {
	memory.Repository
	document.Repository
	enrollment.Repository
	chat.Repository
}

type application struct {
	tracker   *enrollment.Tracker
	memories  *memory.Store
	documents *document.Service
	chat      *chat.Orchestrator
	checks    map[string]func(context.Context) error

	queue   *tasks.Queue
	closers []func(context.Context)
	logger  *zap.Logger
}

func (a *application) onClose(fn func(context.Context)) {
	a.closers = append(a.closers, fn)
}

// close drains background work, then releases connections in reverse order.
func (a *application) close(ctx context.Context) {
	if err := a.queue.Close(ctx); err != nil {
		a.logger.Warn("task queue did not drain", zap.Error(err))
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
}

func build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*application, error) {
	app := &application{
		checks: make(map[string]func(context.Context) error),
		logger: logger,
	}
	app.queue = tasks.NewQueue(cfg.Tasks.Workers, cfg.Tasks.Timeout.D(), logger)

	// Relational repositories
	var repo repository
	if dsn := cfg.Database.Postgres.DSN; dsn != "" {
		ps, err := pgstore.New(ctx, dsn, logger)
		if err != nil {
			return nil, err
		}
		if err := ps.Migrate(ctx, cfg.Database.Postgres.Migrations); err != nil {
			ps.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		app.onClose(func(context.Context) { ps.Close() })
		app.checks["postgres"] = ps.Ping
		repo = ps
	} else {
		logger.Warn("No database.postgres.dsn, keeping all data in memory")
		repo = memstore.New()
	}

	// Memory repository: relational by default, graph when configured
	var memRepo memory.Repository = repo
	if cfg.Memory.Backend == config.MemoryBackendNeo4j {
		n := cfg.Database.Neo4j
		g, err := memory.NewGraphRepository(n.URI, n.User, n.Password, logger)
		if err != nil {
			return nil, err
		}
		if err := g.EnsureSchema(ctx); err != nil {
			g.Close(ctx)
			return nil, err
		}
		app.onClose(func(ctx context.Context) { g.Close(ctx) })
		app.checks["neo4j"] = g.Ping
		memRepo = g
	}

	// Embeddings
	var opts []embedding.Option
	opts = append(opts, embedding.WithMaxChars(cfg.Embedding.MaxChars))
	if cfg.Embedding.CacheEntries > 0 {
		cache, err := embedding.NewCache(cfg.Embedding.CacheEntries)
		if err != nil {
			return nil, err
		}
		app.onClose(func(context.Context) { cache.Close() })
		opts = append(opts, embedding.WithCache(cache))
	}
	embedder := embedding.NewEmbedder(embedding.NewProvider(embedding.Config{
		Provider:  cfg.Embedding.Provider,
		Endpoint:  cfg.Embedding.Endpoint,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
		Timeout:   cfg.Embedding.Timeout.D(),
	}), logger, opts...)
	if !embedder.Enabled() {
		logger.Info("Embeddings disabled, retrieval uses keyword scoring")
	}

	index, err := buildIndex(cfg, app)
	if err != nil {
		return nil, err
	}

	store, err := buildBlob(ctx, cfg, app)
	if err != nil {
		return nil, err
	}

	// Generation
	router := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		p, err := provider.New(provider.ProviderConfig{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
			Model: pc.Model, Temperature: pc.Temperature, Timeout: pc.Timeout.D(),
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", pc.ID, err)
		}
		router.Register(p)
	}
	if cfg.Routing.Default != "" {
		router.SetDefault(cfg.Routing.Default)
	}
	for task, id := range cfg.Routing.Bindings {
		router.Bind(provider.Task(task), id)
	}
	for task, ids := range cfg.Routing.Fallbacks {
		router.SetFallbacks(provider.Task(task), ids)
	}
	if len(cfg.Providers) == 0 {
		logger.Warn("No generation providers configured; questions come from the bank and chat will fail")
	}

	// Services
	app.memories = memory.NewStore(memory.Config{
		Repo:          memRepo,
		Embedder:      embedder,
		Index:         index,
		Runner:        app.queue,
		MinSimilarity: cfg.Memory.MinSimilarity,
		Logger:        logger,
	})
	app.documents = document.NewService(document.Config{
		Repo:          repo,
		Blob:          store,
		Embedder:      embedder,
		Index:         index,
		Runner:        app.queue,
		ChunkSize:     cfg.Documents.ChunkSize,
		ChunkOverlap:  cfg.Documents.ChunkOverlap,
		MinSimilarity: cfg.Memory.MinSimilarity,
		Logger:        logger,
	})
	app.chat = chat.NewOrchestrator(chat.Config{
		Repo:         repo,
		Memories:     app.memories,
		Documents:    app.documents,
		Generator:    router,
		HistoryLimit: cfg.Chat.HistoryLimit,
		MemoryLimit:  cfg.Chat.MemoryLimit,
		ChunkLimit:   cfg.Chat.ChunkLimit,
		PerCategory:  cfg.Chat.PerCategory,
		MaxTokens:    cfg.Chat.MaxTokens,
		Logger:       logger,
	})

	locker, err := buildLocker(cfg, app)
	if err != nil {
		return nil, err
	}
	app.tracker = enrollment.NewTracker(enrollment.Config{
		Repo:              repo,
		Memories:          app.memories,
		Selector:          question.NewSelector(router, logger, question.WithTimeout(cfg.Enrollment.QuestionTimeout.D())),
		Evaluator:         app.chat,
		Locker:            locker,
		Purgers:           []enrollment.Purger{app.memories, app.documents},
		Standard:          cfg.Enrollment.Standard,
		Trial:             cfg.Enrollment.Trial,
		EvaluationTimeout: cfg.Enrollment.EvaluationTimeout.D(),
		Logger:            logger,
	})
	app.chat.SetProfiles(app.tracker)

	logger.Info("Services initialized",
		zap.String("memory_backend", cfg.Memory.Backend),
		zap.String("vector_backend", cfg.Vector.Backend),
		zap.String("blob_backend", cfg.Blob.Backend),
		zap.String("lock", cfg.Enrollment.Lock),
		zap.Int("providers", len(cfg.Providers)))
	return app, nil
}

// buildIndex returns nil for the scan backend; services then rank the
// repository rows directly.
func buildIndex(cfg *config.Config, app *application) (vectorstore.Index, error) {
	switch cfg.Vector.Backend {
	case config.VectorFlat:
		return vectorstore.NewFlat(), nil
	case config.VectorQdrant:
		q := cfg.Database.Qdrant
		idx, err := vectorstore.NewQdrant(vectorstore.QdrantConfig{
			Host: q.Host, Port: q.Port, CollectionPrefix: q.CollectionPrefix,
		})
		if err != nil {
			return nil, err
		}
		app.onClose(func(context.Context) { idx.Close() })
		return idx, nil
	case config.VectorChromem:
		return vectorstore.NewChromem(vectorstore.ChromemConfig{
			Path: cfg.Vector.Chromem.Path, Compress: cfg.Vector.Chromem.Compress,
		})
	default:
		return nil, nil
	}
}

func buildBlob(ctx context.Context, cfg *config.Config, app *application) (blob.Store, error) {
	switch cfg.Blob.Backend {
	case config.BlobLocal:
		return blob.NewLocalStore(cfg.Blob.Dir)
	case config.BlobGCS:
		g, err := blob.NewGCSStore(ctx, blob.GCSConfig{
			Bucket: cfg.Blob.GCS.Bucket, CredentialsFile: cfg.Blob.GCS.CredentialsFile,
		}, app.logger)
		if err != nil {
			return nil, err
		}
		app.onClose(func(context.Context) { g.Close() })
		return g, nil
	default:
		return nil, nil
	}
}

func buildLocker(cfg *config.Config, app *application) (enrollment.Locker, error) {
	if cfg.Enrollment.Lock != config.LockRedis {
		return enrollment.NewLocalLocker(), nil
	}
	l, err := enrollment.NewRedisLocker(cfg.Database.Redis.URL, cfg.Enrollment.LockTTL.D(), app.logger)
	if err != nil {
		return nil, err
	}
	app.onClose(func(context.Context) { l.Close() })
	return l, nil
}
