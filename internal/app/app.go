package app

import (
	"context"
	"fmt"

	"github.com/markdave123-py/docuiq/internal/api/handlers"
	"github.com/markdave123-py/docuiq/internal/config"
	"github.com/markdave123-py/docuiq/internal/core"
	db "github.com/markdave123-py/docuiq/internal/core/database"
	"github.com/markdave123-py/docuiq/internal/core/ingestion_engine"
	"github.com/markdave123-py/docuiq/internal/core/llm"
	"github.com/markdave123-py/docuiq/internal/core/metrics"
	objectclient "github.com/markdave123-py/docuiq/internal/core/object-client"
	"github.com/markdave123-py/docuiq/internal/core/queue"
	"github.com/markdave123-py/docuiq/internal/core/retrieval"
	"github.com/markdave123-py/docuiq/internal/core/status"
	"github.com/markdave123-py/docuiq/internal/core/vectorstore"
	"github.com/markdave123-py/docuiq/internal/pkg/logger"
	"github.com/markdave123-py/docuiq/internal/services"
)

// Role selects what a process runs.
type Role int

const (
	// RoleServe runs the HTTP API, and with the memory queue also the workers.
	RoleServe Role = iota
	// RoleWorker only consumes the queue.
	RoleWorker
)

type App struct {
	Cfg      *config.Config
	Log      *logger.Logger
	Metrics  *metrics.Metrics
	DB       core.DbClient
	Objects  core.ObjectClient
	Engine   *retrieval.Engine
	Pipeline *ingestion_engine.Pipeline
	Queue    queue.Queue
	Content  *services.ContentService
	Server   *Server

	closers []func() error
}

// NewApp builds every component the role needs. Backends are picked from cfg:
// memory or Postgres rows, local or S3 objects, SQLite or pgvector vectors,
// memory or Redis queue, in-process or remote indexing.
func NewApp(ctx context.Context, cfg *config.Config, log *logger.Logger, role Role) (*App, error) {
	// The engine is needed to answer questions and to index in process.
	needEngine := role == RoleServe || cfg.AIEngineURL == ""
	if err := cfg.Validate(needEngine); err != nil {
		return nil, err
	}
	a := &App{Cfg: cfg, Log: log, Metrics: metrics.New()}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	dbClient, err := a.openDatabase(ctx)
	if err != nil {
		return nil, err
	}
	a.DB = dbClient

	if a.Objects, err = a.openObjects(ctx); err != nil {
		return nil, err
	}

	machine := status.NewMachine(a.DB, log, status.WithObserver(a.Metrics.ObserveTransition))

	if needEngine {
		if a.Engine, err = a.buildEngine(ctx, dbClient); err != nil {
			return nil, err
		}
	}

	var indexer ingestion_engine.Indexer
	if cfg.AIEngineURL != "" {
		indexer = ingestion_engine.NewHTTPIndexer(cfg.AIEngineURL, 2*cfg.ModelTimeout)
		log.Info("indexing through remote engine", "url", cfg.AIEngineURL)
	} else {
		indexer = ingestion_engine.NewLocalIndexer(a.Engine)
	}

	a.Pipeline = ingestion_engine.NewPipeline(ingestion_engine.Deps{
		DB:        a.DB,
		Objects:   a.Objects,
		Extractor: ingestion_engine.NewTextExtractor(log),
		Indexer:   indexer,
		Fetcher: ingestion_engine.NewWebFetcher(ingestion_engine.FetcherConfig{
			UserAgent:  cfg.CrawlUA,
			ScraperURL: cfg.ScraperURL,
			Timeout:    cfg.FetchTimeout,
			RPS:        cfg.FetchRPS,
			Burst:      cfg.FetchBurst,
		}, log),
		Machine: machine,
		Metrics: a.Metrics,
		Log:     log,
	}, ingestion_engine.PipelineConfig{AllowEmptyDocuments: cfg.AllowEmptyDocuments})

	if a.Queue, err = a.openQueue(ctx); err != nil {
		return nil, err
	}
	a.Pipeline.SetTasks(a.Queue)

	if role == RoleServe {
		a.Content = services.NewContentService(services.ContentDeps{
			DB:      a.DB,
			Objects: a.Objects,
			Indexer: indexer,
			Asker:   a.Engine,
			Tasks:   a.Queue,
			Machine: machine,
			Log:     log,
		})
		a.Server = NewServer(cfg, log, a.Metrics,
			handlers.NewEngineHandler(a.Engine, log),
			handlers.NewContentHandler(a.Content, log),
			handlers.NewJobHandler(a.Content, log),
		)
	}
	ok = true
	return a, nil
}

func (a *App) openDatabase(ctx context.Context) (core.DbClient, error) {
	if a.Cfg.UsesMemoryDatabase() {
		a.Log.Warn("using in-memory database; content and jobs are lost on restart")
		return db.NewMemoryClient(), nil
	}
	client, err := db.NewDatabaseClient(ctx, a.Cfg)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	a.Log.Info("database initialized and ready")
	return client, nil
}

func (a *App) openObjects(ctx context.Context) (core.ObjectClient, error) {
	if a.Cfg.StorageBackend == "s3" {
		c, err := objectclient.NewS3Client(ctx, a.Cfg, a.Log)
		if err != nil {
			return nil, fmt.Errorf("object storage: %w", err)
		}
		return c, nil
	}
	c, err := objectclient.NewLocalClient(a.Cfg.LocalStorageDir)
	if err != nil {
		return nil, fmt.Errorf("object storage: %w", err)
	}
	a.Log.Info("object storage ready", "backend", "local", "dir", a.Cfg.LocalStorageDir)
	return c, nil
}

func (a *App) buildEngine(ctx context.Context, dbClient core.DbClient) (*retrieval.Engine, error) {
	cfg := a.Cfg
	var store core.VectorStore
	switch cfg.VectorBackend {
	case "postgres":
		pg, ok := dbClient.(*db.DatabaseClient)
		if !ok {
			return nil, core.Configuration("VECTOR_BACKEND=postgres needs a Postgres DATABASE_URL")
		}
		s, err := vectorstore.NewPgVectorStore(pg.DB())
		if err != nil {
			return nil, fmt.Errorf("vector store: %w", err)
		}
		store = s
	default:
		s, err := vectorstore.NewSQLiteStore(cfg.VectorDBPath)
		if err != nil {
			return nil, fmt.Errorf("vector store: %w", err)
		}
		store = s
	}
	a.closers = append(a.closers, store.Close)

	embedder, err := llm.NewGeminiEmbedder(ctx, core.ModelConfig{APIKey: cfg.AIAPIKey, Model: cfg.EmbedModel, Timeout: cfg.ModelTimeout})
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the embedder, %w", err)
	}
	a.closers = append(a.closers, embedder.Close)

	generator, err := llm.NewGeminiLLM(ctx, core.ModelConfig{APIKey: cfg.AIAPIKey, Model: cfg.GenModel, Timeout: cfg.ModelTimeout})
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the generator, %w", err)
	}
	a.closers = append(a.closers, generator.Close)

	engine := retrieval.NewEngine(store, embedder, generator, retrieval.EngineConfig{
		ChunkSize:        cfg.ChunkSize,
		ChunkOverlap:     cfg.ChunkOverlap,
		EmbedBatchSize:   cfg.EmbedBatchSize,
		SnippetLimit:     cfg.SnippetLimit,
		CitationFallback: cfg.CitationFallback,
	}, a.Log,
		retrieval.WithQueryEmbedder(llm.WrapLRUCache(embedder, cfg.EmbedCacheSize, cfg.EmbedCacheTTL)),
		retrieval.WithEngineMetrics(a.Metrics),
	)
	a.Log.Info("retrieval engine ready", "vectors", cfg.VectorBackend, "embed_model", embedder.Model(), "gen_model", cfg.GenModel)
	return engine, nil
}

func (a *App) openQueue(ctx context.Context) (queue.Queue, error) {
	cfg := a.Cfg
	policies := queue.Policies{
		queue.KindProcessItem:   {MaxRetries: cfg.ItemRetries, Backoff: cfg.ItemBackoff},
		queue.KindProcessWebJob: {MaxRetries: cfg.WebJobRetries, Backoff: cfg.WebJobBackoff},
	}
	var q queue.Queue
	if cfg.QueueBackend == "redis" {
		rq, err := queue.NewRedisQueue(ctx, queue.RedisConfig{
			URL:    cfg.RedisURL,
			Stream: cfg.RedisStream,
			Group:  cfg.RedisGroup,
		}, a.Pipeline.HandleTask, policies, a.Metrics, a.Log)
		if err != nil {
			return nil, fmt.Errorf("queue: %w", err)
		}
		q = rq
	} else {
		q = queue.NewMemoryQueue(a.Pipeline.HandleTask, policies, a.Metrics, a.Log)
	}
	a.closers = append(a.closers, q.Close)
	return q, nil
}

// StartWorkers launches the queue consumers until ctx is done.
func (a *App) StartWorkers(ctx context.Context) {
	a.Queue.Start(ctx, a.Cfg.Workers)
	a.Log.Info("workers started", "count", a.Cfg.Workers, "queue", a.Cfg.QueueBackend)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn("close failed", "err", err)
		}
	}
	a.closers = nil
	a.Log.Sync()
}
