package ingestion_engine

import (
	"time"

	"github.com/markdave123-py/docuiq/internal/core"
	"github.com/markdave123-py/docuiq/internal/core/metrics"
	"github.com/markdave123-py/docuiq/internal/core/queue"
	"github.com/markdave123-py/docuiq/internal/core/status"
	"github.com/markdave123-py/docuiq/internal/pkg/logger"
)

// PipelineConfig tunes the ingest pipeline.
//
// AllowEmptyDocuments: mark items that produce no chunks READY instead of FAILED.
// IndexAttempts:       immediate attempts of the index call on transient errors.
type PipelineConfig struct {
	AllowEmptyDocuments bool
	IndexAttempts       int
}

// Pipeline drives content items through fetch, normalize, chunk, embed and
// index, and turns web jobs into content items.
//
// db:        content items and jobs.
// obj:       raw artifact bytes.
// extractor: bytes to text.
// indexer:   chunking, embedding and vector writes.
// fetcher:   web downloads for web jobs.
// tasks:     follow-up work, web jobs enqueue item processing.
// machine:   guarded status transitions.
type Pipeline struct {
	db        core.DbClient
	obj       core.ObjectClient
	extractor core.DocumentExtractor
	indexer   Indexer
	fetcher   Fetcher
	tasks     queue.Enqueuer
	machine   *status.Machine
	metrics   *metrics.Metrics
	cfg       PipelineConfig
	log       *logger.Logger
	now       func() time.Time
}

// Deps groups the collaborators of a Pipeline.
type Deps struct {
	DB        core.DbClient
	Objects   core.ObjectClient
	Extractor core.DocumentExtractor
	Indexer   Indexer
	Fetcher   Fetcher
	Tasks     queue.Enqueuer
	Machine   *status.Machine
	Metrics   *metrics.Metrics
	Log       *logger.Logger
	Now       func() time.Time
}

func NewPipeline(d Deps, cfg PipelineConfig) *Pipeline {
	if cfg.IndexAttempts <= 0 {
		cfg.IndexAttempts = 2
	}
	now := d.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Pipeline{
		db:        d.DB,
		obj:       d.Objects,
		extractor: d.Extractor,
		indexer:   d.Indexer,
		fetcher:   d.Fetcher,
		tasks:     d.Tasks,
		machine:   d.Machine,
		metrics:   d.Metrics,
		cfg:       cfg,
		log:       d.Log,
		now:       now,
	}
}

// SetTasks wires the queue after construction; the queue's handler is the
// pipeline itself.
func (p *Pipeline) SetTasks(t queue.Enqueuer) {
	p.tasks = t
}
