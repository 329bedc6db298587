package emitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"

	"github.com/GabrielNunesIT/protocol-hub/internal/config"
	"github.com/GabrielNunesIT/protocol-hub/internal/model"
)

// IndexerFactory creates a new BulkIndexer.
type IndexerFactory func(cfg config.ElasticsearchEmitterConfig) (esutil.BulkIndexer, error)

// ElasticsearchOption configures the ElasticsearchEmitter.
type ElasticsearchOption func(*ElasticsearchEmitter)

// WithIndexerFactory sets a custom factory for creating the BulkIndexer.
// This is primarily used for testing to inject a mock indexer.
func WithIndexerFactory(f IndexerFactory) ElasticsearchOption {
	return func(e *ElasticsearchEmitter) {
		e.factory = f
	}
}

// ElasticsearchEmitter writes events to Elasticsearch.
type ElasticsearchEmitter struct {
	cfg     config.ElasticsearchEmitterConfig
	factory IndexerFactory
	indexer esutil.BulkIndexer
	mu      sync.Mutex
	logger  logger.ILogger
}

// esDocument is the indexed form of an event.
type esDocument struct {
	Timestamp string `json:"@timestamp"`
	Message   string `json:"message"`
	model.NormalizedEvent
}

// NewElasticsearchEmitter creates a new Elasticsearch emitter.
func NewElasticsearchEmitter(cfg config.ElasticsearchEmitterConfig, log logger.ILogger, opts ...ElasticsearchOption) *ElasticsearchEmitter {
	e := &ElasticsearchEmitter{
		cfg:    cfg,
		logger: log.SubLogger("ElasticsearchEmitter"),
	}

	// Default factory creates real client and indexer
	e.factory = func(cfg config.ElasticsearchEmitterConfig) (esutil.BulkIndexer, error) {
		esCfg := elasticsearch.Config{
			Addresses: cfg.Addresses,
		}

		if cfg.Username != "" {
			esCfg.Username = cfg.Username
			esCfg.Password = cfg.Password
		}

		client, err := elasticsearch.NewClient(esCfg)
		if err != nil {
			return nil, fmt.Errorf("creating elasticsearch client: %w", err)
		}

		return esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
			Client:        client,
			Index:         cfg.Index,
			NumWorkers:    2,
			FlushBytes:    5e+6, // 5MB
			FlushInterval: cfg.FlushInterval,
		})
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Name returns the emitter identifier.
func (e *ElasticsearchEmitter) Name() string {
	return "elasticsearch"
}

// Start initializes the Elasticsearch client and bulk indexer.
func (e *ElasticsearchEmitter) Start(ctx context.Context) error {
	indexer, err := e.factory(e.cfg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.indexer = indexer
	e.mu.Unlock()
	e.logger.Infof("indexing into %s at %v", e.cfg.Index, e.cfg.Addresses)
	return nil
}

// Stop flushes and closes the bulk indexer.
func (e *ElasticsearchEmitter) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.indexer == nil {
		return nil
	}
	err := e.indexer.Close(ctx)
	e.indexer = nil
	return err
}

// Emit adds an event to the bulk indexer. The event id is the document id,
// so a redelivered event overwrites rather than duplicates.
func (e *ElasticsearchEmitter) Emit(ctx context.Context, ev model.NormalizedEvent) error {
	e.mu.Lock()
	indexer := e.indexer
	e.mu.Unlock()
	if indexer == nil {
		return errors.New("elasticsearch emitter not started")
	}

	data, err := json.Marshal(esDocument{
		Timestamp:       ev.Timestamp.Format(time.RFC3339Nano),
		Message:         message(ev),
		NormalizedEvent: ev,
	})
	if err != nil {
		return err
	}

	return indexer.Add(ctx, esutil.BulkIndexerItem{
		Action:     "index",
		DocumentID: ev.ID,
		Body:       bytes.NewReader(data),
		OnFailure: func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
			if err != nil {
				e.logger.Warningf("indexing %s failed: %v", item.DocumentID, err)
				return
			}
			e.logger.Warningf("indexing %s failed: %s: %s", item.DocumentID, res.Error.Type, res.Error.Reason)
		},
	})
}
