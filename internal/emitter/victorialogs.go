package emitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"

	"github.com/GabrielNunesIT/protocol-hub/internal/config"
	"github.com/GabrielNunesIT/protocol-hub/internal/model"
)

// VictoriaLogsEmitter writes events to VictoriaLogs.
type VictoriaLogsEmitter struct {
	cfg       config.VictoriaLogsEmitterConfig
	client    HTTPDoer
	batch     [][]byte
	batchSize int
	mu        sync.Mutex
	flusher   *flusher
	logger    logger.ILogger
}

// vlDocument is the jsonline form of an event. VictoriaLogs flattens the
// nested objects into dotted field names.
type vlDocument struct {
	Time    string `json:"_time"`
	Message string `json:"_msg"`
	model.NormalizedEvent
}

// VictoriaLogsOption configures a VictoriaLogsEmitter.
type VictoriaLogsOption func(*VictoriaLogsEmitter)

// WithVictoriaLogsHTTPClient sets a custom HTTP client for testing.
func WithVictoriaLogsHTTPClient(client HTTPDoer) VictoriaLogsOption {
	return func(v *VictoriaLogsEmitter) {
		v.client = client
	}
}

// NewVictoriaLogsEmitter creates a new VictoriaLogs emitter.
func NewVictoriaLogsEmitter(cfg config.VictoriaLogsEmitterConfig, log logger.ILogger, opts ...VictoriaLogsOption) *VictoriaLogsEmitter {
	v := &VictoriaLogsEmitter{
		cfg: cfg,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		batchSize: batchSizeOrDefault(cfg.BatchSize),
		logger:    log.SubLogger("VictoriaLogsEmitter"),
	}
	v.flusher = newFlusher(cfg.FlushInterval, v.flush, v.logger)
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Name returns the emitter identifier.
func (v *VictoriaLogsEmitter) Name() string {
	return "victorialogs"
}

// Start begins the background flush goroutine.
func (v *VictoriaLogsEmitter) Start(ctx context.Context) error {
	v.logger.Infof("connected to VictoriaLogs: url=%s", v.cfg.URL)
	v.flusher.start(ctx)
	return nil
}

// Stop flushes remaining events and shuts down.
func (v *VictoriaLogsEmitter) Stop(ctx context.Context) error {
	v.flusher.stop()
	v.logger.Debug("flushing remaining entries")
	return v.flush(ctx)
}

// Emit adds an event to the batch.
func (v *VictoriaLogsEmitter) Emit(ctx context.Context, ev model.NormalizedEvent) error {
	data, err := json.Marshal(vlDocument{
		Time:            ev.Timestamp.Format(time.RFC3339Nano),
		Message:         message(ev),
		NormalizedEvent: ev,
	})
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.batch = append(v.batch, data)
	if len(v.batch) >= v.batchSize {
		return v.flushLocked(ctx)
	}
	return nil
}

// flush sends the batch to VictoriaLogs.
func (v *VictoriaLogsEmitter) flush(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.flushLocked(ctx)
}

// flushLocked sends the batch (caller must hold lock).
func (v *VictoriaLogsEmitter) flushLocked(ctx context.Context) error {
	if len(v.batch) == 0 {
		return nil
	}

	batchSize := len(v.batch)

	// VictoriaLogs uses jsonline format
	var buf bytes.Buffer
	for _, doc := range v.batch {
		buf.Write(doc)
		buf.WriteByte('\n')
	}
	v.batch = nil

	url := v.cfg.URL + "/insert/jsonline?_stream_fields=protocol,pluginId"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return err
	}

	httpReq.Header.Set("Content-Type", "application/x-ndjson")

	resp, err := v.client.Do(httpReq)
	if err != nil {
		v.logger.Debugf("push failed: %v", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		v.logger.Debugf("push failed: status=%d", resp.StatusCode)
		return fmt.Errorf("victorialogs push failed with status: %d", resp.StatusCode)
	}

	v.logger.Debugf("pushed %d events to VictoriaLogs", batchSize)
	return nil
}
