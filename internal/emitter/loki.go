package emitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"

	"github.com/GabrielNunesIT/protocol-hub/internal/config"
	"github.com/GabrielNunesIT/protocol-hub/internal/model"
)

// LokiEmitter writes events to Grafana Loki. Streams are keyed by the
// configured static labels plus protocol, kind, plugin and severity; tags
// and attributes travel in the JSON log line to keep label cardinality low.
type LokiEmitter struct {
	cfg       config.LokiEmitterConfig
	client    HTTPDoer
	batch     []lokiStream
	batchSize int
	mu        sync.Mutex
	flusher   *flusher
	logger    logger.ILogger
}

// lokiPushRequest is the Loki push API request format.
type lokiPushRequest struct {
	Streams []lokiStream `json:"streams"`
}

// lokiStream represents a log stream in Loki.
type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

// LokiOption configures a LokiEmitter.
type LokiOption func(*LokiEmitter)

// WithLokiHTTPClient sets a custom HTTP client for testing.
func WithLokiHTTPClient(client HTTPDoer) LokiOption {
	return func(l *LokiEmitter) {
		l.client = client
	}
}

// NewLokiEmitter creates a new Loki emitter.
func NewLokiEmitter(cfg config.LokiEmitterConfig, log logger.ILogger, opts ...LokiOption) *LokiEmitter {
	l := &LokiEmitter{
		cfg: cfg,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		batchSize: batchSizeOrDefault(cfg.BatchSize),
		logger:    log.SubLogger("LokiEmitter"),
	}
	l.flusher = newFlusher(cfg.FlushInterval, l.flush, l.logger)
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns the emitter identifier.
func (l *LokiEmitter) Name() string {
	return "loki"
}

// Start begins the background flush goroutine.
func (l *LokiEmitter) Start(ctx context.Context) error {
	l.logger.Infof("pushing to Loki: url=%s", l.cfg.URL)
	l.flusher.start(ctx)
	return nil
}

// Stop flushes remaining events and shuts down.
func (l *LokiEmitter) Stop(ctx context.Context) error {
	l.flusher.stop()
	return l.flush(ctx)
}

// Emit adds an event to the batch.
func (l *LokiEmitter) Emit(ctx context.Context, ev model.NormalizedEvent) error {
	labels := make(map[string]string, len(l.cfg.Labels)+4)
	for k, v := range l.cfg.Labels {
		labels[k] = v
	}
	labels["protocol"] = lower(ev.Protocol)
	labels["kind"] = lower(ev.Kind)
	labels["severity"] = lower(severity(ev))
	if ev.PluginID != "" {
		labels["plugin_id"] = ev.PluginID
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	// Timestamp in nanoseconds
	ts := strconv.FormatInt(ev.Timestamp.UnixNano(), 10)

	l.mu.Lock()
	defer l.mu.Unlock()

	// Find or create stream
	found := false
	for i := range l.batch {
		if labelsEqual(l.batch[i].Stream, labels) {
			l.batch[i].Values = append(l.batch[i].Values, []string{ts, string(line)})
			found = true
			break
		}
	}
	if !found {
		l.batch = append(l.batch, lokiStream{
			Stream: labels,
			Values: [][]string{{ts, string(line)}},
		})
	}

	if l.pending() >= l.batchSize {
		return l.flushLocked(ctx)
	}
	return nil
}

// pending returns the total number of lines in the batch.
func (l *LokiEmitter) pending() int {
	count := 0
	for _, s := range l.batch {
		count += len(s.Values)
	}
	return count
}

// labelsEqual checks if two label maps are equal.
func labelsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// flush sends the batch to Loki.
func (l *LokiEmitter) flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushLocked(ctx)
}

// flushLocked sends the batch (caller must hold lock). The batch is
// discarded whether or not the push succeeds.
func (l *LokiEmitter) flushLocked(ctx context.Context) error {
	if len(l.batch) == 0 {
		return nil
	}

	req := lokiPushRequest{Streams: l.batch}
	l.batch = nil

	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	url := l.cfg.URL + "/loki/api/v1/push"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if l.cfg.TenantID != "" {
		httpReq.Header.Set("X-Scope-OrgID", l.cfg.TenantID)
	}

	resp, err := l.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("loki push failed with status: %d", resp.StatusCode)
	}
	return nil
}
