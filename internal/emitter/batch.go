package emitter

import (
	"context"
	"sync"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"
)

const (
	defaultBatchSize     = 500
	defaultFlushInterval = 5 * time.Second
)

// flusher runs a periodic flush until stopped. Loki and VictoriaLogs share
// it.
type flusher struct {
	interval time.Duration
	flush    func(context.Context) error
	logger   logger.ILogger

	once sync.Once
	done chan struct{}
	wg   sync.WaitGroup
}

func newFlusher(interval time.Duration, flush func(context.Context) error, log logger.ILogger) *flusher {
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	return &flusher{
		interval: interval,
		flush:    flush,
		logger:   log,
		done:     make(chan struct{}),
	}
}

func (f *flusher) start(ctx context.Context) {
	f.wg.Add(1)
	go f.loop(ctx)
}

// stop ends the loop and waits for an in-flight flush. Safe to call twice.
func (f *flusher) stop() {
	f.once.Do(func() { close(f.done) })
	f.wg.Wait()
}

func (f *flusher) loop(ctx context.Context) {
	defer f.wg.Done()

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.done:
			return
		case <-ticker.C:
			if err := f.flush(ctx); err != nil {
				f.logger.Debugf("flush error: %v", err)
			}
		}
	}
}

func batchSizeOrDefault(n int) int {
	if n <= 0 {
		return defaultBatchSize
	}
	return n
}
