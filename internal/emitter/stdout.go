package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"

	"github.com/GabrielNunesIT/protocol-hub/internal/config"
	"github.com/GabrielNunesIT/protocol-hub/internal/model"
)

// StdoutEmitter writes events to standard output.
type StdoutEmitter struct {
	cfg    config.StdoutEmitterConfig
	writer io.Writer
	mu     sync.Mutex
	logger logger.ILogger
}

// NewStdoutEmitter creates a new stdout emitter.
func NewStdoutEmitter(cfg config.StdoutEmitterConfig, log logger.ILogger) *StdoutEmitter {
	return NewStdoutEmitterWithWriter(cfg, os.Stdout, log)
}

// NewStdoutEmitterWithWriter creates a stdout emitter with a custom writer (for testing).
func NewStdoutEmitterWithWriter(cfg config.StdoutEmitterConfig, w io.Writer, log logger.ILogger) *StdoutEmitter {
	return &StdoutEmitter{
		cfg:    cfg,
		writer: w,
		logger: log.SubLogger("StdoutEmitter"),
	}
}

// Name returns the emitter identifier.
func (s *StdoutEmitter) Name() string {
	return "stdout"
}

// Start initializes the emitter (no-op for stdout).
func (s *StdoutEmitter) Start(ctx context.Context) error {
	s.logger.Debugf("stdout emitter started: format=%s", s.cfg.Format)
	return nil
}

// Stop gracefully shuts down the emitter (no-op for stdout).
func (s *StdoutEmitter) Stop(ctx context.Context) error {
	s.logger.Debug("stdout emitter stopped")
	return nil
}

// Emit writes an event to stdout, one per line.
func (s *StdoutEmitter) Emit(ctx context.Context, ev model.NormalizedEvent) error {
	var output []byte
	var err error

	switch s.cfg.Format {
	case "text":
		output = formatText(ev)
	default:
		output, err = json.Marshal(ev)
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.writer.Write(append(output, '\n'))
	return err
}

// formatText renders an event as a single human-readable line.
func formatText(ev model.NormalizedEvent) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] %s %s %s:%d %s",
		ev.Timestamp.Format(time.RFC3339),
		severity(ev),
		ev.Protocol,
		ev.PluginID,
		ev.Source.Host,
		ev.Source.Port,
		message(ev),
	)

	if len(ev.Tags) > 0 {
		keys := make([]string, 0, len(ev.Tags))
		for k := range ev.Tags {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%s", k, ev.Tags[k])
		}
	}
	return []byte(b.String())
}
