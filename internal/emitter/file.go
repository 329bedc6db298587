package emitter

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/natefinch/lumberjack"

	"github.com/GabrielNunesIT/protocol-hub/internal/config"
	"github.com/GabrielNunesIT/protocol-hub/internal/model"
)

// WriterFactory creates a new WriteCloser.
type WriterFactory func(cfg config.FileEmitterConfig) (io.WriteCloser, error)

// FileOption configures the FileEmitter.
type FileOption func(*FileEmitter)

// WithWriterFactory sets a custom factory for creating the writer.
func WithWriterFactory(f WriterFactory) FileOption {
	return func(e *FileEmitter) {
		e.factory = f
	}
}

// FileEmitter writes events as JSON lines to rotating files.
type FileEmitter struct {
	cfg     config.FileEmitterConfig
	factory WriterFactory
	writer  io.WriteCloser
	mu      sync.Mutex
}

// NewFileEmitter creates a new file emitter.
func NewFileEmitter(cfg config.FileEmitterConfig, opts ...FileOption) *FileEmitter {
	e := &FileEmitter{
		cfg: cfg,
	}

	// Default factory creates lumberjack logger
	e.factory = func(cfg config.FileEmitterConfig) (io.WriteCloser, error) {
		return &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}, nil
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Name returns the emitter identifier.
func (f *FileEmitter) Name() string {
	return "file"
}

// Start initializes the rotating file writer.
func (f *FileEmitter) Start(ctx context.Context) error {
	w, err := f.factory(f.cfg)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.writer = w
	f.mu.Unlock()
	return nil
}

// Stop closes the file writer.
func (f *FileEmitter) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writer == nil {
		return nil
	}
	err := f.writer.Close()
	f.writer = nil
	return err
}

// Emit writes an event to the file.
func (f *FileEmitter) Emit(ctx context.Context, ev model.NormalizedEvent) error {
	output, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writer == nil {
		return nil
	}
	_, err = f.writer.Write(append(output, '\n'))
	return err
}
