//go:build !linux || !cgo

package driver

import (
	"context"
	"fmt"
	"runtime"

	"github.com/GabrielNunesIT/go-libs/logger"

	"github.com/GabrielNunesIT/protocol-hub/internal/config"
)

// JournalDriver is a stub for systems without systemd journal support.
type JournalDriver struct {
	cfg config.JournalDriverConfig
}

// NewJournalDriver creates a journal driver stub.
func NewJournalDriver(cfg config.JournalDriverConfig, _ logger.ILogger) *JournalDriver {
	if cfg.PluginID == "" {
		cfg.PluginID = "journal"
	}
	return &JournalDriver{cfg: cfg}
}

// PluginID returns the driver identifier.
func (j *JournalDriver) PluginID() string { return j.cfg.PluginID }

// SetListener is a no-op.
func (j *JournalDriver) SetListener(Listener) {}

// Stats returns zero counters.
func (j *JournalDriver) Stats() Stats { return Stats{} }

// Start returns an error on unsupported systems.
func (j *JournalDriver) Start(context.Context) error {
	return &BindError{
		PluginID: j.cfg.PluginID,
		Network:  "journal",
		Address:  "systemd",
		Err:      fmt.Errorf("journal driver is only supported on Linux with cgo (current OS: %s)", runtime.GOOS),
	}
}

// Stop is a no-op.
func (j *JournalDriver) Stop() error { return nil }
