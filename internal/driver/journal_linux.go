//go:build linux && cgo

package driver

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/coreos/go-systemd/v22/sdjournal"

	"github.com/GabrielNunesIT/protocol-hub/internal/config"
	"github.com/GabrielNunesIT/protocol-hub/internal/model"
)

const journalWait = 500 * time.Millisecond

// JournalDriver follows the systemd journal and emits one SYSLOG event per
// entry.
type JournalDriver struct {
	cfg      config.JournalDriverConfig
	logger   logger.ILogger
	listener Listener
	stats    counters

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewJournalDriver creates a systemd journal driver.
func NewJournalDriver(cfg config.JournalDriverConfig, log logger.ILogger) *JournalDriver {
	if cfg.PluginID == "" {
		cfg.PluginID = "journal"
	}
	return &JournalDriver{
		cfg:    cfg,
		logger: log.SubLogger("JournalDriver." + cfg.PluginID),
	}
}

// PluginID returns the driver identifier.
func (j *JournalDriver) PluginID() string { return j.cfg.PluginID }

// SetListener sets the event callback.
func (j *JournalDriver) SetListener(l Listener) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.listener = l
}

// Stats returns the driver counters.
func (j *JournalDriver) Stats() Stats { return j.stats.snapshot() }

// Start opens the journal, seeks to its tail and starts following it.
func (j *JournalDriver) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return fmt.Errorf("journal driver %s already started", j.cfg.PluginID)
	}

	journal, err := j.open()
	if err != nil {
		return &BindError{PluginID: j.cfg.PluginID, Network: "journal", Address: "systemd", Err: err}
	}

	ctx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.done = make(chan struct{})
	j.running = true

	go j.follow(ctx, journal, j.listener)

	j.logger.Infof("following systemd journal (units: %v)", j.cfg.Units)
	return nil
}

func (j *JournalDriver) open() (*sdjournal.Journal, error) {
	journal, err := sdjournal.NewJournal()
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	for i, unit := range j.cfg.Units {
		if i > 0 {
			if err := journal.AddDisjunction(); err != nil {
				journal.Close()
				return nil, fmt.Errorf("adding unit disjunction: %w", err)
			}
		}
		if err := journal.AddMatch(sdjournal.SD_JOURNAL_FIELD_SYSTEMD_UNIT + "=" + unit); err != nil {
			journal.Close()
			return nil, fmt.Errorf("adding unit filter %q: %w", unit, err)
		}
	}

	// Seek to the end to only get new entries
	if err := journal.SeekTail(); err != nil {
		journal.Close()
		return nil, fmt.Errorf("seeking to journal tail: %w", err)
	}
	// Move back one entry so we don't miss the first new one
	if _, err := journal.Previous(); err != nil {
		journal.Close()
		return nil, fmt.Errorf("moving to previous entry: %w", err)
	}
	return journal, nil
}

// Stop stops following the journal and waits for the reader to exit.
func (j *JournalDriver) Stop() error {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = false
	cancel, done := j.cancel, j.done
	j.mu.Unlock()

	cancel()
	<-done
	return nil
}

func (j *JournalDriver) follow(ctx context.Context, journal *sdjournal.Journal, listener Listener) {
	defer close(j.done)
	defer journal.Close()

	for ctx.Err() == nil {
		if status := journal.Wait(journalWait); status == sdjournal.SD_JOURNAL_NOP {
			continue
		}

		// Read all available entries
		for ctx.Err() == nil {
			n, err := journal.Next()
			if err != nil {
				j.logger.Errorf("reading next entry: %v", err)
				return
			}
			if n == 0 {
				break
			}

			entry, err := journal.GetEntry()
			if err != nil {
				j.decodeFailed(err)
				continue
			}

			ev, err := j.toEvent(entry)
			if err != nil {
				j.decodeFailed(err)
				continue
			}

			j.stats.enqueued.Add(1)
			if err := deliver(listener, ev, &j.stats); err != nil {
				j.logger.Errorf("%v", err)
			}
			j.stats.processed.Add(1)
		}
	}
}

func (j *JournalDriver) decodeFailed(err error) {
	if n := j.stats.decodeErrors.Add(1); sampled(n) {
		j.logger.Warningf("%v (decode errors: %d)", &DecodeError{Peer: "journal", Err: err}, n)
	}
}

// journalFields maps journal fields onto attribute names.
var journalFields = map[string]string{
	"_SYSTEMD_UNIT":     "unit",
	"_PID":              "pid",
	"_UID":              "uid",
	"_GID":              "gid",
	"_COMM":             "command",
	"_EXE":              "executable",
	"_HOSTNAME":         "hostname",
	"PRIORITY":          "priority",
	"SYSLOG_FACILITY":   "facility",
	"SYSLOG_IDENTIFIER": "identifier",
}

func (j *JournalDriver) toEvent(entry *sdjournal.JournalEntry) (model.NormalizedEvent, error) {
	message := entry.Fields[sdjournal.SD_JOURNAL_FIELD_MESSAGE]

	journalAttrs := make(map[string]any, len(journalFields))
	for field, name := range journalFields {
		if val, ok := entry.Fields[field]; ok {
			journalAttrs[name] = val
		}
	}

	// RealtimeTimestamp is in microseconds
	ts := time.UnixMicro(int64(entry.RealtimeTimestamp))
	host := entry.Fields["_HOSTNAME"]

	b := model.NewBuilder().
		Timestamp(ts).
		ReceivedAt(time.Now()).
		Protocol(model.ProtocolSyslog).
		Kind(model.KindLog).
		Source(model.Source{Host: host, Hostname: host, Transport: model.TransportLocal}).
		PluginID(j.cfg.PluginID).
		Body(message).
		Bytes(len(message)).
		Attribute("journal", journalAttrs)

	if p, err := strconv.Atoi(entry.Fields["PRIORITY"]); err == nil && p >= 0 && p <= 7 {
		b.Severity(syslogHeader{severity: p}.eventSeverity())
	}
	return b.Build()
}
