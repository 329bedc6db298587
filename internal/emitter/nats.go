package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/nats-io/nats.go"

	"github.com/GabrielNunesIT/protocol-hub/internal/config"
	"github.com/GabrielNunesIT/protocol-hub/internal/model"
)

// Publisher is the subset of *nats.Conn the NATS emitter needs.
type Publisher interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Close()
}

// PublisherFactory connects a Publisher.
type PublisherFactory func(cfg config.NATSEmitterConfig, log logger.ILogger) (Publisher, error)

// NATSOption configures the NATSEmitter.
type NATSOption func(*NATSEmitter)

// WithPublisherFactory sets a custom factory for the NATS connection.
func WithPublisherFactory(f PublisherFactory) NATSOption {
	return func(n *NATSEmitter) {
		n.factory = f
	}
}

// NATSEmitter publishes events as JSON to a NATS subject.
type NATSEmitter struct {
	cfg     config.NATSEmitterConfig
	factory PublisherFactory
	conn    Publisher
	mu      sync.RWMutex
	logger  logger.ILogger
}

// NewNATSEmitter creates a new NATS emitter.
func NewNATSEmitter(cfg config.NATSEmitterConfig, log logger.ILogger, opts ...NATSOption) *NATSEmitter {
	if cfg.Subject == "" {
		cfg.Subject = "protocolhub.events"
	}
	n := &NATSEmitter{
		cfg:     cfg,
		factory: connectNATS,
		logger:  log.SubLogger("NATSEmitter"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func connectNATS(cfg config.NATSEmitterConfig, log logger.ILogger) (Publisher, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warningf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(cfg.ReconnectWait))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, nats.Timeout(cfg.Timeout))
	}
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

// Name returns the emitter identifier.
func (n *NATSEmitter) Name() string {
	return "nats"
}

// Start connects to the NATS server.
func (n *NATSEmitter) Start(ctx context.Context) error {
	conn, err := n.factory(n.cfg, n.logger)
	if err != nil {
		return err
	}

	n.mu.Lock()
	n.conn = conn
	n.mu.Unlock()
	n.logger.Infof("publishing to %s", n.cfg.Subject)
	return nil
}

// Stop flushes pending publishes and closes the connection.
func (n *NATSEmitter) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn == nil {
		return nil
	}

	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	err := n.conn.FlushTimeout(timeout)
	n.conn.Close()
	n.conn = nil
	return err
}

// Subject returns the subject an event is published on.
func (n *NATSEmitter) Subject(ev model.NormalizedEvent) string {
	if !n.cfg.PerProtocol {
		return n.cfg.Subject
	}
	return n.cfg.Subject + "." + strings.ToLower(string(ev.Protocol))
}

// Emit publishes an event.
func (n *NATSEmitter) Emit(ctx context.Context, ev model.NormalizedEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.conn == nil {
		return errors.New("nats emitter not started")
	}
	return n.conn.Publish(n.Subject(ev), data)
}
