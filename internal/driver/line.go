package driver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"
	"golang.org/x/sync/errgroup"

	"github.com/GabrielNunesIT/protocol-hub/internal/config"
	"github.com/GabrielNunesIT/protocol-hub/internal/model"
)

// LineOption configures the LineDriver.
type LineOption func(*LineDriver)

// WithUDPListenerFactory sets a custom UDP listener factory.
func WithUDPListenerFactory(f UDPListenerFactory) LineOption {
	return func(d *LineDriver) {
		d.udpFactory = f
	}
}

// WithTCPListenerFactory sets a custom TCP listener factory.
func WithTCPListenerFactory(f TCPListenerFactory) LineOption {
	return func(d *LineDriver) {
		d.tcpFactory = f
	}
}

// LineDriver receives one text message per UDP datagram or per TCP line
// and builds the event inline on the receive goroutine.
type LineDriver struct {
	cfg        config.LineDriverConfig
	protocol   model.Protocol
	udpFactory UDPListenerFactory
	tcpFactory TCPListenerFactory
	logger     logger.ILogger
	listener   Listener
	stats      counters

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	group    *errgroup.Group
	pconn    net.PacketConn
	ln       net.Listener
	conns    map[net.Conn]struct{}
	connsMu  sync.Mutex
	connsWG  sync.WaitGroup
	maxBytes int
}

// NewLineDriver creates a line-oriented driver.
func NewLineDriver(cfg config.LineDriverConfig, log logger.ILogger, opts ...LineOption) (*LineDriver, error) {
	protocol := model.ProtocolSyslog
	if cfg.Protocol != "" {
		p, err := model.ParseProtocol(cfg.Protocol)
		if err != nil {
			return nil, fmt.Errorf("line driver %s: %w", cfg.PluginID, err)
		}
		protocol = p
	}

	network := strings.ToLower(cfg.Network)
	if network == "" {
		network = "udp"
	}
	if network != "udp" && network != "tcp" {
		return nil, fmt.Errorf("line driver %s: unsupported network %q", cfg.PluginID, cfg.Network)
	}
	cfg.Network = network

	d := &LineDriver{
		cfg:        cfg,
		protocol:   protocol,
		udpFactory: defaultUDPFactory,
		tcpFactory: net.Listen,
		logger:     log.SubLogger("LineDriver." + cfg.PluginID),
		maxBytes:   cfg.MaxMessageBytes,
	}
	if d.maxBytes <= 0 {
		d.maxBytes = config.DefaultLineMaxMessage
	}

	for _, opt := range opts {
		opt(d)
	}

	return d, nil
}

// PluginID returns the driver identifier.
func (d *LineDriver) PluginID() string { return d.cfg.PluginID }

// SetListener sets the event callback.
func (d *LineDriver) SetListener(l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listener = l
}

// Stats returns the driver counters. Inline drivers count every accepted
// message as both enqueued and processed.
func (d *LineDriver) Stats() Stats {
	return d.stats.snapshot()
}

func (d *LineDriver) address() string {
	return net.JoinHostPort(d.cfg.Address, strconv.Itoa(d.cfg.Port))
}

// Start binds the socket and starts receiving.
func (d *LineDriver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("line driver %s already started", d.cfg.PluginID)
	}

	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)

	switch d.cfg.Network {
	case "udp":
		conn, err := d.udpFactory("udp", d.address())
		if err != nil {
			cancel()
			return &BindError{PluginID: d.cfg.PluginID, Network: "udp", Address: d.address(), Err: err}
		}
		if d.cfg.ReceiveBufferBytes > 0 {
			if rb, ok := conn.(readBufferSetter); ok {
				if err := rb.SetReadBuffer(d.cfg.ReceiveBufferBytes); err != nil {
					d.logger.Warningf("failed to set receive buffer to %d bytes: %v", d.cfg.ReceiveBufferBytes, err)
				}
			}
		}
		d.pconn = conn
		listener := d.listener
		g.Go(func() error { return d.receiveUDP(ctx, conn, listener) })

	case "tcp":
		ln, err := d.tcpFactory("tcp", d.address())
		if err != nil {
			cancel()
			return &BindError{PluginID: d.cfg.PluginID, Network: "tcp", Address: d.address(), Err: err}
		}
		d.ln = ln
		d.conns = make(map[net.Conn]struct{})
		listener := d.listener
		g.Go(func() error { return d.acceptTCP(ctx, ln, listener) })
	}

	// Close sockets on cancellation so blocked reads return.
	g.Go(func() error {
		<-ctx.Done()
		d.closeSockets()
		return nil
	})

	d.cancel = cancel
	d.group = g
	d.running = true
	d.logger.Infof("listening on %s/%s", d.cfg.Network, d.localAddr())
	return nil
}

// LocalAddr returns the bound address, or nil when not running.
func (d *LineDriver) LocalAddr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.localAddr()
}

func (d *LineDriver) localAddr() net.Addr {
	switch {
	case d.pconn != nil:
		return d.pconn.LocalAddr()
	case d.ln != nil:
		return d.ln.Addr()
	}
	return nil
}

// Stop closes the socket and waits for the receive goroutines.
func (d *LineDriver) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	cancel, g := d.cancel, d.group
	d.mu.Unlock()

	cancel()
	err := g.Wait()
	d.connsWG.Wait()

	d.mu.Lock()
	d.pconn, d.ln = nil, nil
	d.mu.Unlock()

	d.logger.Debugf("stopped: %+v", d.Stats())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *LineDriver) closeSockets() {
	d.mu.Lock()
	pconn, ln := d.pconn, d.ln
	d.mu.Unlock()

	if pconn != nil {
		_ = pconn.Close()
	}
	if ln != nil {
		_ = ln.Close()
	}

	d.connsMu.Lock()
	for c := range d.conns {
		_ = c.Close()
	}
	d.connsMu.Unlock()
}

// receiveUDP reads datagrams until the socket is closed.
func (d *LineDriver) receiveUDP(ctx context.Context, conn net.PacketConn, listener Listener) error {
	buf := make([]byte, d.maxBytes+1)
	for {
		n, remote, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			d.logger.Debugf("read error: %v", err)
			continue
		}

		host, port := peer(remote)
		if n > d.maxBytes {
			d.decodeFailed(&DecodeError{Peer: host, Err: fmt.Errorf("datagram exceeds %d bytes", d.maxBytes)})
			continue
		}

		d.emit(string(buf[:n]), n, host, port, model.TransportUDP, listener)
	}
}

// acceptTCP accepts connections until the listener is closed.
func (d *LineDriver) acceptTCP(ctx context.Context, ln net.Listener, listener Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			d.logger.Debugf("accept error: %v", err)
			continue
		}

		d.connsMu.Lock()
		// closeSockets may already have walked conns
		if ctx.Err() != nil {
			d.connsMu.Unlock()
			_ = conn.Close()
			return nil
		}
		d.conns[conn] = struct{}{}
		d.connsMu.Unlock()

		d.connsWG.Add(1)
		go d.handleTCPConnection(ctx, conn, listener)
	}
}

// handleTCPConnection reads newline-delimited messages from a connection.
func (d *LineDriver) handleTCPConnection(ctx context.Context, conn net.Conn, listener Listener) {
	defer d.connsWG.Done()
	defer func() {
		d.connsMu.Lock()
		delete(d.conns, conn)
		d.connsMu.Unlock()
		_ = conn.Close()
	}()

	host, port := peer(conn.RemoteAddr())
	scanner := bufio.NewScanner(conn)
	// the newline needs one byte beyond the line itself
	limit := d.maxBytes + 1
	scanner.Buffer(make([]byte, 0, min(4096, limit)), limit)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		d.emit(line, len(scanner.Bytes()), host, port, model.TransportTCP, listener)
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
		d.decodeFailed(&DecodeError{Peer: host, Err: err})
	}
}

// emit builds and delivers one event.
func (d *LineDriver) emit(raw string, size int, host string, port int, transport model.Transport, listener Listener) {
	now := time.Now()
	b := model.NewBuilder().
		Timestamp(now).
		ReceivedAt(now).
		Protocol(d.protocol).
		Kind(model.KindLog).
		Source(model.Source{Host: host, Port: port, Transport: transport}).
		PluginID(d.cfg.PluginID).
		Body(strings.TrimSpace(raw)).
		Bytes(size).
		Tag("source_ip", host).
		Attribute("raw", raw)

	if d.cfg.ParseSyslogHeader {
		if h, ok := parseSyslogHeader(raw); ok {
			b.Attribute("syslog", h.attributes()).Severity(h.eventSeverity())
		}
	}

	ev, err := b.Build()
	if err != nil {
		d.decodeFailed(&DecodeError{Peer: host, Err: err})
		return
	}

	d.stats.enqueued.Add(1)
	if err := deliver(listener, ev, &d.stats); err != nil {
		d.logger.Errorf("%v", err)
	}
	d.stats.processed.Add(1)
}

func (d *LineDriver) decodeFailed(err error) {
	if n := d.stats.decodeErrors.Add(1); sampled(n) {
		d.logger.Warningf("%v (decode errors: %d)", err, n)
	}
}
