package driver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/gosnmp/gosnmp"
	"golang.org/x/sync/errgroup"

	"github.com/GabrielNunesIT/protocol-hub/internal/config"
	"github.com/GabrielNunesIT/protocol-hub/internal/enrich"
	"github.com/GabrielNunesIT/protocol-hub/internal/model"
)

const (
	// oidSnmpTrapOID is snmpTrapOID.0, the varbind carrying a v2c/v3 trap's
	// identity.
	oidSnmpTrapOID = "1.3.6.1.6.3.1.1.4.1.0"
	// oidSysUpTime is sysUpTime.0.
	oidSysUpTime = "1.3.6.1.2.1.1.3.0"
	// oidSnmpTraps is the prefix of the generic traps (coldStart = .1).
	oidSnmpTraps = "1.3.6.1.6.3.1.1.5"

	pollInterval = 100 * time.Millisecond
)

// RawRecord is a decoded trap captured at receive time. It is owned by the
// queue until a worker turns it into an event.
type RawRecord struct {
	Peer       string
	Port       int
	Version    gosnmp.SnmpVersion
	Community  string
	PDUType    gosnmp.PDUType
	Varbinds   []gosnmp.SnmpPDU
	Enterprise string
	Generic    int
	Specific   int
	Timestamp  uint
	Size       int
	ReceivedAt time.Time
}

// TrapOption configures the TrapDriver.
type TrapOption func(*TrapDriver)

// WithTrapListenerFactory sets a custom UDP listener factory.
func WithTrapListenerFactory(f UDPListenerFactory) TrapOption {
	return func(d *TrapDriver) {
		d.udpFactory = f
	}
}

// WithEnricher sets the enricher applied to every trap's varbinds.
func WithEnricher(e enrich.Enricher) TrapOption {
	return func(d *TrapDriver) {
		d.enricher = e
	}
}

// TrapDriver receives SNMP traps on a UDP socket. A single receive
// goroutine decodes datagrams into RawRecords and offers them to a bounded
// queue; a pool of workers turns them into events.
type TrapDriver struct {
	cfg        config.TrapDriverConfig
	policy     OverflowPolicy
	udpFactory UDPListenerFactory
	enricher   enrich.Enricher
	logger     logger.ILogger
	listener   Listener
	queue      *Queue[RawRecord]
	stats      counters

	v2c *gosnmp.GoSNMP
	v3  *gosnmp.GoSNMP

	mu      sync.Mutex
	running bool
	conn    net.PacketConn
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// NewTrapDriver creates a trap driver. Zero-valued sizing fields take their
// defaults.
func NewTrapDriver(cfg config.TrapDriverConfig, log logger.ILogger, opts ...TrapOption) (*TrapDriver, error) {
	policy, err := ParseOverflowPolicy(cfg.OverflowPolicy)
	if err != nil {
		return nil, fmt.Errorf("trap driver %s: %w", cfg.PluginID, err)
	}

	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = config.DefaultQueueCapacity
	}
	if cfg.WorkerThreads <= 0 {
		cfg.WorkerThreads = config.DefaultWorkerThreads()
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = config.DefaultMaxMessageBytes
	}
	if cfg.OfferTimeoutMs < 0 {
		cfg.OfferTimeoutMs = 0
	}

	d := &TrapDriver{
		cfg:        cfg,
		policy:     policy,
		udpFactory: defaultUDPFactory,
		logger:     log.SubLogger("TrapDriver." + cfg.PluginID),
		queue:      NewQueue[RawRecord](cfg.QueueCapacity, policy, cfg.OfferTimeout()),
		v2c: &gosnmp.GoSNMP{
			Version: gosnmp.Version2c,
			Logger:  snmpLogger,
		},
	}

	table, flags, err := usmSecurityTable(cfg.Users)
	if err != nil {
		return nil, fmt.Errorf("trap driver %s: %w", cfg.PluginID, err)
	}
	if table != nil {
		d.v3 = &gosnmp.GoSNMP{
			Version:                     gosnmp.Version3,
			SecurityModel:               gosnmp.UserSecurityModel,
			MsgFlags:                    flags,
			TrapSecurityParametersTable: table,
			Logger:                      snmpLogger,
		}
	}

	for _, opt := range opts {
		opt(d)
	}

	return d, nil
}

// PluginID returns the driver identifier.
func (d *TrapDriver) PluginID() string { return d.cfg.PluginID }

// SetListener sets the event callback.
func (d *TrapDriver) SetListener(l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listener = l
}

// SetEnricher sets the enricher applied by the workers. Call before Start.
func (d *TrapDriver) SetEnricher(e enrich.Enricher) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enricher = e
}

// Stats returns the driver counters and current queue depth.
func (d *TrapDriver) Stats() Stats {
	s := d.stats.snapshot()
	s.QueueDepth = d.queue.Len()
	s.QueueCapacity = d.queue.Cap()
	return s
}

// LocalAddr returns the bound address, or nil when not running.
func (d *TrapDriver) LocalAddr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	return d.conn.LocalAddr()
}

// Start binds the UDP socket and launches the receiver and workers.
func (d *TrapDriver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("trap driver %s already started", d.cfg.PluginID)
	}

	address := net.JoinHostPort(d.cfg.Address, strconv.Itoa(d.cfg.Port))
	conn, err := d.udpFactory("udp", address)
	if err != nil {
		return &BindError{PluginID: d.cfg.PluginID, Network: "udp", Address: address, Err: err}
	}

	if d.cfg.ReceiveBufferBytes > 0 {
		if rb, ok := conn.(readBufferSetter); ok {
			if err := rb.SetReadBuffer(d.cfg.ReceiveBufferBytes); err != nil {
				d.logger.Warningf("failed to set receive buffer to %d bytes: %v", d.cfg.ReceiveBufferBytes, err)
			}
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)

	listener, enricher := d.listener, d.enricher
	for i := 0; i < d.cfg.WorkerThreads; i++ {
		g.Go(func() error {
			d.work(ctx, listener, enricher)
			return nil
		})
	}
	g.Go(func() error { return d.receive(ctx, conn) })
	g.Go(func() error {
		<-ctx.Done()
		_ = conn.Close()
		return nil
	})

	d.conn = conn
	d.cancel = cancel
	d.group = g
	d.running = true

	d.logger.Infof("listening on udp/%s (workers=%d, queue=%d, policy=%s)",
		conn.LocalAddr(), d.cfg.WorkerThreads, d.queue.Cap(), d.policy)
	return nil
}

// Stop cancels the workers, closes the socket and waits. Queued records
// are not drained.
func (d *TrapDriver) Stop() error {
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

	d.mu.Lock()
	d.conn = nil
	d.mu.Unlock()

	d.logger.Debugf("stopped: %+v", d.Stats())
	return err
}

// receive reads datagrams, decodes them and offers them to the queue.
func (d *TrapDriver) receive(ctx context.Context, conn net.PacketConn) error {
	buf := make([]byte, d.cfg.MaxMessageBytes+1)
	for {
		n, remote, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			d.logger.Debugf("read error: %v", err)
			continue
		}

		receivedAt := time.Now()
		host, port := peer(remote)

		if n > d.cfg.MaxMessageBytes {
			d.decodeFailed(&DecodeError{Peer: host, Err: fmt.Errorf("datagram exceeds %d bytes", d.cfg.MaxMessageBytes)})
			continue
		}

		rec, err := d.decode(buf[:n])
		if err != nil {
			d.decodeFailed(&DecodeError{Peer: host, Err: err})
			continue
		}
		rec.Peer, rec.Port = host, port
		rec.Size = n
		rec.ReceivedAt = receivedAt

		if d.queue.Offer(rec) {
			d.stats.enqueued.Add(1)
			continue
		}
		if dropped := d.stats.dropped.Add(1); sampled(dropped) {
			d.logger.Warningf("queue full (capacity %d, policy %s): dropped %d traps so far",
				d.queue.Cap(), d.policy, dropped)
		}
	}
}

// decode unmarshals one datagram into a RawRecord.
func (d *TrapDriver) decode(datagram []byte) (RawRecord, error) {
	version, err := peekVersion(datagram)
	if err != nil {
		return RawRecord{}, err
	}

	decoder := d.v2c
	if version == gosnmp.Version3 {
		if d.v3 == nil {
			return RawRecord{}, errors.New("SNMPv3 trap received but no USM users are configured")
		}
		decoder = d.v3
	}

	// The packet keeps references into the buffer it was decoded from.
	owned := make([]byte, len(datagram))
	copy(owned, datagram)

	pkt, err := decoder.UnmarshalTrap(owned, false)
	if err != nil {
		return RawRecord{}, err
	}
	if pkt == nil {
		return RawRecord{}, errors.New("empty SNMP packet")
	}

	if d.cfg.Community != "" && pkt.Version != gosnmp.Version3 && pkt.Community != d.cfg.Community {
		return RawRecord{}, errors.New("community mismatch")
	}

	vars := pkt.Variables
	if len(vars) == 0 {
		vars = pkt.SnmpTrap.Variables
	}

	return RawRecord{
		Version:    pkt.Version,
		Community:  pkt.Community,
		PDUType:    pkt.PDUType,
		Varbinds:   vars,
		Enterprise: pkt.Enterprise,
		Generic:    pkt.GenericTrap,
		Specific:   pkt.SpecificTrap,
		Timestamp:  pkt.Timestamp,
	}, nil
}

// peekVersion reads the msgVersion INTEGER at the start of an SNMP message
// without decoding the rest of it.
func peekVersion(b []byte) (gosnmp.SnmpVersion, error) {
	if len(b) < 2 || b[0] != 0x30 {
		return 0, errors.New("not an SNMP message")
	}

	i := 2
	if b[1]&0x80 != 0 {
		i += int(b[1] & 0x7f)
	}
	if len(b) < i+3 || b[i] != 0x02 || b[i+1] != 0x01 {
		return 0, errors.New("malformed SNMP version field")
	}

	switch v := gosnmp.SnmpVersion(b[i+2]); v {
	case gosnmp.Version1, gosnmp.Version2c, gosnmp.Version3:
		return v, nil
	default:
		return 0, fmt.Errorf("unsupported SNMP version %d", b[i+2])
	}
}

func (d *TrapDriver) decodeFailed(err error) {
	if n := d.stats.decodeErrors.Add(1); sampled(n) {
		d.logger.Warningf("%v (decode errors: %d)", err, n)
	}
}

// work polls the queue until ctx is done.
func (d *TrapDriver) work(ctx context.Context, listener Listener, enricher enrich.Enricher) {
	for ctx.Err() == nil {
		rec, ok := d.queue.Poll(ctx, pollInterval)
		if !ok {
			continue
		}
		d.process(rec, listener, enricher)
	}
}

// process converts one record and hands it to the listener. Failures are
// confined to the record.
func (d *TrapDriver) process(rec RawRecord, listener Listener, enricher enrich.Enricher) {
	defer func() {
		if r := recover(); r != nil {
			d.stats.callbackErrors.Add(1)
			d.logger.Errorf("processing trap from %s: %v", rec.Peer, r)
		}
	}()

	ev, err := d.toEvent(rec, enricher)
	if err != nil {
		d.decodeFailed(&DecodeError{Peer: rec.Peer, Err: err})
		return
	}

	if err := deliver(listener, ev, &d.stats); err != nil {
		d.logger.Errorf("%v", err)
	}
	d.stats.processed.Add(1)
}

// toEvent builds the normalized event for a record.
func (d *TrapDriver) toEvent(rec RawRecord, enricher enrich.Enricher) (model.NormalizedEvent, error) {
	varbinds := make(map[string]any, len(rec.Varbinds)+2)
	for _, pdu := range rec.Varbinds {
		varbinds[strings.TrimPrefix(pdu.Name, ".")] = varbindValue(pdu)
	}

	if rec.Version == gosnmp.Version1 {
		// RFC 3584 section 3.1: v1 trap identity as snmpTrapOID.0.
		varbinds[oidSnmpTrapOID] = v1TrapOID(rec.Enterprise, rec.Generic, rec.Specific)
		if _, ok := varbinds[oidSysUpTime]; !ok {
			varbinds[oidSysUpTime] = rec.Timestamp
		}
	}

	attrs := model.CopyAttributes(varbinds)
	if enricher != nil {
		attrs = enricher.Enrich(attrs)
	}

	if oid, ok := varbinds[oidSnmpTrapOID]; ok {
		attrs["snmpTrapOID"] = oid
	}

	snmp := map[string]any{
		"varbinds":  varbinds,
		"version":   rec.Version.String(),
		"community": rec.Community,
	}
	if rec.Version == gosnmp.Version1 {
		snmp["enterprise"] = strings.TrimPrefix(rec.Enterprise, ".")
		snmp["generic_trap"] = rec.Generic
		snmp["specific_trap"] = rec.Specific
	}
	attrs["snmp"] = snmp

	return model.NewBuilder().
		Timestamp(rec.ReceivedAt).
		ReceivedAt(rec.ReceivedAt).
		Protocol(model.ProtocolSNMPTrap).
		Kind(model.KindTrap).
		Source(model.Source{Host: rec.Peer, Port: rec.Port, Transport: model.TransportUDP}).
		PluginID(d.cfg.PluginID).
		Bytes(rec.Size).
		Tag("pduType", rec.PDUType.String()).
		Attributes(attrs).
		Build()
}

// v1TrapOID derives the snmpTrapOID.0 value of an SNMPv1 trap.
func v1TrapOID(enterprise string, generic, specific int) string {
	if generic == 6 {
		return strings.TrimPrefix(enterprise, ".") + ".0." + strconv.Itoa(specific)
	}
	return oidSnmpTraps + "." + strconv.Itoa(generic+1)
}

// varbindValue converts a decoded varbind value to a JSON-friendly form.
func varbindValue(pdu gosnmp.SnmpPDU) any {
	switch pdu.Type {
	case gosnmp.OctetString:
		if b, ok := pdu.Value.([]byte); ok {
			return string(b)
		}
	case gosnmp.ObjectIdentifier:
		if s, ok := pdu.Value.(string); ok {
			return strings.TrimPrefix(s, ".")
		}
	case gosnmp.Null, gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView:
		return nil
	}
	return pdu.Value
}
