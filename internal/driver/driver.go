// Package driver implements the protocol listeners that turn wire messages
// into normalized events.
package driver

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/GabrielNunesIT/protocol-hub/internal/model"
)

// Listener receives every event a driver builds. It is called from driver
// goroutines and must not block indefinitely.
type Listener func(model.NormalizedEvent)

// Driver is a protocol listener with an explicit lifecycle.
type Driver interface {
	// PluginID returns the configured identifier stamped on every event.
	PluginID() string

	// SetListener sets the event callback. Call before Start.
	SetListener(Listener)

	// Start binds the socket and launches the driver's goroutines. It
	// returns a *BindError when the socket cannot be opened and does not
	// block once the driver is running.
	Start(ctx context.Context) error

	// Stop closes the socket and waits for the driver's goroutines. It is
	// idempotent and safe to call after a failed Start.
	Stop() error

	// Stats returns a snapshot of the driver's counters.
	Stats() Stats
}

// Stats is a point-in-time snapshot of driver counters.
type Stats struct {
	Enqueued       uint64
	Dropped        uint64
	Processed      uint64
	DecodeErrors   uint64
	CallbackErrors uint64
	QueueDepth     int
	QueueCapacity  int
}

type counters struct {
	enqueued       atomic.Uint64
	dropped        atomic.Uint64
	processed      atomic.Uint64
	decodeErrors   atomic.Uint64
	callbackErrors atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Enqueued:       c.enqueued.Load(),
		Dropped:        c.dropped.Load(),
		Processed:      c.processed.Load(),
		DecodeErrors:   c.decodeErrors.Load(),
		CallbackErrors: c.callbackErrors.Load(),
	}
}

// dropLogEvery is the sampling interval for overflow and decode logging.
const dropLogEvery = 1000

// sampled reports whether the n-th occurrence of a condition should be
// logged: the first one and every dropLogEvery-th after it.
func sampled(n uint64) bool {
	return n == 1 || n%dropLogEvery == 0
}

// BindError reports a socket that could not be opened at Start.
type BindError struct {
	PluginID string
	Network  string
	Address  string
	Err      error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("driver %s: binding %s %s: %v", e.PluginID, e.Network, e.Address, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// DecodeError reports a wire message that could not be decoded.
type DecodeError struct {
	Peer string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding message from %s: %v", e.Peer, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// OverflowPolicy selects what a full queue does with a new item.
type OverflowPolicy int

const (
	// Block waits up to the offer timeout for room, then drops.
	Block OverflowPolicy = iota
	// DropNewest drops the new item immediately.
	DropNewest
)

func (p OverflowPolicy) String() string {
	if p == DropNewest {
		return "DROP_NEWEST"
	}
	return "BLOCK"
}

// ParseOverflowPolicy parses BLOCK or DROP_NEWEST. The empty string selects
// Block.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "BLOCK":
		return Block, nil
	case "DROP_NEWEST":
		return DropNewest, nil
	}
	return Block, fmt.Errorf("unknown overflow policy %q", s)
}

// UDPListenerFactory creates a UDP connection.
type UDPListenerFactory func(network, address string) (net.PacketConn, error)

// TCPListenerFactory creates a TCP listener.
type TCPListenerFactory func(network, address string) (net.Listener, error)

func defaultUDPFactory(network, address string) (net.PacketConn, error) {
	addr, err := net.ResolveUDPAddr(network, address)
	if err != nil {
		return nil, err
	}
	return net.ListenUDP(network, addr)
}

// readBufferSetter is implemented by *net.UDPConn.
type readBufferSetter interface {
	SetReadBuffer(bytes int) error
}

// peer splits a remote address into host and port.
func peer(addr net.Addr) (string, int) {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP.String(), a.Port
	case *net.TCPAddr:
		return a.IP.String(), a.Port
	case nil:
		return "", 0
	}
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	p, _ := strconv.Atoi(port)
	return host, p
}

// deliver calls the listener, converting a panic into a counted callback
// error.
func deliver(l Listener, ev model.NormalizedEvent, c *counters) (err error) {
	if l == nil {
		return nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			c.callbackErrors.Add(1)
			err = fmt.Errorf("listener panicked: %v", rec)
		}
	}()
	l(ev)
	return nil
}
