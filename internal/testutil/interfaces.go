package testutil

import (
	"io"
	"net"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esutil"
)

// WriteCloser wraps io.WriteCloser for mock generation
type WriteCloser interface {
	io.WriteCloser
}

// PacketConn wraps net.PacketConn for mock generation
type PacketConn interface {
	net.PacketConn
}

// BulkIndexer wraps esutil.BulkIndexer for mock generation
type BulkIndexer interface {
	esutil.BulkIndexer
}

// Publisher is the subset of *nats.Conn used by the NATS emitter.
type Publisher interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Close()
}
