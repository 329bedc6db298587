// Package mocks holds testify mocks for the interfaces in testutil.
package mocks

import (
	"context"
	"net"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esutil"
	"github.com/stretchr/testify/mock"
)

type testingT interface {
	mock.TestingT
	Cleanup(func())
}

func register(m *mock.Mock, t testingT) {
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
}

// PacketConn is a mock of testutil.PacketConn.
type PacketConn struct {
	mock.Mock
}

// NewPacketConn creates a PacketConn mock that asserts its expectations on cleanup.
func NewPacketConn(t testingT) *PacketConn {
	m := &PacketConn{}
	register(&m.Mock, t)
	return m
}

func (_m *PacketConn) ReadFrom(p []byte) (int, net.Addr, error) {
	ret := _m.Called(p)

	var addr net.Addr
	if a := ret.Get(1); a != nil {
		addr = a.(net.Addr)
	}
	return ret.Int(0), addr, ret.Error(2)
}

func (_m *PacketConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	ret := _m.Called(p, addr)
	return ret.Int(0), ret.Error(1)
}

func (_m *PacketConn) Close() error {
	return _m.Called().Error(0)
}

func (_m *PacketConn) LocalAddr() net.Addr {
	ret := _m.Called()
	if a := ret.Get(0); a != nil {
		return a.(net.Addr)
	}
	return nil
}

func (_m *PacketConn) SetDeadline(t time.Time) error {
	return _m.Called(t).Error(0)
}

func (_m *PacketConn) SetReadDeadline(t time.Time) error {
	return _m.Called(t).Error(0)
}

func (_m *PacketConn) SetWriteDeadline(t time.Time) error {
	return _m.Called(t).Error(0)
}

// WriteCloser is a mock of testutil.WriteCloser.
type WriteCloser struct {
	mock.Mock
}

// NewWriteCloser creates a WriteCloser mock that asserts its expectations on cleanup.
func NewWriteCloser(t testingT) *WriteCloser {
	m := &WriteCloser{}
	register(&m.Mock, t)
	return m
}

func (_m *WriteCloser) Write(p []byte) (int, error) {
	ret := _m.Called(p)
	if rf, ok := ret.Get(0).(func([]byte) int); ok {
		return rf(p), ret.Error(1)
	}
	return ret.Int(0), ret.Error(1)
}

func (_m *WriteCloser) Close() error {
	return _m.Called().Error(0)
}

// BulkIndexer is a mock of testutil.BulkIndexer.
type BulkIndexer struct {
	mock.Mock
}

// NewBulkIndexer creates a BulkIndexer mock that asserts its expectations on cleanup.
func NewBulkIndexer(t testingT) *BulkIndexer {
	m := &BulkIndexer{}
	register(&m.Mock, t)
	return m
}

func (_m *BulkIndexer) Add(ctx context.Context, item esutil.BulkIndexerItem) error {
	return _m.Called(ctx, item).Error(0)
}

func (_m *BulkIndexer) Close(ctx context.Context) error {
	return _m.Called(ctx).Error(0)
}

func (_m *BulkIndexer) Stats() esutil.BulkIndexerStats {
	ret := _m.Called()
	if s, ok := ret.Get(0).(esutil.BulkIndexerStats); ok {
		return s
	}
	return esutil.BulkIndexerStats{}
}

// Publisher is a mock of testutil.Publisher.
type Publisher struct {
	mock.Mock
}

// NewPublisher creates a Publisher mock that asserts its expectations on cleanup.
func NewPublisher(t testingT) *Publisher {
	m := &Publisher{}
	register(&m.Mock, t)
	return m
}

func (_m *Publisher) Publish(subject string, data []byte) error {
	return _m.Called(subject, data).Error(0)
}

func (_m *Publisher) FlushTimeout(timeout time.Duration) error {
	return _m.Called(timeout).Error(0)
}

func (_m *Publisher) Close() {
	_m.Called()
}
