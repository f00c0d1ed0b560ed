package net

import (
	"errors"
	"fmt"
)

// Errors returned by PacketConn
var (
	// ErrConnectionClosed indicates the connection has been closed
	ErrConnectionClosed = errors.New("connection closed")

	// ErrTimeout indicates a deadline passed
	ErrTimeout = errors.New("i/o timeout")

	// ErrUnsupportedAddr indicates an address that is neither an IP endpoint nor host:port
	ErrUnsupportedAddr = errors.New("unsupported address")
)

// PacketConnError represents an error with additional context. It satisfies
// net.Error so deadline handling in generic net code keeps working.
type PacketConnError struct {
	Op   string // operation that caused the error
	Addr string // address if relevant
	Err  error  // underlying error
}

func (e *PacketConnError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("udpsock %s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("udpsock %s: %v", e.Op, e.Err)
}

func (e *PacketConnError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the error is a deadline expiry.
func (e *PacketConnError) Timeout() bool {
	return errors.Is(e.Err, ErrTimeout)
}

// Temporary is part of net.Error.
func (e *PacketConnError) Temporary() bool {
	return e.Timeout()
}

func newPacketConnError(op, addr string, err error) *PacketConnError {
	return &PacketConnError{
		Op:   op,
		Addr: addr,
		Err:  err,
	}
}
