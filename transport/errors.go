package transport

import (
	"errors"
	"fmt"
)

// Socket errors
var (
	// ErrSocketClosed indicates the socket was closed or aborted
	ErrSocketClosed = errors.New("socket closed")

	// ErrNotBound indicates the socket has not been bound yet
	ErrNotBound = errors.New("socket not bound")

	// ErrAlreadyBound indicates Bind was called on a bound socket
	ErrAlreadyBound = errors.New("socket already bound")

	// ErrWouldBlock indicates a DontQueue send found the socket not writable
	ErrWouldBlock = errors.New("operation would block")

	// ErrQueueFull indicates the send queue reached its limit
	ErrQueueFull = errors.New("send queue full")

	// ErrProxyRequired indicates a send that must be proxied while no suitable
	// proxy is configured: a forced send with kind none, or a hostname send
	// without a socks5 proxy that resolves hostnames
	ErrProxyRequired = errors.New("send requires a proxy that is not configured")

	// ErrProxyNotReady indicates the send must be proxied but the tunnel is not established yet
	ErrProxyNotReady = errors.New("proxy tunnel not established")

	// ErrProxyUnsupported indicates the configured proxy kind cannot carry udp
	ErrProxyUnsupported = errors.New("proxy kind cannot carry udp")
)

// OpError represents an OS-level failure with the operation and address involved.
type OpError struct {
	Op   string // operation that caused the error
	Addr string // address if relevant
	Err  error  // underlying error
}

func (e *OpError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("udp %s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("udp %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func newOpError(op, addr string, err error) *OpError {
	return &OpError{
		Op:   op,
		Addr: addr,
		Err:  err,
	}
}

// ErrorClass groups errors by how a caller is expected to react to them.
type ErrorClass int

const (
	// ClassNone is the class of a nil error.
	ClassNone ErrorClass = iota

	// ClassLifecycle errors mean the socket is closed or not bound yet.
	ClassLifecycle

	// ClassTransport errors are OS or proxy failures the caller may retry.
	ClassTransport

	// ClassProxyPolicy errors mean the proxy configuration forbids the operation.
	ClassProxyPolicy

	// ClassPerPacket errors affect a single received datagram.
	ClassPerPacket
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassLifecycle:
		return "lifecycle"
	case ClassTransport:
		return "transport"
	case ClassProxyPolicy:
		return "proxy-policy"
	case ClassPerPacket:
		return "per-packet"
	default:
		return fmt.Sprintf("ErrorClass(%d)", int(c))
	}
}

// opRecv is the OpError operation used for receive errors.
const opRecv = "recv"

// Classify maps err to its ErrorClass.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrSocketClosed), errors.Is(err, ErrNotBound):
		return ClassLifecycle
	case errors.Is(err, ErrProxyRequired), errors.Is(err, ErrProxyNotReady), errors.Is(err, ErrProxyUnsupported):
		return ClassProxyPolicy
	}

	var opErr *OpError
	if errors.As(err, &opErr) && opErr.Op == opRecv && isPerPacketError(opErr.Err) {
		return ClassPerPacket
	}
	return ClassTransport
}
