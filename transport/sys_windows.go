//go:build windows
// +build windows

package transport

import (
	"errors"
	"net"
	"net/netip"
	"syscall"
	"time"
)

// pollInterval paces readiness polling where the netpoller cannot be probed
// without consuming a datagram.
const pollInterval = 5 * time.Millisecond

// wsaEMSGSIZE is reported for a datagram larger than the receive buffer.
const wsaEMSGSIZE syscall.Errno = 10040

// aLongTimeAgo is a deadline that makes reads return immediately.
var aLongTimeAgo = time.Unix(1, 0)

func socketFamily(raw syscall.RawConn) (addrFamily, error) {
	var (
		sa   syscall.Sockaddr
		serr error
	)
	if err := raw.Control(func(fd uintptr) {
		sa, serr = syscall.Getsockname(syscall.Handle(fd))
	}); err != nil {
		return 0, err
	}
	if serr != nil {
		return 0, serr
	}
	if _, ok := sa.(*syscall.SockaddrInet4); ok {
		return familyIPv4, nil
	}
	return familyIPv6, nil
}

func (h *sockHandle) recv(buf []byte) (int, netip.AddrPort, error) {
	if err := h.conn.SetReadDeadline(aLongTimeAgo); err != nil {
		return 0, netip.AddrPort{}, mapConnError(err)
	}
	n, from, err := h.conn.ReadFromUDPAddrPort(buf)
	from = netip.AddrPortFrom(from.Addr().Unmap(), from.Port())
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return 0, from, errWouldBlock
		}
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			err = opErr.Err
		}
		return 0, from, mapConnError(err)
	}
	return n, from, nil
}

func (h *sockHandle) send(dst netip.AddrPort, b []byte, dontFragment bool) error {
	if h.family == familyIPv4 {
		dst = netip.AddrPortFrom(dst.Addr().Unmap(), dst.Port())
	}
	_, err := h.conn.WriteToUDPAddrPort(b, dst)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			err = opErr.Err
		}
		return mapConnError(err)
	}
	return nil
}

// waitReadable approximates readiness by polling: the caller's next Read
// reports would-block when nothing arrived.
func (h *sockHandle) waitReadable() error {
	time.Sleep(pollInterval)
	if err := h.conn.SetReadDeadline(aLongTimeAgo); err != nil {
		return mapConnError(err)
	}
	return nil
}

func (h *sockHandle) whenWritable(f func(send sendFunc) bool) error {
	for !f(h.send) {
		time.Sleep(pollInterval)
		if err := h.conn.SetWriteDeadline(time.Time{}); err != nil {
			return mapConnError(err)
		}
	}
	return nil
}

func (h *sockHandle) getsockoptInt(level, name int) (int, error) {
	return 0, errors.ErrUnsupported
}

func (h *sockHandle) setsockoptInt(level, name, v int) error {
	return errors.ErrUnsupported
}

func isPerPacketError(err error) bool {
	for _, errno := range []syscall.Errno{
		syscall.WSAECONNRESET,
		wsaEMSGSIZE,
		syscall.ECONNREFUSED,
		syscall.EHOSTUNREACH,
		syscall.ENETUNREACH,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

func isInterrupted(err error) bool {
	return errors.Is(err, syscall.EINTR)
}
