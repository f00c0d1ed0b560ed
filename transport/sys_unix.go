//go:build unix
// +build unix

package transport

import (
	"errors"
	"net"
	"net/netip"
	"syscall"

	"golang.org/x/sys/unix"
)

// socketFamily reports the address family of the bound socket.
func socketFamily(raw syscall.RawConn) (addrFamily, error) {
	var (
		sa   unix.Sockaddr
		serr error
	)
	if err := raw.Control(func(fd uintptr) {
		sa, serr = unix.Getsockname(int(fd))
	}); err != nil {
		return 0, err
	}
	if serr != nil {
		return 0, serr
	}
	if _, ok := sa.(*unix.SockaddrInet4); ok {
		return familyIPv4, nil
	}
	return familyIPv6, nil
}

// recv performs one non-blocking receive into buf. It never waits: an empty
// socket returns errWouldBlock.
func (h *sockHandle) recv(buf []byte) (int, netip.AddrPort, error) {
	var (
		n     int
		flags int
		from  unix.Sockaddr
		rerr  error
	)
	if err := h.raw.Control(func(fd uintptr) {
		n, _, flags, from, rerr = unix.Recvmsg(int(fd), buf, nil, 0)
	}); err != nil {
		return 0, netip.AddrPort{}, mapConnError(err)
	}

	src := addrPortFromSockaddr(from)
	switch {
	case rerr == unix.EAGAIN || rerr == unix.EWOULDBLOCK:
		return 0, src, errWouldBlock
	case rerr != nil:
		return 0, src, rerr
	case flags&unix.MSG_TRUNC != 0:
		return 0, src, unix.EMSGSIZE
	}
	return n, src, nil
}

// send performs one non-blocking send of b to dst.
func (h *sockHandle) send(dst netip.AddrPort, b []byte, dontFragment bool) error {
	var serr error
	if err := h.raw.Control(func(fd uintptr) {
		serr = h.sendFD(int(fd), dst, b, dontFragment)
	}); err != nil {
		return mapConnError(err)
	}
	return serr
}

func (h *sockHandle) sendFD(fd int, dst netip.AddrPort, b []byte, dontFragment bool) error {
	sa, err := h.sockaddr(dst)
	if err != nil {
		return err
	}

	if dontFragment {
		restore, err := setDontFragment(fd, dst.Addr().Unmap().Is4())
		if err != nil {
			return err
		}
		defer restore()
	}

	for {
		err = unix.Sendto(fd, b, 0, sa)
		if err != unix.EINTR {
			break
		}
	}
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.ENOBUFS {
		return errWouldBlock
	}
	return err
}

// waitReadable blocks until a datagram or a pending socket error can be read,
// or the socket is closed. The datagram itself is left in the socket.
func (h *sockHandle) waitReadable() error {
	var (
		probe [1]byte
		perr  error
	)
	err := h.raw.Read(func(fd uintptr) bool {
		for {
			_, _, perr = unix.Recvfrom(int(fd), probe[:], unix.MSG_PEEK)
			if perr != unix.EINTR {
				break
			}
		}
		return perr != unix.EAGAIN && perr != unix.EWOULDBLOCK
	})
	if err != nil {
		return mapConnError(err)
	}
	if perr != nil {
		return newOpError(opRecv, h.local.String(), perr)
	}
	return nil
}

// whenWritable calls f each time the socket is writable until f reports it is
// done. f gets a send function bound to the descriptor.
func (h *sockHandle) whenWritable(f func(send sendFunc) bool) error {
	err := h.raw.Write(func(fd uintptr) bool {
		return f(func(dst netip.AddrPort, b []byte, dontFragment bool) error {
			return h.sendFD(int(fd), dst, b, dontFragment)
		})
	})
	return mapConnError(err)
}

func (h *sockHandle) sockaddr(dst netip.AddrPort) (unix.Sockaddr, error) {
	addr := dst.Addr()
	if !addr.IsValid() {
		return nil, unix.EINVAL
	}

	if h.family == familyIPv4 {
		addr = addr.Unmap()
		if !addr.Is4() {
			return nil, unix.EAFNOSUPPORT
		}
		return &unix.SockaddrInet4{Port: int(dst.Port()), Addr: addr.As4()}, nil
	}

	sa := &unix.SockaddrInet6{Port: int(dst.Port()), Addr: addr.As16()}
	if zone := addr.Zone(); zone != "" {
		if ifi, err := net.InterfaceByName(zone); err == nil {
			sa.ZoneId = uint32(ifi.Index)
		}
	}
	return sa, nil
}

func addrPortFromSockaddr(sa unix.Sockaddr) netip.AddrPort {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr).Unmap(), uint16(sa.Port))
	}
	return netip.AddrPort{}
}

func (h *sockHandle) getsockoptInt(level, name int) (int, error) {
	var (
		v    int
		oerr error
	)
	if err := h.raw.Control(func(fd uintptr) {
		v, oerr = unix.GetsockoptInt(int(fd), level, name)
	}); err != nil {
		return 0, mapConnError(err)
	}
	return v, oerr
}

func (h *sockHandle) setsockoptInt(level, name, v int) error {
	var oerr error
	if err := h.raw.Control(func(fd uintptr) {
		oerr = unix.SetsockoptInt(int(fd), level, name, v)
	}); err != nil {
		return mapConnError(err)
	}
	return oerr
}

// isPerPacketError reports whether err concerns a single datagram (usually an
// ICMP error reported on the socket) rather than the socket itself.
func isPerPacketError(err error) bool {
	for _, errno := range []unix.Errno{
		unix.ECONNREFUSED,
		unix.ECONNRESET,
		unix.EHOSTUNREACH,
		unix.ENETUNREACH,
		unix.EHOSTDOWN,
		unix.EMSGSIZE,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

func isInterrupted(err error) bool {
	return errors.Is(err, unix.EINTR)
}
