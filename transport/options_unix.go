//go:build unix
// +build unix

package transport

import "golang.org/x/sys/unix"

func (ReceiveBufferSize) sockopt(addrFamily) (int, int) {
	return unix.SOL_SOCKET, unix.SO_RCVBUF
}

func (SendBufferSize) sockopt(addrFamily) (int, int) {
	return unix.SOL_SOCKET, unix.SO_SNDBUF
}

func (TypeOfService) sockopt(family addrFamily) (int, int) {
	if family == familyIPv6 {
		return unix.IPPROTO_IPV6, unix.IPV6_TCLASS
	}
	return unix.IPPROTO_IP, unix.IP_TOS
}

func (HopLimit) sockopt(family addrFamily) (int, int) {
	if family == familyIPv6 {
		return unix.IPPROTO_IPV6, unix.IPV6_UNICAST_HOPS
	}
	return unix.IPPROTO_IP, unix.IP_TTL
}
