//go:build windows
// +build windows

package transport

import "syscall"

func (ReceiveBufferSize) sockopt(addrFamily) (int, int) {
	return syscall.SOL_SOCKET, syscall.SO_RCVBUF
}

func (SendBufferSize) sockopt(addrFamily) (int, int) {
	return syscall.SOL_SOCKET, syscall.SO_SNDBUF
}

func (TypeOfService) sockopt(addrFamily) (int, int) {
	return syscall.IPPROTO_IP, syscall.IP_TOS
}

func (HopLimit) sockopt(family addrFamily) (int, int) {
	if family == familyIPv6 {
		return syscall.IPPROTO_IPV6, syscall.IPV6_UNICAST_HOPS
	}
	return syscall.IPPROTO_IP, syscall.IP_TTL
}
