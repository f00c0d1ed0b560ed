//go:build linux
// +build linux

package transport

import "golang.org/x/sys/unix"

// setDontFragment switches path-MTU discovery to "do" (DF set) on fd and returns a
// function restoring the previous mode.
func setDontFragment(fd int, ipv4 bool) (func(), error) {
	level, name, do := unix.IPPROTO_IPV6, unix.IPV6_MTU_DISCOVER, unix.IPV6_PMTUDISC_DO
	if ipv4 {
		level, name, do = unix.IPPROTO_IP, unix.IP_MTU_DISCOVER, unix.IP_PMTUDISC_DO
	}

	prev, err := unix.GetsockoptInt(fd, level, name)
	if err != nil {
		return nil, err
	}
	if prev == do {
		return func() {}, nil
	}
	if err := unix.SetsockoptInt(fd, level, name, do); err != nil {
		return nil, err
	}
	return func() { _ = unix.SetsockoptInt(fd, level, name, prev) }, nil
}
