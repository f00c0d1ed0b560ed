//go:build !linux
// +build !linux

package transport

// setDontFragment is a no-op on platforms without a per-socket PMTU discovery mode.
func setDontFragment(fd int, ipv4 bool) (func(), error) {
	return func() {}, nil
}
