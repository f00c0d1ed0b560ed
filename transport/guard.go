//go:build !udpsock_debug
// +build !udpsock_debug

package transport

// ownerGuard checks the single-owner contract. Release builds compile it to
// nothing; build with -tags udpsock_debug to enable it.
type ownerGuard struct{}

func (ownerGuard) enter(string) func() { return leave }

func leave() {}
