//go:build udpsock_debug
// +build udpsock_debug

package transport

import (
	"fmt"
	"sync/atomic"
)

// ownerGuard panics when two owner operations overlap.
type ownerGuard struct {
	busy atomic.Pointer[string]
}

func (g *ownerGuard) enter(op string) func() {
	if !g.busy.CompareAndSwap(nil, &op) {
		panic(fmt.Sprintf("udpsocket: %s called concurrently with %s", op, *g.busy.Load()))
	}
	return func() { g.busy.Store(nil) }
}
