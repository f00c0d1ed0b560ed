package transport

import "net/netip"

// Packet is one slot of a batch filled by UDPSocket.Read.
//
// Data points into the socket's receive arena and is only valid until the next
// Read on the same socket; copy it to keep it. When Err is set the slot carries
// a per-packet receive error and Data is empty.
type Packet struct {
	Data []byte
	From netip.AddrPort
	Err  error
}
