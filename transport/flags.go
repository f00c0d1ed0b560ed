package transport

import "strings"

// Flags classify an outbound datagram and adjust how it is sent.
type Flags uint8

const (
	// PeerConnection marks peer-wire traffic.
	PeerConnection Flags = 1 << iota

	// TrackerConnection marks tracker announces.
	TrackerConnection

	// DontQueue fails with ErrWouldBlock instead of queueing when the socket
	// is not writable.
	DontQueue

	// DontFragment asks the OS not to fragment this datagram.
	DontFragment
)

// Has reports whether all bits in x are set.
func (f Flags) Has(x Flags) bool {
	return f&x == x
}

// String returns the set flags joined by '|'.
func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var names []string
	for _, fl := range []struct {
		bit  Flags
		name string
	}{
		{PeerConnection, "peer"},
		{TrackerConnection, "tracker"},
		{DontQueue, "dont_queue"},
		{DontFragment, "dont_fragment"},
	} {
		if f.Has(fl.bit) {
			names = append(names, fl.name)
		}
	}
	return strings.Join(names, "|")
}
