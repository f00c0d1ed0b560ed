package transport

import "encoding/binary"

// Matcher reports whether a datagram belongs to a sub-protocol.
type Matcher func(data []byte) bool

// IsDHTMessage matches KRPC messages, which are bencoded dictionaries.
func IsDHTMessage(data []byte) bool {
	return len(data) >= 2 && data[0] == 'd' && data[len(data)-1] == 'e'
}

// uTP header layout (BEP 29).
const (
	utpHeaderSize = 20
	utpVersion    = 1
	utpNumTypes   = 5 // ST_DATA, ST_FIN, ST_STATE, ST_RESET, ST_SYN
)

// IsUTPPacket matches uTP version 1 packets.
func IsUTPPacket(data []byte) bool {
	if len(data) < utpHeaderSize {
		return false
	}
	version := data[0] & 0x0f
	typ := data[0] >> 4
	return version == utpVersion && typ < utpNumTypes
}

// UDP tracker protocol (BEP 15).
const (
	trackerHeaderSize = 8 // action + transaction id
	trackerMaxAction  = 3 // connect, announce, scrape, error
)

// IsTrackerResponse matches UDP tracker responses.
func IsTrackerResponse(data []byte) bool {
	if len(data) < trackerHeaderSize {
		return false
	}
	return binary.BigEndian.Uint32(data[:4]) <= trackerMaxAction
}
