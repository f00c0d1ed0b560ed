package transport

import (
	"github.com/sirupsen/logrus"
)

// Read drains up to len(pkts) datagrams without blocking. It performs at most
// len(pkts) receive attempts and stops early when nothing more is queued in the
// socket. Datagrams arriving from the proxy relay are unwrapped to their
// original source; malformed relay datagrams are dropped.
//
// A per-packet error such as an ICMP port unreachable occupies a slot with Err
// set and the batch continues. Any other receive error closes the socket and is
// returned once; later calls report ErrSocketClosed.
//
// Packet.Data borrows the socket's receive arena and is overwritten by the
// next Read. Each Data is capped at its own length, so appending to one packet
// never reaches a sibling in the same batch. Slots past the returned count are
// left untouched.
func (s *UDPSocket) Read(pkts []Packet) (int, error) {
	defer s.guard.enter("Read")()

	h, err := s.bound()
	if err != nil {
		return 0, err
	}
	if len(pkts) == 0 {
		return 0, nil
	}

	slotSize := s.cfg.MaxPacketSize
	if need := len(pkts) * slotSize; len(s.arena) < need {
		s.arena = make([]byte, need)
	}
	tun := s.currentTunnel()

	count := 0
	for attempt := 0; attempt < len(pkts); attempt++ {
		end := (count + 1) * slotSize
		slot := s.arena[count*slotSize : end : end]

		n, from, err := h.recv(slot)
		switch {
		case err == nil:
		case err == errWouldBlock:
			return count, nil
		case isInterrupted(err):
			continue
		case isPerPacketError(err):
			var addr string
			if from.IsValid() {
				addr = from.String()
			}
			pkts[count] = Packet{From: from, Err: newOpError(opRecv, addr, err)}
			count++
			continue
		case err == ErrSocketClosed:
			return count, err
		default:
			opErr := newOpError(opRecv, h.local.String(), err)
			s.fail("read", opErr)
			return count, opErr
		}

		data := slot[:n:n]
		if tun != nil && from == tun.RelayEndpoint() {
			src, payload, ok := tun.Unwrap(from, data)
			if !ok {
				continue
			}
			from, data = src, payload
		}

		pkts[count] = Packet{Data: data, From: from}
		count++
	}

	if count > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Read",
			"count":    count,
			"capacity": len(pkts),
		}).Debug("Read datagram batch")
	}
	return count, nil
}
