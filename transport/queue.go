package transport

import (
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// sendFunc transmits one datagram without blocking.
type sendFunc func(dst netip.AddrPort, b []byte, dontFragment bool) error

type queuedDatagram struct {
	to           netip.AddrPort
	data         []byte
	dontFragment bool
}

// sendQueue buffers datagrams that found the socket not writable. The owner
// appends, FlushQueue and AsyncWrite drain; the mutex is only taken when the
// queue is in use.
type sendQueue struct {
	mu    sync.Mutex
	items []queuedDatagram
	limit int
	size  atomic.Int32
}

func newSendQueue(limit int) *sendQueue {
	return &sendQueue{limit: limit}
}

func (q *sendQueue) len() int {
	return int(q.size.Load())
}

// push copies b into the queue.
func (q *sendQueue) push(to netip.AddrPort, b []byte, dontFragment bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.limit {
		logrus.WithFields(logrus.Fields{
			"function": "sendQueue.push",
			"to":       to.String(),
			"limit":    q.limit,
		}).Warn("Send queue full, dropping datagram")
		return ErrQueueFull
	}

	q.items = append(q.items, queuedDatagram{
		to:           to,
		data:         append([]byte(nil), b...),
		dontFragment: dontFragment,
	})
	q.size.Store(int32(len(q.items)))
	return nil
}

// flush sends queued datagrams in order until the queue is empty or send
// reports errWouldBlock. A datagram failing with any other error is dropped;
// the first such error is returned.
func (q *sendQueue) flush(send sendFunc) (sent int, empty bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) > 0 {
		d := q.items[0]
		serr := send(d.to, d.data, d.dontFragment)
		if serr == errWouldBlock {
			break
		}
		q.items[0] = queuedDatagram{}
		q.items = q.items[1:]
		if serr != nil {
			logrus.WithFields(logrus.Fields{
				"function": "sendQueue.flush",
				"to":       d.to.String(),
				"error":    serr.Error(),
			}).Debug("Dropping queued datagram")
			if err == nil {
				err = newOpError("send", d.to.String(), serr)
			}
			continue
		}
		sent++
	}
	if len(q.items) == 0 {
		q.items = nil
	}
	q.size.Store(int32(len(q.items)))
	return sent, len(q.items) == 0, err
}

// discard drops every queued datagram.
func (q *sendQueue) discard() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	q.items = nil
	q.size.Store(0)
	return n
}
