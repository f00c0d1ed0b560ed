package transport

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memSocket is an in-memory Socket fed by deliver.
type memSocket struct {
	mu      sync.Mutex
	queue   []Packet
	sent    []Packet
	readErr error
	closed  bool

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newMemSocket() *memSocket {
	return &memSocket{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (m *memSocket) deliver(pkts ...Packet) {
	m.mu.Lock()
	m.queue = append(m.queue, pkts...)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *memSocket) failReads(err error) {
	m.mu.Lock()
	m.readErr = err
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *memSocket) Send(ep netip.AddrPort, payload []byte, _ Flags) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrSocketClosed
	}
	m.sent = append(m.sent, Packet{Data: append([]byte(nil), payload...), From: ep})
	return nil
}

func (m *memSocket) Read(pkts []Packet) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrSocketClosed
	}
	if m.readErr != nil {
		return 0, m.readErr
	}
	n := copy(pkts, m.queue)
	m.queue = m.queue[n:]
	return n, nil
}

func (m *memSocket) AsyncRead(handler func(error)) {
	go func() {
		for {
			m.mu.Lock()
			closed, ready := m.closed, len(m.queue) > 0 || m.readErr != nil
			m.mu.Unlock()

			switch {
			case closed:
				handler(ErrSocketClosed)
				return
			case ready:
				handler(nil)
				return
			}
			select {
			case <-m.notify:
			case <-m.done:
			}
		}
	}()
}

func (m *memSocket) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.done)
	})
	return nil
}

func (m *memSocket) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// runDispatcher starts d and returns a stop function yielding Run's result.
func runDispatcher(t *testing.T, d *Dispatcher) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- d.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, result
}

func TestDispatcherRoutesByMatcher(t *testing.T) {
	sock := newMemSocket()
	d := NewDispatcher(sock, 2)

	got := make(chan string, 8)
	d.Handle("dht", IsDHTMessage, func(pkt Packet) { got <- "dht:" + string(pkt.Data) })
	d.Handle("utp", IsUTPPacket, func(pkt Packet) { got <- "utp" })
	d.HandleDefault(func(pkt Packet) { got <- "other:" + string(pkt.Data) })
	d.HandleError(func(pkt Packet) { got <- "error" })

	cancel, result := runDispatcher(t, d)

	from := netip.MustParseAddrPort("192.0.2.1:6881")
	sock.deliver(
		Packet{Data: []byte("d1:y1:qe"), From: from},
		Packet{Data: utpHeader(4, 1), From: from},
		Packet{Data: []byte("hello"), From: from},
		Packet{Err: newOpError(opRecv, from.String(), syscall.ECONNREFUSED)},
	)

	var order []string
	for len(order) < 4 {
		select {
		case s := <-got:
			order = append(order, s)
		case <-time.After(2 * time.Second):
			t.Fatalf("dispatched only %v", order)
		}
	}
	assert.Equal(t, []string{"dht:d1:y1:qe", "utp", "other:hello", "error"}, order)

	cancel()
	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.True(t, sock.isClosed(), "cancelling Run closes the socket")
}

func TestDispatcherFirstMatchWins(t *testing.T) {
	sock := newMemSocket()
	d := NewDispatcher(sock, 0)

	got := make(chan string, 2)
	d.Handle("first", func([]byte) bool { return true }, func(Packet) { got <- "first" })
	d.Handle("second", func([]byte) bool { return true }, func(Packet) { got <- "second" })
	runDispatcher(t, d)

	sock.deliver(Packet{Data: []byte("x")})

	select {
	case s := <-got:
		assert.Equal(t, "first", s)
	case <-time.After(2 * time.Second):
		t.Fatal("datagram not dispatched")
	}
	assert.Empty(t, got)
}

func TestDispatcherHandlerMayRegisterRoutes(t *testing.T) {
	sock := newMemSocket()
	d := NewDispatcher(sock, 1)

	got := make(chan string, 2)
	d.HandleDefault(func(pkt Packet) {
		d.Handle("late", IsDHTMessage, func(Packet) { got <- "late" })
		got <- "default"
	})
	runDispatcher(t, d)

	sock.deliver(Packet{Data: []byte("de")})
	sock.deliver(Packet{Data: []byte("de")})

	for _, want := range []string{"default", "late"} {
		select {
		case s := <-got:
			assert.Equal(t, want, s)
		case <-time.After(2 * time.Second):
			t.Fatalf("expected %s", want)
		}
	}
}

func TestDispatcherStopsOnFatalError(t *testing.T) {
	sock := newMemSocket()
	d := NewDispatcher(sock, 4)
	_, result := runDispatcher(t, d)

	fatal := errors.New("socket broken")
	sock.failReads(fatal)

	select {
	case err := <-result:
		assert.ErrorIs(t, err, fatal)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return on a fatal error")
	}
}

func TestDispatcherOverUDPSocket(t *testing.T) {
	s := newBoundSocket(t)
	peer, _ := newPeer(t)

	d := NewDispatcher(s, 8)
	d.Handle("dht", IsDHTMessage, func(pkt Packet) {
		// Handlers run on the owner goroutine and may answer directly.
		assert.NoError(t, s.Send(pkt.From, []byte("d1:y1:re"), 0))
	})
	d.Handle("utp", IsUTPPacket, func(pkt Packet) {
		assert.NoError(t, s.Send(pkt.From, utpHeader(2, 1), PeerConnection))
	})
	cancel, result := runDispatcher(t, d)

	local, err := s.LocalEndpoint()
	require.NoError(t, err)
	_, err = peer.WriteToUDPAddrPort([]byte("d1:y1:qe"), local)
	require.NoError(t, err)
	reply, from := readPeer(t, peer)
	assert.Equal(t, "d1:y1:re", string(reply))
	assert.Equal(t, local, from)

	_, err = peer.WriteToUDPAddrPort(utpHeader(4, 1), local)
	require.NoError(t, err)
	reply, _ = readPeer(t, peer)
	assert.True(t, IsUTPPacket(reply))

	cancel()
	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.True(t, s.IsClosed())
}
