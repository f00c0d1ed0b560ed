package transport

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// PacketHandler processes one received datagram. Packet.Data is only valid
// for the duration of the call.
type PacketHandler func(pkt Packet)

type route struct {
	name    string
	match   Matcher
	handler PacketHandler
}

// Dispatcher owns a Socket and demultiplexes received datagrams to the
// sub-protocol handlers sharing it. Handlers run on the Run goroutine, so they
// may use the socket's owner operations such as Send.
type Dispatcher struct {
	sock  Socket
	batch []Packet

	mu       sync.RWMutex
	routes   []route
	fallback PacketHandler
	onError  PacketHandler
}

// NewDispatcher creates a dispatcher reading batches of batchSize packets.
func NewDispatcher(sock Socket, batchSize int) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Dispatcher{
		sock:  sock,
		batch: make([]Packet, batchSize),
	}
}

// Handle routes datagrams matching match to handler. Routes are tried in
// registration order.
func (d *Dispatcher) Handle(name string, match Matcher, handler PacketHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.routes = append(d.routes, route{name: name, match: match, handler: handler})

	logrus.WithFields(logrus.Fields{
		"function": "Dispatcher.Handle",
		"route":    name,
	}).Debug("Registered packet route")
}

// HandleDefault sets the handler for datagrams no route matched.
func (d *Dispatcher) HandleDefault(handler PacketHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fallback = handler
}

// HandleError sets the handler for per-packet receive errors.
func (d *Dispatcher) HandleError(handler PacketHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onError = handler
}

// Run reads and dispatches datagrams until ctx ends, which closes the socket,
// or a fatal socket error occurs.
func (d *Dispatcher) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { d.sock.Close() })
	defer stop()

	ready := make(chan error, 1)
	for {
		d.sock.AsyncRead(func(err error) { ready <- err })

		err := <-ready
		if err == nil {
			err = d.drain()
		}
		switch {
		case err == nil:
		case Classify(err) == ClassPerPacket:
			d.dispatch(Packet{Err: err})
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			logrus.WithFields(logrus.Fields{
				"function": "Dispatcher.Run",
				"error":    err.Error(),
			}).Error("Dispatcher stopped")
			return err
		}
	}
}

// drain reads batches until the socket has nothing more queued.
func (d *Dispatcher) drain() error {
	for {
		n, err := d.sock.Read(d.batch)
		for i := 0; i < n; i++ {
			d.dispatch(d.batch[i])
			d.batch[i] = Packet{}
		}
		if err != nil || n < len(d.batch) {
			return err
		}
	}
}

func (d *Dispatcher) dispatch(pkt Packet) {
	d.mu.RLock()
	routes, fallback, onError := d.routes, d.fallback, d.onError
	d.mu.RUnlock()

	if pkt.Err != nil {
		if onError != nil {
			onError(pkt)
		}
		return
	}
	for _, r := range routes {
		if r.match(pkt.Data) {
			r.handler(pkt)
			return
		}
	}
	if fallback != nil {
		fallback(pkt)
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "Dispatcher.dispatch",
		"from":     pkt.From.String(),
		"size":     len(pkt.Data),
	}).Debug("No route for datagram")
}
