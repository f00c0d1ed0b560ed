package net

import (
	"context"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/opd-ai/udpsocket/transport"
	"github.com/sirupsen/logrus"
)

// readBufferSize is the number of received datagrams held for ReadFrom.
const readBufferSize = 128

// PacketConn implements net.PacketConn on top of a bound UDPSocket, so code
// written against the standard interface can share the socket and its proxy
// routing. PacketConn takes over ownership of the socket: its reader
// goroutine and WriteTo serialize every owner operation.
type PacketConn struct {
	sock  *transport.UDPSocket
	flags transport.Flags

	// owner serializes Read and Send on sock.
	owner sync.Mutex

	readBuffer chan packetWithAddr

	// Deadline management
	readDeadline  time.Time
	writeDeadline time.Time
	deadlineMu    sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// packetWithAddr bundles a packet with its source address
type packetWithAddr struct {
	data []byte
	addr netip.AddrPort
}

// PacketConnOption configures a PacketConn.
type PacketConnOption func(*PacketConn)

// WithFlags sets the flags every WriteTo sends with, for example
// transport.PeerConnection to classify the traffic for proxy routing.
func WithFlags(flags transport.Flags) PacketConnOption {
	return func(c *PacketConn) {
		c.flags = flags
	}
}

// NewPacketConn wraps sock, which must be bound, and starts receiving.
func NewPacketConn(sock *transport.UDPSocket, opts ...PacketConnOption) (*PacketConn, error) {
	local, err := sock.LocalEndpoint()
	if err != nil {
		return nil, newPacketConnError("listen", "", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &PacketConn{
		sock:       sock,
		readBuffer: make(chan packetWithAddr, readBufferSize),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.processPackets()

	logrus.WithFields(logrus.Fields{
		"function":   "NewPacketConn",
		"local_addr": local.String(),
		"flags":      c.flags.String(),
	}).Info("Created packet connection")

	return c, nil
}

// processPackets moves received datagrams into the read buffer until the
// socket closes.
func (c *PacketConn) processPackets() {
	defer close(c.done)

	batch := make([]transport.Packet, 16)
	ready := make(chan error, 1)
	for {
		c.sock.AsyncRead(func(err error) { ready <- err })
		err := <-ready
		if err == nil {
			err = c.drain(batch)
		}
		if err == nil || transport.Classify(err) == transport.ClassPerPacket {
			continue
		}
		if c.ctx.Err() == nil {
			logrus.WithFields(logrus.Fields{
				"function": "PacketConn.processPackets",
				"error":    err.Error(),
			}).Error("Receive loop stopped")
			c.cancel()
		}
		return
	}
}

func (c *PacketConn) drain(batch []transport.Packet) error {
	for {
		c.owner.Lock()
		n, err := c.sock.Read(batch)
		for i := 0; i < n; i++ {
			if batch[i].Err == nil {
				c.enqueuePacket(batch[i])
			}
			batch[i] = transport.Packet{}
		}
		c.owner.Unlock()

		if err != nil || n < len(batch) {
			return err
		}
	}
}

// enqueuePacket copies pkt out of the socket arena into the read buffer.
func (c *PacketConn) enqueuePacket(pkt transport.Packet) {
	packet := packetWithAddr{
		data: append([]byte(nil), pkt.Data...),
		addr: pkt.From,
	}
	select {
	case c.readBuffer <- packet:
	default:
		logrus.WithFields(logrus.Fields{
			"function":    "PacketConn.enqueuePacket",
			"remote_addr": pkt.From.String(),
		}).Warn("Dropped packet due to full buffer")
	}
}

// ReadFrom reads a packet from the connection and returns the data and source address.
// A packet larger than p is truncated.
func (c *PacketConn) ReadFrom(p []byte) (int, net.Addr, error) {
	if c.ctx.Err() != nil {
		return 0, nil, newPacketConnError("read", "", ErrConnectionClosed)
	}

	c.deadlineMu.RLock()
	deadline := c.readDeadline
	c.deadlineMu.RUnlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case packet := <-c.readBuffer:
		n := copy(p, packet.data)
		return n, net.UDPAddrFromAddrPort(packet.addr), nil
	case <-timeout:
		return 0, nil, newPacketConnError("read", "", ErrTimeout)
	case <-c.ctx.Done():
		return 0, nil, newPacketConnError("read", "", ErrConnectionClosed)
	}
}

// WriteTo sends p to addr. addr may be a *net.UDPAddr, any address whose
// String form is an IP endpoint, or a host:port pair, which is handed to the
// proxy for resolution.
func (c *PacketConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	if addr == nil {
		return 0, newPacketConnError("write", "", ErrUnsupportedAddr)
	}
	if c.ctx.Err() != nil {
		return 0, newPacketConnError("write", addr.String(), ErrConnectionClosed)
	}

	c.deadlineMu.RLock()
	deadline := c.writeDeadline
	c.deadlineMu.RUnlock()
	if !deadline.IsZero() && time.Now().After(deadline) {
		return 0, newPacketConnError("write", addr.String(), ErrTimeout)
	}

	ep, host, port, err := resolveAddr(addr)
	if err != nil {
		return 0, newPacketConnError("write", addr.String(), err)
	}

	c.owner.Lock()
	if host != "" {
		err = c.sock.SendHostname(host, port, p, c.flags)
	} else {
		err = c.sock.Send(ep, p, c.flags)
	}
	c.owner.Unlock()

	if err != nil {
		return 0, newPacketConnError("write", addr.String(), err)
	}
	return len(p), nil
}

// resolveAddr splits addr into an IP endpoint or a hostname and port.
func resolveAddr(addr net.Addr) (netip.AddrPort, string, uint16, error) {
	if u, ok := addr.(*net.UDPAddr); ok {
		return u.AddrPort(), "", 0, nil
	}
	if ep, err := netip.ParseAddrPort(addr.String()); err == nil {
		return ep, "", 0, nil
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return netip.AddrPort{}, "", 0, ErrUnsupportedAddr
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return netip.AddrPort{}, "", 0, ErrUnsupportedAddr
	}
	return netip.AddrPort{}, host, uint16(port), nil
}

// Close closes the socket and stops the reader.
func (c *PacketConn) Close() error {
	c.cancel()
	err := c.sock.Close()
	<-c.done

	logrus.WithFields(logrus.Fields{
		"function": "PacketConn.Close",
	}).Info("Closed packet connection")
	return err
}

// LocalAddr returns the bound endpoint as a *net.UDPAddr.
func (c *PacketConn) LocalAddr() net.Addr {
	return net.UDPAddrFromAddrPort(c.sock.LocalAddr())
}

// SetDeadline sets both read and write deadlines.
func (c *PacketConn) SetDeadline(t time.Time) error {
	c.deadlineMu.Lock()
	c.readDeadline = t
	c.writeDeadline = t
	c.deadlineMu.Unlock()
	return nil
}

// SetReadDeadline sets the read deadline.
func (c *PacketConn) SetReadDeadline(t time.Time) error {
	c.deadlineMu.Lock()
	c.readDeadline = t
	c.deadlineMu.Unlock()
	return nil
}

// SetWriteDeadline sets the write deadline.
func (c *PacketConn) SetWriteDeadline(t time.Time) error {
	c.deadlineMu.Lock()
	c.writeDeadline = t
	c.deadlineMu.Unlock()
	return nil
}

var _ net.PacketConn = (*PacketConn)(nil)
