package testing

import (
	"errors"
	"net"
	"net/netip"
	"strconv"
	"sync"

	"github.com/opd-ai/udpsocket/tunnel"
	"github.com/sirupsen/logrus"
)

// RelayRecord is one datagram forwarded by a SimulatedRelay.
type RelayRecord struct {
	Direction string // "outbound" (client to peer) or "inbound" (peer to client)
	Peer      string
	Size      int
}

// SimulatedRelay is the UDP half of a SOCKS5 proxy running on loopback. The
// first endpoint that sends it a well-formed SOCKS5 datagram becomes its
// client: the client's datagrams are unwrapped and forwarded, and datagrams
// from anyone else are wrapped and forwarded to the client.
type SimulatedRelay struct {
	conn     *net.UDPConn
	endpoint netip.AddrPort

	mu     sync.Mutex
	client netip.AddrPort
	log    []RelayRecord

	wg sync.WaitGroup
}

// NewSimulatedRelay starts a relay on 127.0.0.1 with an ephemeral port.
func NewSimulatedRelay() (*SimulatedRelay, error) {
	logrus.Warn("SIMULATION FUNCTION - NOT A REAL OPERATION")

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return nil, err
	}

	r := &SimulatedRelay{
		conn:     conn,
		endpoint: conn.LocalAddr().(*net.UDPAddr).AddrPort(),
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewSimulatedRelay",
		"relay_addr": r.endpoint.String(),
	}).Info("Started simulated SOCKS5 relay")

	r.wg.Add(1)
	go r.serve()
	return r, nil
}

// Endpoint returns the relay's UDP endpoint.
func (r *SimulatedRelay) Endpoint() netip.AddrPort {
	return r.endpoint
}

// Dialer returns a tunnel dialer whose tunnels relay through r.
func (r *SimulatedRelay) Dialer() *RecordingDialer {
	return NewRecordingDialer(r.endpoint)
}

// Client returns the endpoint the relay serves, once known.
func (r *SimulatedRelay) Client() netip.AddrPort {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.client
}

// GetRelayLog returns a copy of the forwarded datagrams.
func (r *SimulatedRelay) GetRelayLog() []RelayRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	log := make([]RelayRecord, len(r.log))
	copy(log, r.log)
	return log
}

// Close stops the relay.
func (r *SimulatedRelay) Close() error {
	err := r.conn.Close()
	r.wg.Wait()
	return err
}

func (r *SimulatedRelay) serve() {
	defer r.wg.Done()

	buf := make([]byte, 65535)
	for {
		n, from, err := r.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		from = netip.AddrPortFrom(from.Addr().Unmap(), from.Port())
		r.handle(from, buf[:n])
	}
}

func (r *SimulatedRelay) handle(from netip.AddrPort, data []byte) {
	r.mu.Lock()
	client := r.client
	r.mu.Unlock()

	if !client.IsValid() || from == client {
		r.forwardFromClient(from, data, !client.IsValid())
		return
	}

	framed, err := tunnel.EncodeDatagram(from, data)
	if err != nil {
		return
	}
	if _, err := r.conn.WriteToUDPAddrPort(framed, client); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "SimulatedRelay.handle",
			"client":   client.String(),
			"error":    err.Error(),
		}).Debug("Failed to forward datagram to client")
		return
	}
	r.record(RelayRecord{Direction: "inbound", Peer: from.String(), Size: len(data)})
}

func (r *SimulatedRelay) forwardFromClient(from netip.AddrPort, data []byte, first bool) {
	host, port, payload, err := tunnel.DecodeRequest(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "SimulatedRelay.forwardFromClient",
			"from":     from.String(),
			"error":    err.Error(),
		}).Debug("Dropping malformed client datagram")
		return
	}
	if first {
		r.mu.Lock()
		r.client = from
		r.mu.Unlock()
	}

	dst, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "SimulatedRelay.forwardFromClient",
			"host":     host,
			"error":    err.Error(),
		}).Debug("Failed to resolve destination")
		return
	}
	if _, err := r.conn.WriteToUDP(payload, dst); err != nil {
		return
	}
	r.record(RelayRecord{Direction: "outbound", Peer: net.JoinHostPort(host, strconv.Itoa(int(port))), Size: len(payload)})
}

func (r *SimulatedRelay) record(rec RelayRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, rec)
}
