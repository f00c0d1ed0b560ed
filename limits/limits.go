// Package limits provides centralized datagram size limits for the UDP socket layer.
// This ensures consistent validation across different components of the system.
package limits

import (
	"errors"
	"fmt"
)

const (
	// DefaultPacketSize is the receive slot size used for each datagram in a batch.
	// It matches the Ethernet MTU, which every peer-wire and DHT datagram fits in.
	DefaultPacketSize = 1500

	// MinPacketSize is the smallest accepted receive slot (a SOCKS5 IPv6 header plus
	// a minimal uTP header).
	MinPacketSize = 64

	// MaxUDPPayload is the largest payload of an IPv4 UDP datagram.
	MaxUDPPayload = 65507

	// MaxHostnameLength is the largest domain name a SOCKS5 header can carry
	// (one length byte).
	MaxHostnameLength = 255

	// SOCKS5IPv4Overhead is RSV(2) + FRAG(1) + ATYP(1) + IPv4(4) + PORT(2).
	SOCKS5IPv4Overhead = 10

	// SOCKS5IPv6Overhead is RSV(2) + FRAG(1) + ATYP(1) + IPv6(16) + PORT(2).
	SOCKS5IPv6Overhead = 22

	// DefaultSendQueueLimit is the number of datagrams buffered while the socket is
	// not writable.
	DefaultSendQueueLimit = 256
)

var (
	// ErrDatagramTooLarge indicates a payload exceeds MaxUDPPayload
	ErrDatagramTooLarge = errors.New("datagram too large")

	// ErrHostnameInvalid indicates an empty hostname or one longer than MaxHostnameLength
	ErrHostnameInvalid = errors.New("invalid hostname")
)

// ValidateDatagram validates a payload against MaxUDPPayload.
// Empty payloads are accepted.
func ValidateDatagram(payload []byte) error {
	return ValidateDatagramSize(payload, MaxUDPPayload)
}

// ValidateDatagramSize validates a payload against a custom maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateDatagramSize(payload []byte, maxSize int) error {
	if len(payload) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrDatagramTooLarge, len(payload), maxSize)
	}
	return nil
}

// ValidateProxiedDatagram validates a payload that will be wrapped in a SOCKS5 header,
// so the framed datagram still fits in MaxUDPPayload.
func ValidateProxiedDatagram(payload []byte, ipv6 bool) error {
	overhead := SOCKS5IPv4Overhead
	if ipv6 {
		overhead = SOCKS5IPv6Overhead
	}
	return ValidateDatagramSize(payload, MaxUDPPayload-overhead)
}

// ValidateHostname checks that a hostname can be carried in a SOCKS5 header.
func ValidateHostname(host string) error {
	if host == "" {
		return fmt.Errorf("%w: empty", ErrHostnameInvalid)
	}
	if len(host) > MaxHostnameLength {
		return fmt.Errorf("%w: length %d exceeds limit %d", ErrHostnameInvalid, len(host), MaxHostnameLength)
	}
	return nil
}

// ValidatePacketSize checks a configured receive slot size.
func ValidatePacketSize(size int) error {
	if size < MinPacketSize || size > MaxUDPPayload+SOCKS5IPv6Overhead {
		return fmt.Errorf("packet size %d outside [%d, %d]", size, MinPacketSize, MaxUDPPayload+SOCKS5IPv6Overhead)
	}
	return nil
}
