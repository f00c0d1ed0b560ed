// Package limits provides centralized datagram size constants and validation
// functions for the UDP socket layer. This package ensures consistent size
// enforcement between the send path, the receive arena and the SOCKS5 framing.
//
// # Size Hierarchy
//
//   - DefaultPacketSize (1500 bytes): the receive slot used per datagram by
//     default. Larger datagrams are truncated by the operating system.
//
//   - MaxUDPPayload (65507 bytes): the largest payload an IPv4 UDP datagram can
//     carry (65535 minus the 8 byte UDP header and the 20 byte IP header).
//
//   - SOCKS5IPv4Overhead / SOCKS5IPv6Overhead: bytes added in front of a payload
//     by the SOCKS5 UDP request header (RFC 1928 section 7).
//
//   - MaxHostnameLength (255 bytes): the largest DST.ADDR domain a SOCKS5 header
//     can describe.
//
// # Validation Functions
//
//	if err := limits.ValidateDatagram(payload); err != nil {
//	    // ErrDatagramTooLarge
//	}
//
//	if err := limits.ValidateHostname(host); err != nil {
//	    // ErrHostnameInvalid
//	}
//
// Empty datagrams are valid: UDP allows zero length payloads and some trackers
// and DHT implementations use them as keepalives.
package limits
