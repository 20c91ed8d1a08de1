// Package gateway implements the ETG 8200 master-gateway UDP framing: a
// thin relay that lets a UDP client exchange raw mailbox messages with the
// master (address 0) or any discovered slave (spec.md section 6
// "Master-gateway UDP", SPEC_FULL.md supplemented feature 6). It owns no
// EtherCAT state of its own — address-0 requests are answered by an
// embedded mailboxsrv.Server, and everything else is relayed to a Bus.
package gateway

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/higebu/netfd"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/leducp/kickcat/mailboxsrv"
	"github.com/leducp/kickcat/protocol"
)

// Port is the ETG 8200 master-gateway UDP port. Listen does not apply it
// on its own: the caller passes the address to bind, since binding 0x88A4
// on a production host needs a privilege this module doesn't assume
// (SPEC_FULL.md section 6).
const Port = 0x88A4

// masterAddress is the mailbox message address reserved for the master
// itself (spec.md section 6 "Address 0 targets the master itself").
const masterAddress = 0

// maxDatagramSize is the largest UDP payload this listener will read: an
// EtherCAT header plus a mailbox message sized to the Ethernet MTU, with
// headroom to spare.
const maxDatagramSize = protocol.EthernetMTU

// Forwarder is the subset of *bus.Bus the gateway depends on: relaying a
// raw mailbox message to a discovered slave and blocking for its reply.
// Kept as a narrow interface (mirroring bus.Recorder / link.Recorder) so
// the gateway can be driven in tests without a real link and socket pair.
type Forwarder interface {
	ForwardMailbox(address uint16, raw []byte, timeout time.Duration) ([]byte, error)
}

// Server is one ETG 8200 UDP listener bound to a Bus and a local
// mailboxsrv.Server answering requests addressed to the master itself.
type Server struct {
	conn    *net.UDPConn
	fd      int
	bus     Forwarder
	local   *mailboxsrv.Server
	timeout time.Duration
	log     *logrus.Entry
}

// New builds a Server relaying to bus and answering address-0 requests
// from local. timeout bounds how long a forwarded request waits on the
// addressed slave's mailbox.
func New(bus Forwarder, local *mailboxsrv.Server, timeout time.Duration, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{bus: bus, local: local, timeout: timeout, log: log}
}

// Listen binds the UDP socket at addr (e.g. ":8200" in a test, or
// fmt.Sprintf(":%d", Port) in production) and extracts its file
// descriptor via netfd, the same way the teacher's exporter collector
// extracts a TCP connection's fd to call getsockopt directly rather than
// going through the net package for something it doesn't expose.
func (s *Server) Listen(addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("gateway: resolve %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("gateway: listen %q: %w", addr, err)
	}
	s.conn = conn
	s.fd = netfd.GetFdFromConn(conn)
	s.log.WithField("addr", conn.LocalAddr()).WithField("fd", s.fd).Info("gateway: listening")
	return nil
}

// Fd returns the raw file descriptor of the bound listener, extracted via
// netfd in Listen — exposed for callers that want to set socket options
// net.UDPConn itself has no accessor for (e.g. SO_REUSEPORT).
func (s *Server) Fd() int { return s.fd }

// Close releases the UDP socket. Safe to call more than once.
func (s *Server) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Serve reads UDP datagrams until the listener is closed, handling each
// synchronously (spec.md's bus is single-threaded cooperative; the
// gateway must not call into it from more than one goroutine at a time).
func (s *Server) Serve() error {
	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if isClosed(err) {
				return nil
			}
			return fmt.Errorf("gateway: read: %w", err)
		}

		sessionID := xid.New()
		resp, err := s.handle(buf[:n])
		if err != nil {
			s.log.WithField("session", sessionID).WithField("from", from).WithError(err).Warn("gateway: request failed")
			continue
		}
		if resp == nil {
			continue // no reply owed (malformed or unsupported message)
		}
		if _, err := s.conn.WriteToUDP(resp, from); err != nil {
			s.log.WithField("session", sessionID).WithField("from", from).WithError(err).Warn("gateway: reply write failed")
		}
	}
}

// handle decodes one UDP payload, dispatches it to the master's own
// mailboxsrv or to the addressed slave via Forwarder, and re-encodes the
// reply in the same EtherCAT-header-plus-mailbox-message framing.
func (s *Server) handle(payload []byte) ([]byte, error) {
	msg, err := decode(payload)
	if err != nil {
		return nil, err
	}
	if len(msg) < protocol.MailboxHeaderLen {
		return nil, fmt.Errorf("gateway: mailbox message shorter than header: %d bytes", len(msg))
	}
	hdr := protocol.ParseMailboxHeader(msg)

	var reply []byte
	if hdr.Address == masterAddress {
		reply = s.local.Process(msg)
	} else {
		reply, err = s.bus.ForwardMailbox(hdr.Address, msg, s.timeout)
		if err != nil {
			return nil, fmt.Errorf("gateway: forward to %#04x: %w", hdr.Address, err)
		}
	}
	if reply == nil {
		return nil, nil
	}
	return encode(reply)
}

// decode strips the 2-byte standalone EtherCAT header off a UDP payload
// and returns the mailbox message it declares, rejecting anything not
// marked as gateway-mailbox traffic (type 5).
func decode(payload []byte) ([]byte, error) {
	if len(payload) < protocol.EtherCATHeaderLen {
		return nil, fmt.Errorf("gateway: payload shorter than EtherCAT header: %d bytes", len(payload))
	}
	length, typ := protocol.ParseEtherCATHeader(payload)
	if typ != protocol.EtherCATTypeMailboxGateway {
		return nil, fmt.Errorf("gateway: unexpected EtherCAT header type %d, want %d", typ, protocol.EtherCATTypeMailboxGateway)
	}
	end := protocol.EtherCATHeaderLen + length
	if end > len(payload) {
		return nil, fmt.Errorf("gateway: declared length %d exceeds payload", length)
	}
	return payload[protocol.EtherCATHeaderLen:end], nil
}

// encode wraps a raw mailbox message back into the standalone
// EtherCAT-header-plus-mailbox-message framing ETG 8200 expects.
func encode(msg []byte) ([]byte, error) {
	buf := make([]byte, protocol.EtherCATHeaderLen+len(msg))
	if err := protocol.PutEtherCATHeader(buf, len(msg), protocol.EtherCATTypeMailboxGateway); err != nil {
		return nil, err
	}
	copy(buf[protocol.EtherCATHeaderLen:], msg)
	return buf, nil
}

// isClosed reports whether err is the "use of closed network connection"
// error ReadFromUDP returns after Close, the conventional way to end a
// net.Conn read loop without treating shutdown as a failure.
func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
