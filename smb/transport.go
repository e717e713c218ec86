package smb

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/net/proxy"
)

// transport is component A, "Framed transport": a TCP socket wrapped with
// NetBIOS or Direct-TCP session framing. Send failures are swallowed per
// spec.md §4.A/§7 — callers observe failure as a wait timeout, never a
// propagated write error.
type transport struct {
	kind TransportKind
	conn net.Conn
	buf  *receiveBuffer
}

// Options configures a new Session (component: client construction).
type Options struct {
	Host      string
	Port      int
	Transport TransportKind
	HostName  string // local machine name threaded into NTLMv2 (spec.md Design Notes: "Global state")
	DialTimeout time.Duration

	// ProxyURL optionally routes the TCP dial through a SOCKS5 proxy
	// (domain-stack wiring: golang.org/x/net/proxy), e.g.
	// "socks5://127.0.0.1:1080".
	ProxyURL string

	// ForceExtendedSecurity rejects an SMB1 server whose NegotiateResponse
	// omits CAP_EXTENDED_SECURITY instead of falling back to the legacy
	// pre-extended-security Session Setup AndX path.
	ForceExtendedSecurity bool
}

func dial(opts Options) (net.Conn, error) {
	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	timeout := opts.DialTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	if opts.ProxyURL != "" {
		d, err := proxy.SOCKS5("tcp", opts.ProxyURL, nil, &net.Dialer{Timeout: timeout})
		if err != nil {
			return nil, fmt.Errorf("smb: configuring SOCKS5 proxy: %w", err)
		}
		ctxDialer, ok := d.(proxy.ContextDialer)
		if ok {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			return ctxDialer.DialContext(ctx, "tcp", addr)
		}
		return d.Dial("tcp", addr)
	}

	return net.DialTimeout("tcp", addr, timeout)
}

// newTransport opens the TCP connection and, for NetBIOS, performs the
// Session Request/Response handshake before any SMB traffic (spec.md
// §4.A).
func newTransport(opts Options) (*transport, error) {
	conn, err := dial(opts)
	if err != nil {
		return nil, fmt.Errorf("smb: dial %s:%d: %w", opts.Host, opts.Port, err)
	}

	t := &transport{kind: opts.Transport, conn: conn, buf: newReceiveBuffer()}

	if opts.Transport == NetBIOS {
		if err := t.negotiateNetBIOSSession(opts); err != nil {
			conn.Close()
			return nil, err
		}
	}

	return t, nil
}

func (t *transport) negotiateNetBIOSSession(opts Options) error {
	calling := opts.HostName
	if calling == "" {
		calling, _ = os.Hostname()
	}

	req := encodeSessionRequest("*SMBSERVER", calling)
	if _, err := t.conn.Write(req); err != nil {
		// Per spec.md §4.A, send failures are swallowed; the caller will
		// observe this as a wait timeout on the response below.
		log.Debugln("smb: NetBIOS session request write error (swallowed):", err)
	}

	t.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	defer t.conn.SetReadDeadline(time.Time{})

	pkt, err := t.readRawPacket()
	if err != nil {
		return fmt.Errorf("smb: no NetBIOS session response: %w", err)
	}

	switch pkt.pType {
	case nbPositiveSessionResp:
		return nil
	case nbNegativeSessionResp:
		return fmt.Errorf("smb: NetBIOS negative session response")
	default:
		return fmt.Errorf("smb: unexpected NetBIOS packet type 0x%02x during session setup", pkt.pType)
	}
}

// send wraps body in the framing appropriate to the transport kind and
// writes it. All I/O errors are swallowed (spec.md §4.A/§7).
func (t *transport) send(body []byte) {
	var framed []byte
	switch t.kind {
	case NetBIOS:
		framed = encodeSessionMessage(body)
	default:
		framed = encodeSessionMessage(body) // Direct TCP uses the same 4-byte length prefix, just no session request/response.
	}

	if _, err := t.conn.Write(framed); err != nil {
		log.Debugln("smb: send error (swallowed):", err)
	}
}

// readRawPacket blocks for exactly one NetBIOS/Direct-TCP session packet.
func (t *transport) readRawPacket() (rawPacket, error) {
	for !t.buf.hasCompletePacket() {
		chunk := make([]byte, 65536)
		n, err := t.conn.Read(chunk)
		if n > 0 {
			t.buf.append(chunk[:n])
		}
		if err != nil {
			return rawPacket{}, err
		}
	}
	return t.buf.dequeuePacket()
}

func (t *transport) close() error {
	return t.conn.Close()
}

func (t *transport) setReadDeadline(d time.Time) error {
	return t.conn.SetReadDeadline(d)
}

// rawPacket is one decoded session-service packet, pre-classification
// (component B/C boundary).
type rawPacket struct {
	pType uint8
	body  []byte
}

func encodeSessionMessage(body []byte) []byte {
	hdr := make([]byte, 4)
	hdr[0] = nbSessionMessage
	l := len(body)
	hdr[1] = byte((l >> 16) & 0x01)
	hdr[2] = byte((l >> 8) & 0xFF)
	hdr[3] = byte(l & 0xFF)
	return append(hdr, body...)
}

// encodeSessionRequest builds a NetBIOS Session Request packet naming
// called/calling per spec.md §4.A (FileServiceService/WorkstationService
// suffixes).
func encodeSessionRequest(called, calling string) []byte {
	buf := new(bytes.Buffer)
	buf.Write(encodeNBName(called, nbSuffixFileServer))
	buf.Write(encodeNBName(calling, nbSuffixWorkstation))

	body := buf.Bytes()
	hdr := make([]byte, 4)
	hdr[0] = nbSessionRequest
	l := len(body)
	hdr[1] = byte((l >> 16) & 0x01)
	hdr[2] = byte((l >> 8) & 0xFF)
	hdr[3] = byte(l & 0xFF)
	return append(hdr, body...)
}

// encodeNBName applies RFC 1001 "first-level encoding": a padded 16-byte
// NetBIOS name, each nibble mapped to 'A'+nibble, length-prefixed and
// null-terminated.
func encodeNBName(name string, suffix uint8) []byte {
	padded := make([]byte, 16)
	copy(padded, []byte(name))
	for i := len(name); i < 15; i++ {
		padded[i] = ' '
	}
	padded[15] = suffix

	encoded := make([]byte, 0, 34)
	encoded = append(encoded, 32) // length byte: 32 encoded bytes follow
	for _, b := range padded {
		encoded = append(encoded, 'A'+(b>>4), 'A'+(b&0x0F))
	}
	encoded = append(encoded, 0) // null terminator, no scope id
	return encoded
}
