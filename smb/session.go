package smb

import (
	"fmt"
	"sync"

	"github.com/jfjallid/golog"
)

var log = golog.Get("github.com/pveres/go-smb/smb")

// connState is the lifecycle state machine from spec.md §5: Disconnected →
// Connected → LoggedIn → TreeConnected (zero or more trees) → LoggedIn →
// Disconnected.
type connState int

const (
	stateDisconnected connState = iota
	stateConnected
	stateLoggedIn
)

// dialectKind records which wire dialect Negotiate settled on, once known.
type dialectKind int

const (
	dialectUnknown dialectKind = iota
	dialectSMB1
	dialectSMB2
)

// capabilities is the capability snapshot recorded during Negotiate,
// shared shape for both dialects (spec.md §3 "Capability snapshot").
type capabilities struct {
	dialect          dialectKind
	signingSupported bool
	signingRequired  bool
	maxReadSize      uint32
	maxWriteSize     uint32
	maxTransactSize  uint32
	securityBlob     []byte

	// serverChallenge is the 8-byte SMB1 pre-extended-security challenge
	// (MS-CIFS §2.2.4.5.2.1's non-extended NegotiateResponse). Set only
	// when the server's Capabilities response omitted CAP_EXTENDED_SECURITY;
	// mutually exclusive with securityBlob.
	serverChallenge []byte

	// SMB1-only capability bits and buffer limits negotiated out of
	// NegotiateResponse (spec.md §4.G).
	unicode               bool
	largeFiles            bool
	ntSMB                 bool
	ntStatus              bool
	infoLevelPassthrough  bool
	largeRead             bool
	largeWrite            bool
	serverMaxBufferSize   uint32
	maxMpxCount           uint16
}

// Session is the client connection object (spec.md §5's "Client"):
// transport, background dispatcher, capability snapshot, and
// authenticated identity, guarded by a single mutex for state transitions.
type Session struct {
	mu    sync.Mutex
	state connState

	opts  Options
	t     *transport
	inbox *inbox

	caps capabilities

	sessionIDSMB2 uint64
	uidSMB1       uint16
	sessionKey    []byte
	authUser      string
	authDomain    string

	trees map[string]uint32 // share name -> TID/TreeID, by dialect
}

// NewSession constructs an unconnected Session. Call Connect to establish
// the transport and negotiate a dialect.
func NewSession(opts Options) *Session {
	if opts.Port == 0 {
		if opts.Transport == NetBIOS {
			opts.Port = PortNetBIOS
		} else {
			opts.Port = PortDirectTCP
		}
	}
	return &Session{opts: opts, state: stateDisconnected, trees: make(map[string]uint32)}
}

// Connect dials the transport, performs NetBIOS session setup if
// applicable, starts the background reader, and negotiates a dialect.
func (s *Session) Connect() error {
	s.mu.Lock()
	if s.state != stateDisconnected {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.mu.Unlock()

	t, err := newTransport(s.opts)
	if err != nil {
		return err
	}

	in := newInbox()
	go in.run(t)

	s.mu.Lock()
	s.t = t
	s.inbox = in
	s.state = stateConnected
	s.mu.Unlock()

	if err := s.negotiate(); err != nil {
		s.Disconnect()
		return err
	}
	return nil
}

// negotiate picks the dialect family by transport, per spec.md §2/§4.E/
// §4.F treating the SMB1 (CIFS) and SMB2 connections as two independent
// components rather than one negotiating an upgrade into the other:
// NetBIOS (port 139) always speaks SMB1; Direct TCP (port 445) always
// speaks SMB2.
func (s *Session) negotiate() error {
	if s.opts.Transport == NetBIOS {
		return s.negotiateSMB1()
	}
	return s.negotiateSMB2()
}

func (s *Session) negotiateSMB1() error {
	req, err := s.NewSMB1NegotiateReq()
	if err != nil {
		return err
	}
	body, err := req.MarshalBinary(nil)
	if err != nil {
		return fmt.Errorf("smb: marshal negotiate request: %w", err)
	}
	s.t.send(body)

	msg, err := s.inbox.waitForSMB1(SMB1CommandNegotiate, smb1WaitTimeout)
	if err != nil {
		return err
	}
	if msg == nil {
		return &StatusError{Op: "negotiate", Status: StatusInvalidSMB}
	}
	return s.handleSMB1NegotiateResponse(*msg)
}

func (s *Session) negotiateSMB2() error {
	req, msgID, err := s.NewSMB2NegotiateReq()
	if err != nil {
		return err
	}
	s.t.send(req)

	msg, err := s.inbox.waitForSMB2(SMB2Negotiate, msgID, smb2WaitTimeout)
	if err != nil {
		return err
	}
	if msg == nil {
		return &StatusError{Op: "negotiate", Status: StatusPending}
	}
	return s.handleSMB2NegotiateResponse(*msg)
}

// Login performs Session Setup against whichever dialect Negotiate
// selected (spec.md §4.G/§4.H "Login").
func (s *Session) Login(method AuthMethod, domain, user, password string) error {
	s.mu.Lock()
	dialect := s.caps.dialect
	s.mu.Unlock()

	var err error
	switch dialect {
	case dialectSMB1:
		err = s.smb1Login(method, domain, user, password)
	case dialectSMB2:
		err = s.smb2Login(method, domain, user, password)
	default:
		return fmt.Errorf("smb: Login called before a dialect was negotiated")
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.state = stateLoggedIn
	s.authUser = user
	s.authDomain = domain
	s.mu.Unlock()
	return nil
}

// Logoff ends the authenticated session but leaves the transport open,
// matching spec.md §5's state machine (LoggedIn → Connected).
func (s *Session) Logoff() error {
	s.mu.Lock()
	dialect := s.caps.dialect
	loggedIn := s.state == stateLoggedIn
	s.mu.Unlock()
	if !loggedIn {
		return ErrNotLoggedIn
	}

	var err error
	switch dialect {
	case dialectSMB1:
		err = s.smb1Logoff()
	case dialectSMB2:
		err = s.smb2Logoff()
	}

	s.mu.Lock()
	s.state = stateConnected
	s.mu.Unlock()
	return err
}

// TreeConnect attaches to share (spec.md §4.G/§4.H "TreeConnect") and
// returns a FileStore bound to the resulting tree.
func (s *Session) TreeConnect(share string) (FileStore, error) {
	s.mu.Lock()
	dialect := s.caps.dialect
	loggedIn := s.state == stateLoggedIn
	s.mu.Unlock()
	if !loggedIn {
		return nil, ErrNotLoggedIn
	}

	switch dialect {
	case dialectSMB1:
		return s.smb1TreeConnect(share)
	case dialectSMB2:
		return s.smb2TreeConnect(share)
	default:
		return nil, fmt.Errorf("smb: TreeConnect called before a dialect was negotiated")
	}
}

// ListShares enumerates disk shares, administrative $-suffixed ones
// included, via NetrShareEnum over the
// IPC$ \PIPE\srvsvc named pipe (spec.md's supplemented Server Service
// helper, SPEC_FULL.md §7).
func (s *Session) ListShares() ([]string, error) {
	fs, err := s.TreeConnect("IPC$")
	if err != nil {
		return nil, fmt.Errorf("smb: ListShares: connecting IPC$: %w", err)
	}
	defer fs.TreeDisconnect()

	names, err := s.listSharesOverPipe(fs)
	if err != nil {
		return nil, fmt.Errorf("smb: ListShares: %w", err)
	}
	return names, nil
}

// Disconnect tears down the background reader and closes the transport,
// safe to call from any state (spec.md §5 "Resource lifecycle").
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateDisconnected {
		return nil
	}
	s.state = stateDisconnected
	if s.t != nil {
		return s.t.close()
	}
	return nil
}

// IsSigningSupported reports the server's negotiated signing capability.
func (s *Session) IsSigningSupported() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps.signingSupported
}

// IsSigningRequired reports whether the server mandates message signing.
func (s *Session) IsSigningRequired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps.signingRequired
}

// IsAuthenticated reports whether Login has completed successfully.
func (s *Session) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateLoggedIn
}

// AuthUsername returns the identity Login authenticated as.
func (s *Session) AuthUsername() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.authDomain == "" {
		return s.authUser
	}
	return s.authDomain + "\\" + s.authUser
}
