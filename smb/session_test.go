package smb

import "testing"

func TestNewSessionDefaultsPortByTransport(t *testing.T) {
	s := NewSession(Options{Host: "10.0.0.1", Transport: DirectTCP})
	if s.opts.Port != PortDirectTCP {
		t.Errorf("Port = %d, want %d", s.opts.Port, PortDirectTCP)
	}

	s = NewSession(Options{Host: "10.0.0.1", Transport: NetBIOS})
	if s.opts.Port != PortNetBIOS {
		t.Errorf("Port = %d, want %d", s.opts.Port, PortNetBIOS)
	}
}

func TestNewSessionExplicitPortNotOverridden(t *testing.T) {
	s := NewSession(Options{Host: "10.0.0.1", Port: 4455, Transport: DirectTCP})
	if s.opts.Port != 4455 {
		t.Errorf("Port = %d, want 4455", s.opts.Port)
	}
}

func TestNewSessionStartsDisconnectedAndUnauthenticated(t *testing.T) {
	s := NewSession(Options{Host: "10.0.0.1"})
	if s.IsAuthenticated() {
		t.Error("a fresh session reports authenticated")
	}
	if s.state != stateDisconnected {
		t.Errorf("state = %v, want stateDisconnected", s.state)
	}
}

func TestLoginBeforeNegotiateFails(t *testing.T) {
	s := NewSession(Options{Host: "10.0.0.1"})
	if err := s.Login(NTLMv2, "", "user", "pass"); err == nil {
		t.Fatal("expected an error logging in before a dialect was negotiated")
	}
}

func TestLogoffWithoutLoginFails(t *testing.T) {
	s := NewSession(Options{Host: "10.0.0.1"})
	if err := s.Logoff(); err != ErrNotLoggedIn {
		t.Errorf("Logoff() = %v, want %v", err, ErrNotLoggedIn)
	}
}

func TestTreeConnectWithoutLoginFails(t *testing.T) {
	s := NewSession(Options{Host: "10.0.0.1"})
	if _, err := s.TreeConnect("IPC$"); err != ErrNotLoggedIn {
		t.Errorf("TreeConnect() = %v, want %v", err, ErrNotLoggedIn)
	}
}

func TestDisconnectWithoutConnectIsNoop(t *testing.T) {
	s := NewSession(Options{Host: "10.0.0.1"})
	if err := s.Disconnect(); err != nil {
		t.Errorf("Disconnect() = %v, want nil", err)
	}
}

func TestAuthUsernameFormatsDomain(t *testing.T) {
	s := NewSession(Options{Host: "10.0.0.1"})
	s.authUser = "alice"

	if got := s.AuthUsername(); got != "alice" {
		t.Errorf("AuthUsername() = %q, want %q", got, "alice")
	}

	s.authDomain = "CORP"
	if got := s.AuthUsername(); got != `CORP\alice` {
		t.Errorf(`AuthUsername() = %q, want "CORP\\alice"`, got)
	}
}
