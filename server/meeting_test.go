package main

import (
	"net"
	"regexp"
	"testing"
	"time"
)

// stubAddr is a fixed net.Addr for stub connections.
type stubAddr struct{ s string }

func (a stubAddr) Network() string { return "tcp" }
func (a stubAddr) String() string  { return a.s }

// stubConn implements net.Conn for registry tests; writes are discarded.
type stubConn struct {
	addr stubAddr
}

func (s *stubConn) Read(b []byte) (int, error)         { return 0, nil }
func (s *stubConn) Write(b []byte) (int, error)        { return len(b), nil }
func (s *stubConn) Close() error                       { return nil }
func (s *stubConn) LocalAddr() net.Addr                { return s.addr }
func (s *stubConn) RemoteAddr() net.Addr               { return s.addr }
func (s *stubConn) SetDeadline(t time.Time) error      { return nil }
func (s *stubConn) SetReadDeadline(t time.Time) error  { return nil }
func (s *stubConn) SetWriteDeadline(t time.Time) error { return nil }

func newStubClient(t *testing.T, reg *Registry, addr string) *Client {
	t.Helper()
	c := newClient(&stubConn{addr: stubAddr{addr}}, 100)
	reg.Register(c)
	return c
}

func TestCreateMeetingCodeFormat(t *testing.T) {
	reg := NewRegistry()
	host := newStubClient(t, reg, "10.0.0.1:1000")

	code, err := reg.CreateMeeting(host, "H")
	if err != nil {
		t.Fatalf("CreateMeeting: %v", err)
	}
	if !regexp.MustCompile(`^\d{6}$`).MatchString(code) {
		t.Fatalf("code %q is not six decimal digits", code)
	}

	// The host is always a participant of its live meeting.
	parts := reg.ParticipantsOf(code)
	if len(parts) != 1 || parts[0] != host {
		t.Fatalf("host not sole participant: %v", parts)
	}
	if reg.HostOf(code) != host {
		t.Fatal("HostOf mismatch")
	}
}

func TestCreateMeetingTwiceFails(t *testing.T) {
	reg := NewRegistry()
	host := newStubClient(t, reg, "10.0.0.1:1000")
	if _, err := reg.CreateMeeting(host, "H"); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := reg.CreateMeeting(host, "H"); err != errAlreadyInMeeting {
		t.Fatalf("second create: got %v, want errAlreadyInMeeting", err)
	}
}

func TestJoinApprovalFlow(t *testing.T) {
	reg := NewRegistry()
	host := newStubClient(t, reg, "10.0.0.1:1000")
	guest := newStubClient(t, reg, "10.0.0.2:1000")

	code, _ := reg.CreateMeeting(host, "H")

	gotHost, nameTaken, err := reg.RequestJoin(guest, code, "G")
	if err != nil {
		t.Fatalf("RequestJoin: %v", err)
	}
	if gotHost != host {
		t.Fatal("RequestJoin did not return the host")
	}
	if nameTaken {
		t.Fatal("name G should not collide")
	}
	if w := reg.WaitingOf(code); len(w) != 1 || w[0] != guest {
		t.Fatalf("waiting room: %v", w)
	}

	admitted, parts, err := reg.AllowJoin(host, "G")
	if err != nil {
		t.Fatalf("AllowJoin: %v", err)
	}
	if admitted != guest {
		t.Fatal("AllowJoin promoted the wrong client")
	}
	if len(parts) != 2 {
		t.Fatalf("participants after allow: %d", len(parts))
	}
	if len(reg.WaitingOf(code)) != 0 {
		t.Fatal("waiting room not drained")
	}
}

func TestRequestJoinUnknownCode(t *testing.T) {
	reg := NewRegistry()
	guest := newStubClient(t, reg, "10.0.0.2:1000")
	if _, _, err := reg.RequestJoin(guest, "000000", "G"); err != errMeetingNotFound {
		t.Fatalf("got %v, want errMeetingNotFound", err)
	}
	// Failed join leaves the client unassigned.
	if guest.meetingCode != "" {
		t.Fatalf("guest bound to %q after failed join", guest.meetingCode)
	}
}

func TestDenyJoinLeavesSocketUnassigned(t *testing.T) {
	reg := NewRegistry()
	host := newStubClient(t, reg, "10.0.0.1:1000")
	guest := newStubClient(t, reg, "10.0.0.2:1000")

	code, _ := reg.CreateMeeting(host, "H")
	reg.RequestJoin(guest, code, "G")

	denied, err := reg.DenyJoin(host, "G")
	if err != nil {
		t.Fatalf("DenyJoin: %v", err)
	}
	if denied != guest {
		t.Fatal("denied the wrong client")
	}
	if guest.meetingCode != "" || guest.waiting {
		t.Fatal("denied client still bound to the meeting")
	}
	if reg.Lookup(guest.conn) == nil {
		t.Fatal("denied client's connection record was dropped")
	}
	if len(reg.WaitingOf(code)) != 0 {
		t.Fatal("waiting room not drained after deny")
	}
}

func TestAllowJoinRequiresHost(t *testing.T) {
	reg := NewRegistry()
	host := newStubClient(t, reg, "10.0.0.1:1000")
	guest := newStubClient(t, reg, "10.0.0.2:1000")
	other := newStubClient(t, reg, "10.0.0.3:1000")

	code, _ := reg.CreateMeeting(host, "H")
	reg.RequestJoin(guest, code, "G")
	reg.RequestJoin(other, code, "O")
	reg.AllowJoin(host, "O")

	if _, _, err := reg.AllowJoin(other, "G"); err != errNotHost {
		t.Fatalf("non-host allow: got %v, want errNotHost", err)
	}
}

func TestRequestJoinDuplicateNameWarns(t *testing.T) {
	reg := NewRegistry()
	host := newStubClient(t, reg, "10.0.0.1:1000")
	guest := newStubClient(t, reg, "10.0.0.2:1000")

	code, _ := reg.CreateMeeting(host, "H")
	_, nameTaken, err := reg.RequestJoin(guest, code, "H")
	if err != nil {
		t.Fatalf("RequestJoin: %v", err)
	}
	if !nameTaken {
		t.Fatal("expected duplicate display name to be flagged")
	}
}

func TestHostLeaveClosesMeeting(t *testing.T) {
	reg := NewRegistry()
	host := newStubClient(t, reg, "10.0.0.1:1000")
	g1 := newStubClient(t, reg, "10.0.0.2:1000")
	g2 := newStubClient(t, reg, "10.0.0.3:1000")

	code, _ := reg.CreateMeeting(host, "H")
	reg.RequestJoin(g1, code, "A")
	reg.AllowJoin(host, "A")
	reg.RequestJoin(g2, code, "B")
	reg.AllowJoin(host, "B")

	res := reg.Leave(host.conn)
	if !res.WasHost || !res.Closed {
		t.Fatalf("host leave: %+v", res)
	}
	if len(res.Remaining) != 2 {
		t.Fatalf("remaining after host leave: %d", len(res.Remaining))
	}
	if reg.ParticipantsOf(code) != nil {
		t.Fatal("meeting survived host departure")
	}
	// Destruction cascades: remaining members are unassigned but connected.
	for _, g := range []*Client{g1, g2} {
		if g.meetingCode != "" {
			t.Fatalf("guest still bound to %q", g.meetingCode)
		}
		if reg.Lookup(g.conn) == nil {
			t.Fatal("guest connection record dropped")
		}
	}
	// Their subsequent chat is rejected: not a member anymore.
	if _, ok := reg.Member(g1.conn); ok {
		t.Fatal("expelled guest still counted as a member")
	}
}

func TestMeetingDestroyedWhenParticipantSetDrains(t *testing.T) {
	reg := NewRegistry()
	host := newStubClient(t, reg, "10.0.0.1:1000")
	guest := newStubClient(t, reg, "10.0.0.2:1000")

	code, _ := reg.CreateMeeting(host, "H")
	reg.RequestJoin(guest, code, "G")
	reg.AllowJoin(host, "G")

	// The host stays in the participant set for the meeting's whole life, so
	// the set drains only when the host leaves last. The last guest leaving
	// keeps the meeting alive; the host leaving after it empties and closes it.
	res := reg.Leave(guest.conn)
	if res.Closed {
		t.Fatal("meeting closed while the host remained")
	}
	res = reg.Leave(host.conn)
	if !res.Closed {
		t.Fatal("meeting must be destroyed when the participant set drains")
	}
	if reg.MeetingCount() != 0 {
		t.Fatalf("meetings left: %d", reg.MeetingCount())
	}
}

func TestLeaveWhileWaiting(t *testing.T) {
	reg := NewRegistry()
	host := newStubClient(t, reg, "10.0.0.1:1000")
	guest := newStubClient(t, reg, "10.0.0.2:1000")

	code, _ := reg.CreateMeeting(host, "H")
	reg.RequestJoin(guest, code, "G")

	res := reg.Leave(guest.conn)
	if res.WasMember {
		t.Fatal("waiting client reported as member")
	}
	if len(reg.WaitingOf(code)) != 0 {
		t.Fatal("waiting room not drained")
	}
}

func TestRegisterUDPIdempotent(t *testing.T) {
	reg := NewRegistry()
	host := newStubClient(t, reg, "10.0.0.1:47000")
	reg.CreateMeeting(host, "H")

	for i := 0; i < 2; i++ {
		if err := reg.RegisterUDP(host.conn, 6000, 6001); err != nil {
			t.Fatalf("RegisterUDP #%d: %v", i+1, err)
		}
	}
	if host.videoAddr == nil || host.audioAddr == nil {
		t.Fatal("endpoints not bound")
	}
	if host.videoAddr.Port != 6000 || host.audioAddr.Port != 6001 {
		t.Fatalf("ports: video=%d audio=%d", host.videoAddr.Port, host.audioAddr.Port)
	}
	if got := host.videoAddr.IP.String(); got != "10.0.0.1" {
		t.Fatalf("endpoint IP %s, want control peer IP 10.0.0.1", got)
	}
}

func TestRelayTargetsExcludesSenderAndNilEndpoints(t *testing.T) {
	reg := NewRegistry()
	host := newStubClient(t, reg, "10.0.0.1:1000")
	g1 := newStubClient(t, reg, "10.0.0.2:1000")
	g2 := newStubClient(t, reg, "10.0.0.3:1000")

	code, _ := reg.CreateMeeting(host, "H")
	reg.RequestJoin(g1, code, "A")
	reg.AllowJoin(host, "A")
	reg.RequestJoin(g2, code, "B")
	reg.AllowJoin(host, "B")

	reg.RegisterUDP(host.conn, 6000, 6001)
	reg.RegisterUDP(g1.conn, 7000, 7001)
	// g2 never registers: it must not receive anything.

	// Host sends video from an ephemeral port near its registered one.
	src := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 6004}
	targets, ok := reg.RelayTargets(src, true)
	if !ok {
		t.Fatal("sender not identified")
	}
	if len(targets) != 1 {
		t.Fatalf("targets: %d, want 1", len(targets))
	}
	if targets[0].client != g1 || targets[0].addr.Port != 7000 {
		t.Fatalf("wrong target %+v", targets[0])
	}

	// Audio picks the audio endpoint.
	targets, _ = reg.RelayTargets(src, false)
	if len(targets) != 1 || targets[0].addr.Port != 7001 {
		t.Fatalf("audio targets: %+v", targets)
	}
}

func TestRelayTargetsUnknownSenderDropped(t *testing.T) {
	reg := NewRegistry()
	host := newStubClient(t, reg, "10.0.0.1:1000")
	reg.CreateMeeting(host, "H")
	reg.RegisterUDP(host.conn, 6000, 6001)

	// Unknown IP: no client matches, datagram must be dropped.
	if _, ok := reg.RelayTargets(&net.UDPAddr{IP: net.ParseIP("192.168.9.9"), Port: 6000}, true); ok {
		t.Fatal("identified a sender for an unknown IP")
	}
	// Same IP but a far-away port is outside the proximity heuristic.
	if _, ok := reg.RelayTargets(&net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 50000}, true); ok {
		t.Fatal("identified a sender beyond the port slack")
	}
}

func TestFileSenderRouting(t *testing.T) {
	reg := NewRegistry()
	host := newStubClient(t, reg, "10.0.0.1:1000")
	guest := newStubClient(t, reg, "10.0.0.2:1000")

	code, _ := reg.CreateMeeting(host, "H")
	reg.RequestJoin(guest, code, "G")
	reg.AllowJoin(host, "G")

	reg.SetFileSender(host)
	if got := reg.FileSender(guest.conn); got != host {
		t.Fatalf("FileSender: got %v, want host", got)
	}
}
