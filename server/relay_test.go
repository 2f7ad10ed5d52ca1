package main

import (
	"bytes"
	"net"
	"sync"
	"testing"

	"github.com/SHJony121/Networking/internal/protocol"
)

// mockWriter records reflected datagrams per destination address.
type mockWriter struct {
	mu   sync.Mutex
	sent map[string][][]byte
	err  error
}

func newMockWriter() *mockWriter {
	return &mockWriter{sent: make(map[string][][]byte)}
}

func (m *mockWriter) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	m.mu.Lock()
	m.sent[addr.String()] = append(m.sent[addr.String()], cp)
	m.mu.Unlock()
	return len(b), nil
}

func (m *mockWriter) datagramsTo(addr string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[addr]
}

func videoDatagram(seq uint32, payload []byte) []byte {
	h := protocol.VideoHeader{
		FrameID:     seq,
		SequenceNum: seq,
		Width:       640,
		Height:      360,
		PayloadSize: int32(len(payload)),
	}
	return append(protocol.MarshalVideoHeader(nil, &h), payload...)
}

func audioDatagram(id uint32, payload []byte) []byte {
	h := protocol.AudioHeader{
		AudioID:     id,
		SampleRate:  44100,
		Channels:    1,
		PayloadSize: int32(len(payload)),
	}
	return append(protocol.MarshalAudioHeader(nil, &h), payload...)
}

// twoPartyMeeting wires a registry with a host and one admitted guest, both
// with registered endpoints.
func twoPartyMeeting(t *testing.T) (*Registry, *Client, *Client) {
	t.Helper()
	reg := NewRegistry()
	host := newStubClient(t, reg, "10.0.0.1:1000")
	guest := newStubClient(t, reg, "10.0.0.2:1000")
	code, _ := reg.CreateMeeting(host, "H")
	reg.RequestJoin(guest, code, "G")
	reg.AllowJoin(host, "G")
	reg.RegisterUDP(host.conn, 6000, 6001)
	reg.RegisterUDP(guest.conn, 7000, 7001)
	return reg, host, guest
}

func TestRelayVideoFanOut(t *testing.T) {
	reg, _, _ := twoPartyMeeting(t)
	w := newMockWriter()
	r := &Relay{reg: reg, writer: w}

	payload := bytes.Repeat([]byte{0xCC}, 200)
	src := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 6002}
	r.handleDatagram(videoDatagram(1, payload), src)

	got := w.datagramsTo("10.0.0.2:7000")
	if len(got) != 1 {
		t.Fatalf("guest video endpoint received %d datagrams, want 1", len(got))
	}
	if !bytes.Equal(got[0], videoDatagram(1, payload)) {
		t.Fatal("relayed datagram was modified")
	}
	// Never reflected back to the sender's endpoints.
	if len(w.datagramsTo("10.0.0.1:6000")) != 0 || len(w.datagramsTo("10.0.0.1:6001")) != 0 {
		t.Fatal("datagram reflected to the sender")
	}
}

func TestRelayAudioUsesAudioEndpoint(t *testing.T) {
	reg, _, _ := twoPartyMeeting(t)
	w := newMockWriter()
	r := &Relay{reg: reg, writer: w}

	src := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 6001}
	r.handleDatagram(audioDatagram(5, make([]byte, 2048)), src)

	if len(w.datagramsTo("10.0.0.2:7001")) != 1 {
		t.Fatal("audio not delivered to the audio endpoint")
	}
	if len(w.datagramsTo("10.0.0.2:7000")) != 0 {
		t.Fatal("audio delivered to the video endpoint")
	}
}

func TestRelayDropsGarbage(t *testing.T) {
	reg, _, _ := twoPartyMeeting(t)
	w := newMockWriter()
	r := &Relay{reg: reg, writer: w}

	src := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 6000}
	// Header/payload-size mismatch: valid video header but truncated payload.
	bad := videoDatagram(1, bytes.Repeat([]byte{1}, 100))
	r.handleDatagram(bad[:len(bad)-3], src)

	if len(w.datagramsTo("10.0.0.2:7000")) != 0 {
		t.Fatal("mismatched datagram relayed")
	}
	if reg.droppedDatagrams.Load() == 0 {
		t.Fatal("drop not counted")
	}
}

func TestRelayDropsUnknownSender(t *testing.T) {
	reg, _, _ := twoPartyMeeting(t)
	w := newMockWriter()
	r := &Relay{reg: reg, writer: w}

	src := &net.UDPAddr{IP: net.ParseIP("172.16.0.9"), Port: 9999}
	r.handleDatagram(videoDatagram(1, make([]byte, 10)), src)

	if len(w.sent) != 0 {
		t.Fatal("unattributable datagram relayed")
	}
}

func TestRelaySkipsUnregisteredEndpoint(t *testing.T) {
	reg := NewRegistry()
	host := newStubClient(t, reg, "10.0.0.1:1000")
	guest := newStubClient(t, reg, "10.0.0.2:1000")
	code, _ := reg.CreateMeeting(host, "H")
	reg.RequestJoin(guest, code, "G")
	reg.AllowJoin(host, "G")
	reg.RegisterUDP(host.conn, 6000, 6001)
	// Guest never sends REGISTER_UDP.

	w := newMockWriter()
	r := &Relay{reg: reg, writer: w}
	src := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 6000}
	r.handleDatagram(videoDatagram(1, make([]byte, 10)), src)

	if len(w.sent) != 0 {
		t.Fatal("relayed to a nil endpoint")
	}
}

func TestRelayCountsTraffic(t *testing.T) {
	reg, _, _ := twoPartyMeeting(t)
	w := newMockWriter()
	r := &Relay{reg: reg, writer: w}

	src := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 6000}
	d := videoDatagram(1, make([]byte, 100))
	r.handleDatagram(d, src)

	datagrams, bytesRelayed, _, _, _ := reg.Stats()
	if datagrams != 1 {
		t.Fatalf("datagram count %d, want 1", datagrams)
	}
	if bytesRelayed != uint64(len(d)) {
		t.Fatalf("byte count %d, want %d", bytesRelayed, len(d))
	}
}
