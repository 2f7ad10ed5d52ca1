package main

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/SHJony121/Networking/client/internal/media"
	"github.com/SHJony121/Networking/internal/protocol"
)

func TestPCMBytesRoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768, 12345, -12345}
	out := bytesToPCM(pcmToBytes(in))
	if len(out) != len(in) {
		t.Fatalf("length %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("sample %d: got %d, want %d", i, out[i], in[i])
		}
	}
}

// toneSource yields a fixed ramp chunk.
type toneSource struct{}

func (toneSource) ReadChunk(buf []int16) error {
	for i := range buf {
		buf[i] = int16(i % 256)
	}
	return nil
}
func (toneSource) Close() error { return nil }

// collectAudioSink records played chunks.
type collectAudioSink struct {
	mu     sync.Mutex
	chunks [][]int16
}

func (c *collectAudioSink) PlayChunk(pcm []int16) error {
	cp := make([]int16, len(pcm))
	copy(cp, pcm)
	c.mu.Lock()
	c.chunks = append(c.chunks, cp)
	c.mu.Unlock()
	return nil
}
func (c *collectAudioSink) Close() error { return nil }

func (c *collectAudioSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.chunks)
}

func TestAudioSenderEmitsValidDatagrams(t *testing.T) {
	sinkConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer sinkConn.Close()

	as := NewAudioSender(newSendSocket(t), sinkConn.LocalAddr().(*net.UDPAddr), toneSource{})
	as.Start()
	defer as.Stop()

	buf := make([]byte, 65535)
	var lastID uint32
	for i := 0; i < 3; i++ {
		sinkConn.SetReadDeadline(time.Now().Add(3 * time.Second))
		n, _, err := sinkConn.ReadFromUDP(buf)
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		h, payload, ok := protocol.ClassifyAudio(buf[:n])
		if !ok {
			t.Fatalf("datagram %d failed classification", i)
		}
		if h.SampleRate != media.SampleRate || h.Channels != media.Channels {
			t.Fatalf("format %d/%d", h.SampleRate, h.Channels)
		}
		if len(payload) != media.ChunkSamples*media.Channels*2 {
			t.Fatalf("payload %d bytes", len(payload))
		}
		if i > 0 && h.AudioID != lastID+1 {
			t.Fatalf("audio id %d after %d", h.AudioID, lastID)
		}
		lastID = h.AudioID
	}
}

func TestAudioSenderMutedEmitsNothing(t *testing.T) {
	sinkConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer sinkConn.Close()

	as := NewAudioSender(newSendSocket(t), sinkConn.LocalAddr().(*net.UDPAddr), toneSource{})
	as.SetEnabled(false)
	as.Start()
	defer as.Stop()

	sinkConn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if n, _, err := sinkConn.ReadFromUDP(make([]byte, 65535)); err == nil {
		t.Fatalf("muted sender emitted %d bytes", n)
	}
}

func TestAudioReceiverQueuesAndPlays(t *testing.T) {
	sink := &collectAudioSink{}
	ar, err := NewAudioReceiver(sink)
	if err != nil {
		t.Fatalf("NewAudioReceiver: %v", err)
	}
	ar.Start()
	defer ar.Stop()

	out, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: ar.Port()})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer out.Close()

	payload := pcmToBytes(make([]int16, media.ChunkSamples))
	for i := uint32(0); i < 3; i++ {
		h := protocol.AudioHeader{
			AudioID:     i,
			SampleRate:  media.SampleRate,
			Channels:    media.Channels,
			PayloadSize: int32(len(payload)),
		}
		if _, err := out.Write(append(protocol.MarshalAudioHeader(nil, &h), payload...)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	for ar.Stats().Received < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("received %d, want 3", ar.Stats().Received)
		}
		time.Sleep(10 * time.Millisecond)
	}
	// Playback drains the queue (and may pad silence in between).
	deadline = time.Now().Add(3 * time.Second)
	for sink.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("nothing played")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAudioReceiverQueueBounded(t *testing.T) {
	// No sink: nothing drains the queue.
	ar, err := NewAudioReceiver(nil)
	if err != nil {
		t.Fatalf("NewAudioReceiver: %v", err)
	}
	defer ar.conn.Close()

	payload := pcmToBytes(make([]int16, 8))
	src := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 7001}
	for i := uint32(0); i < playbackQueueDepth*2; i++ {
		h := protocol.AudioHeader{AudioID: i, SampleRate: media.SampleRate, Channels: 1, PayloadSize: int32(len(payload))}
		ar.processDatagram(append(protocol.MarshalAudioHeader(nil, &h), payload...), src)
	}
	if got := ar.QueueDepth(); got != playbackQueueDepth {
		t.Fatalf("queue depth %d, want bounded at %d", got, playbackQueueDepth)
	}
	if got := ar.Stats().Received; got != playbackQueueDepth*2 {
		t.Fatalf("received %d, want all datagrams counted", got)
	}
}
