package main

import (
	"net"
	"testing"
	"time"

	"github.com/SHJony121/Networking/client/internal/media"
	"github.com/SHJony121/Networking/internal/protocol"
)

func jpegDatagram(t *testing.T, seq uint32) []byte {
	t.Helper()
	payload, err := (media.JPEGCodec{}).Encode(newStillSource().img, 64, 36, 60)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	h := protocol.VideoHeader{
		FrameID:     seq,
		Timestamp:   uint64(time.Now().UnixMicro()),
		SequenceNum: seq,
		Width:       64,
		Height:      36,
		PayloadSize: int32(len(payload)),
	}
	return append(protocol.MarshalVideoHeader(nil, &h), payload...)
}

func TestVideoReceiverStoresLatestFramePerSender(t *testing.T) {
	vr, err := NewVideoReceiver(media.JPEGCodec{}, nil)
	if err != nil {
		t.Fatalf("NewVideoReceiver: %v", err)
	}
	defer vr.conn.Close()

	srcA := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 7000}
	srcB := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 7000}
	vr.processDatagram(jpegDatagram(t, 0), srcA)
	vr.processDatagram(jpegDatagram(t, 0), srcB)
	vr.processDatagram(jpegDatagram(t, 1), srcA)

	frames := vr.Frames()
	if len(frames) != 2 {
		t.Fatalf("senders in store: %d, want 2", len(frames))
	}
	if vr.Frame(srcA.String()) == nil || vr.Frame(srcB.String()) == nil {
		t.Fatal("missing frames")
	}
}

func TestVideoReceiverFailedDecodeKeepsStore(t *testing.T) {
	vr, err := NewVideoReceiver(media.JPEGCodec{}, nil)
	if err != nil {
		t.Fatalf("NewVideoReceiver: %v", err)
	}
	defer vr.conn.Close()

	src := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 7000}
	vr.processDatagram(jpegDatagram(t, 0), src)
	good := vr.Frame(src.String())
	if good == nil {
		t.Fatal("first frame missing")
	}

	// Valid header, garbage payload: stats advance, store untouched.
	garbage := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	h := protocol.VideoHeader{SequenceNum: 1, PayloadSize: int32(len(garbage))}
	vr.processDatagram(append(protocol.MarshalVideoHeader(nil, &h), garbage...), src)

	if vr.Frame(src.String()) != good {
		t.Fatal("failed decode disturbed the frame store")
	}
	if vr.Stats().Received != 2 {
		t.Fatalf("received %d, want 2", vr.Stats().Received)
	}
}

func TestVideoReceiverLossAccounting(t *testing.T) {
	vr, err := NewVideoReceiver(media.JPEGCodec{}, nil)
	if err != nil {
		t.Fatalf("NewVideoReceiver: %v", err)
	}
	defer vr.conn.Close()

	src := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 7000}
	vr.processDatagram(jpegDatagram(t, 0), src)
	vr.processDatagram(jpegDatagram(t, 4), src) // 1,2,3 lost

	if got := vr.Stats().Lost; got != 3 {
		t.Fatalf("lost %d, want 3", got)
	}
}

func TestVideoReceiverEndToEndOverLoopback(t *testing.T) {
	sink := newCollectSink()
	vr, err := NewVideoReceiver(media.JPEGCodec{}, sink)
	if err != nil {
		t.Fatalf("NewVideoReceiver: %v", err)
	}
	vr.Start()
	defer vr.Stop()

	out, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: vr.Port()})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer out.Close()

	for i := uint32(0); i < 3; i++ {
		if _, err := out.Write(jpegDatagram(t, i)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	for vr.Stats().Received < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("received %d datagrams, want 3", vr.Stats().Received)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(vr.Frames()) != 1 {
		t.Fatalf("frame store has %d senders, want 1", len(vr.Frames()))
	}
}
