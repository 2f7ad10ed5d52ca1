package main

import (
	"image"
	"log"
	"net"
	"sync"
	"time"

	"github.com/SHJony121/Networking/client/internal/media"
	"github.com/SHJony121/Networking/client/internal/rtcstats"
	"github.com/SHJony121/Networking/internal/protocol"
)

// recvPollTimeout is the read deadline on media sockets so the loops can
// check for cancellation between datagrams.
const recvPollTimeout = 100 * time.Millisecond

// VideoReceiver binds an OS-assigned UDP port, parses incoming video
// datagrams, keeps per-sender statistics and stores the newest decoded frame
// per source address. Playback is "display whatever is newest" — no
// buffering.
type VideoReceiver struct {
	conn    *net.UDPConn
	decoder media.Decoder
	sink    media.FrameSink // optional
	tracker *rtcstats.Tracker

	mu     sync.Mutex
	frames map[string]image.Image // newest decoded frame per source address

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewVideoReceiver binds the receive socket on an ephemeral port.
func NewVideoReceiver(decoder media.Decoder, sink media.FrameSink) (*VideoReceiver, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, err
	}
	return &VideoReceiver{
		conn:    conn,
		decoder: decoder,
		sink:    sink,
		tracker: rtcstats.NewTracker(),
		frames:  make(map[string]image.Image),
		stop:    make(chan struct{}),
	}, nil
}

// Port returns the bound local port, reported to the server via REGISTER_UDP.
func (r *VideoReceiver) Port() int {
	return r.conn.LocalAddr().(*net.UDPAddr).Port
}

// Stats exposes the receiver's accounting for the stats loop.
func (r *VideoReceiver) Stats() rtcstats.Stats {
	return r.tracker.Snapshot()
}

// Frame returns the newest decoded frame from sender, or nil.
func (r *VideoReceiver) Frame(sender string) image.Image {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames[sender]
}

// Frames returns a snapshot of the newest frame per sender.
func (r *VideoReceiver) Frames() map[string]image.Image {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]image.Image, len(r.frames))
	for k, v := range r.frames {
		out[k] = v
	}
	return out
}

func (r *VideoReceiver) Start() {
	r.wg.Add(1)
	go r.receiveLoop()
}

func (r *VideoReceiver) Stop() {
	close(r.stop)
	r.conn.Close()
	r.wg.Wait()
}

func (r *VideoReceiver) receiveLoop() {
	defer r.wg.Done()
	buf := make([]byte, 65535)
	for {
		select {
		case <-r.stop:
			return
		default:
		}
		r.conn.SetReadDeadline(time.Now().Add(recvPollTimeout))
		n, src, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-r.stop:
			default:
				log.Printf("[video] receive: %v", err)
			}
			return
		}
		r.processDatagram(buf[:n], src)
	}
}

func (r *VideoReceiver) processDatagram(data []byte, src *net.UDPAddr) {
	h, payload, ok := protocol.ClassifyVideo(data)
	if !ok {
		return // malformed datagram, dropped
	}
	sender := src.String()
	r.tracker.Record(sender, h.SequenceNum, time.Now(), len(data))

	img, err := r.decoder.Decode(payload)
	if err != nil {
		// A failed decode never disturbs the frame store.
		return
	}
	r.mu.Lock()
	r.frames[sender] = img
	r.mu.Unlock()
	r.tracker.RecordFrame(time.Now())

	if r.sink != nil {
		r.sink.DisplayFrame(sender, img)
	}
}
