package main

import (
	"log"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SHJony121/Networking/client/internal/media"
	"github.com/SHJony121/Networking/internal/protocol"
)

// VideoSender runs the capture → resize/encode → packetize → send pipeline.
// The frame source can be swapped at runtime (camera vs screen capture);
// the rest of the pipeline is agnostic.
type VideoSender struct {
	dest    *net.UDPAddr
	conn    *net.UDPConn // shared transient send socket
	encoder media.Encoder
	preview media.FrameSink // optional; receives the uncompressed local copy

	mu     sync.Mutex
	source media.FrameSource

	quality   atomic.Pointer[media.Quality]
	enabled   atomic.Bool
	dropRate  float64 // [0,1] simulated loss at the source, fixed at start
	frameID   uint32  // touched only by the send loop; wraps mod 2^32
	seq       uint32
	bytesSent  atomic.Uint64
	framesSent atomic.Uint64

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewVideoSender wires the pipeline. dropRate is the simulated-loss
// probability in [0, 1]; conn is the shared media send socket.
func NewVideoSender(conn *net.UDPConn, dest *net.UDPAddr, source media.FrameSource, encoder media.Encoder, preview media.FrameSink, dropRate float64) *VideoSender {
	s := &VideoSender{
		dest:     dest,
		conn:     conn,
		encoder:  encoder,
		preview:  preview,
		source:   source,
		dropRate: dropRate,
		stop:     make(chan struct{}),
	}
	q := media.QualityByName("360p")
	s.quality.Store(&q)
	s.enabled.Store(true)
	return s
}

// SetEnabled toggles frame transmission; a disabled sender idles at the
// frame interval and emits nothing.
func (s *VideoSender) SetEnabled(enabled bool) {
	s.enabled.Store(enabled)
}

// SetQuality switches the active tier. Takes effect on the next frame.
func (s *VideoSender) SetQuality(q media.Quality) {
	s.quality.Store(&q)
	log.Printf("[video] quality set to %s (%dx%d @%dfps q%d)", q.Name, q.Width, q.Height, q.FPS, q.JPEGQuality)
}

// Quality returns the active tier.
func (s *VideoSender) Quality() media.Quality {
	return *s.quality.Load()
}

// SetSource swaps the frame source (e.g. camera → screen capture). The old
// source is returned so the caller can close it.
func (s *VideoSender) SetSource(src media.FrameSource) media.FrameSource {
	s.mu.Lock()
	old := s.source
	s.source = src
	s.mu.Unlock()
	return old
}

// BytesSent returns the cumulative bytes handed to the socket.
func (s *VideoSender) BytesSent() uint64 { return s.bytesSent.Load() }

// FramesSent returns the cumulative frames sent.
func (s *VideoSender) FramesSent() uint64 { return s.framesSent.Load() }

// Start launches the capture loop.
func (s *VideoSender) Start() {
	s.wg.Add(1)
	go s.sendLoop()
}

// Stop ends the loop and waits for it.
func (s *VideoSender) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *VideoSender) sendLoop() {
	defer s.wg.Done()
	for {
		q := *s.quality.Load()
		interval := time.Second / time.Duration(q.FPS)
		start := time.Now()

		if s.enabled.Load() {
			if err := s.captureAndSend(q); err != nil {
				log.Printf("[video] frame: %v", err)
			}
		}

		// Pace to the tier's frame interval.
		sleep := interval - time.Since(start)
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-s.stop:
			return
		case <-time.After(sleep):
		}
	}
}

func (s *VideoSender) captureAndSend(q media.Quality) error {
	s.mu.Lock()
	source := s.source
	s.mu.Unlock()
	if source == nil {
		return nil
	}

	frame, err := source.ReadFrame()
	if err != nil {
		return err
	}
	if s.preview != nil {
		s.preview.DisplayFrame("self", frame)
	}

	payload, err := s.encoder.Encode(frame, q.Width, q.Height, q.JPEGQuality)
	if err != nil {
		return err
	}

	h := protocol.VideoHeader{
		FrameID:     s.frameID,
		Timestamp:   uint64(time.Now().UnixMicro()),
		SequenceNum: s.seq,
		Width:       uint16(q.Width),
		Height:      uint16(q.Height),
		PayloadSize: int32(len(payload)),
	}
	packet := append(protocol.MarshalVideoHeader(make([]byte, 0, protocol.VideoHeaderSize+len(payload)), &h), payload...)

	// Counters advance whether or not the loss hook fires, like a real
	// lossy link: the packet was produced, the network ate it.
	s.frameID++ // wraps mod 2^32 by uint32 arithmetic
	s.seq++
	s.framesSent.Add(1)
	s.bytesSent.Add(uint64(len(packet)))

	if s.dropRate > 0 && rand.Float64() < s.dropRate {
		return nil // simulated loss: silently dropped at the source
	}
	if _, err := s.conn.WriteToUDP(packet, s.dest); err != nil {
		return err
	}
	return nil
}
