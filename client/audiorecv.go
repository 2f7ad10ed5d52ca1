package main

import (
	"log"
	"net"
	"sync"
	"time"

	"github.com/SHJony121/Networking/client/internal/media"
	"github.com/SHJony121/Networking/client/internal/rtcstats"
	"github.com/SHJony121/Networking/internal/protocol"
)

// playbackQueueDepth bounds the chunk queue between the receive loop and
// the playback loop; overflow drops the incoming chunk.
const playbackQueueDepth = 50

// AudioReceiver binds an OS-assigned UDP port, parses audio datagrams into
// a bounded playback queue, and feeds the audio sink from its own loop —
// playing silence when the queue runs dry so the output stream never
// underflows.
type AudioReceiver struct {
	conn    *net.UDPConn
	sink    media.AudioSink // optional
	tracker *rtcstats.Tracker

	queue chan []int16

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewAudioReceiver(sink media.AudioSink) (*AudioReceiver, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, err
	}
	return &AudioReceiver{
		conn:    conn,
		sink:    sink,
		tracker: rtcstats.NewTracker(),
		queue:   make(chan []int16, playbackQueueDepth),
		stop:    make(chan struct{}),
	}, nil
}

// Port returns the bound local port, reported via REGISTER_UDP.
func (r *AudioReceiver) Port() int {
	return r.conn.LocalAddr().(*net.UDPAddr).Port
}

// Stats exposes the receiver's accounting for the stats loop.
func (r *AudioReceiver) Stats() rtcstats.Stats {
	return r.tracker.Snapshot()
}

// QueueDepth returns the current playback queue fill.
func (r *AudioReceiver) QueueDepth() int { return len(r.queue) }

func (r *AudioReceiver) Start() {
	r.wg.Add(1)
	go r.receiveLoop()
	if r.sink != nil {
		r.wg.Add(1)
		go r.playLoop()
	}
}

func (r *AudioReceiver) Stop() {
	close(r.stop)
	r.conn.Close()
	r.wg.Wait()
}

func (r *AudioReceiver) receiveLoop() {
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
				log.Printf("[audio] receive: %v", err)
			}
			return
		}
		r.processDatagram(buf[:n], src)
	}
}

func (r *AudioReceiver) processDatagram(data []byte, src *net.UDPAddr) {
	h, payload, ok := protocol.ClassifyAudio(data)
	if !ok {
		return // malformed datagram, dropped
	}
	r.tracker.Record(src.String(), h.AudioID, time.Now(), len(data))

	select {
	case r.queue <- bytesToPCM(payload):
	default:
		// Queue full: the playback side is behind, drop the chunk.
	}
}

func (r *AudioReceiver) playLoop() {
	defer r.wg.Done()
	silence := make([]int16, media.ChunkSamples*media.Channels)
	for {
		select {
		case <-r.stop:
			return
		case pcm := <-r.queue:
			if err := r.sink.PlayChunk(pcm); err != nil {
				log.Printf("[audio] playback: %v", err)
			}
		case <-time.After(chunkPeriod):
			// Nothing queued for a full chunk period: fill with silence to
			// keep the output stream fed.
			if err := r.sink.PlayChunk(silence); err != nil {
				log.Printf("[audio] playback: %v", err)
			}
		}
	}
}
