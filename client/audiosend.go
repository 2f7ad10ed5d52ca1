package main

import (
	"encoding/binary"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SHJony121/Networking/client/internal/media"
	"github.com/SHJony121/Networking/internal/protocol"
)

// chunkPeriod is the wall-clock span of one audio chunk.
var chunkPeriod = time.Duration(float64(time.Second) * media.ChunkSamples / media.SampleRate)

// AudioSender reads fixed-size PCM chunks from the audio source and sends
// them as datagrams. A muted sender sleeps for one chunk period per
// iteration and emits nothing.
type AudioSender struct {
	dest   *net.UDPAddr
	conn   *net.UDPConn // shared transient send socket
	source media.AudioSource

	enabled atomic.Bool
	audioID uint32 // touched only by the send loop; wraps mod 2^32

	packetsSent atomic.Uint64
	bytesSent   atomic.Uint64

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewAudioSender(conn *net.UDPConn, dest *net.UDPAddr, source media.AudioSource) *AudioSender {
	s := &AudioSender{dest: dest, conn: conn, source: source, stop: make(chan struct{})}
	s.enabled.Store(true)
	return s
}

// SetEnabled toggles the microphone.
func (s *AudioSender) SetEnabled(enabled bool) {
	s.enabled.Store(enabled)
}

// BytesSent returns cumulative bytes handed to the socket.
func (s *AudioSender) BytesSent() uint64 { return s.bytesSent.Load() }

func (s *AudioSender) Start() {
	s.wg.Add(1)
	go s.sendLoop()
}

func (s *AudioSender) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *AudioSender) sendLoop() {
	defer s.wg.Done()
	pcm := make([]int16, media.ChunkSamples*media.Channels)
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		if !s.enabled.Load() || s.source == nil {
			// Muted: hold the cadence, emit nothing.
			select {
			case <-s.stop:
				return
			case <-time.After(chunkPeriod):
			}
			continue
		}

		// The blocking device read paces the loop at the chunk rate.
		if err := s.source.ReadChunk(pcm); err != nil {
			log.Printf("[audio] capture: %v", err)
			select {
			case <-s.stop:
				return
			case <-time.After(chunkPeriod):
			}
			continue
		}
		s.sendChunk(pcm)
	}
}

func (s *AudioSender) sendChunk(pcm []int16) {
	payload := pcmToBytes(pcm)
	h := protocol.AudioHeader{
		AudioID:     s.audioID,
		Timestamp:   uint64(time.Now().UnixMicro()),
		SampleRate:  media.SampleRate,
		Channels:    media.Channels,
		PayloadSize: int32(len(payload)),
	}
	packet := append(protocol.MarshalAudioHeader(make([]byte, 0, protocol.AudioHeaderSize+len(payload)), &h), payload...)

	s.audioID++ // wraps mod 2^32 by uint32 arithmetic
	s.packetsSent.Add(1)
	s.bytesSent.Add(uint64(len(packet)))

	if _, err := s.conn.WriteToUDP(packet, s.dest); err != nil {
		log.Printf("[audio] send: %v", err)
	}
}

// pcmToBytes serializes samples as 16-bit signed little-endian, the on-wire
// PCM layout.
func pcmToBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// bytesToPCM reverses pcmToBytes; odd trailing bytes are ignored.
func bytesToPCM(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}
