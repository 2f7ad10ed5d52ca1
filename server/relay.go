package main

import (
	"context"
	"log"
	"net"

	"github.com/SHJony121/Networking/internal/protocol"
)

// maxDatagramSize is the receive buffer for one UDP datagram.
const maxDatagramSize = 65535

// datagramWriter is the minimal interface the relay needs to reflect a
// datagram. Using an interface here lets tests inject a mock writer.
type datagramWriter interface {
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
}

// Relay is the UDP media relay: one receive loop that classifies each
// datagram and fans it out inline to the sender's meeting-mates. Spawning a
// worker per packet would be an allocation and latency hazard at media
// rates, so fan-out happens on the receive goroutine.
type Relay struct {
	reg    *Registry
	conn   *net.UDPConn
	writer datagramWriter
}

func NewRelay(reg *Registry, conn *net.UDPConn) *Relay {
	return &Relay{reg: reg, conn: conn, writer: conn}
}

// Run reads datagrams until ctx is cancelled. Closing the socket unblocks
// the read; cancellation is checked on every error.
func (r *Relay) Run(ctx context.Context) {
	log.Printf("[relay] listening on %s", r.conn.LocalAddr())
	buf := make([]byte, maxDatagramSize)
	for {
		n, src, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[relay] read: %v", err)
			continue
		}
		r.handleDatagram(buf[:n], src)
	}
}

// handleDatagram classifies one datagram by payload-length validation and
// reflects it to every registered matching-kind endpoint in the sender's
// meeting, excluding the sender. Nothing is queued: a failed send drops the
// datagram for that recipient only.
func (r *Relay) handleDatagram(data []byte, src *net.UDPAddr) {
	var video bool
	if _, _, ok := protocol.ClassifyVideo(data); ok {
		video = true
	} else if _, _, ok := protocol.ClassifyAudio(data); !ok {
		r.reg.droppedDatagrams.Add(1)
		return // matches neither header layout
	}

	targets, ok := r.reg.RelayTargets(src, video)
	if !ok {
		// No registered client matches the source address, so the meeting
		// is unknown and the datagram cannot be scoped.
		r.reg.droppedDatagrams.Add(1)
		return
	}

	r.reg.totalDatagrams.Add(1)
	r.reg.totalBytes.Add(uint64(len(data)))

	for _, t := range targets {
		if t.client.health.shouldSkip() {
			continue
		}
		if _, err := r.writer.WriteToUDP(data, t.addr); err != nil {
			n := t.client.health.recordFailure()
			if n == circuitBreakerThreshold {
				log.Printf("[relay] circuit breaker open for %q (%s) — %d consecutive send failures",
					t.client.name, t.addr, n)
			}
		} else if t.client.health.failures.Load() > 0 {
			if t.client.health.recordSuccess() {
				log.Printf("[relay] circuit breaker closed for %q — send recovered", t.client.name)
			}
		}
	}
}
