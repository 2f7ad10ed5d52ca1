package main

import (
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/SHJony121/Networking/internal/protocol"
)

// Circuit breaker constants for media fan-out. After circuitBreakerThreshold
// consecutive failed reflects to a client's endpoint, the breaker opens and
// the relay skips that client. Every circuitBreakerProbeInterval skipped
// sends, one datagram is let through to probe for recovery.
const (
	circuitBreakerThreshold     uint32 = 50
	circuitBreakerProbeInterval uint32 = 25
)

// sendHealth tracks per-client reflect success and implements a lightweight
// circuit breaker so the relay stops wasting effort on unreachable endpoints.
type sendHealth struct {
	failures atomic.Uint32 // consecutive send failures
	skips    atomic.Uint32 // skips since the breaker opened; drives probe cadence
}

// shouldSkip returns true when the breaker is open and it is not yet time
// for a probe attempt.
func (h *sendHealth) shouldSkip() bool {
	if h.failures.Load() < circuitBreakerThreshold {
		return false
	}
	s := h.skips.Add(1)
	return s%circuitBreakerProbeInterval != 0
}

func (h *sendHealth) recordFailure() uint32 {
	return h.failures.Add(1)
}

// recordSuccess resets the counters and returns true if the breaker was
// previously open (the send was a successful probe).
func (h *sendHealth) recordSuccess() bool {
	wasTripped := h.failures.Swap(0) >= circuitBreakerThreshold
	if wasTripped {
		h.skips.Store(0)
	}
	return wasTripped
}

// Client is the server-side record for one connected control socket.
// Membership fields (name, meetingCode, isHost, waiting, cameraOn and the
// UDP endpoints) are protected by the Registry mutex; the write path and
// health counters are safe for concurrent use on their own.
type Client struct {
	conn       net.Conn
	remoteAddr string

	name        string
	meetingCode string // "" = unassigned
	isHost      bool
	waiting     bool
	cameraOn    bool

	videoAddr *net.UDPAddr // nil until REGISTER_UDP
	audioAddr *net.UDPAddr

	lastSeen atomic.Int64 // Unix ms of the last control frame

	health  sendHealth    // media reflect circuit breaker
	limiter *rate.Limiter // control-message rate limit

	writeMu sync.Mutex
}

func newClient(conn net.Conn, msgsPerSec int) *Client {
	c := &Client{
		conn:       conn,
		remoteAddr: conn.RemoteAddr().String(),
		cameraOn:   true,
		limiter:    rate.NewLimiter(rate.Limit(msgsPerSec), msgsPerSec),
	}
	c.lastSeen.Store(time.Now().UnixMilli())
	return c
}

// resetMembership clears meeting state, leaving the socket connected and
// unassigned. Caller must hold the Registry mutex.
func (c *Client) resetMembership() {
	c.meetingCode = ""
	c.isHost = false
	c.waiting = false
}

// sendRaw writes one pre-packed frame to the control socket. Safe for
// concurrent use. Returns false on write failure; the caller decides whether
// to tear the connection down.
func (c *Client) sendRaw(frame []byte) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(frame); err != nil {
		log.Printf("[control] write to %s: %v", c.remoteAddr, err)
		return false
	}
	return true
}

// send packs and writes a single control message to this client.
func (c *Client) send(msg *protocol.Message) bool {
	frame, err := protocol.PackMessage(msg)
	if err != nil {
		log.Printf("[control] pack %s: %v", msg.Type, err)
		return false
	}
	return c.sendRaw(frame)
}
