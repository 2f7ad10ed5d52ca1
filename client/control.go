package main

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/SHJony121/Networking/internal/protocol"
)

// dialTimeout bounds the TCP connect; established connections have no read
// timeout and rely on OS keep-alive.
const dialTimeout = 10 * time.Second

// Control manages the framed TCP control connection to the server: one
// receive loop dispatching by message type, serialized sends, and
// wait-for-reply support for the handshake paths.
type Control struct {
	conn   net.Conn
	reader *bufio.Reader

	writeMu sync.Mutex // serializes whole frames onto the socket

	mu       sync.Mutex
	handlers map[string]func(*protocol.Message)
	waiters  []*waiter
	closed   bool

	// OnClosed fires once when the receive loop exits (server gone or
	// local Close). Set before Start.
	OnClosed func(err error)

	done chan struct{}
}

// waiter is one pending WaitForAny call.
type waiter struct {
	types map[string]bool
	ch    chan *protocol.Message
}

// DialControl connects to the server's control port.
func DialControl(addr string) (*Control, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial control %s: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetKeepAlive(true)
	}
	log.Printf("[control] connected to %s", addr)
	return &Control{
		conn:     conn,
		reader:   bufio.NewReader(conn),
		handlers: make(map[string]func(*protocol.Message)),
		done:     make(chan struct{}),
	}, nil
}

// RegisterHandler installs the callback for one message type. Handlers run
// on the receive goroutine; they must hand heavy work off and never block.
func (c *Control) RegisterHandler(msgType string, fn func(*protocol.Message)) {
	c.mu.Lock()
	c.handlers[msgType] = fn
	c.mu.Unlock()
}

// Start launches the receive loop.
func (c *Control) Start() {
	go c.receiveLoop()
}

func (c *Control) receiveLoop() {
	var loopErr error
	for {
		msg, err := protocol.ReadMessage(c.reader)
		if err != nil {
			if err != io.EOF {
				loopErr = err
			}
			break
		}
		c.dispatch(msg)
	}

	c.mu.Lock()
	c.closed = true
	// Unblock every pending waiter.
	for _, w := range c.waiters {
		close(w.ch)
	}
	c.waiters = nil
	onClosed := c.OnClosed
	c.mu.Unlock()

	close(c.done)
	if loopErr != nil {
		log.Printf("[control] receive loop: %v", loopErr)
	}
	if onClosed != nil {
		onClosed(loopErr)
	}
}

func (c *Control) dispatch(msg *protocol.Message) {
	c.mu.Lock()
	// Waiters are satisfied first so handshake replies are not consumed by
	// the steady-state handlers.
	for i, w := range c.waiters {
		if w.types[msg.Type] {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			c.mu.Unlock()
			w.ch <- msg
			return
		}
	}
	fn := c.handlers[msg.Type]
	c.mu.Unlock()

	if fn != nil {
		fn(msg)
		return
	}
	log.Printf("[control] unhandled message type %q", msg.Type)
}

// Send packs and writes one message. Safe for concurrent use.
func (c *Control) Send(msg *protocol.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.WriteMessage(c.conn, msg)
}

// WaitForAny blocks until a message of one of the given types arrives, the
// timeout elapses, or the connection closes.
func (c *Control) WaitForAny(timeout time.Duration, types ...string) (*protocol.Message, error) {
	w := &waiter{types: make(map[string]bool, len(types)), ch: make(chan *protocol.Message, 1)}
	for _, t := range types {
		w.types[t] = true
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("control connection closed")
	}
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg, ok := <-w.ch:
		if !ok {
			return nil, fmt.Errorf("control connection closed")
		}
		return msg, nil
	case <-timer.C:
		c.mu.Lock()
		for i, x := range c.waiters {
			if x == w {
				c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
				break
			}
		}
		c.mu.Unlock()
		return nil, fmt.Errorf("timed out waiting for %v", types)
	}
}

// Close tears the connection down and waits for the receive loop to exit.
func (c *Control) Close() {
	c.conn.Close()
	<-c.done
}

// Done is closed when the receive loop has exited.
func (c *Control) Done() <-chan struct{} { return c.done }
