package eventbus

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are not checked. The client binds the bridge to loopback by
	// default (-events-addr) for the local UI shell.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Bridge mirrors bus events as JSON over a local websocket so the external
// UI shell can subscribe without linking against the engine.
type Bridge struct {
	bus *Bus
	srv *http.Server
}

func NewBridge(bus *Bus, addr string) *Bridge {
	b := &Bridge{bus: bus}
	mux := http.NewServeMux()
	mux.HandleFunc("/events", b.handleEvents)
	b.srv = &http.Server{Addr: addr, Handler: mux}
	return b
}

// Run serves until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	go func() {
		if err := b.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[events] server error: %v", err)
		}
	}()
	<-ctx.Done()
	shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b.srv.Shutdown(shutCtx) //nolint:errcheck // best-effort shutdown
}

func (b *Bridge) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[events] upgrade: %v", err)
		return
	}
	defer conn.Close()

	events, cancel := b.bus.Subscribe()
	defer cancel()

	// Drain (and discard) client frames so pings and close frames are
	// processed; the bridge is one-way.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for ev := range events {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(ev); err != nil {
			log.Printf("[events] write: %v", err)
			return
		}
	}
}
