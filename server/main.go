package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"time"
)

func main() {
	host := flag.String("host", "0.0.0.0", "listen address for both TCP control and UDP media")
	tcpPort := flag.Int("tcp-port", 5000, "TCP control port")
	udpPort := flag.Int("udp-port", 5001, "UDP media relay port")
	apiAddr := flag.String("api-addr", ":8080", "HTTP status API listen address (empty to disable)")
	rateLimit := flag.Int("rate-limit", 500, "maximum control messages per second per client")
	metricsEvery := flag.Duration("metrics-interval", 5*time.Second, "interval between metrics log lines")
	flag.Parse()

	reg := NewRegistry()

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", *host, *tcpPort))
	if err != nil {
		log.Printf("[server] tcp bind: %v", err)
		os.Exit(1)
	}
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(*host), Port: *udpPort})
	if err != nil {
		log.Printf("[server] udp bind: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown on interrupt: cancelling the context and closing the
	// sockets unblocks the accept and receive loops.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[server] shutting down...")
		cancel()
		ln.Close()
		udpConn.Close()
	}()

	go RunMetrics(ctx, reg, *metricsEvery)

	relay := NewRelay(reg, udpConn)
	go relay.Run(ctx)
	log.Printf("[server] UDP relay on %s:%d", *host, *udpPort)

	if *apiAddr != "" {
		api := NewAPIServer(reg)
		go api.Run(ctx, *apiAddr)
		log.Printf("[api] listening on %s", *apiAddr)
	}

	log.Printf("[server] TCP control on %s:%d", *host, *tcpPort)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[server] accept: %v", err)
			continue
		}
		go handleClient(conn, reg, *rateLimit)
	}
}
