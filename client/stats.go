package main

import (
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SHJony121/Networking/client/internal/eventbus"
	"github.com/SHJony121/Networking/client/internal/media"
	"github.com/SHJony121/Networking/internal/protocol"
)

// statsInterval is the cadence of the collection/adaptation/heartbeat tick.
const statsInterval = time.Second

// historyDepth bounds each metric's sample history.
const historyDepth = 60

// StatsLoop runs once per second: collects receiver and sender metrics,
// sends the RTT heartbeat, evaluates the quality selector, reports
// telemetry, and publishes a stats event for the UI.
type StatsLoop struct {
	ctrl      *Control
	bus       *eventbus.Bus
	videoSend *VideoSender
	videoRecv *VideoReceiver
	audioRecv *AudioReceiver

	rttMS atomic.Uint64 // float64 bits; updated by the HEARTBEAT_ACK handler

	mu        sync.Mutex
	history   map[string][]float64
	lastBytes uint64
	lastFrames uint64
	lastTick  time.Time

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewStatsLoop(ctrl *Control, bus *eventbus.Bus, vs *VideoSender, vr *VideoReceiver, ar *AudioReceiver) *StatsLoop {
	return &StatsLoop{
		ctrl:      ctrl,
		bus:       bus,
		videoSend: vs,
		videoRecv: vr,
		audioRecv: ar,
		history:   make(map[string][]float64),
		stop:      make(chan struct{}),
	}
}

// OnHeartbeatAck derives an RTT sample from the echoed timestamp
// (float seconds of the client's own wall clock).
func (s *StatsLoop) OnHeartbeatAck(echoed float64) {
	rtt := float64(time.Now().UnixNano())/1e9 - echoed
	if rtt < 0 {
		return
	}
	s.rttMS.Store(math.Float64bits(rtt * 1000))
}

// RTTMS returns the most recent round-trip sample in milliseconds.
func (s *StatsLoop) RTTMS() float64 {
	return math.Float64frombits(s.rttMS.Load())
}

// History returns a copy of one metric's bounded sample history.
func (s *StatsLoop) History(metric string) []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.history[metric]))
	copy(out, s.history[metric])
	return out
}

func (s *StatsLoop) Start() {
	s.mu.Lock()
	s.lastTick = time.Now()
	s.mu.Unlock()
	s.wg.Add(1)
	go s.run()
}

func (s *StatsLoop) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *StatsLoop) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *StatsLoop) tick() {
	// Heartbeat first so the next tick has a fresh RTT sample.
	now := float64(time.Now().UnixNano()) / 1e9
	if err := s.ctrl.Send(&protocol.Message{Type: protocol.TypeHeartbeat, Timestamp: now}); err != nil {
		log.Printf("[stats] heartbeat: %v", err)
	}

	recv := s.videoRecv.Stats()
	rtt := s.RTTMS()

	s.mu.Lock()
	elapsed := time.Since(s.lastTick).Seconds()
	s.lastTick = time.Now()

	bytes := s.videoSend.BytesSent()
	var bitrateKbps float64
	if elapsed > 0 {
		bitrateKbps = float64(bytes-s.lastBytes) * 8 / elapsed / 1000
	}
	s.lastBytes = bytes

	frames := s.videoSend.FramesSent()
	var fpsSent float64
	if elapsed > 0 {
		fpsSent = float64(frames-s.lastFrames) / elapsed
	}
	s.lastFrames = frames

	s.push("rtt", rtt)
	s.push("loss", recv.LossPercent)
	s.push("jitter", recv.JitterMS)
	s.push("fps_sent", fpsSent)
	s.push("fps_recv", recv.FPS)
	s.push("bitrate", bitrateKbps)
	s.mu.Unlock()

	// Quality selection is a pure function of loss and RTT, evaluated
	// every tick.
	target := media.SelectQuality(recv.LossPercent, rtt)
	if current := s.videoSend.Quality(); current.Name != target.Name {
		log.Printf("[stats] adapting quality %s -> %s (loss=%.1f%%, rtt=%.0fms)",
			current.Name, target.Name, recv.LossPercent, rtt)
		s.videoSend.SetQuality(target)
		s.bus.Publish(eventbus.Event{Kind: eventbus.KindQualityChanged, Quality: target.Name})
	}

	// Telemetry to the server; logged there, never acted on.
	if err := s.ctrl.Send(&protocol.Message{
		Type:    protocol.TypeVideoStats,
		Loss:    round2(recv.LossPercent),
		RTT:     round2(rtt),
		FPSRecv: round2(recv.FPS),
		Bitrate: round2(bitrateKbps),
	}); err != nil {
		log.Printf("[stats] telemetry: %v", err)
	}

	s.bus.Publish(eventbus.Event{
		Kind:    eventbus.KindStatsTick,
		Loss:    recv.LossPercent,
		RTT:     rtt,
		Jitter:  recv.JitterMS,
		FPSSent: fpsSent,
		FPSRecv: recv.FPS,
		Bitrate: bitrateKbps,
	})
}

// push appends a sample to a bounded history. Caller must hold s.mu.
func (s *StatsLoop) push(metric string, v float64) {
	h := append(s.history[metric], v)
	if len(h) > historyDepth {
		h = h[len(h)-historyDepth:]
	}
	s.history[metric] = h
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
