package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/SHJony121/Networking/client/internal/capture"
	"github.com/SHJony121/Networking/client/internal/eventbus"
	"github.com/SHJony121/Networking/client/store"
)

func main() {
	server := flag.String("server", "127.0.0.1", "server host")
	tcpPort := flag.Int("tcp-port", 5000, "server TCP control port")
	udpPort := flag.Int("udp-port", 5001, "server UDP media port")
	name := flag.String("name", "guest", "display name")
	create := flag.Bool("create", false, "create a meeting and host it")
	join := flag.String("join", "", "meeting code to join")
	cameraIdx := flag.Int("camera", 0, "camera device index (-1 to disable video capture)")
	dropRate := flag.Float64("drop-rate", 0, "simulated packet loss percent 0-100")
	noAudio := flag.Bool("no-audio", false, "disable audio capture and playback")
	autoAdmit := flag.Bool("auto-admit", true, "when hosting headless, admit every join request automatically")
	eventsAddr := flag.String("events-addr", "127.0.0.1:7780", "websocket event bridge address for the UI shell (empty to disable)")
	dbPath := flag.String("db", "history.db", "client history database path (empty to disable)")
	downloads := flag.String("downloads", "downloads", "directory for received files")
	flag.Parse()

	if *create == (*join != "") {
		log.Println("[client] exactly one of -create or -join is required")
		os.Exit(2)
	}

	bus := eventbus.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *eventsAddr != "" {
		bridge := eventbus.NewBridge(bus, *eventsAddr)
		go bridge.Run(ctx)
		log.Printf("[events] bridge on ws://%s/events", *eventsAddr)
	}

	var hist *store.Store
	if *dbPath != "" {
		var err error
		if hist, err = store.New(*dbPath); err != nil {
			log.Printf("[client] history store disabled: %v", err)
		} else {
			defer hist.Close()
		}
	}

	cfg := Config{
		ServerHost:    *server,
		TCPPort:       *tcpPort,
		UDPPort:       *udpPort,
		Name:          *name,
		DropRate:      *dropRate / 100,
		DownloadsDir:  *downloads,
		CameraEnabled: *cameraIdx >= 0,
		MicEnabled:    !*noAudio,
		History:       hist,
	}

	// Capture devices are optional collaborators: failure to open one
	// degrades the session instead of aborting it.
	if *cameraIdx >= 0 {
		cam, err := capture.OpenCamera(*cameraIdx)
		if err != nil {
			log.Printf("[client] continuing without video capture: %v", err)
			cfg.CameraEnabled = false
		} else {
			cfg.FrameSource = cam
			defer cam.Close()
		}
	}
	if !*noAudio {
		mic, err := capture.OpenMicrophone()
		if err != nil {
			log.Printf("[client] continuing without audio capture: %v", err)
			cfg.MicEnabled = false
		} else {
			cfg.AudioSource = mic
			defer mic.Close()
		}
		spk, err := capture.OpenSpeaker()
		if err != nil {
			log.Printf("[client] continuing without audio playback: %v", err)
		} else {
			cfg.AudioSink = spk
			defer spk.Close()
		}
	}

	// Mirror bus events into the log so a headless run is observable.
	go logEvents(bus)

	app := NewApp(cfg, bus)
	if err := app.Connect(); err != nil {
		log.Printf("[client] %v", err)
		os.Exit(1)
	}

	if *create {
		code, err := app.CreateMeeting()
		if err != nil {
			log.Printf("[client] create meeting: %v", err)
			os.Exit(1)
		}
		log.Printf("[client] hosting meeting %s", code)
		if *autoAdmit {
			// Without an attached UI there is nobody to click "allow".
			go func() {
				events, cancel := bus.Subscribe()
				defer cancel()
				for ev := range events {
					if ev.Kind == eventbus.KindJoinRequest {
						if err := app.AllowJoin(ev.Participant); err != nil {
							log.Printf("[client] admit %q: %v", ev.Participant, err)
						}
					}
				}
			}()
		}
	} else {
		if err := app.JoinMeeting(*join); err != nil {
			log.Printf("[client] %v", err)
			os.Exit(1)
		}
		log.Printf("[client] joined meeting %s", *join)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	<-sigCh
	log.Println("[client] leaving...")
	app.Leave()
}

// logEvents prints a compact line per bus event.
func logEvents(bus *eventbus.Bus) {
	events, cancel := bus.Subscribe()
	defer cancel()
	for ev := range events {
		switch ev.Kind {
		case eventbus.KindStatsTick:
			log.Printf("[ui] loss=%.1f%% rtt=%.0fms jitter=%.1fms fps=%.1f/%.1f bitrate=%.0fkbps",
				ev.Loss, ev.RTT, ev.Jitter, ev.FPSSent, ev.FPSRecv, ev.Bitrate)
		case eventbus.KindChat:
			log.Printf("[ui] chat %s: %s", ev.Participant, ev.Message)
		case eventbus.KindJoinRequest:
			log.Printf("[ui] join request from %q (waiting for approval)", ev.Participant)
		default:
			log.Printf("[ui] %s %s%s", ev.Kind, ev.Participant, ev.Message)
		}
	}
}
