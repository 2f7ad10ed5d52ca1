package main

import (
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/SHJony121/Networking/client/internal/eventbus"
	"github.com/SHJony121/Networking/client/internal/media"
	"github.com/SHJony121/Networking/client/store"
	"github.com/SHJony121/Networking/internal/protocol"
)

// Session states.
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnected    State = "CONNECTED"
	StateLobbyHost    State = "LOBBY_HOST"
	StateLobbyGuest   State = "LOBBY_GUEST"
	StateInMeeting    State = "IN_MEETING"
)

// Handshake timeouts.
const (
	joinPendingTimeout  = 5 * time.Second
	joinAcceptedTimeout = 30 * time.Second
	createTimeout       = 10 * time.Second
)

// Config wires the App to its collaborators. Sources, sinks and the history
// store are optional; a nil collaborator disables that leg of the pipeline.
type Config struct {
	ServerHost string
	TCPPort    int
	UDPPort    int
	Name       string
	DropRate   float64 // simulated send loss probability in [0, 1]

	DownloadsDir string

	FrameSource media.FrameSource
	AudioSource media.AudioSource
	FrameSink   media.FrameSink
	AudioSink   media.AudioSink

	CameraEnabled bool
	MicEnabled    bool

	History *store.Store
}

// App is the client session state machine: connect → lobby → meeting. On
// entering the meeting it spawns the media pipelines and the stats loop;
// every transition and recoverable error surfaces on the event bus.
type App struct {
	cfg Config
	bus *eventbus.Bus

	mu          sync.Mutex
	state       State
	ctrl        *Control
	meetingCode string
	isHost      bool

	sendConn   *net.UDPConn
	videoSend  *VideoSender
	videoRecv  *VideoReceiver
	audioSend  *AudioSender
	audioRecv  *AudioReceiver
	stats      *StatsLoop
	fileSender *FileSender
	fileRecv   *FileReceiver

	closing bool
}

func NewApp(cfg Config, bus *eventbus.Bus) *App {
	if cfg.DownloadsDir == "" {
		cfg.DownloadsDir = "downloads"
	}
	return &App{cfg: cfg, bus: bus, state: StateDisconnected}
}

// State returns the current session state.
func (a *App) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// MeetingCode returns the joined/created meeting code ("" outside one).
func (a *App) MeetingCode() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.meetingCode
}

func (a *App) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
	a.bus.Publish(eventbus.Event{Kind: eventbus.KindStateChanged, State: string(s)})
}

// Connect dials the control channel and installs the steady-state handlers.
func (a *App) Connect() error {
	ctrl, err := DialControl(fmt.Sprintf("%s:%d", a.cfg.ServerHost, a.cfg.TCPPort))
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.ctrl = ctrl
	a.fileSender = NewFileSender(ctrl.Send, a.bus, a.cfg.History)
	a.fileRecv = NewFileReceiver(a.cfg.DownloadsDir, ctrl.Send, a.bus, a.cfg.History)
	a.mu.Unlock()

	a.registerHandlers(ctrl)
	ctrl.OnClosed = func(err error) {
		if err != nil {
			a.bus.Publish(eventbus.Event{Kind: eventbus.KindError, Message: err.Error()})
		}
		go a.shutdown()
	}
	ctrl.Start()

	a.setState(StateConnected)
	return nil
}

func (a *App) registerHandlers(ctrl *Control) {
	ctrl.RegisterHandler(protocol.TypeNewJoinRequest, func(msg *protocol.Message) {
		a.bus.Publish(eventbus.Event{Kind: eventbus.KindJoinRequest, Participant: msg.ClientName})
	})
	ctrl.RegisterHandler(protocol.TypeParticipantJoined, func(msg *protocol.Message) {
		a.bus.Publish(eventbus.Event{
			Kind:        eventbus.KindParticipantJoin,
			Participant: msg.ParticipantName,
			IsHost:      msg.IsHost,
		})
	})
	ctrl.RegisterHandler(protocol.TypeParticipantLeft, func(msg *protocol.Message) {
		a.bus.Publish(eventbus.Event{
			Kind:        eventbus.KindParticipantLeft,
			Participant: msg.ParticipantName,
			IsHost:      msg.IsHost,
		})
		if msg.IsHost {
			// Host departure closes the meeting; everyone is expelled.
			a.bus.Publish(eventbus.Event{Kind: eventbus.KindMeetingClosed, MeetingCode: a.MeetingCode()})
			go a.shutdown()
		}
	})
	ctrl.RegisterHandler(protocol.TypeChatBroadcast, func(msg *protocol.Message) {
		a.bus.Publish(eventbus.Event{
			Kind:        eventbus.KindChat,
			Participant: msg.SenderName,
			Message:     msg.MessageText,
			IsPrivate:   msg.IsPrivate,
		})
		a.recordChat(msg.SenderName, msg.MessageText, msg.IsPrivate)
	})
	ctrl.RegisterHandler(protocol.TypeCameraStatusBroadcast, func(msg *protocol.Message) {
		a.bus.Publish(eventbus.Event{
			Kind:        eventbus.KindCameraStatus,
			Participant: msg.ParticipantName,
			Enabled:     msg.Enabled,
		})
	})
	ctrl.RegisterHandler(protocol.TypeFileStartNotify, func(msg *protocol.Message) {
		a.mu.Lock()
		fr := a.fileRecv
		a.mu.Unlock()
		fr.HandleStart(msg)
	})
	ctrl.RegisterHandler(protocol.TypeFileChunkForward, func(msg *protocol.Message) {
		a.mu.Lock()
		fr := a.fileRecv
		a.mu.Unlock()
		fr.HandleChunk(msg)
	})
	ctrl.RegisterHandler(protocol.TypeFileEndNotify, func(msg *protocol.Message) {
		a.mu.Lock()
		fr := a.fileRecv
		a.mu.Unlock()
		fr.HandleEnd(msg)
	})
	ctrl.RegisterHandler(protocol.TypeFileAck, func(msg *protocol.Message) {
		a.mu.Lock()
		fs := a.fileSender
		a.mu.Unlock()
		fs.OnAck(msg.ChunkID)
	})
	ctrl.RegisterHandler(protocol.TypeHeartbeatAck, func(msg *protocol.Message) {
		a.mu.Lock()
		st := a.stats
		a.mu.Unlock()
		if st != nil {
			st.OnHeartbeatAck(msg.Timestamp)
		}
	})
	ctrl.RegisterHandler(protocol.TypeJoinRejected, func(msg *protocol.Message) {
		// Steady-state rejections (outside a join handshake) are surfaced
		// as errors; handshake paths consume these via WaitForAny first.
		a.bus.Publish(eventbus.Event{Kind: eventbus.KindError, Message: "join rejected: " + msg.Reason})
	})
}

// CreateMeeting asks the server for a new meeting. The host enters the
// meeting directly — no waiting room of its own.
func (a *App) CreateMeeting() (string, error) {
	if a.State() != StateConnected {
		return "", fmt.Errorf("create meeting in state %s", a.State())
	}
	if err := a.ctrl.Send(&protocol.Message{Type: protocol.TypeCreateMeeting, Name: a.cfg.Name}); err != nil {
		return "", err
	}
	resp, err := a.ctrl.WaitForAny(createTimeout, protocol.TypeMeetingCreated)
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	a.meetingCode = resp.MeetingCode
	a.isHost = true
	a.mu.Unlock()
	a.setState(StateLobbyHost)
	a.bus.Publish(eventbus.Event{Kind: eventbus.KindMeetingCreated, MeetingCode: resp.MeetingCode})

	if err := a.enterMeeting(); err != nil {
		return "", err
	}
	return resp.MeetingCode, nil
}

// JoinMeeting requests entry and waits in the lobby for the host's verdict.
// Rejection or timeout ends the session.
func (a *App) JoinMeeting(code string) error {
	if a.State() != StateConnected {
		return fmt.Errorf("join meeting in state %s", a.State())
	}
	if err := a.ctrl.Send(&protocol.Message{Type: protocol.TypeRequestJoin, MeetingCode: code, Name: a.cfg.Name}); err != nil {
		return err
	}

	resp, err := a.ctrl.WaitForAny(joinPendingTimeout, protocol.TypeJoinPending, protocol.TypeJoinRejected)
	if err != nil || resp.Type == protocol.TypeJoinRejected {
		a.shutdown()
		if err != nil {
			return fmt.Errorf("join request: %w", err)
		}
		a.bus.Publish(eventbus.Event{Kind: eventbus.KindJoinResult, Message: resp.Reason})
		return fmt.Errorf("join rejected: %s", resp.Reason)
	}
	a.setState(StateLobbyGuest)

	resp, err = a.ctrl.WaitForAny(joinAcceptedTimeout, protocol.TypeJoinAccepted, protocol.TypeJoinRejected)
	if err != nil || resp.Type == protocol.TypeJoinRejected {
		a.shutdown()
		if err != nil {
			return fmt.Errorf("waiting for approval: %w", err)
		}
		a.bus.Publish(eventbus.Event{Kind: eventbus.KindJoinResult, Message: resp.Reason})
		return fmt.Errorf("join rejected: %s", resp.Reason)
	}

	a.mu.Lock()
	a.meetingCode = code
	a.isHost = false
	a.mu.Unlock()
	a.bus.Publish(eventbus.Event{Kind: eventbus.KindJoinResult, Message: "accepted"})
	return a.enterMeeting()
}

// enterMeeting spawns the media pipelines and the stats loop, registers the
// receive endpoints with the server, and announces the startup camera state.
func (a *App) enterMeeting() error {
	videoRecv, err := NewVideoReceiver(media.JPEGCodec{}, a.cfg.FrameSink)
	if err != nil {
		return fmt.Errorf("bind video receiver: %w", err)
	}
	audioRecv, err := NewAudioReceiver(a.cfg.AudioSink)
	if err != nil {
		videoRecv.conn.Close()
		return fmt.Errorf("bind audio receiver: %w", err)
	}

	// The send socket is bound adjacent to the video receive port when
	// possible: the relay attributes datagrams to clients by source IP plus
	// registered-port proximity, and an arbitrary ephemeral port would
	// defeat that match.
	sendConn := bindNear(videoRecv.Port())
	if sendConn == nil {
		videoRecv.conn.Close()
		audioRecv.conn.Close()
		return fmt.Errorf("bind media send socket")
	}

	dest := &net.UDPAddr{IP: resolveHost(a.cfg.ServerHost), Port: a.cfg.UDPPort}
	videoSend := NewVideoSender(sendConn, dest, a.cfg.FrameSource, media.JPEGCodec{}, a.cfg.FrameSink, a.cfg.DropRate)
	videoSend.SetEnabled(a.cfg.CameraEnabled && a.cfg.FrameSource != nil)
	audioSend := NewAudioSender(sendConn, dest, a.cfg.AudioSource)
	audioSend.SetEnabled(a.cfg.MicEnabled && a.cfg.AudioSource != nil)

	stats := NewStatsLoop(a.ctrl, a.bus, videoSend, videoRecv, audioRecv)

	a.mu.Lock()
	a.videoRecv = videoRecv
	a.audioRecv = audioRecv
	a.sendConn = sendConn
	a.videoSend = videoSend
	a.audioSend = audioSend
	a.stats = stats
	a.mu.Unlock()

	videoRecv.Start()
	audioRecv.Start()
	videoSend.Start()
	audioSend.Start()
	stats.Start()

	if err := a.ctrl.Send(&protocol.Message{
		Type:      protocol.TypeRegisterUDP,
		VideoPort: videoRecv.Port(),
		AudioPort: audioRecv.Port(),
	}); err != nil {
		return fmt.Errorf("register udp: %w", err)
	}
	if err := a.ctrl.Send(&protocol.Message{
		Type:    protocol.TypeCameraStatus,
		Enabled: a.cfg.CameraEnabled,
	}); err != nil {
		log.Printf("[app] initial camera status: %v", err)
	}

	a.setState(StateInMeeting)
	return nil
}

// bindNear tries to bind a UDP socket within the relay's port-proximity
// slack of base, falling back to an ephemeral port.
func bindNear(base int) *net.UDPConn {
	for off := 1; off < 10; off++ {
		for _, port := range []int{base + off, base - off} {
			if port <= 0 || port > 65535 {
				continue
			}
			if conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port}); err == nil {
				return conn
			}
		}
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		log.Printf("[app] bind send socket: %v", err)
		return nil
	}
	log.Printf("[app] send socket on ephemeral port %d; relay may not attribute our datagrams", conn.LocalAddr().(*net.UDPAddr).Port)
	return conn
}

func resolveHost(host string) net.IP {
	if ip := net.ParseIP(host); ip != nil {
		return ip
	}
	addrs, err := net.LookupIP(host)
	if err != nil || len(addrs) == 0 {
		log.Printf("[app] resolve %s: %v", host, err)
		return net.IPv4(127, 0, 0, 1)
	}
	return addrs[0]
}

// SendChat sends a chat line. An empty target means everyone; private
// messages are echoed locally since the server only fans them out to the
// target.
func (a *App) SendChat(text, target string) error {
	if a.State() != StateInMeeting {
		return fmt.Errorf("chat in state %s", a.State())
	}
	if target == "" {
		target = protocol.TargetEveryone
	}
	if err := a.ctrl.Send(&protocol.Message{Type: protocol.TypeChat, MessageText: text, TargetName: target}); err != nil {
		return err
	}
	if target != protocol.TargetEveryone {
		a.bus.Publish(eventbus.Event{
			Kind:        eventbus.KindChat,
			Participant: a.cfg.Name,
			Message:     fmt.Sprintf("(to %s) %s", target, text),
			IsPrivate:   true,
		})
	}
	a.recordChat(a.cfg.Name, text, target != protocol.TargetEveryone)
	return nil
}

func (a *App) recordChat(sender, text string, private bool) {
	if a.cfg.History == nil {
		return
	}
	if err := a.cfg.History.AddChat(a.MeetingCode(), sender, text, private); err != nil {
		log.Printf("[app] chat history: %v", err)
	}
}

// AllowJoin admits a waiting participant (host only; the server enforces).
func (a *App) AllowJoin(name string) error {
	return a.ctrl.Send(&protocol.Message{Type: protocol.TypeAllowJoin, ClientName: name})
}

// DenyJoin rejects a waiting participant (host only; the server enforces).
func (a *App) DenyJoin(name string) error {
	return a.ctrl.Send(&protocol.Message{Type: protocol.TypeDenyJoin, ClientName: name})
}

// SetCamera toggles the video pipeline and announces the change.
func (a *App) SetCamera(enabled bool) error {
	a.mu.Lock()
	vs := a.videoSend
	a.mu.Unlock()
	if vs != nil {
		vs.SetEnabled(enabled && a.cfg.FrameSource != nil)
	}
	return a.ctrl.Send(&protocol.Message{Type: protocol.TypeCameraStatus, Enabled: enabled})
}

// SetMic toggles the audio pipeline. Mute is purely local: a muted sender
// just stops emitting datagrams.
func (a *App) SetMic(enabled bool) {
	a.mu.Lock()
	as := a.audioSend
	a.mu.Unlock()
	if as != nil {
		as.SetEnabled(enabled && a.cfg.AudioSource != nil)
	}
}

// SendFile transfers a file to the meeting (or one participant) in the
// background; completion and progress surface on the event bus.
func (a *App) SendFile(path, target string) error {
	if a.State() != StateInMeeting {
		return fmt.Errorf("file transfer in state %s", a.State())
	}
	a.mu.Lock()
	fs := a.fileSender
	a.mu.Unlock()
	go func() {
		if err := fs.Send(path, target); err != nil {
			log.Printf("[transfer] %v", err)
			a.bus.Publish(eventbus.Event{Kind: eventbus.KindError, Message: err.Error()})
		}
	}()
	return nil
}

// Leave announces a clean departure and ends the session.
func (a *App) Leave() {
	a.mu.Lock()
	ctrl := a.ctrl
	a.mu.Unlock()
	if ctrl != nil && a.State() == StateInMeeting {
		ctrl.Send(&protocol.Message{Type: protocol.TypeLeave}) //nolint:errcheck // best-effort goodbye
	}
	a.shutdown()
}

// shutdown stops every engine and closes the control connection. Idempotent;
// safe to call from control handlers (the control close runs elsewhere).
func (a *App) shutdown() {
	a.mu.Lock()
	if a.closing {
		a.mu.Unlock()
		return
	}
	a.closing = true
	videoSend, audioSend := a.videoSend, a.audioSend
	videoRecv, audioRecv := a.videoRecv, a.audioRecv
	stats := a.stats
	sendConn := a.sendConn
	ctrl := a.ctrl
	a.videoSend, a.audioSend, a.videoRecv, a.audioRecv, a.stats = nil, nil, nil, nil, nil
	a.meetingCode = ""
	a.mu.Unlock()

	if stats != nil {
		stats.Stop()
	}
	if videoSend != nil {
		videoSend.Stop()
	}
	if audioSend != nil {
		audioSend.Stop()
	}
	if videoRecv != nil {
		videoRecv.Stop()
	}
	if audioRecv != nil {
		audioRecv.Stop()
	}
	if sendConn != nil {
		sendConn.Close()
	}
	if ctrl != nil {
		go ctrl.Close()
	}
	a.setState(StateDisconnected)
}
