package main

import (
	"bufio"
	"io"
	"log"
	"net"
	"time"

	"github.com/SHJony121/Networking/internal/protocol"
)

// handleClient runs the per-connection control loop: read one framed
// message, dispatch, repeat. Read failure, reset, or a clean close all end
// the loop; the deferred departure broadcasts PARTICIPANT_LEFT and purges
// the registry record before the socket is closed.
func handleClient(conn net.Conn, reg *Registry, msgsPerSec int) {
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetKeepAlive(true)
	}

	c := newClient(conn, msgsPerSec)
	reg.Register(c)

	defer func() {
		departure(reg, conn)
		reg.Unregister(conn)
		conn.Close()
		log.Printf("[control] %s disconnected", c.remoteAddr)
	}()

	reader := bufio.NewReader(conn)
	for {
		msg, err := protocol.ReadMessage(reader)
		if err != nil {
			if err != io.EOF {
				log.Printf("[control] %s read: %v", c.remoteAddr, err)
			}
			return
		}
		c.lastSeen.Store(time.Now().UnixMilli())
		if !c.limiter.Allow() {
			log.Printf("[control] %s rate limited, dropping %s", c.remoteAddr, msg.Type)
			continue
		}
		processControl(msg, c, reg)
	}
}

// processControl handles a single decoded control message. Extracted from
// the read loop so it can be unit-tested without a live socket.
func processControl(msg *protocol.Message, c *Client, reg *Registry) {
	switch msg.Type {
	case protocol.TypeCreateMeeting:
		code, err := reg.CreateMeeting(c, msg.Name)
		if err != nil {
			log.Printf("[control] %s create meeting: %v", c.remoteAddr, err)
			return
		}
		c.send(&protocol.Message{Type: protocol.TypeMeetingCreated, MeetingCode: code})

	case protocol.TypeRequestJoin:
		host, nameTaken, err := reg.RequestJoin(c, msg.MeetingCode, msg.Name)
		if err != nil {
			reason := "Meeting not found"
			if err == errAlreadyInMeeting {
				reason = "Already in a meeting"
			}
			c.send(&protocol.Message{Type: protocol.TypeJoinRejected, Reason: reason})
			return
		}
		if nameTaken {
			log.Printf("[control] display name %q already present in %s; chat and file targeting are ambiguous", msg.Name, msg.MeetingCode)
		}
		host.send(&protocol.Message{Type: protocol.TypeNewJoinRequest, ClientName: msg.Name})
		c.send(&protocol.Message{Type: protocol.TypeJoinPending, MessageText: "Join request sent to host"})

	case protocol.TypeAllowJoin:
		admitted, participants, err := reg.AllowJoin(c, msg.ClientName)
		if err != nil {
			log.Printf("[control] %s allow join %q: %v", c.remoteAddr, msg.ClientName, err)
			return
		}
		admitted.send(&protocol.Message{Type: protocol.TypeJoinAccepted})
		broadcast(participants, &protocol.Message{
			Type:            protocol.TypeParticipantJoined,
			ParticipantName: admitted.name,
			IsHost:          false,
		})

	case protocol.TypeDenyJoin:
		denied, err := reg.DenyJoin(c, msg.ClientName)
		if err != nil {
			log.Printf("[control] %s deny join %q: %v", c.remoteAddr, msg.ClientName, err)
			return
		}
		denied.send(&protocol.Message{Type: protocol.TypeJoinRejected, Reason: "Host denied your request"})

	case protocol.TypeChat:
		sender, ok := reg.Member(c.conn)
		if !ok {
			log.Printf("[control] %s chat rejected: not in a meeting", c.remoteAddr)
			return
		}
		target := msg.TargetName
		if target == "" {
			target = protocol.TargetEveryone
		}
		out := &protocol.Message{
			Type:        protocol.TypeChatBroadcast,
			SenderName:  sender.name,
			MessageText: msg.MessageText,
			IsPrivate:   target != protocol.TargetEveryone,
		}
		if target == protocol.TargetEveryone {
			broadcast(reg.Mates(c.conn), out)
			return
		}
		// Private: deliver only to participants whose display name matches.
		// The sender's UI echoes its own private messages locally.
		for _, p := range reg.Mates(c.conn) {
			if p.name == target {
				p.send(out)
			}
		}

	case protocol.TypeCameraStatus:
		sender, mates := reg.SetCamera(c.conn, msg.Enabled)
		if sender == nil {
			return
		}
		broadcast(mates, &protocol.Message{
			Type:            protocol.TypeCameraStatusBroadcast,
			ParticipantName: sender.name,
			Enabled:         msg.Enabled,
		})

	case protocol.TypeFileStart:
		sender, ok := reg.Member(c.conn)
		if !ok {
			return
		}
		reg.SetFileSender(sender)
		broadcast(fileTargets(reg, c, msg.TargetName), &protocol.Message{
			Type:       protocol.TypeFileStartNotify,
			SenderName: sender.name,
			Filename:   msg.Filename,
			Filesize:   msg.Filesize,
			ChunkSize:  msg.ChunkSize,
		})

	case protocol.TypeFileChunk:
		if _, ok := reg.Member(c.conn); !ok {
			return
		}
		// Chunks pass through unbuffered and uninspected; congestion is
		// end-to-end between the transferring clients.
		broadcast(fileTargets(reg, c, msg.TargetName), &protocol.Message{
			Type:    protocol.TypeFileChunkForward,
			ChunkID: msg.ChunkID,
			Data:    msg.Data,
		})

	case protocol.TypeFileEnd:
		sender, ok := reg.Member(c.conn)
		if !ok {
			return
		}
		broadcast(fileTargets(reg, c, msg.TargetName), &protocol.Message{
			Type:       protocol.TypeFileEndNotify,
			SenderName: sender.name,
			Checksum:   msg.Checksum,
		})

	case protocol.TypeFileAck:
		origin := reg.FileSender(c.conn)
		if origin != nil && origin.conn != c.conn {
			origin.send(&protocol.Message{Type: protocol.TypeFileAck, ChunkID: msg.ChunkID})
			return
		}
		broadcast(reg.Mates(c.conn), &protocol.Message{Type: protocol.TypeFileAck, ChunkID: msg.ChunkID})

	case protocol.TypeVideoStats:
		// Telemetry only; logged, never acted on.
		if sender, ok := reg.Member(c.conn); ok {
			log.Printf("[control] stats from %q: loss=%.1f%% rtt=%.0fms fps=%.1f bitrate=%.0fkbps",
				sender.name, msg.Loss, msg.RTT, msg.FPSRecv, msg.Bitrate)
		}

	case protocol.TypeHeartbeat:
		c.send(&protocol.Message{Type: protocol.TypeHeartbeatAck, Timestamp: msg.Timestamp})

	case protocol.TypeRegisterUDP:
		if err := reg.RegisterUDP(c.conn, msg.VideoPort, msg.AudioPort); err != nil {
			log.Printf("[control] %s register udp: %v", c.remoteAddr, err)
		}

	case protocol.TypeLeave:
		// Clean departure: the socket stays open and unassigned.
		departure(reg, c.conn)

	default:
		log.Printf("[control] %s unknown message type %q", c.remoteAddr, msg.Type)
	}
}

// departure removes conn from its meeting and broadcasts PARTICIPANT_LEFT to
// the members that remain. When the host leaves, the registry has already
// purged the meeting; the remaining members learn of the closure from the
// is_host flag on the departure broadcast.
func departure(reg *Registry, conn net.Conn) {
	res := reg.Leave(conn)
	if !res.WasMember {
		return
	}
	broadcast(res.Remaining, &protocol.Message{
		Type:            protocol.TypeParticipantLeft,
		ParticipantName: res.Name,
		IsHost:          res.WasHost,
	})
}

// fileTargets resolves the recipients of a FILE_* frame: the named
// participant when targeted, otherwise every meeting-mate of the sender.
func fileTargets(reg *Registry, c *Client, targetName string) []*Client {
	mates := reg.Mates(c.conn)
	if targetName == "" || targetName == protocol.TargetEveryone {
		return mates
	}
	var out []*Client
	for _, p := range mates {
		if p.name == targetName {
			out = append(out, p)
		}
	}
	return out
}

// broadcast packs msg once and writes the frame to every target. A write
// failure to one participant never aborts delivery to the others; the
// failing socket is closed so its read loop runs the departure path.
func broadcast(targets []*Client, msg *protocol.Message) {
	if len(targets) == 0 {
		return
	}
	frame, err := protocol.PackMessage(msg)
	if err != nil {
		log.Printf("[control] broadcast pack %s: %v", msg.Type, err)
		return
	}
	for _, p := range targets {
		if !p.sendRaw(frame) {
			p.conn.Close()
		}
	}
}
