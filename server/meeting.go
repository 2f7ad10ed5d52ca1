package main

import (
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Registry errors surfaced to the control handler.
var (
	errAlreadyInMeeting = errors.New("client already bound to a meeting")
	errMeetingNotFound  = errors.New("meeting not found")
	errNotWaiting       = errors.New("client is not in the waiting room")
	errNotInMeeting     = errors.New("client is not in a meeting")
	errNotHost          = errors.New("operation requires the meeting host")
)

// meetingCodeSpace is the number of distinct six-digit decimal codes.
const meetingCodeSpace = 1_000_000

// Meeting holds one live meeting. All fields are protected by the owning
// Registry's mutex; participants keeps insertion order so broadcasts and
// snapshots iterate deterministically.
type Meeting struct {
	Code         string
	Host         *Client
	Participants []*Client
	Waiting      []*Client
	CreatedAt    time.Time

	// fileSender is the participant whose FILE_START was seen most recently.
	// FILE_ACK frames from receivers are routed back to it.
	fileSender *Client
}

// Registry is the single source of truth for meetings and connected clients.
// One coarse mutex protects everything; no method performs I/O while holding
// it — callers take snapshots and send after release.
type Registry struct {
	mu       sync.Mutex
	meetings map[string]*Meeting
	clients  map[net.Conn]*Client

	totalDatagrams   atomic.Uint64 // relayed datagram count, fed by the relay
	totalBytes       atomic.Uint64
	droppedDatagrams atomic.Uint64 // unclassifiable or unattributable datagrams
}

func NewRegistry() *Registry {
	return &Registry{
		meetings: make(map[string]*Meeting),
		clients:  make(map[net.Conn]*Client),
	}
}

// generateCode allocates a six-digit decimal code not used by a live meeting.
// Caller must hold r.mu.
func (r *Registry) generateCode() string {
	for {
		code := fmt.Sprintf("%06d", rand.IntN(meetingCodeSpace))
		if _, taken := r.meetings[code]; !taken {
			return code
		}
	}
}

// Register installs a client record for a freshly accepted control socket.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	r.clients[c.conn] = c
	total := len(r.clients)
	r.mu.Unlock()
	log.Printf("[meeting] client %s connected, total=%d", c.remoteAddr, total)
}

// Unregister removes a client record that never joined (or already left) a
// meeting. Safe to call for unknown connections.
func (r *Registry) Unregister(conn net.Conn) {
	r.mu.Lock()
	delete(r.clients, conn)
	r.mu.Unlock()
}

// CreateMeeting allocates a code and installs a meeting with c as host and
// sole participant. Fails if c is already bound to a meeting.
func (r *Registry) CreateMeeting(c *Client, name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.meetingCode != "" {
		return "", errAlreadyInMeeting
	}
	code := r.generateCode()
	c.name = name
	c.meetingCode = code
	c.isHost = true
	c.waiting = false
	r.meetings[code] = &Meeting{
		Code:         code,
		Host:         c,
		Participants: []*Client{c},
		CreatedAt:    time.Now(),
	}
	log.Printf("[meeting] %s created by %q", code, name)
	return code, nil
}

// RequestJoin attaches a waiting record for c to the meeting. Returns the
// host so the control handler can notify it, and whether the requested
// display name collides with a current participant (collisions are
// undefined by the protocol; we warn at join time).
func (r *Registry) RequestJoin(c *Client, code, name string) (host *Client, nameTaken bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.meetingCode != "" {
		return nil, false, errAlreadyInMeeting
	}
	m, ok := r.meetings[code]
	if !ok {
		return nil, false, errMeetingNotFound
	}
	for _, p := range m.Participants {
		if p.name == name {
			nameTaken = true
			break
		}
	}
	c.name = name
	c.meetingCode = code
	c.isHost = false
	c.waiting = true
	m.Waiting = append(m.Waiting, c)
	log.Printf("[meeting] %q waiting to join %s", name, code)
	return m.Host, nameTaken, nil
}

// AllowJoin promotes the named waiting client of host's meeting to
// participant. Returns the promoted client and a participant snapshot taken
// after promotion.
func (r *Registry) AllowJoin(host *Client, name string) (*Client, []*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.hostMeeting(host)
	if err != nil {
		return nil, nil, err
	}
	c := removeByName(&m.Waiting, name)
	if c == nil {
		return nil, nil, errNotWaiting
	}
	c.waiting = false
	m.Participants = append(m.Participants, c)
	log.Printf("[meeting] %q admitted to %s", name, m.Code)
	return c, snapshot(m.Participants), nil
}

// DenyJoin discards the named waiting client of host's meeting. The denied
// client's socket stays connected and unassigned.
func (r *Registry) DenyJoin(host *Client, name string) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.hostMeeting(host)
	if err != nil {
		return nil, err
	}
	c := removeByName(&m.Waiting, name)
	if c == nil {
		return nil, errNotWaiting
	}
	c.resetMembership()
	log.Printf("[meeting] %q denied from %s", name, m.Code)
	return c, nil
}

// hostMeeting resolves host's meeting and verifies the host flag.
// Caller must hold r.mu.
func (r *Registry) hostMeeting(host *Client) (*Meeting, error) {
	if host.meetingCode == "" {
		return nil, errNotInMeeting
	}
	m, ok := r.meetings[host.meetingCode]
	if !ok {
		return nil, errMeetingNotFound
	}
	if m.Host != host {
		return nil, errNotHost
	}
	return m, nil
}

// LeaveResult describes a departure so the control handler can broadcast
// after the registry lock is released.
type LeaveResult struct {
	Name      string
	Code      string
	WasHost   bool
	WasMember bool      // false when the client was waiting or unassigned
	Remaining []*Client // members still connected after the departure
	Closed    bool      // meeting destroyed (host left or last member gone)
}

// Leave removes conn's client from its meeting per the lifecycle rules: a
// departing host or a drained participant set destroys the meeting, and
// destruction purges every remaining client record while their sockets stay
// open and unassigned.
func (r *Registry) Leave(conn net.Conn) LeaveResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[conn]
	if !ok || c.meetingCode == "" {
		return LeaveResult{}
	}
	res := LeaveResult{Name: c.name, Code: c.meetingCode, WasHost: c.isHost}

	m := r.meetings[c.meetingCode]
	if m == nil {
		c.resetMembership()
		return res
	}
	if c.waiting {
		removeClient(&m.Waiting, c)
		c.resetMembership()
		return res
	}
	res.WasMember = true
	removeClient(&m.Participants, c)
	c.resetMembership()

	if res.WasHost || len(m.Participants) == 0 {
		res.Closed = true
		res.Remaining = snapshot(m.Participants)
		delete(r.meetings, m.Code)
		for _, p := range m.Participants {
			p.resetMembership()
		}
		for _, w := range m.Waiting {
			w.resetMembership()
		}
		log.Printf("[meeting] %s closed (host_left=%v)", m.Code, res.WasHost)
		return res
	}
	res.Remaining = snapshot(m.Participants)
	log.Printf("[meeting] %q left %s, members=%d", res.Name, m.Code, len(m.Participants))
	return res
}

// RegisterUDP binds the client's media receive endpoints using the control
// socket's peer IP and the reported ports. Idempotent.
func (r *Registry) RegisterUDP(conn net.Conn, videoPort, audioPort int) error {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return fmt.Errorf("peer address: %w", err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("unparseable peer IP %q", host)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[conn]
	if !ok {
		return errNotInMeeting
	}
	c.videoAddr = &net.UDPAddr{IP: ip, Port: videoPort}
	c.audioAddr = &net.UDPAddr{IP: ip, Port: audioPort}
	log.Printf("[meeting] %q registered UDP video=%d audio=%d ip=%s", c.name, videoPort, audioPort, ip)
	return nil
}

// SetCamera records the client's last-known camera flag and returns the
// client and its meeting-mates for the status broadcast.
func (r *Registry) SetCamera(conn net.Conn, enabled bool) (*Client, []*Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.clients[conn]
	if c == nil || c.meetingCode == "" || c.waiting {
		return nil, nil
	}
	c.cameraOn = enabled
	return c, r.mates(c)
}

// SetFileSender records c as the active file-transfer originator in its
// meeting so FILE_ACK frames can be routed back to it.
func (r *Registry) SetFileSender(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m := r.meetings[c.meetingCode]; m != nil {
		m.fileSender = c
	}
}

// FileSender returns the active file-transfer originator of conn's meeting,
// or nil.
func (r *Registry) FileSender(conn net.Conn) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.clients[conn]
	if c == nil {
		return nil
	}
	if m := r.meetings[c.meetingCode]; m != nil {
		return m.fileSender
	}
	return nil
}

// Lookup returns the client record for a control socket.
func (r *Registry) Lookup(conn net.Conn) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clients[conn]
}

// Member reports whether conn belongs to a meeting as a full participant,
// and returns its record.
func (r *Registry) Member(conn net.Conn) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.clients[conn]
	if c == nil || c.meetingCode == "" || c.waiting {
		return nil, false
	}
	return c, true
}

// Mates returns conn's fellow participants (excluding conn itself).
func (r *Registry) Mates(conn net.Conn) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.clients[conn]
	if c == nil {
		return nil
	}
	return r.mates(c)
}

// mates is the lock-held form of Mates.
func (r *Registry) mates(c *Client) []*Client {
	m := r.meetings[c.meetingCode]
	if m == nil {
		return nil
	}
	out := make([]*Client, 0, len(m.Participants))
	for _, p := range m.Participants {
		if p != c {
			out = append(out, p)
		}
	}
	return out
}

// ParticipantsOf returns a snapshot of a meeting's participant set.
func (r *Registry) ParticipantsOf(code string) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.meetings[code]
	if m == nil {
		return nil
	}
	return snapshot(m.Participants)
}

// HostOf returns the host of a meeting, or nil.
func (r *Registry) HostOf(code string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m := r.meetings[code]; m != nil {
		return m.Host
	}
	return nil
}

// WaitingOf returns a snapshot of a meeting's waiting room.
func (r *Registry) WaitingOf(code string) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.meetings[code]
	if m == nil {
		return nil
	}
	return snapshot(m.Waiting)
}

// relayTarget pairs a recipient with the endpoint the relay should hit.
type relayTarget struct {
	client *Client
	addr   *net.UDPAddr
}

// senderPortSlack is how far a sending socket's ephemeral port may sit from
// a client's registered receive port and still be attributed to it. Sender
// identification by address alone cannot reliably demultiplex multiple
// clients behind one IP (e.g. several clients on loopback); the media header
// carries no sender id, so this proximity heuristic is the best available.
const senderPortSlack = 10

// RelayTargets identifies the sending client of a datagram from src and
// returns the matching-kind endpoints of its meeting-mates. ok is false when
// no registered endpoint shares src's IP with a port within senderPortSlack
// of src's port, or when the matched client is not in a live meeting; the
// datagram must then be dropped.
func (r *Registry) RelayTargets(src *net.UDPAddr, video bool) (targets []relayTarget, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var sender *Client
	best := senderPortSlack
	for _, c := range r.clients {
		for _, ep := range []*net.UDPAddr{c.videoAddr, c.audioAddr} {
			if ep == nil || !ep.IP.Equal(src.IP) {
				continue
			}
			if d := portDistance(ep.Port, src.Port); d < best {
				best = d
				sender = c
			}
		}
	}
	if sender == nil || sender.meetingCode == "" {
		return nil, false
	}
	m := r.meetings[sender.meetingCode]
	if m == nil {
		return nil, false
	}
	for _, p := range m.Participants {
		if p == sender {
			continue
		}
		addr := p.audioAddr
		if video {
			addr = p.videoAddr
		}
		if addr == nil {
			continue // endpoint not registered yet; never reflect to nil
		}
		targets = append(targets, relayTarget{client: p, addr: addr})
	}
	return targets, true
}

// Stats returns cumulative relay counters together with current registry
// sizes. Counters are monotonic; callers wanting rates keep their own
// previous values.
func (r *Registry) Stats() (datagrams, bytes, dropped uint64, meetings, clients int) {
	datagrams = r.totalDatagrams.Load()
	bytes = r.totalBytes.Load()
	dropped = r.droppedDatagrams.Load()
	r.mu.Lock()
	meetings = len(r.meetings)
	clients = len(r.clients)
	r.mu.Unlock()
	return
}

// MeetingCount returns the number of live meetings.
func (r *Registry) MeetingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.meetings)
}

// ClientCount returns the number of connected control sockets.
func (r *Registry) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// WaitingCount returns the number of clients across all waiting rooms.
func (r *Registry) WaitingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.meetings {
		n += len(m.Waiting)
	}
	return n
}

// MeetingCodes returns the codes of all live meetings.
func (r *Registry) MeetingCodes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.meetings))
	for code := range r.meetings {
		out = append(out, code)
	}
	return out
}

func snapshot(cs []*Client) []*Client {
	out := make([]*Client, len(cs))
	copy(out, cs)
	return out
}

func removeClient(cs *[]*Client, c *Client) {
	for i, x := range *cs {
		if x == c {
			*cs = append((*cs)[:i], (*cs)[i+1:]...)
			return
		}
	}
}

func removeByName(cs *[]*Client, name string) *Client {
	for i, x := range *cs {
		if x.name == name {
			*cs = append((*cs)[:i], (*cs)[i+1:]...)
			return x
		}
	}
	return nil
}

func portDistance(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
