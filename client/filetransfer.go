package main

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SHJony121/Networking/client/internal/eventbus"
	"github.com/SHJony121/Networking/client/internal/reno"
	"github.com/SHJony121/Networking/client/store"
	"github.com/SHJony121/Networking/internal/protocol"
)

// sendPollInterval is the idle sleep when the congestion window is full.
const sendPollInterval = 10 * time.Millisecond

// FileSender pushes one file at a time over the control channel under Reno
// congestion control. ACKs arrive on the control-receive goroutine via
// OnAck while the send loop runs on its own goroutine.
type FileSender struct {
	send func(*protocol.Message) error
	bus  *eventbus.Bus
	hist *store.Store // optional transfer ledger

	mu         sync.Mutex
	rn         *reno.Sender // nil when no transfer is active
	inProgress bool
}

func NewFileSender(send func(*protocol.Message) error, bus *eventbus.Bus, hist *store.Store) *FileSender {
	return &FileSender{send: send, bus: bus, hist: hist}
}

// OnAck feeds a FILE_ACK from the control channel into the active transfer.
// ACKs with no active transfer are ignored.
func (f *FileSender) OnAck(chunkID int) {
	f.mu.Lock()
	rn := f.rn
	f.mu.Unlock()
	if rn != nil {
		rn.OnAck(chunkID, time.Now())
	}
}

// Send transfers the file at path to target ("Everyone" or a display name).
// Blocks until every chunk is acknowledged and FILE_END is sent. Only one
// transfer may be active at a time.
func (f *FileSender) Send(path, target string) error {
	f.mu.Lock()
	if f.inProgress {
		f.mu.Unlock()
		return fmt.Errorf("file transfer already in progress")
	}
	rn := reno.NewSender(time.Now())
	f.rn = rn
	f.inProgress = true
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.rn = nil
		f.inProgress = false
		f.mu.Unlock()
	}()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	filename := filepath.Base(path)
	totalChunks := (len(data) + reno.BaseChunkSize - 1) / reno.BaseChunkSize
	log.Printf("[transfer] sending %s (%d bytes, %d chunks) to %s", filename, len(data), totalChunks, target)

	if err := f.send(&protocol.Message{
		Type:       protocol.TypeFileStart,
		Filename:   filename,
		Filesize:   int64(len(data)),
		ChunkSize:  reno.BaseChunkSize,
		TargetName: target,
	}); err != nil {
		return fmt.Errorf("send FILE_START: %w", err)
	}

	next := 0
	lastProgress := time.Now()
	for rn.Acked() < totalChunks {
		now := time.Now()

		// 1. Retransmit-on-timeout: halve ssthresh, restart the window, and
		// resend the first unacknowledged chunk.
		if rn.TimedOut(now) {
			retransmit := rn.OnTimeout(now)
			log.Printf("[transfer] timeout: cwnd=1 ssthresh=%d, retransmitting chunk %d", rn.Ssthresh(), retransmit)
			if retransmit < totalChunks {
				if err := f.sendChunk(rn, data, retransmit, target, true); err != nil {
					return err
				}
			}
			if retransmit+1 > next {
				next = retransmit + 1
			}
			continue
		}

		// 2. Fill the window with new chunks.
		if next < totalChunks && rn.CanSend() {
			if err := f.sendChunk(rn, data, next, target, false); err != nil {
				return err
			}
			next++
		} else {
			time.Sleep(sendPollInterval)
		}

		if time.Since(lastProgress) >= 250*time.Millisecond {
			lastProgress = time.Now()
			f.bus.Publish(eventbus.Event{
				Kind:     eventbus.KindFileProgress,
				Filename: filename,
				Bytes:    int64(rn.Acked()) * reno.BaseChunkSize,
				Total:    int64(len(data)),
				Cwnd:     rn.Cwnd(),
			})
		}
	}

	sum := md5.Sum(data)
	checksum := hex.EncodeToString(sum[:])
	if err := f.send(&protocol.Message{
		Type:       protocol.TypeFileEnd,
		Checksum:   checksum,
		TargetName: target,
	}); err != nil {
		return fmt.Errorf("send FILE_END: %w", err)
	}

	if f.hist != nil {
		if err := f.hist.AddTransfer(store.Transfer{
			ID:        uuid.NewString(),
			Direction: store.DirectionSent,
			Filename:  filename,
			Bytes:     int64(len(data)),
			Checksum:  checksum,
			Verified:  true,
		}); err != nil {
			log.Printf("[transfer] ledger: %v", err)
		}
	}
	f.bus.Publish(eventbus.Event{
		Kind:     eventbus.KindFileProgress,
		Filename: filename,
		Bytes:    int64(len(data)),
		Total:    int64(len(data)),
		Cwnd:     rn.Cwnd(),
	})
	log.Printf("[transfer] %s sent, md5=%s", filename, checksum)
	return nil
}

func (f *FileSender) sendChunk(rn *reno.Sender, data []byte, chunkID int, target string, retransmit bool) error {
	start := chunkID * reno.BaseChunkSize
	end := start + reno.BaseChunkSize
	if end > len(data) {
		end = len(data)
	}
	rn.OnSend(chunkID, time.Now(), retransmit)
	if err := f.send(&protocol.Message{
		Type:       protocol.TypeFileChunk,
		ChunkID:    chunkID,
		Data:       base64.StdEncoding.EncodeToString(data[start:end]),
		TargetName: target,
	}); err != nil {
		return fmt.Errorf("send chunk %d: %w", chunkID, err)
	}
	return nil
}

// CwndHistory exposes the congestion trace of the active transfer. It
// returns nil when no transfer is running: the trace is not kept once Send
// returns.
func (f *FileSender) CwndHistory() []float64 {
	f.mu.Lock()
	rn := f.rn
	f.mu.Unlock()
	if rn == nil {
		return nil
	}
	return rn.CwndHistory()
}

// FileReceiver reassembles incoming transfers under ./downloads. Chunks are
// written at chunk_id × chunk size so duplicates and retransmissions
// overwrite in place; every written chunk is acknowledged over the control
// channel.
type FileReceiver struct {
	dir  string
	send func(*protocol.Message) error
	bus  *eventbus.Bus
	hist *store.Store // optional

	mu        sync.Mutex
	file      *os.File
	filename  string
	sender    string
	expected  int64
	chunkSize int
	received  int64
}

func NewFileReceiver(dir string, send func(*protocol.Message) error, bus *eventbus.Bus, hist *store.Store) *FileReceiver {
	return &FileReceiver{dir: dir, send: send, bus: bus, hist: hist}
}

// HandleStart opens the destination file for an announced transfer.
func (r *FileReceiver) HandleStart(msg *protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		log.Printf("[transfer] create %s: %v", r.dir, err)
		return
	}
	// Only the base name is honored so a sender cannot steer the write
	// outside the downloads directory.
	name := filepath.Base(msg.Filename)
	f, err := os.Create(filepath.Join(r.dir, name))
	if err != nil {
		log.Printf("[transfer] create %s: %v", name, err)
		return
	}
	r.file = f
	r.filename = name
	r.sender = msg.SenderName
	r.expected = msg.Filesize
	r.chunkSize = msg.ChunkSize
	if r.chunkSize <= 0 {
		r.chunkSize = reno.BaseChunkSize
	}
	r.received = 0
	log.Printf("[transfer] receiving %s (%d bytes) from %s", name, msg.Filesize, msg.SenderName)
}

// HandleChunk writes one chunk at its deterministic offset and ACKs it.
func (r *FileReceiver) HandleChunk(msg *protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return
	}
	data, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		log.Printf("[transfer] chunk %d: bad base64: %v", msg.ChunkID, err)
		return
	}
	offset := int64(msg.ChunkID) * int64(r.chunkSize)
	if _, err := r.file.WriteAt(data, offset); err != nil {
		log.Printf("[transfer] chunk %d: write: %v", msg.ChunkID, err)
		return
	}
	r.received += int64(len(data))
	if r.received > r.expected {
		r.received = r.expected
	}

	if err := r.send(&protocol.Message{Type: protocol.TypeFileAck, ChunkID: msg.ChunkID}); err != nil {
		log.Printf("[transfer] ack %d: %v", msg.ChunkID, err)
	}
}

// HandleEnd verifies the MD5 digest. A mismatch is surfaced to the event
// bus but the file is retained.
func (r *FileReceiver) HandleEnd(msg *protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return
	}
	path := r.file.Name()
	r.file.Close()
	r.file = nil

	sum, err := fileMD5(path)
	if err != nil {
		log.Printf("[transfer] checksum %s: %v", path, err)
		return
	}
	verified := sum == msg.Checksum
	if verified {
		log.Printf("[transfer] %s received, md5 verified", r.filename)
		r.bus.Publish(eventbus.Event{Kind: eventbus.KindFileReceived, Filename: r.filename, Bytes: r.expected})
	} else {
		log.Printf("[transfer] %s checksum mismatch: got %s, want %s (file retained)", r.filename, sum, msg.Checksum)
		r.bus.Publish(eventbus.Event{Kind: eventbus.KindFileMismatch, Filename: r.filename, Bytes: r.expected})
	}

	if r.hist != nil {
		if err := r.hist.AddTransfer(store.Transfer{
			ID:        uuid.NewString(),
			Direction: store.DirectionReceived,
			Filename:  r.filename,
			Bytes:     r.expected,
			Checksum:  msg.Checksum,
			Verified:  verified,
		}); err != nil {
			log.Printf("[transfer] ledger: %v", err)
		}
	}
}

// fileMD5 computes the hex MD5 digest of a file.
func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
