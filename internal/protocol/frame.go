package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single control frame. File chunks are 8 KiB before
// base64, so real frames stay far below this; anything larger is a corrupt
// or hostile length prefix.
const MaxFrameSize = 16 << 20

// PackMessage serializes msg into a length-prefixed frame: a 4-byte
// big-endian length followed by the JSON body.
func PackMessage(msg *Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", msg.Type, err)
	}
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(body)))
	copy(frame[4:], body)
	return frame, nil
}

// WriteMessage packs msg and writes it as a single frame. Callers that share
// a connection across goroutines must serialize calls themselves.
func WriteMessage(w io.Writer, msg *Message) error {
	frame, err := PackMessage(msg)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write %s frame: %w", msg.Type, err)
	}
	return nil
}

// ReadMessage reads exactly one frame from r. It loops until the declared
// length is fully consumed; io.EOF before the first prefix byte means the
// peer closed cleanly.
func ReadMessage(r io.Reader) (*Message, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n == 0 || n > MaxFrameSize {
		return nil, fmt.Errorf("bad frame length %d", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read frame body (%d bytes): %w", n, err)
	}
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal frame: %w", err)
	}
	return &msg, nil
}
