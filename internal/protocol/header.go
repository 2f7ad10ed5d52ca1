package protocol

import "encoding/binary"

// Datagram header sizes in bytes.
const (
	VideoHeaderSize = 24
	AudioHeaderSize = 19
)

// VideoHeader is the fixed 24-byte big-endian header prepended to every
// JPEG-compressed video datagram.
type VideoHeader struct {
	FrameID     uint32
	Timestamp   uint64 // microseconds since the Unix epoch
	SequenceNum uint32
	Width       uint16
	Height      uint16
	PayloadSize int32
}

// AudioHeader is the fixed 19-byte big-endian header prepended to every raw
// PCM audio datagram.
type AudioHeader struct {
	AudioID     uint32
	Timestamp   uint64 // microseconds since the Unix epoch
	SampleRate  uint16
	Channels    uint8
	PayloadSize int32
}

// MarshalVideoHeader appends the wire form of h to dst and returns the
// extended slice. Pass a nil or pre-sized dst to control allocation.
func MarshalVideoHeader(dst []byte, h *VideoHeader) []byte {
	var buf [VideoHeaderSize]byte
	binary.BigEndian.PutUint32(buf[0:4], h.FrameID)
	binary.BigEndian.PutUint64(buf[4:12], h.Timestamp)
	binary.BigEndian.PutUint32(buf[12:16], h.SequenceNum)
	binary.BigEndian.PutUint16(buf[16:18], h.Width)
	binary.BigEndian.PutUint16(buf[18:20], h.Height)
	binary.BigEndian.PutUint32(buf[20:24], uint32(h.PayloadSize))
	return append(dst, buf[:]...)
}

// MarshalAudioHeader appends the wire form of h to dst and returns the
// extended slice.
func MarshalAudioHeader(dst []byte, h *AudioHeader) []byte {
	var buf [AudioHeaderSize]byte
	binary.BigEndian.PutUint32(buf[0:4], h.AudioID)
	binary.BigEndian.PutUint64(buf[4:12], h.Timestamp)
	binary.BigEndian.PutUint16(buf[12:14], h.SampleRate)
	buf[14] = h.Channels
	binary.BigEndian.PutUint32(buf[15:19], uint32(h.PayloadSize))
	return append(dst, buf[:]...)
}

// ParseVideoHeader decodes the first VideoHeaderSize bytes of data.
// It does not validate the payload length; use ClassifyVideo for that.
func ParseVideoHeader(data []byte) (VideoHeader, bool) {
	if len(data) < VideoHeaderSize {
		return VideoHeader{}, false
	}
	return VideoHeader{
		FrameID:     binary.BigEndian.Uint32(data[0:4]),
		Timestamp:   binary.BigEndian.Uint64(data[4:12]),
		SequenceNum: binary.BigEndian.Uint32(data[12:16]),
		Width:       binary.BigEndian.Uint16(data[16:18]),
		Height:      binary.BigEndian.Uint16(data[18:20]),
		PayloadSize: int32(binary.BigEndian.Uint32(data[20:24])),
	}, true
}

// ParseAudioHeader decodes the first AudioHeaderSize bytes of data.
func ParseAudioHeader(data []byte) (AudioHeader, bool) {
	if len(data) < AudioHeaderSize {
		return AudioHeader{}, false
	}
	return AudioHeader{
		AudioID:     binary.BigEndian.Uint32(data[0:4]),
		Timestamp:   binary.BigEndian.Uint64(data[4:12]),
		SampleRate:  binary.BigEndian.Uint16(data[12:14]),
		Channels:    data[14],
		PayloadSize: int32(binary.BigEndian.Uint32(data[15:19])),
	}, true
}

// ClassifyVideo accepts data as a video datagram iff the parsed header's
// payload size matches the bytes that follow it exactly. Returns the header
// and payload on success.
func ClassifyVideo(data []byte) (VideoHeader, []byte, bool) {
	h, ok := ParseVideoHeader(data)
	if !ok || h.PayloadSize < 0 || len(data)-VideoHeaderSize != int(h.PayloadSize) {
		return VideoHeader{}, nil, false
	}
	return h, data[VideoHeaderSize:], true
}

// ClassifyAudio accepts data as an audio datagram iff the parsed header's
// payload size matches the bytes that follow it exactly.
func ClassifyAudio(data []byte) (AudioHeader, []byte, bool) {
	h, ok := ParseAudioHeader(data)
	if !ok || h.PayloadSize < 0 || len(data)-AudioHeaderSize != int(h.PayloadSize) {
		return AudioHeader{}, nil, false
	}
	return h, data[AudioHeaderSize:], true
}
