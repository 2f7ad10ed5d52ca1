// Package media defines the collaborator interfaces the client engine
// consumes — frame and audio sources, sinks, and the frame codec — plus the
// fixed video quality table and the loss/RTT-driven quality selector.
// Physical devices and codecs live behind these interfaces; the engine never
// touches them directly.
package media

import "image"

// Audio format used on the wire: raw 16-bit signed little-endian PCM.
const (
	SampleRate   = 44100
	Channels     = 1
	ChunkSamples = 1024 // samples per datagram, ~23 ms at 44.1 kHz
)

// FrameSource yields raw frames at whatever rate the caller asks for.
// Camera and screen capture both satisfy this; the sending pipeline is
// agnostic to which is behind it.
type FrameSource interface {
	// ReadFrame blocks until the next frame is available.
	ReadFrame() (image.Image, error)
	Close() error
}

// FrameSink consumes decoded frames per sender. The local preview uses the
// reserved sender name "self".
type FrameSink interface {
	DisplayFrame(sender string, img image.Image)
}

// AudioSource yields fixed-size PCM chunks from a capture device.
type AudioSource interface {
	// ReadChunk fills buf with ChunkSamples samples, tolerating overruns.
	ReadChunk(buf []int16) error
	Close() error
}

// AudioSink consumes PCM chunks for playback.
type AudioSink interface {
	PlayChunk(pcm []int16) error
	Close() error
}

// Encoder compresses a frame to the on-wire JPEG payload at a target
// resolution and quality.
type Encoder interface {
	Encode(img image.Image, width, height, quality int) ([]byte, error)
}

// Decoder reverses Encoder.
type Decoder interface {
	Decode(data []byte) (image.Image, error)
}

// Quality is one tier of the fixed video quality table.
type Quality struct {
	Name        string
	Width       int
	Height      int
	FPS         int
	JPEGQuality int
}

// Qualities is the fixed tier table, worst first.
var Qualities = []Quality{
	{Name: "144p", Width: 256, Height: 144, FPS: 5, JPEGQuality: 40},
	{Name: "240p", Width: 426, Height: 240, FPS: 10, JPEGQuality: 50},
	{Name: "360p", Width: 640, Height: 360, FPS: 15, JPEGQuality: 60},
	{Name: "480p", Width: 854, Height: 480, FPS: 20, JPEGQuality: 70},
}

// QualityByName returns the named tier, defaulting to 360p for unknown names.
func QualityByName(name string) Quality {
	for _, q := range Qualities {
		if q.Name == name {
			return q
		}
	}
	return Qualities[2]
}

// SelectQuality is the pure adaptation function: thresholds are strict
// (loss of exactly 2%, 10% or 15% stays in the better tier), and a low-loss
// link with RTT above 400 ms is held at 360p.
func SelectQuality(lossPercent, rttMS float64) Quality {
	switch {
	case lossPercent > 15:
		return QualityByName("144p")
	case lossPercent > 10:
		return QualityByName("240p")
	case lossPercent > 2:
		return QualityByName("360p")
	case rttMS > 400:
		return QualityByName("360p")
	default:
		return QualityByName("480p")
	}
}
