package capture

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/SHJony121/Networking/client/internal/media"
)

// paRefs counts live PortAudio users so Initialize/Terminate pair up when
// both the microphone and the speaker are open.
var (
	paMu   sync.Mutex
	paRefs int
)

func paAcquire() error {
	paMu.Lock()
	defer paMu.Unlock()
	if paRefs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("portaudio init: %w", err)
		}
	}
	paRefs++
	return nil
}

func paRelease() {
	paMu.Lock()
	defer paMu.Unlock()
	paRefs--
	if paRefs == 0 {
		portaudio.Terminate() //nolint:errcheck // nothing to do on teardown failure
	}
}

// MicSource captures fixed-size PCM chunks from the default input device.
// It satisfies media.AudioSource.
type MicSource struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16
}

func OpenMicrophone() (*MicSource, error) {
	if err := paAcquire(); err != nil {
		return nil, err
	}
	m := &MicSource{buf: make([]int16, media.ChunkSamples*media.Channels)}
	stream, err := portaudio.OpenDefaultStream(media.Channels, 0, float64(media.SampleRate), media.ChunkSamples, m.buf)
	if err != nil {
		paRelease()
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close() //nolint:errcheck // already failing
		paRelease()
		return nil, fmt.Errorf("start input stream: %w", err)
	}
	m.stream = stream
	return m, nil
}

// ReadChunk blocks for the next chunk. Overruns surface as errors from
// PortAudio and are tolerated by the caller.
func (m *MicSource) ReadChunk(dst []int16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return fmt.Errorf("microphone closed")
	}
	if err := m.stream.Read(); err != nil {
		return fmt.Errorf("mic read: %w", err)
	}
	copy(dst, m.buf)
	return nil
}

func (m *MicSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return nil
	}
	m.stream.Stop() //nolint:errcheck // closing anyway
	err := m.stream.Close()
	m.stream = nil
	paRelease()
	return err
}

// SpeakerSink plays PCM chunks on the default output device. It satisfies
// media.AudioSink.
type SpeakerSink struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16
}

func OpenSpeaker() (*SpeakerSink, error) {
	if err := paAcquire(); err != nil {
		return nil, err
	}
	s := &SpeakerSink{buf: make([]int16, media.ChunkSamples*media.Channels)}
	stream, err := portaudio.OpenDefaultStream(0, media.Channels, float64(media.SampleRate), media.ChunkSamples, s.buf)
	if err != nil {
		paRelease()
		return nil, fmt.Errorf("open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close() //nolint:errcheck // already failing
		paRelease()
		return nil, fmt.Errorf("start output stream: %w", err)
	}
	s.stream = stream
	return s, nil
}

func (s *SpeakerSink) PlayChunk(pcm []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return fmt.Errorf("speaker closed")
	}
	copy(s.buf, pcm)
	if err := s.stream.Write(); err != nil {
		return fmt.Errorf("speaker write: %w", err)
	}
	return nil
}

func (s *SpeakerSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return nil
	}
	s.stream.Stop() //nolint:errcheck // closing anyway
	err := s.stream.Close()
	s.stream = nil
	paRelease()
	return err
}
