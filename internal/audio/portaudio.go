package audio

import (
	"errors"
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// Backend abstracts the host audio API.
type Backend interface {
	Devices() ([]Device, error)
	DefaultInput() (Device, error)
	Open(dev Device, channels, framesPerBuffer int) (InputStream, error)
	Terminate() error
}

// InputStream is an opened capture stream. Read blocks until a buffer is
// filled and returns samples valid until the next Read. Stop unblocks a
// pending Read.
type InputStream interface {
	Start() error
	Read() ([]int16, error)
	Stop() error
	Close() error
}

type portAudioBackend struct{}

// NewPortAudio initializes PortAudio. Call Terminate when done.
func NewPortAudio() (Backend, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}
	return portAudioBackend{}, nil
}

func (portAudioBackend) Devices() ([]Device, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	def, _ := portaudio.DefaultInputDevice()

	devices := make([]Device, 0, len(infos))
	for i, info := range infos {
		devices = append(devices, Device{
			Index:             i,
			Name:              info.Name,
			MaxInputChannels:  info.MaxInputChannels,
			MaxOutputChannels: info.MaxOutputChannels,
			DefaultSampleRate: info.DefaultSampleRate,
			IsDefaultInput:    def != nil && info.Name == def.Name,
		})
	}
	return devices, nil
}

func (b portAudioBackend) DefaultInput() (Device, error) {
	devices, err := b.Devices()
	if err != nil {
		return Device{}, err
	}
	for _, d := range devices {
		if d.IsDefaultInput {
			return d, nil
		}
	}
	return Device{}, errors.New("no default input device")
}

func (portAudioBackend) Open(dev Device, channels, framesPerBuffer int) (InputStream, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	if dev.Index < 0 || dev.Index >= len(infos) || infos[dev.Index].Name != dev.Name {
		return nil, fmt.Errorf("device %d (%s) no longer present", dev.Index, dev.Name)
	}
	info := infos[dev.Index]

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: channels,
			Latency:  info.DefaultLowInputLatency,
		},
		SampleRate:      info.DefaultSampleRate,
		FramesPerBuffer: framesPerBuffer,
	}

	buf := make([]int16, framesPerBuffer*channels)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, err
	}
	return &portAudioStream{stream: stream, buf: buf}, nil
}

func (portAudioBackend) Terminate() error {
	return portaudio.Terminate()
}

type portAudioStream struct {
	stream *portaudio.Stream
	buf    []int16
}

func (s *portAudioStream) Start() error { return s.stream.Start() }
func (s *portAudioStream) Stop() error  { return s.stream.Stop() }
func (s *portAudioStream) Close() error { return s.stream.Close() }

func (s *portAudioStream) Read() ([]int16, error) {
	// An overflow only means frames were dropped upstream; the buffer is still valid.
	if err := s.stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
		return nil, err
	}
	return s.buf, nil
}
