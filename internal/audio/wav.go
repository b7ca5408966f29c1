package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

const (
	wavHeaderSize  = 44
	pcmFormat      = 1
	bitsPerSample  = 16
	bytesPerSample = bitsPerSample / 8
)

// WAVInfo describes a PCM WAV file.
type WAVInfo struct {
	SampleRate int
	Channels   int
	Frames     int
}

// encodeWAV renders 16-bit little-endian PCM samples as a WAV file.
func encodeWAV(samples []int16, sampleRate, channels int) []byte {
	dataLen := len(samples) * bytesPerSample
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + dataLen)

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(pcmFormat))
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*channels*bytesPerSample))
	binary.Write(&buf, binary.LittleEndian, uint16(channels*bytesPerSample))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	binary.Write(&buf, binary.LittleEndian, samples)

	return buf.Bytes()
}

// WriteWAV writes samples to path.
func WriteWAV(path string, samples []int16, sampleRate, channels int) error {
	return os.WriteFile(path, encodeWAV(samples, sampleRate, channels), 0o644)
}

// ReadWAV returns the header info and samples of a file written by WriteWAV.
func ReadWAV(path string) (WAVInfo, []int16, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return WAVInfo{}, nil, err
	}
	if len(data) < wavHeaderSize || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return WAVInfo{}, nil, errors.New("not a RIFF/WAVE file")
	}

	channels := int(binary.LittleEndian.Uint16(data[22:24]))
	rate := int(binary.LittleEndian.Uint32(data[24:28]))
	bits := int(binary.LittleEndian.Uint16(data[34:36]))
	if bits != bitsPerSample || channels == 0 {
		return WAVInfo{}, nil, fmt.Errorf("unsupported wav: %d bits, %d channels", bits, channels)
	}

	dataLen := int(binary.LittleEndian.Uint32(data[40:44]))
	if dataLen > len(data)-wavHeaderSize {
		dataLen = len(data) - wavHeaderSize
	}
	samples := make([]int16, dataLen/bytesPerSample)
	if err := binary.Read(bytes.NewReader(data[wavHeaderSize:wavHeaderSize+len(samples)*bytesPerSample]), binary.LittleEndian, samples); err != nil {
		return WAVInfo{}, nil, err
	}

	return WAVInfo{SampleRate: rate, Channels: channels, Frames: len(samples) / channels}, samples, nil
}
