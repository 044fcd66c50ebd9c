// Package audio manages synthesized speech playback: PCM decoding, WAV
// framing and the process-wide output context that owns playing sources.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Speech output format.
const (
	SampleRate     = 24000
	Channels       = 1
	BitsPerSample  = 16
	bytesPerSample = BitsPerSample / 8
	wavHeaderSize  = 44
)

// ErrInvalidPCM is returned for buffers that are not whole 16-bit frames.
var ErrInvalidPCM = errors.New("invalid pcm buffer")

// DecodePCM16 converts little-endian signed 16-bit PCM into per-channel
// float samples in [-1, 1).
func DecodePCM16(data []byte, channels int) ([][]float32, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("%w: channels must be positive", ErrInvalidPCM)
	}
	frameSize := channels * bytesPerSample
	if len(data)%frameSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of frame size %d", ErrInvalidPCM, len(data), frameSize)
	}

	frames := len(data) / frameSize
	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * bytesPerSample
			sample := int16(binary.LittleEndian.Uint16(data[off:]))
			out[ch][i] = float32(sample) / 32768.0
		}
	}
	return out, nil
}

// Duration returns the playback length of a PCM buffer.
func Duration(pcmBytes, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	frames := pcmBytes / (channels * bytesPerSample)
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}

// EncodeWAV frames PCM in a canonical RIFF/WAVE container.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))

	blockAlign := channels * bytesPerSample
	byteRate := sampleRate * blockAlign

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16)) // PCM chunk size
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))  // PCM format
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(BitsPerSample))

	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}
