package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrNotWAV         = errors.New("not a RIFF/WAVE payload")
	ErrUnsupportedWAV = errors.New("unsupported WAV encoding")
)

// Format describes interleaved little-endian PCM.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// Mono16 is the capture format at rate.
func Mono16(rate int) Format {
	return Format{SampleRate: rate, Channels: 1, BitsPerSample: 16}
}

func (f Format) bytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

func (f Format) blockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// EncodeWAV wraps PCM in a canonical 44-byte RIFF header.
func EncodeWAV(pcm []byte, format Format) []byte {
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))

	dataSize := uint32(len(pcm))
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36)+dataSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(format.Channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(format.SampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(format.bytesPerSecond()))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(format.blockAlign()))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(format.BitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataSize)
	buf.Write(pcm)
	return buf.Bytes()
}

// DecodeWAV extracts 16-bit PCM from a RIFF/WAVE payload. Streaming encoders
// write a placeholder data size, so a data chunk running past the end of the
// payload is truncated rather than rejected.
func DecodeWAV(data []byte) (Format, []byte, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Format{}, nil, ErrNotWAV
	}

	var (
		format  Format
		haveFmt bool
	)
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		end := body + size
		if size < 0 || end > len(data) || end < body {
			end = len(data)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return Format{}, nil, fmt.Errorf("%w: short fmt chunk", ErrNotWAV)
			}
			chunk := data[body:end]
			if tag := binary.LittleEndian.Uint16(chunk[0:2]); tag != 1 && tag != 0xFFFE {
				return Format{}, nil, fmt.Errorf("%w: format tag %d", ErrUnsupportedWAV, tag)
			}
			format = Format{
				Channels:      int(binary.LittleEndian.Uint16(chunk[2:4])),
				SampleRate:    int(binary.LittleEndian.Uint32(chunk[4:8])),
				BitsPerSample: int(binary.LittleEndian.Uint16(chunk[14:16])),
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return Format{}, nil, fmt.Errorf("%w: data before fmt", ErrNotWAV)
			}
			if format.BitsPerSample != 16 {
				return Format{}, nil, fmt.Errorf("%w: %d-bit samples", ErrUnsupportedWAV, format.BitsPerSample)
			}
			if format.Channels < 1 || format.Channels > 2 || format.SampleRate <= 0 {
				return Format{}, nil, fmt.Errorf("%w: %d channels at %d Hz", ErrUnsupportedWAV, format.Channels, format.SampleRate)
			}
			pcm := data[body:end]
			pcm = pcm[:len(pcm)-len(pcm)%format.blockAlign()]
			return format, pcm, nil
		}

		// Chunks are word aligned.
		offset = end + (end-body)%2
	}
	return Format{}, nil, fmt.Errorf("%w: missing data chunk", ErrNotWAV)
}
