package media

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// WAV containers here are always PCM16 mono little endian.
const (
	wavHeaderSize  = 44
	bitsPerSample  = 16
	bytesPerSample = bitsPerSample / 8
	unknownSize    = 0xFFFFFFFF
)

var ErrNotWAV = errors.New("not a WAV container")

// StreamHeader returns the header written at the start of an incremental
// capture. Sizes are unknown while capturing, so both size fields carry the
// streaming marker and the container has no usable duration.
func StreamHeader(sampleRate int) []byte {
	return header(sampleRate, unknownSize, unknownSize)
}

// EncodeWAV wraps pcm in a complete WAV container.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	out := make([]byte, 0, wavHeaderSize+len(pcm))
	out = append(out, header(sampleRate, uint32(36+len(pcm)), uint32(len(pcm)))...)
	return append(out, pcm...)
}

func header(sampleRate int, riffSize, dataSize uint32) []byte {
	b := make([]byte, wavHeaderSize)
	copy(b[0:4], "RIFF")
	binary.LittleEndian.PutUint32(b[4:8], riffSize)
	copy(b[8:12], "WAVE")
	copy(b[12:16], "fmt ")
	binary.LittleEndian.PutUint32(b[16:20], 16)
	binary.LittleEndian.PutUint16(b[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(b[22:24], 1) // mono
	binary.LittleEndian.PutUint32(b[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(b[28:32], uint32(sampleRate*bytesPerSample))
	binary.LittleEndian.PutUint16(b[32:34], bytesPerSample)
	binary.LittleEndian.PutUint16(b[34:36], bitsPerSample)
	copy(b[36:40], "data")
	binary.LittleEndian.PutUint32(b[40:44], dataSize)
	return b
}

// WAVInfo describes a parsed container.
type WAVInfo struct {
	SampleRate int
	DataOffset int
	DataSize   int
}

// Duration is the playback length of the data chunk.
func (i WAVInfo) Duration() time.Duration {
	if i.SampleRate == 0 {
		return 0
	}
	samples := i.DataSize / bytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(i.SampleRate)
}

// ParseWAV locates the fmt and data chunks. A streaming data size is
// resolved to the bytes actually present.
func ParseWAV(data []byte) (WAVInfo, error) {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return WAVInfo{}, ErrNotWAV
	}
	var info WAVInfo
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		body := pos + 8
		switch id {
		case "fmt ":
			if body+16 > len(data) {
				return WAVInfo{}, fmt.Errorf("%w: short fmt chunk", ErrNotWAV)
			}
			if ch := binary.LittleEndian.Uint16(data[body+2 : body+4]); ch != 1 {
				return WAVInfo{}, fmt.Errorf("unsupported channel count %d", ch)
			}
			if bits := binary.LittleEndian.Uint16(data[body+14 : body+16]); bits != bitsPerSample {
				return WAVInfo{}, fmt.Errorf("unsupported sample size %d", bits)
			}
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
		case "data":
			info.DataOffset = body
			available := len(data) - body
			if size == unknownSize || int(size) > available {
				info.DataSize = available
			} else {
				info.DataSize = int(size)
			}
			if info.SampleRate == 0 {
				return WAVInfo{}, fmt.Errorf("%w: data before fmt", ErrNotWAV)
			}
			return info, nil
		}
		pos = body + int(size)
		if size%2 == 1 {
			pos++
		}
	}
	return WAVInfo{}, fmt.Errorf("%w: no data chunk", ErrNotWAV)
}

// RepairDuration rewrites the size fields of an incrementally captured
// container so that its duration is readable. The input is modified in place.
func RepairDuration(data []byte) (time.Duration, error) {
	info, err := ParseWAV(data)
	if err != nil {
		return 0, err
	}
	// drop a trailing odd byte so the data chunk holds whole samples
	info.DataSize -= info.DataSize % bytesPerSample
	binary.LittleEndian.PutUint32(data[4:8], uint32(info.DataOffset-8+info.DataSize))
	binary.LittleEndian.PutUint32(data[info.DataOffset-4:info.DataOffset], uint32(info.DataSize))
	return info.Duration(), nil
}
