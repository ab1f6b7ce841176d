package media

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

func TestRepairDuration_StreamedContainer(t *testing.T) {
	pcm := make([]byte, 8000*2) // one second at 8kHz
	data := append(StreamHeader(8000), pcm...)

	if got := binary.LittleEndian.Uint32(data[40:44]); got != unknownSize {
		t.Fatalf("expected streaming data size, got %d", got)
	}

	d, err := RepairDuration(data)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if d != time.Second {
		t.Errorf("expected 1s, got %v", d)
	}
	if got := binary.LittleEndian.Uint32(data[40:44]); got != uint32(len(pcm)) {
		t.Errorf("expected data size %d, got %d", len(pcm), got)
	}
	if got := binary.LittleEndian.Uint32(data[4:8]); got != uint32(36+len(pcm)) {
		t.Errorf("expected riff size %d, got %d", 36+len(pcm), got)
	}
}

func TestRepairDuration_OddTrailingByte(t *testing.T) {
	data := append(StreamHeader(8000), make([]byte, 801)...)

	d, err := RepairDuration(data)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if got := binary.LittleEndian.Uint32(data[40:44]); got != 800 {
		t.Errorf("expected whole samples only, got %d", got)
	}
	if d != 50*time.Millisecond {
		t.Errorf("expected 50ms, got %v", d)
	}
}

func TestParseWAV_EncodedContainer(t *testing.T) {
	data := EncodeWAV(make([]byte, 1600), 16000)

	info, err := ParseWAV(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if info.SampleRate != 16000 || info.DataOffset != wavHeaderSize || info.DataSize != 1600 {
		t.Errorf("unexpected info %+v", info)
	}
	if info.Duration() != 50*time.Millisecond {
		t.Errorf("expected 50ms, got %v", info.Duration())
	}
}

func TestParseWAV_RejectsOtherData(t *testing.T) {
	if _, err := ParseWAV([]byte("OggS not a wav file")); !errors.Is(err, ErrNotWAV) {
		t.Errorf("expected ErrNotWAV, got %v", err)
	}
}
