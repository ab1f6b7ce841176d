package media

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"phone_island/native/internal/domain"
)

const pcmList = `00-00: ALC892 Analog : ALC892 Analog : playback 1 : capture 1
00-01: ALC892 Digital : ALC892 Digital : playback 1
01-00: USB Audio : USB Audio : capture 1
garbage line
`

func TestParsePCMList(t *testing.T) {
	devices, err := ParsePCMList(strings.NewReader(pcmList))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	want := []domain.Device{
		{ID: "hw:0,0", Label: "ALC892 Analog", Kind: domain.AudioOutput},
		{ID: "hw:0,0", Label: "ALC892 Analog", Kind: domain.AudioInput},
		{ID: "hw:0,1", Label: "ALC892 Digital", Kind: domain.AudioOutput},
		{ID: "hw:1,0", Label: "USB Audio", Kind: domain.AudioInput},
	}
	if len(devices) != len(want) {
		t.Fatalf("expected %d devices, got %d: %+v", len(want), len(devices), devices)
	}
	for i := range want {
		if devices[i] != want[i] {
			t.Errorf("device %d: expected %+v, got %+v", i, want[i], devices[i])
		}
	}
}

func TestEnumerateDevices_PrependsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pcm")
	if err := os.WriteFile(path, []byte(pcmList), 0o644); err != nil {
		t.Fatal(err)
	}
	a := NewALSA(nil)
	a.PCMList = path

	devices, err := a.EnumerateDevices()
	if err != nil {
		t.Fatalf("enumerate: %v", err)
	}
	if len(devices) != 6 {
		t.Fatalf("expected 6 devices, got %d", len(devices))
	}
	if devices[0].ID != "default" || devices[0].Kind != domain.AudioInput {
		t.Errorf("expected default input first, got %+v", devices[0])
	}
	if devices[1].ID != "default" || devices[1].Kind != domain.AudioOutput {
		t.Errorf("expected default output second, got %+v", devices[1])
	}
}

func TestEnumerateDevices_MissingList(t *testing.T) {
	a := NewALSA(nil)
	a.PCMList = filepath.Join(t.TempDir(), "absent")

	if _, err := a.EnumerateDevices(); err == nil {
		t.Error("expected error for missing pcm list")
	}
}
