package config

import (
	"encoding/base64"
	"testing"
	"time"

	"gopkg.in/ini.v1"
)

func encode(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func TestParseToken(t *testing.T) {
	acc, err := ParseToken(encode("pbx.example.com:alice:tok:201:se:cr:et"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if acc.HostName != "pbx.example.com" || acc.Username != "alice" || acc.Token != "tok" || acc.SIPExten != "201" {
		t.Errorf("unexpected account %+v", acc)
	}
	if acc.SIPSecret != "se:cr:et" {
		t.Errorf("expected secret with colons, got %q", acc.SIPSecret)
	}
}

func TestParseToken_Invalid(t *testing.T) {
	for name, token := range map[string]string{
		"not base64":     "%%%",
		"too few fields": encode("host:alice:tok"),
		"no host":        encode(":alice:tok:201:secret"),
		"no extension":   encode("host:alice:tok::secret"),
	} {
		if _, err := ParseToken(token); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestFromINI_Defaults(t *testing.T) {
	c := FromINI(ini.Empty())

	if c.GatewayPath != "/janus" || c.SocketPath != "/socket" {
		t.Errorf("unexpected paths %q %q", c.GatewayPath, c.SocketPath)
	}
	if c.InactiveDeadline != 60*time.Second || c.WakeupSchedule != "@every 30s" {
		t.Errorf("unexpected watchdog settings %v %q", c.InactiveDeadline, c.WakeupSchedule)
	}
	if c.SampleRate != 8000 || c.StoragePath != "phone-island.db" {
		t.Errorf("unexpected audio/storage settings %d %q", c.SampleRate, c.StoragePath)
	}
	if len(c.ICEServers) != 0 {
		t.Errorf("expected no ice servers, got %v", c.ICEServers)
	}
}

func TestFromINI_Overrides(t *testing.T) {
	f, err := ini.Load([]byte(`
[webrtc]
ice_servers = stun:a.example.com:3478, stun:b.example.com:3478
inactive_deadline_sec = 90

[logging]
default = 3
signal = 0
`))
	if err != nil {
		t.Fatal(err)
	}
	c := FromINI(f)

	if len(c.ICEServers) != 2 || c.ICEServers[1].URL != "stun:b.example.com:3478" {
		t.Errorf("unexpected ice servers %v", c.ICEServers)
	}
	if c.InactiveDeadline != 90*time.Second {
		t.Errorf("expected 90s deadline, got %v", c.InactiveDeadline)
	}
	if c.Logging.DefaultLevel != 3 || c.Logging.Levels["signal"] != 0 {
		t.Errorf("unexpected logging %+v", c.Logging)
	}
	if _, ok := c.Logging.Levels["default"]; ok {
		t.Error("default must not be a component level")
	}
}
