package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"

	"phone_island/native/internal/domain"
	"phone_island/native/internal/logging"
)

const defaultSettingsFile = "phone-island.ini"

// Config holds the application configuration.
type Config struct {
	Account domain.Account

	GatewayPath      string
	ICEServers       []domain.ICEServer
	Keepalive        time.Duration
	InactiveDeadline time.Duration
	WakeupSchedule   string

	SocketPath    string
	SocketPing    time.Duration
	SocketBackoff time.Duration

	CaptureCommand  string
	PlaybackCommand string
	SampleRate      int
	SoundDir        string

	StoragePath string

	Logging logging.Options
}

// Load reads configuration from a .env file (if present), environment variables
// and the optional ini settings file.
// Environment variables take precedence over .env values.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	token := os.Getenv("PHONE_ISLAND_CONFIG")
	if token == "" {
		return nil, fmt.Errorf("PHONE_ISLAND_CONFIG environment variable is required")
	}
	account, err := ParseToken(token)
	if err != nil {
		return nil, err
	}

	path := os.Getenv("PHONE_ISLAND_SETTINGS")
	if path == "" {
		path = defaultSettingsFile
	}
	file, err := loadSettings(path)
	if err != nil {
		return nil, err
	}

	cfg := FromINI(file)
	cfg.Account = account
	return cfg, nil
}

// ParseToken decodes the base64 "host:username:token:sipExten:sipSecret" string.
func ParseToken(token string) (domain.Account, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return domain.Account{}, fmt.Errorf("decode config token: %w", err)
	}
	parts := strings.Split(string(raw), ":")
	if len(parts) < 5 {
		return domain.Account{}, fmt.Errorf("config token: expected 5 fields, got %d", len(parts))
	}
	acc := domain.Account{
		HostName: parts[0],
		Username: parts[1],
		Token:    parts[2],
		SIPExten: parts[3],
		// the secret may itself contain ':'
		SIPSecret: strings.Join(parts[4:], ":"),
	}
	if acc.HostName == "" || acc.SIPExten == "" {
		return domain.Account{}, fmt.Errorf("config token: host and extension are required")
	}
	return acc, nil
}

func loadSettings(path string) (*ini.File, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return ini.Empty(), nil
	}
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load settings %s: %w", path, err)
	}
	return f, nil
}

// FromINI builds a Config from settings, applying a default for every key.
func FromINI(f *ini.File) *Config {
	c := &Config{}

	sec := f.Section("webrtc")
	c.GatewayPath = sec.Key("gateway_path").MustString("/janus")
	for _, u := range sec.Key("ice_servers").Strings(",") {
		c.ICEServers = append(c.ICEServers, domain.ICEServer{URL: u})
	}
	c.Keepalive = time.Duration(sec.Key("keepalive_sec").MustInt(25)) * time.Second
	c.InactiveDeadline = time.Duration(sec.Key("inactive_deadline_sec").MustInt(60)) * time.Second
	c.WakeupSchedule = sec.Key("wakeup_schedule").MustString("@every 30s")

	sec = f.Section("socket")
	c.SocketPath = sec.Key("path").MustString("/socket")
	c.SocketPing = time.Duration(sec.Key("ping_sec").MustInt(20)) * time.Second
	c.SocketBackoff = time.Duration(sec.Key("reconnect_sec").MustInt(3)) * time.Second

	sec = f.Section("audio")
	c.CaptureCommand = sec.Key("capture_command").MustString("arecord -q -D %s -f S16_LE -r 8000 -c 1 -t raw")
	c.PlaybackCommand = sec.Key("playback_command").MustString("aplay -q -D %s -f S16_LE -r 8000 -c 1 -t raw")
	c.SampleRate = sec.Key("sample_rate").MustInt(8000)
	c.SoundDir = sec.Key("sound_dir").MustString("sounds")

	c.StoragePath = f.Section("storage").Key("path").MustString("phone-island.db")

	sec = f.Section("logging")
	c.Logging = logging.Options{
		File:            sec.Key("file").MustString("phone-island.log"),
		ConsoleMinLevel: sec.Key("console_min_level").MustInt(0),
		FileMinLevel:    sec.Key("file_min_level").MustInt(0),
		DefaultLevel:    sec.Key("default").MustInt(2),
		Levels:          map[string]int{},
	}
	for _, k := range sec.Keys() {
		switch k.Name() {
		case "file", "console_min_level", "file_min_level", "default":
			continue
		}
		c.Logging.Levels[k.Name()] = k.MustInt(2)
	}

	return c
}
