package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Default configuration values (production)
const (
	DefaultServerURL           = "wss://proctor.examina.dev/ws"
	DefaultSTUN                = "stun:stun.l.google.com:19302"
	DefaultCodec               = "json"
	DefaultStatusTTL           = 45 * time.Second
	DefaultVoiceRequestTimeout = 30 * time.Second
	DefaultEnvFile             = ".env"
)

// Config holds application configuration
type Config struct {
	// ServerURL is the signaling relay websocket endpoint
	ServerURL string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	// Codec selects the signaling wire format ("json" or "msgpack")
	Codec string

	// Local identity announced in join-exam
	DisplayName string
	ExternalID  string

	// StatusTTL flags media-status older than this as stale. Zero disables.
	StatusTTL time.Duration

	// VoiceRequestTimeout returns an unanswered voice request to idle.
	VoiceRequestTimeout time.Duration
}

// Options for loading config with CLI flag overrides
type Options struct {
	ServerURL           string
	STUNServer          string
	TURNServer          string
	TURNUser            string
	TURNPass            string
	ForceRelay          bool
	Codec               string
	DisplayName         string
	ExternalID          string
	StatusTTL           time.Duration
	VoiceRequestTimeout time.Duration

	// EnvFile is loaded into the environment before lookups when it exists.
	EnvFile string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables (including an optional .env file)
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: stat %s: %w", envFile, err)
	}

	codec := strings.ToLower(pick(opts.Codec, "SIGNAL_CODEC", DefaultCodec))
	if codec != "json" && codec != "msgpack" {
		return nil, fmt.Errorf("config: unsupported codec %q", codec)
	}

	statusTTL, err := pickDuration(opts.StatusTTL, "STATUS_TTL", DefaultStatusTTL)
	if err != nil {
		return nil, err
	}
	voiceTimeout, err := pickDuration(opts.VoiceRequestTimeout, "VOICE_REQUEST_TIMEOUT", DefaultVoiceRequestTimeout)
	if err != nil {
		return nil, err
	}

	forceRelay := opts.ForceRelay
	if !forceRelay {
		switch strings.ToLower(os.Getenv("FORCE_RELAY")) {
		case "1", "true", "yes":
			forceRelay = true
		}
	}

	return &Config{
		ServerURL:           pick(opts.ServerURL, "SERVER_URL", DefaultServerURL),
		STUNServer:          pick(opts.STUNServer, "STUN_SERVER", DefaultSTUN),
		TURNServer:          pick(opts.TURNServer, "TURN_SERVER", ""),
		TURNUser:            pick(opts.TURNUser, "TURN_USERNAME", ""),
		TURNPass:            pick(opts.TURNPass, "TURN_PASSWORD", ""),
		ForceRelay:          forceRelay,
		Codec:               codec,
		DisplayName:         pick(opts.DisplayName, "DISPLAY_NAME", ""),
		ExternalID:          pick(opts.ExternalID, "EXTERNAL_ID", ""),
		StatusTTL:           statusTTL,
		VoiceRequestTimeout: voiceTimeout,
	}, nil
}

// pick resolves one string setting: flag > env > default.
func pick(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

func pickDuration(flag time.Duration, env string, def time.Duration) (time.Duration, error) {
	if flag != 0 {
		return flag, nil
	}
	if v := os.Getenv(env); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("config: invalid %s: %w", env, err)
		}
		return d, nil
	}
	return def, nil
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(c.TURNServer, "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}
