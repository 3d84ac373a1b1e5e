package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	ServerURL string
	AuthToken string

	// Touch sensor
	TouchPin      string
	PollInterval  time.Duration
	DebounceDelay time.Duration

	// Recording (INMP441 mic via ALSA)
	AudioDevice      string
	SampleRate       int
	Channels         int
	SampleFormat     string
	MinRecordTime    time.Duration
	MaxRecordTime    time.Duration
	SilenceThreshold time.Duration
	MinRecordingSize int64

	// Playback (PulseAudio -> Bluetooth A2DP)
	PlaybackRate      int
	PlaybackChannels  int
	PlaybackLatencyMs int

	// Camera
	VideoWidth  int
	VideoHeight int
	VideoFPS    int

	// Local control server
	ControlAddress string
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Printf("config: no .env file loaded: %v", err)
	}

	serverURL := os.Getenv("PERCEIVA_SERVER_URL")
	if serverURL == "" {
		serverURL = "http://localhost:4000"
	}

	token := os.Getenv("PERCEIVA_AUTH_TOKEN")
	if token == "" {
		log.Println("Warning: PERCEIVA_AUTH_TOKEN not set - backend requests will be rejected")
	}

	cfg := Config{
		ServerURL: serverURL,
		AuthToken: token,

		TouchPin:      envString("TOUCH_GPIO_PIN", "GPIO17"),
		PollInterval:  envDuration("TOUCH_POLL_INTERVAL", 50*time.Millisecond),
		DebounceDelay: envDuration("TOUCH_DEBOUNCE_DELAY", 300*time.Millisecond),

		AudioDevice:      envString("AUDIO_DEVICE", "hw:0,0"),
		SampleRate:       envInt("AUDIO_SAMPLE_RATE", 16000),
		Channels:         envInt("AUDIO_CHANNELS", 2),
		SampleFormat:     envString("AUDIO_SAMPLE_FORMAT", "S32_LE"),
		MinRecordTime:    envDuration("MIN_RECORD_DURATION", 500*time.Millisecond),
		MaxRecordTime:    envDuration("MAX_RECORD_DURATION", 30*time.Second),
		SilenceThreshold: envDuration("SILENCE_THRESHOLD", 2*time.Second),
		MinRecordingSize: int64(envInt("MIN_RECORDING_BYTES", 1000)),

		PlaybackRate:      envInt("PLAYBACK_RATE", 48000),
		PlaybackChannels:  envInt("PLAYBACK_CHANNELS", 1),
		PlaybackLatencyMs: envInt("PLAYBACK_LATENCY_MS", 100),

		VideoWidth:  envInt("VIDEO_WIDTH", 960),
		VideoHeight: envInt("VIDEO_HEIGHT", 540),
		VideoFPS:    envInt("VIDEO_FPS", 24),

		ControlAddress: envString("CONTROL_ADDRESS", ":8090"),
	}

	log.Printf("config: server=%s control=%s touch=%s mic=%s", cfg.ServerURL, cfg.ControlAddress, cfg.TouchPin, cfg.AudioDevice)
	return cfg
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: invalid %s=%q, using %d", key, v, def)
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("config: invalid %s=%q, using %s", key, v, def)
		return def
	}
	return d
}
