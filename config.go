package endoscope

import (
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StrategyCounted = "counted"
	StrategyMarker  = "marker"
	// StrategyAuto picks counted or marker from the protocol field of the device info.
	StrategyAuto = "auto"
)

// Ports of the stock camera.
const (
	DefaultVideoPort   = 61503
	DefaultControlPort = 61502
)

// DefaultJPEGMarker is the JFIF start of image sequence the legacy firmware is split on.
var DefaultJPEGMarker = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0x4A, 0x46, 0x49, 0x46}

// Config holds session and engine configuration
type Config struct {
	Name             string `yaml:"name"`
	DeviceHost       string `yaml:"deviceHost"`
	VideoPort        int    `yaml:"videoPort"`
	ControlPort      int    `yaml:"controlPort"`
	LocalVideoPort   int    `yaml:"localVideoPort"`
	LocalControlPort int    `yaml:"localControlPort"`
	// StrictSource drops video datagrams that do not come from DeviceHost.
	StrictSource bool `yaml:"strictSource"`

	VideoTimeout        time.Duration `yaml:"videoTimeout"`
	ControlTimeout      time.Duration `yaml:"controlTimeout"`
	BatteryPollInterval time.Duration `yaml:"batteryPollInterval"`
	StartRepeat         int           `yaml:"startRepeat"`
	// InitialBrightness is sent to the LEDs when the stream starts, negative to leave them alone.
	InitialBrightness int `yaml:"initialBrightness"`

	Strategy         string `yaml:"strategy"`
	MaxPendingFrames int    `yaml:"maxPendingFrames"`
	MaxFrameBytes    int    `yaml:"maxFrameBytes"`
	Marker           string `yaml:"marker"`
	JPEGMarker       []byte `yaml:"-"`
	QueueSize        int    `yaml:"queueSize"`

	Context interface{} `yaml:"-"`
	// DecodeFunction validates assembled frames. Frames it rejects are dropped. nil disables the check.
	DecodeFunction func([]byte) (image.Image, error) `yaml:"-"`
	// BatteryFunction is called with every battery poll result, ok is false when the level is unavailable.
	BatteryFunction func(context interface{}, percent float64, ok bool) `yaml:"-"`
}

// NewDefaultConfig creates the configuration matching the stock camera
func NewDefaultConfig() *Config {
	return &Config{
		Name:                "endoscope",
		DeviceHost:          "192.168.1.1",
		VideoPort:           DefaultVideoPort,
		ControlPort:         DefaultControlPort,
		LocalVideoPort:      51320,
		LocalControlPort:    50262,
		VideoTimeout:        5 * time.Second,
		ControlTimeout:      2 * time.Second,
		BatteryPollInterval: 10 * time.Second,
		StartRepeat:         3,
		InitialBrightness:   100,
		Strategy:            StrategyCounted,
		MaxPendingFrames:    64,
		MaxFrameBytes:       1 << 20,
		JPEGMarker:          DefaultJPEGMarker,
		QueueSize:           4,
		DecodeFunction:      DecodeJPEG,
	}
}

// LoadConfig reads a yaml file over the defaults and then applies ENDOSCOPE_* environment overrides.
// An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.DeviceHost = getEnv("ENDOSCOPE_HOST", c.DeviceHost)
	c.VideoPort = getEnvAsInt("ENDOSCOPE_VIDEO_PORT", c.VideoPort)
	c.ControlPort = getEnvAsInt("ENDOSCOPE_CONTROL_PORT", c.ControlPort)
	c.LocalVideoPort = getEnvAsInt("ENDOSCOPE_LOCAL_VIDEO_PORT", c.LocalVideoPort)
	c.LocalControlPort = getEnvAsInt("ENDOSCOPE_LOCAL_CONTROL_PORT", c.LocalControlPort)
	c.Strategy = getEnv("ENDOSCOPE_STRATEGY", c.Strategy)
	c.VideoTimeout = getEnvAsDuration("ENDOSCOPE_VIDEO_TIMEOUT", c.VideoTimeout)
}

// Validate checks ranges and fills in fields derived from others.
func (c *Config) Validate() error {
	for _, port := range []int{c.VideoPort, c.ControlPort} {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("invalid device port %d", port)
		}
	}
	for _, port := range []int{c.LocalVideoPort, c.LocalControlPort} {
		if port < 0 || port > 65535 {
			return fmt.Errorf("invalid local port %d", port)
		}
	}
	if c.VideoTimeout <= 0 {
		return fmt.Errorf("video timeout must be positive, got %v", c.VideoTimeout)
	}
	if c.ControlTimeout <= 0 {
		return fmt.Errorf("control timeout must be positive, got %v", c.ControlTimeout)
	}
	switch c.Strategy {
	case StrategyCounted, StrategyMarker, StrategyAuto:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStrategy, c.Strategy)
	}
	if c.Marker != "" {
		marker, err := hex.DecodeString(strings.ReplaceAll(c.Marker, " ", ""))
		if err != nil {
			return fmt.Errorf("invalid marker %q: %w", c.Marker, err)
		}
		c.JPEGMarker = marker
	}
	if len(c.JPEGMarker) == 0 {
		c.JPEGMarker = DefaultJPEGMarker
	}
	if c.StartRepeat <= 0 {
		c.StartRepeat = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1
	}
	if c.InitialBrightness > 100 {
		c.InitialBrightness = 100
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
