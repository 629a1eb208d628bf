package endoscope

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "endoscope.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	config, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if config.DeviceHost != "192.168.1.1" || config.VideoPort != 61503 || config.ControlPort != 61502 {
		t.Error("device address", config.DeviceHost, config.VideoPort, config.ControlPort)
	}
	if config.LocalVideoPort != 51320 || config.LocalControlPort != 50262 {
		t.Error("local ports", config.LocalVideoPort, config.LocalControlPort)
	}
	if config.VideoTimeout != 5*time.Second || config.BatteryPollInterval != 10*time.Second || config.StartRepeat != 3 {
		t.Error("timing", config.VideoTimeout, config.BatteryPollInterval, config.StartRepeat)
	}
	if !bytes.Equal(config.JPEGMarker, DefaultJPEGMarker) || config.DecodeFunction == nil {
		t.Error("marker and decoder should default")
	}

	// an empty file is the defaults too
	config, err = LoadConfig(writeConfig(t, ""))
	if err != nil || config.Strategy != StrategyCounted {
		t.Error("empty file", err)
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
name: bench
deviceHost: 10.0.0.7
videoTimeout: 2s
strategy: marker
marker: "ff d8 ff db"
queueSize: 8
initialBrightness: -1
`)
	config, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if config.Name != "bench" || config.DeviceHost != "10.0.0.7" || config.VideoTimeout != 2*time.Second {
		t.Error("fields", config.Name, config.DeviceHost, config.VideoTimeout)
	}
	if config.Strategy != StrategyMarker || config.QueueSize != 8 || config.InitialBrightness != -1 {
		t.Error("fields", config.Strategy, config.QueueSize, config.InitialBrightness)
	}
	if !bytes.Equal(config.JPEGMarker, []byte{0xFF, 0xD8, 0xFF, 0xDB}) {
		t.Error("marker", config.JPEGMarker)
	}
	// untouched fields keep their defaults
	if config.VideoPort != 61503 {
		t.Error("video port", config.VideoPort)
	}
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("ENDOSCOPE_HOST", "127.0.0.1")
	t.Setenv("ENDOSCOPE_VIDEO_PORT", "7000")
	t.Setenv("ENDOSCOPE_VIDEO_TIMEOUT", "750ms")
	t.Setenv("ENDOSCOPE_CONTROL_PORT", "not a number")

	config, err := LoadConfig(writeConfig(t, "deviceHost: 10.0.0.7\n"))
	if err != nil {
		t.Fatal(err)
	}
	if config.DeviceHost != "127.0.0.1" || config.VideoPort != 7000 || config.VideoTimeout != 750*time.Millisecond {
		t.Error("environment should win", config.DeviceHost, config.VideoPort, config.VideoTimeout)
	}
	if config.ControlPort != 61502 {
		t.Error("unparsable override should be ignored", config.ControlPort)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	if _, err := LoadConfig(writeConfig(t, "strategy: psychic\n")); !errors.Is(err, ErrUnknownStrategy) {
		t.Error("expected unknown strategy got", err)
	}
	if _, err := LoadConfig(writeConfig(t, "videoPort: 70000\n")); err == nil {
		t.Error("port out of range accepted")
	}
	if _, err := LoadConfig(writeConfig(t, "marker: zz\n")); err == nil {
		t.Error("bad marker accepted")
	}
	if _, err := LoadConfig(writeConfig(t, "videoTimeout: [\n")); err == nil {
		t.Error("broken yaml accepted")
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}
