package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.cfg")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
# backend
BACKEND_ADDRESS=192.168.1.20
BACKEND_FREQUENCY=480
BACKEND_FLAGS=0x3
MQTT_BROKER=tcp://localhost:1883
TOPIC_POSE_PREFIX=lab/pose/
TOPIC_COMMAND=lab/command
DISPLAY_I2C_ADDR=0x3D
DISPLAY_TRACKER=2
LAYOUT_FILE=layout.yaml
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.20", cfg.BackendAddress)
	assert.Equal(t, 480.0, cfg.BackendFrequency)
	assert.Equal(t, 3, cfg.BackendFlags)
	assert.Equal(t, uint16(0x3D), cfg.DisplayI2CAddr)
	assert.Equal(t, 2, cfg.DisplayTracker)
	assert.Equal(t, "layout.yaml", cfg.LayoutFile)
	assert.Equal(t, "lab/pose/4", cfg.PoseTopic(4))

	// defaults
	assert.Equal(t, 100, cfg.CalibrationTargetSamples)
	assert.Equal(t, 2000, cfg.CalibrationMaxTrials)
	assert.Equal(t, 60, cfg.RecordReserveSeconds)
	assert.Equal(t, 20, cfg.PublishInterval)
}

func TestLoad_Errors(t *testing.T) {
	base := "BACKEND_ADDRESS=a\nMQTT_BROKER=b\nTOPIC_COMMAND=c\n"
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown key", base + "NOPE=1\n", "unknown config key"},
		{"malformed line", base + "BACKEND_FLAGS\n", "invalid config line 4"},
		{"frequency range", base + "BACKEND_FREQUENCY=961\n", "BACKEND_FREQUENCY must be in (0, 960]"},
		{"non-positive samples", base + "CALIBRATION_TARGET_SAMPLES=0\n", "must be positive"},
		{"missing address", "MQTT_BROKER=b\nTOPIC_COMMAND=c\n", "BACKEND_ADDRESS is required"},
		{"missing broker", "BACKEND_ADDRESS=a\nTOPIC_COMMAND=c\n", "MQTT_BROKER is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.cfg"))
	assert.ErrorContains(t, err, "failed to open config file")
}
