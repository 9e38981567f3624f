package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Config holds all application configuration values.
type Config struct {
	// Backend
	BackendAddress   string
	BackendFrequency float64
	BackendFlags     int
	MarkerCount      int // markers served by the synthetic backend

	// Calibration
	CalibrationTargetSamples int
	CalibrationMaxTrials     int

	// Recording
	RecordReserveSeconds int

	// MQTT
	MQTTBroker          string
	MQTTClientIDBridge  string
	MQTTClientIDConsole string
	MQTTClientIDDisplay string
	MQTTClientIDClock   string
	MQTTClientIDWeb     string

	// Topics
	TopicPosePrefix string // poses are published on <prefix>/<tracker id>
	TopicCommand    string

	// Timing
	PublishInterval int // milliseconds

	// Web Server
	WebServerPort int

	// Sync line
	TTLGPIOPin string

	// Reference clock
	ClockSerialPort string
	ClockBaudRate   int

	// Display
	DisplayI2CAddr        uint16
	DisplayUpdateInterval int // milliseconds
	DisplayTracker        int

	// Tracker layout (YAML)
	LayoutFile string
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: unexported so other packages go through InitGlobal and Get.
//   - configOnce: ensures InitGlobal() only runs once, even if called multiple times.
//   - configMu: RWMutex protects concurrent access. Write lock for initialization,
//     read lock for Get().
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// defaults returns a Config with the values used when a key is omitted.
func defaults() *Config {
	return &Config{
		BackendFrequency:         960,
		MarkerCount:              8,
		CalibrationTargetSamples: 100,
		CalibrationMaxTrials:     2000,
		RecordReserveSeconds:     60,
		MQTTClientIDBridge:       "mocap-bridge",
		MQTTClientIDConsole:      "mocap-console",
		MQTTClientIDDisplay:      "mocap-display",
		MQTTClientIDClock:        "mocap-refclock",
		MQTTClientIDWeb:          "mocap-web",
		TopicPosePrefix:          "mocap/pose",
		TopicCommand:             "mocap/command",
		PublishInterval:          20,
		WebServerPort:            8080,
		ClockBaudRate:            9600,
		DisplayI2CAddr:           0x3C,
		DisplayUpdateInterval:    200,
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := defaults()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func atoi(key, value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

func positive(key, value string) (int, error) {
	v, err := atoi(key, value)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, v)
	}
	return v, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// Backend
	case "BACKEND_ADDRESS":
		c.BackendAddress = value
	case "BACKEND_FREQUENCY":
		hz, perr := strconv.ParseFloat(value, 64)
		if perr != nil {
			return fmt.Errorf("invalid BACKEND_FREQUENCY %q: %w", value, perr)
		}
		if hz <= 0 || hz > 960 {
			return fmt.Errorf("BACKEND_FREQUENCY must be in (0, 960], got %g", hz)
		}
		c.BackendFrequency = hz
	case "BACKEND_FLAGS":
		flags, perr := strconv.ParseInt(value, 0, 32)
		if perr != nil {
			return fmt.Errorf("invalid BACKEND_FLAGS %q: %w", value, perr)
		}
		c.BackendFlags = int(flags)
	case "MARKER_COUNT":
		c.MarkerCount, err = positive(key, value)

	// Calibration
	case "CALIBRATION_TARGET_SAMPLES":
		c.CalibrationTargetSamples, err = positive(key, value)
	case "CALIBRATION_MAX_TRIALS":
		c.CalibrationMaxTrials, err = positive(key, value)

	// Recording
	case "RECORD_RESERVE_SECONDS":
		c.RecordReserveSeconds, err = positive(key, value)

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_BRIDGE":
		c.MQTTClientIDBridge = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value
	case "MQTT_CLIENT_ID_CLOCK":
		c.MQTTClientIDClock = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value

	// Topics
	case "TOPIC_POSE_PREFIX":
		c.TopicPosePrefix = strings.TrimSuffix(value, "/")
	case "TOPIC_COMMAND":
		c.TopicCommand = value

	// Timing
	case "PUBLISH_INTERVAL":
		c.PublishInterval, err = positive(key, value)

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = atoi(key, value)

	// Sync line
	case "TTL_GPIO_PIN":
		c.TTLGPIOPin = value

	// Reference clock
	case "CLOCK_SERIAL_PORT":
		c.ClockSerialPort = value
	case "CLOCK_BAUD_RATE":
		c.ClockBaudRate, err = positive(key, value)

	// Display
	case "DISPLAY_I2C_ADDR":
		addr, perr := strconv.ParseUint(value, 0, 16)
		if perr != nil {
			return fmt.Errorf("invalid DISPLAY_I2C_ADDR %q: %w", value, perr)
		}
		c.DisplayI2CAddr = uint16(addr)
	case "DISPLAY_UPDATE_INTERVAL":
		c.DisplayUpdateInterval, err = positive(key, value)
	case "DISPLAY_TRACKER":
		c.DisplayTracker, err = atoi(key, value)

	// Layout
	case "LAYOUT_FILE":
		c.LayoutFile = value

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.BackendAddress == "" {
		return fmt.Errorf("BACKEND_ADDRESS is required")
	}
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.TopicCommand == "" {
		return fmt.Errorf("TOPIC_COMMAND is required")
	}
	if c.TopicPosePrefix == "" {
		return fmt.Errorf("TOPIC_POSE_PREFIX is required")
	}
	return nil
}

// PoseTopic returns the topic a tracker's pose is published on.
func (c *Config) PoseTopic(trackerID int) string {
	return fmt.Sprintf("%s/%d", c.TopicPosePrefix, trackerID)
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
