package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Serial Serial `yaml:"serial"`
	Device Device `yaml:"device"`
	Filter Filter `yaml:"filter"`
	Run    Run    `yaml:"run"`
	Server Server `yaml:"server"`
	Mock   Mock   `yaml:"mock"`
}

// Serial contains serial port configuration.
type Serial struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// Device contains sensor calibration and frame timing parameters.
// These must match the constants flashed into the firmware.
type Device struct {
	PulsesPerLiter float64       `yaml:"pulses_per_liter"`
	CountsPerGram  float64       `yaml:"counts_per_gram"` // May be negative depending on amplifier polarity
	FrameInterval  time.Duration `yaml:"frame_interval"`
}

// Filter contains smoothing pipeline parameters.
type Filter struct {
	MedianWindow  int     `yaml:"median_window"`  // Sliding median length, must be odd
	AverageWindow int     `yaml:"average_window"` // Moving average length, ~1s of frames
	Alpha         float64 `yaml:"alpha"`          // Exponential smoothing factor (0..1]
}

// Run contains run controller parameters.
type Run struct {
	AutoStopWindow time.Duration `yaml:"auto_stop_window"` // Stop after this much inactivity
	MaxDuration    time.Duration `yaml:"max_duration"`     // Hard wall-clock limit per run
}

// Server contains websocket bridge configuration.
type Server struct {
	Addr         string        `yaml:"addr"`
	LiveInterval time.Duration `yaml:"live_interval"` // Live pulse echo push rate
}

// Mock contains mock device configuration.
type Mock struct {
	FlowRate      float64       `yaml:"flow_rate"`      // Simulated flow (liters per minute)
	NoiseLevel    float64       `yaml:"noise_level"`    // Pulse-rate jitter fraction
	StartDelay    time.Duration `yaml:"start_delay"`    // Idle time before simulated flow begins
	WeightEnabled bool          `yaml:"weight_enabled"` // Include the weight field in frames
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: Serial{
			Port: "/dev/ttyACM0",
			Baud: 115200,
		},
		Device: Device{
			PulsesPerLiter: 450, // YF-S201 hall sensor nominal
			CountsPerGram:  420.0,
			FrameInterval:  200 * time.Millisecond,
		},
		Filter: Filter{
			MedianWindow:  5,
			AverageWindow: 5, // ~1s at the 200ms frame interval
			Alpha:         0.3,
		},
		Run: Run{
			AutoStopWindow: 2 * time.Second,
			MaxDuration:    2 * time.Minute,
		},
		Server: Server{
			Addr:         "localhost:8765",
			LiveInterval: 200 * time.Millisecond,
		},
		Mock: Mock{
			FlowRate:      6.0,
			NoiseLevel:    0.05,
			StartDelay:    time.Second,
			WeightEnabled: true,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, return defaults
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.Baud == 0 {
		c.Serial.Baud = def.Serial.Baud
	}

	if c.Device.PulsesPerLiter == 0 {
		c.Device.PulsesPerLiter = def.Device.PulsesPerLiter
	}
	if c.Device.CountsPerGram == 0 {
		c.Device.CountsPerGram = def.Device.CountsPerGram
	}
	if c.Device.FrameInterval == 0 {
		c.Device.FrameInterval = def.Device.FrameInterval
	}

	if c.Filter.MedianWindow == 0 {
		c.Filter.MedianWindow = def.Filter.MedianWindow
	}
	// Median windows must be odd; grow rather than silently shrink
	if c.Filter.MedianWindow%2 == 0 {
		c.Filter.MedianWindow++
	}
	if c.Filter.AverageWindow == 0 {
		c.Filter.AverageWindow = def.Filter.AverageWindow
	}
	if c.Filter.Alpha <= 0 || c.Filter.Alpha > 1 {
		c.Filter.Alpha = def.Filter.Alpha
	}

	if c.Run.AutoStopWindow == 0 {
		c.Run.AutoStopWindow = def.Run.AutoStopWindow
	}
	if c.Run.MaxDuration == 0 {
		c.Run.MaxDuration = def.Run.MaxDuration
	}

	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
	if c.Server.LiveInterval == 0 {
		c.Server.LiveInterval = def.Server.LiveInterval
	}

	if c.Mock.FlowRate == 0 {
		c.Mock.FlowRate = def.Mock.FlowRate
	}
	if c.Mock.StartDelay == 0 {
		c.Mock.StartDelay = def.Mock.StartDelay
	}
}
