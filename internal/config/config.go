package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/linecount/internal/crossing"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/linecount.defaults.json"

// Config is the root configuration for a counting deployment. Every field
// is optional; the Get* accessors supply defaults for anything omitted, so
// partial files are safe.
type Config struct {
	// Geometry shared by every stream unless overridden.
	NearPosition *float64 `json:"near_position,omitempty" yaml:"near_position,omitempty"`
	BoundaryGap  *float64 `json:"boundary_gap,omitempty" yaml:"boundary_gap,omitempty"`
	Tolerance    *float64 `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
	Axis         *string  `json:"axis,omitempty" yaml:"axis,omitempty"`

	// Track table bounds
	IdleHorizonFrames *int `json:"idle_horizon_frames,omitempty" yaml:"idle_horizon_frames,omitempty"`
	MaxTracks         *int `json:"max_tracks,omitempty" yaml:"max_tracks,omitempty"`

	// Host
	FrameQueueSize *int    `json:"frame_queue_size,omitempty" yaml:"frame_queue_size,omitempty"`
	Listen         *string `json:"listen,omitempty" yaml:"listen,omitempty"`
	GRPCListen     *string `json:"grpc_listen,omitempty" yaml:"grpc_listen,omitempty"`
	UDPListen      *string `json:"udp_listen,omitempty" yaml:"udp_listen,omitempty"`
	UDPPort        *int    `json:"udp_port,omitempty" yaml:"udp_port,omitempty"` // filter for pcap replay
	DBPath         *string `json:"db_path,omitempty" yaml:"db_path,omitempty"`

	Streams []StreamConfig `json:"streams,omitempty" yaml:"streams,omitempty"`
	Serial  *SerialConfig  `json:"serial,omitempty" yaml:"serial,omitempty"`
}

// StreamConfig overrides the shared geometry for one camera stream.
type StreamConfig struct {
	ID           string   `json:"id" yaml:"id"`
	NearPosition *float64 `json:"near_position,omitempty" yaml:"near_position,omitempty"`
	BoundaryGap  *float64 `json:"boundary_gap,omitempty" yaml:"boundary_gap,omitempty"`
	Tolerance    *float64 `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
	Axis         *string  `json:"axis,omitempty" yaml:"axis,omitempty"`
}

// SerialConfig describes an edge tracker that emits one JSON frame per line
// over a serial link.
type SerialConfig struct {
	Port     string `json:"port" yaml:"port"`
	BaudRate int    `json:"baud_rate,omitempty" yaml:"baud_rate,omitempty"`
	DataBits int    `json:"data_bits,omitempty" yaml:"data_bits,omitempty"`
	StopBits int    `json:"stop_bits,omitempty" yaml:"stop_bits,omitempty"`
	Parity   string `json:"parity,omitempty" yaml:"parity,omitempty"`
	// Stream is used for frames that do not name their stream.
	Stream string `json:"stream,omitempty" yaml:"stream,omitempty"`
}

// StreamSettings is the resolved, validated configuration for one stream.
type StreamSettings struct {
	Boundaries crossing.BoundaryConfig
	Axis       crossing.Axis
	Engine     crossing.Options
}

// EmptyConfig returns a Config with every field unset.
func EmptyConfig() *Config {
	return &Config{}
}

// LoadConfig loads a Config from a .json, .yaml or .yml file and validates it.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyConfig()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(cleanPath), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching upward from the
// working directory so tests in nested packages can find it. Panics if the
// file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks every configured stream and the host settings.
func (c *Config) Validate() error {
	if _, err := c.StreamSettings(""); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Streams))
	for _, s := range c.Streams {
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("stream id must not be empty")
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate stream id %q", s.ID)
		}
		seen[s.ID] = true
		if _, err := c.StreamSettings(s.ID); err != nil {
			return fmt.Errorf("stream %q: %w", s.ID, err)
		}
	}

	if c.IdleHorizonFrames != nil && *c.IdleHorizonFrames < 0 {
		return fmt.Errorf("idle_horizon_frames must be non-negative, got %d", *c.IdleHorizonFrames)
	}
	if c.MaxTracks != nil && *c.MaxTracks < 0 {
		return fmt.Errorf("max_tracks must be non-negative, got %d", *c.MaxTracks)
	}
	if c.FrameQueueSize != nil && *c.FrameQueueSize < 1 {
		return fmt.Errorf("frame_queue_size must be at least 1, got %d", *c.FrameQueueSize)
	}
	if c.UDPPort != nil && (*c.UDPPort < 1 || *c.UDPPort > 65535) {
		return fmt.Errorf("udp_port out of range: %d", *c.UDPPort)
	}
	if c.Serial != nil && strings.TrimSpace(c.Serial.Port) == "" {
		return fmt.Errorf("serial.port is required when serial is configured")
	}
	return nil
}

// StreamIDs returns the ids of explicitly configured streams in file order.
func (c *Config) StreamIDs() []string {
	ids := make([]string, 0, len(c.Streams))
	for _, s := range c.Streams {
		ids = append(ids, s.ID)
	}
	return ids
}

// StreamSettings resolves the settings for streamID, applying any matching
// stream override over the shared values. Unknown ids get the shared values.
func (c *Config) StreamSettings(streamID string) (StreamSettings, error) {
	near, gap, tol, axis := c.GetNearPosition(), c.GetBoundaryGap(), c.GetTolerance(), c.GetAxis()
	for _, s := range c.Streams {
		if s.ID != streamID || streamID == "" {
			continue
		}
		if s.NearPosition != nil {
			near = *s.NearPosition
		}
		if s.BoundaryGap != nil {
			gap = *s.BoundaryGap
		}
		if s.Tolerance != nil {
			tol = *s.Tolerance
		}
		if s.Axis != nil {
			axis = *s.Axis
		}
	}

	parsedAxis, err := crossing.ParseAxis(axis)
	if err != nil {
		return StreamSettings{}, err
	}

	boundaries, err := crossing.NewBoundaryConfig(near, gap, tol)
	if err != nil {
		return StreamSettings{}, err
	}

	return StreamSettings{
		Boundaries: boundaries,
		Axis:       parsedAxis,
		Engine: crossing.Options{
			IdleHorizonFrames: uint64(max(c.GetIdleHorizonFrames(), 0)),
			MaxTracks:         max(c.GetMaxTracks(), 0),
		},
	}, nil
}

// GetNearPosition returns near_position or the default.
func (c *Config) GetNearPosition() float64 {
	if c.NearPosition == nil {
		return crossing.DefaultNearPosition
	}
	return *c.NearPosition
}

// GetBoundaryGap returns boundary_gap or the default.
func (c *Config) GetBoundaryGap() float64 {
	if c.BoundaryGap == nil {
		return crossing.DefaultBoundaryGap
	}
	return *c.BoundaryGap
}

// GetTolerance returns tolerance or the default.
func (c *Config) GetTolerance() float64 {
	if c.Tolerance == nil {
		return crossing.DefaultTolerance
	}
	return *c.Tolerance
}

// GetAxis returns axis or the default.
func (c *Config) GetAxis() string {
	if c.Axis == nil || *c.Axis == "" {
		return string(crossing.AxisX)
	}
	return *c.Axis
}

// GetIdleHorizonFrames returns idle_horizon_frames or the default
// (30 seconds at 30 fps).
func (c *Config) GetIdleHorizonFrames() int {
	if c.IdleHorizonFrames == nil {
		return 900
	}
	return *c.IdleHorizonFrames
}

// GetMaxTracks returns max_tracks or the default.
func (c *Config) GetMaxTracks() int {
	if c.MaxTracks == nil {
		return 10000
	}
	return *c.MaxTracks
}

// GetFrameQueueSize returns frame_queue_size or the default.
func (c *Config) GetFrameQueueSize() int {
	if c.FrameQueueSize == nil {
		return 64
	}
	return *c.FrameQueueSize
}

// GetListen returns the HTTP listen address or the default.
func (c *Config) GetListen() string {
	if c.Listen == nil {
		return ":8080"
	}
	return *c.Listen
}

// GetGRPCListen returns the gRPC health listen address or the default.
// An empty string disables the health server.
func (c *Config) GetGRPCListen() string {
	if c.GRPCListen == nil {
		return ":8081"
	}
	return *c.GRPCListen
}

// GetUDPListen returns the UDP frame listener address; empty means disabled.
func (c *Config) GetUDPListen() string {
	if c.UDPListen == nil {
		return ""
	}
	return *c.UDPListen
}

// GetUDPPort returns the UDP destination port used to filter pcap replays.
func (c *Config) GetUDPPort() int {
	if c.UDPPort == nil {
		return 5600
	}
	return *c.UDPPort
}

// GetDBPath returns db_path or the default.
func (c *Config) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "linecount.db"
	}
	return *c.DBPath
}
