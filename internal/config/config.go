// Package config loads service settings from YAML or TOML, then applies
// .env, PODVIZ_* environment variables and bound command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/codebuildervaibhav/podcast-animator/internal/diarize"
)

// EnvPrefix is the prefix for environment overrides, e.g. PODVIZ_SERVER_PORT
const EnvPrefix = "PODVIZ"

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" toml:"server"`
	Workers     WorkersConfig     `yaml:"workers" toml:"workers"`
	Storage     StorageConfig     `yaml:"storage" toml:"storage"`
	Cleanup     CleanupConfig     `yaml:"cleanup" toml:"cleanup"`
	Limits      LimitsConfig      `yaml:"limits" toml:"limits"`
	Diarization diarize.Config    `yaml:"diarization" toml:"diarization"`
	Render      RenderConfig      `yaml:"render" toml:"render"`
	X           XConfig           `yaml:"x" toml:"x"`
	GoogleDrive GoogleDriveConfig `yaml:"google_drive" toml:"google_drive"`
	MQTT        MQTTConfig        `yaml:"mqtt" toml:"mqtt"`
	ClickHouse  ClickHouseConfig  `yaml:"clickhouse" toml:"clickhouse"`
	Log         LogConfig         `yaml:"log" toml:"log"`
}

type ServerConfig struct {
	Port int    `yaml:"port" toml:"port"`
	Host string `yaml:"host" toml:"host"`
}

type WorkersConfig struct {
	Count     int `yaml:"count" toml:"count"`
	QueueSize int `yaml:"queue_size" toml:"queue_size"`
}

type StorageConfig struct {
	TempDir   string `yaml:"temp_dir" toml:"temp_dir"`
	OutputDir string `yaml:"output_dir" toml:"output_dir"`
	ExportDir string `yaml:"export_dir" toml:"export_dir"`
	Database  string `yaml:"database" toml:"database"`
}

type CleanupConfig struct {
	IntervalMinutes int `yaml:"interval_minutes" toml:"interval_minutes"`
	MaxAgeHours     int `yaml:"max_age_hours" toml:"max_age_hours"`
}

type LimitsConfig struct {
	MaxFileSizeMB      int `yaml:"max_file_size_mb" toml:"max_file_size_mb"`
	MaxDurationMinutes int `yaml:"max_duration_minutes" toml:"max_duration_minutes"`
}

type RenderConfig struct {
	Width      int `yaml:"width" toml:"width"`
	Height     int `yaml:"height" toml:"height"`
	FPS        int `yaml:"fps" toml:"fps"`
	TickMillis int `yaml:"tick_millis" toml:"tick_millis"`
}

// XConfig configures avatar lookups. An empty bearer token disables them.
type XConfig struct {
	BearerToken string `yaml:"bearer_token" toml:"bearer_token"`
	BaseURL     string `yaml:"base_url" toml:"base_url"`
}

type GoogleDriveConfig struct {
	CredentialsFile string `yaml:"credentials_file" toml:"credentials_file"`
	TokenFile       string `yaml:"token_file" toml:"token_file"`
	FolderName      string `yaml:"folder_name" toml:"folder_name"`
}

// MQTTConfig configures job events. An empty broker disables them.
type MQTTConfig struct {
	Broker   string `yaml:"broker" toml:"broker"`
	ClientID string `yaml:"client_id" toml:"client_id"`
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
	Topic    string `yaml:"topic" toml:"topic"`
}

// ClickHouseConfig configures the segment analytics sink. An empty address disables it.
type ClickHouseConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Database string `yaml:"database" toml:"database"`
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns a configuration that runs locally with no external services
func Default() *Config {
	return &Config{
		Server:      ServerConfig{Port: 8080, Host: "0.0.0.0"},
		Workers:     WorkersConfig{Count: 2, QueueSize: 100},
		Storage:     StorageConfig{TempDir: "temp", OutputDir: "outputs", ExportDir: "exports", Database: "podviz.db"},
		Cleanup:     CleanupConfig{IntervalMinutes: 30, MaxAgeHours: 24},
		Limits:      LimitsConfig{MaxFileSizeMB: 2048, MaxDurationMinutes: 240},
		Diarization: diarize.DefaultConfig(),
		Render:      RenderConfig{Width: 800, Height: 450, FPS: 30, TickMillis: 33},
		X:           XConfig{BaseURL: "https://api.twitter.com"},
		GoogleDrive: GoogleDriveConfig{CredentialsFile: "config/credentials.json", TokenFile: "config/token.json", FolderName: "Podcast Animations"},
		MQTT:        MQTTConfig{ClientID: "podviz", Topic: "podviz/jobs/{job_id}"},
		ClickHouse:  ClickHouseConfig{Database: "default", Username: "default"},
		Log:         LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the config file at path (if any) over the defaults, then applies
// overrides from v. Keys are dotted, e.g. "server.port", and are looked up in
// bound flags and PODVIZ_SERVER_PORT style environment variables.
func Load(path string, v *viper.Viper) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if v == nil {
		v = viper.New()
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	applyOverrides(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return nil
}

func applyOverrides(v *viper.Viper, cfg *Config) {
	setString(v, "server.host", &cfg.Server.Host)
	setInt(v, "server.port", &cfg.Server.Port)
	setInt(v, "workers.count", &cfg.Workers.Count)
	setInt(v, "workers.queue_size", &cfg.Workers.QueueSize)
	setString(v, "storage.temp_dir", &cfg.Storage.TempDir)
	setString(v, "storage.output_dir", &cfg.Storage.OutputDir)
	setString(v, "storage.export_dir", &cfg.Storage.ExportDir)
	setString(v, "storage.database", &cfg.Storage.Database)
	setInt(v, "cleanup.interval_minutes", &cfg.Cleanup.IntervalMinutes)
	setInt(v, "cleanup.max_age_hours", &cfg.Cleanup.MaxAgeHours)
	setInt(v, "limits.max_file_size_mb", &cfg.Limits.MaxFileSizeMB)
	setInt(v, "limits.max_duration_minutes", &cfg.Limits.MaxDurationMinutes)
	setFloat(v, "diarization.volume_weight", &cfg.Diarization.VolumeWeight)
	setFloat(v, "diarization.energy_weight", &cfg.Diarization.EnergyWeight)
	setFloat(v, "diarization.consistency_bias", &cfg.Diarization.ConsistencyBias)
	setFloat(v, "diarization.activity_threshold", &cfg.Diarization.ActivityThreshold)
	setInt(v, "render.width", &cfg.Render.Width)
	setInt(v, "render.height", &cfg.Render.Height)
	setInt(v, "render.fps", &cfg.Render.FPS)
	setInt(v, "render.tick_millis", &cfg.Render.TickMillis)
	setString(v, "x.bearer_token", &cfg.X.BearerToken)
	setString(v, "x.base_url", &cfg.X.BaseURL)
	setString(v, "google_drive.credentials_file", &cfg.GoogleDrive.CredentialsFile)
	setString(v, "google_drive.token_file", &cfg.GoogleDrive.TokenFile)
	setString(v, "google_drive.folder_name", &cfg.GoogleDrive.FolderName)
	setString(v, "mqtt.broker", &cfg.MQTT.Broker)
	setString(v, "mqtt.client_id", &cfg.MQTT.ClientID)
	setString(v, "mqtt.username", &cfg.MQTT.Username)
	setString(v, "mqtt.password", &cfg.MQTT.Password)
	setString(v, "mqtt.topic", &cfg.MQTT.Topic)
	setString(v, "clickhouse.addr", &cfg.ClickHouse.Addr)
	setString(v, "clickhouse.database", &cfg.ClickHouse.Database)
	setString(v, "clickhouse.username", &cfg.ClickHouse.Username)
	setString(v, "clickhouse.password", &cfg.ClickHouse.Password)
	setString(v, "log.level", &cfg.Log.Level)
	setString(v, "log.format", &cfg.Log.Format)
}

func setString(v *viper.Viper, key string, dst *string) {
	if v.IsSet(key) {
		*dst = v.GetString(key)
	}
}

func setInt(v *viper.Viper, key string, dst *int) {
	if v.IsSet(key) {
		*dst = v.GetInt(key)
	}
}

func setFloat(v *viper.Viper, key string, dst *float64) {
	if v.IsSet(key) {
		*dst = v.GetFloat64(key)
	}
}

// Validate rejects settings the service cannot run with
func (c *Config) Validate() error {
	switch {
	case c.Workers.Count < 1:
		return fmt.Errorf("workers.count must be at least 1, got %d", c.Workers.Count)
	case c.Limits.MaxFileSizeMB < 1:
		return fmt.Errorf("limits.max_file_size_mb must be positive, got %d", c.Limits.MaxFileSizeMB)
	case c.Render.Width < 1 || c.Render.Height < 1:
		return fmt.Errorf("render size must be positive, got %dx%d", c.Render.Width, c.Render.Height)
	case c.Render.FPS < 1:
		return fmt.Errorf("render.fps must be positive, got %d", c.Render.FPS)
	case c.Diarization.ConsistencyBias < 0 || c.Diarization.ActivityThreshold < 0:
		return errors.New("diarization bias and threshold must not be negative")
	}
	return nil
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
