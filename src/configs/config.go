package configs

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// RPC info.
type RPC struct {
	Enable bool   `yaml:"enable" json:"enable"`
	Bind   string `yaml:"bind" json:"bind"`
}

var defaultRPC = RPC{
	Enable: true,
	Bind:   ":8090",
}

func (r *RPC) verify() error {
	if r == nil || !r.Enable {
		return nil
	}
	if _, err := net.ResolveTCPAddr("tcp", r.Bind); err != nil {
		return fmt.Errorf("invalid rpc bind address: %w", err)
	}
	return nil
}

// Recording is the user-facing recording policy.
type Recording struct {
	Mode            RecordingMode `yaml:"mode" json:"mode"`
	Quality         string        `yaml:"quality" json:"quality"`
	DurationMinutes int           `yaml:"duration_minutes" json:"duration_minutes"`

	// Legacy boolean pair from releases before the enumerated mode existed.
	// Kept only so migrateLegacyFlags can read them; omitted on save.
	AutoRecord  *bool `yaml:"auto_record,omitempty" json:"-"`
	QueueAlerts *bool `yaml:"queue_alerts,omitempty" json:"-"`
}

var defaultRecording = Recording{
	Mode:            RecordingModeAuto,
	Quality:         "1080p",
	DurationMinutes: 60,
}

// migrateLegacyFlags converts the old {auto_record, queue_alerts} pair into
// the enumerated mode. Returns true when a rewrite of the file is needed.
func (r *Recording) migrateLegacyFlags() bool {
	if r.AutoRecord == nil && r.QueueAlerts == nil {
		return false
	}
	switch {
	case r.AutoRecord != nil && *r.AutoRecord:
		r.Mode = RecordingModeAuto
	case r.QueueAlerts != nil && *r.QueueAlerts:
		r.Mode = RecordingModeAsk
	default:
		r.Mode = RecordingModeNever
	}
	r.AutoRecord = nil
	r.QueueAlerts = nil
	return true
}

// Capture holds the settings handed to the capture provider on start.
type Capture struct {
	Width            int    `yaml:"width" json:"width"`
	Height           int    `yaml:"height" json:"height"`
	Fps              int    `yaml:"fps" json:"fps"`
	MaxKbps          int    `yaml:"max_kbps" json:"max_kbps"`
	Encoder          string `yaml:"encoder,omitempty" json:"encoder,omitempty"` // empty = auto-select
	MicEnable        bool   `yaml:"mic_enable" json:"mic_enable"`
	MicVolume        int    `yaml:"mic_volume" json:"mic_volume"`
	MicDevice        string `yaml:"mic_device" json:"mic_device"`
	GameAudioEnable  bool   `yaml:"game_audio_enable" json:"game_audio_enable"`
	GameAudioVolume  int    `yaml:"game_audio_volume" json:"game_audio_volume"`
	GameAudioDevice  string `yaml:"game_audio_device" json:"game_audio_device"`
	SubFolderName    string `yaml:"sub_folder_name" json:"sub_folder_name"`
	MaxFileSizeBytes int64  `yaml:"max_file_size_bytes" json:"max_file_size_bytes"`
	CaptureCursor    string `yaml:"capture_cursor" json:"capture_cursor"`
	// MinFreeDiskMB is the free-space floor below which an active capture is
	// stopped to protect the recording already on disk.
	MinFreeDiskMB uint64 `yaml:"min_free_disk_mb" json:"min_free_disk_mb"`
}

var defaultCapture = Capture{
	Width:            1920,
	Height:           1080,
	Fps:              30,
	MaxKbps:          8000,
	MicEnable:        true,
	MicVolume:        100,
	MicDevice:        "default",
	GameAudioEnable:  true,
	GameAudioVolume:  75,
	GameAudioDevice:  "default",
	SubFolderName:    "Recordings",
	MaxFileSizeBytes: 500_000_000,
	CaptureCursor:    "game_only",
	MinFreeDiskMB:    512,
}

type Log struct {
	OutPutFolder string `yaml:"out_put_folder" json:"out_put_folder"`
	SaveLastLog  bool   `yaml:"save_last_log" json:"save_last_log"`
	RotateDays   int    `yaml:"rotate_days" json:"rotate_days"`
}

var defaultLog = Log{
	OutPutFolder: "./",
	SaveLastLog:  true,
	RotateDays:   7,
}

type Sentry struct {
	Enable bool `yaml:"enable" json:"enable"`
}

type Config struct {
	File string `yaml:"-" json:"-"`

	Debug            bool      `yaml:"debug" json:"debug"`
	RPC              RPC       `yaml:"rpc" json:"rpc"`
	Recording        Recording `yaml:"recording" json:"recording"`
	Capture          Capture   `yaml:"capture" json:"capture"`
	Log              Log       `yaml:"log" json:"log"`
	Sentry           Sentry    `yaml:"sentry" json:"sentry"`
	AppDataPath      string    `yaml:"app_data_path" json:"app_data_path"`
	HistoryLimit     int       `yaml:"history_limit" json:"history_limit"`
	SupportedGameIDs []int     `yaml:"supported_game_ids" json:"supported_game_ids"`
}

// NewConfig returns a config populated with defaults.
func NewConfig() *Config {
	return &Config{
		RPC:          defaultRPC,
		Recording:    defaultRecording,
		Capture:      defaultCapture,
		Log:          defaultLog,
		AppDataPath:  ".appdata",
		HistoryLimit: 100,
		// Rematch's class id in the capture platform's game registry.
		SupportedGameIDs: []int{24520},
	}
}

// NewConfigWithFile loads configuration from a YAML file, applying .env
// overrides first and the one-time legacy settings migration after.
func NewConfigWithFile(configFile string) (*Config, error) {
	_ = godotenv.Load()

	b, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %s", configFile)
	}
	config := NewConfig()
	if err := yaml.Unmarshal(b, config); err != nil {
		return nil, err
	}
	config.File = configFile
	if bind := os.Getenv("REMATCH_COACH_BIND"); bind != "" {
		config.RPC.Bind = bind
	}
	if config.Recording.migrateLegacyFlags() {
		if err := config.Marshal(); err != nil {
			return nil, fmt.Errorf("failed to persist migrated settings: %w", err)
		}
	}
	return config, nil
}

func (c *Config) Verify() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if err := c.RPC.verify(); err != nil {
		return err
	}
	if !c.Recording.Mode.IsValid() {
		return fmt.Errorf("unknown recording mode: %q", c.Recording.Mode)
	}
	if c.HistoryLimit <= 0 {
		return errors.New("history_limit must be positive")
	}
	if c.Capture.Fps <= 0 || c.Capture.Width <= 0 || c.Capture.Height <= 0 {
		return errors.New("capture resolution and fps must be positive")
	}
	return nil
}

// Marshal persists the config back to its source file. No-op for configs not
// loaded from a file.
func (c *Config) Marshal() error {
	if c.File == "" {
		return nil
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(c.File); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(c.File, b, 0o644)
}

// IsSupportedGame reports whether the given class id is on the allowlist.
func (c *Config) IsSupportedGame(classID int) bool {
	for _, id := range c.SupportedGameIDs {
		if id == classID {
			return true
		}
	}
	return false
}

var currentConfig atomic.Pointer[Config]

func SetCurrentConfig(cfg *Config) {
	currentConfig.Store(cfg)
}

func GetCurrentConfig() *Config {
	return currentConfig.Load()
}

func IsDebug() bool {
	cfg := GetCurrentConfig()
	return cfg != nil && cfg.Debug
}

// UpdateRecordingMode mutates the policy and persists the change, per the
// settings lifecycle: every user-visible mutation is written through.
func UpdateRecordingMode(mode RecordingMode) error {
	cfg := GetCurrentConfig()
	if cfg == nil {
		return errors.New("no current config")
	}
	if !mode.IsValid() {
		return fmt.Errorf("unknown recording mode: %q", mode)
	}
	cfg.Recording.Mode = mode
	return cfg.Marshal()
}
