// Package config loads run settings from defaults, a YAML file, VISITLY_*
// environment variables and bound command-line flags.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"visitly-go/application"
	"visitly-go/application/interaction"
	"visitly-go/application/session"
	"visitly-go/application/visit"
	"visitly-go/domain/script"
	"visitly-go/infrastructure/browser"
	"visitly-go/infrastructure/logging"
	"visitly-go/infrastructure/repository"
	"visitly-go/resources"
)

// EnvPrefix prefixes every environment override, e.g. VISITLY_VISIT_SLEEP.
const EnvPrefix = "VISITLY"

// DefaultFileName is looked up in the working directory when no file is given.
const DefaultFileName = "visitly"

// Config is the complete run configuration.
type Config struct {
	Targets     TargetsConfig     `mapstructure:"targets"`
	Scripts     ScriptsConfig     `mapstructure:"scripts"`
	Visit       VisitConfig       `mapstructure:"visit"`
	Loop        LoopConfig        `mapstructure:"loop"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Interaction InteractionConfig `mapstructure:"interaction"`
	Browser     BrowserConfig     `mapstructure:"browser"`
	Logger      LoggerConfig      `mapstructure:"logger"`
	History     HistoryConfig     `mapstructure:"history"`
}

type TargetsConfig struct {
	File    string `mapstructure:"file"`
	Shuffle bool   `mapstructure:"shuffle"`
}

type ScriptsConfig struct {
	Dir        string `mapstructure:"dir"`
	FileName   string `mapstructure:"file_name"`
	EntryPoint string `mapstructure:"entry_point"`
	Mode       string `mapstructure:"mode"`
	Overlay    bool   `mapstructure:"overlay"`
}

type VisitConfig struct {
	Sleep        time.Duration `mapstructure:"sleep"`
	MaxVisitTime time.Duration `mapstructure:"max_visit_time"`
	ReadyTimeout time.Duration `mapstructure:"ready_timeout"`
	Fallback     bool          `mapstructure:"fallback"`
}

type LoopConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Sleep   time.Duration `mapstructure:"sleep"`
}

type RetryConfig struct {
	MaxRetries          int           `mapstructure:"max_retries"`
	Backoff             time.Duration `mapstructure:"backoff"`
	MaxCreationAttempts int           `mapstructure:"max_creation_attempts"`
	CreationBackoffBase time.Duration `mapstructure:"creation_backoff_base"`
	CreationBackoffStep time.Duration `mapstructure:"creation_backoff_step"`
}

type InteractionConfig struct {
	Chance      float64       `mapstructure:"chance"`
	MinInterval time.Duration `mapstructure:"min_interval"`
	MaxInterval time.Duration `mapstructure:"max_interval"`
}

type BrowserConfig struct {
	Headless           bool   `mapstructure:"headless"`
	Mute               bool   `mapstructure:"mute"`
	IgnoreTLSErrors    bool   `mapstructure:"ignore_tls_errors"`
	SuppressAutomation bool   `mapstructure:"suppress_automation"`
	NoSandbox          bool   `mapstructure:"no_sandbox"`
	DisableGPU         bool   `mapstructure:"disable_gpu"`
	WindowWidth        int    `mapstructure:"window_width"`
	WindowHeight       int    `mapstructure:"window_height"`
	ExecPath           string `mapstructure:"exec_path"`
	UserDataDir        string `mapstructure:"user_data_dir"`

	// Zero timeouts fall back to visit.max_visit_time.
	PageLoadTimeout time.Duration `mapstructure:"page_load_timeout"`
	ScriptTimeout   time.Duration `mapstructure:"script_timeout"`
}

type LoggerConfig struct {
	ConsoleLevel string `mapstructure:"console_level"`
	FileLevel    string `mapstructure:"file_level"`
	File         string `mapstructure:"file"`
	MaxSize      int    `mapstructure:"max_size"`
	MaxBackups   int    `mapstructure:"max_backups"`
	MaxAge       int    `mapstructure:"max_age"`
	Compress     bool   `mapstructure:"compress"`
	AddSource    bool   `mapstructure:"add_source"`
}

type HistoryConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	PingTimeout    time.Duration `mapstructure:"ping_timeout"`
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	// -- Targets --
	v.SetDefault("targets.file", "urls.txt")
	v.SetDefault("targets.shuffle", false)

	// -- Scripts --
	v.SetDefault("scripts.dir", "scripts")
	v.SetDefault("scripts.file_name", script.DefaultFileName)
	v.SetDefault("scripts.entry_point", script.DefaultEntryPoint)
	v.SetDefault("scripts.mode", string(script.ModeAuto))
	v.SetDefault("scripts.overlay", true)

	// -- Visit --
	v.SetDefault("visit.sleep", "300s")
	v.SetDefault("visit.max_visit_time", "300s")
	v.SetDefault("visit.ready_timeout", "30s")
	v.SetDefault("visit.fallback", true)

	// -- Loop --
	v.SetDefault("loop.enabled", false)
	v.SetDefault("loop.sleep", "60s")

	// -- Retry --
	v.SetDefault("retry.max_retries", 2)
	v.SetDefault("retry.backoff", "3s")
	v.SetDefault("retry.max_creation_attempts", 3)
	v.SetDefault("retry.creation_backoff_base", "1s")
	v.SetDefault("retry.creation_backoff_step", "2s")

	// -- Interaction --
	v.SetDefault("interaction.chance", 0.1)
	v.SetDefault("interaction.min_interval", "500ms")
	v.SetDefault("interaction.max_interval", "2s")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.mute", false)
	v.SetDefault("browser.ignore_tls_errors", true)
	v.SetDefault("browser.suppress_automation", true)
	v.SetDefault("browser.no_sandbox", true)
	v.SetDefault("browser.disable_gpu", true)
	v.SetDefault("browser.window_width", 1280)
	v.SetDefault("browser.window_height", 800)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.user_data_dir", "")
	v.SetDefault("browser.page_load_timeout", "0s")
	v.SetDefault("browser.script_timeout", "0s")

	// -- Logger --
	v.SetDefault("logger.console_level", "info")
	v.SetDefault("logger.file_level", "debug")
	v.SetDefault("logger.file", "visitly.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.add_source", false)

	// -- History --
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.uri", "mongodb://localhost:27017")
	v.SetDefault("history.database", "visitly")
	v.SetDefault("history.connect_timeout", "10s")
	v.SetDefault("history.ping_timeout", "5s")
}

// Load reads the configuration into a validated Config. cfgFile may be empty,
// in which case ./visitly.yaml is used when present.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(DefaultFileName)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// secondsHook reads bare numbers as seconds, so `sleep: 300` and
// `--sleep 300` mean five minutes. Strings with a unit are left to
// StringToTimeDurationHookFunc.
func secondsHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) || from == reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return data, nil
			}
			return time.Duration(f * float64(time.Second)), nil
		default:
			return data, nil
		}
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Targets.File == "" {
		return fmt.Errorf("targets.file is required")
	}
	if c.Scripts.Dir == "" {
		return fmt.Errorf("scripts.dir is required")
	}
	if c.Scripts.FileName == "" || strings.ContainsAny(c.Scripts.FileName, `/\`) {
		return fmt.Errorf("scripts.file_name must be a plain file name")
	}
	if _, err := script.ParseMode(c.Scripts.Mode); err != nil {
		return fmt.Errorf("scripts.mode: %w", err)
	}
	if c.Visit.Sleep < 0 {
		return fmt.Errorf("visit.sleep must not be negative")
	}
	if c.Visit.MaxVisitTime <= 0 {
		return fmt.Errorf("visit.max_visit_time must be positive")
	}
	if c.Visit.ReadyTimeout < 0 {
		return fmt.Errorf("visit.ready_timeout must not be negative")
	}
	if c.Loop.Sleep < 0 {
		return fmt.Errorf("loop.sleep must not be negative")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative")
	}
	if c.Retry.Backoff < 0 {
		return fmt.Errorf("retry.backoff must not be negative")
	}
	if c.Retry.MaxCreationAttempts < 1 {
		return fmt.Errorf("retry.max_creation_attempts must be at least 1")
	}
	if c.Interaction.Chance < 0 || c.Interaction.Chance > 1 {
		return fmt.Errorf("interaction.chance must be between 0.0 and 1.0")
	}
	if c.Interaction.MinInterval <= 0 {
		return fmt.Errorf("interaction.min_interval must be positive")
	}
	if c.Interaction.MinInterval > c.Interaction.MaxInterval {
		return fmt.Errorf("interaction.min_interval must not exceed interaction.max_interval")
	}
	if c.Browser.WindowWidth <= 0 || c.Browser.WindowHeight <= 0 {
		return fmt.Errorf("browser window size must be positive")
	}
	if c.Browser.PageLoadTimeout < 0 || c.Browser.ScriptTimeout < 0 {
		return fmt.Errorf("browser timeouts must not be negative")
	}
	if _, err := logging.ParseLevel(c.Logger.ConsoleLevel); err != nil {
		return fmt.Errorf("logger.console_level: %w", err)
	}
	if _, err := logging.ParseLevel(c.Logger.FileLevel); err != nil {
		return fmt.Errorf("logger.file_level: %w", err)
	}
	if c.History.Enabled && c.History.URI == "" {
		return fmt.Errorf("history.uri is required when history is enabled")
	}
	return nil
}

// DriverConfig returns the browser settings. Unset timeouts follow the
// maximum visit time.
func (c *Config) DriverConfig() *browser.DriverConfig {
	cfg := &browser.DriverConfig{
		Headless:           c.Browser.Headless,
		WindowWidth:        c.Browser.WindowWidth,
		WindowHeight:       c.Browser.WindowHeight,
		DisableGPU:         c.Browser.DisableGPU,
		NoSandbox:          c.Browser.NoSandbox,
		MuteAudio:          c.Browser.Mute,
		IgnoreTLSErrors:    c.Browser.IgnoreTLSErrors,
		SuppressAutomation: c.Browser.SuppressAutomation,
		ExecPath:           c.Browser.ExecPath,
		UserDataDir:        c.Browser.UserDataDir,
		PageLoadTimeout:    c.Browser.PageLoadTimeout,
		ScriptTimeout:      c.Browser.ScriptTimeout,
	}
	if cfg.PageLoadTimeout == 0 {
		cfg.PageLoadTimeout = c.Visit.MaxVisitTime
	}
	if cfg.ScriptTimeout == 0 {
		cfg.ScriptTimeout = c.Visit.MaxVisitTime
	}
	if cfg.SuppressAutomation {
		cfg.InitScripts = []string{resources.Stealth}
	}
	return cfg
}

// StoreConfig returns the script lookup settings.
func (c *Config) StoreConfig() *script.StoreConfig {
	mode, _ := script.ParseMode(c.Scripts.Mode)
	return &script.StoreConfig{
		Dir:        c.Scripts.Dir,
		FileName:   c.Scripts.FileName,
		Mode:       mode,
		EntryPoint: c.Scripts.EntryPoint,
		Overlay:    c.Scripts.Overlay,
	}
}

// VisitConfig returns the per-visit timing.
func (c *Config) VisitConfig() *visit.Config {
	return &visit.Config{
		VisitSleep:   c.Visit.Sleep,
		MaxVisitTime: c.Visit.MaxVisitTime,
		ReadyTimeout: c.Visit.ReadyTimeout,
		Fallback:     c.Visit.Fallback,
	}
}

// RetryPolicy returns the scheduling knobs.
func (c *Config) RetryPolicy() *application.RetryPolicy {
	return &application.RetryPolicy{
		MaxRetries: c.Retry.MaxRetries,
		Backoff:    c.Retry.Backoff,
		Loop:       c.Loop.Enabled,
		LoopSleep:  c.Loop.Sleep,
		Shuffle:    c.Targets.Shuffle,
	}
}

// InteractionConfig returns the interaction tuning.
func (c *Config) InteractionConfig() *interaction.Config {
	return &interaction.Config{
		Chance:      c.Interaction.Chance,
		MinInterval: c.Interaction.MinInterval,
		MaxInterval: c.Interaction.MaxInterval,
	}
}

// ManagerConfig returns the session creation settings.
func (c *Config) ManagerConfig() *session.ManagerConfig {
	cfg := session.DefaultManagerConfig()
	cfg.MaxCreationAttempts = c.Retry.MaxCreationAttempts
	cfg.CreationBackoffBase = c.Retry.CreationBackoffBase
	cfg.CreationBackoffStep = c.Retry.CreationBackoffStep
	return cfg
}

// LoggingConfig returns the log sink settings. Levels were checked by Validate.
func (c *Config) LoggingConfig() *logging.Config {
	cfg := logging.DefaultConfig()
	cfg.ConsoleLevel, _ = logging.ParseLevel(c.Logger.ConsoleLevel)
	cfg.FileLevel, _ = logging.ParseLevel(c.Logger.FileLevel)
	cfg.File = c.Logger.File
	cfg.MaxSizeMB = c.Logger.MaxSize
	cfg.MaxBackups = c.Logger.MaxBackups
	cfg.MaxAgeDays = c.Logger.MaxAge
	cfg.Compress = c.Logger.Compress
	cfg.AddSource = c.Logger.AddSource
	return cfg
}

// MongoDBConfig returns the history store settings.
func (c *Config) MongoDBConfig() *repository.MongoDBConfig {
	return &repository.MongoDBConfig{
		URI:            c.History.URI,
		Database:       c.History.Database,
		ConnectTimeout: c.History.ConnectTimeout,
		PingTimeout:    c.History.PingTimeout,
	}
}
