package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	JWT         JWTConfig         `mapstructure:"jwt"`
	Chrome      ChromeConfig      `mapstructure:"chrome"`
	Logger      LoggerConfig      `mapstructure:"logger"`
	Macro       MacroConfig       `mapstructure:"macro"`
	Navigation  NavigationConfig  `mapstructure:"navigation"`
	Recorder    RecorderConfig    `mapstructure:"recorder"`
	AutoLogin   AutoLoginConfig   `mapstructure:"autologin"`
	Replay      ReplayConfig      `mapstructure:"replay"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
}

type ServerConfig struct {
	Port         string `mapstructure:"port"`
	Host         string `mapstructure:"host"`
	Mode         string `mapstructure:"mode"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	Charset  string `mapstructure:"charset"`
	SSLMode  string `mapstructure:"sslmode"`
	// URL overrides the discrete fields for the postgres driver.
	URL string `mapstructure:"url"`
	// AdminPassword seeds the "admin" user of an empty mysql database.
	AdminPassword string `mapstructure:"admin_password"`
}

type JWTConfig struct {
	Secret     string `mapstructure:"secret"`
	ExpireTime int    `mapstructure:"expire_time"`
}

type ChromeConfig struct {
	HeadlessMode      bool   `mapstructure:"headless"`
	ExecPath          string `mapstructure:"exec_path"`
	ProfileRoot       string `mapstructure:"profile_root"`
	StartURL          string `mapstructure:"start_url"`
	InjectBasicAuth   bool   `mapstructure:"inject_basic_auth"`
	AutoAcceptDialogs bool   `mapstructure:"auto_accept_dialogs"`
	MaxSessions       int    `mapstructure:"max_sessions"`
}

type LoggerConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	ServiceName string `mapstructure:"service_name"`
	AddSource   bool   `mapstructure:"add_source"`
	LogFile     string `mapstructure:"log_file"`
	MaxSize     int    `mapstructure:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAge      int    `mapstructure:"max_age"`
	Compress    bool   `mapstructure:"compress"`
}

type MacroConfig struct {
	Directory   string `mapstructure:"directory"`
	DefaultName string `mapstructure:"default_name"`
}

type NavigationConfig struct {
	RestrictDomain bool `mapstructure:"restrict_domain"`
}

type RecorderConfig struct {
	ClickThrottle  time.Duration `mapstructure:"click_throttle"`
	InputDebounce  time.Duration `mapstructure:"input_debounce"`
	NavigateWindow time.Duration `mapstructure:"navigate_window"`
}

// FormConfig names the login form fields on the target site.
type FormConfig struct {
	UsernameField    string `mapstructure:"username_field"`
	PasswordField    string `mapstructure:"password_field"`
	SupportField     string `mapstructure:"support_field"`
	SupportSource    string `mapstructure:"support_source"`
	SubmitSelector   string `mapstructure:"submit_selector"`
	SubmitDelayMilli int    `mapstructure:"submit_delay_ms"`
}

type AutoLoginConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	LoginURLMatch  string        `mapstructure:"login_url_match"`
	TargetURLMatch string        `mapstructure:"target_url_match"`
	SettleDelay    time.Duration `mapstructure:"settle_delay"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
	Form           FormConfig    `mapstructure:"form"`
}

type ReplayConfig struct {
	StepDelay       time.Duration `mapstructure:"step_delay"`
	NavigateWait    time.Duration `mapstructure:"navigate_wait"`
	CredentialsWait time.Duration `mapstructure:"credentials_wait"`
	ClickScrollWait time.Duration `mapstructure:"click_scroll_wait"`
	InputWait       time.Duration `mapstructure:"input_wait"`
	EnterWait       time.Duration `mapstructure:"enter_wait"`
	StepTimeout     time.Duration `mapstructure:"step_timeout"`
	PromptTimeout   time.Duration `mapstructure:"prompt_timeout"`
}

type SchedulerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// SyncInterval is how often schedules are reloaded from the database.
	SyncInterval time.Duration `mapstructure:"sync_interval"`
}

type CredentialsConfig struct {
	// SealingKey is a 32 byte key, hex encoded. Empty stores secrets as given.
	SealingKey string `mapstructure:"sealing_key"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.username", "naviguard")
	v.SetDefault("database.database", "naviguard")
	v.SetDefault("database.charset", "utf8mb4")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expire_time", 12*3600)

	v.SetDefault("chrome.headless", false)
	v.SetDefault("chrome.profile_root", "~/.naviguard/profiles")
	v.SetDefault("chrome.start_url", "https://www.google.com")
	v.SetDefault("chrome.inject_basic_auth", true)
	v.SetDefault("chrome.auto_accept_dialogs", true)
	v.SetDefault("chrome.max_sessions", 8)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "naviguard")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 28)

	v.SetDefault("macro.directory", "")
	v.SetDefault("macro.default_name", "macro.json")

	v.SetDefault("navigation.restrict_domain", true)

	v.SetDefault("recorder.click_throttle", 100*time.Millisecond)
	v.SetDefault("recorder.input_debounce", 800*time.Millisecond)
	v.SetDefault("recorder.navigate_window", time.Second)

	v.SetDefault("autologin.enabled", true)
	v.SetDefault("autologin.login_url_match", "login.php")
	v.SetDefault("autologin.target_url_match", "rep_new.php")
	v.SetDefault("autologin.settle_delay", time.Second)
	v.SetDefault("autologin.max_attempts", 1)
	v.SetDefault("autologin.retry_backoff", 500*time.Millisecond)
	v.SetDefault("autologin.form.username_field", "txtemail")
	v.SetDefault("autologin.form.password_field", "txtpas")
	v.SetDefault("autologin.form.support_field", "txtcarac")
	v.SetDefault("autologin.form.support_source", "txtcodcarac")
	v.SetDefault("autologin.form.submit_selector", ".btn_access")
	v.SetDefault("autologin.form.submit_delay_ms", 500)

	v.SetDefault("replay.step_delay", 700*time.Millisecond)
	v.SetDefault("replay.navigate_wait", 3*time.Second)
	v.SetDefault("replay.credentials_wait", time.Second)
	v.SetDefault("replay.click_scroll_wait", 300*time.Millisecond)
	v.SetDefault("replay.input_wait", 300*time.Millisecond)
	v.SetDefault("replay.enter_wait", 1500*time.Millisecond)
	v.SetDefault("replay.step_timeout", 30*time.Second)
	v.SetDefault("replay.prompt_timeout", 10*time.Minute)

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.sync_interval", time.Minute)
}

// NewConfigFromViper decodes v into a Config and validates it.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads configFile (or ./config.yaml when empty) plus NAVIGUARD_* env overrides.
// A missing config file is not an error.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("NAVIGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return NewConfigFromViper(v)
}

func (c *Config) resolvePaths() error {
	if c.Macro.Directory == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("failed to resolve user config dir: %w", err)
		}
		c.Macro.Directory = filepath.Join(base, "Naviguard", "Macros")
	}

	dir, err := homedir.Expand(c.Macro.Directory)
	if err != nil {
		return fmt.Errorf("failed to expand macro directory: %w", err)
	}
	c.Macro.Directory = dir

	root, err := homedir.Expand(c.Chrome.ProfileRoot)
	if err != nil {
		return fmt.Errorf("failed to expand chrome profile root: %w", err)
	}
	c.Chrome.ProfileRoot = root
	return nil
}

// Validate checks values that have no sensible fallback.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres":
	default:
		return fmt.Errorf("database.driver must be mysql or postgres, got %q", c.Database.Driver)
	}
	if c.JWT.Secret == "" {
		return errors.New("jwt.secret is required")
	}
	if c.Macro.DefaultName == "" {
		return errors.New("macro.default_name is required")
	}
	if c.AutoLogin.MaxAttempts < 1 {
		return errors.New("autologin.max_attempts must be at least 1")
	}
	if c.Replay.StepTimeout <= 0 {
		return errors.New("replay.step_timeout must be positive")
	}
	if c.Credentials.SealingKey != "" && len(c.Credentials.SealingKey) != 64 {
		return errors.New("credentials.sealing_key must be 64 hex characters")
	}
	return nil
}

func (c *Config) GetDSN() string {
	if c.Database.Driver == "postgres" {
		if c.Database.URL != "" {
			return c.Database.URL
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
			c.Database.Username,
			c.Database.Password,
			c.Database.Host,
			c.Database.Port,
			c.Database.Database,
			c.Database.SSLMode,
		)
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=%s&parseTime=True&loc=Local",
		c.Database.Username,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.Charset,
	)
}
