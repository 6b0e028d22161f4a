// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xkilldash9x/rollcall/api/schemas"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Site     SiteConfig     `mapstructure:"site" yaml:"site"`
	Actions  ActionsConfig  `mapstructure:"actions" yaml:"actions"`
	Wait     WaitConfig     `mapstructure:"wait" yaml:"wait"`
	Batch    BatchConfig    `mapstructure:"batch" yaml:"batch"`
	Audit    AuditConfig    `mapstructure:"audit" yaml:"audit"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Report   ReportConfig   `mapstructure:"report" yaml:"report"`
	Run      RunConfig      `mapstructure:"run" yaml:"run"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the Chrome instance driven over CDP.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	WindowWidth       int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight      int           `mapstructure:"window_height" yaml:"window_height"`
	LaunchTimeout     time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	// Persona overrides applied to every tab before the first navigation. Empty values keep Chrome's own.
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`
	Timezone  string `mapstructure:"timezone" yaml:"timezone"`
	Locale    string `mapstructure:"locale" yaml:"locale"`
}

// SiteConfig describes the login flow and the attendance table of the target application.
// Selectors starting with "/", "./" or "(" are XPath, everything else is CSS.
type SiteConfig struct {
	LoginURL         string `mapstructure:"login_url" yaml:"login_url"`
	IdentifierField  string `mapstructure:"identifier_field" yaml:"identifier_field"`
	SecretField      string `mapstructure:"secret_field" yaml:"secret_field"`
	SubmitButton     string `mapstructure:"submit_button" yaml:"submit_button"`
	LoggedInMarker   string `mapstructure:"logged_in_marker" yaml:"logged_in_marker"`
	LoginErrorMarker string `mapstructure:"login_error_marker" yaml:"login_error_marker"`
	LogoutLink       string `mapstructure:"logout_link" yaml:"logout_link"`
	ContentContainer string `mapstructure:"content_container" yaml:"content_container"`
	Rows             string `mapstructure:"rows" yaml:"rows"`
	LabelColumn      string `mapstructure:"label_column" yaml:"label_column"`
	IgnoreMatchCase  bool   `mapstructure:"ignore_match_case" yaml:"ignore_match_case"`
}

// ActionConfig holds the selectors one action strategy needs. Row buttons are evaluated relative to the
// located row and tried in order.
type ActionConfig struct {
	TargetURL         string   `mapstructure:"target_url" yaml:"target_url"`
	RowButtons        []string `mapstructure:"row_buttons" yaml:"row_buttons"`
	Modal             string   `mapstructure:"modal" yaml:"modal"`
	ConfirmButton     string   `mapstructure:"confirm_button" yaml:"confirm_button"`
	TopicField        string   `mapstructure:"topic_field" yaml:"topic_field"`
	TopicText         string   `mapstructure:"topic_text" yaml:"topic_text"`
	Toggle            string   `mapstructure:"toggle" yaml:"toggle"`
	ToggleDesired     bool     `mapstructure:"toggle_desired" yaml:"toggle_desired"`
	SubmitButton      string   `mapstructure:"submit_button" yaml:"submit_button"`
	DiagnosticMarkers string   `mapstructure:"diagnostic_markers" yaml:"diagnostic_markers"`
}

// ActionsConfig groups the per-action strategies.
type ActionsConfig struct {
	OpenSession       ActionConfig `mapstructure:"open_session" yaml:"open_session"`
	SubmitAttendance  ActionConfig `mapstructure:"submit_attendance" yaml:"submit_attendance"`
	ApproveAttendance ActionConfig `mapstructure:"approve_attendance" yaml:"approve_attendance"`
}

// For returns the strategy configured for kind.
func (a ActionsConfig) For(kind schemas.ActionKind) (ActionConfig, error) {
	switch kind {
	case schemas.ActionOpenSession:
		return a.OpenSession, nil
	case schemas.ActionSubmitAttendance:
		return a.SubmitAttendance, nil
	case schemas.ActionApproveAttendance:
		return a.ApproveAttendance, nil
	}
	return ActionConfig{}, fmt.Errorf("no action configured for %q", kind)
}

// WaitConfig tunes the poll engine.
type WaitConfig struct {
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	ReadyTimeout time.Duration `mapstructure:"ready_timeout" yaml:"ready_timeout"`
	// ObstructionGrace is how long a click waits for an overlay to go away before clicking anyway and
	// letting the dispatched fallback handle the interception. Zero clicks at once.
	ObstructionGrace time.Duration `mapstructure:"obstruction_grace" yaml:"obstruction_grace"`
}

// BatchConfig controls how credentials are processed.
type BatchConfig struct {
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	Workers     int           `mapstructure:"workers" yaml:"workers"`
	Logout      bool          `mapstructure:"logout" yaml:"logout"`
	HoldOpen    bool          `mapstructure:"hold_open" yaml:"hold_open"`
}

// AuditConfig locates the append-only audit trail.
type AuditConfig struct {
	File string `mapstructure:"file" yaml:"file"`
}

// DatabaseConfig holds the database connection details. An empty URL disables persistence.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// ReportConfig controls the JSON run report. An empty path disables it.
type ReportConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// RunConfig carries per-invocation defaults. The password is never read from the config file.
type RunConfig struct {
	DefaultMatch string `mapstructure:"default_match" yaml:"default_match"`
	DefaultBatch string `mapstructure:"default_batch" yaml:"default_batch"`
	Identifier   string `mapstructure:"identifier" yaml:"identifier"`
	Password     string `mapstructure:"password" yaml:"-"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "rollcall")
	v.SetDefault("logger.log_file", "rollcall.log")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.window_width", 1366)
	v.SetDefault("browser.window_height", 768)
	v.SetDefault("browser.launch_timeout", "30s")
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.action_timeout", "10s")
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.timezone", "Asia/Jakarta")
	v.SetDefault("browser.locale", "id-ID")

	// -- Site --
	v.SetDefault("site.login_url", "https://siakad.pradita.ac.id/login")
	v.SetDefault("site.identifier_field", "#exampleInputEmail1")
	v.SetDefault("site.secret_field", "#password-field")
	v.SetDefault("site.submit_button", "button.btn.btn-login")
	v.SetDefault("site.logged_in_marker", "a[href*='/logout']")
	v.SetDefault("site.login_error_marker", ".alert-danger, .invalid-feedback")
	v.SetDefault("site.logout_link", "a[href*='/logout']")
	v.SetDefault("site.content_container", "//table")
	v.SetDefault("site.rows", "//table//tbody/tr")
	v.SetDefault("site.label_column", "Mata Kuliah")
	v.SetDefault("site.ignore_match_case", false)

	// -- Actions --
	v.SetDefault("actions.open_session.target_url", "/dosen/daftar_hadir")
	v.SetDefault("actions.open_session.row_buttons", []string{
		".//button[contains(@class,'btn-buka') and (contains(.,'Buka') or contains(@title,'Buka'))]",
	})
	v.SetDefault("actions.open_session.modal", "#confirmation")
	v.SetDefault("actions.open_session.confirm_button", "#confirmation .modal-footer .btn-ok.btn.btn-success")

	v.SetDefault("actions.submit_attendance.target_url", "/mahasiswa/daftar_hadir")
	v.SetDefault("actions.submit_attendance.row_buttons", []string{
		".//button[@title='Submit Kehadiran']",
		".//button[@data-original-title='Submit Kehadiran']",
	})
	v.SetDefault("actions.submit_attendance.diagnostic_markers", ".//i")

	v.SetDefault("actions.approve_attendance.target_url", "/dosen/daftar_hadir")
	v.SetDefault("actions.approve_attendance.row_buttons", []string{
		".//button[contains(@class,'btn-detail') and contains(.,'Absensi')]",
	})
	v.SetDefault("actions.approve_attendance.modal", "#modal_daring")
	v.SetDefault("actions.approve_attendance.topic_field", "#topik_pembahasan")
	v.SetDefault("actions.approve_attendance.topic_text", "Topik Hari Ini")
	v.SetDefault("actions.approve_attendance.toggle", "input[name='masuk_semua']")
	v.SetDefault("actions.approve_attendance.toggle_desired", true)
	v.SetDefault("actions.approve_attendance.submit_button",
		"//div[@id='modal_daring']//button[contains(@class,'btn-primary') and .//i[contains(@class,'fa-save')]]")

	// -- Wait --
	v.SetDefault("wait.timeout", "30s")
	v.SetDefault("wait.poll_interval", "500ms")
	v.SetDefault("wait.ready_timeout", "60s")
	v.SetDefault("wait.obstruction_grace", "2s")

	// -- Batch --
	v.SetDefault("batch.settle_delay", "2s")
	v.SetDefault("batch.workers", 1)
	v.SetDefault("batch.logout", true)
	v.SetDefault("batch.hold_open", false)

	// -- Audit / Report --
	v.SetDefault("audit.file", "log.txt")
	v.SetDefault("report.path", "")

	// -- Run --
	v.SetDefault("run.default_batch", "users.csv")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	v.BindEnv("database.url", "ROLLCALL_DATABASE_URL")
	v.BindEnv("run.password", "ROLLCALL_PASSWORD")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Manually load the password if Unmarshal didn't pick it up
	if cfg.Run.Password == "" {
		cfg.Run.Password = os.Getenv("ROLLCALL_PASSWORD")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Wait.Validate(); err != nil {
		return fmt.Errorf("wait configuration invalid: %w", err)
	}
	if err := c.Batch.Validate(); err != nil {
		return fmt.Errorf("batch configuration invalid: %w", err)
	}
	if err := c.Site.Validate(); err != nil {
		return fmt.Errorf("site configuration invalid: %w", err)
	}
	for _, kind := range schemas.ActionKinds {
		ac, _ := c.Actions.For(kind)
		if err := ac.Validate(); err != nil {
			return fmt.Errorf("actions.%s configuration invalid: %w", kind, err)
		}
	}
	if c.Browser.WindowWidth <= 0 || c.Browser.WindowHeight <= 0 {
		return fmt.Errorf("browser.window_width and browser.window_height must be positive integers")
	}
	if c.Audit.File == "" {
		return fmt.Errorf("audit.file is a required configuration field")
	}
	return nil
}

// Validate checks the wait settings.
func (w *WaitConfig) Validate() error {
	if w.Timeout <= 0 {
		return fmt.Errorf("timeout must be a positive duration")
	}
	if w.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration")
	}
	if w.PollInterval > w.Timeout {
		return fmt.Errorf("poll_interval (%v) must not exceed timeout (%v)", w.PollInterval, w.Timeout)
	}
	if w.ReadyTimeout <= 0 {
		return fmt.Errorf("ready_timeout must be a positive duration")
	}
	if w.ObstructionGrace < 0 {
		return fmt.Errorf("obstruction_grace must not be negative")
	}
	return nil
}

// Validate checks the batch settings.
func (b *BatchConfig) Validate() error {
	if b.Workers <= 0 {
		return fmt.Errorf("workers must be a positive integer")
	}
	if b.SettleDelay < 0 {
		return fmt.Errorf("settle_delay must not be negative")
	}
	return nil
}

// Validate checks that the login flow and table selectors are present.
func (s *SiteConfig) Validate() error {
	u, err := url.Parse(s.LoginURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("login_url %q must be an absolute URL", s.LoginURL)
	}
	required := map[string]string{
		"identifier_field":  s.IdentifierField,
		"secret_field":      s.SecretField,
		"submit_button":     s.SubmitButton,
		"logged_in_marker":  s.LoggedInMarker,
		"content_container": s.ContentContainer,
		"rows":              s.Rows,
		"label_column":      s.LabelColumn,
	}
	for name, val := range required {
		if val == "" {
			return fmt.Errorf("%s is a required configuration field", name)
		}
	}
	if rows := strings.TrimSpace(s.Rows); !strings.HasPrefix(rows, "/") && !strings.HasPrefix(rows, "(") {
		return fmt.Errorf("rows must be an XPath expression, got %q", s.Rows)
	}
	return nil
}

// ResolveURL resolves ref against the login URL so action targets may be configured as paths.
func (s *SiteConfig) ResolveURL(ref string) (string, error) {
	base, err := url.Parse(s.LoginURL)
	if err != nil {
		return "", fmt.Errorf("invalid login_url: %w", err)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", ref, err)
	}
	return base.ResolveReference(r).String(), nil
}

// Validate checks the selectors of one action strategy.
func (a *ActionConfig) Validate() error {
	if a.TargetURL == "" {
		return fmt.Errorf("target_url is a required configuration field")
	}
	if len(a.RowButtons) == 0 {
		return fmt.Errorf("row_buttons must list at least one selector")
	}
	if a.TopicField != "" && a.TopicText == "" {
		return fmt.Errorf("topic_text is required when topic_field is set")
	}
	return nil
}
