// Package config provides configuration management for the zoom-watchman application
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Zoom authentication modes
const (
	AuthModeServerToServer = "server_to_server"
	AuthModeTokenFile      = "token_file"
)

// ZoomConfig holds Zoom API authentication and connection settings
type ZoomConfig struct {
	AuthMode     string `yaml:"auth_mode" json:"auth_mode" validate:"oneof=server_to_server token_file"`
	AccountID    string `yaml:"account_id" json:"account_id" validate:"required_if=AuthMode server_to_server"`
	ClientID     string `yaml:"client_id" json:"client_id" validate:"required"`
	ClientSecret string `yaml:"client_secret" json:"client_secret" validate:"required"`
	BaseURL      string `yaml:"base_url" json:"base_url" validate:"url"`
	TokenURL     string `yaml:"token_url" json:"token_url" validate:"url"`
	// TokenFile is the token-cache document used by the token_file auth mode
	TokenFile string `yaml:"token_file" json:"token_file" validate:"required_if=AuthMode token_file"`
	PageSize  int    `yaml:"page_size" json:"page_size" validate:"min=1,max=300"`
}

// ClickUpConfig holds the task directory settings
type ClickUpConfig struct {
	APIKey  string `yaml:"api_key" json:"api_key" validate:"required"`
	BaseURL string `yaml:"base_url" json:"base_url" validate:"url"`
	ListID  string `yaml:"list_id" json:"list_id" validate:"required"`

	// Folder reference fields are resolved by name unless an id is configured
	InternalFieldName string `yaml:"internal_field_name" json:"internal_field_name"`
	InternalFieldID   string `yaml:"internal_field_id" json:"internal_field_id"`
	MemberFieldName   string `yaml:"member_field_name" json:"member_field_name"`
	MemberFieldID     string `yaml:"member_field_id" json:"member_field_id"`

	// DateFieldIDs are bumped to the meeting start time after a completed upload
	DateFieldIDs []string `yaml:"date_field_ids" json:"date_field_ids"`
}

// BoxConfig holds Box API authentication and settings
type BoxConfig struct {
	ClientID        string `yaml:"client_id" json:"client_id" validate:"required"`
	ClientSecret    string `yaml:"client_secret" json:"client_secret" validate:"required"`
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file" validate:"required"`
	BaseURL         string `yaml:"base_url" json:"base_url" validate:"url"`
	UploadURL       string `yaml:"upload_url" json:"upload_url" validate:"url"`
	TokenURL        string `yaml:"token_url" json:"token_url" validate:"url"`
	FolderLinkBase  string `yaml:"folder_link_base" json:"folder_link_base" validate:"url"`
}

// ScheduleConfig controls the polling loop and scan windows
type ScheduleConfig struct {
	IntervalMinutes int    `yaml:"interval_minutes" json:"interval_minutes" validate:"min=1"`
	MonthsBack      int    `yaml:"months_back" json:"months_back" validate:"min=1,max=24"`
	EpochFloor      string `yaml:"epoch_floor" json:"epoch_floor" validate:"datetime=2006-01-02"`
	Timezone        string `yaml:"timezone" json:"timezone" validate:"timezone"`
}

// Interval returns the sleep between cycles
func (s ScheduleConfig) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

// EpochFloorTime returns the earliest meeting start time that is processed
func (s ScheduleConfig) EpochFloorTime() time.Time {
	t, err := time.Parse("2006-01-02", s.EpochFloor)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Location returns the configured time zone, UTC when unset or unknown
func (s ScheduleConfig) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// PipelineConfig holds the asset pipeline settings
type PipelineConfig struct {
	WorkDir          string `yaml:"work_dir" json:"work_dir" validate:"required"`
	MinFileSize      int64  `yaml:"min_file_size" json:"min_file_size" validate:"min=0"`
	TimeoutSeconds   int    `yaml:"timeout_seconds" json:"timeout_seconds" validate:"min=1"`
	RetryAttempts    int    `yaml:"retry_attempts" json:"retry_attempts" validate:"min=0,max=10"`
	CompletionMarker string `yaml:"completion_marker" json:"completion_marker" validate:"required"`
	ProgressMinSize  int64  `yaml:"progress_min_size" json:"progress_min_size" validate:"min=0"`
}

// TimeoutDuration returns the timeout as a time.Duration
func (p PipelineConfig) TimeoutDuration() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// RoutingConfig holds the topic parsing tokens
type RoutingConfig struct {
	Separator          string `yaml:"separator" json:"separator" validate:"required"`
	SpecialMarker      string `yaml:"special_marker" json:"special_marker" validate:"required"`
	SpecialBrandLabel  string `yaml:"special_brand_label" json:"special_brand_label" validate:"required"`
	ScaleSessionMarker string `yaml:"scale_session_marker" json:"scale_session_marker" validate:"required"`
	OneOnOneMarker     string `yaml:"one_on_one_marker" json:"one_on_one_marker" validate:"required"`
}

// LedgerConfig holds completion ledger settings
type LedgerConfig struct {
	Path string `yaml:"path" json:"path" validate:"required"`
}

// PolicyConfig points at the owner policy file
type PolicyConfig struct {
	File  string `yaml:"file" json:"file"`
	Watch bool   `yaml:"watch" json:"watch"`
}

// NotifyConfig holds notifier settings
type NotifyConfig struct {
	Backend   string `yaml:"backend" json:"backend" validate:"oneof=ntfy log none"`
	NtfyURL   string `yaml:"ntfy_url" json:"ntfy_url" validate:"required_if=Backend ntfy,omitempty,url"`
	NtfyToken string `yaml:"ntfy_token" json:"ntfy_token"`
	Priority  string `yaml:"priority" json:"priority"`
}

// FailuresConfig controls the resolution failure journal
type FailuresConfig struct {
	Path               string `yaml:"path" json:"path"`
	BaseBackoffMinutes int    `yaml:"base_backoff_minutes" json:"base_backoff_minutes" validate:"min=0"`
	MaxBackoffMinutes  int    `yaml:"max_backoff_minutes" json:"max_backoff_minutes" validate:"gtefield=BaseBackoffMinutes"`
}

// BaseBackoff returns the first notification backoff
func (f FailuresConfig) BaseBackoff() time.Duration {
	return time.Duration(f.BaseBackoffMinutes) * time.Minute
}

// MaxBackoff returns the backoff cap
func (f FailuresConfig) MaxBackoff() time.Duration {
	return time.Duration(f.MaxBackoffMinutes) * time.Minute
}

// TrackingConfig holds the transfer audit CSV settings
type TrackingConfig struct {
	File string `yaml:"file" json:"file"`
}

// StatusConfig holds the status endpoint settings
type StatusConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listen_addr" validate:"omitempty,hostname_port"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`
	File       string `yaml:"file" json:"file"`
	Console    bool   `yaml:"console" json:"console"`
	JSONFormat bool   `yaml:"json_format" json:"json_format"`
}

// Config represents the complete application configuration
type Config struct {
	Zoom     ZoomConfig     `yaml:"zoom" json:"zoom"`
	ClickUp  ClickUpConfig  `yaml:"clickup" json:"clickup"`
	Box      BoxConfig      `yaml:"box" json:"box"`
	Schedule ScheduleConfig `yaml:"schedule" json:"schedule"`
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`
	Routing  RoutingConfig  `yaml:"routing" json:"routing"`
	Ledger   LedgerConfig   `yaml:"ledger" json:"ledger"`
	Policy   PolicyConfig   `yaml:"policy" json:"policy"`
	Notify   NotifyConfig   `yaml:"notify" json:"notify"`
	Failures FailuresConfig `yaml:"failures" json:"failures"`
	Tracking TrackingConfig `yaml:"tracking" json:"tracking"`
	Status   StatusConfig   `yaml:"status" json:"status"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// LoadConfig loads configuration from a YAML file with defaults and environment variable overrides
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	if err := config.loadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config from file: %w", err)
	}

	config.setDefaults()
	config.loadFromEnvironment()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// loadFromFile loads configuration from a YAML file
func (c *Config) loadFromFile(configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// setDefaults applies default values for missing configuration
func (c *Config) setDefaults() {
	// Zoom defaults
	if c.Zoom.AuthMode == "" {
		c.Zoom.AuthMode = AuthModeServerToServer
	}
	if c.Zoom.BaseURL == "" {
		c.Zoom.BaseURL = "https://api.zoom.us/v2"
	}
	if c.Zoom.TokenURL == "" {
		c.Zoom.TokenURL = "https://zoom.us/oauth/token"
	}
	if c.Zoom.PageSize == 0 {
		c.Zoom.PageSize = 300
	}

	// ClickUp defaults
	if c.ClickUp.BaseURL == "" {
		c.ClickUp.BaseURL = "https://api.clickup.com/api/v2"
	}

	// Box defaults
	if c.Box.BaseURL == "" {
		c.Box.BaseURL = "https://api.box.com/2.0"
	}
	if c.Box.UploadURL == "" {
		c.Box.UploadURL = "https://upload.box.com/api/2.0"
	}
	if c.Box.TokenURL == "" {
		c.Box.TokenURL = "https://api.box.com/oauth2/token"
	}
	if c.Box.FolderLinkBase == "" {
		c.Box.FolderLinkBase = "https://app.box.com/folder"
	}
	if c.Box.CredentialsFile == "" {
		c.Box.CredentialsFile = "./box_credentials.json"
	}

	// Schedule defaults
	if c.Schedule.IntervalMinutes == 0 {
		c.Schedule.IntervalMinutes = 20
	}
	if c.Schedule.MonthsBack == 0 {
		c.Schedule.MonthsBack = 6
	}
	if c.Schedule.EpochFloor == "" {
		c.Schedule.EpochFloor = "2025-01-01"
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = "UTC"
	}

	// Pipeline defaults
	if c.Pipeline.WorkDir == "" {
		c.Pipeline.WorkDir = "./work"
	}
	if c.Pipeline.MinFileSize == 0 {
		c.Pipeline.MinFileSize = 1024
	}
	if c.Pipeline.ProgressMinSize == 0 {
		c.Pipeline.ProgressMinSize = 100 * 1024 * 1024
	}
	if c.Pipeline.TimeoutSeconds == 0 {
		c.Pipeline.TimeoutSeconds = 300
	}
	if c.Pipeline.RetryAttempts == 0 {
		c.Pipeline.RetryAttempts = 3
	}
	if c.Pipeline.CompletionMarker == "" {
		c.Pipeline.CompletionMarker = "✅"
	}

	// Routing defaults
	if c.Routing.Separator == "" {
		c.Routing.Separator = " x "
	}
	if c.Routing.SpecialMarker == "" {
		c.Routing.SpecialMarker = "EE Scale Session"
	}
	if c.Routing.SpecialBrandLabel == "" {
		c.Routing.SpecialBrandLabel = "Sales Equation"
	}
	if c.Routing.ScaleSessionMarker == "" {
		c.Routing.ScaleSessionMarker = "Scale Session"
	}
	if c.Routing.OneOnOneMarker == "" {
		c.Routing.OneOnOneMarker = "1:1"
	}

	if c.Ledger.Path == "" {
		c.Ledger.Path = "./completed_log.json"
	}

	if c.Notify.Backend == "" {
		c.Notify.Backend = "log"
	}
	if c.Notify.Priority == "" {
		c.Notify.Priority = "default"
	}

	if c.Failures.Path == "" {
		c.Failures.Path = "./failures.db"
	}
	if c.Failures.BaseBackoffMinutes == 0 {
		c.Failures.BaseBackoffMinutes = 60
	}
	if c.Failures.MaxBackoffMinutes == 0 {
		c.Failures.MaxBackoffMinutes = 24 * 60
	}

	if c.Tracking.File == "" {
		c.Tracking.File = "./transfers.csv"
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	// Console output is always on; set logging.file to also write to disk
	c.Logging.Console = true
}

// loadFromEnvironment overrides configuration with environment variables
func (c *Config) loadFromEnvironment() {
	setString(&c.Zoom.AccountID, "ZOOM_ACCOUNT_ID")
	setString(&c.Zoom.ClientID, "ZOOM_CLIENT_ID")
	setString(&c.Zoom.ClientSecret, "ZOOM_CLIENT_SECRET")
	setString(&c.Zoom.BaseURL, "ZOOM_BASE_URL")
	setString(&c.Zoom.TokenFile, "ZOOM_TOKEN_FILE")

	setString(&c.ClickUp.APIKey, "CLICKUP_API_KEY")
	setString(&c.ClickUp.ListID, "CLICKUP_LIST_ID")
	setString(&c.ClickUp.InternalFieldName, "CLICKUP_INTERNAL_COL_NAME")
	setString(&c.ClickUp.MemberFieldName, "CLICKUP_MEMBER_COL_NAME")

	setString(&c.Box.ClientID, "BOX_CLIENT_ID")
	setString(&c.Box.ClientSecret, "BOX_CLIENT_SECRET")
	setString(&c.Box.CredentialsFile, "BOX_CREDENTIALS_FILE")

	setString(&c.Notify.NtfyURL, "NTFY_URL")
	setString(&c.Notify.NtfyToken, "NTFY_TOKEN")

	setString(&c.Pipeline.WorkDir, "WATCHMAN_WORK_DIR")
	setString(&c.Ledger.Path, "WATCHMAN_LEDGER_PATH")
	setString(&c.Logging.Level, "WATCHMAN_LOG_LEVEL")
	if val := os.Getenv("WATCHMAN_INTERVAL_MINUTES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Schedule.IntervalMinutes = n
		}
	}
}

func setString(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	c.Logging.Level = strings.ToLower(c.Logging.Level)

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s failed %q validation", fieldPath(fe.Namespace()), fe.Tag())
		}
		return err
	}

	if c.ClickUp.InternalFieldID == "" && c.ClickUp.InternalFieldName == "" {
		return fmt.Errorf("clickup.internal_field_id or clickup.internal_field_name is required")
	}
	if c.ClickUp.MemberFieldID == "" && c.ClickUp.MemberFieldName == "" {
		return fmt.Errorf("clickup.member_field_id or clickup.member_field_name is required")
	}

	return nil
}

var validate = newValidator()

// newValidator reports field errors using the yaml key names
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// fieldPath turns "Config.zoom.client_id" into "zoom.client_id"
func fieldPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}
