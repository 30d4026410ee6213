package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
zoom:
  account_id: "test_account"
  client_id: "test_client"
  client_secret: "test_secret"
clickup:
  api_key: "pk_test"
  list_id: "901"
  internal_field_name: "Internal Folder"
  member_field_name: "Member Folder"
box:
  client_id: "box_client"
  client_secret: "box_secret"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create temp config file: %v", err)
	}
	return path
}

// validConfig returns a config that passes validation
func validConfig() *Config {
	c := &Config{
		Zoom: ZoomConfig{
			AccountID:    "test_account",
			ClientID:     "test_client",
			ClientSecret: "test_secret",
		},
		ClickUp: ClickUpConfig{
			APIKey:            "pk_test",
			ListID:            "901",
			InternalFieldName: "Internal Folder",
			MemberFieldID:     "field-member",
		},
		Box: BoxConfig{
			ClientID:     "box_client",
			ClientSecret: "box_secret",
		},
	}
	c.setDefaults()
	return c
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name        string
		configYAML  string
		shouldError bool
		check       func(t *testing.T, c *Config)
	}{
		{
			name:       "minimal configuration with defaults",
			configYAML: minimalYAML,
			check: func(t *testing.T, c *Config) {
				if c.Zoom.BaseURL != "https://api.zoom.us/v2" {
					t.Errorf("Expected default Zoom BaseURL, got %s", c.Zoom.BaseURL)
				}
				if c.Zoom.AuthMode != AuthModeServerToServer {
					t.Errorf("Expected default auth mode %s, got %s", AuthModeServerToServer, c.Zoom.AuthMode)
				}
				if c.ClickUp.BaseURL != "https://api.clickup.com/api/v2" {
					t.Errorf("Expected default ClickUp BaseURL, got %s", c.ClickUp.BaseURL)
				}
			},
		},
		{
			name: "complete configuration",
			configYAML: minimalYAML + `
schedule:
  interval_minutes: 5
  months_back: 2
  epoch_floor: "2024-06-01"
  timezone: "America/Toronto"
pipeline:
  work_dir: "/tmp/watchman"
  min_file_size: 2048
notify:
  backend: ntfy
  ntfy_url: "https://ntfy.sh/recordings"
status:
  listen_addr: "127.0.0.1:8089"
logging:
  level: "DEBUG"
  json_format: true
`,
			check: func(t *testing.T, c *Config) {
				if c.Schedule.Interval() != 5*time.Minute {
					t.Errorf("Expected 5m interval, got %v", c.Schedule.Interval())
				}
				if c.Schedule.MonthsBack != 2 {
					t.Errorf("Expected months_back 2, got %d", c.Schedule.MonthsBack)
				}
				if got := c.Schedule.EpochFloorTime(); !got.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)) {
					t.Errorf("Unexpected epoch floor %v", got)
				}
				if c.Schedule.Location().String() != "America/Toronto" {
					t.Errorf("Unexpected location %s", c.Schedule.Location())
				}
				if c.Pipeline.MinFileSize != 2048 {
					t.Errorf("Expected min_file_size 2048, got %d", c.Pipeline.MinFileSize)
				}
				if c.Notify.Backend != "ntfy" {
					t.Errorf("Expected ntfy backend, got %s", c.Notify.Backend)
				}
				if c.Logging.Level != "debug" {
					t.Errorf("Expected level to be lower-cased, got %s", c.Logging.Level)
				}
			},
		},
		{
			name: "token file auth without account id",
			configYAML: `
zoom:
  auth_mode: token_file
  client_id: "test_client"
  client_secret: "test_secret"
  token_file: "./zoom_token.json"
clickup:
  api_key: "pk_test"
  list_id: "901"
  internal_field_id: "a"
  member_field_id: "b"
box:
  client_id: "box_client"
  client_secret: "box_secret"
`,
			check: func(t *testing.T, c *Config) {
				if c.Zoom.TokenFile != "./zoom_token.json" {
					t.Errorf("Unexpected token file %s", c.Zoom.TokenFile)
				}
			},
		},
		{
			name: "missing required zoom fields",
			configYAML: `
zoom:
  account_id: "test_account"
`,
			shouldError: true,
		},
		{
			name:        "invalid YAML",
			configYAML:  "invalid: yaml: content: [unclosed",
			shouldError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := LoadConfig(writeConfig(t, tt.configYAML))

			if tt.shouldError {
				if err == nil {
					t.Errorf("Expected error, but got none")
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			tt.check(t, config)
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	config, err := LoadConfig(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if config.Schedule.IntervalMinutes != 20 {
		t.Errorf("Expected default interval 20, got %d", config.Schedule.IntervalMinutes)
	}
	if config.Schedule.MonthsBack != 6 {
		t.Errorf("Expected default months_back 6, got %d", config.Schedule.MonthsBack)
	}
	if config.Schedule.EpochFloor != "2025-01-01" {
		t.Errorf("Expected default epoch floor, got %s", config.Schedule.EpochFloor)
	}
	if config.Pipeline.MinFileSize != 1024 {
		t.Errorf("Expected default min_file_size 1024, got %d", config.Pipeline.MinFileSize)
	}
	if config.Pipeline.ProgressMinSize != 100*1024*1024 {
		t.Errorf("Expected default progress_min_size 100MB, got %d", config.Pipeline.ProgressMinSize)
	}
	if config.Pipeline.CompletionMarker != "✅" {
		t.Errorf("Expected default marker, got %q", config.Pipeline.CompletionMarker)
	}
	if config.Routing.Separator != " x " {
		t.Errorf("Expected default separator, got %q", config.Routing.Separator)
	}
	if config.Routing.SpecialMarker != "EE Scale Session" {
		t.Errorf("Expected default special marker, got %q", config.Routing.SpecialMarker)
	}
	if config.Failures.BaseBackoff() != time.Hour || config.Failures.MaxBackoff() != 24*time.Hour {
		t.Errorf("Unexpected failure backoff defaults %v/%v", config.Failures.BaseBackoff(), config.Failures.MaxBackoff())
	}
	if config.Notify.Backend != "log" {
		t.Errorf("Expected default notify backend log, got %s", config.Notify.Backend)
	}
	if !config.Logging.Console {
		t.Error("Expected console logging to be enabled")
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *Config)
		errorMsg string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:     "missing zoom account_id",
			mutate:   func(c *Config) { c.Zoom.AccountID = "" },
			errorMsg: "zoom.account_id",
		},
		{
			name:     "missing zoom client_id",
			mutate:   func(c *Config) { c.Zoom.ClientID = "" },
			errorMsg: "zoom.client_id",
		},
		{
			name: "token file mode requires token file",
			mutate: func(c *Config) {
				c.Zoom.AuthMode = AuthModeTokenFile
				c.Zoom.AccountID = ""
			},
			errorMsg: "zoom.token_file",
		},
		{
			name:     "unknown auth mode",
			mutate:   func(c *Config) { c.Zoom.AuthMode = "oauth1" },
			errorMsg: "zoom.auth_mode",
		},
		{
			name:     "invalid log level",
			mutate:   func(c *Config) { c.Logging.Level = "verbose" },
			errorMsg: "logging.level",
		},
		{
			name:     "ntfy without url",
			mutate:   func(c *Config) { c.Notify.Backend = "ntfy" },
			errorMsg: "notify.ntfy_url",
		},
		{
			name:     "bad epoch floor",
			mutate:   func(c *Config) { c.Schedule.EpochFloor = "01/01/2025" },
			errorMsg: "schedule.epoch_floor",
		},
		{
			name:     "backoff cap below base",
			mutate:   func(c *Config) { c.Failures.MaxBackoffMinutes = 10 },
			errorMsg: "failures.max_backoff_minutes",
		},
		{
			name: "missing folder field",
			mutate: func(c *Config) {
				c.ClickUp.InternalFieldName = ""
				c.ClickUp.InternalFieldID = ""
			},
			errorMsg: "clickup.internal_field_id or clickup.internal_field_name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(config)
			err := config.Validate()

			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error containing %q, got none", tt.errorMsg)
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Expected error containing %q, got %q", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestLoadConfigFileNotFound(t *testing.T) {
	_, err := LoadConfig("nonexistent_config.yaml")
	if err == nil {
		t.Error("Expected error for nonexistent config file, but got none")
	}
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("ZOOM_ACCOUNT_ID", "env_account")
	t.Setenv("ZOOM_CLIENT_ID", "env_client")
	t.Setenv("ZOOM_CLIENT_SECRET", "env_secret")
	t.Setenv("CLICKUP_LIST_ID", "env_list")
	t.Setenv("WATCHMAN_INTERVAL_MINUTES", "7")
	t.Setenv("NTFY_URL", "https://ntfy.example.com/topic")

	config := &Config{}
	config.loadFromEnvironment()

	if config.Zoom.AccountID != "env_account" {
		t.Errorf("Expected AccountID from env %s, got %s", "env_account", config.Zoom.AccountID)
	}
	if config.Zoom.ClientID != "env_client" {
		t.Errorf("Expected ClientID from env %s, got %s", "env_client", config.Zoom.ClientID)
	}
	if config.Zoom.ClientSecret != "env_secret" {
		t.Errorf("Expected ClientSecret from env %s, got %s", "env_secret", config.Zoom.ClientSecret)
	}
	if config.ClickUp.ListID != "env_list" {
		t.Errorf("Expected ListID from env, got %s", config.ClickUp.ListID)
	}
	if config.Schedule.IntervalMinutes != 7 {
		t.Errorf("Expected interval from env, got %d", config.Schedule.IntervalMinutes)
	}
	if config.Notify.NtfyURL != "https://ntfy.example.com/topic" {
		t.Errorf("Expected ntfy url from env, got %s", config.Notify.NtfyURL)
	}
}

func TestScheduleLocationFallback(t *testing.T) {
	s := ScheduleConfig{Timezone: "Not/AZone"}
	if s.Location() != time.UTC {
		t.Errorf("Expected UTC fallback, got %v", s.Location())
	}
}
