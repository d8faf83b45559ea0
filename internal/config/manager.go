package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ConfigDirName  = ".crmsync"
	ConfigFileName = "config.yaml"

	DefaultBaseURL  = "https://{company}.pipedrive.com/api/{version}"
	DefaultPageSize = 100
)

// GetConfigDir returns the path to the config directory (~/.crmsync)
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ConfigDirName), nil
}

// GetConfigPath returns the full path to the default config file
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, ConfigFileName), nil
}

// DefaultEndpoints reproduces the six standard Pipedrive list endpoints.
func DefaultEndpoints() []EndpointSpec {
	return []EndpointSpec{
		{Name: "Deals", Path: "/deals/collection", Pagination: PaginationCursor, Sheet: "Pipedrive Deals", APIVersion: "v1"},
		{Name: "Organizations", Path: "/organizations/collection", Pagination: PaginationCursor, Sheet: "Pipedrive Organizations", APIVersion: "v1"},
		{Name: "Activities", Path: "/activities/collection", Pagination: PaginationCursor, Sheet: "Pipedrive Activities", APIVersion: "v1"},
		{Name: "Leads", Path: "/leads", Pagination: PaginationOffset, Sheet: "Pipedrive Leads", APIVersion: "v1"},
		{Name: "Users", Path: "/users", Pagination: PaginationOffset, Sheet: "Pipedrive Users", APIVersion: "v1"},
		{Name: "Notes", Path: "/notes", Pagination: PaginationOffset, Sheet: "Pipedrive Notes", APIVersion: "v1"},
	}
}

// DefaultAnalysisFields returns the Pipedrive field names used by the
// monthly aggregation.
func DefaultAnalysisFields() AnalysisFields {
	return AnalysisFields{
		ActivityDue:   "due_date",
		ActivityDone:  "done",
		ActivityDeal:  "deal_id",
		ActivityOrg:   "org_id",
		ActivityOwner: []string{"owner_id", "user_id"},
		DealAdded:     "add_time",
		DealClosed:    "close_time",
		DealStatus:    "status",
		DealOrg:       "org_id",
		DealOwner:     []string{"owner_id", "user_id"},
		OrgID:         "id",
		OrgName:       "name",
		UserID:        "id",
		UserName:      "name",
		WonStatus:     "won",
		LostStatus:    "lost",
	}
}

// Default returns a configuration with every optional setting filled in.
func Default() *Config {
	return &Config{
		Pipedrive: PipedriveConfig{
			BaseURL:  DefaultBaseURL,
			Timeout:  30 * time.Second,
			PageSize: DefaultPageSize,
		},
		Google: GoogleConfig{
			Timeout: 60 * time.Second,
		},
		Endpoints: DefaultEndpoints(),
		Analysis: AnalysisConfig{
			Enabled:       true,
			Sheet:         AnalysisTarget,
			Activities:    "Activities",
			Deals:         "Deals",
			Organizations: "Organizations",
			Users:         "Users",
			Fields:        DefaultAnalysisFields(),
		},
		Outputs: OutputsConfig{
			Sinks: []string{SinkSheets},
		},
		Tables: TablesConfig{
			FlattenSeparator: ".",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Schedule: ScheduleConfig{
			Cron: "0 6 * * *",
		},
	}
}

// LoadEnvFiles loads KEY=VALUE pairs into the process environment without
// overriding variables that are already set. With no files it reads ./.env
// when present.
func LoadEnvFiles(files ...string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				slog.Debug("no .env file found, using process environment")
				return nil
			}
			return NewConfigurationError("failed to load .env", err)
		}
		slog.Debug("loaded environment from .env")
		return nil
	}

	if err := godotenv.Load(files...); err != nil {
		return NewConfigurationError(fmt.Sprintf("failed to load env file %s", strings.Join(files, ",")), err)
	}
	slog.Debug("loaded environment files", "files", files)
	return nil
}

// Load builds the configuration from defaults, the YAML file at path and
// environment overrides. An empty path means ~/.crmsync/config.yaml, which
// may be absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		defaultPath, err := GetConfigPath()
		if err != nil {
			return nil, NewConfigurationError("cannot locate config directory", err)
		}
		path = defaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, NewConfigurationError(fmt.Sprintf("failed to parse config file %s", path), err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		slog.Debug("no config file, using defaults", "path", path)
	default:
		return nil, NewConfigurationError(fmt.Sprintf("failed to read config file %s", path), err)
	}

	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	str("PIPEDRIVE_API_KEY", &cfg.Pipedrive.APIKey)
	str("PIPEDRIVE_BASE_URL", &cfg.Pipedrive.BaseURL)
	str("PIPEDRIVE_COMPANY", &cfg.Pipedrive.Company)
	str("GOOGLE_CREDENTIALS_FILE", &cfg.Google.CredentialsFile)
	str("SPREADSHEET_ID", &cfg.Google.SpreadsheetID)
	str("CRMSYNC_LOG_LEVEL", &cfg.Log.Level)
	str("CRMSYNC_LOG_FORMAT", &cfg.Log.Format)
	str("CRMSYNC_XLSX_PATH", &cfg.Outputs.XLSXPath)
	str("CRMSYNC_CSV_DIR", &cfg.Outputs.CSVDir)
	str("CRMSYNC_DUCKDB_PATH", &cfg.Outputs.DuckDBPath)
	str("CRMSYNC_CRON", &cfg.Schedule.Cron)

	// the JSON blob keeps its whitespace
	if v, ok := lookup("GOOGLE_CREDENTIALS_JSON"); ok && strings.TrimSpace(v) != "" {
		cfg.Google.CredentialsJSON = v
	}
	if cfg.Google.CredentialsFile == "" && cfg.Google.CredentialsJSON == "" {
		str("GOOGLE_APPLICATION_CREDENTIALS", &cfg.Google.CredentialsFile)
	}

	if v, ok := lookup("CRMSYNC_SINKS"); ok && strings.TrimSpace(v) != "" {
		cfg.Outputs.Sinks = SplitList(v)
	}
	if v, ok := lookup("PIPEDRIVE_PAGE_SIZE"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return NewConfigurationError("PIPEDRIVE_PAGE_SIZE must be an integer", err)
		}
		cfg.Pipedrive.PageSize = n
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Pipedrive.BaseURL == "" {
		c.Pipedrive.BaseURL = DefaultBaseURL
	}
	if c.Pipedrive.PageSize <= 0 {
		c.Pipedrive.PageSize = DefaultPageSize
	}
	if c.Tables.FlattenSeparator == "" {
		c.Tables.FlattenSeparator = "."
	}
	if c.Analysis.Sheet == "" {
		c.Analysis.Sheet = AnalysisTarget
	}

	defaults := DefaultAnalysisFields()
	f := &c.Analysis.Fields
	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&f.ActivityDue, defaults.ActivityDue)
	fill(&f.ActivityDone, defaults.ActivityDone)
	fill(&f.ActivityDeal, defaults.ActivityDeal)
	fill(&f.ActivityOrg, defaults.ActivityOrg)
	fill(&f.DealAdded, defaults.DealAdded)
	fill(&f.DealClosed, defaults.DealClosed)
	fill(&f.DealStatus, defaults.DealStatus)
	fill(&f.DealOrg, defaults.DealOrg)
	fill(&f.OrgID, defaults.OrgID)
	fill(&f.OrgName, defaults.OrgName)
	fill(&f.UserID, defaults.UserID)
	fill(&f.UserName, defaults.UserName)
	fill(&f.WonStatus, defaults.WonStatus)
	fill(&f.LostStatus, defaults.LostStatus)
	if len(f.ActivityOwner) == 0 {
		f.ActivityOwner = defaults.ActivityOwner
	}
	if len(f.DealOwner) == 0 {
		f.DealOwner = defaults.DealOwner
	}

	for i := range c.Endpoints {
		ep := &c.Endpoints[i]
		if ep.APIVersion == "" {
			ep.APIVersion = "v1"
		}
		if ep.Pagination == "" {
			ep.Pagination = PaginationOffset
		}
		if ep.Sheet == "" {
			ep.Sheet = "Pipedrive " + ep.Name
		}
		if ep.PageSize <= 0 {
			ep.PageSize = c.Pipedrive.PageSize
		}
	}
}

// Validate checks that every setting needed by the selected sinks is
// present. It returns a *ConfigurationError listing all problems.
func (c *Config) Validate() error {
	var problems []string

	if c.Pipedrive.APIKey == "" {
		problems = append(problems, "pipedrive api key is missing (set PIPEDRIVE_API_KEY)")
	}
	if strings.Contains(c.Pipedrive.BaseURL, "{company}") && c.Pipedrive.Company == "" {
		problems = append(problems, "pipedrive company is missing (set PIPEDRIVE_COMPANY or pipedrive.base_url)")
	}

	seen := make(map[string]bool)
	for _, ep := range c.Endpoints {
		key := strings.ToLower(ep.Name)
		switch {
		case ep.Name == "":
			problems = append(problems, "endpoint with empty name")
		case seen[key]:
			problems = append(problems, fmt.Sprintf("duplicate endpoint %q", ep.Name))
		case strings.EqualFold(ep.Name, AnalysisTarget):
			problems = append(problems, fmt.Sprintf("endpoint name %q is reserved", ep.Name))
		}
		seen[key] = true

		if ep.Path == "" {
			problems = append(problems, fmt.Sprintf("endpoint %q has no path", ep.Name))
		}
		if ep.Pagination != PaginationCursor && ep.Pagination != PaginationOffset {
			problems = append(problems, fmt.Sprintf("endpoint %q has unknown pagination %q", ep.Name, ep.Pagination))
		}
	}

	if len(c.Outputs.Sinks) == 0 {
		problems = append(problems, "no output sinks selected")
	}
	for _, sink := range c.Outputs.Sinks {
		switch strings.ToLower(sink) {
		case SinkSheets:
			if c.Google.SpreadsheetID == "" {
				problems = append(problems, "spreadsheet id is missing (set SPREADSHEET_ID)")
			}
			if c.Google.CredentialsJSON == "" && c.Google.CredentialsFile == "" {
				problems = append(problems, "google credentials are missing (set GOOGLE_CREDENTIALS_JSON or GOOGLE_CREDENTIALS_FILE)")
			}
		case SinkXLSX:
			if c.Outputs.XLSXPath == "" {
				problems = append(problems, "xlsx sink selected without outputs.xlsx_path")
			}
		case SinkCSV:
			if c.Outputs.CSVDir == "" {
				problems = append(problems, "csv sink selected without outputs.csv_dir")
			}
		case SinkDuckDB:
			if c.Outputs.DuckDBPath == "" {
				problems = append(problems, "duckdb sink selected without outputs.duckdb_path")
			}
		default:
			problems = append(problems, fmt.Sprintf("unknown sink %q", sink))
		}
	}

	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}

// ValidateFetch checks only what is needed to call the Pipedrive API.
func (c *Config) ValidateFetch() error {
	var problems []string
	if c.Pipedrive.APIKey == "" {
		problems = append(problems, "pipedrive api key is missing (set PIPEDRIVE_API_KEY)")
	}
	if strings.Contains(c.Pipedrive.BaseURL, "{company}") && c.Pipedrive.Company == "" {
		problems = append(problems, "pipedrive company is missing (set PIPEDRIVE_COMPANY or pipedrive.base_url)")
	}
	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}

// Save writes the configuration to path, or to ~/.crmsync/config.yaml when
// path is empty. Secrets are never written.
func Save(cfg *Config, path string) error {
	if path == "" {
		defaultPath, err := GetConfigPath()
		if err != nil {
			return err
		}
		path = defaultPath
	}

	// Create directory with proper permissions (user read/write/execute only)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	out := *cfg
	out.Pipedrive.APIKey = ""
	out.Google.CredentialsJSON = ""

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// Write to file with proper permissions (user read/write only)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
