package config

import (
	"strings"
	"time"
)

// PaginationMode selects how an endpoint is paged.
type PaginationMode string

const (
	PaginationCursor PaginationMode = "cursor"
	PaginationOffset PaginationMode = "offset"
)

// Sink names accepted in outputs.sinks.
const (
	SinkSheets = "sheets"
	SinkXLSX   = "xlsx"
	SinkCSV    = "csv"
	SinkDuckDB = "duckdb"
)

// AnalysisTarget is the selection name of the monthly aggregation table.
const AnalysisTarget = "Analysis"

// Config holds everything a run needs. It is built once by Load and passed
// explicitly to every component.
type Config struct {
	Pipedrive PipedriveConfig `json:"pipedrive" yaml:"pipedrive"`
	Google    GoogleConfig    `json:"google" yaml:"google"`
	Endpoints []EndpointSpec  `json:"endpoints" yaml:"endpoints"`
	Analysis  AnalysisConfig  `json:"analysis" yaml:"analysis"`
	Outputs   OutputsConfig   `json:"outputs" yaml:"outputs"`
	Tables    TablesConfig    `json:"tables" yaml:"tables"`
	Log       LogConfig       `json:"log" yaml:"log"`
	Schedule  ScheduleConfig  `json:"schedule" yaml:"schedule"`
}

// PipedriveConfig describes the upstream CRM API.
type PipedriveConfig struct {
	BaseURL      string        `json:"base_url" yaml:"base_url"`               // may contain {company} and {version}
	Company      string        `json:"company" yaml:"company"`                 // e.g., "acme" for acme.pipedrive.com
	APIKey       string        `json:"-" yaml:"api_key,omitempty"`             // prefer PIPEDRIVE_API_KEY
	TokenInQuery bool          `json:"token_in_query" yaml:"token_in_query"`   // send api_token as a query parameter
	Timeout      time.Duration `json:"timeout" yaml:"timeout"`                 // per request
	PageSize     int           `json:"page_size" yaml:"page_size"`             // default limit
	UserAgent    string        `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
}

// ResolvedBaseURL returns the base URL with the company filled in. The
// {version} placeholder is left for the client.
func (p PipedriveConfig) ResolvedBaseURL() string {
	return strings.TrimRight(strings.ReplaceAll(p.BaseURL, "{company}", p.Company), "/")
}

// GoogleConfig holds the spreadsheet target and service-account credentials.
type GoogleConfig struct {
	CredentialsJSON string        `json:"-" yaml:"credentials_json,omitempty"`
	CredentialsFile string        `json:"credentials_file,omitempty" yaml:"credentials_file,omitempty"`
	SpreadsheetID   string        `json:"spreadsheet_id" yaml:"spreadsheet_id"`
	Timeout         time.Duration `json:"timeout" yaml:"timeout"` // per publish call
}

// EndpointSpec describes one list endpoint and the sheet it feeds.
type EndpointSpec struct {
	Name       string            `json:"name" yaml:"name"`
	Path       string            `json:"path" yaml:"path"`
	Pagination PaginationMode    `json:"pagination" yaml:"pagination"`
	Params     map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
	Sheet      string            `json:"sheet" yaml:"sheet"`
	APIVersion string            `json:"api_version" yaml:"api_version"`
	PageSize   int               `json:"page_size,omitempty" yaml:"page_size,omitempty"`
	Disabled   bool              `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// AnalysisConfig controls the monthly aggregation.
type AnalysisConfig struct {
	Enabled       bool           `json:"enabled" yaml:"enabled"`
	Sheet         string         `json:"sheet" yaml:"sheet"`
	Activities    string         `json:"activities" yaml:"activities"` // endpoint names feeding the aggregation
	Deals         string         `json:"deals" yaml:"deals"`
	Organizations string         `json:"organizations" yaml:"organizations"`
	Users         string         `json:"users" yaml:"users"`
	Fields        AnalysisFields `json:"fields" yaml:"fields"`
}

// InputEndpoints lists the endpoint names the aggregation reads.
func (a AnalysisConfig) InputEndpoints() []string {
	return []string{a.Activities, a.Deals, a.Organizations, a.Users}
}

// AnalysisFields names the record fields the aggregation reads. Owner
// fields are candidate lists; the first one present in the data wins.
type AnalysisFields struct {
	ActivityDue   string   `json:"activity_due" yaml:"activity_due"`
	ActivityDone  string   `json:"activity_done" yaml:"activity_done"`
	ActivityDeal  string   `json:"activity_deal" yaml:"activity_deal"`
	ActivityOrg   string   `json:"activity_org" yaml:"activity_org"`
	ActivityOwner []string `json:"activity_owner" yaml:"activity_owner"`
	DealAdded     string   `json:"deal_added" yaml:"deal_added"`
	DealClosed    string   `json:"deal_closed" yaml:"deal_closed"`
	DealStatus    string   `json:"deal_status" yaml:"deal_status"`
	DealOrg       string   `json:"deal_org" yaml:"deal_org"`
	DealOwner     []string `json:"deal_owner" yaml:"deal_owner"`
	OrgID         string   `json:"org_id" yaml:"org_id"`
	OrgName       string   `json:"org_name" yaml:"org_name"`
	UserID        string   `json:"user_id" yaml:"user_id"`
	UserName      string   `json:"user_name" yaml:"user_name"`
	WonStatus     string   `json:"won_status" yaml:"won_status"`
	LostStatus    string   `json:"lost_status" yaml:"lost_status"`
}

// OutputsConfig selects the sinks every table is published to.
type OutputsConfig struct {
	Sinks      []string `json:"sinks" yaml:"sinks"`
	XLSXPath   string   `json:"xlsx_path,omitempty" yaml:"xlsx_path,omitempty"`
	CSVDir     string   `json:"csv_dir,omitempty" yaml:"csv_dir,omitempty"`
	DuckDBPath string   `json:"duckdb_path,omitempty" yaml:"duckdb_path,omitempty"`
}

// HasSink reports whether name is among the selected sinks.
func (o OutputsConfig) HasSink(name string) bool {
	for _, s := range o.Sinks {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

// TablesConfig controls how records become table rows.
type TablesConfig struct {
	Flatten          bool   `json:"flatten" yaml:"flatten"`
	FlattenSeparator string `json:"flatten_separator" yaml:"flatten_separator"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // text or json
}

type ScheduleConfig struct {
	Cron     string `json:"cron" yaml:"cron"`
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// Endpoint returns the endpoint with the given name, case-insensitively.
func (c *Config) Endpoint(name string) (EndpointSpec, bool) {
	for _, ep := range c.Endpoints {
		if strings.EqualFold(ep.Name, name) {
			return ep, true
		}
	}
	return EndpointSpec{}, false
}
