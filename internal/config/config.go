package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"adsbx_history/internal/adsbx"
	"adsbx_history/internal/models"
	"adsbx_history/internal/sources"
)

// EnvPrefix prefixes every environment variable, e.g. ADSBX_HISTORY_FETCH_PACING
const EnvPrefix = "ADSBX_HISTORY"

// ConfigPathEnv names a config file to use instead of the search path
const ConfigPathEnv = EnvPrefix + "_CONFIG_PATH"

// Config holds all configuration for the CLI and the daemon
type Config struct {
	OutDir        string
	CacheDir      string
	DBPath        string
	Formats       []models.Format
	TypeNamesPath string
	Query         QueryConfig
	Fetch         FetchConfig
	Sources       SourcesConfig
	ACDB          ACDBConfig
	Server        ServerConfig
	Log           LogConfig
}

// QueryConfig holds the query fields given on the command line
type QueryConfig struct {
	Hex   string
	Start string
	End   string
}

// FetchConfig configures the trace history client
type FetchConfig struct {
	TraceURL    string
	Pacing      time.Duration
	RetryWait   time.Duration
	ErrorWait   time.Duration
	MaxAttempts int
	Timeout     time.Duration
}

// SourcesConfig configures the metadata services
type SourcesConfig struct {
	Enabled          bool
	OpenSkyURL       string
	PlanespottersURL string
	Timeout          time.Duration
}

// ACDBConfig configures the bulk aircraft database
type ACDBConfig struct {
	URL       string
	CSVPaths  []string
	BatchSize int
}

// ServerConfig configures the HTTP API of the serve command
type ServerConfig struct {
	Addr string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
}

// Load loads configuration from config file, environment variables and,
// when flags is non-nil, command line flags. Flags take precedence.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetDefault("out_dir", "outputs")
	v.SetDefault("cache_dir", "")
	v.SetDefault("db_path", "")
	v.SetDefault("formats", "kml,csv,json")
	v.SetDefault("type_names_path", "")
	v.SetDefault("hex", "")
	v.SetDefault("start", "")
	v.SetDefault("end", "")
	v.SetDefault("fetch.trace_url", adsbx.DefaultTraceURL)
	v.SetDefault("fetch.pacing", 2*time.Second)
	v.SetDefault("fetch.retry_wait", 30*time.Second)
	v.SetDefault("fetch.error_wait", 5*time.Second)
	v.SetDefault("fetch.max_attempts", 6)
	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("sources.enabled", true)
	v.SetDefault("sources.opensky_url", sources.DefaultOpenSkyURL)
	v.SetDefault("sources.planespotters_url", sources.DefaultPlanespottersURL)
	v.SetDefault("sources.timeout", 15*time.Second)
	v.SetDefault("acdb.url", adsbx.DefaultBundleURL)
	v.SetDefault("acdb.csv_paths", "")
	v.SetDefault("acdb.batch_size", 5000)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/adsbx_history")
	v.AddConfigPath(".")

	if configPath := os.Getenv(ConfigPathEnv); configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	formats, err := models.ParseFormats(strings.Join(stringList(v.Get("formats")), ","))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg := &Config{
		OutDir:        v.GetString("out_dir"),
		CacheDir:      v.GetString("cache_dir"),
		DBPath:        v.GetString("db_path"),
		Formats:       formats,
		TypeNamesPath: v.GetString("type_names_path"),
		Query: QueryConfig{
			Hex:   v.GetString("hex"),
			Start: v.GetString("start"),
			End:   v.GetString("end"),
		},
		Fetch: FetchConfig{
			TraceURL:    v.GetString("fetch.trace_url"),
			Pacing:      v.GetDuration("fetch.pacing"),
			RetryWait:   v.GetDuration("fetch.retry_wait"),
			ErrorWait:   v.GetDuration("fetch.error_wait"),
			MaxAttempts: v.GetInt("fetch.max_attempts"),
			Timeout:     v.GetDuration("fetch.timeout"),
		},
		Sources: SourcesConfig{
			Enabled:          v.GetBool("sources.enabled"),
			OpenSkyURL:       v.GetString("sources.opensky_url"),
			PlanespottersURL: v.GetString("sources.planespotters_url"),
			Timeout:          v.GetDuration("sources.timeout"),
		},
		ACDB: ACDBConfig{
			URL:       v.GetString("acdb.url"),
			CSVPaths:  stringList(v.Get("acdb.csv_paths")),
			BatchSize: v.GetInt("acdb.batch_size"),
		},
		Server: ServerConfig{
			Addr: v.GetString("server.addr"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	// cache and database live under the output directory unless set
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(cfg.OutDir, "cache")
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.OutDir, "acdb_cache", "aircraft.db")
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// bindFlags maps the query flags onto their config keys
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	keys := map[string]string{
		"hex":     "hex",
		"start":   "start",
		"end":     "end",
		"formats": "formats",
		"out":     "out_dir",
	}
	for flag, key := range keys {
		f := flags.Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}
	return nil
}

// stringList accepts a YAML list or a comma separated string
func stringList(v any) []string {
	var parts []string
	switch val := v.(type) {
	case nil:
	case string:
		parts = strings.Split(val, ",")
	case []string:
		parts = val
	case []any:
		for _, item := range val {
			parts = append(parts, fmt.Sprint(item))
		}
	default:
		parts = []string{fmt.Sprint(val)}
	}

	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// BuildQuery turns the configured query fields into a validated Query
func (c *Config) BuildQuery() (models.Query, error) {
	q := models.Query{
		Hex:     c.Query.Hex,
		Formats: c.Formats,
		OutDir:  c.OutDir,
	}

	var err error
	if q.Start, err = time.Parse(models.DateLayout, c.Query.Start); err != nil {
		return q, fmt.Errorf("%w: start date %q must be YYYY-MM-DD", models.ErrInvalidQuery, c.Query.Start)
	}
	if q.End, err = time.Parse(models.DateLayout, c.Query.End); err != nil {
		return q, fmt.Errorf("%w: end date %q must be YYYY-MM-DD", models.ErrInvalidQuery, c.Query.End)
	}
	if len(q.Formats) == 0 {
		q.Formats = models.AllFormats
	}

	if err := q.Validate(); err != nil {
		return q, err
	}
	return q, nil
}

// validate validates the configuration values
func validate(cfg *Config) error {
	if cfg.OutDir == "" {
		return fmt.Errorf("out_dir is required")
	}

	if cfg.Fetch.TraceURL == "" {
		return fmt.Errorf("fetch.trace_url is required")
	}

	if cfg.Fetch.MaxAttempts <= 0 {
		return fmt.Errorf("fetch.max_attempts must be greater than 0")
	}

	if cfg.Fetch.Pacing < 0 || cfg.Fetch.RetryWait < 0 || cfg.Fetch.ErrorWait < 0 {
		return fmt.Errorf("fetch waits must not be negative")
	}

	if cfg.ACDB.BatchSize <= 0 {
		return fmt.Errorf("acdb.batch_size must be greater than 0")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(cfg.Log.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", cfg.Log.Level)
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[strings.ToLower(cfg.Log.Format)] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", cfg.Log.Format)
	}

	return nil
}
