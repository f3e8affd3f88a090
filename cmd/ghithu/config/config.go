package config

import (
	"strings"
	"time"

	"ghithu-reconciliation-service/internal/cache"
	"ghithu-reconciliation-service/internal/export"
	"ghithu-reconciliation-service/internal/gateway"
	"ghithu-reconciliation-service/internal/normalize"
	"ghithu-reconciliation-service/internal/sheets"
	"ghithu-reconciliation-service/pkg/errors"
	"ghithu-reconciliation-service/pkg/logger"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. GHITHU_GATEWAY_URL.
const EnvPrefix = "GHITHU"

// AppConfig is the whole configuration tree.
type AppConfig struct {
	Environment string              `mapstructure:"environment"`
	Gateway     GatewayConfig       `mapstructure:"gateway"`
	Sheets      sheets.Config       `mapstructure:"sheets" validate:"-"`
	Cache       cache.Config        `mapstructure:"cache"`
	Redis       RedisConfig         `mapstructure:"redis"`
	Log         logger.Config       `mapstructure:"log"`
	Metrics     MetricsConfig       `mapstructure:"metrics"`
	Export      ExportConfig        `mapstructure:"export"`
	Staff       map[string][]string `mapstructure:"staff"`
}

// GatewayConfig selects and configures the billing gateway. Only the
// section of the selected mode is validated.
type GatewayConfig struct {
	Mode    string        `mapstructure:"mode" validate:"oneof=soap sql"`
	URL     string        `mapstructure:"url"`
	User    string        `mapstructure:"user"`
	Timeout time.Duration `mapstructure:"timeout"`
	SQL     SQLSection    `mapstructure:"sql"`
}

// SQLSection is the direct database access of the gateway.
type SQLSection struct {
	Driver string            `mapstructure:"driver"`
	DSN    string            `mapstructure:"dsn"`
	DSNs   map[string]string `mapstructure:"dsns"`
}

// RedisConfig enables the shared cache and the append lock when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db" validate:"gte=0"`
	LockTTL  time.Duration `mapstructure:"lock_ttl" validate:"gte=0"`
}

// Enabled reports whether a Redis server is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Addr) != ""
}

// MetricsConfig points at the textfile collector output.
type MetricsConfig struct {
	File string `mapstructure:"file"`
}

// ExportConfig holds the rendering options shared by every command.
type ExportConfig struct {
	TableMaxWidth int    `mapstructure:"table_max_width" validate:"gte=40"`
	MaxRows       int    `mapstructure:"max_rows" validate:"gte=0"`
	CSVDelimiter  string `mapstructure:"csv_delimiter" validate:"len=1"`
	FontFamily    string `mapstructure:"font_family"`
	FontFile      string `mapstructure:"font_file"`
	BoldFontFile  string `mapstructure:"bold_font_file"`
}

// SetDefaults registers every key so that environment overrides reach
// Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("environment", "production")

	v.SetDefault("gateway.mode", "soap")
	v.SetDefault("gateway.url", "")
	v.SetDefault("gateway.user", "")
	v.SetDefault("gateway.timeout", 60*time.Second)
	v.SetDefault("gateway.sql.driver", "sqlserver")
	v.SetDefault("gateway.sql.dsn", "")

	v.SetDefault("sheets.mode", "google")
	v.SetDefault("sheets.credentials_file", "credentials.json")
	v.SetDefault("sheets.spreadsheet_id", "")
	v.SetDefault("sheets.dir", "data")

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", 10*time.Minute)
	v.SetDefault("cache.size", 256)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", 30*time.Second)

	v.SetDefault("log.level", string(logger.InfoLevel))
	v.SetDefault("log.format", string(logger.TextFormat))
	v.SetDefault("log.output", string(logger.StderrOutput))
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", true)

	v.SetDefault("metrics.file", "")

	v.SetDefault("export.table_max_width", 160)
	v.SetDefault("export.max_rows", 50)
	v.SetDefault("export.csv_delimiter", ",")
	v.SetDefault("export.font_family", "")
	v.SetDefault("export.font_file", "")
	v.SetDefault("export.bold_font_file", "")
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "config", v.ConfigFileUsed(), err)
	}
	if err := errors.ValidateStruct(&cfg); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "config", nil, err).
			WithSuggestion(err.Suggestion)
	}
	return &cfg, nil
}

// CreateLoggerConfig returns the logger configuration, raised to debug
// when verbose.
func CreateLoggerConfig(cfg *AppConfig, verbose bool) *logger.Config {
	lc := cfg.Log
	if verbose {
		lc.Level = logger.DebugLevel
	}
	return &lc
}

// CreateSOAPConfig builds the web service gateway configuration.
func CreateSOAPConfig(cfg *AppConfig) (gateway.SOAPConfig, error) {
	sc := gateway.SOAPConfig{URL: cfg.Gateway.URL, User: cfg.Gateway.User, Timeout: cfg.Gateway.Timeout}
	if err := errors.ValidateStruct(&sc); err != nil {
		return sc, errors.ConfigurationError(errors.CodeMissingConfig, "gateway.url", sc.URL, err).
			WithSuggestion("set gateway.url and gateway.user, or GHITHU_GATEWAY_URL and GHITHU_GATEWAY_USER")
	}
	return sc, nil
}

// CreateSQLConfig builds the direct database gateway configuration.
func CreateSQLConfig(cfg *AppConfig) (gateway.SQLConfig, error) {
	sc := gateway.SQLConfig{Driver: cfg.Gateway.SQL.Driver, DSN: cfg.Gateway.SQL.DSN, DSNs: cfg.Gateway.SQL.DSNs}
	if err := errors.ValidateStruct(&sc); err != nil {
		return sc, errors.ConfigurationError(errors.CodeMissingConfig, "gateway.sql", sc.Driver, err).
			WithSuggestion("set gateway.sql.driver (sqlserver, mysql, postgres, sqlite) and gateway.sql.dsn")
	}
	return sc, nil
}

// CreateSheetsConfig builds the worksheet store configuration. It is
// checked only by the commands that read the ledger.
func CreateSheetsConfig(cfg *AppConfig) (sheets.Config, error) {
	sc := cfg.Sheets
	if err := errors.ValidateStruct(&sc); err != nil {
		return sc, errors.ConfigurationError(errors.CodeMissingConfig, "sheets", sc.Mode, err).
			WithSuggestion("use sheets.mode=google with credentials_file and spreadsheet_id, or sheets.mode=csv with dir")
	}
	return sc, nil
}

// CreateExportConfig builds the export configuration for format.
func CreateExportConfig(cfg *AppConfig, format string) (*export.Config, error) {
	f, err := export.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	ec := export.DefaultConfig()
	ec.Format = f
	ec.TableMaxWidth = cfg.Export.TableMaxWidth
	ec.MaxRows = cfg.Export.MaxRows
	ec.CSVDelimiter = []rune(cfg.Export.CSVDelimiter)[0]
	ec.PDF = export.PDFConfig{
		Staff:        cfg.Staff,
		FontFamily:   cfg.Export.FontFamily,
		FontFile:     cfg.Export.FontFile,
		BoldFontFile: cfg.Export.BoldFontFile,
	}
	if err := ec.Validate(); err != nil {
		return nil, err
	}
	return ec, nil
}

// ParseDay reads a dd/mm/yyyy flag value.
func ParseDay(flag, value string) (time.Time, error) {
	t := normalize.ParseDate(value)
	if t == nil {
		return time.Time{}, errors.ValidationError(errors.CodeInvalidDate, flag, value, nil).
			WithSuggestion("dates are written dd/mm/yyyy, e.g. 02/06/2025")
	}
	return normalize.DayOf(*t), nil
}
