package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ghithu-reconciliation-service/internal/export"
	apperrors "ghithu-reconciliation-service/pkg/errors"
	"ghithu-reconciliation-service/pkg/logger"

	"github.com/spf13/viper"
)

func newViper(t *testing.T, yaml string) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if yaml != "" {
		path := filepath.Join(t.TempDir(), "ghithu.yaml")
		if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			t.Fatalf("failed to read config: %v", err)
		}
	}
	return v
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newViper(t, ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Gateway.Mode != "soap" || cfg.Gateway.Timeout != time.Minute {
		t.Errorf("unexpected gateway defaults %+v", cfg.Gateway)
	}
	if cfg.Cache.Backend != "memory" || cfg.Cache.TTL != 10*time.Minute || !cfg.Cache.Enabled() {
		t.Errorf("unexpected cache defaults %+v", cfg.Cache)
	}
	if cfg.Redis.Enabled() {
		t.Error("redis must be off by default")
	}
	if cfg.Log.Level != logger.InfoLevel || cfg.Log.Output != logger.StderrOutput {
		t.Errorf("unexpected log defaults %+v", cfg.Log)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	t.Setenv("GHITHU_GATEWAY_USER", "ghithu")
	t.Setenv("GHITHU_CACHE_BACKEND", "none")

	v := newViper(t, `
gateway:
  mode: sql
  sql:
    driver: sqlite
    dsn: billing.db
sheets:
  mode: csv
  dir: ./exports
staff:
  Sang Sơn: [Lê Sang, Trần Sơn]
export:
  csv_delimiter: ";"
`)
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Gateway.User != "ghithu" || cfg.Cache.Enabled() {
		t.Errorf("environment overrides not applied: %+v %+v", cfg.Gateway, cfg.Cache)
	}

	sql, err := CreateSQLConfig(cfg)
	if err != nil || sql.Driver != "sqlite" || sql.DSN != "billing.db" {
		t.Errorf("unexpected sql config %+v, %v", sql, err)
	}
	sc, err := CreateSheetsConfig(cfg)
	if err != nil || sc.Dir != "./exports" {
		t.Errorf("unexpected sheets config %+v, %v", sc, err)
	}

	ec, err := CreateExportConfig(cfg, "pdf")
	if err != nil {
		t.Fatalf("unexpected export error: %v", err)
	}
	if ec.Format != export.FormatPDF || ec.CSVDelimiter != ';' {
		t.Errorf("unexpected export config %+v", ec)
	}
	if ec.PDF.StaffLine("Sang Sơn") != "Lê Sang, Trần Sơn" {
		t.Errorf("staff map not carried: %v", ec.PDF.Staff)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown gateway mode", "gateway:\n  mode: ftp\n"},
		{"unknown cache backend", "cache:\n  backend: memcached\n"},
		{"bad log level", "log:\n  level: loud\n"},
		{"long delimiter", "export:\n  csv_delimiter: ';;'\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(newViper(t, tt.yaml))
			rerr, ok := apperrors.AsReconcilerError(err)
			if !ok || rerr.Category != apperrors.CategoryConfiguration {
				t.Errorf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestCreateGatewayConfigs(t *testing.T) {
	cfg, err := Load(newViper(t, ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := CreateSOAPConfig(cfg); err == nil {
		t.Error("soap config without url must fail")
	}
	if _, err := CreateSheetsConfig(cfg); err == nil {
		t.Error("google sheets without spreadsheet id must fail")
	}

	cfg.Gateway.URL = "http://billing.local/Service.asmx"
	cfg.Gateway.User = "ghithu"
	sc, err := CreateSOAPConfig(cfg)
	if err != nil || sc.Timeout != time.Minute {
		t.Errorf("unexpected soap config %+v, %v", sc, err)
	}

	cfg.Gateway.SQL.Driver = "oracle"
	cfg.Gateway.SQL.DSN = "x"
	if _, err := CreateSQLConfig(cfg); err == nil {
		t.Error("unsupported driver must fail")
	}
}

func TestCreateLoggerConfig(t *testing.T) {
	cfg, _ := Load(newViper(t, ""))
	if lc := CreateLoggerConfig(cfg, true); lc.Level != logger.DebugLevel {
		t.Errorf("verbose must raise the level, got %s", lc.Level)
	}
	if cfg.Log.Level != logger.InfoLevel {
		t.Error("CreateLoggerConfig must not modify the loaded config")
	}
}

func TestParseDay(t *testing.T) {
	day, err := ParseDay("start", "2/6/2025")
	if err != nil || !day.Equal(time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected day %v, %v", day, err)
	}
	_, err = ParseDay("start", "2025-06-02")
	if rerr, ok := apperrors.AsReconcilerError(err); !ok || rerr.Code != apperrors.CodeInvalidDate {
		t.Errorf("expected invalid date, got %v", err)
	}
}
