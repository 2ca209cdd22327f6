package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("STUDIOBOOK_JWT", "s3cret")
	yamlContent := `
app:
  timezone: "Europe/Dublin"
database:
  path: "test.db"
api:
  enabled: true
  auth:
    enabled: true
    jwt_secret: "${STUDIOBOOK_JWT}"
generation:
  rolling_enabled: true
  horizon_days: 14
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.API.Auth.JWTSecret != "s3cret" {
		t.Errorf("expected expanded jwt secret, got %q", cfg.API.Auth.JWTSecret)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("expected default driver sqlite, got %s", cfg.Database.Driver)
	}
	if cfg.Generation.HorizonDays != 14 {
		t.Errorf("expected horizon 14, got %d", cfg.Generation.HorizonDays)
	}
	zone, err := cfg.Zone()
	if err != nil {
		t.Fatalf("zone: %v", err)
	}
	if zone.String() != "Europe/Dublin" {
		t.Errorf("expected Europe/Dublin, got %s", zone.String())
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid sqlite",
			cfg: Config{
				App:      AppConfig{Timezone: "UTC"},
				Database: DatabaseConfig{Driver: "sqlite", Path: "path"},
			},
			wantErr: false,
		},
		{
			name: "invalid timezone",
			cfg: Config{
				App:      AppConfig{Timezone: "Mars/Olympus"},
				Database: DatabaseConfig{Driver: "sqlite", Path: "path"},
			},
			wantErr: true,
		},
		{
			name: "missing sqlite path",
			cfg: Config{
				App:      AppConfig{Timezone: "UTC"},
				Database: DatabaseConfig{Driver: "sqlite"},
			},
			wantErr: true,
		},
		{
			name: "postgres without host",
			cfg: Config{
				App:      AppConfig{Timezone: "UTC"},
				Database: DatabaseConfig{Driver: "postgres"},
			},
			wantErr: true,
		},
		{
			name: "unknown driver",
			cfg: Config{
				App:      AppConfig{Timezone: "UTC"},
				Database: DatabaseConfig{Driver: "oracle"},
			},
			wantErr: true,
		},
		{
			name: "auth without credentials",
			cfg: Config{
				App:      AppConfig{Timezone: "UTC"},
				Database: DatabaseConfig{Driver: "sqlite", Path: "path"},
				API:      APIConfig{Enabled: true, Auth: APIAuthConfig{Enabled: true}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	if cfg.App.Timezone != "Europe/Dublin" {
		t.Errorf("expected default timezone, got %s", cfg.App.Timezone)
	}
	if cfg.API.GRPC.Port != 8081 {
		t.Errorf("expected default gRPC port 8081, got %d", cfg.API.GRPC.Port)
	}
	if cfg.Generation.RollingCron != "0 3 * * *" {
		t.Errorf("unexpected rolling cron %q", cfg.Generation.RollingCron)
	}
	if cfg.Events.Exchange != "studiobook.events" {
		t.Errorf("unexpected exchange %q", cfg.Events.Exchange)
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5432, User: "app", Password: "p@ss", DBName: "studio", SSLMode: "disable"}
	dsn := p.DSN()
	if !strings.HasPrefix(dsn, "postgres://app:p%40ss@db:5432/studio") {
		t.Errorf("unexpected dsn %s", dsn)
	}
	if !strings.Contains(dsn, "sslmode=disable") {
		t.Errorf("dsn missing sslmode: %s", dsn)
	}
}
