package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"SERVER_ADDRESS", "STORE_DRIVER", "JWT_TTL", "MAX_UPLOAD_BYTES", "ENV"} {
		t.Setenv(key, "")
	}
	// Empty values are treated as unset.
	cfg := FromViper(newViper())

	if cfg.ServerAddress != ":8080" {
		t.Errorf("ServerAddress = %q, want :8080", cfg.ServerAddress)
	}
	if cfg.StoreDriver != DriverSQLite {
		t.Errorf("StoreDriver = %q, want %q", cfg.StoreDriver, DriverSQLite)
	}
	if cfg.JWTTTL != 30*24*time.Hour {
		t.Errorf("JWTTTL = %v, want 720h", cfg.JWTTTL)
	}
	if cfg.MaxUploadBytes != 50<<20 {
		t.Errorf("MaxUploadBytes = %d, want %d", cfg.MaxUploadBytes, 50<<20)
	}
	if cfg.IsProduction() {
		t.Error("default config should not be production")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SERVER_ADDRESS", ":9090")
	t.Setenv("STORE_DRIVER", "MONGO")
	t.Setenv("JWT_TTL", "2h")
	t.Setenv("MAX_UPLOAD_BYTES", "1024")
	t.Setenv("ENV", "Production")

	cfg := FromViper(newViper())

	if cfg.ServerAddress != ":9090" {
		t.Errorf("ServerAddress = %q", cfg.ServerAddress)
	}
	if cfg.StoreDriver != DriverMongo {
		t.Errorf("StoreDriver = %q, want lower-cased %q", cfg.StoreDriver, DriverMongo)
	}
	if cfg.JWTTTL != 2*time.Hour {
		t.Errorf("JWTTTL = %v", cfg.JWTTTL)
	}
	if cfg.MaxUploadBytes != 1024 {
		t.Errorf("MaxUploadBytes = %d", cfg.MaxUploadBytes)
	}
	if !cfg.IsProduction() {
		t.Error("ENV=Production should be production")
	}
}

func TestDatabasePath(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{DatabaseURL: "sqlite://" + filepath.Join(dir, "a.db")}

	if got := cfg.CleanDatabasePath(); got != filepath.Join(dir, "a.db") {
		t.Errorf("CleanDatabasePath = %q", got)
	}

	cfg.UpdateDatabasePath(filepath.Join(dir, "loadtest.db"))
	if cfg.DatabaseURL != "sqlite://"+filepath.Join(dir, "loadtest.db") {
		t.Errorf("UpdateDatabasePath kept wrong URL %q", cfg.DatabaseURL)
	}

	cfg = &Config{DatabaseURL: "relative.db"}
	if !filepath.IsAbs(cfg.CleanDatabasePath()) {
		t.Errorf("relative path not resolved: %q", cfg.CleanDatabasePath())
	}
}
