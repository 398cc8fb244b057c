package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"DATABASE_URL", "ARCHIVE_PATH", "RECENT_PATH", "PORT", "API_PORT", "API_DEFAULT_LIMIT", "API_DEFAULT_DAYS", "API_BEARER_TOKEN"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DatabaseURL != "" || cfg.ListenAddr() != ":8080" || cfg.DefaultLimit != 200 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.ArchivePath != "data/uganda_pm25_archive.csv" || cfg.RecentPath != "data/uganda_recent.json" {
		t.Fatalf("paths = %s %s", cfg.ArchivePath, cfg.RecentPath)
	}
}

func TestLoadPortFallback(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("API_PORT", "9090")
	cfg, err := Load()
	if err != nil || cfg.Port != 9090 {
		t.Fatalf("port=%d err=%v", cfg.Port, err)
	}

	t.Setenv("PORT", "abc")
	if _, err := Load(); err == nil {
		t.Fatal("expected invalid PORT error")
	}
}
