package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lightupdev/lightup/internal/config"
)

func TestInitWritesConfig(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	cmd := newInitCmd()
	if err := cmd.RunE(cmd, nil); err != nil {
		t.Fatalf("init: %v", err)
	}

	path := filepath.Join(config.LightupDir, config.ConfigFileName)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}

	// Running init again refuses to overwrite.
	if err := cmd.RunE(cmd, nil); err == nil {
		t.Error("expected error on second init")
	}
}

func TestLoadConfigUsesFlagPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 4242\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfgFile = path
	t.Cleanup(func() { cfgFile = "" })

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Server.Port != 4242 {
		t.Errorf("Server.Port = %d, want 4242", cfg.Server.Port)
	}
}
