package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PackageManager != "npm" {
		t.Fatalf("unexpected package manager: %s", cfg.PackageManager)
	}
	if len(cfg.LookupPrefixes) != 2 || cfg.LookupPrefixes[0] != "lib/generators" {
		t.Fatalf("unexpected lookup prefixes: %v", cfg.LookupPrefixes)
	}
}

func TestInitKilnDirWritesDefaultConfigOnce(t *testing.T) {
	dir := t.TempDir()
	if err := InitKilnDir(dir); err != nil {
		t.Fatalf("init: %v", err)
	}
	path := filepath.Join(dir, KilnDir, "config.yaml")
	custom := []byte("version: 1\npackage_manager: yarn\n")
	if err := os.WriteFile(path, custom, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}
	if err := InitKilnDir(dir); err != nil {
		t.Fatalf("re-init: %v", err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PackageManager != "yarn" {
		t.Fatalf("config was overwritten: %s", cfg.PackageManager)
	}
}

func TestLoadRejectsUnknownVersion(t *testing.T) {
	dir := t.TempDir()
	if err := InitKilnDir(dir); err != nil {
		t.Fatalf("init: %v", err)
	}
	path := filepath.Join(dir, KilnDir, "config.yaml")
	if err := os.WriteFile(path, []byte("version: 9\npackage_manager: npm\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatalf("expected version error")
	}
}

func TestLoadParsesAliases(t *testing.T) {
	dir := t.TempDir()
	if err := InitKilnDir(dir); err != nil {
		t.Fatalf("init: %v", err)
	}
	content := "version: 1\npackage_manager: npm\naliases:\n  - match: \"^legacy$\"\n    replacement: demo\n"
	if err := os.WriteFile(filepath.Join(dir, KilnDir, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Aliases) != 1 || cfg.Aliases[0].Replacement != "demo" {
		t.Fatalf("unexpected aliases: %+v", cfg.Aliases)
	}
}
