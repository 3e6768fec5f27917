package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultSession = "work"
	cfg.Server.BaseURL = "https://desk.example.com"
	cfg.Server.Token = "tok"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "work")
	}
	if loaded.Server.BaseURL != "https://desk.example.com" {
		t.Errorf("BaseURL = %q", loaded.Server.BaseURL)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	// Minimal file: only the server section.
	content := "[server]\nbase_url = \"https://desk.example.com\"\ntoken = \"tok\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Transport.DialFailureLimit != 3 {
		t.Errorf("DialFailureLimit = %d, want 3", cfg.Transport.DialFailureLimit)
	}
	if cfg.Transport.PollIntervalMS != 5000 {
		t.Errorf("PollIntervalMS = %d, want 5000", cfg.Transport.PollIntervalMS)
	}
	if cfg.Attachments.MaxSizeBytes != 10<<20 {
		t.Errorf("MaxSizeBytes = %d, want %d", cfg.Attachments.MaxSizeBytes, 10<<20)
	}
	if len(cfg.Attachments.AllowedTypes) == 0 {
		t.Error("AllowedTypes should have defaults")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should fail without server settings")
	}
	cfg.Server.BaseURL = "https://desk.example.com"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should fail without token")
	}
	cfg.Server.Token = "tok"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
