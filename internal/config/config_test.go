package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := Defaults()
	if cfg.LogMaxSizeMB != def.LogMaxSizeMB || cfg.LogMaxBackups != def.LogMaxBackups || cfg.LogMaxAgeDays != def.LogMaxAgeDays {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.NotifyAddr != "" {
		t.Errorf("NotifyAddr = %q, want empty by default", cfg.NotifyAddr)
	}
}

func TestLoadTOMLFile(t *testing.T) {
	dir := t.TempDir()
	content := `
repo_url = "file:///srv/repo"
author_name = "Alice"
log_max_backups = 7
`
	if err := os.WriteFile(filepath.Join(dir, ".vcscopy.toml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(dir, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RepoURL != "file:///srv/repo" {
		t.Errorf("RepoURL = %q, want the file value", cfg.RepoURL)
	}
	if cfg.AuthorName != "Alice" {
		t.Errorf("AuthorName = %q, want Alice", cfg.AuthorName)
	}
	if cfg.LogMaxBackups != 7 {
		t.Errorf("LogMaxBackups = %d, want 7 (file overrides default)", cfg.LogMaxBackups)
	}
	if cfg.LogMaxSizeMB != Defaults().LogMaxSizeMB {
		t.Errorf("LogMaxSizeMB = %d, want default (file left it unset)", cfg.LogMaxSizeMB)
	}
}

func TestLoadYAMLFallback(t *testing.T) {
	dir := t.TempDir()
	content := "repo_url: file:///srv/other\nnotify_addr: \":7973\"\n"
	if err := os.WriteFile(filepath.Join(dir, ".vcscopy.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(dir, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RepoURL != "file:///srv/other" {
		t.Errorf("RepoURL = %q, want the yaml value", cfg.RepoURL)
	}
	if cfg.NotifyAddr != ":7973" {
		t.Errorf("NotifyAddr = %q, want :7973", cfg.NotifyAddr)
	}
}

func TestLoadMalformedTOML(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".vcscopy.toml"), []byte("not [valid"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(dir, nil); err == nil {
		t.Error("expected a parse error for malformed TOML")
	}
}

func TestFlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".vcscopy.toml"), []byte(`author_name = "Alice"`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("author_name", "", "")
	if err := flags.Parse([]string{"--author_name", "Bob"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(dir, flags)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AuthorName != "Bob" {
		t.Errorf("AuthorName = %q, want the flag override Bob", cfg.AuthorName)
	}
}

func TestNewLogWriter(t *testing.T) {
	if w := NewLogWriter(Config{}); w != nil {
		t.Error("expected nil writer when LogFile is unset")
	}
	cfg := Config{LogFile: filepath.Join(t.TempDir(), "vcscopy.log"), LogMaxSizeMB: 1}
	w := NewLogWriter(cfg)
	if w == nil {
		t.Fatal("expected a writer when LogFile is set")
	}
	if w.Filename != cfg.LogFile {
		t.Errorf("Filename = %q, want %q", w.Filename, cfg.LogFile)
	}
}
