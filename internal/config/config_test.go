package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte("image_folder: /tmp/images\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServicePort != 14400 {
		t.Fatalf("expected default service_port, got %d", cfg.ServicePort)
	}
	if cfg.HashLength != 256 {
		t.Fatalf("expected default hash_length, got %d", cfg.HashLength)
	}
	if cfg.ImageFolder != "/tmp/images" {
		t.Fatalf("expected override to stick, got %q", cfg.ImageFolder)
	}
}

func TestValidateRejectsBadRegex(t *testing.T) {
	cfg := Default()
	cfg.ImageFolder = "/tmp"
	cfg.TagRegex = "(unclosed"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid regex")
	}
}

func TestValidateRejectsMissingImageFolder(t *testing.T) {
	cfg := Default()
	cfg.ImageFolder = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing image_folder")
	}
}
