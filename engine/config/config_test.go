package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "helix.toml")
	content := []byte("[app]\nname = \"Test\"\n\n[renderer]\nvalidation = true\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.Name != "Test" {
		t.Fatalf("name = %q", cfg.App.Name)
	}
	if !cfg.Renderer.Validation {
		t.Fatalf("validation not read")
	}
	if cfg.App.Width != 1280 || cfg.App.Height != 720 {
		t.Fatalf("missing dimensions not defaulted: %dx%d", cfg.App.Width, cfg.App.Height)
	}
	if cfg.Renderer.Frames != 2 || cfg.Renderer.DescriptorFlushes != 64 {
		t.Fatalf("renderer defaults not applied")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatalf("missing file must error")
	}
}
