package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadRoot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	data := []byte(`
pipeline:
  min_positive_prob: 0.45
  batch_size: 4
  base_backoff: 500ms
sources:
  rss:
    - id: goodnews
      name: Good News Network
      url: https://example.com/feed
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GOODNEWS_DB_PATH", filepath.Join(dir, "test.db"))

	cfg, err := LoadRoot(path)
	if err != nil {
		t.Fatalf("LoadRoot() error = %v", err)
	}

	if cfg.Pipeline.MinPositiveProb != 0.45 {
		t.Errorf("MinPositiveProb = %v, want 0.45", cfg.Pipeline.MinPositiveProb)
	}
	if cfg.Pipeline.BatchSize != 4 {
		t.Errorf("BatchSize = %d, want 4", cfg.Pipeline.BatchSize)
	}
	if cfg.Pipeline.BaseBackoff != 500*time.Millisecond {
		t.Errorf("BaseBackoff = %v, want 500ms", cfg.Pipeline.BaseBackoff)
	}
	// значения, не указанные в файле, берутся из Default
	if cfg.Pipeline.InitialLookback != 7*24*time.Hour {
		t.Errorf("InitialLookback = %v, want 168h", cfg.Pipeline.InitialLookback)
	}
	if cfg.Storage.Path != filepath.Join(dir, "test.db") {
		t.Errorf("Storage.Path = %q, env override not applied", cfg.Storage.Path)
	}
}

func TestRoot_Validate(t *testing.T) {
	valid := Default()
	valid.Sources.RSS = []Feed{{ID: "a", URL: "https://example.com/rss"}}

	tests := []struct {
		name    string
		mutate  func(*Root)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Root) {}, wantErr: false},
		{name: "no sources", mutate: func(r *Root) { r.Sources.RSS = nil }, wantErr: true},
		{name: "newsapi only", mutate: func(r *Root) { r.Sources.RSS = nil; r.Sources.NewsAPI.Enabled = true }, wantErr: false},
		{name: "threshold out of range", mutate: func(r *Root) { r.Pipeline.MinPositiveProb = 1.5 }, wantErr: true},
		{name: "zero batch", mutate: func(r *Root) { r.Pipeline.BatchSize = 0 }, wantErr: true},
		{name: "feed without url", mutate: func(r *Root) { r.Sources.RSS = []Feed{{ID: "x"}} }, wantErr: true},
		{name: "retention shorter than lookback", mutate: func(r *Root) { r.Pipeline.RetentionDays = 6 }, wantErr: true},
		{name: "retention shorter than newsapi reach", mutate: func(r *Root) { r.Pipeline.RetentionDays = 7; r.Sources.NewsAPI.Enabled = true }, wantErr: true},
		{name: "retention equal to lookback", mutate: func(r *Root) { r.Pipeline.RetentionDays = 7 }, wantErr: false},
		{name: "retention disabled", mutate: func(r *Root) { r.Pipeline.RetentionDays = 0 }, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			cfg.Sources.RSS = append([]Feed(nil), valid.Sources.RSS...)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadEnvConfig(t *testing.T) {
	root := Default()

	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("SKIP_JUDGE", "")
	if _, err := LoadEnvConfig(root); err == nil {
		t.Errorf("expected error without GEMINI_API_KEY")
	}

	t.Setenv("SKIP_JUDGE", "1")
	env, err := LoadEnvConfig(root)
	if err != nil {
		t.Fatalf("LoadEnvConfig() error = %v", err)
	}
	if !env.SkipJudge {
		t.Errorf("SkipJudge should be true")
	}

	root.Telegram.Enabled = true
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	if _, err := LoadEnvConfig(root); err == nil {
		t.Errorf("expected error without TELEGRAM_BOT_TOKEN when telegram enabled")
	}
}
