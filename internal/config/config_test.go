package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/fpang/painting-studio/internal/config"
)

// isolate points HOME and the working directory at empty temp dirs so no
// real config or .env leaks into the test.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GEMINI_LOG_LEVEL", "")
	t.Setenv("PAINTER_OUTPUT_DIR", "")
	t.Chdir(t.TempDir())
	return home
}

func TestLoadDefaults(t *testing.T) {
	home := isolate(t)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected config file to be absent")
	}
	if resolved != filepath.Join(home, ".config", "painting-studio", "config.toml") {
		t.Fatalf("unexpected resolved path %q", resolved)
	}

	pc := cfg.PipelineConfig()
	if pc.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", pc.MaxAttempts)
	}
	if pc.CallTimeout != 3*time.Minute || pc.CritiqueTimeout != 90*time.Second {
		t.Errorf("timeouts = %v / %v", pc.CallTimeout, pc.CritiqueTimeout)
	}
	if pc.AspectRatio != "4:5" || pc.ImageSize != "2K" {
		t.Errorf("generation = %s %s", pc.AspectRatio, pc.ImageSize)
	}
	if cfg.Pipeline.PassThreshold != 7 {
		t.Errorf("PassThreshold = %v", cfg.Pipeline.PassThreshold)
	}
	if !filepath.IsAbs(cfg.Output.Dir) || filepath.Base(cfg.Output.Dir) != "output" {
		t.Errorf("Output.Dir = %q, want absolute ./output", cfg.Output.Dir)
	}
	if cfg.RunTimeout() != 0 {
		t.Errorf("RunTimeout = %v, want none", cfg.RunTimeout())
	}
	grid := cfg.GridOptions()
	if grid.SquareCM != 10 || grid.CanvasWidthCM != 80 || grid.CanvasHeightCM != 100 || grid.MajorEvery != 2 {
		t.Errorf("grid options = %+v", grid)
	}
}

func TestLoadFileAndEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("GEMINI_API_KEY", "env-key")
	t.Setenv("GEMINI_LOG_LEVEL", "DEBUG")

	dir := t.TempDir()
	path := filepath.Join(dir, "painter.toml")
	content := `
[gemini]
image_model = "custom-image"
base_url = "http://localhost:9999/v1beta/"

[generation]
aspect_ratio = "3:4"
image_size = "4k"

[pipeline]
max_attempts = 5
pass_threshold = 8.5
run_timeout_minutes = 20

[output]
dir = "~/paintings"
s3_bucket = "studio-bucket"
s3_prefix = "/runs/"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("resolved = %q exists = %v", resolved, exists)
	}
	if cfg.Gemini.APIKey != "env-key" {
		t.Errorf("APIKey = %q, want env fallback", cfg.Gemini.APIKey)
	}
	if cfg.Gemini.BaseURL != "http://localhost:9999/v1beta" {
		t.Errorf("BaseURL = %q", cfg.Gemini.BaseURL)
	}
	if cfg.Generation.ImageSize != "4K" || cfg.Generation.AspectRatio != "3:4" {
		t.Errorf("generation = %+v", cfg.Generation)
	}
	if cfg.Pipeline.MaxAttempts != 5 || cfg.Pipeline.PassThreshold != 8.5 {
		t.Errorf("pipeline = %+v", cfg.Pipeline)
	}
	if cfg.RunTimeout() != 20*time.Minute {
		t.Errorf("RunTimeout = %v", cfg.RunTimeout())
	}
	home, _ := os.UserHomeDir()
	if cfg.Output.Dir != filepath.Join(home, "paintings") {
		t.Errorf("Output.Dir = %q", cfg.Output.Dir)
	}
	if cfg.Output.S3Prefix != "runs" {
		t.Errorf("S3Prefix = %q", cfg.Output.S3Prefix)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want env override", cfg.Logging.Level)
	}
	// Unset sections keep their defaults.
	if cfg.Pipeline.CallTimeoutSeconds != 180 {
		t.Errorf("CallTimeoutSeconds = %d", cfg.Pipeline.CallTimeoutSeconds)
	}
}

func TestLoadOutputDirFromEnv(t *testing.T) {
	isolate(t)
	out := t.TempDir()
	t.Setenv("PAINTER_OUTPUT_DIR", out)

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Output.Dir != out {
		t.Errorf("Output.Dir = %q, want %q", cfg.Output.Dir, out)
	}
}

func TestLoadDotEnv(t *testing.T) {
	isolate(t)
	os.Unsetenv("GEMINI_API_KEY")
	if err := os.WriteFile(".env", []byte("GEMINI_API_KEY=dotenv-key\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("GEMINI_API_KEY") })

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gemini.APIKey != "dotenv-key" {
		t.Errorf("APIKey = %q, want value from .env", cfg.Gemini.APIKey)
	}
}

func TestLoadErrors(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown key", "[pipeline]\nmax_tries = 2\n", "parse config"},
		{"bad attempts", "[pipeline]\nmax_attempts = 0\n", "max_attempts"},
		{"bad threshold", "[pipeline]\npass_threshold = 11.0\n", "pass_threshold"},
		{"bad aspect", "[generation]\naspect_ratio = \"7:3\"\n", "aspect_ratio"},
		{"bad size", "[generation]\nimage_size = \"8K\"\n", "image_size"},
		{"bad grid", "[grid]\nopacity = 2.0\n", "grid"},
		{"bad level", "[logging]\nlevel = \"loud\"\n", "logging.level"},
		{"bad format", "[logging]\nformat = \"xml\"\n", "logging.format"},
		{"negative rpm", "[gemini]\nrequests_per_minute = -1\n", "requests_per_minute"},
		{"negative ttl", "[output]\nindex_ttl_days = -1\n", "index_ttl_days"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_")+".toml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			_, _, _, err := config.Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}

	if _, _, _, err := config.Load(filepath.Join(dir, "missing.toml")); err == nil {
		t.Error("explicit missing config should fail")
	}
}

func TestSampleConfigParses(t *testing.T) {
	cfg := config.Default()
	if err := toml.Unmarshal([]byte(config.Sample()), &cfg); err != nil {
		t.Fatalf("sample config does not parse: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("sample config invalid: %v", err)
	}
	if cfg != config.Default() {
		t.Errorf("sample config drifted from defaults:\n got %+v\nwant %+v", cfg, config.Default())
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != config.Sample() {
		t.Error("written sample differs from embedded sample")
	}
	if err := config.CreateSample(path); err == nil {
		t.Error("CreateSample() should refuse to overwrite")
	}
}
