package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeConfig writes data to a config.toml in a fresh temp dir.
func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9000
body_max_bytes = 8388608
cors_origins = ["https://tools.example.com"]

[upload]
field = "file"
max_bytes = 5242880
allowed_types = ["image/png"]

[remove_bg]
api_key = "rbg-key"

[video_lookup]
api_key = "rapid-key"
host = "downloader.example.com"

[upstream]
timeout_seconds = 60
idle_connections = 50

[log]
level = "debug"
format = "text"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "https://tools.example.com" {
		t.Errorf("Server.CORSOrigins = %v, want [https://tools.example.com]", cfg.Server.CORSOrigins)
	}
	if cfg.Upload.Field != "file" {
		t.Errorf("Upload.Field = %q, want %q", cfg.Upload.Field, "file")
	}
	if cfg.Upload.MaxBytes != 5242880 {
		t.Errorf("Upload.MaxBytes = %d, want %d", cfg.Upload.MaxBytes, 5242880)
	}
	if cfg.RemoveBG.APIKey != "rbg-key" {
		t.Errorf("RemoveBG.APIKey = %q, want %q", cfg.RemoveBG.APIKey, "rbg-key")
	}
	if cfg.VideoLookup.APIKey != "rapid-key" {
		t.Errorf("VideoLookup.APIKey = %q, want %q", cfg.VideoLookup.APIKey, "rapid-key")
	}
	if cfg.VideoLookup.Host != "downloader.example.com" {
		t.Errorf("VideoLookup.Host = %q, want %q", cfg.VideoLookup.Host, "downloader.example.com")
	}
	if cfg.Upstream.TimeoutSeconds != 60 {
		t.Errorf("Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 60)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Load(&CLI{RemoveBGAPIKey: "env-key", Port: 5000})
	if err != nil {
		t.Fatalf("Load() error = %v; missing config file should fall back to env and defaults", err)
	}
	if cfg.RemoveBG.APIKey != "env-key" {
		t.Errorf("RemoveBG.APIKey = %q, want %q", cfg.RemoveBG.APIKey, "env-key")
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 5000)
	}
	if cfg.RemoveBG.Endpoint != DefaultRemoveBGEndpoint {
		t.Errorf("RemoveBG.Endpoint = %q, want %q", cfg.RemoveBG.Endpoint, DefaultRemoveBGEndpoint)
	}
}

func TestLoad_EmptyAPIKeys(t *testing.T) {
	path := writeConfig(t, `
[remove_bg]
api_key = ""
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v; empty keys are reported at first use, not at load", err)
	}
	if cfg.RemoveBG.APIKey != "" {
		t.Errorf("RemoveBG.APIKey = %q, want empty", cfg.RemoveBG.APIKey)
	}
}

func TestLoad_PlaceholderAPIKey(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"remove_bg", "[remove_bg]\napi_key = \"YOUR_API_KEY_HERE\"\n"},
		{"video_lookup", "[video_lookup]\napi_key = \"YOUR_API_KEY_HERE\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(cliWithPath(writeConfig(t, tt.data)))
			if err == nil {
				t.Fatal("Load() expected error for placeholder api_key, got nil")
			}
			if !strings.Contains(err.Error(), tt.name) {
				t.Errorf("error = %q, want mention of %s", err, tt.name)
			}
		})
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	path := writeConfig(t, `
[log]
level = "verbose"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for invalid log level, got nil")
	}
}

func TestLoad_InvalidLogFormat(t *testing.T) {
	path := writeConfig(t, `
[log]
format = "xml"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for invalid log format, got nil")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "# empty\n")

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, 8080)
	}
	if cfg.Upload.MaxBytes != 10*1024*1024 {
		t.Errorf("default Upload.MaxBytes = %d, want %d", cfg.Upload.MaxBytes, 10*1024*1024)
	}
	if cfg.Server.BodyMaxBytes != 20*1024*1024 {
		t.Errorf("default Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 20*1024*1024)
	}
	if cfg.Upload.Field != "image" {
		t.Errorf("default Upload.Field = %q, want %q", cfg.Upload.Field, "image")
	}
	if len(cfg.Upload.AllowedTypes) != 3 {
		t.Errorf("default Upload.AllowedTypes = %v, want 3 image types", cfg.Upload.AllowedTypes)
	}
	if cfg.VideoLookup.Endpoint != DefaultVideoLookupEndpoint {
		t.Errorf("default VideoLookup.Endpoint = %q, want %q", cfg.VideoLookup.Endpoint, DefaultVideoLookupEndpoint)
	}
	if cfg.VideoLookup.Host != DefaultVideoLookupHost {
		t.Errorf("default VideoLookup.Host = %q, want %q", cfg.VideoLookup.Host, DefaultVideoLookupHost)
	}
	if cfg.Upstream.TimeoutSeconds != 120 {
		t.Errorf("default Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 120)
	}
	if cfg.Upstream.ResponseMaxBytes != 32*1024*1024 {
		t.Errorf("default Upstream.ResponseMaxBytes = %d, want %d", cfg.Upstream.ResponseMaxBytes, 32*1024*1024)
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "http://localhost:5173" {
		t.Errorf("default Server.CORSOrigins = %v, want [http://localhost:5173]", cfg.Server.CORSOrigins)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing explicit file, got nil")
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeConfig(t, "[server\nport = ")

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected parse error, got nil")
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 8000

[remove_bg]
api_key = "toml-rbg"

[video_lookup]
api_key = "toml-rapid"

[log]
level = "info"
`)

	cli := &CLI{
		Config:           path,
		Host:             "127.0.0.1",
		Port:             3000,
		RemoveBGAPIKey:   "cli-rbg",
		DownloaderAPIKey: "cli-rapid",
		LogLevel:         "debug",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 3000)
	}
	if cfg.RemoveBG.APIKey != "cli-rbg" {
		t.Errorf("RemoveBG.APIKey = %q, want %q (CLI override)", cfg.RemoveBG.APIKey, "cli-rbg")
	}
	if cfg.VideoLookup.APIKey != "cli-rapid" {
		t.Errorf("VideoLookup.APIKey = %q, want %q (CLI override)", cfg.VideoLookup.APIKey, "cli-rapid")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "debug")
	}
}

func TestLoad_HTTPEndpointRejected(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"remove_bg", "[remove_bg]\nendpoint = \"http://api.remove.bg/v1.0/removebg\"\n"},
		{"video_lookup", "[video_lookup]\nendpoint = \"http://downloader.example.com/all\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(cliWithPath(writeConfig(t, tt.data)))
			if err == nil {
				t.Fatal("Load() expected error for HTTP endpoint, got nil")
			}
			if !strings.Contains(err.Error(), "HTTPS") {
				t.Errorf("error = %q, want mention of HTTPS", err)
			}
		})
	}
}

func TestLoad_InvalidVideoLookupHost(t *testing.T) {
	path := writeConfig(t, `
[video_lookup]
host = "https://downloader.example.com/"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for host with scheme, got nil")
	}
}

func TestLoad_NumericBounds(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"negative port", "[server]\nport = -1\n"},
		{"port too large", "[server]\nport = 70000\n"},
		{"negative body_max_bytes", "[server]\nbody_max_bytes = -1\n"},
		{"negative upload max_bytes", "[upload]\nmax_bytes = -1\n"},
		{"upload larger than body", "[server]\nbody_max_bytes = 1024\n[upload]\nmax_bytes = 2048\n"},
		{"default upload larger than body", "[server]\nbody_max_bytes = 5242880\n"},
		{"negative timeout", "[upstream]\ntimeout_seconds = -5\n"},
		{"negative idle connections", "[upstream]\nidle_connections = -1\n"},
		{"negative response_max_bytes", "[upstream]\nresponse_max_bytes = -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(cliWithPath(writeConfig(t, tt.data)))
			if err == nil {
				t.Fatalf("Load() expected error for %s, got nil", tt.name)
			}
		})
	}
}

func TestLoad_InvalidCORSOrigin(t *testing.T) {
	path := writeConfig(t, `
[server]
cors_origins = ["localhost:5173"]
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for origin without scheme, got nil")
	}
}

func TestLoad_InvalidAllowedType(t *testing.T) {
	path := writeConfig(t, `
[upload]
allowed_types = ["png"]
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for non-MIME allowed type, got nil")
	}
}

func TestLoad_RateLimitConfig(t *testing.T) {
	path := writeConfig(t, `
[server.rate_limit]
enabled = true
requests_per_second = 5.0
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Server.RateLimit.Enabled {
		t.Error("expected RateLimit.Enabled = true")
	}
	if cfg.Server.RateLimit.RequestsPerSecond != 5.0 {
		t.Errorf("RateLimit.RequestsPerSecond = %v, want 5.0", cfg.Server.RateLimit.RequestsPerSecond)
	}
}

func TestLoad_RateLimitEnabledZeroRPS(t *testing.T) {
	path := writeConfig(t, `
[server.rate_limit]
enabled = true
requests_per_second = 0
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for enabled rate limit with zero rps, got nil")
	}
}

func TestWarnPermissions_GroupReadable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file permissions not meaningful on windows")
	}

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if !strings.Contains(buf.String(), "readable by group/others") {
		t.Errorf("expected permission warning, got: %q", buf.String())
	}
}

func TestWarnPermissions_OwnerOnly(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file permissions not meaningful on windows")
	}

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning for 0600 file, got: %q", buf.String())
	}
}

func TestFindConfigInPaths(t *testing.T) {
	path1 := writeConfig(t, "# first\n")
	path2 := writeConfig(t, "# second\n")

	if got := findConfigInPaths([]string{path1, path2}); got != path1 {
		t.Errorf("findConfigInPaths() = %q, want first match %q", got, path1)
	}
	if got := findConfigInPaths([]string{"/nonexistent/a.toml", path2}); got != path2 {
		t.Errorf("findConfigInPaths() = %q, want %q", got, path2)
	}
	if got := findConfigInPaths([]string{"/nonexistent/a.toml"}); got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
}

func TestLoad_MetricsPath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"default", "", ""},
		{"custom", "/custom-metrics", ""},
		{"no leading slash", "metrics", "metrics.path"},
		{"remove-bg exact", "/remove-bg", "conflicts"},
		{"download sub", "/download/metrics", "conflicts"},
		{"healthz", "/healthz", "conflicts"},
		{"relay/status", "/relay/status", "conflicts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := "[metrics]\nenabled = true\n"
			if tt.path != "" {
				data += "path = \"" + tt.path + "\"\n"
			}

			cfg, err := Load(cliWithPath(writeConfig(t, data)))
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("Load() expected error for metrics.path=%q, got nil", tt.path)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			want := tt.path
			if want == "" {
				want = "/metrics"
			}
			if cfg.Metrics.Path != want {
				t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, want)
			}
		})
	}
}

func TestLoad_MetricsDisabledSkipsPathValidation(t *testing.T) {
	path := writeConfig(t, `
[metrics]
enabled = false
path = "bad-no-slash"
`)

	if _, err := Load(cliWithPath(path)); err != nil {
		t.Fatalf("Load() error = %v; disabled metrics should skip path validation", err)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", Port: 3000}
	want := "127.0.0.1:3000"
	if got := sc.Addr(); got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}

func TestLoad_BodyLimitAboveDefaultUpload(t *testing.T) {
	cfg, err := Load(cliWithPath(writeConfig(t, "[server]\nbody_max_bytes = 12582912\n")))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Upload.MaxBytes != 10*1024*1024 {
		t.Errorf("Upload.MaxBytes = %d, want %d", cfg.Upload.MaxBytes, 10*1024*1024)
	}
	if cfg.Server.BodyMaxBytes != 12582912 {
		t.Errorf("Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 12582912)
	}
}
