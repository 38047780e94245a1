package envconfig

import (
	"log/slog"
	"runtime"
	"testing"

	"github.com/ollama/weightpipe/logutil"
)

// TestLogLevel testet WEIGHTPIPE_DEBUG
func TestLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":      slog.LevelInfo,
		"false": slog.LevelInfo,
		"0":     slog.LevelInfo,
		"1":     slog.LevelDebug,
		"true":  slog.LevelDebug,
		"2":     logutil.LevelTrace,
		"x":     slog.LevelInfo,
	}

	for k, v := range tests {
		t.Run(k, func(t *testing.T) {
			t.Setenv("WEIGHTPIPE_DEBUG", k)
			if got := LogLevel(); got != v {
				t.Errorf("%s: erwartet %v, bekam %v", k, v, got)
			}
		})
	}
}

// TestLoadConcurrency testet den GOMAXPROCS-Default
func TestLoadConcurrency(t *testing.T) {
	t.Setenv("WEIGHTPIPE_LOAD_CONCURRENCY", "")
	if got := LoadConcurrency(); got != runtime.GOMAXPROCS(0) {
		t.Errorf("Default: erwartet GOMAXPROCS, bekam %d", got)
	}

	t.Setenv("WEIGHTPIPE_LOAD_CONCURRENCY", "3")
	if got := LoadConcurrency(); got != 3 {
		t.Errorf("erwartet 3, bekam %d", got)
	}

	t.Setenv("WEIGHTPIPE_LOAD_CONCURRENCY", "viele")
	if got := LoadConcurrency(); got != runtime.GOMAXPROCS(0) {
		t.Errorf("ungueltig: erwartet GOMAXPROCS, bekam %d", got)
	}
}

// TestDevice testet WEIGHTPIPE_DEVICE
func TestDevice(t *testing.T) {
	tests := map[string]string{
		"":              "cpu",
		"CPU":           "cpu",
		"'passthrough'": "passthrough",
	}
	for k, v := range tests {
		t.Run(k, func(t *testing.T) {
			t.Setenv("WEIGHTPIPE_DEVICE", k)
			if got := Device(); got != v {
				t.Errorf("erwartet %q, bekam %q", v, got)
			}
		})
	}
}

// TestPipelineSettings testet Defaults und Ueberschreibungen
func TestPipelineSettings(t *testing.T) {
	t.Setenv("WEIGHTPIPE_INTER_ALIGN", "")
	t.Setenv("WEIGHTPIPE_FFN_ACT_SCALE", "")
	if InterAlign() != 64 {
		t.Errorf("InterAlign Default: %d", InterAlign())
	}
	if FfnActScale() {
		t.Error("FfnActScale sollte per Default aus sein")
	}

	t.Setenv("WEIGHTPIPE_INTER_ALIGN", "128")
	t.Setenv("WEIGHTPIPE_FFN_ACT_SCALE", "1")
	if InterAlign() != 128 {
		t.Errorf("InterAlign: %d", InterAlign())
	}
	if !FfnActScale() {
		t.Error("FfnActScale sollte aktiv sein")
	}

	if _, ok := Values()["WEIGHTPIPE_INTER_ALIGN"]; !ok {
		t.Error("Values sollte WEIGHTPIPE_INTER_ALIGN enthalten")
	}
}
