package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cli := NewCLI()
	cli.SetOut(&out)
	cli.SetErr(&out)
	cli.SetArgs(args)
	err := cli.ExecuteContext(t.Context())
	return out.String(), err
}

// TestManifestCommand testet die Tabelle fuer eine Mixtral-Konfiguration
func TestManifestCommand(t *testing.T) {
	dir := t.TempDir()
	config := `{
		"architectures": ["MixtralForCausalLM"],
		"hidden_size": 8, "num_hidden_layers": 3, "num_attention_heads": 2,
		"intermediate_size": 16, "num_local_experts": 2, "num_experts_per_tok": 1
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(config), 0o644))

	out, err := runCLI(t, "manifest", "--refs", dir)
	require.NoError(t, err)

	for _, want := range []string{
		"partial_moe_weights.gate.kernel",
		"model.layers.0.block_sparse_moe.experts.1.w3.weight",
		"mixtral, 3 layers, 2 heads (2 kv), 2 experts, 19 modules, quantization none",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Ausgabe enthaelt %q nicht:\n%s", want, out)
		}
	}
	if strings.Contains(out, "layer 1") {
		t.Errorf("nur Layer 0 erwartet:\n%s", out)
	}
}

// TestCommandErrors testet fehlende Argumente und Dateien
func TestCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"convert ohne Verzeichnis", []string{"convert"}},
		{"manifest ohne config.json", []string{"manifest", t.TempDir()}},
		{"inspect ohne Datei", []string{"inspect", filepath.Join(t.TempDir(), "missing.gguf")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := runCLI(t, tt.args...); err == nil {
				t.Error("Erwartete Fehler")
			}
		})
	}
}

// TestUsageEnvDocs testet die Umgebungsvariablen in der Hilfe
func TestUsageEnvDocs(t *testing.T) {
	out, err := runCLI(t, "convert", "--help")
	require.NoError(t, err)
	for _, want := range []string{"Environment Variables:", "WEIGHTPIPE_DEVICE", "WEIGHTPIPE_FFN_ACT_SCALE"} {
		if !strings.Contains(out, want) {
			t.Errorf("Hilfe enthaelt %q nicht", want)
		}
	}
}

// TestDefaultOutput testet den Standard-Ausgabepfad
func TestDefaultOutput(t *testing.T) {
	tests := []struct {
		arg, dir, want string
	}{
		{"models/llama", "models/llama", "models/llama.gguf"},
		{"models/llama/", "models/llama", "models/llama.gguf"},
		{"mistralai/Mixtral-8x7B-v0.1", "/cache/models--mistralai--Mixtral-8x7B-v0.1/snapshots/abc", "Mixtral-8x7B-v0.1.gguf"},
		{"Qwen/Qwen2-7B@abc", "/cache/snap", "Qwen2-7B.gguf"},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			if got := defaultOutput(tt.arg, tt.dir); got != tt.want {
				t.Errorf("erwartet %s, bekam %s", tt.want, got)
			}
		})
	}
}
